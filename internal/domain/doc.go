// Package domain holds the job model of the enhancement service and the
// rules that govern it, with no knowledge of storage or transport.
//
// The central entity is Job: one submitted audio file and its lifecycle
// queued -> processing -> completed | failed. Its state machine and the
// JobError codec are the contract shared by the gateway, the worker pool,
// the retention sweeper and every store implementation.
package domain
