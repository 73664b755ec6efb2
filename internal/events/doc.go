// Package events carries job lifecycle notifications between components.
//
// The worker pool emits a JobEvent on every state change. Handlers are
// registered with an EventEmitter; the Waiter handler lets the gateway
// block on a job until it reaches a terminal state instead of polling.
package events
