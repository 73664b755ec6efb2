// Package store defines the persistence contract for jobs.
//
// JobStore is the single source of truth shared by the gateway, the worker
// pool and the retention sweeper. Every implementation serializes update and
// delete per job id (row lock or keyed mutex), never exposes a partially
// written record, and degrades undecodable records to a placeholder job
// with status unknown instead of failing the read.
package store
