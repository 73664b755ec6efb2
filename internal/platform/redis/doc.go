// Package redis provides a Redis-backed implementation of queue.Queue.
//
// Entries are JSON documents pushed onto a pending list. Consumers move an
// entry atomically onto a processing list with BLMOVE and remove it with
// LREM on Ack, so an entry taken by a process that dies before acking can
// be put back with RestoreInflight.
package redis
