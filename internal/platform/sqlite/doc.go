// Package sqlite implements store.JobStore on an embedded SQLite database
// using the pure-Go modernc.org/sqlite driver. It suits single-node
// deployments: one connection serializes all writers, so a transaction is
// the per-id lock.
package sqlite
