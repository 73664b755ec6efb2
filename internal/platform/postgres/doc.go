// Package postgres implements store.JobStore on PostgreSQL through the pgx
// database/sql driver. Update and Delete lock the row with SELECT ... FOR
// UPDATE inside a transaction, which is the per-id mutual exclusion the
// job lifecycle relies on.
package postgres
