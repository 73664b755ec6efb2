// Package memory provides an in-process JobStore. Records are kept in their
// encoded form so every read goes through the same decode path as the SQL
// adapters. Updates and deletes are serialized per job id by a keyed mutex.
package memory
