// Package store is the SQLite persistence layer.
//
// It owns the physical layout: the structures registry table, and one data
// table per structure with the shape
//
//	id, parent_id, document, <projection columns>, created_at, updated_at
//
// where document holds the authoritative serialized instance and each
// projection column mirrors one scalar root field for filtering and
// sorting.
//
// The synchronizer half of the package (sync.go) reconciles a structure's
// definition against its persisted table: new scalar fields become new
// nullable columns, vanished fields leave their columns in place
// (deprecated, dropped only by Vacuum), and declared widening conversions
// rebuild the table. Every migration commits in a single transaction
// together with the registry version bump, or not at all.
package store
