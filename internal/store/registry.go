package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// StructureRow is one persisted registry entry.
type StructureRow struct {
	Name       string
	SchemaJSON string
	Version    int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// LoadStructures returns every registry row ordered by name.
// Used at startup to warm the registry cache.
func (s *Store) LoadStructures(ctx context.Context) ([]StructureRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, schema_json, version, created_at, updated_at
		FROM structures
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query structures: %w", err)
	}
	defer rows.Close()

	var out []StructureRow
	for rows.Next() {
		var r StructureRow
		var created, updated string
		if err := rows.Scan(&r.Name, &r.SchemaJSON, &r.Version, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan structure row: %w", err)
		}
		r.CreatedAt = parseTime(created)
		r.UpdatedAt = parseTime(updated)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate structures: %w", err)
	}

	if out == nil {
		out = []StructureRow{}
	}
	return out, nil
}

// insertStructureRow writes the registry entry for a new structure.
// Runs inside the same transaction that creates the data table.
func insertStructureRow(ctx context.Context, tx *sql.Tx, name, schemaJSON string) error {
	now := nowUTC()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO structures (name, schema_json, version, created_at, updated_at)
		VALUES (?, ?, 1, ?, ?)
	`, name, schemaJSON, now, now)
	if err != nil {
		return fmt.Errorf("insert structure row: %w", err)
	}
	return nil
}

// bumpStructureRow commits schema version N+1. Runs inside the migration
// transaction so the version and the column changes land together.
func bumpStructureRow(ctx context.Context, tx *sql.Tx, name, schemaJSON string, version int) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE structures
		SET schema_json = ?, version = ?, updated_at = ?
		WHERE name = ?
	`, schemaJSON, version, nowUTC(), name)
	if err != nil {
		return fmt.Errorf("update structure row: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update structure row: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update structure row: %q not registered", name)
	}
	return nil
}
