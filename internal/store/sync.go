package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/stratahq/strata/internal/schema"
)

// TableColumns introspects the live data table for a structure.
// Column order follows the physical layout (PRAGMA table_info order).
func (s *Store) TableColumns(ctx context.Context, structure string) ([]Column, error) {
	return tableColumns(ctx, s.db, structure)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func tableColumns(ctx context.Context, q queryer, structure string) ([]Column, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", TableName(structure)))
	if err != nil {
		return nil, fmt.Errorf("table_info %s: %w", structure, err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var (
			cid     int
			name    string
			colType string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("scan table_info %s: %w", structure, err)
		}
		cols = append(cols, Column{Name: name, Type: schema.ColumnType(colType), PK: pk != 0})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table_info %s: %w", structure, err)
	}

	return cols, nil
}

// CreateStructure provisions a brand-new structure: the data table, its
// parent_id index and the version-1 registry row, all in one transaction.
func (s *Store) CreateStructure(ctx context.Context, def *schema.Definition, schemaJSON string) error {
	createSQL, err := buildCreateTable(def)
	if err != nil {
		return fmt.Errorf("create structure %q: %w", def.Name, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create structure %q: begin tx: %w", def.Name, err)
	}
	defer tx.Rollback() // No-op if committed

	if _, err := tx.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("create structure %q: create table: %w", def.Name, err)
	}
	if _, err := tx.ExecContext(ctx, buildParentIndex(def.Name)); err != nil {
		return fmt.Errorf("create structure %q: create index: %w", def.Name, err)
	}
	if err := insertStructureRow(ctx, tx, def.Name, schemaJSON); err != nil {
		return fmt.Errorf("create structure %q: %w", def.Name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("create structure %q: commit: %w", def.Name, err)
	}
	return nil
}

// Changeset is the result of diffing a definition against its live table.
type Changeset struct {
	// Added are scalar fields with no backing column yet.
	Added []schema.Leaf
	// Deprecated are non-reserved columns absent from the current schema.
	// They are retained, never dropped here.
	Deprecated []string
	// Widened are declared widening conversions to apply via rebuild.
	Widened []TypeChange
}

// diffStructure computes the changeset for newDef against the live
// columns, using oldDef for field-level widening decisions. Any type
// change outside the widening whitelist fails the whole migration.
func diffStructure(oldDef, newDef *schema.Definition, cols []Column) (Changeset, error) {
	existing := make(map[string]schema.ColumnType, len(cols))
	for _, c := range cols {
		if !isReserved(c.Name) {
			existing[c.Name] = c.Type
		}
	}

	var cs Changeset
	var incompatible []TypeChange

	current := make(map[string]bool)
	for _, leaf := range newDef.ScalarLeaves() {
		current[leaf.Name] = true
		newCol, err := schema.MapType(leaf.Type)
		if err != nil {
			return Changeset{}, err
		}

		oldCol, present := existing[leaf.Name]
		if !present {
			cs.Added = append(cs.Added, leaf)
			continue
		}
		if oldCol == newCol {
			continue
		}

		// The column exists with a different physical type. Only a
		// declared widening of a field still present in the previous
		// schema version is allowed; a deprecated column reappearing
		// under a new type is not, since its stored values are opaque.
		var oldField *schema.FieldSpec
		if oldDef != nil {
			oldField = oldDef.Field(leaf.Name)
		}
		if oldField != nil && schema.Widens(oldField.Type, leaf.Type) {
			cs.Widened = append(cs.Widened, TypeChange{Field: leaf.Name, From: oldField.Type, To: leaf.Type})
			continue
		}
		from := schema.FieldType("unknown")
		if oldField != nil {
			from = oldField.Type
		}
		incompatible = append(incompatible, TypeChange{Field: leaf.Name, From: from, To: leaf.Type})
	}

	for name := range existing {
		if !current[name] {
			cs.Deprecated = append(cs.Deprecated, name)
		}
	}

	if len(incompatible) > 0 {
		return Changeset{}, &IncompatibleMigrationError{Structure: newDef.Name, Changes: incompatible}
	}
	return cs, nil
}

// MigrateStructure reconciles the live table with newDef and commits the
// registry bump to newVersion. All-or-nothing: the column changes and the
// version land in one transaction, so no partially-migrated table is ever
// visible. Callers hold the structure's schema lock.
func (s *Store) MigrateStructure(ctx context.Context, oldDef, newDef *schema.Definition, schemaJSON string, newVersion int) error {
	cols, err := s.TableColumns(ctx, newDef.Name)
	if err != nil {
		return fmt.Errorf("migrate %q: %w", newDef.Name, err)
	}

	cs, err := diffStructure(oldDef, newDef, cols)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migrate %q: begin tx: %w", newDef.Name, err)
	}
	defer tx.Rollback()

	if len(cs.Widened) > 0 {
		// Widening cannot ALTER a column type in SQLite; rebuild the
		// table carrying every old column (deprecated ones included)
		// plus the added set.
		if err := rebuildTable(ctx, tx, newDef, cols, cs); err != nil {
			return fmt.Errorf("migrate %q: %w", newDef.Name, err)
		}
	} else {
		for _, leaf := range cs.Added {
			colType, err := schema.MapType(leaf.Type)
			if err != nil {
				return fmt.Errorf("migrate %q: %w", newDef.Name, err)
			}
			if _, err := tx.ExecContext(ctx, buildAddColumn(newDef.Name, leaf.Name, colType)); err != nil {
				return fmt.Errorf("migrate %q: add column %s: %w", newDef.Name, leaf.Name, err)
			}
		}
	}

	if err := bumpStructureRow(ctx, tx, newDef.Name, schemaJSON, newVersion); err != nil {
		return fmt.Errorf("migrate %q: %w", newDef.Name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migrate %q: commit: %w", newDef.Name, err)
	}
	return nil
}

// rebuildTable replaces the data table with a new layout inside the
// caller's transaction: create target, copy rows, drop old, rename.
func rebuildTable(ctx context.Context, tx *sql.Tx, def *schema.Definition, oldCols []Column, cs Changeset) error {
	widened := make(map[string]schema.FieldType, len(cs.Widened))
	for _, w := range cs.Widened {
		widened[w.Field] = w.To
	}

	// Target layout: every old column (with widened types applied), then
	// the added columns.
	var layout []Column
	var copyCols []Column
	for _, c := range oldCols {
		if isReserved(c.Name) {
			continue
		}
		col := c
		if to, ok := widened[c.Name]; ok {
			mapped, err := schema.MapType(to)
			if err != nil {
				return err
			}
			col.Type = mapped
		}
		layout = append(layout, col)
		copyCols = append(copyCols, c)
	}
	for _, leaf := range cs.Added {
		colType, err := schema.MapType(leaf.Type)
		if err != nil {
			return err
		}
		layout = append(layout, Column{Name: leaf.Name, Type: colType})
	}

	return executeRebuild(ctx, tx, def.Name, layout, copyCols)
}

// executeRebuild runs the create/copy/drop/rename dance shared by widening
// migrations and Vacuum. parent_id is self-referential, so FK checks are
// deferred to commit: INSERT..SELECT moves rows in arbitrary order.
func executeRebuild(ctx context.Context, tx *sql.Tx, structure string, layout, copyCols []Column) error {
	if _, err := tx.ExecContext(ctx, "PRAGMA defer_foreign_keys = ON"); err != nil {
		return fmt.Errorf("defer foreign keys: %w", err)
	}

	steps := []string{
		buildRebuildTable(structure, layout),
		buildRebuildCopy(structure, copyCols),
		fmt.Sprintf("DROP TABLE %s", TableName(structure)),
		fmt.Sprintf("ALTER TABLE %s_rebuild RENAME TO %s", TableName(structure), TableName(structure)),
		buildParentIndex(structure),
	}
	for _, stmt := range steps {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("rebuild %s: %w", structure, err)
		}
	}
	return nil
}

// DeprecatedColumns lists the non-reserved columns of the live table that
// the current schema no longer declares. They hold data from older
// versions and survive until an explicit Vacuum.
func (s *Store) DeprecatedColumns(ctx context.Context, def *schema.Definition) ([]string, error) {
	cols, err := s.TableColumns(ctx, def.Name)
	if err != nil {
		return nil, err
	}
	cs, err := diffStructure(def, def, cols)
	if err != nil {
		return nil, err
	}
	return cs.Deprecated, nil
}

// DropStructure removes the definition and its data table (and therefore
// every record) in one transaction.
func (s *Store) DropStructure(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("drop structure %q: begin tx: %w", name, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", TableName(name))); err != nil {
		return fmt.Errorf("drop structure %q: drop table: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM structures WHERE name = ?", name); err != nil {
		return fmt.Errorf("drop structure %q: delete row: %w", name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("drop structure %q: commit: %w", name, err)
	}
	return nil
}

// VacuumStructure is the explicit, deliberate drop of deprecated columns:
// the table is rebuilt with only the current schema's projection columns.
// Callers hold the structure's schema lock.
func (s *Store) VacuumStructure(ctx context.Context, def *schema.Definition) (dropped []string, err error) {
	cols, err := s.TableColumns(ctx, def.Name)
	if err != nil {
		return nil, fmt.Errorf("vacuum %q: %w", def.Name, err)
	}

	current := make(map[string]bool)
	for _, leaf := range def.ScalarLeaves() {
		current[leaf.Name] = true
	}

	var layout []Column
	for _, c := range cols {
		if isReserved(c.Name) {
			continue
		}
		if current[c.Name] {
			layout = append(layout, c)
		} else {
			dropped = append(dropped, c.Name)
		}
	}
	if len(dropped) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("vacuum %q: begin tx: %w", def.Name, err)
	}
	defer tx.Rollback()

	if err := executeRebuild(ctx, tx, def.Name, layout, layout); err != nil {
		return nil, fmt.Errorf("vacuum %q: %w", def.Name, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("vacuum %q: commit: %w", def.Name, err)
	}
	return dropped, nil
}
