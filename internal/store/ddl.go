package store

import (
	"fmt"
	"strings"

	"github.com/stratahq/strata/internal/schema"
)

// TableName returns the physical table name for a structure.
// Structure names are validated identifiers, so the result never needs
// quoting.
func TableName(structure string) string {
	return "data_" + structure
}

// Column describes one physical column of a structure's data table.
type Column struct {
	Name string
	Type schema.ColumnType
	PK   bool
}

// reserved column names, in layout order.
var reservedOrder = []string{"id", "parent_id", "document", "created_at", "updated_at"}

func isReserved(name string) bool {
	for _, r := range reservedOrder {
		if name == r {
			return true
		}
	}
	return false
}

// buildCreateTable renders the CREATE TABLE statement for a structure.
//
// Layout contract: id primary key, nullable self-referential parent_id,
// the authoritative document column, one nullable projection column per
// scalar root field (name order), then timestamps.
func buildCreateTable(def *schema.Definition) (string, error) {
	table := TableName(def.Name)

	cols := []string{
		"    id         INTEGER PRIMARY KEY AUTOINCREMENT",
		fmt.Sprintf("    parent_id  INTEGER REFERENCES %s(id)", table),
		"    document   TEXT NOT NULL",
	}
	for _, leaf := range def.ScalarLeaves() {
		colType, err := schema.MapType(leaf.Type)
		if err != nil {
			return "", fmt.Errorf("map field %q: %w", leaf.Name, err)
		}
		cols = append(cols, fmt.Sprintf("    %-10s %s", leaf.Name, colType))
	}
	cols = append(cols,
		"    created_at TEXT NOT NULL",
		"    updated_at TEXT NOT NULL",
	)

	return fmt.Sprintf("CREATE TABLE %s (\n%s\n)", table, strings.Join(cols, ",\n")), nil
}

// buildParentIndex renders the index that backs parent_id lookups
// (cascade deletes walk the parent chain).
func buildParentIndex(structure string) string {
	return fmt.Sprintf("CREATE INDEX idx_%s_parent ON %s (parent_id)",
		structure, TableName(structure))
}

// buildAddColumn renders the additive migration for one new scalar field.
// New columns are always nullable with default null: pre-existing rows
// conform to the schema version in force when they were written.
func buildAddColumn(structure, field string, colType schema.ColumnType) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
		TableName(structure), field, colType)
}

// buildRebuildTable renders the CREATE TABLE for a rebuild target with an
// explicit column set (used for widening migrations, which carry
// deprecated columns forward, and for Vacuum, which does not).
func buildRebuildTable(structure string, columns []Column) string {
	table := TableName(structure) + "_rebuild"

	cols := []string{
		"    id         INTEGER PRIMARY KEY AUTOINCREMENT",
		fmt.Sprintf("    parent_id  INTEGER REFERENCES %s(id)", table),
		"    document   TEXT NOT NULL",
	}
	for _, c := range columns {
		if isReserved(c.Name) {
			continue
		}
		cols = append(cols, fmt.Sprintf("    %-10s %s", c.Name, c.Type))
	}
	cols = append(cols,
		"    created_at TEXT NOT NULL",
		"    updated_at TEXT NOT NULL",
	)

	return fmt.Sprintf("CREATE TABLE %s (\n%s\n)", table, strings.Join(cols, ",\n"))
}

// buildRebuildCopy renders the row copy from the live table into the
// rebuild target. Only the named columns move; everything else (columns
// being vacuumed away) is left behind.
func buildRebuildCopy(structure string, columns []Column) string {
	names := make([]string, 0, len(columns)+len(reservedOrder))
	names = append(names, reservedOrder...)
	for _, c := range columns {
		if isReserved(c.Name) {
			continue
		}
		names = append(names, c.Name)
	}
	list := strings.Join(names, ", ")
	return fmt.Sprintf("INSERT INTO %s_rebuild (%s) SELECT %s FROM %s",
		TableName(structure), list, list, TableName(structure))
}
