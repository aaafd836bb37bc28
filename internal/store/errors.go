package store

import (
	"fmt"
	"strings"

	"github.com/stratahq/strata/internal/schema"
)

// TypeChange records one rejected column retype.
type TypeChange struct {
	Field string
	From  schema.FieldType
	To    schema.FieldType
}

// IncompatibleMigrationError reports a schema update whose type changes
// are not declared widening conversions. The whole update is aborted;
// the previous schema version and table remain the observable state.
type IncompatibleMigrationError struct {
	Structure string
	Changes   []TypeChange
}

func (e *IncompatibleMigrationError) Error() string {
	parts := make([]string, len(e.Changes))
	for i, c := range e.Changes {
		parts[i] = fmt.Sprintf("%s: %s -> %s", c.Field, c.From, c.To)
	}
	return fmt.Sprintf("incompatible migration for %q: narrowing type change(s): %s",
		e.Structure, strings.Join(parts, ", "))
}
