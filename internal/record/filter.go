package record

import (
	"fmt"
	"strings"

	"github.com/stratahq/strata/internal/schema"
	"github.com/stratahq/strata/internal/store"
)

// Op is a filter comparison operator.
type Op string

const (
	OpEq   Op = "eq"
	OpNe   Op = "ne"
	OpLt   Op = "lt"
	OpLte  Op = "lte"
	OpGt   Op = "gt"
	OpGte  Op = "gte"
	OpLike Op = "like"
)

// opSQL maps operators to SQL. Values are always bound, never
// interpolated.
var opSQL = map[Op]string{
	OpEq:   "=",
	OpNe:   "!=",
	OpLt:   "<",
	OpLte:  "<=",
	OpGt:   ">",
	OpGte:  ">=",
	OpLike: "LIKE",
}

// Filter is one conjunct of a list filter.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// SortOrder direction tokens.
const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

// ListOptions shape a List or Stream call. The zero value lists the
// first DefaultLimit records by id.
type ListOptions struct {
	Limit     int
	Offset    int
	SortField string
	SortOrder string
	Filters   []Filter
}

// DefaultLimit bounds a List that does not ask for one.
const DefaultLimit = 100

// systemColumns are always filterable/sortable alongside the projected
// scalar fields.
var systemColumns = map[string]bool{
	"id":         true,
	"parent_id":  true,
	"created_at": true,
	"updated_at": true,
}

// buildListQuery compiles ListOptions into parameterized SQL.
//
// Filters and sort fields are validated against the structure's projected
// scalar columns (plus system columns); anything else fails with
// *UnfilterableFieldError. Ordering always carries an id tiebreaker so
// pagination is stable.
func buildListQuery(def *schema.Definition, opts ListOptions) (string, []any, error) {
	projected := make(map[string]bool)
	for _, leaf := range def.ScalarLeaves() {
		projected[leaf.Name] = true
	}
	allowed := func(field string) bool {
		return projected[field] || systemColumns[field]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT id, parent_id, document, created_at, updated_at FROM %s", store.TableName(def.Name))

	var args []any
	if len(opts.Filters) > 0 {
		conds := make([]string, 0, len(opts.Filters))
		for _, f := range opts.Filters {
			if !allowed(f.Field) {
				return "", nil, &UnfilterableFieldError{Structure: def.Name, Field: f.Field}
			}
			op, ok := opSQL[f.Op]
			if !ok {
				return "", nil, fmt.Errorf("unknown filter operator %q", f.Op)
			}
			conds = append(conds, fmt.Sprintf("%s %s ?", f.Field, op))
			args = append(args, bindValue(f.Value))
		}
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}

	sortField := opts.SortField
	if sortField == "" {
		sortField = "id"
	}
	if !allowed(sortField) {
		return "", nil, &UnfilterableFieldError{Structure: def.Name, Field: sortField}
	}
	dir := "ASC"
	switch strings.ToLower(opts.SortOrder) {
	case "", SortAsc:
	case SortDesc:
		dir = "DESC"
	default:
		return "", nil, fmt.Errorf("invalid sort order %q", opts.SortOrder)
	}

	// id tiebreaker keeps offset pagination stable under equal keys.
	if sortField == "id" {
		fmt.Fprintf(&b, " ORDER BY id %s", dir)
	} else {
		fmt.Fprintf(&b, " ORDER BY %s %s, id ASC", sortField, dir)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	b.WriteString(" LIMIT ? OFFSET ?")
	args = append(args, limit, max(opts.Offset, 0))

	return b.String(), args, nil
}

// bindValue converts a document-level value to its SQL binding.
// Booleans become 0/1 to match projection column storage.
func bindValue(v any) any {
	if b, ok := v.(bool); ok {
		if b {
			return int64(1)
		}
		return int64(0)
	}
	return v
}
