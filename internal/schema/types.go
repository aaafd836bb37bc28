package schema

import (
	"regexp"
	"sort"
	"time"
)

// FieldType identifies the declared type of a field.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeInteger FieldType = "integer"
	TypeBoolean FieldType = "boolean"
	TypeArray   FieldType = "array"
	TypeObject  FieldType = "object"

	// TypeSelf is the recursion marker: the field is an instance of the
	// structure's own root object. Only valid in terminal positions.
	TypeSelf FieldType = "$self"
)

// scalarTypes are the field types that receive a projection column.
var scalarTypes = map[FieldType]bool{
	TypeString:  true,
	TypeNumber:  true,
	TypeInteger: true,
	TypeBoolean: true,
}

// reservedColumns are column names owned by the physical layout. Fields
// with these names are rejected at parse time so projections can never
// collide with them.
var reservedColumns = map[string]bool{
	"id":         true,
	"parent_id":  true,
	"document":   true,
	"created_at": true,
	"updated_at": true,
}

// FieldSpec describes one field of a schema document.
//
// Constraint fields use pointers where absence and zero differ
// (e.g. Minimum of 0 vs no minimum).
type FieldSpec struct {
	Type     FieldType `json:"type"`
	Required bool      `json:"required,omitempty"`
	Default  any       `json:"default,omitempty"`

	// String constraints.
	MinLength *int   `json:"minLength,omitempty"`
	MaxLength *int   `json:"maxLength,omitempty"`
	Pattern   string `json:"pattern,omitempty"`
	Enum      []any  `json:"enum,omitempty"`

	// Numeric constraints.
	Minimum    *float64 `json:"minimum,omitempty"`
	Maximum    *float64 `json:"maximum,omitempty"`
	MultipleOf *float64 `json:"multipleOf,omitempty"`

	// Array constraints.
	Items       *FieldSpec `json:"items,omitempty"`
	MinItems    *int       `json:"minItems,omitempty"`
	MaxItems    *int       `json:"maxItems,omitempty"`
	UniqueItems bool       `json:"uniqueItems,omitempty"`

	// Object fields.
	Fields               map[string]*FieldSpec `json:"fields,omitempty"`
	AdditionalProperties bool                  `json:"additionalProperties,omitempty"`

	// pattern is the compiled form of Pattern, set by Parse.
	pattern *regexp.Regexp
}

// CompiledPattern returns the compiled regular expression for Pattern,
// or nil if the field declares none.
func (f *FieldSpec) CompiledPattern() *regexp.Regexp {
	return f.pattern
}

// Definition is a named, versioned structure definition.
//
// Name maps 1:1 to one physical table. Version is monotonic and bumped on
// every accepted schema update.
type Definition struct {
	Name      string
	Root      *FieldSpec // always an object
	Doc       map[string]any // the raw schema document as supplied
	Version   int
	MaxDepth  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Leaf is one scalar root field eligible for a projection column.
type Leaf struct {
	Name string
	Type FieldType
}

// ScalarLeaves returns the scalar fields of the root object in name order.
// Array, object and $self fields are excluded: they live only inside the
// document column.
func (d *Definition) ScalarLeaves() []Leaf {
	leaves := make([]Leaf, 0, len(d.Root.Fields))
	for name, f := range d.Root.Fields {
		if scalarTypes[f.Type] {
			leaves = append(leaves, Leaf{Name: name, Type: f.Type})
		}
	}
	sort.Slice(leaves, func(i, j int) bool { return leaves[i].Name < leaves[j].Name })
	return leaves
}

// Field returns the root field spec for name, or nil.
func (d *Definition) Field(name string) *FieldSpec {
	return d.Root.Fields[name]
}

// IsScalar reports whether t maps to a projection column.
func IsScalar(t FieldType) bool {
	return scalarTypes[t]
}
