// Package validate checks candidate documents against a structure's
// active schema.
//
// Validation collects every violation instead of stopping at the first,
// so callers can return the full list in one response. Missing optional
// fields are filled with their declared defaults; the returned document
// is the normalized instance that gets persisted.
package validate

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/stratahq/strata/internal/schema"
)

// Violation is one rule failure in a candidate document.
type Violation struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// ValidationError carries the full violation list for a rejected document.
type ValidationError struct {
	Structure  string
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = fmt.Sprintf("%s (%s): %s", v.Field, v.Rule, v.Message)
	}
	return fmt.Sprintf("document for %q invalid: %s", e.Structure, strings.Join(parts, "; "))
}

// DepthExceededError reports a document nested beyond the configured
// maximum, which a self-referential schema would otherwise chase forever.
type DepthExceededError struct {
	Structure string
	Field     string
	MaxDepth  int
}

func (e *DepthExceededError) Error() string {
	return fmt.Sprintf("document for %q exceeds maximum nesting depth %d at %q",
		e.Structure, e.MaxDepth, e.Field)
}

// Validator validates documents. The zero value uses the schema package's
// default depth bound.
type Validator struct {
	// MaxDepth bounds document recursion. Must match the registry's
	// schema-side bound so schemas and documents agree on what "too
	// deep" means.
	MaxDepth int
}

// New returns a Validator with the given depth bound (<=0 selects the
// default).
func New(maxDepth int) *Validator {
	if maxDepth <= 0 {
		maxDepth = schema.DefaultMaxDepth
	}
	return &Validator{MaxDepth: maxDepth}
}

// Validate checks candidate against def's schema and returns the
// normalized document. On rule failures it returns *ValidationError with
// every violation; on runaway nesting it returns *DepthExceededError.
func (v *Validator) Validate(def *schema.Definition, candidate map[string]any) (map[string]any, error) {
	w := &walker{root: def.Root, maxDepth: v.MaxDepth}

	normalized := w.object(def.Root, candidate, "", 0)
	if w.depthErr != "" {
		return nil, &DepthExceededError{Structure: def.Name, Field: w.depthErr, MaxDepth: v.MaxDepth}
	}
	if len(w.violations) > 0 {
		return nil, &ValidationError{Structure: def.Name, Violations: w.violations}
	}
	return normalized, nil
}

type walker struct {
	root       *schema.FieldSpec
	maxDepth   int
	violations []Violation
	depthErr   string // first field path that blew the depth bound
}

func (w *walker) violate(field, rule, msg string) {
	w.violations = append(w.violations, Violation{Field: field, Rule: rule, Message: msg})
}

// object validates a document against an object spec, returning the
// normalized copy with defaults applied.
func (w *walker) object(spec *schema.FieldSpec, doc map[string]any, path string, depth int) map[string]any {
	if depth > w.maxDepth {
		if w.depthErr == "" {
			w.depthErr = path
		}
		return nil
	}

	out := make(map[string]any, len(doc))

	for name, field := range spec.Fields {
		fieldPath := join(path, name)
		val, present := doc[name]

		if !present || val == nil {
			if field.Required {
				w.violate(fieldPath, "required", "field is required")
				continue
			}
			if field.Default != nil {
				out[name] = copyValue(field.Default)
			}
			continue
		}

		if norm, ok := w.value(field, val, fieldPath, depth+1); ok {
			out[name] = norm
		}
	}

	// Undeclared fields are rejected unless the object opts in.
	for name := range doc {
		if _, declared := spec.Fields[name]; declared {
			continue
		}
		if spec.AdditionalProperties {
			out[name] = copyValue(doc[name])
			continue
		}
		w.violate(join(path, name), "additionalProperties", "field is not declared in the schema")
	}

	return out
}

// value validates one value against its field spec. The bool result is
// false when the value was rejected (the violation is already recorded).
func (w *walker) value(field *schema.FieldSpec, val any, path string, depth int) (any, bool) {
	if depth > w.maxDepth {
		if w.depthErr == "" {
			w.depthErr = path
		}
		return nil, false
	}

	switch field.Type {
	case schema.TypeString:
		return w.stringValue(field, val, path)
	case schema.TypeInteger:
		return w.integerValue(field, val, path)
	case schema.TypeNumber:
		return w.numberValue(field, val, path)
	case schema.TypeBoolean:
		b, ok := val.(bool)
		if !ok {
			w.violate(path, "type", fmt.Sprintf("expected boolean, got %s", typeName(val)))
			return nil, false
		}
		return b, true
	case schema.TypeArray:
		return w.arrayValue(field, val, path, depth)
	case schema.TypeObject:
		obj, ok := val.(map[string]any)
		if !ok {
			w.violate(path, "type", fmt.Sprintf("expected object, got %s", typeName(val)))
			return nil, false
		}
		before := len(w.violations)
		norm := w.object(field, obj, path, depth)
		return norm, len(w.violations) == before
	case schema.TypeSelf:
		obj, ok := val.(map[string]any)
		if !ok {
			w.violate(path, "type", fmt.Sprintf("expected object, got %s", typeName(val)))
			return nil, false
		}
		before := len(w.violations)
		norm := w.object(w.root, obj, path, depth)
		return norm, len(w.violations) == before
	}

	w.violate(path, "type", fmt.Sprintf("unsupported field type %q", field.Type))
	return nil, false
}

func (w *walker) stringValue(field *schema.FieldSpec, val any, path string) (any, bool) {
	s, ok := val.(string)
	if !ok {
		w.violate(path, "type", fmt.Sprintf("expected string, got %s", typeName(val)))
		return nil, false
	}

	valid := true
	if field.MinLength != nil && len(s) < *field.MinLength {
		w.violate(path, "minLength", fmt.Sprintf("length %d is below minimum %d", len(s), *field.MinLength))
		valid = false
	}
	if field.MaxLength != nil && len(s) > *field.MaxLength {
		w.violate(path, "maxLength", fmt.Sprintf("length %d exceeds maximum %d", len(s), *field.MaxLength))
		valid = false
	}
	if re := field.CompiledPattern(); re != nil && !re.MatchString(s) {
		w.violate(path, "pattern", fmt.Sprintf("value does not match pattern %q", field.Pattern))
		valid = false
	}
	if !w.checkEnum(field, s, path) {
		valid = false
	}
	return s, valid
}

func (w *walker) integerValue(field *schema.FieldSpec, val any, path string) (any, bool) {
	n, ok := asInt(val)
	if !ok {
		w.violate(path, "type", fmt.Sprintf("expected integer, got %s", typeName(val)))
		return nil, false
	}
	if !w.checkNumeric(field, float64(n), path) {
		return n, false
	}
	if !w.checkEnum(field, n, path) {
		return n, false
	}
	return n, true
}

func (w *walker) numberValue(field *schema.FieldSpec, val any, path string) (any, bool) {
	f, ok := asFloat(val)
	if !ok {
		w.violate(path, "type", fmt.Sprintf("expected number, got %s", typeName(val)))
		return nil, false
	}
	if !w.checkNumeric(field, f, path) {
		return f, false
	}
	if !w.checkEnum(field, f, path) {
		return f, false
	}
	return f, true
}

func (w *walker) checkNumeric(field *schema.FieldSpec, f float64, path string) bool {
	valid := true
	if field.Minimum != nil && f < *field.Minimum {
		w.violate(path, "minimum", fmt.Sprintf("%v is below minimum %v", f, *field.Minimum))
		valid = false
	}
	if field.Maximum != nil && f > *field.Maximum {
		w.violate(path, "maximum", fmt.Sprintf("%v exceeds maximum %v", f, *field.Maximum))
		valid = false
	}
	if field.MultipleOf != nil {
		q := f / *field.MultipleOf
		if math.Abs(q-math.Round(q)) > 1e-9 {
			w.violate(path, "multipleOf", fmt.Sprintf("%v is not a multiple of %v", f, *field.MultipleOf))
			valid = false
		}
	}
	return valid
}

func (w *walker) checkEnum(field *schema.FieldSpec, val any, path string) bool {
	if field.Enum == nil {
		return true
	}
	for _, allowed := range field.Enum {
		if equalScalar(val, allowed) {
			return true
		}
	}
	w.violate(path, "enum", fmt.Sprintf("%v is not one of the allowed values", val))
	return false
}

func (w *walker) arrayValue(field *schema.FieldSpec, val any, path string, depth int) (any, bool) {
	arr, ok := val.([]any)
	if !ok {
		w.violate(path, "type", fmt.Sprintf("expected array, got %s", typeName(val)))
		return nil, false
	}

	valid := true
	if field.MinItems != nil && len(arr) < *field.MinItems {
		w.violate(path, "minItems", fmt.Sprintf("%d items is below minimum %d", len(arr), *field.MinItems))
		valid = false
	}
	if field.MaxItems != nil && len(arr) > *field.MaxItems {
		w.violate(path, "maxItems", fmt.Sprintf("%d items exceeds maximum %d", len(arr), *field.MaxItems))
		valid = false
	}

	out := make([]any, 0, len(arr))
	for i, item := range arr {
		itemPath := fmt.Sprintf("%s[%d]", path, i)
		if field.Items == nil {
			out = append(out, copyValue(item))
			continue
		}
		norm, ok := w.value(field.Items, item, itemPath, depth+1)
		if !ok {
			valid = false
			continue
		}
		out = append(out, norm)
	}

	if field.UniqueItems && !itemsUnique(out) {
		w.violate(path, "uniqueItems", "array items are not unique")
		valid = false
	}

	return out, valid
}

// itemsUnique compares items by their JSON encoding: cheap, and exactly
// the identity the document column stores.
func itemsUnique(items []any) bool {
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		b, err := json.Marshal(item)
		if err != nil {
			return false
		}
		if seen[string(b)] {
			return false
		}
		seen[string(b)] = true
	}
	return true
}

func equalScalar(a, b any) bool {
	if af, aok := asFloat(a); aok {
		bf, bok := asFloat(b)
		return bok && af == bf
	}
	return a == b
}

func join(base, field string) string {
	if base == "" {
		return field
	}
	return base + "." + field
}

func typeName(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, int, int64:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	case nil:
		return "null"
	}
	return fmt.Sprintf("%T", v)
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n == math.Trunc(n) {
			return int64(n), true
		}
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// copyValue deep-copies defaults and passthrough values so stored
// documents never alias schema-owned memory.
func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = copyValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = copyValue(item)
		}
		return out
	default:
		return v
	}
}
