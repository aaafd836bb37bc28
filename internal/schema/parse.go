package schema

import (
	"fmt"
	"regexp"
	"time"
)

// DefaultMaxDepth bounds schema and document nesting when the caller does
// not configure one.
const DefaultMaxDepth = 8

// namePattern constrains structure and field names: they become SQLite
// identifiers (table and column names) and must never need quoting tricks.
var namePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// ValidName reports whether s is usable as a structure or field name.
func ValidName(s string) bool {
	return namePattern.MatchString(s)
}

// Parse validates a raw schema document and builds a Definition at
// version 1. It collects every issue before failing with *SchemaError:
// non-object root, invalid or reserved field names, unsupported type
// tokens, invalid regular expressions, inconsistent constraints, nesting
// beyond maxDepth and misplaced $self markers.
//
// maxDepth <= 0 selects DefaultMaxDepth.
func Parse(name string, doc map[string]any, maxDepth int) (*Definition, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	p := &parser{maxDepth: maxDepth}

	if !ValidName(name) {
		p.issue("", fmt.Sprintf("structure name %q must match %s", name, namePattern))
	}

	root := p.parseField("", doc, 0)
	if root != nil && root.Type != TypeObject {
		p.issue("", fmt.Sprintf("root type must be %q, got %q", TypeObject, root.Type))
	}

	if len(p.issues) > 0 {
		return nil, &SchemaError{Structure: name, Issues: p.issues}
	}

	now := time.Now().UTC()
	return &Definition{
		Name:      name,
		Root:      root,
		Doc:       doc,
		Version:   1,
		MaxDepth:  maxDepth,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

type parser struct {
	maxDepth int
	issues   []Issue
}

func (p *parser) issue(field, msg string) {
	p.issues = append(p.issues, Issue{Field: field, Message: msg})
}

// knownKeys are the constraint keys a field spec may carry.
var knownKeys = map[string]bool{
	"type": true, "required": true, "default": true,
	"minLength": true, "maxLength": true, "pattern": true, "enum": true,
	"minimum": true, "maximum": true, "multipleOf": true,
	"items": true, "minItems": true, "maxItems": true, "uniqueItems": true,
	"fields": true, "additionalProperties": true,
}

func (p *parser) parseField(path string, raw map[string]any, depth int) *FieldSpec {
	if depth > p.maxDepth {
		p.issue(path, fmt.Sprintf("nesting exceeds maximum depth %d", p.maxDepth))
		return nil
	}

	for k := range raw {
		if !knownKeys[k] {
			p.issue(path, fmt.Sprintf("unknown schema key %q", k))
		}
	}

	typeTok, ok := raw["type"].(string)
	if !ok {
		p.issue(path, "missing or non-string \"type\"")
		return nil
	}

	f := &FieldSpec{Type: FieldType(typeTok)}
	switch f.Type {
	case TypeString, TypeNumber, TypeInteger, TypeBoolean, TypeArray, TypeObject, TypeSelf:
	default:
		p.issue(path, fmt.Sprintf("unsupported field type %q", typeTok))
		return nil
	}

	p.parseCommon(path, raw, f)

	switch f.Type {
	case TypeString:
		p.parseStringConstraints(path, raw, f)
	case TypeNumber, TypeInteger:
		p.parseNumericConstraints(path, raw, f)
	case TypeArray:
		p.parseArray(path, raw, f, depth)
	case TypeObject:
		p.parseObject(path, raw, f, depth)
	case TypeSelf:
		// $self is terminal: it stands for the whole root object and may
		// not carry its own shape.
		for _, k := range []string{"items", "fields", "pattern", "enum", "minLength", "maxLength", "minimum", "maximum", "multipleOf"} {
			if _, present := raw[k]; present {
				p.issue(path, fmt.Sprintf("$self reference may not declare %q", k))
			}
		}
	}

	if f.Enum != nil {
		p.checkEnum(path, f)
	}
	if f.Default != nil {
		if f.Required {
			p.issue(path, "a required field may not declare a default")
		}
		if !valueMatchesType(f.Type, f.Default) {
			p.issue(path, fmt.Sprintf("default value %v does not match type %q", f.Default, f.Type))
		}
	}

	return f
}

func (p *parser) parseCommon(path string, raw map[string]any, f *FieldSpec) {
	if v, present := raw["required"]; present {
		b, ok := v.(bool)
		if !ok {
			p.issue(path, "\"required\" must be a boolean")
		}
		f.Required = b
	}
	if v, present := raw["default"]; present {
		f.Default = v
	}
	if v, present := raw["enum"]; present {
		vals, ok := v.([]any)
		if !ok || len(vals) == 0 {
			p.issue(path, "\"enum\" must be a non-empty array")
		} else {
			f.Enum = vals
		}
	}
}

func (p *parser) parseStringConstraints(path string, raw map[string]any, f *FieldSpec) {
	f.MinLength = p.intKey(path, raw, "minLength")
	f.MaxLength = p.intKey(path, raw, "maxLength")
	if f.MinLength != nil && f.MaxLength != nil && *f.MinLength > *f.MaxLength {
		p.issue(path, "minLength exceeds maxLength")
	}
	if v, present := raw["pattern"]; present {
		s, ok := v.(string)
		if !ok {
			p.issue(path, "\"pattern\" must be a string")
			return
		}
		re, err := regexp.Compile(s)
		if err != nil {
			p.issue(path, fmt.Sprintf("invalid pattern: %v", err))
			return
		}
		f.Pattern = s
		f.pattern = re
	}
}

func (p *parser) parseNumericConstraints(path string, raw map[string]any, f *FieldSpec) {
	f.Minimum = p.floatKey(path, raw, "minimum")
	f.Maximum = p.floatKey(path, raw, "maximum")
	f.MultipleOf = p.floatKey(path, raw, "multipleOf")
	if f.Minimum != nil && f.Maximum != nil && *f.Minimum > *f.Maximum {
		p.issue(path, "minimum exceeds maximum")
	}
	if f.MultipleOf != nil && *f.MultipleOf <= 0 {
		p.issue(path, "multipleOf must be positive")
	}
}

func (p *parser) parseArray(path string, raw map[string]any, f *FieldSpec, depth int) {
	f.MinItems = p.intKey(path, raw, "minItems")
	f.MaxItems = p.intKey(path, raw, "maxItems")
	if f.MinItems != nil && f.MaxItems != nil && *f.MinItems > *f.MaxItems {
		p.issue(path, "minItems exceeds maxItems")
	}
	if v, present := raw["uniqueItems"]; present {
		b, ok := v.(bool)
		if !ok {
			p.issue(path, "\"uniqueItems\" must be a boolean")
		}
		f.UniqueItems = b
	}

	itemsRaw, present := raw["items"]
	if !present {
		p.issue(path, "array field requires \"items\"")
		return
	}
	items, ok := itemsRaw.(map[string]any)
	if !ok {
		p.issue(path, "\"items\" must be a field spec object")
		return
	}
	f.Items = p.parseField(joinPath(path, "[]"), items, depth+1)
}

func (p *parser) parseObject(path string, raw map[string]any, f *FieldSpec, depth int) {
	if v, present := raw["additionalProperties"]; present {
		b, ok := v.(bool)
		if !ok {
			p.issue(path, "\"additionalProperties\" must be a boolean")
		}
		f.AdditionalProperties = b
	}

	fieldsRaw, present := raw["fields"]
	if !present {
		p.issue(path, "object field requires \"fields\"")
		return
	}
	fields, ok := fieldsRaw.(map[string]any)
	if !ok {
		p.issue(path, "\"fields\" must be a map of field specs")
		return
	}
	if path == "" && len(fields) == 0 {
		p.issue(path, "root object declares no fields")
	}

	f.Fields = make(map[string]*FieldSpec, len(fields))
	for name, specRaw := range fields {
		fieldPath := joinPath(path, name)
		if !ValidName(name) {
			p.issue(fieldPath, fmt.Sprintf("invalid field name %q", name))
			continue
		}
		if path == "" && reservedColumns[name] {
			p.issue(fieldPath, fmt.Sprintf("field name %q is reserved", name))
			continue
		}
		if _, dup := f.Fields[name]; dup {
			p.issue(fieldPath, fmt.Sprintf("duplicate field name %q", name))
			continue
		}
		specMap, ok := specRaw.(map[string]any)
		if !ok {
			p.issue(fieldPath, "field spec must be an object")
			continue
		}
		if spec := p.parseField(fieldPath, specMap, depth+1); spec != nil {
			f.Fields[name] = spec
		}
	}
}

func (p *parser) checkEnum(path string, f *FieldSpec) {
	if !IsScalar(f.Type) {
		p.issue(path, fmt.Sprintf("enum is not allowed on type %q", f.Type))
		return
	}
	for _, v := range f.Enum {
		if !valueMatchesType(f.Type, v) {
			p.issue(path, fmt.Sprintf("enum value %v does not match type %q", v, f.Type))
		}
	}
}

func (p *parser) intKey(path string, raw map[string]any, key string) *int {
	v, present := raw[key]
	if !present {
		return nil
	}
	n, ok := asInt(v)
	if !ok {
		p.issue(path, fmt.Sprintf("%q must be an integer", key))
		return nil
	}
	if n < 0 {
		p.issue(path, fmt.Sprintf("%q must not be negative", key))
		return nil
	}
	i := int(n)
	return &i
}

func (p *parser) floatKey(path string, raw map[string]any, key string) *float64 {
	v, present := raw[key]
	if !present {
		return nil
	}
	fv, ok := asFloat(v)
	if !ok {
		p.issue(path, fmt.Sprintf("%q must be a number", key))
		return nil
	}
	return &fv
}

func joinPath(base, field string) string {
	if base == "" {
		return field
	}
	return base + "." + field
}

// asInt accepts the integer encodings JSON and YAML decoders produce.
func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n == float64(int64(n)) {
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

// valueMatchesType checks a literal (default or enum member) against a
// declared field type.
func valueMatchesType(t FieldType, v any) bool {
	switch t {
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeInteger:
		_, ok := asInt(v)
		return ok
	case TypeNumber:
		_, ok := asFloat(v)
		return ok
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeArray:
		_, ok := v.([]any)
		return ok
	case TypeObject, TypeSelf:
		_, ok := v.(map[string]any)
		return ok
	}
	return false
}
