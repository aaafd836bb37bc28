package schema

import (
	"errors"
	"strings"
	"testing"
)

func menuDoc() map[string]any {
	return map[string]any{
		"type": "object",
		"fields": map[string]any{
			"label":    map[string]any{"type": "string", "required": true, "maxLength": 80},
			"url":      map[string]any{"type": "string", "pattern": "^/"},
			"position": map[string]any{"type": "integer", "minimum": 0},
			"active":   map[string]any{"type": "boolean", "default": true},
			"children": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "$self"},
			},
		},
	}
}

func TestParse_ValidSchema(t *testing.T) {
	def, err := Parse("menu", menuDoc(), 0)
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}

	if def.Version != 1 {
		t.Errorf("Version = %d, want 1", def.Version)
	}
	if def.MaxDepth != DefaultMaxDepth {
		t.Errorf("MaxDepth = %d, want default %d", def.MaxDepth, DefaultMaxDepth)
	}

	leaves := def.ScalarLeaves()
	want := []Leaf{
		{Name: "active", Type: TypeBoolean},
		{Name: "label", Type: TypeString},
		{Name: "position", Type: TypeInteger},
		{Name: "url", Type: TypeString},
	}
	if len(leaves) != len(want) {
		t.Fatalf("ScalarLeaves() = %v, want %v", leaves, want)
	}
	for i, l := range leaves {
		if l != want[i] {
			t.Errorf("leaf[%d] = %v, want %v", i, l, want[i])
		}
	}

	if def.Field("url").CompiledPattern() == nil {
		t.Error("url pattern was not compiled")
	}
}

func TestParse_RootMustBeObject(t *testing.T) {
	_, err := Parse("menu", map[string]any{"type": "string"}, 0)
	assertSchemaIssue(t, err, "root type must be")
}

func TestParse_UnsupportedType(t *testing.T) {
	doc := map[string]any{
		"type": "object",
		"fields": map[string]any{
			"when": map[string]any{"type": "datetime"},
		},
	}
	_, err := Parse("menu", doc, 0)
	assertSchemaIssue(t, err, `unsupported field type "datetime"`)
}

func TestParse_InvalidPattern(t *testing.T) {
	doc := map[string]any{
		"type": "object",
		"fields": map[string]any{
			"code": map[string]any{"type": "string", "pattern": "["},
		},
	}
	_, err := Parse("menu", doc, 0)
	assertSchemaIssue(t, err, "invalid pattern")
}

func TestParse_ReservedFieldName(t *testing.T) {
	doc := map[string]any{
		"type": "object",
		"fields": map[string]any{
			"parent_id": map[string]any{"type": "integer"},
		},
	}
	_, err := Parse("menu", doc, 0)
	assertSchemaIssue(t, err, "reserved")
}

func TestParse_SelfMustBeTerminal(t *testing.T) {
	doc := map[string]any{
		"type": "object",
		"fields": map[string]any{
			"child": map[string]any{
				"type":   "$self",
				"fields": map[string]any{},
			},
		},
	}
	_, err := Parse("menu", doc, 0)
	assertSchemaIssue(t, err, "$self reference may not declare")
}

func TestParse_NestingBeyondMaxDepth(t *testing.T) {
	// Build a chain of nested objects deeper than the bound.
	leaf := map[string]any{"type": "string"}
	doc := map[string]any{"type": "object", "fields": map[string]any{"f": leaf}}
	for i := 0; i < 5; i++ {
		doc = map[string]any{"type": "object", "fields": map[string]any{"f": doc}}
	}
	_, err := Parse("deep", doc, 3)
	assertSchemaIssue(t, err, "exceeds maximum depth")
}

func TestParse_CollectsAllIssues(t *testing.T) {
	doc := map[string]any{
		"type": "object",
		"fields": map[string]any{
			"a": map[string]any{"type": "datetime"},
			"b": map[string]any{"type": "string", "pattern": "["},
			"c": map[string]any{"type": "integer", "minimum": 10, "maximum": 1},
		},
	}
	_, err := Parse("menu", doc, 0)

	var serr *SchemaError
	if !errors.As(err, &serr) {
		t.Fatalf("expected *SchemaError, got %v", err)
	}
	if len(serr.Issues) != 3 {
		t.Errorf("Issues = %d, want 3: %v", len(serr.Issues), serr.Issues)
	}
}

func TestParse_EnumValueTypeMismatch(t *testing.T) {
	doc := map[string]any{
		"type": "object",
		"fields": map[string]any{
			"state": map[string]any{"type": "string", "enum": []any{"draft", 7}},
		},
	}
	_, err := Parse("menu", doc, 0)
	assertSchemaIssue(t, err, "enum value")
}

func TestParse_RequiredFieldWithDefault(t *testing.T) {
	doc := map[string]any{
		"type": "object",
		"fields": map[string]any{
			"label": map[string]any{"type": "string", "required": true, "default": "x"},
		},
	}
	_, err := Parse("menu", doc, 0)
	assertSchemaIssue(t, err, "may not declare a default")
}

func TestParse_InvalidStructureName(t *testing.T) {
	_, err := Parse("Menu Items", menuDoc(), 0)
	assertSchemaIssue(t, err, "structure name")
}

func assertSchemaIssue(t *testing.T, err error, substr string) {
	t.Helper()
	var serr *SchemaError
	if !errors.As(err, &serr) {
		t.Fatalf("expected *SchemaError, got %v", err)
	}
	if !strings.Contains(serr.Error(), substr) {
		t.Errorf("error %q does not mention %q", serr.Error(), substr)
	}
}
