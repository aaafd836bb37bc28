package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// loadSchemaDoc reads a schema document from a YAML or JSON file.
// YAML decoding yields map[string]any values compatible with what the
// HTTP layer gets from JSON bodies, so both paths feed the registry the
// same shape.
func loadSchemaDoc(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}

	var doc map[string]any
	switch ext := filepath.Ext(path); ext {
	case ".json":
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		doc = normalizeYAML(doc)
	default:
		return nil, fmt.Errorf("unsupported schema file extension %q (want .json, .yaml or .yml)", ext)
	}
	return doc, nil
}

// normalizeYAML rewrites yaml.v3's map[string]any trees so nested maps
// match the JSON decoder's shape exactly.
func normalizeYAML(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = normalizeYAMLValue(v)
	}
	return out
}

func normalizeYAMLValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return normalizeYAML(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeYAMLValue(item)
		}
		return out
	default:
		return v
	}
}
