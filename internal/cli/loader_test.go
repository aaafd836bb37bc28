package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadSchemaDoc_JSON(t *testing.T) {
	path := writeFile(t, "menu.json", `{
		"type": "object",
		"fields": {
			"label": {"type": "string", "required": true}
		}
	}`)

	doc, err := loadSchemaDoc(path)
	require.NoError(t, err)
	assert.Equal(t, "object", doc["type"])
	fields := doc["fields"].(map[string]any)
	label := fields["label"].(map[string]any)
	assert.Equal(t, true, label["required"])
}

func TestLoadSchemaDoc_YAML(t *testing.T) {
	path := writeFile(t, "menu.yaml", `
type: object
fields:
  label:
    type: string
    required: true
  position:
    type: integer
    minimum: 0
`)

	doc, err := loadSchemaDoc(path)
	require.NoError(t, err)

	fields, ok := doc["fields"].(map[string]any)
	require.True(t, ok, "nested maps must decode as map[string]any")
	position, ok := fields["position"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "integer", position["type"])
}

func TestLoadSchemaDoc_UnsupportedExtension(t *testing.T) {
	path := writeFile(t, "menu.toml", "type = 'object'")
	_, err := loadSchemaDoc(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported schema file extension")
}

func TestLoadSchemaDoc_Missing(t *testing.T) {
	_, err := loadSchemaDoc(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
}
