package schema

import (
	"fmt"
	"strings"
)

// Issue is one problem found in a schema document, tied to the field path
// that caused it ("" for the root).
type Issue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// SchemaError reports a malformed or unsupported schema document.
// Parse collects every issue it finds before failing.
type SchemaError struct {
	Structure string
	Issues    []Issue
}

func (e *SchemaError) Error() string {
	if len(e.Issues) == 0 {
		return fmt.Sprintf("invalid schema for %q", e.Structure)
	}
	parts := make([]string, len(e.Issues))
	for i, iss := range e.Issues {
		if iss.Field == "" {
			parts[i] = iss.Message
		} else {
			parts[i] = fmt.Sprintf("%s: %s", iss.Field, iss.Message)
		}
	}
	return fmt.Sprintf("invalid schema for %q: %s", e.Structure, strings.Join(parts, "; "))
}

// UnsupportedTypeError reports an unrecognized type token handed to the
// type mapper.
type UnsupportedTypeError struct {
	Token string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported field type %q", e.Token)
}
