package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/stratahq/strata/internal/record"
	"github.com/stratahq/strata/internal/registry"
	"github.com/stratahq/strata/internal/schema"
	"github.com/stratahq/strata/internal/store"
	"github.com/stratahq/strata/internal/validate"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps engine errors onto protocol responses. Validation and
// schema errors carry their full structured detail; everything else gets
// a single message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		schemaErr      *schema.SchemaError
		validationErr  *validate.ValidationError
		depthErr       *validate.DepthExceededError
		notFoundStruct *registry.NotFoundError
		notFoundRec    *record.NotFoundError
		existsErr      *registry.AlreadyExistsError
		migrationErr   *store.IncompatibleMigrationError
		concurrencyErr *registry.ConcurrencyError
		filterErr      *record.UnfilterableFieldError
	)

	switch {
	case errors.As(err, &schemaErr):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "invalid schema",
			"issues": schemaErr.Issues,
		})
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":      "validation failed",
			"violations": validationErr.Violations,
		})
	case errors.As(err, &depthErr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error": err.Error(),
		})
	case errors.As(err, &notFoundStruct), errors.As(err, &notFoundRec):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
	case errors.As(err, &existsErr), errors.As(err, &migrationErr):
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error()})
	case errors.As(err, &concurrencyErr):
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error()})
	case errors.As(err, &filterErr):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
	default:
		s.logger.Error("internal error", "method", r.Method, "path", r.URL.Path, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
	}
}
