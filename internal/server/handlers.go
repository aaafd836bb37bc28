package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stratahq/strata/internal/record"
	"github.com/stratahq/strata/internal/schema"
)

// structureView is the wire form of a definition.
type structureView struct {
	Name       string         `json:"name"`
	Version    int            `json:"version"`
	Schema     map[string]any `json:"schema"`
	Deprecated []string       `json:"deprecated_columns,omitempty"`
	CreatedAt  string         `json:"created_at"`
	UpdatedAt  string         `json:"updated_at"`
}

func viewOf(def *schema.Definition, deprecated []string) structureView {
	return structureView{
		Name:       def.Name,
		Version:    def.Version,
		Schema:     def.Doc,
		Deprecated: deprecated,
		CreatedAt:  def.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:  def.UpdatedAt.Format(time.RFC3339Nano),
	}
}

type defineRequest struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
}

func (s *Server) handleListStructures(w http.ResponseWriter, r *http.Request) {
	defs := s.registry.List()
	out := make([]structureView, len(defs))
	for i, def := range defs {
		out[i] = viewOf(def, nil)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDefineStructure(w http.ResponseWriter, r *http.Request) {
	var req defineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return
	}
	def, err := s.registry.Define(r.Context(), req.Name, req.Schema)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("structure defined", "name", def.Name)
	writeJSON(w, http.StatusCreated, viewOf(def, nil))
}

func (s *Server) handleGetStructure(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	def, err := s.registry.Get(name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	deprecated, err := s.registry.Deprecated(r.Context(), name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(def, deprecated))
}

func (s *Server) handleUpdateStructure(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req defineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return
	}
	def, err := s.registry.Update(r.Context(), name, req.Schema)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("structure updated", "name", name, "version", def.Version)
	writeJSON(w, http.StatusOK, viewOf(def, nil))
}

func (s *Server) handleDropStructure(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.registry.Drop(r.Context(), name); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("structure dropped", "name", name)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleVacuumStructure(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	dropped, err := s.registry.Vacuum(r.Context(), name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if dropped == nil {
		dropped = []string{}
	}
	s.logger.Info("structure vacuumed", "name", name, "dropped", dropped)
	writeJSON(w, http.StatusOK, map[string]any{"dropped_columns": dropped})
}

func (s *Server) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var doc map[string]any
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return
	}
	rec, err := s.records.Create(r.Context(), name, doc)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	rec, err := s.records.Get(r.Context(), name, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var partial map[string]any
	if err := json.NewDecoder(r.Body).Decode(&partial); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return
	}
	rec, err := s.records.Update(r.Context(), name, id, partial)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := s.records.Delete(r.Context(), name, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	opts, err := parseListOptions(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	recs, err := s.records.List(r.Context(), name, opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "record id must be an integer"})
		return 0, false
	}
	return id, true
}

// parseListOptions reads pagination, sorting and filters from the query
// string. Filters use filter=field:op:value, repeatable; values are
// decoded as bool, number or string in that order.
func parseListOptions(r *http.Request) (record.ListOptions, error) {
	q := r.URL.Query()
	var opts record.ListOptions

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, errBadParam("limit")
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, errBadParam("offset")
		}
		opts.Offset = n
	}
	opts.SortField = q.Get("sort")
	opts.SortOrder = q.Get("order")

	for _, raw := range q["filter"] {
		parts := strings.SplitN(raw, ":", 3)
		if len(parts) != 3 {
			return opts, errBadParam("filter")
		}
		opts.Filters = append(opts.Filters, record.Filter{
			Field: parts[0],
			Op:    record.Op(parts[1]),
			Value: decodeFilterValue(parts[2]),
		})
	}
	return opts, nil
}

func decodeFilterValue(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

type paramError string

func errBadParam(name string) error { return paramError(name) }

func (e paramError) Error() string { return "invalid query parameter " + string(e) }
