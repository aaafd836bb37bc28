package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratahq/strata/internal/notify"
	"github.com/stratahq/strata/internal/record"
	"github.com/stratahq/strata/internal/registry"
	"github.com/stratahq/strata/internal/store"
	"github.com/stratahq/strata/internal/validate"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	reg, err := registry.Open(ctx, st, registry.Options{})
	require.NoError(t, err)

	n := notify.New(16)
	t.Cleanup(n.Close)

	return New(Config{
		Addr:     "127.0.0.1:0",
		Registry: reg,
		Records:  record.New(st, reg, validate.New(reg.MaxDepth()), n),
		Notifier: n,
	})
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "body: %s", w.Body.String())
	return out
}

func menuSchemaBody() map[string]any {
	return map[string]any{
		"name": "menu",
		"schema": map[string]any{
			"type": "object",
			"fields": map[string]any{
				"label":    map[string]any{"type": "string", "required": true},
				"position": map[string]any{"type": "integer"},
				"active":   map[string]any{"type": "boolean", "default": true},
			},
		},
	}
}

func defineMenu(t *testing.T, h http.Handler) {
	t.Helper()
	w := doJSON(t, h, http.MethodPost, "/api/structures/", menuSchemaBody())
	require.Equal(t, http.StatusCreated, w.Code, "body: %s", w.Body.String())
}

func TestHealthz(t *testing.T) {
	h := newTestServer(t).Router()
	w := doJSON(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDefineStructure(t *testing.T) {
	h := newTestServer(t).Router()

	w := doJSON(t, h, http.MethodPost, "/api/structures/", menuSchemaBody())
	require.Equal(t, http.StatusCreated, w.Code, "body: %s", w.Body.String())

	body := decodeBody(t, w)
	assert.Equal(t, "menu", body["name"])
	assert.Equal(t, float64(1), body["version"])

	// Redefining the same name conflicts.
	w = doJSON(t, h, http.MethodPost, "/api/structures/", menuSchemaBody())
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestDefineStructure_InvalidSchema(t *testing.T) {
	h := newTestServer(t).Router()

	w := doJSON(t, h, http.MethodPost, "/api/structures/", map[string]any{
		"name":   "menu",
		"schema": map[string]any{"type": "string"},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, "invalid schema", body["error"])
	assert.NotEmpty(t, body["issues"])
}

func TestGetStructure_NotFound(t *testing.T) {
	h := newTestServer(t).Router()
	w := doJSON(t, h, http.MethodGet, "/api/structures/ghost/", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateStructure_NarrowingConflicts(t *testing.T) {
	h := newTestServer(t).Router()
	defineMenu(t, h)

	w := doJSON(t, h, http.MethodPut, "/api/structures/menu/", map[string]any{
		"name": "menu",
		"schema": map[string]any{
			"type": "object",
			"fields": map[string]any{
				"label":    map[string]any{"type": "string", "required": true},
				"position": map[string]any{"type": "string"},
			},
		},
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestStructureLifecycle(t *testing.T) {
	h := newTestServer(t).Router()
	defineMenu(t, h)

	// Widen: position leaves the schema, its column goes deprecated.
	w := doJSON(t, h, http.MethodPut, "/api/structures/menu/", map[string]any{
		"name": "menu",
		"schema": map[string]any{
			"type": "object",
			"fields": map[string]any{
				"label":  map[string]any{"type": "string", "required": true},
				"active": map[string]any{"type": "boolean", "default": true},
			},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())
	assert.Equal(t, float64(2), decodeBody(t, w)["version"])

	w = doJSON(t, h, http.MethodGet, "/api/structures/menu/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, []any{"position"}, body["deprecated_columns"])

	w = doJSON(t, h, http.MethodPost, "/api/structures/menu/vacuum", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{"position"}, decodeBody(t, w)["dropped_columns"])

	w = doJSON(t, h, http.MethodDelete, "/api/structures/menu/", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, h, http.MethodGet, "/api/structures/menu/", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRecordCRUD(t *testing.T) {
	h := newTestServer(t).Router()
	defineMenu(t, h)

	w := doJSON(t, h, http.MethodPost, "/api/structures/menu/records/", map[string]any{
		"label":    "Home",
		"position": 1,
	})
	require.Equal(t, http.StatusCreated, w.Code, "body: %s", w.Body.String())
	created := decodeBody(t, w)
	assert.Equal(t, float64(1), created["id"])
	doc := created["document"].(map[string]any)
	assert.Equal(t, true, doc["active"])

	w = doJSON(t, h, http.MethodGet, "/api/structures/menu/records/1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, h, http.MethodPatch, "/api/structures/menu/records/1", map[string]any{
		"label": "Start",
	})
	require.Equal(t, http.StatusOK, w.Code)
	doc = decodeBody(t, w)["document"].(map[string]any)
	assert.Equal(t, "Start", doc["label"])

	w = doJSON(t, h, http.MethodDelete, "/api/structures/menu/records/1", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, h, http.MethodGet, "/api/structures/menu/records/1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateRecord_ValidationFailure(t *testing.T) {
	h := newTestServer(t).Router()
	defineMenu(t, h)

	w := doJSON(t, h, http.MethodPost, "/api/structures/menu/records/", map[string]any{
		"position": "first",
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, "validation failed", body["error"])
	violations := body["violations"].([]any)
	assert.Len(t, violations, 2, "missing label and mistyped position")
}

func TestListRecords_FilterQuery(t *testing.T) {
	h := newTestServer(t).Router()
	defineMenu(t, h)

	for i, active := range []bool{true, false, true} {
		w := doJSON(t, h, http.MethodPost, "/api/structures/menu/records/", map[string]any{
			"label":    fmt.Sprintf("Item %d", i),
			"position": i,
			"active":   active,
		})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := doJSON(t, h, http.MethodGet, "/api/structures/menu/records/?filter=active:eq:true&sort=position&order=desc", nil)
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())

	var recs []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &recs))
	require.Len(t, recs, 2)
	assert.Equal(t, float64(3), recs[0]["id"])
	assert.Equal(t, float64(1), recs[1]["id"])

	w = doJSON(t, h, http.MethodGet, "/api/structures/menu/records/?filter=secret:eq:1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, h, http.MethodGet, "/api/structures/menu/records/?filter=oops", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEvents_StreamsMutations(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	defineMenu(t, srv.Router())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/structures/menu/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Give the stream a moment to register its subscription, then mutate.
	time.Sleep(100 * time.Millisecond)
	w := doJSON(t, srv.Router(), http.MethodPost, "/api/structures/menu/records/", map[string]any{
		"label": "Home",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var msg struct {
			Type      string         `json:"type"`
			Structure string         `json:"structure"`
			Data      map[string]any `json:"data"`
		}
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &msg))
		assert.Equal(t, "created", msg.Type)
		assert.Equal(t, "menu", msg.Structure)
		assert.Equal(t, float64(1), msg.Data["record_id"])
		return
	}
}

func TestEvents_UnknownStructure(t *testing.T) {
	h := newTestServer(t).Router()
	w := doJSON(t, h, http.MethodGet, "/api/structures/ghost/events", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
