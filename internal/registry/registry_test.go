package registry

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratahq/strata/internal/schema"
	"github.com/stratahq/strata/internal/store"
)

func newTestRegistry(t *testing.T, opts Options) (*store.Store, *Registry) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	r, err := Open(context.Background(), st, opts)
	require.NoError(t, err)
	return st, r
}

func menuSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"fields": map[string]any{
			"label":    map[string]any{"type": "string", "required": true},
			"position": map[string]any{"type": "integer"},
		},
	}
}

func TestDefineAndGet(t *testing.T) {
	ctx := context.Background()
	_, r := newTestRegistry(t, Options{})

	def, err := r.Define(ctx, "menu", menuSchema())
	require.NoError(t, err)
	assert.Equal(t, 1, def.Version)

	got, err := r.Get("menu")
	require.NoError(t, err)
	assert.Equal(t, "menu", got.Name)
	assert.Equal(t, 1, got.Version)

	_, err = r.Get("nope")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "nope", nf.Structure)
}

func TestDefine_Duplicate(t *testing.T) {
	ctx := context.Background()
	_, r := newTestRegistry(t, Options{})

	_, err := r.Define(ctx, "menu", menuSchema())
	require.NoError(t, err)

	_, err = r.Define(ctx, "menu", menuSchema())
	var ae *AlreadyExistsError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "menu", ae.Structure)
}

func TestDefine_InvalidSchema(t *testing.T) {
	ctx := context.Background()
	_, r := newTestRegistry(t, Options{})

	_, err := r.Define(ctx, "menu", map[string]any{"type": "string"})
	var serr *schema.SchemaError
	require.ErrorAs(t, err, &serr)

	// Nothing was provisioned.
	_, err = r.Get("menu")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestUpdate_BumpsVersion(t *testing.T) {
	ctx := context.Background()
	_, r := newTestRegistry(t, Options{})

	_, err := r.Define(ctx, "menu", menuSchema())
	require.NoError(t, err)

	doc := menuSchema()
	doc["fields"].(map[string]any)["url"] = map[string]any{"type": "string"}

	def, err := r.Update(ctx, "menu", doc)
	require.NoError(t, err)
	assert.Equal(t, 2, def.Version)

	got, err := r.Get("menu")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)
	assert.NotNil(t, got.Field("url"))
}

func TestUpdate_IncompatibleLeavesVersionIntact(t *testing.T) {
	ctx := context.Background()
	_, r := newTestRegistry(t, Options{})

	doc := map[string]any{
		"type": "object",
		"fields": map[string]any{
			"position": map[string]any{"type": "number"},
		},
	}
	_, err := r.Define(ctx, "menu", doc)
	require.NoError(t, err)

	narrowed := map[string]any{
		"type": "object",
		"fields": map[string]any{
			"position": map[string]any{"type": "integer"},
		},
	}
	_, err = r.Update(ctx, "menu", narrowed)
	var ime *store.IncompatibleMigrationError
	require.ErrorAs(t, err, &ime)

	got, err := r.Get("menu")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Version)
	assert.Equal(t, schema.TypeNumber, got.Field("position").Type)
}

func TestList_SortedByName(t *testing.T) {
	ctx := context.Background()
	_, r := newTestRegistry(t, Options{})

	for _, name := range []string{"zebra", "article", "menu"} {
		_, err := r.Define(ctx, name, menuSchema())
		require.NoError(t, err)
	}

	defs := r.List()
	require.Len(t, defs, 3)
	assert.Equal(t, "article", defs[0].Name)
	assert.Equal(t, "menu", defs[1].Name)
	assert.Equal(t, "zebra", defs[2].Name)
}

func TestDrop(t *testing.T) {
	ctx := context.Background()
	_, r := newTestRegistry(t, Options{})

	_, err := r.Define(ctx, "menu", menuSchema())
	require.NoError(t, err)

	require.NoError(t, r.Drop(ctx, "menu"))

	_, err = r.Get("menu")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)

	// The name is reusable after a drop.
	def, err := r.Define(ctx, "menu", menuSchema())
	require.NoError(t, err)
	assert.Equal(t, 1, def.Version)

	err = r.Drop(ctx, "never")
	require.ErrorAs(t, err, &nf)
}

func TestDrop_RetiresLockEntry(t *testing.T) {
	ctx := context.Background()
	_, r := newTestRegistry(t, Options{})

	_, err := r.Define(ctx, "menu", menuSchema())
	require.NoError(t, err)

	r.lmu.Lock()
	_, held := r.locks["menu"]
	r.lmu.Unlock()
	require.True(t, held)

	require.NoError(t, r.Drop(ctx, "menu"))

	r.lmu.Lock()
	_, held = r.locks["menu"]
	r.lmu.Unlock()
	assert.False(t, held, "dropped names must not keep a semaphore entry")
}

func TestOpen_WarmsCacheFromStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	st, err := store.Open(path)
	require.NoError(t, err)
	r, err := Open(ctx, st, Options{})
	require.NoError(t, err)
	_, err = r.Define(ctx, "menu", menuSchema())
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st2, err := store.Open(path)
	require.NoError(t, err)
	defer st2.Close()
	r2, err := Open(ctx, st2, Options{})
	require.NoError(t, err)

	def, err := r2.Get("menu")
	require.NoError(t, err)
	assert.Equal(t, 1, def.Version)
	assert.NotNil(t, def.Field("label"))
}

func TestDeprecatedAndVacuum(t *testing.T) {
	ctx := context.Background()
	_, r := newTestRegistry(t, Options{})

	_, err := r.Define(ctx, "menu", menuSchema())
	require.NoError(t, err)

	// Drop "position" from the schema; its column becomes deprecated.
	doc := map[string]any{
		"type": "object",
		"fields": map[string]any{
			"label": map[string]any{"type": "string", "required": true},
		},
	}
	_, err = r.Update(ctx, "menu", doc)
	require.NoError(t, err)

	dep, err := r.Deprecated(ctx, "menu")
	require.NoError(t, err)
	assert.Equal(t, []string{"position"}, dep)

	dropped, err := r.Vacuum(ctx, "menu")
	require.NoError(t, err)
	assert.Equal(t, []string{"position"}, dropped)

	dep, err = r.Deprecated(ctx, "menu")
	require.NoError(t, err)
	assert.Empty(t, dep)
}

func TestConcurrentUpdates_Serialized(t *testing.T) {
	ctx := context.Background()
	_, r := newTestRegistry(t, Options{})

	_, err := r.Define(ctx, "menu", menuSchema())
	require.NoError(t, err)

	// Divergent concurrent updates. The schema lock serializes them: each
	// attempt either commits a full version or fails cleanly, never a mix.
	docA := menuSchema()
	docA["fields"].(map[string]any)["alpha"] = map[string]any{"type": "string"}
	docB := menuSchema()
	docB["fields"].(map[string]any)["beta"] = map[string]any{"type": "integer"}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, doc := range []map[string]any{docA, docB} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = r.Update(ctx, "menu", doc)
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			var ce *ConcurrencyError
			require.ErrorAs(t, err, &ce)
		}
	}
	require.GreaterOrEqual(t, succeeded, 1)

	got, err := r.Get("menu")
	require.NoError(t, err)
	assert.Equal(t, 1+succeeded, got.Version)
}

func TestLockTimeout_ConcurrencyError(t *testing.T) {
	ctx := context.Background()
	_, r := newTestRegistry(t, Options{LockTimeout: 50 * time.Millisecond})

	_, err := r.Define(ctx, "menu", menuSchema())
	require.NoError(t, err)

	// Hold the schema lock directly, then watch an update queue and
	// time out.
	release, err := r.lock(ctx, "menu")
	require.NoError(t, err)
	defer release()

	_, err = r.Update(ctx, "menu", menuSchema())
	var ce *ConcurrencyError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "menu", ce.Structure)
	assert.Equal(t, 50*time.Millisecond, ce.Timeout)
}

func TestLocks_IndependentAcrossStructures(t *testing.T) {
	ctx := context.Background()
	_, r := newTestRegistry(t, Options{LockTimeout: 50 * time.Millisecond})

	_, err := r.Define(ctx, "menu", menuSchema())
	require.NoError(t, err)

	release, err := r.lock(ctx, "menu")
	require.NoError(t, err)
	defer release()

	// Schema work on a different name proceeds while menu is locked.
	_, err = r.Define(ctx, "article", menuSchema())
	require.NoError(t, err)
}
