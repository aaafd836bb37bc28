// Package registry owns structure definitions: their validation, version
// numbering and the per-structure schema locks that serialize physical
// migrations.
//
// Definitions live in the store's structures table and are cached in
// memory; the cache is warmed once at Open and updated under the same
// locks that guard the physical tables, so readers always observe a
// committed version.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/stratahq/strata/internal/schema"
	"github.com/stratahq/strata/internal/store"
)

// DefaultLockTimeout bounds how long a schema operation queues behind
// another one on the same structure before failing with ConcurrencyError.
// Matches the store's sqlite busy_timeout.
const DefaultLockTimeout = 5 * time.Second

// Options configures a Registry.
type Options struct {
	// MaxDepth bounds schema and document nesting. Zero selects
	// schema.DefaultMaxDepth.
	MaxDepth int
	// LockTimeout bounds schema-lock waits. Zero selects
	// DefaultLockTimeout.
	LockTimeout time.Duration
}

// Registry manages structure definitions backed by a Store.
type Registry struct {
	store       *store.Store
	maxDepth    int
	lockTimeout time.Duration

	mu   sync.RWMutex
	defs map[string]*schema.Definition

	lmu   sync.Mutex
	locks map[string]chan struct{}
}

// Open builds a Registry over st and warms the definition cache from the
// structures table.
func Open(ctx context.Context, st *store.Store, opts Options) (*Registry, error) {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = schema.DefaultMaxDepth
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}

	r := &Registry{
		store:       st,
		maxDepth:    opts.MaxDepth,
		lockTimeout: opts.LockTimeout,
		defs:        make(map[string]*schema.Definition),
		locks:       make(map[string]chan struct{}),
	}

	rows, err := st.LoadStructures(ctx)
	if err != nil {
		return nil, fmt.Errorf("load structures: %w", err)
	}
	for _, row := range rows {
		def, err := r.parseRow(row)
		if err != nil {
			return nil, err
		}
		r.defs[row.Name] = def
	}

	return r, nil
}

func (r *Registry) parseRow(row store.StructureRow) (*schema.Definition, error) {
	var doc map[string]any
	if err := json.Unmarshal([]byte(row.SchemaJSON), &doc); err != nil {
		return nil, fmt.Errorf("structure %q: decode stored schema: %w", row.Name, err)
	}
	def, err := schema.Parse(row.Name, doc, r.maxDepth)
	if err != nil {
		return nil, fmt.Errorf("structure %q: stored schema no longer parses: %w", row.Name, err)
	}
	def.Version = row.Version
	def.CreatedAt = row.CreatedAt
	def.UpdatedAt = row.UpdatedAt
	return def, nil
}

// MaxDepth returns the nesting bound shared by schema parsing and record
// validation.
func (r *Registry) MaxDepth() int {
	return r.maxDepth
}

// lock acquires the exclusive schema lock for name, queueing behind a
// current holder up to the lock timeout. Locks for different names are
// independent: schema work on one structure never blocks another.
func (r *Registry) lock(ctx context.Context, name string) (release func(), err error) {
	r.lmu.Lock()
	sem, ok := r.locks[name]
	if !ok {
		sem = make(chan struct{}, 1)
		r.locks[name] = sem
	}
	r.lmu.Unlock()

	timer := time.NewTimer(r.lockTimeout)
	defer timer.Stop()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-timer.C:
		return nil, &ConcurrencyError{Structure: name, Timeout: r.lockTimeout}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Define validates schemaDoc and provisions the structure at version 1,
// creating its physical table atomically with the registry row.
func (r *Registry) Define(ctx context.Context, name string, schemaDoc map[string]any) (*schema.Definition, error) {
	def, err := schema.Parse(name, schemaDoc, r.maxDepth)
	if err != nil {
		return nil, err
	}
	schemaJSON, err := json.Marshal(schemaDoc)
	if err != nil {
		return nil, fmt.Errorf("define %q: encode schema: %w", name, err)
	}

	release, err := r.lock(ctx, name)
	if err != nil {
		return nil, err
	}
	defer release()

	r.mu.RLock()
	_, exists := r.defs[name]
	r.mu.RUnlock()
	if exists {
		return nil, &AlreadyExistsError{Structure: name}
	}

	if err := r.store.CreateStructure(ctx, def, string(schemaJSON)); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.defs[name] = def
	r.mu.Unlock()
	return def, nil
}

// Get returns the active definition for name.
func (r *Registry) Get(name string) (*schema.Definition, error) {
	r.mu.RLock()
	def, ok := r.defs[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &NotFoundError{Structure: name}
	}
	return def, nil
}

// List returns every active definition ordered by name.
func (r *Registry) List() []*schema.Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*schema.Definition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Update validates newSchemaDoc independently, migrates the physical
// table and commits version N+1 atomically with the migration. On any
// failure the registry and table stay at version N.
func (r *Registry) Update(ctx context.Context, name string, newSchemaDoc map[string]any) (*schema.Definition, error) {
	newDef, err := schema.Parse(name, newSchemaDoc, r.maxDepth)
	if err != nil {
		return nil, err
	}
	schemaJSON, err := json.Marshal(newSchemaDoc)
	if err != nil {
		return nil, fmt.Errorf("update %q: encode schema: %w", name, err)
	}

	release, err := r.lock(ctx, name)
	if err != nil {
		return nil, err
	}
	defer release()

	r.mu.RLock()
	cur, ok := r.defs[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &NotFoundError{Structure: name}
	}

	newDef.Version = cur.Version + 1
	newDef.CreatedAt = cur.CreatedAt
	newDef.UpdatedAt = time.Now().UTC()

	if err := r.store.MigrateStructure(ctx, cur, newDef, string(schemaJSON), newDef.Version); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.defs[name] = newDef
	r.mu.Unlock()
	return newDef, nil
}

// Drop removes the definition, its physical table and every record in it.
// Terminal: the name becomes available for a fresh Define.
func (r *Registry) Drop(ctx context.Context, name string) error {
	release, err := r.lock(ctx, name)
	if err != nil {
		return err
	}
	defer release()

	r.mu.RLock()
	_, ok := r.defs[name]
	r.mu.RUnlock()
	if !ok {
		return &NotFoundError{Structure: name}
	}

	if err := r.store.DropStructure(ctx, name); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.defs, name)
	r.mu.Unlock()

	// The name is gone; retire its semaphore so dropped names don't
	// accumulate entries. A fresh Define mints a new one.
	r.lmu.Lock()
	delete(r.locks, name)
	r.lmu.Unlock()
	return nil
}

// Deprecated lists the columns of name's table that the active schema no
// longer declares.
func (r *Registry) Deprecated(ctx context.Context, name string) ([]string, error) {
	def, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return r.store.DeprecatedColumns(ctx, def)
}

// Vacuum physically drops name's deprecated columns. This is the one
// deliberate data-dropping operation; regular migrations only ever add.
func (r *Registry) Vacuum(ctx context.Context, name string) ([]string, error) {
	release, err := r.lock(ctx, name)
	if err != nil {
		return nil, err
	}
	defer release()

	r.mu.RLock()
	def, ok := r.defs[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &NotFoundError{Structure: name}
	}

	return r.store.VacuumStructure(ctx, def)
}
