// Package record implements typed CRUD over structure instances.
//
// Every write validates the candidate document against the structure's
// active schema, re-derives the scalar projection columns from the
// document and serializes the full document as the authoritative copy.
// Committed mutations are published to the change notifier; the commit
// itself never waits on subscribers.
//
// Mutations of one structure are serialized: each holds the structure's
// mutation lock across its commit and its event publication, so
// subscribers see events in commit order.
package record

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/stratahq/strata/internal/notify"
	"github.com/stratahq/strata/internal/registry"
	"github.com/stratahq/strata/internal/schema"
	"github.com/stratahq/strata/internal/store"
	"github.com/stratahq/strata/internal/validate"
)

// Record is one persisted structure instance.
type Record struct {
	ID        int64          `json:"id"`
	ParentID  *int64         `json:"parent_id"`
	Document  map[string]any `json:"document"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Store is the record store for all structures.
type Store struct {
	db        *store.Store
	registry  *registry.Registry
	validator *validate.Validator
	notifier  *notify.Notifier

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New wires a record store over its collaborators.
func New(db *store.Store, reg *registry.Registry, val *validate.Validator, n *notify.Notifier) *Store {
	return &Store{
		db:        db,
		registry:  reg,
		validator: val,
		notifier:  n,
		locks:     make(map[string]*sync.Mutex),
	}
}

// mutationLock returns the lock serializing structure's mutations.
// Held across commit and publish so event order matches commit order.
func (s *Store) mutationLock(structure string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[structure]
	if !ok {
		l = &sync.Mutex{}
		s.locks[structure] = l
	}
	return l
}

// rowQueryer lets lookups run against the pool or an open transaction.
type rowQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Create validates document, persists it and emits a created event.
// An explicit "parent_id" key in the document links the new record under
// an existing record of the same structure.
func (s *Store) Create(ctx context.Context, structure string, document map[string]any) (*Record, error) {
	def, err := s.registry.Get(structure)
	if err != nil {
		return nil, err
	}

	doc, parentID, err := splitParent(def, document)
	if err != nil {
		return nil, err
	}

	normalized, err := s.validator.Validate(def, doc)
	if err != nil {
		return nil, err
	}
	if parentID != nil {
		if err := s.checkParent(ctx, s.db.DB(), def, *parentID, 0); err != nil {
			return nil, err
		}
	}

	docJSON, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("create in %q: encode document: %w", structure, err)
	}

	cols := []string{"parent_id", "document", "created_at", "updated_at"}
	now := time.Now().UTC()
	nowStr := now.Format(time.RFC3339Nano)
	args := []any{parentValue(parentID), string(docJSON), nowStr, nowStr}
	projCols, projArgs := projection(def, normalized)
	cols = append(cols, projCols...)
	args = append(args, projArgs...)

	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		store.TableName(structure),
		strings.Join(cols, ", "),
		placeholders(len(cols)))

	lock := s.mutationLock(structure)
	lock.Lock()
	defer lock.Unlock()

	var id int64
	err = s.withBusyRetry(func() error {
		res, err := s.db.DB().ExecContext(ctx, insert, args...)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create in %q: %w", structure, err)
	}

	rec := &Record{ID: id, ParentID: parentID, Document: normalized, CreatedAt: now, UpdatedAt: now}
	s.notifier.Publish(notify.Event{
		Structure: structure,
		Kind:      notify.KindCreated,
		RecordID:  id,
		Payload:   payload(rec),
		Timestamp: now,
	})
	return rec, nil
}

// Get returns one record by id.
func (s *Store) Get(ctx context.Context, structure string, id int64) (*Record, error) {
	if _, err := s.registry.Get(structure); err != nil {
		return nil, err
	}
	return getRow(ctx, s.db.DB(), structure, id)
}

func getRow(ctx context.Context, q rowQueryer, structure string, id int64) (*Record, error) {
	row := q.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT id, parent_id, document, created_at, updated_at FROM %s WHERE id = ?",
		store.TableName(structure)), id)

	rec, err := scanRecord(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Structure: structure, ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get %d from %q: %w", id, structure, err)
	}
	return rec, nil
}

// Update merges partial into the existing document at the top level only
// (nested objects and arrays are replaced wholesale), re-validates the
// result, re-derives the projection and emits an updated event.
//
// A "parent_id" key in partial re-parents the record; null detaches it.
// A null for any other key removes that key before validation.
//
// Read, merge and write run in one transaction, so a concurrent update
// or delete can never interleave between them.
func (s *Store) Update(ctx context.Context, structure string, id int64, partial map[string]any) (*Record, error) {
	def, err := s.registry.Get(structure)
	if err != nil {
		return nil, err
	}

	lock := s.mutationLock(structure)
	lock.Lock()
	defer lock.Unlock()

	var rec *Record
	err = s.withBusyRetry(func() error {
		tx, err := s.db.DB().BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		existing, err := getRow(ctx, tx, structure, id)
		if err != nil {
			return err
		}

		merged := make(map[string]any, len(existing.Document)+len(partial))
		for k, v := range existing.Document {
			merged[k] = v
		}
		newParent := existing.ParentID
		for k, v := range partial {
			if k == "parent_id" {
				p, err := parseParent(def, v)
				if err != nil {
					return err
				}
				newParent = p
				continue
			}
			if v == nil {
				delete(merged, k)
				continue
			}
			merged[k] = v
		}

		normalized, err := s.validator.Validate(def, merged)
		if err != nil {
			return err
		}
		if newParent != nil && (existing.ParentID == nil || *newParent != *existing.ParentID) {
			if err := s.checkParent(ctx, tx, def, *newParent, id); err != nil {
				return err
			}
		}

		docJSON, err := json.Marshal(normalized)
		if err != nil {
			return fmt.Errorf("encode document: %w", err)
		}

		now := time.Now().UTC()
		sets := []string{"parent_id = ?", "document = ?", "updated_at = ?"}
		args := []any{parentValue(newParent), string(docJSON), now.Format(time.RFC3339Nano)}
		projCols, projArgs := projection(def, normalized)
		for i, col := range projCols {
			sets = append(sets, col+" = ?")
			args = append(args, projArgs[i])
		}
		args = append(args, id)

		update := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?",
			store.TableName(structure), strings.Join(sets, ", "))

		res, err := tx.ExecContext(ctx, update, args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return &NotFoundError{Structure: structure, ID: id}
		}

		rec = &Record{ID: id, ParentID: newParent, Document: normalized, CreatedAt: existing.CreatedAt, UpdatedAt: now}
		return tx.Commit()
	})
	if err != nil {
		if isEngineError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("update %d in %q: %w", id, structure, err)
	}

	s.notifier.Publish(notify.Event{
		Structure: structure,
		Kind:      notify.KindUpdated,
		RecordID:  id,
		Payload:   payload(rec),
		Timestamp: rec.UpdatedAt,
	})
	return rec, nil
}

// Delete removes the record and, transitively, every descendant linked
// through parent_id. Descendants go first (post-order), one deleted
// event per removed id in that order, so subscribers never observe a
// dangling child.
func (s *Store) Delete(ctx context.Context, structure string, id int64) error {
	def, err := s.registry.Get(structure)
	if err != nil {
		return err
	}

	lock := s.mutationLock(structure)
	lock.Lock()
	defer lock.Unlock()

	ids, err := s.collectSubtree(ctx, def, id)
	if err != nil {
		return fmt.Errorf("delete %d from %q: %w", id, structure, err)
	}
	if len(ids) == 0 {
		return &NotFoundError{Structure: structure, ID: id}
	}

	err = s.withBusyRetry(func() error {
		tx, err := s.db.DB().BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		// Child-first order satisfies the self-referential foreign key.
		del := fmt.Sprintf("DELETE FROM %s WHERE id = ?", store.TableName(structure))
		for _, rid := range ids {
			if _, err := tx.ExecContext(ctx, del, rid); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("delete %d from %q: %w", id, structure, err)
	}

	now := time.Now().UTC()
	for _, rid := range ids {
		s.notifier.Publish(notify.Event{
			Structure: structure,
			Kind:      notify.KindDeleted,
			RecordID:  rid,
			Timestamp: now,
		})
	}
	return nil
}

// collectSubtree returns the ids of id's subtree in deletion order:
// deepest descendants first, the record itself last. Empty when id does
// not exist.
func (s *Store) collectSubtree(ctx context.Context, def *schema.Definition, id int64) ([]int64, error) {
	query := fmt.Sprintf(`
		WITH RECURSIVE subtree(id, depth) AS (
			SELECT id, 0 FROM %[1]s WHERE id = ?
			UNION ALL
			SELECT c.id, t.depth + 1 FROM %[1]s c JOIN subtree t ON c.parent_id = t.id
		)
		SELECT id FROM subtree ORDER BY depth DESC, id ASC
	`, store.TableName(def.Name))

	rows, err := s.db.Query(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var rid int64
		if err := rows.Scan(&rid); err != nil {
			return nil, err
		}
		ids = append(ids, rid)
	}
	return ids, rows.Err()
}

// List returns records matching opts. See ListOptions.
func (s *Store) List(ctx context.Context, structure string, opts ListOptions) ([]Record, error) {
	out := []Record{}
	for rec, err := range s.Stream(ctx, structure, opts) {
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Stream is List as a lazy sequence. Breaking out of the range early
// releases the underlying rows; the sequence also stops on context
// cancellation.
func (s *Store) Stream(ctx context.Context, structure string, opts ListOptions) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		def, err := s.registry.Get(structure)
		if err != nil {
			yield(Record{}, err)
			return
		}
		query, args, err := buildListQuery(def, opts)
		if err != nil {
			yield(Record{}, err)
			return
		}

		rows, err := s.db.Query(ctx, query, args...)
		if err != nil {
			yield(Record{}, fmt.Errorf("list %q: %w", structure, err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			if ctx.Err() != nil {
				yield(Record{}, ctx.Err())
				return
			}
			rec, err := scanRecord(rows.Scan)
			if err != nil {
				yield(Record{}, fmt.Errorf("list %q: %w", structure, err))
				return
			}
			if !yield(*rec, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(Record{}, fmt.Errorf("list %q: %w", structure, err))
		}
	}
}

// checkParent verifies that parentID exists in the same structure and,
// when re-parenting self (self != 0), that the new link closes no cycle.
func (s *Store) checkParent(ctx context.Context, q rowQueryer, def *schema.Definition, parentID, self int64) error {
	table := store.TableName(def.Name)
	current := parentID
	for {
		if self != 0 && current == self {
			return &validate.ValidationError{Structure: def.Name, Violations: []validate.Violation{{
				Field: "parent_id", Rule: "cycle",
				Message: fmt.Sprintf("linking under %d would create a cycle", parentID),
			}}}
		}
		var next sql.NullInt64
		err := q.QueryRowContext(ctx,
			fmt.Sprintf("SELECT parent_id FROM %s WHERE id = ?", table), current).Scan(&next)
		if errors.Is(err, sql.ErrNoRows) {
			if current == parentID {
				return &validate.ValidationError{Structure: def.Name, Violations: []validate.Violation{{
					Field: "parent_id", Rule: "reference",
					Message: fmt.Sprintf("parent %d does not exist", parentID),
				}}}
			}
			// Ancestor vanished mid-walk; the link target itself exists.
			return nil
		}
		if err != nil {
			return fmt.Errorf("check parent %d: %w", parentID, err)
		}
		if !next.Valid {
			return nil
		}
		current = next.Int64
	}
}

// splitParent separates an explicit parent link from the document body.
func splitParent(def *schema.Definition, document map[string]any) (map[string]any, *int64, error) {
	doc := make(map[string]any, len(document))
	var parentID *int64
	for k, v := range document {
		if k == "parent_id" {
			p, err := parseParent(def, v)
			if err != nil {
				return nil, nil, err
			}
			parentID = p
			continue
		}
		doc[k] = v
	}
	return doc, parentID, nil
}

func parseParent(def *schema.Definition, v any) (*int64, error) {
	if v == nil {
		return nil, nil
	}
	switch n := v.(type) {
	case int:
		id := int64(n)
		return &id, nil
	case int64:
		return &n, nil
	case float64:
		if n == float64(int64(n)) {
			id := int64(n)
			return &id, nil
		}
	}
	return nil, &validate.ValidationError{Structure: def.Name, Violations: []validate.Violation{{
		Field: "parent_id", Rule: "type",
		Message: fmt.Sprintf("expected record id, got %v", v),
	}}}
}

func parentValue(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

// projection derives the scalar column values from a normalized document.
// Absent fields project as NULL.
func projection(def *schema.Definition, doc map[string]any) (cols []string, args []any) {
	for _, leaf := range def.ScalarLeaves() {
		cols = append(cols, leaf.Name)
		v, ok := doc[leaf.Name]
		if !ok {
			args = append(args, nil)
			continue
		}
		args = append(args, bindValue(v))
	}
	return cols, args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

type scanFunc func(dest ...any) error

func scanRecord(scan scanFunc) (*Record, error) {
	var (
		rec     Record
		parent  sql.NullInt64
		docJSON string
		created string
		updated string
	)
	if err := scan(&rec.ID, &parent, &docJSON, &created, &updated); err != nil {
		return nil, err
	}
	if parent.Valid {
		rec.ParentID = &parent.Int64
	}
	if err := json.Unmarshal([]byte(docJSON), &rec.Document); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return &rec, nil
}

func payload(rec *Record) map[string]any {
	p := map[string]any{
		"id":       rec.ID,
		"document": rec.Document,
	}
	if rec.ParentID != nil {
		p["parent_id"] = *rec.ParentID
	}
	return p
}

// isEngineError reports whether err is one of the typed results the
// caller matches on; those pass through without an extra wrap.
func isEngineError(err error) bool {
	var (
		nf *NotFoundError
		ve *validate.ValidationError
		de *validate.DepthExceededError
	)
	return errors.As(err, &nf) || errors.As(err, &ve) || errors.As(err, &de)
}

// withBusyRetry retries fn once when SQLite reports lock contention.
// One retry absorbs transient writer collisions; persistent contention
// still surfaces to the caller.
func (s *Store) withBusyRetry(fn func() error) error {
	err := fn()
	if err == nil || !isBusy(err) {
		return err
	}
	time.Sleep(10 * time.Millisecond)
	return fn()
}

func isBusy(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrBusy || serr.Code == sqlite3.ErrLocked
	}
	return false
}
