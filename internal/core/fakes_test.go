package core

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"sync"
)

// personType is the record type used across the package tests.
func personType() *TypeDescriptor {
	return &TypeDescriptor{
		Name:     "Person",
		Table:    "person",
		KeyField: "name",
		FieldSpecs: []FieldSpec{
			{Name: "name", Type: FieldText, Required: true},
			{Name: "age", Type: FieldNumeric, Required: true},
			{Name: "active", Type: FieldBool},
			{Name: "born", Type: FieldDate, DateFormat: "2006-01-02"},
			{Name: "tags", Type: FieldStringArray},
			{Name: "friends", Type: FieldReferenceList, RefType: "Person"},
			{Name: "notes", Type: FieldText},
		},
		Views: map[string][]string{
			"public": {"name"},
			"full":   {"name", "age", "active", "born", "tags", "notes"},
		},
	}
}

// personCSV builds a ';'-separated input with a name;age header.
func personCSV(rows ...string) string {
	var b strings.Builder
	b.WriteString("name;age\r\n")
	for _, r := range rows {
		b.WriteString(r)
		b.WriteString("\r\n")
	}
	return b.String()
}

// fakeStore is an in-memory Store. Writes inside a transaction become
// visible only on commit. Commit attempts listed in conflictAt fail with a
// ConflictError and discard the transaction's writes.
type fakeStore struct {
	mu sync.Mutex

	committed []TypedRecord
	keys      map[string]string // key value -> id
	nextID    int

	conflictAt     map[int]bool // 1-based commit attempt numbers
	commitAttempts int
	begins         int
	rollbacks      int

	// writeErr, when set, is consulted for every write.
	writeErr func(rec TypedRecord) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		keys:       make(map[string]string),
		conflictAt: make(map[int]bool),
	}
}

func (s *fakeStore) Begin(ctx context.Context) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.begins++
	return &fakeTx{store: s}, nil
}

func (s *fakeStore) AutoCommit() Writer {
	return autoCommitWriter{store: s}
}

func (s *fakeStore) Records(ctx context.Context, desc *TypeDescriptor) iter.Seq2[TypedRecord, error] {
	return func(yield func(TypedRecord, error) bool) {
		s.mu.Lock()
		recs := append([]TypedRecord(nil), s.committed...)
		s.mu.Unlock()
		for _, rec := range recs {
			if rec.Type != desc.Name {
				continue
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

func (s *fakeStore) Record(ctx context.Context, desc *TypeDescriptor, id string) (TypedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.committed {
		if rec.Type == desc.Name && rec.ID == id {
			return rec, nil
		}
	}
	return TypedRecord{}, ErrNoRecord
}

// names returns the committed records' name values in commit order.
func (s *fakeStore) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.committed))
	for _, rec := range s.committed {
		out = append(out, fmt.Sprint(rec.Values["name"]))
	}
	return out
}

func (s *fakeStore) ref(desc *TypeDescriptor, rec TypedRecord) ObjectRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := fmt.Sprint(rec.Values[desc.KeyField])
	if id, ok := s.keys[key]; ok && desc.KeyField != "" {
		return ObjectRef{Type: desc.Name, ID: id}
	}
	s.nextID++
	return ObjectRef{Type: desc.Name, ID: fmt.Sprintf("p%d", s.nextID), Created: true}
}

func (s *fakeStore) apply(desc *TypeDescriptor, pending []pendingWrite) {
	for _, p := range pending {
		key := fmt.Sprint(p.rec.Values[desc.KeyField])
		if _, ok := s.keys[key]; ok && desc.KeyField != "" {
			continue
		}
		s.keys[key] = p.ref.ID
		p.rec.ID = p.ref.ID
		s.committed = append(s.committed, p.rec)
	}
}

type pendingWrite struct {
	rec TypedRecord
	ref ObjectRef
}

type fakeTx struct {
	store   *fakeStore
	desc    *TypeDescriptor
	pending []pendingWrite
	done    bool
}

func (t *fakeTx) Write(ctx context.Context, desc *TypeDescriptor, rec TypedRecord) (ObjectRef, error) {
	if t.store.writeErr != nil {
		if err := t.store.writeErr(rec); err != nil {
			return ObjectRef{}, err
		}
	}
	t.desc = desc
	ref := t.store.ref(desc, rec)
	t.pending = append(t.pending, pendingWrite{rec: rec, ref: ref})
	return ref, nil
}

func (t *fakeTx) Commit(ctx context.Context) error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	t.done = true
	s.commitAttempts++
	if s.conflictAt[s.commitAttempts] {
		t.pending = nil
		return &ConflictError{Err: fmt.Errorf("serialization failure on commit %d", s.commitAttempts)}
	}
	if t.desc != nil {
		s.apply(t.desc, t.pending)
	}
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.pending = nil
	t.store.mu.Lock()
	t.store.rollbacks++
	t.store.mu.Unlock()
	return nil
}

type autoCommitWriter struct {
	store *fakeStore
}

func (w autoCommitWriter) Write(ctx context.Context, desc *TypeDescriptor, rec TypedRecord) (ObjectRef, error) {
	tx, _ := w.store.Begin(ctx)
	ref, err := tx.Write(ctx, desc, rec)
	if err != nil {
		_ = tx.Rollback(ctx)
		return ObjectRef{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return ObjectRef{}, err
	}
	return ref, nil
}

// eventRecorder is a ProgressSink that keeps every event.
type eventRecorder struct {
	mu     sync.Mutex
	events []ProgressEvent
}

func (r *eventRecorder) Publish(ev ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) subtypes() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Subtype
	}
	return out
}

func (r *eventRecorder) chunks() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		if ev.Subtype == EventChunk {
			out = append(out, fmt.Sprintf("%d/%d", ev.CurrentChunk, ev.TotalChunks))
		}
	}
	return out
}
