package scheduler

import (
	"context"
	"sync"

	"tickforge/pkg/cronerrors"
)

// TriggerStore is the scheduler's contract with the outside world for
// trigger and run persistence. An in-memory implementation is the default;
// external implementations must preserve serialized mutation order.
type TriggerStore interface {
	UpsertTrigger(ctx context.Context, t *Trigger) error
	GetTrigger(ctx context.Context, id string) (*Trigger, error)
	ListTriggers(ctx context.Context) ([]*Trigger, error)
	DeleteTrigger(ctx context.Context, id string) error

	RecordRun(ctx context.Context, r *Run) error
	UpdateRun(ctx context.Context, r *Run) error
}

// InMemoryStore is the default, authoritative TriggerStore. All mutations
// are serialized under a single mutex, matching the store interface's
// requirement to preserve mutation order.
type InMemoryStore struct {
	mu       sync.Mutex
	triggers map[string]*Trigger
	runs     map[string]*Run
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		triggers: make(map[string]*Trigger),
		runs:     make(map[string]*Run),
	}
}

func (s *InMemoryStore) UpsertTrigger(_ context.Context, t *Trigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.triggers[t.ID] = &cp
	return nil
}

func (s *InMemoryStore) GetTrigger(_ context.Context, id string) (*Trigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.triggers[id]
	if !ok {
		return nil, cronerrors.New(cronerrors.ENotFound, "trigger not found: "+id)
	}
	cp := *t
	return &cp, nil
}

func (s *InMemoryStore) ListTriggers(_ context.Context) ([]*Trigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Trigger, 0, len(s.triggers))
	for _, t := range s.triggers {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (s *InMemoryStore) DeleteTrigger(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.triggers[id]; !ok {
		return cronerrors.New(cronerrors.ENotFound, "trigger not found: "+id)
	}
	delete(s.triggers, id)
	return nil
}

func (s *InMemoryStore) RecordRun(_ context.Context, r *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.runs[r.RunID] = &cp
	return nil
}

func (s *InMemoryStore) UpdateRun(_ context.Context, r *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[r.RunID]; !ok {
		return cronerrors.New(cronerrors.ENotFound, "run not found: "+r.RunID)
	}
	cp := *r
	s.runs[r.RunID] = &cp
	return nil
}

// GetRun is a test/admin convenience not required by the TriggerStore
// contract itself.
func (s *InMemoryStore) GetRun(_ context.Context, id string) (*Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, false
	}
	cp := *r
	return &cp, true
}

// MirrorStore wraps an authoritative TriggerStore with a secondary,
// non-authoritative store (e.g. store/postgres.Store). Mirror writes happen
// after the authoritative store accepts the mutation; mirror failures are
// reported through onMirrorError instead of failing the caller.
type MirrorStore struct {
	primary   TriggerStore
	mirror    TriggerStore
	onMirrorError func(op string, err error)
}

// WithMirror layers a non-authoritative mirror store on top of primary.
func WithMirror(primary, mirror TriggerStore, onMirrorError func(op string, err error)) *MirrorStore {
	if onMirrorError == nil {
		onMirrorError = func(string, error) {}
	}
	return &MirrorStore{primary: primary, mirror: mirror, onMirrorError: onMirrorError}
}

func (m *MirrorStore) UpsertTrigger(ctx context.Context, t *Trigger) error {
	if err := m.primary.UpsertTrigger(ctx, t); err != nil {
		return err
	}
	if err := m.mirror.UpsertTrigger(ctx, t); err != nil {
		m.onMirrorError("UpsertTrigger", err)
	}
	return nil
}

func (m *MirrorStore) GetTrigger(ctx context.Context, id string) (*Trigger, error) {
	return m.primary.GetTrigger(ctx, id)
}

func (m *MirrorStore) ListTriggers(ctx context.Context) ([]*Trigger, error) {
	return m.primary.ListTriggers(ctx)
}

func (m *MirrorStore) DeleteTrigger(ctx context.Context, id string) error {
	if err := m.primary.DeleteTrigger(ctx, id); err != nil {
		return err
	}
	if err := m.mirror.DeleteTrigger(ctx, id); err != nil {
		m.onMirrorError("DeleteTrigger", err)
	}
	return nil
}

func (m *MirrorStore) RecordRun(ctx context.Context, r *Run) error {
	if err := m.primary.RecordRun(ctx, r); err != nil {
		return err
	}
	if err := m.mirror.RecordRun(ctx, r); err != nil {
		m.onMirrorError("RecordRun", err)
	}
	return nil
}

func (m *MirrorStore) UpdateRun(ctx context.Context, r *Run) error {
	if err := m.primary.UpdateRun(ctx, r); err != nil {
		return err
	}
	if err := m.mirror.UpdateRun(ctx, r); err != nil {
		m.onMirrorError("UpdateRun", err)
	}
	return nil
}
