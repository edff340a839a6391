package formstate

import (
	"sync"

	"utilitysign/internal/model"
)

// State is the in-memory form state, mutated on every field change
type State struct {
	mu      sync.RWMutex
	form    model.FormData
	version uint64
	synced  chan struct{}
}

// NewState creates an empty form state
func NewState() *State {
	return &State{synced: make(chan struct{}, 1)}
}

// Get returns a copy of the current form
func (s *State) Get() model.FormData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.form
}

// Set replaces the form
func (s *State) Set(form model.FormData) {
	s.mu.Lock()
	s.form = form
	s.version++
	s.mu.Unlock()
}

// Update applies fn to the form
func (s *State) Update(fn func(*model.FormData)) {
	s.mu.Lock()
	fn(&s.form)
	s.version++
	s.mu.Unlock()
}

// Reset discards the form
func (s *State) Reset() {
	s.Set(model.FormData{})
}

// Submit reconciles snapshot with the current form and returns the result. When
// the result differs from memory the state is brought in line on a separate
// goroutine; the caller never waits for that. A field change made in between
// wins over the sync.
func (s *State) Submit(snapshot Snapshot) model.FormData {
	s.mu.RLock()
	mem, version := s.form, s.version
	s.mu.RUnlock()

	reconciled := Reconcile(snapshot, mem)
	if reconciled != mem {
		go s.sync(reconciled, version)
	}
	return reconciled
}

func (s *State) sync(form model.FormData, version uint64) {
	s.mu.Lock()
	if s.version == version {
		s.form = form
		s.version++
	}
	s.mu.Unlock()

	select {
	case s.synced <- struct{}{}:
	default:
	}
}

// Synced signals after a background sync started by Submit has run
func (s *State) Synced() <-chan struct{} {
	return s.synced
}
