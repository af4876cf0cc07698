package memory

import (
	"sync"

	billing "civicsync/internal/billing/domain"
)

// Store holds bill snapshots and per-account fetch state. All
// mutations go through single-writer methods keyed by account id, so
// concurrent fetches for different accounts never race on the same
// key. Generations let callers detect that an account was evicted
// while their fetch was outstanding.
type Store struct {
	mu         sync.RWMutex
	snapshots  map[string]billing.Snapshot
	inflight   map[string]struct{}
	generation map[string]uint64
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		snapshots:  make(map[string]billing.Snapshot),
		inflight:   make(map[string]struct{}),
		generation: make(map[string]uint64),
	}
}

// Get returns the snapshot for an account id.
func (s *Store) Get(accountID string) (billing.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[accountID]
	return snap, ok
}

// All returns a copy of every snapshot keyed by account id.
func (s *Store) All() map[string]billing.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]billing.Snapshot, len(s.snapshots))
	for id, snap := range s.snapshots {
		out[id] = snap
	}
	return out
}

// Put stores a snapshot unconditionally.
func (s *Store) Put(accountID string, snap billing.Snapshot) {
	s.mu.Lock()
	s.snapshots[accountID] = snap
	s.mu.Unlock()
}

// PutIfCurrent stores a snapshot only when the account's generation
// still matches the one observed when the fetch started. A false
// return means the account was evicted mid-fetch and the late result
// must be discarded.
func (s *Store) PutIfCurrent(accountID string, generation uint64, snap billing.Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation[accountID] != generation {
		return false
	}
	s.snapshots[accountID] = snap
	return true
}

// Generation returns the current generation for an account id.
func (s *Store) Generation(accountID string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation[accountID]
}

// Evict removes the snapshot and in-flight flag for an account and
// bumps its generation so outstanding fetches discard their results.
func (s *Store) Evict(accountID string) {
	s.mu.Lock()
	delete(s.snapshots, accountID)
	delete(s.inflight, accountID)
	s.generation[accountID]++
	s.mu.Unlock()
}

// Seed loads snapshots wholesale, used to restore a cached layout
// before the first sync.
func (s *Store) Seed(snapshots map[string]billing.Snapshot) {
	s.mu.Lock()
	for id, snap := range snapshots {
		s.snapshots[id] = snap
	}
	s.mu.Unlock()
}

// SetInFlight toggles the fetch-in-progress flag for an account.
func (s *Store) SetInFlight(accountID string, inflight bool) {
	s.mu.Lock()
	if inflight {
		s.inflight[accountID] = struct{}{}
	} else {
		delete(s.inflight, accountID)
	}
	s.mu.Unlock()
}

// InFlight reports whether a fetch for the account is outstanding.
func (s *Store) InFlight(accountID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.inflight[accountID]
	return ok
}

// InFlightIDs returns the ids of all outstanding fetches.
func (s *Store) InFlightIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.inflight))
	for id := range s.inflight {
		ids = append(ids, id)
	}
	return ids
}

// AnyInFlight reports whether any fetch is outstanding.
func (s *Store) AnyInFlight() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.inflight) > 0
}
