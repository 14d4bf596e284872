package permissions

import (
	"fmt"
	"sync"
	"time"
)

// Store holds the in-memory permission record for the one managed chat.
//
// Store only guards its own fields. Callers that need merge, push and verify
// to happen as a unit (the reconciler) hold their own lock around the sequence.
type Store struct {
	mu         sync.RWMutex
	current    Set
	lastSynced time.Time
}

// NewStore seeds the store with initial.
func NewStore(initial Set) *Store {
	return &Store{current: initial}
}

// Get returns the current record.
func (s *Store) Get() Set {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// KeySet returns the canonical keys of the stored record.
func (s *Store) KeySet() KeySet {
	return s.Get().keys
}

// MergeField sets one key and leaves every other key untouched.
func (s *Store) MergeField(k Key, v bool) (Set, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := s.current.With(k, v)
	if err != nil {
		return s.current, err
	}
	s.current = next
	return next, nil
}

// MergeFields sets exactly the supplied keys. Validation happens before any
// change, so an unknown key leaves the record as it was.
func (s *Store) MergeFields(values map[Key]bool) (Set, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current
	for k, v := range values {
		var err error
		if next, err = next.With(k, v); err != nil {
			return s.current, err
		}
	}
	s.current = next
	return next, nil
}

// Replace swaps the whole record. The replacement must be defined over the
// same key set.
func (s *Store) Replace(next Set) (Set, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !next.keys.Equal(s.current.keys) {
		return s.current, fmt.Errorf("replace: key set mismatch (have %s, got %s)", s.current.keys, next.keys)
	}
	s.current = next
	s.lastSynced = time.Now()
	return next, nil
}

// LastSynced is the time of the last successful Replace, zero if none.
func (s *Store) LastSynced() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSynced
}
