// Package challenge holds short-lived webauthn challenge state between the
// begin and finish halves of an enrollment or login ceremony. Entries are
// single-use and expire after a TTL.
package challenge

import (
	"sync"
	"time"
)

// DefaultTTL bounds how long a ceremony may take.
const DefaultTTL = 5 * time.Minute

type entry struct {
	state     []byte
	expiresAt time.Time
}

// Store is a process-wide challenge map, safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]entry
}

// New creates a store. A non-positive ttl falls back to DefaultTTL.
func New(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]entry),
	}
}

// Put stores state under id, replacing any previous entry. Expired entries
// are swept opportunistically so abandoned ceremonies do not accumulate.
func (s *Store) Put(id string, state []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, key)
		}
	}
	s.entries[id] = entry{state: state, expiresAt: now.Add(s.ttl)}
}

// Take removes and returns the state for id. A miss means the id is unknown,
// already used, or expired.
func (s *Store) Take(id string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	delete(s.entries, id)
	if s.now().After(e.expiresAt) {
		return nil, false
	}
	return e.state, true
}

// Len reports the number of live entries, counting unexpired ones only.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for _, e := range s.entries {
		if !now.After(e.expiresAt) {
			n++
		}
	}
	return n
}
