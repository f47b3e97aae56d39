// Package dedup suppresses QoS 1 redeliveries by remembering recently seen
// message identities for a TTL.
package dedup

import (
	"sync"
	"time"
)

type Set struct {
	mu        sync.Mutex
	ttl       time.Duration
	cap       int
	seen      map[string]time.Time // id -> expiry
	nextSweep time.Time
}

func New(ttl time.Duration, cap int) *Set {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if cap <= 0 {
		cap = 10000
	}
	return &Set{
		ttl:       ttl,
		cap:       cap,
		seen:      make(map[string]time.Time, cap),
		nextSweep: time.Now().Add(ttl),
	}
}

// FirstSeen records id and reports whether this is its first appearance
// within the TTL. Empty ids are never deduplicated.
//
// When the set is full of live entries, new ids pass unrecorded: suppression
// is an optimization, and letting the odd redelivery through beats dropping
// fresh data.
func (s *Set) FirstSeen(id string) bool {
	if id == "" {
		return true
	}
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	// Expired entries are cleared in bulk at most once per TTL.
	if now.After(s.nextSweep) {
		for k, exp := range s.seen {
			if now.After(exp) {
				delete(s.seen, k)
			}
		}
		s.nextSweep = now.Add(s.ttl)
	}

	exp, ok := s.seen[id]
	if ok && now.Before(exp) {
		return false
	}
	if !ok && len(s.seen) >= s.cap {
		return true
	}
	s.seen[id] = now.Add(s.ttl)
	return true
}

// Len reports the number of tracked ids, expired entries included.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
