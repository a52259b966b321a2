package logstore

import (
	"sync"
	"time"
)

// MemoryStore keeps entries in memory. It backs tests and single process
// deployments that run without a database.
type MemoryStore struct {
	mu      sync.Mutex
	nextID  uint
	entries []Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1}
}

func (s *MemoryStore) Insert(e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = s.nextID
	s.nextID++
	s.entries = append(s.entries, *e)
	return nil
}

func (s *MemoryStore) SentSince(since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if e.Status == StatusSent && !e.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) FindByMessageID(messageID string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].MessageID == messageID {
			e := s.entries[i]
			return &e, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) StatsBetween(from, to time.Time) (DayStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stats DayStats
	for _, e := range s.entries {
		if e.CreatedAt.Before(from) || !e.CreatedAt.Before(to) {
			continue
		}
		switch e.Status {
		case StatusSent:
			stats.Sent++
		case StatusFailed:
			stats.Failed++
		case StatusBlocked:
			stats.Blocked++
		}
	}
	return stats, nil
}

func (s *MemoryStore) DeleteBefore(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.entries[:0]
	removed := 0
	for _, e := range s.entries {
		if e.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return removed, nil
}
