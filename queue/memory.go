package queue

import (
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps queue entries in memory for tests and database-free
// runs.
type MemoryStore struct {
	mu      sync.Mutex
	nextID  uint
	entries []Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1}
}

func (s *MemoryStore) Add(e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = s.nextID
	s.nextID++
	s.entries = append(s.entries, *e)
	return nil
}

func (s *MemoryStore) ClaimDue(now time.Time, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*Entry
	for i := range s.entries {
		e := &s.entries[i]
		if e.Status == StatusPending && !e.ScheduledAt.After(now) {
			due = append(due, e)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority < due[j].Priority
		}
		return due[i].ScheduledAt.Before(due[j].ScheduledAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]Entry, 0, len(due))
	for _, e := range due {
		e.Status = StatusProcessing
		claimed = append(claimed, *e)
	}
	return claimed, nil
}

func (s *MemoryStore) Update(e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		if s.entries[i].ID == e.ID {
			s.entries[i] = *e
			return nil
		}
	}
	return nil
}

func (s *MemoryStore) PendingCount() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if e.Status == StatusPending {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) DeleteTerminalBefore(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.entries[:0]
	removed := 0
	for _, e := range s.entries {
		if terminal(e.Status) && e.UpdatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return removed, nil
}

// Get returns a copy of an entry for test assertions.
func (s *MemoryStore) Get(id uint) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}
