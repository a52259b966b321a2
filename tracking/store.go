package tracking

import (
	"sync"
	"time"
)

// Event types.
const (
	TypeSent   = "sent"
	TypeOpen   = "open"
	TypeClick  = "click"
	TypeBounce = "bounce"
)

// Event is one append-only tracking record. Open events carry a count that
// grows with repeat opens of the same message by the same address.
type Event struct {
	ID        uint   `gorm:"primaryKey"`
	MessageID string `gorm:"size:255;index"`
	Email     string `gorm:"size:255;index"`
	Type      string `gorm:"size:16;index"`
	URL       string `gorm:"type:text"`
	Payload   string `gorm:"type:text"`
	Count     int
	IP        string `gorm:"size:45"`
	UserAgent string `gorm:"size:512"`
	CreatedAt time.Time
}

// Bounce is the dedicated ledger row written when a bounce can be tied back
// to a recipient.
type Bounce struct {
	ID        uint   `gorm:"primaryKey"`
	Email     string `gorm:"size:255;index"`
	Reason    string `gorm:"type:text"`
	Type      string `gorm:"size:16"`
	CreatedAt time.Time
}

// Store persists tracking events and the bounce ledger.
type Store interface {
	Append(e *Event) error
	FindOpen(messageID, email string) (*Event, error)
	IncrementOpen(id uint) error
	// ByMessage returns the events of one message, or of all messages when
	// messageID is empty. Zero bounds leave that side of the window open.
	ByMessage(messageID string, from, to time.Time) ([]Event, error)
	ByEmail(email string) ([]Event, error)
	AddBounce(b *Bounce) error
}

func inWindow(at, from, to time.Time) bool {
	if !from.IsZero() && at.Before(from) {
		return false
	}
	if !to.IsZero() && !at.Before(to) {
		return false
	}
	return true
}

// MemoryStore is the in-memory Store used by tests and database-free runs.
type MemoryStore struct {
	mu      sync.Mutex
	nextID  uint
	events  []Event
	bounces []Bounce
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1}
}

func (s *MemoryStore) Append(e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = s.nextID
	s.nextID++
	s.events = append(s.events, *e)
	return nil
}

func (s *MemoryStore) FindOpen(messageID, email string) (*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.events {
		e := &s.events[i]
		if e.Type == TypeOpen && e.MessageID == messageID && e.Email == email {
			found := *e
			return &found, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) IncrementOpen(id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.events {
		if s.events[i].ID == id {
			s.events[i].Count++
			return nil
		}
	}
	return nil
}

func (s *MemoryStore) ByMessage(messageID string, from, to time.Time) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if messageID != "" && e.MessageID != messageID {
			continue
		}
		if inWindow(e.CreatedAt, from, to) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) ByEmail(email string) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.Email == email {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) AddBounce(b *Bounce) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b.ID = s.nextID
	s.nextID++
	s.bounces = append(s.bounces, *b)
	return nil
}

// Bounces returns a copy of the bounce ledger.
func (s *MemoryStore) Bounces() []Bounce {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Bounce, len(s.bounces))
	copy(out, s.bounces)
	return out
}
