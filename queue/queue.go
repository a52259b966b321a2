// Package queue defers deliveries to a durable store and drains them in
// priority order with linear retry backoff.
package queue

import (
	"strings"
	"time"

	"mailrelay/internal/email"
)

// Entry statuses. Terminal states are sent, sent_fallback, failed and
// blocked; processing marks an entry claimed by a running drain.
const (
	StatusPending      = "pending"
	StatusProcessing   = "processing"
	StatusSent         = "sent"
	StatusSentFallback = "sent_fallback"
	StatusFailed       = "failed"
	StatusBlocked      = "blocked"
)

// Entry is one deferred message. Lower priority numbers drain first.
type Entry struct {
	ID          uint          `gorm:"primaryKey"`
	Scope       string        `gorm:"size:64"`
	Message     email.Message `gorm:"serializer:json;type:text"`
	Priority    int           `gorm:"index"`
	Status      string        `gorm:"size:32;index"`
	Attempts    int
	LastError   string    `gorm:"type:text"`
	ScheduledAt time.Time `gorm:"index"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PriorityFor derives a drain priority from the message subject. Order and
// payment mail goes first, account security mail second, the rest last.
func PriorityFor(subject string) int {
	lower := strings.ToLower(subject)
	switch {
	case strings.Contains(lower, "order"), strings.Contains(lower, "payment"):
		return 1
	case strings.Contains(lower, "password"), strings.Contains(lower, "reset"):
		return 2
	default:
		return 3
	}
}

// Store persists queue entries. ClaimDue must transition the returned
// entries from pending to processing atomically so two concurrent drains
// never both pick up the same entry.
type Store interface {
	Add(e *Entry) error
	ClaimDue(now time.Time, limit int) ([]Entry, error)
	Update(e *Entry) error
	PendingCount() (int, error)
	DeleteTerminalBefore(cutoff time.Time) (int, error)
}

func terminal(status string) bool {
	switch status {
	case StatusSent, StatusSentFallback, StatusFailed, StatusBlocked:
		return true
	}
	return false
}
