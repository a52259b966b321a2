// Package logstore records every delivery attempt and answers the questions
// built on that history: hourly send counts for rate limiting, daily
// statistics and retention cleanup.
package logstore

import (
	"log"
	"time"

	"mailrelay/internal/config"
)

// Attempt statuses.
const (
	StatusSent    = "sent"
	StatusFailed  = "failed"
	StatusBlocked = "blocked"
)

// Entry is one recorded delivery attempt.
type Entry struct {
	ID        uint   `gorm:"primaryKey"`
	MessageID string `gorm:"size:255;index"`
	Recipient string `gorm:"size:255;index"`
	Subject   string `gorm:"size:998"`
	Provider  string `gorm:"size:64"`
	Status    string `gorm:"size:32;index"`
	Error     string `gorm:"type:text"`
	Scope     string `gorm:"size:64"`
	// DurationMS is the wall time of the network attempt, zero for
	// attempts rejected before any I/O.
	DurationMS int64
	CreatedAt  time.Time `gorm:"index"`
}

// DayStats aggregates one day of delivery history.
type DayStats struct {
	Sent    int
	Failed  int
	Blocked int
}

// Store persists delivery attempts.
type Store interface {
	Insert(e *Entry) error
	SentSince(since time.Time) (int, error)
	FindByMessageID(messageID string) (*Entry, error)
	StatsBetween(from, to time.Time) (DayStats, error)
	DeleteBefore(cutoff time.Time) (int, error)
}

// Logger records delivery attempts subject to the logging toggle. Recording
// failures are logged and swallowed so a broken store cannot interrupt
// delivery.
type Logger struct {
	store    Store
	settings *config.Settings
	now      func() time.Time
}

func NewLogger(store Store, settings *config.Settings) *Logger {
	return &Logger{store: store, settings: settings, now: time.Now}
}

// Record writes one attempt. Disabled logging is a silent no-op.
func (l *Logger) Record(scope config.Scope, e Entry) {
	if !l.settings.LoggingEnabled(scope) {
		return
	}
	e.Scope = string(scope)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.now()
	}
	if err := l.store.Insert(&e); err != nil {
		log.Printf("logstore: record attempt for %s: %v", e.Recipient, err)
	}
}

// SentSince satisfies the rate limiter's counter.
func (l *Logger) SentSince(since time.Time) (int, error) {
	return l.store.SentSince(since)
}

// Recipient resolves the recipient of a previously logged message.
func (l *Logger) Recipient(messageID string) (string, error) {
	e, err := l.store.FindByMessageID(messageID)
	if err != nil {
		return "", err
	}
	if e == nil {
		return "", nil
	}
	return e.Recipient, nil
}

// StatsForDay aggregates the attempts of one calendar day in local time.
func (l *Logger) StatsForDay(day time.Time) (DayStats, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	return l.store.StatsBetween(start, start.AddDate(0, 0, 1))
}

// Cleanup removes entries older than the configured retention window and
// returns the number removed.
func (l *Logger) Cleanup(scope config.Scope) (int, error) {
	days := l.settings.LogRetentionDays(scope)
	if days <= 0 {
		return 0, nil
	}
	return l.store.DeleteBefore(l.now().AddDate(0, 0, -days))
}
