package queue

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"mailrelay/engine"
	"mailrelay/internal/audit"
	"mailrelay/internal/config"
	"mailrelay/internal/email"
	"mailrelay/internal/metrics"
	"mailrelay/policy"
	"mailrelay/provider"
	"mailrelay/tracking"
)

// Deliverer performs one delivery attempt against a single provider. The
// delivery engine satisfies this.
type Deliverer interface {
	Attempt(scope config.Scope, msg *email.Message, via provider.Provider) (*engine.Result, error)
}

// BounceRecorder receives bounce classifications for messages that
// exhausted their retries.
type BounceRecorder interface {
	RecordBounce(scope config.Scope, messageID, reason, bounceType string)
}

// Manager owns all queue entry state transitions.
type Manager struct {
	store    Store
	settings *config.Settings
	deliver  Deliverer
	bounces  BounceRecorder

	now   func() time.Time
	sleep func(time.Duration)
}

func NewManager(store Store, settings *config.Settings, deliver Deliverer, bounces BounceRecorder) *Manager {
	return &Manager{
		store:    store,
		settings: settings,
		deliver:  deliver,
		bounces:  bounces,
		now:      time.Now,
		sleep:    time.Sleep,
	}
}

var _ BounceRecorder = (*tracking.Tracker)(nil)

// ErrDisabled is returned by Enqueue when queueing is off for the scope.
var ErrDisabled = errors.New("queue: queueing is disabled")

// Enqueue inserts a pending entry. Fails when queueing is disabled for the
// scope.
func (m *Manager) Enqueue(scope config.Scope, msg *email.Message, scheduledAt time.Time) (*Entry, error) {
	if !m.settings.QueueEnabled(scope) {
		return nil, ErrDisabled
	}
	now := m.now()
	if scheduledAt.IsZero() {
		scheduledAt = now
	}
	e := &Entry{
		Scope:       string(scope),
		Message:     *msg,
		Priority:    PriorityFor(msg.Subject),
		Status:      StatusPending,
		ScheduledAt: scheduledAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.store.Add(e); err != nil {
		return nil, fmt.Errorf("queue: enqueue: %w", err)
	}
	metrics.MessagesQueued.Add(1)
	m.refreshDepth()
	audit.Log("queued entry %d priority %d for %v", e.ID, e.Priority, msg.To)
	return e, nil
}

// DrainResult summarises one drain invocation.
type DrainResult struct {
	Processed int
	Sent      int
	Failed    int
	Blocked   int
	Deferred  int
}

// Drain claims one batch of due entries and processes them sequentially.
// Callers must guarantee single-flight invocation; the conditional claim in
// the store protects against a second process, not against calling Drain
// concurrently in a loop.
func (m *Manager) Drain(scope config.Scope) (DrainResult, error) {
	metrics.IncDrains()
	defer metrics.DecDrains()
	defer m.refreshDepth()

	var res DrainResult
	entries, err := m.store.ClaimDue(m.now(), m.settings.QueueBatchSize(scope))
	if err != nil {
		return res, fmt.Errorf("queue: claim batch: %w", err)
	}

	throttle := policy.ThrottleDelay(m.settings.RateLimit(scope))
	sent := 0
	for i := range entries {
		e := &entries[i]
		res.Processed++

		if m.preBlocked(e) {
			res.Blocked++
			metrics.MessagesBlocked.Add(1)
			m.finish(e)
			continue
		}

		if sent > 0 && throttle > 0 {
			m.sleep(throttle)
		}
		sent++

		entryScope := config.Scope(e.Scope)
		msg := e.Message
		primary := provider.Provider(m.settings.Provider(entryScope))

		attemptRes, err := m.deliver.Attempt(entryScope, &msg, primary)
		if err == nil {
			e.Status = StatusSent
			e.LastError = ""
			res.Sent++
			m.finish(e)
			continue
		}

		e.Attempts++
		e.LastError = err.Error()

		if e.Attempts < m.settings.RetryAttempts(entryScope) {
			// Linear backoff grows with the attempt count.
			delay := time.Duration(m.settings.RetryDelay(entryScope)*e.Attempts) * time.Minute
			e.Status = StatusPending
			e.ScheduledAt = m.now().Add(delay)
			res.Deferred++
			m.finish(e)
			continue
		}

		// Retry budget exhausted: one shot through the fallback, then
		// terminal failure with bounce classification.
		if fb := policy.FallbackProvider(m.settings, entryScope, primary); fb != "" {
			if _, ferr := m.deliver.Attempt(entryScope, &msg, fb); ferr == nil {
				e.Status = StatusSentFallback
				res.Sent++
				metrics.FallbackSends.Add(1)
				m.finish(e)
				continue
			}
		}

		e.Status = StatusFailed
		res.Failed++
		if m.bounces != nil {
			messageID := ""
			if attemptRes != nil {
				messageID = attemptRes.MessageID
			}
			m.bounces.RecordBounce(entryScope, messageID, e.LastError, classifyBounce(e.LastError))
		}
		m.finish(e)
	}

	return res, nil
}

// preBlocked applies the recipient policy before a claimed entry consumes a
// retry attempt.
func (m *Manager) preBlocked(e *Entry) bool {
	scope := config.Scope(e.Scope)
	allow := m.settings.Whitelist(scope)
	deny := m.settings.Blacklist(scope)
	for _, rcpt := range e.Message.Recipients() {
		if d := policy.Allowed(rcpt, allow, deny); !d.Allowed {
			e.Status = StatusBlocked
			e.LastError = d.Reason
			return true
		}
	}
	return false
}

func (m *Manager) finish(e *Entry) {
	e.UpdatedAt = m.now()
	if err := m.store.Update(e); err != nil {
		audit.Log("queue: update entry %d: %v", e.ID, err)
	}
}

// Cleanup deletes terminal entries older than the retention window.
func (m *Manager) Cleanup(scope config.Scope) (int, error) {
	days := m.settings.LogRetentionDays(scope)
	if days <= 0 {
		return 0, nil
	}
	n, err := m.store.DeleteTerminalBefore(m.now().AddDate(0, 0, -days))
	if err != nil {
		return 0, fmt.Errorf("queue: cleanup: %w", err)
	}
	m.refreshDepth()
	return n, nil
}

func (m *Manager) refreshDepth() {
	if n, err := m.store.PendingCount(); err == nil {
		metrics.SetQueueDepth(n)
	}
}

func classifyBounce(errText string) string {
	lower := strings.ToLower(errText)
	switch {
	case strings.Contains(lower, "mailbox"),
		strings.Contains(lower, "not exist"),
		strings.Contains(lower, "unknown"):
		return "hard"
	case strings.Contains(lower, "quota"),
		strings.Contains(lower, "full"),
		strings.Contains(lower, "temporary"):
		return "soft"
	}
	return "unknown"
}
