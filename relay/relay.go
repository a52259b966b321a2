// Package relay is the outbound send entrypoint: it wires the delivery
// engine, queue manager, tracking and log stores together and decides per
// send whether the message goes out immediately or into the queue.
package relay

import (
	"errors"
	"log"
	"time"

	"gorm.io/gorm"

	"mailrelay/engine"
	"mailrelay/internal/config"
	"mailrelay/internal/db"
	"mailrelay/internal/email"
	"mailrelay/logstore"
	"mailrelay/queue"
	"mailrelay/security"
	"mailrelay/tracking"
)

// Outcome of a Send call.
type Outcome string

const (
	OutcomeSent   Outcome = "sent"
	OutcomeQueued Outcome = "queued"
)

// Failure carries a classified send error with both the operator-facing
// explanation and the technical detail.
type Failure struct {
	Kind    engine.ErrorKind
	Message string
	Detail  string
}

func (f *Failure) Error() string { return f.Message + " (" + f.Detail + ")" }

// Relay composes the delivery pipeline.
type Relay struct {
	Settings *config.Settings
	Engine   *engine.Engine
	Queue    *queue.Manager
	Logger   *logstore.Logger
	Tracker  *tracking.Tracker
}

// New builds a relay on the given stores.
func New(settings *config.Settings, logs logstore.Store, events tracking.Store, entries queue.Store) *Relay {
	logger := logstore.NewLogger(logs, settings)
	tracker := tracking.New(events, settings, logger)
	eng := engine.New(settings, logger, tracker, security.NewChecker(settings))
	manager := queue.NewManager(entries, settings, eng, tracker)
	return &Relay{
		Settings: settings,
		Engine:   eng,
		Queue:    manager,
		Logger:   logger,
		Tracker:  tracker,
	}
}

// Connect builds a relay backed by the configured database, falling back to
// in-memory stores when no DSN is set.
func Connect(settings *config.Settings) (*Relay, error) {
	conn, err := db.Open()
	if errors.Is(err, db.ErrNoDSN) {
		log.Printf("relay: no database configured, using in-memory stores")
		return New(settings, logstore.NewMemoryStore(), tracking.NewMemoryStore(), queue.NewMemoryStore()), nil
	}
	if err != nil {
		return nil, err
	}
	return connectGorm(settings, conn)
}

func connectGorm(settings *config.Settings, conn *gorm.DB) (*Relay, error) {
	logs, err := logstore.NewGormStore(conn)
	if err != nil {
		return nil, err
	}
	events, err := tracking.NewGormStore(conn)
	if err != nil {
		return nil, err
	}
	entries, err := queue.NewGormStore(conn)
	if err != nil {
		return nil, err
	}
	return New(settings, logs, events, entries), nil
}

// Send delivers a message now, or defers it when queueing is enabled for
// the scope. Errors are always *Failure.
func (r *Relay) Send(scope config.Scope, msg *email.Message) (Outcome, *engine.Result, error) {
	if r.Settings.QueueEnabled(scope) {
		if _, err := r.Queue.Enqueue(scope, msg, time.Time{}); err != nil {
			// A store write failure is an infrastructure problem the
			// caller may retry, not a configuration one.
			kind := engine.KindUnknown
			if errors.Is(err, queue.ErrDisabled) {
				kind = engine.KindConfig
			}
			return "", nil, &Failure{
				Kind:    kind,
				Message: engine.Humanize(err),
				Detail:  err.Error(),
			}
		}
		return OutcomeQueued, nil, nil
	}

	res, err := r.Engine.Send(scope, msg)
	if err != nil {
		se := engine.AsSendError(err)
		return "", nil, &Failure{
			Kind:    se.Kind,
			Message: engine.Humanize(err),
			Detail:  err.Error(),
		}
	}
	return OutcomeSent, res, nil
}
