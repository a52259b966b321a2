// Package engine implements the outbound delivery pipeline: it resolves the
// provider, applies policy and sender authentication checks, composes and
// signs the wire message and dispatches it over SMTP or a provider API.
package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"mailrelay/internal/audit"
	"mailrelay/internal/config"
	"mailrelay/internal/dkim"
	"mailrelay/internal/email"
	"mailrelay/internal/metrics"
	"mailrelay/logstore"
	"mailrelay/policy"
	"mailrelay/provider"
	"mailrelay/security"
	"mailrelay/storage"
	"mailrelay/tracking"
)

// Result describes a completed delivery.
type Result struct {
	MessageID    string
	Provider     provider.Provider
	FallbackUsed bool
	Duration     time.Duration
	Warnings     []string
}

// DefaultSender handles messages when enhanced delivery is turned off.
// The host application injects whatever plain transport it already has.
type DefaultSender interface {
	Send(scope config.Scope, msg *email.Message) error
}

// Engine drives one message through composing, securing and sending.
type Engine struct {
	settings      *config.Settings
	logger        *logstore.Logger
	tracker       *tracking.Tracker
	checker       *security.Checker
	defaultSender DefaultSender

	now   func() time.Time
	newID func() string
}

func New(settings *config.Settings, logger *logstore.Logger, tracker *tracking.Tracker, checker *security.Checker) *Engine {
	return &Engine{
		settings: settings,
		logger:   logger,
		tracker:  tracker,
		checker:  checker,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// SetDefaultSender installs the transport used when delivery is disabled.
// Without one a disabled scope refuses to send.
func (e *Engine) SetDefaultSender(s DefaultSender) { e.defaultSender = s }

// Send delivers a message through the configured primary provider, retrying
// once through the fallback provider when the primary fails for transport
// reasons. Policy and configuration rejections never reach the fallback.
func (e *Engine) Send(scope config.Scope, msg *email.Message) (*Result, error) {
	if !e.settings.Enabled(scope) {
		if e.defaultSender == nil {
			return nil, sendErrf(KindConfig, false, "mail sending is not enabled")
		}
		e.applyDefaults(scope, msg)
		if err := e.defaultSender.Send(scope, msg); err != nil {
			return nil, sendErr(KindUnknown, true, err)
		}
		audit.Log("delivery disabled, message handed to the default sender")
		return &Result{Provider: "default"}, nil
	}
	e.applyDefaults(scope, msg)
	if msg.FromEmail == "" {
		return nil, sendErrf(KindConfig, false, "no sender address configured")
	}
	if len(msg.Recipients()) == 0 {
		return nil, sendErrf(KindCompose, false, "message has no recipients")
	}

	primary := provider.Provider(e.settings.Provider(scope))
	res, err := e.Attempt(scope, msg, primary)
	if err == nil {
		return res, nil
	}

	se := AsSendError(err)
	if se.Kind == KindConfig || se.Kind == KindPolicy || se.Kind == KindCompose {
		return nil, err
	}

	fallback := policy.FallbackProvider(e.settings, scope, primary)
	if fallback == "" {
		return nil, err
	}

	audit.Log("send via %s failed (%v), retrying via fallback %s", primary, err, fallback)
	res, ferr := e.Attempt(scope, msg, fallback)
	if ferr != nil {
		return nil, err
	}
	res.FallbackUsed = true
	metrics.FallbackSends.Add(1)
	return res, nil
}

// Attempt runs the full pipeline once against a single provider.
func (e *Engine) Attempt(scope config.Scope, msg *email.Message, via provider.Provider) (*Result, error) {
	e.applyDefaults(scope, msg)

	// Composing: resolve the connection profile and generate the id.
	profile := provider.Resolve(via, e.settings, scope)
	if profile.Host == "" {
		return nil, sendErrf(KindConfig, false, "provider %s has no host configured", via)
	}
	username := e.settings.Username(scope)
	password := e.settings.Password(scope)
	if !provider.ValidateCredentials(profile.Provider, username, password) {
		return nil, sendErrf(KindConfig, false, "credentials for provider %s are incomplete or malformed", profile.Provider)
	}

	fromDomain := e.settings.FromDomain(scope)
	messageID := e.newID() + "@" + fromDomain

	// Securing: recipient policy, rate cap, then sender authentication.
	allow := e.settings.Whitelist(scope)
	deny := e.settings.Blacklist(scope)
	for _, rcpt := range msg.Recipients() {
		if !email.Valid(rcpt) {
			return nil, sendErrf(KindCompose, false, "invalid recipient address %q", rcpt)
		}
		if d := policy.Allowed(rcpt, allow, deny); !d.Allowed {
			e.record(scope, logstore.Entry{
				MessageID: messageID,
				Recipient: rcpt,
				Subject:   msg.Subject,
				Provider:  string(profile.Provider),
				Status:    logstore.StatusBlocked,
				Error:     d.Reason,
			})
			metrics.MessagesBlocked.Add(1)
			return nil, sendErrf(KindPolicy, false, "recipient %s blocked: %s", rcpt, d.Reason)
		}
	}

	ok, rateErr := policy.CheckRate(e.logger, e.settings.RateLimit(scope), e.now())
	if rateErr != nil {
		audit.Log("rate check degraded: %v", rateErr)
	}
	if !ok {
		return nil, sendErrf(KindPolicy, true, "hourly rate limit of %d reached", e.settings.RateLimit(scope))
	}

	signer, err := dkim.Load(e.settings, scope)
	if err != nil {
		return nil, sendErr(KindConfig, false, err)
	}

	var warnings []string
	if e.checker != nil {
		verdict, err := e.checker.Evaluate(scope, fromDomain, profile.Host, signer.Domain())
		if err != nil {
			e.record(scope, logstore.Entry{
				MessageID: messageID,
				Recipient: msg.Recipients()[0],
				Subject:   msg.Subject,
				Provider:  string(profile.Provider),
				Status:    logstore.StatusFailed,
				Error:     err.Error(),
			})
			metrics.MessagesFailed.Add(1)
			return nil, sendErr(KindSecurity, false, err)
		}
		warnings = verdict.Warnings
	}

	// Instrument before composing so the tracked body goes on the wire.
	if e.tracker != nil && msg.HTMLBody != "" {
		msg.HTMLBody = e.tracker.Instrument(scope, msg.HTMLBody, messageID, msg.Recipients()[0])
	}

	data, err := email.Compose(msg, messageID, e.now())
	if err != nil {
		return nil, sendErr(KindCompose, false, err)
	}

	signed, err := signer.Sign(data, msg.FromEmail)
	if err != nil {
		// A broken key must not stop the mail flow.
		audit.Log("dkim signing failed for %s: %v", messageID, err)
		warnings = append(warnings, "dkim signing failed: "+err.Error())
		signed = data
	}

	if e.settings.DebugMode(scope) {
		if err := storage.SaveMessage(messageID, msg.Recipients()[0], signed); err != nil {
			audit.Log("archive %s: %v", messageID, err)
		}
	}

	// Sending.
	start := e.now()
	if profile.APIEndpoint != "" {
		providerID, apiErr := apiDeliver(profile.APIEndpoint, password, msg)
		if apiErr != nil {
			return e.fail(scope, messageID, msg, profile, start, sendErr(KindProviderAPI, true, apiErr))
		}
		audit.Log("message %s accepted by %s api as %s", messageID, profile.Provider, providerID)
	} else {
		timeout := e.settings.ConnectionTimeout(scope)
		if smtpErr := smtpDeliver(profile, username, password, timeout, msg.FromEmail, msg.Recipients(), signed); smtpErr != nil {
			return e.fail(scope, messageID, msg, profile, start, sendErr(KindTransport, true, smtpErr))
		}
	}
	duration := e.now().Sub(start)

	for _, rcpt := range msg.Recipients() {
		e.record(scope, logstore.Entry{
			MessageID:  messageID,
			Recipient:  rcpt,
			Subject:    msg.Subject,
			Provider:   string(profile.Provider),
			Status:     logstore.StatusSent,
			DurationMS: duration.Milliseconds(),
		})
		if e.tracker != nil {
			e.tracker.RecordSent(messageID, rcpt, msg.Subject, msg.FromEmail)
		}
	}
	metrics.MessagesSent.Add(1)
	audit.Log("message %s sent via %s in %s", messageID, profile.Provider, duration)

	return &Result{
		MessageID: messageID,
		Provider:  profile.Provider,
		Duration:  duration,
		Warnings:  warnings,
	}, nil
}

func (e *Engine) fail(scope config.Scope, messageID string, msg *email.Message, profile provider.Profile, start time.Time, se *SendError) (*Result, error) {
	duration := e.now().Sub(start)
	e.record(scope, logstore.Entry{
		MessageID:  messageID,
		Recipient:  msg.Recipients()[0],
		Subject:    msg.Subject,
		Provider:   string(profile.Provider),
		Status:     logstore.StatusFailed,
		Error:      se.Err.Error(),
		DurationMS: duration.Milliseconds(),
	})
	metrics.MessagesFailed.Add(1)
	// The partial result carries the message id so callers can correlate
	// the failure with log and tracking rows.
	partial := &Result{MessageID: messageID, Provider: profile.Provider, Duration: duration}
	return partial, fmt.Errorf("deliver %s via %s: %w", messageID, profile.Provider, se)
}

func (e *Engine) record(scope config.Scope, entry logstore.Entry) {
	if e.logger != nil {
		e.logger.Record(scope, entry)
	}
}

func (e *Engine) applyDefaults(scope config.Scope, msg *email.Message) {
	if msg.FromEmail == "" {
		msg.FromEmail = e.settings.FromEmail(scope)
	}
	if msg.FromName == "" {
		msg.FromName = e.settings.FromName(scope)
	}
	if msg.ReplyTo == "" {
		msg.ReplyTo = e.settings.ReplyTo(scope)
	}
}
