// Package tracking instruments outbound HTML with signed open and click
// telemetry URLs, records the resulting events and aggregates them into
// per-message and per-recipient statistics.
package tracking

import (
	"fmt"
	"log"
	"math"
	"net/url"
	"regexp"
	"strings"
	"time"

	"mailrelay/internal/config"
	"mailrelay/internal/metrics"
)

// RecipientResolver maps a message id back to the logged recipient so
// bounces can be attributed. The delivery log satisfies this.
type RecipientResolver interface {
	Recipient(messageID string) (string, error)
}

// Tracker owns all tracking event writes and read aggregation.
type Tracker struct {
	store    Store
	settings *config.Settings
	resolver RecipientResolver
	now      func() time.Time
}

func New(store Store, settings *config.Settings, resolver RecipientResolver) *Tracker {
	return &Tracker{store: store, settings: settings, resolver: resolver, now: time.Now}
}

var hrefPattern = regexp.MustCompile(`(?i)(<a\s[^>]*?href=)(["'])([^"']*)(["'])`)

// Instrument rewrites an HTML body for telemetry: a tracking pixel before
// the closing body tag when open tracking is on, and signed redirect links
// when click tracking is on. Returns the body unchanged when tracking is
// disabled for the scope.
func (t *Tracker) Instrument(scope config.Scope, html, messageID, recipient string) string {
	if !t.settings.TrackingEnabled(scope) || html == "" {
		return html
	}
	secret := t.settings.TrackingSecret(scope)
	base := strings.TrimRight(t.settings.BaseURL(scope), "/")
	if secret == "" || base == "" {
		return html
	}
	encoded := EncodeID(messageID, t.now())

	if t.settings.TrackClicks(scope) {
		html = hrefPattern.ReplaceAllStringFunc(html, func(match string) string {
			parts := hrefPattern.FindStringSubmatch(match)
			target := parts[3]
			if !shouldTrackURL(target) {
				return match
			}
			params := url.Values{}
			params.Set("id", encoded)
			params.Set("r", recipient)
			params.Set("url", target)
			if scope != config.Global {
				params.Set("s", string(scope))
			}
			params.Set("sig", Sign(params, secret))
			return parts[1] + parts[2] + base + "/track/click?" + params.Encode() + parts[4]
		})
	}

	if t.settings.TrackOpens(scope) {
		params := url.Values{}
		params.Set("id", encoded)
		params.Set("r", recipient)
		if scope != config.Global {
			params.Set("s", string(scope))
		}
		params.Set("sig", Sign(params, secret))
		pixel := fmt.Sprintf(`<img src="%s/track/pixel?%s" width="1" height="1" style="display:none;" alt="" />`,
			base, params.Encode())

		if i := strings.LastIndex(strings.ToLower(html), "</body>"); i >= 0 {
			html = html[:i] + pixel + html[i:]
		} else {
			html += pixel
		}
	}

	return html
}

func shouldTrackURL(target string) bool {
	lower := strings.ToLower(strings.TrimSpace(target))
	switch {
	case lower == "", strings.HasPrefix(lower, "#"),
		strings.HasPrefix(lower, "mailto:"),
		strings.HasPrefix(lower, "tel:"),
		strings.HasPrefix(lower, "javascript:"):
		return false
	case strings.Contains(lower, "unsubscribe"), strings.Contains(lower, "opt-out"):
		return false
	}
	return true
}

// RecordSent appends a sent event per recipient.
func (t *Tracker) RecordSent(messageID, recipient, subject, from string) {
	t.append(&Event{
		MessageID: messageID,
		Email:     recipient,
		Type:      TypeSent,
		Payload:   subject + " from " + from,
	})
}

// RecordOpen appends an open event. The first open of a message by an
// address creates the event; repeat opens increment its count.
func (t *Tracker) RecordOpen(messageID, recipient, ip, userAgent string) {
	existing, err := t.store.FindOpen(messageID, recipient)
	if err != nil {
		log.Printf("tracking: lookup open for %s: %v", messageID, err)
		return
	}
	if existing != nil {
		if err := t.store.IncrementOpen(existing.ID); err != nil {
			log.Printf("tracking: increment open %d: %v", existing.ID, err)
			return
		}
		metrics.TrackingOpens.Add(1)
		return
	}
	t.append(&Event{
		MessageID: messageID,
		Email:     recipient,
		Type:      TypeOpen,
		Count:     1,
		IP:        ip,
		UserAgent: userAgent,
	})
	metrics.TrackingOpens.Add(1)
}

// RecordClick appends a click event.
func (t *Tracker) RecordClick(messageID, recipient, target, ip, userAgent string) {
	t.append(&Event{
		MessageID: messageID,
		Email:     recipient,
		Type:      TypeClick,
		URL:       target,
		IP:        ip,
		UserAgent: userAgent,
	})
	metrics.TrackingClicks.Add(1)
}

// RecordBounce appends a bounce event and, when the message id resolves to a
// logged recipient, writes the bounce ledger row.
func (t *Tracker) RecordBounce(scope config.Scope, messageID, reason, bounceType string) {
	if !t.settings.TrackBounces(scope) {
		return
	}
	recipient := ""
	if t.resolver != nil {
		r, err := t.resolver.Recipient(messageID)
		if err != nil {
			log.Printf("tracking: resolve recipient for %s: %v", messageID, err)
		} else {
			recipient = r
		}
	}

	t.append(&Event{
		MessageID: messageID,
		Email:     recipient,
		Type:      TypeBounce,
		Payload:   bounceType + ": " + reason,
	})
	metrics.TrackingBounces.Add(1)

	if recipient != "" {
		b := &Bounce{Email: recipient, Reason: reason, Type: bounceType, CreatedAt: t.now()}
		if err := t.store.AddBounce(b); err != nil {
			log.Printf("tracking: record bounce for %s: %v", recipient, err)
		}
	}
}

func (t *Tracker) append(e *Event) {
	e.CreatedAt = t.now()
	if err := t.store.Append(e); err != nil {
		log.Printf("tracking: append %s event for %s: %v", e.Type, e.MessageID, err)
	}
}

// Stats aggregates the events of one message.
type Stats struct {
	Sent         int
	Opens        int
	UniqueOpens  int
	Clicks       int
	UniqueClicks int
	Bounces      int
	OpenRate     float64
	ClickRate    float64
}

// Stats computes aggregates for one message, or across all messages when
// messageID is empty. Zero from/to bounds leave the window open on that
// side. Rates are percentages of unique recipients over sends, zero when
// nothing was sent.
func (t *Tracker) Stats(messageID string, from, to time.Time) (Stats, error) {
	events, err := t.store.ByMessage(messageID, from, to)
	if err != nil {
		return Stats{}, err
	}

	var stats Stats
	openers := map[string]bool{}
	clickers := map[string]bool{}
	for _, e := range events {
		switch e.Type {
		case TypeSent:
			stats.Sent++
		case TypeOpen:
			stats.Opens += e.Count
			openers[e.Email] = true
		case TypeClick:
			stats.Clicks++
			clickers[e.Email] = true
		case TypeBounce:
			stats.Bounces++
		}
	}
	stats.UniqueOpens = len(openers)
	stats.UniqueClicks = len(clickers)

	if stats.Sent > 0 {
		stats.OpenRate = round2(100 * float64(stats.UniqueOpens) / float64(stats.Sent))
		stats.ClickRate = round2(100 * float64(stats.UniqueClicks) / float64(stats.Sent))
	}
	return stats, nil
}

// Engagement summarises one recipient's interaction history.
type Engagement struct {
	TotalEmails int
	Opens       int
	Clicks      int
	LastOpen    time.Time
	LastClick   time.Time
	Score       float64
}

// Engagement computes the weighted engagement score of a recipient, with
// clicks weighted above opens.
func (t *Tracker) Engagement(recipient string) (Engagement, error) {
	events, err := t.store.ByEmail(recipient)
	if err != nil {
		return Engagement{}, err
	}

	var eng Engagement
	for _, e := range events {
		switch e.Type {
		case TypeSent:
			eng.TotalEmails++
		case TypeOpen:
			eng.Opens += e.Count
			if e.CreatedAt.After(eng.LastOpen) {
				eng.LastOpen = e.CreatedAt
			}
		case TypeClick:
			eng.Clicks++
			if e.CreatedAt.After(eng.LastClick) {
				eng.LastClick = e.CreatedAt
			}
		}
	}

	if eng.TotalEmails > 0 {
		openRate := float64(eng.Opens) / float64(eng.TotalEmails)
		clickRate := float64(eng.Clicks) / float64(eng.TotalEmails)
		eng.Score = round2((openRate*0.3 + clickRate*0.7) * 100)
	}
	return eng, nil
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
