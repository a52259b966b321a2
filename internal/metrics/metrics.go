// Package metrics exposes delivery counters via expvar.
package metrics

import "expvar"

var (
	MessagesSent     = expvar.NewInt("mail_messages_sent_total")
	MessagesFailed   = expvar.NewInt("mail_messages_failed_total")
	MessagesBlocked  = expvar.NewInt("mail_messages_blocked_total")
	MessagesQueued   = expvar.NewInt("mail_messages_queued_total")
	FallbackSends    = expvar.NewInt("mail_fallback_sends_total")
	TrackingOpens    = expvar.NewInt("mail_tracking_opens_total")
	TrackingClicks   = expvar.NewInt("mail_tracking_clicks_total")
	TrackingBounces  = expvar.NewInt("mail_tracking_bounces_total")
	queueDepth       = expvar.NewInt("mail_queue_depth")
	drainsInProgress = expvar.NewInt("mail_drains_in_progress")
)

// SetQueueDepth records the current pending queue depth.
func SetQueueDepth(n int) {
	queueDepth.Set(int64(n))
}

// IncDrains marks a queue drain as started.
func IncDrains() {
	drainsInProgress.Add(1)
}

// DecDrains marks a queue drain as finished.
func DecDrains() {
	drainsInProgress.Add(-1)
}

// ResetForTests clears counters; intended for use in tests only.
func ResetForTests() {
	MessagesSent.Set(0)
	MessagesFailed.Set(0)
	MessagesBlocked.Set(0)
	MessagesQueued.Set(0)
	FallbackSends.Set(0)
	TrackingOpens.Set(0)
	TrackingClicks.Set(0)
	TrackingBounces.Set(0)
	queueDepth.Set(0)
	drainsInProgress.Set(0)
}
