// Package policy decides whether and how fast mail may leave the system:
// recipient allow/deny lists, the hourly rate cap and the per-batch throttle.
package policy

import (
	"time"

	"mailrelay/internal/config"
	"mailrelay/internal/email"
	"mailrelay/provider"
)

// Decision is the outcome of a recipient policy check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Allowed evaluates a recipient against the allow and deny lists. A
// non-empty allow list takes precedence: anything not on it is rejected
// regardless of the deny list. Patterns support * and ? wildcards and
// match case-insensitively.
func Allowed(recipient string, allow, deny []string) Decision {
	if len(allow) > 0 {
		for _, pattern := range allow {
			if email.MatchPattern(recipient, pattern) {
				return Decision{Allowed: true}
			}
		}
		return Decision{Reason: "recipient not on allow list"}
	}
	for _, pattern := range deny {
		if email.MatchPattern(recipient, pattern) {
			return Decision{Reason: "recipient matches deny list pattern " + pattern}
		}
	}
	return Decision{Allowed: true}
}

// HourlyCounter reports how many messages were sent in the trailing hour.
// The delivery log satisfies this.
type HourlyCounter interface {
	SentSince(since time.Time) (int, error)
}

// CheckRate reports whether another send is permitted under the hourly cap.
// A cap of zero disables the check. Counter errors fail open so a broken
// log store cannot stop deliveries.
func CheckRate(counter HourlyCounter, limit int, now time.Time) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	n, err := counter.SentSince(now.Add(-time.Hour))
	if err != nil {
		return true, err
	}
	return n < limit, nil
}

// ThrottleDelay returns the pause between consecutive sends that spreads a
// rate limit evenly across a minute. Zero when no limit is set.
func ThrottleDelay(limit int) time.Duration {
	if limit <= 0 {
		return 0
	}
	return time.Minute / time.Duration(limit)
}

// FallbackProvider returns the provider to retry through once the primary
// has exhausted its attempts, or "" when fallback is disabled, unconfigured
// or would reuse the primary.
func FallbackProvider(settings *config.Settings, scope config.Scope, primary provider.Provider) provider.Provider {
	if !settings.FallbackEnabled(scope) {
		return ""
	}
	fb := provider.Provider(settings.FallbackProvider(scope))
	if fb == "" || fb == primary {
		return ""
	}
	return fb
}
