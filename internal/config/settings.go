package config

import (
	"strings"
	"time"
)

// Setting keys understood by the Store. See EnvStore for the environment
// variable mapping.
const (
	KeyEnabled        = "ENABLED"
	KeyProvider       = "PROVIDER"
	KeyCustomHost     = "CUSTOM_HOST"
	KeyCustomPort     = "CUSTOM_PORT"
	KeyEncryption     = "ENCRYPTION"
	KeyAuthentication = "AUTHENTICATION"
	KeyUsername       = "USERNAME"
	KeyPassword       = "PASSWORD"
	KeyFromEmail      = "FROM_EMAIL"
	KeyFromName       = "FROM_NAME"
	KeyReplyTo        = "REPLY_TO"

	KeyQueueEnabled       = "QUEUE_ENABLED"
	KeyQueueBatchSize     = "QUEUE_BATCH_SIZE"
	KeyQueueRetryAttempts = "QUEUE_RETRY_ATTEMPTS"
	KeyQueueRetryDelay    = "QUEUE_RETRY_DELAY"
	KeyQueueDrainInterval = "QUEUE_DRAIN_INTERVAL"

	KeyTrackingEnabled = "TRACKING_ENABLED"
	KeyTrackOpens      = "TRACK_OPENS"
	KeyTrackClicks     = "TRACK_CLICKS"
	KeyTrackBounces    = "TRACK_BOUNCES"
	KeyTrackingSecret  = "TRACKING_SECRET"
	KeyBaseURL         = "BASE_URL"

	KeyDkimEnabled    = "DKIM_ENABLED"
	KeyDkimDomain     = "DKIM_DOMAIN"
	KeyDkimSelector   = "DKIM_SELECTOR"
	KeyDkimPrivateKey = "DKIM_PRIVATE_KEY"
	KeySpfCheck       = "SPF_CHECK"
	KeyDmarcCheck     = "DMARC_CHECK"

	KeyLoggingEnabled    = "LOGGING_ENABLED"
	KeyLogRetentionDays  = "LOG_RETENTION_DAYS"
	KeyDebugMode         = "DEBUG"
	KeyRateLimit         = "RATE_LIMIT"
	KeyConnectionTimeout = "CONNECTION_TIMEOUT"
	KeyBlacklist         = "BLACKLIST"
	KeyWhitelist         = "WHITELIST"
	KeyFallbackEnabled   = "FALLBACK_ENABLED"
	KeyFallbackProvider  = "FALLBACK_PROVIDER"
)

// Settings is the typed accessor layer over a Store. All getters take the
// tenant scope; defaults match the documented configuration surface.
type Settings struct {
	store Store
}

// NewSettings wraps a Store.
func NewSettings(store Store) *Settings {
	return &Settings{store: store}
}

func (s *Settings) bool(key string, scope Scope, def bool) bool {
	return parseBool(s.store.Get(key, scope), def)
}

func (s *Settings) int(key string, scope Scope, def int) int {
	return parseInt(s.store.Get(key, scope), def)
}

func (s *Settings) Enabled(scope Scope) bool { return s.bool(KeyEnabled, scope, false) }

// Provider returns the configured provider identifier, defaulting to custom.
func (s *Settings) Provider(scope Scope) string {
	p := strings.ToLower(s.store.Get(KeyProvider, scope))
	if p == "" {
		return "custom"
	}
	return p
}

func (s *Settings) CustomHost(scope Scope) string { return s.store.Get(KeyCustomHost, scope) }
func (s *Settings) CustomPort(scope Scope) int    { return s.int(KeyCustomPort, scope, 0) }

func (s *Settings) Encryption(scope Scope) string {
	enc := strings.ToLower(s.store.Get(KeyEncryption, scope))
	if enc == "" {
		return "tls"
	}
	return enc
}

func (s *Settings) Authentication(scope Scope) string {
	auth := strings.ToLower(s.store.Get(KeyAuthentication, scope))
	if auth == "" {
		return "login"
	}
	return auth
}

func (s *Settings) Username(scope Scope) string { return s.store.Get(KeyUsername, scope) }
func (s *Settings) Password(scope Scope) string { return s.store.Get(KeyPassword, scope) }

func (s *Settings) FromEmail(scope Scope) string { return s.store.Get(KeyFromEmail, scope) }
func (s *Settings) FromName(scope Scope) string  { return s.store.Get(KeyFromName, scope) }
func (s *Settings) ReplyTo(scope Scope) string   { return s.store.Get(KeyReplyTo, scope) }

// FromDomain returns the domain part of the configured from address.
func (s *Settings) FromDomain(scope Scope) string {
	from := s.FromEmail(scope)
	if i := strings.LastIndex(from, "@"); i >= 0 && i+1 < len(from) {
		return strings.ToLower(from[i+1:])
	}
	return "localhost"
}

func (s *Settings) QueueEnabled(scope Scope) bool { return s.bool(KeyQueueEnabled, scope, false) }

func (s *Settings) QueueBatchSize(scope Scope) int {
	if n := s.int(KeyQueueBatchSize, scope, 50); n > 0 {
		return n
	}
	return 50
}

func (s *Settings) RetryAttempts(scope Scope) int {
	if n := s.int(KeyQueueRetryAttempts, scope, 3); n > 0 {
		return n
	}
	return 3
}

// RetryDelay is the linear backoff base in minutes.
func (s *Settings) RetryDelay(scope Scope) int {
	if n := s.int(KeyQueueRetryDelay, scope, 5); n > 0 {
		return n
	}
	return 5
}

func (s *Settings) DrainInterval(scope Scope) time.Duration {
	return time.Duration(s.int(KeyQueueDrainInterval, scope, 60)) * time.Second
}

func (s *Settings) TrackingEnabled(scope Scope) bool { return s.bool(KeyTrackingEnabled, scope, false) }

func (s *Settings) TrackOpens(scope Scope) bool {
	return s.TrackingEnabled(scope) && s.bool(KeyTrackOpens, scope, false)
}

func (s *Settings) TrackClicks(scope Scope) bool {
	return s.TrackingEnabled(scope) && s.bool(KeyTrackClicks, scope, false)
}

func (s *Settings) TrackBounces(scope Scope) bool {
	return s.TrackingEnabled(scope) && s.bool(KeyTrackBounces, scope, false)
}

func (s *Settings) TrackingSecret(scope Scope) string { return s.store.Get(KeyTrackingSecret, scope) }
func (s *Settings) BaseURL(scope Scope) string        { return s.store.Get(KeyBaseURL, scope) }

func (s *Settings) DkimEnabled(scope Scope) bool { return s.bool(KeyDkimEnabled, scope, false) }
func (s *Settings) DkimSelector(scope Scope) string {
	if sel := s.store.Get(KeyDkimSelector, scope); sel != "" {
		return sel
	}
	return "default"
}

func (s *Settings) DkimDomain(scope Scope) string {
	if d := s.store.Get(KeyDkimDomain, scope); d != "" {
		return d
	}
	return s.FromDomain(scope)
}

func (s *Settings) DkimPrivateKey(scope Scope) string { return s.store.Get(KeyDkimPrivateKey, scope) }

func (s *Settings) SpfCheckEnabled(scope Scope) bool   { return s.bool(KeySpfCheck, scope, false) }
func (s *Settings) DmarcCheckEnabled(scope Scope) bool { return s.bool(KeyDmarcCheck, scope, false) }

func (s *Settings) LoggingEnabled(scope Scope) bool { return s.bool(KeyLoggingEnabled, scope, true) }

func (s *Settings) LogRetentionDays(scope Scope) int {
	if n := s.int(KeyLogRetentionDays, scope, 30); n > 0 {
		return n
	}
	return 30
}

func (s *Settings) DebugMode(scope Scope) bool { return s.bool(KeyDebugMode, scope, false) }

// RateLimit is the hourly send cap; zero disables limiting. The same value
// doubles as the emails-per-minute throttle during queue draining.
func (s *Settings) RateLimit(scope Scope) int { return s.int(KeyRateLimit, scope, 0) }

func (s *Settings) ConnectionTimeout(scope Scope) time.Duration {
	secs := s.int(KeyConnectionTimeout, scope, 30)
	if secs <= 0 {
		secs = 30
	}
	return time.Duration(secs) * time.Second
}

func (s *Settings) Blacklist(scope Scope) []string {
	return parseList(s.store.Get(KeyBlacklist, scope))
}

func (s *Settings) Whitelist(scope Scope) []string {
	return parseList(s.store.Get(KeyWhitelist, scope))
}

func (s *Settings) FallbackEnabled(scope Scope) bool { return s.bool(KeyFallbackEnabled, scope, false) }

func (s *Settings) FallbackProvider(scope Scope) string {
	return strings.ToLower(s.store.Get(KeyFallbackProvider, scope))
}
