package config

import (
	"testing"
	"time"
)

func TestEnvStoreScopeFallback(t *testing.T) {
	t.Setenv("MAIL_CUSTOM_HOST", "smtp.global.test")
	t.Setenv("MAIL_SHOP2_CUSTOM_HOST", "smtp.shop2.test")

	store := NewEnvStore()

	if got := store.Get(KeyCustomHost, Global); got != "smtp.global.test" {
		t.Fatalf("expected global host, got %q", got)
	}
	if got := store.Get(KeyCustomHost, "shop2"); got != "smtp.shop2.test" {
		t.Fatalf("expected tenant override, got %q", got)
	}
	if got := store.Get(KeyCustomHost, "shop3"); got != "smtp.global.test" {
		t.Fatalf("expected fallback to global for unset tenant, got %q", got)
	}
}

func TestEnvStoreScopeSanitized(t *testing.T) {
	t.Setenv("MAIL_STORE_EU_PROVIDER", "gmail")

	store := NewEnvStore()
	if got := store.Get(KeyProvider, "store-eu"); got != "gmail" {
		t.Fatalf("expected sanitized scope lookup, got %q", got)
	}
}

func TestParseBool(t *testing.T) {
	tests := []struct {
		input string
		def   bool
		want  bool
	}{
		{"true", false, true},
		{"TRUE", false, true},
		{"1", false, true},
		{"false", true, false},
		{"0", true, false},
		{"", true, true},
		{"noise", true, true},
		{"noise", false, false},
	}
	for _, tc := range tests {
		if got := parseBool(tc.input, tc.def); got != tc.want {
			t.Fatalf("parseBool(%q, %v) = %v, want %v", tc.input, tc.def, got, tc.want)
		}
	}
}

func TestSettingsDefaults(t *testing.T) {
	s := NewSettings(MapStore{})

	if s.Enabled(Global) {
		t.Fatalf("expected disabled by default")
	}
	if got := s.Provider(Global); got != "custom" {
		t.Fatalf("expected custom provider default, got %q", got)
	}
	if got := s.Encryption(Global); got != "tls" {
		t.Fatalf("expected tls default, got %q", got)
	}
	if got := s.Authentication(Global); got != "login" {
		t.Fatalf("expected login default, got %q", got)
	}
	if got := s.QueueBatchSize(Global); got != 50 {
		t.Fatalf("expected batch size 50, got %d", got)
	}
	if got := s.RetryAttempts(Global); got != 3 {
		t.Fatalf("expected 3 retries, got %d", got)
	}
	if got := s.RetryDelay(Global); got != 5 {
		t.Fatalf("expected 5 minute retry delay, got %d", got)
	}
	if got := s.LogRetentionDays(Global); got != 30 {
		t.Fatalf("expected 30 day retention, got %d", got)
	}
	if got := s.ConnectionTimeout(Global); got != 30*time.Second {
		t.Fatalf("expected 30s timeout, got %v", got)
	}
	if got := s.DkimSelector(Global); got != "default" {
		t.Fatalf("expected default selector, got %q", got)
	}
}

func TestSettingsLists(t *testing.T) {
	s := NewSettings(MapStore{
		KeyBlacklist: "*@spam.test, junk@*.example ,",
		KeyWhitelist: "",
	})

	black := s.Blacklist(Global)
	if len(black) != 2 || black[0] != "*@spam.test" || black[1] != "junk@*.example" {
		t.Fatalf("unexpected blacklist: %v", black)
	}
	if got := s.Whitelist(Global); got != nil {
		t.Fatalf("expected empty whitelist, got %v", got)
	}
}

func TestSettingsTrackingTogglesRequireMaster(t *testing.T) {
	s := NewSettings(MapStore{
		KeyTrackOpens: "true",
	})
	if s.TrackOpens(Global) {
		t.Fatalf("opens tracking must require the master toggle")
	}

	s = NewSettings(MapStore{
		KeyTrackingEnabled: "true",
		KeyTrackOpens:      "true",
	})
	if !s.TrackOpens(Global) {
		t.Fatalf("expected opens tracking enabled")
	}
}

func TestSettingsFromDomain(t *testing.T) {
	s := NewSettings(MapStore{KeyFromEmail: "Orders@Shop.Example"})
	if got := s.FromDomain(Global); got != "shop.example" {
		t.Fatalf("expected shop.example, got %q", got)
	}

	s = NewSettings(MapStore{})
	if got := s.FromDomain(Global); got != "localhost" {
		t.Fatalf("expected localhost fallback, got %q", got)
	}
}
