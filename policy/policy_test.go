package policy

import (
	"errors"
	"testing"
	"time"

	"mailrelay/internal/config"
	"mailrelay/provider"
)

func TestAllowed(t *testing.T) {
	tests := []struct {
		name      string
		recipient string
		allow     []string
		deny      []string
		want      bool
	}{
		{"no lists", "user@shop.example", nil, nil, true},
		{"deny exact", "spam@bad.example", nil, []string{"spam@bad.example"}, false},
		{"deny wildcard domain", "anyone@bad.example", nil, []string{"*@bad.example"}, false},
		{"deny miss", "user@shop.example", nil, []string{"*@bad.example"}, true},
		{"allow hit", "user@corp.example", []string{"*@corp.example"}, nil, true},
		{"allow miss", "user@other.example", []string{"*@corp.example"}, nil, false},
		{"allow overrides deny", "user@corp.example", []string{"*@corp.example"}, []string{"user@corp.example"}, true},
		{"case insensitive", "User@BAD.example", nil, []string{"*@bad.example"}, false},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			d := Allowed(tc.recipient, tc.allow, tc.deny)
			if d.Allowed != tc.want {
				t.Fatalf("Allowed(%q) = %v (%s), want %v", tc.recipient, d.Allowed, d.Reason, tc.want)
			}
			if !d.Allowed && d.Reason == "" {
				t.Fatalf("rejection without reason")
			}
		})
	}
}

type fixedCounter struct {
	n   int
	err error
}

func (c fixedCounter) SentSince(time.Time) (int, error) { return c.n, c.err }

func TestCheckRate(t *testing.T) {
	now := time.Now()

	ok, err := CheckRate(fixedCounter{n: 5}, 10, now)
	if err != nil || !ok {
		t.Fatalf("under limit: ok=%v err=%v", ok, err)
	}

	ok, err = CheckRate(fixedCounter{n: 10}, 10, now)
	if err != nil || ok {
		t.Fatalf("at limit: ok=%v err=%v", ok, err)
	}

	ok, err = CheckRate(fixedCounter{n: 1000}, 0, now)
	if err != nil || !ok {
		t.Fatalf("disabled limit: ok=%v err=%v", ok, err)
	}

	// A failing counter must not block sends.
	ok, err = CheckRate(fixedCounter{err: errors.New("store down")}, 10, now)
	if !ok {
		t.Fatalf("counter error blocked send")
	}
	if err == nil {
		t.Fatalf("counter error not surfaced")
	}
}

func TestThrottleDelay(t *testing.T) {
	if d := ThrottleDelay(0); d != 0 {
		t.Fatalf("ThrottleDelay(0) = %v", d)
	}
	if d := ThrottleDelay(60); d != time.Second {
		t.Fatalf("ThrottleDelay(60) = %v, want 1s", d)
	}
	if d := ThrottleDelay(120); d != 500*time.Millisecond {
		t.Fatalf("ThrottleDelay(120) = %v, want 500ms", d)
	}
}

func TestFallbackProvider(t *testing.T) {
	settings := config.NewSettings(config.MapStore{
		"FALLBACK_ENABLED":  "true",
		"FALLBACK_PROVIDER": "sendgrid",
	})
	if fb := FallbackProvider(settings, config.Global, provider.Gmail); fb != provider.SendGrid {
		t.Fatalf("fallback = %q, want sendgrid", fb)
	}

	// Same as primary is useless.
	if fb := FallbackProvider(settings, config.Global, provider.SendGrid); fb != "" {
		t.Fatalf("fallback to primary = %q, want empty", fb)
	}

	disabled := config.NewSettings(config.MapStore{
		"FALLBACK_PROVIDER": "sendgrid",
	})
	if fb := FallbackProvider(disabled, config.Global, provider.Gmail); fb != "" {
		t.Fatalf("disabled fallback = %q, want empty", fb)
	}
}
