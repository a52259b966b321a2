package engine

import (
	"errors"
	"strings"
	"testing"
	"time"

	"mailrelay/internal/config"
	"mailrelay/internal/email"
	"mailrelay/logstore"
	"mailrelay/provider"
	"mailrelay/security"
	"mailrelay/tracking"
)

func testEngine(t *testing.T, extra map[string]string) (*Engine, *logstore.MemoryStore) {
	t.Helper()
	store := config.MapStore{
		"ENABLED":    "true",
		"PROVIDER":   "gmail",
		"USERNAME":   "shop@gmail.example",
		"PASSWORD":   "app-password",
		"FROM_EMAIL": "orders@shop.example",
		"FROM_NAME":  "Shop",
	}
	for k, v := range extra {
		store[k] = v
	}
	settings := config.NewSettings(store)

	logMem := logstore.NewMemoryStore()
	logger := logstore.NewLogger(logMem, settings)
	tracker := tracking.New(tracking.NewMemoryStore(), settings, logger)
	eng := New(settings, logger, tracker, security.NewChecker(settings))
	eng.newID = func() string { return "fixed-id" }
	return eng, logMem
}

func stubSMTP(t *testing.T, fn func(provider.Profile, string, string, time.Duration, string, []string, []byte) error) *int {
	t.Helper()
	calls := 0
	orig := smtpDeliver
	smtpDeliver = func(p provider.Profile, u, pw string, timeout time.Duration, from string, rcpts []string, data []byte) error {
		calls++
		return fn(p, u, pw, timeout, from, rcpts, data)
	}
	t.Cleanup(func() { smtpDeliver = orig })
	return &calls
}

func testMessage() *email.Message {
	return &email.Message{
		To:       []string{"customer@x.example"},
		Subject:  "Your order",
		HTMLBody: "<body><p>Thanks!</p></body>",
	}
}

func TestSendSuccess(t *testing.T) {
	eng, logMem := testEngine(t, nil)

	var gotProfile provider.Profile
	var gotData []byte
	stubSMTP(t, func(p provider.Profile, _, _ string, _ time.Duration, from string, rcpts []string, data []byte) error {
		gotProfile = p
		gotData = data
		if from != "orders@shop.example" {
			t.Fatalf("from = %q", from)
		}
		if len(rcpts) != 1 || rcpts[0] != "customer@x.example" {
			t.Fatalf("rcpts = %v", rcpts)
		}
		return nil
	})

	res, err := eng.Send(config.Global, testMessage())
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if res.Provider != provider.Gmail || res.FallbackUsed {
		t.Fatalf("result = %+v", res)
	}
	if gotProfile.Host != "smtp.gmail.com" || gotProfile.Port != 587 {
		t.Fatalf("profile = %s:%d", gotProfile.Host, gotProfile.Port)
	}
	if !strings.Contains(string(gotData), "Message-Id: <fixed-id@shop.example>") {
		t.Fatalf("wire data missing message id:\n%s", gotData)
	}

	n, _ := logMem.SentSince(time.Time{})
	if n != 1 {
		t.Fatalf("sent log rows = %d, want 1", n)
	}
}

func TestSendDisabled(t *testing.T) {
	eng, _ := testEngine(t, map[string]string{"ENABLED": "false"})
	calls := stubSMTP(t, func(provider.Profile, string, string, time.Duration, string, []string, []byte) error {
		return nil
	})

	_, err := eng.Send(config.Global, testMessage())
	se := AsSendError(err)
	if se.Kind != KindConfig || se.Retryable {
		t.Fatalf("error = %+v", se)
	}
	if *calls != 0 {
		t.Fatalf("transport attempted while disabled")
	}
}

type recordingDefaultSender struct {
	msgs []*email.Message
}

func (r *recordingDefaultSender) Send(_ config.Scope, msg *email.Message) error {
	r.msgs = append(r.msgs, msg)
	return nil
}

func TestSendDisabledUsesDefaultSender(t *testing.T) {
	eng, _ := testEngine(t, map[string]string{"ENABLED": "false"})
	calls := stubSMTP(t, func(provider.Profile, string, string, time.Duration, string, []string, []byte) error {
		return nil
	})
	def := &recordingDefaultSender{}
	eng.SetDefaultSender(def)

	res, err := eng.Send(config.Global, testMessage())
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Provider != "default" {
		t.Fatalf("provider = %q, want default", res.Provider)
	}
	if len(def.msgs) != 1 {
		t.Fatalf("default sender received %d messages, want 1", len(def.msgs))
	}
	if def.msgs[0].FromEmail == "" {
		t.Fatalf("sender defaults not applied before handoff")
	}
	if *calls != 0 {
		t.Fatalf("transport attempted while disabled")
	}
}

func TestSendBlockedRecipient(t *testing.T) {
	eng, logMem := testEngine(t, map[string]string{"BLACKLIST": "*@spam.test"})
	calls := stubSMTP(t, func(provider.Profile, string, string, time.Duration, string, []string, []byte) error {
		return nil
	})

	msg := testMessage()
	msg.To = []string{"victim@spam.test"}

	_, err := eng.Send(config.Global, msg)
	se := AsSendError(err)
	if se.Kind != KindPolicy || se.Retryable {
		t.Fatalf("error = %+v", se)
	}
	if *calls != 0 {
		t.Fatalf("transport attempted for blocked recipient")
	}

	stats, _ := logMem.StatsBetween(time.Time{}, time.Now().Add(time.Hour))
	if stats.Blocked != 1 {
		t.Fatalf("blocked log rows = %d, want 1", stats.Blocked)
	}
}

func TestSendRateLimited(t *testing.T) {
	eng, logMem := testEngine(t, map[string]string{"RATE_LIMIT": "1"})
	calls := stubSMTP(t, func(provider.Profile, string, string, time.Duration, string, []string, []byte) error {
		return nil
	})

	logMem.Insert(&logstore.Entry{Status: logstore.StatusSent, CreatedAt: time.Now()})

	_, err := eng.Send(config.Global, testMessage())
	se := AsSendError(err)
	if se.Kind != KindPolicy || !se.Retryable {
		t.Fatalf("error = %+v", se)
	}
	if *calls != 0 {
		t.Fatalf("transport attempted over the rate cap")
	}
}

func TestSendFallback(t *testing.T) {
	eng, _ := testEngine(t, map[string]string{
		"FALLBACK_ENABLED":  "true",
		"FALLBACK_PROVIDER": "sendgrid",
	})

	var hosts []string
	stubSMTP(t, func(p provider.Profile, _, _ string, _ time.Duration, _ string, _ []string, _ []byte) error {
		hosts = append(hosts, p.Host)
		if p.Provider == provider.Gmail {
			return errors.New("connection refused")
		}
		return nil
	})

	res, err := eng.Send(config.Global, testMessage())
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if !res.FallbackUsed || res.Provider != provider.SendGrid {
		t.Fatalf("result = %+v", res)
	}
	if len(hosts) != 2 || hosts[0] != "smtp.gmail.com" || hosts[1] != "smtp.sendgrid.net" {
		t.Fatalf("hosts = %v", hosts)
	}
}

func TestSendFallbackSkippedForPolicy(t *testing.T) {
	eng, _ := testEngine(t, map[string]string{
		"FALLBACK_ENABLED":  "true",
		"FALLBACK_PROVIDER": "sendgrid",
		"BLACKLIST":         "*@x.example",
	})
	calls := stubSMTP(t, func(provider.Profile, string, string, time.Duration, string, []string, []byte) error {
		return nil
	})

	_, err := eng.Send(config.Global, testMessage())
	if err == nil {
		t.Fatalf("expected policy error")
	}
	if *calls != 0 {
		t.Fatalf("fallback attempted after a policy rejection")
	}
}

func TestSendAPIProvider(t *testing.T) {
	eng, _ := testEngine(t, map[string]string{
		"PROVIDER": "smtp2go",
		"USERNAME": "relay-user",
		"PASSWORD": "api-key",
	})

	smtpCalls := stubSMTP(t, func(provider.Profile, string, string, time.Duration, string, []string, []byte) error {
		return nil
	})

	apiCalls := 0
	origAPI := apiDeliver
	apiDeliver = func(endpoint, apiKey string, msg *email.Message) (string, error) {
		apiCalls++
		if endpoint != "https://api.smtp2go.com/v3/email/send" {
			t.Fatalf("endpoint = %q", endpoint)
		}
		if apiKey != "api-key" {
			t.Fatalf("api key = %q", apiKey)
		}
		return "remote-1", nil
	}
	t.Cleanup(func() { apiDeliver = origAPI })

	res, err := eng.Send(config.Global, testMessage())
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if res.Provider != provider.Smtp2go {
		t.Fatalf("provider = %s", res.Provider)
	}
	if apiCalls != 1 || *smtpCalls != 0 {
		t.Fatalf("api calls = %d, smtp calls = %d", apiCalls, *smtpCalls)
	}
}

func TestSendTransportFailureLogged(t *testing.T) {
	eng, logMem := testEngine(t, nil)
	stubSMTP(t, func(provider.Profile, string, string, time.Duration, string, []string, []byte) error {
		return errors.New("535 authentication failed")
	})

	_, err := eng.Send(config.Global, testMessage())
	se := AsSendError(err)
	if se.Kind != KindTransport || !se.Retryable {
		t.Fatalf("error = %+v", se)
	}

	stats, _ := logMem.StatsBetween(time.Time{}, time.Now().Add(time.Hour))
	if stats.Failed != 1 {
		t.Fatalf("failed log rows = %d, want 1", stats.Failed)
	}
}

func TestSendInstrumentsBody(t *testing.T) {
	eng, _ := testEngine(t, map[string]string{
		"TRACKING_ENABLED": "true",
		"TRACK_OPENS":      "true",
		"TRACKING_SECRET":  "secret",
		"BASE_URL":         "https://shop.example",
	})

	var gotData []byte
	stubSMTP(t, func(_ provider.Profile, _, _ string, _ time.Duration, _ string, _ []string, data []byte) error {
		gotData = data
		return nil
	})

	if _, err := eng.Send(config.Global, testMessage()); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if !strings.Contains(string(gotData), "/track/pixel") {
		t.Fatalf("wire data not instrumented")
	}
}

func TestHumanize(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"dial tcp: connection refused", "Cannot connect to the SMTP server"},
		{"535 authentication failed", "authentication failed"},
		{"x509: certificate signed by unknown authority", "SSL/TLS"},
		{"lookup smtp.x: no such host", "Cannot resolve"},
		{"421 too many connections", "Rate limit"},
		{"552 quota exceeded", "quota"},
		{"550 mailbox unavailable", "recipient"},
		{"something entirely different", "Check that the host and port"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.raw, func(t *testing.T) {
			got := Humanize(errors.New(tc.raw))
			if !strings.Contains(got, tc.want) {
				t.Fatalf("Humanize(%q) = %q, want substring %q", tc.raw, got, tc.want)
			}
			// Deterministic on repeat.
			if again := Humanize(errors.New(tc.raw)); again != got {
				t.Fatalf("Humanize not deterministic")
			}
		})
	}

	if Humanize(nil) != "" {
		t.Fatalf("Humanize(nil) not empty")
	}
}
