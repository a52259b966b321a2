package tracking

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"mailrelay/internal/config"
	"mailrelay/internal/metrics"
)

func testSettings(extra map[string]string) *config.Settings {
	store := config.MapStore{
		"TRACKING_ENABLED": "true",
		"TRACK_OPENS":      "true",
		"TRACK_CLICKS":     "true",
		"TRACK_BOUNCES":    "true",
		"TRACKING_SECRET":  "s3cret",
		"BASE_URL":         "https://shop.example",
	}
	for k, v := range extra {
		store[k] = v
	}
	return config.NewSettings(store)
}

func TestSignVerify(t *testing.T) {
	params := url.Values{}
	params.Set("id", "abc")
	params.Set("r", "user@x.example")
	params.Set("sig", Sign(params, "secret"))

	if !Verify(params, "secret") {
		t.Fatalf("valid signature rejected")
	}

	params.Set("r", "attacker@x.example")
	if Verify(params, "secret") {
		t.Fatalf("tampered parameters accepted")
	}
}

func TestEncodeDecodeID(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	encoded := EncodeID("msg-1", now)
	id, err := DecodeID(encoded, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("DecodeID returned error: %v", err)
	}
	if id != "msg-1" {
		t.Fatalf("id = %q", id)
	}

	if _, err := DecodeID(encoded, now.AddDate(0, 0, 31)); err == nil {
		t.Fatalf("expired id accepted")
	}
	if _, err := DecodeID("%%%", now); err == nil {
		t.Fatalf("garbage accepted")
	}
}

func TestInstrument(t *testing.T) {
	tracker := New(NewMemoryStore(), testSettings(nil), nil)

	html := `<html><body><a href="https://shop.example/sale">Sale</a>` +
		`<a href="mailto:help@shop.example">Help</a>` +
		`<a href="https://shop.example/unsubscribe?u=1">Unsubscribe</a>` +
		`<a href="#top">Top</a></body></html>`

	out := tracker.Instrument(config.Global, html, "msg-1", "user@x.example")

	if !strings.Contains(out, "/track/click?") {
		t.Fatalf("no click rewrite in %q", out)
	}
	if !strings.Contains(out, "/track/pixel?") {
		t.Fatalf("no pixel in %q", out)
	}
	if !strings.Contains(out, `<img `) || !strings.Contains(out, `</body>`) {
		t.Fatalf("pixel missing or body tag lost: %q", out)
	}
	if strings.Index(out, "<img ") > strings.Index(out, "</body>") {
		t.Fatalf("pixel injected after closing body tag")
	}
	for _, keep := range []string{`href="mailto:help@shop.example"`, `href="#top"`, "unsubscribe?u=1"} {
		if !strings.Contains(out, keep) {
			t.Fatalf("untrackable link rewritten, missing %q in %q", keep, out)
		}
	}
	if strings.Contains(out, `href="https://shop.example/sale"`) {
		t.Fatalf("trackable link not rewritten")
	}
}

func TestInstrumentDisabled(t *testing.T) {
	tracker := New(NewMemoryStore(), config.NewSettings(config.MapStore{}), nil)

	html := `<body><a href="https://x.example">x</a></body>`
	if out := tracker.Instrument(config.Global, html, "m", "r"); out != html {
		t.Fatalf("disabled tracking altered body")
	}
}

func TestInstrumentWithoutBodyTag(t *testing.T) {
	tracker := New(NewMemoryStore(), testSettings(map[string]string{"TRACK_CLICKS": "false"}), nil)

	out := tracker.Instrument(config.Global, "<p>hi</p>", "m", "r")
	if !strings.HasSuffix(out, "/>") || !strings.Contains(out, "/track/pixel?") {
		t.Fatalf("pixel not appended: %q", out)
	}
}

func TestOpenDeduplication(t *testing.T) {
	store := NewMemoryStore()
	tracker := New(store, testSettings(nil), nil)

	tracker.RecordSent("msg-1", "a@x.example", "Subject", "shop@x.example")
	tracker.RecordOpen("msg-1", "a@x.example", "192.0.2.1", "ua")
	tracker.RecordOpen("msg-1", "a@x.example", "192.0.2.1", "ua")
	tracker.RecordOpen("msg-1", "b@x.example", "192.0.2.2", "ua")

	stats, err := tracker.Stats("msg-1", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Stats returned error: %v", err)
	}
	if stats.Opens != 3 {
		t.Fatalf("opens = %d, want 3", stats.Opens)
	}
	if stats.UniqueOpens != 2 {
		t.Fatalf("unique opens = %d, want 2", stats.UniqueOpens)
	}
}

func TestStatsRates(t *testing.T) {
	store := NewMemoryStore()
	tracker := New(store, testSettings(nil), nil)

	for _, r := range []string{"a@x.example", "b@x.example", "c@x.example"} {
		tracker.RecordSent("msg-1", r, "Subject", "shop@x.example")
	}
	tracker.RecordOpen("msg-1", "a@x.example", "", "")
	tracker.RecordClick("msg-1", "a@x.example", "https://x.example", "", "")

	stats, err := tracker.Stats("msg-1", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Stats returned error: %v", err)
	}
	if stats.OpenRate != 33.33 {
		t.Fatalf("open rate = %v, want 33.33", stats.OpenRate)
	}
	if stats.ClickRate != 33.33 {
		t.Fatalf("click rate = %v, want 33.33", stats.ClickRate)
	}

	// No sends means zero rates, not a division by zero.
	empty, err := tracker.Stats("msg-unknown", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Stats returned error: %v", err)
	}
	if empty.OpenRate != 0 || empty.ClickRate != 0 {
		t.Fatalf("empty stats = %+v", empty)
	}
}

func TestStatsDateRangeAndAggregate(t *testing.T) {
	store := NewMemoryStore()
	tracker := New(store, testSettings(nil), nil)

	day1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	tracker.now = func() time.Time { return day1 }
	tracker.RecordSent("msg-1", "a@x.example", "s", "f")
	tracker.RecordOpen("msg-1", "a@x.example", "", "")

	tracker.now = func() time.Time { return day2 }
	tracker.RecordSent("msg-2", "b@x.example", "s", "f")
	tracker.RecordClick("msg-2", "b@x.example", "https://x.example", "", "")

	// Empty message id aggregates across all messages.
	all, err := tracker.Stats("", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Stats returned error: %v", err)
	}
	if all.Sent != 2 || all.UniqueOpens != 1 || all.UniqueClicks != 1 {
		t.Fatalf("aggregate stats = %+v", all)
	}

	// A window covering only the first day excludes the second message.
	first, err := tracker.Stats("", day1, day1.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("Stats returned error: %v", err)
	}
	if first.Sent != 1 || first.UniqueOpens != 1 || first.Clicks != 0 {
		t.Fatalf("windowed stats = %+v", first)
	}

	// Range filtering applies to per-message stats too.
	late, err := tracker.Stats("msg-1", day2, time.Time{})
	if err != nil {
		t.Fatalf("Stats returned error: %v", err)
	}
	if late.Sent != 0 || late.Opens != 0 {
		t.Fatalf("out-of-window stats = %+v", late)
	}
}

type mapResolver map[string]string

func (m mapResolver) Recipient(messageID string) (string, error) { return m[messageID], nil }

func TestRecordBounce(t *testing.T) {
	store := NewMemoryStore()
	tracker := New(store, testSettings(nil), mapResolver{"msg-1": "a@x.example"})

	tracker.RecordBounce(config.Global, "msg-1", "mailbox unavailable", "hard")

	bounces := store.Bounces()
	if len(bounces) != 1 {
		t.Fatalf("bounce ledger rows = %d, want 1", len(bounces))
	}
	if bounces[0].Email != "a@x.example" || bounces[0].Type != "hard" {
		t.Fatalf("bounce = %+v", bounces[0])
	}

	// Unresolvable message ids record the event but skip the ledger.
	tracker.RecordBounce(config.Global, "msg-unknown", "reason", "soft")
	if len(store.Bounces()) != 1 {
		t.Fatalf("unresolvable bounce hit the ledger")
	}
}

func TestRecordCountsMetrics(t *testing.T) {
	metrics.ResetForTests()
	store := NewMemoryStore()
	tracker := New(store, testSettings(nil), mapResolver{"m": "a@x.example"})

	tracker.RecordOpen("m", "a@x.example", "", "")
	tracker.RecordOpen("m", "a@x.example", "", "")
	tracker.RecordClick("m", "a@x.example", "https://x.example", "", "")
	tracker.RecordBounce(config.Global, "m", "mailbox unavailable", "hard")

	if got := metrics.TrackingOpens.Value(); got != 2 {
		t.Fatalf("opens counter = %d, want 2", got)
	}
	if got := metrics.TrackingClicks.Value(); got != 1 {
		t.Fatalf("clicks counter = %d, want 1", got)
	}
	if got := metrics.TrackingBounces.Value(); got != 1 {
		t.Fatalf("bounces counter = %d, want 1", got)
	}
}

func TestEngagement(t *testing.T) {
	store := NewMemoryStore()
	tracker := New(store, testSettings(nil), nil)

	tracker.RecordSent("m1", "a@x.example", "s", "f")
	tracker.RecordSent("m2", "a@x.example", "s", "f")
	tracker.RecordOpen("m1", "a@x.example", "", "")
	tracker.RecordClick("m1", "a@x.example", "https://x.example", "", "")

	eng, err := tracker.Engagement("a@x.example")
	if err != nil {
		t.Fatalf("Engagement returned error: %v", err)
	}
	if eng.TotalEmails != 2 || eng.Opens != 1 || eng.Clicks != 1 {
		t.Fatalf("engagement = %+v", eng)
	}
	// 0.5 opens/email * 0.3 + 0.5 clicks/email * 0.7, scaled to 100.
	if eng.Score != 50 {
		t.Fatalf("score = %v, want 50", eng.Score)
	}
	if eng.LastOpen.IsZero() || eng.LastClick.IsZero() {
		t.Fatalf("last interaction timestamps not set")
	}
}

func TestPixelHandler(t *testing.T) {
	store := NewMemoryStore()
	settings := testSettings(nil)
	tracker := New(store, settings, nil)
	handler := NewHandler(tracker, settings)

	mux := http.NewServeMux()
	handler.Register(mux)
	server := httptest.NewServer(mux)
	defer server.Close()

	params := url.Values{}
	params.Set("id", EncodeID("msg-1", time.Now()))
	params.Set("r", "a@x.example")
	params.Set("sig", Sign(params, "s3cret"))

	resp, err := http.Get(server.URL + "/track/pixel?" + params.Encode())
	if err != nil {
		t.Fatalf("GET pixel: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/gif" {
		t.Fatalf("content type = %q", ct)
	}

	stats, _ := tracker.Stats("msg-1", time.Time{}, time.Time{})
	if stats.UniqueOpens != 1 {
		t.Fatalf("open not recorded: %+v", stats)
	}

	// A tampered signature still serves the image but records nothing.
	params.Set("sig", "bad")
	resp, err = http.Get(server.URL + "/track/pixel?" + params.Encode())
	if err != nil {
		t.Fatalf("GET pixel: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	stats, _ = tracker.Stats("msg-1", time.Time{}, time.Time{})
	if stats.Opens != 1 {
		t.Fatalf("tampered pixel recorded an open")
	}
}

func TestPixelHandlerScopedSecret(t *testing.T) {
	store := NewMemoryStore()
	settings := config.NewSettings(config.MapStore{
		"TRACKING_ENABLED":      "true",
		"TRACKING_SECRET":       "global-secret",
		"BASE_URL":              "https://shop.example",
		"TRACK_OPENS":           "false",
		"TRACK_CLICKS":          "false",
		"shop1/TRACKING_SECRET": "tenant-secret",
		"shop1/TRACK_OPENS":     "true",
	})
	tracker := New(store, settings, nil)
	handler := NewHandler(tracker, settings)

	mux := http.NewServeMux()
	handler.Register(mux)
	server := httptest.NewServer(mux)
	defer server.Close()

	out := tracker.Instrument(config.Scope("shop1"), "<body>hi</body>", "msg-1", "a@x.example")
	i := strings.Index(out, "/track/pixel?")
	if i < 0 {
		t.Fatalf("no pixel for scoped tenant: %q", out)
	}
	query := out[i+len("/track/pixel?"):]
	query = query[:strings.Index(query, `"`)]
	if !strings.Contains(query, "s=shop1") {
		t.Fatalf("scope not carried in pixel parameters: %q", query)
	}

	resp, err := http.Get(server.URL + "/track/pixel?" + query)
	if err != nil {
		t.Fatalf("GET pixel: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	stats, _ := tracker.Stats("msg-1", time.Time{}, time.Time{})
	if stats.UniqueOpens != 1 {
		t.Fatalf("open signed with scoped secret not recorded: %+v", stats)
	}

	// Stripping the scope makes the handler verify against the global
	// secret, which must fail.
	stripped := strings.Replace(query, "s=shop1", "s=", 1)
	resp, err = http.Get(server.URL + "/track/pixel?" + stripped)
	if err != nil {
		t.Fatalf("GET pixel: %v", err)
	}
	resp.Body.Close()
	stats, _ = tracker.Stats("msg-1", time.Time{}, time.Time{})
	if stats.Opens != 1 {
		t.Fatalf("scope-stripped pixel recorded an open")
	}
}

func TestClickHandler(t *testing.T) {
	store := NewMemoryStore()
	settings := testSettings(nil)
	tracker := New(store, settings, nil)
	handler := NewHandler(tracker, settings)

	mux := http.NewServeMux()
	handler.Register(mux)
	server := httptest.NewServer(mux)
	defer server.Close()

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}

	params := url.Values{}
	params.Set("id", EncodeID("msg-1", time.Now()))
	params.Set("r", "a@x.example")
	params.Set("url", "https://shop.example/sale")
	params.Set("sig", Sign(params, "s3cret"))

	resp, err := client.Get(server.URL + "/track/click?" + params.Encode())
	if err != nil {
		t.Fatalf("GET click: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want 302", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "https://shop.example/sale" {
		t.Fatalf("location = %q", loc)
	}

	stats, _ := tracker.Stats("msg-1", time.Time{}, time.Time{})
	if stats.Clicks != 1 {
		t.Fatalf("click not recorded: %+v", stats)
	}

	// Tampered URLs must not redirect.
	params.Set("url", "https://evil.example")
	resp, err = client.Get(server.URL + "/track/click?" + params.Encode())
	if err != nil {
		t.Fatalf("GET click: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("tampered click status = %d, want 400", resp.StatusCode)
	}
}
