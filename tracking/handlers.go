package tracking

import (
	"log"
	"net"
	"net/http"

	"mailrelay/internal/config"
)

// 1x1 transparent GIF.
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

// Handler serves the pixel and click redirect endpoints.
type Handler struct {
	tracker  *Tracker
	settings *config.Settings
}

func NewHandler(tracker *Tracker, settings *config.Settings) *Handler {
	return &Handler{tracker: tracker, settings: settings}
}

// Register mounts the tracking endpoints on a mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/track/pixel", h.pixel)
	mux.HandleFunc("/track/click", h.click)
}

// pixel records an open and always answers with the transparent image, even
// for invalid requests, so a broken or replayed URL renders nothing odd in
// the mail client.
func (h *Handler) pixel(w http.ResponseWriter, r *http.Request) {
	if messageID, recipient, scope, ok := h.verify(r); ok && h.settings.TrackOpens(scope) {
		h.tracker.RecordOpen(messageID, recipient, clientIP(r), r.UserAgent())
	}

	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.Write(pixelGIF)
}

// click records the click and redirects to the original URL. Tampered or
// expired links answer 400 instead of redirecting anywhere.
func (h *Handler) click(w http.ResponseWriter, r *http.Request) {
	messageID, recipient, scope, ok := h.verify(r)
	target := r.URL.Query().Get("url")
	if !ok || target == "" {
		http.Error(w, "invalid tracking link", http.StatusBadRequest)
		return
	}

	if h.settings.TrackClicks(scope) {
		h.tracker.RecordClick(messageID, recipient, target, clientIP(r), r.UserAgent())
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// verify checks the signature with the secret of the scope named in the
// signed parameters. The scope cannot be forged without that scope's
// secret because the signature covers it.
func (h *Handler) verify(r *http.Request) (messageID, recipient string, scope config.Scope, ok bool) {
	params := r.URL.Query()
	scope = config.Scope(params.Get("s"))
	secret := h.settings.TrackingSecret(scope)
	if secret == "" {
		return "", "", scope, false
	}
	if !Verify(params, secret) {
		log.Printf("tracking: signature mismatch from %s", clientIP(r))
		return "", "", scope, false
	}
	id, err := DecodeID(params.Get("id"), h.tracker.now())
	if err != nil {
		log.Printf("tracking: %v", err)
		return "", "", scope, false
	}
	return id, params.Get("r"), scope, true
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
