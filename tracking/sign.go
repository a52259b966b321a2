package tracking

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Encoded message ids expire after 30 days.
const idValidity = 30 * 24 * time.Hour

// Sign computes the signature over a parameter set: values ordered by key,
// joined with "|" and hashed together with the secret.
func Sign(params url.Values, secret string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "sig" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := make([]string, 0, len(keys))
	for _, k := range keys {
		values = append(values, params.Get(k))
	}

	sum := sha256.Sum256([]byte(strings.Join(values, "|") + secret))
	return hex.EncodeToString(sum[:])
}

// Verify recomputes the signature and compares it in constant time.
func Verify(params url.Values, secret string) bool {
	sig := params.Get("sig")
	if sig == "" {
		return false
	}
	want := Sign(params, secret)
	return subtle.ConstantTimeCompare([]byte(sig), []byte(want)) == 1
}

// EncodeID wraps a message id with its issue timestamp for expiry checks.
func EncodeID(messageID string, issued time.Time) string {
	payload := messageID + "|" + strconv.FormatInt(issued.Unix(), 10)
	return base64.RawURLEncoding.EncodeToString([]byte(payload))
}

// DecodeID unpacks an encoded message id, rejecting malformed input and ids
// issued outside the validity window.
func DecodeID(encoded string, now time.Time) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("tracking: decode id: %w", err)
	}
	payload := string(raw)
	i := strings.LastIndex(payload, "|")
	if i <= 0 {
		return "", fmt.Errorf("tracking: malformed id payload")
	}
	ts, err := strconv.ParseInt(payload[i+1:], 10, 64)
	if err != nil {
		return "", fmt.Errorf("tracking: malformed id timestamp")
	}
	issued := time.Unix(ts, 0)
	if now.Sub(issued) > idValidity || issued.After(now.Add(time.Hour)) {
		return "", fmt.Errorf("tracking: id outside validity window")
	}
	return payload[:i], nil
}
