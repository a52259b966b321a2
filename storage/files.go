// Package storage archives raw outbound messages on disk when debug mode
// is on, so operators can inspect exactly what went over the wire.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Archive writes .eml files under a base directory, one subdirectory per
// UTC day. Recipient addresses are hashed in filenames so the archive can
// be shared without leaking addresses.
type Archive struct {
	base string
	now  func() time.Time
}

func NewArchive(base string) *Archive {
	return &Archive{base: base, now: time.Now}
}

var defaultArchive = NewArchive("./data/archive")

// SaveMessage stores the signed wire form of a message in the default
// archive, keyed by message id and a recipient hash.
func SaveMessage(id, to string, data []byte) error {
	return defaultArchive.Save(id, to, data)
}

// SetBaseDir points the default archive at a different directory.
func SetBaseDir(dir string) {
	defaultArchive.base = dir
}

func (a *Archive) Save(id, to string, data []byte) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("empty identifier")
	}
	if strings.ContainsAny(id, "/\\") || strings.Contains(id, "..") {
		return errors.New("invalid identifier")
	}

	dir := filepath.Join(a.base, a.now().UTC().Format("2006-01-02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	name := id + "_" + recipientToken(to) + ".eml"
	return os.WriteFile(filepath.Join(dir, name), append([]byte(nil), data...), 0o600)
}

func recipientToken(addr string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(addr))))
	return hex.EncodeToString(sum[:8])
}
