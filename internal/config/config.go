package config

import (
	"os"
	"strconv"
	"strings"
)

// Scope identifies a tenant configuration scope. The empty scope is the
// global configuration; any other value selects a tenant override that falls
// back to the global value when unset.
type Scope string

// Global is the default scope.
const Global Scope = ""

// Store provides read access to settings scoped by tenant.
type Store interface {
	Get(key string, scope Scope) string
}

const envPrefix = "MAIL_"

// EnvStore reads settings from environment variables. A global key KEY maps
// to MAIL_KEY; a tenant override maps to MAIL_<SCOPE>_KEY and falls back to
// the global variable when empty.
type EnvStore struct{}

// NewEnvStore returns a Store backed by the process environment.
func NewEnvStore() *EnvStore {
	return &EnvStore{}
}

func (s *EnvStore) Get(key string, scope Scope) string {
	if scope != Global {
		scoped := envPrefix + sanitizeScope(scope) + "_" + key
		if v := strings.TrimSpace(os.Getenv(scoped)); v != "" {
			return v
		}
	}
	return strings.TrimSpace(os.Getenv(envPrefix + key))
}

func sanitizeScope(scope Scope) string {
	s := strings.ToUpper(string(scope))
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, s)
}

// MapStore is an in-memory Store for tests. Keys are "KEY" for global values
// and "SCOPE/KEY" for tenant overrides.
type MapStore map[string]string

func (m MapStore) Get(key string, scope Scope) string {
	if scope != Global {
		if v, ok := m[string(scope)+"/"+key]; ok {
			return v
		}
	}
	return m[key]
}

// parseBool recognises "true"/"1" and "false"/"0"; any other value results
// in the provided default.
func parseBool(value string, defaultValue bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1":
		return true
	case "false", "0":
		return false
	default:
		return defaultValue
	}
}

func parseInt(value string, defaultValue int) int {
	value = strings.TrimSpace(value)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

// parseList splits a comma-separated value, dropping blanks.
func parseList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
