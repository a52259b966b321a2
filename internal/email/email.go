package email

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
)

var (
	// ErrInvalidAddress indicates the address failed validation.
	ErrInvalidAddress = errors.New("invalid email address")
)

// Attachment is a named body part carried alongside the message.
type Attachment struct {
	Name     string
	Content  []byte
	MimeType string
}

// Message is an outbound email. It is immutable once handed to the delivery
// engine for an attempt; a retried message is the same value re-attempted.
type Message struct {
	To      []string
	Cc      []string
	Bcc     []string
	ReplyTo string

	FromEmail string
	FromName  string

	Subject  string
	HTMLBody string
	TextBody string

	Attachments []Attachment

	// Headers carries custom headers; addressing headers (To, From, Cc,
	// Bcc, Subject) are ignored during composition.
	Headers map[string]string
}

// Recipients returns every envelope recipient (to, cc, bcc) in order.
func (m *Message) Recipients() []string {
	out := make([]string, 0, len(m.To)+len(m.Cc)+len(m.Bcc))
	out = append(out, m.To...)
	out = append(out, m.Cc...)
	out = append(out, m.Bcc...)
	return out
}

// Valid reports whether the address parses as a bare email address.
func Valid(address string) bool {
	parsed, err := mail.ParseAddress(strings.TrimSpace(address))
	return err == nil && parsed.Address == strings.TrimSpace(address)
}

// Domain returns the domain component of a validated email address.
func Domain(address string) (string, error) {
	at := strings.LastIndex(address, "@")
	if at == -1 || at == len(address)-1 {
		return "", fmt.Errorf("%w: missing domain", ErrInvalidAddress)
	}

	domain := address[at+1:]
	domain = strings.TrimSuffix(domain, ".")
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return "", fmt.Errorf("%w: empty domain", ErrInvalidAddress)
	}
	if strings.ContainsAny(domain, " \t") {
		return "", fmt.Errorf("%w: whitespace in domain", ErrInvalidAddress)
	}

	return strings.ToLower(domain), nil
}

// MatchPattern matches an address against a glob pattern supporting '*' and
// '?'. Matching is case-insensitive over the full address.
func MatchPattern(address, pattern string) bool {
	return matchGlob(strings.ToLower(pattern), strings.ToLower(strings.TrimSpace(address)))
}

func matchGlob(pattern, s string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case '*':
			// Collapse consecutive stars.
			for len(pattern) > 0 && pattern[0] == '*' {
				pattern = pattern[1:]
			}
			if pattern == "" {
				return true
			}
			for i := 0; i <= len(s); i++ {
				if matchGlob(pattern, s[i:]) {
					return true
				}
			}
			return false
		case '?':
			if s == "" {
				return false
			}
			pattern, s = pattern[1:], s[1:]
		default:
			if s == "" || pattern[0] != s[0] {
				return false
			}
			pattern, s = pattern[1:], s[1:]
		}
	}
	return s == ""
}

// StripTags derives a crude plain-text rendering from HTML, used when no
// explicit text alternative was supplied.
func StripTags(html string) string {
	var b strings.Builder
	inTag := false
	for _, r := range html {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	out := b.String()
	out = strings.ReplaceAll(out, "&nbsp;", " ")
	out = strings.ReplaceAll(out, "&amp;", "&")
	out = strings.ReplaceAll(out, "&lt;", "<")
	out = strings.ReplaceAll(out, "&gt;", ">")
	return strings.TrimSpace(out)
}
