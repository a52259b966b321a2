// Package dkim signs outbound messages when a selector and private key are
// configured.
package dkim

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log"
	"strings"

	msgauthdkim "github.com/emersion/go-msgauth/dkim"

	"mailrelay/internal/config"
)

// signedHeaders is the header set covered by the signature, in order.
var signedHeaders = []string{
	"from",
	"to",
	"subject",
	"date",
	"mime-version",
	"content-type",
	"message-id",
}

// Signer applies DKIM signatures to composed messages. A nil Signer is
// valid and passes messages through unsigned.
type Signer struct {
	domain   string
	selector string
	key      crypto.Signer
}

// Selector returns the configured DKIM selector string.
func (s *Signer) Selector() string {
	if s == nil {
		return ""
	}
	return s.selector
}

// Domain returns the configured DKIM signing domain, if any.
func (s *Signer) Domain() string {
	if s == nil {
		return ""
	}
	return s.domain
}

// Load builds a Signer from the scoped settings. A disabled toggle returns
// (nil, nil). Incomplete configuration with the toggle on is logged and
// treated as disabled so a missing key never blocks delivery; only an
// unparseable key is an error.
func Load(settings *config.Settings, scope config.Scope) (*Signer, error) {
	if !settings.DkimEnabled(scope) {
		return nil, nil
	}

	selector := settings.DkimSelector(scope)
	domain := settings.DkimDomain(scope)
	pemData := settings.DkimPrivateKey(scope)
	if selector == "" || domain == "" || strings.TrimSpace(pemData) == "" {
		log.Printf("dkim: enabled but selector, domain or private key missing, signing skipped")
		return nil, nil
	}

	key, err := parsePrivateKey([]byte(pemData))
	if err != nil {
		return nil, fmt.Errorf("dkim: parse private key: %w", err)
	}
	return &Signer{domain: domain, selector: selector, key: key}, nil
}

// Sign returns the message with a DKIM-Signature header prepended. Messages
// that already carry a signature are returned unchanged.
func (s *Signer) Sign(message []byte, from string) ([]byte, error) {
	if s == nil || s.key == nil {
		return message, nil
	}
	if hasSignature(message) {
		return message, nil
	}

	domain := s.domain
	if domain == "" {
		domain = domainOf(from)
	}
	if domain == "" {
		return nil, fmt.Errorf("dkim: unable to determine signing domain")
	}

	opts := &msgauthdkim.SignOptions{
		Domain:                 domain,
		Selector:               s.selector,
		Signer:                 s.key,
		HeaderCanonicalization: msgauthdkim.CanonicalizationRelaxed,
		BodyCanonicalization:   msgauthdkim.CanonicalizationRelaxed,
		HeaderKeys:             signedHeaders,
	}

	var signed bytes.Buffer
	if err := msgauthdkim.Sign(&signed, bytes.NewReader(toCRLF(message)), opts); err != nil {
		return nil, fmt.Errorf("dkim: signing failed: %w", err)
	}
	return signed.Bytes(), nil
}

// parsePrivateKey accepts PKCS#1 and PKCS#8 PEM blocks, skipping unrelated
// blocks such as certificates that may share the same file.
func parsePrivateKey(pemData []byte) (crypto.Signer, error) {
	for len(pemData) > 0 {
		block, rest := pem.Decode(pemData)
		if block == nil {
			break
		}
		pemData = rest

		switch block.Type {
		case "RSA PRIVATE KEY":
			return x509.ParsePKCS1PrivateKey(block.Bytes)
		case "PRIVATE KEY":
			key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, err
			}
			signer, ok := key.(crypto.Signer)
			if !ok {
				return nil, fmt.Errorf("unsupported private key type in PKCS#8 container")
			}
			return signer, nil
		}
	}
	return nil, fmt.Errorf("no private key found in PEM data")
}

// domainOf extracts the lowercased domain from a sender address, with or
// without angle brackets.
func domainOf(address string) string {
	address = strings.TrimSpace(address)
	address = strings.TrimPrefix(address, "<")
	address = strings.TrimSuffix(address, ">")
	i := strings.LastIndex(address, "@")
	if i < 0 || i+1 >= len(address) {
		return ""
	}
	return strings.ToLower(address[i+1:])
}

func hasSignature(message []byte) bool {
	upper := bytes.ToUpper(message)
	return bytes.HasPrefix(upper, []byte("DKIM-SIGNATURE:")) ||
		bytes.Contains(upper, []byte("\nDKIM-SIGNATURE:"))
}

// toCRLF converts bare-LF messages to CRLF line endings as the
// canonicalization requires. Messages already using CRLF pass through.
func toCRLF(data []byte) []byte {
	if bytes.Contains(data, []byte("\r\n")) || !bytes.Contains(data, []byte("\n")) {
		return data
	}
	return bytes.ReplaceAll(data, []byte("\n"), []byte("\r\n"))
}
