// Package tlsconfig builds the client TLS configuration used when talking
// to relay hosts.
package tlsconfig

import (
	"crypto/tls"
	"log"
	"os"
	"strings"
)

// ClientConfig returns the tls.Config for connecting to host. Returns nil
// for the plaintext encryption mode. MAIL_TLS_INSECURE=true disables
// certificate verification for lab setups with self-signed relays.
func ClientConfig(encryption, host string) *tls.Config {
	if strings.EqualFold(encryption, "none") {
		return nil
	}
	conf := &tls.Config{
		ServerName: host,
		MinVersion: tls.VersionTLS12,
	}
	if strings.EqualFold(strings.TrimSpace(os.Getenv("MAIL_TLS_INSECURE")), "true") {
		log.Println("[TLS] certificate verification disabled via MAIL_TLS_INSECURE")
		conf.InsecureSkipVerify = true
	}
	return conf
}

// RequiresImplicitTLS reports whether the encryption mode wraps the whole
// connection in TLS from the first byte rather than upgrading via STARTTLS.
func RequiresImplicitTLS(encryption string) bool {
	return strings.EqualFold(encryption, "ssl")
}
