package engine

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"mailrelay/provider"
	"mailrelay/tlsconfig"
)

const heloName = "mailrelay.local"

// smtpDeliver is swapped out in tests.
var smtpDeliver = deliverSMTP

// deliverSMTP submits raw message data to the relay described by the
// profile. The ssl mode wraps the connection from the first byte; tls and
// starttls upgrade after EHLO and fail when the server does not offer
// STARTTLS.
func deliverSMTP(profile provider.Profile, username, password string, timeout time.Duration, from string, rcpts []string, data []byte) error {
	addr := net.JoinHostPort(profile.Host, strconv.Itoa(profile.Port))
	dialer := &net.Dialer{Timeout: timeout}
	tlsConf := tlsconfig.ClientConfig(profile.Encryption, profile.Host)

	var conn net.Conn
	var err error
	if tlsconfig.RequiresImplicitTLS(profile.Encryption) {
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, tlsConf)
	} else {
		conn, err = dialer.Dial("tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(2 * time.Minute)); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}

	client, err := smtp.NewClient(conn, profile.Host)
	if err != nil {
		return fmt.Errorf("new client: %w", err)
	}
	defer client.Close()

	if err := client.Hello(heloName); err != nil {
		return fmt.Errorf("helo: %w", err)
	}

	if tlsConf != nil && !tlsconfig.RequiresImplicitTLS(profile.Encryption) {
		ok, _ := client.Extension("STARTTLS")
		if !ok {
			return fmt.Errorf("server %s does not offer STARTTLS but encryption %q requires it", profile.Host, profile.Encryption)
		}
		if err := client.StartTLS(tlsConf); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
		if err := client.Hello(heloName); err != nil {
			return fmt.Errorf("post-starttls helo: %w", err)
		}
	}

	if username != "" && !strings.EqualFold(profile.AuthType, "none") {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(authFor(profile.AuthType, username, password, profile.Host)); err != nil {
				return fmt.Errorf("auth: %w", err)
			}
		}
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	for _, rcpt := range rcpts {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("rcpt to %s: %w", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data start: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("data write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("data close: %w", err)
	}

	if err := client.Quit(); err != nil {
		return fmt.Errorf("quit: %w", err)
	}
	return nil
}

func authFor(authType, username, password, host string) smtp.Auth {
	switch strings.ToLower(authType) {
	case "plain":
		return smtp.PlainAuth("", username, password, host)
	case "cram-md5":
		return smtp.CRAMMD5Auth(username, password)
	default:
		return &loginAuth{username: username, password: password}
	}
}

// loginAuth implements the AUTH LOGIN mechanism, which net/smtp does not
// ship but most commercial relays expect.
type loginAuth struct {
	username, password string
}

func (a *loginAuth) Start(*smtp.ServerInfo) (string, []byte, error) {
	return "LOGIN", []byte(a.username), nil
}

func (a *loginAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if !more {
		return nil, nil
	}
	switch strings.ToLower(strings.TrimSpace(string(fromServer))) {
	case "username:":
		return []byte(a.username), nil
	case "password:":
		return []byte(a.password), nil
	}
	return nil, errors.New("unexpected AUTH LOGIN challenge")
}
