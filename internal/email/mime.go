package email

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"strings"
	"time"
)

// addressing headers are owned by the composer and never copied from
// Message.Headers.
var reservedHeaders = map[string]struct{}{
	"to": {}, "from": {}, "cc": {}, "bcc": {}, "subject": {},
	"message-id": {}, "date": {}, "mime-version": {}, "content-type": {},
}

// Compose renders the message to RFC 5322 wire format with CRLF line
// endings. The HTML body (when present) is sent as multipart/alternative
// with the explicit or derived plain-text part first.
func Compose(m *Message, messageID string, now time.Time) ([]byte, error) {
	if len(m.To) == 0 {
		return nil, fmt.Errorf("%w: no recipients", ErrInvalidAddress)
	}

	var buf bytes.Buffer
	writeHeader := func(name, value string) {
		fmt.Fprintf(&buf, "%s: %s\r\n", name, value)
	}

	from := mail.Address{Name: m.FromName, Address: m.FromEmail}
	writeHeader("From", from.String())
	writeHeader("To", strings.Join(m.To, ", "))
	if len(m.Cc) > 0 {
		writeHeader("Cc", strings.Join(m.Cc, ", "))
	}
	if m.ReplyTo != "" {
		writeHeader("Reply-To", m.ReplyTo)
	}
	writeHeader("Subject", mime.QEncoding.Encode("utf-8", m.Subject))
	if !strings.HasPrefix(messageID, "<") {
		messageID = "<" + messageID + ">"
	}
	writeHeader("Message-Id", messageID)
	writeHeader("Date", now.UTC().Format(time.RFC1123Z))
	writeHeader("MIME-Version", "1.0")
	if _, ok := m.Headers["X-Mailer"]; !ok {
		writeHeader("X-Mailer", "mailrelay")
	}

	for name, value := range m.Headers {
		if _, reserved := reservedHeaders[strings.ToLower(name)]; reserved {
			continue
		}
		writeHeader(textproto.CanonicalMIMEHeaderKey(name), value)
	}

	body, contentType, err := composeBody(m)
	if err != nil {
		return nil, err
	}
	writeHeader("Content-Type", contentType)
	buf.WriteString("\r\n")
	buf.Write(body)

	return buf.Bytes(), nil
}

func composeBody(m *Message) ([]byte, string, error) {
	alt, altType, err := alternativePart(m)
	if err != nil {
		return nil, "", err
	}
	if len(m.Attachments) == 0 {
		return alt, altType, nil
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreatePart(textproto.MIMEHeader{"Content-Type": {altType}})
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(alt); err != nil {
		return nil, "", err
	}

	for _, att := range m.Attachments {
		mimeType := att.MimeType
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		hdr := textproto.MIMEHeader{
			"Content-Type":              {fmt.Sprintf("%s; name=%q", mimeType, att.Name)},
			"Content-Transfer-Encoding": {"base64"},
			"Content-Disposition":       {fmt.Sprintf("attachment; filename=%q", att.Name)},
		}
		part, err := w.CreatePart(hdr)
		if err != nil {
			return nil, "", err
		}
		if err := writeBase64(part, att.Content); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), fmt.Sprintf("multipart/mixed; boundary=%q", w.Boundary()), nil
}

// alternativePart renders the text/html alternative pair, or a bare text
// part when no HTML body exists.
func alternativePart(m *Message) ([]byte, string, error) {
	text := m.TextBody
	if text == "" && m.HTMLBody != "" {
		text = StripTags(m.HTMLBody)
	}

	if m.HTMLBody == "" {
		var buf bytes.Buffer
		if err := writeQuotedPrintable(&buf, text); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), `text/plain; charset="utf-8"`, nil
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	textPart, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {`text/plain; charset="utf-8"`},
		"Content-Transfer-Encoding": {"quoted-printable"},
	})
	if err != nil {
		return nil, "", err
	}
	if err := writeQuotedPrintable(textPart, text); err != nil {
		return nil, "", err
	}

	htmlPart, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {`text/html; charset="utf-8"`},
		"Content-Transfer-Encoding": {"quoted-printable"},
	})
	if err != nil {
		return nil, "", err
	}
	if err := writeQuotedPrintable(htmlPart, m.HTMLBody); err != nil {
		return nil, "", err
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), fmt.Sprintf("multipart/alternative; boundary=%q", w.Boundary()), nil
}

func writeQuotedPrintable(dst io.Writer, s string) error {
	qp := quotedprintable.NewWriter(dst)
	if _, err := qp.Write([]byte(s)); err != nil {
		return err
	}
	return qp.Close()
}

func writeBase64(dst io.Writer, data []byte) error {
	enc := base64.StdEncoding.EncodeToString(data)
	// 76 character lines per RFC 2045.
	for len(enc) > 0 {
		n := 76
		if n > len(enc) {
			n = len(enc)
		}
		if _, err := dst.Write([]byte(enc[:n])); err != nil {
			return err
		}
		if _, err := dst.Write([]byte("\r\n")); err != nil {
			return err
		}
		enc = enc[n:]
	}
	return nil
}
