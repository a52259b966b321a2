package engine

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"time"

	"mailrelay/internal/email"
)

// apiDeliver is swapped out in tests.
var apiDeliver = deliverAPI

var apiHTTPClient = &http.Client{Timeout: 30 * time.Second}

type apiAttachment struct {
	Filename string `json:"filename"`
	Fileblob string `json:"fileblob"`
	Mimetype string `json:"mimetype"`
}

type apiRequest struct {
	APIKey      string          `json:"api_key"`
	To          []string        `json:"to"`
	Sender      string          `json:"sender"`
	Subject     string          `json:"subject"`
	HTMLBody    string          `json:"html_body,omitempty"`
	TextBody    string          `json:"text_body,omitempty"`
	Attachments []apiAttachment `json:"attachments,omitempty"`
}

type apiResponse struct {
	Data struct {
		Succeeded int      `json:"succeeded"`
		Failed    int      `json:"failed"`
		EmailID   string   `json:"email_id"`
		Error     string   `json:"error"`
		Failures  []string `json:"failures"`
	} `json:"data"`
}

// deliverAPI submits a message through a provider's JSON send endpoint
// instead of SMTP. Returns the provider-assigned message id.
func deliverAPI(endpoint, apiKey string, msg *email.Message) (string, error) {
	sender := (&mail.Address{Name: msg.FromName, Address: msg.FromEmail}).String()
	req := apiRequest{
		APIKey:   apiKey,
		To:       msg.Recipients(),
		Sender:   sender,
		Subject:  msg.Subject,
		HTMLBody: msg.HTMLBody,
		TextBody: msg.TextBody,
	}
	for _, a := range msg.Attachments {
		req.Attachments = append(req.Attachments, apiAttachment{
			Filename: a.Name,
			Fileblob: base64.StdEncoding.EncodeToString(a.Content),
			Mimetype: a.MimeType,
		})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	resp, err := apiHTTPClient.Post(endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("post %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var parsed apiResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return "", fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode == http.StatusOK && parsed.Data.Succeeded > 0 {
		return parsed.Data.EmailID, nil
	}

	reason := parsed.Data.Error
	if reason == "" && len(parsed.Data.Failures) > 0 {
		reason = parsed.Data.Failures[0]
	}
	if reason == "" {
		reason = fmt.Sprintf("status %d", resp.StatusCode)
	}
	return "", fmt.Errorf("api send rejected: %s", reason)
}
