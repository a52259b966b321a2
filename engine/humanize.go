package engine

import "strings"

type errorHint struct {
	substrings []string
	message    string
}

// Checked in order; the first substring hit wins.
var errorHints = []errorHint{
	{[]string{"connection refused", "connection timed out"},
		"Cannot connect to the SMTP server. Check the host and port settings."},
	{[]string{"authentication failed", "invalid credentials", "username and password not accepted", "535"},
		"SMTP authentication failed. Check the username and password."},
	{[]string{"ssl", "tls", "certificate"},
		"SSL/TLS connection error. Check the encryption setting or try a different encryption method."},
	{[]string{"port"},
		"Cannot connect to the specified port. Verify the SMTP port setting (common ports: 587, 465, 25)."},
	{[]string{"could not resolve host", "name resolution", "no such host"},
		"Cannot resolve the SMTP host. Check the host setting."},
	{[]string{"rate limit", "too many"},
		"Rate limit exceeded. Wait a moment before sending again."},
	{[]string{"quota", "limit exceeded"},
		"Email quota exceeded. Check the limits of the email service provider."},
	{[]string{"invalid recipient", "mailbox unavailable"},
		"Invalid recipient address. Check the address you entered."},
	{[]string{"sending is not enabled"},
		"Mail sending is disabled. Enable it in the configuration first."},
	{[]string{"network", "socket"},
		"Network connectivity issue. Check the connection and firewall settings."},
	{[]string{"smtp"},
		"SMTP error. Verify host, port, authentication method and credentials."},
}

// Humanize maps a raw delivery error to an operator-facing explanation.
func Humanize(err error) string {
	if err == nil {
		return ""
	}
	lower := strings.ToLower(err.Error())
	for _, h := range errorHints {
		for _, s := range h.substrings {
			if strings.Contains(lower, s) {
				return h.message
			}
		}
	}
	return "Sending failed. Check that the host and port are correct, the " +
		"credentials are valid, the encryption method matches the server, " +
		"and mail sending is enabled."
}
