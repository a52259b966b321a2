// Package provider holds the registry of supported SMTP providers: fixed
// connection parameters for well known relays, plus a custom catch-all that
// is populated entirely from configuration.
package provider

import (
	"mailrelay/internal/config"
	"mailrelay/internal/email"
)

// Provider identifies a supported provider. The set is closed; adding a
// provider means extending the tables below.
type Provider string

const (
	Gmail        Provider = "gmail"
	Outlook      Provider = "outlook"
	Office365    Provider = "office365"
	Yahoo        Provider = "yahoo"
	SendGrid     Provider = "sendgrid"
	Mailgun      Provider = "mailgun"
	AmazonSES    Provider = "amazon_ses"
	Postmark     Provider = "postmark"
	SparkPost    Provider = "sparkpost"
	Mailjet      Provider = "mailjet"
	Sendinblue   Provider = "sendinblue"
	Mandrill     Provider = "mandrill"
	Smtp2go      Provider = "smtp2go"
	ElasticEmail Provider = "elastic_email"
	MailerSend   Provider = "mailersend"
	SocketLabs   Provider = "socketlabs"
	SendPulse    Provider = "sendpulse"
	Pepipost     Provider = "pepipost"
	TurboSMTP    Provider = "turbo_smtp"
	Mailchimp    Provider = "mailchimp"
	Zoho         Provider = "zoho"
	FastMail     Provider = "fastmail"
	ICloud       Provider = "icloud"
	ProtonMail   Provider = "protonmail"
	Yandex       Provider = "yandex"
	Custom       Provider = "custom"
)

// Encryption modes understood by the SMTP client.
const (
	EncryptionNone     = "none"
	EncryptionSSL      = "ssl"
	EncryptionTLS      = "tls"
	EncryptionSTARTTLS = "starttls"
)

// Profile is a resolved provider connection description.
type Profile struct {
	Provider   Provider
	Host       string
	Port       int
	Encryption string
	AuthType   string

	// APIEndpoint is set for providers that expose an HTTP delivery API;
	// delivery prefers the API over SMTP when present.
	APIEndpoint string
}

type entry struct {
	host        string
	port        int
	encryption  string
	apiEndpoint string
}

// Static connection parameters per provider. ProtonMail targets the local
// Bridge; smtp2go, elastic_email and socketlabs use the 2525 relay port.
var profiles = map[Provider]entry{
	Gmail:        {host: "smtp.gmail.com", port: 587, encryption: EncryptionTLS},
	Outlook:      {host: "smtp-mail.outlook.com", port: 587, encryption: EncryptionTLS},
	Office365:    {host: "smtp.office365.com", port: 587, encryption: EncryptionTLS},
	Yahoo:        {host: "smtp.mail.yahoo.com", port: 587, encryption: EncryptionTLS},
	SendGrid:     {host: "smtp.sendgrid.net", port: 587, encryption: EncryptionTLS},
	Mailgun:      {host: "smtp.mailgun.org", port: 587, encryption: EncryptionTLS},
	AmazonSES:    {host: "email-smtp.us-east-1.amazonaws.com", port: 587, encryption: EncryptionTLS},
	Postmark:     {host: "smtp.postmarkapp.com", port: 587, encryption: EncryptionTLS},
	SparkPost:    {host: "smtp.sparkpostmail.com", port: 587, encryption: EncryptionTLS, apiEndpoint: "https://api.sparkpost.com/api/v1/transmissions"},
	Mailjet:      {host: "in-v3.mailjet.com", port: 587, encryption: EncryptionTLS},
	Sendinblue:   {host: "smtp-relay.sendinblue.com", port: 587, encryption: EncryptionTLS},
	Mandrill:     {host: "smtp.mandrillapp.com", port: 587, encryption: EncryptionTLS},
	Smtp2go:      {host: "mail.smtp2go.com", port: 2525, encryption: EncryptionTLS, apiEndpoint: "https://api.smtp2go.com/v3/email/send"},
	ElasticEmail: {host: "smtp.elasticemail.com", port: 2525, encryption: EncryptionTLS, apiEndpoint: "https://api.elasticemail.com/v2/"},
	MailerSend:   {host: "smtp.mailersend.net", port: 587, encryption: EncryptionTLS},
	SocketLabs:   {host: "smtp.socketlabs.com", port: 2525, encryption: EncryptionTLS},
	SendPulse:    {host: "smtp-pulse.com", port: 587, encryption: EncryptionTLS},
	Pepipost:     {host: "smtp.pepipost.com", port: 587, encryption: EncryptionTLS},
	TurboSMTP:    {host: "pro.turbo-smtp.com", port: 587, encryption: EncryptionTLS},
	Mailchimp:    {host: "smtp.mandrillapp.com", port: 587, encryption: EncryptionTLS},
	Zoho:         {host: "smtp.zoho.com", port: 587, encryption: EncryptionTLS},
	FastMail:     {host: "smtp.fastmail.com", port: 587, encryption: EncryptionTLS},
	ICloud:       {host: "smtp.mail.me.com", port: 587, encryption: EncryptionTLS},
	ProtonMail:   {host: "127.0.0.1", port: 1025, encryption: EncryptionNone},
	Yandex:       {host: "smtp.yandex.com", port: 587, encryption: EncryptionTLS},
}

// Known reports whether the identifier names a provider with a static
// profile. Custom and unknown identifiers resolve from configuration.
func Known(p Provider) bool {
	_, ok := profiles[p]
	return ok
}

// Resolve returns the connection profile for a provider. Known providers
// return their fixed parameters, overriding any stored custom values; custom
// and unknown identifiers read host/port/encryption from settings with the
// port defaulting to 587 when absent or zero.
func Resolve(p Provider, settings *config.Settings, scope config.Scope) Profile {
	authType := settings.Authentication(scope)

	if e, ok := profiles[p]; ok {
		return Profile{
			Provider:    p,
			Host:        e.host,
			Port:        e.port,
			Encryption:  e.encryption,
			AuthType:    authType,
			APIEndpoint: e.apiEndpoint,
		}
	}

	port := settings.CustomPort(scope)
	if port <= 0 {
		port = 587
	}
	return Profile{
		Provider:   Custom,
		Host:       settings.CustomHost(scope),
		Port:       port,
		Encryption: settings.Encryption(scope),
		AuthType:   authType,
	}
}

// ValidateCredentials applies provider specific credential rules.
func ValidateCredentials(p Provider, username, password string) bool {
	switch p {
	case Office365:
		// Office 365 requires the full mailbox address as username.
		return email.Valid(username) && password != ""
	case SparkPost:
		// SparkPost uses the fixed SMTP injection username with an API key.
		return username == "SMTP_Injection" && password != ""
	case ProtonMail:
		// Bridge passwords are generated and long.
		return email.Valid(username) && len(password) > 20
	case Custom:
		// Validated on connection.
		return true
	default:
		return username != "" && password != ""
	}
}
