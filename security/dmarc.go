package security

import (
	"fmt"
	"strconv"
	"strings"
)

// DMARCPolicy is the requested handling for messages that fail alignment.
type DMARCPolicy string

const (
	PolicyNone       DMARCPolicy = "none"
	PolicyQuarantine DMARCPolicy = "quarantine"
	PolicyReject     DMARCPolicy = "reject"
)

// DMARCRecord is a parsed _dmarc TXT record.
type DMARCRecord struct {
	Policy          DMARCPolicy
	SubdomainPolicy DMARCPolicy
	AggregateURI    string
	ForensicURI     string
	AdkimStrict     bool
	AspfStrict      bool
	Percent         int
}

// LookupDMARC finds the DMARC record governing a domain, walking up to the
// organizational domain when the exact domain carries none. A nil record
// with nil error means no policy is published.
func LookupDMARC(domain string) (*DMARCRecord, error) {
	domain = strings.ToLower(strings.TrimSuffix(domain, "."))
	candidates := []string{domain}
	if org := organizationalDomain(domain); org != "" && org != domain {
		candidates = append(candidates, org)
	}

	for _, d := range candidates {
		records, err := lookupTXT("_dmarc." + d)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, fmt.Errorf("dmarc: lookup _dmarc.%s: %w", d, err)
		}
		for _, r := range records {
			if strings.HasPrefix(strings.ToLower(strings.TrimSpace(r)), "v=dmarc1") {
				return parseDMARC(r), nil
			}
		}
	}
	return nil, nil
}

func parseDMARC(record string) *DMARCRecord {
	rec := &DMARCRecord{Policy: PolicyNone, Percent: 100}
	for _, part := range strings.Split(record, ";") {
		part = strings.TrimSpace(part)
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		switch key {
		case "p":
			rec.Policy = DMARCPolicy(strings.ToLower(value))
		case "sp":
			rec.SubdomainPolicy = DMARCPolicy(strings.ToLower(value))
		case "rua":
			rec.AggregateURI = value
		case "ruf":
			rec.ForensicURI = value
		case "adkim":
			rec.AdkimStrict = strings.EqualFold(value, "s")
		case "aspf":
			rec.AspfStrict = strings.EqualFold(value, "s")
		case "pct":
			if n, err := strconv.Atoi(value); err == nil {
				rec.Percent = n
			}
		}
	}
	return rec
}

// Aligned reports whether candidate satisfies alignment with the From
// domain. Relaxed mode accepts any subdomain relationship within the same
// organizational domain; strict mode requires equality.
func Aligned(fromDomain, candidate string, strict bool) bool {
	fromDomain = strings.ToLower(strings.TrimSuffix(fromDomain, "."))
	candidate = strings.ToLower(strings.TrimSuffix(candidate, "."))
	if fromDomain == "" || candidate == "" {
		return false
	}
	if fromDomain == candidate {
		return true
	}
	if strict {
		return false
	}
	return organizationalDomain(fromDomain) == organizationalDomain(candidate)
}

// Multi-label public suffixes that need three labels for the registrable
// domain. Enough for the relay's own sending domains; not a full suffix list.
var multiLabelSuffixes = map[string]bool{
	"co.uk": true, "org.uk": true, "ac.uk": true, "gov.uk": true,
	"com.au": true, "net.au": true, "org.au": true,
	"co.jp": true, "co.nz": true, "co.za": true, "co.in": true,
	"com.br": true, "com.mx": true, "com.cn": true, "com.sg": true,
}

func organizationalDomain(domain string) string {
	labels := strings.Split(domain, ".")
	if len(labels) <= 2 {
		return domain
	}
	suffix := strings.Join(labels[len(labels)-2:], ".")
	if multiLabelSuffixes[suffix] {
		if len(labels) < 3 {
			return domain
		}
		return strings.Join(labels[len(labels)-3:], ".")
	}
	return suffix
}
