// Package security evaluates sender authentication policy before a message
// leaves the system: SPF record checks against the sending host and DMARC
// alignment for the From domain.
package security

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// DNS lookups are indirected so tests can run without a resolver.
var (
	lookupTXT = net.LookupTXT
	lookupIP  = net.LookupIP
	lookupMX  = net.LookupMX
)

// SPFResult classifies the outcome of an SPF evaluation.
type SPFResult string

const (
	SPFPass     SPFResult = "pass"
	SPFFail     SPFResult = "fail"
	SPFSoftFail SPFResult = "softfail"
	SPFNone     SPFResult = "none"
	SPFError    SPFResult = "error"
)

const maxSPFRecursion = 10

// CheckSPF evaluates the SPF policy of domain against the given sending IP.
// Domains without an SPF record return SPFNone. Lookup failures return
// SPFError with the underlying error.
func CheckSPF(domain string, ip net.IP) (SPFResult, error) {
	record, err := findSPFRecord(domain)
	if err != nil {
		return SPFError, err
	}
	if record == "" {
		return SPFNone, nil
	}
	return evaluateSPF(record, domain, ip, 0)
}

// findSPFRecord fetches the v=spf1 TXT record for a domain, falling back to
// the _spf subdomain when the apex carries none.
func findSPFRecord(domain string) (string, error) {
	for _, name := range []string{domain, "_spf." + domain} {
		records, err := lookupTXT(name)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return "", fmt.Errorf("spf: lookup %s: %w", name, err)
		}
		for _, r := range records {
			if strings.HasPrefix(strings.ToLower(strings.TrimSpace(r)), "v=spf1") {
				return strings.TrimSpace(r), nil
			}
		}
	}
	return "", nil
}

func evaluateSPF(record, domain string, ip net.IP, depth int) (SPFResult, error) {
	if depth > maxSPFRecursion {
		return SPFError, fmt.Errorf("spf: include recursion limit exceeded for %s", domain)
	}

	terminal := SPFResult("")
	for _, field := range strings.Fields(record)[1:] {
		qualifier := byte('+')
		switch field[0] {
		case '+', '-', '~', '?':
			qualifier = field[0]
			field = field[1:]
		}
		mech := strings.ToLower(field)

		matched := false
		switch {
		case mech == "all":
			// Remembered as the default outcome when nothing matches.
			switch qualifier {
			case '-':
				terminal = SPFFail
			case '~':
				terminal = SPFSoftFail
			default:
				terminal = SPFPass
			}
			continue
		case strings.HasPrefix(mech, "ip4:"), strings.HasPrefix(mech, "ip6:"):
			matched = matchCIDR(mech[4:], ip)
		case mech == "a" || strings.HasPrefix(mech, "a:"):
			target := domain
			if strings.HasPrefix(mech, "a:") {
				target = mech[2:]
			}
			matched = matchA(target, ip)
		case mech == "mx" || strings.HasPrefix(mech, "mx:"):
			target := domain
			if strings.HasPrefix(mech, "mx:") {
				target = mech[3:]
			}
			matched = matchMX(target, ip)
		case strings.HasPrefix(mech, "include:"):
			sub, err := findSPFRecord(mech[8:])
			if err != nil {
				return SPFError, err
			}
			if sub != "" {
				res, err := evaluateSPF(sub, mech[8:], ip, depth+1)
				if err != nil {
					return SPFError, err
				}
				matched = res == SPFPass
			}
		default:
			// redirect=, exists: and modifiers are not evaluated.
			continue
		}

		if matched {
			switch qualifier {
			case '-':
				return SPFFail, nil
			case '~':
				return SPFSoftFail, nil
			case '?':
				return SPFNone, nil
			default:
				return SPFPass, nil
			}
		}
	}

	if terminal != "" {
		return terminal, nil
	}
	return SPFPass, nil
}

func matchCIDR(spec string, ip net.IP) bool {
	if !strings.Contains(spec, "/") {
		return ip.Equal(net.ParseIP(spec))
	}
	_, network, err := net.ParseCIDR(spec)
	if err != nil {
		return false
	}
	return network.Contains(ip)
}

func matchA(domain string, ip net.IP) bool {
	ips, err := lookupIP(domain)
	if err != nil {
		return false
	}
	for _, candidate := range ips {
		if candidate.Equal(ip) {
			return true
		}
	}
	return false
}

func matchMX(domain string, ip net.IP) bool {
	mxs, err := lookupMX(domain)
	if err != nil {
		return false
	}
	for _, mx := range mxs {
		if matchA(strings.TrimSuffix(mx.Host, "."), ip) {
			return true
		}
	}
	return false
}

func isNotFound(err error) bool {
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr) && dnsErr.IsNotFound
}
