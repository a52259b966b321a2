package security

import (
	"fmt"
	"log"
	"net"

	"mailrelay/internal/config"
)

// Verdict summarises the authentication checks run before a send.
type Verdict struct {
	SPF      SPFResult
	DMARC    DMARCPolicy
	Warnings []string
}

// Checker runs the configured sender authentication checks.
type Checker struct {
	settings *config.Settings
}

func NewChecker(settings *config.Settings) *Checker {
	return &Checker{settings: settings}
}

// Evaluate checks the From domain's SPF record against the relay host and
// its DMARC policy against the authentication outcome. dkimDomain is the
// DKIM signing domain, empty when the message is unsigned.
//
// An SPF hard fail or a DMARC reject policy without alignment returns an
// error and the message must not be sent. Soft failures and quarantine
// policies are reported as warnings. Absent records pass.
func (c *Checker) Evaluate(scope config.Scope, fromDomain, relayHost, dkimDomain string) (Verdict, error) {
	v := Verdict{SPF: SPFNone, DMARC: PolicyNone}

	if c.settings.SpfCheckEnabled(scope) {
		result, err := checkRelaySPF(fromDomain, relayHost)
		if err != nil {
			// DNS trouble is reported but never blocks delivery.
			log.Printf("security: spf check for %s failed: %v", fromDomain, err)
			v.Warnings = append(v.Warnings, "spf check error: "+err.Error())
		}
		v.SPF = result
		switch result {
		case SPFFail:
			return v, fmt.Errorf("security: relay host %s is not authorized by the SPF record of %s", relayHost, fromDomain)
		case SPFSoftFail:
			v.Warnings = append(v.Warnings, "relay host soft-fails the SPF record of "+fromDomain)
		case SPFNone:
			log.Printf("security: no SPF record published for %s", fromDomain)
		}
	}

	if c.settings.DmarcCheckEnabled(scope) {
		record, err := LookupDMARC(fromDomain)
		if err != nil {
			log.Printf("security: dmarc lookup for %s failed: %v", fromDomain, err)
			v.Warnings = append(v.Warnings, "dmarc lookup error: "+err.Error())
			return v, nil
		}
		if record == nil {
			return v, nil
		}
		v.DMARC = record.Policy
		if record.Policy == PolicyNone {
			return v, nil
		}

		spfAligned := v.SPF == SPFPass
		dkimAligned := dkimDomain != "" && Aligned(fromDomain, dkimDomain, record.AdkimStrict)
		if spfAligned || dkimAligned {
			return v, nil
		}

		switch record.Policy {
		case PolicyReject:
			return v, fmt.Errorf("security: message fails DMARC alignment for %s and the published policy is reject", fromDomain)
		case PolicyQuarantine:
			v.Warnings = append(v.Warnings, "message fails DMARC alignment for "+fromDomain+" under a quarantine policy")
		}
	}

	return v, nil
}

// checkRelaySPF resolves the relay host and evaluates the From domain's SPF
// record against each of its addresses, keeping the most favourable result.
func checkRelaySPF(fromDomain, relayHost string) (SPFResult, error) {
	if ip := net.ParseIP(relayHost); ip != nil {
		return CheckSPF(fromDomain, ip)
	}

	ips, err := lookupIP(relayHost)
	if err != nil {
		return SPFError, fmt.Errorf("resolve relay host %s: %w", relayHost, err)
	}

	best := SPFError
	for _, ip := range ips {
		result, err := CheckSPF(fromDomain, ip)
		if err != nil {
			return SPFError, err
		}
		switch result {
		case SPFPass:
			return SPFPass, nil
		case SPFNone:
			return SPFNone, nil
		case SPFSoftFail:
			best = SPFSoftFail
		case SPFFail:
			if best == SPFError {
				best = SPFFail
			}
		}
	}
	if best == SPFError {
		best = SPFNone
	}
	return best, nil
}
