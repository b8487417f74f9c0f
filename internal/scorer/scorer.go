// Package scorer maps raw analyzer payloads to a 0-100 score and a list of
// improvement recommendations. Scoring is pure and deterministic; the point
// allocations below are a versioned policy table, and changing them is a
// scoring-policy change covered by golden-value tests.
package scorer

import (
	"fmt"
	"strings"

	"github.com/mailaudit/mailaudit/internal/analyzer"
	"github.com/mailaudit/mailaudit/internal/model"
)

// trustedSPFIncludes are well-known mail provider include targets.
var trustedSPFIncludes = []string{
	"_spf.google.com",
	"spf.protection.outlook.com",
	"include.mailgun.org",
	"servers.mcsv.net", // MailChimp
	"_spf.salesforce.com",
}

// Score evaluates a validated analyzer result for the given check kind.
// The score is clamped to [0, 100]. The unknown-kind branch is unreachable
// given the fixed enumeration and exists as a defensive guard.
func Score(kind model.CheckKind, res *analyzer.Result) (int, []string) {
	var score int
	var recs []string

	switch kind {
	case model.KindDMARC:
		score, recs = scoreDMARC(res.Domain, res.DMARC)
	case model.KindSPF:
		score, recs = scoreSPF(res.SPF)
	case model.KindDKIM:
		score, recs = scoreDKIM(res.DKIM)
	case model.KindMailEcho:
		score, recs = scoreMailEcho(res.MailEcho)
	default:
		return 0, []string{fmt.Sprintf("unknown check kind %q", kind)}
	}

	return clamp(score), recs
}

func scoreDMARC(domain string, r *analyzer.DMARCResult) (int, []string) {
	if r == nil || !r.RecordFound {
		return 0, []string{
			fmt.Sprintf("Create a DMARC record at _dmarc.%s", domain),
			`Start with a policy of "none" for monitoring`,
			"Configure reporting addresses (rua/ruf)",
			`Gradually move to "quarantine" then "reject" policy`,
		}
	}

	score := 0
	var recs []string

	if r.Version == "DMARC1" {
		score += 20
	}

	switch r.Policy {
	case "none":
		score += 10
		recs = append(recs, `Consider upgrading policy to "quarantine" or "reject"`)
	case "quarantine":
		score += 25
		recs = append(recs, `Consider upgrading policy to "reject" for maximum protection`)
	case "reject":
		score += 40
	}

	if r.SubdomainPolicy != "" {
		score += 5
	}

	if r.Percentage == 100 {
		score += 15
	} else if r.Percentage > 0 {
		score += 10
		recs = append(recs, "Consider increasing percentage to 100% for full coverage")
	}

	if len(r.RUAAddresses) > 0 {
		score += 10
	} else {
		recs = append(recs, "Add aggregate reporting address (rua)")
	}

	if len(r.RUFAddresses) > 0 {
		score += 5
	} else {
		recs = append(recs, "Consider adding forensic reporting address (ruf)")
	}

	if r.AlignmentSPF == "s" {
		score += 5
	}
	if r.AlignmentDKIM == "s" {
		score += 5
	}

	if (r.Policy == "quarantine" || r.Policy == "reject") && len(r.RUAAddresses) == 0 {
		recs = append(recs, "Reporting addresses are crucial for quarantine/reject policies")
	}

	return score, recs
}

func scoreSPF(r *analyzer.SPFResult) (int, []string) {
	if r == nil || !r.RecordFound {
		return 0, []string{
			"Create an SPF record to specify authorized mail servers",
			`Start with "v=spf1 include:_spf.google.com ~all" if using Google Workspace`,
			`Use "v=spf1 mx ~all" if mail is sent from MX servers only`,
			`Always end with an "all" mechanism`,
		}
	}

	score := 30
	var recs []string

	if r.MultipleRecords {
		recs = append(recs, "Consolidate into a single SPF record")
	}

	if !r.IncludesAll {
		recs = append(recs, `Add an "all" mechanism (e.g., "-all", "~all")`)
	} else {
		switch r.AllMechanism {
		case "-all":
			score += 40
		case "~all":
			score += 25
			recs = append(recs, `Consider upgrading to "-all" for stricter policy`)
		case "+all":
			score += 5
			recs = append(recs, `Change "+all" to "~all" or "-all"`)
		case "?all":
			score += 10
			recs = append(recs, `Consider changing "?all" to "~all" or "-all"`)
		}
	}

	// RFC 7208 caps SPF evaluation at 10 DNS lookups.
	switch {
	case r.DNSLookups > 10:
		recs = append(recs, "Reduce DNS lookups to stay under RFC limit")
	case r.DNSLookups > 8:
		recs = append(recs, "Close to DNS lookup limit, consider optimization")
	default:
		score += 10
	}

	for _, m := range r.Mechanisms {
		if strings.HasPrefix(m, "mx") {
			score += 5
			break
		}
	}
	if len(r.Includes) > 0 {
		score += 10
	}

	for _, include := range r.Includes {
		if isTrustedInclude(include) {
			score += 5
			break
		}
	}

	for _, m := range r.Mechanisms {
		if strings.HasPrefix(m, "ptr") {
			recs = append(recs, `Remove deprecated "ptr" mechanism`)
			break
		}
	}

	return score, recs
}

func scoreDKIM(r *analyzer.DKIMResult) (int, []string) {
	if r == nil || len(r.ValidSelectors) == 0 {
		return 0, nil
	}
	return 60 + len(r.ValidSelectors)*10, nil
}

func scoreMailEcho(r *analyzer.MailEchoResult) (int, []string) {
	if r == nil || len(r.MXRecords) == 0 {
		return 0, []string{
			"Configure MX records to enable mail delivery",
			"Ensure MX records point to valid mail servers",
			"Consider using multiple MX records for redundancy",
		}
	}

	score := 20
	var recs []string

	if len(r.MXRecords) > 1 {
		score += 10
		recs = append(recs, "Good: Multiple MX records configured for redundancy")
	}

	if !r.SMTPConnected {
		recs = append(recs,
			"Verify mail server is running and accessible",
			"Check firewall rules for SMTP ports (25, 587, 465)",
			"Ensure DNS resolution is working correctly",
		)
		return score, recs
	}

	score += 30

	switch {
	case r.SupportsTLS:
		score += 20
	case r.SupportsSTARTTLS:
		score += 15
		recs = append(recs, "Consider enabling implicit TLS on port 465")
	default:
		recs = append(recs, "Enable TLS/STARTTLS for secure mail transmission")
	}

	if r.SupportsAuth {
		score += 5
	}
	if r.SupportsSubmission {
		score += 5
	}

	return score, recs
}

func isTrustedInclude(include string) bool {
	for _, trusted := range trustedSPFIncludes {
		if include == trusted {
			return true
		}
	}
	return false
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
