package analyzer

import (
	"context"
	"fmt"

	"github.com/mailaudit/mailaudit/internal/model"
)

// GatewayError reports that the analyzer returned an error or a payload that
// failed schema validation. The reason is recorded verbatim on the run.
type GatewayError struct {
	Reason string
}

func (e *GatewayError) Error() string {
	return e.Reason
}

// Prober invokes the external analyzer for one check kind against a domain.
// Single invocation, no streaming; the payload is validated at this boundary
// so kind-specific interpretation stays with the scorer.
type Prober interface {
	Probe(ctx context.Context, domain string) (*Result, error)
}

// Result is the tagged union of analyzer payloads. Exactly one payload field
// is set, matching Kind.
type Result struct {
	Kind     model.CheckKind `json:"kind"`
	Domain   string          `json:"domain"`
	DMARC    *DMARCResult    `json:"dmarc,omitempty"`
	SPF      *SPFResult      `json:"spf,omitempty"`
	DKIM     *DKIMResult     `json:"dkim,omitempty"`
	MailEcho *MailEchoResult `json:"mail_echo,omitempty"`
}

// Validate checks that the union is well-formed: a known kind with exactly
// the matching payload set.
func (r *Result) Validate() error {
	if !model.ValidKind(r.Kind) {
		return &GatewayError{Reason: fmt.Sprintf("unknown check kind %q in analyzer payload", r.Kind)}
	}
	set := 0
	for _, p := range []bool{r.DMARC != nil, r.SPF != nil, r.DKIM != nil, r.MailEcho != nil} {
		if p {
			set++
		}
	}
	if set != 1 {
		return &GatewayError{Reason: fmt.Sprintf("analyzer payload has %d variants set, want exactly 1", set)}
	}
	var match bool
	switch r.Kind {
	case model.KindDMARC:
		match = r.DMARC != nil
	case model.KindSPF:
		match = r.SPF != nil
	case model.KindDKIM:
		match = r.DKIM != nil
	case model.KindMailEcho:
		match = r.MailEcho != nil
	}
	if !match {
		return &GatewayError{Reason: fmt.Sprintf("analyzer payload variant does not match kind %q", r.Kind)}
	}
	return nil
}

// DMARCResult carries the raw facts probed from the _dmarc TXT record.
type DMARCResult struct {
	RecordFound     bool     `json:"record_found"`
	Record          string   `json:"record,omitempty"`
	Version         string   `json:"version,omitempty"`
	Policy          string   `json:"policy,omitempty"`
	SubdomainPolicy string   `json:"subdomain_policy,omitempty"`
	Percentage      int      `json:"percentage"`
	RUAAddresses    []string `json:"rua_addresses,omitempty"`
	RUFAddresses    []string `json:"ruf_addresses,omitempty"`
	AlignmentSPF    string   `json:"alignment_spf,omitempty"`
	AlignmentDKIM   string   `json:"alignment_dkim,omitempty"`
}

// SPFResult carries the raw facts probed from the domain's TXT records.
type SPFResult struct {
	RecordFound     bool     `json:"record_found"`
	Record          string   `json:"record,omitempty"`
	MultipleRecords bool     `json:"multiple_records"`
	Mechanisms      []string `json:"mechanisms,omitempty"`
	Includes        []string `json:"includes,omitempty"`
	AllMechanism    string   `json:"all_mechanism,omitempty"`
	IncludesAll     bool     `json:"includes_all"`
	DNSLookups      int      `json:"dns_lookups"`
}

// DKIMResult carries the selectors probed under _domainkey.
type DKIMResult struct {
	SelectorsTested []string `json:"selectors_tested,omitempty"`
	SelectorsFound  []string `json:"selectors_found,omitempty"`
	ValidSelectors  []string `json:"valid_selectors,omitempty"`
}

// MailEchoResult carries the facts observed while talking to the primary MX.
type MailEchoResult struct {
	MXRecords           []string `json:"mx_records,omitempty"`
	SMTPConnected       bool     `json:"smtp_connection_successful"`
	SMTPBanner          string   `json:"smtp_banner,omitempty"`
	SupportedExtensions []string `json:"supported_extensions,omitempty"`
	SupportsTLS         bool     `json:"supports_tls"`
	SupportsSTARTTLS    bool     `json:"supports_starttls"`
	SupportsAuth        bool     `json:"supports_auth"`
	SupportsSubmission  bool     `json:"supports_submission"`
}
