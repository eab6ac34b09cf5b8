package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// SourceType is the kind of funder a candidate came from.
type SourceType string

const (
	SourceGovernment SourceType = "government"
	SourceFoundation SourceType = "foundation"
	SourceCorporate  SourceType = "corporate"
	SourceState      SourceType = "state"
	SourceNonprofit  SourceType = "nonprofit"
)

// Valid reports whether t is a known source type.
func (t SourceType) Valid() bool {
	switch t {
	case SourceGovernment, SourceFoundation, SourceCorporate, SourceState, SourceNonprofit:
		return true
	}
	return false
}

// ErrMalformedCandidate is returned for candidates that carry neither a
// name nor an identifier.
var ErrMalformedCandidate = eris.New("malformed candidate")

// CandidateRecord is one discovered funding opportunity before triage.
type CandidateRecord struct {
	OpportunityID       string     `json:"opportunity_id"`
	OrganizationName    string     `json:"organization_name"`
	EIN                 string     `json:"ein,omitempty"`
	SourceType          SourceType `json:"source_type"`
	DiscoverySource     string     `json:"discovery_source"`
	Description         string     `json:"description,omitempty"`
	FundingAmount       *int64     `json:"funding_amount,omitempty"`
	ApplicationDeadline string     `json:"application_deadline,omitempty"`
	WebsiteURL          string     `json:"website_url,omitempty"`
	// LocalScore is an optional pre-computed algorithmic compatibility
	// score supplied by the source.
	LocalScore *float64 `json:"local_score,omitempty"`
	External   External `json:"external_data"`
}

// External carries source-specific detail. At most one of the typed
// sections is set, matching the record's SourceType; Extra holds anything
// the typed sections do not model.
type External struct {
	Government *GovernmentDetails `json:"government,omitempty"`
	Foundation *FoundationDetails `json:"foundation,omitempty"`
	Extra      map[string]any     `json:"extra,omitempty"`
}

// GovernmentDetails describes a federal or state funding notice.
type GovernmentDetails struct {
	Agency            string   `json:"agency,omitempty"`
	AgencyCode        string   `json:"agency_code,omitempty"`
	OpportunityNumber string   `json:"opportunity_number,omitempty"`
	CFDA              []string `json:"cfda,omitempty"`
	Status            string   `json:"status,omitempty"`
	OpenDate          string   `json:"open_date,omitempty"`
}

// FoundationDetails describes a private foundation or grantmaking nonprofit.
type FoundationDetails struct {
	NTEECode     string `json:"ntee_code,omitempty"`
	City         string `json:"city,omitempty"`
	State        string `json:"state,omitempty"`
	AssetAmount  int64  `json:"asset_amount,omitempty"`
	IncomeAmount int64  `json:"income_amount,omitempty"`
	RulingYear   int    `json:"ruling_year,omitempty"`
}

// Validate rejects candidates missing both identity fields.
func (c CandidateRecord) Validate() error {
	if strings.TrimSpace(c.OrganizationName) == "" && strings.TrimSpace(c.OpportunityID) == "" {
		return ErrMalformedCandidate
	}
	return nil
}

// BatchKey identifies a candidate within one discovery batch.
func (c CandidateRecord) BatchKey() string {
	return c.DiscoverySource + "|" + c.OpportunityID
}

// DisplayName returns the organization name, falling back to the id.
func (c CandidateRecord) DisplayName() string {
	if n := strings.TrimSpace(c.OrganizationName); n != "" {
		return n
	}
	return c.OpportunityID
}
