package model

import (
	"fmt"
	"strings"
)

// OrganizationProfile describes the nonprofit the funnel is working for.
type OrganizationProfile struct {
	ID                  string    `json:"id" yaml:"id"`
	Name                string    `json:"name" yaml:"name"`
	Mission             string    `json:"mission" yaml:"mission"`
	FocusAreas          []string  `json:"focus_areas" yaml:"focus_areas"`
	GeographicScope     []string  `json:"geographic_scope" yaml:"geographic_scope"`
	NTEECodes           []string  `json:"ntee_codes" yaml:"ntee_codes"`
	GovernmentCriteria  []string  `json:"government_criteria" yaml:"government_criteria"`
	StrategicPriorities []string  `json:"strategic_priorities" yaml:"strategic_priorities"`
	AnnualBudget        int64     `json:"annual_budget,omitempty" yaml:"annual_budget"`
	KnownGrantees       []Grantee `json:"known_grantees,omitempty" yaml:"known_grantees"`
}

// Grantee is a previously known grant relationship used for fast-tracking.
type Grantee struct {
	Name        string `json:"name" yaml:"name"`
	EIN         string `json:"ein,omitempty" yaml:"ein"`
	GrantAmount int64  `json:"grant_amount,omitempty" yaml:"grant_amount"`
	GrantYear   int    `json:"grant_year,omitempty" yaml:"grant_year"`
}

// Summary renders the profile context sent with every cascade prompt.
func (p OrganizationProfile) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Organization: %s\n", p.Name)
	fmt.Fprintf(&b, "Mission: %s\n", p.Mission)
	if len(p.FocusAreas) > 0 {
		fmt.Fprintf(&b, "Focus areas: %s\n", strings.Join(p.FocusAreas, ", "))
	}
	if len(p.GeographicScope) > 0 {
		fmt.Fprintf(&b, "Geography: %s\n", strings.Join(p.GeographicScope, ", "))
	}
	if len(p.NTEECodes) > 0 {
		fmt.Fprintf(&b, "NTEE codes: %s\n", strings.Join(p.NTEECodes, ", "))
	}
	if len(p.GovernmentCriteria) > 0 {
		fmt.Fprintf(&b, "Government criteria: %s\n", strings.Join(p.GovernmentCriteria, ", "))
	}
	if p.AnnualBudget > 0 {
		fmt.Fprintf(&b, "Annual budget: $%d\n", p.AnnualBudget)
	}
	return b.String()
}
