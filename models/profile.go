package models

import (
	"fmt"
	"strings"
)

// CompanyProfile describes the bidder; scorers compare opportunities against it.
type CompanyProfile struct {
	Name            string   `json:"name" yaml:"name"`
	Description     string   `json:"description" yaml:"description"`
	Capabilities    []string `json:"capabilities" yaml:"capabilities"`
	Certifications  []string `json:"certifications" yaml:"certifications"`
	Differentiators []string `json:"differentiators" yaml:"differentiators"`
	NAICSCodes      []string `json:"naics_codes" yaml:"naics_codes"`
	CAGECode        string   `json:"cage_code" yaml:"cage_code"`
	SAMUEI          string   `json:"sam_uei" yaml:"sam_uei"`
	PastPerformance []string `json:"past_performance" yaml:"past_performance"`
}

// Summary renders the profile as prompt text.
func (p CompanyProfile) Summary() string {
	if strings.TrimSpace(p.Name) == "" {
		return "Company profile not configured."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Company: %s\n", p.Name)
	fmt.Fprintf(&b, "Description: %s\n", p.Description)
	fmt.Fprintf(&b, "Capabilities: %s\n", listOrUnset(p.Capabilities))
	fmt.Fprintf(&b, "Certifications: %s\n", listOrUnset(p.Certifications))
	fmt.Fprintf(&b, "Differentiators: %s\n", listOrUnset(p.Differentiators))
	fmt.Fprintf(&b, "NAICS Codes: %s\n", listOrUnset(p.NAICSCodes))
	if len(p.PastPerformance) > 0 {
		fmt.Fprintf(&b, "Past Performance:\n- %s\n", strings.Join(p.PastPerformance, "\n- "))
	}
	return b.String()
}

func listOrUnset(items []string) string {
	if len(items) == 0 {
		return "Not specified"
	}
	return strings.Join(items, ", ")
}
