package policy

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// SizeRange is an inclusive min/max bound in gigabytes.
type SizeRange struct {
	Min *int `json:"min,omitempty"`
	Max *int `json:"max,omitempty"`
}

func (r SizeRange) contains(sizeGB int) bool {
	if r.Min != nil && sizeGB < *r.Min {
		return false
	}
	if r.Max != nil && sizeGB > *r.Max {
		return false
	}
	return true
}

// Match is the capability set a Rule tests a volume against. Every
// populated field must match (logical AND); within a list-valued
// field, any one element matching is sufficient.
type Match struct {
	TenantName       []string          `json:"tenant_name,omitempty"`
	DomainName       []string          `json:"domain_name,omitempty"`
	VolumeName       []string          `json:"volume_name,omitempty"` // substring match
	SizeGB           *SizeRange        `json:"size_gb,omitempty"`
	Bootable         *bool             `json:"bootable,omitempty"`
	MetadataEquals   map[string]string `json:"metadata_equals,omitempty"`
	MetadataContains map[string]string `json:"metadata_contains,omitempty"`
}

// Candidate is the subset of volume/inventory facts a Rule is matched
// against. The caller (stage A policy assignment) is responsible for
// projecting its richer inventory record down to this shape.
type Candidate struct {
	TenantName string
	DomainName string
	VolumeName string
	SizeGB     int
	Bootable   bool
	Metadata   map[string]string
}

func matchesAnySubstring(candidate string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(candidate, n) {
			return true
		}
	}
	return false
}

func matchesAnyExact(candidate string, options []string) bool {
	for _, o := range options {
		if candidate == o {
			return true
		}
	}
	return false
}

// Matches reports whether every populated field of m matches c.
func (m Match) Matches(c Candidate) bool {
	if len(m.TenantName) > 0 && !matchesAnyExact(c.TenantName, m.TenantName) {
		return false
	}
	if len(m.DomainName) > 0 && !matchesAnyExact(c.DomainName, m.DomainName) {
		return false
	}
	if len(m.VolumeName) > 0 && !matchesAnySubstring(c.VolumeName, m.VolumeName) {
		return false
	}
	if m.SizeGB != nil && !m.SizeGB.contains(c.SizeGB) {
		return false
	}
	if m.Bootable != nil && *m.Bootable != c.Bootable {
		return false
	}
	for key, want := range m.MetadataEquals {
		if c.Metadata[key] != want {
			return false
		}
	}
	for key, want := range m.MetadataContains {
		if !strings.Contains(c.Metadata[key], want) {
			return false
		}
	}
	return true
}

// Rule is one entry in the declarative rule document (spec.md §4.4,
// §6.3). Lower Priority is evaluated first.
type Rule struct {
	Name         string         `json:"name"`
	Priority     int            `json:"priority"`
	Match        Match          `json:"match"`
	AutoSnapshot bool           `json:"auto_snapshot"`
	Policies     []string       `json:"policies"`
	Retention    map[string]int `json:"retention"`
}

// Validate rejects a rule missing a retention entry for any policy it
// lists, per spec.md §6.3's load-time check.
func (r Rule) Validate() error {
	for _, p := range r.Policies {
		if days, ok := r.Retention[p]; !ok || days <= 0 {
			return fmt.Errorf("rule %q: missing or non-positive retention for policy %q", r.Name, p)
		}
	}
	return nil
}

// RuleDocument is the full ordered rule list loaded from the rule
// file. Rules are always evaluated in ascending Priority order
// regardless of the order they appear in the document.
type RuleDocument struct {
	Rules []Rule
}

// LoadRuleDocument validates and priority-sorts a freshly decoded rule
// list, rejecting (per spec.md §6.3) any rule whose retention map is
// incomplete relative to its policies.
func LoadRuleDocument(rules []Rule) (*RuleDocument, error) {
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)

	for i := range sorted {
		if err := sorted[i].Validate(); err != nil {
			return nil, err
		}
	}

	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].Priority < sorted[j-1].Priority; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}

	return &RuleDocument{Rules: sorted}, nil
}

// Decision is the outcome of evaluating one volume against a
// RuleDocument.
type Decision struct {
	Assign    bool
	RuleName  string
	Policies  []string
	Retention map[string]int
}

// Evaluate walks rules in priority order and returns the first match
// (the "opt-out model" of spec.md §4.4): if that rule has
// auto_snapshot=false the volume is excluded; otherwise the rule's
// policies/retention become the decision. A volume matched by no rule
// gets Decision{Assign: false}. The evaluator is pure and stateless:
// calling it twice on identical inputs is always identical.
func (d *RuleDocument) Evaluate(c Candidate) Decision {
	for _, r := range d.Rules {
		if !r.Match.Matches(c) {
			continue
		}
		if !r.AutoSnapshot {
			return Decision{Assign: false, RuleName: r.Name}
		}
		return Decision{
			Assign:    true,
			RuleName:  r.Name,
			Policies:  r.Policies,
			Retention: r.Retention,
		}
	}
	return Decision{Assign: false}
}

// WarnUnknownMatchKeys logs (never rejects) any key present in a raw
// decoded match map that the rule-file loader's struct-tag decode did
// not recognize (spec.md §6.3's "unknown match keys are ignored with a
// warning").
func WarnUnknownMatchKeys(log *slog.Logger, ruleName string, raw map[string]any) {
	known := map[string]bool{
		"tenant_name": true, "domain_name": true, "volume_name": true,
		"size_gb": true, "bootable": true,
		"metadata_equals": true, "metadata_contains": true,
	}
	for key := range raw {
		if !known[key] {
			log.Warn("rule file contains unrecognized match key", "rule", ruleName, "key", key)
		}
	}
}

// ExclusionActive reports whether a TTL-bearing exclusion currently
// applies; kept here so the policy package is the single place
// opt-out semantics (rule-driven or exclusion-driven) are decided.
func ExclusionActive(expiresAt *time.Time, now time.Time) bool {
	return expiresAt == nil || now.Before(*expiresAt)
}
