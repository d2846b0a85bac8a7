package policy

import (
	"reflect"
	"testing"
	"time"
)

func ptr[T any](v T) *T { return &v }

func TestRuleDocument_FirstMatchWins(t *testing.T) {
	doc, err := LoadRuleDocument([]Rule{
		{
			Name: "exclude-test-volumes", Priority: 10,
			Match:        Match{VolumeName: []string{"test-"}},
			AutoSnapshot: false,
		},
		{
			Name: "prod-daily", Priority: 20,
			Match:        Match{TenantName: []string{"prod"}},
			AutoSnapshot: true,
			Policies:     []string{"daily_5"},
			Retention:    map[string]int{"daily_5": 7},
		},
	})
	if err != nil {
		t.Fatalf("LoadRuleDocument: %v", err)
	}

	excluded := doc.Evaluate(Candidate{TenantName: "prod", VolumeName: "test-scratch-disk"})
	if excluded.Assign {
		t.Fatalf("expected exclusion rule to win first, got assign=%v rule=%s", excluded.Assign, excluded.RuleName)
	}

	assigned := doc.Evaluate(Candidate{TenantName: "prod", VolumeName: "db-volume"})
	if !assigned.Assign || assigned.RuleName != "prod-daily" {
		t.Fatalf("expected prod-daily to match, got %+v", assigned)
	}

	unmatched := doc.Evaluate(Candidate{TenantName: "dev", VolumeName: "db-volume"})
	if unmatched.Assign {
		t.Fatalf("expected no rule to match dev tenant, got %+v", unmatched)
	}
}

func TestRuleDocument_SortsByPriorityRegardlessOfDocumentOrder(t *testing.T) {
	doc, err := LoadRuleDocument([]Rule{
		{Name: "low-priority-catch-all", Priority: 100, AutoSnapshot: true, Policies: []string{"daily_5"}, Retention: map[string]int{"daily_5": 7}},
		{Name: "high-priority-exclude", Priority: 1, Match: Match{Bootable: ptr(true)}, AutoSnapshot: false},
	})
	if err != nil {
		t.Fatalf("LoadRuleDocument: %v", err)
	}

	got := doc.Evaluate(Candidate{Bootable: true})
	if got.Assign || got.RuleName != "high-priority-exclude" {
		t.Fatalf("expected high-priority-exclude to win despite document order, got %+v", got)
	}
}

func TestRuleDocument_SizeRangeAndMetadataPredicates(t *testing.T) {
	doc, err := LoadRuleDocument([]Rule{
		{
			Name:     "large-tagged-volumes",
			Priority: 1,
			Match: Match{
				SizeGB:           &SizeRange{Min: ptr(100), Max: ptr(500)},
				MetadataEquals:   map[string]string{"env": "prod"},
				MetadataContains: map[string]string{"owner": "team-"},
			},
			AutoSnapshot: true,
			Policies:     []string{"monthly_1st"},
			Retention:    map[string]int{"monthly_1st": 90},
		},
	})
	if err != nil {
		t.Fatalf("LoadRuleDocument: %v", err)
	}

	match := doc.Evaluate(Candidate{
		SizeGB:   200,
		Metadata: map[string]string{"env": "prod", "owner": "team-storage"},
	})
	if !match.Assign {
		t.Fatalf("expected match, got %+v", match)
	}

	tooSmall := doc.Evaluate(Candidate{
		SizeGB:   50,
		Metadata: map[string]string{"env": "prod", "owner": "team-storage"},
	})
	if tooSmall.Assign {
		t.Fatalf("expected no match for undersized volume, got %+v", tooSmall)
	}
}

func TestLoadRuleDocument_RejectsMissingRetention(t *testing.T) {
	_, err := LoadRuleDocument([]Rule{
		{Name: "bad-rule", Priority: 1, AutoSnapshot: true, Policies: []string{"daily_5"}},
	})
	if err == nil {
		t.Fatal("expected LoadRuleDocument to reject a rule missing retention for a listed policy")
	}
}

func TestEvaluate_IsPureAndStateless(t *testing.T) {
	doc, err := LoadRuleDocument([]Rule{
		{Name: "r", Priority: 1, AutoSnapshot: true, Policies: []string{"daily_5"}, Retention: map[string]int{"daily_5": 1}},
	})
	if err != nil {
		t.Fatalf("LoadRuleDocument: %v", err)
	}

	c := Candidate{TenantName: "any"}
	first := doc.Evaluate(c)
	second := doc.Evaluate(c)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical decisions across repeated evaluations, got %+v vs %+v", first, second)
	}
}

func TestGateMatches(t *testing.T) {
	first := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	fifteenth := time.Date(2026, time.January, 15, 0, 0, 0, 0, time.UTC)
	other := time.Date(2026, time.January, 2, 0, 0, 0, 0, time.UTC)

	if !GateMatches("daily_5", other) {
		t.Fatal("daily_5 should match every day")
	}
	if !GateMatches("monthly_1st", first) || GateMatches("monthly_1st", other) {
		t.Fatal("monthly_1st should match only day 1")
	}
	if !GateMatches("monthly_15th", fifteenth) || GateMatches("monthly_15th", other) {
		t.Fatal("monthly_15th should match only day 15")
	}
	if GateMatches("nonexistent_gate", first) {
		t.Fatal("unknown gate should never match")
	}
}
