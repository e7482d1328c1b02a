package routing

import "testing"

// S5 — Path-prefix routing strips segment.
func TestPrefixRuleStripsSegment(t *testing.T) {
	table := NewTable(PrefixRule{Prefix: "/teammate", BackendID: "cheap"})

	action, ok := table.Resolve("/teammate/v1/messages")
	if !ok {
		t.Fatal("expected a match")
	}
	if action.BackendID != "cheap" {
		t.Errorf("BackendID = %q, want cheap", action.BackendID)
	}
	if got := StripPrefix("/teammate/v1/messages", action.StripPrefix); got != "/v1/messages" {
		t.Errorf("stripped path = %q, want /v1/messages", got)
	}
}

func TestPrefixRulePartialSegmentDoesNotMatch(t *testing.T) {
	table := NewTable(PrefixRule{Prefix: "/teammate", BackendID: "cheap"})
	if _, ok := table.Resolve("/teammates/v1/messages"); ok {
		t.Error("expected /teammates to NOT match prefix /teammate")
	}
}

func TestPrefixRuleExactMatch(t *testing.T) {
	table := NewTable(PrefixRule{Prefix: "/teammate", BackendID: "cheap"})
	action, ok := table.Resolve("/teammate")
	if !ok {
		t.Fatal("expected exact-prefix match")
	}
	if action.BackendID != "cheap" {
		t.Errorf("BackendID = %q, want cheap", action.BackendID)
	}
}

func TestTableFirstMatchWins(t *testing.T) {
	table := NewTable(
		PrefixRule{Prefix: "/teammate", BackendID: "first"},
		PrefixRule{Prefix: "/teammate", BackendID: "second"},
	)
	action, _ := table.Resolve("/teammate/x")
	if action.BackendID != "first" {
		t.Errorf("BackendID = %q, want first", action.BackendID)
	}
}

func TestTableNoMatchFallsThrough(t *testing.T) {
	table := NewTable(PrefixRule{Prefix: "/teammate", BackendID: "cheap"})
	if _, ok := table.Resolve("/v1/messages"); ok {
		t.Error("expected no match for unrelated path")
	}
}

func TestStripPrefixLeavesLeadingSlash(t *testing.T) {
	if got := StripPrefix("/teammate", "/teammate"); got != "/" {
		t.Errorf("StripPrefix exact match = %q, want /", got)
	}
}
