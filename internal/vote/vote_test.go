package vote

import (
	"reflect"
	"testing"

	"conclave/internal/runner"
)

func ok(agentID, content string) runner.Response {
	return runner.Response{AgentID: agentID, Status: runner.StatusOK, Content: content}
}

func failed(agentID string, status runner.Status) runner.Response {
	return runner.Response{AgentID: agentID, Status: status, Error: "boom"}
}

func TestExtractDecision(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"DECISION: postgres", "postgres"},
		{"decision: Postgres.", "Postgres"},
		{"Some reasoning first.\nDECISION: use redis\nmore text", "use redis"},
		{"Just a plain answer", "Just a plain answer"},
		{"\n\n  spaced answer  \n", "spaced answer"},
		{"", ""},
	}

	for _, tc := range cases {
		if got := ExtractDecision(tc.in); got != tc.want {
			t.Errorf("ExtractDecision(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeVote(t *testing.T) {
	a := NormalizeVote("DECISION: Use   Postgres.")
	b := NormalizeVote("reasoning...\ndecision: use postgres")
	if a != b {
		t.Errorf("expected equal keys, got %q vs %q", a, b)
	}
	if a != "use postgres" {
		t.Errorf("unexpected key %q", a)
	}
}

func TestEvaluateMajorityConsensus(t *testing.T) {
	// Scenario: 3 agents, majority on X.
	responses := []runner.Response{
		ok("A", "X"),
		ok("B", "X"),
		ok("C", "Y"),
	}

	v := Evaluate(responses, Policy{RequireConsensus: true, MinQuorum: 2})

	if v.Kind != KindConsensus {
		t.Fatalf("expected consensus, got %s (%s)", v.Kind, v.Reason)
	}
	if v.Decision != "X" {
		t.Errorf("expected decision X, got %q", v.Decision)
	}
	if !reflect.DeepEqual(v.Supporting, []string{"A", "B"}) {
		t.Errorf("expected supporting [A B], got %v", v.Supporting)
	}
}

func TestEvaluateInsufficientQuorum(t *testing.T) {
	// Scenario: one error, one timeout, one ok, quorum 2.
	responses := []runner.Response{
		failed("A", runner.StatusError),
		failed("B", runner.StatusTimeout),
		ok("C", "X"),
	}

	v := Evaluate(responses, Policy{RequireConsensus: true, MinQuorum: 2})

	if v.Kind != KindNoConsensus {
		t.Fatalf("expected no_consensus, got %s", v.Kind)
	}
	if v.Reason != ReasonInsufficientQuorum {
		t.Errorf("expected insufficient_quorum, got %s", v.Reason)
	}
}

func TestEvaluateTieIsNoConsensus(t *testing.T) {
	responses := []runner.Response{
		ok("A", "X"),
		ok("B", "Y"),
	}

	v := Evaluate(responses, Policy{RequireConsensus: true, MinQuorum: 2})

	if v.Kind != KindNoConsensus || v.Reason != ReasonNoMajority {
		t.Fatalf("expected no_consensus/no_majority, got %s/%s", v.Kind, v.Reason)
	}
}

func TestEvaluateForcedWhenConsensusNotRequired(t *testing.T) {
	responses := []runner.Response{
		ok("A", "X"),
		ok("B", "Y"),
		ok("C", "Z"),
	}

	v := Evaluate(responses, Policy{RequireConsensus: false, MinQuorum: 1})

	if v.Kind != KindForced {
		t.Fatalf("expected forced, got %s", v.Kind)
	}
	if v.Reason != ReasonConsensusNotRequired {
		t.Errorf("unexpected reason %s", v.Reason)
	}
	// Deterministic tie-break: all singletons, smallest supporter wins.
	if v.Decision != "X" {
		t.Errorf("expected X from agent A, got %q", v.Decision)
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	responses := []runner.Response{
		ok("C", "Y"),
		ok("A", "X"),
		ok("B", "X"),
		failed("D", runner.StatusTimeout),
	}
	pol := Policy{RequireConsensus: true, MinQuorum: 2}

	first := Evaluate(responses, pol)
	for i := 0; i < 50; i++ {
		if got := Evaluate(responses, pol); !reflect.DeepEqual(got, first) {
			t.Fatalf("verdict changed between calls: %+v vs %+v", got, first)
		}
	}
}

func TestEvaluateExcludesFailedFromCounting(t *testing.T) {
	// 2 of 3 ok and they agree: failures must not block majority.
	responses := []runner.Response{
		ok("A", "X"),
		ok("B", "X"),
		failed("C", runner.StatusError),
	}

	v := Evaluate(responses, Policy{RequireConsensus: true, MinQuorum: 2})

	if v.Kind != KindConsensus {
		t.Fatalf("expected consensus, got %s (%s)", v.Kind, v.Reason)
	}
	if !reflect.DeepEqual(v.Supporting, []string{"A", "B"}) {
		t.Errorf("unexpected supporting %v", v.Supporting)
	}
}

func TestTallyNormalizesBeforeGrouping(t *testing.T) {
	responses := []runner.Response{
		ok("A", "DECISION: Use Postgres."),
		ok("B", "I thought about it.\ndecision: use   postgres"),
		ok("C", "DECISION: use mysql"),
	}

	candidates := Tally(responses)

	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(candidates))
	}
	if candidates[0].Key != "use postgres" {
		t.Errorf("expected top key 'use postgres', got %q", candidates[0].Key)
	}
	if !reflect.DeepEqual(candidates[0].Supporting, []string{"A", "B"}) {
		t.Errorf("unexpected supporters %v", candidates[0].Supporting)
	}
	// Decision text comes from the first supporter, original casing kept.
	if candidates[0].Decision != "Use Postgres" {
		t.Errorf("unexpected decision %q", candidates[0].Decision)
	}
}

func TestFallback(t *testing.T) {
	responses := []runner.Response{
		ok("A", "X"),
		ok("B", "Y"),
		ok("C", "Y"),
	}

	v, usable := Fallback(responses, ReasonMaxRounds)
	if !usable {
		t.Fatal("expected usable fallback")
	}
	if v.Kind != KindForced || v.Decision != "Y" {
		t.Errorf("expected forced Y, got %s %q", v.Kind, v.Decision)
	}
	if v.Reason != ReasonMaxRounds {
		t.Errorf("unexpected reason %s", v.Reason)
	}
}

func TestFallbackNoUsableResponses(t *testing.T) {
	responses := []runner.Response{
		failed("A", runner.StatusError),
		failed("B", runner.StatusTimeout),
	}

	if _, usable := Fallback(responses, ReasonSessionTimeout); usable {
		t.Fatal("expected no usable fallback")
	}
}

func TestEvaluateEmptyContentNotCounted(t *testing.T) {
	responses := []runner.Response{
		ok("A", "   \n  "),
		ok("B", "X"),
	}

	v := Evaluate(responses, Policy{RequireConsensus: true, MinQuorum: 1})

	// A's blank answer produces no vote key; B's X is a strict majority of
	// counted votes but okCount includes A, so 1 of 2 is not a majority.
	if v.Kind != KindNoConsensus {
		t.Fatalf("expected no_consensus, got %s", v.Kind)
	}
}
