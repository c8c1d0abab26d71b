// Package vote turns a round of agent responses into a verdict.
//
// Free-text answers rarely match verbatim, so voting happens on an
// extracted vote key: if the response contains a line starting with
// "DECISION:" (any case), the remainder of that line is the candidate;
// otherwise the first non-empty line is used. Keys are lowercased,
// whitespace-collapsed, and stripped of trailing punctuation before
// comparison. The default role prompts instruct agents to emit the
// DECISION line, so key equality is checked against a format we request
// rather than assumed of arbitrary prose.
//
// Evaluate is a pure function of its inputs: identical responses and
// policy always yield the identical verdict. Ties break on the
// lexicographically smallest supporting agent ID, then on the key itself.
package vote

import (
	"sort"
	"strings"

	"conclave/internal/runner"
)

type Policy struct {
	RequireConsensus bool `json:"require_consensus"`
	MinQuorum        int  `json:"min_quorum"`
}

type Kind string

const (
	KindConsensus   Kind = "consensus"
	KindNoConsensus Kind = "no_consensus"
	KindForced      Kind = "forced"
)

const (
	ReasonInsufficientQuorum   = "insufficient_quorum"
	ReasonNoMajority           = "no_majority"
	ReasonConsensusNotRequired = "consensus_not_required"
	ReasonMaxRounds            = "max_rounds_exhausted"
	ReasonSessionTimeout       = "session_timeout"
)

// Verdict is produced exactly once per round.
type Verdict struct {
	Kind       Kind     `json:"kind"`
	Decision   string   `json:"decision,omitempty"`
	Supporting []string `json:"supporting,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

// Candidate is one distinct vote key with its supporters.
type Candidate struct {
	Key        string   `json:"key"`
	Decision   string   `json:"decision"`
	Supporting []string `json:"supporting"`
	Excerpt    string   `json:"excerpt,omitempty"`
}

// ExtractDecision reduces a response body to its stated decision: the
// remainder of a "DECISION:" line when present, else the first non-empty
// line, with trailing punctuation removed.
func ExtractDecision(content string) string {
	var first string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if first == "" {
			first = line
		}
		if rest, ok := cutPrefixFold(line, "DECISION:"); ok {
			return trimDecision(rest)
		}
	}
	return trimDecision(first)
}

// NormalizeVote maps a response body to its vote key.
func NormalizeVote(content string) string {
	decision := ExtractDecision(content)
	return strings.Join(strings.Fields(strings.ToLower(decision)), " ")
}

func trimDecision(s string) string {
	s = strings.TrimSpace(s)
	return strings.TrimRight(s, ".,!;:")
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) {
		return "", false
	}
	if !strings.EqualFold(s[:len(prefix)], prefix) {
		return "", false
	}
	return s[len(prefix):], true
}

// Tally groups ok responses by vote key. The result is deterministically
// ordered: support count descending, then smallest supporting agent ID,
// then key. Each candidate's decision text comes from its
// lexicographically first supporter.
func Tally(responses []runner.Response) []Candidate {
	byKey := make(map[string]*Candidate)
	content := make(map[string]map[string]string) // key → agentID → content

	for _, r := range responses {
		if r.Status != runner.StatusOK {
			continue
		}
		key := NormalizeVote(r.Content)
		if key == "" {
			continue
		}
		c, ok := byKey[key]
		if !ok {
			c = &Candidate{Key: key}
			byKey[key] = c
			content[key] = make(map[string]string)
		}
		c.Supporting = append(c.Supporting, r.AgentID)
		content[key][r.AgentID] = r.Content
	}

	candidates := make([]Candidate, 0, len(byKey))
	for key, c := range byKey {
		sort.Strings(c.Supporting)
		rep := c.Supporting[0]
		c.Decision = ExtractDecision(content[key][rep])
		c.Excerpt = excerpt(content[key][rep])
		candidates = append(candidates, *c)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if len(candidates[i].Supporting) != len(candidates[j].Supporting) {
			return len(candidates[i].Supporting) > len(candidates[j].Supporting)
		}
		if candidates[i].Supporting[0] != candidates[j].Supporting[0] {
			return candidates[i].Supporting[0] < candidates[j].Supporting[0]
		}
		return candidates[i].Key < candidates[j].Key
	})

	return candidates
}

// Evaluate produces the verdict for one completed round. Responses with
// status error or timeout are excluded from counting but remain recorded
// on the round.
func Evaluate(responses []runner.Response, pol Policy) Verdict {
	okCount := 0
	for _, r := range responses {
		if r.Status == runner.StatusOK {
			okCount++
		}
	}

	quorum := pol.MinQuorum
	if quorum < 1 {
		quorum = 1
	}
	if okCount < quorum {
		return Verdict{Kind: KindNoConsensus, Reason: ReasonInsufficientQuorum}
	}

	candidates := Tally(responses)
	if len(candidates) == 0 {
		return Verdict{Kind: KindNoConsensus, Reason: ReasonInsufficientQuorum}
	}

	if !pol.RequireConsensus {
		top := candidates[0]
		return Verdict{
			Kind:       KindForced,
			Decision:   top.Decision,
			Supporting: top.Supporting,
			Reason:     ReasonConsensusNotRequired,
		}
	}

	top := candidates[0]
	if len(top.Supporting)*2 > okCount {
		return Verdict{
			Kind:       KindConsensus,
			Decision:   top.Decision,
			Supporting: top.Supporting,
		}
	}

	return Verdict{Kind: KindNoConsensus, Reason: ReasonNoMajority}
}

// Fallback picks the best available forced decision from a round that did
// not reach consensus, for use when a session bound expires. Returns false
// when the round has no usable responses.
func Fallback(responses []runner.Response, reason string) (Verdict, bool) {
	candidates := Tally(responses)
	if len(candidates) == 0 {
		return Verdict{}, false
	}
	top := candidates[0]
	return Verdict{
		Kind:       KindForced,
		Decision:   top.Decision,
		Supporting: top.Supporting,
		Reason:     reason,
	}, true
}

func excerpt(content string) string {
	content = strings.TrimSpace(content)
	if len(content) <= 200 {
		return content
	}
	return content[:200] + "..."
}
