package session

import (
	"strings"
	"time"

	"conclave/internal/runner"
	"conclave/internal/vote"
)

// State is the controller state machine position. Terminal states are
// prefixed done_ and are final.
type State string

const (
	StateInit          State = "init"
	StateRunningRound  State = "running_round"
	StateAggregating   State = "aggregating"
	StateDoneConsensus State = "done_consensus"
	StateDoneForced    State = "done_forced"
	StateDoneTimeout   State = "done_timeout"
	StateDoneMaxRounds State = "done_max_rounds"
)

func (s State) Terminal() bool {
	return strings.HasPrefix(string(s), "done_")
}

// Policy is the immutable per-session coordination policy, fixed at
// controller construction.
type Policy struct {
	VotingTimeout    time.Duration `json:"voting_timeout"`
	MaxRounds        int           `json:"max_coordination_rounds"`
	RequireConsensus bool          `json:"require_consensus"`
	MinQuorum        int           `json:"min_quorum"`
}

// Round is one synchronized invocation of all agents plus its verdict.
// Append-only once sealed by the controller.
type Round struct {
	Number    int               `json:"number"`
	Responses []runner.Response `json:"responses"`
	Verdict   vote.Verdict      `json:"verdict"`
}

// Session tracks one coordination run. Mutated only by the controller,
// strictly between rounds; concurrent agent work never touches it.
type Session struct {
	ID       string        `json:"id"`
	Prompt   string        `json:"prompt"`
	Policy   Policy        `json:"policy"`
	Deadline time.Time     `json:"deadline"`
	State    State         `json:"state"`
	Rounds   []Round       `json:"rounds"`
	Verdict  *vote.Verdict `json:"verdict,omitempty"`

	terminalEmitted bool
}

// RoundNumber is the number of the most recently started round, 0 before
// the first.
func (s *Session) RoundNumber() int {
	return len(s.Rounds)
}

// Decided reports whether the terminal verdict carries a usable decision.
func (s *Session) Decided() bool {
	return s.Verdict != nil && s.Verdict.Decision != ""
}
