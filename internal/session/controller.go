// Package session drives one coordination run: it fans a prompt out to
// every registered agent, aggregates the round's responses into a verdict,
// and either terminates or re-prompts with a disagreement summary, bounded
// by the voting timeout and the maximum round count.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"conclave/internal/bus"
	"conclave/internal/runner"
	"conclave/internal/store"
	"conclave/internal/vote"
)

// ErrConfigInvalid marks session startup failures: no session is created
// and nothing is invoked.
var ErrConfigInvalid = errors.New("invalid session configuration")

// Controller coordinates sessions over a fixed agent set and policy. The
// event client and archive store are optional; a nil sink is skipped.
type Controller struct {
	agents  []runner.Agent
	policy  Policy
	events  *bus.Client
	archive *store.Store
	logger  *slog.Logger
}

func NewController(agents []runner.Agent, policy Policy, events *bus.Client, archive *store.Store, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		agents:  agents,
		policy:  policy,
		events:  events,
		archive: archive,
		logger:  logger,
	}
}

// AgentIDs returns the registered agent IDs in configuration order.
func (c *Controller) AgentIDs() []string {
	ids := make([]string, len(c.agents))
	for i, a := range c.agents {
		ids[i] = a.ID
	}
	return ids
}

// Start validates the configuration and opens a new session. The global
// deadline starts counting here, before the first agent is invoked.
func (c *Controller) Start(prompt string) (*Session, error) {
	if prompt == "" {
		return nil, fmt.Errorf("%w: empty prompt", ErrConfigInvalid)
	}
	if len(c.agents) == 0 {
		return nil, fmt.Errorf("%w: no agents registered", ErrConfigInvalid)
	}
	seen := make(map[string]bool, len(c.agents))
	for _, a := range c.agents {
		if a.ID == "" {
			return nil, fmt.Errorf("%w: agent with empty id", ErrConfigInvalid)
		}
		if seen[a.ID] {
			return nil, fmt.Errorf("%w: duplicate agent id %s", ErrConfigInvalid, a.ID)
		}
		seen[a.ID] = true
		if a.Backend == nil {
			return nil, fmt.Errorf("%w: agent %s has no backend", ErrConfigInvalid, a.ID)
		}
	}
	if c.policy.MaxRounds < 1 {
		return nil, fmt.Errorf("%w: max rounds must be at least 1", ErrConfigInvalid)
	}
	if c.policy.VotingTimeout <= 0 {
		return nil, fmt.Errorf("%w: voting timeout must be positive", ErrConfigInvalid)
	}

	s := &Session{
		ID:       uuid.NewString(),
		Prompt:   prompt,
		Policy:   c.policy,
		Deadline: time.Now().Add(c.policy.VotingTimeout),
		State:    StateInit,
	}

	c.logger.Info("session started",
		"session_id", s.ID,
		"agents", len(c.agents),
		"max_rounds", c.policy.MaxRounds,
		"voting_timeout", c.policy.VotingTimeout)

	c.persistSession(s)
	c.publish(s, "session_started", map[string]any{
		"prompt":   prompt,
		"agents":   c.AgentIDs(),
		"deadline": s.Deadline.UTC().Format(time.RFC3339),
	})
	return s, nil
}

// Run drives a session from start to a terminal state.
func (c *Controller) Run(ctx context.Context, prompt string) (*Session, error) {
	s, err := c.Start(prompt)
	if err != nil {
		return nil, err
	}
	for !s.State.Terminal() {
		c.Step(ctx, s)
	}
	return s, nil
}

// Step executes one full round: invoke every agent, aggregate, and either
// terminate or leave the session ready for the next round. A no-op on a
// terminal session.
func (c *Controller) Step(ctx context.Context, s *Session) {
	if s.State.Terminal() {
		return
	}

	num := s.RoundNumber() + 1
	s.State = StateRunningRound
	c.publish(s, "round_started", map[string]any{"round": num})

	prompt := s.Prompt
	if num > 1 {
		prev := s.Rounds[len(s.Rounds)-1]
		prompt = buildRoundPrompt(s.Prompt, num, vote.Tally(prev.Responses))
	}

	responses := c.runRound(ctx, s, num, prompt)

	s.State = StateAggregating
	verdict := vote.Evaluate(responses, vote.Policy{
		RequireConsensus: c.policy.RequireConsensus,
		MinQuorum:        c.policy.MinQuorum,
	})
	round := Round{Number: num, Responses: responses, Verdict: verdict}
	s.Rounds = append(s.Rounds, round)

	c.logger.Info("round aggregated",
		"session_id", s.ID,
		"round", num,
		"kind", verdict.Kind,
		"decision", verdict.Decision,
		"reason", verdict.Reason)
	c.persistRound(s, round)
	c.publish(s, "round_aggregated", map[string]any{"round": num, "verdict": verdict})

	switch verdict.Kind {
	case vote.KindConsensus:
		c.finish(s, StateDoneConsensus, verdict)
		return
	case vote.KindForced:
		c.finish(s, StateDoneForced, verdict)
		return
	}

	// No consensus this round: check the session bounds before allowing
	// another round.
	if !time.Now().Before(s.Deadline) {
		c.finish(s, StateDoneTimeout, c.fallback(responses, vote.ReasonSessionTimeout))
		return
	}
	if num >= c.policy.MaxRounds {
		c.finish(s, StateDoneMaxRounds, c.fallback(responses, vote.ReasonMaxRounds))
		return
	}
	c.persistSession(s)
}

// runRound invokes every agent concurrently and waits for all of them.
// Failures arrive as error or timeout responses, never as panics or
// missing entries; the result always has one response per agent, sorted
// by agent ID.
func (c *Controller) runRound(ctx context.Context, s *Session, num int, prompt string) []runner.Response {
	responses := make([]runner.Response, len(c.agents))

	var wg sync.WaitGroup
	for i, agent := range c.agents {
		wg.Add(1)
		go func(i int, agent runner.Agent) {
			defer wg.Done()
			resp := runner.Run(ctx, agent, prompt, s.Deadline)
			responses[i] = resp
			c.publish(s, "agent_completed", map[string]any{
				"round":      num,
				"agent_id":   resp.AgentID,
				"status":     resp.Status,
				"latency_ms": resp.Latency.Milliseconds(),
			})
		}(i, agent)
	}
	wg.Wait()

	sort.Slice(responses, func(i, j int) bool {
		return responses[i].AgentID < responses[j].AgentID
	})
	return responses
}

// fallback picks a forced verdict from the last round's responses, or a
// no-consensus verdict carrying the bound reason when nothing usable came
// back.
func (c *Controller) fallback(responses []runner.Response, reason string) vote.Verdict {
	if v, ok := vote.Fallback(responses, reason); ok {
		return v
	}
	return vote.Verdict{Kind: vote.KindNoConsensus, Reason: reason}
}

// finish seals the session. The terminal event is emitted exactly once
// even if finish is reached again through a stray Step.
func (c *Controller) finish(s *Session, state State, verdict vote.Verdict) {
	s.State = state
	s.Verdict = &verdict

	if s.terminalEmitted {
		return
	}
	s.terminalEmitted = true

	c.logger.Info("session terminal",
		"session_id", s.ID,
		"state", state,
		"kind", verdict.Kind,
		"decision", verdict.Decision,
		"rounds", len(s.Rounds))
	c.persistSession(s)
	c.publish(s, "session_terminal", map[string]any{
		"state":   state,
		"verdict": verdict,
		"rounds":  len(s.Rounds),
	})
}

func (c *Controller) publish(s *Session, eventType string, data map[string]any) {
	if c.events == nil {
		return
	}
	event := map[string]any{
		"type":       eventType,
		"session_id": s.ID,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"data":       data,
	}
	if err := c.events.PublishJSON(bus.TopicSessionEvents(s.ID), event); err != nil {
		c.logger.Warn("publish event failed", "type", eventType, "error", err)
	}
}

func (c *Controller) persistSession(s *Session) {
	if c.archive == nil {
		return
	}
	agents, _ := json.Marshal(c.AgentIDs())
	rec := &store.SessionRecord{
		ID:     s.ID,
		Prompt: s.Prompt,
		State:  string(s.State),
		Agents: agents,
		Rounds: len(s.Rounds),
	}
	if s.Verdict != nil {
		rec.VerdictKind = string(s.Verdict.Kind)
		rec.Decision = s.Verdict.Decision
		rec.Reason = s.Verdict.Reason
		if len(s.Verdict.Supporting) > 0 {
			rec.Supporting, _ = json.Marshal(s.Verdict.Supporting)
		}
	}
	if err := c.archive.SaveSession(rec); err != nil {
		c.logger.Warn("archive session failed", "session_id", s.ID, "error", err)
	}
}

func (c *Controller) persistRound(s *Session, round Round) {
	if c.archive == nil {
		return
	}
	responses, _ := json.Marshal(round.Responses)
	verdict, _ := json.Marshal(round.Verdict)
	rec := &store.RoundRecord{
		SessionID: s.ID,
		Number:    round.Number,
		Responses: responses,
		Verdict:   verdict,
	}
	if err := c.archive.SaveRound(rec); err != nil {
		c.logger.Warn("archive round failed", "session_id", s.ID, "round", round.Number, "error", err)
	}
}
