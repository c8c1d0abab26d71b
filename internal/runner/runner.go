// Package runner executes a single agent turn. Every failure mode is
// absorbed at this boundary and returned as response data; the controller
// never sees an error from a runner.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"conclave/internal/backend"
)

type Status string

const (
	StatusOK      Status = "ok"
	StatusError   Status = "error"
	StatusTimeout Status = "timeout"
)

// Agent is one resolved voting participant: configuration plus a ready
// backend. Immutable once built; safe to share across rounds.
type Agent struct {
	ID          string
	Role        string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	Tools       []string
	Backend     backend.Backend
}

// Response is the outcome of one agent invocation within a round.
type Response struct {
	AgentID    string             `json:"agent_id"`
	Content    string             `json:"content,omitempty"`
	ToolTrace  []backend.ToolCall `json:"tool_trace,omitempty"`
	Status     Status             `json:"status"`
	ErrorClass string             `json:"error_class,omitempty"`
	Error      string             `json:"error,omitempty"`
	Latency    time.Duration      `json:"latency"`
}

// Run invokes the agent once with the given prompt, bounded by the earlier
// of the session deadline and the agent's own timeout ceiling.
func Run(ctx context.Context, agent Agent, prompt string, deadline time.Time) Response {
	start := time.Now()

	resp := Response{AgentID: agent.ID}

	if prompt == "" {
		resp.Status = StatusError
		resp.ErrorClass = backend.ClassBadResponse
		resp.Error = "empty prompt"
		return resp
	}
	if agent.Backend == nil {
		resp.Status = StatusError
		resp.ErrorClass = backend.ClassBackend
		resp.Error = fmt.Sprintf("agent %s has no backend", agent.ID)
		return resp
	}

	// Per-call deadline: min(remaining session budget, per-agent ceiling).
	callDeadline := deadline
	if agent.Timeout > 0 {
		if ceiling := start.Add(agent.Timeout); ceiling.Before(callDeadline) {
			callDeadline = ceiling
		}
	}

	callCtx, cancel := context.WithDeadline(ctx, callDeadline)
	defer cancel()

	completion, err := agent.Backend.Invoke(callCtx, backend.Request{
		Model:       agent.Model,
		Role:        agent.Role,
		Prompt:      prompt,
		Temperature: agent.Temperature,
		MaxTokens:   agent.MaxTokens,
		Tools:       agent.Tools,
	})
	resp.Latency = time.Since(start)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			resp.Status = StatusTimeout
			resp.Error = "deadline exceeded"
			return resp
		}
		resp.Status = StatusError
		resp.ErrorClass = backend.Classify(err)
		resp.Error = err.Error()
		return resp
	}

	resp.Status = StatusOK
	resp.Content = completion.Content
	resp.ToolTrace = completion.ToolTrace
	return resp
}
