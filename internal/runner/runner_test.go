package runner

import (
	"context"
	"testing"
	"time"

	"conclave/internal/backend"
)

// stubBackend returns a canned completion or error, optionally after a delay.
type stubBackend struct {
	content string
	err     error
	delay   time.Duration
}

func (s *stubBackend) Kind() backend.Kind { return "stub" }

func (s *stubBackend) Invoke(ctx context.Context, req backend.Request) (*backend.Completion, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return &backend.Completion{Content: s.content}, nil
}

func TestRunOK(t *testing.T) {
	agent := Agent{ID: "a", Model: "m", Backend: &stubBackend{content: "DECISION: X"}}

	resp := Run(context.Background(), agent, "prompt", time.Now().Add(time.Minute))

	if resp.Status != StatusOK {
		t.Fatalf("expected ok, got %s (%s)", resp.Status, resp.Error)
	}
	if resp.AgentID != "a" {
		t.Errorf("expected agent id a, got %s", resp.AgentID)
	}
	if resp.Content != "DECISION: X" {
		t.Errorf("unexpected content %q", resp.Content)
	}
}

func TestRunBackendError(t *testing.T) {
	agent := Agent{ID: "a", Backend: &stubBackend{err: &backend.StatusError{Code: 503, Body: "overloaded"}}}

	resp := Run(context.Background(), agent, "prompt", time.Now().Add(time.Minute))

	if resp.Status != StatusError {
		t.Fatalf("expected error status, got %s", resp.Status)
	}
	if resp.ErrorClass != backend.ClassUpstream {
		t.Errorf("expected upstream class, got %s", resp.ErrorClass)
	}
	if resp.Error == "" {
		t.Error("expected error message recorded")
	}
}

func TestRunDeadlineTimeout(t *testing.T) {
	agent := Agent{ID: "a", Backend: &stubBackend{content: "late", delay: time.Second}}

	resp := Run(context.Background(), agent, "prompt", time.Now().Add(50*time.Millisecond))

	if resp.Status != StatusTimeout {
		t.Fatalf("expected timeout, got %s (%s)", resp.Status, resp.Error)
	}
}

func TestRunAgentTimeoutCeiling(t *testing.T) {
	// The per-agent ceiling is tighter than the session deadline and wins.
	agent := Agent{ID: "a", Timeout: 50 * time.Millisecond, Backend: &stubBackend{content: "late", delay: time.Second}}

	start := time.Now()
	resp := Run(context.Background(), agent, "prompt", time.Now().Add(time.Minute))

	if resp.Status != StatusTimeout {
		t.Fatalf("expected timeout, got %s", resp.Status)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("agent timeout ceiling was not applied")
	}
}

func TestRunEmptyPrompt(t *testing.T) {
	agent := Agent{ID: "a", Backend: &stubBackend{content: "x"}}

	resp := Run(context.Background(), agent, "", time.Now().Add(time.Minute))

	if resp.Status != StatusError {
		t.Fatalf("expected error for empty prompt, got %s", resp.Status)
	}
}

func TestRunNeverPanicsOnNilBackend(t *testing.T) {
	resp := Run(context.Background(), Agent{ID: "a"}, "prompt", time.Now().Add(time.Minute))
	if resp.Status != StatusError {
		t.Fatalf("expected error status, got %s", resp.Status)
	}
}

func TestRunRecordsLatency(t *testing.T) {
	agent := Agent{ID: "a", Backend: &stubBackend{content: "x", delay: 20 * time.Millisecond}}

	resp := Run(context.Background(), agent, "prompt", time.Now().Add(time.Minute))

	if resp.Latency < 20*time.Millisecond {
		t.Errorf("expected latency >= 20ms, got %v", resp.Latency)
	}
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	agent := Agent{ID: "a", Backend: &stubBackend{content: "x", delay: time.Second}}
	resp := Run(ctx, agent, "prompt", time.Now().Add(time.Minute))

	if resp.Status != StatusError {
		t.Fatalf("expected error status for cancelled context, got %s", resp.Status)
	}
	if resp.ErrorClass != backend.ClassCancelled {
		t.Errorf("expected cancelled class, got %s", resp.ErrorClass)
	}
}
