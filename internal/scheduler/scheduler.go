// Package scheduler polls the store for due scheduled prompts and launches
// a coordination session for each.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"conclave/internal/bus"
	"conclave/internal/config"
	"conclave/internal/schedule"
	"conclave/internal/session"
	"conclave/internal/store"
)

// Launcher runs one coordination session to a terminal state.
// *session.Controller satisfies it.
type Launcher interface {
	Run(ctx context.Context, prompt string) (*session.Session, error)
}

type Scheduler struct {
	store        *store.Store
	launcher     Launcher
	events       *bus.Client
	pollInterval time.Duration
	reloadCh     chan struct{}
}

func New(st *store.Store, launcher Launcher, events *bus.Client, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		store:        st,
		launcher:     launcher,
		events:       events,
		pollInterval: cfg.PollInterval,
		reloadCh:     make(chan struct{}, 1),
	}
}

// UpdatePollInterval changes the poll cadence and signals the run loop to
// reset its ticker.
func (s *Scheduler) UpdatePollInterval(d time.Duration) {
	s.pollInterval = d
	select {
	case s.reloadCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	if s.pollInterval == 0 {
		s.pollInterval = 30 * time.Second
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	slog.Info("scheduler started", "poll_interval", s.pollInterval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-s.reloadCh:
			ticker.Reset(s.pollInterval)
			slog.Info("scheduler poll interval updated", "poll_interval", s.pollInterval)
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// Poll launches a session for every due prompt.
func (s *Scheduler) Poll(ctx context.Context) {
	prompts, err := s.store.GetDuePrompts(time.Now())
	if err != nil {
		slog.Error("failed to get due prompts", "error", err)
		return
	}

	for _, p := range prompts {
		s.execute(ctx, p)
	}
}

func (s *Scheduler) execute(ctx context.Context, p store.ScheduledPrompt) {
	slog.Info("executing scheduled prompt", "id", p.ID, "name", p.Name)

	var lastStatus, lastError, sessionID, decision string
	sess, err := s.launcher.Run(ctx, p.Prompt)
	switch {
	case err != nil:
		lastStatus = "error"
		lastError = err.Error()
		slog.Error("scheduled prompt failed", "id", p.ID, "error", err)
	case sess.Decided():
		lastStatus = "success"
		sessionID = sess.ID
		decision = sess.Verdict.Decision
	default:
		lastStatus = "no_decision"
		sessionID = sess.ID
	}

	nextRun := schedule.NextRun(p.Schedule)

	if err := s.store.UpdatePromptRun(p.ID, lastStatus, lastError, nextRun); err != nil {
		slog.Error("failed to update prompt run", "id", p.ID, "error", err)
	}

	s.publishExecuted(p, lastStatus, sessionID, decision)

	// One-off prompts with no next firing are done.
	if nextRun == nil {
		slog.Info("no next run, marking prompt completed", "id", p.ID, "name", p.Name)
		if err := s.store.UpdatePromptStatus(p.ID, "completed"); err != nil {
			slog.Error("failed to complete prompt", "id", p.ID, "error", err)
		}
	}
}

func (s *Scheduler) publishExecuted(p store.ScheduledPrompt, status, sessionID, decision string) {
	if s.events == nil {
		return
	}

	event := map[string]any{
		"type":      "prompt_executed",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"data": map[string]any{
			"id":         p.ID,
			"name":       p.Name,
			"status":     status,
			"session_id": sessionID,
			"decision":   decision,
		},
	}
	if err := s.events.PublishJSON(bus.TopicEventsScheduler, event); err != nil {
		slog.Warn("publish scheduler event failed", "error", err)
	}
}
