// Package notify pushes terminal session verdicts to Telegram. It is a
// pure presenter: it subscribes to the event bus and never touches session
// state.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/nats-io/nats.go"

	"conclave/internal/bus"
	"conclave/internal/config"
	"conclave/internal/vote"
)

type Notifier struct {
	bot    *telego.Bot
	client *bus.Client
	cfg    config.NotifyConfig
}

func New(cfg config.NotifyConfig, b *bus.Bus) (*Notifier, error) {
	bot, err := telego.NewBot(cfg.TelegramToken)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	client, err := bus.NewClient(b)
	if err != nil {
		return nil, fmt.Errorf("notify bus client: %w", err)
	}
	return &Notifier{bot: bot, client: client, cfg: cfg}, nil
}

// terminalEvent is the slice of the session event envelope the notifier
// cares about.
type terminalEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Data      struct {
		State   string       `json:"state"`
		Rounds  int          `json:"rounds"`
		Verdict vote.Verdict `json:"verdict"`
	} `json:"data"`
}

// Start listens for terminal session events until the context is done.
func (n *Notifier) Start(ctx context.Context) error {
	sub, err := n.client.Subscribe(bus.TopicEventsSessions, func(msg *nats.Msg) {
		var ev terminalEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return
		}
		if ev.Type != "session_terminal" {
			return
		}
		if err := n.send(ctx, formatVerdict(ev)); err != nil {
			slog.Error("failed to send verdict notification", "session_id", ev.SessionID, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe session events: %w", err)
	}

	slog.Info("verdict notifier started", "chat_id", n.cfg.ChatID)
	<-ctx.Done()
	_ = sub.Unsubscribe()
	n.client.Close()
	return nil
}

func formatVerdict(ev terminalEvent) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Session %s finished (%s, %d round", ev.SessionID, ev.Data.State, ev.Data.Rounds)
	if ev.Data.Rounds != 1 {
		sb.WriteString("s")
	}
	sb.WriteString(")\n")

	v := ev.Data.Verdict
	if v.Decision != "" {
		fmt.Fprintf(&sb, "Decision: %s\n", v.Decision)
		if len(v.Supporting) > 0 {
			fmt.Fprintf(&sb, "Supported by: %s\n", strings.Join(v.Supporting, ", "))
		}
	} else {
		sb.WriteString("No usable decision\n")
	}
	if v.Reason != "" {
		fmt.Fprintf(&sb, "Reason: %s\n", v.Reason)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// send delivers a message in Telegram-sized chunks.
func (n *Notifier) send(ctx context.Context, text string) error {
	for _, chunk := range chunkMessage(text, 4096) {
		if _, err := n.bot.SendMessage(ctx, tu.Message(tu.ID(n.cfg.ChatID), chunk)); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}

// chunkMessage splits a message into chunks that fit within Telegram's
// message size limit, preferring newline boundaries.
func chunkMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}

		cutAt := maxLen
		if idx := strings.LastIndex(text[:maxLen], "\n"); idx > maxLen/2 {
			cutAt = idx + 1
		}

		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}

	return chunks
}
