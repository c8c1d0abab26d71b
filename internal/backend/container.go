package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"conclave/internal/bus"
)

// Sandbox starts and stops tool-enabled agent containers. Implemented by
// the container manager.
type Sandbox interface {
	StartAgent(ctx context.Context, agentID, model string, tools []string, env map[string]string) error
	StopAgent(ctx context.Context, agentID string) error
}

// containerBackend runs the agent inside a sandbox container and exchanges
// prompt and result over the bus. The agent image announces itself with a
// "ready" message on its output topic once subscribed, then replies with
// "tool_use" records and a final "result".
type containerBackend struct {
	sandbox Sandbox
	client  *bus.Client
	image   string
}

func newContainerBackend(opts Options) (*containerBackend, error) {
	if opts.Sandbox == nil {
		return nil, fmt.Errorf("container provider requires a sandbox manager")
	}
	if opts.BusURL == "" {
		return nil, fmt.Errorf("container provider requires a bus url")
	}

	client, err := bus.NewClientFromURL(opts.BusURL)
	if err != nil {
		return nil, fmt.Errorf("container provider bus client: %w", err)
	}

	return &containerBackend{
		sandbox: opts.Sandbox,
		client:  client,
		image:   opts.Image,
	}, nil
}

func (b *containerBackend) Kind() Kind { return KindContainer }

type agentMessage struct {
	Type      string          `json:"type"`
	Content   string          `json:"content,omitempty"`
	Tool      string          `json:"tool,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Result    string          `json:"result,omitempty"`
}

func (b *containerBackend) Invoke(ctx context.Context, req Request) (*Completion, error) {
	agentID := fmt.Sprintf("vote-%s", uuid.NewString()[:8])

	readyCh := make(chan struct{}, 1)
	resultCh := make(chan string, 1)

	var traceMu sync.Mutex
	var trace []ToolCall

	sub, err := b.client.Subscribe(bus.TopicAgentOutput(agentID), func(msg *nats.Msg) {
		var out agentMessage
		if err := json.Unmarshal(msg.Data, &out); err != nil {
			return
		}
		switch out.Type {
		case "ready":
			select {
			case readyCh <- struct{}{}:
			default:
			}
		case "tool_use":
			traceMu.Lock()
			trace = append(trace, ToolCall{Name: out.Tool, Arguments: out.Arguments, Result: out.Result})
			traceMu.Unlock()
		case "result":
			select {
			case resultCh <- out.Content:
			default:
			}
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe agent output: %w", err)
	}
	defer sub.Unsubscribe()

	if err := b.sandbox.StartAgent(ctx, agentID, req.Model, req.Tools, nil); err != nil {
		return nil, fmt.Errorf("start sandbox agent: %w", err)
	}
	defer func() {
		// Ask the agent to exit cleanly before the container is stopped.
		_ = b.client.Publish(bus.TopicAgentControl(agentID), []byte(`{"type":"shutdown"}`))
		_ = b.sandbox.StopAgent(context.WithoutCancel(ctx), agentID)
	}()

	// The prompt must not be published before the agent subscribes; wait for
	// its ready announcement.
	select {
	case <-readyCh:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	payload, err := json.Marshal(map[string]string{
		"text":     req.Prompt,
		"role":     req.Role,
		"agent_id": agentID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal prompt: %w", err)
	}
	if err := b.client.Publish(bus.TopicAgentInput(agentID), payload); err != nil {
		return nil, fmt.Errorf("send prompt: %w", err)
	}

	select {
	case content := <-resultCh:
		traceMu.Lock()
		defer traceMu.Unlock()
		return &Completion{Content: content, ToolTrace: trace, Model: req.Model}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *containerBackend) Close() {
	b.client.Close()
}
