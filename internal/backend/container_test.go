package backend

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"conclave/internal/bus"
	"conclave/internal/config"
)

// fakeSandbox runs an in-process stand-in for the agent container: on start
// it subscribes to the agent's input topic, announces ready, and answers
// prompts over the bus exactly like the real image would.
type fakeSandbox struct {
	busURL  string
	answer  string
	silent  bool
	stopped chan string
}

func (f *fakeSandbox) StartAgent(ctx context.Context, agentID, model string, tools []string, env map[string]string) error {
	client, err := bus.NewClientFromURL(f.busURL)
	if err != nil {
		return err
	}

	_, err = client.Subscribe(bus.TopicAgentInput(agentID), func(msg *nats.Msg) {
		if f.silent {
			return
		}
		tool, _ := json.Marshal(agentMessage{Type: "tool_use", Tool: "web_search", Result: "3 hits"})
		client.Publish(bus.TopicAgentOutput(agentID), tool)
		result, _ := json.Marshal(agentMessage{Type: "result", Content: f.answer})
		client.Publish(bus.TopicAgentOutput(agentID), result)
	})
	if err != nil {
		return err
	}

	ready, _ := json.Marshal(agentMessage{Type: "ready"})
	if err := client.Publish(bus.TopicAgentOutput(agentID), ready); err != nil {
		return err
	}
	return client.Flush()
}

func (f *fakeSandbox) StopAgent(ctx context.Context, agentID string) error {
	select {
	case f.stopped <- agentID:
	default:
	}
	return nil
}

func testBus(t *testing.T) *bus.Bus {
	t.Helper()
	b, err := bus.New(config.NATSConfig{Port: -1, DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("start bus: %v", err)
	}
	t.Cleanup(b.Close)
	return b
}

func TestContainerInvoke(t *testing.T) {
	b := testBus(t)
	sandbox := &fakeSandbox{busURL: b.ClientURL(), answer: "DECISION: yes", stopped: make(chan string, 1)}

	be, err := New(KindContainer, Options{Sandbox: sandbox, BusURL: b.ClientURL(), Image: "conclave-agent:latest"})
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	completion, err := be.Invoke(ctx, Request{Model: "gpt-5", Prompt: "answer yes", Tools: []string{"web_search"}})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if completion.Content != "DECISION: yes" {
		t.Errorf("unexpected content %q", completion.Content)
	}
	if len(completion.ToolTrace) != 1 || completion.ToolTrace[0].Name != "web_search" {
		t.Errorf("unexpected tool trace: %+v", completion.ToolTrace)
	}

	select {
	case <-sandbox.stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("sandbox agent was not stopped")
	}
}

func TestContainerInvokeTimeout(t *testing.T) {
	b := testBus(t)
	sandbox := &fakeSandbox{busURL: b.ClientURL(), silent: true, stopped: make(chan string, 1)}

	be, err := New(KindContainer, Options{Sandbox: sandbox, BusURL: b.ClientURL()})
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err = be.Invoke(ctx, Request{Model: "gpt-5", Prompt: "never answered"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}

	// The sandbox must still be torn down after a timeout.
	select {
	case <-sandbox.stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("sandbox agent was not stopped after timeout")
	}
}

func TestContainerRequiresSandbox(t *testing.T) {
	if _, err := New(KindContainer, Options{}); err == nil {
		t.Fatal("expected error without sandbox")
	}
}
