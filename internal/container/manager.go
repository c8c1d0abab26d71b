package container

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"

	"conclave/internal/config"
)

const labelPrefix = "conclave"

// Manager runs tool-enabled voting agents in Docker containers. Each agent
// container connects back to the embedded bus and exchanges prompt/result
// messages on its agent topics.
type Manager struct {
	docker  *client.Client
	cfg     config.SandboxConfig
	busURL  string
	mu      sync.RWMutex
	active  map[string]*AgentContainer // agentID → container
	network string                     // resolved network name
}

type AgentContainer struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	Name      string    `json:"name"`
	StartedAt time.Time `json:"started_at"`
}

func NewManager(cfg config.SandboxConfig, busURL string) (*Manager, error) {
	docker, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}

	return &Manager{
		docker: docker,
		cfg:    cfg,
		busURL: busURL,
		active: make(map[string]*AgentContainer),
	}, nil
}

func (m *Manager) ensureNetwork(ctx context.Context) error {
	if m.network != "" {
		return nil
	}

	name := m.cfg.Network
	_, err := m.docker.NetworkInspect(ctx, name, network.InspectOptions{})
	if err == nil {
		m.network = name
		return nil
	}

	_, err = m.docker.NetworkCreate(ctx, name, network.CreateOptions{
		Driver: "bridge",
	})
	if err != nil {
		return fmt.Errorf("create network %s: %w", name, err)
	}
	m.network = name
	slog.Info("created docker network", "network", name)
	return nil
}

// StartAgent launches a sandbox container for one voting agent. Satisfies
// the backend sandbox contract.
func (m *Manager) StartAgent(ctx context.Context, agentID, model string, tools []string, env map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.active[agentID]; ok {
		return nil
	}

	if len(m.active) >= m.cfg.MaxRunning {
		return fmt.Errorf("max sandbox containers (%d) reached", m.cfg.MaxRunning)
	}

	if err := m.ensureNetwork(ctx); err != nil {
		return err
	}

	containerName := fmt.Sprintf("conclave-agent-%s", agentID)

	// Remove any stale container with the same name
	timeout := 5
	_ = m.docker.ContainerStop(ctx, containerName, dockercontainer.StopOptions{Timeout: &timeout})
	_ = m.docker.ContainerRemove(ctx, containerName, dockercontainer.RemoveOptions{Force: true})

	containerEnv := []string{
		fmt.Sprintf("NATS_URL=%s", m.busURL),
		fmt.Sprintf("AGENT_ID=%s", agentID),
	}
	if model != "" {
		containerEnv = append(containerEnv, fmt.Sprintf("AGENT_MODEL=%s", model))
	}
	if len(tools) > 0 {
		containerEnv = append(containerEnv, fmt.Sprintf("ALLOWED_TOOLS=%s", strings.Join(tools, ",")))
	}
	if tz := os.Getenv("TZ"); tz != "" {
		containerEnv = append(containerEnv, fmt.Sprintf("TZ=%s", tz))
	}
	for k, v := range env {
		containerEnv = append(containerEnv, fmt.Sprintf("%s=%s", k, v))
	}

	containerCfg := &dockercontainer.Config{
		Image:  m.cfg.Image,
		Env:    containerEnv,
		Labels: map[string]string{labelPrefix + ".managed": "true", labelPrefix + ".agent": agentID},
	}

	hostCfg := &dockercontainer.HostConfig{
		NetworkMode: dockercontainer.NetworkMode(m.network),
		AutoRemove:  false,
	}

	resp, err := m.docker.ContainerCreate(ctx, containerCfg, hostCfg, &network.NetworkingConfig{}, nil, containerName)
	if err != nil {
		return fmt.Errorf("create container: %w", err)
	}

	if err := m.docker.ContainerStart(ctx, resp.ID, dockercontainer.StartOptions{}); err != nil {
		return fmt.Errorf("start container: %w", err)
	}

	m.active[agentID] = &AgentContainer{
		ID:        resp.ID,
		AgentID:   agentID,
		Name:      containerName,
		StartedAt: time.Now(),
	}

	slog.Info("sandbox agent started", "agent", agentID, "container", resp.ID[:12])
	return nil
}

func (m *Manager) StopAgent(ctx context.Context, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.active[agentID]
	if !ok {
		return nil
	}

	timeout := 10
	if err := m.docker.ContainerStop(ctx, info.ID, dockercontainer.StopOptions{Timeout: &timeout}); err != nil {
		slog.Warn("failed to stop container gracefully", "container", info.ID[:12], "error", err)
	}

	if err := m.docker.ContainerRemove(ctx, info.ID, dockercontainer.RemoveOptions{Force: true}); err != nil {
		slog.Warn("failed to remove container", "container", info.ID[:12], "error", err)
	}

	delete(m.active, agentID)
	slog.Info("sandbox agent stopped", "agent", agentID)
	return nil
}

func (m *Manager) StopAll(ctx context.Context) {
	m.mu.RLock()
	agentIDs := make([]string, 0, len(m.active))
	for id := range m.active {
		agentIDs = append(agentIDs, id)
	}
	m.mu.RUnlock()

	for _, id := range agentIDs {
		_ = m.StopAgent(ctx, id)
	}
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// CleanupStale removes managed containers left behind by a previous run.
func (m *Manager) CleanupStale(ctx context.Context) error {
	filterArgs := filters.NewArgs()
	filterArgs.Add("label", labelPrefix+".managed=true")

	containers, err := m.docker.ContainerList(ctx, dockercontainer.ListOptions{
		All:     true,
		Filters: filterArgs,
	})
	if err != nil {
		return fmt.Errorf("list containers: %w", err)
	}

	m.mu.RLock()
	activeIDs := make(map[string]bool)
	for _, info := range m.active {
		activeIDs[info.ID] = true
	}
	m.mu.RUnlock()

	for _, c := range containers {
		if !activeIDs[c.ID] {
			slog.Info("cleaning up stale sandbox container", "container", c.ID[:12])
			_ = m.docker.ContainerRemove(ctx, c.ID, dockercontainer.RemoveOptions{Force: true})
		}
	}
	return nil
}
