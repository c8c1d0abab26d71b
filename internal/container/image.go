package container

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/docker/docker/api/types/build"
	goarchive "github.com/moby/go-archive"
)

// BuildImage builds the sandbox agent image from Dockerfile.agent in the
// current working directory.
func (m *Manager) BuildImage(ctx context.Context) error {
	cwd, _ := os.Getwd()

	tar, err := goarchive.TarWithOptions(cwd, &goarchive.TarOptions{})
	if err != nil {
		return fmt.Errorf("create build context: %w", err)
	}

	resp, err := m.docker.ImageBuild(ctx, tar, build.ImageBuildOptions{
		Tags:       []string{m.cfg.Image},
		Dockerfile: "Dockerfile.agent",
		Remove:     true,
	})
	if err != nil {
		return fmt.Errorf("build image: %w", err)
	}
	defer resp.Body.Close()

	// Drain the build output
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		slog.Warn("error reading build output", "error", err)
	}

	slog.Info("sandbox agent image built", "image", m.cfg.Image)
	return nil
}
