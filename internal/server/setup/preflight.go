package setup

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/kamikazebr/ovpn-sync/internal/log"
)

// execFunc runs a command and returns its stdout. Replaced in tests.
type execFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func defaultExec(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Preflight checks that the Access Server container is reachable before the
// scheduler starts. It never starts or restarts containers.
type Preflight struct {
	Container string
	SacliPath string
	Attempts  int
	Interval  time.Duration

	run execFunc
}

func NewPreflight(container, sacliPath string) *Preflight {
	return &Preflight{
		Container: container,
		SacliPath: sacliPath,
		Attempts:  10,
		Interval:  3 * time.Second,
		run:       defaultExec,
	}
}

// CheckDocker verifies the docker CLI works, the container is running and
// sacli answers inside it, retrying while the Access Server boots.
func (p *Preflight) CheckDocker(ctx context.Context) error {
	logger := log.WithComponent("preflight")

	if _, err := p.run(ctx, "docker", "--version"); err != nil {
		return fmt.Errorf("docker CLI is not available: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		lastErr = p.check(ctx)
		if lastErr == nil {
			logger.Info().Str("container", p.Container).Msg("Access Server container is ready")
			return nil
		}
		logger.Warn().Err(lastErr).Int("attempt", attempt).Msg("Access Server not ready yet")

		if attempt == p.Attempts {
			break
		}
		select {
		case <-time.After(p.Interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("access server not ready after %d attempts: %w", p.Attempts, lastErr)
}

func (p *Preflight) check(ctx context.Context) error {
	out, err := p.run(ctx, "docker", "ps", "--filter", "name=^"+p.Container+"$", "--format", "{{.Names}}")
	if err != nil {
		return fmt.Errorf("docker ps failed: %w", err)
	}
	if strings.TrimSpace(string(out)) != p.Container {
		return fmt.Errorf("container %s is not running", p.Container)
	}

	if _, err := p.run(ctx, "docker", "exec", p.Container, p.SacliPath, "VPNStatus"); err != nil {
		return fmt.Errorf("sacli is not answering: %w", err)
	}
	return nil
}
