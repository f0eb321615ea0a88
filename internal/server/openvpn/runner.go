package openvpn

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Runner executes a sacli command and returns its stdout.
type Runner interface {
	Run(ctx context.Context, args ...string) ([]byte, error)
}

// DockerRunner runs sacli inside the Access Server container via docker exec.
type DockerRunner struct {
	Container string
	SacliPath string
}

func NewDockerRunner(container, sacliPath string) *DockerRunner {
	if sacliPath == "" {
		sacliPath = "sacli"
	}
	return &DockerRunner{Container: container, SacliPath: sacliPath}
}

func (r *DockerRunner) Run(ctx context.Context, args ...string) ([]byte, error) {
	cmdArgs := append([]string{"exec", r.Container, r.SacliPath}, args...)
	cmd := exec.CommandContext(ctx, "docker", cmdArgs...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("command aborted: %w", ctxErr)
		}
		// Arguments are left out on purpose, they may carry a password
		return nil, fmt.Errorf("docker exec failed: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}

	return stdout.Bytes(), nil
}
