package sandbox

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Mode represents the sandbox execution mode.
type Mode string

const (
	// ModeDocker uses Docker containers for isolation.
	ModeDocker Mode = "docker"
	// ModeHost runs commands directly on the host (no isolation).
	ModeHost Mode = "host"
	// ModeAuto automatically selects Docker if available, otherwise falls back to host.
	ModeAuto Mode = "auto"
)

// DefaultDockerImage must provide rg and fd on its PATH.
const DefaultDockerImage = "alpine:latest"

// Config holds configuration for sandbox execution.
type Config struct {
	Mode        Mode
	DockerImage string        // Image used for docker mode
	CPU         string        // CPU limit (e.g., "2", "0.5")
	Memory      string        // Memory limit (e.g., "1g", "512m")
	CmdTimeout  time.Duration // Default command timeout (0 = DefaultCmdTimeout)
}

// DefaultConfig returns the host-mode configuration.
func DefaultConfig() Config {
	return Config{
		Mode:        ModeHost,
		DockerImage: DefaultDockerImage,
		CPU:         "2",
		Memory:      "1g",
		CmdTimeout:  DefaultCmdTimeout,
	}
}

// ParseMode maps a config string to a Mode. Unknown values fall back to host.
func ParseMode(s string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeDocker:
		return ModeDocker
	case ModeAuto:
		return ModeAuto
	default:
		return ModeHost
	}
}

// IsDockerAvailable checks if Docker is available and accessible.
func IsDockerAvailable(ctx context.Context) bool {
	cmd := exec.CommandContext(ctx, "docker", "ps")
	return cmd.Run() == nil
}

// NewRunner creates a runner for cfg.Mode. Docker mode fails when the daemon
// is unreachable; auto mode falls back to the host runner with a warning.
func NewRunner(ctx context.Context, cfg Config, logger *zap.Logger) (Runner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Mode {
	case ModeDocker:
		r, err := NewDockerRunner(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("docker sandbox: %w", err)
		}
		return r, nil

	case ModeAuto:
		if IsDockerAvailable(ctx) {
			r, err := NewDockerRunner(cfg, logger)
			if err == nil {
				return r, nil
			}
			logger.Warn("docker available but runner creation failed, using host executor", zap.Error(err))
			return NewHostRunner(cfg), nil
		}
		logger.Warn("docker not available, using host executor")
		return NewHostRunner(cfg), nil

	case ModeHost, "":
		return NewHostRunner(cfg), nil

	default:
		return nil, fmt.Errorf("unknown runner mode: %s", cfg.Mode)
	}
}
