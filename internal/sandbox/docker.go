package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-units"
	"go.uber.org/zap"
)

const workspaceMount = "/workspace"

// DockerRunner runs commands in throwaway containers with the working
// directory bind-mounted read-only at /workspace.
type DockerRunner struct {
	client *client.Client
	config Config
	logger *zap.Logger
}

// NewDockerRunner creates a new Docker-based runner.
func NewDockerRunner(config Config, logger *zap.Logger) (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		return nil, fmt.Errorf("docker daemon not accessible: %w", err)
	}

	if config.DockerImage == "" {
		config.DockerImage = DefaultDockerImage
	}
	return &DockerRunner{client: cli, config: config, logger: logger}, nil
}

// RunCmd runs name in a fresh container. Paths in args that live under dir
// are rewritten to their /workspace equivalents.
func (r *DockerRunner) RunCmd(ctx context.Context, dir, name string, args []string, timeout time.Duration) (Result, error) {
	timeout = effectiveTimeout(timeout, r.config)

	if err := r.ensureImage(ctx, r.config.DockerImage); err != nil {
		return Result{}, fmt.Errorf("failed to ensure image %s: %w", r.config.DockerImage, err)
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return Result{}, fmt.Errorf("failed to get absolute path: %w", err)
	}

	memory, err := parseMemory(r.config.Memory)
	if err != nil {
		return Result{}, err
	}

	containerConfig := &container.Config{
		Image:           r.config.DockerImage,
		Cmd:             append([]string{name}, containerArgs(absDir, args)...),
		WorkingDir:      workspaceMount,
		User:            "1000:1000",
		Env:             []string{"HOME=/tmp"},
		NetworkDisabled: true,
	}

	hostConfig := &container.HostConfig{
		Mounts: []mount.Mount{
			{
				Type:     mount.TypeBind,
				Source:   absDir,
				Target:   workspaceMount,
				ReadOnly: true,
			},
		},
		Resources: container.Resources{
			Memory:   memory,
			NanoCPUs: parseNanoCPUs(r.config.CPU),
			Ulimits: []*units.Ulimit{
				{Name: "nofile", Soft: 1024, Hard: 1024},
			},
		},
		SecurityOpt:    []string{"no-new-privileges"},
		CapDrop:        []string{"ALL"},
		ReadonlyRootfs: true,
		Tmpfs: map[string]string{
			"/tmp": "rw,noexec,nosuid,size=100m",
		},
	}

	createResp, err := r.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "")
	if err != nil {
		return Result{}, fmt.Errorf("failed to create container: %w", err)
	}
	containerID := createResp.ID

	defer func() {
		removeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.client.ContainerRemove(removeCtx, containerID, container.RemoveOptions{Force: true})
	}()

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := r.client.ContainerStart(execCtx, containerID, container.StartOptions{}); err != nil {
		return Result{}, fmt.Errorf("failed to start container: %w", err)
	}

	statusCh, errCh := r.client.ContainerWait(execCtx, containerID, container.WaitConditionNotRunning)

	var exitCode int64
	select {
	case <-execCtx.Done():
		killCtx, killCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer killCancel()
		_ = r.client.ContainerKill(killCtx, containerID, "SIGKILL")
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		r.logger.Warn("container timed out", zap.String("cmd", name), zap.Duration("timeout", timeout))
		return Result{Code: -1, TimedOut: true}, ErrTimedOut
	case err := <-errCh:
		if err != nil {
			return Result{}, fmt.Errorf("container wait error: %w", err)
		}
	case status := <-statusCh:
		exitCode = status.StatusCode
	}

	logs, err := r.client.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to read container logs: %w", err)
	}
	defer logs.Close()

	stdout, stderr, err := demuxLogs(logs)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Stdout: hostPaths(absDir, stdout),
		Stderr: hostPaths(absDir, stderr),
		Code:   int(exitCode),
	}, nil
}

// ensureImage checks if the image exists locally, and pulls it if not.
func (r *DockerRunner) ensureImage(ctx context.Context, imageName string) error {
	if _, _, err := r.client.ImageInspectWithRaw(ctx, imageName); err == nil {
		return nil
	}

	r.logger.Info("pulling sandbox image", zap.String("image", imageName))
	reader, err := r.client.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	// Drain the pull output (required for pull to complete)
	_, _ = io.Copy(io.Discard, reader)
	return nil
}

// containerArgs rewrites host paths below dir to their mount location.
func containerArgs(dir string, args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		switch {
		case a == dir:
			out[i] = workspaceMount
		case strings.HasPrefix(a, dir+string(filepath.Separator)):
			out[i] = workspaceMount + "/" + filepath.ToSlash(strings.TrimPrefix(a, dir+string(filepath.Separator)))
		default:
			out[i] = a
		}
	}
	return out
}

// hostPaths maps output lines that start with the mount point back to dir,
// so callers see the same paths they passed in.
func hostPaths(dir, out string) string {
	if !strings.Contains(out, workspaceMount) {
		return out
	}
	lines := strings.Split(out, "\n")
	for i, line := range lines {
		line, cr := strings.CutSuffix(line, "\r")
		switch {
		case line == workspaceMount:
			line = dir
		case strings.HasPrefix(line, workspaceMount+"/"):
			line = dir + "/" + line[len(workspaceMount)+1:]
		default:
			continue
		}
		if cr {
			line += "\r"
		}
		lines[i] = line
	}
	return strings.Join(lines, "\n")
}

// demuxLogs splits docker's multiplexed log stream into stdout and stderr.
func demuxLogs(r io.Reader) (string, string, error) {
	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, r); err != nil && !errors.Is(err, io.EOF) {
		return "", "", fmt.Errorf("failed to demux container logs: %w", err)
	}
	return stdout.String(), stderr.String(), nil
}

// parseMemory parses a memory limit such as "1g" or "512m". Empty means 1GiB.
func parseMemory(memStr string) (int64, error) {
	memStr = strings.TrimSpace(memStr)
	if memStr == "" {
		return 1 << 30, nil
	}
	n, err := units.RAMInBytes(memStr)
	if err != nil {
		return 0, fmt.Errorf("invalid sandbox memory %q: %w", memStr, err)
	}
	return n, nil
}

// parseNanoCPUs parses a CPU count such as "2" or "0.5". Invalid input means 2 CPUs.
func parseNanoCPUs(cpuStr string) int64 {
	value, err := strconv.ParseFloat(strings.TrimSpace(cpuStr), 64)
	if err != nil || value <= 0 {
		value = 2
	}
	return int64(value * 1e9)
}
