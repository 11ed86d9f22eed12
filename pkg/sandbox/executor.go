// Package sandbox runs untrusted code inside resource-limited, network-less
// Docker containers and reports captured output, exit status, timing and
// memory usage.
package sandbox

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/codeclash-io/codeclash/pkg/config"
	"github.com/codeclash-io/codeclash/pkg/metrics"
	"github.com/codeclash-io/codeclash/pkg/models"
)

// dockerAPI is the subset of the Docker client the executor uses. Narrowing
// the dependency keeps the executor testable without a daemon.
type dockerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerAttach(ctx context.Context, containerID string, options container.AttachOptions) (types.HijackedResponse, error)
	CopyToContainer(ctx context.Context, containerID, dstPath string, content io.Reader, options container.CopyToContainerOptions) error
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerStatsOneShot(ctx context.Context, containerID string) (container.StatsResponseReader, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
}

// teardownBudget bounds post-exit collection so Execute never overruns the
// caller's timeout by more than a small fixed amount.
const teardownBudget = 2 * time.Second

// Executor runs code in pooled Docker sandboxes.
type Executor struct {
	docker dockerAPI
	pool   *Pool
	cfg    *config.SandboxConfig
}

// NewExecutor connects to the Docker daemon, warms the pool, and starts the
// idle sweeper.
func NewExecutor(ctx context.Context, cfg *config.SandboxConfig) (*Executor, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	e := newExecutor(cli, cfg)
	e.pool.WarmUp(ctx)
	e.pool.Start()
	return e, nil
}

// newExecutor wires an executor over any dockerAPI (tests inject fakes here).
func newExecutor(docker dockerAPI, cfg *config.SandboxConfig) *Executor {
	return &Executor{
		docker: docker,
		pool:   NewPool(docker, cfg),
		cfg:    cfg,
	}
}

// Close stops the sweeper and destroys pooled sandboxes.
func (e *Executor) Close() {
	e.pool.Stop()
}

// Execute runs one sandboxed execution. Timeouts are reported as a normal
// result (TimedOut=true, exit 124); internal failures are reported as a
// result with exit 1 and the error text on stderr. The sandbox is always
// destroyed before returning.
func (e *Executor) Execute(ctx context.Context, req models.ExecutionRequest) (models.ExecutionResult, error) {
	if err := req.Validate(); err != nil {
		return models.ExecutionResult{}, err
	}
	spec, err := specFor(req.Language)
	if err != nil {
		return models.ExecutionResult{}, err
	}

	sb, err := e.pool.Acquire(ctx, req.Language)
	if err != nil {
		return internalFailure(req.Language, err), nil
	}
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), teardownBudget)
		defer cancel()
		e.pool.Destroy(cleanupCtx, sb)
	}()

	// Materialise the code and optional input under /tmp before start.
	archive, err := buildArchive(spec, req)
	if err != nil {
		return internalFailure(req.Language, err), nil
	}
	if err := e.docker.CopyToContainer(ctx, sb.ID, "/", archive, container.CopyToContainerOptions{}); err != nil {
		return internalFailure(req.Language, fmt.Errorf("injecting files: %w", err)), nil
	}

	attach, err := e.docker.ContainerAttach(ctx, sb.ID, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return internalFailure(req.Language, fmt.Errorf("attaching sandbox: %w", err)), nil
	}
	defer attach.Close()

	// Demux stdout/stderr concurrently so the container never blocks on a
	// full pipe.
	type streams struct {
		stdout, stderr []byte
		err            error
	}
	streamCh := make(chan streams, 1)
	go func() {
		out, errOut, derr := demuxStreams(attach.Reader)
		streamCh <- streams{stdout: out, stderr: errOut, err: derr}
	}()

	// The sandbox is still in the created state, which already satisfies
	// not-running; next-exit is the condition for registering a wait before
	// start.
	waitCh, waitErrCh := e.docker.ContainerWait(ctx, sb.ID, container.WaitConditionNextExit)

	started := time.Now()
	if err := e.docker.ContainerStart(ctx, sb.ID, container.StartOptions{}); err != nil {
		return internalFailure(req.Language, fmt.Errorf("starting sandbox: %w", err)), nil
	}

	// Pipe the input on stdin, terminated by EOF.
	go func() {
		if req.TestInput != "" {
			if _, err := attach.Conn.Write([]byte(req.TestInput)); err != nil {
				slog.Debug("Sandbox stdin write failed", "sandbox_id", sb.ID, "error", err)
			}
		}
		_ = attach.CloseWrite()
	}()

	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var exitCode int
	select {
	case wr := <-waitCh:
		exitCode = int(wr.StatusCode)
	case err := <-waitErrCh:
		metrics.ExecutionsTotal.WithLabelValues(req.Language, "error").Inc()
		return internalFailure(req.Language, fmt.Errorf("waiting for sandbox: %w", err)), nil
	case <-timer.C:
		elapsed := time.Since(started)
		if err := e.docker.ContainerKill(ctx, sb.ID, "KILL"); err != nil {
			slog.Warn("Sandbox kill after timeout failed", "sandbox_id", sb.ID, "error", err)
		}
		metrics.ExecutionsTotal.WithLabelValues(req.Language, "timeout").Inc()
		metrics.ExecutionDuration.WithLabelValues(req.Language).Observe(elapsed.Seconds())
		return models.ExecutionResult{
			Stderr:          "Execution timed out",
			ExitCode:        models.ExitCodeTimeout,
			ExecutionTimeMs: elapsed.Milliseconds(),
			TimedOut:        true,
		}, nil
	case <-ctx.Done():
		_ = e.docker.ContainerKill(context.WithoutCancel(ctx), sb.ID, "KILL")
		return models.ExecutionResult{}, ctx.Err()
	}
	elapsed := time.Since(started)

	// Natural exit: close our side so the demux goroutine sees EOF, then
	// collect the captured streams within the teardown budget.
	attach.Close()
	var out streams
	select {
	case out = <-streamCh:
	case <-time.After(teardownBudget):
		slog.Warn("Sandbox output collection timed out", "sandbox_id", sb.ID)
	}
	if out.err != nil {
		slog.Debug("Sandbox stream demux ended with error", "sandbox_id", sb.ID, "error", out.err)
	}

	result := models.ExecutionResult{
		Stdout:          string(out.stdout),
		Stderr:          string(out.stderr),
		ExitCode:        exitCode,
		ExecutionTimeMs: elapsed.Milliseconds(),
		MemoryBytes:     e.peakMemory(sb.ID),
	}

	outcome := "ok"
	if exitCode != 0 {
		outcome = "error"
	}
	metrics.ExecutionsTotal.WithLabelValues(req.Language, outcome).Inc()
	metrics.ExecutionDuration.WithLabelValues(req.Language).Observe(elapsed.Seconds())
	return result, nil
}

// peakMemory fetches a best-effort memory high-water mark. Stats may be
// unavailable once the container has exited; zero is returned in that case.
func (e *Executor) peakMemory(containerID string) int64 {
	ctx, cancel := context.WithTimeout(context.Background(), teardownBudget)
	defer cancel()

	statsReader, err := e.docker.ContainerStatsOneShot(ctx, containerID)
	if err != nil {
		return 0
	}
	defer statsReader.Body.Close()

	var stats container.StatsResponse
	if err := json.NewDecoder(statsReader.Body).Decode(&stats); err != nil {
		return 0
	}
	if stats.MemoryStats.MaxUsage > 0 {
		return int64(stats.MemoryStats.MaxUsage)
	}
	return int64(stats.MemoryStats.Usage)
}

// buildArchive packs the code file and optional input file into a tar archive
// rooted at the scratch directory.
func buildArchive(spec languageSpec, req models.ExecutionRequest) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	files := []struct {
		name    string
		content string
	}{
		{scratchDir[1:] + "/" + spec.FileName, req.Code},
	}
	if req.TestInput != "" {
		files = append(files, struct {
			name    string
			content string
		}{scratchDir[1:] + "/" + spec.InputFile, req.TestInput})
	}

	for _, f := range files {
		hdr := &tar.Header{
			Name: f.name,
			Mode: 0o644,
			Size: int64(len(f.content)),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("writing tar header: %w", err)
		}
		if _, err := tw.Write([]byte(f.content)); err != nil {
			return nil, fmt.Errorf("writing tar payload: %w", err)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("closing tar: %w", err)
	}
	return &buf, nil
}

func internalFailure(language string, err error) models.ExecutionResult {
	slog.Error("Sandbox internal failure", "language", language, "error", err)
	return models.ExecutionResult{
		Stderr:   err.Error(),
		ExitCode: 1,
	}
}
