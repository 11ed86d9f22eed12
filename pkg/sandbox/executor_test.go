package sandbox

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeclash-io/codeclash/pkg/config"
	"github.com/codeclash-io/codeclash/pkg/models"
)

// fakeDocker scripts the daemon interactions of one execution. The wait
// response is delivered only after the attach stream has been fully written,
// mirroring a real container that produces output and then exits.
type fakeDocker struct {
	mu    sync.Mutex
	calls []string

	createCfg  *container.Config
	createHost *container.HostConfig

	waitCond container.WaitCondition
	waitCh   chan container.WaitResponse
	waitErr  chan error

	exitCode  int64
	holdExit  bool // never deliver the wait response
	output    []byte
	stdinWant int
	copyErr   error

	stdin   bytes.Buffer
	killed  []string
	removed []string
}

func newFakeDocker(exitCode int64, output []byte) *fakeDocker {
	return &fakeDocker{
		exitCode: exitCode,
		output:   output,
		waitCh:   make(chan container.WaitResponse, 1),
		waitErr:  make(chan error, 1),
	}
}

func (f *fakeDocker) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeDocker) callIndex(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, c := range f.calls {
		if c == call {
			return i
		}
	}
	return -1
}

func (f *fakeDocker) ContainerCreate(_ context.Context, cfg *container.Config, hostCfg *container.HostConfig,
	_ *network.NetworkingConfig, _ *ocispec.Platform, _ string) (container.CreateResponse, error) {
	f.record("create")
	f.createCfg = cfg
	f.createHost = hostCfg
	return container.CreateResponse{ID: "sb-test"}, nil
}

func (f *fakeDocker) ContainerStart(_ context.Context, _ string, _ container.StartOptions) error {
	f.record("start")
	return nil
}

func (f *fakeDocker) ContainerWait(_ context.Context, _ string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	f.record("wait")
	f.mu.Lock()
	f.waitCond = condition
	f.mu.Unlock()
	return f.waitCh, f.waitErr
}

func (f *fakeDocker) ContainerAttach(_ context.Context, _ string, _ container.AttachOptions) (types.HijackedResponse, error) {
	f.record("attach")
	server, client := net.Pipe()
	go func() {
		if f.stdinWant > 0 {
			buf := make([]byte, f.stdinWant)
			if _, err := io.ReadFull(server, buf); err == nil {
				f.mu.Lock()
				f.stdin.Write(buf)
				f.mu.Unlock()
			}
		}
		if len(f.output) > 0 {
			_, _ = server.Write(f.output)
		}
		_ = server.Close()
		if !f.holdExit {
			f.waitCh <- container.WaitResponse{StatusCode: f.exitCode}
		}
	}()
	return types.HijackedResponse{Conn: client, Reader: bufio.NewReader(client)}, nil
}

func (f *fakeDocker) CopyToContainer(_ context.Context, _ string, _ string, content io.Reader, _ container.CopyToContainerOptions) error {
	f.record("copy")
	if f.copyErr != nil {
		return f.copyErr
	}
	_, _ = io.Copy(io.Discard, content)
	return nil
}

func (f *fakeDocker) ContainerKill(_ context.Context, containerID, _ string) error {
	f.record("kill")
	f.mu.Lock()
	f.killed = append(f.killed, containerID)
	f.mu.Unlock()
	return nil
}

func (f *fakeDocker) ContainerRemove(_ context.Context, containerID string, _ container.RemoveOptions) error {
	f.record("remove")
	f.mu.Lock()
	f.removed = append(f.removed, containerID)
	f.mu.Unlock()
	return nil
}

func (f *fakeDocker) ContainerStatsOneShot(_ context.Context, _ string) (container.StatsResponseReader, error) {
	return container.StatsResponseReader{
		Body: io.NopCloser(strings.NewReader(`{"memory_stats":{"max_usage":2048}}`)),
	}, nil
}

func (f *fakeDocker) ImagePull(_ context.Context, _ string, _ image.PullOptions) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(nil)), nil
}

func TestExecuteCapturesExitAndStreams(t *testing.T) {
	output := append(frame(streamStdout, "hello\n"), frame(streamStderr, "warn\n")...)
	fake := newFakeDocker(0, output)
	e := newExecutor(fake, config.DefaultSandboxConfig())

	result, err := e.Execute(context.Background(), models.ExecutionRequest{
		Language:  models.LanguageJavaScript,
		Code:      `console.log("hello")`,
		TimeoutMs: 5000,
	})
	require.NoError(t, err)

	assert.Equal(t, "hello\n", result.Stdout)
	assert.Equal(t, "warn\n", result.Stderr)
	assert.Equal(t, 0, result.ExitCode)
	assert.False(t, result.TimedOut)
	assert.Equal(t, int64(2048), result.MemoryBytes)

	// The wait is registered while the container is still created, so it must
	// target the next exit, not the current not-running state.
	assert.Equal(t, container.WaitConditionNextExit, fake.waitCond)

	// Files land before the process starts; the wait is armed before start so
	// a fast exit cannot be missed.
	assert.Less(t, fake.callIndex("copy"), fake.callIndex("start"))
	assert.Less(t, fake.callIndex("wait"), fake.callIndex("start"))

	// Single use: the sandbox is removed after the run.
	assert.Equal(t, []string{"sb-test"}, fake.removed)
}

func TestExecuteReportsNonZeroExit(t *testing.T) {
	output := frame(streamStderr, "boom")
	fake := newFakeDocker(3, output)
	e := newExecutor(fake, config.DefaultSandboxConfig())

	result, err := e.Execute(context.Background(), models.ExecutionRequest{
		Language:  models.LanguagePython,
		Code:      "raise SystemExit(3)",
		TimeoutMs: 5000,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.ExitCode)
	assert.Equal(t, "boom", result.Stderr)
}

func TestExecuteTimeoutKillsSandbox(t *testing.T) {
	fake := newFakeDocker(0, nil)
	fake.holdExit = true
	e := newExecutor(fake, config.DefaultSandboxConfig())

	started := time.Now()
	result, err := e.Execute(context.Background(), models.ExecutionRequest{
		Language:  models.LanguageGo,
		Code:      "package main\nfunc main() { select {} }",
		TimeoutMs: models.MinExecutionTimeoutMs,
	})
	require.NoError(t, err)

	assert.True(t, result.TimedOut)
	assert.Equal(t, models.ExitCodeTimeout, result.ExitCode)
	assert.Equal(t, "Execution timed out", result.Stderr)
	assert.GreaterOrEqual(t, time.Since(started).Milliseconds(), int64(models.MinExecutionTimeoutMs))
	assert.Equal(t, []string{"sb-test"}, fake.killed)
	assert.Equal(t, []string{"sb-test"}, fake.removed)
}

func TestExecutePipesStdin(t *testing.T) {
	input := "42\n"
	fake := newFakeDocker(0, frame(streamStdout, "42"))
	fake.stdinWant = len(input)
	e := newExecutor(fake, config.DefaultSandboxConfig())

	result, err := e.Execute(context.Background(), models.ExecutionRequest{
		Language:  models.LanguageJavaScript,
		Code:      "process.stdin.pipe(process.stdout)",
		TestInput: input,
		TimeoutMs: 5000,
	})
	require.NoError(t, err)
	assert.Equal(t, "42", result.Stdout)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, input, fake.stdin.String())
}

func TestExecuteCopyFailureIsInternal(t *testing.T) {
	fake := newFakeDocker(0, nil)
	fake.copyErr = assert.AnError
	e := newExecutor(fake, config.DefaultSandboxConfig())

	result, err := e.Execute(context.Background(), models.ExecutionRequest{
		Language:  models.LanguagePython,
		Code:      "print(1)",
		TimeoutMs: 5000,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.ExitCode)
	assert.Contains(t, result.Stderr, "injecting files")
	assert.Equal(t, -1, fake.callIndex("start"))
	assert.Equal(t, []string{"sb-test"}, fake.removed)
}

func TestExecuteRejectsInvalidRequest(t *testing.T) {
	e := newExecutor(newFakeDocker(0, nil), config.DefaultSandboxConfig())

	_, err := e.Execute(context.Background(), models.ExecutionRequest{Language: "cobol", TimeoutMs: 5000})
	assert.ErrorContains(t, err, "unsupported language")

	_, err = e.Execute(context.Background(), models.ExecutionRequest{
		Language:  models.LanguagePython,
		TimeoutMs: models.MaxExecutionTimeoutMs + 1,
	})
	assert.ErrorContains(t, err, "timeout_ms")
}

func TestCreateAppliesSecurityEnvelope(t *testing.T) {
	fake := newFakeDocker(0, nil)
	cfg := config.DefaultSandboxConfig()
	p := NewPool(fake, cfg)

	sb, err := p.create(context.Background(), models.LanguagePython)
	require.NoError(t, err)
	assert.Equal(t, "sb-test", sb.ID)

	host := fake.createHost
	require.NotNil(t, host)
	// A read-only rootfs would make the daemon reject the archive copy that
	// injects the code, so it must stay off.
	assert.False(t, host.ReadonlyRootfs)
	assert.Equal(t, container.NetworkMode("none"), host.NetworkMode)
	assert.Contains(t, host.Tmpfs, workDir)
	assert.Equal(t, cfg.MemoryLimitBytes, host.Resources.Memory)
	assert.Equal(t, cfg.MemoryLimitBytes, host.Resources.MemorySwap)
	assert.Equal(t, cfg.NanoCPUs, host.Resources.NanoCPUs)
	require.NotNil(t, host.Resources.PidsLimit)
	assert.Equal(t, cfg.PidsLimit, *host.Resources.PidsLimit)

	created := fake.createCfg
	require.NotNil(t, created)
	assert.True(t, created.NetworkDisabled)
	assert.True(t, created.OpenStdin)
	assert.Equal(t, scratchDir, created.WorkingDir)
	assert.Equal(t, "python:3.12-alpine", created.Image)
}

func TestPoolAcquireReusesAndRefills(t *testing.T) {
	fake := newFakeDocker(0, nil)
	cfg := config.DefaultSandboxConfig()
	p := NewPool(fake, cfg)

	sb, err := p.create(context.Background(), models.LanguageGo)
	require.NoError(t, err)
	p.put(sb)
	assert.Equal(t, 1, p.Size(models.LanguageGo))

	got, err := p.Acquire(context.Background(), models.LanguageGo)
	require.NoError(t, err)
	assert.Same(t, sb, got)
	assert.Equal(t, 0, p.Size(models.LanguageGo))

	// Empty pool falls through to a fresh create.
	_, err = p.Acquire(context.Background(), models.LanguageGo)
	require.NoError(t, err)
	assert.Equal(t, 2, countCalls(fake, "create"))
}

func countCalls(f *fakeDocker, call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}
