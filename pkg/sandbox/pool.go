package sandbox

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/google/uuid"

	"github.com/codeclash-io/codeclash/pkg/config"
	"github.com/codeclash-io/codeclash/pkg/metrics"
)

// Sandbox is one created (not yet started) container. A sandbox is used for
// exactly one execution and destroyed afterwards; pooling amortises the
// container creation cost, not the container itself across runs.
type Sandbox struct {
	ID        string
	Language  string
	CreatedAt time.Time
}

// Pool keeps up to PoolSizePerLanguage pre-created sandboxes per language.
// An acquired sandbox is removed from the pool and never returned; the idle
// sweeper destroys pooled sandboxes unused for longer than IdleTimeout.
type Pool struct {
	docker dockerAPI
	cfg    *config.SandboxConfig

	mu   sync.Mutex
	idle map[string][]*idleSandbox

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type idleSandbox struct {
	sandbox *Sandbox
	pooled  time.Time
}

// NewPool creates a pool. Call WarmUp to pre-create sandboxes and Start to
// run the idle sweeper.
func NewPool(docker dockerAPI, cfg *config.SandboxConfig) *Pool {
	return &Pool{
		docker: docker,
		cfg:    cfg,
		idle:   make(map[string][]*idleSandbox),
		stopCh: make(chan struct{}),
	}
}

// Start launches the idle sweeper.
func (p *Pool) Start() {
	p.wg.Add(1)
	go p.runSweeper()
}

// Stop halts the sweeper and destroys all pooled sandboxes.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()

	p.mu.Lock()
	var all []*idleSandbox
	for lang, list := range p.idle {
		all = append(all, list...)
		p.idle[lang] = nil
	}
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, entry := range all {
		p.destroy(ctx, entry.sandbox)
	}
}

// WarmUp pre-creates WarmPerLanguage sandboxes for every supported language.
// Pull or create failures are logged and skipped; warm-up is best-effort.
func (p *Pool) WarmUp(ctx context.Context) {
	for _, lang := range SupportedLanguages() {
		spec, err := specFor(lang)
		if err != nil {
			continue
		}
		if err := p.ensureImage(ctx, spec.Image); err != nil {
			slog.Warn("Sandbox warm-up: image pull failed", "language", lang, "image", spec.Image, "error", err)
			continue
		}
		for i := 0; i < p.cfg.WarmPerLanguage; i++ {
			sb, err := p.create(ctx, lang)
			if err != nil {
				slog.Warn("Sandbox warm-up: create failed", "language", lang, "error", err)
				break
			}
			p.put(sb)
		}
	}
}

// Acquire returns a sandbox for the language, creating one when the pool is
// empty. The returned sandbox is in use: it is no longer tracked by the pool
// and must be destroyed by the caller (the executor does this).
func (p *Pool) Acquire(ctx context.Context, language string) (*Sandbox, error) {
	p.mu.Lock()
	list := p.idle[language]
	if n := len(list); n > 0 {
		entry := list[n-1]
		p.idle[language] = list[:n-1]
		p.mu.Unlock()
		metrics.SandboxPoolSize.WithLabelValues(language).Dec()
		return entry.sandbox, nil
	}
	p.mu.Unlock()

	return p.create(ctx, language)
}

// Destroy force-removes the sandbox container. Cleanup failures are logged,
// never surfaced.
func (p *Pool) Destroy(ctx context.Context, sb *Sandbox) {
	p.destroy(ctx, sb)
}

// Size returns the number of pooled sandboxes for a language.
func (p *Pool) Size(language string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle[language])
}

// put returns a fresh sandbox to the pool, destroying it instead when the
// pool for its language is full.
func (p *Pool) put(sb *Sandbox) {
	p.mu.Lock()
	if len(p.idle[sb.Language]) >= p.cfg.PoolSizePerLanguage {
		p.mu.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		p.destroy(ctx, sb)
		return
	}
	p.idle[sb.Language] = append(p.idle[sb.Language], &idleSandbox{sandbox: sb, pooled: time.Now()})
	p.mu.Unlock()
	metrics.SandboxPoolSize.WithLabelValues(sb.Language).Inc()
}

// create builds a new container with the security envelope applied: memory
// ceiling with no extra swap, one CPU, bounded pids, no network, and a tmpfs
// scratch for runtime writes.
func (p *Pool) create(ctx context.Context, language string) (*Sandbox, error) {
	spec, err := specFor(language)
	if err != nil {
		return nil, err
	}

	pids := p.cfg.PidsLimit
	containerCfg := &container.Config{
		Image:           spec.Image,
		Cmd:             spec.Cmd,
		Env:             append([]string{"TMPDIR=" + workDir}, spec.Env...),
		WorkingDir:      scratchDir,
		AttachStdin:     true,
		AttachStdout:    true,
		AttachStderr:    true,
		OpenStdin:       true,
		StdinOnce:       true,
		NetworkDisabled: true,
	}
	hostCfg := &container.HostConfig{
		// The rootfs stays writable: the daemon refuses archive copies into a
		// read-only rootfs, and the executor injects code via CopyToContainer.
		// Containment comes from no network, the resource caps, and single use.
		NetworkMode: "none",
		Tmpfs:       map[string]string{workDir: "rw,exec,size=128m"},
		Resources: container.Resources{
			Memory:     p.cfg.MemoryLimitBytes,
			MemorySwap: p.cfg.MemoryLimitBytes, // swap = memory → no additional swap
			NanoCPUs:   p.cfg.NanoCPUs,
			PidsLimit:  &pids,
		},
	}

	name := fmt.Sprintf("codeclash-%s-%s", language, uuid.New().String()[:8])
	resp, err := p.docker.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("creating sandbox container: %w", err)
	}

	return &Sandbox{ID: resp.ID, Language: language, CreatedAt: time.Now()}, nil
}

func (p *Pool) destroy(ctx context.Context, sb *Sandbox) {
	if err := p.docker.ContainerRemove(ctx, sb.ID, container.RemoveOptions{Force: true}); err != nil {
		slog.Warn("Sandbox cleanup failed", "sandbox_id", sb.ID, "language", sb.Language, "error", err)
	}
}

func (p *Pool) ensureImage(ctx context.Context, ref string) error {
	rc, err := p.docker.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return err
	}
	// The pull stream must be drained for the pull to complete.
	_, _ = io.Copy(io.Discard, rc)
	return rc.Close()
}

// runSweeper periodically destroys pooled sandboxes idle for too long.
func (p *Pool) runSweeper() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sweepIdle()
		}
	}
}

func (p *Pool) sweepIdle() {
	cutoff := time.Now().Add(-p.cfg.IdleTimeout)

	p.mu.Lock()
	var stale []*idleSandbox
	for lang, list := range p.idle {
		kept := list[:0]
		for _, entry := range list {
			if entry.pooled.Before(cutoff) {
				stale = append(stale, entry)
				metrics.SandboxPoolSize.WithLabelValues(lang).Dec()
			} else {
				kept = append(kept, entry)
			}
		}
		p.idle[lang] = kept
	}
	p.mu.Unlock()

	if len(stale) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, entry := range stale {
		slog.Debug("Sweeping idle sandbox", "sandbox_id", entry.sandbox.ID, "language", entry.sandbox.Language)
		p.destroy(ctx, entry.sandbox)
	}
}
