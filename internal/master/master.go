// Package master implements the orchestration layer: service lifecycle,
// synchronous function invocation with worker restart, and project
// deployment management.
package master

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cirrus-faas/cirrus/internal/domain"
	"github.com/cirrus-faas/cirrus/internal/infra/metrics"
	"github.com/cirrus-faas/cirrus/internal/registry"
)

// Service states.
const (
	StateInitializing = "initializing"
	StateRunning      = "running"
	StateStopped      = "stopped"
)

// APIServer is the outward HTTP surface as the master sees it: start it,
// poll it ready, shut it down.
type APIServer interface {
	Start() error
	Ready() bool
	Shutdown(ctx context.Context) error
}

// Config tunes the master's timing behavior.
type Config struct {
	// ReadyTimeout bounds the wait for a freshly started worker's ready
	// message.
	ReadyTimeout time.Duration
	// InvokeTimeout bounds one synchronous invocation end to end. Zero
	// means no deadline: a stuck handler is surfaced by the caller's
	// context or by worker death, not by the master.
	InvokeTimeout time.Duration
	// PollInterval is how often the master re-checks worker liveness
	// while waiting for an invocation response.
	PollInterval time.Duration
	// APIReadyTimeout bounds the wait for the API server to report ready
	// during startup.
	APIReadyTimeout time.Duration
}

// DefaultConfig returns the stock timing values.
func DefaultConfig() Config {
	return Config{
		ReadyTimeout:    30 * time.Second,
		InvokeTimeout:   0,
		PollInterval:    500 * time.Millisecond,
		APIReadyTimeout: 5 * time.Second,
	}
}

// Master owns service startup and shutdown and the synchronous invocation
// path. One instance per daemon.
type Master struct {
	reg     *registry.Registry
	cfg     Config
	pm      *ProjectManager
	api     APIServer
	specFor func(project string) registry.ProcessSpec

	mu       sync.Mutex
	state    string
	invokeMu map[string]*sync.Mutex
}

// New builds a master. specFor maps a project name onto the process spec
// that launches its worker.
func New(reg *registry.Registry, cfg Config, pm *ProjectManager, api APIServer, specFor func(project string) registry.ProcessSpec) *Master {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.APIReadyTimeout <= 0 {
		cfg.APIReadyTimeout = 5 * time.Second
	}
	m := &Master{
		reg:      reg,
		cfg:      cfg,
		pm:       pm,
		api:      api,
		specFor:  specFor,
		state:    StateInitializing,
		invokeMu: make(map[string]*sync.Mutex),
	}
	if pm != nil {
		pm.onDelete = m.forgetProject
	}
	return m
}

// SetAPIServer wires the HTTP surface in after construction. The API
// server needs the master to route invocations, so one of the two has to
// be attached late.
func (m *Master) SetAPIServer(api APIServer) { m.api = api }

// State returns the current service state.
func (m *Master) State() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Master) setState(s string) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// ─── Lifecycle ──────────────────────────────────────────────────────────────

// Start brings the service up: the API first, then one worker per deployed
// project. Worker startup fans out and failures are aggregated — a project
// that cannot start is logged and skipped, never fatal to the service.
func (m *Master) Start(ctx context.Context) error {
	m.setState(StateInitializing)

	if m.api != nil {
		if err := m.api.Start(); err != nil {
			m.Stop(ctx)
			return fmt.Errorf("start api server: %w", err)
		}
		deadline := time.Now().Add(m.cfg.APIReadyTimeout)
		for !m.api.Ready() {
			if time.Now().After(deadline) {
				m.Stop(ctx)
				return fmt.Errorf("api server did not become ready within %v", m.cfg.APIReadyTimeout)
			}
			time.Sleep(50 * time.Millisecond)
		}
	}

	projects, err := m.pm.ListProjects()
	if err != nil {
		m.Stop(ctx)
		return fmt.Errorf("list projects: %w", err)
	}

	var wg sync.WaitGroup
	var failMu sync.Mutex
	var failed []string
	for _, p := range projects {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if !m.startWorker(name) {
				failMu.Lock()
				failed = append(failed, name)
				failMu.Unlock()
			}
		}(p.Name)
	}
	wg.Wait()

	if len(failed) > 0 {
		log.Printf("[master] %d of %d projects failed to start: %v", len(failed), len(projects), failed)
	}
	metrics.WorkersLive.Set(float64(len(projects) - len(failed)))

	m.setState(StateRunning)
	log.Printf("[master] service running with %d projects", len(projects)-len(failed))
	return nil
}

// Stop tears everything down. Each step runs regardless of earlier
// failures, and the final state is always stopped.
func (m *Master) Stop(ctx context.Context) {
	for _, project := range m.reg.ManagedProjects() {
		m.reg.TerminateProcess(project)
	}
	if m.api != nil {
		if err := m.api.Shutdown(ctx); err != nil {
			log.Printf("[master] api shutdown: %v", err)
		}
	}
	m.reg.CleanupResources()
	metrics.WorkersLive.Set(0)
	m.setState(StateStopped)
	log.Printf("[master] service stopped")
}

// startWorker spawns a project's worker and waits for its ready message.
func (m *Master) startWorker(project string) bool {
	if !m.reg.StartProjectProcess(project, m.specFor(project)) {
		return false
	}
	if !m.reg.ReadySignal(project).Wait(m.cfg.ReadyTimeout) {
		log.Printf("[master] project %s: %v", project, domain.ErrReadyTimeout)
		m.reg.TerminateProcess(project)
		return false
	}
	return true
}

// ─── Invocation ─────────────────────────────────────────────────────────────

// projectMu returns the per-project invocation mutex. Execute commands are
// uncorrelated on the wire, so invocations for one project are serialized
// and responses pair up by FIFO order.
func (m *Master) projectMu(project string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	mu, ok := m.invokeMu[project]
	if !ok {
		mu = &sync.Mutex{}
		m.invokeMu[project] = mu
	}
	return mu
}

// ExecuteFunction invokes a function synchronously and returns its result.
// A dead worker is restarted at most once per call; if the project still
// cannot serve, the call fails with ErrProjectUnavailable.
func (m *Master) ExecuteFunction(ctx context.Context, project, function string, payload json.RawMessage) (json.RawMessage, error) {
	mu := m.projectMu(project)
	mu.Lock()
	defer mu.Unlock()

	start := time.Now()
	result, err := m.executeLocked(ctx, project, function, payload)
	metrics.InvokeDuration.WithLabelValues(project, function).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.Invocations.WithLabelValues(project, function, "error").Inc()
		return nil, err
	}
	metrics.Invocations.WithLabelValues(project, function, "success").Inc()
	return result, nil
}

func (m *Master) executeLocked(ctx context.Context, project, function string, payload json.RawMessage) (json.RawMessage, error) {
	if !m.ensureWorker(project) {
		return nil, fmt.Errorf("project %s: %w", project, domain.ErrProjectUnavailable)
	}

	ch := m.reg.ProjectChannel(project)
	drainResponses(ch)

	if err := ch.Send(domain.ExecuteCommand(function, payload)); err != nil {
		return nil, fmt.Errorf("project %s: %w", project, err)
	}

	var deadline <-chan time.Time
	if m.cfg.InvokeTimeout > 0 {
		t := time.NewTimer(m.cfg.InvokeTimeout)
		defer t.Stop()
		deadline = t.C
	}
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case resp := <-ch.Responses():
			if resp.Status == domain.StatusError {
				return nil, fmt.Errorf("%s", resp.Error)
			}
			return resp.Result, nil
		case <-ticker.C:
			// The worker may have died mid-invocation; without this
			// check the caller would wait on a response that can
			// never arrive.
			if !m.reg.CheckProcessStatus(project) {
				return nil, fmt.Errorf("project %s: worker died during invocation: %w", project, domain.ErrProjectUnavailable)
			}
		case <-deadline:
			// The abandoned response is still on its way. Discard the
			// worker and its channel together so it can never pair with
			// a later call; the next invocation starts fresh.
			m.reg.DiscardWorker(project)
			return nil, fmt.Errorf("invoke %s/%s: timed out after %v", project, function, m.cfg.InvokeTimeout)
		case <-ctx.Done():
			m.reg.DiscardWorker(project)
			return nil, ctx.Err()
		}
	}
}

// forgetProject drops the per-project invocation mutex once the project is
// deleted, so the map does not grow with every project ever seen.
func (m *Master) forgetProject(project string) {
	m.mu.Lock()
	delete(m.invokeMu, project)
	m.mu.Unlock()
}

// ensureWorker guarantees a live, ready worker, restarting a dead one at
// most once.
func (m *Master) ensureWorker(project string) bool {
	if m.reg.CheckProcessStatus(project) {
		return true
	}
	log.Printf("[master] project %s worker not live, restarting", project)
	metrics.WorkerRestarts.WithLabelValues(project).Inc()
	return m.startWorker(project)
}

// drainResponses discards stale responses left behind by a timed-out
// earlier invocation, so FIFO pairing starts clean.
func drainResponses(ch *registry.Channel) {
	for {
		select {
		case <-ch.Responses():
		default:
			return
		}
	}
}
