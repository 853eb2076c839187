// Package registry implements the process-wide coordination registry: named
// component slots, per-project IPC primitives (command channel + readiness
// signal), per-task signals, live worker handles, and cached per-project
// executors. Pure bookkeeping — no business logic lives here.
//
// The registry is an explicitly constructed object passed by reference to
// every component at startup; there is no hidden global instance.
package registry

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cirrus-faas/cirrus/internal/domain"
)

// Component slot names. Registering any other name is a configuration error.
const (
	ComponentRegistry       = "registry"
	ComponentMaster         = "master"
	ComponentProjectManager = "project_manager"
	ComponentAPIServer      = "api_server"
	ComponentTaskManager    = "task_manager"
)

var knownComponents = map[string]bool{
	ComponentRegistry:       true,
	ComponentMaster:         true,
	ComponentProjectManager: true,
	ComponentAPIServer:      true,
	ComponentTaskManager:    true,
}

// Executor is the per-project synchronous-dispatch object cached by the
// registry. The registry only needs to shut it down on cleanup.
type Executor interface {
	Shutdown()
}

// stopWait bounds how long TerminateProcess waits for a worker to exit
// after the stop sentinel before force-killing it.
const stopWait = 5 * time.Second

// Registry is the coordination registry. All methods are safe for
// concurrent use from multiple control-plane goroutines.
type Registry struct {
	factory Factory

	mu          sync.Mutex
	components  map[string]any
	channels    map[string]*Channel
	readySigs   map[string]*Signal
	handles     map[string]*WorkerHandle
	taskSignals map[string]*Signal
	executors   map[string]Executor
	startLocks  map[string]*sync.Mutex
}

// New creates an empty registry that spawns workers through the given
// factory. Pass ExecFactory{} for real OS processes.
func New(factory Factory) *Registry {
	return &Registry{
		factory:     factory,
		components:  make(map[string]any),
		channels:    make(map[string]*Channel),
		readySigs:   make(map[string]*Signal),
		handles:     make(map[string]*WorkerHandle),
		taskSignals: make(map[string]*Signal),
		executors:   make(map[string]Executor),
		startLocks:  make(map[string]*sync.Mutex),
	}
}

// ─── Component slots ────────────────────────────────────────────────────────

// Register stores a component in its named slot. Unknown names fail with a
// configuration error.
func (r *Registry) Register(name string, component any) error {
	if !knownComponents[name] {
		return fmt.Errorf("register %q: %w", name, domain.ErrUnknownComponent)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.components[name] = component
	return nil
}

// Component returns the component in the named slot. An empty slot returns
// (nil, false) — absence is not an error, components register in a strict
// startup order.
func (r *Registry) Component(name string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.components[name]
	return c, ok
}

// ─── Per-project IPC primitives ─────────────────────────────────────────────

// ProjectChannel returns the project's command channel, creating it on
// first request and reusing it thereafter.
func (r *Registry) ProjectChannel(project string) *Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.projectChannelLocked(project)
}

func (r *Registry) projectChannelLocked(project string) *Channel {
	ch, ok := r.channels[project]
	if !ok {
		ch = NewChannel()
		r.channels[project] = ch
	}
	return ch
}

// ReadySignal returns the project's readiness signal, creating it on first
// request.
func (r *Registry) ReadySignal(project string) *Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readySignalLocked(project)
}

func (r *Registry) readySignalLocked(project string) *Signal {
	sig, ok := r.readySigs[project]
	if !ok {
		sig = NewSignal()
		r.readySigs[project] = sig
	}
	return sig
}

// TaskSignal returns the cancellation signal for a task id, creating it on
// first request.
func (r *Registry) TaskSignal(taskID string) *Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	sig, ok := r.taskSignals[taskID]
	if !ok {
		sig = NewSignal()
		r.taskSignals[taskID] = sig
	}
	return sig
}

// ─── Worker lifecycle ───────────────────────────────────────────────────────

// StartProjectProcess spawns the worker process for a project. A running
// process makes this a no-op success; a dead handle is cleaned up first.
// Failures are logged and reported as false, never raised.
//
// Starts for one project are serialized on a per-project lock so two
// concurrent callers cannot both pass the handle check and spawn twice —
// the second caller waits, observes the first caller's live handle, and
// no-ops. Exactly one handle per project, always.
func (r *Registry) StartProjectProcess(project string, spec ProcessSpec) bool {
	start := r.startLock(project)
	start.Lock()
	defer start.Unlock()

	r.mu.Lock()
	if h, ok := r.handles[project]; ok {
		if h.ProcessAlive() {
			r.mu.Unlock()
			log.Printf("[registry] project %s is already running", project)
			return true
		}
		r.mu.Unlock()
		log.Printf("[registry] project %s has a dead handle, cleaning up before restart", project)
		r.DiscardWorker(project)
		r.mu.Lock()
	}

	ch := r.projectChannelLocked(project)
	sig := r.readySignalLocked(project)
	r.mu.Unlock()

	proc, err := r.factory.Spawn(spec)
	if err != nil {
		log.Printf("[registry] start project %s: %v", project, err)
		return false
	}

	h := newWorkerHandle(project, proc, ch, sig)
	r.mu.Lock()
	r.handles[project] = h
	r.mu.Unlock()
	log.Printf("[registry] started worker process for project %s", project)
	return true
}

// startLock returns the per-project mutex serializing starts.
func (r *Registry) startLock(project string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	mu, ok := r.startLocks[project]
	if !ok {
		mu = &sync.Mutex{}
		r.startLocks[project] = mu
	}
	return mu
}

// CheckProcessStatus reports liveness: process alive AND readiness latched.
func (r *Registry) CheckProcessStatus(project string) bool {
	r.mu.Lock()
	h, ok := r.handles[project]
	r.mu.Unlock()
	return ok && h.Alive()
}

// WorkerHandle returns the project's handle, live or dead.
func (r *Registry) WorkerHandle(project string) (*WorkerHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[project]
	return h, ok
}

// LiveProjects lists projects with a live worker.
func (r *Registry) LiveProjects() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for name, h := range r.handles {
		if h.Alive() {
			out = append(out, name)
		}
	}
	return out
}

// ManagedProjects lists every project with a recorded handle, live or not.
func (r *Registry) ManagedProjects() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.handles))
	for name := range r.handles {
		out = append(out, name)
	}
	return out
}

// TerminateProcess stops a project's worker: stop sentinel, bounded join,
// force kill if still alive, then bookkeeping removal. Idempotent — an
// unknown project is a logged no-op success.
func (r *Registry) TerminateProcess(project string) {
	r.mu.Lock()
	h, ok := r.handles[project]
	ch := r.channels[project]
	r.mu.Unlock()

	if !ok {
		log.Printf("[registry] terminate %s: no worker process, nothing to do", project)
		return
	}

	if ch != nil {
		if err := ch.Send(domain.StopCommand()); err != nil {
			log.Printf("[registry] terminate %s: send stop: %v", project, err)
		}
	}

	exited := make(chan struct{})
	go func() {
		_ = h.proc.Wait()
		close(exited)
	}()
	select {
	case <-exited:
	case <-time.After(stopWait):
		log.Printf("[registry] terminate %s: worker did not exit within %v, killing", project, stopWait)
		h.kill()
	}

	r.CleanupProject(project)
	log.Printf("[registry] stopped worker process for project %s", project)
}

// ─── Cleanup ────────────────────────────────────────────────────────────────

// DiscardWorker drops a project's worker together with its channel and
// ready signal, killing the process if it is still up. The channel goes
// with the worker because responses pair with commands by FIFO order:
// once a caller stops waiting, whatever the old worker eventually writes
// must never reach a later call. The cached executor is left alone — it
// carries queued tasks, which outlive any single worker incarnation.
// Safe to call multiple times.
func (r *Registry) DiscardWorker(project string) {
	r.mu.Lock()
	h := r.handles[project]
	delete(r.handles, project)
	delete(r.channels, project)
	delete(r.readySigs, project)
	r.mu.Unlock()

	if h != nil {
		h.shutdown()
		if h.proc.Alive() {
			h.kill()
		}
	}
}

// CleanupProject releases a project's channel, signal, handle, and cached
// executor. Safe to call multiple times.
func (r *Registry) CleanupProject(project string) {
	r.mu.Lock()
	exec := r.executors[project]
	delete(r.executors, project)
	r.mu.Unlock()

	r.DiscardWorker(project)
	if exec != nil {
		exec.Shutdown()
	}
}

// CleanupTaskResources releases a task's signal. Safe to call multiple times.
func (r *Registry) CleanupTaskResources(taskID string) {
	r.mu.Lock()
	delete(r.taskSignals, taskID)
	r.mu.Unlock()
}

// CleanupResources is the full shutdown path: terminate every live worker,
// then release every channel and signal, then shut down cached executors,
// then drop registered components. The order matters — workers first, so no
// worker blocks on a primitive that has already been torn down.
func (r *Registry) CleanupResources() {
	for _, project := range r.ManagedProjects() {
		r.TerminateProcess(project)
	}

	r.mu.Lock()
	execs := r.executors
	r.executors = make(map[string]Executor)
	r.channels = make(map[string]*Channel)
	r.readySigs = make(map[string]*Signal)
	r.taskSignals = make(map[string]*Signal)
	r.components = make(map[string]any)
	r.startLocks = make(map[string]*sync.Mutex)
	r.mu.Unlock()

	for _, e := range execs {
		e.Shutdown()
	}
}

// GetExecutor returns the project's cached executor, creating it with the
// given constructor on first request.
func (r *Registry) GetExecutor(project string, create func() Executor) Executor {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.executors[project]
	if !ok {
		e = create()
		r.executors[project] = e
	}
	return e
}
