// Package task implements asynchronous invocation tracking: the task
// manager (create, status, cancel, cleanup) and the cron scheduler that
// feeds it.
package task

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/cirrus-faas/cirrus/internal/domain"
	"github.com/cirrus-faas/cirrus/internal/infra/metrics"
	"github.com/cirrus-faas/cirrus/internal/infra/taskstore"
	"github.com/cirrus-faas/cirrus/internal/registry"
	"github.com/cirrus-faas/cirrus/internal/worker"
)

// Invoker is the synchronous invocation path tasks run through.
// The master implements it.
type Invoker interface {
	ExecuteFunction(ctx context.Context, project, function string, payload json.RawMessage) (json.RawMessage, error)
}

// Config tunes the task manager.
type Config struct {
	// MaxConcurrent bounds concurrently running tasks per project.
	MaxConcurrent int64
	// MaxAge is how long finished task records are kept on disk.
	MaxAge time.Duration
	// SweepInterval is how often old records are swept.
	SweepInterval time.Duration
}

// DefaultConfig returns the stock task settings.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 4,
		MaxAge:        24 * time.Hour,
		SweepInterval: time.Hour,
	}
}

// Manager tracks asynchronous tasks. Active tasks live in memory; every
// status transition is persisted, so finished tasks survive restarts and
// are served from disk.
type Manager struct {
	reg     *registry.Registry
	store   *taskstore.Store
	invoker Invoker
	cfg     Config

	mu     sync.Mutex
	active map[string]*domain.Task
}

// NewManager builds a task manager.
func NewManager(reg *registry.Registry, store *taskstore.Store, invoker Invoker, cfg Config) *Manager {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	return &Manager{
		reg:     reg,
		store:   store,
		invoker: invoker,
		cfg:     cfg,
		active:  make(map[string]*domain.Task),
	}
}

// ─── Create ─────────────────────────────────────────────────────────────────

// CreateTask starts an asynchronous invocation. At most one active task
// exists per (project, function) pair: a duplicate request returns the
// existing task with existed=true instead of creating another.
func (m *Manager) CreateTask(ctx context.Context, project, function string, payload json.RawMessage) (*domain.Task, bool, error) {
	m.mu.Lock()
	for _, t := range m.active {
		if t.ProjectName == project && t.FunctionName == function && t.IsActive() {
			existing := t.Clone()
			m.mu.Unlock()
			log.Printf("[task] %s/%s already has active task %s", project, function, existing.TaskID)
			return existing, true, nil
		}
	}

	now := time.Now().UTC()
	t := &domain.Task{
		TaskID:       domain.NewTaskID(project, function),
		ProjectName:  project,
		FunctionName: function,
		Payload:      payload,
		Status:       domain.TaskCreated,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.active[t.TaskID] = t
	m.mu.Unlock()

	if err := m.store.Save(t.Clone()); err != nil {
		m.mu.Lock()
		delete(m.active, t.TaskID)
		m.mu.Unlock()
		return nil, false, err
	}
	metrics.TaskTransitions.WithLabelValues(string(domain.TaskCreated)).Inc()

	sig := m.reg.TaskSignal(t.TaskID)
	exec := m.executor(project)
	// Dispatch from a goroutine: Submit blocks while the project's
	// executor is saturated, and a saturated executor must queue the
	// task (status created), not stall the caller.
	go func() {
		if err := exec.Submit(context.Background(), func() { m.run(t, sig) }); err != nil {
			m.finish(t, domain.TaskFailed, nil, "dispatch: "+err.Error())
			m.reg.CleanupTaskResources(t.TaskID)
		}
	}()
	return t.Clone(), false, nil
}

func (m *Manager) executor(project string) *worker.Executor {
	e := m.reg.GetExecutor(project, func() registry.Executor {
		return worker.NewExecutor(m.cfg.MaxConcurrent)
	})
	return e.(*worker.Executor)
}

// run carries one task through its lifecycle. Cancellation is
// non-preemptive: the signal is honored before the created→running
// transition and again after the handler returns, never mid-flight.
func (m *Manager) run(t *domain.Task, cancelled *registry.Signal) {
	defer m.reg.CleanupTaskResources(t.TaskID)

	if cancelled.IsSet() {
		m.finish(t, domain.TaskCancelled, nil, "")
		return
	}

	m.transition(t, domain.TaskRunning)

	result, err := m.invoker.ExecuteFunction(context.Background(), t.ProjectName, t.FunctionName, t.Payload)
	switch {
	case cancelled.IsSet():
		m.finish(t, domain.TaskCancelled, nil, "")
	case err != nil:
		m.finish(t, domain.TaskFailed, nil, err.Error())
	default:
		m.finish(t, domain.TaskCompleted, result, "")
	}
}

func (m *Manager) transition(t *domain.Task, status domain.TaskStatus) {
	m.mu.Lock()
	t.Status = status
	t.UpdatedAt = time.Now().UTC()
	snapshot := t.Clone()
	m.mu.Unlock()

	if err := m.store.Save(snapshot); err != nil {
		log.Printf("[task] persist %s: %v", t.TaskID, err)
	}
	metrics.TaskTransitions.WithLabelValues(string(status)).Inc()
}

// finish records a terminal status and drops the task from the active set.
func (m *Manager) finish(t *domain.Task, status domain.TaskStatus, result json.RawMessage, errMsg string) {
	m.mu.Lock()
	t.Status = status
	t.Result = result
	t.Error = errMsg
	t.UpdatedAt = time.Now().UTC()
	snapshot := t.Clone()
	delete(m.active, t.TaskID)
	m.mu.Unlock()

	if err := m.store.Save(snapshot); err != nil {
		log.Printf("[task] persist %s: %v", t.TaskID, err)
	}
	metrics.TaskTransitions.WithLabelValues(string(status)).Inc()
	log.Printf("[task] %s finished with status %s", t.TaskID, status)
}

// ─── Query ──────────────────────────────────────────────────────────────────

// GetTaskStatus returns one task, preferring the in-memory copy and
// falling back to disk for finished or pre-restart tasks.
func (m *Manager) GetTaskStatus(taskID string) (*domain.Task, error) {
	m.mu.Lock()
	if t, ok := m.active[taskID]; ok {
		c := t.Clone()
		m.mu.Unlock()
		return c, nil
	}
	m.mu.Unlock()
	return m.store.Load(taskID)
}

// ListTasks returns stored tasks, optionally filtered by project and
// status. Disk is authoritative here — every transition is persisted.
func (m *Manager) ListTasks(project string, status domain.TaskStatus) ([]*domain.Task, error) {
	return m.store.List(project, status)
}

// ─── Cancel ─────────────────────────────────────────────────────────────────

// CancelTask requests cancellation. A created task is cancelled before it
// runs; a running task finishes its current handler and is then recorded as
// cancelled. Cancelling an already-cancelled task is a no-op; other
// terminal statuses are rejected.
func (m *Manager) CancelTask(taskID string) error {
	m.mu.Lock()
	t, ok := m.active[taskID]
	m.mu.Unlock()

	if !ok {
		stored, err := m.store.Load(taskID)
		if err != nil {
			return err
		}
		if stored.Status == domain.TaskCancelled {
			return nil
		}
		if stored.IsTerminal() {
			return domain.ErrTaskNotCancellable
		}
		// On disk as created or running but not in memory: an orphan
		// from a daemon crash. No goroutine will ever finish it, so
		// cancel the record directly.
		stored.Status = domain.TaskCancelled
		stored.UpdatedAt = time.Now().UTC()
		if err := m.store.Save(stored); err != nil {
			return err
		}
		metrics.TaskTransitions.WithLabelValues(string(domain.TaskCancelled)).Inc()
		log.Printf("[task] cancelled orphaned task %s", taskID)
		return nil
	}

	if t.Status == domain.TaskCancelled {
		return nil
	}
	if t.IsTerminal() {
		return domain.ErrTaskNotCancellable
	}
	m.reg.TaskSignal(taskID).Set()
	log.Printf("[task] cancellation requested for %s", taskID)
	return nil
}

// ─── Cleanup ────────────────────────────────────────────────────────────────

// CleanupOldTasks removes finished task records older than maxAge. Active
// tasks are never touched, whatever their age.
func (m *Manager) CleanupOldTasks(maxAge time.Duration) (int, error) {
	m.mu.Lock()
	keep := make(map[string]bool, len(m.active))
	for id := range m.active {
		keep[id] = true
	}
	m.mu.Unlock()
	return m.store.Sweep(time.Now().UTC().Add(-maxAge), keep)
}

// Start runs the periodic sweep loop until the context ends.
func (m *Manager) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := m.CleanupOldTasks(m.cfg.MaxAge); err != nil {
					log.Printf("[task] sweep: %v", err)
				} else if n > 0 {
					log.Printf("[task] swept %d old task records", n)
				}
			}
		}
	}()
}

// ActiveCount reports how many tasks are currently in memory.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}
