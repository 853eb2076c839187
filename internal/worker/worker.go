package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/cirrus-faas/cirrus/internal/domain"
)

// Config describes one worker run.
type Config struct {
	ProjectName string
	ProjectDir  string
	Resolver    Resolver
	// Prepare runs before function discovery — environment provisioning
	// lives here so the control plane never blocks on pip. Optional.
	Prepare func(ctx context.Context) error
}

// Runner is the long-lived loop a worker process executes: initialize the
// project, announce readiness, then answer execute commands until a stop
// sentinel or closed stdin.
type Runner struct {
	cfg Config

	mu       sync.Mutex
	handlers map[string]Handler
	table    map[string]domain.Function
	initErr  error
}

// NewRunner builds a runner for the given project.
func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:      cfg,
		handlers: make(map[string]Handler),
		table:    make(map[string]domain.Function),
	}
}

// Run executes the worker loop over the given streams. The first line
// written to out is always a ready response; an initialization failure is
// reported in its error field, and the loop still runs so the control plane
// gets a clean "worker not initialized" error per execute instead of a pipe
// break.
func (r *Runner) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	r.initErr = r.initialize(ctx)
	if r.initErr != nil {
		log.Printf("[worker] %s: initialization failed: %v", r.cfg.ProjectName, r.initErr)
	}

	enc := json.NewEncoder(out)
	ready := domain.Response{Status: domain.StatusReady}
	if r.initErr != nil {
		ready.Error = r.initErr.Error()
	}
	if err := enc.Encode(ready); err != nil {
		return fmt.Errorf("write ready: %w", err)
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var cmd domain.Command
		if err := json.Unmarshal(line, &cmd); err != nil {
			log.Printf("[worker] %s: bad command line: %v", r.cfg.ProjectName, err)
			continue
		}
		if cmd.Type == domain.CommandStop {
			log.Printf("[worker] %s: stop received", r.cfg.ProjectName)
			return nil
		}
		resp := r.execute(ctx, cmd)
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
	// Stdin closed without a stop sentinel: treat as shutdown.
	return scanner.Err()
}

// initialize prepares the environment and registers every discovered
// function. Handlers load lazily on first invocation.
func (r *Runner) initialize(ctx context.Context) error {
	if r.cfg.Resolver == nil {
		return fmt.Errorf("no resolver configured")
	}
	if r.cfg.Prepare != nil {
		if err := r.cfg.Prepare(ctx); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrProvisionFailed, err)
		}
	}
	fns, err := r.cfg.Resolver.Discover(r.cfg.ProjectDir)
	if err != nil {
		return err
	}
	r.mu.Lock()
	for _, fn := range fns {
		fn.ProjectName = r.cfg.ProjectName
		r.table[fn.Name] = fn
	}
	r.mu.Unlock()
	log.Printf("[worker] %s: registered %d functions", r.cfg.ProjectName, len(fns))
	return nil
}

// execute answers one execute command. Commands are processed strictly in
// order — FIFO on the wire means FIFO in here.
func (r *Runner) execute(ctx context.Context, cmd domain.Command) domain.Response {
	if r.initErr != nil {
		return domain.Response{Status: domain.StatusError, Error: domain.ErrWorkerNotInitialized.Error()}
	}
	h, err := r.handler(ctx, cmd.FunctionName)
	if err != nil {
		return domain.Response{Status: domain.StatusError, Error: err.Error()}
	}
	result, err := h.Invoke(ctx, cmd.Payload)
	if err != nil {
		fe := &domain.FunctionError{
			ProjectName:  r.cfg.ProjectName,
			FunctionName: cmd.FunctionName,
			Message:      err.Error(),
		}
		return domain.Response{Status: domain.StatusError, Error: fe.Error()}
	}
	return domain.Response{Status: domain.StatusSuccess, Result: result}
}

// handler returns the function's handler, loading it on first use. A load
// failure poisons only that function; later calls retry the load.
func (r *Runner) handler(ctx context.Context, name string) (Handler, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.handlers[name]; ok {
		return h, nil
	}
	fn, ok := r.table[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrFunctionNotFound, name)
	}
	h, err := r.cfg.Resolver.Load(r.cfg.ProjectDir, fn)
	if err != nil {
		return nil, err
	}
	fn.Status = domain.FunctionLoaded
	r.table[name] = fn
	r.handlers[name] = h
	return h, nil
}

// Functions returns a snapshot of the worker's function table.
func (r *Runner) Functions() []domain.Function {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Function, 0, len(r.table))
	for _, fn := range r.table {
		out = append(out, fn)
	}
	return out
}
