package registry

import (
	"bufio"
	"encoding/json"
	"log"

	"github.com/cirrus-faas/cirrus/internal/domain"
)

// WorkerHandle represents one running worker process together with its IPC
// plumbing. Exactly one live handle exists per project at any time.
type WorkerHandle struct {
	ProjectName string

	proc    Process
	channel *Channel
	ready   *Signal
	stop    chan struct{}
}

// newWorkerHandle wires the pump goroutines between a spawned process and
// its command channel: one pump encodes commands onto the worker's stdin,
// one decodes responses off its stdout. The first "ready" response latches
// the readiness signal instead of entering the response stream.
func newWorkerHandle(project string, proc Process, ch *Channel, ready *Signal) *WorkerHandle {
	h := &WorkerHandle{
		ProjectName: project,
		proc:        proc,
		channel:     ch,
		ready:       ready,
		stop:        make(chan struct{}),
	}
	go h.pumpCommands()
	go h.pumpResponses()
	return h
}

// Alive implements the liveness definition: process running AND readiness
// signal latched.
func (h *WorkerHandle) Alive() bool {
	return h.proc.Alive() && h.ready.IsSet()
}

// ProcessAlive reports only whether the OS process is still running,
// independent of readiness.
func (h *WorkerHandle) ProcessAlive() bool { return h.proc.Alive() }

func (h *WorkerHandle) pumpCommands() {
	enc := json.NewEncoder(h.proc.Stdin())
	for {
		select {
		case <-h.stop:
			return
		case cmd := <-h.channel.commands:
			if err := enc.Encode(cmd); err != nil {
				log.Printf("[registry] %s: write command: %v", h.ProjectName, err)
				return
			}
		}
	}
}

func (h *WorkerHandle) pumpResponses() {
	scanner := bufio.NewScanner(h.proc.Stdout())
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp domain.Response
		if err := json.Unmarshal(line, &resp); err != nil {
			log.Printf("[registry] %s: bad response line: %v", h.ProjectName, err)
			continue
		}
		if resp.Status == domain.StatusReady {
			if resp.Error != "" {
				log.Printf("[registry] %s: worker ready with init error: %s", h.ProjectName, resp.Error)
			}
			h.ready.Set()
			continue
		}
		select {
		case h.channel.responses <- resp:
		case <-h.stop:
			return
		}
	}
	// Stdout closed: the worker exited. The handle stays registered until
	// cleanup so callers can observe the death via Alive().
}

// shutdown releases the pump goroutines and closes the worker's stdin.
// Safe to call more than once.
func (h *WorkerHandle) shutdown() {
	select {
	case <-h.stop:
	default:
		close(h.stop)
	}
	_ = h.proc.Stdin().Close()
}

// kill force-terminates the process.
func (h *WorkerHandle) kill() {
	if err := h.proc.Kill(); err != nil {
		log.Printf("[registry] %s: kill: %v", h.ProjectName, err)
	}
	if tail := h.proc.StderrTail(); tail != "" {
		log.Printf("[registry] %s: worker stderr tail:\n%s", h.ProjectName, tail)
	}
}
