package registry

import (
	"bytes"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"
)

// ─── Process abstraction ────────────────────────────────────────────────────
// Worker spawning sits behind an interface so the control plane can be
// tested with an in-process fake instead of real OS processes.

// ProcessSpec describes one worker process to launch.
type ProcessSpec struct {
	Project string
	Entry   string   // executable path
	Args    []string // argv after the executable
	Dir     string   // working directory, empty = inherit
	Env     []string // full environment, nil = inherit
}

// Process is a running worker as seen by the registry: a stdin to write
// commands to, a stdout to read responses from, and lifecycle controls.
type Process interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
	Alive() bool
	Wait() error // blocks until exit
	Kill() error
	// StderrTail returns the last captured stderr output for diagnostics.
	StderrTail() string
}

// Factory spawns worker processes.
type Factory interface {
	Spawn(spec ProcessSpec) (Process, error)
}

// ─── OS process factory ─────────────────────────────────────────────────────

// ExecFactory launches workers as real OS processes via os/exec.
type ExecFactory struct{}

// Spawn starts the worker and begins draining its stderr into a bounded
// ring buffer so crash output survives without unbounded memory use.
func (ExecFactory) Spawn(spec ProcessSpec) (Process, error) {
	cmd := exec.Command(spec.Entry, spec.Args...)
	cmd.Dir = spec.Dir
	if spec.Env != nil {
		cmd.Env = spec.Env
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr := &limitedBuffer{max: 8192}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker %s: %w", spec.Project, err)
	}

	p := &execProcess{cmd: cmd, stdin: stdin, stdout: stdout, stderr: stderr, done: make(chan struct{})}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

type execProcess struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.Reader
	stderr  *limitedBuffer
	done    chan struct{}
	waitErr error
}

func (p *execProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *execProcess) Stdout() io.Reader     { return p.stdout }

func (p *execProcess) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *execProcess) Wait() error {
	<-p.done
	return p.waitErr
}

func (p *execProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	err := p.cmd.Process.Kill()
	// Give the reaper goroutine a moment so Alive() flips promptly.
	select {
	case <-p.done:
	case <-time.After(5 * time.Second):
	}
	return err
}

func (p *execProcess) StderrTail() string { return p.stderr.String() }

// limitedBuffer is a thread-safe buffer that keeps only the last N bytes.
type limitedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, err := b.buf.Write(p)
	if b.buf.Len() > b.max {
		data := b.buf.Bytes()
		b.buf.Reset()
		b.buf.Write(data[len(data)-b.max:])
	}
	return n, err
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
