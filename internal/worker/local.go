package worker

import (
	"context"
	"io"

	"github.com/cirrus-faas/cirrus/internal/registry"
)

// LocalFactory runs workers as in-process goroutines over pipes instead of
// spawning OS processes. The control plane sees the same Process surface as
// with ExecFactory, which keeps the whole orchestration path testable
// without binaries, venvs, or interpreters.
type LocalFactory struct {
	// Config maps a spawn request onto a worker configuration. Typically
	// it plugs in a MockResolver keyed by spec.Project.
	Config func(spec registry.ProcessSpec) Config
}

func (f *LocalFactory) Spawn(spec registry.ProcessSpec) (registry.Process, error) {
	inR, inW := io.Pipe()   // control plane writes commands here
	outR, outW := io.Pipe() // worker writes responses here

	ctx, cancel := context.WithCancel(context.Background())
	p := &localProcess{
		stdin:  inW,
		stdout: outR,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	runner := NewRunner(f.Config(spec))
	go func() {
		p.runErr = runner.Run(ctx, inR, outW)
		_ = outW.Close()
		_ = inR.Close()
		close(p.done)
	}()
	return p, nil
}

type localProcess struct {
	stdin  io.WriteCloser
	stdout io.Reader
	cancel context.CancelFunc
	done   chan struct{}
	runErr error
}

func (p *localProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *localProcess) Stdout() io.Reader     { return p.stdout }

func (p *localProcess) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *localProcess) Wait() error {
	<-p.done
	return p.runErr
}

func (p *localProcess) Kill() error {
	p.cancel()
	_ = p.stdin.Close()
	<-p.done
	return nil
}

func (p *localProcess) StderrTail() string { return "" }
