package registry

import (
	"sync"
	"time"
)

// Signal is a single-shot latch: once set it stays set for the lifetime of
// the owning resource. Workers use one to report readiness; tasks use one as
// a cancellation flag.
type Signal struct {
	once sync.Once
	ch   chan struct{}
}

// NewSignal returns an unset signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// Set latches the signal. Safe to call more than once.
func (s *Signal) Set() {
	s.once.Do(func() { close(s.ch) })
}

// IsSet reports whether the signal has latched.
func (s *Signal) IsSet() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the signal latches.
func (s *Signal) Done() <-chan struct{} { return s.ch }

// Wait blocks until the signal latches or the timeout elapses.
// Returns true when the signal is set.
func (s *Signal) Wait(timeout time.Duration) bool {
	select {
	case <-s.ch:
		return true
	case <-time.After(timeout):
		return false
	}
}
