package registry

import (
	"github.com/cirrus-faas/cirrus/internal/domain"
)

// channelBuffer bounds the per-project command and response queues. A full
// command buffer rejects the send instead of blocking the control plane.
const channelBuffer = 64

// Channel is the ordered, single-consumer message channel between the
// control plane and one worker process. Commands are pumped to the worker's
// stdin in send order; responses arrive in the worker's reply order.
type Channel struct {
	commands  chan domain.Command
	responses chan domain.Response
}

// NewChannel creates a bounded channel pair.
func NewChannel() *Channel {
	return &Channel{
		commands:  make(chan domain.Command, channelBuffer),
		responses: make(chan domain.Response, channelBuffer),
	}
}

// Send enqueues a command for the worker. Returns ErrChannelFull instead of
// blocking when the worker has fallen too far behind.
func (c *Channel) Send(cmd domain.Command) error {
	select {
	case c.commands <- cmd:
		return nil
	default:
		return domain.ErrChannelFull
	}
}

// Responses returns the worker's reply stream.
func (c *Channel) Responses() <-chan domain.Response { return c.responses }
