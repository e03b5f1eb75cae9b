package bus

import (
	"context"
	"errors"

	"github.com/danmuck/liftctl/internal/protocol"
)

var (
	ErrBusUnavailable = errors.New("bus: unavailable")
	ErrClosed         = errors.New("bus: closed")
)

// Handler consumes one inbound message. It runs on the transport's receive
// goroutine.
type Handler func(protocol.Message)

// Bus is an at-least-once broadcast to every live node, including the sender.
type Bus interface {
	Broadcast(ctx context.Context, msg protocol.Message) error
	// Listen delivers inbound messages to h until ctx is done.
	Listen(ctx context.Context, h Handler) error
}
