package bus

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/danmuck/liftctl/internal/protocol"
)

const memoryInboxSize = 256

// Hub connects in-process nodes. Every broadcast reaches every member that
// is online, the sender included.
type Hub struct {
	mu      sync.RWMutex
	members []*MemoryBus
	seq     atomic.Uint64
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{}
}

// Join attaches a new member identified by id.
func (h *Hub) Join(id string) *MemoryBus {
	b := &MemoryBus{
		id:    id,
		hub:   h,
		inbox: make(chan protocol.Message, memoryInboxSize),
	}
	h.mu.Lock()
	h.members = append(h.members, b)
	h.mu.Unlock()
	return b
}

// MemoryBus is one member's view of a Hub.
type MemoryBus struct {
	id      string
	hub     *Hub
	inbox   chan protocol.Message
	offline atomic.Bool
	copies  atomic.Int32
}

// SetOffline makes the member drop every inbound message and fail every
// send, as if its process vanished from the network.
func (b *MemoryBus) SetOffline(offline bool) {
	b.offline.Store(offline)
}

// SetDuplicates makes each delivery to this member arrive n extra times.
func (b *MemoryBus) SetDuplicates(n int) {
	b.copies.Store(int32(n))
}

// Broadcast validates msg and queues it for every online member.
func (b *MemoryBus) Broadcast(ctx context.Context, msg protocol.Message) error {
	if b.offline.Load() {
		return ErrBusUnavailable
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	if msg.ID == 0 {
		msg.ID = b.hub.seq.Add(1)
	}
	b.hub.mu.RLock()
	members := append([]*MemoryBus(nil), b.hub.members...)
	b.hub.mu.RUnlock()

	for _, m := range members {
		if m.offline.Load() {
			continue
		}
		for i := int32(0); i <= m.copies.Load(); i++ {
			select {
			case m.inbox <- msg:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

func (b *MemoryBus) Listen(ctx context.Context, h Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-b.inbox:
			if b.offline.Load() {
				continue
			}
			h(msg)
		}
	}
}
