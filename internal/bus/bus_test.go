package bus

import (
	"context"
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/danmuck/liftctl/internal/protocol"
	"github.com/danmuck/liftctl/internal/testutil/testlog"
	"github.com/rs/zerolog/log"
)

func collect(ctx context.Context, t *testing.T, b Bus) <-chan protocol.Message {
	t.Helper()
	out := make(chan protocol.Message, 64)
	go func() {
		_ = b.Listen(ctx, func(m protocol.Message) { out <- m })
	}()
	return out
}

func expectMessage(t *testing.T, ch <-chan protocol.Message, want protocol.Message) protocol.Message {
	t.Helper()
	select {
	case got := <-ch:
		if got.Kind != want.Kind || got.Target != want.Target || got.Source != want.Source {
			t.Fatalf("unexpected message: got=%s want=%s", got, want)
		}
		return got
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", want)
	}
	return protocol.Message{}
}

func TestHubDeliversToEveryMemberIncludingSender(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	a, b := hub.Join("a"), hub.Join("b")
	inA, inB := collect(ctx, t, a), collect(ctx, t, b)

	msg := protocol.Message{Kind: protocol.KindRequest, Target: -3, Source: "a"}
	if err := a.Broadcast(ctx, msg); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	gotA := expectMessage(t, inA, msg)
	expectMessage(t, inB, msg)
	if gotA.ID == 0 {
		t.Fatalf("expected hub to assign a message id")
	}
}

func TestHubOfflineMemberNeitherSendsNorReceives(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	a, b := hub.Join("a"), hub.Join("b")
	inB := collect(ctx, t, b)

	b.SetOffline(true)
	if err := b.Broadcast(ctx, protocol.Message{Kind: protocol.KindTake, Target: 2, Source: "b"}); err != ErrBusUnavailable {
		t.Fatalf("expected ErrBusUnavailable, got %v", err)
	}
	if err := a.Broadcast(ctx, protocol.Message{Kind: protocol.KindTake, Target: 2, Source: "a"}); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	select {
	case m := <-inB:
		t.Fatalf("offline member received %s", m)
	case <-time.After(50 * time.Millisecond):
	}

	b.SetOffline(false)
	msg := protocol.Message{Kind: protocol.KindComplete, Target: 2, Source: "a"}
	if err := a.Broadcast(ctx, msg); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	expectMessage(t, inB, msg)
}

func TestHubDuplicates(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	a := hub.Join("a")
	a.SetDuplicates(2)
	in := collect(ctx, t, a)

	msg := protocol.Message{Kind: protocol.KindRequest, Target: 4, Source: "a"}
	if err := a.Broadcast(ctx, msg); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	for i := 0; i < 3; i++ {
		expectMessage(t, in, msg)
	}
}

func TestHubRejectsInvalidMessage(t *testing.T) {
	testlog.Start(t)
	a := NewHub().Join("a")
	if err := a.Broadcast(context.Background(), protocol.Message{Kind: protocol.KindRequest, Target: 0, Source: "a"}); err == nil {
		t.Fatalf("expected zero target to be rejected")
	}
}

func TestBackoffDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	b := Backoff{Initial: 250 * time.Millisecond, Factor: 2.0, Max: 5 * time.Second}
	if got := b.Delay(1, nil); got != 250*time.Millisecond {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := b.Delay(2, nil); got != 500*time.Millisecond {
		t.Fatalf("attempt2 got=%v", got)
	}
	if got := b.Delay(3, nil); got != time.Second {
		t.Fatalf("attempt3 got=%v", got)
	}
	if got := b.Delay(6, nil); got != 5*time.Second {
		t.Fatalf("attempt6 got=%v", got)
	}
}

func TestBackoffJitterRange(t *testing.T) {
	testlog.Start(t)
	b := DefaultBackoff()
	rng := rand.New(rand.NewSource(7))
	got := b.Delay(3, rng)
	if got < 500*time.Millisecond || got > 1500*time.Millisecond {
		t.Fatalf("jitter out of range: %v", got)
	}
}

func freeUDPPort(t *testing.T) string {
	t.Helper()
	c, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("udp unavailable: %v", err)
	}
	addr := c.LocalAddr().String()
	c.Close()
	return addr
}

func TestUDPLoopback(t *testing.T) {
	testlog.Start(t)
	addr := freeUDPPort(t)
	u, err := NewUDP(UDPConfig{
		Node:          "a",
		ListenAddr:    addr,
		BroadcastAddr: addr,
		Redundancy:    2,
	}, log.Logger)
	if err != nil {
		t.Fatalf("new udp: %v", err)
	}
	defer u.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	in := collect(ctx, t, u)

	msg := protocol.Message{Kind: protocol.KindComplete, Target: -5, Source: "a"}
	deadline := time.Now().Add(2 * time.Second)
	for {
		if err := u.Broadcast(ctx, msg); err != nil {
			t.Fatalf("broadcast: %v", err)
		}
		select {
		case got := <-in:
			if got.Kind != msg.Kind || got.Target != msg.Target || got.Source != msg.Source {
				t.Fatalf("unexpected message %s", got)
			}
			if got.ID == 0 {
				t.Fatalf("expected sequence id on the wire")
			}
			return
		case <-time.After(100 * time.Millisecond):
		}
		// the listener may not be bound yet
		if time.Now().After(deadline) {
			t.Fatalf("no datagram received")
		}
	}
}

func TestNewUDPRejectsBadBroadcastAddr(t *testing.T) {
	testlog.Start(t)
	if _, err := NewUDP(UDPConfig{BroadcastAddr: "not an addr"}, log.Logger); err == nil {
		t.Fatalf("expected resolve error")
	}
}
