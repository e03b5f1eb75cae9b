// Command busctl watches or injects elevator bus traffic on the LAN.
//
//	busctl tap
//	busctl send -kind request -target -3
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/liftctl/internal/bus"
	"github.com/danmuck/liftctl/internal/observability"
	"github.com/danmuck/liftctl/internal/protocol"
)

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}
	mode := os.Args[1]

	fs := flag.NewFlagSet("busctl "+mode, flag.ExitOnError)
	listen := fs.String("listen", bus.DefaultListenAddr, "bus listen address")
	broadcast := fs.String("broadcast", bus.DefaultBroadcastAddr, "bus broadcast address")
	source := fs.String("source", "busctl", "source node id stamped on sent messages")
	kind := fs.String("kind", string(protocol.KindRequest), "message kind: request|take|completed")
	target := fs.Int("target", 0, "signed target floor")
	redundancy := fs.Int("redundancy", 1, "datagrams written per message")
	_ = fs.Parse(os.Args[2:])

	logger := observability.InitLogger("busctl")
	u, err := bus.NewUDP(bus.UDPConfig{
		Node:          *source,
		ListenAddr:    *listen,
		BroadcastAddr: *broadcast,
		Redundancy:    *redundancy,
		Backoff:       bus.DefaultBackoff(),
	}, logger)
	if err != nil {
		fatalf("%v", err)
	}
	defer u.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch mode {
	case "tap":
		err = u.Listen(ctx, func(msg protocol.Message) {
			fmt.Fprintln(os.Stdout, formatMessage(msg))
		})
	case "send":
		var msg protocol.Message
		msg, err = buildMessage(*kind, *target, *source)
		if err == nil {
			err = u.Broadcast(ctx, msg)
		}
		if err == nil {
			fmt.Fprintf(os.Stdout, "sent %s\n", msg)
		}
	default:
		usage(os.Stderr)
		os.Exit(2)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		fatalf("%v", err)
	}
}

func buildMessage(kind string, target int, source string) (protocol.Message, error) {
	msg := protocol.Message{
		Kind:   protocol.Kind(strings.ToLower(strings.TrimSpace(kind))),
		Target: target,
		Source: strings.TrimSpace(source),
	}
	if err := msg.Validate(); err != nil {
		return protocol.Message{}, err
	}
	return msg, nil
}

func formatMessage(msg protocol.Message) string {
	dir := "up"
	if msg.Target < 0 {
		dir = "down"
	}
	floor := msg.Target
	if floor < 0 {
		floor = -floor
	}
	return fmt.Sprintf("%-9s floor=%d dir=%-4s source=%s id=%d", msg.Kind, floor, dir, msg.Source, msg.ID)
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: busctl tap|send [flags]")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "busctl: "+format+"\n", args...)
	os.Exit(1)
}
