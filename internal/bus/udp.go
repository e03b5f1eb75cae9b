package bus

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/danmuck/liftctl/internal/observability"
	"github.com/danmuck/liftctl/internal/protocol"
	"github.com/libp2p/go-reuseport"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

const (
	datagramSize    = 2048
	readPollTimeout = 250 * time.Millisecond

	DefaultListenAddr    = ":20017"
	DefaultBroadcastAddr = "255.255.255.255:20017"
)

type UDPConfig struct {
	Node          string
	ListenAddr    string
	BroadcastAddr string
	// Redundancy is how many times each datagram is written.
	Redundancy int
	Backoff    Backoff
}

// UDP broadcasts framed messages as datagrams. The listen socket uses
// SO_REUSEPORT so several nodes on one host can share the bus port.
type UDP struct {
	cfg  UDPConfig
	dst  *net.UDPAddr
	log  zerolog.Logger
	seq  atomic.Uint64
	rng  *rand.Rand
	mu   sync.Mutex
	conn net.PacketConn
}

// NewUDP fills defaults and resolves the broadcast address. Sockets are
// opened lazily by Broadcast and Listen.
func NewUDP(cfg UDPConfig, logger zerolog.Logger) (*UDP, error) {
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if strings.TrimSpace(cfg.BroadcastAddr) == "" {
		cfg.BroadcastAddr = DefaultBroadcastAddr
	}
	if cfg.Redundancy < 1 {
		cfg.Redundancy = 1
	}
	if cfg.Backoff == (Backoff{}) {
		cfg.Backoff = DefaultBackoff()
	}
	dst, err := net.ResolveUDPAddr("udp4", cfg.BroadcastAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %q: %v", ErrBusUnavailable, cfg.BroadcastAddr, err)
	}
	return &UDP{
		cfg: cfg,
		dst: dst,
		log: logger,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Broadcast writes msg Redundancy times. Message ids are assigned from a
// per-process sequence when unset.
func (u *UDP) Broadcast(ctx context.Context, msg protocol.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.ID == 0 {
		msg.ID = u.seq.Add(1)
	}
	b, err := protocol.Marshal(msg)
	if err != nil {
		return err
	}
	conn, err := u.sender()
	if err != nil {
		observability.RecordBusError(u.cfg.Node, "socket")
		return err
	}
	for i := 0; i < u.cfg.Redundancy; i++ {
		if _, err := conn.WriteTo(b, u.dst); err != nil {
			observability.RecordBusError(u.cfg.Node, "send")
			u.resetSender()
			return fmt.Errorf("%w: %v", ErrBusUnavailable, err)
		}
	}
	observability.RecordBusMessage(u.cfg.Node, "out", string(msg.Kind))
	return nil
}

// Listen re-opens the listen socket with backoff after any read failure and
// returns only once ctx is done.
func (u *UDP) Listen(ctx context.Context, h Handler) error {
	attempt := 0
	for ctx.Err() == nil {
		conn, err := reuseport.ListenPacket("udp4", u.cfg.ListenAddr)
		if err != nil {
			attempt++
			wait := u.cfg.Backoff.Delay(attempt, u.rng)
			u.log.Warn().Err(err).Msgf("bus.UDP.Listen open failed addr=%s attempt=%d retry_in=%s", u.cfg.ListenAddr, attempt, wait)
			observability.RecordBusError(u.cfg.Node, "listen")
			if !sleepCtx(ctx, wait) {
				break
			}
			continue
		}
		attempt = 0
		u.log.Info().Msgf("bus.UDP.Listen addr=%s", conn.LocalAddr())
		err = u.receive(ctx, conn, h)
		conn.Close()
		if err != nil {
			u.log.Warn().Err(err).Msg("bus.UDP.Listen receive failed; reopening")
			observability.RecordBusError(u.cfg.Node, "receive")
		}
	}
	return nil
}

// Close releases the send socket. Listen stops with its context.
func (u *UDP) Close() error {
	u.resetSender()
	return nil
}

func (u *UDP) receive(ctx context.Context, conn net.PacketConn, h Handler) error {
	buf := make([]byte, datagramSize)
	for {
		if ctx.Err() != nil {
			return nil
		}
		_ = conn.SetReadDeadline(time.Now().Add(readPollTimeout))
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}
		msg, err := protocol.Unmarshal(buf[:n])
		if err != nil {
			u.log.Debug().Err(err).Msgf("bus.UDP.receive dropped datagram from=%s bytes=%d", from, n)
			observability.RecordBusError(u.cfg.Node, "decode")
			continue
		}
		observability.RecordBusMessage(u.cfg.Node, "in", string(msg.Kind))
		h(msg)
	}
}

func (u *UDP) sender() (net.PacketConn, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn != nil {
		return u.conn, nil
	}
	// ephemeral port: a reuseport socket on the bus port would compete with
	// the listener for unicast datagrams
	lc := net.ListenConfig{Control: enableBroadcast}
	conn, err := lc.ListenPacket(context.Background(), "udp4", ":0")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBusUnavailable, err)
	}
	u.conn = conn
	return conn, nil
}

func (u *UDP) resetSender() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn != nil {
		u.conn.Close()
		u.conn = nil
	}
}

func enableBroadcast(_, _ string, rc syscall.RawConn) error {
	var serr error
	err := rc.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return serr
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
