package arbiter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/liftctl/internal/driver"
	"github.com/danmuck/liftctl/internal/jobs"
	"github.com/danmuck/liftctl/internal/observability"
	"github.com/danmuck/liftctl/internal/protocol"
	"github.com/rs/zerolog"
)

var (
	ErrMissingNode     = errors.New("arbiter: node id is required")
	ErrMissingRegistry = errors.New("arbiter: registry is required")
	ErrInvalidFloors   = errors.New("arbiter: floor count must be at least 2")
)

const sendTimeout = time.Second

// Car is the view of the local elevator the bid model reads.
type Car interface {
	Floor() int
	Moving() bool
	// ServeHere opens the door at floor without a bid when the car is idle
	// there. It reports false when the car is busy or elsewhere.
	ServeHere(floor int) bool
	SetCabinFlag(floor int)
}

// Lamps is the call indicator surface. driver.Driver satisfies it.
type Lamps interface {
	SetButtonLamp(kind driver.ButtonKind, floor int, on bool)
}

// Publisher is the outbound half of the bus.
type Publisher interface {
	Broadcast(ctx context.Context, msg protocol.Message) error
}

type Config struct {
	Node     string
	Floors   int
	Costs    Costs
	Registry *jobs.Registry
	Car      Car
	Lamps    Lamps
	Bus      Publisher
	Logger   zerolog.Logger
}

// Handler turns bus messages and local button presses into registry
// mutations and broadcasts.
type Handler struct {
	node   string
	floors int
	costs  Costs
	reg    *jobs.Registry
	car    Car
	lamps  Lamps
	bus    Publisher
	log    zerolog.Logger
}

// New validates cfg. Zero costs select DefaultCosts.
func New(cfg Config) (*Handler, error) {
	if strings.TrimSpace(cfg.Node) == "" {
		return nil, ErrMissingNode
	}
	if cfg.Registry == nil {
		return nil, ErrMissingRegistry
	}
	if cfg.Floors < 2 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidFloors, cfg.Floors)
	}
	if cfg.Costs == (Costs{}) {
		cfg.Costs = DefaultCosts()
	}
	return &Handler{
		node:   strings.TrimSpace(cfg.Node),
		floors: cfg.Floors,
		costs:  cfg.Costs,
		reg:    cfg.Registry,
		car:    cfg.Car,
		lamps:  cfg.Lamps,
		bus:    cfg.Bus,
		log:    cfg.Logger,
	}, nil
}

func (h *Handler) Node() string { return h.node }

// HandleMessage is the bus receive callback. Unknown kinds are logged and
// dropped.
func (h *Handler) HandleMessage(msg protocol.Message) {
	h.log.Debug().Msgf("arbiter.Handler.HandleMessage %s", msg)
	if !h.validTarget(msg.Target) {
		h.log.Warn().Msgf("arbiter.Handler.HandleMessage dropped target out of range %s", msg)
		return
	}
	switch msg.Kind {
	case protocol.KindRequest:
		if h.isSelf(msg.Source) {
			// applied locally by SendRequest
			return
		}
		h.OnRequest(msg.Target, msg.Source)
	case protocol.KindTake:
		h.OnTaken(msg.Target, msg.Source)
	case protocol.KindComplete:
		h.OnComplete(msg.Target)
	default:
		h.log.Warn().Msgf("arbiter.Handler.HandleMessage unknown kind %s", msg)
		observability.RecordBusError(h.node, "unknown_kind")
	}
}

// OnRequest bids on target, or serves it on the spot when the car is idle
// at that floor. It reports whether the call was served on the spot.
func (h *Handler) OnRequest(target int, source string) bool {
	if !h.validTarget(target) {
		return false
	}
	floor := abs(target)
	if h.car != nil && h.car.ServeHere(floor) {
		h.log.Info().Msgf("arbiter.Handler.OnRequest target=%d source=%s served in place", target, source)
		h.SignalJobComplete(target)
		return true
	}

	remote := !h.isSelf(source)
	carFloor, moving := 0, false
	if h.car != nil {
		carFloor, moving = h.car.Floor(), h.car.Moving()
	}
	delay := h.costs.Delay(floor, carFloor, remote, moving)
	h.reg.Put(jobs.Hall(target), delay, remote)
	h.lamp(driver.HallKind(target), floor, true)
	observability.RecordBid(h.node, remote, delay)
	h.log.Info().Msgf("arbiter.Handler.OnRequest target=%d source=%s car_floor=%d moving=%v delay=%s", target, source, carFloor, moving, delay)
	return false
}

// OnTaken pushes target back by the takeover timeout so this node only acts
// if the claimant never completes it. Own claims are ignored.
func (h *Handler) OnTaken(target int, source string) {
	if h.isSelf(source) {
		return
	}
	e := h.reg.Extend(jobs.Hall(target), h.costs.TakeoverTimeout)
	observability.RecordClaimSeen(h.node)
	h.log.Info().Msgf("arbiter.Handler.OnTaken target=%d source=%s delay=%s", target, source, e.Delay)
}

// OnComplete removes target and clears its lamp. Repeating it is a no-op.
func (h *Handler) OnComplete(target int) {
	h.reg.Remove(jobs.Hall(target))
	h.lamp(driver.HallKind(target), abs(target), false)
	h.log.Debug().Msgf("arbiter.Handler.OnComplete target=%d", target)
}

// SendRequest bids locally and broadcasts the call, unless the car served it
// in place.
func (h *Handler) SendRequest(target int) {
	if !h.validTarget(target) {
		h.log.Warn().Msgf("arbiter.Handler.SendRequest dropped invalid target=%d", target)
		return
	}
	if h.OnRequest(target, h.node) {
		return
	}
	h.broadcast(protocol.KindRequest, target)
}

// SignalTakeJob announces that this node has dispatched target.
func (h *Handler) SignalTakeJob(target int) {
	if !h.validTarget(target) {
		return
	}
	h.broadcast(protocol.KindTake, target)
}

// SignalJobComplete clears target locally and broadcasts completion. At the
// terminal floors both directions are cleared.
func (h *Handler) SignalJobComplete(target int) {
	if !h.validTarget(target) {
		return
	}
	targets := []int{target}
	if f := abs(target); f == 1 || f == h.floors {
		targets = append(targets, -target)
	}
	for _, t := range targets {
		h.OnComplete(t)
		h.broadcast(protocol.KindComplete, t)
	}
	observability.RecordCompletion(h.node)
}

// CabinCommand queues an in-car destination ahead of every hall call.
func (h *Handler) CabinCommand(floor int) {
	if floor < 1 || floor > h.floors {
		h.log.Warn().Msgf("arbiter.Handler.CabinCommand dropped invalid floor=%d", floor)
		return
	}
	if h.car != nil && h.car.ServeHere(floor) {
		h.log.Info().Msgf("arbiter.Handler.CabinCommand floor=%d served in place", floor)
		return
	}
	if h.car != nil {
		h.car.SetCabinFlag(floor)
	}
	h.reg.Put(jobs.CabinFloor(floor), 0, false)
	h.lamp(driver.Cab, floor, true)
	h.log.Info().Msgf("arbiter.Handler.CabinCommand floor=%d", floor)
}

// CabinServed drops the cabin command for floor once the door opens there.
func (h *Handler) CabinServed(floor int) {
	h.reg.Remove(jobs.CabinFloor(floor))
	h.lamp(driver.Cab, floor, false)
}

// RecalculateCosts re-derives every open hall bid from the car's resting
// floor. The car is idle, so no moving penalty applies. Remote entries keep
// the remote penalty so they stay comparable with the requester's own bid.
func (h *Handler) RecalculateCosts() int {
	carFloor := 0
	if h.car != nil {
		carFloor = h.car.Floor()
	}
	n := h.reg.Recalculate(func(e jobs.Entry) (time.Duration, bool) {
		return h.costs.Delay(e.Floor(), carFloor, e.Remote, false), true
	})
	h.log.Debug().Msgf("arbiter.Handler.RecalculateCosts car_floor=%d updated=%d", carFloor, n)
	return n
}

func (h *Handler) broadcast(kind protocol.Kind, target int) {
	if h.bus == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	msg := protocol.Message{Kind: kind, Target: target, Source: h.node}
	if err := h.bus.Broadcast(ctx, msg); err != nil {
		h.log.Warn().Err(err).Msgf("arbiter.Handler.broadcast failed %s", msg)
		observability.RecordBusError(h.node, "send")
	}
}

func (h *Handler) lamp(kind driver.ButtonKind, floor int, on bool) {
	if h.lamps == nil {
		return
	}
	h.lamps.SetButtonLamp(kind, floor, on)
}

func (h *Handler) validTarget(target int) bool {
	return target != 0 && abs(target) <= h.floors
}

func (h *Handler) isSelf(source string) bool {
	return strings.EqualFold(strings.TrimSpace(source), h.node)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
