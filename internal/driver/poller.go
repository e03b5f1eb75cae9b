package driver

import (
	"context"
	"time"
)

const DefaultPollRate = 25 * time.Millisecond

// Events carries edge-triggered driver readings. Nil channels are skipped.
type Events struct {
	Buttons     chan<- ButtonEvent
	Floors      chan<- int
	Stop        chan<- bool
	Obstruction chan<- bool
}

// Poller samples a Driver on a fixed tick and reports changes.
type Poller struct {
	drv    Driver
	floors int
	rate   time.Duration
}

// NewPoller samples drv every rate, or DefaultPollRate when rate is not
// positive.
func NewPoller(drv Driver, floors int, rate time.Duration) *Poller {
	if rate <= 0 {
		rate = DefaultPollRate
	}
	return &Poller{drv: drv, floors: floors, rate: rate}
}

// Run polls until ctx is done. Floor events fire on arrival at a floor
// different from the last one reported.
func (p *Poller) Run(ctx context.Context, ev Events) {
	ticker := time.NewTicker(p.rate)
	defer ticker.Stop()

	prevButtons := make(map[ButtonEvent]bool)
	prevFloor := UnknownFloor
	prevStop := false
	prevObstruction := false

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if ev.Buttons != nil {
			for f := 1; f <= p.floors; f++ {
				for _, kind := range []ButtonKind{HallUp, HallDown, Cab} {
					if (kind == HallUp && f == p.floors) || (kind == HallDown && f == 1) {
						continue
					}
					b := ButtonEvent{Kind: kind, Floor: f}
					v := p.drv.ButtonSignal(kind, f)
					if v && !prevButtons[b] && !send(ctx, ev.Buttons, b) {
						return
					}
					prevButtons[b] = v
				}
			}
		}

		if f := p.drv.FloorSensor(); f != UnknownFloor && f != prevFloor {
			prevFloor = f
			if ev.Floors != nil && !send(ctx, ev.Floors, f) {
				return
			}
		} else if f == UnknownFloor {
			prevFloor = UnknownFloor
		}

		if v := p.drv.StopSignal(); v != prevStop {
			prevStop = v
			if ev.Stop != nil && !send(ctx, ev.Stop, v) {
				return
			}
		}

		if v := p.drv.ObstructionSignal(); v != prevObstruction {
			prevObstruction = v
			if ev.Obstruction != nil && !send(ctx, ev.Obstruction, v) {
				return
			}
		}
	}
}

func send[T any](ctx context.Context, ch chan<- T, v T) bool {
	select {
	case ch <- v:
		return true
	case <-ctx.Done():
		return false
	}
}
