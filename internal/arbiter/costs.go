package arbiter

import "time"

// Costs parameterizes the bid model. A bid is
//
//	(RemotePenalty if the request came from another node)
//	+ (MovingPenalty if the car is moving)
//	+ FloorCost * floors between the car and the call
//
// scaled by MillisPerCost.
type Costs struct {
	FloorCost       int
	MovingPenalty   int
	RemotePenalty   int
	MillisPerCost   time.Duration
	TakeoverTimeout time.Duration
}

// DefaultCosts: floor 5, moving 2, remote 2, 100ms per unit, 15s takeover.
func DefaultCosts() Costs {
	return Costs{
		FloorCost:       5,
		MovingPenalty:   2,
		RemotePenalty:   2,
		MillisPerCost:   100 * time.Millisecond,
		TakeoverTimeout: 15 * time.Second,
	}
}

// Delay converts a bid for floor into a wait.
func (c Costs) Delay(floor, carFloor int, remote, moving bool) time.Duration {
	cost := 0
	if remote {
		cost += c.RemotePenalty
	}
	if moving {
		cost += c.MovingPenalty
	}
	dist := floor - carFloor
	if dist < 0 {
		dist = -dist
	}
	cost += c.FloorCost * dist
	return time.Duration(cost) * c.MillisPerCost
}
