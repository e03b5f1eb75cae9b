package elevator

import "github.com/danmuck/liftctl/internal/driver"

type Phase int

const (
	Idle Phase = iota
	MovingUp
	MovingDown
	DoorOpen
	Halted
	// Recovering is held from startup until the car reads a floor.
	Recovering
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case MovingUp:
		return "moving_up"
	case MovingDown:
		return "moving_down"
	case DoorOpen:
		return "door_open"
	case Halted:
		return "halted"
	case Recovering:
		return "recovering"
	default:
		return "unknown"
	}
}

func (p Phase) moving() bool { return p == MovingUp || p == MovingDown }

func phaseFor(dir driver.MotorDirection) Phase {
	if dir == driver.MotorDown {
		return MovingDown
	}
	return MovingUp
}

// State is a point-in-time copy of the controller.
type State struct {
	Floor       int    `json:"floor"`
	Direction   string `json:"direction"`
	Phase       string `json:"phase"`
	Busy        bool   `json:"busy"`
	DoorOpen    bool   `json:"door_open"`
	Obstruction bool   `json:"obstruction"`
	Cabin       []int  `json:"cabin"`
	Target      int    `json:"target,omitempty"`
	TargetCabin bool   `json:"target_cabin,omitempty"`
}
