package driver

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidFloorCount = errors.New("driver: floor count must be at least 2")
	ErrUnknownDriver     = errors.New("driver: unknown driver kind")
)

// MotorDirection matches the elevator server encoding.
type MotorDirection int

const (
	MotorDown MotorDirection = -1
	MotorStop MotorDirection = 0
	MotorUp   MotorDirection = 1
)

func (d MotorDirection) String() string {
	switch d {
	case MotorUp:
		return "up"
	case MotorDown:
		return "down"
	default:
		return "stop"
	}
}

// ButtonKind matches the elevator server encoding.
type ButtonKind int

const (
	HallUp   ButtonKind = 0
	HallDown ButtonKind = 1
	Cab      ButtonKind = 2
)

func (k ButtonKind) String() string {
	switch k {
	case HallUp:
		return "hall_up"
	case HallDown:
		return "hall_down"
	case Cab:
		return "cab"
	default:
		return fmt.Sprintf("button(%d)", int(k))
	}
}

// HallKind returns the hall button behind a signed call target.
func HallKind(target int) ButtonKind {
	if target < 0 {
		return HallDown
	}
	return HallUp
}

// UnknownFloor is returned by FloorSensor while the car is between floors.
const UnknownFloor = 0

// Driver is the actuation and sensing surface of one car. Floors are
// 1-indexed; FloorSensor reports UnknownFloor between floors.
type Driver interface {
	SetMotorDirection(dir MotorDirection)
	SetFloorIndicator(floor int)
	SetDoorLamp(on bool)
	SetStopLamp(on bool)
	SetButtonLamp(kind ButtonKind, floor int, on bool)

	FloorSensor() int
	ButtonSignal(kind ButtonKind, floor int) bool
	StopSignal() bool
	ObstructionSignal() bool
}

// ButtonEvent is one rising edge of a button signal.
type ButtonEvent struct {
	Kind  ButtonKind
	Floor int
}

// Target converts a hall press to a signed call target.
func (e ButtonEvent) Target() int {
	if e.Kind == HallDown {
		return -e.Floor
	}
	return e.Floor
}

const (
	KindSim    = "sim"
	KindElevio = "elevio"
)

// Config selects and parameterizes a driver implementation.
type Config struct {
	Kind          string
	Addr          string
	Floors        int
	SimTravelTime time.Duration
	SimStartFloor int
}
