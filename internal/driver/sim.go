package driver

import (
	"context"
	"sync"
	"time"
)

// MinSimTravelTime is the shortest floor-to-floor time the simulator runs
// at; each half-floor step takes at least a millisecond.
const MinSimTravelTime = 2 * time.Millisecond

type lampKey struct {
	kind  ButtonKind
	floor int
}

// Sim is an in-memory car. Position advances half a floor every
// TravelTime/2 while the motor runs; odd positions are between floors.
type Sim struct {
	mu         sync.Mutex
	floors     int
	travelTime time.Duration
	pos        int
	motor      MotorDirection

	pressed     map[lampKey]bool
	lamps       map[lampKey]bool
	indicator   int
	doorLamp    bool
	stopLamp    bool
	stop        bool
	obstruction bool
	visits      []int
}

// NewSim places the car at startFloor. startFloor 0 starts the car between
// floors 1 and 2.
func NewSim(floors int, travelTime time.Duration, startFloor int) (*Sim, error) {
	if floors < 2 {
		return nil, ErrInvalidFloorCount
	}
	if travelTime <= 0 {
		travelTime = time.Second
	}
	pos := 1
	if startFloor >= 1 && startFloor <= floors {
		pos = (startFloor - 1) * 2
	}
	return &Sim{
		floors:     floors,
		travelTime: travelTime,
		pos:        pos,
		pressed:    make(map[lampKey]bool),
		lamps:      make(map[lampKey]bool),
	}, nil
}

// Run moves the car until ctx is done.
func (s *Sim) Run(ctx context.Context) {
	step := s.travelTime / 2
	if step < time.Millisecond {
		step = time.Millisecond
	}
	ticker := time.NewTicker(step)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.step()
		}
	}
}

func (s *Sim) step() {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.pos + int(s.motor)
	if next < 0 || next > (s.floors-1)*2 {
		return
	}
	s.pos = next
	if s.pos%2 == 0 {
		s.visits = append(s.visits, s.pos/2+1)
	}
}

func (s *Sim) SetMotorDirection(dir MotorDirection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.motor = dir
}

func (s *Sim) SetFloorIndicator(floor int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indicator = floor
}

func (s *Sim) SetDoorLamp(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doorLamp = on
}

func (s *Sim) SetStopLamp(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLamp = on
}

func (s *Sim) SetButtonLamp(kind ButtonKind, floor int, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lamps[lampKey{kind, floor}] = on
}

func (s *Sim) FloorSensor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos%2 != 0 {
		return UnknownFloor
	}
	return s.pos/2 + 1
}

// ButtonSignal reports a press once; presses are momentary.
func (s *Sim) ButtonSignal(kind ButtonKind, floor int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := lampKey{kind, floor}
	v := s.pressed[k]
	delete(s.pressed, k)
	return v
}

func (s *Sim) StopSignal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop
}

func (s *Sim) ObstructionSignal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.obstruction
}

// Press latches one button press until the next ButtonSignal read.
func (s *Sim) Press(kind ButtonKind, floor int) {
	if floor < 1 || floor > s.floors {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pressed[lampKey{kind, floor}] = true
}

func (s *Sim) SetStop(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stop = on
}

func (s *Sim) SetObstruction(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.obstruction = on
}

func (s *Sim) ToggleObstruction() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.obstruction = !s.obstruction
	return s.obstruction
}

func (s *Sim) Floors() int { return s.floors }

func (s *Sim) ButtonLamp(kind ButtonKind, floor int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lamps[lampKey{kind, floor}]
}

func (s *Sim) DoorLamp() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doorLamp
}

func (s *Sim) StopLamp() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLamp
}

func (s *Sim) Motor() MotorDirection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.motor
}

func (s *Sim) Indicator() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indicator
}

// Visits lists every floor the car has arrived at, in order.
func (s *Sim) Visits() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.visits))
	copy(out, s.visits)
	return out
}
