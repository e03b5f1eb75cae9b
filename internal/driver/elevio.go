package driver

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Elevio speaks the 4-byte command protocol of the elevator server and
// simulator. Wire floors are 0-indexed.
type Elevio struct {
	mu      sync.Mutex
	conn    net.Conn
	floors  int
	timeout time.Duration
	log     zerolog.Logger
}

const (
	cmdMotor       = 1
	cmdButtonLamp  = 2
	cmdFloorLamp   = 3
	cmdDoorLamp    = 4
	cmdStopLamp    = 5
	cmdButton      = 6
	cmdFloorSensor = 7
	cmdStop        = 8
	cmdObstruction = 9
)

// DialElevio connects to an elevator server at addr.
func DialElevio(addr string, floors int, logger zerolog.Logger) (*Elevio, error) {
	if floors < 2 {
		return nil, ErrInvalidFloorCount
	}
	conn, err := net.DialTimeout("tcp", addr, 3*time.Second)
	if err != nil {
		return nil, fmt.Errorf("driver: connect elevator server %s: %w", addr, err)
	}
	return &Elevio{conn: conn, floors: floors, timeout: time.Second, log: logger}, nil
}

func (e *Elevio) Close() error {
	return e.conn.Close()
}

func (e *Elevio) SetMotorDirection(dir MotorDirection) {
	e.write([4]byte{cmdMotor, byte(int8(dir)), 0, 0})
}

func (e *Elevio) SetButtonLamp(kind ButtonKind, floor int, on bool) {
	if !e.inRange(floor) {
		return
	}
	e.write([4]byte{cmdButtonLamp, byte(kind), byte(floor - 1), toByte(on)})
}

func (e *Elevio) SetFloorIndicator(floor int) {
	if !e.inRange(floor) {
		return
	}
	e.write([4]byte{cmdFloorLamp, byte(floor - 1), 0, 0})
}

func (e *Elevio) SetDoorLamp(on bool) {
	e.write([4]byte{cmdDoorLamp, toByte(on), 0, 0})
}

func (e *Elevio) SetStopLamp(on bool) {
	e.write([4]byte{cmdStopLamp, toByte(on), 0, 0})
}

func (e *Elevio) ButtonSignal(kind ButtonKind, floor int) bool {
	if !e.inRange(floor) {
		return false
	}
	out, ok := e.read([4]byte{cmdButton, byte(kind), byte(floor - 1), 0})
	return ok && out[1] != 0
}

func (e *Elevio) FloorSensor() int {
	out, ok := e.read([4]byte{cmdFloorSensor, 0, 0, 0})
	if !ok || out[1] == 0 {
		return UnknownFloor
	}
	return int(out[2]) + 1
}

func (e *Elevio) StopSignal() bool {
	out, ok := e.read([4]byte{cmdStop, 0, 0, 0})
	return ok && out[1] != 0
}

func (e *Elevio) ObstructionSignal() bool {
	out, ok := e.read([4]byte{cmdObstruction, 0, 0, 0})
	return ok && out[1] != 0
}

func (e *Elevio) inRange(floor int) bool {
	return floor >= 1 && floor <= e.floors
}

func (e *Elevio) write(in [4]byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_ = e.conn.SetWriteDeadline(time.Now().Add(e.timeout))
	if _, err := e.conn.Write(in[:]); err != nil {
		e.log.Warn().Err(err).Msgf("driver.Elevio.write cmd=%d failed", in[0])
	}
}

func (e *Elevio) read(in [4]byte) ([4]byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out [4]byte
	_ = e.conn.SetDeadline(time.Now().Add(e.timeout))
	if _, err := e.conn.Write(in[:]); err != nil {
		e.log.Warn().Err(err).Msgf("driver.Elevio.read cmd=%d write failed", in[0])
		return out, false
	}
	if _, err := io.ReadFull(e.conn, out[:]); err != nil {
		e.log.Warn().Err(err).Msgf("driver.Elevio.read cmd=%d read failed", in[0])
		return out, false
	}
	return out, true
}

func toByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
