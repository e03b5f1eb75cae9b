// Package keypad turns terminal key presses into elevator panel input for
// running a node by hand.
//
//	1-9       cabin command to that floor
//	u<digit>  hall call up at that floor
//	d<digit>  hall call down at that floor
//	o         toggle the obstruction switch
//	s         press the stop button
//	p         print car state and pending jobs
//	q, Ctrl-C quit
package keypad

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/danmuck/liftctl/internal/driver"
	"github.com/danmuck/liftctl/internal/elevator"
	"github.com/danmuck/liftctl/internal/jobs"
	"github.com/eiannone/keyboard"
	"github.com/rs/zerolog"
)

var ErrQuit = errors.New("keypad: quit requested")

type ActionKind int

const (
	ActCabin ActionKind = iota
	ActHallUp
	ActHallDown
	ActObstruction
	ActStop
	ActPrint
	ActQuit
)

type Action struct {
	Kind  ActionKind
	Floor int
}

// Parser folds single keys into actions. A direction prefix waits for the
// floor digit that follows it.
type Parser struct {
	floors int
	prefix rune
}

func NewParser(floors int) *Parser {
	return &Parser{floors: floors}
}

// Feed consumes one key. It reports false while a u/d prefix waits for its
// floor digit or when the key means nothing.
func (p *Parser) Feed(r rune, key keyboard.Key) (Action, bool) {
	switch key {
	case keyboard.KeyCtrlC:
		return Action{Kind: ActQuit}, true
	case keyboard.KeyEsc:
		p.prefix = 0
		return Action{}, false
	}

	if r >= '1' && r <= '9' {
		floor := int(r - '0')
		prefix := p.prefix
		p.prefix = 0
		if floor > p.floors {
			return Action{}, false
		}
		switch prefix {
		case 'u':
			return Action{Kind: ActHallUp, Floor: floor}, floor < p.floors
		case 'd':
			return Action{Kind: ActHallDown, Floor: floor}, floor > 1
		default:
			return Action{Kind: ActCabin, Floor: floor}, true
		}
	}

	p.prefix = 0
	switch r {
	case 'u', 'd':
		p.prefix = r
	case 'o':
		return Action{Kind: ActObstruction}, true
	case 's':
		return Action{Kind: ActStop}, true
	case 'p':
		return Action{Kind: ActPrint}, true
	case 'q':
		return Action{Kind: ActQuit}, true
	}
	return Action{}, false
}

// Target is the node surface the keypad drives.
type Target interface {
	Press(ev driver.ButtonEvent)
	ToggleObstruction() (on bool, ok bool)
	PressStop() bool
	State() elevator.State
	Jobs() []jobs.Entry
}

// Apply runs one action against target. Printing goes to out.
func Apply(a Action, target Target, out io.Writer) error {
	switch a.Kind {
	case ActCabin:
		target.Press(driver.ButtonEvent{Kind: driver.Cab, Floor: a.Floor})
	case ActHallUp:
		target.Press(driver.ButtonEvent{Kind: driver.HallUp, Floor: a.Floor})
	case ActHallDown:
		target.Press(driver.ButtonEvent{Kind: driver.HallDown, Floor: a.Floor})
	case ActObstruction:
		on, ok := target.ToggleObstruction()
		if !ok {
			fmt.Fprintln(out, "obstruction switch is hardware-only")
			return nil
		}
		fmt.Fprintf(out, "obstruction=%v\n", on)
	case ActStop:
		if !target.PressStop() {
			fmt.Fprintln(out, "stop button is hardware-only")
		}
	case ActPrint:
		Print(out, target.State(), target.Jobs())
	case ActQuit:
		return ErrQuit
	}
	return nil
}

// Print writes a one-line state summary followed by the pending jobs.
func Print(out io.Writer, s elevator.State, entries []jobs.Entry) {
	fmt.Fprintf(out, "floor=%d phase=%s dir=%s busy=%v door=%v obstruction=%v cabin=%v\n",
		s.Floor, s.Phase, s.Direction, s.Busy, s.DoorOpen, s.Obstruction, s.Cabin)
	now := time.Now()
	for _, e := range entries {
		kind := "hall"
		if e.Cabin {
			kind = "cabin"
		}
		fmt.Fprintf(out, "  %-5s target=%3d remaining=%-8s remote=%v taken=%v\n",
			kind, e.Target, e.Remaining(now).Round(time.Millisecond), e.Remote, e.Taken)
	}
}

// Run reads the terminal until ctx is done or quit is pressed, which
// returns ErrQuit.
func Run(ctx context.Context, floors int, target Target, out io.Writer, logger zerolog.Logger) error {
	keys, err := keyboard.GetKeys(16)
	if err != nil {
		return fmt.Errorf("keypad: open terminal: %w", err)
	}
	defer keyboard.Close()
	logger.Info().Msg("keypad.Run ready; digits=cabin u/d+digit=hall o=obstruction s=stop p=print q=quit")

	parser := NewParser(floors)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-keys:
			if !ok {
				return nil
			}
			if ev.Err != nil {
				logger.Warn().Err(ev.Err).Msg("keypad.Run read failed")
				continue
			}
			action, ok := parser.Feed(ev.Rune, ev.Key)
			if !ok {
				continue
			}
			logger.Debug().Msgf("keypad.Run action=%d floor=%d", action.Kind, action.Floor)
			if err := Apply(action, target, out); err != nil {
				return err
			}
		}
	}
}
