package cannode

import (
	"context"
	"fmt"
)

type Mode int

const (
	ModeNormal Mode = iota
	ModeListenOnly
	ModeLoopback
)

func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeListenOnly:
		return "listen-only"
	case ModeLoopback:
		return "loopback"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode is the inverse of Mode.String.
func ParseMode(s string) (Mode, error) {
	for _, m := range []Mode{ModeNormal, ModeListenOnly, ModeLoopback} {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown mode %q", s)
}

// Clock is the transceiver oscillator frequency.
type Clock int

const (
	Clock8MHz  Clock = 8
	Clock16MHz Clock = 16
	Clock20MHz Clock = 20
)

func (c Clock) String() string {
	return fmt.Sprintf("%dMHz", int(c))
}

// BusConfig is the one-time transceiver configuration applied by Init.
type BusConfig struct {
	CANRate float64 // kbit/s
	Mode    Mode
	Clock   Clock
	ClkOut  bool
}

func (c BusConfig) String() string {
	return fmt.Sprintf("%.3f kbit/s, %s, %s, clkout: %v", c.CANRate, c.Mode, c.Clock, c.ClkOut)
}

// BusNode is a CAN transceiver offering message level receive and send.
// It has a single owner; all methods are synchronous.
type BusNode interface {
	Name() string
	// Init configures the transceiver. It is called once at startup.
	Init(ctx context.Context, cfg *BusConfig) error
	// HasPendingMessage reports the ready signal without blocking.
	HasPendingMessage() bool
	// ReadMessage drains exactly one pending frame or receive fault.
	ReadMessage(ctx context.Context) (*Frame, error)
	// SendMessage transmits one frame.
	SendMessage(ctx context.Context, frame *Frame) error
	Close() error
}
