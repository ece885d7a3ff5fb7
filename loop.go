package cannode

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang/glog"
)

type State int

const (
	StateBooting State = iota
	StateIdle
	StateProcessing
)

func (s State) String() string {
	switch s {
	case StateBooting:
		return "booting"
	case StateIdle:
		return "idle"
	case StateProcessing:
		return "processing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ExhaustPolicy selects what happens once the reply counter no longer fits
// a standard identifier.
type ExhaustPolicy int

const (
	// ExhaustHalt stops the loop with an unrecoverable *IdentifierRangeError.
	ExhaustHalt ExhaustPolicy = iota
	// ExhaustWrap restarts the reply identifiers at 0.
	ExhaustWrap
)

const (
	DefaultPollInterval    = 100 * time.Millisecond
	DefaultBackoffInterval = 500 * time.Millisecond
	DefaultInitialCounter  = 200
)

type LoopConfig struct {
	PollInterval    time.Duration
	BackoffInterval time.Duration
	InitialCounter  uint16

	BootPosition   Point
	StatusPosition Point

	Bus BusConfig

	HaltOnSendError       bool
	OnIdentifierExhausted ExhaustPolicy

	// OnEvent receives every event the loop logs. It runs on the loop
	// goroutine and must not block.
	OnEvent func(Event)
}

func DefaultLoopConfig() *LoopConfig {
	return &LoopConfig{
		PollInterval:    DefaultPollInterval,
		BackoffInterval: DefaultBackoffInterval,
		InitialCounter:  DefaultInitialCounter,
		StatusPosition:  Point{X: 0, Y: 16},
		Bus: BusConfig{
			CANRate: 100,
			Mode:    ModeNormal,
			Clock:   Clock8MHz,
		},
	}
}

// ControlLoop owns a display, a bus node and the reply counter. It polls the
// bus for inbound frames, answers each one and mirrors status to the display.
// It is not safe for concurrent use.
type ControlLoop struct {
	display Display
	bus     BusNode
	cfg     LoopConfig

	counter uint16
	state   State
	stats   Stats

	sleep func(context.Context, time.Duration) error
}

func NewControlLoop(display Display, bus BusNode, cfg *LoopConfig) (*ControlLoop, error) {
	if display == nil {
		return nil, ErrNilDisplay
	}
	if bus == nil {
		return nil, ErrNilAdapter
	}
	if cfg == nil {
		cfg = DefaultLoopConfig()
	}
	c := *cfg
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.BackoffInterval <= 0 {
		c.BackoffInterval = DefaultBackoffInterval
	}
	return &ControlLoop{
		display: display,
		bus:     bus,
		cfg:     c,
		counter: c.InitialCounter,
		state:   StateBooting,
		sleep:   sleepContext,
	}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (l *ControlLoop) Counter() uint16 {
	return l.counter
}

func (l *ControlLoop) State() State {
	return l.state
}

func (l *ControlLoop) Stats() Stats {
	return l.stats
}

// Boot initializes the bus and shows the outcome on the boot line. A failed
// bus init still leaves the loop idle so the failure stays visible. Only a
// failed display write is returned, as an unrecoverable *StartupError.
func (l *ControlLoop) Boot(ctx context.Context) error {
	l.state = StateBooting
	text := "Start bus"
	if err := l.bus.Init(ctx, &l.cfg.Bus); err != nil {
		l.emit(EventTypeError, "bus init failed", err)
		text = fmt.Sprintf("Error bus: %v", err)
	} else {
		l.emit(EventTypeInfo, fmt.Sprintf("%s started: %s", l.bus.Name(), l.cfg.Bus), nil)
	}
	if err := l.show(text, l.cfg.BootPosition); err != nil {
		l.stats.DisplayErrors++
		return Unrecoverable(&StartupError{Component: "display", Err: err})
	}
	l.state = StateIdle
	return nil
}

// Step runs one iteration: at most one frame is read and at most one reply
// is sent, followed by exactly one wait. The wait is the poll interval, or
// the backoff interval after a bus failure. Step only returns context errors
// and unrecoverable errors.
func (l *ControlLoop) Step(ctx context.Context) error {
	if l.state == StateBooting {
		return errors.New("control loop not booted")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	wait := l.cfg.PollInterval
	if l.bus.HasPendingMessage() {
		l.state = StateProcessing
		var err error
		wait, err = l.process(ctx)
		l.state = StateIdle
		if err != nil {
			return err
		}
	}
	return l.sleep(ctx, wait)
}

// Run boots the loop and steps until ctx is done or a step fails
// unrecoverably.
func (l *ControlLoop) Run(ctx context.Context) error {
	if err := l.Boot(ctx); err != nil {
		return err
	}
	for {
		if err := l.Step(ctx); err != nil {
			return err
		}
	}
}

// Close releases the display and the bus.
func (l *ControlLoop) Close() error {
	return errors.Join(l.bus.Close(), l.display.Close())
}

func (l *ControlLoop) process(ctx context.Context) (time.Duration, error) {
	frame, err := l.bus.ReadMessage(ctx)
	if err != nil {
		l.stats.ReadErrors++
		l.fail("Error receive", err)
		return l.cfg.BackoffInterval, nil
	}
	l.stats.Received++

	status := fmt.Sprintf("Got message id: %s, content: %v", frame.Identifier(), frame.Data())
	l.emit(EventTypeInfo, status, nil)
	l.status(status)

	id, err := l.replyIdentifier()
	if err != nil {
		return 0, Unrecoverable(err)
	}
	reply, err := NewFrame(id, ReplyPayload(frame.Data()), Outgoing)
	if err != nil {
		return 0, Unrecoverable(err)
	}

	if err := l.bus.SendMessage(ctx, reply); err != nil {
		l.stats.SendErrors++
		l.fail("Error bus send", err)
		if l.cfg.HaltOnSendError {
			return 0, Unrecoverable(err)
		}
		return l.cfg.BackoffInterval, nil
	}
	l.stats.Sent++
	l.counter = uint16(id.Value()) + 1
	return l.cfg.PollInterval, nil
}

// replyIdentifier picks the identifier for the next reply. It never moves
// the counter, that only happens once the reply is on the bus.
func (l *ControlLoop) replyIdentifier() (Identifier, error) {
	id, err := NewStandardID(l.counter)
	if err == nil {
		return id, nil
	}
	if l.cfg.OnIdentifierExhausted != ExhaustWrap {
		l.emit(EventTypeError, "reply identifier exhausted", err)
		return Identifier{}, err
	}
	l.emit(EventTypeWarning, fmt.Sprintf("reply identifier %d exhausted, wrapping to 0", l.counter), nil)
	return NewStandardID(0)
}

// ReplyPayload is the answer to an inbound payload: its first byte plus one,
// or a single 1 for an empty payload.
func ReplyPayload(data []byte) []byte {
	if len(data) == 0 {
		return []byte{1}
	}
	return []byte{data[0] + 1}
}

func (l *ControlLoop) fail(prefix string, err error) {
	l.emit(EventTypeError, prefix, err)
	l.status(fmt.Sprintf("%s: %v", prefix, err))
}

// status renders text on the status line. Failures are logged and swallowed.
func (l *ControlLoop) status(text string) {
	if err := l.show(text, l.cfg.StatusPosition); err != nil {
		l.stats.DisplayErrors++
		l.emit(EventTypeError, "status render failed", err)
	}
}

func (l *ControlLoop) show(text string, p Point) error {
	if p == (Point{}) {
		return l.display.PrintNext(text)
	}
	return l.display.PrintAt(text, p)
}

func (l *ControlLoop) emit(t EventType, details string, err error) {
	switch t {
	case EventTypeError:
		glog.ErrorDepth(2, details+": ", err)
	case EventTypeWarning:
		glog.WarningDepth(2, details)
	case EventTypeDebug:
		glog.V(2).Info(details)
	default:
		glog.InfoDepth(2, details)
	}
	if l.cfg.OnEvent != nil {
		l.cfg.OnEvent(Event{Type: t, Details: details, Err: err})
	}
}
