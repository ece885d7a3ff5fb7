package cannode

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustFrame(t *testing.T, id uint16, data ...byte) *Frame {
	t.Helper()
	sid, err := NewStandardID(id)
	require.NoError(t, err)
	f, err := NewFrame(sid, data, Incoming)
	require.NoError(t, err)
	return f
}

func newTestLoop(t *testing.T, bus *scriptedBus, cfg *LoopConfig) (*ControlLoop, *recordingDisplay, *recordingSleeper) {
	t.Helper()
	display := &recordingDisplay{}
	sleeper := &recordingSleeper{}
	l, err := NewControlLoop(display, bus, cfg)
	require.NoError(t, err)
	l.sleep = sleeper.sleep
	return l, display, sleeper
}

func bootedLoop(t *testing.T, bus *scriptedBus, cfg *LoopConfig) (*ControlLoop, *recordingDisplay, *recordingSleeper) {
	t.Helper()
	l, display, sleeper := newTestLoop(t, bus, cfg)
	require.NoError(t, l.Boot(context.Background()))
	return l, display, sleeper
}

func TestNewControlLoopRejectsNil(t *testing.T) {
	_, err := NewControlLoop(nil, &scriptedBus{}, nil)
	assert.ErrorIs(t, err, ErrNilDisplay)
	_, err = NewControlLoop(&recordingDisplay{}, nil, nil)
	assert.ErrorIs(t, err, ErrNilAdapter)
}

func TestNewControlLoopDefaults(t *testing.T) {
	l, _, _ := newTestLoop(t, &scriptedBus{}, &LoopConfig{})
	assert.Equal(t, DefaultPollInterval, l.cfg.PollInterval)
	assert.Equal(t, DefaultBackoffInterval, l.cfg.BackoffInterval)
	assert.Equal(t, StateBooting, l.State())

	l, _, _ = newTestLoop(t, &scriptedBus{}, nil)
	assert.Equal(t, uint16(DefaultInitialCounter), l.Counter())
	assert.Equal(t, Point{X: 0, Y: 16}, l.cfg.StatusPosition)
}

func TestBootStartBus(t *testing.T) {
	bus := &scriptedBus{}
	l, display, sleeper := bootedLoop(t, bus, nil)

	assert.Equal(t, StateIdle, l.State())
	require.NotNil(t, bus.initCfg)
	assert.Equal(t, 100.0, bus.initCfg.CANRate)
	assert.Equal(t, ModeNormal, bus.initCfg.Mode)
	assert.Equal(t, Clock8MHz, bus.initCfg.Clock)
	assert.False(t, bus.initCfg.ClkOut)
	assert.Equal(t, []printCall{{Text: "Start bus", Point: Point{}}}, display.calls)

	// no frames: status line stays untouched
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Step(context.Background()))
	}
	assert.Len(t, display.calls, 1)
	assert.Equal(t, []time.Duration{DefaultPollInterval, DefaultPollInterval, DefaultPollInterval}, sleeper.waits)
}

func TestBootBusInitFailureKeepsRunning(t *testing.T) {
	bus := &scriptedBus{initErr: errors.New("no response")}
	l, display, sleeper := bootedLoop(t, bus, nil)

	assert.Equal(t, StateIdle, l.State())
	assert.Equal(t, "Error bus: bus init: no response", display.last().Text)

	require.NoError(t, l.Step(context.Background()))
	assert.Equal(t, []time.Duration{DefaultPollInterval}, sleeper.waits)
}

func TestBootDisplayFailureIsStartupError(t *testing.T) {
	bus := &scriptedBus{}
	l, display, _ := newTestLoop(t, bus, nil)
	display.failing = errors.New("i2c nack")

	err := l.Boot(context.Background())
	require.Error(t, err)
	assert.False(t, IsRecoverable(err))
	var se *StartupError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "display", se.Component)
	var de *DisplayError
	assert.True(t, errors.As(err, &de))
	assert.Equal(t, StateBooting, l.State())
}

func TestStepBeforeBoot(t *testing.T) {
	l, _, _ := newTestLoop(t, &scriptedBus{}, nil)
	assert.Error(t, l.Step(context.Background()))
}

func TestStepNoPendingNeverReads(t *testing.T) {
	bus := &scriptedBus{}
	l, _, sleeper := bootedLoop(t, bus, nil)

	require.NoError(t, l.Step(context.Background()))
	assert.Equal(t, 0, bus.reads)
	assert.Equal(t, 1, bus.pollHits)
	assert.Equal(t, []time.Duration{DefaultPollInterval}, sleeper.waits)
}

func TestStepRepliesToFrame(t *testing.T) {
	bus := &scriptedBus{}
	l, display, sleeper := bootedLoop(t, bus, nil)
	require.Equal(t, uint16(200), l.Counter())

	bus.push(mustFrame(t, 42, 5))
	require.NoError(t, l.Step(context.Background()))

	assert.Equal(t, printCall{Text: "Got message id: 42, content: [5]", Point: Point{X: 0, Y: 16}}, display.last())
	require.Len(t, bus.sent, 1)
	reply := bus.sent[0]
	assert.Equal(t, uint32(200), reply.Identifier().Value())
	assert.False(t, reply.Identifier().Extended())
	assert.Equal(t, []byte{6}, reply.Data())
	assert.Equal(t, Outgoing, reply.Type())
	assert.Equal(t, uint16(201), l.Counter())
	assert.Equal(t, []time.Duration{DefaultPollInterval}, sleeper.waits)
	assert.Equal(t, StateIdle, l.State())
	assert.Equal(t, Stats{Received: 1, Sent: 1}, l.Stats())
}

func TestStepEmptyPayload(t *testing.T) {
	bus := &scriptedBus{}
	l, display, _ := bootedLoop(t, bus, nil)

	bus.push(mustFrame(t, 7))
	require.NoError(t, l.Step(context.Background()))

	assert.Equal(t, "Got message id: 7, content: []", display.last().Text)
	require.Len(t, bus.sent, 1)
	assert.Equal(t, []byte{1}, bus.sent[0].Data())
}

func TestStepExtendedInbound(t *testing.T) {
	bus := &scriptedBus{}
	l, display, _ := bootedLoop(t, bus, nil)

	id, err := NewExtendedID(0x18DAF110)
	require.NoError(t, err)
	f, err := NewFrame(id, []byte{0xFF, 1, 2}, Incoming)
	require.NoError(t, err)
	bus.push(f)
	require.NoError(t, l.Step(context.Background()))

	assert.Equal(t, "Got message id: 417001744, content: [255 1 2]", display.last().Text)
	require.Len(t, bus.sent, 1)
	assert.False(t, bus.sent[0].Identifier().Extended())
	assert.Equal(t, []byte{0}, bus.sent[0].Data())
}

func TestReplyPayload(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want []byte
	}{
		{name: "empty", in: nil, want: []byte{1}},
		{name: "zero", in: []byte{0}, want: []byte{1}},
		{name: "five", in: []byte{5}, want: []byte{6}},
		{name: "wraps", in: []byte{255}, want: []byte{0}},
		{name: "first byte only", in: []byte{9, 1, 2, 3, 4, 5, 6, 7}, want: []byte{10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ReplyPayload(tt.in))
		})
	}
	for b := 0; b < 256; b++ {
		assert.Equal(t, []byte{byte((b + 1) % 256)}, ReplyPayload([]byte{byte(b), 0xAA}))
	}
}

func TestStepReadFailureBacksOff(t *testing.T) {
	bus := &scriptedBus{}
	l, display, sleeper := bootedLoop(t, bus, nil)

	bus.push(errors.New("bus-off"))
	require.NoError(t, l.Step(context.Background()))

	assert.Equal(t, printCall{Text: "Error receive: bus read: bus-off", Point: Point{X: 0, Y: 16}}, display.last())
	assert.Equal(t, uint16(200), l.Counter())
	assert.Empty(t, bus.sent)
	assert.Equal(t, []time.Duration{DefaultBackoffInterval}, sleeper.waits)
	assert.Equal(t, uint64(1), l.Stats().ReadErrors)

	// the next poll happens only after the backoff
	bus.push(mustFrame(t, 1, 1))
	require.NoError(t, l.Step(context.Background()))
	assert.Equal(t, []time.Duration{DefaultBackoffInterval, DefaultPollInterval}, sleeper.waits)
	assert.Equal(t, uint16(201), l.Counter())
}

func TestStepSendFailureRecovers(t *testing.T) {
	bus := &scriptedBus{sendErr: errors.New("arbitration lost")}
	l, display, sleeper := bootedLoop(t, bus, nil)

	bus.push(mustFrame(t, 42, 5))
	require.NoError(t, l.Step(context.Background()))

	assert.Equal(t, "Error bus send: bus send: arbitration lost", display.last().Text)
	assert.Equal(t, uint16(200), l.Counter())
	assert.Equal(t, []time.Duration{DefaultBackoffInterval}, sleeper.waits)
	assert.Equal(t, uint64(1), l.Stats().SendErrors)

	bus.sendErr = nil
	bus.push(mustFrame(t, 42, 5))
	require.NoError(t, l.Step(context.Background()))
	require.Len(t, bus.sent, 1)
	assert.Equal(t, uint32(200), bus.sent[0].Identifier().Value())
	assert.Equal(t, uint16(201), l.Counter())
}

func TestStepSendFailureHalts(t *testing.T) {
	cfg := DefaultLoopConfig()
	cfg.HaltOnSendError = true
	bus := &scriptedBus{sendErr: errors.New("tx timeout")}
	l, display, sleeper := bootedLoop(t, bus, cfg)

	bus.push(mustFrame(t, 42, 5))
	err := l.Step(context.Background())
	require.Error(t, err)
	assert.False(t, IsRecoverable(err))
	var be *BusError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, "send", be.Op)
	assert.Equal(t, uint16(200), l.Counter())
	assert.Equal(t, "Error bus send: bus send: tx timeout", display.last().Text)
	assert.Empty(t, sleeper.waits)
}

func TestStepDisplayFailureSwallowed(t *testing.T) {
	var events []Event
	cfg := DefaultLoopConfig()
	cfg.OnEvent = func(e Event) { events = append(events, e) }
	bus := &scriptedBus{}
	l, display, _ := bootedLoop(t, bus, cfg)
	display.failing = errors.New("flush failed")

	bus.push(mustFrame(t, 42, 5))
	require.NoError(t, l.Step(context.Background()))

	require.Len(t, bus.sent, 1)
	assert.Equal(t, uint16(201), l.Counter())
	assert.Equal(t, uint64(1), l.Stats().DisplayErrors)

	var displayErrs int
	for _, e := range events {
		var de *DisplayError
		if e.Type == EventTypeError && errors.As(e.Err, &de) {
			displayErrs++
		}
	}
	assert.Equal(t, 1, displayErrs)
}

func TestIdentifierExhaustionHalts(t *testing.T) {
	cfg := DefaultLoopConfig()
	cfg.InitialCounter = MaxStandardID
	bus := &scriptedBus{}
	l, _, _ := bootedLoop(t, bus, cfg)

	bus.push(mustFrame(t, 1, 1), mustFrame(t, 1, 1))
	require.NoError(t, l.Step(context.Background()))
	require.Len(t, bus.sent, 1)
	assert.Equal(t, uint32(MaxStandardID), bus.sent[0].Identifier().Value())

	err := l.Step(context.Background())
	require.Error(t, err)
	assert.False(t, IsRecoverable(err))
	var re *IdentifierRangeError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, uint32(MaxStandardID+1), re.Value)
	assert.Len(t, bus.sent, 1)
	assert.Equal(t, uint16(MaxStandardID+1), l.Counter())
}

func TestIdentifierExhaustionWraps(t *testing.T) {
	cfg := DefaultLoopConfig()
	cfg.InitialCounter = MaxStandardID
	cfg.OnIdentifierExhausted = ExhaustWrap
	bus := &scriptedBus{}
	l, _, _ := bootedLoop(t, bus, cfg)

	bus.push(mustFrame(t, 1, 1), mustFrame(t, 1, 1))
	require.NoError(t, l.Step(context.Background()))
	require.NoError(t, l.Step(context.Background()))
	require.Len(t, bus.sent, 2)
	assert.Equal(t, uint32(MaxStandardID), bus.sent[0].Identifier().Value())
	assert.Equal(t, uint32(0), bus.sent[1].Identifier().Value())
	assert.Equal(t, uint16(1), l.Counter())
}

func TestIdentifierWrapFailedSendKeepsCounter(t *testing.T) {
	cfg := DefaultLoopConfig()
	cfg.InitialCounter = MaxStandardID + 1
	cfg.OnIdentifierExhausted = ExhaustWrap
	bus := &scriptedBus{sendErr: errors.New("arbitration lost")}
	l, _, sleeper := bootedLoop(t, bus, cfg)

	bus.push(mustFrame(t, 1, 1))
	require.NoError(t, l.Step(context.Background()))
	assert.Equal(t, uint16(MaxStandardID+1), l.Counter())
	assert.Equal(t, []time.Duration{DefaultBackoffInterval}, sleeper.waits)

	bus.sendErr = nil
	bus.push(mustFrame(t, 1, 1))
	require.NoError(t, l.Step(context.Background()))
	require.Len(t, bus.sent, 1)
	assert.Equal(t, uint32(0), bus.sent[0].Identifier().Value())
	assert.Equal(t, uint16(1), l.Counter())
}

func TestDefaultStartHaltsAfterRemainingIdentifiers(t *testing.T) {
	bus := &scriptedBus{}
	l, _, _ := bootedLoop(t, bus, nil)

	remaining := MaxStandardID + 1 - DefaultInitialCounter
	for i := 0; i < remaining; i++ {
		bus.push(mustFrame(t, 1, 1))
		require.NoError(t, l.Step(context.Background()))
	}
	require.Len(t, bus.sent, 1848)
	assert.Equal(t, uint32(MaxStandardID), bus.sent[len(bus.sent)-1].Identifier().Value())

	bus.push(mustFrame(t, 1, 1))
	err := l.Step(context.Background())
	var re *IdentifierRangeError
	require.True(t, errors.As(err, &re))
	assert.Len(t, bus.sent, 1848)
}

func TestReplyIdentifiersStayStandard(t *testing.T) {
	cfg := DefaultLoopConfig()
	cfg.InitialCounter = 0
	bus := &scriptedBus{}
	l, _, _ := bootedLoop(t, bus, cfg)

	for i := 0; i <= MaxStandardID; i++ {
		before := l.Counter()
		bus.push(mustFrame(t, 1, byte(i)))
		require.NoError(t, l.Step(context.Background()))
		require.Equal(t, before+1, l.Counter())
	}
	require.Len(t, bus.sent, MaxStandardID+1)
	for i, f := range bus.sent {
		require.Equal(t, uint32(i), f.Identifier().Value())
		require.LessOrEqual(t, f.Identifier().Value(), uint32(MaxStandardID))
	}
}

func TestEvents(t *testing.T) {
	var events []Event
	cfg := DefaultLoopConfig()
	cfg.OnEvent = func(e Event) { events = append(events, e) }
	bus := &scriptedBus{}
	l, _, _ := bootedLoop(t, bus, cfg)

	bus.push(mustFrame(t, 42, 5), errors.New("underrun"))
	require.NoError(t, l.Step(context.Background()))
	require.NoError(t, l.Step(context.Background()))

	require.Len(t, events, 3)
	assert.Equal(t, EventTypeInfo, events[0].Type)
	assert.Contains(t, events[0].Details, "scripted started")
	assert.Equal(t, Event{Type: EventTypeInfo, Details: "Got message id: 42, content: [5]"}, events[1])
	assert.Equal(t, EventTypeError, events[2].Type)
	assert.Equal(t, "Error receive", events[2].Details)
	assert.ErrorContains(t, events[2].Err, "underrun")
}

func TestRunStopsOnCancel(t *testing.T) {
	bus := &scriptedBus{}
	bus.push(mustFrame(t, 42, 5), mustFrame(t, 43, 6))
	display := &recordingDisplay{}
	l, err := NewControlLoop(display, bus, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var waits int
	l.sleep = func(ctx context.Context, d time.Duration) error {
		waits++
		if waits == 3 {
			cancel()
		}
		return ctx.Err()
	}

	err = l.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, bus.sent, 2)
	assert.Equal(t, uint16(202), l.Counter())
	assert.Equal(t, "Start bus", display.calls[0].Text)
}

func TestRunReturnsStartupError(t *testing.T) {
	display := &recordingDisplay{failing: errors.New("gone")}
	l, err := NewControlLoop(display, &scriptedBus{}, nil)
	require.NoError(t, err)

	err = l.Run(context.Background())
	var se *StartupError
	assert.True(t, errors.As(err, &se))
}

func TestClose(t *testing.T) {
	bus := &scriptedBus{}
	l, _, _ := newTestLoop(t, bus, nil)
	require.NoError(t, l.Close())
	assert.True(t, bus.closed)
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))
}
