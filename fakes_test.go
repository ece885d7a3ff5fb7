package cannode

import (
	"context"
	"errors"
	"time"
)

type printCall struct {
	Text  string
	Point Point
}

type recordingDisplay struct {
	calls   []printCall
	clears  int
	failing error
}

func (d *recordingDisplay) PrintNext(text string) error {
	return d.PrintAt(text, Point{})
}

func (d *recordingDisplay) PrintAt(text string, p Point) error {
	if d.failing != nil {
		return &DisplayError{Op: "flush", Err: d.failing}
	}
	d.calls = append(d.calls, printCall{Text: text, Point: p})
	return nil
}

func (d *recordingDisplay) Clear() error {
	d.clears++
	return nil
}

func (d *recordingDisplay) Close() error {
	return nil
}

func (d *recordingDisplay) last() printCall {
	if len(d.calls) == 0 {
		return printCall{}
	}
	return d.calls[len(d.calls)-1]
}

// scriptedBus serves queued frames and faults in order.
type scriptedBus struct {
	initErr  error
	queue    []any // *Frame or error
	sendErr  error
	sent     []*Frame
	reads    int
	initCfg  *BusConfig
	closed   bool
	pollHits int
}

func (b *scriptedBus) Name() string {
	return "scripted"
}

func (b *scriptedBus) Init(_ context.Context, cfg *BusConfig) error {
	b.initCfg = cfg
	if b.initErr != nil {
		return &BusError{Op: "init", Err: b.initErr}
	}
	return nil
}

func (b *scriptedBus) HasPendingMessage() bool {
	b.pollHits++
	return len(b.queue) > 0
}

func (b *scriptedBus) ReadMessage(_ context.Context) (*Frame, error) {
	b.reads++
	if len(b.queue) == 0 {
		return nil, &BusError{Op: "read", Err: ErrNoMessage}
	}
	next := b.queue[0]
	b.queue = b.queue[1:]
	switch v := next.(type) {
	case *Frame:
		return v, nil
	case error:
		return nil, &BusError{Op: "read", Err: v}
	}
	return nil, errors.New("bad script entry")
}

func (b *scriptedBus) SendMessage(_ context.Context, f *Frame) error {
	if b.sendErr != nil {
		return &BusError{Op: "send", Err: b.sendErr}
	}
	b.sent = append(b.sent, f)
	return nil
}

func (b *scriptedBus) Close() error {
	b.closed = true
	return nil
}

func (b *scriptedBus) push(entries ...any) {
	b.queue = append(b.queue, entries...)
}

type recordingSleeper struct {
	waits []time.Duration
}

func (s *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return ctx.Err()
}
