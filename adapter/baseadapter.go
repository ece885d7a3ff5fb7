package adapter

import (
	"context"
	"fmt"
	"sync"

	"github.com/golang/glog"
	"github.com/roffe/cannode"
)

// BaseAdapter holds the receive queue that backs the ready signal of every
// adapter. Background pumps deliver frames and faults into it and the owner
// drains it one entry at a time.
type BaseAdapter struct {
	name     string
	cfg      *cannode.AdapterConfig
	recvChan chan *cannode.Frame
	errChan  chan error

	closeOnce sync.Once
	closeChan chan struct{}
}

func NewBaseAdapter(name string, cfg *cannode.AdapterConfig) *BaseAdapter {
	if cfg == nil {
		cfg = &cannode.AdapterConfig{}
	}
	if cfg.OnMessage == nil {
		cfg.OnMessage = func(msg string) {
			glog.InfoDepth(1, msg)
		}
	}
	return &BaseAdapter{
		name:      name,
		cfg:       cfg,
		recvChan:  make(chan *cannode.Frame, 1024),
		errChan:   make(chan error, 10),
		closeChan: make(chan struct{}),
	}
}

// Name returns the adapter name.
func (base *BaseAdapter) Name() string {
	return base.name
}

// HasPendingMessage reports whether a frame or a receive fault is queued.
func (base *BaseAdapter) HasPendingMessage() bool {
	return len(base.errChan) > 0 || len(base.recvChan) > 0
}

// ReadMessage drains one queued fault or frame, faults first. It never
// blocks; with nothing queued it reports an underrun.
func (base *BaseAdapter) ReadMessage(ctx context.Context) (*cannode.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, &cannode.BusError{Op: "read", Err: err}
	}
	select {
	case err := <-base.errChan:
		return nil, &cannode.BusError{Op: "read", Err: err}
	default:
	}
	select {
	case frame := <-base.recvChan:
		return frame, nil
	case <-base.closeChan:
		return nil, &cannode.BusError{Op: "read", Err: cannode.ErrClosed}
	default:
		return nil, &cannode.BusError{Op: "read", Err: cannode.ErrNoMessage}
	}
}

func (base *BaseAdapter) Close() {
	base.closeOnce.Do(func() {
		close(base.closeChan)
	})
}

func (base *BaseAdapter) closed() bool {
	select {
	case <-base.closeChan:
		return true
	default:
		return false
	}
}

// deliver queues a received frame, turning an overflow into a fault.
func (base *BaseAdapter) deliver(frame *cannode.Frame) {
	select {
	case base.recvChan <- frame:
	default:
		base.fault(cannode.ErrDroppedFrame)
	}
}

// fault queues a receive fault for the owner to drain.
func (base *BaseAdapter) fault(err error) {
	select {
	case base.errChan <- err:
	default:
		glog.ErrorDepth(1, "adapter error channel full: ", err)
	}
}

func (base *BaseAdapter) debugf(format string, args ...any) {
	if base.cfg.Debug || bool(glog.V(2)) {
		glog.InfoDepth(1, fmt.Sprintf(format, args...))
	}
}
