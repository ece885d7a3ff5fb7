package adapter

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/roffe/cannode"
)

// peerID is the standard identifier the demo peer sends from.
const peerID = 0x42

var errListenOnly = errors.New("bus is listen-only")

func init() {
	if err := cannode.RegisterAdapter(&cannode.AdapterInfo{
		Name:        "Virtual",
		Description: "In-memory bus, set peer=1 for a demo peer",
		New:         NewVirtual,
	}); err != nil {
		panic(err)
	}
}

// Virtual is an in-memory bus. Frames put on it with Inject are read back by
// the owner and everything the owner sends is kept for Transmitted.
type Virtual struct {
	*BaseAdapter

	mu          sync.Mutex
	busCfg      cannode.BusConfig
	transmitted []*cannode.Frame
	sendErr     error
	initErr     error

	peerInterval time.Duration
	wg           sync.WaitGroup
}

func NewVirtual(cfg *cannode.AdapterConfig) (cannode.BusNode, error) {
	return &Virtual{
		BaseAdapter:  NewBaseAdapter("Virtual", cfg),
		peerInterval: time.Second,
	}, nil
}

func (v *Virtual) Init(ctx context.Context, cfg *cannode.BusConfig) error {
	v.mu.Lock()
	initErr := v.initErr
	if cfg != nil {
		v.busCfg = *cfg
	}
	v.mu.Unlock()
	if initErr != nil {
		return &cannode.BusError{Op: "init", Err: initErr}
	}
	v.debugf("virtual bus up: %s", v.busCfg.String())
	if v.BaseAdapter.cfg.AdditionalConfig["peer"] == "1" {
		v.wg.Add(1)
		go v.peer(ctx)
	}
	return nil
}

func (v *Virtual) SendMessage(ctx context.Context, frame *cannode.Frame) error {
	if err := ctx.Err(); err != nil {
		return &cannode.BusError{Op: "send", Err: err}
	}
	if v.closed() {
		return &cannode.BusError{Op: "send", Err: cannode.ErrClosed}
	}
	v.mu.Lock()
	if v.sendErr != nil {
		err := v.sendErr
		v.mu.Unlock()
		return &cannode.BusError{Op: "send", Err: err}
	}
	if v.busCfg.Mode == cannode.ModeListenOnly {
		v.mu.Unlock()
		return &cannode.BusError{Op: "send", Err: errListenOnly}
	}
	v.transmitted = append(v.transmitted, frame)
	loopback := v.busCfg.Mode == cannode.ModeLoopback
	v.mu.Unlock()

	if loopback {
		echo, err := cannode.NewFrame(frame.Identifier(), frame.Data(), cannode.Incoming)
		if err != nil {
			return &cannode.BusError{Op: "send", Err: err}
		}
		v.deliver(echo)
	}
	return nil
}

func (v *Virtual) Close() error {
	v.BaseAdapter.Close()
	v.wg.Wait()
	return nil
}

// Inject queues a frame as if it had been received from the wire.
func (v *Virtual) Inject(frame *cannode.Frame) {
	v.deliver(frame)
}

// InjectError queues a receive fault.
func (v *Virtual) InjectError(err error) {
	v.fault(err)
}

// FailSend makes every following send fail with err, nil restores sending.
func (v *Virtual) FailSend(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sendErr = err
}

// FailInit makes the next Init fail with err.
func (v *Virtual) FailInit(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.initErr = err
}

// Transmitted returns the frames sent so far.
func (v *Virtual) Transmitted() []*cannode.Frame {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]*cannode.Frame, len(v.transmitted))
	copy(out, v.transmitted)
	return out
}

// peer plays the other end of a ping-pong: every interval it sends the first
// byte of the node's last reply back to it.
func (v *Virtual) peer(ctx context.Context) {
	defer v.wg.Done()
	t := time.NewTicker(v.peerInterval)
	defer t.Stop()
	id, _ := cannode.NewStandardID(peerID)
	for {
		select {
		case <-ctx.Done():
			return
		case <-v.closeChan:
			return
		case <-t.C:
			var payload byte
			v.mu.Lock()
			if n := len(v.transmitted); n > 0 {
				if data := v.transmitted[n-1].Data(); len(data) > 0 {
					payload = data[0]
				}
			}
			v.mu.Unlock()
			frame, err := cannode.NewFrame(id, []byte{payload}, cannode.Incoming)
			if err != nil {
				v.fault(err)
				continue
			}
			v.debugf("peer >> %s", frame.String())
			v.deliver(frame)
		}
	}
}
