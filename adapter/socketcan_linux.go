package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime"
	"strings"

	"github.com/roffe/cannode"
	"go.einride.tech/can"
	"go.einride.tech/can/pkg/candevice"
	"go.einride.tech/can/pkg/socketcan"
	"golang.org/x/sync/errgroup"
)

func init() {
	for _, dev := range FindDevices() {
		if err := cannode.RegisterAdapter(&cannode.AdapterInfo{
			Name:        "SocketCAN " + dev,
			Description: "Linux SocketCAN interface",
			New:         NewSocketCANFromDevName(dev),
		}); err != nil {
			panic(err)
		}
	}
}

type SocketCAN struct {
	*BaseAdapter
	d    *candevice.Device
	conn net.Conn
	tx   *socketcan.Transmitter
	rx   *socketcan.Receiver

	cancel context.CancelFunc
	errg   *errgroup.Group
}

func NewSocketCANFromDevName(dev string) func(cfg *cannode.AdapterConfig) (cannode.BusNode, error) {
	return func(cfg *cannode.AdapterConfig) (cannode.BusNode, error) {
		if cfg == nil {
			cfg = &cannode.AdapterConfig{}
		}
		cfg.Port = dev
		return NewSocketCAN(cfg)
	}
}

func NewSocketCAN(cfg *cannode.AdapterConfig) (cannode.BusNode, error) {
	return &SocketCAN{
		BaseAdapter: NewBaseAdapter("SocketCAN", cfg),
	}, nil
}

func (a *SocketCAN) Init(ctx context.Context, cfg *cannode.BusConfig) error {
	if cfg.Mode != cannode.ModeNormal {
		return &cannode.BusError{Op: "init", Err: fmt.Errorf("mode %s not supported by SocketCAN", cfg.Mode)}
	}
	a.debugf("SocketCAN ignores oscillator %s and clkout %v", cfg.Clock, cfg.ClkOut)

	var err error
	a.d, err = candevice.New(a.cfg.Port)
	if err != nil {
		return &cannode.BusError{Op: "init", Err: err}
	}
	// the bitrate can only be changed while the link is down
	if err := a.d.SetDown(); err != nil {
		a.debugf("set down %s: %v", a.cfg.Port, err)
	}
	if err := a.d.SetBitrate(uint32(cfg.CANRate * 1000)); err != nil {
		return &cannode.BusError{Op: "init", Err: fmt.Errorf("set bitrate: %w", err)}
	}
	if err := a.d.SetUp(); err != nil {
		return &cannode.BusError{Op: "init", Err: fmt.Errorf("set up: %w", err)}
	}

	a.conn, err = socketcan.DialContext(ctx, "can", a.cfg.Port)
	if err != nil {
		return &cannode.BusError{Op: "init", Err: err}
	}
	a.tx = socketcan.NewTransmitter(a.conn)
	a.rx = socketcan.NewReceiver(a.conn)
	a.cfg.OnMessage(fmt.Sprintf("SocketCAN %s @ %.0f kbit/s", a.cfg.Port, cfg.CANRate))

	pctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.errg, pctx = errgroup.WithContext(pctx)
	a.errg.Go(func() error {
		return a.recvManager(pctx)
	})
	return nil
}

func (a *SocketCAN) SendMessage(ctx context.Context, frame *cannode.Frame) error {
	if a.tx == nil || a.BaseAdapter.closed() {
		return &cannode.BusError{Op: "send", Err: cannode.ErrClosed}
	}
	id := frame.Identifier()
	f := can.Frame{
		ID:         id.Value(),
		Length:     uint8(frame.Length()),
		IsExtended: id.Extended(),
	}
	copy(f.Data[:], frame.Data())
	if err := a.tx.TransmitFrame(ctx, f); err != nil {
		return &cannode.BusError{Op: "send", Err: err}
	}
	return nil
}

func (a *SocketCAN) Close() error {
	if a.BaseAdapter.closed() {
		return nil
	}
	a.BaseAdapter.Close()
	if a.conn == nil {
		return nil
	}
	a.cancel()
	err := a.conn.Close()
	a.errg.Wait()
	if derr := a.d.SetDown(); derr != nil {
		err = errors.Join(err, derr)
	}
	return err
}

func (a *SocketCAN) recvManager(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	for a.rx.Receive() {
		if ctx.Err() != nil {
			return nil
		}
		if a.rx.HasErrorFrame() {
			a.fault(fmt.Errorf("error frame: %v", a.rx.ErrorFrame()))
			continue
		}
		f := a.rx.Frame()
		var (
			id  cannode.Identifier
			err error
		)
		if f.IsExtended {
			id, err = cannode.NewExtendedID(f.ID)
		} else {
			id, err = cannode.NewStandardID(uint16(f.ID))
		}
		if err != nil {
			a.fault(err)
			continue
		}
		frame, err := cannode.NewFrame(id, f.Data[:f.Length], cannode.Incoming)
		if err != nil {
			a.fault(err)
			continue
		}
		a.deliver(frame)
	}
	if err := a.rx.Err(); err != nil && ctx.Err() == nil {
		a.fault(err)
		return err
	}
	return nil
}

// FindDevices lists network interfaces that look like CAN devices.
func FindDevices() (dev []string) {
	iFaces, _ := net.Interfaces()
	for _, i := range iFaces {
		if strings.Contains(i.Name, "can") {
			dev = append(dev, i.Name)
		}
	}
	return
}
