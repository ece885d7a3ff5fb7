package adapter

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/roffe/cannode"
	"golang.org/x/sync/errgroup"
)

const bell = 0x07

// ErrAdapterRejected is the SLCAN BELL reply to a command the adapter refused.
var ErrAdapterRejected = errors.New("adapter rejected command")

type SLCan struct {
	*BaseAdapter
	conn   Connection
	shut   atomic.Bool
	cancel context.CancelFunc
	errg   *errgroup.Group
	dial   func(context.Context, *cannode.AdapterConfig) (Connection, string, error)
}

func init() {
	if err := cannode.RegisterAdapter(&cannode.AdapterInfo{
		Name:               "SLCan",
		Description:        "Lawicel/Canable SLCAN adapter over serial or websocket",
		RequiresSerialPort: true,
		New:                NewSLCan,
	}); err != nil {
		panic(err)
	}
}

func NewSLCan(cfg *cannode.AdapterConfig) (cannode.BusNode, error) {
	return &SLCan{
		BaseAdapter: NewBaseAdapter("SLCan", cfg),
		dial:        OpenConnection,
	}, nil
}

var slcanRates = map[float64]string{
	10:   "S0",
	20:   "S1",
	50:   "S2",
	100:  "S3",
	125:  "S4",
	250:  "S5",
	500:  "S6",
	800:  "S7",
	1000: "S8",
}

func (sl *SLCan) Init(ctx context.Context, cfg *cannode.BusConfig) error {
	rate, ok := slcanRates[cfg.CANRate]
	if !ok {
		return &cannode.BusError{Op: "init", Err: fmt.Errorf("unsupported CAN rate: %.3f kbit/s", cfg.CANRate)}
	}
	var open string
	switch cfg.Mode {
	case cannode.ModeNormal:
		open = "O"
	case cannode.ModeListenOnly:
		open = "L"
	default:
		return &cannode.BusError{Op: "init", Err: fmt.Errorf("mode %s not supported by SLCAN", cfg.Mode)}
	}
	sl.debugf("SLCAN ignores oscillator %s and clkout %v", cfg.Clock, cfg.ClkOut)

	conn, desc, err := sl.dial(ctx, sl.cfg)
	if err != nil {
		return &cannode.BusError{Op: "init", Err: err}
	}
	sl.conn = conn
	sl.cfg.OnMessage("SLCAN " + desc)

	pctx, cancel := context.WithCancel(context.Background())
	sl.cancel = cancel
	sl.errg, pctx = errgroup.WithContext(pctx)
	sl.errg.Go(func() error {
		return sl.recvManager(pctx)
	})

	delay := 10 * time.Millisecond
	for _, cmd := range []string{"C", rate, open} {
		sl.debugf(">> %s", cmd)
		if _, err := sl.conn.Write([]byte(cmd + "\r")); err != nil {
			return &cannode.BusError{Op: "init", Err: fmt.Errorf("failed to write %q: %w", cmd, err)}
		}
		time.Sleep(delay)
	}
	return nil
}

func (sl *SLCan) SendMessage(ctx context.Context, frame *cannode.Frame) error {
	if err := ctx.Err(); err != nil {
		return &cannode.BusError{Op: "send", Err: err}
	}
	if sl.conn == nil || sl.shut.Load() {
		return &cannode.BusError{Op: "send", Err: cannode.ErrClosed}
	}
	buf := encodeSLCanFrame(frame)
	sl.debugf(">> %s", buf[:len(buf)-1])
	if _, err := sl.conn.Write(buf); err != nil {
		return &cannode.BusError{Op: "send", Err: fmt.Errorf("failed to write to com port: %w", err)}
	}
	return nil
}

func (sl *SLCan) Close() error {
	sl.BaseAdapter.Close()
	if sl.conn == nil || sl.shut.Swap(true) {
		return nil
	}
	sl.conn.Write([]byte("C\r"))
	time.Sleep(10 * time.Millisecond)
	sl.cancel()
	err := sl.conn.Close()
	sl.errg.Wait()
	return err
}

func (sl *SLCan) recvManager(ctx context.Context) error {
	buf := make([]byte, 0, 64)
	readBuf := make([]byte, 32)
	for ctx.Err() == nil {
		n, err := sl.conn.Read(readBuf)
		if err != nil {
			if !sl.shut.Load() {
				sl.fault(fmt.Errorf("failed to read com port: %w", err))
			}
			return err
		}
		if n == 0 {
			continue
		}
		buf = sl.parse(buf, readBuf[:n])
	}
	return nil
}

// parse processes the read data and returns any remaining partial data.
func (sl *SLCan) parse(buf, readBuf []byte) []byte {
	for _, b := range readBuf {
		switch b {
		case bell:
			sl.fault(ErrAdapterRejected)
			buf = buf[:0]
		case '\r':
			if len(buf) == 0 {
				continue
			}
			sl.debugf("<< %s", buf)
			switch buf[0] {
			case 't', 'T':
				f, err := decodeSLCanFrame(buf)
				if err != nil {
					sl.fault(fmt.Errorf("%w: %q", err, buf))
					break
				}
				sl.deliver(f)
			case 'z', 'Z':
				// transmit acknowledge
			default:
				sl.cfg.OnMessage("Unknown>> " + string(buf))
			}
			buf = buf[:0]
		default:
			buf = append(buf, b)
		}
	}
	return buf
}

// encodeSLCanFrame renders t<iii><l><dd..>\r or T<iiiiiiii><l><dd..>\r.
func encodeSLCanFrame(frame *cannode.Frame) []byte {
	id := frame.Identifier()
	data := frame.Data()
	buf := make([]byte, 0, 1+8+1+len(data)*2+1)
	if id.Extended() {
		buf = append(buf, 'T')
		v := id.Value() & cannode.MaxExtendedID
		for shift := 28; shift >= 0; shift -= 4 {
			buf = append(buf, nybbleToHex(byte(v>>uint(shift))&0xF))
		}
	} else {
		buf = append(buf, 't')
		v := id.Value() & cannode.MaxStandardID
		buf = append(buf, nybbleToHex(byte(v>>8)&0xF), nybbleToHex(byte(v>>4)&0xF), nybbleToHex(byte(v)&0xF))
	}
	buf = append(buf, nybbleToHex(byte(len(data))&0xF))
	for _, b := range data {
		buf = append(buf, nybbleToHex(b>>4), nybbleToHex(b&0xF))
	}
	return append(buf, '\r')
}

// helper converts a 0..15 value to its ASCII hex nibble
func nybbleToHex(n byte) byte {
	if n < 10 {
		return '0' + n
	}
	return 'A' + (n - 10)
}

func decodeSLCanFrame(buff []byte) (*cannode.Frame, error) {
	idLen := 3
	if buff[0] == 'T' {
		idLen = 8
	}
	if len(buff) < 1+idLen+1 {
		return nil, errors.New("short frame")
	}
	raw, err := strconv.ParseUint(string(buff[1:1+idLen]), 16, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to decode identifier: %w", err)
	}
	var id cannode.Identifier
	if idLen == 8 {
		id, err = cannode.NewExtendedID(uint32(raw))
	} else {
		id, err = cannode.NewStandardID(uint16(raw))
	}
	if err != nil {
		return nil, err
	}
	dataLen, err := strconv.ParseUint(string(buff[1+idLen]), 16, 8)
	if err != nil {
		return nil, fmt.Errorf("failed to decode data length: %w", err)
	}
	if dataLen > cannode.MaxDataLength {
		return nil, fmt.Errorf("invalid data length: %d", dataLen)
	}
	start := 2 + idLen
	end := start + int(dataLen)*2
	if len(buff) < end {
		return nil, errors.New("frame body truncated")
	}
	data, err := hex.DecodeString(string(buff[start:end]))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame body: %w", err)
	}
	return cannode.NewFrame(id, data, cannode.Incoming)
}
