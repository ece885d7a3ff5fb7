// Package capture records the frames a node reads and sends as a CBOR
// sequence and reads such recordings back.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/golang/glog"
	"github.com/roffe/cannode"
)

type Record struct {
	Time      time.Time `cbor:"1,keyasint"`
	Direction int       `cbor:"2,keyasint"`
	ID        uint32    `cbor:"3,keyasint"`
	Extended  bool      `cbor:"4,keyasint,omitempty"`
	Data      []byte    `cbor:"5,keyasint"`
}

func NewRecord(t time.Time, f *cannode.Frame) Record {
	return Record{
		Time:      t,
		Direction: f.Type().Type,
		ID:        f.Identifier().Value(),
		Extended:  f.Identifier().Extended(),
		Data:      f.Data(),
	}
}

// Frame rebuilds the recorded frame.
func (r Record) Frame() (*cannode.Frame, error) {
	var (
		id  cannode.Identifier
		err error
	)
	if r.Extended {
		id, err = cannode.NewExtendedID(r.ID)
	} else {
		if r.ID > cannode.MaxStandardID {
			return nil, &cannode.IdentifierRangeError{Value: r.ID}
		}
		id, err = cannode.NewStandardID(uint16(r.ID))
	}
	if err != nil {
		return nil, err
	}
	return cannode.NewFrame(id, r.Data, cannode.CANFrameType{Type: r.Direction})
}

var encMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// Writer appends records to a CBOR sequence. It is safe for concurrent use.
type Writer struct {
	mu  sync.Mutex
	enc *cbor.Encoder
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{enc: encMode.NewEncoder(w)}
}

func (w *Writer) Write(r Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(r); err != nil {
		return fmt.Errorf("capture write: %w", err)
	}
	return nil
}

type Reader struct {
	dec *cbor.Decoder
}

func NewReader(r io.Reader) *Reader {
	return &Reader{dec: cbor.NewDecoder(r)}
}

// Next returns the next record, io.EOF at the clean end of the sequence.
func (r *Reader) Next() (Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("capture read: %w", err)
	}
	return rec, nil
}

// Recorder is a cannode.BusNode that passes everything through to the
// wrapped bus and records each frame read from or sent to it.
type Recorder struct {
	cannode.BusNode
	w   *Writer
	now func() time.Time
}

// Wrap records the traffic of bus into w. A failed capture write is logged
// and never fails the read or send it belongs to.
func Wrap(bus cannode.BusNode, w io.Writer) *Recorder {
	return &Recorder{
		BusNode: bus,
		w:       NewWriter(w),
		now:     time.Now,
	}
}

func (r *Recorder) ReadMessage(ctx context.Context) (*cannode.Frame, error) {
	f, err := r.BusNode.ReadMessage(ctx)
	if err == nil {
		r.record(f)
	}
	return f, err
}

func (r *Recorder) SendMessage(ctx context.Context, f *cannode.Frame) error {
	if err := r.BusNode.SendMessage(ctx, f); err != nil {
		return err
	}
	r.record(f)
	return nil
}

func (r *Recorder) record(f *cannode.Frame) {
	if err := r.w.Write(NewRecord(r.now(), f)); err != nil {
		glog.Error(err)
	}
}
