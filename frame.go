package cannode

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"
)

const (
	MaxStandardID = 0x7FF
	MaxExtendedID = 0x1FFFFFFF
	MaxDataLength = 8
)

type CANFrameType struct {
	Type int
}

var (
	Incoming = CANFrameType{Type: 0}
	Outgoing = CANFrameType{Type: 1}
)

func (t CANFrameType) String() string {
	switch t.Type {
	case 0:
		return "<i>"
	case 1:
		return "<o>"
	default:
		return "<?>"
	}
}

// Identifier is a CAN arbitration identifier, either an 11-bit standard
// value or a 29-bit extended value.
type Identifier struct {
	value    uint32
	extended bool
}

// NewStandardID returns an 11-bit identifier or an *IdentifierRangeError
// when v does not fit.
func NewStandardID(v uint16) (Identifier, error) {
	if v > MaxStandardID {
		return Identifier{}, &IdentifierRangeError{Value: uint32(v)}
	}
	return Identifier{value: uint32(v)}, nil
}

// NewExtendedID returns a 29-bit identifier or an *IdentifierRangeError
// when v does not fit.
func NewExtendedID(v uint32) (Identifier, error) {
	if v > MaxExtendedID {
		return Identifier{}, &IdentifierRangeError{Value: v, Extended: true}
	}
	return Identifier{value: v, extended: true}, nil
}

func (id Identifier) Value() uint32 {
	return id.value
}

func (id Identifier) Extended() bool {
	return id.extended
}

func (id Identifier) String() string {
	return strconv.FormatUint(uint64(id.value), 10)
}

// Frame is a classical CAN data frame. It is immutable once built.
type Frame struct {
	id        Identifier
	data      []byte
	frameType CANFrameType
}

// NewFrame copies data into a new frame. Payloads longer than eight bytes
// are rejected with ErrInvalidLength.
func NewFrame(id Identifier, data []byte, t CANFrameType) (*Frame, error) {
	if len(data) > MaxDataLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidLength, len(data))
	}
	b := make([]byte, len(data))
	copy(b, data)
	return &Frame{
		id:        id,
		data:      b,
		frameType: t,
	}, nil
}

func (f *Frame) Identifier() Identifier {
	return f.id
}

// Data returns a copy of the payload.
func (f *Frame) Data() []byte {
	out := make([]byte, len(f.data))
	copy(out, f.data)
	return out
}

func (f *Frame) Length() int {
	return len(f.data)
}

func (f *Frame) Type() CANFrameType {
	return f.frameType
}

var (
	yellow = color.New(color.FgHiBlue).SprintfFunc()
	red    = color.New(color.FgRed).SprintfFunc()
	green  = color.New(color.FgGreen).SprintfFunc()
)

func (f *Frame) idString() string {
	if f.id.extended {
		return fmt.Sprintf("0x%08X", f.id.value)
	}
	return fmt.Sprintf("0x%03X", f.id.value)
}

func (f *Frame) hexView() string {
	var hexView strings.Builder
	for i, b := range f.data {
		hexView.WriteString(fmt.Sprintf("%02X", b))
		if i != len(f.data)-1 {
			hexView.WriteString(" ")
		}
	}
	return fmt.Sprintf("%-23s", hexView.String())
}

func (f *Frame) binView() string {
	var binView strings.Builder
	for i, b := range f.data {
		binView.WriteString(fmt.Sprintf("%08b", b))
		if i != len(f.data)-1 {
			binView.WriteString(" ")
		}
	}
	return fmt.Sprintf("%-71s", binView.String())
}

func (f *Frame) String() string {
	var out strings.Builder
	out.WriteString(f.frameType.String() + " || ")
	out.WriteString(f.idString() + " || ")
	out.WriteString(strconv.Itoa(len(f.data)) + " || ")
	out.WriteString(f.hexView())
	out.WriteString(" || ")
	out.WriteString(f.binView())
	out.WriteString(" || ")
	out.WriteString(onlyPrintable(f.data))
	return out.String()
}

func (f *Frame) ColorString() string {
	var out strings.Builder
	out.WriteString(f.frameType.String() + " || ")
	out.WriteString(green("%s", f.idString()) + " || ")
	out.WriteString(strconv.Itoa(len(f.data)) + " || ")
	out.WriteString(f.hexView())
	out.WriteString(" || ")
	out.WriteString(red("%s", f.binView()))
	out.WriteString(" || ")
	out.WriteString(yellow("%s", onlyPrintable(f.data)))
	return out.String()
}

func onlyPrintable(data []byte) string {
	var out strings.Builder
	for _, b := range data {
		if b < 32 || b > 126 {
			out.WriteString("·")
		} else {
			out.WriteByte(b)
		}
	}
	return out.String()
}
