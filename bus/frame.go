package bus

import (
	"errors"
	"fmt"
	"strings"

	"github.com/brutella/can"
)

const (
	MaxStandardID = 0x7FF
	MaxExtendedID = 0x1FFFFFFF
	MaxDataLen    = 8
)

// Raw SocketCAN identifier flag bits, as carried in can.Frame.ID.
const (
	flagEFF = 0x80000000
	flagRTR = 0x40000000
	flagERR = 0x20000000
)

var (
	ErrInvalidID     = errors.New("bus: invalid identifier")
	ErrInvalidLength = errors.New("bus: invalid data length")
)

// Frame is an immutable classic CAN frame. Bytes beyond Len are zero.
type Frame struct {
	id       uint32
	length   uint8
	data     [MaxDataLen]byte
	extended bool
	remote   bool
	err      bool
}

// NewFrame builds a frame for transmit. Identifiers above 0x7FF select the
// extended format.
func NewFrame(id uint32, data []byte) (Frame, error) {
	return newFrame(id, data, id > MaxStandardID)
}

// NewExtendedFrame builds a 29-bit frame regardless of the identifier value.
func NewExtendedFrame(id uint32, data []byte) (Frame, error) {
	return newFrame(id, data, true)
}

func newFrame(id uint32, data []byte, extended bool) (Frame, error) {
	if len(data) > MaxDataLen {
		return Frame{}, fmt.Errorf("%w: %d", ErrInvalidLength, len(data))
	}
	if (!extended && id > MaxStandardID) || id > MaxExtendedID {
		return Frame{}, fmt.Errorf("%w: 0x%X", ErrInvalidID, id)
	}
	f := Frame{id: id, length: uint8(len(data)), extended: extended}
	copy(f.data[:], data)
	return f, nil
}

// MustFrame is NewFrame for literals in tests and tables.
func MustFrame(id uint32, data []byte) Frame {
	f, err := NewFrame(id, data)
	if err != nil {
		panic(err)
	}
	return f
}

// FrameFromCAN converts a driver record, splitting the SocketCAN flag bits
// out of the identifier.
func FrameFromCAN(cf can.Frame) Frame {
	f := Frame{
		extended: cf.ID&flagEFF != 0,
		remote:   cf.ID&flagRTR != 0,
		err:      cf.ID&flagERR != 0,
	}
	if f.extended || f.err {
		f.id = cf.ID & MaxExtendedID
	} else {
		f.id = cf.ID & MaxStandardID
	}
	f.length = cf.Length
	if f.length > MaxDataLen {
		f.length = MaxDataLen
	}
	copy(f.data[:f.length], cf.Data[:f.length])
	return f
}

// CAN converts the frame to the driver representation.
func (f Frame) CAN() can.Frame {
	id := f.id
	if f.extended {
		id |= flagEFF
	}
	if f.remote {
		id |= flagRTR
	}
	return can.Frame{ID: id, Length: f.length, Data: f.data}
}

func (f Frame) ID() uint32     { return f.id }
func (f Frame) Len() uint8     { return f.length }
func (f Frame) Extended() bool { return f.extended }
func (f Frame) Remote() bool   { return f.remote }

// IsError reports a kernel error frame. Error frames never reach subscribers.
func (f Frame) IsError() bool { return f.err }

// Data returns a copy of the populated payload.
func (f Frame) Data() []byte {
	out := make([]byte, f.length)
	copy(out, f.data[:f.length])
	return out
}

// Bytes returns the full zero-padded payload.
func (f Frame) Bytes() [MaxDataLen]byte { return f.data }

// String renders the frame in candump compact form, e.g. "1DB#9000".
func (f Frame) String() string {
	var sb strings.Builder
	if f.extended {
		fmt.Fprintf(&sb, "%08X#", f.id)
	} else {
		fmt.Fprintf(&sb, "%03X#", f.id)
	}
	if f.remote {
		sb.WriteByte('R')
		return sb.String()
	}
	for _, b := range f.data[:f.length] {
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}
