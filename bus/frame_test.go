package bus

import (
	"errors"
	"testing"

	"github.com/brutella/can"
)

func TestNewFrameValidation(t *testing.T) {
	tests := []struct {
		name     string
		id       uint32
		data     []byte
		err      error
		extended bool
	}{
		{"standard", 0x1DB, []byte{1, 2, 3}, nil, false},
		{"max standard", 0x7FF, nil, nil, false},
		{"inferred extended", 0x18FF50E5, make([]byte, 8), nil, true},
		{"too long", 0x100, make([]byte, 9), ErrInvalidLength, false},
		{"id too large", 0x20000000, nil, ErrInvalidID, false},
	}

	for _, tt := range tests {
		f, err := NewFrame(tt.id, tt.data)
		if !errors.Is(err, tt.err) {
			t.Errorf("%s: expected error %v, got %v", tt.name, tt.err, err)
			continue
		}
		if err != nil {
			continue
		}
		if f.ID() != tt.id || int(f.Len()) != len(tt.data) || f.Extended() != tt.extended {
			t.Errorf("%s: unexpected frame %v (extended=%v)", tt.name, f, f.Extended())
		}
	}

	if _, err := NewExtendedFrame(0x123, nil); err != nil {
		t.Errorf("extended frame with small id: %v", err)
	}
}

func TestFrameZeroPadding(t *testing.T) {
	data := []byte{0xAA, 0xBB}
	f := MustFrame(0x1D4, data)
	data[0] = 0

	b := f.Bytes()
	if b[0] != 0xAA || b[1] != 0xBB {
		t.Errorf("frame shares caller buffer: % X", b)
	}
	for i := 2; i < MaxDataLen; i++ {
		if b[i] != 0 {
			t.Errorf("byte %d: expected 0, got 0x%02X", i, b[i])
		}
	}

	d := f.Data()
	d[1] = 0
	if f.Bytes()[1] != 0xBB {
		t.Error("Data() must return a copy")
	}
}

func TestFrameFromCAN(t *testing.T) {
	cf := can.Frame{ID: 0x18FF50E5 | flagEFF, Length: 8, Data: [8]byte{0x0F, 0x90, 0, 0x70}}
	f := FrameFromCAN(cf)
	if !f.Extended() || f.ID() != 0x18FF50E5 || f.Len() != 8 {
		t.Errorf("extended conversion: got id=0x%X ext=%v len=%d", f.ID(), f.Extended(), f.Len())
	}
	if back := f.CAN(); back.ID != cf.ID || back.Data != cf.Data {
		t.Errorf("CAN() round trip: got %+v", back)
	}

	errFrame := FrameFromCAN(can.Frame{ID: flagERR | errClassBusOff, Length: 8})
	if !errFrame.IsError() || errFrame.ID() != errClassBusOff {
		t.Errorf("error frame: got id=0x%X err=%v", errFrame.ID(), errFrame.IsError())
	}

	short := FrameFromCAN(can.Frame{ID: 0x1DC, Length: 2, Data: [8]byte{1, 2, 3, 4}})
	if b := short.Bytes(); b[2] != 0 || b[3] != 0 {
		t.Errorf("bytes past length must be zero, got % X", b)
	}
}

func TestFrameString(t *testing.T) {
	tests := []struct {
		f        Frame
		expected string
	}{
		{MustFrame(0x1DB, []byte{0x90, 0x00}), "1DB#9000"},
		{MustFrame(0x18FF50E5, []byte{0x01}), "18FF50E5#01"},
		{MustFrame(0x35E, nil), "35E#"},
	}
	for _, tt := range tests {
		if got := tt.f.String(); got != tt.expected {
			t.Errorf("expected %q, got %q", tt.expected, got)
		}
	}
}
