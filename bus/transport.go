// Package bus provides the CAN frame type, transport drivers and the
// pub/sub dispatcher that sits between them and the frame codecs.
package bus

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrTimeout = errors.New("bus: timeout")
	ErrBusy    = errors.New("bus: transmit busy")
	ErrClosed  = errors.New("bus: closed")
	ErrNotOpen = errors.New("bus: not open")
)

// Supported bitrates. Nothing else is expected on either bus.
const (
	Bitrate250k = 250000
	Bitrate500k = 500000
)

// Config names the interface and bitrate of one bus. TxChannel and
// RxChannel select pins or sub-channels on hardware that has them and are
// ignored by SocketCAN.
type Config struct {
	Interface string
	Bitrate   int
	TxChannel int
	RxChannel int

	// ConfigureLink sets the bitrate and brings the interface up with
	// `ip link` before binding. It needs CAP_NET_ADMIN.
	ConfigureLink bool
}

func (c Config) Validate() error {
	if c.Interface == "" {
		return errors.New("bus: interface name is required")
	}
	if c.Bitrate != Bitrate250k && c.Bitrate != Bitrate500k {
		return fmt.Errorf("bus: unsupported bitrate %d", c.Bitrate)
	}
	return nil
}

type State int

const (
	StateActive State = iota
	StateWarning
	StateBusOff
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateWarning:
		return "warning"
	case StateBusOff:
		return "bus-off"
	}
	return "unknown"
}

type Status struct {
	State    State
	RxErrors int
	TxErrors int
}

// Transport is a thin wrapper over one CAN controller. Receive never blocks
// longer than its timeout.
type Transport interface {
	Open(cfg Config) error
	Transmit(f Frame, timeout time.Duration) error
	Receive(timeout time.Duration) (Frame, error)
	Status() Status
	Recover() error
	Close() error
}
