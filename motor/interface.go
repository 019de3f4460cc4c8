package motor

import (
	"fmt"

	"leaf-can-gateway/bus"
	"leaf-can-gateway/codec"
)

// Type represents the drive unit fitted to the vehicle
type Type int

const (
	TypeNissan Type = iota
	TypeRoam
)

func (t Type) String() string {
	switch t {
	case TypeNissan:
		return "nissan"
	case TypeRoam:
		return "roam"
	default:
		return "unknown"
	}
}

// SubscribedIDs lists the vehicle bus frames a monitor of this type
// subscribes to.
func (t Type) SubscribedIDs() []uint32 {
	switch t {
	case TypeNissan:
		return []uint32{codec.IDVehicleSpeed, codec.IDMotorRPM, codec.IDInverterTelemetry}
	case TypeRoam:
		return codec.Roam().IDs()
	}
	return nil
}

func ParseType(s string) (Type, error) {
	switch s {
	case "nissan", "":
		return TypeNissan, nil
	case "roam":
		return TypeRoam, nil
	}
	return 0, fmt.Errorf("unknown motor type %q", s)
}

// State is a point-in-time copy of everything a monitor knows.
type State struct {
	SpeedKPH     float64
	RPM          int
	Direction    codec.Direction
	Voltage      float64 // DC bus, V
	Current      float64 // DC, A
	InverterTemp float64 // °C
	MotorTemp    float64 // °C
	Torque       float64 // Nm
	FaultCode    uint32
}

// Monitor defines the interface that all motor controller monitors must satisfy
type Monitor interface {
	// Attach subscribes the monitor to its frames on the vehicle bus
	Attach(d *bus.Dispatcher) error

	// GetSpeed returns the smoothed vehicle speed in km/h
	GetSpeed() float64

	// GetRPM returns the motor RPM, negative in reverse
	GetRPM() int

	// GetVoltage returns the DC bus voltage in V
	GetVoltage() float64

	// GetCurrent returns the DC current in A
	GetCurrent() float64

	GetInverterTemperature() float64
	GetMotorTemperature() float64

	// GetTorque returns the delivered torque in Nm, zero if not reported
	GetTorque() float64

	// GetFaultCode returns the raw controller fault bits
	GetFaultCode() uint32

	// GetActiveFaults returns a map of currently active faults
	GetActiveFaults() map[Fault]bool

	// State returns all readings at once
	State() State

	// IsDataStale reports whether no frame arrived within DataTimeout
	IsDataStale() bool

	Cleanup()
}

func NewMonitor(t Type, logger bus.Logger, clock bus.Clock) (Monitor, error) {
	if logger == nil {
		logger = bus.NopLogger{}
	}
	if clock == nil {
		clock = bus.NewMonotonicClock()
	}
	switch t {
	case TypeNissan:
		logger.Info("Creating Nissan EM57 motor monitor")
		return NewNissanMonitor(logger, clock), nil
	case TypeRoam:
		logger.Info("Creating ROAM RM100 motor monitor")
		return NewRoamMonitor(logger, clock), nil
	default:
		return nil, fmt.Errorf("unknown motor type: %v", t)
	}
}
