// Package vehicle follows the auxiliary nodes sharing the vehicle bus: the
// GPS node, body sensors, the dashboard and the on-board charger.
package vehicle

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"leaf-can-gateway/bus"
	"leaf-can-gateway/codec"
)

// DashTimeout is how long the dashboard may miss its heartbeat before it
// is reported offline.
const DashTimeout = 3 * time.Second

// Gauges addressed by GaugeCommand.
const (
	GaugeSOC   uint8 = 0
	GaugePower uint8 = 1
)

type State struct {
	Position    codec.GPSPosition
	Velocity    codec.GPSVelocity
	GPSTime     time.Time
	BodyTemps   codec.BodyTemps
	Body        codec.BodyVoltage
	Dash        codec.DashStatus
	DashOnline  bool
	Charger     codec.ChargerBroadcast
	ChargerSeen bool
}

// HasFix reports whether the GPS node has a position fix.
func (s State) HasFix() bool { return s.Position.Fix > 0 }

// SubscribedIDs lists the frames the monitor folds. Gauge commands are
// outbound only.
func SubscribedIDs() []uint32 {
	return []uint32{
		codec.IDGPSPosition, codec.IDGPSVelocity, codec.IDGPSTime,
		codec.IDBodyTemps, codec.IDBodyVoltage, codec.IDDashStatus,
		codec.IDChargerBroadcast,
	}
}

type Monitor struct {
	mu       sync.RWMutex
	log      bus.Logger
	clock    bus.Clock
	reg      *codec.Registry
	state    State
	gpsTime  codec.GPSTime
	lastDash time.Duration
	dashSeen bool
}

func NewMonitor(logger bus.Logger, clock bus.Clock) (*Monitor, error) {
	if logger == nil {
		logger = bus.NopLogger{}
	}
	if clock == nil {
		clock = bus.NewMonotonicClock()
	}
	reg := codec.Aux()
	if err := reg.Merge(codec.Charger()); err != nil {
		return nil, err
	}
	return &Monitor{log: logger, clock: clock, reg: reg}, nil
}

func (m *Monitor) Attach(d *bus.Dispatcher) error {
	for _, id := range SubscribedIDs() {
		id := id
		err := d.Subscribe(id, func(data []byte, length uint8, _ any) {
			m.mu.Lock()
			defer m.mu.Unlock()
			m.handleFrame(id, data, length)
		}, nil)
		if err != nil {
			return fmt.Errorf("vehicle: %w", err)
		}
	}
	m.log.Info("Initialized auxiliary node monitor on %s", d.Name())
	return nil
}

// handleFrame must be called with the lock held.
func (m *Monitor) handleFrame(id uint32, data []byte, length uint8) {
	s := &m.state
	switch id {
	case codec.IDGPSPosition:
		hadFix := s.HasFix()
		if m.reg.Decode(id, data, length, &s.Position) && hadFix != s.HasFix() {
			if s.HasFix() {
				m.log.Info("GPS fix acquired (%d satellites)", s.Position.Satellites)
			} else {
				m.log.Warn("GPS fix lost")
			}
		}
	case codec.IDGPSVelocity:
		m.reg.Decode(id, data, length, &s.Velocity)
	case codec.IDGPSTime:
		if m.reg.Decode(id, data, length, &m.gpsTime) {
			s.GPSTime = m.gpsTime.Time()
		}
	case codec.IDBodyTemps:
		m.reg.Decode(id, data, length, &s.BodyTemps)
	case codec.IDBodyVoltage:
		m.reg.Decode(id, data, length, &s.Body)
	case codec.IDDashStatus:
		if m.reg.Decode(id, data, length, &s.Dash) {
			m.lastDash = m.clock.Now()
			m.dashSeen = true
		}
	case codec.IDChargerBroadcast:
		prev := s.Charger.Status
		if m.reg.Decode(id, data, length, &s.Charger) {
			s.ChargerSeen = true
			if s.Charger.Status != prev {
				m.logChargerStatus(prev, s.Charger.Status)
			}
		}
	}
}

var chargerStatusNames = []struct {
	bit  uint8
	name string
}{
	{codec.ChargerHardwareFault, "hardware fault"},
	{codec.ChargerOverTemp, "over-temperature"},
	{codec.ChargerInputVoltage, "input voltage"},
	{codec.ChargerBatteryMissing, "battery not detected"},
	{codec.ChargerCommTimeout, "communication timeout"},
}

// ChargerFaults names the bits set in a charger status byte.
func ChargerFaults(status uint8) []string {
	var out []string
	for _, s := range chargerStatusNames {
		if status&s.bit != 0 {
			out = append(out, s.name)
		}
	}
	return out
}

func (m *Monitor) logChargerStatus(prev, cur uint8) {
	if cur == 0 {
		m.log.Info("Charger faults cleared (was 0x%02X)", prev)
		return
	}
	m.log.Warn("Charger status 0x%02X: %s", cur, strings.Join(ChargerFaults(cur), ", "))
}

func (m *Monitor) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.state
	s.DashOnline = m.dashSeen && m.clock.Now()-m.lastDash <= DashTimeout
	return s
}

// SendGauge drives one dashboard gauge. It must be called from the
// goroutine that pumps d.
func (m *Monitor) SendGauge(d *bus.Dispatcher, gauge uint8, value float64) error {
	cmd := codec.GaugeCommand{Gauge: gauge, Value: clampI16(value)}
	var buf [8]byte
	n, ok := m.reg.Encode(codec.IDGaugeCommand, &cmd, &buf)
	if !ok {
		return fmt.Errorf("vehicle: cannot encode gauge command")
	}
	return d.Send(codec.IDGaugeCommand, buf[:n])
}

func clampI16(v float64) int16 {
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	case v < 0:
		return int16(v - 0.5)
	default:
		return int16(v + 0.5)
	}
}
