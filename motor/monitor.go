// Package motor tracks the drive unit from its CAN frames: speed, RPM,
// DC bus, temperatures and faults.
package motor

import (
	"fmt"
	"sync"
	"time"

	"leaf-can-gateway/bus"
	"leaf-can-gateway/codec"
)

const (
	// Window size for speed averaging
	WindowSize = 3

	// Timeout for stale motor data (if no frames received in this time, data is considered stale)
	DataTimeout = 2 * time.Second
)

// SpeedBuffer implements a moving average for speed readings
type SpeedBuffer struct {
	data  [WindowSize]float64
	head  uint8
	count uint8
	sum   float64
}

func (buf *SpeedBuffer) Reset() {
	*buf = SpeedBuffer{}
}

func (buf *SpeedBuffer) MovingAverage(speed float64) float64 {
	var lastData float64
	if buf.count >= WindowSize {
		lastData = buf.data[buf.head]
	} else {
		buf.count++
	}

	buf.data[buf.head] = speed
	buf.sum = (buf.sum - lastData) + speed
	buf.head = (buf.head + 1) % WindowSize

	return buf.sum / float64(buf.count)
}

// baseMonitor contains common monitor functionality
type baseMonitor struct {
	mu          sync.RWMutex
	logger      bus.Logger
	clock       bus.Clock
	reg         *codec.Registry
	speedBuffer SpeedBuffer
	lastFrame   time.Duration
	seen        bool
	state       State
}

func newBaseMonitor(logger bus.Logger, clock bus.Clock, reg *codec.Registry) baseMonitor {
	return baseMonitor{logger: logger, clock: clock, reg: reg}
}

// subscribe registers handle for every id. handle runs under the write
// lock and reports whether the frame decoded.
func (b *baseMonitor) subscribe(d *bus.Dispatcher, ids []uint32, handle func(id uint32, data []byte, length uint8) bool) error {
	for _, id := range ids {
		id := id
		err := d.Subscribe(id, func(data []byte, length uint8, _ any) {
			b.mu.Lock()
			defer b.mu.Unlock()
			if handle(id, data, length) {
				b.updateFrameTimestamp()
			}
		}, nil)
		if err != nil {
			return fmt.Errorf("motor: %w", err)
		}
	}
	return nil
}

// updateFrameTimestamp must be called with the lock held.
func (b *baseMonitor) updateFrameTimestamp() {
	b.lastFrame = b.clock.Now()
	b.seen = true
}

// IsDataStale returns true if no frames have been received within the timeout period
func (b *baseMonitor) IsDataStale() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.seen || b.clock.Now()-b.lastFrame > DataTimeout
}

// calculateSpeed smooths a raw speed reading. A standstill resets the window.
func (b *baseMonitor) calculateSpeed(raw float64) float64 {
	if raw == 0 {
		b.speedBuffer.Reset()
		return 0
	}
	return b.speedBuffer.MovingAverage(raw)
}

func (b *baseMonitor) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

func (b *baseMonitor) GetSpeed() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state.SpeedKPH
}

func (b *baseMonitor) GetRPM() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state.RPM
}

func (b *baseMonitor) GetVoltage() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state.Voltage
}

func (b *baseMonitor) GetCurrent() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state.Current
}

func (b *baseMonitor) GetInverterTemperature() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state.InverterTemp
}

func (b *baseMonitor) GetMotorTemperature() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state.MotorTemp
}

func (b *baseMonitor) GetTorque() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state.Torque
}

func (b *baseMonitor) GetFaultCode() uint32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state.FaultCode
}

func (b *baseMonitor) Cleanup() {}
