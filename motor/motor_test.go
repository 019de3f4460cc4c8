package motor

import (
	"context"
	"math"
	"testing"
	"time"

	"leaf-can-gateway/bus"
	"leaf-can-gateway/codec"
)

// --- SpeedBuffer tests ---

func TestSpeedBuffer_SingleValue(t *testing.T) {
	var buf SpeedBuffer
	avg := buf.MovingAverage(100)
	if avg != 100.0 {
		t.Errorf("expected 100.0, got %f", avg)
	}
}

func TestSpeedBuffer_WindowSlide(t *testing.T) {
	var buf SpeedBuffer
	buf.MovingAverage(100)
	buf.MovingAverage(200)
	if avg := buf.MovingAverage(300); avg != 200.0 {
		t.Errorf("expected 200.0, got %f", avg)
	}
	// replaces 100: [400, 200, 300]
	if avg := buf.MovingAverage(400); avg != 300.0 {
		t.Errorf("expected 300.0, got %f", avg)
	}
}

func TestSpeedBuffer_Reset(t *testing.T) {
	var buf SpeedBuffer
	buf.MovingAverage(100)
	buf.MovingAverage(200)
	buf.Reset()
	if avg := buf.MovingAverage(50); avg != 50.0 {
		t.Errorf("expected 50.0 after reset, got %f", avg)
	}
}

func TestCalculateSpeed_ZeroResetsBuffer(t *testing.T) {
	b := &baseMonitor{}
	b.calculateSpeed(100)
	b.calculateSpeed(200)
	if speed := b.calculateSpeed(0); speed != 0 {
		t.Errorf("expected 0 for zero input, got %f", speed)
	}
	if speed := b.calculateSpeed(50); speed != 50 {
		t.Errorf("expected 50 after standstill, got %f", speed)
	}
}

// --- monitor tests ---

type harness struct {
	clock *bus.ManualClock
	link  *bus.Loopback
	d     *bus.Dispatcher
}

func newHarness(t *testing.T, typ Type) (Monitor, *harness) {
	t.Helper()
	h := &harness{clock: &bus.ManualClock{}, link: bus.NewLoopback()}
	h.d = bus.NewDispatcher("vehicle", h.link, bus.Config{Interface: "can0", Bitrate: bus.Bitrate500k},
		bus.Options{Clock: h.clock, ReceiveTimeout: 5 * time.Millisecond})

	m, err := NewMonitor(typ, nil, h.clock)
	if err != nil {
		t.Fatalf("NewMonitor: %v", err)
	}
	if err := m.Attach(h.d); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if err := h.d.Begin(context.Background()); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	t.Cleanup(func() {
		m.Cleanup()
		h.d.End()
	})
	return m, h
}

func makeCANFrame(t *testing.T, reg *codec.Registry, id uint32, rec any) bus.Frame {
	t.Helper()
	var buf [8]byte
	n, ok := reg.Encode(id, rec, &buf)
	if !ok {
		t.Fatalf("encode 0x%03X failed", id)
	}
	return bus.MustFrame(id, buf[:n])
}

func (h *harness) feed(t *testing.T, frames ...bus.Frame) {
	t.Helper()
	before := h.d.Stats().Received
	h.link.Inject(frames...)
	deadline := time.Now().Add(time.Second)
	for h.d.Stats().Received < before+uint64(len(frames)) {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for frames")
		}
		time.Sleep(time.Millisecond)
	}
	h.d.Pump()
}

func TestNissanMonitor(t *testing.T) {
	m, h := newHarness(t, TypeNissan)
	reg := codec.VendorA()

	if !m.IsDataStale() {
		t.Error("monitor with no frames should be stale")
	}

	h.feed(t,
		makeCANFrame(t, reg, codec.IDMotorRPM, &codec.MotorRPM{RPM: 3200, Direction: codec.DirectionForward}),
		makeCANFrame(t, reg, codec.IDVehicleSpeed, &codec.VehicleSpeed{KPH: 40}),
		makeCANFrame(t, reg, codec.IDVehicleSpeed, &codec.VehicleSpeed{KPH: 50}),
		makeCANFrame(t, reg, codec.IDInverterTelemetry, &codec.InverterTelemetry{
			Voltage: 365, Current: -42.5, InverterTemp: 38, MotorTemp: 55, Status: 0x18,
		}),
	)

	s := m.State()
	if s.RPM != 3200 || s.Direction != codec.DirectionForward {
		t.Errorf("rpm: expected 3200 forward, got %d %v", s.RPM, s.Direction)
	}
	if math.Abs(m.GetSpeed()-45) > 1e-6 {
		t.Errorf("speed: expected moving average 45, got %f", m.GetSpeed())
	}
	if m.GetVoltage() != 365 || math.Abs(m.GetCurrent()+42.5) > 0.05 {
		t.Errorf("dc: got %.1f V %.1f A", m.GetVoltage(), m.GetCurrent())
	}
	if m.GetInverterTemperature() != 38 || m.GetMotorTemperature() != 55 {
		t.Errorf("temps: got inverter %.0f motor %.0f", m.GetInverterTemperature(), m.GetMotorTemperature())
	}

	faults := m.GetActiveFaults()
	if len(faults) != 2 || !faults[FaultInverterOverTemperature] || !faults[FaultMotorOverTemperature] {
		t.Errorf("faults: expected inverter and motor over-temperature, got %v", faults)
	}
	if m.GetFaultCode() != 0x18 {
		t.Errorf("fault code: expected 0x18, got 0x%02X", m.GetFaultCode())
	}
	if m.IsDataStale() {
		t.Error("monitor should be fresh after frames")
	}

	h.clock.Advance(DataTimeout + time.Millisecond)
	if !m.IsDataStale() {
		t.Error("monitor should be stale after the timeout")
	}
}

func TestNissanMonitorIgnoresShortFrame(t *testing.T) {
	m, h := newHarness(t, TypeNissan)

	h.feed(t, bus.MustFrame(codec.IDInverterTelemetry, []byte{0xFF, 0xFF}))
	if m.GetVoltage() != 0 || !m.IsDataStale() {
		t.Errorf("short frame should be ignored: %+v", m.State())
	}
}

func TestRoamMonitor(t *testing.T) {
	m, h := newHarness(t, TypeRoam)
	reg := codec.Roam()

	h.feed(t,
		makeCANFrame(t, reg, codec.IDRoamPosition, &codec.RoamPosition{RPM: -1000}),
		makeCANFrame(t, reg, codec.IDRoamVoltages, &codec.RoamVoltages{DCBus: 240, Output: 200}),
		makeCANFrame(t, reg, codec.IDRoamModuleTemps, &codec.RoamModuleTemps{ModuleA: 60, ModuleB: 101.5, ModuleC: 70, GateDriver: 40}),
		makeCANFrame(t, reg, codec.IDRoamMotorTemps, &codec.RoamMotorTemps{Coolant: 40, HotSpot: 90, Stator: 85}),
		makeCANFrame(t, reg, codec.IDRoamCurrents, &codec.RoamCurrents{DC: -120}),
		makeCANFrame(t, reg, codec.IDRoamTorque, &codec.RoamTorque{Requested: 150, Actual: 142}),
		makeCANFrame(t, reg, codec.IDRoamBoardTemps, &codec.RoamBoardTemps{ControlBoard: 35}),
	)

	s := m.State()
	if s.RPM != -1000 || s.Direction != codec.DirectionReverse {
		t.Errorf("rpm: expected -1000 reverse, got %d %v", s.RPM, s.Direction)
	}
	if math.Abs(s.SpeedKPH-14.65) > 0.01 {
		t.Errorf("speed: expected 14.65, got %f", s.SpeedKPH)
	}
	if s.Voltage != 240 || s.Current != -120 || s.Torque != 142 {
		t.Errorf("unexpected electrical state %+v", s)
	}
	if math.Abs(s.InverterTemp-101.5) > 0.05 || math.Abs(s.MotorTemp-90) > 0.05 {
		t.Errorf("temps: got inverter %.1f motor %.1f", s.InverterTemp, s.MotorTemp)
	}
	if r, ok := m.(*RoamMonitor); !ok || math.Abs(r.BoardTemperature()-35) > 0.05 {
		t.Error("expected board temperature 35")
	}

	faults := m.GetActiveFaults()
	if len(faults) != 2 || !faults[FaultInverterOverTemperature] || !faults[FaultDCUnderVoltage] {
		t.Errorf("faults: got %v", faults)
	}

	// Faults clear when readings recover.
	h.feed(t,
		makeCANFrame(t, reg, codec.IDRoamVoltages, &codec.RoamVoltages{DCBus: 360}),
		makeCANFrame(t, reg, codec.IDRoamModuleTemps, &codec.RoamModuleTemps{ModuleA: 60}),
	)
	if code := m.GetFaultCode(); code != 0 {
		t.Errorf("expected faults cleared, got 0x%02X", code)
	}
}

func TestFaultMapping(t *testing.T) {
	tests := []struct {
		code     uint32
		expected Fault
	}{
		{0x01, FaultDCOverVoltage},
		{0x20, FaultPositionSensor},
		{0x80, FaultGeneral},
		{0x03, FaultNone},
	}
	for _, tt := range tests {
		if got := MapNissanFault(tt.code); got != tt.expected {
			t.Errorf("MapNissanFault(0x%02X): expected %v, got %v", tt.code, tt.expected, got)
		}
	}

	cfg, ok := GetFaultConfig(FaultPrecharge)
	if !ok || cfg.Severity != SeverityCritical {
		t.Errorf("precharge fault should be critical, got %+v", cfg)
	}
	if _, ok := GetFaultConfig(FaultNone); ok {
		t.Error("FaultNone has no config")
	}
}

func TestParseType(t *testing.T) {
	for _, s := range []string{"nissan", "roam"} {
		typ, err := ParseType(s)
		if err != nil || typ.String() != s {
			t.Errorf("ParseType(%q): got %v, %v", s, typ, err)
		}
	}
	if _, err := ParseType("bosch"); err == nil {
		t.Error("expected unknown type to fail")
	}
	if _, err := NewMonitor(Type(9), nil, nil); err == nil {
		t.Error("expected NewMonitor to reject unknown type")
	}
}
