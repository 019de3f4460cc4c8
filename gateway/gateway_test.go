package gateway

import (
	"context"
	"math"
	"testing"
	"time"

	"leaf-can-gateway/bus"
	"leaf-can-gateway/codec"
)

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func makeFrame(t *testing.T, reg *codec.Registry, id uint32, rec any) bus.Frame {
	t.Helper()
	var buf [8]byte
	n, ok := reg.Encode(id, rec, &buf)
	if !ok {
		t.Fatalf("encode 0x%03X failed", id)
	}
	f, err := bus.NewFrame(id, buf[:n])
	if err != nil {
		t.Fatalf("frame 0x%03X: %v", id, err)
	}
	return f
}

func fold(a *Aggregator, f bus.Frame) bool {
	b := f.Bytes()
	return a.Fold(f.ID(), b[:f.Len()], f.Len())
}

func newTestAggregator(t *testing.T, vendor Vendor) (*Aggregator, *bus.ManualClock) {
	t.Helper()
	clock := &bus.ManualClock{}
	a, err := NewAggregator(vendor, clock, nil)
	if err != nil {
		t.Fatalf("NewAggregator: %v", err)
	}
	return a, clock
}

func TestDeraterRules(t *testing.T) {
	pack := PackConfig{ChargeCurrent: 50, DischargeCurrent: 150, ChargeVoltage: 403.2, DischargeVoltage: 300}

	tests := []struct {
		name      string
		snap      Snapshot
		charge    float64
		discharge float64
		alarms    uint8
		warnings  uint8
	}{
		{"97% and 46C", Snapshot{SOC: 97, TempMax: 46, TempMin: 25, TempAvg: 30, Valid: true}, 12.5, 105, 0, codec.AlarmHighTemp},
		{"nominal", Snapshot{SOC: 60, TempMax: 30, TempMin: 20, TempAvg: 25, Valid: true}, 50, 150, 0, 0},
		{"taper", Snapshot{SOC: 92, TempMax: 30, TempMin: 20, Valid: true}, 35, 150, 0, 0},
		{"low soc warn", Snapshot{SOC: 15, TempMax: 30, TempMin: 20, Valid: true}, 50, 75, 0, codec.AlarmSOC},
		{"low soc alarm", Snapshot{SOC: 5, TempMax: 30, TempMin: 20, Valid: true}, 50, 45, codec.AlarmSOC, codec.AlarmSOC},
		{"cold", Snapshot{SOC: 50, TempMax: 5, TempMin: -1, Valid: true}, 25, 105, 0, codec.AlarmLowTemp},
		{"freezing", Snapshot{SOC: 50, TempMax: -5, TempMin: -11, Valid: true}, 25, 105, codec.AlarmLowTemp, codec.AlarmLowTemp},
		{"hot alarm", Snapshot{SOC: 50, TempMax: 51, TempMin: 30, Valid: true}, 25, 105, codec.AlarmHighTemp, codec.AlarmHighTemp},
		{"empty and hot", Snapshot{SOC: 5, TempMax: 55, TempMin: 30, Valid: true}, 25, 31.5,
			codec.AlarmSOC | codec.AlarmHighTemp, codec.AlarmSOC | codec.AlarmHighTemp},
		{"bms cap", Snapshot{SOC: 50, TempMax: 30, TempMin: 20, BMSChargeLimit: 20, BMSDischargeLimit: 200, Valid: true}, 20, 150, 0, 0},
	}

	for _, tt := range tests {
		d := NewDerater(pack)
		l := d.Evaluate(tt.snap, false)
		if !almostEqual(l.ChargeCurrent, tt.charge, 1e-9) || !almostEqual(l.DischargeCurrent, tt.discharge, 1e-9) {
			t.Errorf("%s: expected charge=%.2f discharge=%.2f, got charge=%.2f discharge=%.2f",
				tt.name, tt.charge, tt.discharge, l.ChargeCurrent, l.DischargeCurrent)
		}
		if l.Alarms != tt.alarms || l.Warnings != tt.warnings {
			t.Errorf("%s: expected alarms=0x%02X warnings=0x%02X, got 0x%02X 0x%02X",
				tt.name, tt.alarms, tt.warnings, l.Alarms, l.Warnings)
		}
		if l.ChargeVoltage != 403.2 || l.DischargeVoltage != 300 {
			t.Errorf("%s: set-points changed: %+v", tt.name, l)
		}
	}
}

func TestDeraterAlarmReleaseKeepsWarning(t *testing.T) {
	d := NewDerater(DefaultPackConfig())

	steps := []struct {
		max      int8
		alarms   uint8
		warnings uint8
	}{
		{51, codec.AlarmHighTemp, codec.AlarmHighTemp},
		{49, codec.AlarmHighTemp, codec.AlarmHighTemp}, // alarm band
		{48, 0, codec.AlarmHighTemp},
		{43, 0, 0},
	}
	for i, s := range steps {
		l := d.Evaluate(Snapshot{SOC: 50, TempMax: s.max, TempMin: 20, Valid: true}, false)
		if l.Alarms != s.alarms || l.Warnings != s.warnings {
			t.Errorf("step %d (max %d): expected 0x%02X/0x%02X, got 0x%02X/0x%02X",
				i, s.max, s.alarms, s.warnings, l.Alarms, l.Warnings)
		}
	}
}

func TestTemperatureState(t *testing.T) {
	tests := []struct {
		name     string
		min, max int8
		valid    bool
		expected TemperatureState
	}{
		{"no data", 20, 30, false, TemperatureStateUnknown},
		{"ideal", 20, 30, true, TemperatureStateIdeal},
		{"hot", 20, 46, true, TemperatureStateHot},
		{"cold", -1, 10, true, TemperatureStateCold},
		{"hot wins over cold", -1, 46, true, TemperatureStateHot},
	}
	for _, tt := range tests {
		d := NewDerater(DefaultPackConfig())
		d.Evaluate(Snapshot{SOC: 50, TempMin: tt.min, TempMax: tt.max, Valid: tt.valid}, false)
		if got := d.TemperatureState(tt.valid); got != tt.expected {
			t.Errorf("%s: expected %s, got %s", tt.name, tt.expected, got)
		}
	}
}

func TestDefaultPackConfig(t *testing.T) {
	p := DefaultPackConfig()
	if err := p.Validate(); err != nil {
		t.Fatalf("default pack invalid: %v", err)
	}
	if p.ChargeVoltage != 404.0 || p.DischargeVoltage != 288.0 || p.Modules != 32 {
		t.Errorf("unexpected 96S defaults %+v", p)
	}
}

func TestDeraterStale(t *testing.T) {
	d := NewDerater(DefaultPackConfig())
	l := d.Evaluate(Snapshot{SOC: 50, TempMax: 30, TempMin: 20, Valid: true}, true)

	if l.ChargeCurrent != 0 || l.DischargeCurrent != 0 {
		t.Errorf("stale: expected zero current, got %+v", l)
	}
	if l.Alarms&codec.AlarmStale == 0 || l.Warnings&codec.AlarmStale == 0 {
		t.Errorf("stale: expected stale bit in both bytes, got 0x%02X 0x%02X", l.Alarms, l.Warnings)
	}
}

func TestDeraterTemperatureHysteresis(t *testing.T) {
	d := NewDerater(PackConfig{ChargeCurrent: 100, DischargeCurrent: 100, ChargeVoltage: 400, DischargeVoltage: 300})

	steps := []struct {
		max    int8
		reason DerateReason
	}{
		{44, DerateReasonNone},
		{46, DerateReasonHot},
		{45, DerateReasonHot}, // inside the band
		{44, DerateReasonHot},
		{43, DerateReasonNone},
		{45, DerateReasonNone},
		{46, DerateReasonHot},
	}

	for i, s := range steps {
		l := d.Evaluate(Snapshot{SOC: 50, TempMax: s.max, TempMin: 20, Valid: true}, false)
		if l.Reason != s.reason {
			t.Errorf("step %d (max %d): expected %s, got %s", i, s.max, s.reason, l.Reason)
		}
	}

	cold := []struct {
		min    int8
		reason DerateReason
	}{
		{-1, DerateReasonCold},
		{1, DerateReasonCold},
		{2, DerateReasonNone},
	}
	for i, s := range cold {
		l := d.Evaluate(Snapshot{SOC: 50, TempMax: 20, TempMin: s.min, Valid: true}, false)
		if l.Reason != s.reason {
			t.Errorf("cold step %d (min %d): expected %s, got %s", i, s.min, s.reason, l.Reason)
		}
	}
}

func TestPackConfigValidate(t *testing.T) {
	if err := DefaultPackConfig().Validate(); err != nil {
		t.Errorf("default pack: %v", err)
	}
	bad := DefaultPackConfig()
	bad.DischargeVoltage = bad.ChargeVoltage
	if err := bad.Validate(); err == nil {
		t.Error("expected inverted set-points to be rejected")
	}
	bad = DefaultPackConfig()
	bad.ChargeCurrent = 0
	if err := bad.Validate(); err == nil {
		t.Error("expected zero charge ceiling to be rejected")
	}
}

func TestAggregatorLeaf(t *testing.T) {
	a, clock := newTestAggregator(t, VendorLeaf)
	reg := codec.VendorA()

	clock.Set(100 * time.Millisecond)
	fold(a, makeFrame(t, reg, codec.IDBatterySOC, &codec.BatterySOC{SOC: 72, GIDs: 281, PackVoltage: 370, PackCurrent: -18.4}))
	fold(a, makeFrame(t, reg, codec.IDBatteryTemp, &codec.BatteryTemp{Max: 31, Min: 22, Avg: 26, Sensors: 4}))
	fold(a, makeFrame(t, reg, codec.IDChargerStatus, &codec.ChargerStatus{Charging: true, Current: 16, Voltage: 380}))

	s := a.Snapshot()
	if s.SOC != 72 || s.PackVoltage != 370 || !almostEqual(s.PackCurrent, -18.4, 0.05) {
		t.Errorf("unexpected electrical state %+v", s)
	}
	if s.TempMax != 31 || s.TempMin != 22 || s.TempAvg != 26 {
		t.Errorf("unexpected temperatures %+v", s)
	}
	if !s.Charging || !s.Valid || s.LastUpdate != 100*time.Millisecond {
		t.Errorf("unexpected flags %+v", s)
	}
	if s.SOH != 100 {
		t.Errorf("expected default SOH 100, got %.1f", s.SOH)
	}
}

func TestAggregatorEmboo(t *testing.T) {
	a, _ := newTestAggregator(t, VendorEmboo)
	reg := codec.VendorB()

	fold(a, makeFrame(t, reg, codec.IDPackStatus, &codec.PackStatus{Current: 12.5, Voltage: 356.2, AmpHours: 40, SOC: 81.5}))
	fold(a, makeFrame(t, reg, codec.IDPackTemps, &codec.PackTemps{High: 30, Low: 20}))
	fold(a, makeFrame(t, reg, codec.IDPackLimits, &codec.PackLimits{MaxVoltage: 400, ChargeLimit: 40, DischargeLimit: 200, MinVoltage: 300}))
	fold(a, makeFrame(t, reg, codec.IDPackHealth, &codec.PackHealth{SOC: 81, SOH: 93, SOCDecimal: 81.5}))
	fold(a, makeFrame(t, reg, codec.IDPackFlags, &codec.PackFlags{Status: 0x01, Errors: 0x04}))

	s := a.Snapshot()
	if !almostEqual(s.PackCurrent, -12.5, 0.05) || !s.Charging {
		t.Errorf("charge current must be negative in the snapshot: %+v", s)
	}
	if !almostEqual(s.SOC, 81.5, 0.25) || s.SOH != 93 {
		t.Errorf("unexpected SOC/SOH %+v", s)
	}
	if s.TempAvg != 25 {
		t.Errorf("expected average 25, got %d", s.TempAvg)
	}
	if !almostEqual(s.BMSChargeLimit, 40, 0.05) || !almostEqual(s.BMSDischargeLimit, 200, 0.05) {
		t.Errorf("unexpected BMS limits %+v", s)
	}
	if s.StatusFlags != 0x01 || s.ErrorFlags != 0x04 {
		t.Errorf("unexpected flags %+v", s)
	}

	fold(a, makeFrame(t, reg, codec.IDPackStatus, &codec.PackStatus{Current: -30, Voltage: 350}))
	if s := a.Snapshot(); !almostEqual(s.PackCurrent, 30, 0.05) || s.Charging {
		t.Errorf("discharge current must be positive: %+v", s)
	}
}

func TestAggregatorStatsHighTempFollowsLatest(t *testing.T) {
	a, _ := newTestAggregator(t, VendorEmboo)
	reg := codec.VendorB()
	d := NewDerater(DefaultPackConfig())

	fold(a, makeFrame(t, reg, codec.IDPackStatus, &codec.PackStatus{Voltage: 355, SOC: 60}))
	fold(a, makeFrame(t, reg, codec.IDPackTemps, &codec.PackTemps{High: 30, Low: 20}))
	fold(a, makeFrame(t, reg, codec.IDPackStats, &codec.PackStats{HighTemp: 60}))
	if s := a.Snapshot(); s.TempMax != 60 {
		t.Fatalf("expected TempMax 60, got %d", s.TempMax)
	}
	d.Evaluate(a.Snapshot(), false)

	for i := 0; i < 2; i++ {
		fold(a, makeFrame(t, reg, codec.IDPackStats, &codec.PackStats{HighTemp: 31}))
	}
	s := a.Snapshot()
	if s.TempMax != 31 || s.TempMin != 20 {
		t.Errorf("expected 20..31 after the hot sample cleared, got %d..%d", s.TempMin, s.TempMax)
	}
	l := d.Evaluate(s, false)
	if l.Reason != DerateReasonNone || l.Alarms != 0 || l.Warnings != 0 {
		t.Errorf("pack should leave hot derating: %+v", l)
	}
}

func TestAggregatorCells(t *testing.T) {
	a, _ := newTestAggregator(t, VendorEmboo)
	reg := codec.VendorB()

	for id := 0; id < codec.CellsPerModule; id++ {
		v := 3.7 + float64(id)*0.01
		fold(a, makeFrame(t, reg, codec.IDCellData, &codec.CellData{ID: uint8(id), Voltage: v, OpenVoltage: v}))
	}
	fold(a, makeFrame(t, reg, codec.IDCellData, &codec.CellData{ID: 95, Voltage: 3.65, OpenVoltage: 3.65}))

	s := a.Snapshot()
	if !almostEqual(s.CellMin, 3.65, 1e-4) || !almostEqual(s.CellMax, 3.75, 1e-4) {
		t.Errorf("expected cell range 3.65..3.75, got %.4f..%.4f", s.CellMin, s.CellMax)
	}
	if a.CellsReported() != 7 {
		t.Errorf("expected 7 cells, got %d", a.CellsReported())
	}

	mods := a.ModuleVoltages()
	if !almostEqual(mods[0], 22.35, 1e-3) || !almostEqual(mods[15], 3.65, 1e-3) || mods[1] != 0 {
		t.Errorf("unexpected module voltages %v", mods)
	}

	// 96..99 are valid cell indices on the wire but outside the pack.
	if !fold(a, makeFrame(t, reg, codec.IDCellData, &codec.CellData{ID: 99, Voltage: 1})) {
		t.Error("cell 99 should still count as an update")
	}
	if a.Snapshot().CellMin != s.CellMin {
		t.Error("cell 99 must not enter the cell table")
	}
}

func TestAggregatorSkipsStatusCellFrame(t *testing.T) {
	a, clock := newTestAggregator(t, VendorEmboo)

	clock.Set(time.Second)
	status := []byte{101, 0x92, 0x88, 0x80, 0x7D, 0x92, 0x7B, 0x00}
	if a.Fold(codec.IDCellData, status, 8) {
		t.Error("cell index above 100 must be skipped")
	}
	if s := a.Snapshot(); s.Valid || s.LastUpdate != 0 {
		t.Errorf("skipped frame must not stamp the snapshot: %+v", s)
	}
}

func TestAggregatorIgnoresShortAndUnknown(t *testing.T) {
	a, clock := newTestAggregator(t, VendorLeaf)

	clock.Set(time.Second)
	if a.Fold(codec.IDBatterySOC, []byte{0x90, 0, 0x19}, 3) {
		t.Error("short frame must be ignored")
	}
	if a.Fold(codec.IDPackStatus, make([]byte, 8), 8) {
		t.Error("vendor B frame must be ignored by a Leaf aggregator")
	}
	if a.Snapshot().Valid {
		t.Error("snapshot must stay invalid")
	}
}

func TestAggregatorInvariants(t *testing.T) {
	a, clock := newTestAggregator(t, VendorEmboo)
	reg := codec.VendorB()

	frames := []bus.Frame{
		makeFrame(t, reg, codec.IDPackTemps, &codec.PackTemps{High: -5, Low: 40}),
		makeFrame(t, reg, codec.IDPackStats, &codec.PackStats{HighTemp: 60}),
		makeFrame(t, reg, codec.IDPackStatus, &codec.PackStatus{SOC: 127.5}),
		makeFrame(t, reg, codec.IDPackHealth, &codec.PackHealth{SOH: 250}),
		makeFrame(t, reg, codec.IDPackTemps, &codec.PackTemps{High: 10, Low: 12}),
	}

	times := []time.Duration{500, 900, 300, 1200, 1100}
	var last time.Duration
	for i, f := range frames {
		clock.Set(times[i] * time.Millisecond)
		fold(a, f)

		s := a.Snapshot()
		if !(s.TempMin <= s.TempAvg && s.TempAvg <= s.TempMax) {
			t.Errorf("frame %d: temperature order broken: min=%d avg=%d max=%d", i, s.TempMin, s.TempAvg, s.TempMax)
		}
		if s.SOC < 0 || s.SOC > 100 || s.SOH < 0 || s.SOH > 100 {
			t.Errorf("frame %d: percent out of range: soc=%.1f soh=%.1f", i, s.SOC, s.SOH)
		}
		if s.LastUpdate < last {
			t.Errorf("frame %d: LastUpdate went backwards: %v < %v", i, s.LastUpdate, last)
		}
		last = s.LastUpdate
	}
}

type testBuses struct {
	clock   *bus.ManualClock
	battery *bus.Dispatcher
	ess     *bus.Dispatcher
	batLink *bus.Loopback
	essLink *bus.Loopback
}

func newTestBuses(t *testing.T, maxPublishers int) *testBuses {
	t.Helper()
	tb := &testBuses{clock: &bus.ManualClock{}, batLink: bus.NewLoopback(), essLink: bus.NewLoopback()}
	opts := bus.Options{Clock: tb.clock, ReceiveTimeout: 5 * time.Millisecond, MaxPublishers: maxPublishers}
	tb.battery = bus.NewDispatcher("battery", tb.batLink, bus.Config{Interface: "can1", Bitrate: bus.Bitrate250k}, opts)
	tb.ess = bus.NewDispatcher("ess", tb.essLink, bus.Config{Interface: "can0", Bitrate: bus.Bitrate500k}, opts)
	return tb
}

func (tb *testBuses) begin(t *testing.T) {
	t.Helper()
	for _, d := range []*bus.Dispatcher{tb.battery, tb.ess} {
		if err := d.Begin(context.Background()); err != nil {
			t.Fatalf("Begin %s: %v", d.Name(), err)
		}
		d := d
		t.Cleanup(func() { d.End() })
	}
}

// deliver injects frames on the battery bus and pumps them through.
func (tb *testBuses) deliver(t *testing.T, frames ...bus.Frame) {
	t.Helper()
	before := tb.battery.Stats().Received
	tb.batLink.Inject(frames...)
	deadline := time.Now().Add(time.Second)
	for tb.battery.Stats().Received < before+uint64(len(frames)) {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for battery frames")
		}
		time.Sleep(time.Millisecond)
	}
	tb.battery.Pump()
}

func lastSent(t *testing.T, l *bus.Loopback, id uint32, rec any) bool {
	t.Helper()
	sent := l.Sent()
	for i := len(sent) - 1; i >= 0; i-- {
		if sent[i].ID() != id {
			continue
		}
		b := sent[i].Bytes()
		if !codec.ESS().Decode(id, b[:], sent[i].Len(), rec) {
			t.Fatalf("decode 0x%03X failed", id)
		}
		return true
	}
	return false
}

func TestGatewayGoesStale(t *testing.T) {
	tb := newTestBuses(t, 0)
	g, err := New(Config{Vendor: VendorLeaf, Pack: DefaultPackConfig()}, tb.clock, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var transitions []bool
	g.OnStale(func(stale bool) { transitions = append(transitions, stale) })
	if err := g.Attach(tb.battery, tb.ess); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	tb.begin(t)

	reg := codec.VendorA()
	tb.deliver(t,
		makeFrame(t, reg, codec.IDBatterySOC, &codec.BatterySOC{SOC: 60, PackVoltage: 370, PackCurrent: 10}),
		makeFrame(t, reg, codec.IDBatteryTemp, &codec.BatteryTemp{Max: 30, Min: 20, Avg: 25}),
	)

	tb.clock.Set(time.Second)
	tb.ess.Pump()

	var limits codec.ESSLimits
	if !lastSent(t, tb.essLink, codec.IDESSLimits, &limits) {
		t.Fatal("limits frame not emitted")
	}
	if !almostEqual(limits.ChargeCurrent, 50, 0.05) || !almostEqual(limits.DischargeCurrent, 150, 0.05) {
		t.Errorf("fresh limits: got %+v", limits)
	}

	tb.clock.Set(6 * time.Second)
	tb.ess.Pump()

	if !lastSent(t, tb.essLink, codec.IDESSLimits, &limits) {
		t.Fatal("limits frame not emitted while stale")
	}
	if limits.ChargeCurrent != 0 || limits.DischargeCurrent != 0 {
		t.Errorf("stale limits must be zero, got %+v", limits)
	}
	var alarms codec.ESSAlarms
	lastSent(t, tb.essLink, codec.IDESSAlarms, &alarms)
	if alarms.Alarms&codec.AlarmStale == 0 || alarms.Modules != 32 {
		t.Errorf("expected stale alarm and 32 modules, got %+v", alarms)
	}

	if len(transitions) != 2 || transitions[0] || !transitions[1] {
		t.Errorf("expected fresh then stale transitions, got %v", transitions)
	}
}

func TestGatewayEmission(t *testing.T) {
	tb := newTestBuses(t, 12)
	pack := DefaultPackConfig()
	pack.Manufacturer = "EMBOO"
	g, err := New(Config{Vendor: VendorEmboo, Pack: pack, ModuleFrames: true}, tb.clock, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := g.Attach(tb.battery, tb.ess); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	tb.begin(t)

	reg := codec.VendorB()
	tb.deliver(t,
		makeFrame(t, reg, codec.IDPackStatus, &codec.PackStatus{Current: -20, Voltage: 355, SOC: 97}),
		makeFrame(t, reg, codec.IDPackTemps, &codec.PackTemps{High: 46, Low: 25}),
		makeFrame(t, reg, codec.IDCellData, &codec.CellData{ID: 24, Voltage: 3.7, OpenVoltage: 3.7}),
	)
	g.SetSOHOverride(88, true)

	tb.clock.Set(time.Second)
	tb.ess.Pump()

	count := func() map[uint32]int {
		m := map[uint32]int{}
		for _, f := range tb.essLink.Sent() {
			m[f.ID()]++
		}
		return m
	}
	c := count()
	for _, id := range []uint32{0x351, 0x355, 0x356, 0x35E, 0x370, 0x371, 0x372, 0x373} {
		if c[id] != 1 {
			t.Errorf("t=1s: expected one 0x%03X, got %d", id, c[id])
		}
	}
	if c[codec.IDESSIdentity] != 0 {
		t.Error("identity must wait for its 5 s period")
	}

	var state codec.ESSState
	lastSent(t, tb.essLink, codec.IDESSState, &state)
	if !almostEqual(state.Current, 20, 0.05) || !almostEqual(state.SOH, 88, 0.05) || !almostEqual(state.SOC, 97, 0.05) {
		t.Errorf("unexpected state frame %+v", state)
	}

	var limits codec.ESSLimits
	lastSent(t, tb.essLink, codec.IDESSLimits, &limits)
	if !almostEqual(limits.ChargeCurrent, 12.5, 0.05) || !almostEqual(limits.DischargeCurrent, 105, 0.05) {
		t.Errorf("unexpected limits %+v", limits)
	}

	var mods codec.ModuleVoltages
	lastSent(t, tb.essLink, codec.IDESSModuleBase+1, &mods)
	if mods.MilliVolts[0] != 3700 {
		t.Errorf("expected module 4 at 3700 mV, got %v", mods.MilliVolts)
	}

	if st := g.Refresh(); st.Thermal != TemperatureStateHot || st.Limits.Reason != DerateReasonHot {
		t.Errorf("expected hot state, got %+v", st)
	}

	tb.clock.Set(5 * time.Second)
	tb.ess.Pump()
	var id codec.ESSIdentity
	if !lastSent(t, tb.essLink, codec.IDESSIdentity, &id) || id.Manufacturer != "EMBOO" {
		t.Errorf("expected identity EMBOO, got %q", id.Manufacturer)
	}
}

func TestGatewayPublisherCapacity(t *testing.T) {
	tb := newTestBuses(t, 0)
	g, err := New(Config{Vendor: VendorEmboo, Pack: DefaultPackConfig(), ModuleFrames: true}, tb.clock, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := g.Attach(tb.battery, tb.ess); err == nil {
		t.Error("expected default publisher table to be too small for module frames")
	}

	if _, err := New(Config{Vendor: VendorLeaf, Pack: DefaultPackConfig(), ModuleFrames: true}, nil, nil); err == nil {
		t.Error("expected module frames to be rejected for the Leaf vendor")
	}
}
