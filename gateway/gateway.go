// Package gateway translates a vendor battery bus into the standard ESS
// protocol: an aggregator folds inbound frames into a Snapshot, and a
// Derater turns the snapshot into advertised limits and alarms that are
// published on the inverter bus.
package gateway

import (
	"fmt"
	"time"

	"leaf-can-gateway/bus"
	"leaf-can-gateway/codec"
)

const (
	DefaultStaleAfter = 5000 * time.Millisecond
	StatePeriod       = 1000 * time.Millisecond
	IdentityPeriod    = 5000 * time.Millisecond
)

type Config struct {
	Vendor Vendor
	Pack   PackConfig
	// ModuleFrames publishes 0x370..0x373 module voltages from vendor B
	// cell data. It needs four publisher slots beyond the basic five.
	ModuleFrames bool
	StaleAfter   time.Duration
}

// Status is what the gateway last advertised.
type Status struct {
	Snapshot Snapshot
	Limits   Limits
	Thermal  TemperatureState
}

// StaleFunc is called on every stale transition.
type StaleFunc func(stale bool)

type Gateway struct {
	cfg     Config
	agg     *Aggregator
	derater *Derater
	ess     *codec.Registry
	clock   bus.Clock
	log     bus.Logger

	stale       bool
	onStale     StaleFunc
	sohOverride float64
	hasOverride bool
	last        Status

	// publisher state handles
	state    codec.ESSState
	temps    codec.ESSTemps
	limits   codec.ESSLimits
	alarms   codec.ESSAlarms
	identity codec.ESSIdentity
	modules  [codec.ESSModuleFrames]codec.ModuleVoltages
}

func New(cfg Config, clock bus.Clock, logger bus.Logger) (*Gateway, error) {
	if err := cfg.Pack.Validate(); err != nil {
		return nil, err
	}
	if cfg.ModuleFrames && cfg.Vendor != VendorEmboo {
		return nil, fmt.Errorf("module frames need cell data, not available from %s", cfg.Vendor)
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if clock == nil {
		clock = bus.NewMonotonicClock()
	}
	if logger == nil {
		logger = bus.NopLogger{}
	}

	agg, err := NewAggregator(cfg.Vendor, clock, logger)
	if err != nil {
		return nil, err
	}

	g := &Gateway{
		cfg:     cfg,
		agg:     agg,
		derater: NewDerater(cfg.Pack),
		ess:     codec.ESS(),
		clock:   clock,
		log:     logger,
		stale:   true,
	}
	g.identity.Manufacturer = cfg.Pack.Manufacturer
	return g, nil
}

// OnStale registers fn for stale transitions.
func (g *Gateway) OnStale(fn StaleFunc) { g.onStale = fn }

// SetSOHOverride replaces the reported SOH until cleared with ok=false.
func (g *Gateway) SetSOHOverride(soh float64, ok bool) {
	g.sohOverride, g.hasOverride = clampPercent(soh), ok
	if ok {
		g.log.Info("SOH override set to %.1f%%", g.sohOverride)
	} else {
		g.log.Info("SOH override cleared")
	}
}

// Attach subscribes the aggregator on the battery bus and registers the
// ESS publishers on the inverter bus.
func (g *Gateway) Attach(battery, ess *bus.Dispatcher) error {
	if err := g.agg.Attach(battery); err != nil {
		return err
	}

	pubs := []essPublisher{
		{codec.IDESSState, StatePeriod, &g.state},
		{codec.IDESSTemps, StatePeriod, &g.temps},
		{codec.IDESSLimits, StatePeriod, &g.limits},
		{codec.IDESSAlarms, StatePeriod, &g.alarms},
		{codec.IDESSIdentity, IdentityPeriod, &g.identity},
	}
	if g.cfg.ModuleFrames {
		for i := range g.modules {
			pubs = append(pubs, essPublisher{uint32(codec.IDESSModuleBase + i), StatePeriod, &g.modules[i]})
		}
	}

	for _, p := range pubs {
		if err := ess.Publish(p.id, p.period, g.encoder(p.id), p.state); err != nil {
			return fmt.Errorf("gateway: %w", err)
		}
	}
	g.log.Info("Gateway publishing %d ESS frames on %s", len(pubs), ess.Name())
	return nil
}

type essPublisher struct {
	id     uint32
	period time.Duration
	state  any
}

// encoder refreshes the publisher records before encoding so every frame
// reflects the snapshot at emission time.
func (g *Gateway) encoder(id uint32) bus.EncodeFunc {
	enc := g.ess.Encoder(id)
	return func(state any, buf *[8]byte) uint8 {
		g.Refresh()
		return enc(state, buf)
	}
}

// Refresh evaluates the watchdog and derater against the current snapshot
// and updates the publisher records.
func (g *Gateway) Refresh() Status {
	now := g.clock.Now()
	s := g.agg.Snapshot()
	if g.hasOverride {
		s.SOH = g.sohOverride
	}

	stale := !s.Valid || s.Age(now) > g.cfg.StaleAfter
	if stale != g.stale {
		g.stale = stale
		if stale {
			g.log.Warn("Battery data stale (last update %v ago), advertising zero current", s.Age(now))
		} else {
			g.log.Info("Battery data fresh again")
		}
		if g.onStale != nil {
			g.onStale(stale)
		}
	}

	l := g.derater.Evaluate(s, stale)
	if l.Reason != g.last.Limits.Reason {
		g.log.Info("Derate reason: %s -> %s", g.last.Limits.Reason, l.Reason)
	}

	g.state = codec.ESSState{Voltage: s.PackVoltage, Current: s.PackCurrent, SOC: s.SOC, SOH: s.SOH}
	g.temps = codec.ESSTemps{Max: float64(s.TempMax), Min: float64(s.TempMin), Avg: float64(s.TempAvg)}
	g.limits = codec.ESSLimits{
		ChargeCurrent:    l.ChargeCurrent,
		DischargeCurrent: l.DischargeCurrent,
		ChargeVoltage:    l.ChargeVoltage,
		DischargeVoltage: l.DischargeVoltage,
	}
	g.alarms = codec.ESSAlarms{Alarms: l.Alarms, Warnings: l.Warnings, Modules: g.cfg.Pack.Modules}

	if g.cfg.ModuleFrames {
		mods := g.agg.ModuleVoltages()
		for i, v := range mods {
			g.modules[i/4].MilliVolts[i%4] = uint16(clampMilli(v))
		}
	}

	g.last = Status{Snapshot: s, Limits: l, Thermal: g.derater.TemperatureState(s.Valid)}
	return g.last
}

// Last returns the result of the most recent Refresh.
func (g *Gateway) Last() Status { return g.last }

// Stale reports the watchdog state as of the last Refresh.
func (g *Gateway) Stale() bool { return g.stale }

func clampMilli(v float64) float64 {
	mv := v*1000 + 0.5
	switch {
	case mv < 0:
		return 0
	case mv > 65535:
		return 65535
	}
	return mv
}
