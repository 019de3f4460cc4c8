package gateway

import (
	"errors"
	"math"

	"leaf-can-gateway/codec"
)

// PackConfig holds the constants of the installed pack.
type PackConfig struct {
	ChargeCurrent    float64 `yaml:"charge_current"`    // base charge ceiling, A
	DischargeCurrent float64 `yaml:"discharge_current"` // base discharge ceiling, A
	ChargeVoltage    float64 `yaml:"charge_voltage"`    // V
	DischargeVoltage float64 `yaml:"discharge_voltage"` // V
	Modules          uint16  `yaml:"modules"`
	Manufacturer     string  `yaml:"manufacturer"`
}

// DefaultPackConfig is a 96S Leaf pack: 32 modules of 3 cells, charged to
// 404.0 V and cut off at 288.0 V.
func DefaultPackConfig() PackConfig {
	return PackConfig{
		ChargeCurrent:    50,
		DischargeCurrent: 150,
		ChargeVoltage:    404.0,
		DischargeVoltage: 288.0,
		Modules:          32,
		Manufacturer:     "NISSAN",
	}
}

func (p PackConfig) Validate() error {
	if p.ChargeCurrent <= 0 || p.DischargeCurrent <= 0 {
		return errors.New("pack current ceilings must be positive")
	}
	if p.ChargeVoltage <= 0 || p.DischargeVoltage <= 0 {
		return errors.New("pack voltage set-points must be positive")
	}
	if p.DischargeVoltage >= p.ChargeVoltage {
		return errors.New("pack discharge voltage must be below charge voltage")
	}
	return nil
}

// SOC derating thresholds in percent.
const (
	SOCChargeTaper   = 90
	SOCChargeStop    = 95
	SOCDischargeWarn = 20
	SOCDischargeLow  = 10
)

// DerateReason says why the temperature rule is limiting the pack.
type DerateReason int

const (
	DerateReasonNone DerateReason = iota
	DerateReasonCold
	DerateReasonHot
)

func (r DerateReason) String() string {
	switch r {
	case DerateReasonCold:
		return "cold"
	case DerateReasonHot:
		return "hot"
	case DerateReasonNone:
		fallthrough
	default:
		return "none"
	}
}

// Limits is one derater result.
type Limits struct {
	ChargeCurrent    float64
	DischargeCurrent float64
	ChargeVoltage    float64
	DischargeVoltage float64
	Reason           DerateReason
	Alarms           uint8
	Warnings         uint8
	Stale            bool
}

// Derater computes advertised current envelopes and alarm bits from a
// snapshot. Temperature conditions carry hysteresis, so a Derater is
// stateful and must be evaluated from one goroutine.
type Derater struct {
	pack    PackConfig
	thermal thermal
}

func NewDerater(pack PackConfig) *Derater {
	return &Derater{pack: pack}
}

// Evaluate derates the pack for s. A stale snapshot advertises zero
// current and raises the stale bit in both alarm bytes.
func (d *Derater) Evaluate(s Snapshot, stale bool) Limits {
	l := Limits{
		ChargeCurrent:    d.pack.ChargeCurrent,
		DischargeCurrent: d.pack.DischargeCurrent,
		ChargeVoltage:    d.pack.ChargeVoltage,
		DischargeVoltage: d.pack.DischargeVoltage,
		Stale:            stale,
	}

	if s.Valid {
		d.thermal.update(s.TempMin, s.TempMax)
	}

	switch {
	case s.SOC > SOCChargeStop:
		l.ChargeCurrent *= 0.5
	case s.SOC > SOCChargeTaper:
		l.ChargeCurrent *= 0.7
	}
	switch {
	case s.SOC < SOCDischargeLow:
		l.DischargeCurrent *= 0.3
	case s.SOC < SOCDischargeWarn:
		l.DischargeCurrent *= 0.5
	}

	switch d.thermal.state(s.Valid) {
	case TemperatureStateHot:
		l.Reason = DerateReasonHot
	case TemperatureStateCold:
		l.Reason = DerateReasonCold
	}
	if l.Reason != DerateReasonNone {
		l.ChargeCurrent *= 0.5
		l.DischargeCurrent *= 0.7
	}

	if s.BMSChargeLimit > 0 {
		l.ChargeCurrent = math.Min(l.ChargeCurrent, s.BMSChargeLimit)
	}
	if s.BMSDischargeLimit > 0 {
		l.DischargeCurrent = math.Min(l.DischargeCurrent, s.BMSDischargeLimit)
	}

	l.Alarms, l.Warnings = d.alarms(s)

	if stale {
		l.ChargeCurrent, l.DischargeCurrent = 0, 0
		l.Alarms |= codec.AlarmStale
		l.Warnings |= codec.AlarmStale
	}
	return l
}

func (d *Derater) alarms(s Snapshot) (alarms, warnings uint8) {
	if !s.Valid {
		return 0, 0
	}
	// Each threshold is tested on its own, so an alarm always carries its
	// warning bit too.
	if s.SOC < SOCDischargeLow {
		alarms |= codec.AlarmSOC
	}
	if s.SOC < SOCDischargeWarn {
		warnings |= codec.AlarmSOC
	}

	t := &d.thermal
	if t.hotAlarm {
		alarms |= codec.AlarmHighTemp
	}
	if t.hot {
		warnings |= codec.AlarmHighTemp
	}
	if t.coldAlarm {
		alarms |= codec.AlarmLowTemp
	}
	if t.cold {
		warnings |= codec.AlarmLowTemp
	}
	return alarms, warnings
}

// TemperatureState reports the latched thermal classification.
func (d *Derater) TemperatureState(valid bool) TemperatureState {
	return d.thermal.state(valid)
}
