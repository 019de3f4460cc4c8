package gateway

import (
	"math"
	"time"
)

// Snapshot is the aggregated last-writer-wins view of the battery.
type Snapshot struct {
	PackVoltage float64 // V
	PackCurrent float64 // A, positive is discharge
	SOC         float64 // %
	SOH         float64 // %
	TempMin     int8    // °C
	TempMax     int8
	TempAvg     int8
	Charging    bool

	CellMin float64 // V, zero until cell data arrives
	CellMax float64

	// Limits reported by the BMS itself, zero when unknown.
	BMSChargeLimit    float64
	BMSDischargeLimit float64

	StatusFlags uint8
	ErrorFlags  uint8

	// LastUpdate is the monotonic time of the last folded frame. Valid is
	// false until the first one.
	LastUpdate time.Duration
	Valid      bool
}

// normalize restores the snapshot invariants after a partial update.
func (s *Snapshot) normalize() {
	s.SOC = clampPercent(s.SOC)
	s.SOH = clampPercent(s.SOH)

	if s.TempMin > s.TempMax {
		s.TempMin, s.TempMax = s.TempMax, s.TempMin
	}
	if s.TempAvg < s.TempMin {
		s.TempAvg = s.TempMin
	}
	if s.TempAvg > s.TempMax {
		s.TempAvg = s.TempMax
	}
}

// stamp records an update at now without letting LastUpdate go backwards.
func (s *Snapshot) stamp(now time.Duration) {
	if now > s.LastUpdate {
		s.LastUpdate = now
	}
	s.Valid = true
}

// Age reports how long ago the snapshot was last updated.
func (s Snapshot) Age(now time.Duration) time.Duration {
	return now - s.LastUpdate
}

func clampPercent(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}

func midpoint(a, b int8) int8 {
	return int8((int(a) + int(b)) / 2)
}
