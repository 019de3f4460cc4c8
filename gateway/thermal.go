package gateway

// Temperature thresholds in °C. Conditions latch on crossing the limit and
// release once the reading is back inside by Hysteresis.
const (
	HotLimit       = 45
	ColdLimit      = 0
	HotAlarmLimit  = 50
	ColdAlarmLimit = -10
	Hysteresis     = 2
)

type TemperatureState int

const (
	TemperatureStateUnknown TemperatureState = iota
	TemperatureStateCold
	TemperatureStateHot
	TemperatureStateIdeal
)

func (s TemperatureState) String() string {
	switch s {
	case TemperatureStateCold:
		return "cold"
	case TemperatureStateHot:
		return "hot"
	case TemperatureStateIdeal:
		return "ideal"
	case TemperatureStateUnknown:
		fallthrough
	default:
		return "unknown"
	}
}

// latch is a hysteresis flag.
type latch bool

// above sets the latch when v > limit and clears it when v <= limit-Hysteresis.
func (l *latch) above(v, limit int) bool {
	switch {
	case v > limit:
		*l = true
	case v <= limit-Hysteresis:
		*l = false
	}
	return bool(*l)
}

// below sets the latch when v < limit and clears it when v >= limit+Hysteresis.
func (l *latch) below(v, limit int) bool {
	switch {
	case v < limit:
		*l = true
	case v >= limit+Hysteresis:
		*l = false
	}
	return bool(*l)
}

// thermal tracks the latched temperature conditions of the pack.
type thermal struct {
	hot, cold           latch
	hotAlarm, coldAlarm latch
}

func (t *thermal) update(min, max int8) {
	t.hot.above(int(max), HotLimit)
	t.cold.below(int(min), ColdLimit)
	t.hotAlarm.above(int(max), HotAlarmLimit)
	t.coldAlarm.below(int(min), ColdAlarmLimit)
}

func (t *thermal) state(valid bool) TemperatureState {
	switch {
	case !valid:
		return TemperatureStateUnknown
	case bool(t.hot):
		return TemperatureStateHot
	case bool(t.cold):
		return TemperatureStateCold
	default:
		return TemperatureStateIdeal
	}
}
