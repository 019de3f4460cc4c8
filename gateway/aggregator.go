package gateway

import (
	"fmt"
	"math"

	"leaf-can-gateway/bus"
	"leaf-can-gateway/codec"
)

// Vendor selects the battery-side frame family.
type Vendor string

const (
	VendorLeaf  Vendor = "leaf"
	VendorEmboo Vendor = "emboo"
)

func ParseVendor(s string) (Vendor, error) {
	switch v := Vendor(s); v {
	case VendorLeaf, VendorEmboo:
		return v, nil
	}
	return "", fmt.Errorf("unknown battery vendor %q", s)
}

// SubscribedIDs lists the frames the aggregator folds for a vendor.
func (v Vendor) SubscribedIDs() []uint32 {
	switch v {
	case VendorLeaf:
		return []uint32{codec.IDBatterySOC, codec.IDBatteryTemp, codec.IDChargerStatus}
	case VendorEmboo:
		return []uint32{
			codec.IDPackStatus, codec.IDPackStats, codec.IDPackFlags, codec.IDCellData,
			codec.IDPackTemps, codec.IDPackLimits, codec.IDPackHealth,
		}
	}
	return nil
}

type cell struct {
	voltage float64
	seen    bool
}

// Aggregator folds decoded vendor frames into a Snapshot. It is driven from
// the dispatcher's pump goroutine and is not safe for concurrent use.
type Aggregator struct {
	vendor Vendor
	reg    *codec.Registry
	clock  bus.Clock
	log    bus.Logger

	snap  Snapshot
	cells [codec.CellCount]cell

	// decode targets, reused per frame
	soc     codec.BatterySOC
	temp    codec.BatteryTemp
	charger codec.ChargerStatus
	status  codec.PackStatus
	stats   codec.PackStats
	flags   codec.PackFlags
	cell    codec.CellData
	temps   codec.PackTemps
	limits  codec.PackLimits
	health  codec.PackHealth
}

func NewAggregator(vendor Vendor, clock bus.Clock, logger bus.Logger) (*Aggregator, error) {
	a := &Aggregator{vendor: vendor, clock: clock, log: logger}
	switch vendor {
	case VendorLeaf:
		a.reg = codec.VendorA()
	case VendorEmboo:
		a.reg = codec.VendorB()
	default:
		return nil, fmt.Errorf("unknown battery vendor %q", vendor)
	}
	if a.clock == nil {
		a.clock = bus.NewMonotonicClock()
	}
	if a.log == nil {
		a.log = bus.NopLogger{}
	}
	a.snap.SOH = 100
	return a, nil
}

func (a *Aggregator) Vendor() Vendor { return a.vendor }

// Attach subscribes the aggregator to its vendor frames on d.
func (a *Aggregator) Attach(d *bus.Dispatcher) error {
	for _, id := range a.vendor.SubscribedIDs() {
		id := id
		err := d.Subscribe(id, func(data []byte, length uint8, _ any) {
			a.Fold(id, data, length)
		}, nil)
		if err != nil {
			return fmt.Errorf("aggregator %s: %w", a.vendor, err)
		}
	}
	a.log.Info("Aggregator attached to %s for %s frames", d.Name(), a.vendor)
	return nil
}

// Fold decodes one frame into the snapshot. Unknown, short and skipped
// frames leave the snapshot and its timestamp untouched.
func (a *Aggregator) Fold(id uint32, data []byte, length uint8) bool {
	var ok bool
	switch a.vendor {
	case VendorLeaf:
		ok = a.foldLeaf(id, data, length)
	case VendorEmboo:
		ok = a.foldEmboo(id, data, length)
	}
	if !ok {
		return false
	}
	a.snap.normalize()
	a.snap.stamp(a.clock.Now())
	return true
}

func (a *Aggregator) foldLeaf(id uint32, data []byte, length uint8) bool {
	s := &a.snap
	switch id {
	case codec.IDBatterySOC:
		if !a.reg.Decode(id, data, length, &a.soc) {
			return false
		}
		s.SOC = float64(a.soc.SOC)
		s.PackVoltage = a.soc.PackVoltage
		s.PackCurrent = a.soc.PackCurrent
	case codec.IDBatteryTemp:
		if !a.reg.Decode(id, data, length, &a.temp) {
			return false
		}
		s.TempMax, s.TempMin, s.TempAvg = a.temp.Max, a.temp.Min, a.temp.Avg
	case codec.IDChargerStatus:
		if !a.reg.Decode(id, data, length, &a.charger) {
			return false
		}
		s.Charging = a.charger.Charging
	default:
		return false
	}
	return true
}

func (a *Aggregator) foldEmboo(id uint32, data []byte, length uint8) bool {
	s := &a.snap
	switch id {
	case codec.IDPackStatus:
		if !a.reg.Decode(id, data, length, &a.status) {
			return false
		}
		// The BMS reports charge current as positive.
		s.PackCurrent = -a.status.Current
		s.PackVoltage = a.status.Voltage
		s.SOC = a.status.SOC
		s.Charging = a.status.Current > 0
	case codec.IDPackStats:
		if !a.reg.Decode(id, data, length, &a.stats) {
			return false
		}
		s.TempMax = a.stats.HighTemp
	case codec.IDPackFlags:
		if !a.reg.Decode(id, data, length, &a.flags) {
			return false
		}
		if a.flags.Errors != s.ErrorFlags {
			a.log.Warn("BMS error flags changed: 0x%02X -> 0x%02X", s.ErrorFlags, a.flags.Errors)
		}
		s.StatusFlags, s.ErrorFlags = a.flags.Status, a.flags.Errors
	case codec.IDCellData:
		if !a.reg.Decode(id, data, length, &a.cell) {
			return false
		}
		a.foldCell(a.cell)
	case codec.IDPackTemps:
		if !a.reg.Decode(id, data, length, &a.temps) {
			return false
		}
		s.TempMax, s.TempMin = a.temps.High, a.temps.Low
		s.TempAvg = midpoint(a.temps.High, a.temps.Low)
	case codec.IDPackLimits:
		if !a.reg.Decode(id, data, length, &a.limits) {
			return false
		}
		s.BMSChargeLimit = a.limits.ChargeLimit
		s.BMSDischargeLimit = a.limits.DischargeLimit
	case codec.IDPackHealth:
		if !a.reg.Decode(id, data, length, &a.health) {
			return false
		}
		s.SOH = float64(a.health.SOH)
	default:
		return false
	}
	return true
}

func (a *Aggregator) foldCell(c codec.CellData) {
	if int(c.ID) >= len(a.cells) {
		return
	}
	a.cells[c.ID] = cell{voltage: c.Voltage, seen: true}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, cl := range a.cells {
		if !cl.seen {
			continue
		}
		lo = math.Min(lo, cl.voltage)
		hi = math.Max(hi, cl.voltage)
	}
	a.snap.CellMin, a.snap.CellMax = lo, hi
}

// Snapshot returns a copy of the current snapshot.
func (a *Aggregator) Snapshot() Snapshot { return a.snap }

// ModuleVoltages sums the cell table per module, in volts. Modules with no
// reported cell read zero.
func (a *Aggregator) ModuleVoltages() [codec.ModuleCount]float64 {
	var out [codec.ModuleCount]float64
	for i, cl := range a.cells {
		if cl.seen {
			out[i/codec.CellsPerModule] += cl.voltage
		}
	}
	return out
}

// CellsReported counts cells with at least one reading.
func (a *Aggregator) CellsReported() int {
	n := 0
	for _, cl := range a.cells {
		if cl.seen {
			n++
		}
	}
	return n
}
