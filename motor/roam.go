package motor

import (
	"math"

	"leaf-can-gateway/bus"
	"leaf-can-gateway/codec"
)

const (
	// km/h per motor RPM through the Leaf reduction gear on 215/50R17 tyres
	RPMToSpeedFactor = 0.01465

	RoamModuleTempLimit = 100.0 // °C
	RoamMotorTempLimit  = 150.0 // °C
	RoamBusMinVoltage   = 250.0 // V
	RoamBusMaxVoltage   = 420.0 // V
	RoamMaxDCCurrent    = 400   // A
)

// RoamMonitor follows a ROAM RM100 controller fitted in place of the
// original inverter.
type RoamMonitor struct {
	baseMonitor

	modules  codec.RoamModuleTemps
	board    codec.RoamBoardTemps
	motor    codec.RoamMotorTemps
	position codec.RoamPosition
	currents codec.RoamCurrents
	voltages codec.RoamVoltages
	torque   codec.RoamTorque
}

func NewRoamMonitor(logger bus.Logger, clock bus.Clock) *RoamMonitor {
	return &RoamMonitor{baseMonitor: newBaseMonitor(logger, clock, codec.Roam())}
}

func (r *RoamMonitor) Attach(d *bus.Dispatcher) error {
	if err := r.subscribe(d, r.reg.IDs(), r.handleFrame); err != nil {
		return err
	}
	r.logger.Info("Initialized ROAM motor monitor on %s", d.Name())
	return nil
}

func (r *RoamMonitor) handleFrame(id uint32, data []byte, length uint8) bool {
	s := &r.state
	switch id {
	case codec.IDRoamModuleTemps:
		if !r.reg.Decode(id, data, length, &r.modules) {
			return false
		}
		m := r.modules
		s.InverterTemp = math.Max(math.Max(m.ModuleA, m.ModuleB), math.Max(m.ModuleC, m.GateDriver))
		r.setFault(roamFaultModuleHot, s.InverterTemp > RoamModuleTempLimit)

	case codec.IDRoamBoardTemps:
		if !r.reg.Decode(id, data, length, &r.board) {
			return false
		}

	case codec.IDRoamMotorTemps:
		if !r.reg.Decode(id, data, length, &r.motor) {
			return false
		}
		s.MotorTemp = math.Max(r.motor.HotSpot, r.motor.Stator)
		r.setFault(roamFaultMotorHot, s.MotorTemp > RoamMotorTempLimit)

	case codec.IDRoamPosition:
		if !r.reg.Decode(id, data, length, &r.position) {
			return false
		}
		s.RPM = int(r.position.RPM)
		switch {
		case s.RPM > 0:
			s.Direction = codec.DirectionForward
		case s.RPM < 0:
			s.Direction = codec.DirectionReverse
		default:
			s.Direction = codec.DirectionStopped
		}
		s.SpeedKPH = r.calculateSpeed(math.Abs(float64(s.RPM)) * RPMToSpeedFactor)

	case codec.IDRoamCurrents:
		if !r.reg.Decode(id, data, length, &r.currents) {
			return false
		}
		s.Current = float64(r.currents.DC)
		r.setFault(roamFaultCurrentMax, math.Abs(s.Current) > RoamMaxDCCurrent)

	case codec.IDRoamVoltages:
		if !r.reg.Decode(id, data, length, &r.voltages) {
			return false
		}
		s.Voltage = float64(r.voltages.DCBus)
		r.setFault(roamFaultBusLow, s.Voltage < RoamBusMinVoltage)
		r.setFault(roamFaultBusHigh, s.Voltage > RoamBusMaxVoltage)

	case codec.IDRoamTorque:
		if !r.reg.Decode(id, data, length, &r.torque) {
			return false
		}
		s.Torque = float64(r.torque.Actual)

	default:
		return false
	}
	return true
}

func (r *RoamMonitor) setFault(bit uint32, active bool) {
	prev := r.state.FaultCode
	if active {
		r.state.FaultCode |= bit
	} else {
		r.state.FaultCode &^= bit
	}
	if r.state.FaultCode != prev {
		r.logger.Warn("ROAM fault %s %s", MapRoamFault(bit), map[bool]string{true: "set", false: "cleared"}[active])
	}
}

// BoardTemperature returns the control board temperature in °C.
func (r *RoamMonitor) BoardTemperature() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.board.ControlBoard
}

func (r *RoamMonitor) GetActiveFaults() map[Fault]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return activeFaults(r.state.FaultCode, MapRoamFault)
}
