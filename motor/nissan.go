package motor

import (
	"leaf-can-gateway/bus"
	"leaf-can-gateway/codec"
)

// NissanMonitor follows the EM57 drive unit on the Leaf vehicle bus.
type NissanMonitor struct {
	baseMonitor

	speed    codec.VehicleSpeed
	rpm      codec.MotorRPM
	inverter codec.InverterTelemetry
}

func NewNissanMonitor(logger bus.Logger, clock bus.Clock) *NissanMonitor {
	return &NissanMonitor{baseMonitor: newBaseMonitor(logger, clock, codec.VendorA())}
}

func (n *NissanMonitor) Attach(d *bus.Dispatcher) error {
	if err := n.subscribe(d, TypeNissan.SubscribedIDs(), n.handleFrame); err != nil {
		return err
	}
	n.logger.Info("Initialized Nissan motor monitor on %s", d.Name())
	return nil
}

func (n *NissanMonitor) handleFrame(id uint32, data []byte, length uint8) bool {
	switch id {
	case codec.IDVehicleSpeed:
		if !n.reg.Decode(id, data, length, &n.speed) {
			return false
		}
		n.state.SpeedKPH = n.calculateSpeed(n.speed.KPH)

	case codec.IDMotorRPM:
		if !n.reg.Decode(id, data, length, &n.rpm) {
			return false
		}
		n.state.RPM = int(n.rpm.RPM)
		n.state.Direction = n.rpm.Direction

	case codec.IDInverterTelemetry:
		if !n.reg.Decode(id, data, length, &n.inverter) {
			return false
		}
		n.state.Voltage = n.inverter.Voltage
		n.state.Current = n.inverter.Current
		n.state.InverterTemp = float64(n.inverter.InverterTemp)
		n.state.MotorTemp = float64(n.inverter.MotorTemp)

		// always update to allow fault clearing
		code := uint32(n.inverter.Status)
		if code != n.state.FaultCode {
			n.logger.Warn("Inverter status changed: 0x%02X -> 0x%02X", n.state.FaultCode, code)
		}
		n.state.FaultCode = code

	default:
		return false
	}
	return true
}

func (n *NissanMonitor) GetActiveFaults() map[Fault]bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return activeFaults(n.state.FaultCode, MapNissanFault)
}
