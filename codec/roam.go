package codec

// ROAM RM100 motor controller (alternate drive unit, 500 kbps). Temperature
// and torque frames are little-endian, the rest big-endian.
const (
	IDRoamModuleTemps = 0x0A0
	IDRoamBoardTemps  = 0x0A1
	IDRoamMotorTemps  = 0x0A2
	IDRoamPosition    = 0x0A5
	IDRoamCurrents    = 0x0A6
	IDRoamVoltages    = 0x0A7
	IDRoamTorque      = 0x0AC
)

// RoamModuleTemps holds power module temperatures at 0.1 °C/LSB.
type RoamModuleTemps struct {
	ModuleA    float64
	ModuleB    float64
	ModuleC    float64
	GateDriver float64
}

type RoamBoardTemps struct {
	ControlBoard float64
}

type RoamMotorTemps struct {
	Coolant float64
	HotSpot float64
	Stator  float64
}

type RoamPosition struct {
	Angle          uint16 // degrees
	RPM            int16
	ElectricalFreq uint16 // Hz
}

// RoamCurrents are in amps.
type RoamCurrents struct {
	PhaseA int16
	PhaseB int16
	PhaseC int16
	DC     int16
}

// RoamVoltages are in volts.
type RoamVoltages struct {
	DCBus  uint16
	Output uint16
}

// RoamTorque is in Nm.
type RoamTorque struct {
	Requested int16
	Actual    int16
}

func decodeTenths(d []byte, out ...*float64) {
	for i, p := range out {
		*p = float64(i16LE(d[i*2:i*2+2])) * 0.1
	}
}

func encodeTenths(b *[8]byte, in ...float64) {
	for i, v := range in {
		putI16LE(b[i*2:i*2+2], satI16(v, 0.1))
	}
}

// Roam returns the alternate motor controller family.
func Roam() *Registry {
	return NewRegistry("roam").mustRegister(
		New(IDRoamModuleTemps, "roam module temperatures", 8,
			always(func(d []byte, v *RoamModuleTemps) {
				decodeTenths(d, &v.ModuleA, &v.ModuleB, &v.ModuleC, &v.GateDriver)
			}),
			func(v *RoamModuleTemps, b *[8]byte) {
				encodeTenths(b, v.ModuleA, v.ModuleB, v.ModuleC, v.GateDriver)
			}),

		New(IDRoamBoardTemps, "roam board temperatures", 8,
			always(func(d []byte, v *RoamBoardTemps) {
				decodeTenths(d, &v.ControlBoard)
			}),
			func(v *RoamBoardTemps, b *[8]byte) {
				encodeTenths(b, v.ControlBoard)
			}),

		New(IDRoamMotorTemps, "roam motor temperatures", 8,
			always(func(d []byte, v *RoamMotorTemps) {
				decodeTenths(d, &v.Coolant, &v.HotSpot, &v.Stator)
			}),
			func(v *RoamMotorTemps, b *[8]byte) {
				encodeTenths(b, v.Coolant, v.HotSpot, v.Stator)
			}),

		New(IDRoamPosition, "roam position", 8,
			always(func(d []byte, v *RoamPosition) {
				v.Angle = u16BE(d[0:2])
				v.RPM = i16BE(d[2:4])
				v.ElectricalFreq = u16BE(d[4:6])
			}),
			func(v *RoamPosition, b *[8]byte) {
				putU16BE(b[0:2], v.Angle)
				putI16BE(b[2:4], v.RPM)
				putU16BE(b[4:6], v.ElectricalFreq)
			}),

		New(IDRoamCurrents, "roam currents", 8,
			always(func(d []byte, v *RoamCurrents) {
				v.PhaseA = i16BE(d[0:2])
				v.PhaseB = i16BE(d[2:4])
				v.PhaseC = i16BE(d[4:6])
				v.DC = i16BE(d[6:8])
			}),
			func(v *RoamCurrents, b *[8]byte) {
				putI16BE(b[0:2], v.PhaseA)
				putI16BE(b[2:4], v.PhaseB)
				putI16BE(b[4:6], v.PhaseC)
				putI16BE(b[6:8], v.DC)
			}),

		New(IDRoamVoltages, "roam voltages", 8,
			always(func(d []byte, v *RoamVoltages) {
				v.DCBus = u16BE(d[0:2])
				v.Output = u16BE(d[2:4])
			}),
			func(v *RoamVoltages, b *[8]byte) {
				putU16BE(b[0:2], v.DCBus)
				putU16BE(b[2:4], v.Output)
			}),

		New(IDRoamTorque, "roam torque", 4,
			always(func(d []byte, v *RoamTorque) {
				v.Requested = i16LE(d[0:2])
				v.Actual = i16LE(d[2:4])
			}),
			func(v *RoamTorque, b *[8]byte) {
				putI16LE(b[0:2], v.Requested)
				putI16LE(b[2:4], v.Actual)
			}),
	)
}
