package codec

// Standard ESS output family (inverter bus, 500 kbps). All fields big-endian.
const (
	IDESSState      = 0x351
	IDESSTemps      = 0x355
	IDESSLimits     = 0x356
	IDESSAlarms     = 0x35E
	IDESSIdentity   = 0x35F
	IDESSModuleBase = 0x370
	ESSModuleFrames = 4
)

// ESS alarm/warning bits, shared by bytes 0 and 1 of 0x35E.
const (
	AlarmSOC      uint8 = 0x01
	AlarmHighTemp uint8 = 0x04
	AlarmLowTemp  uint8 = 0x08
	AlarmStale    uint8 = 0x80
)

type ESSState struct {
	Voltage float64 // 0.1 V/LSB
	Current float64 // 0.1 A/LSB, positive is discharge
	SOC     float64 // 0.1 %/LSB
	SOH     float64 // 0.1 %/LSB
}

type ESSTemps struct {
	Max float64 // 0.1 °C/LSB
	Min float64
	Avg float64
}

type ESSLimits struct {
	ChargeCurrent    float64 // 0.1 A/LSB
	DischargeCurrent float64
	ChargeVoltage    float64 // 0.1 V/LSB
	DischargeVoltage float64
}

type ESSAlarms struct {
	Alarms   uint8
	Warnings uint8
	Modules  uint16
}

// ESSIdentity carries up to eight ASCII characters, zero padded.
type ESSIdentity struct {
	Manufacturer string
}

// ModuleVoltages carries four consecutive module voltages in millivolts.
type ModuleVoltages struct {
	MilliVolts [4]uint16
}

// ESS returns the standard energy-storage output family.
func ESS() *Registry {
	r := NewRegistry("ess").mustRegister(
		New(IDESSState, "ess state", 8,
			always(func(d []byte, v *ESSState) {
				v.Voltage = float64(u16BE(d[0:2])) * 0.1
				v.Current = float64(i16BE(d[2:4])) * 0.1
				v.SOC = float64(u16BE(d[4:6])) * 0.1
				v.SOH = float64(u16BE(d[6:8])) * 0.1
			}),
			func(v *ESSState, b *[8]byte) {
				putU16BE(b[0:2], satU16(v.Voltage, 0.1))
				putI16BE(b[2:4], satI16(v.Current, 0.1))
				putU16BE(b[4:6], satU16(v.SOC, 0.1))
				putU16BE(b[6:8], satU16(v.SOH, 0.1))
			}),

		New(IDESSTemps, "ess temperatures", 6,
			always(func(d []byte, v *ESSTemps) {
				v.Max = float64(i16BE(d[0:2])) * 0.1
				v.Min = float64(i16BE(d[2:4])) * 0.1
				v.Avg = float64(i16BE(d[4:6])) * 0.1
			}),
			func(v *ESSTemps, b *[8]byte) {
				putI16BE(b[0:2], satI16(v.Max, 0.1))
				putI16BE(b[2:4], satI16(v.Min, 0.1))
				putI16BE(b[4:6], satI16(v.Avg, 0.1))
			}),

		New(IDESSLimits, "ess limits", 8,
			always(func(d []byte, v *ESSLimits) {
				v.ChargeCurrent = float64(u16BE(d[0:2])) * 0.1
				v.DischargeCurrent = float64(u16BE(d[2:4])) * 0.1
				v.ChargeVoltage = float64(u16BE(d[4:6])) * 0.1
				v.DischargeVoltage = float64(u16BE(d[6:8])) * 0.1
			}),
			func(v *ESSLimits, b *[8]byte) {
				putU16BE(b[0:2], satU16(v.ChargeCurrent, 0.1))
				putU16BE(b[2:4], satU16(v.DischargeCurrent, 0.1))
				putU16BE(b[4:6], satU16(v.ChargeVoltage, 0.1))
				putU16BE(b[6:8], satU16(v.DischargeVoltage, 0.1))
			}),

		New(IDESSAlarms, "ess alarms", 8,
			always(func(d []byte, v *ESSAlarms) {
				v.Alarms = d[0]
				v.Warnings = d[1]
				v.Modules = u16BE(d[2:4])
			}),
			func(v *ESSAlarms, b *[8]byte) {
				b[0] = v.Alarms
				b[1] = v.Warnings
				putU16BE(b[2:4], v.Modules)
			}),

		New(IDESSIdentity, "ess identity", 8,
			always(func(d []byte, v *ESSIdentity) {
				n := 0
				for n < len(d) && d[n] != 0 {
					n++
				}
				v.Manufacturer = string(d[:n])
			}),
			func(v *ESSIdentity, b *[8]byte) {
				copy(b[:], v.Manufacturer)
			}),
	)
	for i := 0; i < ESSModuleFrames; i++ {
		r.mustRegister(New(uint32(IDESSModuleBase+i), "ess module voltages", 8,
			always(func(d []byte, v *ModuleVoltages) {
				for j := range v.MilliVolts {
					v.MilliVolts[j] = u16BE(d[j*2 : j*2+2])
				}
			}),
			func(v *ModuleVoltages, b *[8]byte) {
				for j, mv := range v.MilliVolts {
					putU16BE(b[j*2:j*2+2], mv)
				}
			}))
	}
	return r
}
