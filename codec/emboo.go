package codec

// Vendor B (EMBOO/Orion BMS pack bus, 250 kbps). The 0x6Bx frames are
// big-endian; 0x351/0x355/0x356 are little-endian.
const (
	IDPackStatus   = 0x6B0
	IDPackStats    = 0x6B1
	IDPackFlags    = 0x6B2
	IDCellData     = 0x6B3
	IDPackTemps    = 0x6B4
	IDPackLimits   = 0x351
	IDPackHealth   = 0x355
	IDPackSummary  = 0x356
	IDPackAlarms   = 0x35A
	MaxCellID      = 100
	CellCount      = 96
	ModuleCount    = 16
	CellsPerModule = CellCount / ModuleCount
)

// PackStatus is frame 0x6B0. Current is positive while charging, the
// opposite of the vehicle convention.
type PackStatus struct {
	Current  float64 // 0.1 A/LSB
	Voltage  float64 // 0.1 V/LSB
	AmpHours float64 // 0.1 Ah/LSB
	SOC      float64 // 0.5 %/LSB
}

// PackStats is frame 0x6B1. InputVoltage is read from bytes 3..4.
type PackStats struct {
	RelayState    uint16
	HighTemp      int8
	InputVoltage  float64 // 0.1 V/LSB
	SummedVoltage float64 // 0.01 V/LSB
}

type PackFlags struct {
	Status uint8
	Errors uint8
}

// CellData is frame 0x6B3, one cell per frame. IDs above MaxCellID are
// status frames and leave the record untouched.
type CellData struct {
	ID          uint8
	Voltage     float64 // 0.0001 V/LSB
	Resistance  float64 // mΩ, 15 bits at 0.01 mΩ/LSB
	Balancing   bool
	OpenVoltage float64 // 0.0001 V/LSB
}

type PackTemps struct {
	High    int8
	Low     int8
	Counter uint8
}

// PackLimits is frame 0x351 as sent by the BMS (little-endian).
type PackLimits struct {
	MaxVoltage     float64 // 0.1 V/LSB
	ChargeLimit    float64 // 0.1 A/LSB
	DischargeLimit float64 // 0.1 A/LSB
	MinVoltage     float64 // 0.1 V/LSB
}

// PackHealth is frame 0x355 as sent by the BMS.
type PackHealth struct {
	SOC        uint16
	SOH        uint16
	SOCDecimal float64 // 0.1 %/LSB
}

// PackSummary is frame 0x356 as sent by the BMS. Bytes 2..3 carry an
// average current whose scaling is not trusted; they are not decoded.
type PackSummary struct {
	SummedVoltage float64 // 0.01 V/LSB
	HighTemp      float64 // 0.1 °C/LSB
}

// PackAlarms is frame 0x35A: two 32-bit big-endian bitfields.
type PackAlarms struct {
	Alarms   uint32
	Warnings uint32
}

const resistanceBalancing = 0x8000

// VendorB returns the EMBOO/Orion BMS family.
func VendorB() *Registry {
	return NewRegistry("vendor-b").mustRegister(
		New(IDPackStatus, "pack status", 8,
			always(func(d []byte, v *PackStatus) {
				v.Current = float64(i16BE(d[0:2])) * 0.1
				v.Voltage = float64(u16BE(d[2:4])) * 0.1
				v.AmpHours = float64(u16BE(d[4:6])) * 0.1
				v.SOC = float64(d[6]) * 0.5
			}),
			func(v *PackStatus, b *[8]byte) {
				putI16BE(b[0:2], satI16(v.Current, 0.1))
				putU16BE(b[2:4], satU16(v.Voltage, 0.1))
				putU16BE(b[4:6], satU16(v.AmpHours, 0.1))
				b[6] = satU8(v.SOC, 0.5)
			}),

		New(IDPackStats, "pack stats", 8,
			always(func(d []byte, v *PackStats) {
				v.RelayState = u16BE(d[0:2])
				v.HighTemp = int8(d[2])
				v.InputVoltage = float64(u16BE(d[3:5])) * 0.1
				v.SummedVoltage = float64(u16BE(d[5:7])) * 0.01
			}),
			func(v *PackStats, b *[8]byte) {
				putU16BE(b[0:2], v.RelayState)
				b[2] = byte(v.HighTemp)
				putU16BE(b[3:5], satU16(v.InputVoltage, 0.1))
				putU16BE(b[5:7], satU16(v.SummedVoltage, 0.01))
			}),

		New(IDPackFlags, "pack flags", 8,
			always(func(d []byte, v *PackFlags) {
				v.Status = d[0]
				v.Errors = d[3]
			}),
			func(v *PackFlags, b *[8]byte) {
				b[0] = v.Status
				b[3] = v.Errors
			}),

		New(IDCellData, "cell data", 8,
			func(d []byte, v *CellData) bool {
				if d[0] > MaxCellID {
					return false
				}
				r := u16BE(d[3:5])
				v.ID = d[0]
				v.Voltage = float64(u16BE(d[1:3])) * 0.0001
				v.Resistance = float64(r&^resistanceBalancing) * 0.01
				v.Balancing = r&resistanceBalancing != 0
				v.OpenVoltage = float64(u16BE(d[5:7])) * 0.0001
				return true
			},
			func(v *CellData, b *[8]byte) {
				b[0] = v.ID
				putU16BE(b[1:3], satU16(v.Voltage, 0.0001))
				r := satBits(v.Resistance, 0.01, 15)
				if v.Balancing {
					r |= resistanceBalancing
				}
				putU16BE(b[3:5], r)
				putU16BE(b[5:7], satU16(v.OpenVoltage, 0.0001))
			}),

		New(IDPackTemps, "pack temperatures", 8,
			always(func(d []byte, v *PackTemps) {
				v.High = int8(d[2])
				v.Low = int8(d[3])
				v.Counter = d[4]
			}),
			func(v *PackTemps, b *[8]byte) {
				b[2] = byte(v.High)
				b[3] = byte(v.Low)
				b[4] = v.Counter
			}),

		New(IDPackLimits, "bms limits", 8,
			always(func(d []byte, v *PackLimits) {
				v.MaxVoltage = float64(u16LE(d[0:2])) * 0.1
				v.ChargeLimit = float64(u16LE(d[2:4])) * 0.1
				v.DischargeLimit = float64(u16LE(d[4:6])) * 0.1
				v.MinVoltage = float64(u16LE(d[6:8])) * 0.1
			}),
			func(v *PackLimits, b *[8]byte) {
				putU16LE(b[0:2], satU16(v.MaxVoltage, 0.1))
				putU16LE(b[2:4], satU16(v.ChargeLimit, 0.1))
				putU16LE(b[4:6], satU16(v.DischargeLimit, 0.1))
				putU16LE(b[6:8], satU16(v.MinVoltage, 0.1))
			}),

		New(IDPackHealth, "bms health", 6,
			always(func(d []byte, v *PackHealth) {
				v.SOC = u16LE(d[0:2])
				v.SOH = u16LE(d[2:4])
				v.SOCDecimal = float64(u16LE(d[4:6])) * 0.1
			}),
			func(v *PackHealth, b *[8]byte) {
				putU16LE(b[0:2], v.SOC)
				putU16LE(b[2:4], v.SOH)
				putU16LE(b[4:6], satU16(v.SOCDecimal, 0.1))
			}),

		New(IDPackSummary, "bms summary", 6,
			always(func(d []byte, v *PackSummary) {
				v.SummedVoltage = float64(u16LE(d[0:2])) * 0.01
				v.HighTemp = float64(i16LE(d[4:6])) * 0.1
			}),
			func(v *PackSummary, b *[8]byte) {
				putU16LE(b[0:2], satU16(v.SummedVoltage, 0.01))
				putI16LE(b[4:6], satI16(v.HighTemp, 0.1))
			}),

		New(IDPackAlarms, "bms alarms", 8,
			always(func(d []byte, v *PackAlarms) {
				v.Alarms = uint32(u16BE(d[0:2]))<<16 | uint32(u16BE(d[2:4]))
				v.Warnings = uint32(u16BE(d[4:6]))<<16 | uint32(u16BE(d[6:8]))
			}),
			func(v *PackAlarms, b *[8]byte) {
				putU16BE(b[0:2], uint16(v.Alarms>>16))
				putU16BE(b[2:4], uint16(v.Alarms))
				putU16BE(b[4:6], uint16(v.Warnings>>16))
				putU16BE(b[6:8], uint16(v.Warnings))
			}),
	)
}
