package codec

// Vendor A (Nissan Leaf vehicle bus, 500 kbps). All fields little-endian.
const (
	IDVehicleSpeed      = 0x1D4
	IDMotorRPM          = 0x1DA
	IDBatterySOC        = 0x1DB
	IDBatteryTemp       = 0x1DC
	IDInverterTelemetry = 0x1F2
	IDChargerStatus     = 0x390
)

const kmhToMph = 0.621371

// VehicleSpeed is frame 0x1D4: u16 at 0.01 km/h.
type VehicleSpeed struct {
	KPH float64
}

func (s VehicleSpeed) MPH() float64 { return s.KPH * kmhToMph }

// Direction of motor rotation as reported in 0x1DA.
type Direction uint8

const (
	DirectionStopped Direction = iota
	DirectionForward
	DirectionReverse
)

func (d Direction) String() string {
	switch d {
	case DirectionStopped:
		return "stopped"
	case DirectionForward:
		return "forward"
	case DirectionReverse:
		return "reverse"
	}
	return "unknown"
}

type MotorRPM struct {
	RPM       int16
	Direction Direction
}

// BatterySOC is frame 0x1DB. SOC occupies bits 1..7 of byte 0.
type BatterySOC struct {
	SOC         uint8
	GIDs        uint16
	PackVoltage float64 // 0.5 V/LSB
	PackCurrent float64 // 0.1 A/LSB, positive is discharge
}

// BatteryTemp is frame 0x1DC. Each temperature is a byte offset by 40 °C.
type BatteryTemp struct {
	Max     int8
	Min     int8
	Avg     int8
	Sensors uint8
}

type InverterTelemetry struct {
	Voltage      float64 // 0.5 V/LSB
	Current      float64 // 0.1 A/LSB
	InverterTemp int8
	MotorTemp    int8
	Status       uint8
}

type ChargerStatus struct {
	Charging      bool
	Current       float64 // 0.5 A/LSB
	Voltage       float64 // 0.1 V/LSB
	TimeRemaining uint16  // minutes
}

const tempOffset = 40

// VendorA returns the Nissan Leaf vehicle-bus family.
func VendorA() *Registry {
	return NewRegistry("vendor-a").mustRegister(
		New(IDVehicleSpeed, "vehicle speed", 2,
			always(func(d []byte, v *VehicleSpeed) {
				v.KPH = float64(u16LE(d[0:2])) * 0.01
			}),
			func(v *VehicleSpeed, b *[8]byte) {
				putU16LE(b[0:2], satU16(v.KPH, 0.01))
			}),

		New(IDMotorRPM, "motor rpm", 3,
			always(func(d []byte, v *MotorRPM) {
				v.RPM = i16LE(d[0:2])
				v.Direction = Direction(d[2])
			}),
			func(v *MotorRPM, b *[8]byte) {
				putI16LE(b[0:2], v.RPM)
				b[2] = byte(v.Direction)
			}),

		New(IDBatterySOC, "battery soc", 8,
			always(func(d []byte, v *BatterySOC) {
				v.SOC = d[0] >> 1
				v.GIDs = u16LE(d[2:4])
				v.PackVoltage = float64(u16LE(d[4:6])) * 0.5
				v.PackCurrent = float64(i16LE(d[6:8])) * 0.1
			}),
			func(v *BatterySOC, b *[8]byte) {
				soc := v.SOC
				if soc > 0x7F {
					soc = 0x7F
				}
				b[0] = soc << 1
				putU16LE(b[2:4], v.GIDs)
				putU16LE(b[4:6], satU16(v.PackVoltage, 0.5))
				putI16LE(b[6:8], satI16(v.PackCurrent, 0.1))
			}),

		New(IDBatteryTemp, "battery temperature", 4,
			always(func(d []byte, v *BatteryTemp) {
				v.Max = fromOffsetByte(d[0], tempOffset)
				v.Min = fromOffsetByte(d[1], tempOffset)
				v.Avg = fromOffsetByte(d[2], tempOffset)
				v.Sensors = d[3]
			}),
			func(v *BatteryTemp, b *[8]byte) {
				b[0] = offsetByte(v.Max, tempOffset)
				b[1] = offsetByte(v.Min, tempOffset)
				b[2] = offsetByte(v.Avg, tempOffset)
				b[3] = v.Sensors
			}),

		New(IDInverterTelemetry, "inverter telemetry", 8,
			always(func(d []byte, v *InverterTelemetry) {
				v.Voltage = float64(u16LE(d[0:2])) * 0.5
				v.Current = float64(i16LE(d[2:4])) * 0.1
				v.InverterTemp = fromOffsetByte(d[4], tempOffset)
				v.MotorTemp = fromOffsetByte(d[5], tempOffset)
				v.Status = d[6]
			}),
			func(v *InverterTelemetry, b *[8]byte) {
				putU16LE(b[0:2], satU16(v.Voltage, 0.5))
				putI16LE(b[2:4], satI16(v.Current, 0.1))
				b[4] = offsetByte(v.InverterTemp, tempOffset)
				b[5] = offsetByte(v.MotorTemp, tempOffset)
				b[6] = v.Status
			}),

		New(IDChargerStatus, "charger status", 8,
			always(func(d []byte, v *ChargerStatus) {
				v.Charging = d[0]&0x01 != 0
				v.Current = float64(d[1]) * 0.5
				v.Voltage = float64(u16LE(d[2:4])) * 0.1
				v.TimeRemaining = u16LE(d[4:6])
			}),
			func(v *ChargerStatus, b *[8]byte) {
				b[0] = boolToByte(v.Charging)
				b[1] = satU8(v.Current, 0.5)
				putU16LE(b[2:4], satU16(v.Voltage, 0.1))
				putU16LE(b[4:6], v.TimeRemaining)
			}),
	)
}
