package codec

import "time"

// Custom auxiliary nodes (0x7xx). All fields little-endian.
const (
	IDGPSPosition  = 0x710
	IDGPSVelocity  = 0x711
	IDGPSTime      = 0x712
	IDBodyTemps    = 0x720
	IDBodyVoltage  = 0x721
	IDDashStatus   = 0x730
	IDGaugeCommand = 0x740
)

const degreeScale = 1e-7

type GPSPosition struct {
	Latitude   float64 // degrees, 1e-7/LSB
	Altitude   float64 // metres, unsigned
	Satellites uint8
	Fix        uint8
}

// GPSVelocity also carries the longitude, which does not fit in 0x710.
type GPSVelocity struct {
	Longitude float64 // degrees, 1e-7/LSB
	Speed     float64 // 0.01 km/h/LSB
	Heading   float64 // 0.01 degree/LSB
}

type GPSTime struct {
	Year   uint16
	Month  uint8
	Day    uint8
	Hour   uint8
	Minute uint8
	Second uint8
}

// Time returns the UTC instant, or the zero time when no fix has set a date.
func (t GPSTime) Time() time.Time {
	if t.Year == 0 || t.Month == 0 || t.Day == 0 {
		return time.Time{}
	}
	return time.Date(int(t.Year), time.Month(t.Month), int(t.Day),
		int(t.Hour), int(t.Minute), int(t.Second), 0, time.UTC)
}

// BodyTemps are four cabin/body sensors at 0.1 °C/LSB.
type BodyTemps struct {
	Temps [4]float64
}

type BodyVoltage struct {
	Supply12V  float64 // 0.01 V/LSB
	Supply5V   float64 // 0.01 V/LSB
	Current12V float64 // 0.01 A/LSB
}

// DashStatus is the dashboard heartbeat.
type DashStatus struct {
	Counter    uint8
	Page       uint8
	Brightness uint8
	Flags      uint8
}

type GaugeCommand struct {
	Gauge uint8
	Mode  uint8
	Value int16
}

// Aux returns the custom auxiliary family.
func Aux() *Registry {
	return NewRegistry("aux").mustRegister(
		New(IDGPSPosition, "gps position", 8,
			always(func(d []byte, v *GPSPosition) {
				v.Latitude = float64(i32LE(d[0:4])) * degreeScale
				v.Altitude = float64(u16LE(d[4:6]))
				v.Satellites = d[6]
				v.Fix = d[7]
			}),
			func(v *GPSPosition, b *[8]byte) {
				putI32LE(b[0:4], satI32(v.Latitude, degreeScale))
				putU16LE(b[4:6], satU16(v.Altitude, 1))
				b[6] = v.Satellites
				b[7] = v.Fix
			}),

		New(IDGPSVelocity, "gps velocity", 8,
			always(func(d []byte, v *GPSVelocity) {
				v.Longitude = float64(i32LE(d[0:4])) * degreeScale
				v.Speed = float64(u16LE(d[4:6])) * 0.01
				v.Heading = float64(u16LE(d[6:8])) * 0.01
			}),
			func(v *GPSVelocity, b *[8]byte) {
				putI32LE(b[0:4], satI32(v.Longitude, degreeScale))
				putU16LE(b[4:6], satU16(v.Speed, 0.01))
				putU16LE(b[6:8], satU16(v.Heading, 0.01))
			}),

		New(IDGPSTime, "gps time", 7,
			always(func(d []byte, v *GPSTime) {
				v.Year = u16LE(d[0:2])
				v.Month = d[2]
				v.Day = d[3]
				v.Hour = d[4]
				v.Minute = d[5]
				v.Second = d[6]
			}),
			func(v *GPSTime, b *[8]byte) {
				putU16LE(b[0:2], v.Year)
				b[2] = v.Month
				b[3] = v.Day
				b[4] = v.Hour
				b[5] = v.Minute
				b[6] = v.Second
			}),

		New(IDBodyTemps, "body temperatures", 8,
			always(func(d []byte, v *BodyTemps) {
				for i := range v.Temps {
					v.Temps[i] = float64(i16LE(d[i*2:i*2+2])) * 0.1
				}
			}),
			func(v *BodyTemps, b *[8]byte) {
				encodeTenths(b, v.Temps[:]...)
			}),

		New(IDBodyVoltage, "body voltage", 6,
			always(func(d []byte, v *BodyVoltage) {
				v.Supply12V = float64(u16LE(d[0:2])) * 0.01
				v.Supply5V = float64(u16LE(d[2:4])) * 0.01
				v.Current12V = float64(u16LE(d[4:6])) * 0.01
			}),
			func(v *BodyVoltage, b *[8]byte) {
				putU16LE(b[0:2], satU16(v.Supply12V, 0.01))
				putU16LE(b[2:4], satU16(v.Supply5V, 0.01))
				putU16LE(b[4:6], satU16(v.Current12V, 0.01))
			}),

		New(IDDashStatus, "dash status", 4,
			always(func(d []byte, v *DashStatus) {
				v.Counter, v.Page, v.Brightness, v.Flags = d[0], d[1], d[2], d[3]
			}),
			func(v *DashStatus, b *[8]byte) {
				b[0], b[1], b[2], b[3] = v.Counter, v.Page, v.Brightness, v.Flags
			}),

		New(IDGaugeCommand, "gauge command", 4,
			always(func(d []byte, v *GaugeCommand) {
				v.Gauge = d[0]
				v.Mode = d[1]
				v.Value = i16LE(d[2:4])
			}),
			func(v *GaugeCommand, b *[8]byte) {
				b[0] = v.Gauge
				b[1] = v.Mode
				putI16LE(b[2:4], v.Value)
			}),
	)
}
