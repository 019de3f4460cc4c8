package codec

// IDChargerBroadcast is the extended-id status broadcast of an Elcon/TC
// style on-board charger (250 kbps, big-endian). It is read-only traffic.
const IDChargerBroadcast = 0x18FF50E5

// Charger status bits in byte 4.
const (
	ChargerHardwareFault  uint8 = 0x01
	ChargerOverTemp       uint8 = 0x02
	ChargerInputVoltage   uint8 = 0x04
	ChargerBatteryMissing uint8 = 0x08
	ChargerCommTimeout    uint8 = 0x10
)

type ChargerBroadcast struct {
	OutputVoltage float64 // 0.1 V/LSB
	OutputCurrent float64 // 0.1 A/LSB
	Status        uint8
}

func (c ChargerBroadcast) Faulted() bool { return c.Status != 0 }

// Charger returns the extended-id charger family.
func Charger() *Registry {
	return NewRegistry("charger").mustRegister(
		New(IDChargerBroadcast, "charger broadcast", 8,
			always(func(d []byte, v *ChargerBroadcast) {
				v.OutputVoltage = float64(u16BE(d[0:2])) * 0.1
				v.OutputCurrent = float64(u16BE(d[2:4])) * 0.1
				v.Status = d[4]
			}),
			func(v *ChargerBroadcast, b *[8]byte) {
				putU16BE(b[0:2], satU16(v.OutputVoltage, 0.1))
				putU16BE(b[2:4], satU16(v.OutputCurrent, 0.1))
				b[4] = v.Status
			}),
	)
}
