package motor

type Fault uint32

const (
	FaultNone Fault = iota
	FaultDCOverVoltage
	FaultDCUnderVoltage
	FaultOverCurrent
	FaultInverterOverTemperature
	FaultMotorOverTemperature
	FaultPositionSensor
	FaultPrecharge
	FaultGeneral
)

type FaultSeverity int

const (
	SeverityWarning FaultSeverity = iota
	SeverityCritical
)

type FaultConfig struct {
	Code        Fault
	Description string
	Severity    FaultSeverity
}

var faultConfigs = map[Fault]FaultConfig{
	FaultDCOverVoltage:           {FaultDCOverVoltage, "DC bus over-voltage", SeverityCritical},
	FaultDCUnderVoltage:          {FaultDCUnderVoltage, "DC bus under-voltage", SeverityWarning},
	FaultOverCurrent:             {FaultOverCurrent, "Over-current", SeverityCritical},
	FaultInverterOverTemperature: {FaultInverterOverTemperature, "Inverter over-temperature", SeverityWarning},
	FaultMotorOverTemperature:    {FaultMotorOverTemperature, "Motor over-temperature", SeverityWarning},
	FaultPositionSensor:          {FaultPositionSensor, "Resolver fault", SeverityCritical},
	FaultPrecharge:               {FaultPrecharge, "Precharge failed", SeverityCritical},
	FaultGeneral:                 {FaultGeneral, "Inverter general fault", SeverityCritical},
}

func GetFaultConfig(fault Fault) (FaultConfig, bool) {
	config, ok := faultConfigs[fault]
	return config, ok
}

func (f Fault) String() string {
	if c, ok := faultConfigs[f]; ok {
		return c.Description
	}
	if f == FaultNone {
		return "No fault"
	}
	return "Unknown fault"
}

// Nissan inverter status bits from byte 6 of 0x1F2.
var nissanFaultMap = map[uint32]Fault{
	0x01: FaultDCOverVoltage,
	0x02: FaultDCUnderVoltage,
	0x04: FaultOverCurrent,
	0x08: FaultInverterOverTemperature,
	0x10: FaultMotorOverTemperature,
	0x20: FaultPositionSensor,
	0x40: FaultPrecharge,
	0x80: FaultGeneral,
}

func MapNissanFault(code uint32) Fault {
	if fault, ok := nissanFaultMap[code]; ok {
		return fault
	}
	return FaultNone
}

// ROAM fault bits. The RM100 has no fault frame on this bus, so the
// monitor synthesizes these from its temperature and voltage frames.
const (
	roamFaultModuleHot  uint32 = 0x01
	roamFaultMotorHot   uint32 = 0x02
	roamFaultBusLow     uint32 = 0x04
	roamFaultBusHigh    uint32 = 0x08
	roamFaultCurrentMax uint32 = 0x10
)

var roamFaultMap = map[uint32]Fault{
	roamFaultModuleHot:  FaultInverterOverTemperature,
	roamFaultMotorHot:   FaultMotorOverTemperature,
	roamFaultBusLow:     FaultDCUnderVoltage,
	roamFaultBusHigh:    FaultDCOverVoltage,
	roamFaultCurrentMax: FaultOverCurrent,
}

func MapRoamFault(code uint32) Fault {
	if fault, ok := roamFaultMap[code]; ok {
		return fault
	}
	return FaultNone
}

// activeFaults expands a fault bit field through mapFn.
func activeFaults(code uint32, mapFn func(uint32) Fault) map[Fault]bool {
	faults := make(map[Fault]bool)
	for bit := 0; bit < 8; bit++ {
		if code&(1<<bit) == 0 {
			continue
		}
		if fault := mapFn(uint32(1 << bit)); fault != FaultNone {
			faults[fault] = true
		}
	}
	return faults
}
