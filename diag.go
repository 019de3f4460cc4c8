package main

import (
	"context"
	"sync"

	"github.com/go-redis/redis/v8"

	"leaf-can-gateway/codec"
	"leaf-can-gateway/motor"
)

const (
	diagEventStream       = "events:faults"
	diagEventStreamMaxLen = 1000
)

// DiagFault is a fault code reported under one diagnostic group.
type DiagFault uint32

// Battery gateway fault codes. Alarms and warnings for the same condition
// are separate codes so a warning clears when it escalates.
const (
	DiagFaultNone DiagFault = iota
	DiagFaultSOCLow
	DiagFaultOverTemperature
	DiagFaultUnderTemperature
	DiagFaultBatteryDataStale
	DiagFaultSOCLowWarning
	DiagFaultHighTemperatureWarning
	DiagFaultLowTemperatureWarning
)

// DiagFaultMotorDataStale sits above the motor.Fault codes reported in the
// engine-ecu group.
const DiagFaultMotorDataStale DiagFault = 100

type diagBit struct {
	bit         uint8
	warning     bool
	fault       DiagFault
	description string
}

var batteryDiagBits = []diagBit{
	{codec.AlarmSOC, false, DiagFaultSOCLow, "Battery state of charge critically low"},
	{codec.AlarmHighTemp, false, DiagFaultOverTemperature, "Battery over-temperature"},
	{codec.AlarmLowTemp, false, DiagFaultUnderTemperature, "Battery under-temperature"},
	{codec.AlarmStale, false, DiagFaultBatteryDataStale, "Battery data stale"},
	{codec.AlarmSOC, true, DiagFaultSOCLowWarning, "Battery state of charge low"},
	{codec.AlarmHighTemp, true, DiagFaultHighTemperatureWarning, "Battery temperature high"},
	{codec.AlarmLowTemp, true, DiagFaultLowTemperatureWarning, "Battery temperature low"},
}

// batteryFaults expands ESS alarm and warning bytes into gateway faults.
// The stale bit is carried in both bytes and reported once.
func batteryFaults(alarms, warnings uint8) map[DiagFault]bool {
	faults := make(map[DiagFault]bool, len(batteryDiagBits))
	for _, b := range batteryDiagBits {
		src := alarms
		if b.warning {
			src = warnings
		}
		faults[b.fault] = src&b.bit != 0
	}
	return faults
}

func batteryFaultDescription(f DiagFault) (string, bool) {
	for _, b := range batteryDiagBits {
		if b.fault == f {
			return b.description, true
		}
	}
	return "", false
}

func motorFaults(faults map[motor.Fault]bool, stale bool) map[DiagFault]bool {
	codes := make(map[DiagFault]bool, len(faults)+1)
	for f := motor.FaultDCOverVoltage; f <= motor.FaultGeneral; f++ {
		codes[DiagFault(f)] = faults[f]
	}
	codes[DiagFaultMotorDataStale] = stale
	return codes
}

func motorFaultDescription(f DiagFault) (string, bool) {
	if f == DiagFaultMotorDataStale {
		return "Motor controller data stale", true
	}
	config, ok := motor.GetFaultConfig(motor.Fault(f))
	return config.Description, ok
}

type diagGroup struct {
	name        string
	setKey      string
	channel     string
	faultStates map[DiagFault]bool
}

func newDiagGroup(name string) *diagGroup {
	return &diagGroup{
		name:        name,
		setKey:      name + ":fault",
		channel:     name,
		faultStates: make(map[DiagFault]bool),
	}
}

// Diag mirrors fault state into Redis: a set of active codes per group and
// a shared event stream with a notification per change.
type Diag struct {
	log     *LeveledLogger
	redis   *redis.Client
	mu      sync.Mutex
	battery *diagGroup
	motor   *diagGroup
	ctx     context.Context
}

func NewDiag(logger *LeveledLogger, redis *redis.Client) *Diag {
	return &Diag{
		log:     logger,
		redis:   redis,
		battery: newDiagGroup(ipcGatewayKey),
		motor:   newDiagGroup(ipcMotorKey),
		ctx:     context.Background(),
	}
}

func (d *Diag) Destroy() {}

// SetBatteryAlarms reports the ESS alarm and warning bytes as faults.
func (d *Diag) SetBatteryAlarms(alarms, warnings uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.apply(d.battery, batteryFaults(alarms, warnings), batteryFaultDescription)
}

// SetMotorFaults reports the active drive unit faults.
func (d *Diag) SetMotorFaults(faults map[motor.Fault]bool, stale bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.apply(d.motor, motorFaults(faults, stale), motorFaultDescription)
}

func (d *Diag) apply(g *diagGroup, faults map[DiagFault]bool, describe func(DiagFault) (string, bool)) {
	for fault, present := range faults {
		if fault == DiagFaultNone || g.faultStates[fault] == present {
			continue
		}
		g.faultStates[fault] = present

		description, ok := describe(fault)
		if !ok {
			d.log.Warn("Unknown %s fault code: %d", g.name, fault)
			continue
		}

		if present {
			d.log.Warn("Fault set: group=%s code=%d, description=%s", g.name, fault, description)
			d.reportFaultPresent(g, fault, description)
		} else {
			d.log.Info("Fault cleared: group=%s code=%d, description=%s", g.name, fault, description)
			d.reportFaultAbsent(g, fault)
		}
	}
}

// ActiveBatteryFaults returns the battery codes currently set, in table
// order.
func (d *Diag) ActiveBatteryFaults() []DiagFault {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []DiagFault
	for _, b := range batteryDiagBits {
		if d.battery.faultStates[b.fault] {
			out = append(out, b.fault)
		}
	}
	return out
}

func (d *Diag) reportFaultPresent(g *diagGroup, fault DiagFault, description string) {
	if d.redis == nil {
		return
	}
	pipe := d.redis.Pipeline()

	pipe.SAdd(d.ctx, g.setKey, uint32(fault))

	pipe.XAdd(d.ctx, &redis.XAddArgs{
		Stream: diagEventStream,
		MaxLen: diagEventStreamMaxLen,
		Values: map[string]interface{}{
			"group":       g.name,
			"code":        uint32(fault),
			"description": description,
		},
	})

	pipe.Publish(d.ctx, g.channel, "fault")

	if _, err := pipe.Exec(d.ctx); err != nil {
		d.log.Error("Failed to report fault present: %v", err)
	}
}

func (d *Diag) reportFaultAbsent(g *diagGroup, fault DiagFault) {
	if d.redis == nil {
		return
	}
	pipe := d.redis.Pipeline()

	pipe.SRem(d.ctx, g.setKey, uint32(fault))

	pipe.XAdd(d.ctx, &redis.XAddArgs{
		Stream: diagEventStream,
		MaxLen: diagEventStreamMaxLen,
		Values: map[string]interface{}{
			"group": g.name,
			"code":  -int32(fault),
		},
	})

	pipe.Publish(d.ctx, g.channel, "fault")

	if _, err := pipe.Exec(d.ctx); err != nil {
		d.log.Error("Failed to report fault absent: %v", err)
	}
}
