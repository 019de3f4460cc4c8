package main

import (
	"time"

	"leaf-can-gateway/gateway"
	"leaf-can-gateway/motor"
	"leaf-can-gateway/vehicle"
)

// Redis hash layouts written by the gateway

type RedisBatteryStatus struct {
	Voltage     float64
	Current     float64
	SOC         float64
	SOH         float64
	TempMin     int
	TempMax     int
	TempAvg     int
	CellMin     float64
	CellMax     float64
	Charging    bool
	Temperature gateway.TemperatureState
}

type RedisLimits struct {
	ChargeCurrent    float64
	DischargeCurrent float64
	ChargeVoltage    float64
	DischargeVoltage float64
	Alarms           uint8
	Warnings         uint8
}

type RedisMotorStatus struct {
	MotorVoltage float64
	MotorCurrent float64
	RPM          int
	Speed        uint16
	Direction    string
	InverterTemp int
	MotorTemp    int
	Torque       float64
}

type RedisVehicleStatus struct {
	HasFix         bool
	Latitude       float64
	Longitude      float64
	Altitude       int
	Speed          float64
	Heading        float64
	Satellites     int
	Timestamp      string
	Supply12V      float64
	Supply5V       float64
	Current12V     float64
	DashOnline     bool
	ChargerVoltage float64
	ChargerCurrent float64
	ChargerStatus  uint8
}

func batteryStatusFrom(st gateway.Status) RedisBatteryStatus {
	s := st.Snapshot
	return RedisBatteryStatus{
		Voltage:     s.PackVoltage,
		Current:     s.PackCurrent,
		SOC:         s.SOC,
		SOH:         s.SOH,
		TempMin:     int(s.TempMin),
		TempMax:     int(s.TempMax),
		TempAvg:     int(s.TempAvg),
		CellMin:     s.CellMin,
		CellMax:     s.CellMax,
		Charging:    s.Charging,
		Temperature: st.Thermal,
	}
}

func limitsFrom(l gateway.Limits) RedisLimits {
	return RedisLimits{
		ChargeCurrent:    l.ChargeCurrent,
		DischargeCurrent: l.DischargeCurrent,
		ChargeVoltage:    l.ChargeVoltage,
		DischargeVoltage: l.DischargeVoltage,
		Alarms:           l.Alarms,
		Warnings:         l.Warnings,
	}
}

func motorStatusFrom(m motor.State) RedisMotorStatus {
	speed := m.SpeedKPH
	if speed < 0 {
		speed = 0
	}
	return RedisMotorStatus{
		MotorVoltage: m.Voltage,
		MotorCurrent: m.Current,
		RPM:          m.RPM,
		Speed:        uint16(speed + 0.5),
		Direction:    m.Direction.String(),
		InverterTemp: int(m.InverterTemp),
		MotorTemp:    int(m.MotorTemp),
		Torque:       m.Torque,
	}
}

func vehicleStatusFrom(s vehicle.State) RedisVehicleStatus {
	v := RedisVehicleStatus{
		HasFix:         s.HasFix(),
		Latitude:       s.Position.Latitude,
		Longitude:      s.Velocity.Longitude,
		Altitude:       int(s.Position.Altitude),
		Speed:          s.Velocity.Speed,
		Heading:        s.Velocity.Heading,
		Satellites:     int(s.Position.Satellites),
		Supply12V:      s.Body.Supply12V,
		Supply5V:       s.Body.Supply5V,
		Current12V:     s.Body.Current12V,
		DashOnline:     s.DashOnline,
		ChargerVoltage: s.Charger.OutputVoltage,
		ChargerCurrent: s.Charger.OutputCurrent,
		ChargerStatus:  s.Charger.Status,
	}
	if !s.GPSTime.IsZero() {
		v.Timestamp = s.GPSTime.Format(time.RFC3339)
	}
	return v
}
