package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"

	"leaf-can-gateway/gateway"
)

const (
	ipcBatteryKey = "battery:gateway"
	ipcGatewayKey = "bms-gateway"
	ipcMotorKey   = "engine-ecu"
	ipcGPSKey     = "gps"
	ipcAuxKey     = "vehicle-aux"
)

var onOff = map[bool]string{true: "on", false: "off"}

type IPCTx struct {
	log   *LeveledLogger
	redis *redis.Client
	mu    sync.Mutex
	ctx   context.Context
}

func NewIPCTx(logger *LeveledLogger, redis *redis.Client) *IPCTx {
	return &IPCTx{
		log:   logger,
		redis: redis,
		ctx:   context.Background(),
	}
}

func (tx *IPCTx) Destroy() {}

func (tx *IPCTx) SendBatteryStatus(data RedisBatteryStatus) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	pipe := tx.redis.Pipeline()

	pipe.HSet(tx.ctx, ipcBatteryKey, map[string]interface{}{
		"voltage":           fmt.Sprintf("%.1f", data.Voltage),
		"current":           fmt.Sprintf("%.1f", data.Current),
		"soc":               fmt.Sprintf("%.1f", data.SOC),
		"soh":               fmt.Sprintf("%.1f", data.SOH),
		"temperature:min":   data.TempMin,
		"temperature:max":   data.TempMax,
		"temperature:avg":   data.TempAvg,
		"cell-voltage:min":  fmt.Sprintf("%.3f", data.CellMin),
		"cell-voltage:max":  fmt.Sprintf("%.3f", data.CellMax),
		"charging":          onOff[data.Charging],
		"temperature-state": data.Temperature.String(),
	})

	pipe.Publish(tx.ctx, ipcBatteryKey, "status")

	if _, err := pipe.Exec(tx.ctx); err != nil {
		return fmt.Errorf("failed to send battery status: %v", err)
	}
	return nil
}

func (tx *IPCTx) SendLimits(data RedisLimits) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if err := tx.redis.HSet(tx.ctx, ipcGatewayKey, map[string]interface{}{
		"charge-current":    fmt.Sprintf("%.1f", data.ChargeCurrent),
		"discharge-current": fmt.Sprintf("%.1f", data.DischargeCurrent),
		"charge-voltage":    fmt.Sprintf("%.1f", data.ChargeVoltage),
		"discharge-voltage": fmt.Sprintf("%.1f", data.DischargeVoltage),
		"alarms":            fmt.Sprintf("%02X", data.Alarms),
		"warnings":          fmt.Sprintf("%02X", data.Warnings),
	}).Err(); err != nil {
		return fmt.Errorf("failed to send limits: %v", err)
	}
	return nil
}

func (tx *IPCTx) SendDerateReason(reason gateway.DerateReason) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	pipe := tx.redis.Pipeline()

	pipe.HSet(tx.ctx, ipcGatewayKey, "derate-reason", reason.String())
	pipe.Publish(tx.ctx, ipcGatewayKey, "derate-reason")

	if _, err := pipe.Exec(tx.ctx); err != nil {
		return fmt.Errorf("failed to send derate reason: %v", err)
	}
	return nil
}

func (tx *IPCTx) SendStale(stale bool) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	state := "ok"
	if stale {
		state = "stale"
	}

	pipe := tx.redis.Pipeline()

	pipe.HSet(tx.ctx, ipcGatewayKey, "state", state)
	pipe.Publish(tx.ctx, ipcGatewayKey, "state")

	if _, err := pipe.Exec(tx.ctx); err != nil {
		return fmt.Errorf("failed to send gateway state: %v", err)
	}
	return nil
}

// SendMotorStatus writes the drive unit readings. Speed changes are
// published so dashboards need not poll.
func (tx *IPCTx) SendMotorStatus(data RedisMotorStatus, speedChanged bool) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	pipe := tx.redis.Pipeline()

	pipe.HSet(tx.ctx, ipcMotorKey, map[string]interface{}{
		"motor:voltage":        fmt.Sprintf("%.1f", data.MotorVoltage),
		"motor:current":        fmt.Sprintf("%.1f", data.MotorCurrent),
		"rpm":                  data.RPM,
		"speed":                data.Speed,
		"direction":            data.Direction,
		"temperature:inverter": data.InverterTemp,
		"temperature:motor":    data.MotorTemp,
		"torque":               fmt.Sprintf("%.1f", data.Torque),
	})

	if speedChanged {
		pipe.Publish(tx.ctx, ipcMotorKey, "speed")
	}

	if _, err := pipe.Exec(tx.ctx); err != nil {
		return fmt.Errorf("failed to send motor status: %v", err)
	}
	return nil
}

func (tx *IPCTx) SendMotorStale(stale bool) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if err := tx.redis.HSet(tx.ctx, ipcMotorKey, "data", map[bool]string{true: "stale", false: "ok"}[stale]).Err(); err != nil {
		return fmt.Errorf("failed to send motor state: %v", err)
	}
	return nil
}

func (tx *IPCTx) SendVehicleStatus(data RedisVehicleStatus) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	pipe := tx.redis.Pipeline()

	if data.HasFix {
		pipe.HSet(tx.ctx, ipcGPSKey, map[string]interface{}{
			"latitude":   fmt.Sprintf("%.7f", data.Latitude),
			"longitude":  fmt.Sprintf("%.7f", data.Longitude),
			"altitude":   data.Altitude,
			"speed":      fmt.Sprintf("%.2f", data.Speed),
			"course":     fmt.Sprintf("%.2f", data.Heading),
			"satellites": data.Satellites,
			"timestamp":  data.Timestamp,
			"state":      "fix-established",
		})
	} else {
		pipe.HSet(tx.ctx, ipcGPSKey, "state", "searching")
	}

	pipe.HSet(tx.ctx, ipcAuxKey, map[string]interface{}{
		"voltage:12v":     fmt.Sprintf("%.2f", data.Supply12V),
		"voltage:5v":      fmt.Sprintf("%.2f", data.Supply5V),
		"current:12v":     fmt.Sprintf("%.2f", data.Current12V),
		"dashboard":       map[bool]string{true: "online", false: "offline"}[data.DashOnline],
		"charger:voltage": fmt.Sprintf("%.1f", data.ChargerVoltage),
		"charger:current": fmt.Sprintf("%.1f", data.ChargerCurrent),
		"charger:status":  fmt.Sprintf("%02X", data.ChargerStatus),
	})

	if _, err := pipe.Exec(tx.ctx); err != nil {
		return fmt.Errorf("failed to send vehicle status: %v", err)
	}
	return nil
}
