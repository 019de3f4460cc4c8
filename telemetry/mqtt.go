package telemetry

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"leaf-can-gateway/bus"
	"leaf-can-gateway/gateway"
	"leaf-can-gateway/motor"
)

const (
	mqttConnectTimeout = 5 * time.Second
	mqttPublishTimeout = 2 * time.Second
)

// mqttPublisher is the part of mqtt.Client the sink uses.
type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTSink publishes JSON documents under <prefix>/<session>/.
type MQTTSink struct {
	client  mqttPublisher
	prefix  string
	qos     byte
	session string
	log     bus.Logger
}

type batteryMessage struct {
	Session        string  `json:"session"`
	Time           int64   `json:"time"`
	Voltage        float64 `json:"voltage"`
	Current        float64 `json:"current"`
	SOC            float64 `json:"soc"`
	SOH            float64 `json:"soh"`
	TempMin        int8    `json:"temp_min"`
	TempMax        int8    `json:"temp_max"`
	TempAvg        int8    `json:"temp_avg"`
	Charging       bool    `json:"charging"`
	ChargeLimit    float64 `json:"charge_limit"`
	DischargeLimit float64 `json:"discharge_limit"`
	DerateReason   string  `json:"derate_reason"`
	Alarms         uint8   `json:"alarms"`
	Warnings       uint8   `json:"warnings"`
	Stale          bool    `json:"stale"`
}

type motorMessage struct {
	Session   string  `json:"session"`
	Time      int64   `json:"time"`
	Speed     float64 `json:"speed"`
	RPM       int     `json:"rpm"`
	Direction string  `json:"direction"`
	Voltage   float64 `json:"voltage"`
	Current   float64 `json:"current"`
	Inverter  float64 `json:"inverter_temp"`
	Motor     float64 `json:"motor_temp"`
	Torque    float64 `json:"torque"`
	FaultCode uint32  `json:"fault_code"`
}

func NewMQTTSink(cfg MQTTConfig, session string, logger bus.Logger) (*MQTTSink, error) {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "leaf-can-gateway-" + session
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		logger.Info("Connected to MQTT broker %s", cfg.Broker)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost: %v", err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		// ConnectRetry keeps trying in the background.
		logger.Warn("MQTT broker %s not reachable yet, retrying in background", cfg.Broker)
	} else if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", cfg.Broker, err)
	}

	return newMQTTSink(client, cfg, session, logger), nil
}

func newMQTTSink(client mqttPublisher, cfg MQTTConfig, session string, logger bus.Logger) *MQTTSink {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "leaf"
	}
	return &MQTTSink{client: client, prefix: prefix, qos: cfg.QoS, session: session, log: logger}
}

func (s *MQTTSink) topic(leaf string) string {
	return fmt.Sprintf("%s/%s/%s", s.prefix, s.session, leaf)
}

func (s *MQTTSink) publish(leaf string, msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", leaf, err)
	}
	topic := s.topic(leaf)
	token := s.client.Publish(topic, s.qos, false, payload)
	go func() {
		if !token.WaitTimeout(mqttPublishTimeout) {
			s.log.Debug("MQTT publish to %s timed out", topic)
		} else if err := token.Error(); err != nil {
			s.log.Warn("MQTT publish to %s failed: %v", topic, err)
		}
	}()
	return nil
}

func (s *MQTTSink) WriteSnapshot(st gateway.Status, at time.Time) error {
	snap, l := st.Snapshot, st.Limits
	return s.publish("battery", batteryMessage{
		Session:        s.session,
		Time:           at.UnixMilli(),
		Voltage:        snap.PackVoltage,
		Current:        snap.PackCurrent,
		SOC:            snap.SOC,
		SOH:            snap.SOH,
		TempMin:        snap.TempMin,
		TempMax:        snap.TempMax,
		TempAvg:        snap.TempAvg,
		Charging:       snap.Charging,
		ChargeLimit:    l.ChargeCurrent,
		DischargeLimit: l.DischargeCurrent,
		DerateReason:   l.Reason.String(),
		Alarms:         l.Alarms,
		Warnings:       l.Warnings,
		Stale:          l.Stale,
	})
}

func (s *MQTTSink) WriteMotor(m motor.State, at time.Time) error {
	return s.publish("motor", motorMessage{
		Session:   s.session,
		Time:      at.UnixMilli(),
		Speed:     m.SpeedKPH,
		RPM:       m.RPM,
		Direction: m.Direction.String(),
		Voltage:   m.Voltage,
		Current:   m.Current,
		Inverter:  m.InverterTemp,
		Motor:     m.MotorTemp,
		Torque:    m.Torque,
		FaultCode: m.FaultCode,
	})
}

func (s *MQTTSink) Close() error {
	s.client.Disconnect(250)
	return nil
}
