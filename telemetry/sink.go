// Package telemetry ships decoded battery and motor state to off-vehicle
// stores. Sinks are written from the pump goroutine at a low rate and must
// not block it.
package telemetry

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"leaf-can-gateway/bus"
	"leaf-can-gateway/gateway"
	"leaf-can-gateway/motor"
)

type Sink interface {
	WriteSnapshot(st gateway.Status, at time.Time) error
	WriteMotor(m motor.State, at time.Time) error
	Close() error
}

// NewSession returns an identifier tagging every record of one run.
func NewSession() string {
	return uuid.NewString()
}

// Fanout writes to every sink and joins their errors.
type Fanout []Sink

func (f Fanout) WriteSnapshot(st gateway.Status, at time.Time) error {
	var errs []error
	for _, s := range f {
		if err := s.WriteSnapshot(st, at); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) WriteMotor(m motor.State, at time.Time) error {
	var errs []error
	for _, s := range f {
		if err := s.WriteMotor(m, at); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Close() error {
	var errs []error
	for _, s := range f {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type InfluxConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

func (c InfluxConfig) Enabled() bool { return c.URL != "" }

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Prefix   string `yaml:"prefix"`
	QoS      byte   `yaml:"qos"`
}

func (c MQTTConfig) Enabled() bool { return c.Broker != "" }

type Config struct {
	Influx InfluxConfig `yaml:"influx"`
	MQTT   MQTTConfig   `yaml:"mqtt"`
}

// Open connects every configured sink. A nil Sink is returned when none is
// configured.
func Open(cfg Config, session string, logger bus.Logger) (Sink, error) {
	var sinks Fanout
	if cfg.Influx.Enabled() {
		sinks = append(sinks, NewInfluxSink(cfg.Influx, session, logger))
	}
	if cfg.MQTT.Enabled() {
		s, err := NewMQTTSink(cfg.MQTT, session, logger)
		if err != nil {
			sinks.Close()
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if len(sinks) == 0 {
		return nil, nil
	}
	logger.Info("Telemetry session %s with %d sink(s)", session, len(sinks))
	return sinks, nil
}
