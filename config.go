package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"leaf-can-gateway/bus"
	"leaf-can-gateway/codec"
	"leaf-can-gateway/gateway"
	"leaf-can-gateway/motor"
	"leaf-can-gateway/telemetry"
	"leaf-can-gateway/vehicle"
)

const (
	DefaultPumpInterval      = 10 * time.Millisecond
	DefaultTelemetryInterval = 1 * time.Second
)

type Config struct {
	LogLevel int  `yaml:"log_level"`
	LogJSON  bool `yaml:"log_json"`

	Redis      RedisConfig      `yaml:"redis"`
	Battery    BusConfig        `yaml:"battery_bus"`
	ESS        BusConfig        `yaml:"ess_bus"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Motor      MotorConfig      `yaml:"motor"`
	Aux        AuxConfig        `yaml:"aux"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Telemetry  telemetry.Config `yaml:"telemetry"`
}

type RedisConfig struct {
	Addr string `yaml:"addr"`
}

// BusConfig describes one CAN bus. Replay feeds the bus from a candump -L
// log instead of a SocketCAN interface.
type BusConfig struct {
	Interface     string  `yaml:"interface"`
	Bitrate       int     `yaml:"bitrate"`
	ConfigureLink bool    `yaml:"configure_link"`
	Replay        string  `yaml:"replay"`
	ReplaySpeed   float64 `yaml:"replay_speed"`
	ReplayLoop    bool    `yaml:"replay_loop"`
}

func (b BusConfig) transport() bus.Config {
	return bus.Config{
		Interface:     b.Interface,
		Bitrate:       b.Bitrate,
		ConfigureLink: b.ConfigureLink,
	}
}

type GatewayConfig struct {
	Vendor       string             `yaml:"vendor"`
	Pack         gateway.PackConfig `yaml:"pack"`
	ModuleFrames bool               `yaml:"module_frames"`
	StaleAfterMs int                `yaml:"stale_after_ms"`
}

type MotorConfig struct {
	Enabled bool   `yaml:"enabled"`
	Type    string `yaml:"type"`
}

// AuxConfig enables the GPS, body, dashboard and charger monitor on the
// battery bus. Gauges drives the dashboard SOC and power gauges at 1 Hz.
type AuxConfig struct {
	Enabled bool `yaml:"enabled"`
	Gauges  bool `yaml:"gauges"`
}

type DispatcherConfig struct {
	MaxSubscriptions int `yaml:"max_subscriptions"`
	MaxPublishers    int `yaml:"max_publishers"`
	QueueSize        int `yaml:"queue_size"`
	PumpIntervalMs   int `yaml:"pump_interval_ms"`
}

func (d DispatcherConfig) options(clock bus.Clock, logger bus.Logger) bus.Options {
	return bus.Options{
		MaxSubscriptions: d.MaxSubscriptions,
		MaxPublishers:    d.MaxPublishers,
		QueueSize:        d.QueueSize,
		Clock:            clock,
		Logger:           logger,
	}
}

func (d DispatcherConfig) pumpInterval() time.Duration {
	if d.PumpIntervalMs <= 0 {
		return DefaultPumpInterval
	}
	return time.Duration(d.PumpIntervalMs) * time.Millisecond
}

func DefaultConfig() Config {
	return Config{
		LogLevel: int(LogLevelInfo),
		Redis:    RedisConfig{Addr: "127.0.0.1:6379"},
		Battery:  BusConfig{Interface: "can0", Bitrate: bus.Bitrate500k, ReplaySpeed: 1},
		ESS:      BusConfig{Interface: "can1", Bitrate: bus.Bitrate500k},
		Gateway: GatewayConfig{
			Vendor:       string(gateway.VendorLeaf),
			Pack:         gateway.DefaultPackConfig(),
			StaleAfterMs: int(gateway.DefaultStaleAfter / time.Millisecond),
		},
		Motor: MotorConfig{Enabled: true, Type: motor.TypeNissan.String()},
		Dispatcher: DispatcherConfig{
			MaxSubscriptions: bus.DefaultMaxSubscriptions,
			MaxPublishers:    bus.DefaultMaxPublishers,
			QueueSize:        bus.DefaultQueueSize,
			PumpIntervalMs:   int(DefaultPumpInterval / time.Millisecond),
		},
	}
}

// LoadConfig reads a YAML file over the defaults. An empty path returns
// the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration without changing it.
func (c *Config) Validate() error {
	if !LogLevel(c.LogLevel).Valid() {
		return fmt.Errorf("invalid log level %d", c.LogLevel)
	}
	if _, _, err := net.SplitHostPort(c.Redis.Addr); err != nil {
		return fmt.Errorf("redis: invalid address %q: %w", c.Redis.Addr, err)
	}

	if c.Battery.Replay == "" {
		if err := c.Battery.transport().Validate(); err != nil {
			return fmt.Errorf("battery bus: %w", err)
		}
	} else if c.Battery.ReplaySpeed < 0 {
		return errors.New("battery bus: replay speed must not be negative")
	}
	if err := c.ESS.transport().Validate(); err != nil {
		return fmt.Errorf("ess bus: %w", err)
	}
	if c.ESS.Replay != "" {
		return errors.New("ess bus: replay is only supported on the battery bus")
	}
	if c.Battery.Replay == "" && c.Battery.Interface == c.ESS.Interface {
		return fmt.Errorf("battery and ess bus share interface %s", c.ESS.Interface)
	}

	vendor, err := gateway.ParseVendor(c.Gateway.Vendor)
	if err != nil {
		return err
	}
	if err := c.Gateway.Pack.Validate(); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	if c.Gateway.ModuleFrames && vendor != gateway.VendorEmboo {
		return fmt.Errorf("gateway: module frames need the %s vendor", gateway.VendorEmboo)
	}
	if c.Gateway.StaleAfterMs < 0 {
		return errors.New("gateway: stale_after_ms must not be negative")
	}

	mt, err := motor.ParseType(c.Motor.Type)
	if err != nil {
		return err
	}

	subs := len(vendor.SubscribedIDs())
	if c.Motor.Enabled {
		subs += len(mt.SubscribedIDs())
	}
	if c.Aux.Enabled {
		subs += len(vehicle.SubscribedIDs())
	} else if c.Aux.Gauges {
		return errors.New("aux: gauges need the aux monitor enabled")
	}
	if c.Dispatcher.MaxSubscriptions < subs {
		return fmt.Errorf("dispatcher: %d subscriptions needed, max_subscriptions is %d",
			subs, c.Dispatcher.MaxSubscriptions)
	}
	if pubs := c.publishersNeeded(); c.Dispatcher.MaxPublishers < pubs {
		return fmt.Errorf("dispatcher: %d publishers needed, max_publishers is %d",
			pubs, c.Dispatcher.MaxPublishers)
	}
	if c.Dispatcher.QueueSize <= 0 {
		return errors.New("dispatcher: queue_size must be positive")
	}

	if q := c.Telemetry.MQTT.QoS; q > 2 {
		return fmt.Errorf("telemetry: invalid mqtt qos %d", q)
	}
	return nil
}

func (c *Config) publishersNeeded() int {
	n := 5
	if c.Gateway.ModuleFrames {
		n += codec.ESSModuleFrames
	}
	return n
}

// RedisHostPort splits the redis address, falling back to the defaults.
func (c *Config) RedisHostPort() (string, uint16) {
	host, portStr, err := net.SplitHostPort(c.Redis.Addr)
	if err != nil {
		return "127.0.0.1", 6379
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return host, 6379
	}
	return host, uint16(port)
}

func (c *Config) gatewayConfig() gateway.Config {
	vendor, _ := gateway.ParseVendor(c.Gateway.Vendor)
	return gateway.Config{
		Vendor:       vendor,
		Pack:         c.Gateway.Pack,
		ModuleFrames: c.Gateway.ModuleFrames,
		StaleAfter:   time.Duration(c.Gateway.StaleAfterMs) * time.Millisecond,
	}
}
