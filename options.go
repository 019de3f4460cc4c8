package main

import "fmt"

type LogLevel int

const (
	LogLevelNone  LogLevel = 0
	LogLevelError LogLevel = 1
	LogLevelWarn  LogLevel = 2
	LogLevelInfo  LogLevel = 3
	LogLevelDebug LogLevel = 4
)

func (l LogLevel) Valid() bool {
	return l >= LogLevelNone && l <= LogLevelDebug
}

// Options are the command line settings. Zero values leave whatever the
// config file (or the defaults) said.
type Options struct {
	ConfigFile      string
	LogLevel        LogLevel
	LogJSON         bool
	RedisServerAddr string
	RedisServerPort uint16
	BatteryDevice   string
	ESSDevice       string
	BatteryVendor   string
	MotorType       string
	ReplayFile      string
}

// Apply overlays the flags that were given onto cfg.
func (o *Options) Apply(cfg *Config, set map[string]bool) {
	if set["log"] {
		cfg.LogLevel = int(o.LogLevel)
	}
	if set["log_json"] {
		cfg.LogJSON = o.LogJSON
	}
	if set["redis_server"] || set["redis_port"] {
		host, port := cfg.RedisHostPort()
		if set["redis_server"] {
			host = o.RedisServerAddr
		}
		if set["redis_port"] {
			port = o.RedisServerPort
		}
		cfg.Redis.Addr = fmt.Sprintf("%s:%d", host, port)
	}
	if set["battery_device"] {
		cfg.Battery.Interface = o.BatteryDevice
	}
	if set["ess_device"] {
		cfg.ESS.Interface = o.ESSDevice
	}
	if set["battery"] {
		cfg.Gateway.Vendor = o.BatteryVendor
	}
	if set["motor"] {
		cfg.Motor.Type = o.MotorType
	}
	if set["replay"] {
		cfg.Battery.Replay = o.ReplayFile
	}
}
