package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
)

var (
	version       = flag.Bool("version", false, "Print version info")
	help          = flag.Bool("help", false, "Print help")
	configFile    = flag.String("config", "", "YAML configuration file")
	logLevel      = flag.Int("log", 3, "Log level (0=NONE, 1=ERROR, 2=WARN, 3=INFO, 4=DEBUG)")
	logJSON       = flag.Bool("log_json", false, "Log JSON lines instead of console output")
	redisServer   = flag.String("redis_server", "127.0.0.1", "Redis server address")
	redisPort     = flag.Int("redis_port", 6379, "Redis server port")
	batteryDevice = flag.String("battery_device", "can0", "CAN device of the battery/vehicle bus")
	essDevice     = flag.String("ess_device", "can1", "CAN device of the inverter (ESS) bus")
	batteryVendor = flag.String("battery", "leaf", "Battery vendor (leaf or emboo)")
	motorType     = flag.String("motor", "nissan", "Motor controller (nissan or roam)")
	replayFile    = flag.String("replay", "", "Replay a candump -L log on the battery bus")
)

const (
	ProjectName    = "leaf-can-gateway"
	ProjectVersion = "1.0.0"
)

func printVersion() {
	fmt.Printf("%s v%s\n", ProjectName, ProjectVersion)
}

func printHelp() {
	printVersion()
	flag.PrintDefaults()
}

func main() {
	flag.Parse()

	if *version {
		printVersion()
		os.Exit(0)
	}

	if *help {
		printHelp()
		os.Exit(0)
	}

	if *redisPort <= 0 || *redisPort > 65535 {
		log.Fatalf("invalid redis port %d", *redisPort)
	}

	opts := &Options{
		ConfigFile:      *configFile,
		LogLevel:        LogLevel(*logLevel),
		LogJSON:         *logJSON,
		RedisServerAddr: *redisServer,
		RedisServerPort: uint16(*redisPort),
		BatteryDevice:   *batteryDevice,
		ESSDevice:       *essDevice,
		BatteryVendor:   *batteryVendor,
		MotorType:       *motorType,
		ReplayFile:      *replayFile,
	}

	cfg, err := LoadConfig(opts.ConfigFile)
	if err != nil {
		log.Fatalf("%v", err)
	}

	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	opts.Apply(&cfg, set)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger := NewLeveledLogger(os.Stderr, LogLevel(cfg.LogLevel), !cfg.LogJSON)
	logger.Info("%s v%s starting: battery %s on %s, ess on %s",
		ProjectName, ProjectVersion, cfg.Gateway.Vendor, cfg.Battery.Interface, cfg.ESS.Interface)

	app, err := NewGatewayApp(cfg, logger)
	if err != nil {
		logger.Fatalf("failed to create gateway app: %v", err)
	}
	defer app.Destroy()

	// Handle SIGINT and SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Run until signal received
	sig := <-sigChan
	logger.Info("Received %s", sig)
}
