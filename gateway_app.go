package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"leaf-can-gateway/bus"
	"leaf-can-gateway/gateway"
	"leaf-can-gateway/motor"
	"leaf-can-gateway/telemetry"
	"leaf-can-gateway/vehicle"
)

// report is one copy of everything the reporter publishes. It is built on
// the pump goroutine and handed over by value.
type report struct {
	at         time.Time
	status     gateway.Status
	hasMotor   bool
	motor      motor.State
	motorStale bool
	faults     map[motor.Fault]bool
	hasAux     bool
	aux        vehicle.State
}

type GatewayApp struct {
	log     *LeveledLogger
	cfg     Config
	redis   *redis.Client
	ipcRx   *IPCRx
	ipcTx   *IPCTx
	diag    *Diag
	gateway *gateway.Gateway
	motor   motor.Monitor
	aux     *vehicle.Monitor
	battery *bus.Dispatcher
	ess     *bus.Dispatcher
	sink    telemetry.Sink
	session string
	clock   bus.Clock

	reports chan report
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// run goroutine only
	staleChanged bool

	// reporter goroutine only
	lastSpeed      uint16
	lastReason     gateway.DerateReason
	lastStale      bool
	lastMotorStale bool
}

// writeDefaultRedisState writes default values to Redis
func (app *GatewayApp) writeDefaultRedisState() {
	app.mu.Lock()
	defer app.mu.Unlock()

	if err := app.ipcTx.SendBatteryStatus(RedisBatteryStatus{Temperature: gateway.TemperatureStateUnknown}); err != nil {
		app.log.Error("Failed to send default battery status: %v", err)
	}

	if err := app.ipcTx.SendLimits(RedisLimits{}); err != nil {
		app.log.Error("Failed to send default limits: %v", err)
	}

	if err := app.ipcTx.SendDerateReason(gateway.DerateReasonNone); err != nil {
		app.log.Error("Failed to send default derate reason: %v", err)
	}

	if err := app.ipcTx.SendStale(true); err != nil {
		app.log.Error("Failed to send default gateway state: %v", err)
	}

	if app.cfg.Motor.Enabled {
		if err := app.ipcTx.SendMotorStatus(RedisMotorStatus{Direction: "stopped"}, false); err != nil {
			app.log.Error("Failed to send default motor status: %v", err)
		}
	}

	app.log.Info("Default Redis state written")
}

func NewGatewayApp(cfg Config, logger *LeveledLogger) (*GatewayApp, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &GatewayApp{
		log:       logger,
		cfg:       cfg,
		clock:     bus.NewMonotonicClock(),
		reports:   make(chan report, 1),
		ctx:       ctx,
		cancel:    cancel,
		lastStale: true,
	}

	// Initialize Redis client with timeouts
	app.redis = redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     "",
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	// Test Redis connection with timeout
	connectCtx, connectCancel := context.WithTimeout(ctx, 5*time.Second)
	defer connectCancel()

	app.log.Info("Connecting to Redis at %s...", cfg.Redis.Addr)

	if err := app.redis.Ping(connectCtx).Err(); err != nil {
		app.log.Error("Failed to connect to Redis: %v", err)
		app.Destroy()
		return nil, fmt.Errorf("failed to connect to Redis: %v", err)
	}
	app.log.Info("Successfully connected to Redis")

	app.ipcTx = NewIPCTx(app.log.With("ipc-tx"), app.redis)
	app.log.Info("IPC TX component initialized")

	app.writeDefaultRedisState()

	app.diag = NewDiag(app.log.With("diag"), app.redis)
	app.log.Info("Diagnostics component initialized")

	if err := app.initBuses(); err != nil {
		app.Destroy()
		return nil, err
	}

	app.session = telemetry.NewSession()
	sink, err := telemetry.Open(cfg.Telemetry, app.session, app.log.With("telemetry"))
	if err != nil {
		// telemetry is optional; the gateway keeps running without it
		app.log.Error("Failed to open telemetry sinks: %v", err)
	} else if sink != nil {
		app.sink = sink
		app.log.Info("Telemetry component initialized (session %s)", app.session)
	}

	app.ipcRx = NewIPCRx(app.log.With("ipc-rx"), app.redis)
	app.log.Info("IPC RX component initialized")

	app.wg.Add(3)
	go app.redisHealthCheck()
	go app.reportLoop()
	go app.run()

	return app, nil
}

func (app *GatewayApp) newTransport(b BusConfig, logger bus.Logger) (bus.Transport, error) {
	if b.Replay == "" {
		return bus.NewSocketCAN(logger), nil
	}
	f, err := os.Open(b.Replay)
	if err != nil {
		return nil, fmt.Errorf("failed to open replay log: %v", err)
	}
	p := bus.NewPlayback(f)
	p.Speed = b.ReplaySpeed
	p.Loop = b.ReplayLoop
	app.log.Info("Replaying %s on %s at %.1fx", b.Replay, b.Interface, b.ReplaySpeed)
	return p, nil
}

// initBuses wires the gateway and motor monitor to both dispatchers and
// starts them. All tables are filled before Begin.
func (app *GatewayApp) initBuses() error {
	var err error

	app.gateway, err = gateway.New(app.cfg.gatewayConfig(), app.clock, app.log.With("gateway"))
	if err != nil {
		return fmt.Errorf("failed to create gateway: %v", err)
	}
	app.gateway.OnStale(func(stale bool) {
		app.staleChanged = true
	})
	app.log.Info("Gateway component initialized - battery vendor: %s", app.cfg.Gateway.Vendor)

	batteryLog := app.log.With("battery-bus")
	batteryTransport, err := app.newTransport(app.cfg.Battery, batteryLog)
	if err != nil {
		return err
	}
	app.battery = bus.NewDispatcher("battery", batteryTransport, app.cfg.Battery.transport(),
		app.cfg.Dispatcher.options(app.clock, batteryLog))

	essLog := app.log.With("ess-bus")
	essTransport, err := app.newTransport(app.cfg.ESS, essLog)
	if err != nil {
		return err
	}
	app.ess = bus.NewDispatcher("ess", essTransport, app.cfg.ESS.transport(),
		app.cfg.Dispatcher.options(app.clock, essLog))

	if err := app.gateway.Attach(app.battery, app.ess); err != nil {
		return fmt.Errorf("failed to attach gateway: %v", err)
	}

	if app.cfg.Motor.Enabled {
		mt, _ := motor.ParseType(app.cfg.Motor.Type)
		app.motor, err = motor.NewMonitor(mt, app.log.With("motor"), app.clock)
		if err != nil {
			return fmt.Errorf("failed to create motor monitor: %v", err)
		}
		if err := app.motor.Attach(app.battery); err != nil {
			return fmt.Errorf("failed to attach motor monitor: %v", err)
		}
		app.log.Info("Motor component initialized - selected motor type: %s", mt)
	}

	if app.cfg.Aux.Enabled {
		app.aux, err = vehicle.NewMonitor(app.log.With("aux"), app.clock)
		if err != nil {
			return fmt.Errorf("failed to create aux monitor: %v", err)
		}
		if err := app.aux.Attach(app.battery); err != nil {
			return fmt.Errorf("failed to attach aux monitor: %v", err)
		}
		app.log.Info("Aux component initialized")
	}

	if err := app.battery.Begin(app.ctx); err != nil {
		return fmt.Errorf("failed to start battery bus: %v", err)
	}
	if err := app.ess.Begin(app.ctx); err != nil {
		return fmt.Errorf("failed to start ess bus: %v", err)
	}
	return nil
}

// run owns both dispatchers and the gateway. Nothing else calls into them
// once it has started.
func (app *GatewayApp) run() {
	defer app.wg.Done()

	pump := time.NewTicker(app.cfg.Dispatcher.pumpInterval())
	defer pump.Stop()
	tick := time.NewTicker(DefaultTelemetryInterval)
	defer tick.Stop()

	for {
		select {
		case <-app.ctx.Done():
			return
		case o := <-app.ipcRx.Overrides():
			app.gateway.SetSOHOverride(o.SOH, o.Set)
		case <-pump.C:
			app.battery.Pump()
			app.ess.Pump()
			// publish stale transitions now rather than on the next tick
			if app.staleChanged {
				app.staleChanged = false
				app.queueReport()
			}
		case <-tick.C:
			st := app.gateway.Refresh()
			if app.cfg.Aux.Gauges {
				app.driveGauges(st)
			}
			app.queueReport()
		}
	}
}

// driveGauges shows SOC in percent and pack power in 0.1 kW on the
// dashboard.
func (app *GatewayApp) driveGauges(st gateway.Status) {
	if st.Limits.Stale {
		return
	}
	s := st.Snapshot
	if err := app.aux.SendGauge(app.battery, vehicle.GaugeSOC, s.SOC); err != nil {
		app.log.Debug("SOC gauge: %v", err)
	}
	if err := app.aux.SendGauge(app.battery, vehicle.GaugePower, s.PackVoltage*s.PackCurrent/100); err != nil {
		app.log.Debug("Power gauge: %v", err)
	}
}

// queueReport hands the latest state to the reporter, replacing one it has
// not picked up yet.
func (app *GatewayApp) queueReport() {
	r := report{at: time.Now(), status: app.gateway.Last()}
	if app.motor != nil {
		r.hasMotor = true
		r.motor = app.motor.State()
		r.motorStale = app.motor.IsDataStale()
		r.faults = app.motor.GetActiveFaults()
	}
	if app.aux != nil {
		r.hasAux = true
		r.aux = app.aux.State()
	}

	select {
	case app.reports <- r:
	default:
		select {
		case <-app.reports:
		default:
		}
		app.reports <- r
	}
}

func (app *GatewayApp) reportLoop() {
	defer app.wg.Done()

	for {
		select {
		case <-app.ctx.Done():
			return
		case r := <-app.reports:
			app.publish(r)
		}
	}
}

func (app *GatewayApp) publish(r report) {
	st := r.status

	if err := app.ipcTx.SendBatteryStatus(batteryStatusFrom(st)); err != nil {
		app.log.Error("Failed to send battery status: %v", err)
	}
	if err := app.ipcTx.SendLimits(limitsFrom(st.Limits)); err != nil {
		app.log.Error("Failed to send limits: %v", err)
	}
	if st.Limits.Reason != app.lastReason {
		if err := app.ipcTx.SendDerateReason(st.Limits.Reason); err != nil {
			app.log.Error("Failed to send derate reason: %v", err)
		} else {
			app.lastReason = st.Limits.Reason
		}
	}
	if st.Limits.Stale != app.lastStale {
		if err := app.ipcTx.SendStale(st.Limits.Stale); err != nil {
			app.log.Error("Failed to send gateway state: %v", err)
		} else {
			app.lastStale = st.Limits.Stale
		}
	}
	app.diag.SetBatteryAlarms(st.Limits.Alarms, st.Limits.Warnings)

	if r.hasMotor {
		status := motorStatusFrom(r.motor)
		changed := status.Speed != app.lastSpeed
		if err := app.ipcTx.SendMotorStatus(status, changed); err != nil {
			app.log.Error("Failed to send motor status: %v", err)
		} else {
			app.lastSpeed = status.Speed
		}
		if r.motorStale != app.lastMotorStale {
			if err := app.ipcTx.SendMotorStale(r.motorStale); err == nil {
				app.lastMotorStale = r.motorStale
			}
		}
		app.diag.SetMotorFaults(r.faults, r.motorStale)
	}

	if r.hasAux {
		if err := app.ipcTx.SendVehicleStatus(vehicleStatusFrom(r.aux)); err != nil {
			app.log.Error("Failed to send vehicle status: %v", err)
		}
	}

	if app.sink == nil {
		return
	}
	if err := app.sink.WriteSnapshot(st, r.at); err != nil {
		app.log.Warn("Telemetry snapshot write failed: %v", err)
	}
	if r.hasMotor && !r.motorStale {
		if err := app.sink.WriteMotor(r.motor, r.at); err != nil {
			app.log.Warn("Telemetry motor write failed: %v", err)
		}
	}
}

func (app *GatewayApp) redisHealthCheck() {
	defer app.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-app.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(app.ctx, 2*time.Second)
			if err := app.redis.Ping(ctx).Err(); err != nil {
				app.log.Error("Redis health check failed: %v", err)
			}
			cancel()

			if app.battery != nil {
				s := app.battery.Stats()
				app.log.Debug("Battery bus: rx=%d tx=%d errors=%d dropped=%d bus-off=%d",
					s.Received, s.Transmitted, s.Errors, s.Dropped, s.BusOff)
			}
		}
	}
}

func (app *GatewayApp) Destroy() {
	app.mu.Lock()
	defer app.mu.Unlock()

	app.log.Info("Shutting down gateway application...")

	if app.cancel != nil {
		app.cancel()
	}
	app.wg.Wait()

	if app.ipcRx != nil {
		app.ipcRx.Destroy()
		app.log.Info("IPC RX shutdown complete")
	}

	for _, d := range []*bus.Dispatcher{app.battery, app.ess} {
		if d == nil {
			continue
		}
		if err := d.End(); err != nil {
			app.log.Error("Error stopping %s bus: %v", d.Name(), err)
		} else {
			app.log.Info("%s bus shutdown complete", d.Name())
		}
	}

	if app.motor != nil {
		app.motor.Cleanup()
		app.log.Info("Motor shutdown complete")
	}

	if app.sink != nil {
		if err := app.sink.Close(); err != nil {
			app.log.Error("Error closing telemetry: %v", err)
		} else {
			app.log.Info("Telemetry shutdown complete")
		}
	}

	if app.diag != nil {
		app.diag.Destroy()
		app.log.Info("Diagnostics shutdown complete")
	}

	if app.ipcTx != nil {
		app.ipcTx.Destroy()
		app.log.Info("IPC TX shutdown complete")
	}

	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.log.Error("Error closing Redis connection: %v", err)
		} else {
			app.log.Info("Redis connection closed")
		}
	}

	app.log.Info("Gateway application shutdown complete")
}
