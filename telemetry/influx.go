package telemetry

import (
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"leaf-can-gateway/bus"
	"leaf-can-gateway/gateway"
	"leaf-can-gateway/motor"
)

// InfluxSink batches points through the non-blocking write API.
type InfluxSink struct {
	client  influxdb2.Client
	writer  api.WriteAPI
	session string
	log     bus.Logger
	done    chan struct{}
}

func NewInfluxSink(cfg InfluxConfig, session string, logger bus.Logger) *InfluxSink {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	s := &InfluxSink{
		client:  client,
		writer:  client.WriteAPI(cfg.Org, cfg.Bucket),
		session: session,
		log:     logger,
		done:    make(chan struct{}),
	}
	go s.drainErrors()
	logger.Info("InfluxDB sink writing to %s bucket %s", cfg.URL, cfg.Bucket)
	return s
}

func (s *InfluxSink) drainErrors() {
	errs := s.writer.Errors()
	for {
		select {
		case err := <-errs:
			s.log.Warn("InfluxDB write failed: %v", err)
		case <-s.done:
			return
		}
	}
}

func (s *InfluxSink) WriteSnapshot(st gateway.Status, at time.Time) error {
	s.writer.WritePoint(snapshotPoint(s.session, st, at))
	return nil
}

func (s *InfluxSink) WriteMotor(m motor.State, at time.Time) error {
	s.writer.WritePoint(motorPoint(s.session, m, at))
	return nil
}

func (s *InfluxSink) Close() error {
	s.writer.Flush()
	close(s.done)
	s.client.Close()
	return nil
}

func snapshotPoint(session string, st gateway.Status, at time.Time) *write.Point {
	snap, l := st.Snapshot, st.Limits
	return influxdb2.NewPointWithMeasurement("battery").
		AddTag("session", session).
		AddTag("thermal", st.Thermal.String()).
		AddField("voltage", snap.PackVoltage).
		AddField("current", snap.PackCurrent).
		AddField("soc", snap.SOC).
		AddField("soh", snap.SOH).
		AddField("temp_min", int(snap.TempMin)).
		AddField("temp_max", int(snap.TempMax)).
		AddField("temp_avg", int(snap.TempAvg)).
		AddField("cell_min", snap.CellMin).
		AddField("cell_max", snap.CellMax).
		AddField("charging", snap.Charging).
		AddField("charge_limit", l.ChargeCurrent).
		AddField("discharge_limit", l.DischargeCurrent).
		AddField("alarms", int(l.Alarms)).
		AddField("warnings", int(l.Warnings)).
		AddField("stale", l.Stale).
		SetTime(at)
}

func motorPoint(session string, m motor.State, at time.Time) *write.Point {
	return influxdb2.NewPointWithMeasurement("motor").
		AddTag("session", session).
		AddTag("direction", m.Direction.String()).
		AddField("speed", m.SpeedKPH).
		AddField("rpm", m.RPM).
		AddField("voltage", m.Voltage).
		AddField("current", m.Current).
		AddField("inverter_temp", m.InverterTemp).
		AddField("motor_temp", m.MotorTemp).
		AddField("torque", m.Torque).
		AddField("fault_code", int64(m.FaultCode)).
		SetTime(at)
}
