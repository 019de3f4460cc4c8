package telemetry

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"leaf-can-gateway/bus"
	"leaf-can-gateway/codec"
	"leaf-can-gateway/gateway"
	"leaf-can-gateway/motor"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

var _ mqtt.Token = doneToken{}

type published struct {
	topic   string
	payload []byte
}

type fakeBroker struct {
	mu           sync.Mutex
	messages     []published
	disconnected bool
}

func (b *fakeBroker) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, published{topic, payload.([]byte)})
	return doneToken{}
}

func (b *fakeBroker) Disconnect(quiesce uint) {
	b.mu.Lock()
	b.disconnected = true
	b.mu.Unlock()
}

func testStatus() gateway.Status {
	return gateway.Status{
		Snapshot: gateway.Snapshot{PackVoltage: 370, PackCurrent: -12.5, SOC: 97, SOH: 88, TempMin: 25, TempMax: 46, TempAvg: 30, Valid: true},
		Limits:   gateway.Limits{ChargeCurrent: 12.5, DischargeCurrent: 105, Reason: gateway.DerateReasonHot, Warnings: codec.AlarmHighTemp},
		Thermal:  gateway.TemperatureStateHot,
	}
}

func TestNewSession(t *testing.T) {
	a, b := NewSession(), NewSession()
	if _, err := uuid.Parse(a); err != nil {
		t.Errorf("session %q is not a uuid: %v", a, err)
	}
	if a == b {
		t.Error("sessions must differ")
	}
}

func TestSnapshotPoint(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p := snapshotPoint("abc", testStatus(), at)

	if p.Name() != "battery" || !p.Time().Equal(at) {
		t.Errorf("unexpected point %s at %v", p.Name(), p.Time())
	}

	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	if tags["session"] != "abc" || tags["thermal"] != "hot" {
		t.Errorf("unexpected tags %v", tags)
	}

	fields := map[string]interface{}{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	if fields["charge_limit"] != 12.5 || fields["soc"] != 97.0 || fields["stale"] != false {
		t.Errorf("unexpected fields %v", fields)
	}
	if fields["temp_max"] != int64(46) {
		t.Errorf("temp_max: expected int64 46, got %T %v", fields["temp_max"], fields["temp_max"])
	}
}

func TestMotorPoint(t *testing.T) {
	p := motorPoint("abc", motor.State{RPM: 3200, Direction: codec.DirectionForward, FaultCode: 0x18}, time.Now())

	fields := map[string]interface{}{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	if p.Name() != "motor" || fields["rpm"] != int64(3200) || fields["fault_code"] != int64(0x18) {
		t.Errorf("unexpected point %s %v", p.Name(), fields)
	}
}

func TestMQTTSink(t *testing.T) {
	broker := &fakeBroker{}
	s := newMQTTSink(broker, MQTTConfig{}, "abc", bus.NopLogger{})

	at := time.UnixMilli(1700000000000)
	if err := s.WriteSnapshot(testStatus(), at); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	if err := s.WriteMotor(motor.State{RPM: -50, Direction: codec.DirectionReverse}, at); err != nil {
		t.Fatalf("WriteMotor: %v", err)
	}
	s.Close()

	broker.mu.Lock()
	defer broker.mu.Unlock()

	if len(broker.messages) != 2 || !broker.disconnected {
		t.Fatalf("expected 2 messages and a disconnect, got %d %v", len(broker.messages), broker.disconnected)
	}
	if broker.messages[0].topic != "leaf/abc/battery" || broker.messages[1].topic != "leaf/abc/motor" {
		t.Errorf("unexpected topics %q %q", broker.messages[0].topic, broker.messages[1].topic)
	}

	var msg batteryMessage
	if err := json.Unmarshal(broker.messages[0].payload, &msg); err != nil {
		t.Fatalf("battery payload: %v", err)
	}
	if msg.Time != 1700000000000 || msg.DerateReason != "hot" || msg.Warnings != codec.AlarmHighTemp || msg.ChargeLimit != 12.5 {
		t.Errorf("unexpected battery message %+v", msg)
	}

	if !strings.Contains(string(broker.messages[1].payload), `"direction":"reverse"`) {
		t.Errorf("unexpected motor payload %s", broker.messages[1].payload)
	}
}

type failingSink struct{ closed bool }

func (f *failingSink) WriteSnapshot(gateway.Status, time.Time) error {
	return errors.New("snapshot down")
}
func (f *failingSink) WriteMotor(motor.State, time.Time) error { return nil }
func (f *failingSink) Close() error                            { f.closed = true; return nil }

func TestFanout(t *testing.T) {
	broker := &fakeBroker{}
	bad := &failingSink{}
	f := Fanout{bad, newMQTTSink(broker, MQTTConfig{Prefix: "car"}, "s1", bus.NopLogger{})}

	err := f.WriteSnapshot(testStatus(), time.Now())
	if err == nil || !strings.Contains(err.Error(), "snapshot down") {
		t.Errorf("expected joined error, got %v", err)
	}
	if len(broker.messages) != 1 || broker.messages[0].topic != "car/s1/battery" {
		t.Errorf("healthy sink should still be written: %v", broker.messages)
	}
	if err := f.WriteMotor(motor.State{}, time.Now()); err != nil {
		t.Errorf("WriteMotor: %v", err)
	}

	f.Close()
	if !bad.closed || !broker.disconnected {
		t.Error("Close must reach every sink")
	}
}

func TestOpenWithoutSinks(t *testing.T) {
	s, err := Open(Config{}, NewSession(), bus.NopLogger{})
	if s != nil || err != nil {
		t.Errorf("expected no sink, got %v, %v", s, err)
	}
}
