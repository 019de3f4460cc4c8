package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrAlreadyRunning    = errors.New("bus: dispatcher already running")
	ErrStopped           = errors.New("bus: dispatcher stopped")
	ErrNotRunning        = errors.New("bus: dispatcher not running")
	ErrSubscriptionsFull = errors.New("bus: subscription table full")
	ErrPublishersFull    = errors.New("bus: publisher table full")
	ErrInvalidPeriod     = errors.New("bus: publish period must be positive")
)

const (
	DefaultMaxSubscriptions = 16
	DefaultMaxPublishers    = 8
	DefaultQueueSize        = 20
	DefaultReceiveTimeout   = 100 * time.Millisecond
	DefaultTransmitTimeout  = 10 * time.Millisecond
	DefaultRecoveryBackoff  = 100 * time.Millisecond
)

// DecodeFunc updates state from the first length bytes of data. data is
// only valid for the duration of the call.
type DecodeFunc func(data []byte, length uint8, state any)

// EncodeFunc writes a frame payload from state into a zeroed buf and
// returns its length.
type EncodeFunc func(state any, buf *[8]byte) uint8

type Options struct {
	MaxSubscriptions int
	MaxPublishers    int
	QueueSize        int
	ReceiveTimeout   time.Duration
	TransmitTimeout  time.Duration
	RecoveryBackoff  time.Duration
	Clock            Clock
	Logger           Logger
}

func (o *Options) setDefaults() {
	if o.MaxSubscriptions <= 0 {
		o.MaxSubscriptions = DefaultMaxSubscriptions
	}
	if o.MaxPublishers <= 0 {
		o.MaxPublishers = DefaultMaxPublishers
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.ReceiveTimeout <= 0 {
		o.ReceiveTimeout = DefaultReceiveTimeout
	}
	if o.TransmitTimeout <= 0 {
		o.TransmitTimeout = DefaultTransmitTimeout
	}
	if o.RecoveryBackoff <= 0 {
		o.RecoveryBackoff = DefaultRecoveryBackoff
	}
	if o.Clock == nil {
		o.Clock = NewMonotonicClock()
	}
	if o.Logger == nil {
		o.Logger = NopLogger{}
	}
}

type subscription struct {
	id     uint32
	decode DecodeFunc
	state  any
	active bool
}

type publisher struct {
	id       uint32
	period   time.Duration
	encode   EncodeFunc
	state    any
	lastEmit time.Duration
}

// Stats are cumulative counters since Begin.
type Stats struct {
	Received     uint64
	Transmitted  uint64
	Errors       uint64
	Dropped      uint64
	BusOff       uint64
	DecodePanics uint64
}

const (
	stateUninitialized int32 = iota
	stateRunning
	stateStopped
)

// Dispatcher owns one bus. A receive worker feeds a bounded queue; Pump,
// called regularly from a single owning goroutine, hands queued frames to
// subscribers and then emits due publishers. Subscribe, Publish, Send and
// Pump must all be called from that goroutine.
type Dispatcher struct {
	name      string
	transport Transport
	cfg       Config
	opts      Options
	log       Logger

	mu     sync.Mutex
	state  atomic.Int32
	cancel context.CancelFunc
	wg     sync.WaitGroup

	subs  []subscription
	pubs  []publisher
	queue chan Frame

	scratch [MaxDataLen]byte
	txbuf   [MaxDataLen]byte

	received     atomic.Uint64
	transmitted  atomic.Uint64
	errCount     atomic.Uint64
	dropped      atomic.Uint64
	busOff       atomic.Uint64
	decodePanics atomic.Uint64
}

func NewDispatcher(name string, t Transport, cfg Config, opts Options) *Dispatcher {
	opts.setDefaults()
	return &Dispatcher{
		name:      name,
		transport: t,
		cfg:       cfg,
		opts:      opts,
		log:       opts.Logger,
		subs:      make([]subscription, 0, opts.MaxSubscriptions),
		pubs:      make([]publisher, 0, opts.MaxPublishers),
		queue:     make(chan Frame, opts.QueueSize),
	}
}

func (d *Dispatcher) Name() string { return d.name }

// Begin opens the transport and starts the receive worker. On failure the
// dispatcher stays uninitialized.
func (d *Dispatcher) Begin(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state.Load() {
	case stateRunning:
		return ErrAlreadyRunning
	case stateStopped:
		return ErrStopped
	}

	if err := d.transport.Open(d.cfg); err != nil {
		return fmt.Errorf("dispatcher %s: open transport: %w", d.name, err)
	}

	wctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.wg.Add(1)
	go d.receiveLoop(wctx)

	d.state.Store(stateRunning)
	d.log.Info("Dispatcher %s running on %s (%d subscriptions, %d publishers)",
		d.name, d.cfg.Interface, len(d.subs), len(d.pubs))
	return nil
}

// Subscribe registers decode for frames with the given id. Several
// subscriptions may share an id; they run in registration order.
func (d *Dispatcher) Subscribe(id uint32, decode DecodeFunc, state any) error {
	if d.state.Load() == stateStopped {
		return ErrStopped
	}
	if id > MaxExtendedID {
		return fmt.Errorf("%w: 0x%X", ErrInvalidID, id)
	}
	if len(d.subs) == cap(d.subs) {
		return fmt.Errorf("%w (0x%03X, capacity %d)", ErrSubscriptionsFull, id, cap(d.subs))
	}
	d.subs = append(d.subs, subscription{id: id, decode: decode, state: state, active: true})
	return nil
}

// Publish schedules encode to be transmitted on id every period. Only
// standard identifiers can be published.
func (d *Dispatcher) Publish(id uint32, period time.Duration, encode EncodeFunc, state any) error {
	if d.state.Load() == stateStopped {
		return ErrStopped
	}
	if period <= 0 {
		return ErrInvalidPeriod
	}
	if id > MaxStandardID {
		return fmt.Errorf("%w: publish 0x%X", ErrInvalidID, id)
	}
	if len(d.pubs) == cap(d.pubs) {
		return fmt.Errorf("%w (0x%03X, capacity %d)", ErrPublishersFull, id, cap(d.pubs))
	}
	d.pubs = append(d.pubs, publisher{id: id, period: period, encode: encode, state: state})
	return nil
}

// Send transmits one frame immediately, outside the publisher schedule.
func (d *Dispatcher) Send(id uint32, data []byte) error {
	if d.state.Load() != stateRunning {
		return ErrNotRunning
	}
	f, err := NewFrame(id, data)
	if err != nil {
		return err
	}
	return d.transmit(f)
}

func (d *Dispatcher) transmit(f Frame) error {
	LogFrame(d.log, "TX", f)
	if err := d.transport.Transmit(f, d.opts.TransmitTimeout); err != nil {
		d.errCount.Add(1)
		return err
	}
	d.transmitted.Add(1)
	return nil
}

// Pump delivers every frame queued at the time of the call, then emits
// each publisher whose period has elapsed. It never blocks beyond the
// bounded transmit timeout of each emitted frame.
func (d *Dispatcher) Pump() {
	if d.state.Load() != stateRunning {
		return
	}

	for n := len(d.queue); n > 0; n-- {
		select {
		case f := <-d.queue:
			d.dispatch(f)
		default:
			n = 1
		}
	}

	now := d.opts.Clock.Now()
	for i := range d.pubs {
		p := &d.pubs[i]
		if now-p.lastEmit < p.period {
			continue
		}

		d.txbuf = [MaxDataLen]byte{}
		n := p.encode(p.state, &d.txbuf)
		if n > MaxDataLen {
			n = MaxDataLen
		}
		f := Frame{id: p.id, length: n, data: d.txbuf}

		if err := d.transmit(f); err != nil {
			d.log.Debug("Dispatcher %s: publish 0x%03X failed: %v", d.name, p.id, err)
			continue
		}
		p.lastEmit = now
	}
}

func (d *Dispatcher) dispatch(f Frame) {
	LogFrame(d.log, "RX", f)
	for i := range d.subs {
		s := &d.subs[i]
		if !s.active || s.id != f.id {
			continue
		}
		d.invoke(s, f)
	}
}

func (d *Dispatcher) invoke(s *subscription, f Frame) {
	defer func() {
		if r := recover(); r != nil {
			d.decodePanics.Add(1)
			d.errCount.Add(1)
			d.log.Error("Dispatcher %s: decoder for 0x%03X panicked: %v", d.name, s.id, r)
		}
	}()
	d.scratch = f.data
	s.decode(d.scratch[:f.length], f.length, s.state)
}

func (d *Dispatcher) receiveLoop(ctx context.Context) {
	defer d.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		f, err := d.transport.Receive(d.opts.ReceiveTimeout)
		switch {
		case err == nil:
			d.received.Add(1)
			select {
			case d.queue <- f:
			default:
				d.dropped.Add(1)
				d.errCount.Add(1)
			}
		case errors.Is(err, ErrTimeout):
		case errors.Is(err, ErrClosed):
			return
		default:
			d.errCount.Add(1)
			d.log.Debug("Dispatcher %s: receive: %v", d.name, err)
			if !d.sleep(ctx, d.opts.RecoveryBackoff) {
				return
			}
		}

		if st := d.transport.Status(); st.State == StateBusOff {
			d.busOff.Add(1)
			d.log.Warn("Dispatcher %s: bus-off (tx errors %d, rx errors %d), recovering",
				d.name, st.TxErrors, st.RxErrors)
			if err := d.transport.Recover(); err != nil {
				d.errCount.Add(1)
				d.log.Error("Dispatcher %s: recovery failed: %v", d.name, err)
			}
			if !d.sleep(ctx, d.opts.RecoveryBackoff) {
				return
			}
		}
	}
}

func (d *Dispatcher) sleep(ctx context.Context, dur time.Duration) bool {
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// End stops the worker and closes the transport. A stopped dispatcher
// cannot be restarted.
func (d *Dispatcher) End() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	prev := d.state.Swap(stateStopped)
	if prev != stateRunning {
		return nil
	}

	d.cancel()
	err := d.transport.Close()
	d.wg.Wait()

	s := d.Stats()
	d.log.Info("Dispatcher %s stopped: rx=%d tx=%d errors=%d dropped=%d bus-off=%d",
		d.name, s.Received, s.Transmitted, s.Errors, s.Dropped, s.BusOff)
	return err
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Received:     d.received.Load(),
		Transmitted:  d.transmitted.Load(),
		Errors:       d.errCount.Load(),
		Dropped:      d.dropped.Load(),
		BusOff:       d.busOff.Load(),
		DecodePanics: d.decodePanics.Load(),
	}
}

// Running reports whether Begin succeeded and End has not been called.
func (d *Dispatcher) Running() bool {
	return d.state.Load() == stateRunning
}
