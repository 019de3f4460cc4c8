package bus

import (
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/brutella/can"
)

const (
	socketRxQueueSize = 64
	txRetryInterval   = time.Millisecond

	// Controller-style error counter thresholds.
	warningLimit = 96
	busOffLimit  = 256
	txErrorStep  = 8
)

// Error frame layout from linux/can/error.h.
const (
	errClassCtrl      = 0x004
	errClassBusOff    = 0x040
	errClassRestarted = 0x100
	errClassCounters  = 0x200

	errCtrlRxWarning = 0x04
	errCtrlTxWarning = 0x08
	errCtrlRxPassive = 0x10
	errCtrlTxPassive = 0x20
	errCtrlActive    = 0x40
)

// errorCounters mimics the transmit/receive error counters of a CAN
// controller for transports that cannot read the real ones.
type errorCounters struct {
	tx, rx int
	busOff bool
}

func (c *errorCounters) txFailed() {
	c.tx += txErrorStep
	if c.tx >= busOffLimit {
		c.busOff = true
	}
}

func (c *errorCounters) txOK() {
	if c.tx > 0 {
		c.tx--
	}
}

func (c *errorCounters) rxFailed() {
	if c.rx < busOffLimit-1 {
		c.rx++
	}
}

func (c *errorCounters) rxOK() {
	if c.rx > 0 {
		c.rx--
	}
}

func (c *errorCounters) reset() { *c = errorCounters{} }

func (c *errorCounters) status() Status {
	st := Status{State: StateActive, RxErrors: c.rx, TxErrors: c.tx}
	switch {
	case c.busOff:
		st.State = StateBusOff
	case c.tx >= warningLimit || c.rx >= warningLimit:
		st.State = StateWarning
	}
	return st
}

// applyErrorFrame folds a kernel error frame into the counters.
func (c *errorCounters) applyErrorFrame(f Frame) {
	d := f.Bytes()
	class := f.ID()
	if class&errClassCounters != 0 {
		c.tx, c.rx = int(d[6]), int(d[7])
	}
	if class&errClassCtrl != 0 {
		switch {
		case d[1]&(errCtrlTxPassive|errCtrlRxPassive) != 0:
			if c.tx < 128 && d[1]&errCtrlTxPassive != 0 {
				c.tx = 128
			}
			if c.rx < 128 && d[1]&errCtrlRxPassive != 0 {
				c.rx = 128
			}
		case d[1]&(errCtrlTxWarning|errCtrlRxWarning) != 0:
			if c.tx < warningLimit && d[1]&errCtrlTxWarning != 0 {
				c.tx = warningLimit
			}
			if c.rx < warningLimit && d[1]&errCtrlRxWarning != 0 {
				c.rx = warningLimit
			}
		case d[1]&errCtrlActive != 0:
			c.tx, c.rx = 0, 0
		}
	}
	if class&errClassBusOff != 0 {
		c.busOff = true
	}
	if class&errClassRestarted != 0 {
		c.reset()
	}
}

// commandRunner runs external link configuration commands.
var commandRunner = func(name string, args ...string) error {
	out, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %v: %v: %s", name, args, err, out)
	}
	return nil
}

func configureLink(cfg Config) error {
	steps := [][]string{
		{"link", "set", cfg.Interface, "down"},
		{"link", "set", cfg.Interface, "type", "can", "bitrate", strconv.Itoa(cfg.Bitrate)},
		{"link", "set", cfg.Interface, "up"},
	}
	for _, args := range steps {
		if err := commandRunner("ip", args...); err != nil {
			return fmt.Errorf("failed to configure %s: %w", cfg.Interface, err)
		}
	}
	return nil
}

// SocketCAN is a Linux raw CAN socket transport backed by brutella/can.
// Received frames are queued by the bus reader goroutine until Receive
// picks them up; overflow drops the frame and bumps the receive counter.
type SocketCAN struct {
	log Logger

	mu       sync.Mutex
	cfg      Config
	bus      *can.Bus
	gen      int
	counters errorCounters
	open     bool

	rx     chan Frame
	closed chan struct{}
}

func NewSocketCAN(logger Logger) *SocketCAN {
	if logger == nil {
		logger = NopLogger{}
	}
	return &SocketCAN{
		log:    logger,
		rx:     make(chan Frame, socketRxQueueSize),
		closed: make(chan struct{}),
	}
}

func (s *SocketCAN) Open(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open {
		return fmt.Errorf("socketcan %s: already open", cfg.Interface)
	}
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}
	s.cfg = cfg

	if cfg.ConfigureLink {
		if err := configureLink(cfg); err != nil {
			return err
		}
	}

	if err := s.connectLocked(); err != nil {
		return err
	}
	s.open = true
	s.log.Info("CAN %s open at %d bit/s", cfg.Interface, cfg.Bitrate)
	return nil
}

func (s *SocketCAN) connectLocked() error {
	iface, err := net.InterfaceByName(s.cfg.Interface)
	if err != nil {
		return fmt.Errorf("failed to find interface %s: %w", s.cfg.Interface, err)
	}

	conn, err := can.NewReadWriteCloserForInterface(iface)
	if err != nil {
		return fmt.Errorf("failed to open CAN socket on %s: %w", s.cfg.Interface, err)
	}

	b := can.NewBus(conn)
	b.SubscribeFunc(s.handle)
	s.bus = b
	s.gen++

	go s.readLoop(b, s.gen)
	return nil
}

func (s *SocketCAN) readLoop(b *can.Bus, gen int) {
	err := b.ConnectAndPublish()

	s.mu.Lock()
	defer s.mu.Unlock()

	// A newer connection or Close has replaced this one.
	if gen != s.gen || !s.open {
		return
	}
	if err == nil {
		err = errors.New("reader stopped")
	}
	s.log.Error("CAN %s read failed: %v", s.cfg.Interface, err)
	s.counters.busOff = true
}

func (s *SocketCAN) handle(cf can.Frame) {
	f := FrameFromCAN(cf)

	if f.IsError() {
		s.mu.Lock()
		s.counters.applyErrorFrame(f)
		s.mu.Unlock()
		return
	}

	select {
	case s.rx <- f:
	default:
		s.mu.Lock()
		s.counters.rxFailed()
		s.mu.Unlock()
	}
}

func queueFull(err error) bool {
	return errors.Is(err, syscall.ENOBUFS) || errors.Is(err, syscall.EAGAIN)
}

// publishWithin retries publish while the transmit queue is full, until
// timeout has passed. It always makes at least one attempt.
func publishWithin(publish func() error, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		err := publish()
		if !queueFull(err) || !time.Now().Before(deadline) {
			return err
		}
		time.Sleep(txRetryInterval)
	}
}

// Transmit writes one frame. The kernel reports a full transmit queue as
// ENOBUFS instead of blocking, so the write is retried until timeout and
// then reported as ErrBusy.
func (s *SocketCAN) Transmit(f Frame, timeout time.Duration) error {
	s.mu.Lock()
	b, open := s.bus, s.open
	s.mu.Unlock()

	if !open || b == nil {
		return ErrNotOpen
	}

	cf := f.CAN()
	err := publishWithin(func() error { return b.Publish(cf) }, timeout)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.counters.txFailed()
		if queueFull(err) {
			return ErrBusy
		}
		return fmt.Errorf("transmit 0x%03X: %w", f.ID(), err)
	}
	s.counters.txOK()
	return nil
}

func (s *SocketCAN) Receive(timeout time.Duration) (Frame, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f := <-s.rx:
		s.mu.Lock()
		s.counters.rxOK()
		s.mu.Unlock()
		return f, nil
	case <-s.closed:
		return Frame{}, ErrClosed
	case <-timer.C:
		return Frame{}, ErrTimeout
	}
}

func (s *SocketCAN) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters.status()
}

// Recover drops the socket and binds a fresh one. With ConfigureLink the
// interface is restarted as well, which clears a controller bus-off.
func (s *SocketCAN) Recover() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return ErrNotOpen
	}

	s.log.Warn("CAN %s recovering from %s", s.cfg.Interface, s.counters.status().State)

	old := s.bus
	s.gen++
	if old != nil {
		if err := old.Disconnect(); err != nil {
			s.log.Debug("CAN %s disconnect: %v", s.cfg.Interface, err)
		}
	}

	if s.cfg.ConfigureLink {
		if err := configureLink(s.cfg); err != nil {
			return err
		}
	}

	if err := s.connectLocked(); err != nil {
		return err
	}
	s.counters.reset()
	return nil
}

func (s *SocketCAN) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return nil
	}
	s.open = false
	s.gen++
	close(s.closed)

	if s.bus != nil {
		return s.bus.Disconnect()
	}
	return nil
}
