package bus

import (
	"sync"
	"time"
)

const loopbackQueueSize = 256

// Loopback is an in-memory transport for tests and bench simulation.
// Frames are injected by hand or delivered from a paired peer; transmitted
// frames are recorded. Failures and bus states can be scripted.
type Loopback struct {
	mu         sync.Mutex
	cfg        Config
	open       bool
	sent       []Frame
	attempts   int
	failNext   int
	failErr    error
	openErr    error
	counters   errorCounters
	forced     *Status
	recoveries int
	peer       *Loopback

	rx     chan Frame
	closed chan struct{}
}

func NewLoopback() *Loopback {
	return &Loopback{
		rx:     make(chan Frame, loopbackQueueSize),
		closed: make(chan struct{}),
	}
}

// NewLoopbackPair returns two transports wired back to back: whatever one
// transmits the other receives.
func NewLoopbackPair() (*Loopback, *Loopback) {
	a, b := NewLoopback(), NewLoopback()
	a.peer, b.peer = b, a
	return a, b
}

// FailOpen makes the next Open return err.
func (l *Loopback) FailOpen(err error) {
	l.mu.Lock()
	l.openErr = err
	l.mu.Unlock()
}

// FailTransmit makes the next n transmits return err.
func (l *Loopback) FailTransmit(n int, err error) {
	l.mu.Lock()
	l.failNext = n
	l.failErr = err
	l.mu.Unlock()
}

// ForceStatus overrides Status until the next Recover.
func (l *Loopback) ForceStatus(st Status) {
	l.mu.Lock()
	l.forced = &st
	l.mu.Unlock()
}

// Inject queues frames for Receive. It reports false if the queue is full.
func (l *Loopback) Inject(frames ...Frame) bool {
	for _, f := range frames {
		select {
		case l.rx <- f:
		default:
			return false
		}
	}
	return true
}

func (l *Loopback) Sent() []Frame {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Frame, len(l.sent))
	copy(out, l.sent)
	return out
}

func (l *Loopback) Attempts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attempts
}

func (l *Loopback) Recoveries() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.recoveries
}

func (l *Loopback) Config() Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg
}

func (l *Loopback) Open(cfg Config) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.openErr; err != nil {
		l.openErr = nil
		return err
	}
	select {
	case <-l.closed:
		return ErrClosed
	default:
	}
	l.cfg = cfg
	l.open = true
	return nil
}

func (l *Loopback) Transmit(f Frame, timeout time.Duration) error {
	l.mu.Lock()
	if !l.open {
		l.mu.Unlock()
		return ErrNotOpen
	}
	l.attempts++
	if l.failNext > 0 {
		l.failNext--
		l.counters.txFailed()
		err := l.failErr
		l.mu.Unlock()
		if err == nil {
			err = ErrBusy
		}
		return err
	}
	l.counters.txOK()
	l.sent = append(l.sent, f)
	peer := l.peer
	l.mu.Unlock()

	if peer != nil {
		peer.Inject(f)
	}
	return nil
}

func (l *Loopback) Receive(timeout time.Duration) (Frame, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f := <-l.rx:
		return f, nil
	case <-l.closed:
		return Frame{}, ErrClosed
	case <-timer.C:
		return Frame{}, ErrTimeout
	}
}

func (l *Loopback) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.forced != nil {
		return *l.forced
	}
	return l.counters.status()
}

func (l *Loopback) Recover() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recoveries++
	l.forced = nil
	l.counters.reset()
	return nil
}

func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.open {
		return nil
	}
	l.open = false
	close(l.closed)
	return nil
}
