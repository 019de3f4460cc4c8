package bus

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Playback replays a candump log (`candump -L` format) as a transport:
//
//	(1700000000.123456) can1 6B0#FE4A0DE0020A8C00
//
// Frames are released on their recorded inter-frame timing divided by
// Speed; Speed 0 releases them as fast as Receive is called. Lines from
// other interfaces than the one opened are skipped. Transmits are counted
// and discarded.
type Playback struct {
	Speed float64
	Loop  bool

	mu      sync.Mutex
	src     io.ReadSeeker
	scanner *bufio.Scanner
	iface   string
	open    bool
	closed  bool
	tx      int

	pending   *logEntry
	firstLog  float64
	startWall time.Time
	started   bool
	line      int
}

type logEntry struct {
	ts    float64
	iface string
	frame Frame
}

func NewPlayback(src io.ReadSeeker) *Playback {
	return &Playback{Speed: 1, src: src}
}

func (p *Playback) Open(cfg Config) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	p.iface = cfg.Interface
	p.scanner = bufio.NewScanner(p.src)
	p.open = true
	return nil
}

// ParseLogLine parses one candump -L line.
func ParseLogLine(line string) (ts float64, iface string, f Frame, err error) {
	fields := strings.Fields(line)
	if len(fields) != 3 || !strings.HasPrefix(fields[0], "(") || !strings.HasSuffix(fields[0], ")") {
		return 0, "", Frame{}, fmt.Errorf("malformed log line %q", line)
	}

	ts, err = strconv.ParseFloat(strings.Trim(fields[0], "()"), 64)
	if err != nil {
		return 0, "", Frame{}, fmt.Errorf("bad timestamp in %q: %w", line, err)
	}
	iface = fields[1]

	idStr, dataStr, ok := strings.Cut(fields[2], "#")
	if !ok {
		return 0, "", Frame{}, fmt.Errorf("missing '#' in %q", line)
	}
	id, err := strconv.ParseUint(idStr, 16, 32)
	if err != nil {
		return 0, "", Frame{}, fmt.Errorf("bad identifier in %q: %w", line, err)
	}

	if strings.HasPrefix(dataStr, "R") {
		f, err = newFrame(uint32(id), nil, len(idStr) > 3)
		f.remote = true
		return ts, iface, f, err
	}

	data, err := hex.DecodeString(dataStr)
	if err != nil {
		return 0, "", Frame{}, fmt.Errorf("bad payload in %q: %w", line, err)
	}
	f, err = newFrame(uint32(id), data, len(idStr) > 3)
	return ts, iface, f, err
}

// nextLocked returns the next frame for the opened interface, or io.EOF.
func (p *Playback) nextLocked() (*logEntry, error) {
	for {
		if !p.scanner.Scan() {
			if err := p.scanner.Err(); err != nil {
				return nil, err
			}
			if !p.Loop {
				return nil, io.EOF
			}
			if _, err := p.src.Seek(0, io.SeekStart); err != nil {
				return nil, err
			}
			p.scanner = bufio.NewScanner(p.src)
			p.started = false
			continue
		}
		p.line++
		text := strings.TrimSpace(p.scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		ts, iface, f, err := ParseLogLine(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", p.line, err)
		}
		if p.iface != "" && iface != p.iface {
			continue
		}
		return &logEntry{ts: ts, iface: iface, frame: f}, nil
	}
}

func (p *Playback) Transmit(f Frame, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open {
		return ErrNotOpen
	}
	p.tx++
	return nil
}

func (p *Playback) Receive(timeout time.Duration) (Frame, error) {
	p.mu.Lock()
	if !p.open {
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return Frame{}, ErrClosed
		}
		return Frame{}, ErrNotOpen
	}

	if p.pending == nil {
		e, err := p.nextLocked()
		if err == io.EOF {
			p.mu.Unlock()
			time.Sleep(timeout)
			return Frame{}, ErrTimeout
		}
		if err != nil {
			p.mu.Unlock()
			return Frame{}, err
		}
		p.pending = e
	}

	if !p.started {
		p.started = true
		p.firstLog = p.pending.ts
		p.startWall = time.Now()
	}

	wait := time.Duration(0)
	if p.Speed > 0 {
		due := time.Duration((p.pending.ts - p.firstLog) / p.Speed * float64(time.Second))
		wait = due - time.Since(p.startWall)
	}
	if wait > timeout {
		p.mu.Unlock()
		time.Sleep(timeout)
		return Frame{}, ErrTimeout
	}

	f := p.pending.frame
	p.pending = nil
	p.mu.Unlock()

	if wait > 0 {
		time.Sleep(wait)
	}
	return f, nil
}

// Transmitted reports how many frames were discarded by Transmit.
func (p *Playback) Transmitted() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tx
}

func (p *Playback) Status() Status { return Status{State: StateActive} }

func (p *Playback) Recover() error { return nil }

func (p *Playback) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open = false
	p.closed = true
	if c, ok := p.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
