package flow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"sharkline/internal/capture"
	"sharkline/internal/logging"
	"sharkline/internal/metrics"
	"sharkline/internal/models"
	"sharkline/internal/parser"
	"sharkline/internal/poller"
)

// ErrAlreadyMonitoring is returned by Start on a running Monitor.
var ErrAlreadyMonitoring = errors.New("flow: already monitoring")

const killGrace = 2 * time.Second

// Archive keeps a copy of each interface's window when monitoring stops.
type Archive interface {
	Save(iface string, samples []models.FlowSample) error
}

// AdapterMonitor is the live state of one monitored interface.
type AdapterMonitor struct {
	Name string

	proc    *capture.Process
	fd      int
	window  *Window
	partial []byte
	closed  bool
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(m *Monitor) { m.log = l } }

// WithMetrics records flow counters.
func WithMetrics(mt *metrics.Metrics) Option { return func(m *Monitor) { m.metrics = mt } }

// WithArchive saves every window on Stop.
func WithArchive(a Archive) Option { return func(m *Monitor) { m.archive = a } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(m *Monitor) { m.now = now } }

// WithWindow sets how many seconds each interface keeps.
func WithWindow(seconds int) Option { return func(m *Monitor) { m.size = seconds } }

// WithInterfaces monitors names instead of enumerating with tshark -D.
func WithInterfaces(names ...string) Option { return func(m *Monitor) { m.ifaces = names } }

// Monitor runs one tshark per interface and folds their frame lengths into
// per-second windows. A single goroutine services every pipe through an
// edge-triggered poller.
type Monitor struct {
	tshark  *capture.Tshark
	log     *zap.Logger
	metrics *metrics.Metrics
	archive Archive
	now     func() time.Time
	size    int
	ifaces  []string

	mu       sync.Mutex
	running  bool
	start    time.Time
	poller   *poller.Poller
	adapters map[string]*AdapterMonitor
	byFd     map[int]*AdapterMonitor
	done     chan struct{}
}

// NewMonitor returns a stopped Monitor.
func NewMonitor(tshark *capture.Tshark, opts ...Option) *Monitor {
	m := &Monitor{
		tshark:   tshark,
		now:      time.Now,
		size:     DefaultWindow,
		adapters: make(map[string]*AdapterMonitor),
		byFd:     make(map[int]*AdapterMonitor),
	}
	for _, o := range opts {
		o(m)
	}
	m.log = logging.OrNop(m.log)
	return m
}

// Start launches a monitoring tshark on every interface and starts the
// event loop. Interfaces whose tshark cannot be started are skipped; Start
// fails only when none could be.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return ErrAlreadyMonitoring
	}

	names := m.ifaces
	if len(names) == 0 {
		adapters, err := m.tshark.ListInterfaces(ctx)
		if err != nil {
			return fmt.Errorf("flow: enumerate interfaces: %w", err)
		}
		for _, a := range adapters {
			names = append(names, a.Name)
		}
	}

	p, err := poller.New()
	if err != nil {
		return err
	}

	for _, name := range names {
		proc, err := m.tshark.Start(capture.MonitorArgs(name)...)
		if err != nil {
			m.log.Error("cannot monitor interface", zap.String("interface", name), zap.Error(err))
			continue
		}
		fd := proc.Fd()
		if err := p.Add(fd, true); err != nil {
			m.log.Error("cannot watch tshark output", zap.String("interface", name), zap.Error(err))
			proc.Terminate(killGrace)
			proc.Close()
			continue
		}
		a := &AdapterMonitor{Name: name, proc: proc, fd: fd, window: NewWindow(m.size)}
		m.adapters[name] = a
		m.byFd[fd] = a
		m.log.Info("monitoring interface", zap.String("interface", name), zap.Int("pid", proc.Pid()))
	}
	if len(m.adapters) == 0 {
		p.Close()
		return fmt.Errorf("flow: no interface could be monitored (%d tried)", len(names))
	}

	m.start = m.now()
	m.poller = p
	m.running = true
	m.done = make(chan struct{})
	go m.loop(p, m.done)
	return nil
}

func (m *Monitor) loop(p *poller.Poller, done chan struct{}) {
	defer close(done)
	buf := make([]byte, 64*1024)
	for {
		events, woken, err := p.Wait(-1)
		if err != nil {
			m.log.Error("flow event loop stopped", zap.Error(err))
			return
		}
		if woken {
			return
		}
		for _, ev := range events {
			m.service(p, ev, buf)
		}
	}
}

// service drains one ready pipe. Edge-triggered registration means the
// pipe must be read until it would block.
func (m *Monitor) service(p *poller.Poller, ev poller.Event, buf []byte) {
	m.mu.Lock()
	a := m.byFd[ev.Fd]
	m.mu.Unlock()
	if a == nil {
		return
	}
	for {
		n, err := a.proc.Read(buf)
		if n > 0 {
			m.consume(a, buf[:n])
		}
		switch {
		case err == nil:
			continue
		case capture.WouldBlock(err):
			if ev.Hangup {
				m.teardown(p, a, "hangup")
			}
			return
		case errors.Is(err, io.EOF):
			m.teardown(p, a, "end of stream")
			return
		default:
			m.log.Error("read tshark output", zap.String("interface", a.Name), zap.Error(err))
			m.teardown(p, a, "read error")
			return
		}
	}
}

func (m *Monitor) consume(a *AdapterMonitor, data []byte) {
	a.partial = append(a.partial, data...)
	for {
		i := bytes.IndexByte(a.partial, '\n')
		if i < 0 {
			break
		}
		line := string(a.partial[:i])
		a.partial = a.partial[i+1:]

		sec, n, ok, err := parser.ParseMonitorLine(line)
		if err != nil {
			m.log.Warn("bad monitor line", zap.String("interface", a.Name), zap.String("line", line), zap.Error(err))
			if m.metrics != nil {
				m.metrics.ParseFailures.WithLabelValues(metrics.SourceLive).Inc()
			}
			continue
		}
		if !ok {
			continue
		}
		m.mu.Lock()
		a.window.Add(sec, n)
		held := a.window.Len()
		m.mu.Unlock()
		if m.metrics != nil {
			m.metrics.FlowBytes.WithLabelValues(a.Name).Add(float64(n))
			m.metrics.FlowWindow.WithLabelValues(a.Name).Set(float64(held))
		}
	}
	if len(a.partial) == 0 {
		a.partial = nil
	}
}

// teardown retires one interface's pipe. Its window stays until Stop.
func (m *Monitor) teardown(p *poller.Poller, a *AdapterMonitor, reason string) {
	m.mu.Lock()
	delete(m.byFd, a.fd)
	a.closed = true
	m.mu.Unlock()

	p.Remove(a.fd)
	a.proc.Close()
	go a.proc.Terminate(killGrace)
	m.log.Info("interface pipe closed", zap.String("interface", a.Name), zap.String("reason", reason))
}

// Snapshot returns, per interface, one byte count for every second of the
// display range. Seconds with no traffic are reported as 0.
func (m *Monitor) Snapshot() map[string]map[int64]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]map[int64]int64, len(m.adapters))
	if !m.running {
		return out
	}
	from, to := DisplayRange(m.start.Unix(), m.now().Unix(), m.size)
	for name, a := range m.adapters {
		out[name] = a.window.Dense(from, to)
	}
	return out
}

// Running reports whether the monitor is started.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Stop ends the event loop, kills every tshark, releases the pipes and the
// poller, archives the windows and clears all interface state. Stopping a
// stopped Monitor does nothing.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	// Claim everything under the lock so a concurrent Stop finds nothing.
	p, done, adapters := m.poller, m.done, m.adapters
	m.adapters = make(map[string]*AdapterMonitor)
	m.byFd = make(map[int]*AdapterMonitor)
	m.poller = nil
	m.done = nil
	m.running = false
	m.mu.Unlock()

	if err := p.Wake(); err != nil {
		return err
	}
	<-done

	for _, a := range adapters {
		if !a.closed {
			if err := a.proc.Terminate(killGrace); err != nil {
				m.log.Warn("terminate tshark", zap.String("interface", a.Name), zap.Error(err))
			}
			p.Remove(a.fd)
			a.proc.Close()
		}
		if m.archive != nil {
			if err := m.archive.Save(a.Name, a.window.Samples()); err != nil {
				m.log.Error("archive flow window", zap.String("interface", a.Name), zap.Error(err))
			}
		}
	}
	return p.Close()
}
