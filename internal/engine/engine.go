// Package engine runs a live tshark capture and indexes its records as they
// arrive.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"sharkline/internal/capture"
	"sharkline/internal/geo"
	"sharkline/internal/index"
	"sharkline/internal/ingest"
	"sharkline/internal/logging"
	"sharkline/internal/metrics"
	"sharkline/internal/models"
	"sharkline/internal/parser"
	"sharkline/internal/pcapfile"
	"sharkline/internal/poller"
	"sharkline/internal/store"
)

// ErrAlreadyCapturing is returned by Start while a capture is running.
var ErrAlreadyCapturing = errors.New("engine: capture already running")

const (
	defaultPollTimeout   = time.Second
	defaultFlushInterval = 100 * time.Millisecond
	killGrace            = 2 * time.Second
)

// Event types delivered to clients.
const (
	EventStarted = "capture_started"
	EventPacket  = "packet"
	EventStopped = "capture_stopped"
)

// Event is one notification from a session.
type Event struct {
	Type      string
	Interface string
	Packet    *models.PacketRecord
}

// Client receives session events.
type Client interface {
	Deliver(ev Event) error
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(s *Session) { s.log = l } }

// WithMetrics records capture counters.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Session) { s.metrics = m } }

// WithPolicy sets what a malformed line does to the capture.
func WithPolicy(p ingest.Policy) Option { return func(s *Session) { s.policy = p } }

// WithCaptureFile sets where tshark writes the raw capture.
func WithCaptureFile(path string) Option { return func(s *Session) { s.captureFile = path } }

// WithPollTimeout bounds each readiness wait of the worker.
func WithPollTimeout(d time.Duration) Option { return func(s *Session) { s.pollTimeout = d } }

// WithStore persists captured records, flushing every interval.
func WithStore(st *store.Store, interval time.Duration) Option {
	return func(s *Session) {
		s.store = st
		s.flushInterval = interval
	}
}

// Session is a live capture: Idle until Start, Capturing until Stop or until
// tshark exits.
type Session struct {
	tshark        *capture.Tshark
	locator       *geo.Locator
	log           *zap.Logger
	metrics       *metrics.Metrics
	policy        ingest.Policy
	captureFile   string
	pollTimeout   time.Duration
	store         *store.Store
	flushInterval time.Duration

	index *index.PacketIndex
	stop  atomic.Bool

	mu        sync.Mutex
	clients   map[Client]bool
	capturing bool
	iface     string
	startTime time.Time
	pktCount  int
	poller    *poller.Poller
	done      chan struct{}
}

// New returns an idle Session. locator may be nil to skip geolocation.
func New(tshark *capture.Tshark, locator *geo.Locator, opts ...Option) *Session {
	s := &Session{
		tshark:        tshark,
		locator:       locator,
		captureFile:   "capture.pcap",
		pollTimeout:   defaultPollTimeout,
		flushInterval: defaultFlushInterval,
		index:         index.New(),
		clients:       make(map[Client]bool),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = logging.OrNop(s.log)
	return s
}

// RegisterClient adds a client to receive events.
func (s *Session) RegisterClient(c Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c] = true
}

// UnregisterClient removes a client.
func (s *Session) UnregisterClient(c Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c)
}

// Start begins capturing on iface. The previous capture's records are
// discarded, in memory and in the store.
func (s *Session) Start(iface string) error {
	s.mu.Lock()
	if s.capturing {
		s.mu.Unlock()
		return ErrAlreadyCapturing
	}
	if s.store != nil {
		// Frame numbers restart at 1 with every capture.
		if err := s.store.Reset(context.Background()); err != nil {
			s.mu.Unlock()
			return err
		}
	}

	proc, err := s.tshark.Start(capture.LiveArgs(iface, s.captureFile)...)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	p, err := poller.New()
	if err == nil {
		err = p.Add(proc.Fd(), true)
		if err != nil {
			p.Close()
		}
	}
	if err != nil {
		s.mu.Unlock()
		proc.Terminate(killGrace)
		proc.Close()
		return err
	}

	var batch *store.BatchWriter
	if s.store != nil {
		batch = store.NewBatchWriter(s.store, s.flushInterval, s.log, s.metrics)
	}

	s.index.Clear()
	s.stop.Store(false)
	s.capturing = true
	s.iface = iface
	s.startTime = time.Now()
	s.pktCount = 0
	s.poller = p
	s.done = make(chan struct{})
	if s.metrics != nil {
		s.metrics.CaptureActive.Set(1)
	}
	done := s.done
	s.mu.Unlock()
	s.log.Info("capture started", zap.String("interface", iface), zap.Int("pid", proc.Pid()), zap.String("file", s.captureFile))

	s.broadcast(Event{Type: EventStarted, Interface: iface})
	go s.worker(proc, p, batch, done)
	return nil
}

// Stop asks the worker to finish and waits for it, including the final
// storage flush. Stopping an idle session is a no-op.
func (s *Session) Stop() error {
	s.mu.Lock()
	if !s.capturing {
		s.mu.Unlock()
		return nil
	}
	s.stop.Store(true)
	p, done, iface := s.poller, s.done, s.iface
	s.mu.Unlock()

	// The worker also sees the flag at its next timeout; waking only
	// shortens the wait.
	p.Wake()
	<-done

	s.broadcast(Event{Type: EventStopped, Interface: iface})
	return nil
}

// Capturing reports whether a capture is running.
func (s *Session) Capturing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capturing
}

// Records returns the captured records in arrival order.
func (s *Session) Records() []*models.PacketRecord {
	return s.index.Records()
}

// HexData returns the raw bytes of a captured frame.
func (s *Session) HexData(frame uint32) ([]byte, error) {
	rec, ok := s.index.Get(frame)
	if !ok {
		return nil, fmt.Errorf("frame %d: %w", frame, pcapfile.ErrUnknownFrame)
	}
	return pcapfile.ReadFrame(s.captureFile, rec.FileOffset, rec.CaptureLength())
}

func (s *Session) worker(proc *capture.Process, p *poller.Poller, batch *store.BatchWriter, done chan struct{}) {
	defer close(done)
	defer s.finish(proc, p, batch)

	tracker := pcapfile.NewOffsetTracker()
	buf := make([]byte, 64*1024)
	var partial []byte

	for !s.stop.Load() {
		events, _, err := p.Wait(s.pollTimeout)
		if err != nil {
			s.log.Error("capture wait", zap.Error(err))
			return
		}
		if len(events) == 0 {
			continue
		}
		for {
			n, err := proc.Read(buf)
			if n > 0 {
				partial = append(partial, buf[:n]...)
				if partial, err = s.consume(partial, tracker, batch); err != nil {
					return
				}
				continue
			}
			if capture.WouldBlock(err) {
				break
			}
			if errors.Is(err, io.EOF) {
				s.log.Info("tshark closed its output", zap.String("interface", s.iface))
			} else {
				s.log.Error("read tshark output", zap.Error(err))
			}
			return
		}
		if events[0].Hangup {
			s.log.Info("tshark hung up", zap.String("interface", s.iface))
			return
		}
	}
}

// consume handles every complete line in data and returns the unfinished tail.
func (s *Session) consume(data []byte, tracker *pcapfile.OffsetTracker, batch *store.BatchWriter) ([]byte, error) {
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			return data, nil
		}
		line := string(data[:i])
		data = data[i+1:]
		if err := s.ingest(line, tracker, batch); err != nil {
			return data, err
		}
	}
}

func (s *Session) ingest(line string, tracker *pcapfile.OffsetTracker, batch *store.BatchWriter) error {
	rec, err := parser.ParseLine(line)
	if err != nil {
		if s.metrics != nil {
			s.metrics.ParseFailures.WithLabelValues(metrics.SourceLive).Inc()
		}
		if s.policy == ingest.PolicySkip {
			if !ingest.StepOver(line, tracker) {
				s.log.Warn("skipped line has no captured length, later offsets may be off", zap.String("line", line))
			}
			s.log.Warn("skipping malformed line", zap.String("line", line), zap.Error(err))
			return nil
		}
		s.log.Error("malformed line, stopping capture", zap.String("line", line), zap.Error(err))
		return err
	}
	rec.FileOffset = tracker.Next(rec.CapturedLength)
	if err := ingest.Enrich(s.locator, rec, s.log); err != nil {
		s.log.Error("geolocation unavailable, stopping capture", zap.Error(err))
		return err
	}
	if err := s.index.Insert(rec); err != nil {
		s.log.Error("index record", zap.Error(err))
		return err
	}
	if s.metrics != nil {
		s.metrics.RecordsIngested.WithLabelValues(metrics.SourceLive).Inc()
	}
	if batch != nil {
		batch.Add(rec)
	}
	s.mu.Lock()
	s.pktCount++
	s.mu.Unlock()
	s.broadcast(Event{Type: EventPacket, Packet: rec})
	return nil
}

// finish releases everything the worker owns and returns the session to Idle.
func (s *Session) finish(proc *capture.Process, p *poller.Poller, batch *store.BatchWriter) {
	p.Remove(proc.Fd())
	if err := proc.Terminate(killGrace); err != nil {
		s.log.Warn("terminate tshark", zap.Error(err))
	}
	proc.Close()
	p.Close()
	if batch != nil {
		batch.Close()
	}
	if s.metrics != nil {
		s.metrics.CaptureActive.Set(0)
	}

	s.mu.Lock()
	s.capturing = false
	s.poller = nil
	count, started := s.pktCount, s.startTime
	s.mu.Unlock()
	s.log.Info("capture finished", zap.Int("packets", count), zap.Duration("elapsed", time.Since(started)))
}

func (s *Session) broadcast(ev Event) {
	s.mu.Lock()
	clients := make([]Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		if err := c.Deliver(ev); err != nil {
			s.log.Debug("client delivery failed", zap.String("event", ev.Type), zap.Error(err))
		}
	}
}
