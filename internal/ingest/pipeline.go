// Package ingest runs tshark over a finished capture file and turns its
// output into indexed packet records.
package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"sharkline/internal/capture"
	"sharkline/internal/config"
	"sharkline/internal/geo"
	"sharkline/internal/index"
	"sharkline/internal/logging"
	"sharkline/internal/metrics"
	"sharkline/internal/models"
	"sharkline/internal/parser"
	"sharkline/internal/pcapfile"
)

// Policy decides what a malformed tshark line does to an analysis.
type Policy int

const (
	// PolicyAbort stops the analysis at the first malformed line and
	// discards what was indexed so far.
	PolicyAbort Policy = iota
	// PolicySkip logs the line and continues. The offset cursor steps over
	// the skipped packet when its captured length can still be read.
	PolicySkip
)

// ParsePolicy maps a config value to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", config.PolicyAbort:
		return PolicyAbort, nil
	case config.PolicySkip:
		return PolicySkip, nil
	}
	return PolicyAbort, fmt.Errorf("ingest: unknown parse policy %q", s)
}

// maxLine bounds one tshark output line; long Info columns exceed the
// bufio default.
const maxLine = 1 << 20

// Sink receives records after they are indexed.
type Sink interface {
	Add(recs ...*models.PacketRecord)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(p *Pipeline) { p.log = l } }

// WithPolicy sets the parse failure policy.
func WithPolicy(pol Policy) Option { return func(p *Pipeline) { p.policy = pol } }

// WithMetrics records ingestion counters.
func WithMetrics(m *metrics.Metrics) Option { return func(p *Pipeline) { p.metrics = m } }

// WithSink hands the records of every successful analysis to s.
func WithSink(s Sink) Option { return func(p *Pipeline) { p.sink = s } }

// Pipeline analyzes one capture file at a time and keeps its records for
// hex retrieval.
type Pipeline struct {
	tshark  *capture.Tshark
	locator *geo.Locator
	log     *zap.Logger
	policy  Policy
	metrics *metrics.Metrics
	sink    Sink

	index *index.PacketIndex

	mu   sync.Mutex
	file string
}

// New returns a Pipeline. locator may be nil to skip geolocation.
func New(tshark *capture.Tshark, locator *geo.Locator, opts ...Option) *Pipeline {
	p := &Pipeline{
		tshark:  tshark,
		locator: locator,
		index:   index.New(),
	}
	for _, o := range opts {
		o(p)
	}
	p.log = logging.OrNop(p.log)
	return p
}

// Analyze runs tshark over path and returns its records in tool order.
// The previous analysis is discarded first.
func (p *Pipeline) Analyze(ctx context.Context, path string) ([]*models.PacketRecord, error) {
	p.index.Clear()
	p.mu.Lock()
	p.file = ""
	p.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := p.tshark.Command(ctx, capture.AnalyzeArgs(path)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", capture.ErrLaunch, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", capture.ErrLaunch, p.tshark.Path, err)
	}
	p.log.Info("analyzing capture file", zap.String("path", path))

	run := &analysis{tracker: pcapfile.NewOffsetTracker()}
	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 64*1024), maxLine)

	var failed error
	for sc.Scan() {
		if err := p.ingestLine(sc.Text(), run); err != nil {
			failed = err
			break
		}
	}
	if failed == nil {
		failed = sc.Err()
	}
	if failed != nil {
		cancel()
		cmd.Wait()
		return nil, p.fail(path, failed)
	}
	if err := cmd.Wait(); err != nil {
		return nil, p.fail(path, fmt.Errorf("tshark: %w", err))
	}
	if run.unsized > 0 {
		// A skipped line with no readable cap_len may have been a packet.
		if err := pcapfile.Verify(path, p.index.Records()); err != nil {
			return nil, p.fail(path, fmt.Errorf("offsets lost after %d skipped lines: %w", run.unsized, err))
		}
	}

	recs := p.index.Records()
	if p.sink != nil && len(recs) > 0 {
		p.sink.Add(recs...)
	}
	p.mu.Lock()
	p.file = path
	p.mu.Unlock()
	p.log.Info("analysis finished", zap.String("path", path), zap.Int("records", len(recs)), zap.Int("skipped", run.skipped))
	return recs, nil
}

// fail discards a broken analysis so nothing of it can be looked up.
func (p *Pipeline) fail(path string, err error) error {
	p.index.Clear()
	p.log.Error("analysis failed", zap.String("path", path), zap.Error(err))
	return fmt.Errorf("analyze %s: %w", path, err)
}

// analysis is the per-run cursor state.
type analysis struct {
	tracker *pcapfile.OffsetTracker
	skipped int
	unsized int
}

func (p *Pipeline) ingestLine(line string, run *analysis) error {
	rec, err := parser.ParseLine(line)
	if err != nil {
		if p.metrics != nil {
			p.metrics.ParseFailures.WithLabelValues(metrics.SourceFile).Inc()
		}
		if p.policy == PolicySkip {
			run.skipped++
			if !StepOver(line, run.tracker) {
				run.unsized++
			}
			p.log.Warn("skipping malformed line", zap.String("line", line), zap.Error(err))
			return nil
		}
		p.log.Error("malformed line", zap.String("line", line), zap.Error(err))
		return err
	}
	rec.FileOffset = run.tracker.Next(rec.CapturedLength)
	if err := Enrich(p.locator, rec, p.log); err != nil {
		return err
	}
	if err := p.index.Insert(rec); err != nil {
		return err
	}
	if p.metrics != nil {
		p.metrics.RecordsIngested.WithLabelValues(metrics.SourceFile).Inc()
	}
	return nil
}

// StepOver advances tracker past the packet behind a skipped line. It
// returns false, leaving the cursor alone, when the line carries no
// readable captured length.
func StepOver(line string, tracker *pcapfile.OffsetTracker) bool {
	capLen, ok := parser.RecoverCapLen(line)
	if ok {
		tracker.Next(capLen)
	}
	return ok
}

// Enrich stamps both locations on rec. A nil locator leaves them empty.
// Lookup failures other than a missing engine only cost the label.
func Enrich(loc *geo.Locator, rec *models.PacketRecord, log *zap.Logger) error {
	if loc == nil {
		return nil
	}
	var err error
	if rec.SrcLocation, err = locate(loc, rec.SrcIP, log); err != nil {
		return err
	}
	if rec.DstLocation, err = locate(loc, rec.DstIP, log); err != nil {
		return err
	}
	return nil
}

func locate(loc *geo.Locator, addr string, log *zap.Logger) (string, error) {
	where, err := loc.Locate(addr)
	if err == nil {
		return where, nil
	}
	if errors.Is(err, geo.ErrNotInitialized) {
		return "", err
	}
	logging.OrNop(log).Debug("geolocation lookup failed", zap.String("addr", addr), zap.Error(err))
	return "", nil
}

// HexData returns the raw bytes of frame from the analyzed file.
func (p *Pipeline) HexData(frame uint32) ([]byte, error) {
	rec, ok := p.index.Get(frame)
	if !ok {
		return nil, fmt.Errorf("frame %d: %w", frame, pcapfile.ErrUnknownFrame)
	}
	return pcapfile.ReadFrame(p.CurrentFile(), rec.FileOffset, rec.CaptureLength())
}

// Record looks up one frame of the last analysis.
func (p *Pipeline) Record(frame uint32) (*models.PacketRecord, bool) {
	return p.index.Get(frame)
}

// Records returns the last analysis in tool order.
func (p *Pipeline) Records() []*models.PacketRecord {
	return p.index.Records()
}

// CurrentFile is the path of the last successful analysis.
func (p *Pipeline) CurrentFile() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.file
}
