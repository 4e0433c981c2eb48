package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"sharkline/internal/capture"
	"sharkline/internal/config"
	"sharkline/internal/geo"
	"sharkline/internal/logging"
	"sharkline/internal/metrics"
)

const usage = `usage: sharkline [flags] <mode> [args]

modes:
  adapters              list capture interfaces
  analyze <pcap>        dissect a capture file and store its packets
  capture <iface>       capture live for --duration and store the packets
  monitor               track per-second traffic on every interface for --duration
  query                 search stored packets (--mac, --ip, --port, --location)
  pdml <pcap>           convert a capture file to PDML and JSON
  trend [iface]         show archived traffic trends

flags:
`

// app carries what every mode needs.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	tshark  *capture.Tshark
	metrics *metrics.Metrics
	opts    *modeFlags
}

type modeFlags struct {
	duration time.Duration
	frame    uint32
	limit    int
	out      string
	cond     queryFlags
}

type queryFlags struct {
	mac, ip, port, location string
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "sharkline:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("sharkline", pflag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}
	config.RegisterFlags(fs)
	mf := &modeFlags{}
	fs.DurationVar(&mf.duration, "duration", 10*time.Second, "how long capture and monitor run (0 = until interrupted)")
	fs.Uint32Var(&mf.frame, "frame", 0, "analyze: print the hex dump of this frame")
	fs.IntVar(&mf.limit, "limit", 50, "rows printed by analyze, capture and query (0 = all)")
	fs.StringVar(&mf.out, "out", "", "query: also save the JSON result to this file")
	fs.StringVar(&mf.cond.mac, "mac", "", "query: source or destination MAC, * as wildcard")
	fs.StringVar(&mf.cond.ip, "ip", "", "query: source or destination IP, * as wildcard")
	fs.StringVar(&mf.cond.port, "port", "", "query: source or destination port, * as wildcard")
	fs.StringVar(&mf.cond.location, "location", "", "query: location substring, * as wildcard")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return fmt.Errorf("no mode given")
	}

	cfg, err := config.Load(fs)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	defer log.Sync()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	a := &app{
		cfg:     cfg,
		log:     log,
		tshark:  capture.New(cfg.TsharkPath),
		metrics: metrics.New(),
		opts:    mf,
	}
	defer a.logMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mode, rest := fs.Arg(0), fs.Args()[1:]
	switch mode {
	case "adapters":
		return a.adapters(ctx)
	case "analyze":
		if len(rest) != 1 {
			return fmt.Errorf("analyze needs a capture file")
		}
		return a.analyze(ctx, rest[0])
	case "capture":
		if len(rest) != 1 {
			return fmt.Errorf("capture needs an interface name")
		}
		return a.capture(ctx, rest[0])
	case "monitor":
		return a.monitor(ctx)
	case "query":
		return a.query(ctx)
	case "pdml":
		if len(rest) != 1 {
			return fmt.Errorf("pdml needs a capture file")
		}
		return a.pdml(ctx, rest[0])
	case "trend":
		return a.trend(rest)
	default:
		fs.Usage()
		return fmt.Errorf("unknown mode %q", mode)
	}
}

// locator opens the geolocation database when one is configured. It must be
// called before any worker starts.
func (a *app) locator() (*geo.Locator, error) {
	if a.cfg.GeoDB == "" {
		a.log.Warn("no geo database configured, locations stay empty")
		return nil, nil
	}
	loc := &geo.Locator{}
	if err := loc.Init(a.cfg.GeoDB); err != nil {
		return nil, err
	}
	return loc, nil
}

// wait blocks for d, or until ctx is done when d is 0.
func wait(ctx context.Context, d time.Duration) {
	if d <= 0 {
		<-ctx.Done()
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func (a *app) logMetrics() {
	families, err := a.metrics.Registry.Gather()
	if err != nil {
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var v float64
			switch {
			case m.GetCounter() != nil:
				v = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				v = m.GetGauge().GetValue()
			}
			fields := []zap.Field{zap.String("metric", mf.GetName()), zap.Float64("value", v)}
			for _, l := range m.GetLabel() {
				fields = append(fields, zap.String(l.GetName(), l.GetValue()))
			}
			a.log.Debug("metric", fields...)
		}
	}
}
