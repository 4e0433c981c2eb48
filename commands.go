package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"go.uber.org/zap"

	"sharkline/internal/engine"
	"sharkline/internal/flow"
	"sharkline/internal/ingest"
	"sharkline/internal/models"
	"sharkline/internal/pcapfile"
	"sharkline/internal/pdml"
	"sharkline/internal/store"
	"sharkline/internal/trendstore"
)

func (a *app) adapters(ctx context.Context) error {
	list, err := a.tshark.ListInterfaces(ctx)
	if err != nil {
		return err
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Name", "Remark"})
	for _, ad := range list {
		table.Append([]string{strconv.Itoa(ad.ID), ad.Name, ad.Remark})
	}
	table.Render()
	return nil
}

func (a *app) openStore(ctx context.Context, reset bool) (*store.Store, error) {
	st, err := store.Open(a.cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := st.CreatePacketTable(ctx); err != nil {
		st.Close()
		return nil, err
	}
	if reset {
		if err := st.Reset(ctx); err != nil {
			st.Close()
			return nil, err
		}
	}
	return st, nil
}


func (a *app) analyze(ctx context.Context, path string) error {
	hdr, err := pcapfile.CheckHeader(path)
	if err != nil {
		return err
	}
	a.log.Info("capture file", zap.String("path", path), zap.Stringer("link", hdr.LinkType), zap.Uint32("snaplen", hdr.Snaplen))

	policy, err := ingest.ParsePolicy(a.cfg.ParsePolicy)
	if err != nil {
		return err
	}
	loc, err := a.locator()
	if err != nil {
		return err
	}
	if loc != nil {
		defer loc.Close()
	}
	st, err := a.openStore(ctx, true)
	if err != nil {
		return err
	}
	defer st.Close()
	batch := store.NewBatchWriter(st, a.cfg.StorageFlushInterval, a.log, a.metrics)

	p := ingest.New(a.tshark, loc,
		ingest.WithLogger(a.log),
		ingest.WithPolicy(policy),
		ingest.WithMetrics(a.metrics),
		ingest.WithSink(batch),
	)
	recs, err := p.Analyze(ctx, path)
	batch.Close()
	if err != nil {
		return err
	}
	if err := pcapfile.Verify(path, recs); err != nil {
		a.log.Warn("offsets do not match the capture file", zap.Error(err))
	}
	printPackets(recs, a.opts.limit)

	if a.opts.frame != 0 {
		rec, ok := p.Record(a.opts.frame)
		if !ok {
			return fmt.Errorf("frame %d: %w", a.opts.frame, pcapfile.ErrUnknownFrame)
		}
		data, err := p.HexData(rec.FrameNumber)
		if err != nil {
			return err
		}
		fmt.Printf("\nframe %d at offset %d, %s %s -> %s (%d bytes)\n%s", rec.FrameNumber, rec.FileOffset,
			rec.Protocol, endpoint(rec.SrcIP, rec.SrcPort), endpoint(rec.DstIP, rec.DstPort), len(data), pcapfile.HexDump(data))
	}
	return nil
}

// printer shows live packets as they are captured.
type printer struct {
	limit int
	seen  int
}

func (p *printer) Deliver(ev engine.Event) error {
	switch ev.Type {
	case engine.EventStarted:
		fmt.Printf("capturing on %s\n", ev.Interface)
	case engine.EventStopped:
		fmt.Printf("capture on %s stopped after %d packets\n", ev.Interface, p.seen)
	case engine.EventPacket:
		p.seen++
		if p.limit == 0 || p.seen <= p.limit {
			r := ev.Packet
			fmt.Printf("%6d  %-39s -> %-39s %-8s %s\n", r.FrameNumber, endpoint(r.SrcIP, r.SrcPort), endpoint(r.DstIP, r.DstPort), r.Protocol, r.Info)
		}
	}
	return nil
}

func (a *app) capture(ctx context.Context, iface string) error {
	policy, err := ingest.ParsePolicy(a.cfg.ParsePolicy)
	if err != nil {
		return err
	}
	loc, err := a.locator()
	if err != nil {
		return err
	}
	if loc != nil {
		defer loc.Close()
	}
	st, err := a.openStore(ctx, false)
	if err != nil {
		return err
	}
	defer st.Close()

	s := engine.New(a.tshark, loc,
		engine.WithLogger(a.log),
		engine.WithMetrics(a.metrics),
		engine.WithPolicy(policy),
		engine.WithCaptureFile(a.cfg.CaptureFile),
		engine.WithPollTimeout(a.cfg.CapturePollTimeout),
		engine.WithStore(st, a.cfg.StorageFlushInterval),
	)
	s.RegisterClient(&printer{limit: a.opts.limit})
	if err := s.Start(iface); err != nil {
		return err
	}
	wait(ctx, a.opts.duration)
	return s.Stop()
}

func (a *app) monitor(ctx context.Context) error {
	archive, err := trendstore.Open(a.cfg.TrendDB)
	if err != nil {
		return err
	}
	defer archive.Close()

	m := flow.NewMonitor(a.tshark,
		flow.WithLogger(a.log),
		flow.WithMetrics(a.metrics),
		flow.WithArchive(archive),
		flow.WithWindow(a.cfg.TrendWindow),
	)
	if err := m.Start(ctx); err != nil {
		return err
	}

	deadline := time.Time{}
	if a.opts.duration > 0 {
		deadline = time.Now().Add(a.opts.duration)
	}
	tick := time.NewTicker(time.Second)
	defer tick.Stop()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case now := <-tick.C:
			printRates(m.Snapshot(), now.Unix()-1)
			if !deadline.IsZero() && now.After(deadline) {
				break loop
			}
		}
	}
	return m.Stop()
}

func printRates(snap map[string]map[int64]int64, sec int64) {
	names := make([]string, 0, len(snap))
	for n := range snap {
		names = append(names, n)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, n := range names {
		parts = append(parts, fmt.Sprintf("%s=%dB", n, snap[n][sec]))
	}
	fmt.Printf("%s  %s\n", time.Unix(sec, 0).Format("15:04:05"), strings.Join(parts, " "))
}

func (a *app) query(ctx context.Context) error {
	st, err := a.openStore(ctx, false)
	if err != nil {
		return err
	}
	defer st.Close()

	cond := models.QueryConditions{
		MAC:      a.opts.cond.mac,
		IP:       a.opts.cond.ip,
		Port:     a.opts.cond.port,
		Location: a.opts.cond.location,
	}
	data, err := st.QueryJSON(ctx, cond)
	if err != nil {
		return err
	}
	recs, err := st.Query(ctx, cond)
	if err != nil {
		return err
	}
	printPackets(recs, a.opts.limit)
	fmt.Printf("%d packets matched\n", len(recs))

	if a.opts.out != "" {
		out := a.opts.out
		if out == "auto" {
			out = filepath.Join(a.cfg.DataDir, "query_"+time.Now().Format("20060102_150405")+".json")
		}
		if err := store.SaveQueryResult(data, out); err != nil {
			return err
		}
		fmt.Printf("saved to %s\n", out)
	}
	return nil
}

func (a *app) pdml(ctx context.Context, path string) error {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	xmlPath := filepath.Join(a.cfg.DataDir, base+".xml")
	jsonPath := filepath.Join(a.cfg.DataDir, base+".json")

	if err := pdml.PcapToXML(ctx, a.tshark, path, xmlPath); err != nil {
		return err
	}
	conv := pdml.NewConverter(pdml.DefaultTranslations())
	if err := conv.ConvertFile(xmlPath, jsonPath); err != nil {
		return err
	}
	fmt.Printf("wrote %s and %s\n", xmlPath, jsonPath)
	return nil
}

func (a *app) trend(args []string) error {
	archive, err := trendstore.Open(a.cfg.TrendDB)
	if err != nil {
		return err
	}
	defer archive.Close()

	names := args
	if len(names) == 0 {
		if names, err = archive.Interfaces(); err != nil {
			return err
		}
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Interface", "From", "To", "Seconds", "Bytes", "Peak B/s"})
	for _, n := range names {
		samples, err := archive.Load(n)
		if err != nil {
			return err
		}
		if len(samples) == 0 {
			continue
		}
		var total, peak int64
		for _, s := range samples {
			total += s.Bytes
			if s.Bytes > peak {
				peak = s.Bytes
			}
		}
		table.Append([]string{
			n,
			time.Unix(samples[0].Second, 0).Format(time.DateTime),
			time.Unix(samples[len(samples)-1].Second, 0).Format(time.DateTime),
			strconv.Itoa(len(samples)),
			strconv.FormatInt(total, 10),
			strconv.FormatInt(peak, 10),
		})
	}
	table.Render()
	return nil
}

func printPackets(recs []*models.PacketRecord, limit int) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"No.", "Time", "Source", "Destination", "Protocol", "Length", "Location", "Info"})
	table.SetAutoWrapText(false)
	for i, r := range recs {
		if limit > 0 && i >= limit {
			break
		}
		table.Append([]string{
			strconv.FormatUint(uint64(r.FrameNumber), 10),
			time.Unix(0, int64(r.Timestamp*1e9)).Format("15:04:05.000000"),
			endpoint(r.SrcIP, r.SrcPort),
			endpoint(r.DstIP, r.DstPort),
			r.Protocol,
			strconv.FormatUint(uint64(r.WireLength), 10),
			location(r),
			r.Info,
		})
	}
	table.Render()
	if limit > 0 && len(recs) > limit {
		fmt.Printf("... %d more\n", len(recs)-limit)
	}
}

func endpoint(ip string, port *uint16) string {
	if port == nil {
		return ip
	}
	if strings.Contains(ip, ":") {
		return fmt.Sprintf("[%s]:%d", ip, *port)
	}
	return fmt.Sprintf("%s:%d", ip, *port)
}

func location(r *models.PacketRecord) string {
	if r.SrcLocation == "" && r.DstLocation == "" {
		return ""
	}
	return r.SrcLocation + " -> " + r.DstLocation
}
