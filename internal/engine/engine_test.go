package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"sharkline/internal/capture"
	"sharkline/internal/ingest"
	"sharkline/internal/metrics"
	"sharkline/internal/store"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Deliver(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func line(frame, capLen int) string {
	return fmt.Sprintf("%d\t1700000000.%d\t%d\t%d\t00:11:22:33:44:55\t66:77:88:99:aa:bb\t10.0.0.1\t\t10.0.0.2\t\t\t5353\t\t53\tDNS\tStandard query",
		frame, frame, capLen, capLen)
}

// liveFixture writes a capture file holding packets of capLens and a fake
// tshark that prints lines, then runs tail.
func liveFixture(t *testing.T, lines []string, tail string, capLens ...int) (*capture.Tshark, string) {
	t.Helper()
	dir := t.TempDir()
	pcapPath := filepath.Join(dir, "capture.pcap")
	f, err := os.Create(pcapPath)
	if err != nil {
		t.Fatal(err)
	}
	w := pcapgo.NewWriter(f)
	w.WriteFileHeader(65535, layers.LinkTypeEthernet)
	for i, n := range capLens {
		ci := gopacket.CaptureInfo{Timestamp: time.Unix(1700000000, 0), CaptureLength: n, Length: n}
		if err := w.WritePacket(ci, bytes.Repeat([]byte{byte(0xa0 + i)}, n)); err != nil {
			t.Fatal(err)
		}
	}
	f.Close()

	out := filepath.Join(dir, "lines")
	os.WriteFile(out, []byte(strings.Join(lines, "\n")+"\n"), 0o644)
	script := filepath.Join(dir, "tshark")
	os.WriteFile(script, []byte("#!/bin/sh\ncat "+out+"\n"+tail+"\n"), 0o755)
	return capture.New(script), pcapPath
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestSessionLifecycle(t *testing.T) {
	ts, pcapPath := liveFixture(t, []string{line(1, 60), line(2, 80), line(3, 100)}, "exec sleep 30", 60, 80, 100)
	m := metrics.New()
	s := New(ts, nil, WithCaptureFile(pcapPath), WithMetrics(m), WithPollTimeout(50*time.Millisecond))
	rec := &recorder{}
	s.RegisterClient(rec)

	if err := s.Start("eth0"); err != nil {
		t.Fatal(err)
	}
	if err := s.Start("eth0"); !errors.Is(err, ErrAlreadyCapturing) {
		t.Errorf("second Start = %v", err)
	}
	waitFor(t, func() bool { return len(s.Records()) == 3 })

	recs := s.Records()
	want := []uint64{24, 100, 196}
	for i, r := range recs {
		if r.FileOffset != want[i] {
			t.Errorf("frame %d offset %d, want %d", r.FrameNumber, r.FileOffset, want[i])
		}
		if r.SrcPort == nil || *r.SrcPort != 5353 {
			t.Errorf("frame %d src port = %v", r.FrameNumber, r.SrcPort)
		}
	}
	data, err := s.HexData(3)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, bytes.Repeat([]byte{0xa2}, 100)) {
		t.Errorf("frame 3 bytes = %x", data)
	}
	if testutil.ToFloat64(m.CaptureActive) != 1 {
		t.Error("capture_active not set")
	}

	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	if s.Capturing() {
		t.Error("still capturing after Stop")
	}
	if testutil.ToFloat64(m.CaptureActive) != 0 {
		t.Error("capture_active not cleared")
	}
	got := strings.Join(rec.types(), ",")
	if got != "capture_started,packet,packet,packet,capture_stopped" {
		t.Errorf("events = %s", got)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop = %v", err)
	}
}

func TestStopWhileIdle(t *testing.T) {
	s := New(capture.New("/nonexistent"), nil)
	if err := s.Stop(); err != nil {
		t.Errorf("Stop on idle session = %v", err)
	}
}

func TestSessionEndsWithTshark(t *testing.T) {
	ts, pcapPath := liveFixture(t, []string{line(1, 60)}, "exit 0", 60)
	s := New(ts, nil, WithCaptureFile(pcapPath), WithPollTimeout(50*time.Millisecond))
	if err := s.Start("eth0"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return !s.Capturing() })
	if len(s.Records()) != 1 {
		t.Errorf("got %d records", len(s.Records()))
	}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop after exit = %v", err)
	}
}

func TestSessionPersistsRecords(t *testing.T) {
	ts, pcapPath := liveFixture(t, []string{line(1, 60), line(2, 80)}, "exec sleep 30", 60, 80)
	st, err := store.Open(filepath.Join(t.TempDir(), "packets.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	ctx := context.Background()
	st.CreatePacketTable(ctx)

	s := New(ts, nil, WithCaptureFile(pcapPath), WithStore(st, time.Hour), WithPollTimeout(50*time.Millisecond))
	if err := s.Start("eth0"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(s.Records()) == 2 })
	s.Stop()

	stored, err := st.QueryAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 2 || stored[1].FileOffset != 100 {
		t.Errorf("stored = %+v", stored)
	}
}

func TestSessionAbortsOnMalformedLine(t *testing.T) {
	ts, pcapPath := liveFixture(t, []string{line(1, 60), "garbage", line(2, 80)}, "exec sleep 30", 60, 80)
	s := New(ts, nil, WithCaptureFile(pcapPath), WithPollTimeout(50*time.Millisecond))
	if err := s.Start("eth0"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return !s.Capturing() })
	if len(s.Records()) != 1 {
		t.Errorf("got %d records, want 1", len(s.Records()))
	}
}

func TestSessionSkipsMalformedLine(t *testing.T) {
	ts, pcapPath := liveFixture(t, []string{line(1, 60), "garbage", line(2, 80)}, "exec sleep 30", 60, 80)
	s := New(ts, nil, WithCaptureFile(pcapPath), WithPolicy(ingest.PolicySkip), WithPollTimeout(50*time.Millisecond))
	if err := s.Start("eth0"); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()
	waitFor(t, func() bool { return len(s.Records()) == 2 })
	if r := s.Records()[1]; r.FileOffset != 100 {
		t.Errorf("frame 2 offset = %d", r.FileOffset)
	}
}

func TestSessionSkippedPacketKeepsLaterOffsets(t *testing.T) {
	badPort := strings.Replace(line(2, 80), "\t5353\t", "\tmdns\t", 1)
	ts, pcapPath := liveFixture(t, []string{line(1, 60), badPort, line(3, 100)}, "exec sleep 30", 60, 80, 100)
	s := New(ts, nil, WithCaptureFile(pcapPath), WithPolicy(ingest.PolicySkip), WithPollTimeout(50*time.Millisecond))
	if err := s.Start("eth0"); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()
	waitFor(t, func() bool { return len(s.Records()) == 2 })
	if r := s.Records()[1]; r.FrameNumber != 3 || r.FileOffset != 196 {
		t.Fatalf("second record = %+v", r)
	}
	data, err := s.HexData(3)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, bytes.Repeat([]byte{0xa2}, 100)) {
		t.Errorf("frame 3 bytes = %x", data[:20])
	}
}

func TestSessionRestartReplacesStoredRecords(t *testing.T) {
	ts, pcapPath := liveFixture(t, []string{line(1, 60), line(2, 80)}, "exec sleep 30", 60, 80)
	st, err := store.Open(filepath.Join(t.TempDir(), "packets.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	ctx := context.Background()
	st.CreatePacketTable(ctx)

	m := metrics.New()
	s := New(ts, nil, WithCaptureFile(pcapPath), WithStore(st, time.Hour), WithMetrics(m), WithPollTimeout(50*time.Millisecond))
	for round, iface := range []string{"eth0", "eth1"} {
		if err := s.Start(iface); err != nil {
			t.Fatalf("round %d: %v", round, err)
		}
		waitFor(t, func() bool { return len(s.Records()) == 2 })
		s.Stop()

		stored, err := st.QueryAll(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(stored) != 2 {
			t.Errorf("round %d: %d rows stored, want 2", round, len(stored))
		}
		if got := testutil.ToFloat64(m.RecordsStored); got != float64(2*(round+1)) {
			t.Errorf("round %d: records_stored_total = %v", round, got)
		}
	}
}

func TestStartLaunchFailure(t *testing.T) {
	s := New(capture.New(filepath.Join(t.TempDir(), "missing")), nil)
	if err := s.Start("eth0"); !errors.Is(err, capture.ErrLaunch) {
		t.Errorf("Start = %v, want ErrLaunch", err)
	}
	if s.Capturing() {
		t.Error("capturing after failed Start")
	}
}
