package parser

import (
	"errors"
	"strings"
	"testing"
)

func line(cols ...string) string {
	return strings.Join(cols, "\t") + "\n"
}

func TestParseLineIPv4TCP(t *testing.T) {
	l := line("7", "1700000000.123456", "74", "60",
		"00:11:22:33:44:55", "66:77:88:99:aa:bb",
		"10.0.0.1", "", "93.184.216.34", "",
		"51514", "", "443", "",
		"TCP", "51514 → 443 [SYN] Seq=0")

	rec, err := ParseLine(l)
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	if rec.FrameNumber != 7 {
		t.Errorf("frame = %d, want 7", rec.FrameNumber)
	}
	if rec.Timestamp != 1700000000.123456 {
		t.Errorf("timestamp = %v", rec.Timestamp)
	}
	if rec.WireLength != 74 || rec.CapturedLength != 60 {
		t.Errorf("lengths = %d/%d, want 74/60", rec.WireLength, rec.CapturedLength)
	}
	if rec.SrcIP != "10.0.0.1" || rec.DstIP != "93.184.216.34" {
		t.Errorf("addresses = %s -> %s", rec.SrcIP, rec.DstIP)
	}
	if rec.SrcPort == nil || *rec.SrcPort != 51514 {
		t.Errorf("src port = %v", rec.SrcPort)
	}
	if rec.DstPort == nil || *rec.DstPort != 443 {
		t.Errorf("dst port = %v", rec.DstPort)
	}
	if rec.Protocol != "TCP" || rec.Info != "51514 → 443 [SYN] Seq=0" {
		t.Errorf("protocol/info = %q/%q", rec.Protocol, rec.Info)
	}
	if rec.FileOffset != 0 || rec.SrcLocation != "" {
		t.Error("parser must not stamp offset or location")
	}
}

func TestParseLinePrefersIPv4AndTCP(t *testing.T) {
	l := line("1", "1.5", "100", "100", "", "",
		"192.168.1.2", "fe80::1", "192.168.1.3", "fe80::2",
		"1000", "2000", "80", "53",
		"TCP", "")
	rec, err := ParseLine(l)
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	if rec.SrcIP != "192.168.1.2" || rec.DstIP != "192.168.1.3" {
		t.Errorf("want IPv4 addresses, got %s -> %s", rec.SrcIP, rec.DstIP)
	}
	if *rec.SrcPort != 1000 || *rec.DstPort != 80 {
		t.Errorf("want TCP ports, got %d -> %d", *rec.SrcPort, *rec.DstPort)
	}
}

func TestParseLineFallsBackToIPv6AndUDP(t *testing.T) {
	l := line("2", "1.5", "90", "90", "", "",
		"", "2001:db8::1", "", "2001:db8::2",
		"", "5353", "", "0",
		"MDNS", "Standard query")
	rec, err := ParseLine(l)
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	if rec.SrcIP != "2001:db8::1" || rec.DstIP != "2001:db8::2" {
		t.Errorf("want IPv6 fallback, got %s -> %s", rec.SrcIP, rec.DstIP)
	}
	if rec.SrcPort == nil || *rec.SrcPort != 5353 {
		t.Errorf("src port = %v", rec.SrcPort)
	}
	if rec.DstPort == nil || *rec.DstPort != 0 {
		t.Errorf("port 0 must be kept, got %v", rec.DstPort)
	}
}

func TestParseLineNoPorts(t *testing.T) {
	l := line("3", "2", "42", "42", "aa", "bb", "", "", "", "", "", "", "", "", "ARP", "Who has 10.0.0.1?")
	rec, err := ParseLine(l)
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	if rec.SrcPort != nil || rec.DstPort != nil {
		t.Errorf("ports should be unset, got %v %v", rec.SrcPort, rec.DstPort)
	}
	if rec.SrcIP != "" {
		t.Errorf("src ip = %q", rec.SrcIP)
	}
}

func TestParseLineTooFewFields(t *testing.T) {
	rec, err := ParseLine("1\t2\t3\t4\t5\n")
	if rec != nil {
		t.Error("partial record returned")
	}
	if !errors.Is(err, ErrFieldCount) {
		t.Fatalf("err = %v, want ErrFieldCount", err)
	}
	var pe *ParseError
	if !errors.As(err, &pe) || pe.Line != "1\t2\t3\t4\t5" {
		t.Errorf("ParseError line = %+v", pe)
	}
}

func TestParseLineNumericFailures(t *testing.T) {
	base := []string{"1", "1.0", "60", "60", "", "", "1.1.1.1", "", "2.2.2.2", "", "1", "", "2", "", "TCP", ""}
	for _, tc := range []struct {
		col int
		val string
	}{
		{colFrameNumber, "x"},
		{colFrameNumber, "0"},
		{colTimeEpoch, "yesterday"},
		{colWireLen, "-1"},
		{colCapLen, "big"},
		{colCapLen, "61"},
		{colTCPSrcPort, "http"},
		{colUDPDstPort, "70000"},
	} {
		cols := append([]string(nil), base...)
		cols[tc.col] = tc.val
		if tc.col == colUDPDstPort {
			cols[colTCPDstPort] = ""
		}
		if _, err := ParseLine(line(cols...)); !errors.Is(err, ErrNumeric) {
			t.Errorf("col %d = %q: err = %v, want ErrNumeric", tc.col, tc.val, err)
		}
	}
}

func TestParseLineWithoutTrailingNewline(t *testing.T) {
	l := strings.TrimSuffix(line("9", "3", "60", "60", "", "", "1.1.1.1", "", "2.2.2.2", "", "", "", "", "", "ICMP", "Echo"), "\n")
	rec, err := ParseLine(l)
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	if rec.Info != "Echo" {
		t.Errorf("info = %q", rec.Info)
	}
}

func TestParseMonitorLine(t *testing.T) {
	sec, n, ok, err := ParseMonitorLine("1700000000.987654\t1514\n")
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if sec != 1700000000 || n != 1514 {
		t.Errorf("got %d/%d", sec, n)
	}

	for _, banner := range []string{"Capturing on 'eth0'", "12 packets captured", ""} {
		if _, _, ok, err := ParseMonitorLine(banner); ok || err != nil {
			t.Errorf("%q: ok=%v err=%v, want skipped", banner, ok, err)
		}
	}

	if _, _, ok, err := ParseMonitorLine("garbage"); ok || err == nil {
		t.Errorf("garbage: ok=%v err=%v", ok, err)
	}
}

func TestRecoverCapLen(t *testing.T) {
	bad := line("2", "1.0", "80", "80", "", "", "1.1.1.1", "", "2.2.2.2", "", "abc", "", "2", "", "TCP", "")
	if _, err := ParseLine(bad); err == nil {
		t.Fatal("bad port accepted")
	}
	if n, ok := RecoverCapLen(bad); !ok || n != 80 {
		t.Errorf("RecoverCapLen = %d, %v, want 80", n, ok)
	}
	for _, l := range []string{"garbage", "1\t2\t3", "x\t1.0\t60\t60", "0\t1.0\t60\t60", "1\t1.0\t60\tbig"} {
		if n, ok := RecoverCapLen(l); ok {
			t.Errorf("%q: recovered %d", l, n)
		}
	}
}
