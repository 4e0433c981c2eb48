package parser

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"sharkline/internal/models"
)

var (
	// ErrFieldCount is returned when a line has fewer columns than Fields.
	ErrFieldCount = errors.New("too few fields")
	// ErrNumeric is returned when a numeric column does not parse.
	ErrNumeric = errors.New("invalid numeric field")
)

// ParseError wraps a line that could not be turned into a record.
type ParseError struct {
	Line string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %q: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseLine converts one tab-separated tshark output line into a record.
// Empty columns keep their position, so the IPv4/IPv6 and TCP/UDP pairs can
// be told apart. No partial record is returned on failure.
func ParseLine(line string) (*models.PacketRecord, error) {
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")

	fields := strings.Split(line, "\t")
	if len(fields) < MinFields {
		return nil, &ParseError{Line: line, Err: fmt.Errorf("%w: got %d, want %d", ErrFieldCount, len(fields), MinFields)}
	}

	fail := func(name string, err error) (*models.PacketRecord, error) {
		return nil, &ParseError{Line: line, Err: fmt.Errorf("%w: %s: %v", ErrNumeric, name, err)}
	}

	frame, err := strconv.ParseUint(fields[colFrameNumber], 10, 32)
	if err != nil {
		return fail("frame.number", err)
	}
	if frame == 0 {
		return fail("frame.number", errors.New("frame numbers start at 1"))
	}
	ts, err := strconv.ParseFloat(fields[colTimeEpoch], 64)
	if err != nil {
		return fail("frame.time_epoch", err)
	}
	wireLen, err := strconv.ParseUint(fields[colWireLen], 10, 32)
	if err != nil {
		return fail("frame.len", err)
	}
	capLen, err := strconv.ParseUint(fields[colCapLen], 10, 32)
	if err != nil {
		return fail("frame.cap_len", err)
	}
	if capLen > wireLen {
		return fail("frame.cap_len", fmt.Errorf("captured length %d exceeds wire length %d", capLen, wireLen))
	}

	srcPort, err := pickPort(fields[colTCPSrcPort], fields[colUDPSrcPort])
	if err != nil {
		return fail("srcport", err)
	}
	dstPort, err := pickPort(fields[colTCPDstPort], fields[colUDPDstPort])
	if err != nil {
		return fail("dstport", err)
	}

	return &models.PacketRecord{
		FrameNumber:    uint32(frame),
		Timestamp:      ts,
		WireLength:     uint32(wireLen),
		CapturedLength: uint32(capLen),
		SrcMAC:         fields[colEthSrc],
		DstMAC:         fields[colEthDst],
		SrcIP:          firstNonEmpty(fields[colIPSrc], fields[colIPv6Src]),
		DstIP:          firstNonEmpty(fields[colIPDst], fields[colIPv6Dst]),
		SrcPort:        srcPort,
		DstPort:        dstPort,
		Protocol:       fields[colProtocol],
		Info:           strings.Join(fields[colInfo:], "\t"),
	}, nil
}

func firstNonEmpty(preferred, fallback string) string {
	if preferred != "" {
		return preferred
	}
	return fallback
}

// pickPort prefers the TCP column. Both empty means no port, which is
// distinct from port 0.
func pickPort(tcp, udp string) (*uint16, error) {
	v := firstNonEmpty(tcp, udp)
	if v == "" {
		return nil, nil
	}
	// tshark prints a comma list for tunnelled packets; the outer header comes first.
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = v[:i]
	}
	n, err := strconv.ParseUint(v, 10, 16)
	if err != nil {
		return nil, err
	}
	return models.Port(uint16(n)), nil
}

// ParseMonitorLine reads one "<epoch>\t<frame.len>" line from a monitoring
// tshark. Status lines such as "Capturing on ..." return ok=false and no error.
func ParseMonitorLine(line string) (second int64, length int64, ok bool, err error) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" || strings.Contains(line, "Capturing") || strings.Contains(line, "captured") {
		return 0, 0, false, nil
	}
	cols := strings.Fields(line)
	if len(cols) < 2 {
		return 0, 0, false, &ParseError{Line: line, Err: ErrFieldCount}
	}
	ts, err := strconv.ParseFloat(cols[0], 64)
	if err != nil {
		return 0, 0, false, &ParseError{Line: line, Err: fmt.Errorf("%w: frame.time_epoch: %v", ErrNumeric, err)}
	}
	n, err := strconv.ParseInt(cols[1], 10, 64)
	if err != nil {
		return 0, 0, false, &ParseError{Line: line, Err: fmt.Errorf("%w: frame.len: %v", ErrNumeric, err)}
	}
	return int64(ts), n, true, nil
}

// RecoverCapLen pulls frame.cap_len out of a line ParseLine rejected, so a
// caller skipping the line can still step over the packet's bytes. ok is
// false when the line does not look like a packet record at all.
func RecoverCapLen(line string) (capLen uint32, ok bool) {
	fields := strings.SplitN(strings.TrimRight(line, "\r\n"), "\t", colCapLen+2)
	if len(fields) <= colCapLen {
		return 0, false
	}
	if frame, err := strconv.ParseUint(fields[colFrameNumber], 10, 32); err != nil || frame == 0 {
		return 0, false
	}
	n, err := strconv.ParseUint(fields[colCapLen], 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}
