package pcapfile

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"sharkline/internal/models"
)

// ErrUnknownFrame is returned when a frame number is not in the index.
var ErrUnknownFrame = errors.New("unknown frame")

// Header describes the global header of a capture file.
type Header struct {
	LinkType layers.LinkType
	Snaplen  uint32
}

// CheckHeader verifies that path is a classic pcap file. pcapng files are
// rejected because their block layout breaks the fixed-size offset math.
func CheckHeader(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, fmt.Errorf("open capture file %q: %w", path, err)
	}
	defer f.Close()

	r, err := pcapgo.NewReader(f)
	if err != nil {
		return Header{}, fmt.Errorf("read pcap header %q: %w", path, err)
	}
	return Header{LinkType: r.LinkType(), Snaplen: r.Snaplen()}, nil
}

// ReadFrame returns the capLen raw bytes of the record at off.
func ReadFrame(path string, off uint64, capLen uint32) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture file %q: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Seek(DataOffset(off), io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek %q to %d: %w", path, off, err)
	}
	buf := make([]byte, capLen)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, fmt.Errorf("read %d bytes at %d from %q: %w", capLen, off, path, err)
	}
	return buf, nil
}

// Verify walks the capture file and checks that every record's offset and
// captured length match what the file actually contains. Frame N is the Nth
// packet of the file; records must be in frame order but may have gaps.
func Verify(path string, records []*models.PacketRecord) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open capture file %q: %w", path, err)
	}
	defer f.Close()

	r, err := pcapgo.NewReader(f)
	if err != nil {
		return fmt.Errorf("read pcap header %q: %w", path, err)
	}

	tracker := NewOffsetTracker()
	next := 0
	for frame := uint32(1); next < len(records); frame++ {
		rec := records[next]
		if rec.FrameNumber < frame {
			return fmt.Errorf("frame %d: records out of frame order", rec.FrameNumber)
		}
		_, ci, err := r.ReadPacketData()
		if err != nil {
			return fmt.Errorf("frame %d: %w", rec.FrameNumber, err)
		}
		want := tracker.Next(uint32(ci.CaptureLength))
		if rec.FrameNumber != frame {
			continue
		}
		next++
		if rec.FileOffset != want {
			return fmt.Errorf("frame %d: offset %d, file has %d", rec.FrameNumber, rec.FileOffset, want)
		}
		if rec.CapturedLength != uint32(ci.CaptureLength) {
			return fmt.Errorf("frame %d: cap_len %d, file has %d", rec.FrameNumber, rec.CapturedLength, ci.CaptureLength)
		}
	}
	return nil
}
