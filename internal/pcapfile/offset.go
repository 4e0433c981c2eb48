// Package pcapfile knows just enough about the classic pcap layout to locate
// a packet's raw bytes from its captured length.
package pcapfile

const (
	// GlobalHeaderSize is the size of the pcap file header at offset 0.
	GlobalHeaderSize = 24
	// PacketHeaderSize is the size of the record header before each packet.
	PacketHeaderSize = 16
)

// OffsetTracker hands out record offsets in file order. Each offset depends
// on every earlier captured length, so one tracker serves exactly one file
// and must be fed sequentially.
type OffsetTracker struct {
	cursor uint64
}

// NewOffsetTracker returns a tracker positioned at the first record.
func NewOffsetTracker() *OffsetTracker {
	return &OffsetTracker{cursor: GlobalHeaderSize}
}

// Next returns the offset of the record whose captured length is capLen and
// advances past its header and data.
func (t *OffsetTracker) Next(capLen uint32) uint64 {
	off := t.cursor
	t.cursor += PacketHeaderSize + uint64(capLen)
	return off
}

// Cursor is the offset the next record will receive.
func (t *OffsetTracker) Cursor() uint64 {
	return t.cursor
}

// Reset rewinds to the first record.
func (t *OffsetTracker) Reset() {
	t.cursor = GlobalHeaderSize
}

// DataOffset is where the packet bytes of a record at off begin.
func DataOffset(off uint64) int64 {
	return int64(off) + PacketHeaderSize
}
