package models

// PacketRecord is one packet as dissected by tshark, plus the bookkeeping
// needed to find its raw bytes again in the capture file.
type PacketRecord struct {
	FrameNumber    uint32  `json:"frame_number"`
	Timestamp      float64 `json:"time"`
	WireLength     uint32  `json:"len"`
	CapturedLength uint32  `json:"cap_len"`
	SrcMAC         string  `json:"src_mac"`
	DstMAC         string  `json:"dst_mac"`
	SrcIP          string  `json:"src_ip"`
	SrcLocation    string  `json:"src_location"`
	SrcPort        *uint16 `json:"src_port"`
	DstIP          string  `json:"dst_ip"`
	DstLocation    string  `json:"dst_location"`
	DstPort        *uint16 `json:"dst_port"`
	Protocol       string  `json:"protocol"`
	Info           string  `json:"info"`
	FileOffset     uint64  `json:"file_offset"`
}

// CaptureLength is the number of raw bytes to read back for this packet.
func (p *PacketRecord) CaptureLength() uint32 {
	return p.CapturedLength
}

// Port returns a pointer suitable for SrcPort/DstPort.
func Port(v uint16) *uint16 {
	return &v
}
