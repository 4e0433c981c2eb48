package parser

// Fields is the ordered -e list passed to tshark for offline analysis and
// live capture. ParseLine reads columns by position, so this order and the
// column constants below must change together.
var Fields = []string{
	"frame.number",
	"frame.time_epoch",
	"frame.len",
	"frame.cap_len",
	"eth.src",
	"eth.dst",
	"ip.src",
	"ipv6.src",
	"ip.dst",
	"ipv6.dst",
	"tcp.srcport",
	"udp.srcport",
	"tcp.dstport",
	"udp.dstport",
	"_ws.col.Protocol",
	"_ws.col.Info",
}

const (
	colFrameNumber = iota
	colTimeEpoch
	colWireLen
	colCapLen
	colEthSrc
	colEthDst
	colIPSrc
	colIPv6Src
	colIPDst
	colIPv6Dst
	colTCPSrcPort
	colUDPSrcPort
	colTCPDstPort
	colUDPDstPort
	colProtocol
	colInfo
)

// MinFields is the number of columns a record line must carry.
var MinFields = len(Fields)

// MonitorFields is the -e list used for per-interface traffic monitoring.
var MonitorFields = []string{"frame.time_epoch", "frame.len"}
