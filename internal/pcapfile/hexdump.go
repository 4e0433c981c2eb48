package pcapfile

import (
	"encoding/hex"
	"fmt"
	"strings"
)

const dumpRow = 16

// HexDump renders data as offset, 16 hex bytes and an ASCII gutter per row.
func HexDump(data []byte) string {
	var sb strings.Builder
	for off := 0; off < len(data); off += dumpRow {
		row := data[off:min(off+dumpRow, len(data))]
		fmt.Fprintf(&sb, "%04x  %-49s |%s|\n", off, hexColumns(row), printable(row))
	}
	return sb.String()
}

// hexColumns spaces the bytes of row in two groups of eight.
func hexColumns(row []byte) string {
	cols := make([]string, 0, dumpRow+1)
	for i, b := range row {
		if i == dumpRow/2 {
			cols = append(cols, "")
		}
		cols = append(cols, hex.EncodeToString([]byte{b}))
	}
	return strings.Join(cols, " ")
}

func printable(row []byte) string {
	out := make([]byte, len(row))
	for i, b := range row {
		if b < 0x20 || b > 0x7e {
			b = '.'
		}
		out[i] = b
	}
	return string(out)
}
