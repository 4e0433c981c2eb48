// Package capture knows how to drive tshark: the argument lists for each
// mode, interface enumeration, and the managed child process used by the
// live readers.
package capture

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/google/gopacket/pcap"

	"sharkline/internal/models"
	"sharkline/internal/parser"
)

// DefaultTsharkPath is used when no path is configured.
const DefaultTsharkPath = "/usr/bin/tshark"

// ErrLaunch is returned when tshark cannot be started.
var ErrLaunch = errors.New("capture: launch tshark")

// pseudoInterfaces are extcap entries that tshark -D lists but that are not
// real capture devices.
var pseudoInterfaces = map[string]bool{
	"sshdump":     true,
	"ciscodump":   true,
	"udpdump":     true,
	"randpkt":     true,
	"randpktdump": true,
	"wifidump":    true,
}

// Tshark builds command lines for one tshark binary.
type Tshark struct {
	Path string
}

// New returns a Tshark for path, falling back to DefaultTsharkPath.
func New(path string) *Tshark {
	if path == "" {
		path = DefaultTsharkPath
	}
	return &Tshark{Path: path}
}

func fieldArgs(fields []string) []string {
	args := make([]string, 0, 2*len(fields))
	for _, f := range fields {
		args = append(args, "-e", f)
	}
	return args
}

// AnalyzeArgs reads a capture file and prints the parser columns.
func AnalyzeArgs(path string) []string {
	return append([]string{"-r", path, "-T", "fields"}, fieldArgs(parser.Fields)...)
}

// LiveArgs captures on iface, writing a classic pcap file to captureFile
// while printing the parser columns line-buffered.
func LiveArgs(iface, captureFile string) []string {
	args := []string{"-i", iface, "-l", "-P", "-w", captureFile, "-F", "pcap", "-T", "fields"}
	return append(args, fieldArgs(parser.Fields)...)
}

// MonitorArgs prints only the timestamp and length of each frame on iface.
func MonitorArgs(iface string) []string {
	return append([]string{"-i", iface, "-l", "-T", "fields"}, fieldArgs(parser.MonitorFields)...)
}

// PDMLArgs dissects path into PDML on stdout.
func PDMLArgs(path string) []string {
	return []string{"-r", path, "-T", "pdml"}
}

// Command returns an exec.Cmd running tshark with args.
func (t *Tshark) Command(ctx context.Context, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, t.Path, args...)
}

// ListInterfaces runs tshark -D and returns the capture-capable adapters,
// numbered from 1 after the pseudo interfaces are dropped.
func (t *Tshark) ListInterfaces(ctx context.Context) ([]models.AdapterInfo, error) {
	out, err := t.Command(ctx, "-D").Output()
	if err != nil {
		return nil, fmt.Errorf("%w: -D: %v", ErrLaunch, err)
	}
	adapters := ParseInterfaceList(out)
	fillRemarks(adapters)
	return adapters, nil
}

// ParseInterfaceList parses tshark -D output ("1. eth0 (Ethernet)").
func ParseInterfaceList(out []byte) []models.AdapterInfo {
	var adapters []models.AdapterInfo
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		dot := strings.Index(line, ". ")
		if dot < 0 {
			continue
		}
		rest := line[dot+2:]
		name, remark := rest, ""
		if open := strings.Index(rest, " ("); open >= 0 {
			name = rest[:open]
			remark = strings.TrimSuffix(rest[open+2:], ")")
		}
		if name == "" || pseudoInterfaces[name] {
			continue
		}
		adapters = append(adapters, models.AdapterInfo{
			ID:     len(adapters) + 1,
			Name:   name,
			Remark: remark,
		})
	}
	return adapters
}

// fillRemarks uses libpcap descriptions for adapters tshark printed without one.
// libpcap may be missing or unprivileged; that only costs the remarks.
func fillRemarks(adapters []models.AdapterInfo) {
	missing := false
	for _, a := range adapters {
		if a.Remark == "" {
			missing = true
			break
		}
	}
	if !missing {
		return
	}
	devs, err := pcap.FindAllDevs()
	if err != nil {
		return
	}
	desc := make(map[string]string, len(devs))
	for _, d := range devs {
		desc[d.Name] = d.Description
	}
	for i := range adapters {
		if adapters[i].Remark == "" {
			adapters[i].Remark = desc[adapters[i].Name]
		}
	}
}
