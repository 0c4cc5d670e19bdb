package enrichment

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
)

// ProcNetArpReader reads the kernel's neighbor table from /proc/net/arp
// (Linux only). Grounded on original_source's LinuxArpReader port — same
// data source, reimplemented here in Go rather than shelling out, since
// the file format is a fixed-width text table simple enough to parse
// directly.
type ProcNetArpReader struct {
	path string
}

// NewProcNetArpReader builds a reader over path, defaulting to the
// standard /proc/net/arp location.
func NewProcNetArpReader(path string) *ProcNetArpReader {
	if path == "" {
		path = "/proc/net/arp"
	}
	return &ProcNetArpReader{path: path}
}

const arpIncompleteMAC = "00:00:00:00:00:00"

// ReadARPTable parses /proc/net/arp into an ip -> mac map, skipping
// incomplete entries (mac all zeros).
func (a *ProcNetArpReader) ReadARPTable(ctx context.Context) (map[string]string, error) {
	f, err := os.Open(a.path)
	if err != nil {
		return nil, fmt.Errorf("open arp table: %w", err)
	}
	defer f.Close()

	table := make(map[string]string)
	scanner := bufio.NewScanner(f)
	scanner.Scan() // header line: "IP address HW type Flags HW address Mask Device"
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return table, ctx.Err()
		default:
		}

		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		ip, mac := fields[0], fields[3]
		if mac == "" || mac == arpIncompleteMAC {
			continue
		}
		table[ip] = mac
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan arp table: %w", err)
	}
	return table, nil
}
