package sources

import (
	"bufio"
	"fmt"
	"io"
	"net/netip"
	"strings"

	"github.com/HerbHall/wolo/pkg/models"
)

// ParseEthers reads ethers(5) lines: a MAC address followed by a hostname
// or an IP address.
func ParseEthers(r io.Reader, source string) ([]models.SourceRecord, []Diagnostic) {
	var (
		records []models.SourceRecord
		diags   []Diagnostic
	)
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(stripComment(sc.Text()))
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 2 {
			diags = append(diags, Diagnostic{Source: source, Line: line, Message: fmt.Sprintf("MAC %q has no host", fields[0])})
			continue
		}
		mac, err := models.ParseMAC(fields[0])
		if err != nil {
			diags = append(diags, Diagnostic{Source: source, Line: line, Message: err.Error()})
			continue
		}

		rec := models.SourceRecord{Source: source, MACs: []models.MAC{mac}}
		if addr, err := netip.ParseAddr(fields[1]); err == nil {
			rec.Addresses = []netip.Addr{addr.Unmap()}
		} else if validHostname(fields[1]) {
			rec.Hostnames = []string{fields[1]}
		} else {
			diags = append(diags, Diagnostic{Source: source, Line: line, Message: fmt.Sprintf("invalid hostname %q", fields[1])})
			continue
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		diags = append(diags, Diagnostic{Source: source, Line: line, Message: "read: " + err.Error()})
	}
	return records, diags
}
