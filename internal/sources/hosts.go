package sources

import (
	"bufio"
	"fmt"
	"io"
	"net/netip"
	"strings"

	"github.com/HerbHall/wolo/pkg/models"
)

// ParseHosts reads hosts(5) lines: an address followed by one or more names.
// Loopback, multicast and unspecified addresses describe the local machine
// or protocol groups rather than LAN hosts and are dropped silently.
func ParseHosts(r io.Reader, source string) ([]models.SourceRecord, []Diagnostic) {
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
			diags = append(diags, Diagnostic{Source: source, Line: line, Message: fmt.Sprintf("address %q has no hostnames", fields[0])})
			continue
		}
		addr, err := netip.ParseAddr(fields[0])
		if err != nil {
			diags = append(diags, Diagnostic{Source: source, Line: line, Message: fmt.Sprintf("invalid address %q", fields[0])})
			continue
		}
		addr = addr.Unmap()
		if addr.IsLoopback() || addr.IsMulticast() || addr.IsUnspecified() {
			continue
		}

		rec := models.SourceRecord{Source: source, Addresses: []netip.Addr{addr}}
		for _, name := range fields[1:] {
			if !validHostname(name) {
				diags = append(diags, Diagnostic{Source: source, Line: line, Message: fmt.Sprintf("invalid hostname %q", name)})
				continue
			}
			rec.Hostnames = append(rec.Hostnames, name)
		}
		if len(rec.Hostnames) == 0 {
			continue
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		diags = append(diags, Diagnostic{Source: source, Line: line, Message: "read: " + err.Error()})
	}
	return records, diags
}
