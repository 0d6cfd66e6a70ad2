package sources

import (
	"net/netip"
	"strings"

	"github.com/HerbHall/wolo/pkg/models"
)

// OverrideSource names the command-line override batch.
const OverrideSource = "--ignore-host"

// ParseIgnoreHosts turns --ignore-host values into ignored records. A value
// that parses as an IP address matches by address, anything else by name.
func ParseIgnoreHosts(values []string) ([]models.SourceRecord, []Diagnostic) {
	var (
		records []models.SourceRecord
		diags   []Diagnostic
	)
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		rec := models.SourceRecord{Source: OverrideSource, Ignore: true}
		if addr, err := netip.ParseAddr(v); err == nil {
			rec.Addresses = []netip.Addr{addr.Unmap()}
		} else if validHostname(v) {
			rec.Hostnames = []string{v}
		} else {
			diags = append(diags, Diagnostic{Source: OverrideSource, Message: "invalid host " + quote(v)})
			continue
		}
		records = append(records, rec)
	}
	return records, diags
}
