// Package sources translates host configuration files and command-line
// overrides into SourceBatches for the merger.
//
// Malformed entries never abort parsing. Each one is skipped and reported
// as a Diagnostic.
package sources

import (
	"strconv"
	"strings"
)

// Diagnostic describes one skipped or suspicious configuration entry.
type Diagnostic struct {
	Source  string `json:"source"`
	Line    int    `json:"line,omitempty"`
	Path    string `json:"path,omitempty"` // TOML key path, e.g. .hosts."nas".macs[0]
	Message string `json:"message"`
}

func (d Diagnostic) String() string {
	var b strings.Builder
	b.WriteString(d.Source)
	if d.Line > 0 {
		b.WriteString(":")
		b.WriteString(strconv.Itoa(d.Line))
	}
	if d.Path != "" {
		b.WriteString(": ")
		b.WriteString(d.Path)
	}
	b.WriteString(": ")
	b.WriteString(d.Message)
	return b.String()
}

// Kind returns the source family used for metrics labels.
func (d Diagnostic) Kind() string {
	switch {
	case d.Source == OverrideSource:
		return "override"
	case strings.HasSuffix(d.Source, ".toml"):
		return "config"
	case strings.Contains(d.Source, "ethers"):
		return "ethers"
	}
	return "hosts"
}

// validHostname accepts RFC 1123 style labels plus underscores, which are
// common in home networks.
func validHostname(s string) bool {
	if s == "" || len(s) > 253 {
		return false
	}
	for _, label := range strings.Split(strings.TrimSuffix(s, "."), ".") {
		if label == "" || len(label) > 63 {
			return false
		}
		for _, r := range label {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			default:
				return false
			}
		}
	}
	return true
}

// stripComment removes a trailing # comment.
func stripComment(line string) string {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		return line[:i]
	}
	return line
}
