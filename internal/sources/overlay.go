package sources

import (
	"errors"
	"fmt"
	"net/netip"
	"sort"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/pelletier/go-toml/v2/unstable"

	"github.com/HerbHall/wolo/pkg/models"
)

// settingKeys are the top-level overlay tables handed to the config layer
// unchanged. Their contents are validated by the module that reads them.
var settingKeys = map[string]bool{
	"bind":          true,
	"require_hosts": true,
	"http":          true,
	"log":           true,
	"mqtt":          true,
	"pulse":         true,
	"wake":          true,
}

// Overlay is the parsed form of one TOML configuration file.
type Overlay struct {
	Source   string
	Records  []models.SourceRecord
	Settings map[string]any
}

// ParseOverlay decodes a TOML overlay. A syntax error discards the whole
// file; any other problem skips only the offending entry.
//
// The hosts key accepts a single name, an array of names, or a table keyed
// by name whose values may set macs, addresses, preferred_name and ignore.
func ParseOverlay(data []byte, source string) (*Overlay, []Diagnostic) {
	var doc map[string]any
	if err := toml.Unmarshal(data, &doc); err != nil {
		d := Diagnostic{Source: source, Message: err.Error()}
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			d.Line, _ = derr.Position()
		}
		return nil, []Diagnostic{d}
	}

	p := &overlayParser{source: source}
	ov := &Overlay{Source: source, Settings: map[string]any{}}
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := doc[k]
		switch {
		case k == "hosts":
			ov.Records = p.hosts(v, hostOrder(data))
		case k == "bind":
			if _, ok := v.(string); !ok {
				p.errorf(".bind", "expected string, got %s", typeName(v))
				continue
			}
			ov.Settings[k] = v
		case k == "require_hosts":
			if _, ok := v.(bool); !ok {
				p.errorf(".require_hosts", "expected boolean, got %s", typeName(v))
				continue
			}
			ov.Settings[k] = v
		case settingKeys[k]:
			if _, ok := v.(map[string]any); !ok {
				p.errorf("."+quoteKey(k), "expected table, got %s", typeName(v))
				continue
			}
			ov.Settings[k] = v
		default:
			p.errorf("."+quoteKey(k), "unexpected key")
		}
	}
	return ov, p.diags
}

type overlayParser struct {
	source string
	diags  []Diagnostic
}

func (p *overlayParser) errorf(path, format string, args ...any) {
	p.diags = append(p.diags, Diagnostic{Source: p.source, Path: path, Message: fmt.Sprintf(format, args...)})
}

func (p *overlayParser) hosts(v any, order []string) []models.SourceRecord {
	switch hv := v.(type) {
	case string:
		if rec, ok := p.nameRecord(hv, ".hosts"); ok {
			return []models.SourceRecord{rec}
		}
	case []any:
		var out []models.SourceRecord
		for i, item := range hv {
			path := fmt.Sprintf(".hosts[%d]", i)
			s, ok := item.(string)
			if !ok {
				p.errorf(path, "expected string, got %s", typeName(item))
				continue
			}
			if rec, ok := p.nameRecord(s, path); ok {
				out = append(out, rec)
			}
		}
		return out
	case map[string]any:
		var out []models.SourceRecord
		for _, name := range orderedKeys(hv, order) {
			if rec, ok := p.tableRecord(name, hv[name]); ok {
				out = append(out, rec)
			}
		}
		return out
	default:
		p.errorf(".hosts", "expected string, array or table, got %s", typeName(v))
	}
	return nil
}

// nameRecord builds a record from a bare host reference, which may be an
// IP literal or a hostname.
func (p *overlayParser) nameRecord(s, path string) (models.SourceRecord, bool) {
	rec := models.SourceRecord{Source: p.source}
	s = strings.TrimSpace(s)
	if addr, err := netip.ParseAddr(s); err == nil {
		rec.Addresses = []netip.Addr{addr.Unmap()}
		return rec, true
	}
	if !validHostname(s) {
		p.errorf(path, "invalid hostname %s", quote(s))
		return rec, false
	}
	rec.Hostnames = []string{s}
	return rec, true
}

func (p *overlayParser) tableRecord(name string, v any) (models.SourceRecord, bool) {
	base := ".hosts." + quoteKey(name)
	rec, ok := p.nameRecord(name, base)
	if !ok {
		return rec, false
	}
	fields, isTable := v.(map[string]any)
	if !isTable {
		p.errorf(base, "expected table, got %s", typeName(v))
		return rec, false
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		path := base + "." + quoteKey(k)
		switch fv := fields[k]; k {
		case "macs":
			for _, item := range p.stringList(path, fv) {
				mac, err := models.ParseMAC(item.value)
				if err != nil {
					p.errorf(fmt.Sprintf("%s[%d]", path, item.index), "%v", err)
					continue
				}
				rec.MACs = append(rec.MACs, mac)
			}
		case "addresses":
			for _, item := range p.stringList(path, fv) {
				addr, err := netip.ParseAddr(item.value)
				if err != nil {
					p.errorf(fmt.Sprintf("%s[%d]", path, item.index), "invalid address %s", quote(item.value))
					continue
				}
				rec.Addresses = append(rec.Addresses, addr.Unmap())
			}
		case "preferred_name":
			s, ok := fv.(string)
			if !ok {
				p.errorf(path, "expected string, got %s", typeName(fv))
				continue
			}
			rec.PreferredName = &s
		case "ignore":
			b, ok := fv.(bool)
			if !ok {
				p.errorf(path, "expected boolean, got %s", typeName(fv))
				continue
			}
			rec.Ignore = b
		default:
			p.errorf(path, "unexpected key")
		}
	}
	return rec, true
}

type listItem struct {
	index int
	value string
}

// stringList accepts a string or an array of strings. Non-string array
// elements are reported and skipped; the rest keep their array index for
// later diagnostics.
func (p *overlayParser) stringList(path string, v any) []listItem {
	switch lv := v.(type) {
	case string:
		return []listItem{{0, lv}}
	case []any:
		out := make([]listItem, 0, len(lv))
		for i, item := range lv {
			s, ok := item.(string)
			if !ok {
				p.errorf(fmt.Sprintf("%s[%d]", path, i), "expected string, got %s", typeName(item))
				continue
			}
			out = append(out, listItem{i, s})
		}
		return out
	default:
		p.errorf(path, "expected string or array, got %s", typeName(v))
	}
	return nil
}

// orderedKeys returns the keys of m in document order, falling back to
// lexical order for any key the order scan missed.
func orderedKeys(m map[string]any, order []string) []string {
	keys := make([]string, 0, len(m))
	seen := make(map[string]bool, len(m))
	for _, k := range order {
		if _, ok := m[k]; ok && !seen[k] {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	var rest []string
	for k := range m {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

// hostOrder scans the document and returns the names under the hosts
// table in the order they first appear. Decoding into a map loses that
// order, and it determines host creation order after merging.
func hostOrder(data []byte) []string {
	var (
		p     unstable.Parser
		table []string
		order []string
		seen  = map[string]bool{}
	)
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			order = append(order, name)
		}
	}

	p.Reset(data)
	for p.NextExpression() {
		e := p.Expression()
		switch e.Kind {
		case unstable.Table, unstable.ArrayTable:
			table = keyParts(e)
			if len(table) >= 2 && table[0] == "hosts" {
				add(table[1])
			}
		case unstable.KeyValue:
			full := append(append([]string{}, table...), keyParts(e)...)
			switch {
			case len(full) >= 2 && full[0] == "hosts":
				add(full[1])
			case len(full) == 1 && full[0] == "hosts" && e.Value().Kind == unstable.InlineTable:
				it := e.Value().Children()
				for it.Next() {
					if kv := it.Node(); kv.Kind == unstable.KeyValue {
						if parts := keyParts(kv); len(parts) > 0 {
							add(parts[0])
						}
					}
				}
			}
		}
	}
	return order
}

func keyParts(n *unstable.Node) []string {
	var parts []string
	it := n.Key()
	for it.Next() {
		parts = append(parts, string(it.Node().Data))
	}
	return parts
}

func typeName(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case int64, float64:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "table"
	case nil:
		return "nothing"
	}
	return fmt.Sprintf("%T", v)
}

func quote(s string) string { return strconv.Quote(s) }

// quoteKey renders a TOML key segment, quoting it when it is not a bare key.
func quoteKey(k string) string {
	if k == "" {
		return `""`
	}
	for _, r := range k {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return strconv.Quote(k)
		}
	}
	return k
}
