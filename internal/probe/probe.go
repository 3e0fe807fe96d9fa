// Package probe implements the probing units of a surface run: asn, dns,
// services, cdn and servers. Each unit owns its target list and interprets
// its own responses; sub-target failures degrade findings instead of
// aborting the unit.
package probe

import (
	"sort"
	"strconv"

	"github.com/openrecon/surface/internal/engine"
)

// Builders returns the unit registry in run order.
func Builders() []engine.UnitBuilder {
	return []engine.UnitBuilder{
		{Name: "asn", Build: func(d engine.Deps) engine.Unit { return NewASN(d) }},
		{Name: "dns", Build: func(d engine.Deps) engine.Unit { return NewDNS(d) }},
		{Name: "services", Build: func(d engine.Deps) engine.Unit { return NewServices(d) }},
		{Name: "cdn", Build: func(d engine.Deps) engine.Unit { return NewCDN(d) }},
		{Name: "servers", Build: func(d engine.Deps) engine.Unit { return NewServers(d) }},
	}
}

// poolSize bounds a worker pool to the work available.
func poolSize(workers, items int) int {
	if workers < 1 {
		workers = 1
	}
	if items > 0 && workers > items {
		workers = items
	}
	return workers
}

// dedupeSorted returns the unique non-empty values of ss in sorted order.
func dedupeSorted(ss []string) []string {
	seen := make(map[string]bool, len(ss))
	var out []string
	for _, s := range ss {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// asString reads a decoded JSON field that may arrive as a string, number
// or bool. Discovery APIs are not consistent about identifier types.
func asString(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// asInt reads a numeric JSON field.
func asInt(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	default:
		return 0
	}
}

// asBool reads a boolean JSON field.
func asBool(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}

// asStringList reads a JSON array, keeping only its string elements.
func asStringList(m map[string]any, key string) []string {
	items, ok := m[key].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
