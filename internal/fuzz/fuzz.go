// Package fuzz generates candidate CDN object paths by expanding path
// templates over a pool of random identifiers. The sequence is lazy,
// restartable, and fully deterministic for a fixed seed.
package fuzz

import (
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/openrecon/surface/internal/request"
)

const hexDigits = "0123456789abcdef"

// Config fixes the axes of the candidate space. Total candidates are exactly
// len(Domains) x len(Patterns) x IDCount x len(Extensions).
type Config struct {
	// Domains are CDN hosts. Bare hosts are probed over https; entries with
	// an explicit scheme are used as-is (useful against test servers).
	Domains []string

	// Patterns are path templates with {id}, {ext} and {endpoint} placeholders.
	Patterns []string

	// Endpoints are the substitutions for {endpoint}, picked per candidate.
	Endpoints []string

	// Extensions are the substitutions for {ext}.
	Extensions []string

	// IDCount is the size of the random identifier pool (default 5).
	IDCount int

	// IDLength is the identifier length in hex characters (default 16).
	IDLength int

	// Seed makes the sequence reproducible. Zero selects a time-derived seed.
	Seed int64
}

// Generator walks the candidate space like an odometer: extensions advance
// fastest, then identifiers, then patterns, then domains. The identifier
// pool is drawn once at construction and survives Reset.
type Generator struct {
	domains    []string
	patterns   []string
	endpoints  []string
	extensions []string
	ids        []string
	seed       uint64
	picks      *rand.Rand
	idx        int
	total      int
}

// New builds a generator, drawing the identifier pool from the seed.
func New(cfg Config) *Generator {
	if cfg.IDCount <= 0 {
		cfg.IDCount = 5
	}
	if cfg.IDLength <= 0 {
		cfg.IDLength = 16
	}

	seed := uint64(cfg.Seed)
	if cfg.Seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	// Separate streams for the pool and the per-candidate endpoint picks,
	// so Reset can replay picks without redrawing the pool.
	idRng := rand.New(rand.NewPCG(seed, 1))
	ids := make([]string, cfg.IDCount)
	for i := range ids {
		ids[i] = hexID(idRng, cfg.IDLength)
	}

	g := &Generator{
		domains:    cfg.Domains,
		patterns:   cfg.Patterns,
		endpoints:  cfg.Endpoints,
		extensions: cfg.Extensions,
		ids:        ids,
		seed:       seed,
	}
	g.total = len(g.domains) * len(g.patterns) * len(g.ids) * len(g.extensions)
	g.Reset()
	return g
}

// Total is the exact number of candidates the generator yields.
func (g *Generator) Total() int { return g.total }

// IDs returns a copy of the identifier pool.
func (g *Generator) IDs() []string {
	out := make([]string, len(g.ids))
	copy(out, g.ids)
	return out
}

// Reset rewinds the sequence. A reset generator replays the identical
// candidates, including {endpoint} picks.
func (g *Generator) Reset() {
	g.idx = 0
	g.picks = rand.New(rand.NewPCG(g.seed, 2))
}

// Next yields the next candidate as a HEAD probe target. The second return
// is false once the space is exhausted.
func (g *Generator) Next() (request.Target, bool) {
	if g.idx >= g.total {
		return request.Target{}, false
	}

	i := g.idx
	g.idx++

	ext := g.extensions[i%len(g.extensions)]
	i /= len(g.extensions)
	id := g.ids[i%len(g.ids)]
	i /= len(g.ids)
	pattern := g.patterns[i%len(g.patterns)]
	i /= len(g.patterns)
	domain := g.domains[i]

	return request.Target{
		URL:    BaseURL(domain) + "/" + g.expand(pattern, id, ext),
		Method: http.MethodHead,
	}, true
}

// expand substitutes the placeholders of one pattern. {endpoint} draws from
// the pick stream, so it is deterministic for a fixed seed.
func (g *Generator) expand(pattern, id, ext string) string {
	s := strings.ReplaceAll(pattern, "{id}", id)
	s = strings.ReplaceAll(s, "{ext}", ext)
	if strings.Contains(s, "{endpoint}") && len(g.endpoints) > 0 {
		s = strings.ReplaceAll(s, "{endpoint}", g.endpoints[g.picks.IntN(len(g.endpoints))])
	}
	return s
}

// BaseURL normalizes a CDN domain into a URL prefix. Domains that already
// carry a scheme pass through unchanged; bare hosts get https.
func BaseURL(domain string) string {
	if strings.Contains(domain, "://") {
		return strings.TrimRight(domain, "/")
	}
	return "https://" + domain
}

func hexID(rng *rand.Rand, length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = hexDigits[rng.IntN(len(hexDigits))]
	}
	return string(b)
}
