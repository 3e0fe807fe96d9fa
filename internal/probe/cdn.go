package probe

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openrecon/surface/internal/engine"
	"github.com/openrecon/surface/internal/fuzz"
	"github.com/openrecon/surface/internal/profile"
	"github.com/openrecon/surface/internal/request"
)

// cacheDisclosureHeaders are response headers whose presence leaks cache
// topology to an anonymous requester.
var cacheDisclosureHeaders = []string{"x-cache", "x-cache-hits", "x-served-by"}

// CDN probes object-storage endpoints for mishandled paths and fuzzes
// candidate object identifiers across every configured pattern.
type CDN struct {
	profile *profile.Profile
	client  *request.Client
	log     zerolog.Logger
	seed    int64
}

// NewCDN builds the cdn unit from its run dependencies.
func NewCDN(d engine.Deps) *CDN {
	return &CDN{profile: d.Profile, client: d.Client, log: d.Log, seed: d.Seed}
}

func (c *CDN) Name() string { return "cdn" }

func (c *CDN) Enumerate(ctx context.Context) (engine.Findings, error) {
	findings := &engine.CDNFindings{
		Endpoints: make(map[string][]engine.PathProbe, len(c.profile.CDN.Domains)),
	}

	gen := fuzz.New(fuzz.Config{
		Domains:    c.profile.CDN.Domains,
		Patterns:   c.profile.CDN.Patterns,
		Endpoints:  c.profile.CDN.ObjectEndpoints,
		Extensions: c.profile.CDN.Extensions,
		IDCount:    c.profile.CDN.IdentifierCount,
		Seed:       c.seed,
	})
	findings.Candidates = gen.Total()

	for _, domain := range c.profile.CDN.Domains {
		probes, err := c.checkEndpoints(ctx, domain, findings)
		if err != nil {
			return nil, err
		}
		findings.Endpoints[domain] = probes
	}

	if err := c.fuzzPaths(ctx, gen, findings); err != nil {
		return nil, err
	}

	if err := c.metadataGrid(ctx, gen.IDs()[0], findings); err != nil {
		return nil, err
	}

	return findings, nil
}

// checkEndpoints exercises the conventional abuse paths under every object
// endpoint of one CDN domain.
func (c *CDN) checkEndpoints(ctx context.Context, domain string, findings *engine.CDNFindings) ([]engine.PathProbe, error) {
	base := fuzz.BaseURL(domain)

	var probes []engine.PathProbe
	failed := 0
	for _, endpoint := range c.profile.CDN.ObjectEndpoints {
		for _, path := range abusePaths(base, endpoint) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			out := c.client.Do(ctx, request.Target{URL: path})
			if out.Failed() {
				failed++
				c.log.Debug().Str("path", path).Str("error", out.Err).Msg("endpoint probe failed")
				continue
			}

			probes = append(probes, engine.PathProbe{Path: path, Status: out.Status, Size: out.BodySize})
			if interestingStatus(out.Status) {
				c.log.Info().Str("path", path).Int("status", out.Status).Msg("endpoint probe answered")
			}
		}
	}

	if failed > 0 {
		findings.Errors = append(findings.Errors, fmt.Sprintf("%s: %d endpoint probes failed", domain, failed))
	}
	return probes, nil
}

// abusePaths are the fixed probe shapes tried under an object endpoint: a
// plain identifier, a path traversal, a null byte, and an oversized path.
func abusePaths(base, endpoint string) []string {
	return []string{
		base + "/" + endpoint + "/123456789",
		base + "/" + endpoint + "/../../etc/passwd",
		base + "/" + endpoint + "/%00test",
		base + "/" + endpoint + "/" + strings.Repeat("A", 1000),
	}
}

// fuzzPaths drains the generator and classifies every outcome: anything
// outside the expected 404/403 answers is interesting, and cache headers
// on any answer are flagged as information disclosure.
func (c *CDN) fuzzPaths(ctx context.Context, gen *fuzz.Generator, findings *engine.CDNFindings) error {
	targets := make([]request.Target, 0, gen.Total())
	for {
		t, ok := gen.Next()
		if !ok {
			break
		}
		targets = append(targets, t)
	}
	findings.Requested = len(targets)

	outcomes := c.client.DoMany(ctx, targets)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	failed := 0
	for _, out := range outcomes {
		if out.Failed() {
			failed++
			c.log.Debug().Str("url", out.URL).Str("error", out.Err).Msg("fuzz probe failed")
			continue
		}

		if interestingStatus(out.Status) {
			findings.Interesting = append(findings.Interesting, engine.FuzzHit{
				URL:     out.URL,
				Status:  out.Status,
				Headers: out.Headers,
			})
			c.log.Info().Str("url", out.URL).Int("status", out.Status).Msg("interesting fuzz response")
		}
		if evidence := disclosureEvidence(out.Headers); evidence != "" {
			findings.Vulnerable = append(findings.Vulnerable, engine.Vulnerability{
				URL:      out.URL,
				Type:     "information_disclosure",
				Evidence: evidence,
			})
		}
	}
	if failed > 0 {
		findings.Errors = append(findings.Errors, fmt.Sprintf("%d of %d fuzz probes failed", failed, len(targets)))
	}
	return nil
}

// metadataGrid sweeps the resizing endpoint across every size and format
// combination, reusing one pool identifier throughout.
func (c *CDN) metadataGrid(ctx context.Context, id string, findings *engine.CDNFindings) error {
	type gridKey struct {
		domain string
		cell   string
	}

	var (
		keys    []gridKey
		targets []request.Target
	)
	for _, domain := range c.profile.CDN.Domains {
		base := fuzz.BaseURL(domain)
		for _, size := range c.profile.CDN.MetadataSizes {
			for _, format := range c.profile.CDN.MetadataFormats {
				keys = append(keys, gridKey{domain: domain, cell: fmt.Sprintf("%d_%s", size, format)})
				targets = append(targets, request.Target{
					URL:    fmt.Sprintf("%s/avatars/%s/probe.%s?size=%d", base, id, format, size),
					Method: http.MethodHead,
				})
			}
		}
	}

	outcomes := c.client.DoMany(ctx, targets)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	findings.Metadata = make(map[string]map[string]engine.MetadataProbe, len(c.profile.CDN.Domains))
	failed := 0
	for i, out := range outcomes {
		if out.Failed() {
			failed++
			continue
		}
		key := keys[i]
		if findings.Metadata[key.domain] == nil {
			findings.Metadata[key.domain] = make(map[string]engine.MetadataProbe)
		}
		findings.Metadata[key.domain][key.cell] = engine.MetadataProbe{Status: out.Status, Headers: out.Headers}
	}
	if failed > 0 {
		findings.Errors = append(findings.Errors, fmt.Sprintf("%d of %d metadata probes failed", failed, len(targets)))
	}
	return nil
}

// interestingStatus reports a response worth keeping: anything except the
// expected not-found and access-denied answers.
func interestingStatus(status int) bool {
	return status != http.StatusNotFound && status != http.StatusForbidden
}

// disclosureEvidence returns the cache-disclosure headers present in a
// response as "name: value" pairs. Header names arrive lowercased from the
// request client.
func disclosureEvidence(headers map[string]string) string {
	var parts []string
	for _, name := range cacheDisclosureHeaders {
		if v, ok := headers[name]; ok {
			parts = append(parts, name+": "+v)
		}
	}
	return strings.Join(parts, ", ")
}
