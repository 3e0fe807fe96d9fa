package probe

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/likexian/whois"
	whoisparser "github.com/likexian/whois-parser"
	"github.com/rs/zerolog"

	"github.com/openrecon/surface/internal/engine"
	"github.com/openrecon/surface/internal/profile"
	"github.com/openrecon/surface/internal/request"
)

const (
	defaultRDAPBase    = "https://rdap.org/ip/"
	defaultBGPViewBase = "https://api.bgpview.io"
)

// hostResolver is the slice of net.Resolver the asn unit needs.
type hostResolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// ASN maps each profile domain to its IP allocation: the network advertising
// the domain's first address, registration data from WHOIS, and the
// announced prefixes of every origin ASN seen.
type ASN struct {
	profile *profile.Profile
	client  *request.Client
	log     zerolog.Logger
	workers int

	resolver hostResolver
	whois    func(target string) (string, error)
	rdapBase string
	bgpBase  string
}

// NewASN builds the asn unit from its run dependencies.
func NewASN(d engine.Deps) *ASN {
	return &ASN{
		profile:  d.Profile,
		client:   d.Client,
		log:      d.Log,
		workers:  d.Workers,
		resolver: net.DefaultResolver,
		whois:    func(target string) (string, error) { return whois.Whois(target) },
		rdapBase: defaultRDAPBase,
		bgpBase:  defaultBGPViewBase,
	}
}

func (a *ASN) Name() string { return "asn" }

// asnDomain is one domain's lookup result, folded into the findings on the
// collecting side of the worker pool.
type asnDomain struct {
	domain  string
	network engine.ASNNetwork
	org     string
	whois   *engine.WhoisSummary
	err     error
}

// Enumerate resolves every profile domain and walks RDAP, WHOIS and BGP
// data for it. Blocking lookups run in a bounded worker pool; a failure for
// one domain is recorded and the rest proceed.
func (a *ASN) Enumerate(ctx context.Context) (engine.Findings, error) {
	findings := &engine.ASNFindings{
		Networks:      make(map[string]engine.ASNNetwork),
		Organizations: make(map[string]string),
	}

	work := make(chan string, len(a.profile.Domains))
	for _, domain := range a.profile.Domains {
		work <- domain
	}
	close(work)

	results := make(chan asnDomain, len(a.profile.Domains))
	var wg sync.WaitGroup
	for i := 0; i < poolSize(a.workers, len(a.profile.Domains)); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for domain := range work {
				select {
				case <-ctx.Done():
					return
				default:
				}
				results <- a.probeDomain(ctx, domain)
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	rangeSet := make(map[string]bool)
	for res := range results {
		if res.err != nil {
			findings.Errors = append(findings.Errors, fmt.Sprintf("%s: %s", res.domain, res.err))
			a.log.Warn().Str("domain", res.domain).Err(res.err).Msg("asn lookup failed")
			continue
		}

		findings.Networks[res.domain] = res.network
		for _, r := range strings.Split(res.network.CIDR, ",") {
			if r = strings.TrimSpace(r); r != "" {
				rangeSet[r] = true
			}
		}
		if res.network.ASN != "" && res.org != "" {
			findings.Organizations[res.network.ASN] = res.org
		}
		if res.whois != nil {
			if findings.Whois == nil {
				findings.Whois = make(map[string]engine.WhoisSummary)
			}
			findings.Whois[res.domain] = *res.whois
		}
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	for r := range rangeSet {
		findings.IPRanges = append(findings.IPRanges, r)
	}
	sort.Strings(findings.IPRanges)

	a.announcedPrefixes(ctx, findings)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	return findings, nil
}

// probeDomain resolves one domain and gathers its allocation data. RDAP is
// authoritative where it answers; IP WHOIS fills the gaps; domain WHOIS
// adds the registration summary.
func (a *ASN) probeDomain(ctx context.Context, domain string) asnDomain {
	res := asnDomain{domain: domain}

	ips, err := a.resolver.LookupHost(ctx, domain)
	if err != nil {
		res.err = fmt.Errorf("resolve: %w", err)
		return res
	}
	if len(ips) == 0 {
		res.err = fmt.Errorf("resolve: no addresses")
		return res
	}
	ip := firstV4(ips)
	res.network = engine.ASNNetwork{Domain: domain, IP: ip}

	out := a.client.Do(ctx, request.Target{URL: a.rdapBase + ip})
	if out.OK() {
		name, cidr, asn := parseRDAP(out.Data)
		res.org = name
		res.network.CIDR = cidr
		res.network.ASN = asn
	} else if out.Failed() {
		a.log.Debug().Str("ip", ip).Str("error", out.Err).Msg("rdap lookup failed")
	}

	if raw, err := a.whois(ip); err == nil {
		w := parseIPWhois(raw)
		if res.network.ASN == "" {
			res.network.ASN = w.asn
		}
		if res.network.CIDR == "" {
			res.network.CIDR = w.cidr
		}
		res.network.Description = w.org
		if res.org == "" {
			res.org = w.org
		}
	} else {
		a.log.Debug().Str("ip", ip).Err(err).Msg("ip whois failed")
	}

	if raw, err := a.whois(domain); err == nil {
		res.whois = whoisSummary(raw)
	} else {
		a.log.Debug().Str("domain", domain).Err(err).Msg("domain whois failed")
	}

	return res
}

// announcedPrefixes fetches the BGP prefix list for every distinct ASN the
// domain walk produced.
func (a *ASN) announcedPrefixes(ctx context.Context, findings *engine.ASNFindings) {
	asnSet := make(map[string]bool)
	for _, network := range findings.Networks {
		if network.ASN != "" {
			asnSet[network.ASN] = true
		}
	}

	asns := make([]string, 0, len(asnSet))
	for asn := range asnSet {
		asns = append(asns, asn)
	}
	sort.Strings(asns)

	for _, asn := range asns {
		select {
		case <-ctx.Done():
			return
		default:
		}

		out := a.client.Do(ctx, request.Target{URL: fmt.Sprintf("%s/asn/%s/prefixes", a.bgpBase, asn)})
		if !out.OK() {
			if out.Failed() {
				findings.Errors = append(findings.Errors, fmt.Sprintf("AS%s prefixes: %s", asn, out.Err))
			}
			continue
		}
		if prefixes := bgpPrefixes(out.Data); len(prefixes) > 0 {
			if findings.Prefixes == nil {
				findings.Prefixes = make(map[string][]string)
			}
			findings.Prefixes[asn] = prefixes
		}
	}
}

// firstV4 prefers an IPv4 address; allocation data for v4 space is more
// complete across registries.
func firstV4(ips []string) string {
	for _, s := range ips {
		if ip := net.ParseIP(s); ip != nil && ip.To4() != nil {
			return s
		}
	}
	return ips[0]
}

// parseRDAP pulls the network name, CIDR and origin ASN out of a decoded
// RDAP IP response. Registries disagree on optional fields, so any of the
// three may come back empty.
func parseRDAP(data any) (name, cidr, asn string) {
	m, ok := data.(map[string]any)
	if !ok {
		return "", "", ""
	}
	name, _ = m["name"].(string)

	if cidrs, ok := m["cidr0_cidrs"].([]any); ok && len(cidrs) > 0 {
		if c, ok := cidrs[0].(map[string]any); ok {
			prefix := asString(c, "v4prefix")
			if prefix == "" {
				prefix = asString(c, "v6prefix")
			}
			if prefix != "" {
				cidr = fmt.Sprintf("%s/%d", prefix, asInt(c, "length"))
			}
		}
	}

	// Only ARIN publishes origin AS numbers in RDAP.
	if nums, ok := m["arin_originas0_originautnums"].([]any); ok && len(nums) > 0 {
		if n, ok := nums[0].(float64); ok {
			asn = strconv.FormatInt(int64(n), 10)
		}
	}

	return name, cidr, asn
}

// ipWhois is the subset of an IP WHOIS answer worth keeping.
type ipWhois struct {
	org  string
	cidr string
	asn  string
}

var (
	whoisOrgRE  = regexp.MustCompile(`(?im)^(?:OrgName|org-name|netname|descr):\s*(.+)$`)
	whoisCIDRRE = regexp.MustCompile(`(?im)^(?:CIDR|route6?):\s*(.+)$`)
	whoisASNRE  = regexp.MustCompile(`(?im)^(?:OriginAS|origin|aut-num):\s*(?:AS)?(\d+)`)
)

// parseIPWhois extracts the organization, CIDR and origin ASN fields from
// raw IP WHOIS text. Field names vary by registry; the first match wins.
func parseIPWhois(raw string) ipWhois {
	text := strings.ReplaceAll(raw, "\r\n", "\n")

	w := ipWhois{}
	if m := whoisOrgRE.FindStringSubmatch(text); len(m) == 2 {
		w.org = strings.TrimSpace(m[1])
	}
	if m := whoisCIDRRE.FindStringSubmatch(text); len(m) == 2 {
		w.cidr = strings.TrimSpace(m[1])
	}
	if m := whoisASNRE.FindStringSubmatch(text); len(m) == 2 {
		w.asn = m[1]
	}
	return w
}

// whoisSummary parses domain registration WHOIS into the fields worth
// keeping. Returns nil when the text carries nothing usable.
func whoisSummary(raw string) *engine.WhoisSummary {
	parsed, err := whoisparser.Parse(raw)
	if err != nil {
		return nil
	}

	sum := &engine.WhoisSummary{}
	if parsed.Registrar != nil {
		sum.Registrar = parsed.Registrar.Name
	}
	if parsed.Registrant != nil {
		sum.Organization = parsed.Registrant.Organization
		sum.Country = parsed.Registrant.Country
	}
	if parsed.Domain != nil {
		sum.Created = parsed.Domain.CreatedDate
		ns := make([]string, len(parsed.Domain.NameServers))
		for i, n := range parsed.Domain.NameServers {
			ns[i] = strings.ToLower(n)
		}
		sort.Strings(ns)
		sum.NameServers = ns
	}

	if sum.Registrar == "" && sum.Organization == "" && len(sum.NameServers) == 0 {
		return nil
	}
	return sum
}

// bgpPrefixes extracts announced prefixes from a decoded bgpview ASN
// response.
func bgpPrefixes(data any) []string {
	m, ok := data.(map[string]any)
	if !ok {
		return nil
	}
	payload, ok := m["data"].(map[string]any)
	if !ok {
		return nil
	}

	var out []string
	for _, key := range []string{"ipv4_prefixes", "ipv6_prefixes"} {
		items, ok := payload[key].([]any)
		if !ok {
			continue
		}
		for _, it := range items {
			if entry, ok := it.(map[string]any); ok {
				if p := asString(entry, "prefix"); p != "" {
					out = append(out, p)
				}
			}
		}
	}
	return dedupeSorted(out)
}
