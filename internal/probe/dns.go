package probe

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	mdns "github.com/miekg/dns"
	"github.com/rs/zerolog"

	"github.com/openrecon/surface/internal/engine"
	"github.com/openrecon/surface/internal/profile"
)

const (
	axfrDialTimeout = 10 * time.Second
	axfrReadTimeout = 30 * time.Second
	soaTimeout      = 5 * time.Second
)

// dnsResolver is the slice of net.Resolver the dns unit uses.
type dnsResolver interface {
	LookupIP(ctx context.Context, network, host string) ([]net.IP, error)
	LookupCNAME(ctx context.Context, host string) (string, error)
	LookupTXT(ctx context.Context, name string) ([]string, error)
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
	LookupNS(ctx context.Context, name string) ([]*net.NS, error)
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// DNS surveys each profile domain: standard records, mail security
// policies, zone transfer exposure, and the conventional subdomains that
// resolve.
type DNS struct {
	profile *profile.Profile
	log     zerolog.Logger
	workers int

	resolver dnsResolver
	soa      func(ctx context.Context, domain, nameserver string) (string, error)
	axfr     func(ctx context.Context, domain, nameserver string) ([]string, error)
}

// NewDNS builds the dns unit from its run dependencies.
func NewDNS(d engine.Deps) *DNS {
	return &DNS{
		profile:  d.Profile,
		log:      d.Log,
		workers:  d.Workers,
		resolver: net.DefaultResolver,
		soa:      soaLookup,
		axfr:     attemptAXFR,
	}
}

func (d *DNS) Name() string { return "dns" }

func (d *DNS) Enumerate(ctx context.Context) (engine.Findings, error) {
	findings := &engine.DNSFindings{
		Records:         make(map[string]map[string][]string),
		SecurityRecords: make(map[string]engine.SecurityRecords),
	}

	nsSet := make(map[string]bool)
	var axfrHosts []string

	for _, domain := range d.profile.Domains {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		nsHosts, err := d.lookupNS(ctx, domain)
		if err != nil {
			findings.Errors = append(findings.Errors, fmt.Sprintf("%s: %s", domain, err))
		}
		for _, ns := range nsHosts {
			nsSet[ns] = true
		}

		findings.Records[domain] = d.queryRecords(ctx, domain, nsHosts)
		findings.SecurityRecords[domain] = d.securityRecords(ctx, domain, findings.Records[domain]["TXT"])

		// AXFR against every nameserver; one refusal never stops the rest.
		for _, ns := range nsHosts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}

			zt := engine.ZoneTransfer{Zone: domain, Nameserver: ns}
			hosts, err := d.axfr(ctx, domain, ns)
			if err != nil {
				d.log.Debug().Str("domain", domain).Str("nameserver", ns).Err(err).Msg("zone transfer refused")
				findings.ZoneTransfers = append(findings.ZoneTransfers, zt)
				continue
			}

			zt.Success = true
			zt.Records = len(hosts)
			findings.ZoneTransfers = append(findings.ZoneTransfers, zt)
			d.log.Warn().Str("domain", domain).Str("nameserver", ns).Int("records", len(hosts)).
				Msg("zone transfer permitted")

			for _, h := range hosts {
				if h != domain {
					axfrHosts = append(axfrHosts, h)
				}
			}
		}
	}

	nameservers := make([]string, 0, len(nsSet))
	for ns := range nsSet {
		nameservers = append(nameservers, ns)
	}
	sort.Strings(nameservers)
	findings.Nameservers = nameservers

	subs, err := d.resolveSubdomains(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(subs))
	for _, s := range subs {
		seen[s.Host] = true
	}
	for _, h := range dedupeSorted(axfrHosts) {
		if !seen[h] {
			subs = append(subs, engine.Subdomain{Host: h, Source: "axfr"})
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].Host < subs[j].Host })
	findings.Subdomains = subs

	return findings, nil
}

// lookupNS resolves a domain's nameservers, lowercased without the root dot.
func (d *DNS) lookupNS(ctx context.Context, domain string) ([]string, error) {
	nss, err := d.resolver.LookupNS(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("NS lookup: %w", err)
	}
	hosts := make([]string, 0, len(nss))
	for _, ns := range nss {
		hosts = append(hosts, strings.TrimSuffix(strings.ToLower(ns.Host), "."))
	}
	return dedupeSorted(hosts), nil
}

// queryRecords resolves every configured record type for one domain. Types
// with no answer are absent from the map.
func (d *DNS) queryRecords(ctx context.Context, domain string, nsHosts []string) map[string][]string {
	records := make(map[string][]string)

	for _, rt := range d.profile.RecordTypes {
		rt = strings.ToUpper(rt)

		var values []string
		switch rt {
		case "A":
			values = d.lookupAddrs(ctx, domain, "ip4")
		case "AAAA":
			values = d.lookupAddrs(ctx, domain, "ip6")
		case "CNAME":
			if cname, err := d.resolver.LookupCNAME(ctx, domain); err == nil {
				cname = strings.TrimSuffix(strings.ToLower(cname), ".")
				if cname != "" && cname != domain {
					values = []string{cname}
				}
			}
		case "MX":
			if mxs, err := d.resolver.LookupMX(ctx, domain); err == nil {
				for _, mx := range mxs {
					values = append(values, fmt.Sprintf("%d %s", mx.Pref, strings.TrimSuffix(mx.Host, ".")))
				}
			}
		case "NS":
			values = nsHosts
		case "TXT":
			if txts, err := d.resolver.LookupTXT(ctx, domain); err == nil {
				values = txts
			}
		case "SOA":
			// Authoritative servers answer SOA directly; recursors may not.
			for _, ns := range nsHosts {
				rec, err := d.soa(ctx, domain, ns)
				if err != nil {
					continue
				}
				values = []string{rec}
				break
			}
		}

		if len(values) > 0 {
			records[rt] = values
		} else {
			d.log.Debug().Str("domain", domain).Str("type", rt).Msg("no records")
		}
	}

	return records
}

func (d *DNS) lookupAddrs(ctx context.Context, domain, network string) []string {
	ips, err := d.resolver.LookupIP(ctx, network, domain)
	if err != nil {
		return nil
	}
	addrs := make([]string, 0, len(ips))
	for _, ip := range ips {
		addrs = append(addrs, ip.String())
	}
	return dedupeSorted(addrs)
}

// securityRecords extracts the mail-security policies published in DNS:
// SPF from the domain's own TXT records, DMARC from _dmarc.<domain>.
func (d *DNS) securityRecords(ctx context.Context, domain string, txt []string) engine.SecurityRecords {
	sec := engine.SecurityRecords{SPF: spfRecords(txt)}
	if dmarc, err := d.resolver.LookupTXT(ctx, "_dmarc."+domain); err == nil {
		sec.DMARC = dmarc
	}
	return sec
}

// spfRecords filters TXT values down to SPF policies.
func spfRecords(txt []string) []string {
	var out []string
	for _, t := range txt {
		if strings.Contains(strings.ToLower(t), "spf") {
			out = append(out, t)
		}
	}
	return out
}

// resolveSubdomains checks the conventional prefixes against every domain
// with a bounded worker pool.
func (d *DNS) resolveSubdomains(ctx context.Context) ([]engine.Subdomain, error) {
	var hosts []string
	for _, domain := range d.profile.Domains {
		for _, prefix := range d.profile.SubdomainPrefixes {
			hosts = append(hosts, prefix+"."+domain)
		}
	}

	work := make(chan string, len(hosts))
	for _, h := range hosts {
		work <- h
	}
	close(work)

	var (
		mu    sync.Mutex
		found []engine.Subdomain
		wg    sync.WaitGroup
	)
	for i := 0; i < poolSize(d.workers, len(hosts)); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for host := range work {
				select {
				case <-ctx.Done():
					return
				default:
				}

				ips, err := d.resolver.LookupHost(ctx, host)
				if err != nil || len(ips) == 0 {
					continue
				}
				sub := engine.Subdomain{Host: host, IPs: dedupeSorted(ips), Source: "wordlist"}
				mu.Lock()
				found = append(found, sub)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return found, nil
}

// soaLookup asks one nameserver directly for the zone's SOA record.
func soaLookup(ctx context.Context, domain, nameserver string) (string, error) {
	client := &mdns.Client{Timeout: soaTimeout}
	msg := new(mdns.Msg)
	msg.SetQuestion(mdns.Fqdn(domain), mdns.TypeSOA)

	resp, _, err := client.ExchangeContext(ctx, msg, net.JoinHostPort(nameserver, "53"))
	if err != nil {
		return "", fmt.Errorf("SOA query to %s: %w", nameserver, err)
	}

	for _, ans := range resp.Answer {
		if soa, ok := ans.(*mdns.SOA); ok {
			return fmt.Sprintf("%s %s %d %d %d %d %d",
				strings.TrimSuffix(soa.Ns, "."), strings.TrimSuffix(soa.Mbox, "."),
				soa.Serial, soa.Refresh, soa.Retry, soa.Expire, soa.Minttl), nil
		}
	}
	return "", fmt.Errorf("no SOA answer from %s", nameserver)
}

// attemptAXFR performs a zone transfer against a single nameserver and
// returns the in-zone hostnames it discloses. Refusal is the expected
// outcome for a correctly configured zone.
func attemptAXFR(_ context.Context, domain, nameserver string) ([]string, error) {
	transfer := &mdns.Transfer{
		DialTimeout: axfrDialTimeout,
		ReadTimeout: axfrReadTimeout,
	}

	msg := new(mdns.Msg)
	msg.SetAxfr(mdns.Fqdn(domain))

	channel, err := transfer.In(msg, net.JoinHostPort(nameserver, "53"))
	if err != nil {
		return nil, fmt.Errorf("AXFR to %s: %w", nameserver, err)
	}

	apex := strings.ToLower(domain)
	suffix := "." + apex
	seen := make(map[string]bool)
	var hostnames []string

	for envelope := range channel {
		if envelope.Error != nil {
			return nil, fmt.Errorf("AXFR envelope from %s: %w", nameserver, envelope.Error)
		}
		for _, rr := range envelope.RR {
			name := strings.ToLower(strings.TrimSuffix(rr.Header().Name, "."))
			if name == "" || (name != apex && !strings.HasSuffix(name, suffix)) {
				continue
			}
			if !seen[name] {
				seen[name] = true
				hostnames = append(hostnames, name)
			}
		}
	}

	return hostnames, nil
}
