// Package profile describes the surface of a probed service: its domains,
// REST base, named services, CDN layout, and discovery listings. A profile
// is synthesized from an apex domain and optionally overridden from YAML.
package profile

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/openrecon/surface/pkg/wellknown"
)

// Profile holds everything the probing units need to know about a target.
type Profile struct {
	// Service is a display name for the target, defaulting to the apex domain.
	Service string `yaml:"service" json:"service"`

	// Domains are the apex domains probed by the dns and asn units.
	Domains []string `yaml:"domains" json:"domains"`

	// RecordTypes are the DNS record types queried per domain.
	RecordTypes []string `yaml:"record_types" json:"record_types"`

	// SubdomainPrefixes are resolved against each domain.
	SubdomainPrefixes []string `yaml:"subdomain_prefixes" json:"subdomain_prefixes"`

	// Services maps a service name to its URL. ws:// and wss:// URLs are
	// probed with a WebSocket handshake, everything else over HTTP.
	Services map[string]string `yaml:"services" json:"services"`

	API       APIProfile       `yaml:"api" json:"api"`
	CDN       CDNProfile       `yaml:"cdn" json:"cdn"`
	Discovery DiscoveryProfile `yaml:"discovery" json:"discovery"`
}

// APIProfile describes the REST surface probed by the services unit.
type APIProfile struct {
	BaseURL       string   `yaml:"base_url" json:"base_url"`
	Endpoints     []string `yaml:"endpoints" json:"endpoints"`
	AuthEndpoints []string `yaml:"auth_endpoints" json:"auth_endpoints"`
}

// CDNProfile describes the object-storage surface probed by the cdn unit.
type CDNProfile struct {
	// Domains are CDN hosts. A bare host is probed over https; entries with
	// an explicit scheme are used as-is.
	Domains         []string `yaml:"domains" json:"domains"`
	ObjectEndpoints []string `yaml:"object_endpoints" json:"object_endpoints"`
	Patterns        []string `yaml:"patterns" json:"patterns"`
	Extensions      []string `yaml:"extensions" json:"extensions"`
	IdentifierCount int      `yaml:"identifier_count" json:"identifier_count"`
	MetadataSizes   []int    `yaml:"metadata_sizes" json:"metadata_sizes"`
	MetadataFormats []string `yaml:"metadata_formats" json:"metadata_formats"`

	// MaxCandidates bounds the fuzz product so a profile edit cannot turn
	// the sweep into a flood.
	MaxCandidates int `yaml:"max_candidates" json:"max_candidates"`
}

// DiscoveryProfile describes public directory listings probed by the
// servers unit. CategoriesURL must contain a {category} placeholder.
type DiscoveryProfile struct {
	CategoriesURL  string   `yaml:"categories_url" json:"categories_url"`
	Categories     []string `yaml:"categories" json:"categories"`
	MembershipsURL string   `yaml:"memberships_url" json:"memberships_url"`
}

const (
	defaultIdentifierCount = 5
	defaultMaxCandidates   = 5000
)

// Default synthesizes a conventional-surface profile for an apex domain.
func Default(domain string) *Profile {
	p := &Profile{
		Domains: []string{strings.ToLower(strings.TrimSpace(domain))},
	}
	p.fillDefaults()
	return p
}

// LoadFile reads a YAML profile. Fields left empty inherit the conventional
// defaults derived from the profile's first domain.
func LoadFile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	if len(p.Domains) == 0 {
		return nil, fmt.Errorf("profile %s: at least one domain is required", path)
	}

	for i, d := range p.Domains {
		p.Domains[i] = strings.ToLower(strings.TrimSpace(d))
	}
	p.fillDefaults()
	return &p, nil
}

// fillDefaults populates every empty field from the conventional surface of
// the first domain.
func (p *Profile) fillDefaults() {
	apex := p.Domains[0]

	if p.Service == "" {
		p.Service = apex
	}
	if len(p.RecordTypes) == 0 {
		p.RecordTypes = wellknown.DNSRecordTypes
	}
	if len(p.SubdomainPrefixes) == 0 {
		p.SubdomainPrefixes = wellknown.SubdomainPrefixes
	}
	if p.Services == nil {
		p.Services = map[string]string{
			"web":     "https://" + apex,
			"api":     "https://api." + apex,
			"cdn":     "https://cdn." + apex,
			"status":  "https://status." + apex,
			"gateway": "wss://gateway." + apex,
		}
	}

	if p.API.BaseURL == "" {
		p.API.BaseURL = "https://" + apex + "/api/v1"
	}
	p.API.BaseURL = strings.TrimRight(p.API.BaseURL, "/")
	if len(p.API.Endpoints) == 0 {
		p.API.Endpoints = wellknown.APIEndpoints
	}
	if len(p.API.AuthEndpoints) == 0 {
		p.API.AuthEndpoints = wellknown.AuthEndpoints
	}

	if len(p.CDN.Domains) == 0 {
		p.CDN.Domains = []string{"cdn." + apex, "media." + apex}
	}
	if len(p.CDN.ObjectEndpoints) == 0 {
		p.CDN.ObjectEndpoints = wellknown.ObjectEndpoints
	}
	if len(p.CDN.Patterns) == 0 {
		p.CDN.Patterns = wellknown.FuzzPatterns
	}
	if len(p.CDN.Extensions) == 0 {
		p.CDN.Extensions = wellknown.ImageExtensions
	}
	if p.CDN.IdentifierCount == 0 {
		p.CDN.IdentifierCount = defaultIdentifierCount
	}
	if len(p.CDN.MetadataSizes) == 0 {
		p.CDN.MetadataSizes = wellknown.ThumbnailSizes
	}
	if len(p.CDN.MetadataFormats) == 0 {
		p.CDN.MetadataFormats = wellknown.ImageExtensions
	}
	if p.CDN.MaxCandidates == 0 {
		p.CDN.MaxCandidates = defaultMaxCandidates
	}

	if p.Discovery.CategoriesURL == "" {
		p.Discovery.CategoriesURL = p.API.BaseURL + "/discovery/{category}"
	}
	if len(p.Discovery.Categories) == 0 {
		p.Discovery.Categories = wellknown.DirectoryCategories
	}
	if p.Discovery.MembershipsURL == "" {
		p.Discovery.MembershipsURL = p.API.BaseURL + "/users/@me/memberships"
	}
}

// FuzzCandidates is the exact number of CDN fuzz requests this profile
// produces: domains x patterns x identifiers x extensions.
func (p *Profile) FuzzCandidates() int {
	return len(p.CDN.Domains) * len(p.CDN.Patterns) * p.CDN.IdentifierCount * len(p.CDN.Extensions)
}

// Validate rejects profiles that cannot be probed safely.
func (p *Profile) Validate() error {
	if len(p.Domains) == 0 {
		return fmt.Errorf("at least one domain is required")
	}
	for _, d := range p.Domains {
		if d == "" {
			return fmt.Errorf("empty domain in profile")
		}
		if strings.Contains(d, "://") {
			return fmt.Errorf("domain %q must not carry a scheme", d)
		}
	}

	supported := make(map[string]bool, len(wellknown.DNSRecordTypes))
	for _, rt := range wellknown.DNSRecordTypes {
		supported[rt] = true
	}
	for _, rt := range p.RecordTypes {
		if !supported[strings.ToUpper(rt)] {
			return fmt.Errorf("unsupported record type %q", rt)
		}
	}

	if err := validateURL(p.API.BaseURL, "http", "https"); err != nil {
		return fmt.Errorf("api base_url: %w", err)
	}
	for name, u := range p.Services {
		if err := validateURL(u, "http", "https", "ws", "wss"); err != nil {
			return fmt.Errorf("service %q: %w", name, err)
		}
	}

	if p.CDN.IdentifierCount < 1 {
		return fmt.Errorf("identifier_count must be at least 1")
	}
	if p.CDN.MaxCandidates < 1 {
		return fmt.Errorf("max_candidates must be at least 1")
	}
	if n := p.FuzzCandidates(); n > p.CDN.MaxCandidates {
		return fmt.Errorf("fuzz candidate count %d exceeds max_candidates %d", n, p.CDN.MaxCandidates)
	}

	if len(p.Discovery.Categories) > 0 && !strings.Contains(p.Discovery.CategoriesURL, "{category}") {
		return fmt.Errorf("discovery categories_url must contain {category}")
	}

	return nil
}

func validateURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("URL %q has no host", raw)
			}
			return nil
		}
	}
	return fmt.Errorf("URL %q: unsupported scheme %q", raw, u.Scheme)
}
