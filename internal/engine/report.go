// Package engine orchestrates a probing run: it builds each probing unit,
// runs them concurrently with failure isolation, and merges their findings
// into a single report.
package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/openrecon/surface/internal/profile"
	"github.com/openrecon/surface/internal/request"
)

// Report is the top-level output of a probing run.
type Report struct {
	Metadata Metadata              `json:"metadata"`
	Results  map[string]UnitResult `json:"results"`
}

// Metadata describes the run itself. ExecutionTime is keyed by unit name.
type Metadata struct {
	Timestamp          time.Time          `json:"timestamp"`
	Target             string             `json:"target"`
	Mode               string             `json:"mode"`
	Authenticated      bool               `json:"authenticated"`
	Module             string             `json:"module,omitempty"`
	ExecutionTime      map[string]float64 `json:"execution_time"`
	TotalExecutionTime float64            `json:"total_execution_time"`
}

// Findings is the unit-specific payload. Each unit returns one of the typed
// findings structs below; the engine treats it opaquely.
type Findings any

// UnitResult is one entry in Report.Results: either the unit's findings or
// the error that replaced them. It marshals to the findings object itself,
// or to {"error": message} when the unit failed.
type UnitResult struct {
	Findings Findings `json:"-"`
	Err      string   `json:"-"`
}

// MarshalJSON keeps the wire shape flat: findings inline, or a single
// error key, never both.
func (u UnitResult) MarshalJSON() ([]byte, error) {
	if u.Err != "" {
		return json.Marshal(map[string]string{"error": u.Err})
	}
	return json.Marshal(u.Findings)
}

// Failed reports whether the unit was replaced by an error entry.
func (u UnitResult) Failed() bool { return u.Err != "" }

// ASNFindings is the asn unit's view of the target's IP allocation.
type ASNFindings struct {
	Networks      map[string]ASNNetwork   `json:"asn_info"`
	IPRanges      []string                `json:"ip_ranges"`
	Organizations map[string]string       `json:"organization_info"`
	Prefixes      map[string][]string     `json:"announced_prefixes,omitempty"`
	Whois         map[string]WhoisSummary `json:"whois,omitempty"`
	Errors        []string                `json:"errors,omitempty"`
}

// ASNNetwork ties a domain to the network advertising its first IP.
type ASNNetwork struct {
	Domain      string `json:"domain"`
	IP          string `json:"ip"`
	ASN         string `json:"asn"`
	Description string `json:"asn_description"`
	CIDR        string `json:"network"`
}

// WhoisSummary carries the registration fields worth keeping from a lookup.
type WhoisSummary struct {
	Registrar    string   `json:"registrar,omitempty"`
	Organization string   `json:"organization,omitempty"`
	Country      string   `json:"country,omitempty"`
	Created      string   `json:"created,omitempty"`
	NameServers  []string `json:"name_servers,omitempty"`
}

// DNSFindings is the dns unit's view of the target's DNS surface.
type DNSFindings struct {
	Records         map[string]map[string][]string `json:"records"`
	SecurityRecords map[string]SecurityRecords     `json:"security_records"`
	Nameservers     []string                       `json:"nameservers"`
	ZoneTransfers   []ZoneTransfer                 `json:"zone_transfers"`
	Subdomains      []Subdomain                    `json:"subdomains"`
	Errors          []string                       `json:"errors,omitempty"`
}

// SecurityRecords holds mail-security policies published in DNS.
type SecurityRecords struct {
	SPF   []string `json:"spf,omitempty"`
	DMARC []string `json:"dmarc,omitempty"`
}

// ZoneTransfer is the result of an AXFR attempt against a nameserver.
type ZoneTransfer struct {
	Zone       string `json:"zone"`
	Nameserver string `json:"nameserver"`
	Success    bool   `json:"success"`
	Records    int    `json:"records,omitempty"`
}

// Subdomain is a discovered hostname and how it was found.
type Subdomain struct {
	Host   string   `json:"host"`
	IPs    []string `json:"ips,omitempty"`
	Source string   `json:"source"`
}

// ServicesFindings is the services unit's view of the REST surface.
// Per-service and per-endpoint failures live on the entries themselves.
type ServicesFindings struct {
	Services      map[string]ServiceStatus     `json:"services"`
	Endpoints     map[string]EndpointProbe     `json:"api_endpoints"`
	RateLimits    map[string]map[string]string `json:"rate_limits,omitempty"`
	Authenticated map[string]EndpointProbe     `json:"authenticated_endpoints,omitempty"`
}

// ServiceStatus records the availability of one named service.
type ServiceStatus struct {
	URL      string            `json:"url"`
	Protocol string            `json:"protocol,omitempty"`
	Status   int               `json:"status,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// EndpointProbe records the response of one REST endpoint.
type EndpointProbe struct {
	Status  int               `json:"status,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Data    any               `json:"data,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// CDNFindings is the cdn unit's view of the object storage surface.
type CDNFindings struct {
	Endpoints   map[string][]PathProbe              `json:"cdn_endpoints"`
	Interesting []FuzzHit                           `json:"interesting_findings"`
	Vulnerable  []Vulnerability                     `json:"vulnerable_patterns"`
	Metadata    map[string]map[string]MetadataProbe `json:"metadata_probes"`
	Candidates  int                                 `json:"candidates_generated"`
	Requested   int                                 `json:"paths_requested"`
	Errors      []string                            `json:"errors,omitempty"`
}

// PathProbe records one probe path under a CDN endpoint.
type PathProbe struct {
	Path   string `json:"path"`
	Status int    `json:"status"`
	Size   int64  `json:"size,omitempty"`
}

// FuzzHit is a fuzzed path that answered with something other than
// 404 or 403.
type FuzzHit struct {
	URL     string            `json:"url"`
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Vulnerability flags a response whose headers disclose cache internals.
type Vulnerability struct {
	URL      string `json:"url"`
	Type     string `json:"type"`
	Evidence string `json:"evidence"`
}

// MetadataProbe records one size/format probe against a resizing endpoint.
type MetadataProbe struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
}

// ServersFindings is the servers unit's view of public directory listings.
type ServersFindings struct {
	Directory   map[string][]DirectoryEntry `json:"directory"`
	Memberships []Membership                `json:"memberships,omitempty"`
	Errors      []string                    `json:"errors,omitempty"`
}

// DirectoryEntry is one tenant surfaced by a public discovery listing.
type DirectoryEntry struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Description   string   `json:"description,omitempty"`
	MemberCount   int      `json:"approximate_member_count,omitempty"`
	PresenceCount int      `json:"approximate_presence_count,omitempty"`
	Features      []string `json:"features,omitempty"`
	Locale        string   `json:"preferred_locale,omitempty"`
	VanityCode    string   `json:"vanity_url_code,omitempty"`
}

// Membership is one tenant visible to the supplied credential.
type Membership struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Owner       bool     `json:"owner"`
	Permissions string   `json:"permissions,omitempty"`
	Features    []string `json:"features,omitempty"`
}

// Unit is a single probing unit. Enumerate collects the unit's findings and
// must return the context error when interrupted rather than a partial
// findings object.
type Unit interface {
	Name() string
	Enumerate(ctx context.Context) (Findings, error)
}

// Deps carries everything a unit needs. The Client is scoped to the unit's
// run: the engine acquires it before building the unit and releases it on
// every exit path.
type Deps struct {
	Profile       *profile.Profile
	Client        *request.Client
	Log           zerolog.Logger
	Workers       int
	Seed          int64
	Token         string
	Authenticated bool
}

// UnitBuilder names a unit and knows how to build it for one run.
type UnitBuilder struct {
	Name  string
	Build func(Deps) Unit
}

// ProgressReporter receives advisory run progress. Implementations must be
// safe for concurrent use; the engine never blocks on them.
type ProgressReporter interface {
	UnitStarted(name string)
	UnitDone(name string, elapsed time.Duration, err error)
	Warn(msg string)
}
