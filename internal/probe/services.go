package probe

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/openrecon/surface/internal/engine"
	"github.com/openrecon/surface/internal/profile"
	"github.com/openrecon/surface/internal/request"
)

const wsHandshakeTimeout = 10 * time.Second

// Services checks the availability of every named service and walks the
// REST surface: endpoint status, response payloads, and whatever rate
// limits the endpoints advertise.
type Services struct {
	profile *profile.Profile
	client  *request.Client
	log     zerolog.Logger
	token   string
	auth    bool
	dialer  *websocket.Dialer
}

// NewServices builds the services unit from its run dependencies.
func NewServices(d engine.Deps) *Services {
	return &Services{
		profile: d.Profile,
		client:  d.Client,
		log:     d.Log,
		token:   d.Token,
		auth:    d.Authenticated,
		dialer:  &websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout},
	}
}

func (s *Services) Name() string { return "services" }

func (s *Services) Enumerate(ctx context.Context) (engine.Findings, error) {
	findings := &engine.ServicesFindings{
		Services:  make(map[string]engine.ServiceStatus, len(s.profile.Services)),
		Endpoints: make(map[string]engine.EndpointProbe, len(s.profile.API.Endpoints)),
	}

	names := make([]string, 0, len(s.profile.Services))
	for name := range s.profile.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		findings.Services[name] = s.checkService(ctx, s.profile.Services[name])
	}

	for _, path := range s.profile.API.Endpoints {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		probe, limits := s.probeEndpoint(ctx, path)
		findings.Endpoints[path] = probe
		if limits != nil {
			if findings.RateLimits == nil {
				findings.RateLimits = make(map[string]map[string]string)
			}
			findings.RateLimits[path] = limits
		}
	}

	if s.auth {
		findings.Authenticated = make(map[string]engine.EndpointProbe, len(s.profile.API.AuthEndpoints))
		for _, path := range s.profile.API.AuthEndpoints {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			probe, _ := s.probeEndpoint(ctx, path)
			findings.Authenticated[path] = probe
		}
	}

	return findings, nil
}

// checkService records one named service's availability. ws and wss URLs
// get a real handshake, everything else a plain GET.
func (s *Services) checkService(ctx context.Context, rawURL string) engine.ServiceStatus {
	status := engine.ServiceStatus{URL: rawURL}

	u, err := url.Parse(rawURL)
	if err != nil {
		status.Error = err.Error()
		return status
	}
	status.Protocol = u.Scheme

	if u.Scheme == "ws" || u.Scheme == "wss" {
		return s.checkWebSocket(ctx, status)
	}

	out := s.client.Do(ctx, request.Target{URL: rawURL})
	if out.Failed() {
		status.Error = out.Err
		return status
	}
	status.Status = out.Status
	status.Headers = out.Headers
	return status
}

// checkWebSocket records the handshake response for a gateway URL. A
// rejected upgrade still carries the HTTP status and headers.
func (s *Services) checkWebSocket(ctx context.Context, status engine.ServiceStatus) engine.ServiceStatus {
	header := http.Header{}
	header.Set("User-Agent", request.DefaultUserAgent)
	if s.token != "" {
		header.Set("Authorization", s.token)
	}

	conn, resp, err := s.dialer.DialContext(ctx, status.URL, header)
	if resp != nil {
		status.Status = resp.StatusCode
		status.Headers = request.FlattenHeaders(resp.Header)
	}
	if err != nil {
		status.Error = err.Error()
		s.log.Debug().Str("url", status.URL).Err(err).Msg("websocket handshake failed")
		return status
	}
	conn.Close()
	return status
}

// probeEndpoint issues one REST probe and captures any rate-limit headers
// the endpoint advertises.
func (s *Services) probeEndpoint(ctx context.Context, path string) (engine.EndpointProbe, map[string]string) {
	out := s.client.Do(ctx, request.Target{URL: s.profile.API.BaseURL + path})

	probe := engine.EndpointProbe{Status: out.Status, Headers: out.Headers, Error: out.Err}
	if out.OK() {
		probe.Data = out.Data
	}

	if limit, ok := out.Headers["x-ratelimit-limit"]; ok {
		return probe, map[string]string{
			"limit":     limit,
			"remaining": out.Headers["x-ratelimit-remaining"],
			"reset":     out.Headers["x-ratelimit-reset"],
		}
	}
	return probe, nil
}
