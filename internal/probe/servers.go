package probe

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openrecon/surface/internal/engine"
	"github.com/openrecon/surface/internal/profile"
	"github.com/openrecon/surface/internal/request"
)

// directoryListKeys are the field names under which a discovery API may
// nest its listing.
var directoryListKeys = []string{"guilds", "servers", "entries", "results", "items"}

// Servers walks the public discovery listings by category, and the
// credential's own memberships when one is supplied.
type Servers struct {
	profile *profile.Profile
	client  *request.Client
	log     zerolog.Logger
	auth    bool
}

// NewServers builds the servers unit from its run dependencies.
func NewServers(d engine.Deps) *Servers {
	return &Servers{profile: d.Profile, client: d.Client, log: d.Log, auth: d.Authenticated}
}

func (s *Servers) Name() string { return "servers" }

func (s *Servers) Enumerate(ctx context.Context) (engine.Findings, error) {
	findings := &engine.ServersFindings{
		Directory: make(map[string][]engine.DirectoryEntry),
	}

	for _, category := range s.profile.Discovery.Categories {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		url := strings.ReplaceAll(s.profile.Discovery.CategoriesURL, "{category}", category)
		out := s.client.Do(ctx, request.Target{URL: url})
		switch {
		case out.Failed():
			findings.Errors = append(findings.Errors, fmt.Sprintf("category %s: %s", category, out.Err))
		case out.OK():
			entries := directoryEntries(out.Data)
			if len(entries) > 0 {
				findings.Directory[category] = entries
			}
			s.log.Debug().Str("category", category).Int("entries", len(entries)).Msg("directory listed")
		case out.Absent():
			// No listing for this category.
		default:
			findings.Errors = append(findings.Errors, fmt.Sprintf("category %s: status %d", category, out.Status))
		}
	}

	if s.auth {
		if err := s.listMemberships(ctx, findings); err != nil {
			return nil, err
		}
	}

	return findings, nil
}

// listMemberships records the tenants visible to the supplied credential.
func (s *Servers) listMemberships(ctx context.Context, findings *engine.ServersFindings) error {
	out := s.client.Do(ctx, request.Target{URL: s.profile.Discovery.MembershipsURL})
	if ctx.Err() != nil {
		return ctx.Err()
	}

	switch {
	case out.Failed():
		findings.Errors = append(findings.Errors, fmt.Sprintf("memberships: %s", out.Err))
	case out.OK():
		items, _ := out.Data.([]any)
		for _, it := range items {
			m, ok := it.(map[string]any)
			if !ok {
				continue
			}
			findings.Memberships = append(findings.Memberships, engine.Membership{
				ID:          asString(m, "id"),
				Name:        asString(m, "name"),
				Owner:       asBool(m, "owner"),
				Permissions: asString(m, "permissions"),
				Features:    asStringList(m, "features"),
			})
		}
	case !out.Absent():
		findings.Errors = append(findings.Errors, fmt.Sprintf("memberships: status %d", out.Status))
	}
	return nil
}

// directoryEntries converts a decoded discovery payload into entries. The
// listing may be a bare array or nested under a conventional key.
func directoryEntries(data any) []engine.DirectoryEntry {
	items, ok := data.([]any)
	if !ok {
		m, ok := data.(map[string]any)
		if !ok {
			return nil
		}
		for _, key := range directoryListKeys {
			if list, ok := m[key].([]any); ok {
				items = list
				break
			}
		}
	}

	var entries []engine.DirectoryEntry
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		entries = append(entries, engine.DirectoryEntry{
			ID:            asString(m, "id"),
			Name:          asString(m, "name"),
			Description:   asString(m, "description"),
			MemberCount:   asInt(m, "approximate_member_count"),
			PresenceCount: asInt(m, "approximate_presence_count"),
			Features:      asStringList(m, "features"),
			Locale:        asString(m, "preferred_locale"),
			VanityCode:    asString(m, "vanity_url_code"),
		})
	}
	return entries
}
