package probe

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/openrecon/surface/internal/engine"
	"github.com/openrecon/surface/internal/profile"
	"github.com/openrecon/surface/internal/request"
)

func servicesTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"status": "online"}`))
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	})
	mux.HandleFunc("/api/gateway", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Limit", "100")
		w.Header().Set("X-RateLimit-Remaining", "99")
		w.Header().Set("X-RateLimit-Reset", "1700000000")
		fmt.Fprint(w, `{"url": "wss://gateway.example.com"}`)
	})
	mux.HandleFunc("/api/experiments", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	mux.HandleFunc("/api/users/@me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"id": "42", "username": "prober"}`)
	})

	return httptest.NewServer(mux)
}

func newServicesUnit(t *testing.T, srv *httptest.Server, token string, auth bool) *Services {
	t.Helper()

	client := request.New(request.Options{
		Token:   token,
		Timeout: 2 * time.Second,
		Delay:   time.Millisecond,
		Log:     zerolog.Nop(),
	})
	t.Cleanup(client.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	return NewServices(engine.Deps{
		Profile: &profile.Profile{
			Services: map[string]string{
				"web":     srv.URL,
				"gateway": wsURL,
				"dead":    "ws://127.0.0.1:1/ws",
			},
			API: profile.APIProfile{
				BaseURL:       srv.URL + "/api",
				Endpoints:     []string{"/gateway", "/experiments", "/voice/regions"},
				AuthEndpoints: []string{"/users/@me"},
			},
		},
		Client:        client,
		Log:           zerolog.Nop(),
		Token:         token,
		Authenticated: auth,
	})
}

func TestServices_Enumerate(t *testing.T) {
	srv := servicesTestServer(t)
	defer srv.Close()

	unit := newServicesUnit(t, srv, "", false)
	raw, err := unit.Enumerate(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	findings := raw.(*engine.ServicesFindings)

	web := findings.Services["web"]
	if web.Status != 200 {
		t.Errorf("web status = %d, want 200", web.Status)
	}
	if web.Protocol != "http" {
		t.Errorf("web protocol = %q, want %q", web.Protocol, "http")
	}

	gateway := findings.Services["gateway"]
	if gateway.Protocol != "ws" {
		t.Errorf("gateway protocol = %q, want %q", gateway.Protocol, "ws")
	}
	if gateway.Status != http.StatusSwitchingProtocols {
		t.Errorf("gateway status = %d, want 101", gateway.Status)
	}
	if gateway.Error != "" {
		t.Errorf("gateway error = %q, want none", gateway.Error)
	}

	dead := findings.Services["dead"]
	if dead.Error == "" {
		t.Error("dead gateway should record a handshake error")
	}

	gw := findings.Endpoints["/gateway"]
	if gw.Status != 200 {
		t.Errorf("/gateway status = %d, want 200", gw.Status)
	}
	data, ok := gw.Data.(map[string]any)
	if !ok {
		t.Fatalf("/gateway data = %T, want decoded object", gw.Data)
	}
	if data["url"] != "wss://gateway.example.com" {
		t.Errorf("/gateway url = %v", data["url"])
	}

	if findings.Endpoints["/experiments"].Status != 403 {
		t.Errorf("/experiments status = %d, want 403", findings.Endpoints["/experiments"].Status)
	}
	if findings.Endpoints["/voice/regions"].Status != 404 {
		t.Errorf("/voice/regions status = %d, want 404", findings.Endpoints["/voice/regions"].Status)
	}

	limits := findings.RateLimits["/gateway"]
	if limits == nil {
		t.Fatal("no rate limits captured for /gateway")
	}
	if limits["limit"] != "100" || limits["remaining"] != "99" {
		t.Errorf("rate limits = %v", limits)
	}
	if _, ok := findings.RateLimits["/experiments"]; ok {
		t.Error("rate limits recorded for endpoint without headers")
	}

	if findings.Authenticated != nil {
		t.Error("authenticated endpoints probed in unauthenticated mode")
	}
}

func TestServices_EnumerateAuthenticated(t *testing.T) {
	srv := servicesTestServer(t)
	defer srv.Close()

	unit := newServicesUnit(t, srv, "token-abc", true)
	raw, err := unit.Enumerate(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	findings := raw.(*engine.ServicesFindings)

	me := findings.Authenticated["/users/@me"]
	if me.Status != 200 {
		t.Fatalf("/users/@me status = %d, want 200", me.Status)
	}
	data, ok := me.Data.(map[string]any)
	if !ok {
		t.Fatalf("/users/@me data = %T, want decoded object", me.Data)
	}
	if data["id"] != "42" {
		t.Errorf("/users/@me id = %v, want 42", data["id"])
	}
}

func TestServices_EnumerateCanceled(t *testing.T) {
	srv := servicesTestServer(t)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	unit := newServicesUnit(t, srv, "", false)
	if _, err := unit.Enumerate(ctx); err != context.Canceled {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
