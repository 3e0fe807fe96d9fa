package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openrecon/surface/internal/profile"
)

// Stub units for testing.

type stubUnit struct {
	name     string
	findings Findings
	err      error
	panicMsg string
	waitCtx  bool
}

func (s *stubUnit) Name() string { return s.name }

func (s *stubUnit) Enumerate(ctx context.Context) (Findings, error) {
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	if s.waitCtx {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.findings, s.err
}

func asBuilder(u *stubUnit) UnitBuilder {
	return UnitBuilder{Name: u.name, Build: func(Deps) Unit { return u }}
}

type recordingProgress struct {
	mu      sync.Mutex
	started []string
	done    []string
}

func (p *recordingProgress) UnitStarted(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = append(p.started, name)
}

func (p *recordingProgress) UnitDone(name string, elapsed time.Duration, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done = append(p.done, name)
}

func (p *recordingProgress) Warn(msg string) {}

func testConfig() Config {
	return Config{
		Mode:    ModeUnauthenticated,
		Workers: 2,
		Delay:   time.Millisecond,
		Timeout: time.Second,
	}
}

func TestRunner_RunAll(t *testing.T) {
	builders := []UnitBuilder{
		asBuilder(&stubUnit{name: "dns", findings: &DNSFindings{Nameservers: []string{"ns1.example.com"}}}),
		asBuilder(&stubUnit{name: "asn", err: errors.New("lookup failed")}),
		asBuilder(&stubUnit{name: "cdn", findings: &CDNFindings{Candidates: 12, Requested: 8}}),
	}

	progress := &recordingProgress{}
	r := NewRunner(testConfig(), profile.Default("example.com"), builders, zerolog.Nop(), progress)

	report := r.RunAll(context.Background())

	if len(report.Results) != 3 {
		t.Fatalf("results = %d entries, want 3", len(report.Results))
	}

	dns := report.Results["dns"]
	if dns.Failed() {
		t.Errorf("dns failed: %v", dns.Err)
	}
	if f, ok := dns.Findings.(*DNSFindings); !ok || len(f.Nameservers) != 1 {
		t.Errorf("dns findings = %#v, want 1 nameserver", dns.Findings)
	}

	asn := report.Results["asn"]
	if !asn.Failed() {
		t.Fatal("asn should have failed")
	}
	if asn.Err != "lookup failed" {
		t.Errorf("asn error = %q, want %q", asn.Err, "lookup failed")
	}

	if report.Metadata.Target != "example.com" {
		t.Errorf("target = %q, want %q", report.Metadata.Target, "example.com")
	}
	if report.Metadata.Mode != ModeUnauthenticated {
		t.Errorf("mode = %q, want %q", report.Metadata.Mode, ModeUnauthenticated)
	}
	if report.Metadata.Authenticated {
		t.Error("authenticated = true, want false")
	}
	for _, name := range []string{"dns", "asn", "cdn"} {
		if _, ok := report.Metadata.ExecutionTime[name]; !ok {
			t.Errorf("missing execution time for %s", name)
		}
	}
	if report.Metadata.TotalExecutionTime <= 0 {
		t.Error("total execution time should be positive")
	}

	progress.mu.Lock()
	defer progress.mu.Unlock()
	if len(progress.started) != 3 || len(progress.done) != 3 {
		t.Errorf("progress saw %d started / %d done, want 3 / 3", len(progress.started), len(progress.done))
	}
}

func TestRunner_PanicIsolation(t *testing.T) {
	builders := []UnitBuilder{
		asBuilder(&stubUnit{name: "cdn", panicMsg: "nil dereference"}),
		asBuilder(&stubUnit{name: "dns", findings: &DNSFindings{}}),
	}

	r := NewRunner(testConfig(), profile.Default("example.com"), builders, zerolog.Nop(), nil)
	report := r.RunAll(context.Background())

	cdn := report.Results["cdn"]
	if !cdn.Failed() {
		t.Fatal("panicking unit should produce an error entry")
	}
	if !strings.Contains(cdn.Err, "panicked") || !strings.Contains(cdn.Err, "nil dereference") {
		t.Errorf("cdn error = %q, want the panic message", cdn.Err)
	}
	if report.Results["dns"].Failed() {
		t.Errorf("dns should be unaffected, got error %q", report.Results["dns"].Err)
	}
}

func TestRunner_RunOne(t *testing.T) {
	builders := []UnitBuilder{
		asBuilder(&stubUnit{name: "asn", findings: &ASNFindings{IPRanges: []string{"192.0.2.0/24"}}}),
		asBuilder(&stubUnit{name: "dns", err: errors.New("should not run")}),
	}

	r := NewRunner(testConfig(), profile.Default("example.com"), builders, zerolog.Nop(), nil)
	report, err := r.RunOne(context.Background(), "asn")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(report.Results) != 1 {
		t.Fatalf("results = %d entries, want 1", len(report.Results))
	}
	if _, ok := report.Results["asn"]; !ok {
		t.Fatal("missing asn entry")
	}
	if report.Metadata.Module != "asn" {
		t.Errorf("module = %q, want %q", report.Metadata.Module, "asn")
	}
	if _, ok := report.Metadata.ExecutionTime["dns"]; ok {
		t.Error("dns should not have been timed")
	}
}

func TestRunner_RunOne_Repeatable(t *testing.T) {
	builders := []UnitBuilder{
		asBuilder(&stubUnit{name: "dns", findings: &DNSFindings{Nameservers: []string{"ns1.example.com"}}}),
	}
	r := NewRunner(testConfig(), profile.Default("example.com"), builders, zerolog.Nop(), nil)

	first, err := r.RunOne(context.Background(), "dns")
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := r.RunOne(context.Background(), "dns")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	a, err := json.Marshal(first.Results)
	if err != nil {
		t.Fatalf("marshal first: %v", err)
	}
	b, err := json.Marshal(second.Results)
	if err != nil {
		t.Fatalf("marshal second: %v", err)
	}
	if string(a) != string(b) {
		t.Errorf("results differ across runs:\n%s\n%s", a, b)
	}
}

func TestRunner_RunOne_UnknownModule(t *testing.T) {
	r := NewRunner(testConfig(), profile.Default("example.com"), nil, zerolog.Nop(), nil)

	report, err := r.RunOne(context.Background(), "sideloading")
	if err == nil {
		t.Fatal("expected an error for an unknown module")
	}
	if !errors.Is(err, ErrUnknownModule) {
		t.Errorf("error = %v, want ErrUnknownModule", err)
	}
	if report != nil {
		t.Error("no report should be produced for an unknown module")
	}
}

func TestRunner_ContextCancellation(t *testing.T) {
	builders := []UnitBuilder{
		asBuilder(&stubUnit{name: "asn", findings: &ASNFindings{}}),
		asBuilder(&stubUnit{name: "servers", waitCtx: true}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	r := NewRunner(testConfig(), profile.Default("example.com"), builders, zerolog.Nop(), nil)
	report := r.RunAll(ctx)

	if report.Results["asn"].Failed() {
		t.Errorf("asn should finish before cancellation, got error %q", report.Results["asn"].Err)
	}
	servers := report.Results["servers"]
	if !servers.Failed() {
		t.Fatal("interrupted unit should produce an error entry")
	}
	if servers.Err != context.Canceled.Error() {
		t.Errorf("servers error = %q, want %q", servers.Err, context.Canceled.Error())
	}
}

func TestRunner_Units(t *testing.T) {
	builders := []UnitBuilder{
		asBuilder(&stubUnit{name: "asn"}),
		asBuilder(&stubUnit{name: "dns"}),
		asBuilder(&stubUnit{name: "services"}),
	}
	r := NewRunner(testConfig(), profile.Default("example.com"), builders, zerolog.Nop(), nil)

	got := r.Units()
	want := []string{"asn", "dns", "services"}
	if len(got) != len(want) {
		t.Fatalf("units = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("units[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestReport_JSON(t *testing.T) {
	builders := []UnitBuilder{
		asBuilder(&stubUnit{name: "dns", findings: &DNSFindings{Nameservers: []string{"ns1.example.com"}}}),
		asBuilder(&stubUnit{name: "cdn", err: errors.New("connection refused")}),
	}

	r := NewRunner(testConfig(), profile.Default("example.com"), builders, zerolog.Nop(), nil)
	report := r.RunAll(context.Background())

	data, err := json.Marshal(report)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded struct {
		Metadata map[string]any            `json:"metadata"`
		Results  map[string]map[string]any `json:"results"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if decoded.Results["cdn"]["error"] != "connection refused" {
		t.Errorf("cdn entry = %v, want an error key", decoded.Results["cdn"])
	}
	if _, ok := decoded.Results["dns"]["error"]; ok {
		t.Error("dns entry should not carry an error key")
	}
	ns, ok := decoded.Results["dns"]["nameservers"].([]any)
	if !ok || len(ns) != 1 {
		t.Errorf("dns nameservers = %v, want one entry", decoded.Results["dns"]["nameservers"])
	}
	for _, key := range []string{"timestamp", "target", "mode", "authenticated", "execution_time", "total_execution_time"} {
		if _, ok := decoded.Metadata[key]; !ok {
			t.Errorf("metadata missing %q", key)
		}
	}
}
