package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openrecon/surface/internal/engine"
)

func sampleReport() *engine.Report {
	return &engine.Report{
		Metadata: engine.Metadata{
			Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
			Target:    "example.com",
			Mode:      "unauthenticated",
			ExecutionTime: map[string]float64{
				"dns": 1.2,
				"cdn": 3.4,
				"asn": 0.5,
			},
			TotalExecutionTime: 5.1,
		},
		Results: map[string]engine.UnitResult{
			"dns": {Findings: &engine.DNSFindings{
				Records: map[string]map[string][]string{
					"example.com": {"A": {"1.2.3.4", "1.2.3.5"}, "MX": {"10 mx.example.com"}},
				},
				Nameservers: []string{"ns1.example.com", "ns2.example.com"},
				ZoneTransfers: []engine.ZoneTransfer{
					{Zone: "example.com", Nameserver: "ns1.example.com", Success: true, Records: 42},
					{Zone: "example.com", Nameserver: "ns2.example.com"},
				},
				Subdomains: []engine.Subdomain{{Host: "api.example.com", Source: "wordlist"}},
			}},
			"cdn": {Findings: &engine.CDNFindings{
				Interesting: []engine.FuzzHit{{URL: "https://cdn.example.com/1.png", Status: 200}},
				Vulnerable: []engine.Vulnerability{
					{URL: "https://cdn.example.com/1.png", Type: "information_disclosure", Evidence: "x-cache: HIT"},
				},
				Candidates: 128,
				Requested:  128,
			}},
			"asn": {Err: "no routable address"},
		},
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, sampleReport()); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}

	var decoded struct {
		Metadata struct {
			Target string `json:"target"`
		} `json:"metadata"`
		Results map[string]json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.Metadata.Target != "example.com" {
		t.Errorf("target = %q, want %q", decoded.Metadata.Target, "example.com")
	}
	if len(decoded.Results) != 3 {
		t.Errorf("results entries = %d, want 3", len(decoded.Results))
	}

	var failed map[string]string
	if err := json.Unmarshal(decoded.Results["asn"], &failed); err != nil {
		t.Fatalf("failed unit entry: %v", err)
	}
	if failed["error"] != "no routable address" {
		t.Errorf("error entry = %q, want %q", failed["error"], "no routable address")
	}

	if strings.Contains(string(decoded.Results["dns"]), "error") {
		t.Error("dns entry should not carry an error key")
	}
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	if err := WriteFile(path, sampleReport()); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading report back: %v", err)
	}
	var report map[string]any
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("report file is not valid JSON: %v", err)
	}
	if _, ok := report["results"]; !ok {
		t.Error("report file missing results key")
	}
}

func TestWriteFile_BadPath(t *testing.T) {
	err := WriteFile(filepath.Join(t.TempDir(), "missing", "report.json"), sampleReport())
	if err == nil {
		t.Fatal("WriteFile() with missing directory should fail")
	}
}

func TestWriteTable(t *testing.T) {
	var buf bytes.Buffer
	WriteTable(&buf, sampleReport(), true)
	out := buf.String()

	for _, want := range []string{
		"Unit", "Status", "Findings", "Time",
		"3 records, 2 nameservers, 1 subdomains",
		"128 paths fuzzed, 1 interesting, 1 vulnerable",
		"no routable address",
		"error",
		"1.2s",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("table output missing %q:\n%s", want, out)
		}
	}

	// Sorted by unit name.
	if strings.Index(out, "asn") > strings.Index(out, "dns") {
		t.Errorf("units not sorted:\n%s", out)
	}
}

func TestWriteTable_Styled(t *testing.T) {
	var buf bytes.Buffer
	WriteTable(&buf, sampleReport(), false)
	if !strings.Contains(buf.String(), "cdn") {
		t.Errorf("styled table missing unit rows:\n%s", buf.String())
	}
}

func TestWriteTable_Empty(t *testing.T) {
	var buf bytes.Buffer
	WriteTable(&buf, &engine.Report{}, true)
	if !strings.Contains(buf.String(), "No results.") {
		t.Errorf("empty report output = %q", buf.String())
	}
}

func TestWriteSummary(t *testing.T) {
	var buf bytes.Buffer
	WriteSummary(&buf, sampleReport(), true)
	out := buf.String()

	for _, want := range []string{
		"Target: example.com",
		"Mode: unauthenticated",
		"Units: 2 succeeded, 1 failed (5.1s total)",
		"! Zone transfer enabled (1 of 2 nameservers vulnerable)",
		"ns1.example.com (42 records)",
		"! 1 responses disclose cache internals",
		"1 fuzzed paths answered unexpectedly",
		"! asn: no routable address",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}

	if strings.Contains(out, "ns2.example.com (") {
		t.Errorf("refused nameserver listed as open:\n%s", out)
	}
}

func TestWriteSummary_NoSignals(t *testing.T) {
	report := &engine.Report{
		Metadata: engine.Metadata{Target: "example.com", Mode: "unauthenticated"},
		Results: map[string]engine.UnitResult{
			"dns": {Findings: &engine.DNSFindings{}},
		},
	}
	var buf bytes.Buffer
	WriteSummary(&buf, report, true)
	if strings.Contains(buf.String(), "!") {
		t.Errorf("summary should carry no warnings:\n%s", buf.String())
	}
}

func TestFindingsSummary(t *testing.T) {
	tests := []struct {
		name     string
		findings engine.Findings
		want     string
	}{
		{"asn", &engine.ASNFindings{
			Networks:      map[string]engine.ASNNetwork{"example.com": {}},
			IPRanges:      []string{"1.0.0.0/24", "2.0.0.0/24"},
			Organizations: map[string]string{"13335": "CLOUDFLARENET"},
		}, "1 networks, 2 ranges, 1 organizations"},
		{"services", &engine.ServicesFindings{
			Services:  map[string]engine.ServiceStatus{"web": {}},
			Endpoints: map[string]engine.EndpointProbe{"/gateway": {}, "/voice/regions": {}},
		}, "1 services, 2 endpoints"},
		{"servers", &engine.ServersFindings{
			Directory: map[string][]engine.DirectoryEntry{"gaming": {{}, {}}, "music": {{}}},
		}, "3 listings in 2 categories"},
		{"unknown", map[string]string{"k": "v"}, "done"},
	}
	for _, tt := range tests {
		if got := findingsSummary(engine.UnitResult{Findings: tt.findings}); got != tt.want {
			t.Errorf("findingsSummary(%s) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate(short) = %q", got)
	}
	if got := truncate("abcdefghij", 8); got != "abcde..." {
		t.Errorf("truncate() = %q, want %q", got, "abcde...")
	}
}

func TestProgress(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(&buf, true, false)
	p.UnitStarted("dns")
	p.UnitDone("dns", 1500*time.Millisecond, nil)
	p.UnitDone("cdn", 2*time.Second, errors.New("boom"))
	p.Warn("something odd")
	p.Complete()
	out := buf.String()

	for _, want := range []string{
		"[*] probing dns...",
		"[+] dns completed in 1.5s",
		"[-] cdn failed after 2.0s: boom",
		"! something odd",
		"Completed in",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("progress output missing %q:\n%s", want, out)
		}
	}
}

func TestProgress_Quiet(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(&buf, false, false)
	p.UnitStarted("dns")
	if buf.Len() != 0 {
		t.Errorf("UnitStarted wrote %q without verbose", buf.String())
	}

	var silent bytes.Buffer
	sp := NewProgress(&silent, true, true)
	sp.UnitStarted("dns")
	sp.UnitDone("dns", time.Second, nil)
	sp.Warn("hidden")
	sp.Complete()
	if silent.Len() != 0 {
		t.Errorf("silent progress wrote %q", silent.String())
	}
}
