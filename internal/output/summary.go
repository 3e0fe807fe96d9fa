package output

import (
	"fmt"
	"io"
	"sort"

	"github.com/openrecon/surface/internal/engine"
)

// Version is set via ldflags at build time.
var Version = "dev"

// WriteHeader prints the surface banner.
func WriteHeader(w io.Writer, noColor bool) {
	if noColor {
		fmt.Fprintf(w, "surface %s\n\n", Version)
	} else {
		fmt.Fprintf(w, "\033[1msurface %s\033[0m\n\n", Version)
	}
}

// WriteSummary prints the post-run summary with the signals worth acting on.
func WriteSummary(w io.Writer, report *engine.Report, noColor bool) {
	succeeded, failed := 0, 0
	for _, r := range report.Results {
		if r.Failed() {
			failed++
		} else {
			succeeded++
		}
	}

	fmt.Fprintln(w)
	if noColor {
		fmt.Fprintf(w, "Target: %s\n", report.Metadata.Target)
		fmt.Fprintf(w, "Mode: %s\n", report.Metadata.Mode)
	} else {
		fmt.Fprintf(w, "\033[1mTarget:\033[0m %s\n", report.Metadata.Target)
		fmt.Fprintf(w, "\033[1mMode:\033[0m %s\n", report.Metadata.Mode)
	}
	fmt.Fprintf(w, "Units: %d succeeded, %d failed (%.1fs total)\n",
		succeeded, failed, report.Metadata.TotalExecutionTime)

	if dns, ok := report.Results["dns"].Findings.(*engine.DNSFindings); ok {
		open := 0
		for _, zt := range dns.ZoneTransfers {
			if zt.Success {
				open++
			}
		}
		if open > 0 {
			fmt.Fprintln(w)
			warn(w, noColor, fmt.Sprintf("Zone transfer enabled (%d of %d nameservers vulnerable)", open, len(dns.ZoneTransfers)))
			for _, zt := range dns.ZoneTransfers {
				if zt.Success {
					fmt.Fprintf(w, "  %s (%d records)\n", zt.Nameserver, zt.Records)
				}
			}
		}
	}

	if cdn, ok := report.Results["cdn"].Findings.(*engine.CDNFindings); ok {
		if len(cdn.Vulnerable) > 0 {
			fmt.Fprintln(w)
			warn(w, noColor, fmt.Sprintf("%d responses disclose cache internals", len(cdn.Vulnerable)))
		}
		if len(cdn.Interesting) > 0 {
			fmt.Fprintf(w, "  %d fuzzed paths answered unexpectedly\n", len(cdn.Interesting))
		}
	}

	if failed > 0 {
		fmt.Fprintln(w)
		for _, name := range sortedResultNames(report) {
			if r := report.Results[name]; r.Failed() {
				warn(w, noColor, fmt.Sprintf("%s: %s", name, r.Err))
			}
		}
	}
}

func warn(w io.Writer, noColor bool, msg string) {
	if noColor {
		fmt.Fprintf(w, "! %s\n", msg)
	} else {
		fmt.Fprintf(w, "\033[33m!\033[0m %s\n", msg)
	}
}

func sortedResultNames(report *engine.Report) []string {
	names := make([]string, 0, len(report.Results))
	for name := range report.Results {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
