package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/openrecon/surface/internal/engine"
)

var tableHeaders = []string{"Unit", "Status", "Findings", "Time"}

// WriteTable renders the per-unit results as a styled terminal table.
func WriteTable(w io.Writer, report *engine.Report, noColor bool) {
	if len(report.Results) == 0 {
		fmt.Fprintln(w, "\nNo results.")
		return
	}

	var rows [][]string
	for _, name := range sortedResultNames(report) {
		r := report.Results[name]
		status := "ok"
		summary := findingsSummary(r)
		if r.Failed() {
			status = "error"
			summary = r.Err
		}
		rows = append(rows, []string{
			name,
			status,
			truncate(summary, 60),
			fmt.Sprintf("%.1fs", report.Metadata.ExecutionTime[name]),
		})
	}

	fmt.Fprintln(w)

	if noColor {
		writeSimpleTable(w, rows)
		return
	}

	t := table.New().
		Headers(tableHeaders...).
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
			}
			return lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
		})

	for _, row := range rows {
		t.Row(row...)
	}

	fmt.Fprintln(w, t.Render())
}

// findingsSummary condenses a unit's findings into one table cell.
func findingsSummary(r engine.UnitResult) string {
	switch f := r.Findings.(type) {
	case *engine.ASNFindings:
		return fmt.Sprintf("%d networks, %d ranges, %d organizations",
			len(f.Networks), len(f.IPRanges), len(f.Organizations))
	case *engine.DNSFindings:
		records := 0
		for _, byType := range f.Records {
			for _, values := range byType {
				records += len(values)
			}
		}
		return fmt.Sprintf("%d records, %d nameservers, %d subdomains",
			records, len(f.Nameservers), len(f.Subdomains))
	case *engine.ServicesFindings:
		return fmt.Sprintf("%d services, %d endpoints", len(f.Services), len(f.Endpoints))
	case *engine.CDNFindings:
		return fmt.Sprintf("%d paths fuzzed, %d interesting, %d vulnerable",
			f.Requested, len(f.Interesting), len(f.Vulnerable))
	case *engine.ServersFindings:
		listings := 0
		for _, entries := range f.Directory {
			listings += len(entries)
		}
		return fmt.Sprintf("%d listings in %d categories", listings, len(f.Directory))
	default:
		return "done"
	}
}

func writeSimpleTable(w io.Writer, rows [][]string) {
	// Calculate column widths.
	widths := make([]int, len(tableHeaders))
	for i, h := range tableHeaders {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	// Print header.
	for i, h := range tableHeaders {
		if i > 0 {
			fmt.Fprint(w, " | ")
		}
		fmt.Fprintf(w, "%-*s", widths[i], h)
	}
	fmt.Fprintln(w)

	// Separator.
	for i, width := range widths {
		if i > 0 {
			fmt.Fprint(w, "-+-")
		}
		fmt.Fprint(w, strings.Repeat("-", width))
	}
	fmt.Fprintln(w)

	// Rows.
	for _, row := range rows {
		for i, cell := range row {
			if i > 0 {
				fmt.Fprint(w, " | ")
			}
			fmt.Fprintf(w, "%-*s", widths[i], cell)
		}
		fmt.Fprintln(w)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
