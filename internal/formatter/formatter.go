// Package formatter renders divergence records for console output, reusing
// devlongs' gas-optimization report layout (severity-colored sections,
// banner rules, gas-size abbreviation) against the DivergenceStore's
// persisted Record shape instead of the teacher's in-memory Optimization
// list.
package formatter

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fatih/color"

	"github.com/carlbeek/gas-repricer/internal/store"
)

var (
	highSeverity = color.New(color.FgRed, color.Bold)
	warnSeverity = color.New(color.FgYellow, color.Bold)
	lowSeverity  = color.New(color.FgCyan)
	successColor = color.New(color.FgGreen, color.Bold)
	headerColor  = color.New(color.FgMagenta, color.Bold)
	infoColor    = color.New(color.FgWhite)
)

// severityFor ranks a record's worst divergence type so the summary can
// group OUT_OF_GAS/STATUS above the softer GAS_PATTERN/STATE_ROOT findings.
func severityFor(types string) string {
	switch {
	case strings.Contains(types, "OUT_OF_GAS"), strings.Contains(types, "STATUS"):
		return "high"
	case strings.Contains(types, "CALL_TREE"), strings.Contains(types, "EVENT_LOGS"):
		return "medium"
	default:
		return "low"
	}
}

// FormatSummary renders the block-range replay's divergence records the way
// the teacher's FormatOptimizations rendered a single transaction's
// optimizations: a banner and the record count, then grouped-by-severity
// sections.
func FormatSummary(records []store.Record, blockFrom, blockTo uint64) string {
	var sb strings.Builder

	sb.WriteString("\n")
	sb.WriteString(headerColor.Sprint("═══════════════════════════════════════════════════════════════\n"))
	sb.WriteString(headerColor.Sprint("              GAS REPRICER - DIVERGENCE REPORT\n"))
	sb.WriteString(headerColor.Sprint("═══════════════════════════════════════════════════════════════\n\n"))

	sb.WriteString(infoColor.Sprintf("📦 Block Range: %d - %d\n", blockFrom, blockTo))
	sb.WriteString(infoColor.Sprintf("🔍 Divergences Found: %d\n\n", len(records)))

	if len(records) == 0 {
		sb.WriteString(successColor.Sprint("✨ No behavioral divergence detected in this range!\n\n"))
		return sb.String()
	}

	var high, medium, low []store.Record
	for _, r := range records {
		switch severityFor(r.Types) {
		case "high":
			high = append(high, r)
		case "medium":
			medium = append(medium, r)
		default:
			low = append(low, r)
		}
	}

	if len(high) > 0 {
		sb.WriteString(highSeverity.Sprint("🚨 STATUS / OUT_OF_GAS DIVERGENCES\n"))
		sb.WriteString(strings.Repeat("─", 63) + "\n")
		for _, r := range high {
			sb.WriteString(formatRecord(r, highSeverity))
		}
		sb.WriteString("\n")
	}
	if len(medium) > 0 {
		sb.WriteString(warnSeverity.Sprint("⚠️  CALL_TREE / EVENT_LOGS DIVERGENCES\n"))
		sb.WriteString(strings.Repeat("─", 63) + "\n")
		for _, r := range medium {
			sb.WriteString(formatRecord(r, warnSeverity))
		}
		sb.WriteString("\n")
	}
	if len(low) > 0 {
		sb.WriteString(lowSeverity.Sprint("ℹ️  GAS_PATTERN / STATE_ROOT DIVERGENCES\n"))
		sb.WriteString(strings.Repeat("─", 63) + "\n")
		for _, r := range low {
			sb.WriteString(formatRecord(r, lowSeverity))
		}
		sb.WriteString("\n")
	}

	sb.WriteString(headerColor.Sprint("═══════════════════════════════════════════════════════════════\n\n"))
	return sb.String()
}

func formatRecord(r store.Record, severityColor *color.Color) string {
	var sb strings.Builder
	sb.WriteString(severityColor.Sprintf("\nblock %d tx %d: %s\n", r.BlockNumber, r.TxIndex, r.Types))
	sb.WriteString(fmt.Sprintf("   gas: normal=%s experimental=%s ratio=%.3f\n",
		formatGas(r.NormalGasUsed), formatGas(r.ExperimentalGasUsed), r.GasEfficiencyRatio))
	return sb.String()
}

// FormatTypeBreakdown tallies how many records in the range carry each
// DivergenceType, sorted by descending count, for a quick "what kind of
// divergence dominates this range" glance.
func FormatTypeBreakdown(counts map[string]int) string {
	var sb strings.Builder
	sb.WriteString(headerColor.Sprint("\nDIVERGENCE TYPE BREAKDOWN\n"))
	sb.WriteString(strings.Repeat("─", 40) + "\n")

	type entry struct {
		typ   string
		count int
	}
	entries := make([]entry, 0, len(counts))
	for t, c := range counts {
		entries = append(entries, entry{t, c})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].count > entries[j].count })

	for _, e := range entries {
		sb.WriteString(infoColor.Sprintf("%-20s %6d\n", e.typ, e.count))
	}
	return sb.String()
}

func formatGas(gas uint64) string {
	switch {
	case gas >= 1_000_000:
		return fmt.Sprintf("%.2fM", float64(gas)/1_000_000)
	case gas >= 1_000:
		return fmt.Sprintf("%.2fK", float64(gas)/1_000)
	default:
		return fmt.Sprintf("%d", gas)
	}
}
