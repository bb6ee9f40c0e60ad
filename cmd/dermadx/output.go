package main

import (
	"fmt"
	"io"
	"os"

	"github.com/kalambet/dermadx/internal/diagnosis"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

func formatConfidence(c *float64) string {
	if c == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.0f%%", *c*100)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// writeRecord renders a record for humans.
func writeRecord(w io.Writer, rec diagnosis.Record) {
	fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "Diagnosis:"), rec.Diagnosis)
	if rec.DiagnosisCode != "" {
		fmt.Fprintf(w, "  Code:        %s\n", rec.DiagnosisCode)
	}
	fmt.Fprintf(w, "  Confidence:  %s\n", formatConfidence(rec.ConfidenceScore))
	if s := rec.SummaryText(); s != "" {
		fmt.Fprintf(w, "  Summary:     %s\n", s)
	}
	if len(rec.SimilarConditions) > 0 {
		fmt.Fprintln(w, "  Similar:")
		for _, s := range rec.SimilarConditions {
			score := "-"
			if s.RawScore != nil {
				score = fmt.Sprintf("%g", *s.RawScore)
			}
			fmt.Fprintf(w, "    - %s (%s)\n", s.Name, score)
		}
	}
	fmt.Fprintf(w, "  Advice:      %s\n", rec.Recommendations)
	if rec.Notes != "" {
		fmt.Fprintf(w, "  Notes:       %s\n", rec.Notes)
	}
	fmt.Fprintf(w, "  %s\n", colorize(colorCyan, fmt.Sprintf("%s  %s via %s (%s)",
		rec.ID, rec.CreatedAt.Format("2006-01-02 15:04"), rec.Metadata.ProviderID, rec.Metadata.ParseStatus)))
}
