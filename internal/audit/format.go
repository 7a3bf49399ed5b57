package audit

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

const separator = "──────────────────────────────────────────────────────────────────"

// FormatTimeline renders a Result as a human-readable text timeline.
func FormatTimeline(result *Result) string {
	if len(result.Entries) == 0 {
		return "No decisions found.\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Decisions %s to %s UTC\n",
		formatDateTime(result.Summary.FirstTimestamp), formatDateTime(result.Summary.LastTimestamp))
	b.WriteString(separator + "\n")

	for _, e := range result.Entries {
		subject := "-"
		if e.Subject != nil {
			subject = e.Subject.Title
			if subject == "" {
				subject = e.Origin
			}
		}
		tag := ""
		if e.Remember != "" {
			tag = "  [remember " + e.Remember + "]"
		}
		fmt.Fprintf(&b, "%-10s %-20s %-24s %-18s %-24s%s\n",
			formatTimeOnly(e.Timestamp),
			truncate(e.Kind, 20),
			truncate(e.Decision, 24),
			truncate(e.ResolvedBy, 18),
			truncate(subject, 24),
			tag)
	}

	b.WriteString(separator + "\n")
	b.WriteString(formatSummary(result.Summary))
	return b.String()
}

// FormatJSON renders a Result as indented JSON.
func FormatJSON(result *Result) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal audit result: %w", err)
	}
	return string(data), nil
}

func formatDateTime(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("2006-01-02 15:04:05")
}

func formatTimeOnly(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("15:04:05")
}

func formatSummary(s Summary) string {
	sources := make([]string, 0, len(s.BySource))
	for src := range s.BySource {
		sources = append(sources, src)
	}
	sort.Strings(sources)
	parts := make([]string, 0, len(sources))
	for _, src := range sources {
		parts = append(parts, fmt.Sprintf("%d %s", s.BySource[src], src))
	}
	return fmt.Sprintf("Summary: %d granted, %d refused, %d remembered | %s\n",
		s.Granted, s.Refused, s.Remembered, strings.Join(parts, ", "))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
