package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Filter selects entries from a decision log. Zero fields match anything.
type Filter struct {
	Kind      string
	Origin    string
	RequestID string
	From      time.Time
	To        time.Time
	// Last keeps only the final N matching entries when positive.
	Last int
}

// Summary counts the entries a Read returned.
type Summary struct {
	Total          int            `json:"total"`
	Granted        int            `json:"granted"`
	Refused        int            `json:"refused"`
	Remembered     int            `json:"remembered"`
	BySource       map[string]int `json:"by_source"`
	FirstTimestamp string         `json:"first_timestamp"`
	LastTimestamp  string         `json:"last_timestamp"`
}

// Result holds filtered entries and their summary.
type Result struct {
	Entries []AuditEntry `json:"entries"`
	Summary Summary      `json:"summary"`
}

// Read returns the entries of the log at path that match filter.
func Read(path string, filter Filter) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var entries []AuditEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var entry AuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue // skip malformed lines
		}
		if filter.matches(entry) {
			entries = append(entries, entry)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}

	if filter.Last > 0 && len(entries) > filter.Last {
		entries = entries[len(entries)-filter.Last:]
	}

	result := &Result{Entries: entries, Summary: Summary{BySource: map[string]int{}}}
	for _, e := range entries {
		updateSummary(&result.Summary, e)
	}
	return result, nil
}

func (f Filter) matches(e AuditEntry) bool {
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if f.Origin != "" && e.Origin != f.Origin {
		return false
	}
	if f.RequestID != "" && e.RequestID != f.RequestID {
		return false
	}
	if f.From.IsZero() && f.To.IsZero() {
		return true
	}
	ts, err := time.Parse(TimestampFormat, e.Timestamp)
	if err != nil {
		return false
	}
	if !f.From.IsZero() && ts.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && ts.After(f.To) {
		return false
	}
	return true
}

func updateSummary(s *Summary, e AuditEntry) {
	s.Total++
	if e.Granted {
		s.Granted++
	} else {
		s.Refused++
	}
	if e.Remember != "" {
		s.Remembered++
	}
	s.BySource[e.ResolvedBy]++

	if s.FirstTimestamp == "" {
		s.FirstTimestamp = e.Timestamp
	}
	s.LastTimestamp = e.Timestamp
}
