package audit

import (
	"time"

	"github.com/ppiankov/jnlpguard/internal/model"
)

// TimestampFormat is the layout used in audit entry timestamps.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// AuditSubject is the application identity recorded with a decision.
type AuditSubject struct {
	Title    string `json:"title"`
	Vendor   string `json:"vendor,omitempty"`
	Location string `json:"location,omitempty"`
	Codebase string `json:"codebase"`
}

// AuditEntry is one line in the hash-chained JSONL audit log.
// All fields are structs (no map[string]any) to guarantee deterministic
// json.Marshal field order for reproducible hashing.
type AuditEntry struct {
	Timestamp  string        `json:"ts"`
	RequestID  string        `json:"request_id"`
	Kind       string        `json:"kind"`
	Subject    *AuditSubject `json:"subject,omitempty"`
	Origin     string        `json:"origin,omitempty"`
	Decision   string        `json:"decision"`
	Granted    bool          `json:"granted"`
	ResolvedBy string        `json:"resolved_by"`
	Remember   string        `json:"remember,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	PolicyHash string        `json:"policy_hash"`
	PrevHash   string        `json:"prev_hash"`
}

// NewEntry describes one resolution. The decision is stored in its
// display form so secrets never reach the log.
func NewEntry(req *model.Request, d model.Decision, by model.Source, remember model.RememberScope, reason, policyHash string) AuditEntry {
	e := AuditEntry{
		Timestamp:  time.Now().UTC().Format(TimestampFormat),
		RequestID:  req.ID(),
		Kind:       string(req.Kind()),
		Decision:   d.String(),
		Granted:    d.Positive(),
		ResolvedBy: string(by),
		Reason:     reason,
		PolicyHash: policyHash,
	}
	if remember != model.RememberNone {
		e.Remember = remember.String()
	}
	if s, ok := req.Subject(); ok {
		e.Subject = &AuditSubject{
			Title:    s.Title,
			Vendor:   s.Vendor,
			Location: s.Location,
			Codebase: s.Codebase,
		}
		e.Origin = s.OriginKey()
	}
	return e
}
