package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// VerifyResult holds the outcome of a hash chain verification.
type VerifyResult struct {
	Valid     bool   `json:"valid"`
	Lines     int    `json:"lines"`
	Granted   int    `json:"granted"`
	Refused   int    `json:"refused"`
	Head      string `json:"head,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorLine int    `json:"error_line,omitempty"`
}

// Verify walks a decision log, checking that every entry chains to the
// line before it, and counts granted and refused decisions. It stops at
// the first broken link. Head is the hash of the last verified line.
func Verify(path string) VerifyResult {
	f, err := os.Open(path)
	if err != nil {
		return VerifyResult{Error: fmt.Sprintf("open: %v", err)}
	}
	defer f.Close()

	res := VerifyResult{Head: GenesisHash}
	broken := func(format string, args ...any) VerifyResult {
		return VerifyResult{Lines: res.Lines, Error: fmt.Sprintf(format, args...), ErrorLine: res.Lines}
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		res.Lines++
		line := scanner.Bytes()

		var entry AuditEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return broken("parse error: %v", err)
		}
		if entry.PrevHash != res.Head {
			if res.Lines == 1 {
				return broken("first entry prev_hash is %q, expected genesis hash", entry.PrevHash)
			}
			return broken("hash mismatch: expected %s, got %s", res.Head, entry.PrevHash)
		}
		// hash now, the scanner reuses its buffer
		res.Head = HashLine(line)

		if entry.Granted {
			res.Granted++
		} else {
			res.Refused++
		}
	}
	if err := scanner.Err(); err != nil {
		return VerifyResult{Error: fmt.Sprintf("scan: %v", err)}
	}

	res.Valid = true
	return res
}
