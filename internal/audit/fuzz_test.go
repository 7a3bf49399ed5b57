package audit

import (
	"os"
	"path/filepath"
	"testing"
)

func FuzzVerify(f *testing.F) {
	path := filepath.Join(f.TempDir(), "seed.jsonl")
	l, err := Open(path)
	if err != nil {
		f.Fatal(err)
	}
	for _, d := range []string{"YES", "NO", "SANDBOX"} {
		l.Record(AuditEntry{
			RequestID:  "req-fuzz",
			Kind:       "network-connect",
			Decision:   d,
			Granted:    d == "YES",
			ResolvedBy: "whitelist",
			PolicyHash: "sha256:seed",
		})
	}
	l.Close()
	seed, _ := os.ReadFile(path)

	f.Add(seed)
	f.Add([]byte{})
	f.Add([]byte("{\"prev_hash\":\"" + GenesisHash + "\"}\n\n"))
	f.Add([]byte(`not json`))

	f.Fuzz(func(t *testing.T, data []byte) {
		p := filepath.Join(t.TempDir(), "fuzz.jsonl")
		if err := os.WriteFile(p, data, 0600); err != nil {
			t.Fatal(err)
		}
		res := Verify(p)
		if res.Valid && res.Granted+res.Refused != res.Lines {
			t.Fatalf("counts %d+%d do not add up to %d lines", res.Granted, res.Refused, res.Lines)
		}
		Read(p, Filter{Kind: "network-connect", Last: 2})
	})
}
