// Package truststore persists certificates an operator chose to trust
// permanently. The broker only appends; certificate validation happens
// elsewhere.
package truststore

import (
	"bytes"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Sink receives certificates to trust.
type Sink interface {
	Add(cert *x509.Certificate) error
}

// PEMFile is a Sink backed by a file of concatenated PEM certificates.
type PEMFile struct {
	path string
	mu   sync.Mutex
}

// Open returns a PEMFile at path, creating its directory.
func Open(path string) (*PEMFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("cannot create truststore directory: %w", err)
	}
	return &PEMFile{path: path}, nil
}

// Path returns the backing file.
func (f *PEMFile) Path() string { return f.path }

// Fingerprint returns the SHA-256 of the certificate's DER encoding.
func Fingerprint(cert *x509.Certificate) string {
	h := sha256.Sum256(cert.Raw)
	return "sha256:" + hex.EncodeToString(h[:])
}

// Add appends cert unless a certificate with the same fingerprint is
// already present.
func (f *PEMFile) Add(cert *x509.Certificate) error {
	if cert == nil || len(cert.Raw) == 0 {
		return errors.New("truststore: empty certificate")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	data, certs, err := f.load()
	if err != nil {
		return err
	}
	fp := Fingerprint(cert)
	for _, c := range certs {
		if Fingerprint(c) == fp {
			return nil
		}
	}

	var buf bytes.Buffer
	buf.Write(data)
	if err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw}); err != nil {
		return fmt.Errorf("encode certificate: %w", err)
	}
	return f.writeAtomic(buf.Bytes())
}

// Certificates returns every stored certificate. A missing file is empty.
func (f *PEMFile) Certificates() ([]*x509.Certificate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, certs, err := f.load()
	return certs, err
}

// Contains reports whether cert is stored.
func (f *PEMFile) Contains(cert *x509.Certificate) (bool, error) {
	certs, err := f.Certificates()
	if err != nil {
		return false, err
	}
	fp := Fingerprint(cert)
	for _, c := range certs {
		if Fingerprint(c) == fp {
			return true, nil
		}
	}
	return false, nil
}

func (f *PEMFile) load() ([]byte, []*x509.Certificate, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("read truststore: %w", err)
	}

	certs, err := ParsePEM(data)
	if err != nil {
		return nil, nil, fmt.Errorf("parse truststore: %w", err)
	}
	return data, certs, nil
}

func (f *PEMFile) writeAtomic(data []byte) error {
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

// ParsePEM decodes every CERTIFICATE block in data, skipping other
// block types.
func ParsePEM(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		c, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse certificate: %w", err)
		}
		certs = append(certs, c)
	}
	return certs, nil
}
