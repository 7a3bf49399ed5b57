package model

import (
	"crypto/x509"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/jnlpguard/internal/codebase"
)

// Subject is the identity of the application asking for a permission.
type Subject struct {
	Title    string            `json:"title"`
	Vendor   string            `json:"vendor,omitempty"`
	Location string            `json:"location,omitempty"` // descriptor URL (JNLP href or document base)
	Codebase string            `json:"codebase"`
	Signer   *x509.Certificate `json:"-"`
}

// OriginKey identifies the codebase the application was loaded from:
// lowercased scheme and host, effective port, and base path without a
// trailing slash. Unparseable codebases fall back to the trimmed raw string.
func (s Subject) OriginKey() string {
	return NormalizeOrigin(s.Codebase)
}

// ApplicationKey identifies this exact application within its origin.
func (s Subject) ApplicationKey() string {
	loc := strings.TrimSpace(s.Location)
	if loc == "" {
		loc = "-"
	}
	return s.OriginKey() + "|" + loc + "|" + strings.TrimSpace(s.Title)
}

// NormalizeOrigin canonicalizes a codebase URL for origin comparison.
func NormalizeOrigin(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return strings.TrimRight(raw, "/")
	}
	scheme := strings.ToLower(u.Scheme)
	port := u.Port()
	if port == "" {
		port = codebase.DefaultPort(scheme)
	}
	host := strings.ToLower(u.Hostname())
	if port != "" {
		host += ":" + port
	}
	return scheme + "://" + host + strings.TrimRight(u.EscapedPath(), "/")
}

// Params carries kind-specific request data.
type Params struct {
	Path             string              // file-read, file-write
	Host             string              // network-connect, credential-prompt
	Port             int                 // network-connect, credential-prompt
	Realm            string              // credential-prompt
	Certificates     []*x509.Certificate // certificate-trust, client-cert-select, single-cert-info
	URLs             []string            // matching-alaca, missing-alaca
	AllowedCodebases string              // space separated codebase patterns
}

func (p Params) clone() Params {
	c := p
	if p.Certificates != nil {
		c.Certificates = append([]*x509.Certificate(nil), p.Certificates...)
	}
	if p.URLs != nil {
		c.URLs = append([]string(nil), p.URLs...)
	}
	return c
}

// Request is one authorization ask. It is never mutated after creation.
type Request struct {
	id        string
	kind      Kind
	subject   *Subject
	params    Params
	createdAt time.Time
}

// NewRequest builds an immutable request. subject may be nil for
// subject-less prompts.
func NewRequest(kind Kind, subject *Subject, params Params) *Request {
	r := &Request{
		id:        uuid.NewString(),
		kind:      kind,
		params:    params.clone(),
		createdAt: time.Now().UTC(),
	}
	if subject != nil {
		s := *subject
		r.subject = &s
	}
	return r
}

// NewRequestWithID is NewRequest for a request that already has an
// identifier, such as one received from a remote caller. An empty id
// gets a fresh one.
func NewRequestWithID(id string, kind Kind, subject *Subject, params Params) *Request {
	r := NewRequest(kind, subject, params)
	if id != "" {
		r.id = id
	}
	return r
}

// ID returns the request's unique identifier.
func (r *Request) ID() string { return r.id }

// Kind returns the request's decision class.
func (r *Request) Kind() Kind { return r.kind }

// CreatedAt returns when the request was built.
func (r *Request) CreatedAt() time.Time { return r.createdAt }

// Subject returns a copy of the requesting application's identity.
func (r *Request) Subject() (Subject, bool) {
	if r.subject == nil {
		return Subject{}, false
	}
	return *r.subject, true
}

// Params returns a copy of the kind-specific parameters.
func (r *Request) Params() Params { return r.params.clone() }

// TrustCandidates returns the certificates a remembered trust decision
// applies to: explicit parameters first, else the subject's signer.
func (r *Request) TrustCandidates() []*x509.Certificate {
	if len(r.params.Certificates) > 0 {
		return append([]*x509.Certificate(nil), r.params.Certificates...)
	}
	if r.subject != nil && r.subject.Signer != nil {
		return []*x509.Certificate{r.subject.Signer}
	}
	return nil
}

// DefaultPositive is the kind's default positive fitted to what was
// offered. A certificate selection with nothing to select selects none.
func (r *Request) DefaultPositive() Decision {
	if r.kind.Shape() == ShapeCertIndex && len(r.params.Certificates) == 0 {
		return CertIndex{Index: -1}
	}
	return DefaultPositive(r.kind)
}

// CheckDecision reports whether d can answer r: it must have the kind's
// shape, and a certificate index must name one of the offered certificates.
func (r *Request) CheckDecision(d Decision) error {
	if d == nil {
		return fmt.Errorf("%w: no decision", ErrMalformedDecision)
	}
	if d.Shape() != r.kind.Shape() {
		return fmt.Errorf("%w: %s answer for a %s request", ErrMalformedDecision, d.Shape(), r.kind.Shape())
	}
	if ci, ok := d.(CertIndex); ok && ci.Index >= len(r.params.Certificates) {
		if len(r.params.Certificates) == 0 {
			return fmt.Errorf("%w: no certificates offered, only -1 selects", ErrMalformedDecision)
		}
		return fmt.Errorf("%w: certificate %d not offered, choose 0-%d or -1",
			ErrMalformedDecision, ci.Index, len(r.params.Certificates)-1)
	}
	return nil
}
