package headless

import (
	"context"
	"crypto/x509"
	"fmt"
	"strconv"
	"strings"

	"github.com/ppiankov/jnlpguard/internal/hostcheck"
	"github.com/ppiankov/jnlpguard/internal/model"
)

// Describe renders the prompt text for req. Network targets are
// annotated with their addresses when r is non-nil.
func Describe(ctx context.Context, req *model.Request, r *hostcheck.Resolver) string {
	p := req.Params()
	who := "The application"
	if s, ok := req.Subject(); ok {
		who = applicationName(s)
	}

	switch req.Kind() {
	case model.KindFileRead:
		return fmt.Sprintf("%s wants to read %s.", who, orAny(p.Path, "a file"))
	case model.KindFileWrite:
		return fmt.Sprintf("%s wants to write %s.", who, orAny(p.Path, "a file"))
	case model.KindNetworkConnect:
		return fmt.Sprintf("%s wants to connect to %s.", who, target(ctx, r, p.Host, p.Port))
	case model.KindClipboardRead:
		return fmt.Sprintf("%s wants to read the clipboard.", who)
	case model.KindClipboardWrite:
		return fmt.Sprintf("%s wants to write to the clipboard.", who)
	case model.KindPrinter:
		return fmt.Sprintf("%s wants to print.", who)
	case model.KindShortcutCreate:
		return fmt.Sprintf("%s wants to create shortcuts.", who)
	case model.KindCertificateTrust:
		return fmt.Sprintf("%s is signed by %s. Trust this publisher? SANDBOX runs it without extra permissions.",
			who, signerName(req.TrustCandidates()))
	case model.KindPartiallySignedRun:
		return fmt.Sprintf("%s is only partially signed. Run it anyway?", who)
	case model.KindUnsignedRun:
		return fmt.Sprintf("%s is not signed. Run it anyway?", who)
	case model.KindClientCertSelect:
		return "Choose a client certificate:\n" + certList(p.Certificates)
	case model.KindCredentialPrompt:
		return fmt.Sprintf("%s requests credentials for realm %q at %s.", who, p.Realm, target(ctx, r, p.Host, p.Port))
	case model.KindPolicy511:
		return fmt.Sprintf("%s was sent to a network login page (HTTP 511). Continue?", who)
	case model.KindMissingPermissions:
		return fmt.Sprintf("%s does not declare a Permissions manifest attribute. Run it?", who)
	case model.KindMissingALACA:
		return fmt.Sprintf("%s loads resources from %s without an Application-Library-Allowable-Codebase attribute. Allow?",
			who, strings.Join(p.URLs, ", "))
	case model.KindMatchingALACA:
		return fmt.Sprintf("%s loads resources from %s, allowed by %q. Allow?",
			who, strings.Join(p.URLs, ", "), p.AllowedCodebases)
	case model.KindSingleCertInfo:
		return "Certificate details:\n" + certList(p.Certificates)
	}
	return fmt.Sprintf("%s requests %s.", who, req.Kind())
}

func applicationName(s model.Subject) string {
	name := s.Title
	if name == "" {
		name = "An application"
	}
	if s.Vendor != "" {
		name += " by " + s.Vendor
	}
	if s.Codebase != "" {
		name += " (" + s.Codebase + ")"
	}
	return name
}

func target(ctx context.Context, r *hostcheck.Resolver, host string, port int) string {
	if host == "" {
		return "an unknown host"
	}
	out := host
	if r != nil {
		out = r.Annotate(ctx, host)
	}
	if port > 0 {
		out += " port " + strconv.Itoa(port)
	}
	return out
}

func signerName(certs []*x509.Certificate) string {
	if len(certs) == 0 {
		return "an unknown publisher"
	}
	return certs[0].Subject.String()
}

func certList(certs []*x509.Certificate) string {
	if len(certs) == 0 {
		return "  (none)"
	}
	var b strings.Builder
	for i, c := range certs {
		fmt.Fprintf(&b, "  %d: %s (issued by %s, expires %s)\n",
			i, c.Subject.String(), c.Issuer.String(), c.NotAfter.Format("2006-01-02"))
	}
	return strings.TrimRight(b.String(), "\n")
}

func orAny(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
