package cli

import (
	"crypto/x509"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/jnlpguard/internal/broker"
	"github.com/ppiankov/jnlpguard/internal/model"
	"github.com/ppiankov/jnlpguard/internal/truststore"
)

// requestFlags describes one authorization request on the command line.
type requestFlags struct {
	title    string
	vendor   string
	codebase string
	location string
	signer   string

	path      string
	host      string
	port      int
	realm     string
	urls      []string
	allowed   string
	certFiles []string
}

func (r *requestFlags) bind(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&r.title, "title", "", "Application title")
	fs.StringVar(&r.vendor, "vendor", "", "Application vendor")
	fs.StringVar(&r.codebase, "codebase", "", "Application codebase URL")
	fs.StringVar(&r.location, "location", "", "Descriptor URL (JNLP href or document base)")
	fs.StringVar(&r.signer, "signer", "", "PEM file with the signing certificate")
	fs.StringVar(&r.path, "path", "", "File path for file-read and file-write")
	fs.StringVar(&r.host, "host", "", "Target host for network-connect and credential-prompt")
	fs.IntVar(&r.port, "port", 0, "Target port")
	fs.StringVar(&r.realm, "realm", "", "Authentication realm for credential-prompt")
	fs.StringArrayVar(&r.urls, "url", nil, "Resource URL checked against allowable codebases (repeatable)")
	fs.StringVar(&r.allowed, "allowed-codebases", "", "Space separated allowable codebase patterns")
	fs.StringArrayVar(&r.certFiles, "cert", nil, "PEM file with certificates offered by the request (repeatable)")
}

func (r *requestFlags) build(kindName string) (*model.Request, error) {
	kind, err := model.ParseKind(kindName)
	if err != nil {
		return nil, err
	}

	var subject *model.Subject
	if r.codebase != "" || r.title != "" || r.location != "" {
		subject = &model.Subject{
			Title:    r.title,
			Vendor:   r.vendor,
			Location: r.location,
			Codebase: r.codebase,
		}
		if r.signer != "" {
			certs, err := readCerts(r.signer)
			if err != nil {
				return nil, err
			}
			subject.Signer = certs[0]
		}
	}
	if subject == nil && !kind.Subjectless() {
		return nil, fmt.Errorf("%s needs --codebase or --title", kind)
	}

	params := model.Params{
		Path:             r.path,
		Host:             r.host,
		Port:             r.port,
		Realm:            r.realm,
		URLs:             r.urls,
		AllowedCodebases: r.allowed,
	}
	for _, f := range r.certFiles {
		certs, err := readCerts(f)
		if err != nil {
			return nil, err
		}
		params.Certificates = append(params.Certificates, certs...)
	}
	return model.NewRequest(kind, subject, params), nil
}

func readCerts(path string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read certificate: %w", err)
	}
	certs, err := truststore.ParsePEM(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("%s: no certificates found", path)
	}
	return certs, nil
}

// printResult writes the decision the way the headless protocol would
// encode it, followed by how it was reached.
func printResult(r broker.Result) {
	fmt.Println(r.Decision.Encode())
	line := fmt.Sprintf("%s by %s", grantWord(r), r.ResolvedBy)
	if r.Remember != model.RememberNone {
		line += fmt.Sprintf(", remembered for %s", r.Remember)
	}
	if r.Reason != "" {
		line += ": " + r.Reason
	}
	fmt.Fprintln(os.Stderr, strings.TrimSpace(line))
}

func grantWord(r broker.Result) string {
	if r.Granted() {
		return "granted"
	}
	return "refused"
}
