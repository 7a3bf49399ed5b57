package model

import "fmt"

// Kind is the decision class of an authorization request.
type Kind string

const (
	KindFileRead           Kind = "file-read"
	KindFileWrite          Kind = "file-write"
	KindNetworkConnect     Kind = "network-connect"
	KindClipboardRead      Kind = "clipboard-read"
	KindClipboardWrite     Kind = "clipboard-write"
	KindPrinter            Kind = "printer"
	KindShortcutCreate     Kind = "shortcut-create"
	KindCertificateTrust   Kind = "certificate-trust"
	KindPartiallySignedRun Kind = "partially-signed-run"
	KindUnsignedRun        Kind = "unsigned-run"
	KindClientCertSelect   Kind = "client-cert-select"
	KindCredentialPrompt   Kind = "credential-prompt"
	KindPolicy511          Kind = "policy-511"
	KindMissingPermissions Kind = "missing-permissions"
	KindMissingALACA       Kind = "missing-alaca"
	KindMatchingALACA      Kind = "matching-alaca"
	KindSingleCertInfo     Kind = "single-cert-info"
)

// Shape identifies the response shape a decision class is answered with.
type Shape int

const (
	ShapeYesNo Shape = iota
	ShapeYesNoSandbox
	ShapeYesCancelSkip
	ShapeCertIndex
	ShapeCredentials
	ShapeShortcut
	ShapeInfo
)

var shapeNames = map[Shape]string{
	ShapeYesNo:         "yes-no",
	ShapeYesNoSandbox:  "yes-no-sandbox",
	ShapeYesCancelSkip: "yes-cancel-skip",
	ShapeCertIndex:     "cert-index",
	ShapeCredentials:   "credentials",
	ShapeShortcut:      "shortcut",
	ShapeInfo:          "info",
}

func (s Shape) String() string {
	if n, ok := shapeNames[s]; ok {
		return n
	}
	return fmt.Sprintf("shape(%d)", int(s))
}

type kindInfo struct {
	shape        Shape
	rememberable bool
	subjectless  bool
}

var kinds = map[Kind]kindInfo{
	KindFileRead:           {shape: ShapeYesNo, rememberable: true},
	KindFileWrite:          {shape: ShapeYesNo, rememberable: true},
	KindNetworkConnect:     {shape: ShapeYesNo, rememberable: true},
	KindClipboardRead:      {shape: ShapeYesNo, rememberable: true},
	KindClipboardWrite:     {shape: ShapeYesNo, rememberable: true},
	KindPrinter:            {shape: ShapeYesNo, rememberable: true},
	KindShortcutCreate:     {shape: ShapeShortcut, rememberable: true},
	KindCertificateTrust:   {shape: ShapeYesNoSandbox, rememberable: true},
	KindPartiallySignedRun: {shape: ShapeYesNoSandbox, rememberable: true},
	KindUnsignedRun:        {shape: ShapeYesNoSandbox, rememberable: true},
	KindClientCertSelect:   {shape: ShapeCertIndex},
	KindCredentialPrompt:   {shape: ShapeCredentials},
	KindPolicy511:          {shape: ShapeYesNo},
	KindMissingPermissions: {shape: ShapeYesCancelSkip, rememberable: true},
	KindMissingALACA:       {shape: ShapeYesNo, rememberable: true},
	KindMatchingALACA:      {shape: ShapeYesNo, rememberable: true},
	KindSingleCertInfo:     {shape: ShapeInfo, subjectless: true},
}

// Kinds returns every known decision class.
func Kinds() []Kind {
	out := make([]Kind, 0, len(kinds))
	for k := range kinds {
		out = append(out, k)
	}
	return out
}

// ParseKind validates a decision class name.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown decision class %q", s)
	}
	return k, nil
}

// Valid reports whether k is a known decision class.
func (k Kind) Valid() bool {
	_, ok := kinds[k]
	return ok
}

// Shape returns the response shape for k. Unknown kinds answer yes/no.
func (k Kind) Shape() Shape {
	return kinds[k].shape
}

// Rememberable reports whether a human answer for k may be cached.
func (k Kind) Rememberable() bool {
	return kinds[k].rememberable
}

// Subjectless reports whether k is asked without an application identity.
func (k Kind) Subjectless() bool {
	return kinds[k].subjectless
}

// MutatesTrust reports whether a remembered positive answer for k writes
// to the certificate trust store.
func (k Kind) MutatesTrust() bool {
	return k == KindCertificateTrust
}

// UsesCodebaseWhitelist reports whether k carries a URL set checked
// against the application's allowable codebases.
func (k Kind) UsesCodebaseWhitelist() bool {
	return k == KindMatchingALACA || k == KindMissingALACA
}
