package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedDecision is returned when a token does not encode a decision
// of the expected shape.
var ErrMalformedDecision = errors.New("malformed decision")

// Decision is the answer to a Request. Each Shape has its own concrete type.
type Decision interface {
	Shape() Shape
	// Encode returns the token form accepted back by ParseDecision.
	Encode() string
	// String returns a display form with secrets redacted.
	String() string
	// Positive reports whether the decision grants what was asked.
	Positive() bool
}

// Choice is one answer from a fixed vocabulary.
type Choice string

const (
	ChoiceYes     Choice = "YES"
	ChoiceNo      Choice = "NO"
	ChoiceSandbox Choice = "SANDBOX"
	ChoiceCancel  Choice = "CANCEL"
	ChoiceSkip    Choice = "SKIP"
)

// YesNo is a plain accept/reject answer.
type YesNo struct{ Choice Choice }

func (d YesNo) Shape() Shape { return ShapeYesNo }
func (d YesNo) Encode() string { return string(d.Choice) }
func (d YesNo) String() string { return d.Encode() }
func (d YesNo) Positive() bool { return d.Choice == ChoiceYes }

// YesNoSandbox is accept, reject, or run with sandbox permissions only.
type YesNoSandbox struct{ Choice Choice }

func (d YesNoSandbox) Shape() Shape { return ShapeYesNoSandbox }
func (d YesNoSandbox) Encode() string { return string(d.Choice) }
func (d YesNoSandbox) String() string { return d.Encode() }
func (d YesNoSandbox) Positive() bool { return d.Choice == ChoiceYes }

// YesCancelSkip is accept, reject, cancel the launch, or skip the check.
type YesCancelSkip struct{ Choice Choice }

func (d YesCancelSkip) Shape() Shape { return ShapeYesCancelSkip }
func (d YesCancelSkip) Encode() string { return string(d.Choice) }
func (d YesCancelSkip) String() string { return d.Encode() }
func (d YesCancelSkip) Positive() bool { return d.Choice == ChoiceYes }

// CertIndex selects one of the offered client certificates; -1 selects none.
type CertIndex struct{ Index int }

func (d CertIndex) Shape() Shape { return ShapeCertIndex }
func (d CertIndex) Encode() string { return strconv.Itoa(d.Index) }
func (d CertIndex) String() string { return d.Encode() }
func (d CertIndex) Positive() bool { return d.Index >= 0 }

// Credentials is a user name and password pair, or a cancelled prompt.
type Credentials struct {
	User      string
	Password  string
	Cancelled bool
}

func (d Credentials) Shape() Shape { return ShapeCredentials }

func (d Credentials) Encode() string {
	if d.Cancelled {
		return string(ChoiceCancel)
	}
	return d.User + " " + d.Password
}

func (d Credentials) String() string {
	if d.Cancelled {
		return string(ChoiceCancel)
	}
	return d.User + " ****"
}

func (d Credentials) Positive() bool { return !d.Cancelled }

// ShortcutTech is the technology used for a created shortcut.
type ShortcutTech string

const (
	TechGenerated ShortcutTech = "generated"
	TechJNLP      ShortcutTech = "jnlp"
	TechJNLPHref  ShortcutTech = "jnlp_href"
	TechBrowser   ShortcutTech = "browser"
)

var shortcutTechs = []ShortcutTech{TechGenerated, TechJNLP, TechJNLPHref, TechBrowser}

// Shortcut answers a shortcut-creation request. An empty placement tech
// means no shortcut is created there.
type Shortcut struct {
	Create  bool
	Desktop ShortcutTech
	Menu    ShortcutTech
}

func (d Shortcut) Shape() Shape { return ShapeShortcut }

func (d Shortcut) Encode() string {
	if !d.Create {
		return string(ChoiceNo)
	}
	parts := []string{string(ChoiceYes)}
	if d.Desktop != "" {
		parts = append(parts, "desktop="+string(d.Desktop))
	}
	if d.Menu != "" {
		parts = append(parts, "menu="+string(d.Menu))
	}
	return strings.Join(parts, " ")
}

func (d Shortcut) String() string { return d.Encode() }
func (d Shortcut) Positive() bool { return d.Create }

// Info acknowledges an informational prompt.
type Info struct{}

func (Info) Shape() Shape { return ShapeInfo }
func (Info) Encode() string { return "OK" }
func (Info) String() string { return "OK" }
func (Info) Positive() bool { return true }

var shapeChoices = map[Shape][]Choice{
	ShapeYesNo:         {ChoiceYes, ChoiceNo},
	ShapeYesNoSandbox:  {ChoiceYes, ChoiceNo, ChoiceSandbox},
	ShapeYesCancelSkip: {ChoiceYes, ChoiceNo, ChoiceCancel, ChoiceSkip},
}

// Allowed returns the token vocabulary for a shape, for prompt hints.
func Allowed(shape Shape) []string {
	switch shape {
	case ShapeCertIndex:
		return []string{"<index>", "-1"}
	case ShapeCredentials:
		return []string{"<user> <password>", string(ChoiceCancel)}
	case ShapeShortcut:
		techs := make([]string, len(shortcutTechs))
		for i, t := range shortcutTechs {
			techs[i] = string(t)
		}
		return []string{
			string(ChoiceNo),
			string(ChoiceYes) + " [desktop=<tech>] [menu=<tech>] (tech: " + strings.Join(techs, "|") + ")",
		}
	case ShapeInfo:
		return []string{"OK"}
	}
	choices := shapeChoices[shape]
	out := make([]string, len(choices))
	for i, c := range choices {
		out[i] = string(c)
	}
	return out
}

// ParseDecision decodes a token into a decision of the given shape.
func ParseDecision(shape Shape, token string) (Decision, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: empty input", ErrMalformedDecision)
	}

	switch shape {
	case ShapeYesNo, ShapeYesNoSandbox, ShapeYesCancelSkip:
		c, err := parseChoice(shape, token)
		if err != nil {
			return nil, err
		}
		switch shape {
		case ShapeYesNo:
			return YesNo{Choice: c}, nil
		case ShapeYesNoSandbox:
			return YesNoSandbox{Choice: c}, nil
		default:
			return YesCancelSkip{Choice: c}, nil
		}

	case ShapeCertIndex:
		n, err := strconv.Atoi(token)
		if err != nil || n < -1 {
			return nil, fmt.Errorf("%w: %q is not a certificate index", ErrMalformedDecision, token)
		}
		return CertIndex{Index: n}, nil

	case ShapeCredentials:
		if strings.EqualFold(token, string(ChoiceCancel)) {
			return Credentials{Cancelled: true}, nil
		}
		user, password, ok := strings.Cut(token, " ")
		if !ok || user == "" {
			return nil, fmt.Errorf("%w: expected \"<user> <password>\"", ErrMalformedDecision)
		}
		return Credentials{User: user, Password: strings.TrimSpace(password)}, nil

	case ShapeShortcut:
		return parseShortcut(token)

	case ShapeInfo:
		if !strings.EqualFold(token, "OK") {
			return nil, fmt.Errorf("%w: expected OK", ErrMalformedDecision)
		}
		return Info{}, nil
	}
	return nil, fmt.Errorf("%w: unknown shape %s", ErrMalformedDecision, shape)
}

func parseChoice(shape Shape, token string) (Choice, error) {
	up := strings.ToUpper(token)
	for _, c := range shapeChoices[shape] {
		if up == string(c) || (len(up) == 1 && up[0] == string(c)[0] && c != ChoiceSkip && c != ChoiceSandbox) {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q not in %v", ErrMalformedDecision, token, Allowed(shape))
}

func parseShortcut(token string) (Decision, error) {
	fields := strings.Fields(token)
	head := strings.ToUpper(fields[0])
	switch head {
	case string(ChoiceNo):
		if len(fields) > 1 {
			return nil, fmt.Errorf("%w: NO takes no placements", ErrMalformedDecision)
		}
		return Shortcut{}, nil
	case string(ChoiceYes):
	default:
		return nil, fmt.Errorf("%w: shortcut answer must start with YES or NO", ErrMalformedDecision)
	}

	d := Shortcut{Create: true}
	if len(fields) == 1 {
		d.Desktop, d.Menu = TechGenerated, TechGenerated
		return d, nil
	}
	for _, f := range fields[1:] {
		key, val, ok := strings.Cut(f, "=")
		if !ok {
			return nil, fmt.Errorf("%w: placement %q is not key=tech", ErrMalformedDecision, f)
		}
		tech, err := parseTech(val)
		if err != nil {
			return nil, err
		}
		switch strings.ToLower(key) {
		case "desktop":
			d.Desktop = tech
		case "menu":
			d.Menu = tech
		default:
			return nil, fmt.Errorf("%w: unknown placement %q", ErrMalformedDecision, key)
		}
	}
	return d, nil
}

func parseTech(s string) (ShortcutTech, error) {
	for _, t := range shortcutTechs {
		if strings.EqualFold(s, string(t)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: unknown shortcut tech %q", ErrMalformedDecision, s)
}

// DefaultNegative is the answer used when no human input is obtainable and
// the request must be refused.
func DefaultNegative(k Kind) Decision {
	switch k {
	case KindCertificateTrust:
		return YesNoSandbox{Choice: ChoiceSandbox}
	case KindMissingPermissions:
		return YesCancelSkip{Choice: ChoiceCancel}
	}
	switch k.Shape() {
	case ShapeYesNoSandbox:
		return YesNoSandbox{Choice: ChoiceNo}
	case ShapeYesCancelSkip:
		return YesCancelSkip{Choice: ChoiceNo}
	case ShapeCertIndex:
		return CertIndex{Index: -1}
	case ShapeCredentials:
		return Credentials{Cancelled: true}
	case ShapeShortcut:
		return Shortcut{}
	case ShapeInfo:
		return Info{}
	}
	return YesNo{Choice: ChoiceNo}
}

// DefaultPositive is the answer used when automated policy trusts everything.
func DefaultPositive(k Kind) Decision {
	switch k.Shape() {
	case ShapeYesNoSandbox:
		return YesNoSandbox{Choice: ChoiceYes}
	case ShapeYesCancelSkip:
		return YesCancelSkip{Choice: ChoiceYes}
	case ShapeCertIndex:
		return CertIndex{Index: 0}
	case ShapeCredentials:
		// there is nothing to fill a credential prompt with
		return Credentials{Cancelled: true}
	case ShapeShortcut:
		return Shortcut{Create: true, Desktop: TechGenerated, Menu: TechGenerated}
	case ShapeInfo:
		return Info{}
	}
	return YesNo{Choice: ChoiceYes}
}
