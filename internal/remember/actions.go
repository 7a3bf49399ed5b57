package remember

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ppiankov/jnlpguard/internal/model"
)

// Action is the one-letter verdict stored for a decision class.
type Action byte

const (
	ActionAlways Action = 'A' // remembered, positive
	ActionNever  Action = 'N' // remembered, negative
	ActionYes    Action = 'y' // answered once, positive
	ActionNo     Action = 'n' // answered once, negative
)

// ActionFor maps an answered decision to its stored letter.
func ActionFor(d model.Decision, remembered bool) Action {
	switch {
	case remembered && d.Positive():
		return ActionAlways
	case remembered:
		return ActionNever
	case d.Positive():
		return ActionYes
	}
	return ActionNo
}

// Remembered reports whether the action should answer later requests.
func (a Action) Remembered() bool {
	return a == ActionAlways || a == ActionNever
}

func (a Action) String() string {
	switch a {
	case ActionAlways:
		return "always"
	case ActionNever:
		return "never"
	case ActionYes:
		return "yes"
	case ActionNo:
		return "no"
	}
	return "unknown"
}

// ParseAction accepts the names produced by String or the stored letter.
func ParseAction(s string) (Action, error) {
	for _, a := range []Action{ActionAlways, ActionNever, ActionYes, ActionNo} {
		if s == a.String() || s == string(rune(a)) {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown remembered action %q", s)
}

func validAction(b byte) bool {
	switch Action(b) {
	case ActionAlways, ActionNever, ActionYes, ActionNo:
		return true
	}
	return false
}

// SavedAction is the stored verdict and the encoded decision it replays.
type SavedAction struct {
	Action Action
	Value  string
}

// Actions holds one saved action per decision class for a single subject.
type Actions map[model.Kind]SavedAction

// ParseActions decodes "kind:A{value};kind:N{value};". Unknown kinds and
// malformed segments are skipped.
func ParseActions(s string) Actions {
	out := Actions{}
	for _, seg := range strings.Split(strings.TrimSpace(s), "};") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		seg = strings.TrimSuffix(seg, "}")
		colon := strings.Index(seg, ":")
		brace := strings.Index(seg, "{")
		if colon < 0 || brace < 0 || brace != colon+2 {
			continue
		}
		kind := model.Kind(seg[:colon])
		if !kind.Valid() || !validAction(seg[colon+1]) {
			continue
		}
		out[kind] = SavedAction{Action: Action(seg[colon+1]), Value: seg[brace+1:]}
	}
	return out
}

// String encodes the actions in kind order.
func (a Actions) String() string {
	kinds := make([]string, 0, len(a))
	for k := range a {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)

	var sb strings.Builder
	for _, k := range kinds {
		sa := a[model.Kind(k)]
		sb.WriteString(k)
		sb.WriteByte(':')
		sb.WriteByte(byte(sa.Action))
		sb.WriteByte('{')
		sb.WriteString(sa.Value)
		sb.WriteString("};")
	}
	return sb.String()
}

func (a Actions) clone() Actions {
	c := make(Actions, len(a))
	for k, v := range a {
		c[k] = v
	}
	return c
}
