package model

import "fmt"

// RememberScope is how widely a human answer is cached.
type RememberScope int

const (
	RememberNone RememberScope = iota
	RememberApplication
	RememberOrigin
)

func (s RememberScope) String() string {
	switch s {
	case RememberApplication:
		return "application"
	case RememberOrigin:
		return "origin"
	}
	return "none"
}

// ParseRememberScope accepts the names produced by String.
func ParseRememberScope(s string) (RememberScope, error) {
	switch s {
	case "", "none":
		return RememberNone, nil
	case "application", "app":
		return RememberApplication, nil
	case "origin", "codebase":
		return RememberOrigin, nil
	}
	return RememberNone, fmt.Errorf("unknown remember scope %q", s)
}

// Answer is what a presenter returns: the chosen decision and whether to
// remember it.
type Answer struct {
	Decision Decision
	Remember RememberScope
}

// Source records which arbitration step produced a decision.
type Source string

const (
	SourceTrustNone      Source = "trust-none"
	SourceTrustAll       Source = "trust-all"
	SourceWhitelist      Source = "whitelist"
	SourceCodebase       Source = "allowed-codebases"
	SourceRemembered     Source = "remembered"
	SourcePromptDisabled Source = "prompt-disabled"
	SourceInteractive    Source = "interactive"
	SourceHeadless       Source = "headless"
	SourceFailure        Source = "failure"
	SourceStopped        Source = "stopped"
)
