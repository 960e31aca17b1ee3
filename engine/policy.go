package engine

import (
	"fmt"
	"strings"
	"time"
)

type PolicyMode string

const (
	// PolicyStrict limits abandonment to known reasons or stale matches.
	PolicyStrict PolicyMode = "strict"
	// PolicyPermissive allows abandonment unconditionally (non-production escape hatch).
	PolicyPermissive PolicyMode = "permissive"
)

var DefaultAbandonReasons = []string{"player_request", "timeout", "inactivity"}

const DefaultAbandonMinAge = 2 * time.Hour

// AbandonPolicy decides whether an Abandon action may proceed.
type AbandonPolicy struct {
	Mode    PolicyMode
	Reasons []string
	MinAge  time.Duration
}

func StrictPolicy() AbandonPolicy {
	return AbandonPolicy{Mode: PolicyStrict, Reasons: DefaultAbandonReasons, MinAge: DefaultAbandonMinAge}
}

func PermissivePolicy() AbandonPolicy {
	return AbandonPolicy{Mode: PolicyPermissive}
}

// ParsePolicyMode accepts "strict" or "permissive"; an empty string falls back to
// strict in production and permissive elsewhere.
func ParsePolicyMode(raw string, production bool) (PolicyMode, error) {
	switch PolicyMode(strings.ToLower(strings.TrimSpace(raw))) {
	case "":
		if production {
			return PolicyStrict, nil
		}
		return PolicyPermissive, nil
	case PolicyStrict:
		return PolicyStrict, nil
	case PolicyPermissive:
		return PolicyPermissive, nil
	}
	return "", fmt.Errorf("unknown abandon policy %q", raw)
}

func (p AbandonPolicy) allows(reason string, age time.Duration) bool {
	if p.Mode != PolicyStrict {
		return true
	}
	for _, r := range p.Reasons {
		if r == reason {
			return true
		}
	}
	return age > p.MinAge
}
