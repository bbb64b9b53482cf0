package outcome

import (
	"fmt"
	"strings"
)

// MissingStepsOutcome decides what undefined and pending steps turn into.
type MissingStepsOutcome string

const (
	MissingPending      MissingStepsOutcome = "pending"
	MissingInconclusive MissingStepsOutcome = "inconclusive"
	MissingIgnore       MissingStepsOutcome = "ignore"
	MissingError        MissingStepsOutcome = "error"
)

// ParseMissingStepsOutcome accepts the policy name in any case.
func ParseMissingStepsOutcome(s string) (MissingStepsOutcome, error) {
	switch v := MissingStepsOutcome(strings.ToLower(strings.TrimSpace(s))); v {
	case MissingPending, MissingInconclusive, MissingIgnore, MissingError:
		return v, nil
	case "":
		return MissingPending, nil
	}
	return "", fmt.Errorf("unknown missing-steps outcome %q", s)
}

// ObsoleteBehavior decides what a matched obsolete binding turns into.
type ObsoleteBehavior string

const (
	ObsoleteNone    ObsoleteBehavior = "none"
	ObsoleteWarn    ObsoleteBehavior = "warn"
	ObsoletePending ObsoleteBehavior = "pending"
	ObsoleteError   ObsoleteBehavior = "error"
)

// ParseObsoleteBehavior accepts the behavior name in any case.
func ParseObsoleteBehavior(s string) (ObsoleteBehavior, error) {
	switch v := ObsoleteBehavior(strings.ToLower(strings.TrimSpace(s))); v {
	case ObsoleteNone, ObsoleteWarn, ObsoletePending, ObsoleteError:
		return v, nil
	case "":
		return ObsoleteWarn, nil
	}
	return "", fmt.Errorf("unknown obsolete behavior %q", s)
}

// Policy is the read-only configuration the resolver and engine consult.
type Policy struct {
	StopAtFirstError      bool
	MissingOrPendingSteps MissingStepsOutcome
	Obsolete              ObsoleteBehavior
}

// DefaultPolicy continues after errors, reports missing steps as pending
// and warns on obsolete steps.
func DefaultPolicy() Policy {
	return Policy{MissingOrPendingSteps: MissingPending, Obsolete: ObsoleteWarn}
}

func (p Policy) normalized() Policy {
	if p.MissingOrPendingSteps == "" {
		p.MissingOrPendingSteps = MissingPending
	}
	if p.Obsolete == "" {
		p.Obsolete = ObsoleteWarn
	}
	return p
}
