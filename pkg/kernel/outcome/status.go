// Package outcome classifies step, hook and match results into scenario
// execution statuses and converts terminal states into adapter signals.
package outcome

import (
	"fmt"
	"strings"
)

// Status is a scenario execution status. Values are ordered by severity.
type Status int

const (
	Passed Status = iota
	Skipped
	StepDefinitionPending
	UndefinedStep
	BindingError
	AmbiguousScenarioDefinition
	TestError
)

var statusNames = [...]string{
	Passed:                      "passed",
	Skipped:                     "skipped",
	StepDefinitionPending:       "pending",
	UndefinedStep:               "undefined",
	BindingError:                "binding_error",
	AmbiguousScenarioDefinition: "ambiguous",
	TestError:                   "test_error",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

// MarshalText renders the status name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts a status name in any case.
func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseStatus maps a status name to a Status.
func ParseStatus(name string) (Status, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for i, sn := range statusNames {
		if sn == n {
			return Status(i), nil
		}
	}
	return Passed, fmt.Errorf("unknown status %q", name)
}

// Worse reports whether s is more severe than o.
func (s Status) Worse(o Status) bool { return s > o }

// Worst returns the most severe of the given statuses, Passed when empty.
func Worst(statuses ...Status) Status {
	w := Passed
	for _, s := range statuses {
		if s > w {
			w = s
		}
	}
	return w
}
