package bindings

import (
	"fmt"
	"strings"
)

// ValidationError is one structural problem found in the binding set.
type ValidationError struct {
	Phase    string `json:"phase"` // discovery, structural
	Path     string `json:"path"`  // binding location, e.g. steps[2] or a method id
	Message  string `json:"message"`
	Severity string `json:"severity"` // error, warning
}

func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("[%s] %s at %s", e.Phase, e.Message, e.Path)
	}
	return fmt.Sprintf("[%s] %s", e.Phase, e.Message)
}

func errorf(phase, path, msg string, args ...any) *ValidationError {
	return &ValidationError{
		Phase:    phase,
		Path:     path,
		Message:  fmt.Sprintf(msg, args...),
		Severity: "error",
	}
}

func warningf(phase, path, msg string, args ...any) *ValidationError {
	return &ValidationError{
		Phase:    phase,
		Path:     path,
		Message:  fmt.Sprintf(msg, args...),
		Severity: "warning",
	}
}

// ValidationErrors is the batch reported by Registry.Freeze.
type ValidationErrors []*ValidationError

func (errs ValidationErrors) Error() string {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		if e.Severity == "error" {
			msgs = append(msgs, e.Error())
		}
	}
	return fmt.Sprintf("%d binding error(s): %s", len(msgs), strings.Join(msgs, "; "))
}

// HasErrors reports whether any entry has error severity.
func (errs ValidationErrors) HasErrors() bool {
	for _, e := range errs {
		if e.Severity == "error" {
			return true
		}
	}
	return false
}
