package outcome

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ormasoftchile/stepbind/pkg/kernel/bindings"
	"github.com/ormasoftchile/stepbind/pkg/kernel/descriptor"
	"github.com/ormasoftchile/stepbind/pkg/kernel/feature"
)

var (
	// ErrPending is returned by step bodies that are not implemented yet.
	ErrPending = errors.New("step definition is pending")
	// ErrSkipped is returned by step or hook bodies that skip the scenario.
	ErrSkipped = errors.New("scenario skipped")
)

// PendingStepError is a pending signal with a reason. It matches ErrPending.
type PendingStepError struct {
	Reason string
}

func (e *PendingStepError) Error() string {
	if e.Reason == "" {
		return ErrPending.Error()
	}
	return ErrPending.Error() + ": " + e.Reason
}

func (e *PendingStepError) Is(target error) bool { return target == ErrPending }

// ObsoleteStepError reports a step matched to an obsolete binding.
type ObsoleteStepError struct {
	Method  descriptor.Method
	Message string
}

func (e *ObsoleteStepError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("step definition %s is obsolete", e.Method.Signature())
	}
	return fmt.Sprintf("step definition %s is obsolete: %s", e.Method.Signature(), e.Message)
}

// HookExecutionError wraps a failure raised by a hook body.
type HookExecutionError struct {
	Kind   bindings.HookKind
	Method descriptor.Method
	Err    error
}

func (e *HookExecutionError) Error() string {
	return fmt.Sprintf("%s hook %s failed: %v", e.Kind, e.Method.Signature(), e.Err)
}

func (e *HookExecutionError) Unwrap() error { return e.Err }

// StepExecutionError wraps a failure raised by a step body.
type StepExecutionError struct {
	Step   feature.StepInstance
	Method descriptor.Method
	Err    error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("step %q (%s) failed: %v", e.Step.String(), e.Method.Signature(), e.Err)
}

func (e *StepExecutionError) Unwrap() error { return e.Err }

// BindingInvocationError reports that a bound method could not be called,
// for example because an argument could not be marshaled.
type BindingInvocationError struct {
	Method descriptor.Method
	Err    error
}

func (e *BindingInvocationError) Error() string {
	return fmt.Sprintf("error calling binding method %s: %v", e.Method.Signature(), e.Err)
}

func (e *BindingInvocationError) Unwrap() error { return e.Err }

// PendingError is the adapter signal for a pending scenario.
type PendingError struct {
	Message string
	Steps   []string
}

func (e *PendingError) Error() string { return e.Message }

func (e *PendingError) Is(target error) bool { return target == ErrPending }

// InconclusiveError is the adapter signal for an inconclusive scenario.
type InconclusiveError struct {
	Message string
	Steps   []string
}

func (e *InconclusiveError) Error() string { return e.Message }

// IgnoredError is the adapter signal for an ignored or skipped scenario.
type IgnoredError struct {
	Message string
	Steps   []string
}

func (e *IgnoredError) Error() string { return e.Message }

func (e *IgnoredError) Is(target error) bool { return target == ErrSkipped }

func pendingMessage(status Status, steps []string) string {
	var b strings.Builder
	if status == UndefinedStep {
		b.WriteString("No matching step definition found for one or more steps.")
	} else {
		b.WriteString("One or more step definitions are not implemented yet.")
	}
	for _, s := range steps {
		b.WriteString("\n  ")
		b.WriteString(s)
	}
	return b.String()
}
