package match

import (
	"fmt"
	"strings"

	"github.com/ormasoftchile/stepbind/pkg/kernel/bindings"
	"github.com/ormasoftchile/stepbind/pkg/kernel/feature"
)

// UndefinedStepError reports a step no binding matched.
type UndefinedStepError struct {
	Step    feature.StepInstance
	Snippet string
}

func (e *UndefinedStepError) Error() string {
	if e.Step.Location == (feature.Location{}) {
		return fmt.Sprintf("no matching step definition found for step %q", e.Step.String())
	}
	return fmt.Sprintf("no matching step definition found for step %q (%s)", e.Step.String(), e.Step.Location)
}

// AmbiguousMatchError reports two or more equally ranked matches. It
// carries every tied candidate.
type AmbiguousMatchError struct {
	Step       feature.StepInstance
	Candidates []*Match
}

func (e *AmbiguousMatchError) Error() string {
	names := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		names[i] = c.Binding.Method.Signature()
	}
	return fmt.Sprintf("ambiguous step definitions found for step %q: %s", e.Step.String(), strings.Join(names, ", "))
}

// NoScopeMatchError reports that bindings matched the step text but none
// was in scope.
type NoScopeMatchError struct {
	Step       feature.StepInstance
	Candidates []*bindings.StepDefinition
}

func (e *NoScopeMatchError) Error() string {
	parts := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		parts[i] = fmt.Sprintf("%s [%s]", c.Method.Signature(), c.CompiledScope())
	}
	return fmt.Sprintf("multiple step definitions found, but none of them have matching scope for step %q: %s", e.Step.String(), strings.Join(parts, ", "))
}

// ParameterMismatchError reports that bindings matched the step text but
// none accepted the captured arguments.
type ParameterMismatchError struct {
	Step       feature.StepInstance
	Candidates []*bindings.StepDefinition
	Reasons    []string
}

func (e *ParameterMismatchError) Error() string {
	return fmt.Sprintf("multiple step definitions found, but none of them have matching parameter count and type for step %q: %s", e.Step.String(), strings.Join(e.Reasons, "; "))
}
