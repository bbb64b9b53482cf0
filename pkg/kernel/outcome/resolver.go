package outcome

import (
	"errors"

	"github.com/ormasoftchile/stepbind/pkg/kernel/bindings"
	"github.com/ormasoftchile/stepbind/pkg/kernel/logging"
	"github.com/ormasoftchile/stepbind/pkg/kernel/match"
)

// Result is a classified outcome together with its causing error.
type Result struct {
	Status Status
	Err    error
}

// OK reports whether the result lets execution proceed.
func (r Result) OK() bool { return r.Status == Passed }

// Resolver classifies outcomes under a policy. It is stateless and safe for
// concurrent use.
type Resolver struct {
	policy Policy
	log    logging.Logger
}

// NewResolver returns a resolver for the policy. Empty policy fields take
// their defaults.
func NewResolver(p Policy, log logging.Logger) *Resolver {
	return &Resolver{policy: p.normalized(), log: logging.OrNop(log)}
}

// Policy returns the effective policy.
func (r *Resolver) Policy() Policy { return r.policy }

// FromMatch classifies a step match outcome.
func (r *Resolver) FromMatch(o match.Outcome) Result {
	switch o.Kind {
	case match.KindMatched:
		return Result{Status: Passed}
	case match.KindUndefined:
		switch r.policy.MissingOrPendingSteps {
		case MissingPending:
			return Result{Status: StepDefinitionPending, Err: o.Err}
		case MissingError:
			return Result{Status: TestError, Err: o.Err}
		default:
			return Result{Status: UndefinedStep, Err: o.Err}
		}
	case match.KindAmbiguous:
		return Result{Status: AmbiguousScenarioDefinition, Err: o.Err}
	}
	return Result{Status: BindingError, Err: o.Err}
}

// FromObsolete applies the obsolescence policy to a successful match. A
// binding whose own severity is error always fails.
func (r *Resolver) FromObsolete(m *match.Match) Result {
	if m == nil || m.Binding.Obsolete == nil {
		return Result{Status: Passed}
	}
	err := &ObsoleteStepError{Method: m.Binding.Method, Message: m.Binding.Obsolete.Message}
	if m.Binding.Obsolete.Severity == bindings.ObsoleteError {
		return Result{Status: BindingError, Err: err}
	}
	switch r.policy.Obsolete {
	case ObsoleteNone:
		return Result{Status: Passed}
	case ObsoletePending:
		return Result{Status: StepDefinitionPending, Err: &PendingStepError{Reason: err.Error()}}
	case ObsoleteError:
		return Result{Status: BindingError, Err: err}
	}
	r.log.Warn("obsolete step definition", "method", m.Binding.Method.ID(), "message", m.Binding.Obsolete.Message)
	return Result{Status: Passed}
}

// FromError classifies an error returned by a step or hook body.
func (r *Resolver) FromError(err error) Status {
	var (
		undefined *match.UndefinedStepError
		ambiguous *match.AmbiguousMatchError
		noScope   *match.NoScopeMatchError
		mismatch  *match.ParameterMismatchError
		invoke    *BindingInvocationError
		obsolete  *ObsoleteStepError
		inconcl   *InconclusiveError
	)
	switch {
	case err == nil:
		return Passed
	case errors.Is(err, ErrPending):
		return StepDefinitionPending
	case errors.Is(err, ErrSkipped), errors.As(err, &inconcl):
		return Skipped
	case errors.As(err, &undefined):
		return UndefinedStep
	case errors.As(err, &ambiguous):
		return AmbiguousScenarioDefinition
	case errors.As(err, &noScope), errors.As(err, &mismatch), errors.As(err, &invoke), errors.As(err, &obsolete):
		return BindingError
	}
	return TestError
}

// BoundaryError converts a terminal scenario state into the signal handed to
// a test-framework adapter. pending lists the pending or missing steps.
func (r *Resolver) BoundaryError(status Status, err error, pending []string) error {
	switch status {
	case Passed:
		return nil
	case Skipped:
		if err != nil {
			return err
		}
		return &IgnoredError{Message: "The scenario has been skipped."}
	case StepDefinitionPending, UndefinedStep:
		msg := pendingMessage(status, pending)
		switch r.policy.MissingOrPendingSteps {
		case MissingPending:
			return &PendingError{Message: msg, Steps: pending}
		case MissingInconclusive:
			return &InconclusiveError{Message: msg, Steps: pending}
		case MissingIgnore:
			return &IgnoredError{Message: msg, Steps: pending}
		}
		if err != nil {
			return err
		}
		return &PendingStepError{Reason: msg}
	}
	if err == nil {
		return errors.New("test failed with an unknown error")
	}
	return err
}
