package bindings

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ormasoftchile/stepbind/pkg/kernel/descriptor"
	"github.com/ormasoftchile/stepbind/pkg/kernel/expression"
	"github.com/ormasoftchile/stepbind/pkg/kernel/feature"
	"github.com/ormasoftchile/stepbind/pkg/kernel/params"
	"github.com/ormasoftchile/stepbind/pkg/kernel/scope"
)

// MaxParameters is the largest parameter count a bound method may declare.
const MaxParameters = 10

var (
	ErrFrozen                = errors.New("binding registry is frozen")
	ErrAbstractDeclaringType = errors.New("bindings cannot be declared on an abstract type")
	ErrUnknownHookKind       = errors.New("unknown hook kind")
	ErrNotFrozen             = errors.New("binding registry is not frozen")
)

// Registry stores the binding set. It is append-only until Freeze and
// read-only afterwards, so frozen registries can be shared across workers.
type Registry struct {
	params    *params.Registry
	types     map[string]descriptor.Type
	typeOrder []string
	steps     []*StepDefinition
	hooks     []*Hook

	frozen bool
	byType map[feature.StepType][]*StepDefinition
	byKind map[HookKind][]*Hook
	errs   ValidationErrors
}

// NewRegistry creates an empty registry. A nil parameter registry gets
// the built-in types.
func NewRegistry(p *params.Registry) *Registry {
	if p == nil {
		p = params.NewRegistry()
	}
	return &Registry{params: p, types: make(map[string]descriptor.Type)}
}

// Params returns the parameter type registry.
func (r *Registry) Params() *params.Registry { return r.params }

// AddType records a binding-declaring type.
func (r *Registry) AddType(t descriptor.Type) error {
	if r.frozen {
		return ErrFrozen
	}
	if _, ok := r.types[t.FullName]; !ok {
		r.typeOrder = append(r.typeOrder, t.FullName)
	}
	r.types[t.FullName] = t
	return nil
}

// AddTransformation registers a parameter type transformation.
func (r *Registry) AddTransformation(t params.Transformation) error {
	if r.frozen {
		return ErrFrozen
	}
	return r.params.Register(t)
}

func (r *Registry) declaringType(m descriptor.Method) error {
	if m.DeclaringType == "" {
		return nil
	}
	t, ok := r.types[m.DeclaringType]
	if !ok {
		return r.AddType(descriptor.Type{FullName: m.DeclaringType})
	}
	if t.Abstract {
		return fmt.Errorf("%w: %s declares %s", ErrAbstractDeclaringType, t.FullName, m.Name)
	}
	return nil
}

// AddStepDefinition appends a step definition.
func (r *Registry) AddStepDefinition(d *StepDefinition) error {
	if r.frozen {
		return ErrFrozen
	}
	if err := r.declaringType(d.Method); err != nil {
		return err
	}
	if d.Type == "" {
		d.Type = feature.StepAny
	}
	d.seq = len(r.steps)
	r.steps = append(r.steps, d)
	return nil
}

// AddHook appends a hook.
func (r *Registry) AddHook(h *Hook) error {
	if r.frozen {
		return ErrFrozen
	}
	if !h.Kind.valid() {
		return fmt.Errorf("%w %q", ErrUnknownHookKind, h.Kind)
	}
	if err := r.declaringType(h.Method); err != nil {
		return err
	}
	h.seq = len(r.hooks)
	r.hooks = append(r.hooks, h)
	return nil
}

// Freeze ends discovery: it observes enum parameters, freezes the parameter
// registry, compiles every pattern and scope, indexes the set and runs the
// structural validation pass. Later calls return the first result.
func (r *Registry) Freeze() ValidationErrors {
	if r.frozen {
		return r.errs
	}
	var errs ValidationErrors

	for _, d := range r.steps {
		if err := r.params.ObserveBoundMethod(d.Method); err != nil {
			errs = append(errs, errorf("discovery", d.Method.ID(), "%s", err))
		}
	}
	for _, h := range r.hooks {
		if err := r.params.ObserveBoundMethod(h.Method); err != nil {
			errs = append(errs, errorf("discovery", h.Method.ID(), "%s", err))
		}
	}
	r.params.Freeze()

	errs = append(errs, r.validateTypes()...)

	r.byType = make(map[feature.StepType][]*StepDefinition)
	for i, d := range r.steps {
		path := fmt.Sprintf("steps[%d] %s", i, d.Method.ID())
		if len(d.Method.Params) > MaxParameters {
			errs = append(errs, errorf("structural", path, "binding methods with more than %d parameters are not supported", MaxParameters))
		}
		m, err := expression.Compile(d.Pattern, r.params)
		if err != nil {
			d.err = err
			errs = append(errs, errorf("structural", path, "%s", err))
		} else {
			d.matcher = m
		}
		if !d.Scope.IsZero() {
			s, err := scope.New(d.Scope)
			if err != nil {
				d.err = errors.Join(d.err, err)
				d.matcher = nil
				errs = append(errs, errorf("structural", path, "%s", err))
			} else {
				d.compiled = s
			}
		}
		r.byType[d.Type] = append(r.byType[d.Type], d)
	}

	r.byKind = make(map[HookKind][]*Hook)
	seen := make(map[string]int)
	for i, h := range r.hooks {
		path := fmt.Sprintf("hooks[%d] %s", i, h.Method.ID())
		identity := string(h.Kind) + "|" + h.Method.ID()
		if first, dup := seen[identity]; dup {
			errs = append(errs, errorf("structural", path, "duplicate %s hook %s (first declared at hooks[%d])", h.Kind, h.Method.ID(), first))
		} else {
			seen[identity] = i
		}
		if len(h.Method.Params) > MaxParameters {
			errs = append(errs, errorf("structural", path, "binding methods with more than %d parameters are not supported", MaxParameters))
		}
		if !h.Scope.IsZero() {
			s, err := scope.New(h.Scope)
			if err != nil {
				errs = append(errs, errorf("structural", path, "%s", err))
				continue
			}
			h.compiled = s
		}
		if h.Scope.Keyword != "" && h.Kind.Level() != "step" {
			errs = append(errs, warningf("structural", path, "keyword scope on a %s hook never matches", h.Kind.Level()))
		}
		if h.Scope.Block != "" && h.Kind.Level() != "step" && h.Kind.Level() != "block" {
			errs = append(errs, warningf("structural", path, "block scope on a %s hook never matches", h.Kind.Level()))
		}
		r.byKind[h.Kind] = append(r.byKind[h.Kind], h)
	}
	for _, list := range r.byKind {
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].Order != list[j].Order {
				return list[i].Order < list[j].Order
			}
			return list[i].seq < list[j].seq
		})
	}

	r.errs = errs
	r.frozen = true
	return errs
}

// validateTypes enforces that a binding type does not inherit from another
// binding type.
func (r *Registry) validateTypes() ValidationErrors {
	var errs ValidationErrors
	for _, name := range r.typeOrder {
		t := r.types[name]
		if t.Base == "" {
			continue
		}
		if _, ok := r.types[t.Base]; ok {
			errs = append(errs, errorf("structural", t.FullName, "binding type %s cannot inherit from binding type %s", t.FullName, t.Base))
		}
	}
	return errs
}

// Frozen reports whether Freeze has run.
func (r *Registry) Frozen() bool { return r.frozen }

// Errors returns the validation result of Freeze.
func (r *Registry) Errors() ValidationErrors { return r.errs }

// Err returns the validation batch as an error when it holds errors, or
// ErrNotFrozen before Freeze.
func (r *Registry) Err() error {
	if !r.frozen {
		return ErrNotFrozen
	}
	if r.errs.HasErrors() {
		return r.errs
	}
	return nil
}

// StepDefinitions returns the candidates for a step type: definitions of
// that type followed by type-agnostic ones, in discovery order.
func (r *Registry) StepDefinitions(t feature.StepType) []*StepDefinition {
	if t == feature.StepAny {
		return r.byType[feature.StepAny]
	}
	typed, untyped := r.byType[t], r.byType[feature.StepAny]
	out := make([]*StepDefinition, 0, len(typed)+len(untyped))
	out = append(out, typed...)
	out = append(out, untyped...)
	return out
}

// AllStepDefinitions returns every definition in discovery order.
func (r *Registry) AllStepDefinitions() []*StepDefinition { return r.steps }

// Hooks returns the hooks of kind sorted by order, ties in discovery order.
func (r *Registry) Hooks(k HookKind) []*Hook { return r.byKind[k] }

// AllHooks returns every hook in discovery order.
func (r *Registry) AllHooks() []*Hook { return r.hooks }

// Types returns the binding-declaring types in discovery order.
func (r *Registry) Types() []descriptor.Type {
	out := make([]descriptor.Type, 0, len(r.typeOrder))
	for _, name := range r.typeOrder {
		out = append(out, r.types[name])
	}
	return out
}
