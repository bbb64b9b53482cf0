// Package invoke binds plain Go functions as step definitions and hooks
// and calls them by reflection when the engine executes a match.
//
// Step functions may take a leading context.Context followed by one
// parameter per captured argument, plus a trailing *feature.DataTable or
// *feature.DocString for steps with a multiline argument. They may return
// nothing, an error, or (context.Context, error); a returned context is
// handed to the next step of the same scenario.
package invoke

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ormasoftchile/stepbind/pkg/kernel/bindings"
	"github.com/ormasoftchile/stepbind/pkg/kernel/descriptor"
	"github.com/ormasoftchile/stepbind/pkg/kernel/feature"
	"github.com/ormasoftchile/stepbind/pkg/kernel/scope"
)

var (
	ErrNotAFunc         = errors.New("step handler must be a function")
	ErrUnsupportedParam = errors.New("unsupported parameter type")
	ErrUnsupportedOut   = errors.New("unsupported return signature")
)

var (
	contextType   = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType     = reflect.TypeOf((*error)(nil)).Elem()
	tableType     = reflect.TypeOf((*feature.DataTable)(nil))
	docStringType = reflect.TypeOf((*feature.DocString)(nil))
	timeType      = reflect.TypeOf(time.Time{})
	uuidType      = reflect.TypeOf(uuid.UUID{})
	anyType       = reflect.TypeOf((*any)(nil)).Elem()
)

// Option customizes a registered binding.
type Option func(*options)

type options struct {
	name     string
	scope    scope.Spec
	order    int
	obsolete *bindings.Obsolescence
}

// Named sets the method name recorded in the binding.
func Named(name string) Option { return func(o *options) { o.name = name } }

// Tags scopes the binding to a tag expression.
func Tags(expr string) Option { return func(o *options) { o.scope.Tags = expr } }

// Scoped sets the full scope of the binding.
func Scoped(s scope.Spec) Option { return func(o *options) { o.scope = s } }

// Order sets the hook order; lower runs first.
func Order(n int) Option { return func(o *options) { o.order = n } }

// Obsolete marks a step definition as deprecated.
func Obsolete(message string, severity bindings.ObsoleteSeverity) Option {
	return func(o *options) {
		o.obsolete = &bindings.Obsolescence{Message: message, Severity: severity}
	}
}

// handler is a registered function with its call shape.
type handler struct {
	fn         reflect.Value
	takesCtx   bool
	params     []reflect.Type
	returnsCtx bool
	returnsErr bool
}

// Suite collects step definitions and hooks declared as Go functions.
type Suite struct {
	typeName string
	steps    []*bindings.StepDefinition
	hooks    []*bindings.Hook
	funcs    map[string]*handler
	names    map[string]int
	errs     []error
}

// NewSuite starts a suite whose bindings are declared on typeName.
func NewSuite(typeName string) *Suite {
	return &Suite{typeName: typeName, funcs: map[string]*handler{}, names: map[string]int{}}
}

// Given registers a Given step definition.
func (s *Suite) Given(pattern string, fn any, opts ...Option) *Suite {
	return s.Step(feature.StepGiven, pattern, fn, opts...)
}

// When registers a When step definition.
func (s *Suite) When(pattern string, fn any, opts ...Option) *Suite {
	return s.Step(feature.StepWhen, pattern, fn, opts...)
}

// Then registers a Then step definition.
func (s *Suite) Then(pattern string, fn any, opts ...Option) *Suite {
	return s.Step(feature.StepThen, pattern, fn, opts...)
}

// Step registers a step definition of the given type.
func (s *Suite) Step(typ feature.StepType, pattern string, fn any, opts ...Option) *Suite {
	o := s.options(opts)
	h, method, err := s.describe(fn, o.name, true)
	if err != nil {
		s.errs = append(s.errs, fmt.Errorf("step %q: %w", pattern, err))
		return s
	}
	s.funcs[method.ID()] = h
	s.steps = append(s.steps, &bindings.StepDefinition{
		Type:     typ,
		Pattern:  pattern,
		Method:   method,
		Scope:    o.scope,
		Obsolete: o.obsolete,
	})
	return s
}

// Hook registers a hook of the given kind. Hook functions take at most a
// context.Context.
func (s *Suite) Hook(kind bindings.HookKind, fn any, opts ...Option) *Suite {
	o := s.options(opts)
	h, method, err := s.describe(fn, o.name, false)
	if err != nil {
		s.errs = append(s.errs, fmt.Errorf("%s hook: %w", kind, err))
		return s
	}
	s.funcs[method.ID()] = h
	s.hooks = append(s.hooks, &bindings.Hook{Kind: kind, Scope: o.scope, Order: o.order, Method: method})
	return s
}

func (s *Suite) BeforeTestRun(fn any, opts ...Option) *Suite {
	return s.Hook(bindings.BeforeTestRun, fn, opts...)
}

func (s *Suite) AfterTestRun(fn any, opts ...Option) *Suite {
	return s.Hook(bindings.AfterTestRun, fn, opts...)
}

func (s *Suite) BeforeFeature(fn any, opts ...Option) *Suite {
	return s.Hook(bindings.BeforeFeature, fn, opts...)
}

func (s *Suite) AfterFeature(fn any, opts ...Option) *Suite {
	return s.Hook(bindings.AfterFeature, fn, opts...)
}

func (s *Suite) BeforeScenario(fn any, opts ...Option) *Suite {
	return s.Hook(bindings.BeforeScenario, fn, opts...)
}

func (s *Suite) AfterScenario(fn any, opts ...Option) *Suite {
	return s.Hook(bindings.AfterScenario, fn, opts...)
}

func (s *Suite) BeforeStep(fn any, opts ...Option) *Suite {
	return s.Hook(bindings.BeforeStep, fn, opts...)
}

func (s *Suite) AfterStep(fn any, opts ...Option) *Suite {
	return s.Hook(bindings.AfterStep, fn, opts...)
}

// Register adds the suite's bindings to r. Declaration errors collected
// while building the suite are returned joined and nothing is added.
func (s *Suite) Register(r *bindings.Registry) error {
	if len(s.errs) > 0 {
		return errors.Join(s.errs...)
	}
	for _, d := range s.steps {
		if err := r.AddStepDefinition(d); err != nil {
			return err
		}
	}
	for _, h := range s.hooks {
		if err := r.AddHook(h); err != nil {
			return err
		}
	}
	return nil
}

// Build registers the suite into a fresh registry, freezes it and returns
// it with an invoker for the suite's functions.
func (s *Suite) Build() (*bindings.Registry, *FuncInvoker, error) {
	r := bindings.NewRegistry(nil)
	if err := s.Register(r); err != nil {
		return nil, nil, err
	}
	if errs := r.Freeze(); errs.HasErrors() {
		return r, nil, errs
	}
	return r, NewFuncInvoker(s), nil
}

func (s *Suite) options(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// describe derives the method descriptor and call shape of fn.
func (s *Suite) describe(fn any, name string, step bool) (*handler, descriptor.Method, error) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		return nil, descriptor.Method{}, fmt.Errorf("%w, got %T", ErrNotAFunc, fn)
	}
	t := v.Type()
	h := &handler{fn: v}
	method := descriptor.Method{DeclaringType: s.typeName, Name: s.uniqueName(name, v)}

	in := 0
	if t.NumIn() > 0 && t.In(0) == contextType {
		h.takesCtx = true
		in = 1
	}
	if !step && t.NumIn() > in {
		return nil, method, fmt.Errorf("%w: hooks take at most a context.Context", ErrUnsupportedParam)
	}
	for i := in; i < t.NumIn(); i++ {
		pt := t.In(i)
		kind, err := valueKind(pt)
		if err != nil {
			return nil, method, fmt.Errorf("parameter %d: %w", i, err)
		}
		h.params = append(h.params, pt)
		method.Params = append(method.Params, descriptor.Param{Kind: kind})
	}

	switch {
	case t.NumOut() == 0:
	case t.NumOut() == 1 && t.Out(0) == errorType:
		h.returnsErr = true
	case t.NumOut() == 2 && t.Out(0) == contextType && t.Out(1) == errorType:
		h.returnsCtx, h.returnsErr = true, true
	default:
		return nil, method, fmt.Errorf("%w: %s", ErrUnsupportedOut, t)
	}
	return h, method, nil
}

// uniqueName returns name, or the function's own name, suffixed when
// already taken.
func (s *Suite) uniqueName(name string, v reflect.Value) string {
	if name == "" {
		name = funcName(v)
	}
	s.names[name]++
	if n := s.names[name]; n > 1 {
		return fmt.Sprintf("%s_%d", name, n)
	}
	return name
}

func funcName(v reflect.Value) string {
	f := runtime.FuncForPC(v.Pointer())
	if f == nil {
		return "func"
	}
	name := f.Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSuffix(name, "-fm")
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}

func valueKind(t reflect.Type) (descriptor.ValueKind, error) {
	switch t {
	case tableType:
		return descriptor.KindDataTable, nil
	case docStringType:
		return descriptor.KindDocString, nil
	case timeType:
		return descriptor.KindTime, nil
	case uuidType:
		return descriptor.KindUUID, nil
	case anyType:
		return descriptor.KindAny, nil
	}
	switch t.Kind() {
	case reflect.String:
		return descriptor.KindString, nil
	case reflect.Int:
		return descriptor.KindInt, nil
	case reflect.Int64:
		return descriptor.KindInt64, nil
	case reflect.Float32:
		return descriptor.KindFloat32, nil
	case reflect.Float64:
		return descriptor.KindFloat64, nil
	case reflect.Bool:
		return descriptor.KindBool, nil
	case reflect.Uint8:
		return descriptor.KindUint8, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedParam, t)
}
