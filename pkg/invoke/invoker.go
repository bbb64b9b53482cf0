package invoke

import (
	"context"
	"fmt"
	"reflect"

	"github.com/golobby/cast"

	"github.com/ormasoftchile/stepbind/pkg/kernel/bindings"
	"github.com/ormasoftchile/stepbind/pkg/kernel/contexts"
	"github.com/ormasoftchile/stepbind/pkg/kernel/descriptor"
	"github.com/ormasoftchile/stepbind/pkg/kernel/feature"
	"github.com/ormasoftchile/stepbind/pkg/kernel/match"
	"github.com/ormasoftchile/stepbind/pkg/kernel/outcome"
)

// scenarioCtxKey is the scenario value under which a context returned by
// a step is kept for the next step.
const scenarioCtxKey = "invoke.context"

// FuncInvoker calls the functions of a suite. It is safe for concurrent
// use as long as the functions are.
type FuncInvoker struct {
	funcs map[string]*handler
}

// NewFuncInvoker returns an invoker over the suite's functions.
func NewFuncInvoker(s *Suite) *FuncInvoker {
	return &FuncInvoker{funcs: s.funcs}
}

// InvokeStep converts the match arguments to the function's parameter
// types and calls it.
func (f *FuncInvoker) InvokeStep(ctx context.Context, m *match.Match, _ feature.StepInstance) error {
	method := m.Binding.Method
	h, err := f.lookup(method)
	if err != nil {
		return err
	}
	values := m.Values()
	if len(values) != len(h.params) {
		return &outcome.BindingInvocationError{
			Method: method,
			Err:    fmt.Errorf("function takes %d arguments, match has %d", len(h.params), len(values)),
		}
	}

	ctx = scenarioContext(ctx)
	args := make([]reflect.Value, 0, len(values)+1)
	if h.takesCtx {
		args = append(args, reflect.ValueOf(ctx))
	}
	for i, v := range values {
		arg, err := convertArg(v, h.params[i])
		if err != nil {
			return &outcome.BindingInvocationError{Method: method, Err: fmt.Errorf("argument %d: %w", i, err)}
		}
		args = append(args, arg)
	}

	next, err := h.call(args)
	if next != nil {
		if sc, ok := contexts.ScenarioFromContext(ctx); ok {
			sc.Set(scenarioCtxKey, next)
		}
	}
	return err
}

// InvokeHook calls a hook function.
func (f *FuncInvoker) InvokeHook(ctx context.Context, hk *bindings.Hook) error {
	h, err := f.lookup(hk.Method)
	if err != nil {
		return err
	}
	var args []reflect.Value
	if h.takesCtx {
		args = append(args, reflect.ValueOf(ctx))
	}
	_, err = h.call(args)
	return err
}

func (f *FuncInvoker) lookup(m descriptor.Method) (*handler, error) {
	h, ok := f.funcs[m.ID()]
	if !ok {
		return nil, &outcome.BindingInvocationError{Method: m, Err: fmt.Errorf("no function registered for %s", m.ID())}
	}
	return h, nil
}

func (h *handler) call(args []reflect.Value) (context.Context, error) {
	out := h.fn.Call(args)
	var (
		next context.Context
		err  error
	)
	if h.returnsCtx {
		if c, ok := out[0].Interface().(context.Context); ok {
			next = c
		}
	}
	if h.returnsErr {
		if e, ok := out[len(out)-1].Interface().(error); ok {
			err = e
		}
	}
	return next, err
}

// scenarioContext returns the context a previous step of the scenario
// handed on, or ctx.
func scenarioContext(ctx context.Context) context.Context {
	sc, ok := contexts.ScenarioFromContext(ctx)
	if !ok {
		return ctx
	}
	if v, ok := sc.Get(scenarioCtxKey); ok {
		if c, ok := v.(context.Context); ok {
			return c
		}
	}
	return ctx
}

// convertArg adapts a converted match value to the parameter type. Values
// of a named type with the same underlying kind are converted directly;
// text falls back to cast.
func convertArg(v any, t reflect.Type) (reflect.Value, error) {
	if v == nil {
		return reflect.Zero(t), nil
	}
	rv := reflect.ValueOf(v)
	switch {
	case rv.Type().AssignableTo(t):
		return rv, nil
	case rv.Kind() == t.Kind() && rv.Type().ConvertibleTo(t):
		return rv.Convert(t), nil
	}
	if s, ok := v.(string); ok {
		c, err := cast.FromType(s, t)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("cannot convert %q to %s: %w", s, t, err)
		}
		return reflect.ValueOf(c).Convert(t), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot use %T as %s", v, t)
}
