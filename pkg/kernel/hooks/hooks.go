// Package hooks runs the hook bindings of one lifecycle point in order.
package hooks

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/ormasoftchile/stepbind/pkg/kernel/bindings"
	"github.com/ormasoftchile/stepbind/pkg/kernel/contexts"
	"github.com/ormasoftchile/stepbind/pkg/kernel/events"
	"github.com/ormasoftchile/stepbind/pkg/kernel/logging"
	"github.com/ormasoftchile/stepbind/pkg/kernel/outcome"
	"github.com/ormasoftchile/stepbind/pkg/kernel/scope"
)

// Invoker calls a hook's bound method. It returns once the method, however
// it is implemented, has completed.
type Invoker interface {
	InvokeHook(ctx context.Context, h *bindings.Hook) error
}

// Result is the outcome of running the hooks of one kind.
type Result struct {
	Status outcome.Status
	// Err is the first failure, nil when every hook passed.
	Err error
	// Secondary holds later failures of after-hooks.
	Secondary []error
	// Ran lists the hooks that were invoked, in order.
	Ran []*bindings.Hook
}

// OK reports whether every invoked hook passed.
func (r Result) OK() bool { return r.Err == nil }

// Config wires an Executor.
type Config struct {
	Registry  *bindings.Registry
	Invoker   Invoker
	Resolver  *outcome.Resolver
	Publisher events.Publisher
	Logger    logging.Logger
}

// Executor selects and runs hooks. It holds no per-run state and may be
// shared by workers.
type Executor struct {
	registry  *bindings.Registry
	invoker   Invoker
	resolver  *outcome.Resolver
	publisher events.Publisher
	log       logging.Logger
}

// New returns an executor. A nil publisher drops events and a nil resolver
// uses the default policy.
func New(cfg Config) *Executor {
	x := &Executor{
		registry:  cfg.Registry,
		invoker:   cfg.Invoker,
		resolver:  cfg.Resolver,
		publisher: cfg.Publisher,
		log:       logging.OrNop(cfg.Logger),
	}
	if x.resolver == nil {
		x.resolver = outcome.NewResolver(outcome.DefaultPolicy(), x.log)
	}
	if x.publisher == nil {
		x.publisher = events.Nop()
	}
	return x
}

// Select returns the hooks of kind whose scope matches sc, in execution
// order. Several hooks on one method run once, at the first position.
func (x *Executor) Select(kind bindings.HookKind, sc scope.Context) []*bindings.Hook {
	var out []*bindings.Hook
	seen := make(map[string]bool)
	for _, h := range x.registry.Hooks(kind) {
		if ok, _ := h.CompiledScope().Match(sc); !ok {
			continue
		}
		id := h.Method.ID()
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, h)
	}
	return out
}

// Run invokes the selected hooks one after another. Before-hooks stop at
// the first failure; after-hooks all run and the first failure is primary.
func (x *Executor) Run(ctx context.Context, kind bindings.HookKind, sc scope.Context, stack *contexts.Stack) Result {
	var res Result
	started := time.Now()
	x.publish(stack, events.HookStarted, kind, func(e *events.Event) {})

	for _, h := range x.Select(kind, sc) {
		res.Ran = append(res.Ran, h)
		x.publish(stack, events.HookBindingStarted, kind, func(e *events.Event) {
			e.Method = h.Method.Signature()
		})

		t0 := time.Now()
		err := x.invoke(ctx, h)
		status := x.resolver.FromError(err)
		x.publish(stack, events.HookBindingFinished, kind, func(e *events.Event) {
			e.Method = h.Method.Signature()
			e.Status = status
			e.Duration = time.Since(t0)
			e.Err = err
		})
		if err == nil {
			continue
		}

		x.log.Debug("hook failed", "kind", string(kind), "method", h.Method.ID(), "error", err)
		if res.Err == nil {
			res.Err = err
			res.Status = status
		} else {
			res.Secondary = append(res.Secondary, err)
			if status > res.Status {
				res.Status = status
			}
		}
		if kind.IsBefore() {
			break
		}
	}

	x.publish(stack, events.HookFinished, kind, func(e *events.Event) {
		e.Status = res.Status
		e.Duration = time.Since(started)
		e.Err = res.Err
	})
	return res
}

// invoke calls the hook, converting a panic into an error.
func (x *Executor) invoke(ctx context.Context, h *bindings.Hook) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &outcome.HookExecutionError{
				Kind:   h.Kind,
				Method: h.Method,
				Err:    fmt.Errorf("panic: %v\n%s", r, debug.Stack()),
			}
		}
	}()
	if x.invoker == nil {
		return nil
	}
	if ierr := x.invoker.InvokeHook(ctx, h); ierr != nil {
		return &outcome.HookExecutionError{Kind: h.Kind, Method: h.Method, Err: ierr}
	}
	return nil
}

func (x *Executor) publish(stack *contexts.Stack, t events.Type, kind bindings.HookKind, fill func(*events.Event)) {
	var e events.Event
	if stack != nil {
		e = stack.Event(t)
	} else {
		e = events.Event{Type: t}
	}
	e.Hook = string(kind)
	fill(&e)
	x.publisher.Publish(e)
}
