// Package events defines the lifecycle events the engine emits and a bus
// that fans them out to listeners.
package events

import (
	"sync"
	"time"

	"github.com/ormasoftchile/stepbind/pkg/kernel/outcome"
)

// Type enumerates lifecycle event types.
type Type string

const (
	TestRunStarted      Type = "test_run_started"
	TestRunFinished     Type = "test_run_finished"
	FeatureStarted      Type = "feature_started"
	FeatureFinished     Type = "feature_finished"
	ScenarioStarted     Type = "scenario_started"
	ScenarioFinished    Type = "scenario_finished"
	ScenarioSkipped     Type = "scenario_skipped"
	StepStarted         Type = "step_started"
	StepFinished        Type = "step_finished"
	StepSkipped         Type = "step_skipped"
	HookStarted         Type = "hook_started"
	HookFinished        Type = "hook_finished"
	HookBindingStarted  Type = "hook_binding_started"
	HookBindingFinished Type = "hook_binding_finished"
	StepBindingStarted  Type = "step_binding_started"
	StepBindingFinished Type = "step_binding_finished"
)

// Event is a lifecycle event with a snapshot of the context it happened in.
type Event struct {
	Type     Type      `json:"type"`
	Time     time.Time `json:"time"`
	RunID    string    `json:"run_id,omitempty"`
	Worker   int       `json:"worker"`
	Feature  string    `json:"feature,omitempty"`
	Scenario string    `json:"scenario,omitempty"`
	Tags     []string  `json:"tags,omitempty"`
	// Step is the step as written, keyword included.
	Step     string `json:"step,omitempty"`
	Location string `json:"location,omitempty"`
	// Hook is the hook kind of hook events.
	Hook string `json:"hook,omitempty"`
	// Method is the bound method signature of binding events.
	Method   string         `json:"method,omitempty"`
	Status   outcome.Status `json:"status"`
	Duration time.Duration  `json:"duration,omitempty"`
	Err      error          `json:"-"`
	Data     map[string]any `json:"data,omitempty"`
}

// Error returns the event error text, empty when there is none.
func (e Event) Error() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

// Publisher accepts lifecycle events.
type Publisher interface {
	Publish(Event)
}

// Listener consumes lifecycle events.
type Listener interface {
	OnEvent(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

func (f ListenerFunc) OnEvent(e Event) { f(e) }

type subscription struct {
	l     Listener
	types map[Type]bool
}

// Bus delivers each published event to every subscribed listener in
// subscription order. Publish is safe for concurrent use; deliveries are
// serialized so listeners need no locking of their own.
type Bus struct {
	mu   sync.Mutex
	subs []subscription
}

// NewBus returns an empty bus.
func NewBus() *Bus { return &Bus{} }

// Subscribe registers l for the given types, or for every type when none
// is given.
func (b *Bus) Subscribe(l Listener, types ...Type) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := subscription{l: l}
	if len(types) > 0 {
		s.types = make(map[Type]bool, len(types))
		for _, t := range types {
			s.types[t] = true
		}
	}
	b.subs = append(b.subs, s)
}

// Publish stamps the event time when unset and delivers it.
func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		if s.types != nil && !s.types[e.Type] {
			continue
		}
		s.l.OnEvent(e)
	}
}

type nop struct{}

func (nop) Publish(Event) {}

// Nop returns a publisher that drops every event.
func Nop() Publisher { return nop{} }

// Recorder keeps every event it receives. It is meant for tests and
// summaries.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) OnEvent(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}
