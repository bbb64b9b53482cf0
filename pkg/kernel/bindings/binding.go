// Package bindings holds the discovered step definitions and hooks and
// validates them as a set before execution starts.
package bindings

import (
	"fmt"
	"strings"

	"github.com/ormasoftchile/stepbind/pkg/kernel/descriptor"
	"github.com/ormasoftchile/stepbind/pkg/kernel/expression"
	"github.com/ormasoftchile/stepbind/pkg/kernel/feature"
	"github.com/ormasoftchile/stepbind/pkg/kernel/scope"
)

// ObsoleteSeverity is the severity declared on an obsolete binding.
type ObsoleteSeverity string

const (
	ObsoleteWarning ObsoleteSeverity = "warning"
	ObsoleteError   ObsoleteSeverity = "error"
)

// Obsolescence marks a binding as deprecated.
type Obsolescence struct {
	Message  string           `yaml:"message,omitempty" json:"message,omitempty"`
	Severity ObsoleteSeverity `yaml:"severity,omitempty" json:"severity,omitempty"`
}

// StepDefinition binds a step pattern to a method.
type StepDefinition struct {
	Type     feature.StepType
	Pattern  string
	Method   descriptor.Method
	Scope    scope.Spec
	Obsolete *Obsolescence

	seq      int
	matcher  *expression.Matcher
	compiled *scope.Scope
	err      error
}

// Matcher returns the compiled pattern, nil before freeze or when invalid.
func (d *StepDefinition) Matcher() *expression.Matcher { return d.matcher }

// CompiledScope returns the compiled scope, nil when unscoped.
func (d *StepDefinition) CompiledScope() *scope.Scope { return d.compiled }

// Err is the compile error of an invalid definition.
func (d *StepDefinition) Err() error { return d.err }

// Valid reports whether the definition compiled.
func (d *StepDefinition) Valid() bool { return d.matcher != nil && d.err == nil }

// Seq is the discovery order.
func (d *StepDefinition) Seq() int { return d.seq }

func (d *StepDefinition) String() string {
	return fmt.Sprintf("[%s] %q -> %s", d.Type, d.Pattern, d.Method.Signature())
}

// HookKind is the lifecycle point a hook runs at.
type HookKind string

const (
	BeforeTestRun       HookKind = "before_test_run"
	AfterTestRun        HookKind = "after_test_run"
	BeforeFeature       HookKind = "before_feature"
	AfterFeature        HookKind = "after_feature"
	BeforeScenario      HookKind = "before_scenario"
	AfterScenario       HookKind = "after_scenario"
	BeforeScenarioBlock HookKind = "before_scenario_block"
	AfterScenarioBlock  HookKind = "after_scenario_block"
	BeforeStep          HookKind = "before_step"
	AfterStep           HookKind = "after_step"
)

// HookKinds lists every kind in lifecycle order.
var HookKinds = []HookKind{
	BeforeTestRun, AfterTestRun,
	BeforeFeature, AfterFeature,
	BeforeScenario, AfterScenario,
	BeforeScenarioBlock, AfterScenarioBlock,
	BeforeStep, AfterStep,
}

// ParseHookKind accepts snake_case or the PascalCase hook names.
func ParseHookKind(s string) (HookKind, error) {
	norm := strings.ToLower(strings.ReplaceAll(s, "_", ""))
	for _, k := range HookKinds {
		if strings.ReplaceAll(string(k), "_", "") == norm {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown hook kind %q", s)
}

// IsBefore reports whether this is a setup hook.
func (k HookKind) IsBefore() bool { return strings.HasPrefix(string(k), "before_") }

// Level is the lifecycle level the hook kind belongs to.
func (k HookKind) Level() string {
	switch k {
	case BeforeTestRun, AfterTestRun:
		return "run"
	case BeforeFeature, AfterFeature:
		return "feature"
	case BeforeScenario, AfterScenario:
		return "scenario"
	case BeforeScenarioBlock, AfterScenarioBlock:
		return "block"
	case BeforeStep, AfterStep:
		return "step"
	}
	return ""
}

func (k HookKind) valid() bool { return k.Level() != "" }

// Hook binds a lifecycle hook to a method.
type Hook struct {
	Kind   HookKind
	Scope  scope.Spec
	Order  int
	Method descriptor.Method

	seq      int
	compiled *scope.Scope
}

// CompiledScope returns the compiled scope, nil when unscoped.
func (h *Hook) CompiledScope() *scope.Scope { return h.compiled }

// Seq is the discovery order.
func (h *Hook) Seq() int { return h.seq }

func (h *Hook) String() string {
	return fmt.Sprintf("[%s order=%d] %s", h.Kind, h.Order, h.Method.ID())
}
