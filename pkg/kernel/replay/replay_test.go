package replay

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ormasoftchile/stepbind/pkg/kernel/bindings"
	"github.com/ormasoftchile/stepbind/pkg/kernel/descriptor"
	"github.com/ormasoftchile/stepbind/pkg/kernel/feature"
	"github.com/ormasoftchile/stepbind/pkg/kernel/match"
	"github.com/ormasoftchile/stepbind/pkg/kernel/outcome"
)

func TestLoadScenario(t *testing.T) {
	doc := `
steps:
  "steps.Calc.Add":
    - status: passed
    - status: failed
      error: overflow
hooks:
  "steps.Hooks.Reset":
    - status: pending
      error: not written yet
default:
  status: passed
`
	s, err := LoadScenario(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(s.Steps["steps.Calc.Add"]) != 2 {
		t.Errorf("steps count = %d", len(s.Steps["steps.Calc.Add"]))
	}
	if s.Hooks["steps.Hooks.Reset"][0].Status != Pending {
		t.Errorf("hook status = %q", s.Hooks["steps.Hooks.Reset"][0].Status)
	}
}

func TestLoadScenarioRejectsUnknownFields(t *testing.T) {
	_, err := LoadScenario(strings.NewReader("tool_responses: {}\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadScenarioEmpty(t *testing.T) {
	s, err := LoadScenario(strings.NewReader(""))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s.Steps != nil {
		t.Errorf("steps = %v", s.Steps)
	}
}

func addMatch() *match.Match {
	return &match.Match{
		Binding: &bindings.StepDefinition{
			Type:    feature.StepWhen,
			Pattern: "I add {int}",
			Method: descriptor.Method{DeclaringType: "steps.Calc", Name: "Add",
				Params: []descriptor.Param{{Kind: descriptor.KindInt}}},
		},
		Arguments: []match.Argument{{Text: "4", Pos: 6, Value: 4}},
	}
}

func TestInvokeStepConsumesInOrder(t *testing.T) {
	inv := NewInvoker(&Scenario{Steps: map[string][]Outcome{
		"steps.Calc.Add": {{Status: Pass}, {Status: Fail, Error: "overflow"}},
	}})
	step, err := feature.NewStep("When", "I add 4")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := inv.InvokeStep(ctx, addMatch(), step); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if err := inv.InvokeStep(ctx, addMatch(), step); err == nil || err.Error() != "overflow" {
		t.Fatalf("second call = %v, want overflow", err)
	}
	if err := inv.InvokeStep(ctx, addMatch(), step); !errors.Is(err, ErrExhausted) {
		t.Fatalf("third call = %v, want ErrExhausted", err)
	}

	calls := inv.Calls()
	if len(calls) != 3 {
		t.Fatalf("calls = %d", len(calls))
	}
	if calls[0].Method != "steps.Calc.Add(int)" || calls[0].Step != "When I add 4" {
		t.Errorf("call = %+v", calls[0])
	}
	if calls[0].Arguments[0] != 4 {
		t.Errorf("arguments = %v", calls[0].Arguments)
	}
}

func TestInvokeDefaults(t *testing.T) {
	ctx := context.Background()
	h := &bindings.Hook{Kind: bindings.BeforeScenario, Method: descriptor.Method{DeclaringType: "steps.Hooks", Name: "Reset"}}

	if err := NewInvoker(nil).InvokeHook(ctx, h); err != nil {
		t.Errorf("dry run hook = %v", err)
	}

	pending := NewInvoker(&Scenario{Default: Outcome{Status: Pending}})
	if err := pending.InvokeHook(ctx, h); !errors.Is(err, outcome.ErrPending) {
		t.Errorf("default pending = %v", err)
	}
}

func TestOutcomeErrClassification(t *testing.T) {
	r := outcome.NewResolver(outcome.DefaultPolicy(), nil)
	tests := []struct {
		in   Outcome
		want outcome.Status
	}{
		{Outcome{}, outcome.Passed},
		{Outcome{Status: Pass}, outcome.Passed},
		{Outcome{Status: Fail}, outcome.TestError},
		{Outcome{Status: Pending, Error: "later"}, outcome.StepDefinitionPending},
		{Outcome{Status: Skip}, outcome.Skipped},
		{Outcome{Status: Skip, Error: "not on windows"}, outcome.Skipped},
	}
	for _, tt := range tests {
		if got := r.FromError(tt.in.Err()); got != tt.want {
			t.Errorf("%+v: status = %s, want %s", tt.in, got, tt.want)
		}
	}
}
