package testing

import (
	"testing"
)

func TestParseTestSpec(t *testing.T) {
	yaml := `
description: "checkout happy path"
expected_status: passed
expected_scenarios:
  Pay by card: passed
  Pay by voucher: "/pending|undefined/"
must_invoke:
  - shop.Steps.Pay
  - shop.Steps.Cart(int)
must_not_invoke:
  - shop.Steps.Refund
expected_arguments:
  shop.Steps.Cart: "3"
`
	spec, err := ParseTestSpec([]byte(yaml))
	if err != nil {
		t.Fatal(err)
	}
	if spec.ExpectedStatus != "passed" {
		t.Errorf("status = %q", spec.ExpectedStatus)
	}
	if len(spec.ExpectedScenarios) != 2 {
		t.Errorf("expected_scenarios = %d", len(spec.ExpectedScenarios))
	}
	if len(spec.MustInvoke) != 2 {
		t.Errorf("must_invoke = %d", len(spec.MustInvoke))
	}
	if len(spec.MustNotInvoke) != 1 {
		t.Errorf("must_not_invoke = %d", len(spec.MustNotInvoke))
	}
	if spec.ExpectedArguments["shop.Steps.Cart"] != "3" {
		t.Errorf("expected_arguments = %v", spec.ExpectedArguments)
	}
}

func TestParseTestSpec_Invalid(t *testing.T) {
	if _, err := ParseTestSpec([]byte("must_invoke: {")); err == nil {
		t.Error("expected parse error")
	}
}

func TestEvaluate_AllPass(t *testing.T) {
	spec := &TestSpec{
		ExpectedStatus:    "passed",
		ExpectedScenarios: map[string]string{"a": "passed", "b": "/skipped/"},
		MustInvoke:        []string{"s.Steps.One", "s.Steps.Two(string)"},
		MustNotInvoke:     []string{"s.Steps.Three"},
		ExpectedArguments: map[string]string{"s.Steps.Two": "x"},
	}

	run := &RunResult{
		Status:    "passed",
		Scenarios: map[string]string{"a": "passed", "b": "skipped"},
		Invoked: []Invocation{
			{Method: "s.Steps.One()"},
			{Method: "s.Steps.Two(string)", Arguments: []any{"x"}},
			{Method: "s.Steps.Two(string)", Arguments: []any{"y"}},
		},
	}

	results := Evaluate(spec, run)
	if HasFailures(results) {
		for _, r := range results {
			if !r.Passed {
				t.Errorf("unexpected failure: %s: %s", r.Type, r.Message)
			}
		}
	}

	// status, 2 scenarios, 2 must_invoke, 1 must_not_invoke, 1 arguments
	if len(results) != 7 {
		t.Errorf("expected 7 assertions, got %d", len(results))
	}
}

func TestEvaluate_StatusMismatch(t *testing.T) {
	spec := &TestSpec{ExpectedStatus: "passed"}
	run := &RunResult{Status: "test_error"}

	results := Evaluate(spec, run)
	if !HasFailures(results) {
		t.Error("expected failure for status mismatch")
	}
}

func TestEvaluate_ScenarioNotRun(t *testing.T) {
	spec := &TestSpec{ExpectedScenarios: map[string]string{"missing": "/.*/"}}
	run := &RunResult{Scenarios: map[string]string{"other": "passed"}}

	results := Evaluate(spec, run)
	if !HasFailures(results) {
		t.Error("expected failure for a scenario that did not run")
	}
	if results[0].Actual != "not run" {
		t.Errorf("actual = %q", results[0].Actual)
	}
}

func TestEvaluate_MustInvokeFails(t *testing.T) {
	spec := &TestSpec{MustInvoke: []string{"s.Steps.Missing"}}
	run := &RunResult{Invoked: []Invocation{{Method: "s.Steps.MissingNot()"}}}

	results := Evaluate(spec, run)
	if !HasFailures(results) {
		t.Error("expected failure for must_invoke")
	}
}

func TestEvaluate_MustNotInvokeFails(t *testing.T) {
	spec := &TestSpec{MustNotInvoke: []string{"s.Steps.One"}}
	run := &RunResult{Invoked: []Invocation{{Method: "s.Steps.One()"}}}

	results := Evaluate(spec, run)
	if !HasFailures(results) {
		t.Error("expected failure for must_not_invoke")
	}
}

func TestEvaluate_ArgumentsRegex(t *testing.T) {
	spec := &TestSpec{ExpectedArguments: map[string]string{"s.Steps.Add": `/^\d+, \d+$/`}}
	run := &RunResult{Invoked: []Invocation{{Method: "s.Steps.Add(int, int)", Arguments: []any{12, 30}}}}

	results := Evaluate(spec, run)
	if HasFailures(results) {
		t.Errorf("regex should match: %s", results[0].Message)
	}
}

func TestEvaluate_ArgumentsNotInvoked(t *testing.T) {
	spec := &TestSpec{ExpectedArguments: map[string]string{"s.Steps.Add": ""}}
	run := &RunResult{}

	results := Evaluate(spec, run)
	if !HasFailures(results) {
		t.Error("arguments of a method that was never invoked must fail")
	}
}

func TestEvaluate_EmptySpec(t *testing.T) {
	spec := &TestSpec{}
	run := &RunResult{}

	results := Evaluate(spec, run)
	if len(results) != 0 {
		t.Errorf("empty spec should produce 0 assertions, got %d", len(results))
	}
}

func TestHasFailures(t *testing.T) {
	allPass := []AssertionResult{{Passed: true}, {Passed: true}}
	if HasFailures(allPass) {
		t.Error("no failures expected")
	}

	withFail := []AssertionResult{{Passed: true}, {Passed: false}}
	if !HasFailures(withFail) {
		t.Error("failure expected")
	}
}
