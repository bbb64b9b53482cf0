// Package testing implements the replay test harness. It runs a feature
// against canned invocation outcomes and evaluates assertions on the
// resulting statuses, the methods invoked and their arguments.
package testing

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// TestSpec declares what to assert about a replayed feature.
// All fields are optional; omitted fields produce no assertions.
type TestSpec struct {
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	// ExpectedStatus is the aggregated run status, e.g. passed or pending.
	ExpectedStatus string `yaml:"expected_status,omitempty" json:"expected_status,omitempty"`
	// ExpectedScenarios maps scenario names to their expected status.
	ExpectedScenarios map[string]string `yaml:"expected_scenarios,omitempty" json:"expected_scenarios,omitempty"`
	// MustInvoke and MustNotInvoke name methods by Type.Name or by full
	// signature.
	MustInvoke    []string `yaml:"must_invoke,omitempty" json:"must_invoke,omitempty"`
	MustNotInvoke []string `yaml:"must_not_invoke,omitempty" json:"must_not_invoke,omitempty"`
	// ExpectedArguments maps a method to the arguments of its first call,
	// rendered comma separated.
	ExpectedArguments map[string]string `yaml:"expected_arguments,omitempty" json:"expected_arguments,omitempty"`
	Tags              []string          `yaml:"tags,omitempty" json:"tags,omitempty"`
}

// LoadTestSpec loads a test spec from a YAML file.
func LoadTestSpec(path string) (*TestSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read test spec: %w", err)
	}
	return ParseTestSpec(data)
}

// ParseTestSpec parses test spec YAML.
func ParseTestSpec(data []byte) (*TestSpec, error) {
	var s TestSpec
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse test spec: %w", err)
	}
	return &s, nil
}

// Invocation is one method call observed during a replay.
type Invocation struct {
	// Method is the full signature, e.g. steps.Cart.Add(int).
	Method    string
	Arguments []any
}

// RunResult captures execution data for assertion evaluation.
type RunResult struct {
	Status    string
	Scenarios map[string]string
	Invoked   []Invocation
	Error     error
}

// invoked returns the first invocation of method, matched by signature or
// by Type.Name.
func (r *RunResult) invoked(method string) (Invocation, bool) {
	for _, inv := range r.Invoked {
		if inv.Method == method || strings.HasPrefix(inv.Method, method+"(") {
			return inv, true
		}
	}
	return Invocation{}, false
}

// AssertionResult is the result of a single assertion.
type AssertionResult struct {
	Type     string `json:"type"` // expected_status, expected_scenario, must_invoke, ...
	Key      string `json:"key,omitempty"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Passed   bool   `json:"passed"`
	Message  string `json:"message,omitempty"`
}

// Evaluate runs all assertions from a TestSpec against a RunResult.
func Evaluate(spec *TestSpec, run *RunResult) []AssertionResult {
	var results []AssertionResult

	if spec.ExpectedStatus != "" {
		results = append(results, AssertionResult{
			Type:     "expected_status",
			Expected: spec.ExpectedStatus,
			Actual:   run.Status,
			Passed:   compareValue(spec.ExpectedStatus, run.Status),
			Message:  fmt.Sprintf("status: expected %q, got %q", spec.ExpectedStatus, run.Status),
		})
	}

	for _, name := range sortedKeys(spec.ExpectedScenarios) {
		expected := spec.ExpectedScenarios[name]
		actual, ok := run.Scenarios[name]
		if !ok {
			actual = "not run"
		}
		results = append(results, AssertionResult{
			Type:     "expected_scenario",
			Key:      name,
			Expected: expected,
			Actual:   actual,
			Passed:   ok && compareValue(expected, actual),
			Message:  fmt.Sprintf("scenario %q: expected %q, got %q", name, expected, actual),
		})
	}

	for _, method := range spec.MustInvoke {
		_, called := run.invoked(method)
		results = append(results, AssertionResult{
			Type:     "must_invoke",
			Key:      method,
			Expected: "invoked",
			Actual:   boolToInvoked(called),
			Passed:   called,
			Message:  fmt.Sprintf("must_invoke %q: %s", method, boolToInvoked(called)),
		})
	}

	for _, method := range spec.MustNotInvoke {
		_, called := run.invoked(method)
		results = append(results, AssertionResult{
			Type:     "must_not_invoke",
			Key:      method,
			Expected: "not invoked",
			Actual:   boolToInvoked(called),
			Passed:   !called,
			Message:  fmt.Sprintf("must_not_invoke %q: %s", method, boolToInvoked(called)),
		})
	}

	for _, method := range sortedKeys(spec.ExpectedArguments) {
		expected := spec.ExpectedArguments[method]
		actual := ""
		inv, called := run.invoked(method)
		if called {
			actual = formatArguments(inv.Arguments)
		}
		results = append(results, AssertionResult{
			Type:     "expected_arguments",
			Key:      method,
			Expected: expected,
			Actual:   actual,
			Passed:   called && compareValue(expected, actual),
			Message:  fmt.Sprintf("arguments of %q: expected %q, got %q", method, expected, actual),
		})
	}

	return results
}

// HasFailures returns true if any assertion failed.
func HasFailures(results []AssertionResult) bool {
	for _, r := range results {
		if !r.Passed {
			return true
		}
	}
	return false
}

// compareValue supports two match modes:
//   - /pattern/ → regex match
//   - exact string equality (default)
func compareValue(expected, actual string) bool {
	if strings.HasPrefix(expected, "/") && strings.HasSuffix(expected, "/") && len(expected) > 2 {
		re, err := regexp.Compile(expected[1 : len(expected)-1])
		if err != nil {
			return false
		}
		return re.MatchString(actual)
	}
	return expected == actual
}

func formatArguments(args []any) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = fmt.Sprint(a)
	}
	return strings.Join(parts, ", ")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func boolToInvoked(b bool) string {
	if b {
		return "invoked"
	}
	return "not invoked"
}
