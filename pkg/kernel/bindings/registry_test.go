package bindings

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormasoftchile/stepbind/pkg/kernel/descriptor"
	"github.com/ormasoftchile/stepbind/pkg/kernel/feature"
	"github.com/ormasoftchile/stepbind/pkg/kernel/scope"
)

func method(typ, name string, kinds ...descriptor.ValueKind) descriptor.Method {
	m := descriptor.Method{DeclaringType: typ, Name: name}
	for _, k := range kinds {
		m.Params = append(m.Params, descriptor.Param{Kind: k})
	}
	return m
}

func TestAddRejectsAbstractDeclaringType(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.AddType(descriptor.Type{FullName: "steps.Base", Abstract: true}))
	err := r.AddStepDefinition(&StepDefinition{Type: feature.StepGiven, Pattern: "x", Method: method("steps.Base", "X")})
	require.ErrorIs(t, err, ErrAbstractDeclaringType)
	err = r.AddHook(&Hook{Kind: BeforeScenario, Method: method("steps.Base", "Setup")})
	require.ErrorIs(t, err, ErrAbstractDeclaringType)
}

func TestAddRejectsUnknownHookKind(t *testing.T) {
	r := NewRegistry(nil)
	err := r.AddHook(&Hook{Kind: "before_lunch", Method: method("steps.S", "Eat")})
	require.ErrorIs(t, err, ErrUnknownHookKind)
}

func TestFreezeCompilesAndIndexes(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.AddStepDefinition(&StepDefinition{Type: feature.StepGiven, Pattern: "I have {int} items", Method: method("steps.S", "Have", descriptor.KindInt)}))
	require.NoError(t, r.AddStepDefinition(&StepDefinition{Type: feature.StepWhen, Pattern: "I buy {int}", Method: method("steps.S", "Buy", descriptor.KindInt)}))
	require.NoError(t, r.AddStepDefinition(&StepDefinition{Pattern: "I wait", Method: method("steps.S", "Wait")}))

	errs := r.Freeze()
	require.Empty(t, errs)
	require.NoError(t, r.Err())

	given := r.StepDefinitions(feature.StepGiven)
	require.Len(t, given, 2)
	assert.Equal(t, "Have", given[0].Method.Name)
	assert.Equal(t, "Wait", given[1].Method.Name)
	assert.True(t, given[0].Valid())
	assert.Equal(t, feature.StepAny, given[1].Type)

	require.ErrorIs(t, r.AddStepDefinition(&StepDefinition{Pattern: "late", Method: method("steps.S", "Late")}), ErrFrozen)
	require.ErrorIs(t, r.AddHook(&Hook{Kind: AfterStep, Method: method("steps.S", "Late")}), ErrFrozen)
}

func TestFreezeBatchesStructuralErrors(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.AddType(descriptor.Type{FullName: "steps.Base"}))
	require.NoError(t, r.AddType(descriptor.Type{FullName: "steps.Derived", Base: "steps.Base"}))
	require.NoError(t, r.AddStepDefinition(&StepDefinition{Type: feature.StepGiven, Pattern: "I have {nope}", Method: method("steps.Base", "Bad")}))

	many := make([]descriptor.ValueKind, MaxParameters+1)
	for i := range many {
		many[i] = descriptor.KindString
	}
	require.NoError(t, r.AddStepDefinition(&StepDefinition{Type: feature.StepGiven, Pattern: "too many", Method: method("steps.Base", "Many", many...)}))
	require.NoError(t, r.AddStepDefinition(&StepDefinition{Type: feature.StepGiven, Pattern: "scoped", Method: method("steps.Base", "Scoped"), Scope: scope.Spec{Tags: "a and b"}}))
	require.NoError(t, r.AddHook(&Hook{Kind: BeforeScenario, Method: method("steps.Base", "Setup")}))
	require.NoError(t, r.AddHook(&Hook{Kind: BeforeScenario, Method: method("steps.Base", "Setup")}))
	require.NoError(t, r.AddHook(&Hook{Kind: BeforeFeature, Method: method("steps.Base", "Keyed"), Scope: scope.Spec{Keyword: feature.KeywordGiven}}))

	errs := r.Freeze()
	require.True(t, errs.HasErrors())

	var messages []string
	for _, e := range errs {
		messages = append(messages, e.Severity+": "+e.Message)
	}
	joined := strings.Join(messages, "\n")
	assert.Contains(t, joined, "error: binding type steps.Derived cannot inherit from binding type steps.Base")
	assert.Contains(t, joined, "undefined parameter type")
	assert.Contains(t, joined, "more than 10 parameters")
	assert.Contains(t, joined, "invalid tag expression")
	assert.Contains(t, joined, "duplicate before_scenario hook steps.Base.Setup")
	assert.Contains(t, joined, "warning: keyword scope on a feature hook never matches")

	bad := r.AllStepDefinitions()[0]
	assert.False(t, bad.Valid())
	require.Error(t, bad.Err())

	var verr ValidationErrors
	require.ErrorAs(t, r.Err(), &verr)
}

func TestFreezeIsIdempotent(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.AddHook(&Hook{Kind: BeforeScenario, Method: method("steps.S", "A")}))
	require.NoError(t, r.AddHook(&Hook{Kind: BeforeScenario, Method: method("steps.S", "A")}))
	first := r.Freeze()
	second := r.Freeze()
	assert.Equal(t, first, second)
	assert.Len(t, second, 1)
}

func TestHooksSortedByOrderThenDiscovery(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.AddHook(&Hook{Kind: BeforeScenario, Order: 10, Method: method("steps.S", "Late")}))
	require.NoError(t, r.AddHook(&Hook{Kind: BeforeScenario, Method: method("steps.S", "First")}))
	require.NoError(t, r.AddHook(&Hook{Kind: BeforeScenario, Method: method("steps.S", "Second")}))
	require.NoError(t, r.AddHook(&Hook{Kind: BeforeScenario, Order: -5, Method: method("steps.S", "Earliest")}))
	require.Empty(t, r.Freeze())

	var names []string
	for _, h := range r.Hooks(BeforeScenario) {
		names = append(names, h.Method.Name)
	}
	assert.Equal(t, []string{"Earliest", "First", "Second", "Late"}, names)
}

func TestEnumParametersObservedAtFreeze(t *testing.T) {
	r := NewRegistry(nil)
	color := &descriptor.EnumType{FullName: "shop.Color", Values: []string{"Red"}}
	m := descriptor.Method{DeclaringType: "steps.S", Name: "Pick", Params: []descriptor.Param{{Kind: descriptor.KindEnum, Enum: color}}}
	require.NoError(t, r.AddStepDefinition(&StepDefinition{Type: feature.StepGiven, Pattern: "I pick {Color}", Method: m}))
	require.Empty(t, r.Freeze())
	assert.True(t, r.Params().Frozen())
	_, err := r.Params().Lookup("shop.Color")
	require.NoError(t, err)
}

func TestParseHookKind(t *testing.T) {
	for in, want := range map[string]HookKind{
		"BeforeScenario":      BeforeScenario,
		"after_test_run":      AfterTestRun,
		"beforeScenarioBlock": BeforeScenarioBlock,
		"AFTER_STEP":          AfterStep,
	} {
		got, err := ParseHookKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseHookKind("during")
	require.Error(t, err)
}
