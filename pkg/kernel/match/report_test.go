package match

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ormasoftchile/stepbind/pkg/kernel/descriptor"
	"github.com/ormasoftchile/stepbind/pkg/kernel/feature"
	"github.com/ormasoftchile/stepbind/pkg/kernel/scope"
)

func TestOutcomeReport(t *testing.T) {
	m := newMatcher(t,
		def(feature.StepGiven, "I add {int} and {int}", "Add", descriptor.KindInt, descriptor.KindInt),
		def(feature.StepGiven, "I add (.*) and (.*)", "AddRaw", descriptor.KindInt, descriptor.KindInt),
	)

	st := step(t, "Given", "I add 3 and 4")
	r := m.Match(st, scope.Context{}).Report(st)
	assert.Equal(t, "Given I add 3 and 4", r.Step)
	assert.Equal(t, "ambiguous", r.Kind)
	assert.Equal(t, []string{"calc.Steps.Add(int, int)", "calc.Steps.AddRaw(int, int)"}, r.Candidates)
	assert.NotEmpty(t, r.Error)

	st = step(t, "When", "I subtract")
	r = m.Match(st, scope.Context{}).Report(st)
	assert.Equal(t, "undefined", r.Kind)
	assert.Empty(t, r.Method)
	assert.Nil(t, r.Score)
}

func TestOutcomeReportMatched(t *testing.T) {
	m := newMatcher(t, def(feature.StepGiven, "I add {int} and {int}", "Add", descriptor.KindInt, descriptor.KindInt))
	st := step(t, "Given", "I add 3 and 4")
	r := m.Match(st, scope.Context{}).Report(st)
	assert.Equal(t, "matched", r.Kind)
	assert.Equal(t, "calc.Steps.Add(int, int)", r.Method)
	assert.Equal(t, "I add {int} and {int}", r.Pattern)
	assert.Len(t, r.Arguments, 2)
	assert.NotNil(t, r.Score)
	assert.Empty(t, r.Error)
}
