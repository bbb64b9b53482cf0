package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormasoftchile/stepbind/pkg/kernel/outcome"
)

func TestBusDeliversInOrderWithFilters(t *testing.T) {
	bus := NewBus()
	all := &Recorder{}
	steps := &Recorder{}
	bus.Subscribe(all)
	bus.Subscribe(steps, StepStarted, StepFinished)

	bus.Publish(Event{Type: ScenarioStarted})
	bus.Publish(Event{Type: StepStarted})
	bus.Publish(Event{Type: StepFinished})
	bus.Publish(Event{Type: ScenarioFinished})

	assert.Equal(t, []Type{ScenarioStarted, StepStarted, StepFinished, ScenarioFinished}, all.Types())
	assert.Equal(t, []Type{StepStarted, StepFinished}, steps.Types())
	for _, e := range all.Events() {
		assert.False(t, e.Time.IsZero())
	}
}

func TestListenerFunc(t *testing.T) {
	var got []Type
	bus := NewBus()
	bus.Subscribe(ListenerFunc(func(e Event) { got = append(got, e.Type) }))
	bus.Publish(Event{Type: HookStarted})
	Nop().Publish(Event{Type: HookFinished})
	assert.Equal(t, []Type{HookStarted}, got)
}

func TestToCloudEvent(t *testing.T) {
	e := Event{
		Type:     StepFinished,
		Time:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		RunID:    "run-1",
		Worker:   2,
		Scenario: "Pay",
		Step:     "When I pay",
		Status:   outcome.TestError,
		Duration: 1500 * time.Millisecond,
		Err:      errors.New("card declined"),
	}
	ce, err := ToCloudEvent(e)
	require.NoError(t, err)
	assert.Equal(t, "io.stepbind.step_finished", ce.Type())
	assert.Equal(t, CloudEventSource, ce.Source())
	assert.NotEmpty(t, ce.ID())
	assert.Equal(t, "run-1", ce.Extensions()["runid"])

	var data map[string]any
	require.NoError(t, json.Unmarshal(ce.Data(), &data))
	assert.Equal(t, "test_error", data["status"])
	assert.Equal(t, "card declined", data["error"])
	assert.EqualValues(t, 1500, data["duration_ms"])
}

func TestCloudEventWriter(t *testing.T) {
	var buf bytes.Buffer
	bus := NewBus()
	bus.Subscribe(NewCloudEventWriter(&buf, nil))
	bus.Publish(Event{Type: TestRunStarted, RunID: "r"})
	bus.Publish(Event{Type: TestRunFinished, RunID: "r"})

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	var first map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &first))
	assert.Equal(t, "io.stepbind.test_run_started", first["type"])
	assert.Equal(t, "1.0", first["specversion"])
}
