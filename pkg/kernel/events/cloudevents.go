package events

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"

	"github.com/ormasoftchile/stepbind/pkg/kernel/logging"
)

const (
	// CloudEventSource is the source attribute of converted events.
	CloudEventSource = "stepbind"
	// CloudEventTypePrefix prefixes every converted event type.
	CloudEventTypePrefix = "io.stepbind."
)

type cloudEventData struct {
	Feature    string         `json:"feature,omitempty"`
	Scenario   string         `json:"scenario,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
	Step       string         `json:"step,omitempty"`
	Location   string         `json:"location,omitempty"`
	Hook       string         `json:"hook,omitempty"`
	Method     string         `json:"method,omitempty"`
	Status     string         `json:"status"`
	DurationMs int64          `json:"duration_ms,omitempty"`
	Error      string         `json:"error,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// ToCloudEvent renders a lifecycle event as a CloudEvent with a time-ordered
// id. The run id and worker travel as extensions.
func ToCloudEvent(e Event) (cloudevents.Event, error) {
	ce := cloudevents.NewEvent()
	ce.SetID(eventID())
	ce.SetSource(CloudEventSource)
	ce.SetType(CloudEventTypePrefix + string(e.Type))
	ce.SetTime(e.Time)
	ce.SetSpecVersion(cloudevents.VersionV1)
	if e.RunID != "" {
		ce.SetExtension("runid", e.RunID)
	}
	ce.SetExtension("worker", e.Worker)

	data := cloudEventData{
		Feature:    e.Feature,
		Scenario:   e.Scenario,
		Tags:       e.Tags,
		Step:       e.Step,
		Location:   e.Location,
		Hook:       e.Hook,
		Method:     e.Method,
		Status:     e.Status.String(),
		DurationMs: e.Duration.Milliseconds(),
		Error:      e.Error(),
		Data:       e.Data,
	}
	if err := ce.SetData(cloudevents.ApplicationJSON, data); err != nil {
		return ce, fmt.Errorf("set cloud event data: %w", err)
	}
	if err := ce.Validate(); err != nil {
		return ce, fmt.Errorf("cloud event validation failed: %w", err)
	}
	return ce, nil
}

func eventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

// CloudEventWriter writes every event as one JSON-encoded CloudEvent per line.
type CloudEventWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
	log logging.Logger
}

// NewCloudEventWriter returns a listener writing to w. Conversion and write
// failures are logged, never returned to the engine.
func NewCloudEventWriter(w io.Writer, log logging.Logger) *CloudEventWriter {
	return &CloudEventWriter{enc: json.NewEncoder(w), log: logging.OrNop(log)}
}

func (c *CloudEventWriter) OnEvent(e Event) {
	ce, err := ToCloudEvent(e)
	if err != nil {
		c.log.Debug("failed to convert event", "type", string(e.Type), "error", err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enc.Encode(ce); err != nil {
		c.log.Debug("failed to write cloud event", "type", string(e.Type), "error", err)
	}
}
