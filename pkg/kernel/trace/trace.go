// Package trace writes the engine's lifecycle events as an append-only,
// hash-chained JSONL trace.
package trace

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ormasoftchile/stepbind/pkg/kernel/events"
	"github.com/ormasoftchile/stepbind/pkg/kernel/logging"
	"github.com/ormasoftchile/stepbind/pkg/kernel/outcome"
)

// genesis is the prev_hash of the first record.
var genesis = strings.Repeat("0", 64)

// Record is a single line of the JSONL trace.
type Record struct {
	Type      events.Type    `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id"`
	PrevHash  string         `json:"prev_hash"`
	Data      map[string]any `json:"data,omitempty"`
}

// Options filter and decorate traced events.
type Options struct {
	// TraceSuccessfulSteps keeps step_finished records of passed steps.
	TraceSuccessfulSteps bool
	// TraceTimings adds durations to finished records that took at least
	// MinTracedDuration.
	TraceTimings      bool
	MinTracedDuration time.Duration
	// SigningKey, when set, signs the chain hash on test_run_finished.
	SigningKey   string
	SigningKeyID string
}

// Writer writes trace records to an append-only JSONL stream. It is an
// events.Listener.
type Writer struct {
	mu       sync.Mutex
	w        io.Writer
	closer   io.Closer
	runID    string
	opts     Options
	prevHash string
	log      logging.Logger
}

// NewWriter creates a trace writer that writes to the given io.Writer.
func NewWriter(w io.Writer, runID string, opts Options) *Writer {
	return &Writer{w: w, runID: runID, opts: opts, prevHash: genesis, log: logging.Nop()}
}

// NewFileWriter creates a trace writer that truncates and writes a JSONL file.
func NewFileWriter(path, runID string, opts Options) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	tw := NewWriter(f, runID, opts)
	tw.closer = f
	return tw, nil
}

// SetLogger sets where write failures seen by OnEvent are reported.
func (tw *Writer) SetLogger(l logging.Logger) { tw.log = logging.OrNop(l) }

// Close closes the underlying file, if the writer opened one.
func (tw *Writer) Close() error {
	if tw.closer == nil {
		return nil
	}
	return tw.closer.Close()
}

// Emit writes a single record chained to the previous one.
func (tw *Writer) Emit(eventType events.Type, ts time.Time, data map[string]any) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.emitLocked(eventType, ts, data)
}

func (tw *Writer) emitLocked(eventType events.Type, ts time.Time, data map[string]any) error {
	if ts.IsZero() {
		ts = time.Now()
	}
	rec := Record{
		Type:      eventType,
		Timestamp: ts.UTC(),
		RunID:     tw.runID,
		PrevHash:  tw.prevHash,
		Data:      data,
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal trace record: %w", err)
	}
	if _, err := tw.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write trace record: %w", err)
	}
	h := sha256.Sum256(line)
	tw.prevHash = hex.EncodeToString(h[:])
	return nil
}

// OnEvent traces a lifecycle event, subject to the writer's options.
func (tw *Writer) OnEvent(e events.Event) {
	if e.Type == events.StepFinished && e.Status == outcome.Passed && !tw.opts.TraceSuccessfulSteps {
		return
	}
	data := map[string]any{"worker": e.Worker}
	put := func(k, v string) {
		if v != "" {
			data[k] = v
		}
	}
	put("feature", e.Feature)
	put("scenario", e.Scenario)
	put("step", e.Step)
	put("location", e.Location)
	put("hook", e.Hook)
	put("method", e.Method)
	put("error", e.Error())
	if len(e.Tags) > 0 {
		data["tags"] = e.Tags
	}
	if finished(e.Type) {
		data["status"] = e.Status.String()
		if tw.opts.TraceTimings && e.Duration >= tw.opts.MinTracedDuration {
			data["duration"] = e.Duration.String()
		}
	}
	for k, v := range e.Data {
		data[k] = v
	}

	tw.mu.Lock()
	defer tw.mu.Unlock()
	if e.Type == events.TestRunFinished {
		data["chain_hash"] = tw.prevHash
		if tw.opts.SigningKey != "" {
			data["signature"] = sign(tw.opts.SigningKey, tw.prevHash)
			if tw.opts.SigningKeyID != "" {
				data["signing_key_id"] = tw.opts.SigningKeyID
			}
		}
	}
	if err := tw.emitLocked(e.Type, e.Time, data); err != nil {
		tw.log.Error("trace write failed", "type", string(e.Type), "error", err)
	}
}

func finished(t events.Type) bool {
	switch t {
	case events.TestRunFinished, events.FeatureFinished, events.ScenarioFinished, events.StepFinished,
		events.HookFinished, events.HookBindingFinished, events.StepBindingFinished, events.ScenarioSkipped, events.StepSkipped:
		return true
	}
	return false
}

func sign(key, chainHash string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(chainHash))
	return hex.EncodeToString(mac.Sum(nil))
}
