package config

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormasoftchile/stepbind/pkg/kernel/match"
	"github.com/ormasoftchile/stepbind/pkg/kernel/outcome"
)

func testdata(name string) string { return filepath.Join("testdata", name) }

func TestLoadFileYAML(t *testing.T) {
	cfg, err := LoadFile(testdata("stepbind.yaml"))
	require.NoError(t, err)

	assert.Equal(t, outcome.Policy{
		StopAtFirstError:      true,
		MissingOrPendingSteps: outcome.MissingInconclusive,
		Obsolete:              outcome.ObsoleteError,
	}, cfg.Policy())
	assert.Equal(t, 4, cfg.Runtime.Workers)
	assert.Equal(t, match.SnippetRegex, cfg.SnippetStyle())

	opts := cfg.TraceOptions()
	assert.False(t, opts.TraceSuccessfulSteps)
	assert.True(t, opts.TraceTimings)
	assert.Equal(t, 250*time.Millisecond, opts.MinTracedDuration)
	assert.Equal(t, "run.jsonl", cfg.Trace.File)
	assert.Equal(t, "de", cfg.Language)

	issues := Validate(cfg)
	assert.False(t, HasErrors(issues))
	require.Len(t, issues, 1)
	assert.Equal(t, "warning", issues[0].Severity)
	assert.Equal(t, "runtime.stopAtFirstError", issues[0].Path)
}

func TestLoadFileTOMLKeepsDefaults(t *testing.T) {
	cfg, err := LoadFile(testdata("stepbind.toml"))
	require.NoError(t, err)

	assert.Equal(t, outcome.MissingIgnore, cfg.Policy().MissingOrPendingSteps)
	assert.Equal(t, outcome.ObsoleteWarn, cfg.Policy().Obsolete)
	assert.Equal(t, 2, cfg.Runtime.Workers)
	assert.Equal(t, time.Second, cfg.Trace.MinTracedDuration.Duration)
	assert.True(t, cfg.Trace.TraceSuccessfulSteps)
	assert.Equal(t, "fr", cfg.Language)
}

func TestLoadFileJSON(t *testing.T) {
	cfg, err := LoadFile(testdata("stepbind.json"))
	require.NoError(t, err)

	assert.Equal(t, outcome.ObsoletePending, cfg.Policy().Obsolete)
	assert.Equal(t, 10*time.Millisecond, cfg.TraceOptions().MinTracedDuration)
	assert.Empty(t, Validate(cfg))
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := LoadFile(testdata("unknown_key.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "structural decode")

	_, err = Load(strings.NewReader("[runtime]\nworkerz = 3\n"), FormatTOML)
	assert.ErrorContains(t, err, "runtime.workerz")

	_, err = Load(strings.NewReader(`{"tracing": {}}`), FormatJSON)
	assert.Error(t, err)
}

func TestLoadEmptyDocumentIsDefault(t *testing.T) {
	for _, f := range []Format{FormatYAML, FormatTOML, FormatJSON} {
		cfg, err := Load(strings.NewReader(""), f)
		require.NoError(t, err, f)
		assert.Equal(t, Default(), cfg, f)
	}
}

func TestFormatFromPath(t *testing.T) {
	f, err := FormatFromPath("conf/stepbind.YML")
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, f)

	_, err = FormatFromPath("stepbind.ini")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestValidateFileSemanticErrors(t *testing.T) {
	_, errs := ValidateFile(testdata("invalid.yaml"))
	require.True(t, HasErrors(errs))

	var paths []string
	for _, e := range errs {
		assert.Equal(t, "semantic", e.Phase)
		paths = append(paths, e.Path)
	}
	assert.Contains(t, paths, "runtime.missingOrPendingStepsOutcome")
	assert.Contains(t, paths, "runtime.workers")
}

func TestValidateDomain(t *testing.T) {
	cfg := Default()
	cfg.Language = "xx"
	cfg.Trace.TraceTimings = true
	errs := Validate(cfg)
	require.Len(t, errs, 2)
	assert.Equal(t, "language", errs[0].Path)
	assert.Equal(t, "error", errs[0].Severity)
	assert.Equal(t, "warning", errs[1].Severity)
}

func TestValidateDefault(t *testing.T) {
	assert.Empty(t, Validate(Default()))
}

func TestGenerateJSONSchema(t *testing.T) {
	data, err := GenerateJSONSchema()
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, schemaID, doc["$id"])
	assert.Contains(t, string(data), "missingOrPendingStepsOutcome")
	assert.Contains(t, string(data), "cucumberExpression")
}
