// Package config loads the engine configuration from YAML, TOML or JSON
// and bridges it into the kernel's policy and trace options.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"

	"github.com/ormasoftchile/stepbind/pkg/kernel/match"
	"github.com/ormasoftchile/stepbind/pkg/kernel/outcome"
	"github.com/ormasoftchile/stepbind/pkg/kernel/trace"
)

// Format is a configuration file format.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatJSON Format = "json"
)

// ErrUnknownFormat is returned for file extensions no decoder handles.
var ErrUnknownFormat = errors.New("unknown config format")

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	case ".json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, filepath.Ext(path))
}

// Duration is a time.Duration written as a Go duration string ("250ms").
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", b, err)
	}
	d.Duration = v
	return nil
}

// JSONSchema describes Duration as a duration string.
func (Duration) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "string",
		Pattern:     `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$|^0$`,
		Description: "Go duration string, e.g. 250ms or 1m30s",
	}
}

// Runtime holds the execution policy.
type Runtime struct {
	StopAtFirstError      bool   `yaml:"stopAtFirstError" toml:"stopAtFirstError" json:"stopAtFirstError"`
	MissingOrPendingSteps string `yaml:"missingOrPendingStepsOutcome" toml:"missingOrPendingStepsOutcome" json:"missingOrPendingStepsOutcome" jsonschema:"enum=pending,enum=inconclusive,enum=ignore,enum=error"`
	ObsoleteBehavior      string `yaml:"obsoleteBehavior" toml:"obsoleteBehavior" json:"obsoleteBehavior" jsonschema:"enum=none,enum=warn,enum=pending,enum=error"`
	Workers               int    `yaml:"workers" toml:"workers" json:"workers" jsonschema:"minimum=1"`
}

// Trace holds the trace and console output options.
type Trace struct {
	TraceSuccessfulSteps bool     `yaml:"traceSuccessfulSteps" toml:"traceSuccessfulSteps" json:"traceSuccessfulSteps"`
	TraceTimings         bool     `yaml:"traceTimings" toml:"traceTimings" json:"traceTimings"`
	MinTracedDuration    Duration `yaml:"minTracedDuration" toml:"minTracedDuration" json:"minTracedDuration"`
	ColoredOutput        bool     `yaml:"coloredOutput" toml:"coloredOutput" json:"coloredOutput"`
	SkeletonStyle        string   `yaml:"stepDefinitionSkeletonStyle" toml:"stepDefinitionSkeletonStyle" json:"stepDefinitionSkeletonStyle" jsonschema:"enum=cucumberExpression,enum=regex"`
	// File is the JSONL trace output path; empty disables the trace.
	File string `yaml:"file,omitempty" toml:"file,omitempty" json:"file,omitempty"`
}

// Config is the engine configuration document.
type Config struct {
	Runtime Runtime `yaml:"runtime" toml:"runtime" json:"runtime"`
	Trace   Trace   `yaml:"trace" toml:"trace" json:"trace"`
	// BindingCulture is the culture name used for value conversion.
	BindingCulture string `yaml:"bindingCulture" toml:"bindingCulture" json:"bindingCulture"`
	// Language is the default Gherkin dialect of feature files.
	Language string `yaml:"language" toml:"language" json:"language"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Runtime: Runtime{
			MissingOrPendingSteps: string(outcome.MissingPending),
			ObsoleteBehavior:      string(outcome.ObsoleteWarn),
			Workers:               1,
		},
		Trace: Trace{
			TraceSuccessfulSteps: true,
			ColoredOutput:        true,
			SkeletonStyle:        string(match.SnippetExpression),
		},
		BindingCulture: "en-US",
		Language:       "en",
	}
}

// LoadFile reads a configuration file, picking the decoder from the
// extension. Fields absent from the file keep their defaults.
func LoadFile(path string) (*Config, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	return Load(f, format)
}

// Load decodes a configuration document strictly: unknown keys are
// structural errors.
func Load(r io.Reader, format Format) (*Config, error) {
	cfg := Default()
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("structural decode: %w", err)
		}
	case FormatTOML:
		md, err := toml.NewDecoder(r).Decode(cfg)
		if err != nil {
			return nil, fmt.Errorf("structural decode: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("structural decode: unknown keys %s", strings.Join(keys, ", "))
		}
	case FormatJSON:
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if len(bytes.TrimSpace(data)) == 0 {
			return cfg, nil
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("structural decode: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	return cfg, nil
}

// Policy converts the runtime section into the resolver policy. Call
// Validate first; unparsable values fall back to their defaults.
func (c *Config) Policy() outcome.Policy {
	p := outcome.DefaultPolicy()
	p.StopAtFirstError = c.Runtime.StopAtFirstError
	if m, err := outcome.ParseMissingStepsOutcome(c.Runtime.MissingOrPendingSteps); err == nil {
		p.MissingOrPendingSteps = m
	}
	if o, err := outcome.ParseObsoleteBehavior(c.Runtime.ObsoleteBehavior); err == nil {
		p.Obsolete = o
	}
	return p
}

// Environment variables holding the trace signing key. Keys never live in
// configuration files.
const (
	EnvTraceSigningKey   = "STEPBIND_TRACE_SIGNING_KEY"
	EnvTraceSigningKeyID = "STEPBIND_TRACE_SIGNING_KEY_ID"
)

// TraceOptions converts the trace section into trace writer options.
func (c *Config) TraceOptions() trace.Options {
	return trace.Options{
		TraceSuccessfulSteps: c.Trace.TraceSuccessfulSteps,
		TraceTimings:         c.Trace.TraceTimings,
		MinTracedDuration:    c.Trace.MinTracedDuration.Duration,
		SigningKey:           os.Getenv(EnvTraceSigningKey),
		SigningKeyID:         os.Getenv(EnvTraceSigningKeyID),
	}
}

// SnippetStyle returns the skeleton style for undefined-step errors.
func (c *Config) SnippetStyle() match.SnippetStyle {
	return match.SnippetStyle(c.Trace.SkeletonStyle)
}
