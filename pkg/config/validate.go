package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	gherkin "github.com/cucumber/gherkin/go/v26"
	"github.com/invopop/jsonschema"
	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

const schemaID = "https://github.com/ormasoftchile/stepbind/schemas/config-v1.json"

// ValidationError is one error or warning from the validation pipeline.
type ValidationError struct {
	Phase    string `json:"phase"` // structural, semantic, domain
	Path     string `json:"path"`
	Message  string `json:"message"`
	Severity string `json:"severity"` // error, warning
}

func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("[%s] %s at %s", e.Phase, e.Message, e.Path)
	}
	return fmt.Sprintf("[%s] %s", e.Phase, e.Message)
}

func errorf(phase, path, msg string, args ...any) *ValidationError {
	return &ValidationError{Phase: phase, Path: path, Message: fmt.Sprintf(msg, args...), Severity: "error"}
}

func warningf(phase, path, msg string, args ...any) *ValidationError {
	return &ValidationError{Phase: phase, Path: path, Message: fmt.Sprintf(msg, args...), Severity: "warning"}
}

// HasErrors reports whether any entry has error severity.
func HasErrors(errs []*ValidationError) bool {
	for _, e := range errs {
		if e.Severity == "error" {
			return true
		}
	}
	return false
}

// GenerateJSONSchema produces the JSON Schema (Draft 2020-12) of the
// configuration document.
func GenerateJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	s := r.Reflect(&Config{})
	s.ID = schemaID
	s.Title = "stepbind configuration"
	s.Description = "Runtime policy and trace options for the stepbind engine"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return data, nil
}

// ValidateFile loads and validates a configuration file.
func ValidateFile(path string) (*Config, []*ValidationError) {
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, []*ValidationError{errorf("structural", "", "failed to load: %s", err)}
	}
	return cfg, Validate(cfg)
}

// Validate runs the semantic phase (JSON Schema) and, when it passes, the
// domain phase.
func Validate(cfg *Config) []*ValidationError {
	errs := validateSemantic(cfg)
	if HasErrors(errs) {
		return errs
	}
	return append(errs, validateDomain(cfg)...)
}

func validateSemantic(cfg *Config) []*ValidationError {
	schemaJSON, err := GenerateJSONSchema()
	if err != nil {
		return []*ValidationError{errorf("semantic", "", "generate schema: %s", err)}
	}
	schemaDoc, err := sjsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return []*ValidationError{errorf("semantic", "", "unmarshal schema: %s", err)}
	}

	c := sjsonschema.NewCompiler()
	if err := c.AddResource(schemaID, schemaDoc); err != nil {
		return []*ValidationError{errorf("semantic", "", "add schema resource: %s", err)}
	}
	sch, err := c.Compile(schemaID)
	if err != nil {
		return []*ValidationError{errorf("semantic", "", "compile schema: %s", err)}
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return []*ValidationError{errorf("semantic", "", "marshal for schema validation: %s", err)}
	}
	doc, err := sjsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return []*ValidationError{errorf("semantic", "", "unmarshal document: %s", err)}
	}

	err = sch.Validate(doc)
	if err == nil {
		return nil
	}
	ve, ok := err.(*sjsonschema.ValidationError)
	if !ok {
		return []*ValidationError{errorf("semantic", "", "%s", err)}
	}
	var errs []*ValidationError
	for _, cause := range flatten(ve) {
		errs = append(errs, errorf("semantic", strings.Join(cause.InstanceLocation, "."), "%v", cause.ErrorKind))
	}
	return errs
}

func flatten(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, c := range ve.Causes {
		flat = append(flat, flatten(c)...)
	}
	return flat
}

func validateDomain(cfg *Config) []*ValidationError {
	var errs []*ValidationError
	if cfg.Language != "" && gherkin.DialectsBuiltin().GetDialect(cfg.Language) == nil {
		errs = append(errs, errorf("domain", "language", "unknown gherkin dialect %q", cfg.Language))
	}
	if cfg.BindingCulture == "" {
		errs = append(errs, warningf("domain", "bindingCulture", "binding culture is empty, conversions use the invariant culture"))
	}
	if cfg.Trace.TraceTimings && cfg.Trace.File == "" {
		errs = append(errs, warningf("domain", "trace.traceTimings", "timings are only recorded when trace.file is set"))
	}
	if cfg.Runtime.StopAtFirstError && cfg.Runtime.Workers > 1 {
		errs = append(errs, warningf("domain", "runtime.stopAtFirstError", "stopAtFirstError applies per scenario, other workers keep running"))
	}
	return errs
}
