package bindings

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"

	"github.com/ormasoftchile/stepbind/pkg/kernel/descriptor"
	"github.com/ormasoftchile/stepbind/pkg/kernel/feature"
	"github.com/ormasoftchile/stepbind/pkg/kernel/params"
	"github.com/ormasoftchile/stepbind/pkg/kernel/scope"
)

// Manifest is the declarative output of an external discovery pass.
type Manifest struct {
	Types           []descriptor.Type        `yaml:"types,omitempty" json:"types,omitempty"`
	Enums           []descriptor.EnumType    `yaml:"enums,omitempty" json:"enums,omitempty"`
	Transformations []ManifestTransformation `yaml:"transformations,omitempty" json:"transformations,omitempty"`
	Steps           []ManifestStep           `yaml:"steps,omitempty" json:"steps,omitempty"`
	Hooks           []ManifestHook           `yaml:"hooks,omitempty" json:"hooks,omitempty"`
}

// ManifestTransformation declares a custom parameter type.
type ManifestTransformation struct {
	Name     string               `yaml:"name,omitempty" json:"name,omitempty"`
	Kind     descriptor.ValueKind `yaml:"kind" json:"kind"`
	Enum     string               `yaml:"enum,omitempty" json:"enum,omitempty"`
	Regex    []string             `yaml:"regex,omitempty" json:"regex,omitempty"`
	Snippets bool                 `yaml:"snippets,omitempty" json:"snippets,omitempty"`
	Weight   int                  `yaml:"weight,omitempty" json:"weight,omitempty"`
}

// ManifestParam is a method parameter; enum parameters name an entry of
// Manifest.Enums.
type ManifestParam struct {
	Name string               `yaml:"name,omitempty" json:"name,omitempty"`
	Kind descriptor.ValueKind `yaml:"kind" json:"kind"`
	Enum string               `yaml:"enum,omitempty" json:"enum,omitempty"`
}

// ManifestMethod is a bound method.
type ManifestMethod struct {
	Type   string          `yaml:"type" json:"type"`
	Name   string          `yaml:"name" json:"name"`
	Params []ManifestParam `yaml:"params,omitempty" json:"params,omitempty"`
	Async  bool            `yaml:"async,omitempty" json:"async,omitempty"`
}

// ManifestStep declares a step definition.
type ManifestStep struct {
	Type     string         `yaml:"type" json:"type" jsonschema:"enum=given,enum=when,enum=then,enum=any"`
	Pattern  string         `yaml:"pattern" json:"pattern"`
	Method   ManifestMethod `yaml:"method" json:"method"`
	Scope    *scope.Spec    `yaml:"scope,omitempty" json:"scope,omitempty"`
	Obsolete *Obsolescence  `yaml:"obsolete,omitempty" json:"obsolete,omitempty"`
}

// ManifestHook declares a hook.
type ManifestHook struct {
	Kind   string         `yaml:"kind" json:"kind"`
	Order  int            `yaml:"order,omitempty" json:"order,omitempty"`
	Method ManifestMethod `yaml:"method" json:"method"`
	Scope  *scope.Spec    `yaml:"scope,omitempty" json:"scope,omitempty"`
}

// LoadManifestFile reads and structurally decodes a binding manifest.
func LoadManifestFile(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()
	return LoadManifest(f)
}

// LoadManifest decodes a manifest, rejecting unknown fields.
func LoadManifest(r io.Reader) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil && err != io.EOF {
		return nil, fmt.Errorf("structural decode: %w", err)
	}
	return &m, nil
}

func (m *Manifest) method(mm ManifestMethod) (descriptor.Method, error) {
	out := descriptor.Method{Name: mm.Name, DeclaringType: mm.Type, Async: mm.Async}
	for _, p := range mm.Params {
		dp := descriptor.Param{Name: p.Name, Kind: p.Kind}
		if p.Kind == descriptor.KindEnum {
			e, err := m.enum(p.Enum)
			if err != nil {
				return out, fmt.Errorf("%s.%s: %w", mm.Type, mm.Name, err)
			}
			dp.Enum = e
		}
		out.Params = append(out.Params, dp)
	}
	return out, nil
}

func (m *Manifest) enum(name string) (*descriptor.EnumType, error) {
	for i := range m.Enums {
		if m.Enums[i].FullName == name {
			return &m.Enums[i], nil
		}
	}
	return nil, fmt.Errorf("unknown enum %q", name)
}

// Build adds every declared type, transformation and binding to a new
// registry. The registry is not frozen.
func (m *Manifest) Build() (*Registry, error) {
	r := NewRegistry(nil)
	for _, t := range m.Types {
		if err := r.AddType(t); err != nil {
			return nil, err
		}
	}
	for i, t := range m.Transformations {
		tr := params.Transformation{
			Name:           t.Name,
			Kind:           t.Kind,
			Regexps:        t.Regex,
			UseForSnippets: t.Snippets,
			Weight:         t.Weight,
		}
		if t.Kind == descriptor.KindEnum {
			e, err := m.enum(t.Enum)
			if err != nil {
				return nil, fmt.Errorf("transformations[%d]: %w", i, err)
			}
			tr.Enum = e
		}
		if err := r.AddTransformation(tr); err != nil {
			return nil, fmt.Errorf("transformations[%d]: %w", i, err)
		}
	}
	for i, s := range m.Steps {
		st, err := feature.ParseStepType(s.Type)
		if err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
		method, err := m.method(s.Method)
		if err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
		d := &StepDefinition{Type: st, Pattern: s.Pattern, Method: method, Obsolete: s.Obsolete}
		if s.Scope != nil {
			d.Scope = *s.Scope
		}
		if err := r.AddStepDefinition(d); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	for i, h := range m.Hooks {
		kind, err := ParseHookKind(h.Kind)
		if err != nil {
			return nil, fmt.Errorf("hooks[%d]: %w", i, err)
		}
		method, err := m.method(h.Method)
		if err != nil {
			return nil, fmt.Errorf("hooks[%d]: %w", i, err)
		}
		hook := &Hook{Kind: kind, Order: h.Order, Method: method}
		if h.Scope != nil {
			hook.Scope = *h.Scope
		}
		if err := r.AddHook(hook); err != nil {
			return nil, fmt.Errorf("hooks[%d]: %w", i, err)
		}
	}
	return r, nil
}

// LoadRegistryFile loads a manifest, builds its registry and freezes it.
// Structural binding errors are returned as ValidationErrors together with
// the registry so callers can still list what was declared.
func LoadRegistryFile(path string) (*Registry, error) {
	m, err := LoadManifestFile(path)
	if err != nil {
		return nil, err
	}
	r, err := m.Build()
	if err != nil {
		return nil, fmt.Errorf("build registry: %w", err)
	}
	if errs := r.Freeze(); errs.HasErrors() {
		return r, errs
	}
	return r, nil
}

// GenerateManifestJSONSchema produces a JSON Schema document for binding
// manifests.
func GenerateManifestJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	s := r.Reflect(&Manifest{})
	s.ID = "https://github.com/ormasoftchile/stepbind/schemas/manifest-v1.json"
	s.Title = "Step binding manifest"
	s.Description = "Schema for binding manifests produced by discovery (Draft 2020-12)"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal manifest schema: %w", err)
	}
	return data, nil
}
