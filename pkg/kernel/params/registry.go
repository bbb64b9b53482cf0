// Package params implements the parameter type registry: the typed
// placeholders step expressions can reference, their regex fragments, and
// the conversions from captured text to values.
package params

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ormasoftchile/stepbind/pkg/kernel/descriptor"
)

var (
	ErrFrozen               = errors.New("parameter type registry is frozen")
	ErrUnknownParameterType = errors.New("unknown parameter type")
	ErrAmbiguousShortName   = errors.New("ambiguous parameter type short name")
	ErrKindConflict         = errors.New("parameter type registered with conflicting kinds")
	ErrInvalidFragment      = errors.New("invalid parameter type regex")
	ErrConversion           = errors.New("cannot convert argument")
)

// TransformFunc converts the text captured for one fragment into a value.
type TransformFunc func(text string) (any, error)

// Transformation is a user- or built-in contribution to a parameter type.
// Transformations sharing a name (or, when unnamed, a kind) merge into one
// parameter type whose fragments are the union of theirs.
type Transformation struct {
	Name    string
	Aliases []string
	Kind    descriptor.ValueKind
	Enum    *descriptor.EnumType
	// Regexps are the fragments this transformation matches. An empty list
	// means a catch-all fragment.
	Regexps []string
	// Captured fragments already hold exactly one capture group around the
	// value; the rest are wrapped in one.
	Captured       bool
	Transform      TransformFunc
	UseForSnippets bool
	Weight         int
}

type fragment struct {
	regex     string
	captured  bool
	transform TransformFunc
}

func (f fragment) body() string {
	if f.captured {
		return f.regex
	}
	return "(" + NonCapturing(f.regex) + ")"
}

// ParameterType is the merged, named placeholder type.
type ParameterType struct {
	Name           string
	Aliases        []string
	Kind           descriptor.ValueKind
	Enum           *descriptor.EnumType
	UseForSnippets bool
	Weight         int
	fragments      []fragment
}

func (p *ParameterType) effective() []fragment {
	var specific []fragment
	for _, f := range p.fragments {
		if !IsCatchAll(f.regex) {
			specific = append(specific, f)
		}
	}
	if len(specific) == 0 {
		return p.fragments
	}
	return specific
}

// Regexps returns the unioned regex fragments, without catch-alls when a
// more specific fragment exists.
func (p *ParameterType) Regexps() []string {
	eff := p.effective()
	out := make([]string, len(eff))
	for i, f := range eff {
		out[i] = f.regex
	}
	return out
}

// CatchAll reports whether this type matches any text.
func (p *ParameterType) CatchAll() bool {
	for _, f := range p.effective() {
		if !IsCatchAll(f.regex) {
			return false
		}
	}
	return true
}

// Pattern returns the regex that replaces a placeholder of this type. It
// holds exactly Groups() capture groups, one per fragment.
func (p *ParameterType) Pattern() string {
	eff := p.effective()
	bodies := make([]string, len(eff))
	for i, f := range eff {
		bodies[i] = f.body()
	}
	return "(?:" + strings.Join(bodies, "|") + ")"
}

// Groups is the number of physical capture groups in Pattern.
func (p *ParameterType) Groups() int { return len(p.effective()) }

// Value converts the text captured by physical group i of Pattern.
func (p *ParameterType) Value(i int, text string) (any, error) {
	eff := p.effective()
	if i < 0 || i >= len(eff) {
		return nil, fmt.Errorf("parameter type %q has no group %d", p.Name, i)
	}
	if t := eff[i].transform; t != nil {
		return t(text)
	}
	return Convert(p.Kind, p.Enum, text)
}

// Registry holds every parameter type known to the binding set.
type Registry struct {
	types   map[string]*ParameterType
	aliases map[string]string
	order   []string
	frozen  bool
}

// NewRegistry returns a registry preloaded with the built-in types.
func NewRegistry() *Registry {
	r := &Registry{
		types:   make(map[string]*ParameterType),
		aliases: make(map[string]string),
	}
	for _, t := range builtins() {
		if err := r.Register(t); err != nil {
			panic(fmt.Sprintf("params: built-in %q: %v", t.Name, err))
		}
	}
	return r
}

// Register adds a transformation, merging it into an existing type with the
// same name. An unnamed transformation takes its kind's canonical name.
func (r *Registry) Register(t Transformation) error {
	if r.frozen {
		return ErrFrozen
	}
	name := t.Name
	if name == "" && t.Kind != descriptor.KindAny {
		name = canonicalName(t.Kind, t.Enum)
	}
	if canonical, ok := r.aliases[name]; ok {
		name = canonical
	}
	regexps := t.Regexps
	if len(regexps) == 0 {
		regexps = []string{".*"}
	}
	for _, re := range regexps {
		if _, err := regexp.Compile(re); err != nil {
			return fmt.Errorf("%w %q for %q: %v", ErrInvalidFragment, re, name, err)
		}
		if t.Captured {
			if n := regexp.MustCompile(re).NumSubexp(); n != 1 {
				return fmt.Errorf("%w %q for %q: captured fragment has %d groups, want 1", ErrInvalidFragment, re, name, n)
			}
		}
	}

	pt, exists := r.types[name]
	if exists {
		if t.Kind != "" && pt.Kind != t.Kind {
			return fmt.Errorf("%w: %q is %s, not %s", ErrKindConflict, name, pt.Kind, t.Kind)
		}
		if t.Weight > pt.Weight {
			pt.Weight = t.Weight
		}
		pt.UseForSnippets = pt.UseForSnippets || t.UseForSnippets
	} else {
		pt = &ParameterType{
			Name:           name,
			Kind:           t.Kind,
			Enum:           t.Enum,
			UseForSnippets: t.UseForSnippets,
			Weight:         t.Weight,
		}
		r.types[name] = pt
		r.order = append(r.order, name)
	}
	for _, re := range regexps {
		pt.fragments = append(pt.fragments, fragment{regex: re, captured: t.Captured, transform: t.Transform})
	}
	for _, a := range t.Aliases {
		if _, taken := r.types[a]; taken || a == name {
			continue
		}
		if _, taken := r.aliases[a]; taken {
			continue
		}
		r.aliases[a] = name
		pt.Aliases = append(pt.Aliases, a)
	}
	return nil
}

// ObserveBoundMethod synthesizes a catch-all type for every enum parameter
// of m not yet known, keyed by the enum's fully-qualified name.
func (r *Registry) ObserveBoundMethod(m descriptor.Method) error {
	for _, p := range m.Params {
		if p.Kind != descriptor.KindEnum || p.Enum == nil {
			continue
		}
		if _, ok := r.types[p.Enum.FullName]; ok {
			continue
		}
		if r.frozen {
			return fmt.Errorf("%w: enum %s first seen on %s", ErrFrozen, p.Enum.FullName, m.ID())
		}
		if err := r.Register(Transformation{
			Name: p.Enum.FullName,
			Kind: descriptor.KindEnum,
			Enum: p.Enum,
		}); err != nil {
			return err
		}
	}
	return nil
}

// Freeze ends the discovery phase. Safe to call more than once.
func (r *Registry) Freeze() { r.frozen = true }

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool { return r.frozen }

// Lookup resolves a placeholder name: exact name, alias, then short name
// (the last dotted segment of a fully-qualified name).
func (r *Registry) Lookup(name string) (*ParameterType, error) {
	if pt, ok := r.types[name]; ok {
		return pt, nil
	}
	if canonical, ok := r.aliases[name]; ok {
		return r.types[canonical], nil
	}
	var hits []string
	for _, key := range r.order {
		if strings.HasSuffix(key, "."+name) {
			hits = append(hits, key)
		}
	}
	switch len(hits) {
	case 1:
		return r.types[hits[0]], nil
	case 0:
		return nil, fmt.Errorf("%w {%s}", ErrUnknownParameterType, name)
	}
	sort.Strings(hits)
	return nil, fmt.Errorf("%w {%s}: matches %s", ErrAmbiguousShortName, name, strings.Join(hits, ", "))
}

// All returns every parameter type in registration order.
func (r *Registry) All() []*ParameterType {
	out := make([]*ParameterType, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.types[name])
	}
	return out
}

// SnippetTypes returns the types eligible for skeleton generation.
func (r *Registry) SnippetTypes() []*ParameterType {
	var out []*ParameterType
	for _, pt := range r.All() {
		if pt.UseForSnippets {
			out = append(out, pt)
		}
	}
	return out
}

func canonicalName(kind descriptor.ValueKind, enum *descriptor.EnumType) string {
	if kind == descriptor.KindEnum && enum != nil {
		return enum.FullName
	}
	return string(kind)
}
