package scope

import (
	"fmt"
	"strings"

	"github.com/ormasoftchile/stepbind/pkg/kernel/feature"
)

// Spec is the declared form of a scope. Empty fields are unconstrained.
type Spec struct {
	Tags          string          `yaml:"tags,omitempty" json:"tags,omitempty"`
	Keyword       feature.Keyword `yaml:"keyword,omitempty" json:"keyword,omitempty"`
	Block         feature.Block   `yaml:"block,omitempty" json:"block,omitempty"`
	FeatureTitle  string          `yaml:"feature,omitempty" json:"feature,omitempty"`
	ScenarioTitle string          `yaml:"scenario,omitempty" json:"scenario,omitempty"`
}

// IsZero reports whether no constraint is declared.
func (s Spec) IsZero() bool { return s == Spec{} }

// Context is what a scope is evaluated against at a call site.
type Context struct {
	Tags          []string
	Keyword       feature.Keyword
	Block         feature.Block
	FeatureTitle  string
	ScenarioTitle string
}

// Scope is a compiled, immutable binding scope: the conjunction of its
// declared constraints.
type Scope struct {
	spec Spec
	tags *TagExpression
}

// New compiles a scope.
func New(spec Spec) (*Scope, error) {
	s := &Scope{spec: spec}
	if strings.TrimSpace(spec.Tags) != "" {
		te, err := ParseTagExpression(spec.Tags)
		if err != nil {
			return nil, err
		}
		s.tags = te
	}
	return s, nil
}

// Spec returns the declared constraints.
func (s *Scope) Spec() Spec {
	if s == nil {
		return Spec{}
	}
	return s.spec
}

// Tags returns the compiled tag expression, or nil.
func (s *Scope) Tags() *TagExpression {
	if s == nil {
		return nil
	}
	return s.tags
}

// HasStepConstraint reports whether the scope constrains keyword or block,
// which only exist at step level.
func (s *Scope) HasStepConstraint() bool {
	return s != nil && (s.spec.Keyword != "" || s.spec.Block != "")
}

// Match evaluates the scope. The second result is the number of declared
// constraints, used to rank more specific bindings first. A nil scope
// matches everything with zero specificity.
func (s *Scope) Match(c Context) (bool, int) {
	if s == nil {
		return true, 0
	}
	n := 0
	if s.tags != nil {
		if !s.tags.Evaluate(c.Tags) {
			return false, 0
		}
		n++
	}
	if s.spec.Keyword != "" {
		if s.spec.Keyword != c.Keyword {
			return false, 0
		}
		n++
	}
	if s.spec.Block != "" {
		if s.spec.Block != c.Block {
			return false, 0
		}
		n++
	}
	if s.spec.FeatureTitle != "" {
		if s.spec.FeatureTitle != c.FeatureTitle {
			return false, 0
		}
		n++
	}
	if s.spec.ScenarioTitle != "" {
		if s.spec.ScenarioTitle != c.ScenarioTitle {
			return false, 0
		}
		n++
	}
	return true, n
}

func (s *Scope) String() string {
	if s == nil {
		return "<unscoped>"
	}
	var parts []string
	if s.tags != nil {
		parts = append(parts, "tags="+s.tags.Source)
	}
	if s.spec.Keyword != "" {
		parts = append(parts, fmt.Sprintf("keyword=%s", s.spec.Keyword))
	}
	if s.spec.Block != "" {
		parts = append(parts, fmt.Sprintf("block=%s", s.spec.Block))
	}
	if s.spec.FeatureTitle != "" {
		parts = append(parts, fmt.Sprintf("feature=%q", s.spec.FeatureTitle))
	}
	if s.spec.ScenarioTitle != "" {
		parts = append(parts, fmt.Sprintf("scenario=%q", s.spec.ScenarioTitle))
	}
	if len(parts) == 0 {
		return "<unscoped>"
	}
	return strings.Join(parts, " ")
}
