// Package match resolves which step definition a step instance binds to.
package match

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ormasoftchile/stepbind/pkg/kernel/bindings"
	"github.com/ormasoftchile/stepbind/pkg/kernel/descriptor"
	"github.com/ormasoftchile/stepbind/pkg/kernel/expression"
	"github.com/ormasoftchile/stepbind/pkg/kernel/feature"
	"github.com/ormasoftchile/stepbind/pkg/kernel/params"
	"github.com/ormasoftchile/stepbind/pkg/kernel/scope"
)

// Argument is a resolved argument of a match.
type Argument struct {
	Text string `json:"text"`
	// Pos is the byte offset in the step text, -1 for block arguments and
	// groups that did not participate.
	Pos   int `json:"pos"`
	Value any `json:"value"`
}

// Score ranks matches. Higher scope specificity wins, then fewer
// catch-all placeholders, then higher parameter type weight.
type Score struct {
	Scope    int `json:"scope"`
	CatchAll int `json:"catch_all"`
	Weight   int `json:"weight"`
}

// Compare returns 1 when s ranks above o, -1 when below, 0 on a tie.
func (s Score) Compare(o Score) int {
	switch {
	case s.Scope != o.Scope:
		return sign(s.Scope - o.Scope)
	case s.CatchAll != o.CatchAll:
		return sign(o.CatchAll - s.CatchAll)
	case s.Weight != o.Weight:
		return sign(s.Weight - o.Weight)
	}
	return 0
}

func sign(n int) int {
	if n > 0 {
		return 1
	}
	return -1
}

// Match is a binding together with its resolved arguments.
type Match struct {
	Binding   *bindings.StepDefinition
	Arguments []Argument
	Score     Score
}

// Values returns the converted argument values in parameter order.
func (m *Match) Values() []any {
	out := make([]any, len(m.Arguments))
	for i, a := range m.Arguments {
		out[i] = a.Value
	}
	return out
}

// Kind tags the variant of an Outcome.
type Kind int

const (
	KindMatched Kind = iota
	KindUndefined
	KindAmbiguous
	KindNoScopeMatch
	KindParameterMismatch
)

func (k Kind) String() string {
	switch k {
	case KindMatched:
		return "matched"
	case KindUndefined:
		return "undefined"
	case KindAmbiguous:
		return "ambiguous"
	case KindNoScopeMatch:
		return "no_scope_match"
	case KindParameterMismatch:
		return "parameter_mismatch"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Outcome is the result of matching one step.
type Outcome struct {
	Kind  Kind
	Match *Match
	// Candidates are the tied matches of an ambiguous outcome.
	Candidates []*Match
	// Err is the typed error for every kind but KindMatched.
	Err error
}

// Matcher matches steps against a frozen binding registry. It never
// mutates the registry and is safe for concurrent use.
type Matcher struct {
	registry *bindings.Registry
	style    SnippetStyle

	snippetOnce sync.Once
	snippet     *snippetGenerator
}

// New returns a matcher over a frozen registry.
func New(r *bindings.Registry) (*Matcher, error) {
	if !r.Frozen() {
		return nil, bindings.ErrNotFrozen
	}
	return &Matcher{registry: r, style: SnippetExpression}, nil
}

// WithSnippetStyle sets the dialect of skeletons in undefined-step errors.
func (m *Matcher) WithSnippetStyle(s SnippetStyle) *Matcher {
	if s != "" {
		m.style = s
	}
	return m
}

// Registry returns the registry the matcher reads.
func (m *Matcher) Registry() *bindings.Registry { return m.registry }

type textMatch struct {
	def   *bindings.StepDefinition
	args  []expression.Argument
	scope int
}

// Match resolves step against the candidates of its step type.
func (m *Matcher) Match(step feature.StepInstance, sc scope.Context) Outcome {
	var matched []textMatch
	for _, def := range m.registry.StepDefinitions(step.Type) {
		if !def.Valid() {
			continue
		}
		if args, ok := def.Matcher().Match(step.Text); ok {
			matched = append(matched, textMatch{def: def, args: args})
		}
	}
	if len(matched) == 0 {
		return Outcome{Kind: KindUndefined, Err: &UndefinedStepError{Step: step, Snippet: m.Snippet(step, m.style)}}
	}

	var inScope []textMatch
	for _, tm := range matched {
		if ok, n := tm.def.CompiledScope().Match(sc); ok {
			tm.scope = n
			inScope = append(inScope, tm)
		}
	}
	if len(inScope) == 0 {
		defs := make([]*bindings.StepDefinition, len(matched))
		for i, tm := range matched {
			defs[i] = tm.def
		}
		return Outcome{Kind: KindNoScopeMatch, Err: &NoScopeMatchError{Step: step, Candidates: defs}}
	}

	var compatible []*Match
	var rejected []*bindings.StepDefinition
	var reasons []string
	for _, tm := range inScope {
		args, err := bind(tm.def.Method, tm.args, step)
		if err != nil {
			rejected = append(rejected, tm.def)
			reasons = append(reasons, fmt.Sprintf("%s: %v", tm.def.Method.Signature(), err))
			continue
		}
		compatible = append(compatible, &Match{
			Binding:   tm.def,
			Arguments: args,
			Score: Score{
				Scope:    tm.scope,
				CatchAll: tm.def.Matcher().CatchAllCount(),
				Weight:   tm.def.Matcher().Weight(),
			},
		})
	}
	if len(compatible) == 0 {
		return Outcome{Kind: KindParameterMismatch, Err: &ParameterMismatchError{Step: step, Candidates: rejected, Reasons: reasons}}
	}

	sort.SliceStable(compatible, func(i, j int) bool {
		return compatible[i].Score.Compare(compatible[j].Score) > 0
	})
	compatible = dedupeByMethod(compatible)

	top := compatible[:1]
	for _, c := range compatible[1:] {
		if c.Score.Compare(top[0].Score) != 0 {
			break
		}
		top = append(top, c)
	}
	if len(top) > 1 {
		return Outcome{Kind: KindAmbiguous, Candidates: top, Err: &AmbiguousMatchError{Step: step, Candidates: top}}
	}
	return Outcome{Kind: KindMatched, Match: top[0]}
}

// dedupeByMethod keeps the best-ranked match per bound method; several
// patterns on one method are never ambiguous with each other.
func dedupeByMethod(ms []*Match) []*Match {
	seen := make(map[string]bool, len(ms))
	out := ms[:0:0]
	for _, mt := range ms {
		id := mt.Binding.Method.ID()
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, mt)
	}
	return out
}

// bind checks the captured arguments against the method's parameters and
// converts them to the declared kinds. A trailing doc string or data table
// parameter receives the step's block argument.
func bind(method descriptor.Method, captured []expression.Argument, step feature.StepInstance) ([]Argument, error) {
	want := len(captured)
	if step.HasBlockArgument() {
		want++
	}
	if len(method.Params) != want {
		return nil, fmt.Errorf("expects %d argument(s), step provides %d", len(method.Params), want)
	}
	args := make([]Argument, 0, want)
	for i, c := range captured {
		p := method.Params[i]
		if c.Err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, c.Err)
		}
		arg := Argument{Text: c.Text, Pos: c.Pos}
		switch {
		case c.Pos < 0:
			arg.Value = nil
		case c.Type != nil && sameKind(c.Type, p):
			arg.Value = c.Value
		default:
			v, err := params.Convert(p.Kind, p.Enum, c.Text)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			arg.Value = v
		}
		args = append(args, arg)
	}
	if step.HasBlockArgument() {
		p := method.Params[len(method.Params)-1]
		v, err := blockValue(p, step)
		if err != nil {
			return nil, err
		}
		args = append(args, Argument{Pos: -1, Value: v})
	}
	return args, nil
}

func sameKind(t *params.ParameterType, p descriptor.Param) bool {
	if p.Kind == descriptor.KindAny {
		return true
	}
	if t.Kind != p.Kind {
		return false
	}
	if p.Kind == descriptor.KindEnum {
		return t.Enum != nil && p.Enum != nil && t.Enum.FullName == p.Enum.FullName
	}
	return true
}

func blockValue(p descriptor.Param, step feature.StepInstance) (any, error) {
	if step.DocString != nil {
		switch p.Kind {
		case descriptor.KindDocString, descriptor.KindAny:
			return step.DocString, nil
		case descriptor.KindString:
			return step.DocString.Content, nil
		}
		return nil, fmt.Errorf("last parameter is %s, step has a doc string", p.TypeName())
	}
	switch p.Kind {
	case descriptor.KindDataTable, descriptor.KindAny:
		return step.Table, nil
	}
	return nil, fmt.Errorf("last parameter is %s, step has a data table", p.TypeName())
}
