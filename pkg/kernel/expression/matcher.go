package expression

import (
	"regexp"

	"github.com/ormasoftchile/stepbind/pkg/kernel/params"
)

// slot maps one logical argument onto its physical capture groups.
type slot struct {
	typ    *params.ParameterType // nil for raw regex groups
	first  int
	groups int
}

// Argument is one logical value captured from step text.
type Argument struct {
	Text string
	// Pos is the byte offset of Text in the step text, -1 when the group
	// did not participate in the match.
	Pos int
	// Type is the placeholder's parameter type, nil for raw regex groups.
	Type  *params.ParameterType
	Value any
	// Err is set when the placeholder's own transformation failed.
	Err error
}

// Matcher is a compiled step pattern. It is immutable and safe for
// concurrent use.
type Matcher struct {
	Source string
	Syntax Syntax
	re     *regexp.Regexp
	slots  []slot
}

// Regexp returns the compiled, anchored regular expression.
func (m *Matcher) Regexp() string { return m.re.String() }

// ArgumentCount is the number of logical arguments a match yields.
func (m *Matcher) ArgumentCount() int { return len(m.slots) }

// CatchAllCount counts placeholders whose type matches any text.
func (m *Matcher) CatchAllCount() int {
	n := 0
	for _, s := range m.slots {
		if s.typ != nil && s.typ.CatchAll() {
			n++
		}
	}
	return n
}

// Weight sums the weights of the placeholders' parameter types.
func (m *Matcher) Weight() int {
	w := 0
	for _, s := range m.slots {
		if s.typ != nil {
			w += s.typ.Weight
		}
	}
	return w
}

// Match matches the whole of text and returns the logical arguments.
func (m *Matcher) Match(text string) ([]Argument, bool) {
	idx := m.re.FindStringSubmatchIndex(text)
	if idx == nil {
		return nil, false
	}
	args := make([]Argument, 0, len(m.slots))
	for _, s := range m.slots {
		arg := Argument{Pos: -1, Type: s.typ}
		for g := 0; g < s.groups; g++ {
			start, end := idx[2*(s.first+g)], idx[2*(s.first+g)+1]
			if start < 0 {
				continue
			}
			arg.Text = text[start:end]
			arg.Pos = start
			if s.typ != nil {
				arg.Value, arg.Err = s.typ.Value(g, arg.Text)
			} else {
				arg.Value = arg.Text
			}
			break
		}
		args = append(args, arg)
	}
	return args, true
}
