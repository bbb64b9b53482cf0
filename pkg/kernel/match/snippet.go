package match

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/ormasoftchile/stepbind/pkg/kernel/descriptor"
	"github.com/ormasoftchile/stepbind/pkg/kernel/feature"
	"github.com/ormasoftchile/stepbind/pkg/kernel/params"
)

// SnippetStyle selects the pattern dialect of generated skeletons.
type SnippetStyle string

const (
	SnippetExpression SnippetStyle = "cucumberExpression"
	SnippetRegex      SnippetStyle = "regex"
)

type snippetType struct {
	pt *params.ParameterType
	re *regexp.Regexp
}

type snippetGenerator struct {
	types []snippetType
}

func (m *Matcher) generator() *snippetGenerator {
	m.snippetOnce.Do(func() {
		g := &snippetGenerator{}
		for _, pt := range m.registry.Params().SnippetTypes() {
			re, err := regexp.Compile(pt.Pattern())
			if err != nil {
				continue
			}
			g.types = append(g.types, snippetType{pt: pt, re: re})
		}
		m.snippet = g
	})
	return m.snippet
}

type placeholder struct {
	start, end int
	pt         *params.ParameterType
}

// Snippet renders a step definition skeleton for an undefined step.
func (m *Matcher) Snippet(step feature.StepInstance, style SnippetStyle) string {
	holders := m.generator().find(step.Text)

	var pattern strings.Builder
	var args []string
	last := 0
	for i, h := range holders {
		lit := step.Text[last:h.start]
		if style == SnippetRegex {
			pattern.WriteString(regexp.QuoteMeta(lit))
			pattern.WriteString(regexFor(h.pt))
		} else {
			pattern.WriteString(escapeExpression(lit))
			pattern.WriteString("{" + h.pt.Name + "}")
		}
		args = append(args, fmt.Sprintf("p%d %s", i, goType(h.pt.Kind)))
		last = h.end
	}
	tail := step.Text[last:]
	if style == SnippetRegex {
		pattern.WriteString(regexp.QuoteMeta(tail))
	} else {
		pattern.WriteString(escapeExpression(tail))
	}
	switch {
	case step.DocString != nil:
		args = append(args, "doc *feature.DocString")
	case step.Table != nil:
		args = append(args, "table *feature.DataTable")
	}

	text := pattern.String()
	if style == SnippetRegex {
		text = "^" + text + "$"
	}
	fn := "Given"
	switch step.Type {
	case feature.StepWhen:
		fn = "When"
	case feature.StepThen:
		fn = "Then"
	}
	sig := append([]string{"ctx context.Context"}, args...)
	return fmt.Sprintf("suite.%s(%q, func(%s) error {\n\treturn outcome.ErrPending\n})", fn, text, strings.Join(sig, ", "))
}

// find picks placeholders left to right: the earliest match wins, then the
// longest, then the type registered first.
func (g *snippetGenerator) find(text string) []placeholder {
	var out []placeholder
	pos := 0
	for pos < len(text) {
		var best *placeholder
		for _, st := range g.types {
			for _, loc := range st.re.FindAllStringIndex(text[pos:], -1) {
				start, end := pos+loc[0], pos+loc[1]
				if end == start || !bounded(text, start, end) {
					continue
				}
				if best == nil || start < best.start || (start == best.start && end > best.end) {
					best = &placeholder{start: start, end: end, pt: st.pt}
				}
				break
			}
		}
		if best == nil {
			break
		}
		out = append(out, *best)
		pos = best.end
	}
	return out
}

// bounded rejects matches glued to surrounding word characters.
func bounded(text string, start, end int) bool {
	isWord := func(r byte) bool {
		return r == '_' || r == '.' || unicode.IsLetter(rune(r)) || unicode.IsDigit(rune(r))
	}
	if start > 0 && isWord(text[start-1]) {
		return false
	}
	if end < len(text) && isWord(text[end]) {
		return false
	}
	return true
}

func escapeExpression(s string) string {
	r := strings.NewReplacer(`\`, `\\`, "(", `\(`, "{", `\{`, "/", `\/`)
	return r.Replace(s)
}

func regexFor(pt *params.ParameterType) string {
	switch pt.Name {
	case params.StringName:
		return `"([^"]*)"`
	case "int":
		return `(-?\d+)`
	}
	return `(.*)`
}

func goType(kind descriptor.ValueKind) string {
	switch kind {
	case descriptor.KindTime:
		return "time.Time"
	case descriptor.KindUUID:
		return "uuid.UUID"
	case descriptor.KindAny, descriptor.KindEnum:
		return "string"
	}
	return string(kind)
}
