package expression

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/ormasoftchile/stepbind/pkg/kernel/params"
)

// Lookup resolves a placeholder name to a parameter type.
type Lookup interface {
	Lookup(name string) (*params.ParameterType, error)
}

// SyntaxError is a pattern that cannot be compiled.
type SyntaxError struct {
	Pattern string
	Token   string
	Pos     int
	Reason  string
	Err     error
}

func (e *SyntaxError) Error() string {
	if e.Token != "" {
		return fmt.Sprintf("invalid step pattern %q: %s at %d (%s)", e.Pattern, e.Reason, e.Pos, e.Token)
	}
	return fmt.Sprintf("invalid step pattern %q: %s", e.Pattern, e.Reason)
}

func (e *SyntaxError) Unwrap() error { return e.Err }

// Compile builds a matcher for pattern, classifying it first.
func Compile(pattern string, types Lookup) (*Matcher, error) {
	if Classify(pattern) == RegexSyntax {
		return CompileRegex(pattern)
	}
	return CompileExpression(pattern, types)
}

// CompileRegex compiles a raw regular expression. The pattern is anchored at
// both ends and every capture group becomes an argument.
func CompileRegex(pattern string) (*Matcher, error) {
	body := strings.TrimPrefix(pattern, "^")
	if hasTrailingAnchor(body) {
		body = body[:len(body)-1]
	}
	re, err := regexp.Compile("^(?:" + body + ")$")
	if err != nil {
		return nil, &SyntaxError{Pattern: pattern, Reason: err.Error(), Err: err}
	}
	slots := make([]slot, re.NumSubexp())
	for i := range slots {
		slots[i] = slot{first: i + 1, groups: 1}
	}
	return &Matcher{Source: pattern, Syntax: RegexSyntax, re: re, slots: slots}, nil
}

type nodeKind int

const (
	nodeText nodeKind = iota
	nodeSpace
	nodeOptional
	nodeParam
	nodeAlternation
)

type node struct {
	kind nodeKind
	text string
	pos  int
}

// CompileExpression compiles a cucumber expression. Expressions always match
// the whole step text, so explicit anchors are dropped.
func CompileExpression(pattern string, types Lookup) (*Matcher, error) {
	body := strings.TrimPrefix(pattern, "^")
	if hasTrailingAnchor(body) {
		body = body[:len(body)-1]
	}
	nodes, err := tokenize(body)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	b.WriteString("^")
	var slots []slot
	group := 1

	// Split at whitespace; a segment holding a '/' is an alternation.
	var segment []node
	flush := func() error {
		if len(segment) == 0 {
			return nil
		}
		defer func() { segment = nil }()
		if !hasAlternation(segment) {
			for _, n := range segment {
				switch n.kind {
				case nodeText:
					b.WriteString(regexp.QuoteMeta(n.text))
				case nodeOptional:
					b.WriteString("(?:" + regexp.QuoteMeta(n.text) + ")?")
				case nodeParam:
					pt, err := types.Lookup(n.text)
					if err != nil {
						return &SyntaxError{Pattern: pattern, Token: "{" + n.text + "}", Pos: n.pos, Reason: "undefined parameter type", Err: err}
					}
					b.WriteString(pt.Pattern())
					slots = append(slots, slot{typ: pt, first: group, groups: pt.Groups()})
					group += pt.Groups()
				}
			}
			return nil
		}
		var alts []string
		var cur strings.Builder
		for _, n := range segment {
			switch n.kind {
			case nodeAlternation:
				if cur.Len() == 0 {
					return &SyntaxError{Pattern: pattern, Token: "/", Pos: n.pos, Reason: "empty alternative"}
				}
				alts = append(alts, cur.String())
				cur.Reset()
			case nodeText:
				cur.WriteString(regexp.QuoteMeta(n.text))
			case nodeOptional:
				cur.WriteString("(?:" + regexp.QuoteMeta(n.text) + ")?")
			case nodeParam:
				return &SyntaxError{Pattern: pattern, Token: "{" + n.text + "}", Pos: n.pos, Reason: "alternative may not contain a parameter"}
			}
		}
		if cur.Len() == 0 {
			return &SyntaxError{Pattern: pattern, Token: "/", Pos: segment[len(segment)-1].pos, Reason: "empty alternative"}
		}
		alts = append(alts, cur.String())
		b.WriteString("(?:" + strings.Join(alts, "|") + ")")
		return nil
	}

	for _, n := range nodes {
		if n.kind == nodeSpace {
			if err := flush(); err != nil {
				return nil, err
			}
			b.WriteString(regexp.QuoteMeta(n.text))
			continue
		}
		segment = append(segment, n)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, &SyntaxError{Pattern: pattern, Reason: err.Error(), Err: err}
	}
	return &Matcher{Source: pattern, Syntax: ExpressionSyntax, re: re, slots: slots}, nil
}

func hasAlternation(seg []node) bool {
	for _, n := range seg {
		if n.kind == nodeAlternation {
			return true
		}
	}
	return false
}

func tokenize(pattern string) ([]node, error) {
	var nodes []node
	runes := []rune(pattern)
	var text strings.Builder
	textPos := 0
	emitText := func() {
		if text.Len() > 0 {
			nodes = append(nodes, node{kind: nodeText, text: text.String(), pos: textPos})
			text.Reset()
		}
	}
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '\\':
			if i+1 >= len(runes) {
				return nil, &SyntaxError{Pattern: pattern, Token: `\`, Pos: i, Reason: "dangling escape"}
			}
			if text.Len() == 0 {
				textPos = i
			}
			text.WriteRune(runes[i+1])
			i++
		case unicode.IsSpace(r):
			emitText()
			nodes = append(nodes, node{kind: nodeSpace, text: string(r), pos: i})
		case r == '/':
			emitText()
			nodes = append(nodes, node{kind: nodeAlternation, text: "/", pos: i})
		case r == '{':
			emitText()
			end := indexRune(runes, i+1, '}')
			if end < 0 {
				return nil, &SyntaxError{Pattern: pattern, Token: "{", Pos: i, Reason: "unclosed parameter"}
			}
			name := string(runes[i+1 : end])
			if strings.ContainsAny(name, "{()\\/ ") {
				return nil, &SyntaxError{Pattern: pattern, Token: "{" + name + "}", Pos: i, Reason: "invalid parameter name"}
			}
			nodes = append(nodes, node{kind: nodeParam, text: name, pos: i})
			i = end
		case r == '(':
			emitText()
			var opt strings.Builder
			j := i + 1
			closed := false
			for ; j < len(runes); j++ {
				c := runes[j]
				if c == '\\' && j+1 < len(runes) {
					opt.WriteRune(runes[j+1])
					j++
					continue
				}
				if c == ')' {
					closed = true
					break
				}
				if c == '(' || c == '{' {
					return nil, &SyntaxError{Pattern: pattern, Token: string(c), Pos: j, Reason: "optional text may not contain parameters or nested optionals"}
				}
				opt.WriteRune(c)
			}
			if !closed {
				return nil, &SyntaxError{Pattern: pattern, Token: "(", Pos: i, Reason: "unclosed optional text"}
			}
			if opt.Len() == 0 {
				return nil, &SyntaxError{Pattern: pattern, Token: "()", Pos: i, Reason: "empty optional text"}
			}
			nodes = append(nodes, node{kind: nodeOptional, text: opt.String(), pos: i})
			i = j
		case r == '}' || r == ')':
			return nil, &SyntaxError{Pattern: pattern, Token: string(r), Pos: i, Reason: "unbalanced closing bracket"}
		default:
			if text.Len() == 0 {
				textPos = i
			}
			text.WriteRune(r)
		}
	}
	emitText()
	return nodes, nil
}

func indexRune(runes []rune, from int, r rune) int {
	for i := from; i < len(runes); i++ {
		if runes[i] == r {
			return i
		}
	}
	return -1
}
