// Package scope evaluates binding scopes: tag expressions plus keyword,
// block and title constraints.
package scope

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

var ErrInvalidTagExpression = errors.New("invalid tag expression")

// tagEnv is the evaluation environment of a compiled tag expression.
type tagEnv struct {
	set map[string]bool
}

// Has reports whether the tag set contains tag.
func (e tagEnv) Has(tag string) bool { return e.set[strings.ToLower(tag)] }

// TagExpression is a compiled boolean expression over tags, such as
// "@smoke and not @slow".
type TagExpression struct {
	Source  string
	Tags    []string
	program *vm.Program
}

// ParseTagExpression compiles a tag expression. A single bare tag gets an
// @ prefix; in an expression with and/or/not every tag must carry one.
func ParseTagExpression(text string) (*TagExpression, error) {
	tokens := tokenizeTags(text)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidTagExpression)
	}
	var literals []string
	hasOperator := false
	for _, tok := range tokens {
		switch strings.ToLower(tok) {
		case "and", "or", "not":
			hasOperator = true
		case "(", ")":
		default:
			literals = append(literals, tok)
		}
	}
	if !hasOperator && len(literals) == 1 && !strings.HasPrefix(literals[0], "@") {
		for i, tok := range tokens {
			if tok == literals[0] {
				tokens[i] = "@" + tok
			}
		}
		literals[0] = "@" + literals[0]
	}
	if hasOperator || len(literals) > 1 {
		for _, lit := range literals {
			if !strings.HasPrefix(lit, "@") {
				return nil, fmt.Errorf("%w %q: tag %q must start with @", ErrInvalidTagExpression, text, lit)
			}
		}
	}

	var b strings.Builder
	for i, tok := range tokens {
		if i > 0 {
			b.WriteByte(' ')
		}
		switch strings.ToLower(tok) {
		case "and", "or", "not":
			b.WriteString(strings.ToLower(tok))
		case "(", ")":
			b.WriteString(tok)
		default:
			b.WriteString("Has(" + strconv.Quote(tok) + ")")
		}
	}
	program, err := expr.Compile(b.String(), expr.Env(tagEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidTagExpression, text, err)
	}
	return &TagExpression{Source: strings.TrimSpace(text), Tags: literals, program: program}, nil
}

// Evaluate runs the expression against a tag set. Comparison ignores case.
func (t *TagExpression) Evaluate(tags []string) bool {
	env := tagEnv{set: make(map[string]bool, len(tags))}
	for _, tag := range tags {
		env.set[strings.ToLower(tag)] = true
	}
	out, err := expr.Run(t.program, env)
	if err != nil {
		return false
	}
	result, _ := out.(bool)
	return result
}

func (t *TagExpression) String() string { return t.Source }

func tokenizeTags(text string) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range text {
		switch {
		case r == '(' || r == ')':
			flush()
			tokens = append(tokens, string(r))
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return tokens
}
