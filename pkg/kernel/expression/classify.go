// Package expression compiles step definition patterns, written either as
// cucumber expressions or as raw regular expressions, into matchers.
package expression

import (
	"regexp"
	"strings"
)

// Syntax is the dialect a step pattern is written in.
type Syntax int

const (
	ExpressionSyntax Syntax = iota
	RegexSyntax
)

func (s Syntax) String() string {
	if s == RegexSyntax {
		return "regex"
	}
	return "expression"
}

var (
	placeholderToken = regexp.MustCompile(`\{[A-Za-z_][\w.+]*\}|\{\}`)
	regexOnlyToken   = regexp.MustCompile(`\.\*|\.\+|\\[dwsDWSbB.^$|*+?\[\]]|\[[^\]]*\]|\)[*+?]|\)\{\d|\(\?[:=!iPms<]`)
)

// Classify decides which dialect a pattern is written in. An explicit
// {placeholder} token forces expression syntax; anchors or regex-only
// constructs otherwise mark the pattern as a regex.
func Classify(pattern string) Syntax {
	if placeholderToken.MatchString(pattern) {
		return ExpressionSyntax
	}
	if strings.HasPrefix(pattern, "^") || hasTrailingAnchor(pattern) {
		return RegexSyntax
	}
	if regexOnlyToken.MatchString(pattern) {
		return RegexSyntax
	}
	return ExpressionSyntax
}

// hasTrailingAnchor reports a final unescaped $.
func hasTrailingAnchor(p string) bool {
	if !strings.HasSuffix(p, "$") {
		return false
	}
	backslashes := 0
	for i := len(p) - 2; i >= 0 && p[i] == '\\'; i-- {
		backslashes++
	}
	return backslashes%2 == 0
}
