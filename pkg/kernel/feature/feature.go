// Package feature defines the parsed feature model the engine executes:
// features, scenarios, and step instances classified by keyword and block.
package feature

import (
	"fmt"
	"strings"
)

// StepType is the step-definition family a binding answers to.
type StepType string

const (
	StepGiven StepType = "given"
	StepWhen  StepType = "when"
	StepThen  StepType = "then"
	StepAny   StepType = "any"
)

// ParseStepType accepts given/when/then/any in any case.
func ParseStepType(s string) (StepType, error) {
	switch StepType(strings.ToLower(strings.TrimSpace(s))) {
	case StepGiven:
		return StepGiven, nil
	case StepWhen:
		return StepWhen, nil
	case StepThen:
		return StepThen, nil
	case StepAny, "":
		return StepAny, nil
	}
	return "", fmt.Errorf("unknown step type %q", s)
}

// Block is the scenario block (Given/When/Then group) a step belongs to.
type Block string

const (
	BlockNone  Block = "none"
	BlockGiven Block = "given"
	BlockWhen  Block = "when"
	BlockThen  Block = "then"
)

// StepType returns the step type that executes in this block.
func (b Block) StepType() StepType {
	switch b {
	case BlockWhen:
		return StepWhen
	case BlockThen:
		return StepThen
	default:
		return StepGiven
	}
}

// ParseBlock accepts given/when/then in any case.
func ParseBlock(s string) (Block, error) {
	switch Block(strings.ToLower(strings.TrimSpace(s))) {
	case BlockGiven:
		return BlockGiven, nil
	case BlockWhen:
		return BlockWhen, nil
	case BlockThen:
		return BlockThen, nil
	}
	return "", fmt.Errorf("unknown scenario block %q", s)
}

// Keyword is the keyword a step was written with.
type Keyword string

const (
	KeywordGiven Keyword = "given"
	KeywordWhen  Keyword = "when"
	KeywordThen  Keyword = "then"
	KeywordAnd   Keyword = "and"
	KeywordBut   Keyword = "but"
)

// ParseKeyword maps keyword text ("Given ", "And", "*") to a Keyword.
// The bullet keyword behaves like And.
func ParseKeyword(s string) (Keyword, error) {
	k := strings.ToLower(strings.TrimSpace(s))
	switch Keyword(k) {
	case KeywordGiven, KeywordWhen, KeywordThen, KeywordAnd, KeywordBut:
		return Keyword(k), nil
	}
	if k == "*" {
		return KeywordAnd, nil
	}
	return "", fmt.Errorf("unknown step keyword %q", s)
}

// IsConjunction reports whether the keyword inherits the preceding block.
func (k Keyword) IsConjunction() bool {
	return k == KeywordAnd || k == KeywordBut
}

func (k Keyword) block() Block {
	switch k {
	case KeywordWhen:
		return BlockWhen
	case KeywordThen:
		return BlockThen
	case KeywordGiven:
		return BlockGiven
	}
	return BlockNone
}

// Location is a position in a feature file.
type Location struct {
	URI    string `json:"uri,omitempty"`
	Line   int    `json:"line"`
	Column int    `json:"column,omitempty"`
}

func (l Location) String() string {
	if l.URI == "" {
		return fmt.Sprintf("line %d", l.Line)
	}
	return fmt.Sprintf("%s:%d", l.URI, l.Line)
}

// DocString is a step's multiline text argument.
type DocString struct {
	Content   string `json:"content"`
	MediaType string `json:"media_type,omitempty"`
}

// DataTable is a step's table argument.
type DataTable struct {
	Rows [][]string `json:"rows"`
}

// Header returns the first row, or nil for an empty table.
func (t *DataTable) Header() []string {
	if t == nil || len(t.Rows) == 0 {
		return nil
	}
	return t.Rows[0]
}

// StepInstance is one executable step of a scenario.
type StepInstance struct {
	Keyword     Keyword    `json:"keyword"`
	KeywordText string     `json:"keyword_text,omitempty"`
	Type        StepType   `json:"type"`
	Block       Block      `json:"block"`
	Text        string     `json:"text"`
	DocString   *DocString `json:"doc_string,omitempty"`
	Table       *DataTable `json:"table,omitempty"`
	Location    Location   `json:"location"`
}

// HasBlockArgument reports whether the step carries a doc string or table.
func (s StepInstance) HasBlockArgument() bool {
	return s.DocString != nil || s.Table != nil
}

func (s StepInstance) String() string {
	kw := s.KeywordText
	if kw == "" {
		kw = string(s.Keyword)
	}
	return strings.TrimSpace(kw) + " " + s.Text
}

// FeatureInfo describes a feature being executed.
type FeatureInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Language    string   `json:"language,omitempty"`
	URI         string   `json:"uri,omitempty"`
}

// ScenarioInfo describes one scenario or example row.
type ScenarioInfo struct {
	ID   string   `json:"id,omitempty"`
	Name string   `json:"name"`
	Rule string   `json:"rule,omitempty"`
	Tags []string `json:"tags,omitempty"`
	// CombinedTags is feature ∪ rule ∪ scenario ∪ example tags.
	CombinedTags []string          `json:"combined_tags,omitempty"`
	Arguments    map[string]string `json:"arguments,omitempty"`
	Location     Location          `json:"location"`
}

// Scenario is an executable scenario (outline rows are expanded).
type Scenario struct {
	Info  ScenarioInfo   `json:"info"`
	Steps []StepInstance `json:"steps"`
	// Ignored scenarios are reported Skipped without running hooks.
	Ignored bool `json:"ignored,omitempty"`
}

// Feature is an executable feature.
type Feature struct {
	Info      FeatureInfo `json:"info"`
	Scenarios []Scenario  `json:"scenarios"`
}

// NewStep builds a step instance from keyword text and step text.
// Block and type are left for ResolveBlocks.
func NewStep(keyword, text string) (StepInstance, error) {
	kw, err := ParseKeyword(keyword)
	if err != nil {
		return StepInstance{}, err
	}
	return StepInstance{Keyword: kw, KeywordText: strings.TrimSpace(keyword), Text: text}, nil
}

// ParseStepLine parses a single written step such as "Given I have 3
// apples". The block is resolved as if the step opened a scenario.
func ParseStepLine(line string) (StepInstance, error) {
	line = strings.TrimSpace(line)
	keyword, text, ok := strings.Cut(line, " ")
	if !ok || strings.TrimSpace(text) == "" {
		return StepInstance{}, fmt.Errorf("step %q needs a keyword and text", line)
	}
	st, err := NewStep(keyword, strings.TrimSpace(text))
	if err != nil {
		return StepInstance{}, err
	}
	steps := []StepInstance{st}
	ResolveBlocks(steps)
	return steps[0], nil
}

// ResolveBlocks assigns Block and Type to every step. And/But steps inherit
// the block of the nearest preceding primary keyword; a scenario that opens
// with a conjunction starts in the Given block.
func ResolveBlocks(steps []StepInstance) {
	current := BlockNone
	for i := range steps {
		s := &steps[i]
		if b := s.Keyword.block(); b != BlockNone {
			current = b
		} else if current == BlockNone {
			current = BlockGiven
		}
		if s.Block == "" || s.Block == BlockNone {
			s.Block = current
		} else {
			current = s.Block
		}
		s.Type = s.Block.StepType()
	}
}

// MergeTags returns the union of tag sets, keeping first-seen order.
func MergeTags(sets ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, set := range sets {
		for _, t := range set {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}
