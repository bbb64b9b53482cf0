// Package gherkin parses .feature files with the cucumber Gherkin parser
// and converts the compiled pickles into the engine's feature model.
package gherkin

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	gherkin "github.com/cucumber/gherkin/go/v26"
	messages "github.com/cucumber/messages/go/v21"

	"github.com/ormasoftchile/stepbind/pkg/kernel/feature"
)

// IgnoreTag marks scenarios that are reported skipped without running.
const IgnoreTag = "@ignore"

// ErrNoFeature is returned for documents without a Feature keyword.
var ErrNoFeature = errors.New("document has no feature")

// ParseFile parses one feature file. language is the default dialect for
// files without a "# language:" header; empty means English.
func ParseFile(path, language string) (feature.Feature, error) {
	f, err := os.Open(path)
	if err != nil {
		return feature.Feature{}, fmt.Errorf("open feature: %w", err)
	}
	defer f.Close()
	return Parse(f, filepath.ToSlash(path), language)
}

// Parse parses a feature document read from r. uri is recorded in
// locations.
func Parse(r io.Reader, uri, language string) (feature.Feature, error) {
	if language == "" {
		language = "en"
	}
	ids := &messages.Incrementing{}
	doc, err := gherkin.ParseGherkinDocumentForLanguage(r, language, ids.NewId)
	if err != nil {
		return feature.Feature{}, fmt.Errorf("parse %s: %w", uri, err)
	}
	if doc.Feature == nil {
		return feature.Feature{}, fmt.Errorf("%s: %w", uri, ErrNoFeature)
	}
	doc.Uri = uri
	pickles := gherkin.Pickles(*doc, uri, ids.NewId)
	return convert(doc, pickles), nil
}

// LoadPaths parses every feature file named by paths, walking directories
// for *.feature files. Documents without a feature are skipped.
func LoadPaths(paths []string, language string) ([]feature.Feature, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("feature path: %w", err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.HasSuffix(d.Name(), ".feature") {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", p, err)
		}
	}

	var out []feature.Feature
	for _, file := range files {
		f, err := ParseFile(file, language)
		if errors.Is(err, ErrNoFeature) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// astIndex resolves pickle AST node ids back to the document.
type astIndex struct {
	scenarios map[string]*messages.Scenario
	rules     map[string]string // scenario id -> rule name
	steps     map[string]*messages.Step
	rows      map[string]*messages.TableRow
	headers   map[string]*messages.TableRow // row id -> examples header
}

func index(f *messages.Feature) *astIndex {
	ix := &astIndex{
		scenarios: map[string]*messages.Scenario{},
		rules:     map[string]string{},
		steps:     map[string]*messages.Step{},
		rows:      map[string]*messages.TableRow{},
		headers:   map[string]*messages.TableRow{},
	}
	addBackground := func(bg *messages.Background) {
		for _, st := range bg.Steps {
			ix.steps[st.Id] = st
		}
	}
	addScenario := func(sc *messages.Scenario, rule string) {
		ix.scenarios[sc.Id] = sc
		if rule != "" {
			ix.rules[sc.Id] = rule
		}
		for _, st := range sc.Steps {
			ix.steps[st.Id] = st
		}
		for _, ex := range sc.Examples {
			for _, row := range ex.TableBody {
				ix.rows[row.Id] = row
				ix.headers[row.Id] = ex.TableHeader
			}
		}
	}
	for _, child := range f.Children {
		switch {
		case child.Background != nil:
			addBackground(child.Background)
		case child.Scenario != nil:
			addScenario(child.Scenario, "")
		case child.Rule != nil:
			for _, rc := range child.Rule.Children {
				if rc.Background != nil {
					addBackground(rc.Background)
				}
				if rc.Scenario != nil {
					addScenario(rc.Scenario, child.Rule.Name)
				}
			}
		}
	}
	return ix
}

func convert(doc *messages.GherkinDocument, pickles []*messages.Pickle) feature.Feature {
	f := doc.Feature
	out := feature.Feature{Info: feature.FeatureInfo{
		Name:        f.Name,
		Description: strings.TrimSpace(f.Description),
		Tags:        tagNames(f.Tags),
		Language:    f.Language,
		URI:         doc.Uri,
	}}
	ix := index(f)
	for _, p := range pickles {
		out.Scenarios = append(out.Scenarios, ix.scenario(p, doc.Uri))
	}
	return out
}

func (ix *astIndex) scenario(p *messages.Pickle, uri string) feature.Scenario {
	info := feature.ScenarioInfo{
		ID:           p.Id,
		Name:         p.Name,
		CombinedTags: pickleTags(p.Tags),
	}
	if len(p.AstNodeIds) > 0 {
		if sc, ok := ix.scenarios[p.AstNodeIds[0]]; ok {
			info.Tags = tagNames(sc.Tags)
			info.Rule = ix.rules[sc.Id]
			info.Location = location(uri, sc.Location)
		}
	}
	if len(p.AstNodeIds) > 1 {
		rowID := p.AstNodeIds[1]
		if row, ok := ix.rows[rowID]; ok {
			info.Location = location(uri, row.Location)
			info.Arguments = rowArguments(ix.headers[rowID], row)
		}
	}

	sc := feature.Scenario{Info: info, Ignored: slices.ContainsFunc(info.CombinedTags, isIgnoreTag)}
	for _, ps := range p.Steps {
		sc.Steps = append(sc.Steps, ix.step(ps, uri))
	}
	feature.ResolveBlocks(sc.Steps)
	return sc
}

func (ix *astIndex) step(ps *messages.PickleStep, uri string) feature.StepInstance {
	st := feature.StepInstance{Text: ps.Text, Block: pickleBlock(ps.Type)}
	if len(ps.AstNodeIds) > 0 {
		if ast, ok := ix.steps[ps.AstNodeIds[0]]; ok {
			st.KeywordText = strings.TrimSpace(ast.Keyword)
			st.Keyword = keyword(ast)
			st.Location = location(uri, ast.Location)
		}
	}
	if st.Keyword == "" {
		st.Keyword = feature.KeywordAnd
	}
	if arg := ps.Argument; arg != nil {
		if ds := arg.DocString; ds != nil {
			st.DocString = &feature.DocString{Content: ds.Content, MediaType: ds.MediaType}
		}
		if dt := arg.DataTable; dt != nil {
			table := &feature.DataTable{}
			for _, row := range dt.Rows {
				cells := make([]string, len(row.Cells))
				for i, c := range row.Cells {
					cells[i] = c.Value
				}
				table.Rows = append(table.Rows, cells)
			}
			st.Table = table
		}
	}
	return st
}

// keyword maps the written keyword to the engine's keyword. Non-English
// dialects fall back to the keyword type the parser assigned.
func keyword(ast *messages.Step) feature.Keyword {
	if kw, err := feature.ParseKeyword(ast.Keyword); err == nil {
		return kw
	}
	switch ast.KeywordType {
	case messages.StepKeywordType_CONTEXT:
		return feature.KeywordGiven
	case messages.StepKeywordType_ACTION:
		return feature.KeywordWhen
	case messages.StepKeywordType_OUTCOME:
		return feature.KeywordThen
	}
	return feature.KeywordAnd
}

func pickleBlock(t messages.PickleStepType) feature.Block {
	switch t {
	case messages.PickleStepType_CONTEXT:
		return feature.BlockGiven
	case messages.PickleStepType_ACTION:
		return feature.BlockWhen
	case messages.PickleStepType_OUTCOME:
		return feature.BlockThen
	}
	return ""
}

func rowArguments(header, row *messages.TableRow) map[string]string {
	if header == nil {
		return nil
	}
	args := make(map[string]string, len(header.Cells))
	for i, h := range header.Cells {
		if i < len(row.Cells) {
			args[h.Value] = row.Cells[i].Value
		}
	}
	return args
}

func location(uri string, l *messages.Location) feature.Location {
	if l == nil {
		return feature.Location{URI: uri}
	}
	return feature.Location{URI: uri, Line: int(l.Line), Column: int(l.Column)}
}

func tagNames(tags []*messages.Tag) []string {
	var out []string
	for _, t := range tags {
		out = append(out, t.Name)
	}
	return out
}

func pickleTags(tags []*messages.PickleTag) []string {
	var out []string
	for _, t := range tags {
		out = append(out, t.Name)
	}
	return out
}

func isIgnoreTag(t string) bool { return strings.EqualFold(t, IgnoreTag) }
