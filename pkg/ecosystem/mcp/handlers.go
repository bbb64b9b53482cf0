package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ormasoftchile/stepbind/pkg/config"
	"github.com/ormasoftchile/stepbind/pkg/dryrun"
	"github.com/ormasoftchile/stepbind/pkg/gherkin"
	"github.com/ormasoftchile/stepbind/pkg/kernel/bindings"
	"github.com/ormasoftchile/stepbind/pkg/kernel/feature"
	"github.com/ormasoftchile/stepbind/pkg/kernel/match"
	"github.com/ormasoftchile/stepbind/pkg/kernel/outcome"
	"github.com/ormasoftchile/stepbind/pkg/kernel/scope"
	ktesting "github.com/ormasoftchile/stepbind/pkg/kernel/testing"
)

// HandleValidate implements the stepbind/validate MCP tool.
func HandleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	path, _ := args["path"].(string)
	if path == "" {
		return errorResult("path argument is required"), nil
	}

	kind, _ := args["type"].(string)
	switch kind {
	case "config":
		_, errs := config.ValidateFile(path)
		if config.HasErrors(errs) {
			return errorResult(formatConfigErrors(errs)), nil
		}
		return textResult(fmt.Sprintf("✓ %s is valid (%d warnings)", path, len(errs))), nil
	case "", "manifest":
	default:
		return errorResult(fmt.Sprintf("unknown file type %q, use 'manifest' or 'config'", kind)), nil
	}

	reg, err := bindings.LoadRegistryFile(path)
	if err != nil {
		var verrs bindings.ValidationErrors
		if errors.As(err, &verrs) {
			return errorResult(formatBindingErrors(verrs)), nil
		}
		return errorResult(err.Error()), nil
	}
	return textResult(fmt.Sprintf("✓ %s is valid (%d step definitions, %d hooks)",
		path, len(reg.AllStepDefinitions()), len(reg.AllHooks()))), nil
}

// HandleMatch implements the stepbind/match MCP tool.
func HandleMatch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	manifest, _ := args["manifest"].(string)
	line, _ := args["step"].(string)
	if manifest == "" || line == "" {
		return errorResult("manifest and step arguments are required"), nil
	}

	reg, err := bindings.LoadRegistryFile(manifest)
	if err != nil {
		return errorResult(fmt.Sprintf("load bindings: %s", err)), nil
	}
	m, err := match.New(reg)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	st, err := feature.ParseStepLine(line)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	tags, _ := args["tags"].(string)
	out := m.Match(st, scope.Context{Tags: splitList(tags), Keyword: st.Keyword, Block: st.Block})

	data, _ := json.MarshalIndent(out.Report(st), "", "  ")
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(data))},
		IsError: out.Kind != match.KindMatched,
	}, nil
}

// HandleDryRun implements the stepbind/dry-run MCP tool.
func HandleDryRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	manifest, _ := args["manifest"].(string)
	features, _ := args["features"].(string)
	if manifest == "" || features == "" {
		return errorResult("manifest and features arguments are required"), nil
	}
	cfg, _ := args["config"].(string)
	replayPath, _ := args["replay"].(string)

	out, err := dryrun.Run(ctx, dryrun.Options{
		Manifest: manifest,
		Features: splitList(features),
		Config:   cfg,
		Replay:   replayPath,
	})
	if err != nil && out == nil {
		return errorResult(err.Error()), nil
	}

	response := map[string]any{
		"run_id":   out.RunID,
		"status":   out.Status.String(),
		"summary":  out.Summary,
		"duration": out.Duration.String(),
	}
	var failures []map[string]string
	for _, f := range out.Features {
		for _, sc := range f.Scenarios {
			if sc.Status == outcome.Passed || sc.Status == outcome.Skipped {
				continue
			}
			entry := map[string]string{"feature": f.Info.Name, "scenario": sc.Info.Name, "status": sc.Status.String()}
			if sc.Err != nil {
				entry["error"] = sc.Err.Error()
			}
			failures = append(failures, entry)
		}
	}
	if len(failures) > 0 {
		response["failures"] = failures
	}
	if err != nil {
		response["error"] = err.Error()
	}

	data, _ := json.MarshalIndent(response, "", "  ")
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(data))},
		IsError: err != nil || out.Status != outcome.Passed,
	}, nil
}

// HandleTest implements the stepbind/test MCP tool.
func HandleTest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	manifest, _ := args["manifest"].(string)
	path, _ := args["feature"].(string)
	if manifest == "" || path == "" {
		return errorResult("manifest and feature arguments are required"), nil
	}
	reg, err := bindings.LoadRegistryFile(manifest)
	if err != nil {
		return errorResult(fmt.Sprintf("load bindings: %s", err)), nil
	}

	runner := &ktesting.Runner{
		Registry: reg,
		Parse:    func(p string) (feature.Feature, error) { return gherkin.ParseFile(p, "") },
	}

	var output *ktesting.TestOutput
	if scenarioName, _ := args["scenario"].(string); scenarioName != "" {
		result, err := runner.RunScenario(ctx, path, scenarioName)
		if err != nil {
			return errorResult(fmt.Sprintf("run scenario: %s", err)), nil
		}
		output = &ktesting.TestOutput{
			Feature:   result.FeatureName,
			Scenarios: []ktesting.TestResult{*result},
			Summary:   ktesting.TestSummary{Total: 1},
		}
		switch result.Status {
		case "passed":
			output.Summary.Passed = 1
		case "failed":
			output.Summary.Failed = 1
		case "skipped":
			output.Summary.Skipped = 1
		default:
			output.Summary.Errors = 1
		}
	} else {
		output, err = runner.RunAll(ctx, path)
		if err != nil {
			return errorResult(fmt.Sprintf("run tests: %s", err)), nil
		}
	}

	data, _ := json.MarshalIndent(output, "", "  ")
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(data))},
		IsError: output.Summary.Failed > 0 || output.Summary.Errors > 0,
	}, nil
}

// HandleSchema implements the stepbind/schema MCP tool.
func HandleSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	schemaType, _ := args["type"].(string)

	var data []byte
	var err error

	switch schemaType {
	case "config":
		data, err = config.GenerateJSONSchema()
	case "manifest":
		data, err = bindings.GenerateManifestJSONSchema()
	default:
		return errorResult(fmt.Sprintf("unknown schema type %q, use 'config' or 'manifest'", schemaType)), nil
	}

	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(string(data)), nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func formatBindingErrors(errs bindings.ValidationErrors) string {
	var msgs []string
	for _, e := range errs {
		if e.Severity == "error" {
			msgs = append(msgs, fmt.Sprintf("[%s] %s: %s", e.Phase, e.Path, e.Message))
		}
	}
	return strings.Join(msgs, "; ")
}

func formatConfigErrors(errs []*config.ValidationError) string {
	var msgs []string
	for _, e := range errs {
		if e.Severity == "error" {
			msgs = append(msgs, fmt.Sprintf("[%s] %s", e.Phase, e.Message))
		}
	}
	return strings.Join(msgs, "; ")
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(msg),
		},
		IsError: true,
	}
}
