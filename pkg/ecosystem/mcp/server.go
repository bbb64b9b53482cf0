package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewServer creates a new MCP server with stepbind tools registered.
func NewServer(version string) *server.MCPServer {
	s := server.NewMCPServer(
		"stepbind",
		version,
		server.WithToolCapabilities(true),
	)

	s.AddTool(
		mcp.NewTool("stepbind/validate",
			mcp.WithDescription("Validate a binding manifest or a stepbind configuration file"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the manifest or config file")),
			mcp.WithString("type", mcp.Description("File type: 'manifest' (default) or 'config'")),
		),
		HandleValidate,
	)

	s.AddTool(
		mcp.NewTool("stepbind/match",
			mcp.WithDescription("Match a written step against the bindings of a manifest"),
			mcp.WithString("manifest", mcp.Required(), mcp.Description("Path to the binding manifest YAML file")),
			mcp.WithString("step", mcp.Required(), mcp.Description("Step with its keyword, e.g. 'Given I have 3 apples'")),
			mcp.WithString("tags", mcp.Description("Comma separated scenario tags, e.g. '@web,@slow'")),
		),
		HandleMatch,
	)

	s.AddTool(
		mcp.NewTool("stepbind/dry-run",
			mcp.WithDescription("Run feature files against the manifest with canned outcomes"),
			mcp.WithString("manifest", mcp.Required(), mcp.Description("Path to the binding manifest YAML file")),
			mcp.WithString("features", mcp.Required(), mcp.Description("Comma separated feature files or directories")),
			mcp.WithString("config", mcp.Description("Path to a stepbind configuration file (optional)")),
			mcp.WithString("replay", mcp.Description("Path to a replay file of canned outcomes (optional)")),
		),
		HandleDryRun,
	)

	s.AddTool(
		mcp.NewTool("stepbind/test",
			mcp.WithDescription("Run the replay test scenarios of a feature file"),
			mcp.WithString("manifest", mcp.Required(), mcp.Description("Path to the binding manifest YAML file")),
			mcp.WithString("feature", mcp.Required(), mcp.Description("Path to the feature file")),
			mcp.WithString("scenario", mcp.Description("Run only the named scenario (optional)")),
		),
		HandleTest,
	)

	s.AddTool(
		mcp.NewTool("stepbind/schema",
			mcp.WithDescription("Export stepbind JSON Schema (config or manifest)"),
			mcp.WithString("type", mcp.Required(), mcp.Description("Schema type: 'config' or 'manifest'")),
		),
		HandleSchema,
	)

	return s
}
