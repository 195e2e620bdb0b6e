package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/FedericoBaratti/ollama-chat/internal/ingest"
	"github.com/FedericoBaratti/ollama-chat/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store     *storage.Store
	Knowledge ContextProvider
	Ingestor  FileIngestor
}

// NewMCPServer creates an MCP server exposing the knowledge base as tools
// for external assistants.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"ollama-chat",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("ollama-chat: project-scoped knowledge base with lexical search and context assembly."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_projects",
			mcp.WithDescription("List all knowledge-base projects with their ids."),
		),
		mcpListProjects(deps),
	)

	s.AddTool(
		mcp.NewTool("search_knowledge",
			mcp.WithDescription("Search a project's files by keyword and return matching files with snippets."),
			mcp.WithString("query", mcp.Description("Search term"), mcp.Required()),
			mcp.WithString("project_id", mcp.Description("Project to search in"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
		),
		mcpSearchKnowledge(deps),
	)

	s.AddTool(
		mcp.NewTool("get_context",
			mcp.WithDescription("Assemble a bounded context block of the most relevant file snippets for a query."),
			mcp.WithString("query", mcp.Description("Question or topic to gather context for"), mcp.Required()),
			mcp.WithString("project_id", mcp.Description("Project to gather context from"), mcp.Required()),
			mcp.WithNumber("max_length", mcp.Description("Maximum block length in characters (default 2000)")),
		),
		mcpGetContext(deps),
	)

	s.AddTool(
		mcp.NewTool("add_file",
			mcp.WithDescription("Add a file to a project's knowledge base."),
			mcp.WithString("project_id", mcp.Description("Target project"), mcp.Required()),
			mcp.WithString("filename", mcp.Description("Name of the file"), mcp.Required()),
			mcp.WithString("content", mcp.Description("File content, plain text or base64"), mcp.Required()),
			mcp.WithString("encoding", mcp.Description("Set to \"base64\" when content is binary")),
		),
		mcpAddFile(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"knowledge://projects",
			"Projects",
			mcp.WithResourceDescription("All knowledge-base projects as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceProjects(deps),
	)

	return s
}

func mcpListProjects(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projects, err := deps.Store.ListProjects()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list projects: %v", err)), nil
		}

		type projectResult struct {
			ID          string `json:"id"`
			Name        string `json:"name"`
			Description string `json:"description,omitempty"`
			Modified    string `json:"last_modified"`
		}
		results := make([]projectResult, len(projects))
		for i, p := range projects {
			results[i] = projectResult{
				ID:          p.ID,
				Name:        p.Name,
				Description: p.Description,
				Modified:    p.LastModified.Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal projects: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSearchKnowledge(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		projectID, err := req.RequireString("project_id")
		if err != nil {
			return mcpError("project_id is required"), nil
		}

		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 50 {
			limit = 50
		}

		hits, err := deps.Store.SearchFiles(query, projectID, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(hits) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(hits)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetContext(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		projectID, err := req.RequireString("project_id")
		if err != nil {
			return mcpError("project_id is required"), nil
		}
		maxLength := req.GetInt("max_length", 0)

		block, err := deps.Knowledge.ContextForQuery(query, projectID, maxLength)
		if err != nil {
			return mcpError(fmt.Sprintf("context assembly failed: %v", err)), nil
		}
		if block == "" {
			return mcpText("No relevant content found."), nil
		}
		return mcpText(block), nil
	}
}

func mcpAddFile(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID, err := req.RequireString("project_id")
		if err != nil {
			return mcpError("project_id is required"), nil
		}
		filename, err := req.RequireString("filename")
		if err != nil {
			return mcpError("filename is required"), nil
		}
		content, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}

		data := []byte(content)
		if req.GetString("encoding", "") == "base64" {
			decoded, err := base64.StdEncoding.DecodeString(content)
			if err != nil {
				return mcpError("invalid base64 content"), nil
			}
			data = decoded
		}

		res, err := deps.Ingestor.AddBytes(projectID, filename, data)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("project %s not found", projectID)), nil
		}
		if errors.Is(err, ingest.ErrTooLarge) {
			return mcpError("file exceeds the size limit"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to add file: %v", err)), nil
		}

		if res.Existed {
			return mcpText(fmt.Sprintf("File with identical content already stored as %s (id %s)", res.File.Filename, res.File.ID)), nil
		}
		return mcpText(fmt.Sprintf("Stored %s (id %s)", res.File.Filename, res.File.ID)), nil
	}
}

func mcpResourceProjects(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		projects, err := deps.Store.ListProjects()
		if err != nil {
			return nil, fmt.Errorf("failed to list projects: %w", err)
		}

		b, err := json.Marshal(projects)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal projects: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
