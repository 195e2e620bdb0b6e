package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/FedericoBaratti/ollama-chat/internal/ingest"
	"github.com/FedericoBaratti/ollama-chat/internal/knowledge"
	"github.com/FedericoBaratti/ollama-chat/internal/storage"
)

func newTestMCPDeps(t *testing.T) (MCPDeps, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return MCPDeps{
		Store:     store,
		Knowledge: knowledge.NewEngine(store, nil),
		Ingestor:  ingest.New(store, 50, nil),
	}, store
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func seedProject(t *testing.T, store *storage.Store, name string) storage.Project {
	t.Helper()
	p, err := store.CreateProject(name, "")
	if err != nil {
		t.Fatalf("CreateProject = %v", err)
	}
	return p
}

func TestMCPTool_ListProjects(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	seedProject(t, store, "alpha")
	seedProject(t, store, "beta")

	result, err := mcpListProjects(deps)(context.Background(), makeCallToolRequest("list_projects", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	var projects []json.RawMessage
	if err := json.Unmarshal([]byte(toolText(t, result)), &projects); err != nil {
		t.Fatalf("parsing response: %v", err)
	}
	if len(projects) != 2 {
		t.Fatalf("got %d projects, want 2", len(projects))
	}
}

func TestMCPTool_AddFileAndSearch(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	p := seedProject(t, store, "docs")

	addResult, err := mcpAddFile(deps)(context.Background(), makeCallToolRequest("add_file", map[string]interface{}{
		"project_id": p.ID,
		"filename":   "policy.txt",
		"content":    "the refund policy allows returns within thirty days",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addResult.IsError {
		t.Fatalf("tool error: %s", toolText(t, addResult))
	}
	if !strings.Contains(toolText(t, addResult), "policy.txt") {
		t.Errorf("response = %s", toolText(t, addResult))
	}

	searchResult, err := mcpSearchKnowledge(deps)(context.Background(), makeCallToolRequest("search_knowledge", map[string]interface{}{
		"query":      "refund",
		"project_id": p.ID,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var hits []storage.SearchHit
	if err := json.Unmarshal([]byte(toolText(t, searchResult)), &hits); err != nil {
		t.Fatalf("parsing hits: %v", err)
	}
	if len(hits) != 1 || hits[0].Filename != "policy.txt" {
		t.Fatalf("hits = %+v", hits)
	}
}

func TestMCPTool_AddFileDuplicate(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	p := seedProject(t, store, "docs")

	args := map[string]interface{}{
		"project_id": p.ID,
		"filename":   "a.txt",
		"content":    "same body",
	}
	if _, err := mcpAddFile(deps)(context.Background(), makeCallToolRequest("add_file", args)); err != nil {
		t.Fatalf("first add: %v", err)
	}

	args["filename"] = "b.txt"
	result, err := mcpAddFile(deps)(context.Background(), makeCallToolRequest("add_file", args))
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if !strings.Contains(toolText(t, result), "already stored") {
		t.Errorf("response = %s", toolText(t, result))
	}
}

func TestMCPTool_AddFileUnknownProject(t *testing.T) {
	deps, _ := newTestMCPDeps(t)

	result, err := mcpAddFile(deps)(context.Background(), makeCallToolRequest("add_file", map[string]interface{}{
		"project_id": "missing",
		"filename":   "a.txt",
		"content":    "x",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for unknown project")
	}
}

func TestMCPTool_SearchMissingQuery(t *testing.T) {
	deps, _ := newTestMCPDeps(t)

	result, err := mcpSearchKnowledge(deps)(context.Background(), makeCallToolRequest("search_knowledge", map[string]interface{}{
		"project_id": "p1",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for missing query")
	}
}

func TestMCPTool_SearchEmptyResult(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	p := seedProject(t, store, "docs")

	result, err := mcpSearchKnowledge(deps)(context.Background(), makeCallToolRequest("search_knowledge", map[string]interface{}{
		"query":      "anything",
		"project_id": p.ID,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := toolText(t, result); got != "[]" {
		t.Errorf("got %q, want []", got)
	}
}

func TestMCPTool_GetContext(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	p := seedProject(t, store, "docs")

	if _, err := mcpAddFile(deps)(context.Background(), makeCallToolRequest("add_file", map[string]interface{}{
		"project_id": p.ID,
		"filename":   "policy.txt",
		"content":    "the refund policy allows returns within thirty days",
	})); err != nil {
		t.Fatalf("add: %v", err)
	}

	result, err := mcpGetContext(deps)(context.Background(), makeCallToolRequest("get_context", map[string]interface{}{
		"query":      "refund",
		"project_id": p.ID,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text := toolText(t, result)
	if !strings.Contains(text, "CONTEXT FROM KNOWLEDGE BASE:") || !strings.Contains(text, "policy.txt") {
		t.Errorf("context = %q", text)
	}
}

func TestMCPTool_GetContextEmptyProject(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	p := seedProject(t, store, "empty")

	result, err := mcpGetContext(deps)(context.Background(), makeCallToolRequest("get_context", map[string]interface{}{
		"query":      "anything",
		"project_id": p.ID,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := toolText(t, result); got != "No relevant content found." {
		t.Errorf("got %q", got)
	}
}

func TestMCPResource_Projects(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	seedProject(t, store, "alpha")

	contents, err := mcpResourceProjects(deps)(context.Background(), mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: "knowledge://projects"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("got %d contents", len(contents))
	}
	text, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("unexpected type %T", contents[0])
	}
	if !strings.Contains(text.Text, "alpha") {
		t.Errorf("resource = %q", text.Text)
	}
}
