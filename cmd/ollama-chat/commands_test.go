package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/FedericoBaratti/ollama-chat/internal/chat"
	"github.com/FedericoBaratti/ollama-chat/internal/config"
	"github.com/FedericoBaratti/ollama-chat/internal/ollama"
	"github.com/FedericoBaratti/ollama-chat/internal/storage"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestProjectCreate(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /projects": `{"id":"p-123","name":"docs","description":"team docs"}`,
	})

	client := ts.client()
	body := map[string]string{"name": "docs", "description": "team docs"}
	resp, err := client.post(ctx, "/projects", body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var p storage.Project
	if err := decodeJSON(resp, &p); err != nil {
		t.Fatalf("decode error: %v", err)
	}

	if p.ID != "p-123" {
		t.Errorf("id = %q, want p-123", p.ID)
	}
	if p.Name != "docs" {
		t.Errorf("name = %q, want docs", p.Name)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}

	r := ts.requests[0]
	if r.Method != "POST" {
		t.Errorf("method = %q, want POST", r.Method)
	}
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}

	var sent map[string]string
	if err := json.Unmarshal([]byte(r.Body), &sent); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if sent["name"] != "docs" {
		t.Errorf("body.name = %q, want docs", sent["name"])
	}
}

func TestProjectList(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /projects": `[{"id":"p-1","name":"a"},{"id":"p-2","name":"b"}]`,
	})

	client := ts.client()
	resp, err := client.get(ctx, "/projects")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var projects []storage.Project
	if err := decodeJSON(resp, &projects); err != nil {
		t.Fatalf("decode error: %v", err)
	}

	if len(projects) != 2 {
		t.Fatalf("expected 2 projects, got %d", len(projects))
	}
	if projects[0].ID != "p-1" {
		t.Errorf("id = %q, want p-1", projects[0].ID)
	}
}

func TestProjectUpdate(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"PATCH /projects/p-1": `{"status":"updated"}`,
	})

	client := ts.client()
	body := map[string]string{"name": "renamed", "description": "new text"}
	resp, err := client.patch(ctx, "/projects/p-1", body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]string
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result["status"] != "updated" {
		t.Errorf("status = %q, want updated", result["status"])
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Method != "PATCH" {
		t.Errorf("method = %q, want PATCH", r.Method)
	}

	var sent map[string]string
	if err := json.Unmarshal([]byte(r.Body), &sent); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if sent["name"] != "renamed" {
		t.Errorf("body.name = %q, want renamed", sent["name"])
	}
}

func TestUploadBody(t *testing.T) {
	data := []byte{0x00, 0xff, 'h', 'i'}
	body := uploadBody("raw.bin", data)

	if body["filename"] != "raw.bin" {
		t.Errorf("filename = %q, want raw.bin", body["filename"])
	}
	if body["encoding"] != "base64" {
		t.Errorf("encoding = %q, want base64", body["encoding"])
	}

	decoded, err := base64.StdEncoding.DecodeString(body["content"])
	if err != nil {
		t.Fatalf("content is not valid base64: %v", err)
	}
	if !bytes.Equal(decoded, data) {
		t.Errorf("decoded content = %v, want %v", decoded, data)
	}
}

func TestSearchCommand_URLEncoding(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /projects/p-1/search": `[]`,
	})

	client := ts.client()
	query := "refunds & billing"
	path := fmt.Sprintf("/projects/p-1/search?q=%s&limit=10", url.QueryEscape(query))
	resp, err := client.get(ctx, path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}

	reqPath := ts.requests[0].Path
	if strings.Contains(reqPath, "& billing") {
		t.Errorf("query not URL-encoded: %q", reqPath)
	}
	if !strings.Contains(reqPath, "q=refunds+%26+billing") {
		t.Errorf("unexpected encoded path: %q", reqPath)
	}
}

func TestStatusCommand_Stopped(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Close()

	client := ts.client()
	_, err := client.get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
		w.Write([]byte(`{"error":{"message":"unauthorized","type":"auth_error"}}`))
	}))
	defer ts.Close()

	client := &apiClient{
		baseURL:    ts.URL,
		token:      "bad-token",
		httpClient: ts.Client(),
	}

	resp, err := client.get(ctx, "/projects")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var result any
	err = decodeJSON(resp, &result)
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("error = %q, want it to contain '401'", err.Error())
	}
}

func TestConfigShowAll(t *testing.T) {
	cfg := config.Config{}
	cfg.Server.Port = 4000
	cfg.Ollama.DefaultModel = "llama3.2"

	keys := config.ShowAll(cfg)
	if len(keys) == 0 {
		t.Fatal("expected non-empty keys from ShowAll")
	}

	found := false
	for _, k := range keys {
		if k.Key == "server.port" && k.Value == "4000" {
			found = true
		}
	}
	if !found {
		t.Error("expected to find server.port=4000 in ShowAll output")
	}
}

type fakeChat struct {
	reply        string
	lastMessages []ollama.Message
}

func (f *fakeChat) TestConnection(ctx context.Context) bool { return true }

func (f *fakeChat) ListModels(ctx context.Context) ([]string, error) {
	return []string{"llama3.2"}, nil
}

func (f *fakeChat) ChatStream(ctx context.Context, model string, messages []ollama.Message, opts *ollama.Options, stop *ollama.Stop, fn func(ollama.Chunk)) error {
	f.lastMessages = messages
	fn(ollama.Chunk{Content: f.reply})
	fn(ollama.Chunk{Done: true})
	return nil
}

func TestRunAsk(t *testing.T) {
	client := &fakeChat{reply: "the answer"}
	cfg := config.Config{}
	cfg.Chat.MaxMessages = 10

	err := runAsk(ctx, client, cfg, "llama3.2", "be brief", "what is Go?", "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(client.lastMessages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(client.lastMessages))
	}
	if client.lastMessages[0].Role != chat.RoleSystem {
		t.Errorf("first role = %q, want system", client.lastMessages[0].Role)
	}
	if client.lastMessages[1].Content != "what is Go?" {
		t.Errorf("user content = %q", client.lastMessages[1].Content)
	}
}

func TestRunAsk_WithContextBlock(t *testing.T) {
	client := &fakeChat{reply: "thirty days"}
	cfg := config.Config{}
	cfg.Chat.MaxMessages = 10

	block := "CONTEXT FROM KNOWLEDGE BASE:\n\n=== FILE: policy.txt ===\nrefunds within thirty days"
	err := runAsk(ctx, client, cfg, "llama3.2", "", "what is the refund policy?", block, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(client.lastMessages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(client.lastMessages))
	}
	content := client.lastMessages[0].Content
	if !strings.Contains(content, "CONTEXT FROM KNOWLEDGE BASE:") {
		t.Errorf("context block not prepended: %q", content)
	}
	if !strings.Contains(content, "USER QUESTION: what is the refund policy?") {
		t.Errorf("user question missing: %q", content)
	}
}
