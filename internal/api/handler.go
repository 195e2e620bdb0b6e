// Package api exposes the chat and knowledge-base operations over HTTP and
// MCP. All routes except /health require a bearer token.
package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/FedericoBaratti/ollama-chat/internal/chat"
	"github.com/FedericoBaratti/ollama-chat/internal/ingest"
	"github.com/FedericoBaratti/ollama-chat/internal/knowledge"
	"github.com/FedericoBaratti/ollama-chat/internal/ollama"
	"github.com/FedericoBaratti/ollama-chat/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB
const maxUploadBodySize = 100 << 20

// ChatClient is the inference client surface the API needs.
type ChatClient interface {
	ListModels(ctx context.Context) ([]string, error)
	ChatStream(ctx context.Context, model string, messages []ollama.Message, opts *ollama.Options, stop *ollama.Stop, fn func(ollama.Chunk)) error
}

// ContextProvider assembles knowledge-base context for a query.
type ContextProvider interface {
	ContextForQuery(query, projectID string, maxLength int) (string, error)
}

// FileIngestor adds uploaded files to a project.
type FileIngestor interface {
	AddBytes(projectID, filename string, data []byte) (ingest.Result, error)
}

type AppDeps struct {
	Store     *storage.Store
	Client    ChatClient
	Knowledge ContextProvider
	Ingestor  FileIngestor
	Token     string

	// ContextLength bounds assembled context blocks for /chat.
	ContextLength int
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/models", handleModels(deps))
		r.Post("/chat", handleChat(deps))

		r.Get("/projects", handleListProjects(deps))
		r.Post("/projects", handleCreateProject(deps))
		r.Get("/projects/{id}", handleGetProject(deps))
		r.Patch("/projects/{id}", handleUpdateProject(deps))
		r.Delete("/projects/{id}", handleDeleteProject(deps))
		r.Get("/projects/{id}/stats", handleProjectStats(deps))

		r.Get("/projects/{id}/files", handleListFiles(deps))
		r.Post("/projects/{id}/files", handleUploadFile(deps))
		r.Get("/projects/{id}/search", handleSearch(deps))
		r.Get("/projects/{id}/context", handleContext(deps))

		r.Get("/files/{id}/content", handleFileContent(deps))
		r.Delete("/files/{id}", handleDeleteFile(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleModels(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		models, err := deps.Client.ListModels(r.Context())
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "failed to list models: %v", err)
			return
		}

		writeJSON(w, map[string]any{"models": models})
	}
}

// --- Projects ---

type projectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func handleCreateProject(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req projectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Name == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name is required")
			return
		}

		p, err := deps.Store.CreateProject(req.Name, req.Description)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create project: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(p)
	}
}

func handleListProjects(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projects, err := deps.Store.ListProjects()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list projects: %v", err)
			return
		}
		if projects == nil {
			projects = []storage.Project{}
		}
		writeJSON(w, projects)
	}
}

func handleGetProject(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Store.GetProject(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "project not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get project: %v", err)
			return
		}
		writeJSON(w, p)
	}
}

func handleUpdateProject(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req projectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Name == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name is required")
			return
		}

		id := chi.URLParam(r, "id")
		err := deps.Store.UpdateProject(id, req.Name, req.Description)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "project not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update project: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "updated"})
	}
}

func handleDeleteProject(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Store.DeleteProject(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "project not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete project: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})
	}
}

func handleProjectStats(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := deps.Store.GetProject(id); errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "project not found")
			return
		}

		stats, err := deps.Store.GetProjectStats(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get stats: %v", err)
			return
		}
		writeJSON(w, stats)
	}
}

// --- Files ---

type uploadRequest struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"` // "base64" or empty for plain text
}

func handleUploadFile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodySize)

		var req uploadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Filename == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "filename is required")
			return
		}

		data := []byte(req.Content)
		if req.Encoding == "base64" {
			decoded, err := base64.StdEncoding.DecodeString(req.Content)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid base64 content")
				return
			}
			data = decoded
		}

		res, err := deps.Ingestor.AddBytes(chi.URLParam(r, "id"), req.Filename, data)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "project not found")
			return
		}
		if errors.Is(err, ingest.ErrTooLarge) {
			httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "file too large")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to ingest file: %v", err)
			return
		}

		status := "added"
		w.Header().Set("Content-Type", "application/json")
		if res.Existed {
			status = "exists"
		} else {
			w.WriteHeader(http.StatusCreated)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status": status,
			"file":   res.File,
		})
	}
}

func handleListFiles(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		files, err := deps.Store.ListFiles(chi.URLParam(r, "id"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list files: %v", err)
			return
		}
		if files == nil {
			files = []storage.FileRecord{}
		}
		writeJSON(w, files)
	}
}

func handleFileContent(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		content, err := deps.Store.GetFileContent(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "file not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get content: %v", err)
			return
		}
		writeJSON(w, map[string]string{"content": content})
	}
}

func handleDeleteFile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Store.DeleteFile(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "file not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete file: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})
	}
}

// --- Search and context ---

func handleSearch(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		term := r.URL.Query().Get("q")
		if term == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "q is required")
			return
		}
		limit := parseIntParam(r, "limit", 10, 50)

		hits, err := deps.Store.SearchFiles(term, chi.URLParam(r, "id"), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "search failed: %v", err)
			return
		}
		if hits == nil {
			hits = []storage.SearchHit{}
		}
		writeJSON(w, hits)
	}
}

func handleContext(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("q")
		if query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "q is required")
			return
		}
		maxLength := parseIntParam(r, "max_length", deps.contextLength(), 10000)

		block, err := deps.Knowledge.ContextForQuery(query, chi.URLParam(r, "id"), maxLength)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "context assembly failed: %v", err)
			return
		}
		writeJSON(w, map[string]string{"context": block})
	}
}

func (d AppDeps) contextLength() int {
	if d.ContextLength > 0 {
		return d.ContextLength
	}
	return knowledge.DefaultMaxContext
}

// --- Chat ---

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string          `json:"model"`
	Messages  []chatMessage   `json:"messages"`
	ProjectID string          `json:"project_id"`
	Options   *ollama.Options `json:"options"`
}

// handleChat streams the assistant reply as newline-delimited JSON chunks,
// mirroring the upstream wire format. When project_id is set, knowledge-base
// context is prepended to the final user message.
func handleChat(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Model == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "model is required")
			return
		}
		if len(req.Messages) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "messages is required and must not be empty")
			return
		}

		messages := make([]ollama.Message, len(req.Messages))
		for i, m := range req.Messages {
			messages[i] = ollama.Message{Role: m.Role, Content: m.Content}
		}

		last := &messages[len(messages)-1]
		if req.ProjectID != "" && last.Role == chat.RoleUser {
			block, err := deps.Knowledge.ContextForQuery(last.Content, req.ProjectID, deps.contextLength())
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "context assembly failed: %v", err)
				return
			}
			if block != "" {
				last.Content = chat.WithContext(block, last.Content)
			}
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
			return
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Cache-Control", "no-cache")

		enc := json.NewEncoder(w)
		streamErr := deps.Client.ChatStream(r.Context(), req.Model, messages, req.Options, nil, func(c ollama.Chunk) {
			enc.Encode(c)
			flusher.Flush()
		})
		if streamErr != nil {
			// Headers are already sent; surface the failure in-band.
			enc.Encode(map[string]string{"error": streamErr.Error()})
			flusher.Flush()
		}
	}
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
