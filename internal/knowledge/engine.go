// Package knowledge selects and assembles file content relevant to a chat
// message. The engine runs a lexical search with progressively looser terms,
// then packs snippets from the best matches into a bounded context block.
package knowledge

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/FedericoBaratti/ollama-chat/internal/storage"
)

const (
	contextHeader = "CONTEXT FROM KNOWLEDGE BASE:\n\n"

	// DefaultMaxContext bounds the assembled block when the caller does not
	// say otherwise.
	DefaultMaxContext = 2000

	maxContextFiles  = 3
	perTermLimit     = 3
	snippetCap       = 800
	minUsefulContent = 10
)

// Store is the read side of the file store the engine queries.
type Store interface {
	SearchFiles(term, projectID string, limit int) ([]storage.SearchHit, error)
	ListFiles(projectID string) ([]storage.FileRecord, error)
	GetFileContent(fileID string) (string, error)
}

// Engine retrieves knowledge-base context for queries.
type Engine struct {
	store  Store
	logger *slog.Logger
}

// NewEngine creates an Engine backed by the given store.
func NewEngine(store Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, logger: logger.With("component", "knowledge")}
}

// ContextForQuery builds a context block of at most maxLength characters for
// the query. It returns the empty string when the project has no usable
// content.
func (e *Engine) ContextForQuery(query, projectID string, maxLength int) (string, error) {
	if maxLength <= 0 {
		maxLength = DefaultMaxContext
	}

	candidates, err := e.findCandidates(query, projectID)
	if err != nil {
		return "", err
	}
	if len(candidates) == 0 {
		return "", nil
	}

	return e.assemble(candidates, query, maxLength), nil
}

// findCandidates runs the search fallback chain: the full query first, then
// its leading words, then the newest files regardless of match.
func (e *Engine) findCandidates(query, projectID string) ([]storage.SearchHit, error) {
	terms := []string{query}
	words := strings.Fields(query)
	if len(words) > 3 {
		words = words[:3]
	}
	terms = append(terms, words...)

	var hits []storage.SearchHit
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if len(term) <= 2 {
			continue
		}
		results, err := e.store.SearchFiles(term, projectID, perTermLimit)
		if err != nil {
			return nil, fmt.Errorf("searching for %q: %w", term, err)
		}
		if len(results) > 0 {
			hits = results
			break
		}
	}

	hits = dedupe(hits)
	if len(hits) > 0 {
		return hits, nil
	}

	// Nothing matched. Fall back to the most recent files with real content.
	files, err := e.store.ListFiles(projectID)
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}
	for _, f := range files {
		if len(hits) == 2 {
			break
		}
		content, err := e.store.GetFileContent(f.ID)
		if err != nil {
			e.logger.Warn("skipping unreadable file", "file", f.Filename, "error", err)
			continue
		}
		if len(strings.TrimSpace(content)) <= minUsefulContent {
			continue
		}
		snippet := content
		if len(snippet) > 200 {
			snippet = snippet[:200] + "..."
		}
		hits = append(hits, storage.SearchHit{
			FileID:   f.ID,
			Filename: f.Filename,
			MimeType: f.MimeType,
			Snippet:  snippet,
			Size:     f.Size,
		})
	}
	return hits, nil
}

func dedupe(hits []storage.SearchHit) []storage.SearchHit {
	seen := make(map[string]bool, len(hits))
	out := hits[:0]
	for _, h := range hits {
		if seen[h.FileID] {
			continue
		}
		seen[h.FileID] = true
		out = append(out, h)
	}
	return out
}

// assemble packs snippets from up to three files under a shared header,
// never exceeding maxLength.
func (e *Engine) assemble(candidates []storage.SearchHit, query string, maxLength int) string {
	if len(candidates) > maxContextFiles {
		candidates = candidates[:maxContextFiles]
	}

	var block strings.Builder
	block.WriteString(contextHeader)
	used := len(contextHeader)

	for _, hit := range candidates {
		if used >= maxLength {
			break
		}

		content, err := e.store.GetFileContent(hit.FileID)
		if err != nil {
			e.logger.Warn("skipping unreadable file", "file", hit.Filename, "error", err)
			continue
		}
		if len(strings.TrimSpace(content)) <= minUsefulContent {
			continue
		}

		fileHeader := fmt.Sprintf("=== FILE: %s ===\n", hit.Filename)
		budget := maxLength - used - len(fileHeader) - 10
		if budget > snippetCap {
			budget = snippetCap
		}
		snippet := relevantSnippet(content, query, budget)
		addition := fileHeader + snippet + "\n\n"

		if used+len(addition) <= maxLength {
			block.WriteString(addition)
			used += len(addition)
			continue
		}

		// The full addition does not fit; keep a truncated tail only when
		// enough room remains for it to be useful.
		remaining := maxLength - used
		if remaining > 100 {
			block.WriteString(addition[:remaining])
			block.WriteString("...\n\n")
		}
		break
	}

	out := strings.TrimSpace(block.String())
	if out == strings.TrimSpace(contextHeader) {
		return ""
	}
	return out
}

// relevantSnippet returns a window of at most maxLength characters centered
// near the first occurrence of the query, or of its first sufficiently long
// word. Without a match the head of the content is returned.
func relevantSnippet(content, query string, maxLength int) string {
	if maxLength <= 0 {
		return ""
	}

	contentLower := strings.ToLower(content)
	best := strings.Index(contentLower, strings.ToLower(query))
	if best < 0 {
		for _, word := range strings.Fields(query) {
			word = strings.ToLower(strings.TrimSpace(word))
			if len(word) <= 2 {
				continue
			}
			if idx := strings.Index(contentLower, word); idx >= 0 {
				best = idx
				break
			}
		}
	}

	if best < 0 {
		if len(content) > maxLength {
			return content[:maxLength]
		}
		return content
	}

	start := best - maxLength/3
	if start < 0 {
		start = 0
	}
	end := start + maxLength
	if end > len(content) {
		end = len(content)
	}

	snippet := content[start:end]
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(content) {
		snippet = snippet + "..."
	}
	return snippet
}
