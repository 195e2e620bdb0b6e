package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Project groups a set of knowledge files.
type Project struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	CreatedAt    time.Time `json:"created_at"`
	LastModified time.Time `json:"last_modified"`
}

// FileRecord is the metadata row for one stored file. The extracted text
// lives in the file_content table and is fetched separately.
type FileRecord struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Filename  string    `json:"filename"`
	Hash      string    `json:"hash"` // SHA-256 of the original file, used for dedup
	MimeType  string    `json:"mime_type"`
	Size      int64     `json:"size"`
	Preview   string    `json:"preview"` // first 500 chars of extracted content
	CreatedAt time.Time `json:"created_at"`
}

// SearchHit is one result of a file search: filename matches rank before
// content-only matches, ties broken by most recent first.
type SearchHit struct {
	FileID   string `json:"file_id"`
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	Snippet  string `json:"snippet"`
	Size     int64  `json:"size"`
}

// ProjectStats summarizes a project's knowledge base.
type ProjectStats struct {
	TotalFiles   int            `json:"total_files"`
	TotalSize    int64          `json:"total_size"`
	FileTypes    map[string]int `json:"file_types"` // top-level mime type -> count
	LastActivity time.Time      `json:"last_activity"`
}
