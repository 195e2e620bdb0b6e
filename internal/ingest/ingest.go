// Package ingest adds files to a project's knowledge base: it hashes the
// raw bytes for deduplication, extracts plain text, and stores both the
// original and the search-normalized content.
package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/FedericoBaratti/ollama-chat/internal/extract"
	"github.com/FedericoBaratti/ollama-chat/internal/storage"
)

// FileStore abstracts the storage operations ingestion needs.
type FileStore interface {
	GetProject(id string) (storage.Project, error)
	FileByHash(hash string) (storage.FileRecord, error)
	SaveFile(f storage.FileRecord, content, processed string) error
}

// ErrTooLarge is returned when a file exceeds the configured size limit.
var ErrTooLarge = errors.New("file exceeds size limit")

// Ingestor adds files to projects.
type Ingestor struct {
	store    FileStore
	maxBytes int64
	logger   *slog.Logger
}

// New creates an Ingestor. maxFileSizeMB <= 0 disables the size limit.
func New(store FileStore, maxFileSizeMB int, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		store:    store,
		maxBytes: int64(maxFileSizeMB) << 20,
		logger:   logger.With("component", "ingest"),
	}
}

// Result describes the outcome of an ingestion attempt.
type Result struct {
	File storage.FileRecord

	// Existed is true when a file with identical content was already in
	// the project and no new record was created.
	Existed bool
}

// AddBytes ingests raw file bytes into a project under the given filename.
func (in *Ingestor) AddBytes(projectID, filename string, data []byte) (Result, error) {
	if strings.TrimSpace(filename) == "" {
		return Result{}, errors.New("filename is required")
	}
	if in.maxBytes > 0 && int64(len(data)) > in.maxBytes {
		return Result{}, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}

	if _, err := in.store.GetProject(projectID); err != nil {
		return Result{}, fmt.Errorf("looking up project: %w", err)
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	existing, err := in.store.FileByHash(hash)
	if err == nil {
		in.logger.Debug("duplicate upload", "filename", filename, "existing", existing.Filename)
		return Result{File: existing, Existed: true}, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return Result{}, fmt.Errorf("checking for duplicate: %w", err)
	}

	res := extract.Text(filename, data)
	processed := extract.Normalize(res.Content)

	record := storage.FileRecord{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Filename:  filepath.Base(filename),
		Hash:      hash,
		MimeType:  res.MimeType,
		Size:      int64(len(data)),
		Preview:   extract.Preview(res.Content),
	}

	if err := in.store.SaveFile(record, res.Content, processed); err != nil {
		return Result{}, fmt.Errorf("saving file: %w", err)
	}

	in.logger.Info("file ingested",
		"filename", record.Filename,
		"project", projectID,
		"size", record.Size,
		"mime", record.MimeType,
	)
	return Result{File: record}, nil
}

// AddPath ingests a file from the local filesystem.
func (in *Ingestor) AddPath(projectID, path string) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return in.AddBytes(projectID, filepath.Base(path), data)
}
