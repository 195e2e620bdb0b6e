// Package storage persists project and file metadata in SQLite. The
// retrieval engine consumes it read-only through its search and content
// queries.
package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for projects, files, and file
// content.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "ollama-chat.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// --- Projects ---

// CreateProject inserts a new project and returns it.
func (s *Store) CreateProject(name, description string) (Project, error) {
	now := time.Now().UTC()
	p := Project{
		ID:           uuid.New().String(),
		Name:         name,
		Description:  description,
		CreatedAt:    now,
		LastModified: now,
	}
	_, err := s.db.Exec(`
		INSERT INTO projects (id, name, description, created_at, last_modified)
		VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Description,
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return Project{}, fmt.Errorf("inserting project: %w", err)
	}
	return p, nil
}

// GetProject returns a project by ID.
func (s *Store) GetProject(id string) (Project, error) {
	var p Project
	var createdAt, lastModified string
	err := s.db.QueryRow(`
		SELECT id, name, description, created_at, last_modified
		FROM projects WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.Description, &createdAt, &lastModified)
	if err == sql.ErrNoRows {
		return Project{}, ErrNotFound
	}
	if err != nil {
		return Project{}, err
	}
	if p.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Project{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if p.LastModified, err = time.Parse(time.RFC3339, lastModified); err != nil {
		return Project{}, fmt.Errorf("parsing last_modified: %w", err)
	}
	return p, nil
}

// ListProjects returns all projects, most recently modified first.
func (s *Store) ListProjects() ([]Project, error) {
	rows, err := s.db.Query(`
		SELECT id, name, description, created_at, last_modified
		FROM projects ORDER BY last_modified DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Project
	for rows.Next() {
		var p Project
		var createdAt, lastModified string
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &createdAt, &lastModified); err != nil {
			return nil, err
		}
		if p.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if p.LastModified, err = time.Parse(time.RFC3339, lastModified); err != nil {
			return nil, fmt.Errorf("parsing last_modified: %w", err)
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

// UpdateProject updates name and description and bumps last_modified.
func (s *Store) UpdateProject(id, name, description string) error {
	res, err := s.db.Exec(`
		UPDATE projects SET name = ?, description = ?, last_modified = ? WHERE id = ?`,
		name, description, time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteProject removes a project with all its files and content.
func (s *Store) DeleteProject(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		DELETE FROM file_content WHERE file_id IN (SELECT id FROM files WHERE project_id = ?)`, id); err != nil {
		return fmt.Errorf("deleting file content: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM files WHERE project_id = ?`, id); err != nil {
		return fmt.Errorf("deleting files: %w", err)
	}
	res, err := tx.Exec(`DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting project: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// --- Files ---

// SaveFile inserts a file record with its extracted content and bumps the
// project's last_modified.
func (s *Store) SaveFile(f FileRecord, content, processed string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning save transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}

	if _, err := tx.Exec(`
		INSERT INTO files (id, project_id, filename, file_hash, mime_type, size, content_preview, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.ProjectID, f.Filename, f.Hash, f.MimeType, f.Size, f.Preview,
		f.CreatedAt.Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("inserting file %s: %w", f.Filename, err)
	}

	if _, err := tx.Exec(`
		INSERT INTO file_content (file_id, content, processed_content)
		VALUES (?, ?, ?)`,
		f.ID, content, processed,
	); err != nil {
		return fmt.Errorf("inserting content for %s: %w", f.Filename, err)
	}

	if _, err := tx.Exec(`
		UPDATE projects SET last_modified = ? WHERE id = ?`,
		now.Format(time.RFC3339), f.ProjectID,
	); err != nil {
		return fmt.Errorf("touching project %s: %w", f.ProjectID, err)
	}

	return tx.Commit()
}

// FileByHash looks up a file by its content hash, for dedup on ingest.
func (s *Store) FileByHash(hash string) (FileRecord, error) {
	return s.fileBy(`file_hash = ?`, hash)
}

// GetFile returns a file record by ID.
func (s *Store) GetFile(id string) (FileRecord, error) {
	return s.fileBy(`id = ?`, id)
}

func (s *Store) fileBy(where string, arg any) (FileRecord, error) {
	var f FileRecord
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, project_id, filename, file_hash, mime_type, size, content_preview, created_at
		FROM files WHERE `+where, arg,
	).Scan(&f.ID, &f.ProjectID, &f.Filename, &f.Hash, &f.MimeType, &f.Size, &f.Preview, &createdAt)
	if err == sql.ErrNoRows {
		return FileRecord{}, ErrNotFound
	}
	if err != nil {
		return FileRecord{}, err
	}
	if f.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return FileRecord{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return f, nil
}

// ListFiles returns a project's files, most recent first. This is the
// store's default ordering, relied on by the retrieval engine's fallback.
func (s *Store) ListFiles(projectID string) ([]FileRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, project_id, filename, file_hash, mime_type, size, content_preview, created_at
		FROM files WHERE project_id = ? ORDER BY created_at DESC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []FileRecord
	for rows.Next() {
		var f FileRecord
		var createdAt string
		if err := rows.Scan(&f.ID, &f.ProjectID, &f.Filename, &f.Hash, &f.MimeType, &f.Size, &f.Preview, &createdAt); err != nil {
			return nil, err
		}
		if f.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, f)
	}
	return results, rows.Err()
}

// GetFileContent returns the full extracted content of a file.
func (s *Store) GetFileContent(fileID string) (string, error) {
	var content string
	err := s.db.QueryRow(`SELECT content FROM file_content WHERE file_id = ?`, fileID).Scan(&content)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return content, err
}

// DeleteFile removes a file record and its content.
func (s *Store) DeleteFile(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM file_content WHERE file_id = ?`, id); err != nil {
		return fmt.Errorf("deleting content: %w", err)
	}
	res, err := tx.Exec(`DELETE FROM files WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// --- Search ---

// SearchFiles performs a case-insensitive substring match over filenames and
// extracted content within a project. Filename matches rank before
// content-only matches; ties break by most recent first; results are capped
// at limit.
func (s *Store) SearchFiles(term, projectID string, limit int) ([]SearchHit, error) {
	if strings.TrimSpace(term) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	pattern := "%" + strings.ToLower(term) + "%"
	rows, err := s.db.Query(`
		SELECT f.id, f.filename, f.mime_type, COALESCE(fc.processed_content, ''), f.size
		FROM files f
		LEFT JOIN file_content fc ON f.id = fc.file_id
		WHERE f.project_id = ? AND (
			LOWER(f.filename) LIKE ? OR
			LOWER(COALESCE(fc.processed_content, '')) LIKE ? OR
			LOWER(COALESCE(fc.content, '')) LIKE ?
		)
		ORDER BY
			CASE WHEN LOWER(f.filename) LIKE ? THEN 1 ELSE 2 END,
			f.created_at DESC
		LIMIT ?`,
		projectID, pattern, pattern, pattern, pattern, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("searching files: %w", err)
	}
	defer rows.Close()

	var results []SearchHit
	for rows.Next() {
		var h SearchHit
		var content string
		if err := rows.Scan(&h.FileID, &h.Filename, &h.MimeType, &content, &h.Size); err != nil {
			return nil, err
		}
		h.Snippet = searchSnippet(content, term)
		results = append(results, h)
	}
	return results, rows.Err()
}

// searchSnippet returns a short excerpt around the first occurrence of term,
// or the head of the content when the match was filename-only.
func searchSnippet(content, term string) string {
	idx := strings.Index(strings.ToLower(content), strings.ToLower(term))
	if idx >= 0 {
		start := idx - 100
		if start < 0 {
			start = 0
		}
		end := idx + 200
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
	if len(content) > 300 {
		return content[:300] + "..."
	}
	return content
}

// --- Statistics ---

// GetProjectStats summarizes a project's files.
func (s *Store) GetProjectStats(projectID string) (ProjectStats, error) {
	files, err := s.ListFiles(projectID)
	if err != nil {
		return ProjectStats{}, err
	}

	stats := ProjectStats{FileTypes: make(map[string]int)}
	for _, f := range files {
		stats.TotalFiles++
		stats.TotalSize += f.Size

		kind := f.MimeType
		if i := strings.Index(kind, "/"); i >= 0 {
			kind = kind[:i]
		}
		if kind == "" {
			kind = "other"
		}
		stats.FileTypes[kind]++

		if f.CreatedAt.After(stats.LastActivity) {
			stats.LastActivity = f.CreatedAt
		}
	}
	return stats, nil
}
