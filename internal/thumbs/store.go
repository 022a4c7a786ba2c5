package thumbs

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store persists ready thumbnails across sessions.
type Store interface {
	LoadReady(ctx context.Context) (map[int64]string, error)
	SaveReady(ctx context.Context, fileID int64, contentURL string) error
	Close() error
}

// SQLiteStore keeps ready content references in a local SQLite file.
//
// Rows are partitioned by namespace (server URL plus rendition parameters),
// so a cache file shared between servers or sizes never serves the wrong
// thumbnail.
type SQLiteStore struct {
	db        *sql.DB
	namespace string
}

// Namespace builds the partition key for a server and rendition.
func Namespace(baseURL string, maxDimension int, format string) string {
	return fmt.Sprintf("%s|%d|%s", baseURL, maxDimension, format)
}

// OpenSQLiteStore opens (creating if needed) the store at path.
func OpenSQLiteStore(path, namespace string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db, namespace: namespace}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS thumbnails (
    namespace TEXT NOT NULL,
    file_id INTEGER NOT NULL,
    content_url TEXT NOT NULL,
    ready_at TEXT NOT NULL,
    PRIMARY KEY (namespace, file_id)
);
`
	_, err := s.db.Exec(schema)
	return err
}

// LoadReady returns every ready entry in this store's namespace.
func (s *SQLiteStore) LoadReady(ctx context.Context) (map[int64]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT file_id, content_url FROM thumbnails WHERE namespace = ?`, s.namespace)
	if err != nil {
		return nil, fmt.Errorf("query thumbnails: %w", err)
	}
	defer rows.Close()

	ready := make(map[int64]string)
	for rows.Next() {
		var id int64
		var url string
		if err := rows.Scan(&id, &url); err != nil {
			return nil, fmt.Errorf("scan thumbnail: %w", err)
		}
		ready[id] = url
	}
	return ready, rows.Err()
}

// SaveReady records a ready entry.
func (s *SQLiteStore) SaveReady(ctx context.Context, fileID int64, contentURL string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO thumbnails (namespace, file_id, content_url, ready_at) VALUES (?, ?, ?, ?)
ON CONFLICT(namespace, file_id) DO UPDATE SET content_url = excluded.content_url, ready_at = excluded.ready_at`,
		s.namespace, fileID, contentURL, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save thumbnail %d: %w", fileID, err)
	}
	return nil
}

// Forget removes every entry in this store's namespace.
func (s *SQLiteStore) Forget(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM thumbnails WHERE namespace = ?`, s.namespace)
	if err != nil {
		return 0, fmt.Errorf("clear thumbnails: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
