package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"quorum/internal/config"
)

// Store is the sqlite-backed model catalog cache. Consensus runs are never
// persisted; the only table is the discovery cache.
type Store struct {
	db *sql.DB
}

func New(cfg config.StoreConfig) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Enable WAL mode for concurrent read/write access and set a busy
	// timeout so writers retry instead of immediately returning SQLITE_BUSY.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("exec %s: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS catalog_cache (
		key        TEXT PRIMARY KEY,
		models     TEXT NOT NULL,
		fetched_at INTEGER NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("exec migration: %w", err)
	}
	return nil
}

// GetCatalog returns the cached model list for key if it is younger than
// maxAge. The second return is false on a miss or stale entry.
func (s *Store) GetCatalog(key string, maxAge time.Duration) ([]string, bool, error) {
	var raw string
	var fetchedAt int64
	err := s.db.QueryRow(
		`SELECT models, fetched_at FROM catalog_cache WHERE key = ?`, key,
	).Scan(&raw, &fetchedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query catalog cache: %w", err)
	}

	if time.Since(time.Unix(fetchedAt, 0)) > maxAge {
		return nil, false, nil
	}

	var models []string
	if err := json.Unmarshal([]byte(raw), &models); err != nil {
		return nil, false, fmt.Errorf("decode cached catalog: %w", err)
	}
	return models, true, nil
}

func (s *Store) SaveCatalog(key string, models []string) error {
	raw, err := json.Marshal(models)
	if err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO catalog_cache (key, models, fetched_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET models = excluded.models, fetched_at = excluded.fetched_at`,
		key, string(raw), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("save catalog cache: %w", err)
	}
	return nil
}
