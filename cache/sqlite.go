package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/use-agent/pagefetch/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS fetch_cache (
	key        TEXT PRIMARY KEY,
	response   TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fetch_cache_created_at ON fetch_cache(created_at);
`

// SQLiteStore is a Store backed by a SQLite file, so cached captures
// survive restarts. With a TTL a background loop deletes expired rows.
type SQLiteStore struct {
	db         *sql.DB
	maxEntries int
	ttl        time.Duration
	now        func() time.Time

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// OpenSQLite opens (or creates) the cache database at path.
func OpenSQLite(path string, maxEntries int, ttl time.Duration) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cache: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cache: open database: %w", err)
	}
	// One writer at a time; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("cache: set pragma %q: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: apply schema: %w", err)
	}

	if maxEntries <= 0 {
		maxEntries = 1
	}
	s := &SQLiteStore{
		db:         db,
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	if ttl > 0 {
		go s.cleanupLoop()
	} else {
		close(s.done)
	}
	return s, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	var raw string
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT response, created_at FROM fetch_cache WHERE key = ? AND created_at >= ?`,
		key, s.cutoff(),
	).Scan(&raw, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("cache: get: %w", err)
	}

	var resp models.FetchAPIResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return Entry{}, false, fmt.Errorf("cache: decode entry: %w", err)
	}
	return Entry{Response: &resp, CreatedAt: time.Unix(0, createdAt)}, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key string, resp *models.FetchAPIResponse) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("cache: encode entry: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cache: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO fetch_cache (key, response, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET response = excluded.response, created_at = excluded.created_at`,
		key, string(raw), s.now().UnixNano(),
	); err != nil {
		return fmt.Errorf("cache: set: %w", err)
	}

	// Keep only the newest maxEntries rows.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM fetch_cache WHERE key IN (
			SELECT key FROM fetch_cache ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`,
		s.maxEntries,
	); err != nil {
		return fmt.Errorf("cache: evict: %w", err)
	}
	return tx.Commit()
}

// prune deletes expired rows and returns how many were removed.
func (s *SQLiteStore) prune(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM fetch_cache WHERE created_at < ?`, s.cutoff())
	if err != nil {
		return 0, fmt.Errorf("cache: prune: %w", err)
	}
	return res.RowsAffected()
}

// cleanupLoop prunes every ttl/4 (at least once a minute).
func (s *SQLiteStore) cleanupLoop() {
	defer close(s.done)
	every := s.ttl / 4
	if every <= 0 || every > time.Minute {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n, err := s.prune(context.Background()); err != nil {
				slog.Warn("cache prune failed", "error", err)
			} else if n > 0 {
				slog.Debug("cache pruned", "rows", n)
			}
		case <-s.stop:
			return
		}
	}
}

// Close stops the cleanup loop and closes the database.
func (s *SQLiteStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
	return s.db.Close()
}

// cutoff is the oldest created_at still served. Zero TTL keeps everything.
func (s *SQLiteStore) cutoff() int64 {
	if s.ttl <= 0 {
		return 0
	}
	return s.now().Add(-s.ttl).UnixNano()
}
