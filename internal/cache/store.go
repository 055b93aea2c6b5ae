// Package cache implements the durable response cache that sits in front of
// every model call. Entries are content-addressed by a fingerprint of the
// normalized request; the backing store is SQLite with an in-process hot
// layer so repeated hits within one run skip the database entirely.
package cache

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"mosaic/internal/llm"
)

const schema = `
CREATE TABLE IF NOT EXISTS responses (
	fingerprint   TEXT PRIMARY KEY,
	response      TEXT NOT NULL,
	created_at    INTEGER NOT NULL,
	last_accessed INTEGER NOT NULL,
	model_id      TEXT NOT NULL,
	tokens_saved  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_responses_model ON responses(model_id);
CREATE INDEX IF NOT EXISTS idx_responses_created ON responses(created_at);
`

// hotTTL bounds how long an entry stays in the in-process layer. The SQLite
// store remains authoritative; the hot layer only saves round trips.
const hotTTL = 10 * time.Minute

// Entry is one cached response.
type Entry struct {
	Response    string
	ModelID     string
	TokensSaved int
	CreatedAt   time.Time
}

// Stats summarizes the store for the admin surface.
type Stats struct {
	Entries      int
	UniqueModels int
	TokensSaved  int64
}

// Store is a durable, concurrency-safe response cache. Reads may run
// concurrently; writes serialize through a single mutex on top of SQLite's
// own locking.
type Store struct {
	db   *sql.DB
	hot  *gocache.Cache
	mu   sync.Mutex
	log  *zap.Logger
	path string
}

// Open creates or opens the cache database at path. Use ":memory:" for an
// ephemeral store in tests.
func Open(path string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache db: %w", err)
	}
	// A single connection sidesteps table-lock contention between the
	// fan-out workers; the driver serializes statements on it.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize cache schema: %w", err)
	}

	log.Debug("Response cache opened", zap.String("path", path))
	return &Store{
		db:   db,
		hot:  gocache.New(hotTTL, 2*hotTTL),
		log:  log,
		path: path,
	}, nil
}

// Get looks up the entry for the given request. A hit refreshes the entry's
// last-accessed timestamp. Returns (nil, nil) on miss.
func (s *Store) Get(prompt, modelID string, temperature float64, systemPrompt string, params llm.Params) (*Entry, error) {
	fp := Fingerprint(prompt, modelID, temperature, systemPrompt, params)
	return s.getByFingerprint(fp)
}

func (s *Store) getByFingerprint(fp string) (*Entry, error) {
	if v, ok := s.hot.Get(fp); ok {
		s.touch(fp)
		e := v.(Entry)
		return &e, nil
	}

	var e Entry
	var created int64
	err := s.db.QueryRow(
		`SELECT response, model_id, tokens_saved, created_at FROM responses WHERE fingerprint = ?`, fp,
	).Scan(&e.Response, &e.ModelID, &e.TokensSaved, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache lookup failed: %w", err)
	}
	e.CreatedAt = time.Unix(created, 0)

	s.touch(fp)
	s.hot.SetDefault(fp, e)
	return &e, nil
}

func (s *Store) touch(fp string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(
		`UPDATE responses SET last_accessed = ? WHERE fingerprint = ?`,
		time.Now().Unix(), fp,
	); err != nil {
		s.log.Warn("Failed to update last_accessed", zap.Error(err))
	}
}

// Set stores a response under the request's fingerprint, replacing any
// previous entry.
func (s *Store) Set(prompt, modelID, response string, tokensSaved int, temperature float64, systemPrompt string, params llm.Params) error {
	fp := Fingerprint(prompt, modelID, temperature, systemPrompt, params)
	now := time.Now().Unix()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(
		`INSERT OR REPLACE INTO responses
		 (fingerprint, response, created_at, last_accessed, model_id, tokens_saved)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		fp, response, now, now, modelID, tokensSaved,
	); err != nil {
		return fmt.Errorf("cache write failed: %w", err)
	}
	s.hot.SetDefault(fp, Entry{
		Response:    response,
		ModelID:     modelID,
		TokensSaved: tokensSaved,
		CreatedAt:   time.Unix(now, 0),
	})
	return nil
}

// Stats reports entry count, distinct models, and accumulated token savings.
func (s *Store) Stats() (Stats, error) {
	var st Stats
	var saved sql.NullInt64
	err := s.db.QueryRow(
		`SELECT COUNT(*), COUNT(DISTINCT model_id), COALESCE(SUM(tokens_saved), 0) FROM responses`,
	).Scan(&st.Entries, &st.UniqueModels, &saved)
	if err != nil {
		return Stats{}, fmt.Errorf("cache stats query failed: %w", err)
	}
	st.TokensSaved = saved.Int64
	return st, nil
}

// Evict deletes entries created more than olderThan ago and returns the
// number removed. The hot layer is flushed wholesale; it repopulates on read.
func (s *Store) Evict(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).Unix()

	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`DELETE FROM responses WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cache eviction failed: %w", err)
	}
	s.hot.Flush()
	return res.RowsAffected()
}

// EvictAll removes every entry.
func (s *Store) EvictAll() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`DELETE FROM responses`)
	if err != nil {
		return 0, fmt.Errorf("cache clear failed: %w", err)
	}
	s.hot.Flush()
	return res.RowsAffected()
}

// Compact reclaims disk space after evictions.
func (s *Store) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`VACUUM`); err != nil {
		return fmt.Errorf("cache vacuum failed: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
