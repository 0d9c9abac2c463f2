package persist

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const kvSchema = `
CREATE TABLE IF NOT EXISTS kv_store (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);`

// SQLiteBackend stores records in a local sqlite file. Rows that have not
// been written for longer than the session TTL are treated as ended sessions:
// they are pruned when the database is opened and hidden from Load.
type SQLiteBackend struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// NewSQLiteBackend opens (or creates) the database at path. A zero ttl keeps
// records forever.
func NewSQLiteBackend(path string, ttl time.Duration) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	s := &SQLiteBackend{db: db, ttl: ttl, now: time.Now}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteBackend) init() error {
	if _, err := s.db.Exec(kvSchema); err != nil {
		return errors.Wrap(err, "init schema")
	}
	if _, err := s.Prune(context.Background()); err != nil {
		return err
	}
	return nil
}

// Prune deletes records idle longer than the TTL and returns how many were removed
func (s *SQLiteBackend) Prune(ctx context.Context) (int64, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM kv_store WHERE updated_at < ?", s.cutoff())
	if err != nil {
		return 0, errors.Wrap(err, "prune expired sessions")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *SQLiteBackend) cutoff() int64 {
	return s.now().Add(-s.ttl).UnixMilli()
}

func (s *SQLiteBackend) Load(ctx context.Context, key string) ([]byte, error) {
	var (
		value     string
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, "SELECT value, updated_at FROM kv_store WHERE key = ?", key).
		Scan(&value, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", key)
	}
	if s.ttl > 0 && updatedAt < s.cutoff() {
		return nil, ErrNotFound
	}
	return []byte(value), nil
}

func (s *SQLiteBackend) Save(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO kv_store (key, value, updated_at) VALUES (?, ?, ?)",
		key, string(value), s.now().UnixMilli(),
	)
	if err != nil {
		return errors.Wrapf(err, "save %s", key)
	}
	return nil
}

func (s *SQLiteBackend) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv_store WHERE key = ?", key); err != nil {
		return errors.Wrapf(err, "delete %s", key)
	}
	return nil
}

func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}
