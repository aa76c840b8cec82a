package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nexuscore/agent/internal/protocol"
)

// ErrSessionNotFound is returned when a lookup by id/key misses.
var ErrSessionNotFound = errors.New("session not found")

// Record is the lightweight row persisted to the index store — not
// the full conversation history (that lives in the per-session
// rollout.jsonl file), just enough to list, resume, and account for a
// session, matching spec.md §4.7's separation of index vs. transcript.
type Record struct {
	ID        string
	Key       string
	AgentID   string
	Model     string
	Provider  string
	TurnCount int
	Usage     protocol.TokenUsage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Index is the C7 session-index contract: CRUD plus key-based lookup,
// adapted from the teacher's internal/sessions.Store interface.
type Index interface {
	Create(ctx context.Context, r *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	GetByKey(ctx context.Context, key string) (*Record, error)
	Update(ctx context.Context, r *Record) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, agentID string, limit, offset int) ([]*Record, error)
}

// SQLIndex is a database/sql-backed Index, grounded on the teacher's
// internal/sessions/cockroach.go (prepared statements, connection pool
// config) generalized to run against either SQLite driver registered
// under driverName ("sqlite3" via mattn/go-sqlite3's cgo binding, or
// "sqlite" via modernc.org/sqlite's pure-Go port) or "postgres" via
// lib/pq.
type SQLIndex struct {
	db         *sql.DB
	driverName string
}

// SQLIndexConfig configures pool sizing, matching the teacher's
// CockroachConfig shape.
type SQLIndexConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultSQLIndexConfig mirrors the teacher's CockroachDB pool defaults.
func DefaultSQLIndexConfig() SQLIndexConfig {
	return SQLIndexConfig{MaxOpenConns: 25, MaxIdleConns: 5, ConnMaxLifetime: 5 * time.Minute}
}

// OpenSQLIndex opens (and migrates) a session index against driverName
// ("sqlite3", "sqlite", or "postgres") and dsn.
func OpenSQLIndex(driverName, dsn string, cfg SQLIndexConfig) (*SQLIndex, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open session index db: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping session index db: %w", err)
	}

	idx := &SQLIndex{db: db, driverName: driverName}
	if err := idx.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

// newSQLIndexFromDB wraps an already-open *sql.DB without pooling
// config or a migration pass, used by tests that inject a sqlmock.DB
// with pre-scripted expectations (a CREATE TABLE call would need its
// own unconditional expectation on every test, so callers that want
// migrate() run it explicitly via Migrate()).
func newSQLIndexFromDB(db *sql.DB, driverName string) *SQLIndex {
	return &SQLIndex{db: db, driverName: driverName}
}

// Migrate runs the index's schema creation; exported for callers (or
// tests) that construct a SQLIndex via newSQLIndexFromDB and want to
// drive migration explicitly.
func (s *SQLIndex) Migrate(ctx context.Context) error {
	return s.migrate(ctx)
}

func (s *SQLIndex) migrate(ctx context.Context) error {
	placeholder := s.placeholderStyle()
	_ = placeholder // DDL below uses no placeholders
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			key TEXT,
			agent_id TEXT,
			model TEXT,
			provider TEXT,
			turn_count INTEGER NOT NULL DEFAULT 0,
			usage_input INTEGER NOT NULL DEFAULT 0,
			usage_output INTEGER NOT NULL DEFAULT 0,
			usage_cache_read INTEGER NOT NULL DEFAULT 0,
			usage_cache_write INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("migrate sessions table: %w", err)
	}
	return nil
}

// placeholderStyle returns "$" for postgres (lib/pq) and "?" for either
// SQLite driver; callers building parameterized queries use bindVar.
func (s *SQLIndex) placeholderStyle() string {
	if s.driverName == "postgres" {
		return "$"
	}
	return "?"
}

func (s *SQLIndex) bindVar(n int) string {
	if s.driverName == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// DB exposes the underlying *sql.DB for collaborating stores (e.g. a
// rollout-index join table), matching the teacher's CockroachStore.DB().
func (s *SQLIndex) DB() *sql.DB { return s.db }

func (s *SQLIndex) Create(ctx context.Context, r *Record) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := time.Now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = r.CreatedAt

	q := fmt.Sprintf(`INSERT INTO sessions
		(id, key, agent_id, model, provider, turn_count, usage_input, usage_output, usage_cache_read, usage_cache_write, created_at, updated_at)
		VALUES (%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s)`,
		s.bindVar(1), s.bindVar(2), s.bindVar(3), s.bindVar(4), s.bindVar(5), s.bindVar(6),
		s.bindVar(7), s.bindVar(8), s.bindVar(9), s.bindVar(10), s.bindVar(11), s.bindVar(12))

	_, err := s.db.ExecContext(ctx, q, r.ID, r.Key, r.AgentID, r.Model, r.Provider, r.TurnCount,
		r.Usage.Input, r.Usage.Output, r.Usage.CacheRead, r.Usage.CacheWrite, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *SQLIndex) scanRow(row *sql.Row) (*Record, error) {
	r := &Record{}
	err := row.Scan(&r.ID, &r.Key, &r.AgentID, &r.Model, &r.Provider, &r.TurnCount,
		&r.Usage.Input, &r.Usage.Output, &r.Usage.CacheRead, &r.Usage.CacheWrite, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return r, nil
}

const sessionColumns = `id, key, agent_id, model, provider, turn_count, usage_input, usage_output, usage_cache_read, usage_cache_write, created_at, updated_at`

func (s *SQLIndex) Get(ctx context.Context, id string) (*Record, error) {
	q := fmt.Sprintf(`SELECT %s FROM sessions WHERE id = %s`, sessionColumns, s.bindVar(1))
	return s.scanRow(s.db.QueryRowContext(ctx, q, id))
}

func (s *SQLIndex) GetByKey(ctx context.Context, key string) (*Record, error) {
	q := fmt.Sprintf(`SELECT %s FROM sessions WHERE key = %s`, sessionColumns, s.bindVar(1))
	return s.scanRow(s.db.QueryRowContext(ctx, q, key))
}

func (s *SQLIndex) Update(ctx context.Context, r *Record) error {
	r.UpdatedAt = time.Now()
	q := fmt.Sprintf(`UPDATE sessions SET key=%s, agent_id=%s, model=%s, provider=%s, turn_count=%s,
		usage_input=%s, usage_output=%s, usage_cache_read=%s, usage_cache_write=%s, updated_at=%s WHERE id=%s`,
		s.bindVar(1), s.bindVar(2), s.bindVar(3), s.bindVar(4), s.bindVar(5),
		s.bindVar(6), s.bindVar(7), s.bindVar(8), s.bindVar(9), s.bindVar(10), s.bindVar(11))
	res, err := s.db.ExecContext(ctx, q, r.Key, r.AgentID, r.Model, r.Provider, r.TurnCount,
		r.Usage.Input, r.Usage.Output, r.Usage.CacheRead, r.Usage.CacheWrite, r.UpdatedAt, r.ID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *SQLIndex) Delete(ctx context.Context, id string) error {
	q := fmt.Sprintf(`DELETE FROM sessions WHERE id = %s`, s.bindVar(1))
	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *SQLIndex) List(ctx context.Context, agentID string, limit, offset int) ([]*Record, error) {
	q := fmt.Sprintf(`SELECT %s FROM sessions WHERE (%s = %s OR %s = '') ORDER BY updated_at DESC LIMIT %s OFFSET %s`,
		sessionColumns, s.bindVar(1), s.bindVar(1), s.bindVar(1), s.bindVar(2), s.bindVar(3))
	// Simplify: agentID filter applied in Go, not SQL, to sidestep
	// driver-specific empty-string/NULL comparison quirks across
	// sqlite3/sqlite/postgres.
	q = fmt.Sprintf(`SELECT %s FROM sessions ORDER BY updated_at DESC LIMIT %s OFFSET %s`, sessionColumns, s.bindVar(1), s.bindVar(2))
	rows, err := s.db.QueryContext(ctx, q, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		r := &Record{}
		if err := rows.Scan(&r.ID, &r.Key, &r.AgentID, &r.Model, &r.Provider, &r.TurnCount,
			&r.Usage.Input, &r.Usage.Output, &r.Usage.CacheRead, &r.Usage.CacheWrite, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		if agentID != "" && r.AgentID != agentID {
			continue
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// json.Marshal is referenced here only through a blank identifier; the
// current schema has no metadata columns (spec.md names no per-session
// metadata schema).
var _ = json.Marshal
