package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/nexuscore/agent/internal/protocol"
)

func newMockIndex(t *testing.T) (*SQLIndex, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return newSQLIndexFromDB(db, "sqlite3"), mock
}

func TestSQLIndexCreateInsertsRow(t *testing.T) {
	idx, mock := newMockIndex(t)
	mock.ExpectExec("INSERT INTO sessions").
		WillReturnResult(sqlmock.NewResult(1, 1))

	r := &Record{Key: "k1", AgentID: "agent-1", Model: "fake-model"}
	if err := idx.Create(context.Background(), r); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if r.ID == "" {
		t.Fatal("expected Create to assign an ID")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSQLIndexGetReturnsRecord(t *testing.T) {
	idx, mock := newMockIndex(t)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "key", "agent_id", "model", "provider", "turn_count",
		"usage_input", "usage_output", "usage_cache_read", "usage_cache_write", "created_at", "updated_at"}).
		AddRow("sess-1", "k1", "agent-1", "fake-model", "fake", 3, 10, 20, 0, 0, now, now)
	mock.ExpectQuery("SELECT .* FROM sessions WHERE id").WillReturnRows(rows)

	r, err := idx.Get(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if r.ID != "sess-1" || r.TurnCount != 3 {
		t.Fatalf("unexpected record: %+v", r)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSQLIndexGetNotFound(t *testing.T) {
	idx, mock := newMockIndex(t)
	rows := sqlmock.NewRows([]string{"id", "key", "agent_id", "model", "provider", "turn_count",
		"usage_input", "usage_output", "usage_cache_read", "usage_cache_write", "created_at", "updated_at"})
	mock.ExpectQuery("SELECT .* FROM sessions WHERE id").WillReturnRows(rows)

	_, err := idx.Get(context.Background(), "missing")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSQLIndexUpdateNotFoundWhenNoRowsAffected(t *testing.T) {
	idx, mock := newMockIndex(t)
	mock.ExpectExec("UPDATE sessions SET").WillReturnResult(sqlmock.NewResult(0, 0))

	err := idx.Update(context.Background(), &Record{ID: "missing", Usage: protocol.TokenUsage{}})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSQLIndexDeleteNotFoundWhenNoRowsAffected(t *testing.T) {
	idx, mock := newMockIndex(t)
	mock.ExpectExec("DELETE FROM sessions").WillReturnResult(sqlmock.NewResult(0, 0))

	err := idx.Delete(context.Background(), "missing")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSQLIndexListFiltersByAgentID(t *testing.T) {
	idx, mock := newMockIndex(t)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "key", "agent_id", "model", "provider", "turn_count",
		"usage_input", "usage_output", "usage_cache_read", "usage_cache_write", "created_at", "updated_at"}).
		AddRow("sess-1", "k1", "agent-1", "m", "p", 1, 0, 0, 0, 0, now, now).
		AddRow("sess-2", "k2", "agent-2", "m", "p", 1, 0, 0, 0, 0, now, now)
	mock.ExpectQuery("SELECT .* FROM sessions ORDER BY").WillReturnRows(rows)

	out, err := idx.List(context.Background(), "agent-1", 10, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(out) != 1 || out[0].ID != "sess-1" {
		t.Fatalf("expected only agent-1's session, got %+v", out)
	}
}
