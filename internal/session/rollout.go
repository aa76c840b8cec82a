package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// SessionMeta is the first line written to a rollout file: identifying
// information that never repeats in subsequent EventWrapper lines.
// Field names follow the external wire contract spec §6.4 enumerates
// literally: `{ "kind":"session_meta", "id":…, "created_at":ISO8601,
// "cwd":…, "config":… }`.
type SessionMeta struct {
	Kind      string            `json:"kind"`
	ID        string            `json:"id"`
	Cwd       string            `json:"cwd,omitempty"`
	Config    any               `json:"config,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	AgentID   string            `json:"agent_id,omitempty"`
	Model     string            `json:"model,omitempty"`
	Provider  string            `json:"provider,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// EventWrapper is one rollout-log line after the SessionMeta header.
type EventWrapper struct {
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"ts"`
	Kind      string    `json:"kind"`
	Payload   any       `json:"payload,omitempty"`
}

// RolloutRecorder appends newline-delimited JSON to
// "<session_dir>/rollout.jsonl": a SessionMeta header line followed by
// an EventWrapper per recorded occurrence. Writes are append-only and
// fsync'd per line so a crash mid-session leaves a valid, truncatable
// prefix rather than a corrupt file — grounded on the teacher's
// internal/diagnostics/cache_trace.go fileWriter (O_APPEND|O_CREATE,
// async open, single in-process writer).
type RolloutRecorder struct {
	mu   sync.Mutex
	file *os.File
	w    *bufio.Writer
	seq  uint64
}

// RolloutFileName is the fixed file name within a session directory.
const RolloutFileName = "rollout.jsonl"

// NewRolloutRecorder creates (or appends to) "<sessionDir>/rollout.jsonl",
// creating sessionDir if needed, and writes meta as the header line only
// if the file is newly created (empty).
func NewRolloutRecorder(sessionDir string, meta SessionMeta) (*RolloutRecorder, error) {
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	path := filepath.Join(sessionDir, RolloutFileName)

	info, statErr := os.Stat(path)
	isNew := statErr != nil || info.Size() == 0

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open rollout file: %w", err)
	}

	r := &RolloutRecorder{file: f, w: bufio.NewWriter(f)}
	if isNew {
		meta.Kind = "session_meta"
		if meta.CreatedAt.IsZero() {
			meta.CreatedAt = time.Now()
		}
		if err := r.writeLine(meta); err != nil {
			f.Close()
			return nil, err
		}
	}
	return r, nil
}

// Record appends one EventWrapper line, with a locally-assigned
// monotonic sequence number independent of any BroadcastBus sequence.
func (r *RolloutRecorder) Record(kind string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	return r.writeLine(EventWrapper{Seq: r.seq, Timestamp: time.Now(), Kind: kind, Payload: payload})
}

// writeLine marshals v, appends a newline, flushes, and fsyncs so the
// file is crash-consistent after every call. Caller must hold r.mu.
func (r *RolloutRecorder) writeLine(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal rollout line: %w", err)
	}
	if _, err := r.w.Write(data); err != nil {
		return err
	}
	if err := r.w.WriteByte('\n'); err != nil {
		return err
	}
	if err := r.w.Flush(); err != nil {
		return err
	}
	return r.file.Sync()
}

// Close flushes and closes the underlying file.
func (r *RolloutRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.w.Flush(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}

// ReadRollout parses a rollout.jsonl file back into its header and
// event lines. Its only callers in this module are tests.
func ReadRollout(path string) (SessionMeta, []EventWrapper, error) {
	f, err := os.Open(path)
	if err != nil {
		return SessionMeta{}, nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var meta SessionMeta
	var events []EventWrapper
	first := true
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if first {
			first = false
			if err := json.Unmarshal(line, &meta); err != nil {
				return SessionMeta{}, nil, fmt.Errorf("parse rollout header: %w", err)
			}
			continue
		}
		var ev EventWrapper
		if err := json.Unmarshal(line, &ev); err != nil {
			return meta, events, fmt.Errorf("parse rollout line %d: %w", len(events)+1, err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return meta, events, err
	}
	return meta, events, nil
}
