// Package observability is the time-travel relational store: every
// write is an insertion keyed in part by a validity timestamp, and the
// "current state" of an entity is always the latest row for its key.
// Nothing is ever updated or deleted in place, so the full history of
// tool calls, conversation turns, and proposal transitions survives a
// crash anywhere in the pipeline.
package observability

import (
	"context"
	"database/sql"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/weave-editor/weave/internal/logging"
	"github.com/weave-editor/weave/internal/weaveerr"
)

// ToolCallStatus is the lifecycle state of one recorded tool call.
type ToolCallStatus string

const (
	ToolCallRequested ToolCallStatus = "requested"
	ToolCallCompleted ToolCallStatus = "completed"
	ToolCallFailed    ToolCallStatus = "failed"
)

func (s ToolCallStatus) terminal() bool {
	return s == ToolCallCompleted || s == ToolCallFailed
}

// ToolCallRequestedRecord is the row written when a tool call arrives.
type ToolCallRequestedRecord struct {
	RequestID     string
	CallID        string
	ParentID      string
	Vendor        string
	ToolName      string
	ArgsHash      string
	ArgumentsJSON string
	ValidityTime  int64
}

// ToolCallDoneRecord is the row written when a tool call finishes.
type ToolCallDoneRecord struct {
	RequestID    string
	CallID       string
	Status       ToolCallStatus
	EndedAt      int64
	OutcomeJSON  string
	ErrorKind    string
	ErrorMsg     string
	ValidityTime int64
}

// ConversationTurnRecord is one turn in the conversation that produced a tool call.
type ConversationTurnRecord struct {
	ID           string
	ParentID     string
	MessageID    string
	Kind         string
	Content      string
	ThreadID     string
	ValidityTime int64
}

// Store owns the SQLite-backed time-travel relations.
type Store struct {
	db  *sql.DB
	mu  sync.RWMutex
	log *logging.Logger
}

// Open creates or attaches to the SQLite database at path and ensures
// its schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, weaveerr.New(weaveerr.Fatal, weaveerr.CodeIO, "open observability database").Wrap(err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers on one handle

	s := &Store{db: db, log: logging.Get(logging.CategoryObservability)}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS tool_call (
		request_id     TEXT NOT NULL,
		call_id        TEXT NOT NULL,
		parent_id      TEXT,
		vendor         TEXT,
		tool_name      TEXT,
		args_hash      TEXT,
		arguments_json TEXT,
		status         TEXT NOT NULL,
		ended_at       INTEGER,
		latency_ms     INTEGER,
		outcome_json   TEXT,
		error_kind     TEXT,
		error_msg      TEXT,
		validity_time  INTEGER NOT NULL,
		PRIMARY KEY (request_id, call_id, validity_time)
	);
	CREATE INDEX IF NOT EXISTS idx_tool_call_latest ON tool_call(request_id, call_id, validity_time);

	CREATE TABLE IF NOT EXISTS conversation_turn (
		id            TEXT NOT NULL,
		parent_id     TEXT,
		message_id    TEXT,
		kind          TEXT NOT NULL,
		content       TEXT,
		thread_id     TEXT,
		validity_time INTEGER NOT NULL,
		PRIMARY KEY (id, validity_time)
	);

	CREATE TABLE IF NOT EXISTS code_edit_proposal (
		request_id    TEXT NOT NULL,
		status        TEXT NOT NULL,
		files_json    TEXT,
		failed_reason TEXT,
		validity_time INTEGER NOT NULL,
		PRIMARY KEY (request_id, validity_time)
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return weaveerr.New(weaveerr.Fatal, weaveerr.CodeSchema, "create observability schema").Wrap(err)
	}
	return nil
}

// latestToolCallRow returns the most recent row for (requestID, callID),
// or ok=false if none exists.
func (s *Store) latestToolCallRow(ctx context.Context, requestID, callID string) (row struct {
	Vendor, ToolName, ArgsHash, ArgumentsJSON string
	Status                                    string
}, ok bool, err error) {
	q := `SELECT vendor, tool_name, args_hash, arguments_json, status FROM tool_call
	      WHERE request_id = ? AND call_id = ? ORDER BY validity_time DESC LIMIT 1`
	r := s.db.QueryRowContext(ctx, q, requestID, callID)
	scanErr := r.Scan(&row.Vendor, &row.ToolName, &row.ArgsHash, &row.ArgumentsJSON, &row.Status)
	if scanErr == sql.ErrNoRows {
		return row, false, nil
	}
	if scanErr != nil {
		return row, false, weaveerr.New(weaveerr.Warning, weaveerr.CodeIO, "query latest tool_call row").Wrap(scanErr)
	}
	return row, true, nil
}

// RecordToolCallRequested inserts a requested row. If an existing row
// for (request_id, call_id) has identical semantic fields, this is a
// no-op. If the call is already in a terminal state, the new requested
// row is rejected.
func (s *Store) RecordToolCallRequested(ctx context.Context, rec ToolCallRequestedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prior, ok, err := s.latestToolCallRow(ctx, rec.RequestID, rec.CallID)
	if err != nil {
		return err
	}
	if ok {
		if ToolCallStatus(prior.Status).terminal() {
			return weaveerr.Domainf(weaveerr.CodeStateTransition,
				"tool call %s/%s is already in terminal status %q", rec.RequestID, rec.CallID, prior.Status)
		}
		if prior.Vendor == rec.Vendor && prior.ToolName == rec.ToolName &&
			prior.ArgsHash == rec.ArgsHash && prior.ArgumentsJSON == rec.ArgumentsJSON {
			return nil // identical re-delivery of the same requested row
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tool_call (request_id, call_id, parent_id, vendor, tool_name, args_hash, arguments_json, status, validity_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.CallID, rec.ParentID, rec.Vendor, rec.ToolName, rec.ArgsHash, rec.ArgumentsJSON,
		string(ToolCallRequested), rec.ValidityTime)
	if err != nil {
		return weaveerr.New(weaveerr.Warning, weaveerr.CodeIO, "insert tool_call requested row").Wrap(err)
	}
	return nil
}

// RecordToolCallDone inserts a terminal row, deriving latency from the
// prior requested row's validity timestamp. It rejects the call if the
// tool call is already terminal, or if no requested row exists.
func (s *Store) RecordToolCallDone(ctx context.Context, rec ToolCallDoneRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var requestedAt int64
	var vendor, toolName, argsHash, argumentsJSON string
	q := `SELECT vendor, tool_name, args_hash, arguments_json, status, validity_time FROM tool_call
	      WHERE request_id = ? AND call_id = ? ORDER BY validity_time DESC LIMIT 1`
	var status string
	row := s.db.QueryRowContext(ctx, q, rec.RequestID, rec.CallID)
	if err := row.Scan(&vendor, &toolName, &argsHash, &argumentsJSON, &status, &requestedAt); err != nil {
		if err == sql.ErrNoRows {
			return weaveerr.Domainf(weaveerr.CodeNotFound, "no requested row for tool call %s/%s", rec.RequestID, rec.CallID)
		}
		return weaveerr.New(weaveerr.Warning, weaveerr.CodeIO, "query requested row").Wrap(err)
	}
	if ToolCallStatus(status).terminal() {
		return weaveerr.Domainf(weaveerr.CodeStateTransition, "tool call %s/%s is already terminal", rec.RequestID, rec.CallID)
	}

	latency := rec.EndedAt - requestedAt
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tool_call (request_id, call_id, parent_id, vendor, tool_name, args_hash, arguments_json,
			status, ended_at, latency_ms, outcome_json, error_kind, error_msg, validity_time)
		VALUES (?, ?, (SELECT parent_id FROM tool_call WHERE request_id = ? AND call_id = ? ORDER BY validity_time DESC LIMIT 1),
			?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.CallID, rec.RequestID, rec.CallID,
		vendor, toolName, argsHash, argumentsJSON,
		string(rec.Status), rec.EndedAt, latency, rec.OutcomeJSON, rec.ErrorKind, rec.ErrorMsg, rec.ValidityTime)
	if err != nil {
		return weaveerr.New(weaveerr.Warning, weaveerr.CodeIO, "insert tool_call done row").Wrap(err)
	}
	return nil
}

// RecordConversationTurn appends a conversation turn row. Turns are
// append-only: there is no terminal state and no idempotency check
// beyond the primary key itself.
func (s *Store) RecordConversationTurn(ctx context.Context, rec ConversationTurnRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_turn (id, parent_id, message_id, kind, content, thread_id, validity_time)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ParentID, rec.MessageID, rec.Kind, rec.Content, rec.ThreadID, rec.ValidityTime)
	if err != nil {
		return weaveerr.New(weaveerr.Warning, weaveerr.CodeIO, "insert conversation_turn row").Wrap(err)
	}
	return nil
}

// RecordProposalSnapshot appends a row capturing an EditProposal's
// status at validityTime, for historical audit of the approval pipeline.
func (s *Store) RecordProposalSnapshot(ctx context.Context, requestID, status, filesJSON, failedReason string, validityTime int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO code_edit_proposal (request_id, status, files_json, failed_reason, validity_time)
		VALUES (?, ?, ?, ?, ?)`,
		requestID, status, filesJSON, failedReason, validityTime)
	if err != nil {
		return weaveerr.New(weaveerr.Warning, weaveerr.CodeIO, "insert code_edit_proposal row").Wrap(err)
	}
	return nil
}

// CurrentToolCall returns the latest row for (requestID, callID), or
// ok=false if no row exists.
func (s *Store) CurrentToolCall(ctx context.Context, requestID, callID string) (status string, latencyMs int64, ok bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT status, COALESCE(latency_ms, 0) FROM tool_call
		WHERE request_id = ? AND call_id = ? ORDER BY validity_time DESC LIMIT 1`, requestID, callID)
	scanErr := row.Scan(&status, &latencyMs)
	if scanErr == sql.ErrNoRows {
		return "", 0, false, nil
	}
	if scanErr != nil {
		return "", 0, false, weaveerr.New(weaveerr.Warning, weaveerr.CodeIO, "query current tool_call").Wrap(scanErr)
	}
	return status, latencyMs, true, nil
}
