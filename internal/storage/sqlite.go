// Package storage is the embedded SQLite-backed store: one write
// connection (single-conn, serialized) and a pooled set of read
// connections, both against the same WAL-mode database file.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/localsession/sessiond/internal/session"
)

// ErrNotFound is returned by the single-row lookups when nothing matches.
var ErrNotFound = fmt.Errorf("not found")

// Store is the single-writer, many-reader handle onto one conversations
// database. All mutating operations go through writeDB, which has exactly
// one open connection; readDB is a pool used for everything else.
type Store struct {
	writeDB *sql.DB
	readDB  *sql.DB
	path    string
}

// Connect opens (creating if necessary) the database at cfg.Path,
// applies pragmas, creates the schema if missing, and verifies
// meta.schema_version. An empty cfg.Path defaults to
// ~/.sessiond/sessions.db.
func Connect(cfg *Config) (*Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	path := cfg.Path
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving default database path: %w", err)
		}
		path = filepath.Join(home, ".sessiond", "sessions.db")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	writeDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening write connection: %w", err)
	}
	writeDB.SetMaxOpenConns(1)

	readDB, err := sql.Open("sqlite", path)
	if err != nil {
		writeDB.Close()
		return nil, fmt.Errorf("opening read pool: %w", err)
	}
	readDB.SetMaxOpenConns(cfg.MaxOpenConns)
	readDB.SetMaxIdleConns(cfg.MaxIdleConns)
	readDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	s := &Store{writeDB: writeDB, readDB: readDB, path: path}

	for _, pragma := range cfg.pragmas() {
		if _, err := writeDB.Exec(pragma); err != nil {
			s.Close()
			return nil, fmt.Errorf("applying pragma %q: %w", pragma, err)
		}
		if _, err := readDB.Exec(pragma); err != nil {
			s.Close()
			return nil, fmt.Errorf("applying pragma %q to read pool: %w", pragma, err)
		}
	}

	for _, stmt := range schemaStatements() {
		if _, err := writeDB.Exec(stmt); err != nil {
			s.Close()
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}

	if err := checkOrInitSchemaVersion(writeDB); err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

// Close runs PRAGMA optimize and closes both handles, returning the first
// error encountered.
func (s *Store) Close() error {
	var firstErr error
	if s.writeDB != nil {
		if _, err := s.writeDB.Exec("PRAGMA optimize"); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := s.writeDB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.readDB != nil {
		if err := s.readDB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func nowMillis() int64 { return time.Now().UnixMilli() }

func millisToTime(ms int64) time.Time { return time.UnixMilli(ms) }

// UpsertProject inserts the project if (path, source) is new, or returns
// the existing row's id unchanged.
func (s *Store) UpsertProject(path, source string) (int64, error) {
	now := nowMillis()
	_, err := s.writeDB.Exec(
		`INSERT INTO projects (path, source, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(path, source) DO NOTHING`,
		path, source, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("upserting project: %w", err)
	}
	var id int64
	err = s.writeDB.QueryRow(`SELECT id FROM projects WHERE path = ? AND source = ?`, path, source).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("reading project id: %w", err)
	}
	return id, nil
}

// ListProjects returns every known project, most recently updated first.
func (s *Store) ListProjects() ([]session.Project, error) {
	rows, err := s.readDB.Query(`SELECT id, path, source, created_at, updated_at FROM projects ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	defer rows.Close()

	var out []session.Project
	for rows.Next() {
		var p session.Project
		var createdAt, updatedAt int64
		if err := rows.Scan(&p.ID, &p.Path, &p.Source, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = millisToTime(createdAt)
		p.UpdatedAt = millisToTime(updatedAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertSession inserts or updates a session row by session_id.
func (s *Store) UpsertSession(sess session.Session) error {
	now := nowMillis()
	var fileMtime any
	if sess.FileMtime != nil {
		fileMtime = sess.FileMtime.UnixMilli()
	}

	_, err := s.writeDB.Exec(`
		INSERT INTO sessions (session_id, project_id, message_count, last_message_at, cwd, model, channel,
			file_mtime, file_size, encoded_dir_name, meta, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			message_count = excluded.message_count,
			last_message_at = COALESCE(excluded.last_message_at, sessions.last_message_at),
			cwd = excluded.cwd,
			model = excluded.model,
			channel = excluded.channel,
			file_mtime = excluded.file_mtime,
			file_size = excluded.file_size,
			encoded_dir_name = excluded.encoded_dir_name,
			meta = excluded.meta,
			updated_at = excluded.updated_at
	`,
		sess.SessionID, sess.ProjectID, sess.MessageCount, timeToMillisPtr(sess.LastMessageAt),
		sess.CWD, sess.Model, sess.Channel, fileMtime, sess.FileSize, sess.EncodedDirName, sess.Meta, now, now,
	)
	if err != nil {
		return fmt.Errorf("upserting session: %w", err)
	}
	return nil
}

func timeToMillisPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

// ListSessions returns every session for a project, newest activity
// first, joined with its project path for display.
func (s *Store) ListSessions(projectID int64) ([]session.SessionDetail, error) {
	rows, err := s.readDB.Query(`
		SELECT s.id, s.session_id, s.project_id, s.message_count, s.last_message_at, s.cwd, s.model,
			s.channel, s.file_mtime, s.file_size, s.encoded_dir_name, s.meta, s.created_at, s.updated_at,
			p.path,
			(SELECT MIN(timestamp) FROM messages m WHERE m.session_id = s.session_id)
		FROM sessions s
		JOIN projects p ON s.project_id = p.id
		WHERE s.project_id = ?
		ORDER BY s.last_message_at DESC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var out []session.SessionDetail
	for rows.Next() {
		var d session.SessionDetail
		var lastMessageAt, fileMtime, firstMessageAt sql.NullInt64
		var createdAt, updatedAt int64
		if err := rows.Scan(&d.ID, &d.SessionID, &d.ProjectID, &d.MessageCount, &lastMessageAt, &d.CWD, &d.Model,
			&d.Channel, &fileMtime, &d.FileSize, &d.EncodedDirName, &d.Meta, &createdAt, &updatedAt,
			&d.ProjectPath, &firstMessageAt); err != nil {
			return nil, err
		}
		d.CreatedAt = millisToTime(createdAt)
		d.UpdatedAt = millisToTime(updatedAt)
		if lastMessageAt.Valid {
			t := millisToTime(lastMessageAt.Int64)
			d.LastMessageAt = &t
		}
		if fileMtime.Valid {
			t := millisToTime(fileMtime.Int64)
			d.FileMtime = &t
		}
		if firstMessageAt.Valid {
			t := millisToTime(firstMessageAt.Int64)
			d.FirstMessageAt = &t
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// GetScanCheckpoint returns the incremental-scan bookkeeping for a
// session, or the zero-value checkpoint (MaxSequence -1) if the session
// has never been scanned.
func (s *Store) GetScanCheckpoint(sessionID string) (session.ScanCheckpoint, error) {
	var cp session.ScanCheckpoint
	cp.SessionID = sessionID
	var maxSeq, lastTS int64
	err := s.readDB.QueryRow(`SELECT max_sequence, last_timestamp FROM scan_checkpoints WHERE session_id = ?`, sessionID).
		Scan(&maxSeq, &lastTS)
	if err == sql.ErrNoRows {
		cp.MaxSequence = -1
		return cp, nil
	}
	if err != nil {
		return cp, fmt.Errorf("reading scan checkpoint: %w", err)
	}
	cp.MaxSequence = maxSeq
	cp.LastTimestamp = millisToTime(lastTS)
	return cp, nil
}

// UpdateScanCheckpoint records the new high-water mark after a successful
// incremental insert.
func (s *Store) UpdateScanCheckpoint(sessionID string, maxSequence int64, lastTimestamp time.Time) error {
	_, err := s.writeDB.Exec(`
		INSERT INTO scan_checkpoints (session_id, max_sequence, last_timestamp) VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET max_sequence = excluded.max_sequence, last_timestamp = excluded.last_timestamp
	`, sessionID, maxSequence, lastTimestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("updating scan checkpoint: %w", err)
	}
	return nil
}

// ExistingMessageUUIDs reports which of the given UUIDs are already
// stored for sessionID, so a caller can filter them out before assigning
// sequence numbers to the rest.
func (s *Store) ExistingMessageUUIDs(sessionID string, uuids []string) (map[string]bool, error) {
	existing := make(map[string]bool, len(uuids))
	if len(uuids) == 0 {
		return existing, nil
	}

	placeholders := strings.Repeat("?,", len(uuids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(uuids)+1)
	args = append(args, sessionID)
	for _, u := range uuids {
		args = append(args, u)
	}

	rows, err := s.readDB.Query(
		`SELECT uuid FROM messages WHERE session_id = ? AND uuid IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("checking existing message uuids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var uuid string
		if err := rows.Scan(&uuid); err != nil {
			return nil, fmt.Errorf("scanning existing message uuid: %w", err)
		}
		existing[uuid] = true
	}
	return existing, rows.Err()
}

// InsertMessages inserts messages, skipping any whose (session_id, uuid)
// already exists. It returns the ids actually inserted (new rows only),
// so callers can report exactly how many were new and broadcast their
// ids. Inserting zero new messages is not an error.
func (s *Store) InsertMessages(messages []session.Message) ([]int64, error) {
	if len(messages) == 0 {
		return nil, nil
	}

	tx, err := s.writeDB.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning message insert transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO messages (session_id, uuid, role, content_text, content_full, timestamp, sequence,
			source, channel, model, tool_call_id, tool_name, tool_args, raw)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, uuid) DO NOTHING
	`)
	if err != nil {
		return nil, fmt.Errorf("preparing message insert: %w", err)
	}
	defer stmt.Close()

	var inserted []int64
	for _, m := range messages {
		res, err := stmt.Exec(m.SessionID, m.UUID, int(m.Role), m.ContentText, m.ContentFull, m.Timestamp.UnixMilli(),
			m.Sequence, m.Source, m.Channel, m.Model, m.ToolCallID, m.ToolName, m.ToolArgs, m.Raw)
		if err != nil {
			return nil, fmt.Errorf("inserting message %s: %w", m.UUID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			id, err := res.LastInsertId()
			if err != nil {
				return nil, err
			}
			inserted = append(inserted, id)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing message insert: %w", err)
	}
	return inserted, nil
}

// ListMessages returns up to limit messages in a session in sequence
// order, starting after the first offset rows. A limit <= 0 returns
// every remaining message.
func (s *Store) ListMessages(sessionID string, limit, offset int) ([]session.Message, error) {
	query := `
		SELECT id, session_id, uuid, role, content_text, content_full, timestamp, sequence,
			source, channel, model, tool_call_id, tool_name, tool_args, raw
		FROM messages WHERE session_id = ? ORDER BY sequence ASC
	`
	args := []any{sessionID}
	if limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, offset)
	} else if offset > 0 {
		query += " LIMIT -1 OFFSET ?"
		args = append(args, offset)
	}

	rows, err := s.readDB.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var out []session.Message
	for rows.Next() {
		var m session.Message
		var role int
		var ts int64
		if err := rows.Scan(&m.ID, &m.SessionID, &m.UUID, &role, &m.ContentText, &m.ContentFull, &ts, &m.Sequence,
			&m.Source, &m.Channel, &m.Model, &m.ToolCallID, &m.ToolName, &m.ToolArgs, &m.Raw); err != nil {
			return nil, err
		}
		m.Role = session.Role(role)
		m.Timestamp = millisToTime(ts)
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpsertApproval records (or updates) the resolution of a tool call,
// independent of whether any message referencing that tool_call_id has
// been collected yet.
func (s *Store) UpsertApproval(rec session.ApprovalRecord) error {
	var resolvedAt any
	if rec.ResolvedAt != nil {
		resolvedAt = rec.ResolvedAt.UnixMilli()
	}
	_, err := s.writeDB.Exec(`
		INSERT INTO approvals (tool_call_id, status, resolved_at) VALUES (?, ?, ?)
		ON CONFLICT(tool_call_id) DO UPDATE SET status = excluded.status, resolved_at = excluded.resolved_at
	`, rec.ToolCallID, int(rec.Status), resolvedAt)
	if err != nil {
		return fmt.Errorf("upserting approval: %w", err)
	}
	return nil
}

// GetApproval returns the recorded resolution for a tool call.
func (s *Store) GetApproval(toolCallID string) (session.ApprovalRecord, error) {
	var rec session.ApprovalRecord
	rec.ToolCallID = toolCallID
	var status int
	var resolvedAt sql.NullInt64
	err := s.readDB.QueryRow(`SELECT status, resolved_at FROM approvals WHERE tool_call_id = ?`, toolCallID).
		Scan(&status, &resolvedAt)
	if err == sql.ErrNoRows {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, fmt.Errorf("reading approval: %w", err)
	}
	rec.Status = session.ApprovalStatus(status)
	if resolvedAt.Valid {
		t := millisToTime(resolvedAt.Int64)
		rec.ResolvedAt = &t
	}
	return rec, nil
}

// GetStats returns the aggregate row counts across the whole store.
func (s *Store) GetStats() (session.Stats, error) {
	var stats session.Stats
	if err := s.readDB.QueryRow(`SELECT COUNT(*) FROM projects`).Scan(&stats.ProjectCount); err != nil {
		return stats, fmt.Errorf("counting projects: %w", err)
	}
	if err := s.readDB.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&stats.SessionCount); err != nil {
		return stats, fmt.Errorf("counting sessions: %w", err)
	}
	if err := s.readDB.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&stats.MessageCount); err != nil {
		return stats, fmt.Errorf("counting messages: %w", err)
	}
	if info, err := os.Stat(s.path); err == nil {
		stats.DatabaseSizeBytes = info.Size()
	}
	return stats, nil
}

// SearchFTS runs a full-text search over message content. query is
// escaped via escapeFTS5Query so arbitrary user input, including FTS
// operator characters, can never produce a syntax error. An empty
// (post-escaping) query matches nothing.
func (s *Store) SearchFTS(query string, limit int, projectID *int64, order session.SearchOrder, startTS, endTS *time.Time) ([]session.SearchResult, error) {
	escaped := escapeFTS5Query(query)
	if escaped == "" {
		return nil, nil
	}

	sqlQuery := querySearchFTSBase
	args := []any{escaped}

	if projectID != nil {
		sqlQuery += " AND s.project_id = ?"
		args = append(args, *projectID)
	}
	if startTS != nil {
		sqlQuery += " AND m.timestamp >= ?"
		args = append(args, startTS.UnixMilli())
	}
	if endTS != nil {
		sqlQuery += " AND m.timestamp <= ?"
		args = append(args, endTS.UnixMilli())
	}

	sqlQuery += searchOrderClauses[int(order)]
	sqlQuery += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.readDB.Query(sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}
	defer rows.Close()

	var out []session.SearchResult
	for rows.Next() {
		var r session.SearchResult
		var role int
		var ts int64
		if err := rows.Scan(&r.MessageID, &r.SessionID, &r.ProjectID, &r.ProjectName, &role,
			&r.ContentFull, &r.Snippet, &r.Score, &ts); err != nil {
			return nil, err
		}
		r.Role = session.Role(role)
		r.Timestamp = millisToTime(ts)
		out = append(out, r)
	}
	return out, rows.Err()
}
