package storage

// schemaVersion is the value written to meta.schema_version by a fresh
// database and checked by connect() on every open; see migrations.go.
const schemaVersion = 1

const queryCreateMetaTable = `CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`

const queryCreateProjectsTable = `CREATE TABLE IF NOT EXISTS projects (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	path TEXT NOT NULL,
	source TEXT NOT NULL DEFAULT 'claude',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	UNIQUE(path, source)
)`

const queryCreateSessionsTable = `CREATE TABLE IF NOT EXISTS sessions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL UNIQUE,
	project_id INTEGER NOT NULL REFERENCES projects(id),
	message_count INTEGER NOT NULL DEFAULT 0,
	last_message_at INTEGER,
	cwd TEXT,
	model TEXT,
	channel TEXT,
	file_mtime INTEGER,
	file_size INTEGER,
	encoded_dir_name TEXT,
	meta TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
)`

const queryCreateMessagesTable = `CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
	uuid TEXT NOT NULL,
	role INTEGER NOT NULL,
	content_text TEXT NOT NULL,
	content_full TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	sequence INTEGER NOT NULL,
	source TEXT NOT NULL DEFAULT 'claude',
	channel TEXT,
	model TEXT,
	tool_call_id TEXT,
	tool_name TEXT,
	tool_args TEXT,
	raw TEXT,
	UNIQUE(session_id, uuid)
)`

const queryCreateApprovalsTable = `CREATE TABLE IF NOT EXISTS approvals (
	tool_call_id TEXT PRIMARY KEY,
	status INTEGER NOT NULL,
	resolved_at INTEGER
)`

const queryCreateScanCheckpointsTable = `CREATE TABLE IF NOT EXISTS scan_checkpoints (
	session_id TEXT PRIMARY KEY REFERENCES sessions(session_id) ON DELETE CASCADE,
	max_sequence INTEGER NOT NULL DEFAULT -1,
	last_timestamp INTEGER NOT NULL DEFAULT 0
)`

var queryCreateIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project_id)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_last_message ON sessions(last_message_at)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_tool_call ON messages(tool_call_id) WHERE tool_call_id IS NOT NULL`,
}

const queryCreateMessagesFTS = `CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
	content_full,
	content='messages',
	content_rowid='id'
)`

// The external-content FTS5 table above requires the special 'delete'
// command form on delete/update; a plain DELETE/UPDATE against the
// shadow table corrupts the index for content= tables.
var queryCreateFTSTriggers = []string{
	`CREATE TRIGGER IF NOT EXISTS messages_ai AFTER INSERT ON messages BEGIN
		INSERT INTO messages_fts(rowid, content_full) VALUES (new.id, new.content_full);
	END`,
	`CREATE TRIGGER IF NOT EXISTS messages_ad AFTER DELETE ON messages BEGIN
		INSERT INTO messages_fts(messages_fts, rowid, content_full) VALUES('delete', old.id, old.content_full);
	END`,
	`CREATE TRIGGER IF NOT EXISTS messages_au AFTER UPDATE ON messages BEGIN
		INSERT INTO messages_fts(messages_fts, rowid, content_full) VALUES('delete', old.id, old.content_full);
		INSERT INTO messages_fts(rowid, content_full) VALUES (new.id, new.content_full);
	END`,
}

func schemaStatements() []string {
	stmts := []string{
		queryCreateMetaTable,
		queryCreateProjectsTable,
		queryCreateSessionsTable,
		queryCreateMessagesTable,
		queryCreateApprovalsTable,
		queryCreateScanCheckpointsTable,
		queryCreateMessagesFTS,
	}
	stmts = append(stmts, queryCreateIndexes...)
	stmts = append(stmts, queryCreateFTSTriggers...)
	return stmts
}
