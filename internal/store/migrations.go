package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS conversation_messages (
	id          TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL UNIQUE,
	from_addr   TEXT NOT NULL,
	to_addr     TEXT NOT NULL DEFAULT '',
	subject     TEXT NOT NULL DEFAULT '',
	body        TEXT NOT NULL DEFAULT '',
	direction   TEXT NOT NULL CHECK (direction IN ('incoming', 'outgoing')),
	thread_id   TEXT NOT NULL DEFAULT '',
	tokens_used INTEGER NOT NULL DEFAULT 0,
	model_id    TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_fingerprint
	ON conversation_messages(fingerprint);
CREATE INDEX IF NOT EXISTS idx_messages_thread
	ON conversation_messages(thread_id);
CREATE INDEX IF NOT EXISTS idx_messages_from
	ON conversation_messages(from_addr);
CREATE INDEX IF NOT EXISTS idx_messages_created
	ON conversation_messages(created_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
