package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/mailbot/internal/model"
)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// Add appends a message to the conversation log.
func (s *SQLiteStore) Add(ctx context.Context, msg model.ConversationMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	const query = `
		INSERT INTO conversation_messages (
			id, fingerprint, from_addr, to_addr,
			subject, body, direction, thread_id,
			tokens_used, model_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.Fingerprint, msg.From, msg.To,
		msg.Subject, msg.Body, string(msg.Direction), msg.ThreadID,
		msg.TokensUsed, msg.ModelID, msg.CreatedAt.UTC(),
	)
	if err != nil {
		// modernc.org/sqlite surfaces unique violations as a plain
		// constraint error; match on the message text.
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", ErrDuplicateFingerprint, msg.Fingerprint)
		}
		return fmt.Errorf("inserting message %s: %w", msg.Fingerprint, err)
	}

	return nil
}

// FindByFingerprint returns the message with the given fingerprint, or
// (nil, nil) when none exists.
func (s *SQLiteStore) FindByFingerprint(
	ctx context.Context, fp string,
) (*model.ConversationMessage, error) {
	const query = `
		SELECT id, fingerprint, from_addr, to_addr,
		       subject, body, direction, thread_id,
		       tokens_used, model_id, created_at
		FROM conversation_messages
		WHERE fingerprint = ?`

	var msg model.ConversationMessage
	err := s.db.GetContext(ctx, &msg, query, fp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying fingerprint %s: %w", fp, err)
	}

	return &msg, nil
}

// FindByThread returns the thread rooted at threadID: the root message
// plus all replies referencing it.
func (s *SQLiteStore) FindByThread(
	ctx context.Context, threadID string, asc bool, limit int,
) ([]model.ConversationMessage, error) {
	order := "DESC"
	if asc {
		order = "ASC"
	}

	query := fmt.Sprintf(`
		SELECT id, fingerprint, from_addr, to_addr,
		       subject, body, direction, thread_id,
		       tokens_used, model_id, created_at
		FROM conversation_messages
		WHERE id = ? OR thread_id = ?
		ORDER BY created_at %s`, order)

	args := []interface{}{threadID, threadID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var msgs []model.ConversationMessage
	if err := s.db.SelectContext(ctx, &msgs, query, args...); err != nil {
		return nil, fmt.Errorf("querying thread %s: %w", threadID, err)
	}

	return msgs, nil
}

// RecentConversation returns the most recent messages exchanged with an
// address, newest first. Both directions are included so the exchange
// reads as a dialogue.
func (s *SQLiteStore) RecentConversation(
	ctx context.Context, addr string, limit int,
) ([]model.ConversationMessage, error) {
	if limit <= 0 {
		limit = 20
	}

	const query = `
		SELECT id, fingerprint, from_addr, to_addr,
		       subject, body, direction, thread_id,
		       tokens_used, model_id, created_at
		FROM conversation_messages
		WHERE from_addr = ? OR to_addr = ?
		ORDER BY created_at DESC
		LIMIT ?`

	var msgs []model.ConversationMessage
	if err := s.db.SelectContext(ctx, &msgs, query, addr, addr, limit); err != nil {
		return nil, fmt.Errorf("querying conversation with %s: %w", addr, err)
	}

	return msgs, nil
}

// CountByDirection returns total stored message counts per direction.
func (s *SQLiteStore) CountByDirection(ctx context.Context) (DirectionCounts, error) {
	const query = `
		SELECT
			COALESCE(SUM(CASE WHEN direction = 'incoming' THEN 1 ELSE 0 END), 0) AS incoming,
			COALESCE(SUM(CASE WHEN direction = 'outgoing' THEN 1 ELSE 0 END), 0) AS outgoing
		FROM conversation_messages`

	var counts DirectionCounts
	if err := s.db.GetContext(ctx, &counts, query); err != nil {
		return DirectionCounts{}, fmt.Errorf("counting messages: %w", err)
	}

	return counts, nil
}
