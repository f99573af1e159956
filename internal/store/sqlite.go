// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Conversation/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			assigned_agent_id TEXT,
			version INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			last_activity_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_status
			ON conversations(status);

		CREATE TABLE IF NOT EXISTS participants (
			conversation_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (conversation_id, user_id)
		);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			sender TEXT NOT NULL,
			text TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_id, created_at);

		CREATE TABLE IF NOT EXISTS roles (
			user_id TEXT NOT NULL,
			role TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (user_id, role)
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// UpsertConversation inserts or replaces the persisted snapshot of a
// conversation.
func (s *SQLiteStore) UpsertConversation(ctx context.Context, conv *Conversation) error {
	query := `
		INSERT INTO conversations (id, status, assigned_agent_id, version, created_at, last_activity_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			assigned_agent_id = excluded.assigned_agent_id,
			version = excluded.version,
			last_activity_at = excluded.last_activity_at
	`

	_, err := s.db.ExecContext(ctx, query,
		conv.ID,
		conv.Status,
		conv.AssignedAgentID,
		conv.Version,
		conv.CreatedAt.UTC().Format(time.RFC3339Nano),
		conv.LastActivityAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upserting conversation: %w", err)
	}
	return nil
}

// GetConversation returns the persisted snapshot for a conversation id.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	query := `
		SELECT id, status, assigned_agent_id, version, created_at, last_activity_at
		FROM conversations WHERE id = ?
	`

	row := s.db.QueryRowContext(ctx, query, id)
	conv, err := scanConversation(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting conversation: %w", err)
	}
	return conv, nil
}

// ListConversationsByStatus returns conversations in a given status, most
// recently active first. Used for the agent-facing escalation queue.
func (s *SQLiteStore) ListConversationsByStatus(ctx context.Context, status string, limit int) ([]*Conversation, error) {
	query := `
		SELECT id, status, assigned_agent_id, version, created_at, last_activity_at
		FROM conversations
		WHERE status = ?
		ORDER BY last_activity_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		conversations = append(conversations, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}
	return conversations, nil
}

// scanConversation scans one conversation row.
func scanConversation(scan func(dest ...any) error) (*Conversation, error) {
	var conv Conversation
	var assigned sql.NullString
	var createdAt, lastActivityAt string

	if err := scan(&conv.ID, &conv.Status, &assigned, &conv.Version, &createdAt, &lastActivityAt); err != nil {
		return nil, err
	}

	if assigned.Valid {
		conv.AssignedAgentID = &assigned.String
	}

	var err error
	if conv.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if conv.LastActivityAt, err = time.Parse(time.RFC3339Nano, lastActivityAt); err != nil {
		return nil, fmt.Errorf("parsing last_activity_at: %w", err)
	}
	return &conv, nil
}

// AddParticipant binds an authenticated user to a conversation. Idempotent.
func (s *SQLiteStore) AddParticipant(ctx context.Context, conversationID, userID string) error {
	query := `
		INSERT OR IGNORE INTO participants (conversation_id, user_id, created_at)
		VALUES (?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		conversationID,
		userID,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("adding participant: %w", err)
	}

	s.logger.Debug("added participant", "conversation_id", conversationID, "user_id", userID)
	return nil
}

// IsParticipant reports whether a persisted association binds the user to
// the conversation.
func (s *SQLiteStore) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	query := `SELECT COUNT(*) FROM participants WHERE conversation_id = ? AND user_id = ?`

	var count int
	err := s.db.QueryRowContext(ctx, query, conversationID, userID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking participant: %w", err)
	}
	return count > 0, nil
}

// SaveMessage persists a chat message.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	query := `
		INSERT INTO messages (id, conversation_id, sender, text, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.ConversationID,
		msg.Sender,
		msg.Text,
		msg.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("saving message: %w", err)
	}
	return nil
}

// ListMessages returns up to limit messages for a conversation in
// chronological order.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	query := `
		SELECT id, conversation_id, sender, text, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var createdAt string
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Sender, &msg.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		if msg.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return messages, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
