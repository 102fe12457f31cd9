package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/HerbHall/counsellor/internal/details"
	"github.com/HerbHall/counsellor/internal/store"
	"github.com/google/uuid"
)

// ConversationStore persists conversations and their messages.
type ConversationStore struct {
	sqlite *store.SQLiteStore
	db     *sql.DB
}

// NewConversationStore creates a ConversationStore and runs journal migrations.
func NewConversationStore(ctx context.Context, db *store.SQLiteStore) (*ConversationStore, error) {
	if err := db.Migrate(ctx, "journal", migrations); err != nil {
		return nil, fmt.Errorf("journal migrations: %w", err)
	}
	return &ConversationStore{sqlite: db, db: db.DB()}, nil
}

const conversationColumns = `id, user_id, session_type, status, initial_mood, end_mood,
	duration, model, ai_summary, identified_patterns, followup_suggestions,
	learned_details, learning_changes, created_at, updated_at`

// Create inserts a new conversation, assigning its ID and timestamps.
func (s *ConversationStore) Create(ctx context.Context, c *Conversation) error {
	now := time.Now().UTC()
	c.ID = uuid.New().String()
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.Status == "" {
		c.Status = StatusActive
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, user_id, session_type, status, initial_mood, model, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.SessionType, c.Status, nullInt(c.InitialMood), c.Model, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

// Get returns a conversation owned by userID without its messages, or
// sql.ErrNoRows.
func (s *ConversationStore) Get(ctx context.Context, userID, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = ? AND user_id = ?`, id, userID)
	return scanConversation(row)
}

// List returns every conversation of userID, newest first, limited to
// limit rows when limit > 0.
func (s *ConversationStore) List(ctx context.Context, userID string, limit int) ([]Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE user_id = ? ORDER BY created_at DESC, rowid DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	out := []Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// LastCompletedAt returns when userID last finished a session.
func (s *ConversationStore) LastCompletedAt(ctx context.Context, userID string) (time.Time, bool, error) {
	var t time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT updated_at FROM conversations
		WHERE user_id = ? AND status = ?
		ORDER BY updated_at DESC LIMIT 1`, userID, StatusCompleted,
	).Scan(&t)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("last completed session: %w", err)
	}
	return t, true, nil
}

// Transition moves a conversation from one status to another. It returns
// ErrNotActive when the conversation is no longer in from, so only one of
// several concurrent callers wins.
func (s *ConversationStore) Transition(ctx context.Context, id string, from, to Status) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, time.Now().UTC(), id, from)
	if err != nil {
		return fmt.Errorf("update conversation status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update conversation status: %w", err)
	}
	if n == 0 {
		return ErrNotActive
	}
	return nil
}

// Complete stores the end-of-session results and marks the conversation
// completed.
func (s *ConversationStore) Complete(ctx context.Context, c *Conversation) error {
	patterns, err := marshalText(c.IdentifiedPatterns)
	if err != nil {
		return err
	}
	followups, err := marshalText(c.FollowupSuggestions)
	if err != nil {
		return err
	}
	learned, err := marshalText(c.LearnedDetails)
	if err != nil {
		return err
	}
	changes, err := marshalText(c.LearningChanges)
	if err != nil {
		return err
	}

	c.Status = StatusCompleted
	c.UpdatedAt = time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		UPDATE conversations SET
			status = ?, end_mood = ?, duration = ?, ai_summary = ?,
			identified_patterns = ?, followup_suggestions = ?,
			learned_details = ?, learning_changes = ?, updated_at = ?
		WHERE id = ?`,
		c.Status, nullInt(c.EndMood), c.Duration, c.AISummary,
		patterns, followups, learned, changes, c.UpdatedAt, c.ID,
	)
	if err != nil {
		return fmt.Errorf("complete conversation: %w", err)
	}
	return nil
}

// AddMessage appends a message to a conversation.
func (s *ConversationStore) AddMessage(ctx context.Context, conversationID, role, content string) (*Message, error) {
	m := &Message{
		ID:             "msg_" + uuid.New().String(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	err := s.sqlite.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (id, conversation_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
			m.ID, m.ConversationID, m.Role, m.Content, m.CreatedAt,
		); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE conversations SET updated_at = ? WHERE id = ?`, m.CreatedAt, conversationID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return m, nil
}

// Messages returns a conversation's messages in order.
func (s *ConversationStore) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, created_at
		FROM messages WHERE conversation_id = ?
		ORDER BY created_at, rowid`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CountMessages returns the number of messages across userID's conversations.
func (s *ConversationStore) CountMessages(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE c.user_id = ?`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

// Delete removes one conversation and its messages. It returns
// sql.ErrNoRows when userID owns no such conversation.
func (s *ConversationStore) Delete(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteUser removes every conversation of userID and returns how many.
func (s *ConversationStore) DeleteUser(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete conversations: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(row scanner) (*Conversation, error) {
	var (
		c                                           Conversation
		initialMood, endMood                        sql.NullInt64
		summary, patterns, followups, learned, chgs sql.NullString
	)
	err := row.Scan(&c.ID, &c.UserID, &c.SessionType, &c.Status, &initialMood, &endMood,
		&c.Duration, &c.Model, &summary, &patterns, &followups, &learned, &chgs,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.InitialMood = intPtr(initialMood)
	c.EndMood = intPtr(endMood)
	c.AISummary = summary.String
	c.IdentifiedPatterns = unmarshalList(patterns.String)
	c.FollowupSuggestions = unmarshalList(followups.String)
	c.LearningChanges = unmarshalList(chgs.String)
	if learned.String != "" {
		if d, err := details.Parse([]byte(learned.String)); err == nil {
			c.LearnedDetails = d
		}
	}
	return &c, nil
}

func marshalText(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode conversation field: %w", err)
	}
	return string(b), nil
}

func unmarshalList(text string) []string {
	if text == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil
	}
	return out
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

var migrations = []store.Migration{
	{
		Version:     1,
		Description: "create conversations and messages tables",
		Up: func(tx *sql.Tx) error {
			stmts := []string{
				`CREATE TABLE conversations (
					id                   TEXT PRIMARY KEY,
					user_id              TEXT NOT NULL,
					session_type         TEXT NOT NULL DEFAULT 'standard',
					status               TEXT NOT NULL DEFAULT 'active',
					initial_mood         INTEGER,
					end_mood             INTEGER,
					duration             INTEGER NOT NULL DEFAULT 0,
					model                TEXT NOT NULL DEFAULT '',
					ai_summary           TEXT,
					identified_patterns  TEXT,
					followup_suggestions TEXT,
					learned_details      TEXT,
					learning_changes     TEXT,
					created_at           DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at           DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_conversations_user ON conversations(user_id, created_at DESC)`,
				`CREATE TABLE messages (
					id              TEXT PRIMARY KEY,
					conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
					role            TEXT NOT NULL,
					content         TEXT NOT NULL,
					created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_messages_conversation ON messages(conversation_id, created_at)`,
			}
			for _, stmt := range stmts {
				if _, err := tx.Exec(stmt); err != nil {
					return err
				}
			}
			return nil
		},
	},
}
