// Package sqlite implements the backend contract on a local SQLite database
// with in-process notification fan-out. It backs local development and tests
// with the same at-least-once, unordered delivery model the engine assumes
// from the hosted service.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/wirechat-client/internal/backend"
	"github.com/vovakirdan/wirechat-client/internal/chat"
	"github.com/vovakirdan/wirechat-client/internal/utils"
)

// ErrNotFound marks an update against a missing message id.
var ErrNotFound = errors.New("message not found")

// nowFunc stamps updated_at; replaced in tests.
var nowFunc = time.Now

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	created_by TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	sender_id       TEXT NOT NULL,
	content         TEXT NOT NULL DEFAULT '',
	attachment_ref  TEXT NOT NULL DEFAULT '',
	kind            TEXT NOT NULL DEFAULT 'text',
	created_at      TIMESTAMP NOT NULL,
	updated_at      TIMESTAMP,
	revision        INTEGER NOT NULL DEFAULT 1,
	reply_to_id     TEXT NOT NULL DEFAULT '',
	deleted_at      TIMESTAMP,
	deleted_by      TEXT NOT NULL DEFAULT '',
	read_by         TEXT NOT NULL DEFAULT '[]',
	reactions       TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_messages_conv_created
	ON messages(conversation_id, created_at);

CREATE TABLE IF NOT EXISTS user_status (
	user_id   TEXT PRIMARY KEY,
	is_online INTEGER NOT NULL,
	last_seen TIMESTAMP NOT NULL
);
`

// SQLiteBackend implements backend.Backend for SQLite.
type SQLiteBackend struct {
	db  *sql.DB
	hub *hub

	mu       sync.Mutex
	channels map[string]*membershipCore
}

// New creates a new SQLite backend.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteBackend{
		db:       db,
		hub:      newHub(),
		channels: make(map[string]*membershipCore),
	}, nil
}

// Close closes the database connection.
func (b *SQLiteBackend) Close() error {
	b.hub.closeAll()
	return b.db.Close()
}

// EnsureConversation creates the conversation row if it does not exist.
func (b *SQLiteBackend) EnsureConversation(ctx context.Context, conversationID, createdBy string) error {
	query := `
		INSERT INTO conversations (id, created_by)
		VALUES (?, ?)
		ON CONFLICT(id) DO NOTHING
	`
	if _, err := b.db.ExecContext(ctx, query, conversationID, createdBy); err != nil {
		return fmt.Errorf("ensure conversation: %w", err)
	}
	return nil
}

// Insert persists a message and fans out the created notification. A
// client-issued id is kept; an empty id gets one issued here.
func (b *SQLiteBackend) Insert(ctx context.Context, msg *chat.Message) (string, error) {
	stored := msg.Clone()
	if stored.ID == "" {
		stored.ID = utils.NewID()
	}
	if stored.Kind == "" {
		stored.Kind = chat.KindText
	}
	stored.Revision = 1

	readBy, reactions, err := encodeSets(stored)
	if err != nil {
		return "", err
	}

	query := `
		INSERT INTO messages (
			id, conversation_id, sender_id, content, attachment_ref, kind,
			created_at, revision, reply_to_id, read_by, reactions
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = b.db.ExecContext(ctx, query,
		stored.ID, stored.ConversationID, stored.SenderID, stored.Content,
		stored.AttachmentRef, string(stored.Kind), stored.CreatedAt,
		stored.Revision, stored.ReplyToID, readBy, reactions,
	)
	if err != nil {
		return "", fmt.Errorf("insert message: %w", err)
	}

	b.hub.publish(stored.ConversationID, chat.Event{Kind: chat.EventCreated, Message: stored})
	return stored.ID, nil
}

// Update applies a partial mutation, bumps the revision counter, and fans
// out the mutated notification carrying the full new row.
func (b *SQLiteBackend) Update(ctx context.Context, id string, fields backend.Partial) error {
	held, err := b.getMessage(ctx, id)
	if err != nil {
		return err
	}

	if fields.Content != nil {
		held.Content = *fields.Content
	}
	if fields.DeletedAt != nil {
		held.DeletedAt = *fields.DeletedAt
	}
	if fields.DeletedBy != nil {
		held.DeletedBy = *fields.DeletedBy
	}
	for u := range fields.ReadBy {
		if held.ReadBy == nil {
			held.ReadBy = make(map[string]struct{})
		}
		held.ReadBy[u] = struct{}{}
	}
	if fields.Reactions != nil {
		held.Reactions = fields.Reactions
	}
	held.Revision++
	held.UpdatedAt = nowFunc()

	readBy, reactions, err := encodeSets(held)
	if err != nil {
		return err
	}

	query := `
		UPDATE messages
		SET content = ?, updated_at = ?, revision = ?,
		    deleted_at = ?, deleted_by = ?, read_by = ?, reactions = ?
		WHERE id = ?
	`
	var deletedAt interface{}
	if held.Deleted() {
		deletedAt = held.DeletedAt
	}
	if _, err := b.db.ExecContext(ctx, query,
		held.Content, held.UpdatedAt, held.Revision,
		deletedAt, held.DeletedBy, readBy, reactions, id,
	); err != nil {
		return fmt.Errorf("update message: %w", err)
	}

	b.hub.publish(held.ConversationID, chat.Event{Kind: chat.EventMutated, Message: held})
	return nil
}

// Query returns the conversation's messages ordered by created_at ascending,
// excluding tombstoned rows. Ties on created_at break by id.
func (b *SQLiteBackend) Query(ctx context.Context, conversationID string, f backend.Filter) ([]*chat.Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, content, attachment_ref, kind,
		       created_at, updated_at, revision, reply_to_id, deleted_by,
		       read_by, reactions
		FROM messages
		WHERE conversation_id = ? AND deleted_at IS NULL AND created_at >= ?
		ORDER BY created_at ASC, id ASC
	`
	args := []interface{}{conversationID, f.After}
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []*chat.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpsertStatus writes the presence record last-writer-wins and fans it out
// to every conversation subscriber.
func (b *SQLiteBackend) UpsertStatus(ctx context.Context, rec chat.PresenceRecord) error {
	query := `
		INSERT INTO user_status (user_id, is_online, last_seen)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET is_online = excluded.is_online, last_seen = excluded.last_seen
	`
	if _, err := b.db.ExecContext(ctx, query, rec.UserID, rec.IsOnline, rec.LastSeen); err != nil {
		return fmt.Errorf("upsert status: %w", err)
	}
	b.hub.publishAll(chat.Event{Kind: chat.EventStatus, Status: &rec})
	return nil
}

// GetStatus reads the current presence record for userID.
func (b *SQLiteBackend) GetStatus(ctx context.Context, userID string) (chat.PresenceRecord, error) {
	query := `SELECT user_id, is_online, last_seen FROM user_status WHERE user_id = ?`
	var rec chat.PresenceRecord
	err := b.db.QueryRowContext(ctx, query, userID).Scan(&rec.UserID, &rec.IsOnline, &rec.LastSeen)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return chat.PresenceRecord{UserID: userID}, nil
		}
		return rec, fmt.Errorf("query status: %w", err)
	}
	return rec, nil
}

func (b *SQLiteBackend) getMessage(ctx context.Context, id string) (*chat.Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, content, attachment_ref, kind,
		       created_at, updated_at, revision, reply_to_id, deleted_by,
		       read_by, reactions
		FROM messages
		WHERE id = ?
	`
	row := b.db.QueryRowContext(ctx, query, id)
	m, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message %q: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return m, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*chat.Message, error) {
	var (
		m         chat.Message
		kind      string
		updatedAt sql.NullTime
		readBy    string
		reactions string
	)
	err := row.Scan(
		&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.AttachmentRef,
		&kind, &m.CreatedAt, &updatedAt, &m.Revision, &m.ReplyToID,
		&m.DeletedBy, &readBy, &reactions,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan message: %w", err)
	}
	m.Kind = chat.Kind(kind)
	if updatedAt.Valid {
		m.UpdatedAt = updatedAt.Time
	}

	var users []string
	if err := json.Unmarshal([]byte(readBy), &users); err != nil {
		return nil, fmt.Errorf("decode read_by: %w", err)
	}
	if len(users) > 0 {
		m.ReadBy = make(map[string]struct{}, len(users))
		for _, u := range users {
			m.ReadBy[u] = struct{}{}
		}
	}

	var reacts map[string][]string
	if err := json.Unmarshal([]byte(reactions), &reacts); err != nil {
		return nil, fmt.Errorf("decode reactions: %w", err)
	}
	if len(reacts) > 0 {
		m.Reactions = make(map[string]map[string]struct{}, len(reacts))
		for emoji, names := range reacts {
			set := make(map[string]struct{}, len(names))
			for _, u := range names {
				set[u] = struct{}{}
			}
			m.Reactions[emoji] = set
		}
	}
	return &m, nil
}

func encodeSets(m *chat.Message) (readBy, reactions string, err error) {
	users := make([]string, 0, len(m.ReadBy))
	for u := range m.ReadBy {
		users = append(users, u)
	}
	rb, err := json.Marshal(users)
	if err != nil {
		return "", "", fmt.Errorf("encode read_by: %w", err)
	}

	reacts := make(map[string][]string, len(m.Reactions))
	for emoji, set := range m.Reactions {
		for u := range set {
			reacts[emoji] = append(reacts[emoji], u)
		}
	}
	rc, err := json.Marshal(reacts)
	if err != nil {
		return "", "", fmt.Errorf("encode reactions: %w", err)
	}
	return string(rb), string(rc), nil
}
