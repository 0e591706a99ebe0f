// Package sqlite provides a SQLite-backed message store.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/orchestra-mcp/chatrelay/src/store"
	"github.com/orchestra-mcp/chatrelay/src/types"
)

//go:embed schema.sql
var schema string

// Store provides SQLite-backed persistence for messages.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

var _ store.Store = (*Store)(nil)

// Open opens a SQLite store at the provided path and applies the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite db")
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrap(err, "ping sqlite db")
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrap(err, "apply schema")
	}
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// DB returns the underlying sql.DB instance.
func (s *Store) DB() *sql.DB { return s.sqlDB }

func (s *Store) CreateMessage(ctx context.Context, msg types.Message) (types.Message, error) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	msg.CreatedAt = msg.CreatedAt.UTC()

	res, err := s.sqlDB.ExecContext(ctx, `
		INSERT INTO messages (sender_id, receiver_id, sender_name, sender_email, text, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(msg.SenderID), string(msg.ReceiverID), msg.Sender.Name, msg.Sender.Email, msg.Text, toMillis(msg.CreatedAt))
	if err != nil {
		return types.Message{}, errors.Wrap(err, "insert message")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return types.Message{}, errors.Wrap(err, "last insert id")
	}
	msg.ID = id
	msg.Sender.ID = msg.SenderID
	msg.CreatedAt = fromMillis(toMillis(msg.CreatedAt))
	return msg, nil
}

func (s *Store) ListMessages(ctx context.Context, userID, otherUserID types.UserID) ([]types.Message, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
		SELECT id, sender_id, receiver_id, sender_name, sender_email, text, created_at
		FROM messages
		WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		ORDER BY created_at ASC, id ASC
	`, string(userID), string(otherUserID), string(otherUserID), string(userID))
	if err != nil {
		return nil, errors.Wrap(err, "query messages")
	}
	defer rows.Close()

	out := make([]types.Message, 0)
	for rows.Next() {
		var (
			m                types.Message
			sender, receiver string
			createdAt        int64
		)
		if err := rows.Scan(&m.ID, &sender, &receiver, &m.Sender.Name, &m.Sender.Email, &m.Text, &createdAt); err != nil {
			return nil, errors.Wrap(err, "scan message")
		}
		m.SenderID = types.UserID(sender)
		m.Sender.ID = m.SenderID
		m.ReceiverID = types.UserID(receiver)
		m.CreatedAt = fromMillis(createdAt)
		out = append(out, m)
	}
	return out, errors.Wrap(rows.Err(), "iterate messages")
}

// Close closes the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}
