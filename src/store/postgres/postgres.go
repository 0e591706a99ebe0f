// Package postgres provides a Postgres-backed message store.
package postgres

import (
	"context"
	_ "embed"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/orchestra-mcp/chatrelay/src/store"
	"github.com/orchestra-mcp/chatrelay/src/types"
)

//go:embed schema.sql
var schema string

// Postgres wraps a pgx pool.
type Postgres struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
	now    func() time.Time
}

var _ store.Store = (*Postgres)(nil)

// New connects to postgres, verifies connectivity and applies the schema.
func New(ctx context.Context, url string, maxConns int32, logger zerolog.Logger) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse postgres url")
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "connect postgres")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	p := &Postgres{
		pool:   pool,
		logger: logger.With().Str("component", "postgres-store").Logger(),
		now:    time.Now,
	}
	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return errors.Wrap(err, "apply schema")
	}
	p.logger.Info().Msg("schema applied")
	return nil
}

// CreateMessage inserts a message and returns it with its generated id.
func (p *Postgres) CreateMessage(ctx context.Context, msg types.Message) (types.Message, error) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = p.now()
	}
	row := p.pool.QueryRow(ctx, `
		INSERT INTO chat_messages (sender_id, receiver_id, sender_name, sender_email, text, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, string(msg.SenderID), string(msg.ReceiverID), msg.Sender.Name, msg.Sender.Email, msg.Text, msg.CreatedAt.UTC())

	if err := row.Scan(&msg.ID, &msg.CreatedAt); err != nil {
		return types.Message{}, errors.Wrap(err, "insert message")
	}
	msg.Sender.ID = msg.SenderID
	return msg, nil
}

// ListMessages returns both directions of a conversation, oldest first.
func (p *Postgres) ListMessages(ctx context.Context, userID, otherUserID types.UserID) ([]types.Message, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, sender_id, receiver_id, sender_name, sender_email, text, created_at
		FROM chat_messages
		WHERE (sender_id = $1 AND receiver_id = $2)
		   OR (sender_id = $2 AND receiver_id = $1)
		ORDER BY created_at ASC, id ASC
	`, string(userID), string(otherUserID))
	if err != nil {
		return nil, errors.Wrap(err, "query messages")
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.Message, error) {
		var (
			m                types.Message
			sender, receiver string
		)
		if err := row.Scan(&m.ID, &sender, &receiver, &m.Sender.Name, &m.Sender.Email, &m.Text, &m.CreatedAt); err != nil {
			return types.Message{}, err
		}
		m.SenderID = types.UserID(sender)
		m.Sender.ID = m.SenderID
		m.ReceiverID = types.UserID(receiver)
		return m, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "scan messages")
	}
	if out == nil {
		out = []types.Message{}
	}
	return out, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
