package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/rpms-portal/messaging/internal/model"
)

// Postgres is a Store backed by PostgreSQL through the pgx database/sql driver.
type Postgres struct {
	db *sql.DB
}

var _ Store = (*Postgres)(nil)

// OpenPostgres connects to dsn and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Postgres{db: db}, nil
}

// AutoMigrate creates the users and messages tables if they are missing.
func (p *Postgres) AutoMigrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            email TEXT NOT NULL DEFAULT '',
            role TEXT NOT NULL,
            avatar TEXT NOT NULL DEFAULT ''
        )`,

		`CREATE TABLE IF NOT EXISTS messages (
            id TEXT PRIMARY KEY,
            sender_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
            receiver_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
            content TEXT NOT NULL DEFAULT '',
            attachment_url TEXT,
            attachment_name TEXT,
            attachment_type TEXT,
            attachment_size BIGINT,
            reply_to_message_id TEXT REFERENCES messages(id) ON DELETE SET NULL,
            is_forwarded BOOLEAN NOT NULL DEFAULT FALSE,
            is_read BOOLEAN NOT NULL DEFAULT FALSE,
            created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE INDEX IF NOT EXISTS messages_pair_idx ON messages (sender_id, receiver_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS messages_unread_idx ON messages (receiver_id) WHERE NOT is_read`,
	}

	for _, query := range queries {
		if _, err := p.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

func (p *Postgres) UpsertUser(ctx context.Context, u model.User) error {
	query := `
		INSERT INTO users (id, name, email, role, avatar)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, email = EXCLUDED.email, role = EXCLUDED.role, avatar = EXCLUDED.avatar
	`
	if _, err := p.db.ExecContext(ctx, query, u.ID, u.Name, u.Email, string(u.Role), u.Avatar); err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

func (p *Postgres) GetUser(ctx context.Context, id string) (model.User, error) {
	var u model.User
	query := "SELECT id, name, email, role, avatar FROM users WHERE id = $1"
	err := p.db.QueryRowContext(ctx, query, id).Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.Avatar)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

func (p *Postgres) ListUsersByRoles(ctx context.Context, roles []model.Role, excludeID string) ([]model.User, error) {
	users := []model.User{}
	if len(roles) == 0 {
		return users, nil
	}

	args := []any{excludeID}
	placeholders := make([]string, len(roles))
	for i, r := range roles {
		args = append(args, string(r))
		placeholders[i] = "$" + strconv.Itoa(i+2)
	}
	query := `
		SELECT id, name, email, role, avatar
		FROM users
		WHERE role IN (` + strings.Join(placeholders, ", ") + `) AND id != $1
		ORDER BY name ASC, id ASC
	`

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.Avatar); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

const messageColumns = `id, sender_id, receiver_id, content, attachment_url, attachment_name,
	attachment_type, attachment_size, reply_to_message_id, is_forwarded, is_read, created_at`

func (p *Postgres) CreateMessage(ctx context.Context, msg *model.Message) error {
	var url, name, typ sql.NullString
	var size sql.NullInt64
	if msg.Attachment != nil {
		url = sql.NullString{String: msg.Attachment.URL, Valid: true}
		name = sql.NullString{String: msg.Attachment.Name, Valid: true}
		typ = sql.NullString{String: msg.Attachment.Type, Valid: true}
		size = sql.NullInt64{Int64: msg.Attachment.Size, Valid: true}
	}
	var replyTo sql.NullString
	if msg.ReplyToMessageID != nil {
		replyTo = sql.NullString{String: *msg.ReplyToMessageID, Valid: true}
	}

	query := `INSERT INTO messages (` + messageColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := p.db.ExecContext(ctx, query,
		msg.ID, msg.SenderID, msg.ReceiverID, msg.Content,
		url, name, typ, size, replyTo,
		msg.IsForwarded, msg.IsRead, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (model.Message, error) {
	var msg model.Message
	var url, name, typ, replyTo sql.NullString
	var size sql.NullInt64
	err := row.Scan(&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Content,
		&url, &name, &typ, &size, &replyTo,
		&msg.IsForwarded, &msg.IsRead, &msg.CreatedAt)
	if err != nil {
		return model.Message{}, err
	}
	if url.Valid && name.Valid && typ.Valid && size.Valid {
		msg.Attachment = &model.Attachment{URL: url.String, Name: name.String, Type: typ.String, Size: size.Int64}
	}
	if replyTo.Valid {
		id := replyTo.String
		msg.ReplyToMessageID = &id
	}
	return msg, nil
}

func (p *Postgres) GetMessage(ctx context.Context, id string) (model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`
	msg, err := scanMessage(p.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Message{}, ErrNotFound
		}
		return model.Message{}, fmt.Errorf("failed to get message: %w", err)
	}
	return msg, nil
}

func (p *Postgres) Conversation(ctx context.Context, a, b string) ([]model.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)
		ORDER BY created_at ASC
	`
	rows, err := p.db.QueryContext(ctx, query, a, b)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	defer rows.Close()

	messages := []model.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (p *Postgres) LastMessage(ctx context.Context, a, b string) (model.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)
		ORDER BY created_at DESC
		LIMIT 1
	`
	msg, err := scanMessage(p.db.QueryRowContext(ctx, query, a, b))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Message{}, ErrNotFound
		}
		return model.Message{}, fmt.Errorf("failed to get last message: %w", err)
	}
	return msg, nil
}

func (p *Postgres) MarkRead(ctx context.Context, senderID, receiverID string) (int64, error) {
	query := `
		UPDATE messages
		SET is_read = TRUE
		WHERE sender_id = $1 AND receiver_id = $2 AND is_read = FALSE
	`
	res, err := p.db.ExecContext(ctx, query, senderID, receiverID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages read: %w", err)
	}
	return res.RowsAffected()
}

func (p *Postgres) UnreadCount(ctx context.Context, senderID, receiverID string) (int, error) {
	var n int
	var err error
	if senderID == "" {
		err = p.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM messages WHERE receiver_id = $1 AND is_read = FALSE",
			receiverID,
		).Scan(&n)
	} else {
		err = p.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM messages WHERE sender_id = $1 AND receiver_id = $2 AND is_read = FALSE",
			senderID, receiverID,
		).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}
	return n, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Postgres) Close() error {
	return p.db.Close()
}
