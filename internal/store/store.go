// Package store persists portal users and direct messages for the chat service.
package store

import (
	"context"
	"errors"

	"github.com/rpms-portal/messaging/internal/model"
)

// ErrNotFound is returned when a user or message does not exist.
var ErrNotFound = errors.New("not found")

// Store is the persistence surface used by the chat service.
type Store interface {
	// UpsertUser creates or replaces a user.
	UpsertUser(ctx context.Context, u model.User) error
	GetUser(ctx context.Context, id string) (model.User, error)
	// ListUsersByRoles returns users holding any of roles, except excludeID, ordered by name.
	ListUsersByRoles(ctx context.Context, roles []model.Role, excludeID string) ([]model.User, error)

	// CreateMessage stores a message. ID and CreatedAt must be set.
	CreateMessage(ctx context.Context, msg *model.Message) error
	GetMessage(ctx context.Context, id string) (model.Message, error)
	// Conversation returns every message exchanged between a and b, oldest first.
	Conversation(ctx context.Context, a, b string) ([]model.Message, error)
	// LastMessage returns the newest message between a and b, or ErrNotFound.
	LastMessage(ctx context.Context, a, b string) (model.Message, error)
	// MarkRead marks messages from senderID to receiverID as read and returns how many changed.
	MarkRead(ctx context.Context, senderID, receiverID string) (int64, error)
	// UnreadCount counts unread messages to receiverID. An empty senderID counts all senders.
	UnreadCount(ctx context.Context, senderID, receiverID string) (int, error)

	Ping(ctx context.Context) error
	Close() error
}

func between(msg *model.Message, a, b string) bool {
	return (msg.SenderID == a && msg.ReceiverID == b) || (msg.SenderID == b && msg.ReceiverID == a)
}
