package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/rpms-portal/messaging/internal/model"
)

// Memory is an in-process Store. It backs tests and single-node development runs.
type Memory struct {
	mu       sync.RWMutex
	users    map[string]model.User
	messages []*model.Message
	byID     map[string]*model.Message
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty store seeded with users.
func NewMemory(users ...model.User) *Memory {
	m := &Memory{
		users: make(map[string]model.User),
		byID:  make(map[string]*model.Message),
	}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *Memory) UpsertUser(ctx context.Context, u model.User) error {
	if u.ID == "" {
		return fmt.Errorf("user id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	return nil
}

func (m *Memory) GetUser(ctx context.Context, id string) (model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return u, nil
}

func (m *Memory) ListUsersByRoles(ctx context.Context, roles []model.Role, excludeID string) ([]model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []model.User{}
	for _, u := range m.users {
		if u.ID != excludeID && slices.Contains(roles, u.Role) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) CreateMessage(ctx context.Context, msg *model.Message) error {
	if msg.ID == "" || msg.CreatedAt.IsZero() {
		return fmt.Errorf("message id and created_at are required")
	}
	stored := *msg
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[stored.ID]; ok {
		return fmt.Errorf("message %s already exists", stored.ID)
	}
	m.messages = append(m.messages, &stored)
	m.byID[stored.ID] = &stored
	return nil
}

func (m *Memory) GetMessage(ctx context.Context, id string) (model.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.byID[id]
	if !ok {
		return model.Message{}, ErrNotFound
	}
	return *msg, nil
}

func (m *Memory) Conversation(ctx context.Context, a, b string) ([]model.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []model.Message{}
	for _, msg := range m.messages {
		if between(msg, a, b) {
			out = append(out, *msg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) LastMessage(ctx context.Context, a, b string) (model.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var last *model.Message
	for _, msg := range m.messages {
		if between(msg, a, b) && (last == nil || !msg.CreatedAt.Before(last.CreatedAt)) {
			last = msg
		}
	}
	if last == nil {
		return model.Message{}, ErrNotFound
	}
	return *last, nil
}

func (m *Memory) MarkRead(ctx context.Context, senderID, receiverID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, msg := range m.messages {
		if msg.SenderID == senderID && msg.ReceiverID == receiverID && !msg.IsRead {
			msg.IsRead = true
			n++
		}
	}
	return n, nil
}

func (m *Memory) UnreadCount(ctx context.Context, senderID, receiverID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, msg := range m.messages {
		if msg.ReceiverID == receiverID && !msg.IsRead && (senderID == "" || msg.SenderID == senderID) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
