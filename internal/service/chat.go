// Package service implements the chat service's business rules.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rpms-portal/messaging/internal/blob"
	"github.com/rpms-portal/messaging/internal/model"
	"github.com/rpms-portal/messaging/internal/store"
	"github.com/rpms-portal/messaging/pkg/logger"
	"github.com/rpms-portal/messaging/pkg/metrics"
)

var (
	// ErrInvalid marks requests rejected for their content.
	ErrInvalid = errors.New("invalid request")
	// ErrForbidden is returned when the role matrix does not allow the pair.
	ErrForbidden = errors.New("you are not allowed to message this user")
	// ErrNotFound is returned for unknown users, receivers or files.
	ErrNotFound = errors.New("not found")
)

// EventPublisher receives accepted messages. The NATS stream manager implements it.
type EventPublisher interface {
	PublishMessage(ctx context.Context, msg *model.Message) (uint64, error)
}

// ChatService handles contacts, threads, sends and uploads.
type ChatService struct {
	store   store.Store
	files   blob.Storage
	events  EventPublisher
	fileURL string
	logger  *logger.Logger
	now     func() time.Time
}

// NewChatService creates a chat service. events may be nil. fileURL is the
// public prefix under which uploaded files are served.
func NewChatService(st store.Store, files blob.Storage, events EventPublisher, fileURL string, log *logger.Logger) *ChatService {
	return &ChatService{
		store:   st,
		files:   files,
		events:  events,
		fileURL: strings.TrimRight(fileURL, "/"),
		logger:  log.Named("chat"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func invalid(err error) error {
	return fmt.Errorf("%w: %w", ErrInvalid, err)
}

// Contacts lists the users userID may message, ordered by name, each with
// its unread count and last message.
func (s *ChatService) Contacts(ctx context.Context, userID string) ([]model.Contact, error) {
	user, err := s.user(ctx, userID)
	if err != nil {
		return nil, err
	}

	contacts := []model.Contact{}
	roles := model.ContactRoles(user.Role)
	if len(roles) == 0 {
		s.logger.Debug("role has no contacts", zap.String("user_id", userID), zap.String("role", string(user.Role)))
		return contacts, nil
	}

	users, err := s.store.ListUsersByRoles(ctx, roles, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}

	for _, u := range users {
		c := model.ContactFromUser(u)
		if c.UnreadCount, err = s.store.UnreadCount(ctx, u.ID, userID); err != nil {
			return nil, fmt.Errorf("failed to count unread: %w", err)
		}
		last, err := s.store.LastMessage(ctx, u.ID, userID)
		switch {
		case err == nil:
			s.name(&last, user, u)
			c.LastMessage = &last
		case !errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("failed to get last message: %w", err)
		}
		contacts = append(contacts, c)
	}
	return contacts, nil
}

// Messages returns the thread between userID and contactID, oldest first,
// after marking the contact's messages to userID as read.
func (s *ChatService) Messages(ctx context.Context, userID, contactID string) ([]model.Message, error) {
	if strings.TrimSpace(contactID) == "" {
		return nil, invalid(errors.New("contact_id is required"))
	}
	user, err := s.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	contact, err := s.store.GetUser(ctx, contactID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("contact %w", ErrNotFound)
		}
		return nil, err
	}

	marked, err := s.store.MarkRead(ctx, contactID, userID)
	if err != nil {
		s.logger.Warn("failed to mark messages read", zap.String("contact_id", contactID), zap.Error(err))
	} else if marked > 0 {
		s.logger.Debug("marked messages read", zap.String("contact_id", contactID), zap.Int64("count", marked))
	}

	msgs, err := s.store.Conversation(ctx, userID, contactID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	for i := range msgs {
		s.name(&msgs[i], user, contact)
	}
	return msgs, nil
}

// Send stores a message from senderID.
func (s *ChatService) Send(ctx context.Context, senderID string, req model.SendMessageRequest) (*model.Message, error) {
	req.Content = strings.TrimSpace(req.Content)
	if err := req.Validate(); err != nil {
		return nil, invalid(err)
	}

	sender, err := s.user(ctx, senderID)
	if err != nil {
		return nil, err
	}
	receiver, err := s.store.GetUser(ctx, req.ReceiverID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("receiver %w", ErrNotFound)
		}
		return nil, err
	}
	if !model.CanMessage(sender.Role, receiver.Role) {
		return nil, ErrForbidden
	}

	msg := &model.Message{
		ID:          uuid.Must(uuid.NewV7()).String(),
		SenderID:    sender.ID,
		ReceiverID:  receiver.ID,
		Content:     req.Content,
		Attachment:  req.Attachment(),
		IsForwarded: req.IsForwarded,
		CreatedAt:   s.now(),
	}
	if replyTo := req.ReplyTo(); replyTo != "" {
		parent, err := s.store.GetMessage(ctx, replyTo)
		if err != nil || !sameThread(&parent, sender.ID, receiver.ID) {
			return nil, invalid(errors.New("reply target is not in this conversation"))
		}
		msg.ReplyToMessageID = &replyTo
	}

	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}
	s.name(msg, sender, receiver)

	kind := "text"
	if msg.Attachment != nil {
		kind = string(msg.Attachment.Kind())
	}
	metrics.MessagesTotal.WithLabelValues(string(sender.Role), kind).Inc()

	if s.events != nil {
		if _, err := s.events.PublishMessage(ctx, msg); err != nil {
			s.logger.Warn("failed to publish message event", zap.String("message_id", msg.ID), zap.Error(err))
		}
	}

	s.logger.Debug("message sent",
		zap.String("message_id", msg.ID),
		zap.String("sender_id", msg.SenderID),
		zap.String("receiver_id", msg.ReceiverID),
		zap.Bool("forwarded", msg.IsForwarded),
	)
	return msg, nil
}

// UnreadCount returns the number of unread messages addressed to userID.
func (s *ChatService) UnreadCount(ctx context.Context, userID string) (int, error) {
	if _, err := s.user(ctx, userID); err != nil {
		return 0, err
	}
	n, err := s.store.UnreadCount(ctx, "", userID)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread: %w", err)
	}
	return n, nil
}

// Upload stores a file and returns the attachment tuple for it.
func (s *ChatService) Upload(ctx context.Context, name, contentType string, r io.Reader) (*model.Attachment, error) {
	if strings.TrimSpace(name) == "" {
		return nil, invalid(errors.New("file name is required"))
	}
	obj, err := s.files.Put(ctx, name, r)
	if err != nil {
		if errors.Is(err, blob.ErrTooLarge) {
			return nil, invalid(model.ErrAttachmentTooLarge)
		}
		if errors.Is(err, blob.ErrEmpty) {
			return nil, invalid(model.ErrEmptyAttachment)
		}
		return nil, fmt.Errorf("failed to store file: %w", err)
	}
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = obj.ContentType
	}
	metrics.AttachmentBytes.Observe(float64(obj.Size))

	return &model.Attachment{
		URL:  s.fileURL + "/" + obj.Key,
		Name: name,
		Type: contentType,
		Size: obj.Size,
	}, nil
}

// OpenFile returns a previously uploaded file.
func (s *ChatService) OpenFile(ctx context.Context, key string) (io.ReadCloser, blob.Object, error) {
	rc, obj, err := s.files.Open(ctx, key)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, blob.Object{}, fmt.Errorf("file %w", ErrNotFound)
	}
	return rc, obj, err
}

func (s *ChatService) user(ctx context.Context, id string) (model.User, error) {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.User{}, fmt.Errorf("user %w", ErrNotFound)
		}
		return model.User{}, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// name fills the display names of msg from the two participants.
func (s *ChatService) name(msg *model.Message, a, b model.User) {
	for _, u := range []model.User{a, b} {
		if msg.SenderID == u.ID {
			msg.SenderName = u.Name
		}
		if msg.ReceiverID == u.ID {
			msg.ReceiverName = u.Name
		}
	}
}

func sameThread(msg *model.Message, a, b string) bool {
	return (msg.SenderID == a && msg.ReceiverID == b) || (msg.SenderID == b && msg.ReceiverID == a)
}
