package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/rpms-portal/messaging/internal/model"
)

const (
	// StreamName is the JetStream stream holding chat events.
	StreamName = "CHAT"

	// SubjectPrefix is the prefix for all chat subjects.
	SubjectPrefix = "chat"
)

// MessageEvent is published whenever the service accepts a message.
type MessageEvent struct {
	Type    string         `json:"type"`
	Message *model.Message `json:"message"`
	SentAt  time.Time      `json:"sent_at"`
}

// StreamManager handles JetStream stream operations.
type StreamManager struct {
	client *Client
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client}
}

// EnsureStream creates the chat stream if it does not exist.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	if _, err := js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	_, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      30 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Direct message events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// MessageSubject returns the subject for messages delivered to receiverID.
func MessageSubject(receiverID string) string {
	return fmt.Sprintf("%s.user.%s.msg", SubjectPrefix, receiverID)
}

// UserFilter returns the filter subject for everything addressed to userID.
func UserFilter(userID string) string {
	return fmt.Sprintf("%s.user.%s.>", SubjectPrefix, userID)
}

// PublishMessage publishes a message-created event and returns its stream sequence.
func (m *StreamManager) PublishMessage(ctx context.Context, msg *model.Message) (uint64, error) {
	data, err := json.Marshal(MessageEvent{
		Type:    "message.created",
		Message: msg,
		SentAt:  msg.CreatedAt,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal message: %w", err)
	}

	ack, err := m.client.JetStream().Publish(ctx, MessageSubject(msg.ReceiverID), data,
		jetstream.WithMsgID(msg.ID))
	if err != nil {
		return 0, fmt.Errorf("failed to publish message: %w", err)
	}
	return ack.Sequence, nil
}
