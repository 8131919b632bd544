// Package chattest provides an in-memory chat.API for tests.
package chattest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rpms-portal/messaging/internal/chat"
	"github.com/rpms-portal/messaging/internal/model"
	"github.com/rpms-portal/messaging/internal/transport"
)

// Fake is a chat.API backed by maps. Hooks, when set, replace the default
// behaviour of the matching method. All methods are safe for concurrent use.
type Fake struct {
	// Self is the sender id stamped on sent messages.
	Self string

	ListContactsFunc func(ctx context.Context) ([]model.Contact, error)
	ListMessagesFunc func(ctx context.Context, contactID string) ([]model.Message, error)
	SendFunc         func(ctx context.Context, req model.SendMessageRequest) (*model.Message, error)
	UploadFunc       func(ctx context.Context, up chat.Upload) (*model.Attachment, error)
	UnreadFunc       func(ctx context.Context) (int, error)

	mu       sync.Mutex
	contacts []model.Contact
	threads  map[string][]model.Message
	unread   int
	sent     []model.SendMessageRequest
	uploads  []chat.Upload
	calls    map[string]int
	nextID   int
	clock    time.Time
}

var _ chat.API = (*Fake)(nil)

// New creates a fake for the user self.
func New(self string) *Fake {
	return &Fake{
		Self:    self,
		threads: make(map[string][]model.Message),
		calls:   make(map[string]int),
		clock:   time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
	}
}

// SetContacts replaces the contact list.
func (f *Fake) SetContacts(contacts ...model.Contact) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contacts = append([]model.Contact(nil), contacts...)
}

// SetThread replaces the messages exchanged with contactID.
func (f *Fake) SetThread(contactID string, msgs ...model.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threads[contactID] = append([]model.Message(nil), msgs...)
}

// SetUnread sets the aggregate unread count.
func (f *Fake) SetUnread(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unread = n
}

// Sent returns every accepted send request in order.
func (f *Fake) Sent() []model.SendMessageRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.SendMessageRequest(nil), f.sent...)
}

// Uploads returns every upload received.
func (f *Fake) Uploads() []chat.Upload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chat.Upload(nil), f.uploads...)
}

// Calls reports how many times op was invoked. Ops are named after the
// API methods, with ListMessages counted per contact as "ListMessages:<id>".
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *Fake) count(ops ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, op := range ops {
		f.calls[op]++
	}
}

func (f *Fake) ListContacts(ctx context.Context) ([]model.Contact, error) {
	f.count("ListContacts")
	if f.ListContactsFunc != nil {
		return f.ListContactsFunc(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Contact{}, f.contacts...), nil
}

func (f *Fake) ListMessages(ctx context.Context, contactID string) ([]model.Message, error) {
	f.count("ListMessages", "ListMessages:"+contactID)
	if f.ListMessagesFunc != nil {
		return f.ListMessagesFunc(ctx, contactID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := append([]model.Message{}, f.threads[contactID]...)
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
	return msgs, nil
}

func (f *Fake) SendMessage(ctx context.Context, req model.SendMessageRequest) (*model.Message, error) {
	f.count("SendMessage")
	if err := req.Validate(); err != nil {
		return nil, transport.Validation(err)
	}
	if f.SendFunc != nil {
		msg, err := f.SendFunc(ctx, req)
		if err == nil {
			f.mu.Lock()
			f.sent = append(f.sent, req)
			f.mu.Unlock()
		}
		return msg, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.clock = f.clock.Add(time.Second)
	msg := model.Message{
		ID:          fmt.Sprintf("sent-%d", f.nextID),
		SenderID:    f.Self,
		ReceiverID:  req.ReceiverID,
		Content:     req.Content,
		Attachment:  req.Attachment(),
		IsForwarded: req.IsForwarded,
		CreatedAt:   f.clock,
	}
	if reply := req.ReplyTo(); reply != "" {
		msg.ReplyToMessageID = &reply
	}
	f.sent = append(f.sent, req)
	f.threads[req.ReceiverID] = append(f.threads[req.ReceiverID], msg)
	return &msg, nil
}

func (f *Fake) UploadAttachment(ctx context.Context, up chat.Upload) (*model.Attachment, error) {
	f.count("UploadAttachment")
	if err := up.Validate(); err != nil {
		return nil, transport.Validation(err)
	}
	f.mu.Lock()
	f.uploads = append(f.uploads, up)
	f.mu.Unlock()
	if f.UploadFunc != nil {
		return f.UploadFunc(ctx, up)
	}
	return &model.Attachment{
		URL:  "https://files.test/" + up.Name,
		Name: up.Name,
		Type: up.ContentType,
		Size: up.Size,
	}, nil
}

func (f *Fake) UnreadCount(ctx context.Context) (int, error) {
	f.count("UnreadCount")
	if f.UnreadFunc != nil {
		return f.UnreadFunc(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unread, nil
}
