package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rpms-portal/messaging/internal/blob"
	"github.com/rpms-portal/messaging/internal/model"
	"github.com/rpms-portal/messaging/internal/store"
	"github.com/rpms-portal/messaging/pkg/logger"
)

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []*model.Message
}

func (p *recordingPublisher) PublishMessage(ctx context.Context, msg *model.Message) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return uint64(len(p.msgs)), nil
}

func newService(t *testing.T) (*ChatService, *recordingPublisher) {
	t.Helper()
	st := store.NewMemory(
		model.User{ID: "a1", Name: "Ann", Role: model.RoleAuthor},
		model.User{ID: "e1", Name: "Eve", Role: model.RoleEditor},
		model.User{ID: "c1", Name: "Carl", Role: model.RoleCoordinator},
		model.User{ID: "d1", Name: "Dana", Role: model.RoleAdmin},
		model.User{ID: "x1", Name: "Xavier", Role: "guest"},
	)
	files, err := blob.NewLocal(t.TempDir(), 16)
	if err != nil {
		t.Fatal(err)
	}
	pub := &recordingPublisher{}
	return NewChatService(st, files, pub, "http://files.test/api/v1/chat/files/", logger.Nop()), pub
}

func text(to, content string) model.SendMessageRequest {
	return model.NewSendMessageRequest(to, content, nil, "", false)
}

func TestContacts_RoleMatrix(t *testing.T) {
	svc, _ := newService(t)
	tests := []struct {
		user string
		want string
	}{
		{"a1", "Carl,Eve"},
		{"e1", "Ann,Carl,Dana"},
		{"c1", "Ann,Dana,Eve"},
		{"d1", "Carl,Eve"},
		{"x1", ""},
	}
	for _, tt := range tests {
		t.Run(tt.user, func(t *testing.T) {
			contacts, err := svc.Contacts(context.Background(), tt.user)
			if err != nil {
				t.Fatalf("Contacts: %v", err)
			}
			var names []string
			for _, c := range contacts {
				names = append(names, c.Name)
			}
			if got := strings.Join(names, ","); got != tt.want {
				t.Errorf("contacts = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSend_Rules(t *testing.T) {
	svc, pub := newService(t)
	ctx := context.Background()

	if _, err := svc.Send(ctx, "a1", text("d1", "hi admin")); !errors.Is(err, ErrForbidden) {
		t.Errorf("author to admin: err = %v, want ErrForbidden", err)
	}
	if _, err := svc.Send(ctx, "a1", text("ghost", "hi")); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown receiver: err = %v, want ErrNotFound", err)
	}
	if _, err := svc.Send(ctx, "a1", text("e1", "  ")); !errors.Is(err, ErrInvalid) || !errors.Is(err, model.ErrEmptyMessage) {
		t.Errorf("empty: err = %v, want ErrInvalid wrapping ErrEmptyMessage", err)
	}

	first, err := svc.Send(ctx, "a1", text("e1", " hello "))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if first.Content != "hello" || first.IsRead || first.SenderName != "Ann" || first.ReceiverName != "Eve" {
		t.Errorf("message = %+v", first)
	}

	// Replies must stay within the same pair.
	other, err := svc.Send(ctx, "c1", text("e1", "side thread"))
	if err != nil {
		t.Fatal(err)
	}
	bad := model.NewSendMessageRequest("e1", "re", nil, other.ID, false)
	if _, err := svc.Send(ctx, "a1", bad); !errors.Is(err, ErrInvalid) {
		t.Errorf("foreign reply: err = %v, want ErrInvalid", err)
	}
	good := model.NewSendMessageRequest("a1", "re", nil, first.ID, false)
	reply, err := svc.Send(ctx, "e1", good)
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if reply.ReplyToMessageID == nil || *reply.ReplyToMessageID != first.ID {
		t.Errorf("reply_to = %v", reply.ReplyToMessageID)
	}

	if len(pub.msgs) != 3 {
		t.Errorf("published %d events, want 3", len(pub.msgs))
	}
}

func TestMessages_MarksRead(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	for _, c := range []string{"one", "two"} {
		if _, err := svc.Send(ctx, "e1", text("a1", c)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := svc.Send(ctx, "a1", text("e1", "three")); err != nil {
		t.Fatal(err)
	}

	if n, _ := svc.UnreadCount(ctx, "a1"); n != 2 {
		t.Errorf("unread before = %d, want 2", n)
	}
	contacts, _ := svc.Contacts(ctx, "a1")
	for _, c := range contacts {
		if c.ID == "e1" && (c.UnreadCount != 2 || c.LastMessage == nil || c.LastMessage.Content != "three") {
			t.Errorf("contact e1 = %+v", c)
		}
	}

	msgs, err := svc.Messages(ctx, "a1", "e1")
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 3 || msgs[0].Content != "one" || msgs[2].Content != "three" {
		t.Errorf("thread = %+v", msgs)
	}
	if n, _ := svc.UnreadCount(ctx, "a1"); n != 0 {
		t.Errorf("unread after = %d, want 0", n)
	}
	if n, _ := svc.UnreadCount(ctx, "e1"); n != 1 {
		t.Errorf("e1 unread = %d, want 1 (reading is one-sided)", n)
	}

	if _, err := svc.Messages(ctx, "a1", ""); !errors.Is(err, ErrInvalid) {
		t.Errorf("err = %v, want ErrInvalid", err)
	}
}

func TestUpload(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	att, err := svc.Upload(ctx, "note.json", "", strings.NewReader("{}\n\n\n"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if !att.Complete() || att.Size != 5 || att.Type != "application/json" {
		t.Errorf("attachment = %+v", att)
	}
	if !strings.HasPrefix(att.URL, "http://files.test/api/v1/chat/files/") {
		t.Errorf("url = %q", att.URL)
	}

	key := att.URL[strings.LastIndex(att.URL, "/")+1:]
	rc, _, err := svc.OpenFile(ctx, key)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	rc.Close()

	if _, err := svc.Upload(ctx, "big.bin", "", strings.NewReader(strings.Repeat("x", 17))); !errors.Is(err, model.ErrAttachmentTooLarge) {
		t.Errorf("err = %v, want ErrAttachmentTooLarge", err)
	}
	if _, err := svc.Upload(ctx, "empty.txt", "", strings.NewReader("")); !errors.Is(err, ErrInvalid) || !errors.Is(err, model.ErrEmptyAttachment) {
		t.Errorf("err = %v, want ErrInvalid wrapping ErrEmptyAttachment", err)
	}
	if _, _, err := svc.OpenFile(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
