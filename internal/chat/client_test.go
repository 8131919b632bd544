package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rpms-portal/messaging/internal/model"
	"github.com/rpms-portal/messaging/internal/transport"
)

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return NewClient(transport.New(srv.URL, transport.NewSession("tok")), nil), &hits
}

func TestListContacts_NonArrayPayload(t *testing.T) {
	for _, body := range []string{`null`, `{"contacts":[]}`, `"nope"`, `42`} {
		t.Run(body, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(body))
			})
			contacts, err := c.ListContacts(context.Background())
			if err != nil {
				t.Fatalf("ListContacts: %v", err)
			}
			if contacts == nil || len(contacts) != 0 {
				t.Errorf("contacts = %#v, want empty non-nil slice", contacts)
			}
		})
	}
}

func TestListContacts_Decodes(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != PathContacts {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`[{"id":"e1","name":"Eve","email":"eve@x","role":"editor","avatar":"","unread_count":2,
			"last_message":{"id":"m1","sender_id":"e1","receiver_id":"a1","content":"","attachment_url":"u","attachment_name":"r.pdf","attachment_type":"application/pdf","attachment_size":10,"is_forwarded":false,"is_read":false,"created_at":"2024-01-02T10:00:00Z"}}]`))
	})
	contacts, err := c.ListContacts(context.Background())
	if err != nil {
		t.Fatalf("ListContacts: %v", err)
	}
	if len(contacts) != 1 {
		t.Fatalf("len = %d", len(contacts))
	}
	got := contacts[0]
	if got.UnreadCount != 2 || got.Role != model.RoleEditor {
		t.Errorf("contact = %+v", got)
	}
	if got.LastMessage == nil || got.LastMessage.Preview() != "[attachment] r.pdf" {
		t.Errorf("last message preview = %v", got.LastMessage)
	}
}

func TestListMessages_OrderedOldestFirst(t *testing.T) {
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("contact_id"); got != "e1" {
			t.Errorf("contact_id = %q", got)
		}
		msgs := []model.Message{
			{ID: "m3", Content: "c", CreatedAt: base.Add(2 * time.Minute)},
			{ID: "m1", Content: "a", CreatedAt: base},
			{ID: "m2", Content: "b", CreatedAt: base.Add(time.Minute)},
		}
		json.NewEncoder(w).Encode(msgs)
	})

	msgs, err := c.ListMessages(context.Background(), "e1")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	var ids []string
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	if strings.Join(ids, ",") != "m1,m2,m3" {
		t.Errorf("order = %v", ids)
	}
}

func TestSendMessage_RejectsEmptyWithoutNetwork(t *testing.T) {
	c, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	_, err := c.SendMessage(context.Background(), model.NewSendMessageRequest("e1", "   ", nil, "", false))
	if !errors.Is(err, model.ErrEmptyMessage) {
		t.Fatalf("err = %v, want ErrEmptyMessage", err)
	}
	if transport.KindOf(err) != transport.KindValidation {
		t.Errorf("kind = %v", transport.KindOf(err))
	}
	if atomic.LoadInt32(hits) != 0 {
		t.Errorf("server was called %d times", atomic.LoadInt32(hits))
	}
}

func TestSendMessage_ReplyAndForwardFlags(t *testing.T) {
	var got model.SendMessageRequest
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		reply := got.ReplyTo()
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(model.Message{
			ID: "m9", ReceiverID: got.ReceiverID, Content: got.Content,
			ReplyToMessageID: &reply, CreatedAt: time.Now(),
		})
	})

	msg, err := c.SendMessage(context.Background(), model.NewSendMessageRequest("e1", "Hello", nil, "R", false))
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if got.ReplyTo() != "R" || got.IsForwarded {
		t.Errorf("request = %+v", got)
	}
	if msg.ReplyToMessageID == nil || *msg.ReplyToMessageID != "R" || msg.IsForwarded {
		t.Errorf("message = %+v", msg)
	}
}

func TestUploadAttachment_TooLargeMakesNoRequest(t *testing.T) {
	c, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	up := Upload{
		Name:        "big.bin",
		ContentType: "application/octet-stream",
		Size:        model.MaxAttachmentSize + 1,
		Body:        bytes.NewReader(make([]byte, 16)),
	}
	_, err := c.UploadAttachment(context.Background(), up)
	if !errors.Is(err, model.ErrAttachmentTooLarge) {
		t.Fatalf("err = %v, want ErrAttachmentTooLarge", err)
	}
	if atomic.LoadInt32(hits) != 0 {
		t.Errorf("server was called %d times", atomic.LoadInt32(hits))
	}
}

func TestUploadAttachment_LyingSizeIsCaught(t *testing.T) {
	c, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	up := Upload{
		Name: "big.bin",
		Size: 10,
		Body: bytes.NewReader(make([]byte, model.MaxAttachmentSize+5)),
	}
	if _, err := c.UploadAttachment(context.Background(), up); !errors.Is(err, model.ErrAttachmentTooLarge) {
		t.Fatalf("err = %v, want ErrAttachmentTooLarge", err)
	}
	if atomic.LoadInt32(hits) != 0 {
		t.Errorf("server was called %d times", atomic.LoadInt32(hits))
	}
}

func TestUploadAttachment_EmptyFileMakesNoRequest(t *testing.T) {
	c, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	tests := []struct {
		name string
		up   Upload
	}{
		{"declared empty", Upload{Name: "empty.txt", Size: 0, Body: strings.NewReader("")}},
		{"declared size but no bytes", Upload{Name: "empty.txt", Size: 4, Body: strings.NewReader("")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.UploadAttachment(context.Background(), tt.up)
			if !errors.Is(err, model.ErrEmptyAttachment) || transport.KindOf(err) != transport.KindValidation {
				t.Fatalf("err = %v, want validation ErrEmptyAttachment", err)
			}
		})
	}
	if atomic.LoadInt32(hits) != 0 {
		t.Errorf("server was called %d times", atomic.LoadInt32(hits))
	}
}

func TestUploadAttachment_Success(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"url":"http://f/1","name":"a.png","type":"image/png","size":3}`))
	})

	att, err := c.UploadAttachment(context.Background(), Upload{Name: "a.png", ContentType: "image/png", Size: 3, Body: strings.NewReader("png")})
	if err != nil {
		t.Fatalf("UploadAttachment: %v", err)
	}
	if !att.Complete() || att.Kind() != model.AttachmentImage {
		t.Errorf("attachment = %+v", att)
	}
}

func TestUnreadCount(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"count":7}`))
	})
	n, err := c.UnreadCount(context.Background())
	if err != nil || n != 7 {
		t.Fatalf("UnreadCount = %d, %v", n, err)
	}
}

func TestOpenFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	up, f, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()
	if up.Name != "notes.txt" || up.Size != 5 || !strings.HasPrefix(up.ContentType, "text/plain") {
		t.Errorf("upload = %+v", up)
	}
}
