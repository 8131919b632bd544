package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestClientDo_AttachesBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"count":3}`))
	}))
	defer srv.Close()

	session := NewSession("tok-1")
	c := New(srv.URL, session)

	var out struct {
		Count int `json:"count"`
	}
	if err := c.Do(context.Background(), http.MethodGet, "/chat/unread-count", nil, nil, &out); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if gotAuth != "Bearer tok-1" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer tok-1")
	}
	if out.Count != 3 {
		t.Errorf("count = %d, want 3", out.Count)
	}

	session.Clear()
	if err := c.Do(context.Background(), http.MethodGet, "/chat/unread-count", nil, nil, &out); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if gotAuth != "" {
		t.Errorf("Authorization after Clear = %q, want empty", gotAuth)
	}
}

func TestClientDo_QueryAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("contact_id"); got != "u 2" {
			t.Errorf("contact_id = %q", got)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["content"] != "hi" {
			t.Errorf("body content = %q", body["content"])
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", nil)
	var out map[string]bool
	err := c.Do(context.Background(), http.MethodPost, "/x", url.Values{"contact_id": {"u 2"}}, map[string]string{"content": "hi"}, &out)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if !out["ok"] {
		t.Errorf("out = %v", out)
	}
}

func TestClientDo_ErrorShapes(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantKind Kind
		wantMsg  string
	}{
		{
			name:     "server error passed through verbatim",
			status:   http.StatusForbidden,
			body:     `{"error":"you may not message this user"}`,
			wantKind: KindServer,
			wantMsg:  "you may not message this user",
		},
		{
			name:     "json without error field",
			status:   http.StatusBadRequest,
			body:     `{"detail":"x"}`,
			wantKind: KindServer,
			wantMsg:  "An error occurred",
		},
		{
			name:     "non-json error body",
			status:   http.StatusBadGateway,
			body:     `<html>bad gateway</html>`,
			wantKind: KindServer,
			wantMsg:  "Server error (502)",
		},
		{
			name:     "empty error body",
			status:   http.StatusInternalServerError,
			body:     ``,
			wantKind: KindServer,
			wantMsg:  "Server error (500)",
		},
		{
			name:     "malformed success body",
			status:   http.StatusOK,
			body:     `not json`,
			wantKind: KindMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			var out map[string]any
			err := New(srv.URL, nil).Do(context.Background(), http.MethodGet, "/", nil, nil, &out)
			if err == nil {
				t.Fatal("expected error")
			}
			var te *Error
			if !errors.As(err, &te) {
				t.Fatalf("error %T is not *Error", err)
			}
			if te.Kind != tt.wantKind {
				t.Errorf("kind = %v, want %v", te.Kind, tt.wantKind)
			}
			if tt.wantMsg != "" && te.Message != tt.wantMsg {
				t.Errorf("message = %q, want %q", te.Message, tt.wantMsg)
			}
			if tt.wantKind == KindServer && StatusOf(err) != tt.status {
				t.Errorf("status = %d, want %d", StatusOf(err), tt.status)
			}
		})
	}
}

func TestClientDo_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	err := New(addr, nil).Do(context.Background(), http.MethodGet, "/chat/contacts", nil, nil, nil)
	if KindOf(err) != KindNetwork {
		t.Fatalf("kind = %v, want network (err=%v)", KindOf(err), err)
	}
	if err.Error() == "" {
		t.Error("network error should carry the transport message")
	}
}

func TestClientUpload_Multipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if string(data) != "hello pdf" {
			t.Errorf("file content = %q", data)
		}
		if header.Filename != "paper.pdf" {
			t.Errorf("filename = %q", header.Filename)
		}
		if ct := header.Header.Get("Content-Type"); ct != "application/pdf" {
			t.Errorf("part Content-Type = %q", ct)
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"url":"http://files/1","name":"paper.pdf","type":"application/pdf","size":9}`))
	}))
	defer srv.Close()

	var out struct {
		URL  string `json:"url"`
		Size int64  `json:"size"`
	}
	err := New(srv.URL, nil).Upload(context.Background(), "/chat/upload", "file", "paper.pdf", "application/pdf", strings.NewReader("hello pdf"), &out)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if out.URL != "http://files/1" || out.Size != 9 {
		t.Errorf("out = %+v", out)
	}
}
