package handler

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/rpms-portal/messaging/internal/middleware"
	"github.com/rpms-portal/messaging/internal/model"
	"github.com/rpms-portal/messaging/internal/service"
	"github.com/rpms-portal/messaging/pkg/logger"
)

const (
	maxJSONBody = 1 << 20
	uploadField = "file"
)

// ChatHandler handles the /chat endpoints.
type ChatHandler struct {
	chat      *service.ChatService
	maxUpload int64
	logger    *logger.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(chat *service.ChatService, maxUpload int64, log *logger.Logger) *ChatHandler {
	return &ChatHandler{
		chat:      chat,
		maxUpload: maxUpload,
		logger:    log,
	}
}

// Routes mounts the authenticated chat routes.
func (h *ChatHandler) Routes(r chi.Router) {
	r.Get("/contacts", h.Contacts)
	r.Get("/messages", h.Messages)
	r.Post("/send", h.Send)
	r.Post("/upload", h.Upload)
	r.Get("/unread-count", h.UnreadCount)
}

// Contacts handles GET /chat/contacts
func (h *ChatHandler) Contacts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	contacts, err := h.chat.Contacts(ctx, middleware.GetUserID(ctx))
	if err != nil {
		h.fail(w, r, err, "failed to fetch contacts")
		return
	}
	writeJSON(w, http.StatusOK, contacts)
}

// Messages handles GET /chat/messages?contact_id=
func (h *ChatHandler) Messages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	contactID := r.URL.Query().Get("contact_id")
	if err := middleware.ValidateUserID(contactID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msgs, err := h.chat.Messages(ctx, middleware.GetUserID(ctx), contactID)
	if err != nil {
		h.fail(w, r, err, "failed to fetch messages")
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// Send handles POST /chat/send
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.SendMessageRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if reply := req.ReplyTo(); reply != "" {
		if err := middleware.ValidateMessageID(reply); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	msg, err := h.chat.Send(ctx, middleware.GetUserID(ctx), req)
	if err != nil {
		h.fail(w, r, err, "failed to send message")
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// Upload handles POST /chat/upload (multipart, field "file"). The part is
// streamed to storage without buffering the whole request.
func (h *ChatHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+maxJSONBody)

	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart/form-data")
		return
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			writeError(w, http.StatusBadRequest, "file is required")
			return
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid multipart body")
			return
		}
		if part.FormName() != uploadField || part.FileName() == "" {
			part.Close()
			continue
		}

		att, err := h.chat.Upload(ctx, part.FileName(), part.Header.Get("Content-Type"), part)
		part.Close()
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				writeError(w, http.StatusBadRequest, model.ErrAttachmentTooLarge.Error())
				return
			}
			h.fail(w, r, err, "failed to upload file")
			return
		}
		writeJSON(w, http.StatusCreated, att)
		return
	}
}

// UnreadCount handles GET /chat/unread-count
func (h *ChatHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	n, err := h.chat.UnreadCount(ctx, middleware.GetUserID(ctx))
	if err != nil {
		h.fail(w, r, err, "failed to count unread messages")
		return
	}
	writeJSON(w, http.StatusOK, model.UnreadCountResponse{Count: n})
}

// File handles GET /chat/files/{key}
func (h *ChatHandler) File(w http.ResponseWriter, r *http.Request) {
	rc, obj, err := h.chat.OpenFile(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		h.fail(w, r, err, "failed to open file")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": obj.Key}))
	w.Header().Set("Cache-Control", "private, max-age=86400")
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Debug("file download interrupted", zap.String("key", obj.Key), zap.Error(err))
	}
}

// fail maps service errors to status codes. Unexpected errors are logged and
// replaced by fallback.
func (h *ChatHandler) fail(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		middleware.RequestLogger(r.Context(), h.logger).Error(fallback, zap.Error(err))
		writeError(w, http.StatusInternalServerError, fallback)
	}
}
