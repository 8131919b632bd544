// Package transport issues authenticated HTTP requests to the chat service
// and normalizes their success and error shapes.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rpms-portal/messaging/pkg/logger"
)

const (
	// DefaultTimeout bounds every request so a hung call cannot leave a caller waiting forever.
	DefaultTimeout = 30 * time.Second

	maxResponseBytes = 16 << 20
)

// Client wraps the chat service REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	session    *Session
	limiter    *rate.Limiter
	tracer     trace.Tracer
	logger     *logger.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-request timeout. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRateLimit caps outgoing requests at rps with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(c *Client) {
		c.logger = log
	}
}

// New creates a client for the API rooted at baseURL, e.g. http://localhost:8080/api/v1.
func New(baseURL string, session *Session, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		session:    session,
		tracer:     otel.Tracer("github.com/rpms-portal/messaging/internal/transport"),
		logger:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.session == nil {
		c.session = NewSession("")
	}
	return c
}

// Session returns the session whose token is attached to requests.
func (c *Client) Session() *Session {
	return c.session
}

// Do sends a JSON request and decodes a JSON response into out.
// body and out may be nil.
func (c *Client) Do(ctx context.Context, method, endpoint string, query url.Values, body, out any) error {
	var reader io.Reader
	contentType := ""
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return Validation(fmt.Errorf("failed to marshal request body: %w", err))
		}
		reader = bytes.NewReader(data)
		contentType = "application/json"
	}
	return c.send(ctx, method, endpoint, query, reader, contentType, out)
}

// Upload posts a single file as multipart/form-data under field and decodes the JSON response into out.
func (c *Client) Upload(ctx context.Context, endpoint, field, filename, fileType string, content io.Reader, out any) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	if fileType == "" {
		fileType = "application/octet-stream"
	}
	header.Set("Content-Type", fileType)

	part, err := mw.CreatePart(header)
	if err != nil {
		return Validation(fmt.Errorf("failed to create multipart part: %w", err))
	}
	if _, err := io.Copy(part, content); err != nil {
		return Validation(fmt.Errorf("failed to read upload: %w", err))
	}
	if err := mw.Close(); err != nil {
		return Validation(fmt.Errorf("failed to finish multipart body: %w", err))
	}

	return c.send(ctx, http.MethodPost, endpoint, nil, &buf, mw.FormDataContentType(), out)
}

func (c *Client) send(ctx context.Context, method, endpoint string, query url.Values, body io.Reader, contentType string, out any) error {
	ctx, span := c.tracer.Start(ctx, method+" "+endpoint, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	err := c.roundTrip(ctx, method, endpoint, query, body, contentType, out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, endpoint string, query url.Values, body io.Reader, contentType string, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &Error{Kind: KindNetwork, Message: err.Error(), Err: err}
		}
	}

	target := c.baseURL + endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return Validation(fmt.Errorf("failed to create request: %w", err))
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if token := c.session.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("chat request failed",
			zap.String("method", method),
			zap.String("endpoint", endpoint),
			zap.Error(err),
		)
		return &Error{Kind: KindNetwork, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &Error{Kind: KindNetwork, Status: resp.StatusCode, Message: err.Error(), Err: err}
	}

	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	c.logger.Debug("chat request completed",
		zap.String("method", method),
		zap.String("endpoint", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	return decode(resp.StatusCode, data, out)
}

// decode maps a response onto out or onto an *Error.
func decode(status int, data []byte, out any) error {
	if status < 200 || status > 299 {
		var payload any
		if err := json.Unmarshal(data, &payload); err != nil {
			return genericServerError(status)
		}
		if m, ok := payload.(map[string]any); ok {
			if msg, ok := m["error"].(string); ok && msg != "" {
				return serverError(status, msg)
			}
		}
		return serverError(status, "An error occurred")
	}

	if out == nil {
		return nil
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return &Error{Kind: KindMalformed, Status: status, Message: "empty response body"}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &Error{Kind: KindMalformed, Status: status, Message: fmt.Sprintf("invalid response body: %v", err), Err: err}
	}
	return nil
}
