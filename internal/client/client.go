// Package client talks to the remote chat service: session listing,
// message history and streamed chat responses.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/strrl/mathchat/internal/capture"
	"github.com/strrl/mathchat/internal/config"
	"github.com/strrl/mathchat/internal/stream"
	"github.com/strrl/mathchat/pkg/models"
)

const (
	JSONContentType = "application/json"

	tracerName   = "github.com/strrl/mathchat/internal/client"
	maxErrorBody = 4 << 10
)

// APIError is returned for non-2xx responses
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api request failed: status code %d, body %q", e.StatusCode, e.Body)
}

// Starter is implemented by observers that want to know when the response
// headers of a chat request have arrived, before the first snapshot.
type Starter interface {
	OnStart()
}

// Client is safe for concurrent use
type Client struct {
	baseURL    string
	captureDir string
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger used at failure sites
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a client for cfg.BaseURL
func New(cfg *config.Config, opts ...Option) *Client {
	c := &Client{
		baseURL:    cfg.BaseURL,
		captureDir: cfg.CaptureDir,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     slog.Default(),
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListSessions fetches the remote session list
func (c *Client) ListSessions(ctx context.Context) ([]models.ChatSessionRef, error) {
	ctx, span := c.tracer.Start(ctx, "chat.list_sessions")
	defer span.End()

	var sessions []models.ChatSessionRef
	if err := c.getJSON(ctx, "/chat-session", &sessions); err != nil {
		recordError(span, err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("sessions", len(sessions)))
	return sessions, nil
}

type wireMessage struct {
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

// FetchMessages fetches the history of a session in the order the service
// returns it, newest first.
func (c *Client) FetchMessages(ctx context.Context, chatID int64) ([]models.ChatMessage, error) {
	ctx, span := c.tracer.Start(ctx, "chat.fetch_messages",
		trace.WithAttributes(attribute.Int64("chat_id", chatID)))
	defer span.End()

	var wire []wireMessage
	path := "/message?chat_id=" + url.QueryEscape(strconv.FormatInt(chatID, 10))
	if err := c.getJSON(ctx, path, &wire); err != nil {
		recordError(span, err)
		return nil, err
	}

	messages := make([]models.ChatMessage, 0, len(wire))
	for _, w := range wire {
		messages = append(messages, models.ChatMessage{
			Sender:    models.Sender(w.Sender),
			Content:   w.Content,
			CreatedAt: parseTimestamp(w.CreatedAt),
		})
	}

	span.SetAttributes(attribute.Int("messages", len(messages)))
	return messages, nil
}

type chatRequest struct {
	ChatID  *int64 `json:"chat_id"`
	Message string `json:"message"`
}

// SendChat posts message to the session chatID (nil starts a new session)
// and ingests the streamed reply, forwarding snapshots to obs. The result
// holds whatever was received even when an error is returned.
func (c *Client) SendChat(ctx context.Context, chatID *int64, message string, obs stream.Observer) (stream.Result, error) {
	requestID := uuid.NewString()
	ctx, span := c.tracer.Start(ctx, "chat.send",
		trace.WithAttributes(attribute.String("request_id", requestID)))
	defer span.End()

	logger := c.logger.With("request_id", requestID)

	reqBytes, err := json.Marshal(chatRequest{ChatID: chatID, Message: message})
	if err != nil {
		return stream.Result{}, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(reqBytes))
	if err != nil {
		logger.Error("Failed to build chat request", "error", err)
		return stream.Result{}, err
	}
	req.Header.Set("Content-Type", JSONContentType)

	res, err := c.httpClient.Do(req)
	if err != nil {
		logger.Error("Failed to send chat request", "error", err)
		recordError(span, err)
		return stream.Result{}, fmt.Errorf("failed to send chat request: %w", err)
	}
	defer res.Body.Close()

	if err := checkStatus(res); err != nil {
		logger.Error("Chat request rejected", "error", err)
		recordError(span, err)
		return stream.Result{}, err
	}

	if s, ok := obs.(Starter); ok {
		s.OnStart()
	}

	opts := []stream.Option{stream.WithLogger(logger)}
	if c.captureDir != "" {
		f, err := capture.Create(c.captureDir)
		if err != nil {
			logger.Warn("Stream capture disabled for this request", "error", err)
		} else {
			defer f.Close()
			logger.Debug("Capturing stream", "capture_id", f.ID)
			opts = append(opts, stream.WithTap(f))
		}
	}

	result, err := stream.NewIngestor(opts...).Ingest(ctx, res.Body, obs)
	span.SetAttributes(
		attribute.Int("fragments", result.Fragments),
		attribute.Int("malformed_lines", result.Malformed),
	)
	if result.ChatID != nil {
		span.SetAttributes(attribute.Int64("chat_id", *result.ChatID))
	}
	if err != nil {
		recordError(span, err)
		return result, err
	}

	logger.Info("Chat response received",
		"fragments", result.Fragments,
		"malformed_lines", result.Malformed,
		"done", result.Done,
	)
	return result, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		c.logger.Error("Failed to build request", "path", path, "error", err)
		return err
	}
	req.Header.Set("Accept", JSONContentType)

	res, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Failed to send request", "path", path, "error", err)
		return fmt.Errorf("failed to fetch %s: %w", path, err)
	}
	defer res.Body.Close()

	if err := checkStatus(res); err != nil {
		c.logger.Error("Request rejected", "path", path, "error", err)
		return err
	}

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		c.logger.Error("Failed to decode response body", "path", path, "error", err)
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

func checkStatus(res *http.Response) error {
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
	return &APIError{StatusCode: res.StatusCode, Body: string(body)}
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

// parseTimestamp accepts RFC3339 and the naive isoformat variants; anything
// else becomes the zero time.
func parseTimestamp(s string) time.Time {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
