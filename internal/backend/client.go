package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"NexusChat/internal/conversation"
)

// Remote operation names, used for spans, logs and errors
const (
	OpListChats     = "list_chats"
	OpCreateChat    = "create_chat"
	OpFetchMessages = "fetch_messages"
	OpUploadFile    = "upload_file"
	OpSubmitQuery   = "submit_query"
)

// ErrRequestFailed matches every failure returned by Client
var ErrRequestFailed = errors.New("request failed")

// RequestFailedError is the single failure kind of the gateway. Transport
// errors, non-2xx statuses and undecodable bodies all end up here with only a
// human-readable message.
type RequestFailedError struct {
	Op      string
	Message string
}

func (e *RequestFailedError) Error() string {
	return e.Message
}

// Is reports whether target is ErrRequestFailed
func (e *RequestFailedError) Is(target error) bool {
	return target == ErrRequestFailed
}

func requestFailed(op string, format string, args ...any) error {
	return &RequestFailedError{Op: op, Message: fmt.Sprintf(format, args...)}
}

// Client wraps the five remote chat operations. It owns HTTP semantics only
// and keeps no conversation state.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
	duration   metric.Float64Histogram
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithHTTPClient replaces the default http.Client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithTracer sets the tracer used for per-request spans
func WithTracer(tracer trace.Tracer) ClientOption {
	return func(c *Client) {
		c.tracer = tracer
	}
}

// WithMeter sets the meter used for request duration metrics
func WithMeter(meter metric.Meter) ClientOption {
	return func(c *Client) {
		c.duration = newDurationHistogram(meter)
	}
}

func newDurationHistogram(meter metric.Meter) metric.Float64Histogram {
	histogram, err := meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
	)
	if err != nil {
		return nil
	}
	return histogram
}

// NewClient creates a gateway for the service rooted at baseURL
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		logger:     slog.Default(),
		tracer:     otel.Tracer("chat_gateway"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.duration == nil {
		c.duration = newDurationHistogram(otel.Meter("chat_gateway"))
	}
	return c, nil
}

// ListChats calls GET /chat/fetch_chat_list/
func (c *Client) ListChats(ctx context.Context) ([]ChatRecord, error) {
	var chats []ChatRecord
	if err := c.doJSON(ctx, OpListChats, http.MethodGet, "/chat/fetch_chat_list/", nil, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

// CreateChat calls POST /chat/new_chat/
func (c *Client) CreateChat(ctx context.Context, title string) (ChatRecord, error) {
	var chat ChatRecord
	if err := c.doJSON(ctx, OpCreateChat, http.MethodPost, "/chat/new_chat/", CreateChatRequest{Title: title}, &chat); err != nil {
		return ChatRecord{}, err
	}
	return chat, nil
}

// FetchMessages calls GET /chat/fetch_messages/{chatId}/
func (c *Client) FetchMessages(ctx context.Context, chatID conversation.ID) (MessageList, error) {
	var messages MessageList
	path := "/chat/fetch_messages/" + url.PathEscape(chatID.String()) + "/"
	if err := c.doJSON(ctx, OpFetchMessages, http.MethodGet, path, nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// SubmitQuery calls POST /chat/query/{chatId}/
func (c *Client) SubmitQuery(ctx context.Context, chatID conversation.ID, query string) (QueryResponse, error) {
	var reply QueryResponse
	path := "/chat/query/" + url.PathEscape(chatID.String()) + "/"
	if err := c.doJSON(ctx, OpSubmitQuery, http.MethodPost, path, QueryRequest{Query: query}, &reply); err != nil {
		return QueryResponse{}, err
	}
	return reply, nil
}

// UploadFile calls POST /chat/upload_files/{chatId}/ with a multipart "file"
// field. The body is streamed from r as the request is sent.
func (c *Client) UploadFile(ctx context.Context, chatID conversation.ID, filename string, r io.Reader) (UploadAck, error) {
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	copyErr := make(chan error, 1)
	go func() {
		err := writeFormFile(writer, filename, r)
		if err != nil {
			pw.CloseWithError(err)
		} else {
			pw.Close()
		}
		copyErr <- err
	}()

	path := "/chat/upload_files/" + url.PathEscape(chatID.String()) + "/"
	var ack UploadAck
	err := c.do(ctx, OpUploadFile, http.MethodPost, path, writer.FormDataContentType(), pr, &ack)
	// unblocks the writer if the request ended before the body was consumed
	pr.Close()
	if werr := <-copyErr; werr != nil && err != nil && !errors.Is(werr, io.ErrClosedPipe) {
		return nil, requestFailed(OpUploadFile, "failed to read file: %v", werr)
	}
	if err != nil {
		return nil, err
	}
	return ack, nil
}

func writeFormFile(writer *multipart.Writer, filename string, r io.Reader) error {
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, r); err != nil {
		return err
	}
	return writer.Close()
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		jsonData, err := json.Marshal(in)
		if err != nil {
			return requestFailed(op, "failed to marshal request: %v", err)
		}
		body = bytes.NewReader(jsonData)
		contentType = "application/json"
	}
	return c.do(ctx, op, method, path, contentType, body, out)
}

// do performs one request and decodes a 2xx body into out
func (c *Client) do(ctx context.Context, op, method, path, contentType string, body io.Reader, out any) (err error) {
	ctx, span := c.tracer.Start(ctx, "chat_gateway."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.path", path),
		),
	)
	start := time.Now()
	defer func() {
		if c.duration != nil {
			c.duration.Record(ctx, float64(time.Since(start).Milliseconds()),
				metric.WithAttributes(attribute.String("op", op)))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.logger.Warn("chat gateway request failed", "op", op, "path", path, "error", err)
		} else {
			c.logger.Debug("chat gateway request completed", "op", op, "path", path, "duration", time.Since(start))
		}
		span.End()
	}()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return requestFailed(op, "failed to create request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if op == OpSubmitQuery {
		req.Header.Set("Idempotency-Key", uuid.NewString())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return requestFailed(op, "failed to send request: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return requestFailed(op, "failed to read response: %v", err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return requestFailed(op, "API error: %s - %s", resp.Status, strings.TrimSpace(string(respBody)))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return requestFailed(op, "failed to unmarshal response: %v", err)
	}
	return nil
}
