// Package api is the HTTP client for the chat service: file upload, chat
// submission, the chat event stream, reset, health and file serving.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	uploadPath      = "/api/pdf/upload"
	resetPath       = "/api/pdf/reset"
	filesPath       = "/api/pdf/files/"
	chatPath        = "/api/chat/"
	streamPath      = "/api/chat/stream/"
	healthPath      = "/api/health"
	maxErrorBody    = 64 << 10
	maxDocumentSize = 32 << 20
)

// Error is a non-success response from the service. Detail carries the
// server's "detail" field when it sent one.
// ErrDocumentTooLarge is returned by Fetch when a document exceeds the
// client's size limit.
var ErrDocumentTooLarge = errors.New("document too large")

type Error struct {
	Op         string
	StatusCode int
	Detail     string
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("%s failed (http %d)", e.Op, e.StatusCode)
}

type UploadResult struct {
	Filename string `json:"filename"`
	Status   string `json:"status"`
	URL      string `json:"url"`
}

type Client struct {
	base    string
	http    *http.Client
	stream  *http.Client
	timeout time.Duration
	log     *zap.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the transport used for every call.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
		c.stream = hc
	}
}

// WithTimeout bounds request/response calls. Streams are bounded only by
// their context.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("server url %q: scheme must be http or https", baseURL)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("server url %q: missing host", baseURL)
	}
	c := &Client{
		base:    strings.TrimRight(parsed.String(), "/"),
		http:    &http.Client{},
		stream:  &http.Client{},
		timeout: 30 * time.Second,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.Named("api")
	return c, nil
}

func (c *Client) BaseURL() string { return c.base }

// FileURL is the served location of an uploaded document.
func (c *Client) FileURL(name string) string {
	return c.base + filesPath + url.PathEscape(name)
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// Upload sends one file as the multipart "file" field.
func (c *Client) Upload(ctx context.Context, name string, content io.Reader) (UploadResult, error) {
	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		part, err := form.CreateFormFile("file", name)
		if err == nil {
			_, err = io.Copy(part, content)
		}
		if err == nil {
			err = form.Close()
		}
		pw.CloseWithError(err)
	}()

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+uploadPath, pr)
	if err != nil {
		_ = pr.CloseWithError(err)
		return UploadResult{}, err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	var out UploadResult
	if err := c.do(req, "upload", &out); err != nil {
		_ = pr.CloseWithError(err)
		return UploadResult{}, err
	}
	c.log.Debug("upload accepted", zap.String("file", name), zap.String("status", out.Status))
	return out, nil
}

// SubmitChat starts a job for query and returns its handle.
func (c *Client) SubmitChat(ctx context.Context, query, threadID string) (string, error) {
	body, _ := json.Marshal(map[string]string{
		"query":     query,
		"thread_id": threadID,
	})
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+chatPath, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	var out struct {
		JobID string `json:"job_id"`
	}
	if err := c.do(req, "chat", &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.JobID) == "" {
		return "", errors.New("chat service returned an empty job id")
	}
	return out.JobID, nil
}

// OpenStream subscribes to the event stream of a job. The caller owns the
// returned body and releases the subscription by closing it.
func (c *Client) OpenStream(ctx context.Context, jobID, threadID string) (io.ReadCloser, error) {
	endpoint := c.base + streamPath + url.PathEscape(jobID) + "?" + url.Values{"thread_id": {threadID}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, responseError("stream", resp)
	}
	c.log.Debug("stream opened", zap.String("job_id", jobID))
	return resp.Body, nil
}

// Reset asks the server to drop its document index.
func (c *Client) Reset(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+resetPath, nil)
	if err != nil {
		return err
	}
	return c.do(req, "reset", nil)
}

func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+healthPath, nil)
	if err != nil {
		return err
	}
	return c.do(req, "health", nil)
}

// Fetch downloads a served resource, usually one built by FileURL.
func (c *Client) Fetch(ctx context.Context, resource string) ([]byte, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resource, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch document: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, responseError("fetch", resp)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize+1))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: read body: %w", resource, err)
	}
	if len(data) > maxDocumentSize {
		return nil, fmt.Errorf("fetch %s: %w (limit %d bytes)", resource, ErrDocumentTooLarge, maxDocumentSize)
	}
	return data, nil
}

func (c *Client) do(req *http.Request, op string, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := responseError(op, resp)
		c.log.Warn("non-success response",
			zap.String("op", op),
			zap.Int("status", apiErr.StatusCode),
			zap.String("detail", apiErr.Detail))
		return apiErr
	}
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", op, err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("%s returned non-json payload: %w", op, err)
	}
	return nil
}

func responseError(op string, resp *http.Response) *Error {
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &Error{Op: op, StatusCode: resp.StatusCode, Detail: extractDetail(payload)}
}

// extractDetail reads FastAPI-style {"detail": ...}. Non-string details are
// flattened to one line.
func extractDetail(payload []byte) string {
	var body struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(payload, &body); err != nil || len(body.Detail) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(body.Detail, &text); err == nil {
		return strings.TrimSpace(text)
	}
	return compactSingleLine(string(body.Detail), 240)
}

func compactSingleLine(text string, limit int) string {
	compact := strings.Join(strings.Fields(text), " ")
	if len(compact) <= limit {
		return compact
	}
	if limit <= 3 {
		return compact[:limit]
	}
	return compact[:limit-3] + "..."
}
