package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const maxErrorBody = 4096

// Client talks to the Concept Lab API over HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string
	readSize   int
	userAgent  string
	logger     *slog.Logger
}

// NewClient creates a client. No overall timeout is set on the HTTP client
// because chat responses are open-ended streams; only connection setup is
// bounded. Callers wanting a deadline pass one through the context.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultClientConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.ReadSize <= 0 {
		cfg.ReadSize = def.ReadSize
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext

	return &Client{
		httpClient: &http.Client{Transport: transport},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		readSize:   cfg.ReadSize,
		userAgent:  cfg.UserAgent,
		logger:     logger,
	}
}

// WithHTTPClient replaces the underlying HTTP client. Used by tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, string, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, "", fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set(RequestIDHeader, requestID)
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, requestID, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.closeBody(resp, path)
		c.logger.Warn("backend returned error status",
			"path", path,
			"status", resp.StatusCode,
			"request_id", requestID,
		)
		return nil, requestID, &StatusError{StatusCode: resp.StatusCode, Detail: errorDetail(b)}
	}
	return resp, requestID, nil
}

func (c *Client) closeBody(resp *http.Response, path string) {
	if err := resp.Body.Close(); err != nil {
		c.logger.Debug("failed to close response body", "path", path, "error", err)
	}
}

// OpenChat posts a chat message and returns the response stream once the
// headers arrived with a 2xx status.
func (c *Client) OpenChat(ctx context.Context, req ChatRequest) (*ChatStream, error) {
	resp, requestID, err := c.do(ctx, http.MethodPost, ChatPath, req)
	if err != nil {
		return nil, fmt.Errorf("chat: %w", err)
	}
	c.logger.Debug("chat stream opened",
		"request_id", requestID,
		"rag_mode", req.RAGMode,
		"content_type", resp.Header.Get("Content-Type"),
	)
	return newChatStream(resp.Body, requestID, c.readSize), nil
}

// SetContext creates a retrieval context from text or a URL.
func (c *Client) SetContext(ctx context.Context, req ContextRequest) (ContextResponse, error) {
	resp, _, err := c.do(ctx, http.MethodPost, SetContextPath, req)
	if err != nil {
		return ContextResponse{}, fmt.Errorf("set context: %w", err)
	}
	defer c.closeBody(resp, SetContextPath)

	var out ContextResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if errors.Is(err, io.EOF) {
			return ContextResponse{}, fmt.Errorf("set context: %w: empty body", ErrInvalidResponse)
		}
		return ContextResponse{}, fmt.Errorf("set context: %w: %w", ErrInvalidResponse, err)
	}
	if out.IndexName == "" {
		return ContextResponse{}, fmt.Errorf("set context: %w: missing index_name", ErrInvalidResponse)
	}
	return out, nil
}

// ClearContexts deletes every context on the server.
func (c *Client) ClearContexts(ctx context.Context) error {
	resp, _, err := c.do(ctx, http.MethodDelete, ClearContextsPath, nil)
	if err != nil {
		return fmt.Errorf("clear contexts: %w", err)
	}
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	c.closeBody(resp, ClearContextsPath)
	return nil
}
