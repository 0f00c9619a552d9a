// Package remote is the HTTP/JSON client for the metadata service. Every
// call is a single request; retrying is left to the caller's scheduler.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/flavordex/flavorsync/internal/auth"
	"github.com/flavordex/flavorsync/internal/model"
)

// Sentinel errors for the HTTP error classes the sync engine reacts to.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
)

// SessionHeader carries the session token returned by StartSync.
const SessionHeader = "X-Sync-Session"

// Session identifies an open sync session.
type Session string

// Client talks to the metadata service.
type Client struct {
	baseURL string
	tokens  auth.TokenSource
	hc      *http.Client
	logger  *slog.Logger
}

// New returns a Client for the service at baseURL. A zero timeout leaves the
// HTTP client without a deadline.
func New(baseURL string, tokens auth.TokenSource, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		hc:      &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// StartResponse is the body of POST /v1/sync/start.
type StartResponse struct {
	Session string `json:"session"`
}

// PutResponse is the body of the upsert endpoints.
type PutResponse struct {
	Success bool `json:"success"`
}

// apiError is the standard error body from the service.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

// StartSync opens a sync session.
func (c *Client) StartSync(ctx context.Context) (Session, error) {
	var resp StartResponse
	if err := c.do(ctx, http.MethodPost, "/v1/sync/start", "", nil, &resp); err != nil {
		return "", err
	}
	if resp.Session == "" {
		return "", errors.New("start sync: empty session in response")
	}
	return Session(resp.Session), nil
}

// EndSync closes the session, recording the sync time on the service.
func (c *Client) EndSync(ctx context.Context, s Session) error {
	return c.do(ctx, http.MethodPost, "/v1/sync/end", s, nil, nil)
}

// PutCategory upserts a category record and reports whether the service
// accepted it.
func (c *Client) PutCategory(ctx context.Context, s Session, rec *model.CatRecord) (bool, error) {
	var resp PutResponse
	if err := c.do(ctx, http.MethodPut, "/v1/categories/"+url.PathEscape(rec.UUID), s, rec, &resp); err != nil {
		return false, err
	}
	return resp.Success, nil
}

// PutEntry upserts an entry record and reports whether the service accepted it.
func (c *Client) PutEntry(ctx context.Context, s Session, rec *model.EntryRecord) (bool, error) {
	var resp PutResponse
	if err := c.do(ctx, http.MethodPut, "/v1/entries/"+url.PathEscape(rec.UUID), s, rec, &resp); err != nil {
		return false, err
	}
	return resp.Success, nil
}

// GetUpdates returns the manifest of remote changes since this client's last
// completed sync.
func (c *Client) GetUpdates(ctx context.Context, s Session) (*model.Updates, error) {
	var resp model.Updates
	if err := c.do(ctx, http.MethodGet, "/v1/updates", s, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetCategory fetches one category record.
func (c *Client) GetCategory(ctx context.Context, s Session, uuid string) (*model.CatRecord, error) {
	var resp model.CatRecord
	if err := c.do(ctx, http.MethodGet, "/v1/categories/"+url.PathEscape(uuid), s, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetEntry fetches one entry record.
func (c *Client) GetEntry(ctx context.Context, s Session, uuid string) (*model.EntryRecord, error) {
	var resp model.EntryRecord
	if err := c.do(ctx, http.MethodGet, "/v1/entries/"+url.PathEscape(uuid), s, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RefreshCredentials discards the cached token and obtains a new one.
func (c *Client) RefreshCredentials(ctx context.Context) error {
	if _, err := c.tokens.Refresh(ctx); err != nil {
		return fmt.Errorf("refreshing credentials: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, s Session, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if s != "" {
		req.Header.Set(SessionHeader, string(s))
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	c.logger.Debug("remote call", "method", method, "path", path, "status", resp.StatusCode)

	if resp.StatusCode >= 400 {
		var apiErr apiError
		msg := strings.TrimSpace(string(respBody))
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Code != "" {
			msg = apiErr.Message
		}
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrNotFound, msg)
		}
		if apiErr.Code != "" {
			return fmt.Errorf("%s %s: %w", method, path, &apiErr)
		}
		return fmt.Errorf("%s %s: HTTP %d: %s", method, path, resp.StatusCode, msg)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}
