// Package peer is the HTTP client servers use to talk to each other.
package peer

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

	"github.com/heartmarshall/fedrecords/internal/domain"
)

const (
	defaultTimeout = 30 * time.Second
	// maxErrorBody bounds how much of a failed response is read for its message.
	maxErrorBody = 4 << 10
)

// Client calls the /api endpoints of peer servers. It never retries.
type Client struct {
	httpClient *http.Client
	log        *slog.Logger
}

// NewClient creates a Client with the given request timeout. A zero
// timeout uses the default.
func NewClient(logger *slog.Logger, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return NewClientWithHTTP(&http.Client{Timeout: timeout}, logger)
}

// NewClientWithHTTP creates a Client on top of an existing http.Client.
func NewClientWithHTTP(httpClient *http.Client, logger *slog.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		log:        logger.With("adapter", "peer"),
	}
}

// Identity fetches the identity of the server at baseURL.
func (c *Client) Identity(ctx context.Context, baseURL string) (domain.Identity, error) {
	var ident domain.Identity
	err := c.do(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/api/identity", "", nil, &ident)
	return ident, err
}

// Invite follows an invite link.
func (c *Client) Invite(ctx context.Context, inviteURL string) (*domain.InviteGrant, error) {
	var grant domain.InviteGrant
	if err := c.do(ctx, http.MethodGet, inviteURL, "", nil, &grant); err != nil {
		return nil, err
	}
	return &grant, nil
}

// InitialSync downloads the full content of a share.
func (c *Client) InitialSync(ctx context.Context, baseURL, shareID, token string, req domain.SyncRequest) (*domain.InitialSync, error) {
	var out domain.InitialSync
	if err := c.do(ctx, http.MethodPost, syncURL(baseURL, shareID, "initial"), token, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// IncrementalSync downloads the updates of a share logged after since.
func (c *Client) IncrementalSync(ctx context.Context, baseURL, shareID, token, since string, req domain.SyncRequest) (*domain.IncrementalSync, error) {
	u := syncURL(baseURL, shareID, "incremental")
	if since != "" {
		u += "?since=" + url.QueryEscape(since)
	}
	var out domain.IncrementalSync
	if err := c.do(ctx, http.MethodPost, u, token, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func syncURL(baseURL, shareID, kind string) string {
	return strings.TrimRight(baseURL, "/") + "/api/share/" + url.PathEscape(shareID) + "/sync/" + kind
}

// do sends one request and decodes a JSON response into out. Every failure
// is reported as a *domain.PeerError.
func (c *Client) do(ctx context.Context, method, reqURL, token string, body, out any) error {
	var payload io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("peer: encode request: %w", err)
		}
		payload = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, payload)
	if err != nil {
		return &domain.PeerError{URL: reqURL, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	c.log.DebugContext(ctx, "peer request", slog.String("method", method), slog.String("url", reqURL))

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.WarnContext(ctx, "peer unreachable", slog.String("url", reqURL), slog.String("error", err.Error()))
		return &domain.PeerError{URL: reqURL, Err: err}
	}
	defer resp.Body.Close()

	c.log.DebugContext(ctx, "peer response",
		slog.String("url", reqURL),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &domain.PeerError{URL: reqURL, Status: resp.StatusCode, Err: statusError(resp)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.PeerError{URL: reqURL, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// statusError turns a non-2xx response into an error, keeping the
// message from an {"error": ...} body and the matching domain sentinel.
func statusError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		msg = body.Error
	}

	var sentinel error
	switch resp.StatusCode {
	case http.StatusNotFound:
		sentinel = domain.ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		sentinel = domain.ErrUnauthorized
	case http.StatusBadRequest:
		sentinel = domain.ErrValidation
	}

	switch {
	case sentinel != nil && msg != "":
		return fmt.Errorf("%w: %s", sentinel, msg)
	case sentinel != nil:
		return sentinel
	case msg != "":
		return errors.New(msg)
	}
	return nil
}
