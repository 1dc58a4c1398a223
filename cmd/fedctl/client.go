package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// actorHeader matches the header the node reads the operator from.
const actorHeader = "X-Actor-Id"

type client struct {
	baseURL string
	actor   string
	http    *http.Client
}

func newClient(baseURL, actor string) *client {
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		actor:   actor,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type recordsQuery struct {
	collection string
	filter     string
	sort       string
	expand     string
	page       int
	perPage    int
}

func (c *client) identity(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/api/identity", nil)
}

func (c *client) share(ctx context.Context, collection, recordID string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/api/shares", map[string]string{
		"collection": collection,
		"record_id":  recordID,
	})
}

func (c *client) accept(ctx context.Context, inviteURL string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/api/shares/accept", map[string]string{"invite_url": inviteURL})
}

func (c *client) sync(ctx context.Context, shareID string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/api/shares/"+url.PathEscape(shareID)+"/sync", nil)
}

func (c *client) records(ctx context.Context, q recordsQuery) (json.RawMessage, error) {
	v := url.Values{}
	for k, s := range map[string]string{"filter": q.filter, "sort": q.sort, "expand": q.expand} {
		if s != "" {
			v.Set(k, s)
		}
	}
	if q.page > 0 {
		v.Set("page", strconv.Itoa(q.page))
	}
	if q.perPage > 0 {
		v.Set("perPage", strconv.Itoa(q.perPage))
	}
	path := "/api/collections/" + url.PathEscape(q.collection) + "/records"
	if len(v) > 0 {
		path += "?" + v.Encode()
	}
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *client) do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var payload io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		payload = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.actor != "" {
		req.Header.Set(actorHeader, c.actor)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			return nil, fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, e.Error)
		}
		return nil, fmt.Errorf("%s %s: %d", method, path, resp.StatusCode)
	}
	return json.RawMessage(raw), nil
}
