// Package backend is the HTTP client for the ViralBoost REST API. It owns
// envelope decoding and the error taxonomy; it performs no retries of its
// own — read retries belong to the query cache, and writes must never be
// silently reissued.
package backend

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
	"strconv"
	"strings"
	"time"
)

// Pagination is the metadata attached to every list response.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// ListPage is one decoded page of records. Items stay raw: the resource
// services own their concrete shapes.
type ListPage struct {
	Items      []json.RawMessage
	Pagination Pagination
}

// ListQuery carries standard list parameters plus free-form filters.
type ListQuery struct {
	Page    int
	Limit   int
	Filters url.Values
}

// Client talks to the ViralBoost backend.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Client. timeout bounds a whole request including body
// read; callers typically pass the configured fetch timeout.
func NewClient(baseURL, token string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// List fetches one page of a list resource. The response body must be a
// `{"data": {...}}` envelope whose data object contains one array member
// (the records — its field name varies by resource) and pagination
// metadata. No per-resource shape is assumed beyond that.
func (c *Client) List(ctx context.Context, path string, q ListQuery) (ListPage, error) {
	query := url.Values{}
	for k, vs := range q.Filters {
		for _, v := range vs {
			query.Add(k, v)
		}
	}
	if q.Page > 0 {
		query.Set("page", strconv.Itoa(q.Page))
	}
	if q.Limit > 0 {
		query.Set("limit", strconv.Itoa(q.Limit))
	}

	target := c.baseURL + path
	if encoded := query.Encode(); encoded != "" {
		target += "?" + encoded
	}

	body, err := c.do(ctx, http.MethodGet, target, nil)
	if err != nil {
		return ListPage{}, err
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ListPage{}, fmt.Errorf("decoding list envelope for %s: %w", path, err)
	}
	return decodeListData(path, envelope.Data)
}

// Mutate performs a write and returns the envelope's data payload. A 2xx
// response with success=false is still a ServerError: the backend refused
// the operation, and the caller needs its message.
func (c *Client) Mutate(ctx context.Context, method, path string, payload any) (json.RawMessage, error) {
	var reqBody io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding request body for %s: %w", path, err)
		}
		reqBody = bytes.NewReader(b)
	}

	body, err := c.do(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decoding mutation envelope for %s: %w", path, err)
	}
	if !envelope.Success {
		return nil, &ServerError{Status: http.StatusOK, Message: envelope.Message}
	}
	return envelope.Data, nil
}

// do issues one request and classifies failures into the error taxonomy.
func (c *Client) do(ctx context.Context, method, target string, reqBody io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", target, err)
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, &TimeoutError{URL: target}
		}
		return nil, &NetworkError{URL: target, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{URL: target, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ServerError{
			Status:  resp.StatusCode,
			Message: errorMessage(body),
		}
	}
	return body, nil
}

// decodeListData locates the single array member and the pagination block
// inside a list envelope's data object.
func decodeListData(path string, data json.RawMessage) (ListPage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return ListPage{}, fmt.Errorf("decoding list data for %s: %w", path, err)
	}

	var page ListPage
	foundItems := false
	for name, raw := range fields {
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) > 0 && trimmed[0] == '[' {
			if foundItems {
				return ListPage{}, fmt.Errorf("ambiguous list shape for %s: multiple array fields", path)
			}
			if err := json.Unmarshal(raw, &page.Items); err != nil {
				return ListPage{}, fmt.Errorf("decoding %s records for %s: %w", name, path, err)
			}
			foundItems = true
		}
	}
	if !foundItems {
		return ListPage{}, fmt.Errorf("no record array in list response for %s", path)
	}

	if raw, ok := fields["pagination"]; ok {
		if err := json.Unmarshal(raw, &page.Pagination); err != nil {
			return ListPage{}, fmt.Errorf("decoding pagination for %s: %w", path, err)
		}
	}
	return page, nil
}

// errorMessage extracts the backend's message field from an error body.
func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.Message
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}
