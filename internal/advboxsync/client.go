package advboxsync

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

const maxResponseBytes = 16 << 20

// Client is the ADVBox REST implementation of TransactionSource.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a Client for the given API root and bearer token.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// FetchPage implements TransactionSource.
func (c *Client) FetchPage(ctx context.Context, req PageRequest) (*Page, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(req.Limit))
	q.Set("offset", strconv.Itoa(req.Offset))
	if !req.Start.IsZero() {
		q.Set("date_due_start", req.Start.String())
	}
	if !req.End.IsZero() {
		q.Set("date_due_end", req.End.String())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/transactions?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("FetchPage: building request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("FetchPage: offset %d: %w", req.Offset, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("FetchPage: reading body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrUpstreamUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Body:       truncate(string(body), 300),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	page, err := decodePage(body)
	if err != nil {
		return nil, fmt.Errorf("FetchPage: offset %d: %w", req.Offset, err)
	}
	return page, nil
}

// decodePage accepts either {"data": [...]} or a bare array.
func decodePage(body []byte) (*Page, error) {
	page := &Page{Total: -1, Body: body}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return page, nil
	}

	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &page.Records); err != nil {
			return nil, fmt.Errorf("decodePage: array body: %w", err)
		}
		return page, nil
	}

	var envelope struct {
		Data            []json.RawMessage `json:"data"`
		TotalCount      *int              `json:"totalCount"`
		TotalCountSnake *int              `json:"total_count"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, fmt.Errorf("decodePage: object body: %w", err)
	}
	page.Records = envelope.Data
	switch {
	case envelope.TotalCount != nil:
		page.Total = *envelope.TotalCount
	case envelope.TotalCountSnake != nil:
		page.Total = *envelope.TotalCountSnake
	}
	return page, nil
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
