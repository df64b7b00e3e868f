// Package platform talks to the hosted dataset and key-value services.
package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"recordimport/internal/etl/sources"
)

// DefaultBaseURL is the public API endpoint.
const DefaultBaseURL = "https://api.apify.com"

// Client implements sources.DatasetClient and sources.KeyValueClient over
// the REST API v2.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

var (
	_ sources.DatasetClient  = (*Client)(nil)
	_ sources.KeyValueClient = (*Client)(nil)
)

// New returns a client for baseURL. An empty baseURL means DefaultBaseURL.
func New(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// ── Datasets ────────────────────────────────────────────────

// FetchPage returns the items of datasetID in [offset, offset+limit).
func (c *Client) FetchPage(ctx context.Context, datasetID string, offset, limit int) ([]map[string]any, error) {
	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))
	q.Set("format", "json")
	q.Set("clean", "1")

	resp, err := c.get(ctx, "/v2/datasets/"+url.PathEscape(datasetID)+"/items", q)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var items []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode dataset items: %w", err)
	}
	return items, nil
}

// ── Key-value stores ────────────────────────────────────────

// GetRecord returns the value stored under key, or nil if the key does not
// exist. JSON bodies are decoded; anything else is returned as a string.
func (c *Client) GetRecord(ctx context.Context, storeID, key string) (*sources.KeyValueRecord, error) {
	resp, err := c.get(ctx, "/v2/key-value-stores/"+url.PathEscape(storeID)+"/records/"+url.PathEscape(key), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	rec := &sources.KeyValueRecord{ContentType: resp.Header.Get("Content-Type")}
	var body any
	if err := json.Unmarshal(data, &body); err == nil {
		rec.Body = body
	} else if strings.Contains(rec.ContentType, "json") {
		return nil, fmt.Errorf("parse json: %w", err)
	} else {
		rec.Body = string(data)
	}
	return rec, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values) (*http.Response, error) {
	u := c.BaseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	return resp, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
