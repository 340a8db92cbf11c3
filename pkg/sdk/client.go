// Package sdk is the Go client for the leadwatch search API, including the
// cursor pager the dashboard uses: per-filter-tuple pagination state, a local
// result cache that survives UI navigation, and client-side re-sort of the
// already-fetched set without another fetch.
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/leadwatch/leadwatch/pkg/event"
	"github.com/leadwatch/leadwatch/pkg/search"
)

// ClientConfig holds configuration for the leadwatch client.
type ClientConfig struct {
	// Endpoint is the server base URL, e.g. "http://localhost:8080".
	Endpoint string `json:"endpoint"`

	// Timeout bounds each HTTP call.
	Timeout time.Duration `json:"timeout"`
}

// Client talks to the leadwatch search API.
type Client struct {
	endpoint string
	http     *http.Client
}

// New creates a client.
func New(cfg ClientConfig) (*Client, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:8080"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		endpoint: cfg.Endpoint,
		http:     &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// apiError is the server's structured error body.
type apiError struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Search executes one search call.
func (c *Client) Search(ctx context.Context, f search.Filter) (*search.Response, error) {
	body, err := json.Marshal(wireFilterFrom(f))
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/leads/search", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var resp search.Response
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Latest fetches the newest leads.
func (c *Client) Latest(ctx context.Context, limit int) (*search.Response, error) {
	u := fmt.Sprintf("%s/v1/leads/latest?limit=%d", c.endpoint, limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	var resp search.Response
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Journey fetches the full event trail for a content key.
func (c *Client) Journey(ctx context.Context, contentKey string) ([]event.Event, error) {
	u := c.endpoint + "/v1/leads/" + url.PathEscape(contentKey) + "/journey"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Events []event.Event `json:"events"`
	}
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		var apiErr apiError
		if decodeErr := json.NewDecoder(io.LimitReader(res.Body, 1<<16)).Decode(&apiErr); decodeErr == nil && apiErr.Message != "" {
			return fmt.Errorf("server returned %d (%s): %s", res.StatusCode, apiErr.Code, apiErr.Message)
		}
		return fmt.Errorf("server returned %d", res.StatusCode)
	}

	return json.NewDecoder(res.Body).Decode(out)
}

// wireFilter mirrors the handler's request shape (cursor as unix nanos).
type wireFilter struct {
	UID       *int64   `json:"uid,omitempty"`
	EpochID   *int64   `json:"epoch_id,omitempty"`
	LeadIdent string   `json:"lead_ident,omitempty"`
	ActorKeys []string `json:"actor_keys,omitempty"`
	Before    int64    `json:"before,omitempty"`
	Limit     int      `json:"limit,omitempty"`
	Raw       bool     `json:"raw,omitempty"`
}

func wireFilterFrom(f search.Filter) wireFilter {
	w := wireFilter{
		UID:       f.UID,
		EpochID:   f.EpochID,
		LeadIdent: f.LeadIdent,
		ActorKeys: f.ActorKeys,
		Limit:     f.Limit,
		Raw:       f.Raw,
	}
	if !f.Before.IsZero() {
		w.Before = f.Before.UnixNano()
	}
	return w
}
