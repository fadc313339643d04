// Package municipality fetches the served-area reference table used to
// enrich lines.
package municipality

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/transitdocs/schedule-builder/internal/models"
)

// Client fetches the municipality list from a remote endpoint
type Client struct {
	url    string
	client *http.Client
}

// NewClient creates a client for url with the given request timeout
func NewClient(url string, timeout time.Duration) *Client {
	return &Client{
		url: url,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Fetch downloads the municipality list. Any non-2xx response is an error.
func (c *Client) Fetch(ctx context.Context) (*Table, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch municipalities: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("municipalities API returned %d: %s", resp.StatusCode, string(body))
	}

	var items []models.Municipality
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("failed to decode municipalities: %w", err)
	}

	return NewTable(items), nil
}

// Table maps a two-character area code to its municipality
type Table struct {
	byID map[string]models.Municipality
}

// NewTable indexes items by id. On duplicate ids the first entry wins.
func NewTable(items []models.Municipality) *Table {
	t := &Table{byID: make(map[string]models.Municipality, len(items))}
	for _, m := range items {
		if _, ok := t.byID[m.ID]; !ok {
			t.byID[m.ID] = m
		}
	}
	return t
}

// Lookup returns the municipality for code
func (t *Table) Lookup(code string) (models.Municipality, bool) {
	m, ok := t.byID[code]
	return m, ok
}

// Len is the number of distinct municipalities
func (t *Table) Len() int {
	return len(t.byID)
}

// AreaCode is the municipality code embedded in a stop id: its first two
// characters. Shorter ids have no code.
func AreaCode(stopID string) (string, bool) {
	r := []rune(stopID)
	if len(r) < 2 {
		return "", false
	}
	return string(r[:2]), true
}
