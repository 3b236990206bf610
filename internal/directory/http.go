package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// HTTPClient implements Client over the group directory's REST API.
type HTTPClient struct {
	base   string
	client *http.Client
}

// NewHTTPClient builds a directory client for the given base URL.
func NewHTTPClient(base string) *HTTPClient {
	return &HTTPClient{
		base:   base,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Deleting a group that is already gone counts as done.
		if method == http.MethodDelete && resp.StatusCode == http.StatusNotFound {
			return nil
		}
		return fmt.Errorf("directory: %s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// CreateGroup provisions a new directory group and returns its id.
func (c *HTTPClient) CreateGroup(ctx context.Context, title, description string) (string, error) {
	var created struct {
		ID string `json:"id"`
	}
	err := c.do(ctx, http.MethodPost, "/groups", map[string]string{
		"title":       title,
		"description": description,
	}, &created)
	if err != nil {
		return "", err
	}
	return created.ID, nil
}

// SetTitle updates the display title of an existing group.
func (c *HTTPClient) SetTitle(ctx context.Context, groupID, title string) error {
	return c.do(ctx, http.MethodPatch, "/groups/"+url.PathEscape(groupID),
		map[string]string{"title": title}, nil)
}

// SetDescription updates the description of an existing group.
func (c *HTTPClient) SetDescription(ctx context.Context, groupID, description string) error {
	return c.do(ctx, http.MethodPatch, "/groups/"+url.PathEscape(groupID),
		map[string]string{"description": description}, nil)
}

// ReplaceMembers replaces the full member list of a group.
func (c *HTTPClient) ReplaceMembers(ctx context.Context, groupID string, netIDs []string) error {
	if netIDs == nil {
		netIDs = []string{}
	}
	return c.do(ctx, http.MethodPut, "/groups/"+url.PathEscape(groupID)+"/members",
		map[string][]string{"netids": netIDs}, nil)
}

// DeleteGroup removes a group.  A 404 from the directory is treated as
// success so replayed deletions stay idempotent.
func (c *HTTPClient) DeleteGroup(ctx context.Context, groupID string) error {
	return c.do(ctx, http.MethodDelete, "/groups/"+url.PathEscape(groupID), nil, nil)
}

var _ Client = (*HTTPClient)(nil)
