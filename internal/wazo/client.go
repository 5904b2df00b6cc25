// Package wazo is the external-network collaborator: a thin client for
// the Wazo chatd HTTP API, covering the single endpoint the bridge
// calls: posting a message into a room on behalf of a Wazo user.
package wazo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is the outbound-relay surface consumed by the service layer.
type Client interface {
	// PostMessage posts content into roomUUID as userUUID.
	PostMessage(ctx context.Context, userUUID, roomUUID, content string) error
}

// HTTPClientOptions configures the chatd HTTP client.
type HTTPClientOptions struct {
	// BaseURL is the Wazo API base, e.g. "https://wazo.example.com/api".
	BaseURL string
	// Token is the Wazo auth token sent in the X-Auth-Token header.
	Token string
	// HTTPClient overrides the default client (mainly for tests).
	HTTPClient *http.Client
}

// HTTPClient implements Client against the chatd REST API.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPClient constructs an HTTPClient with sane defaults.
func NewHTTPClient(opts HTTPClientOptions) *HTTPClient {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		token:      opts.Token,
		httpClient: httpClient,
	}
}

// PostMessage posts a plain-text message into a Wazo room, attributed
// to the given Wazo user.
func (c *HTTPClient) PostMessage(ctx context.Context, userUUID, roomUUID, content string) error {
	endpoint := fmt.Sprintf("%s/chatd/1.0/users/%s/rooms/%s/messages",
		c.baseURL, url.PathEscape(userUUID), url.PathEscape(roomUUID))

	raw, err := json.Marshal(map[string]string{"alias": "", "content": content})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Auth-Token", c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("POST %s: %s", endpoint, resp.Status)
	}
	return nil
}
