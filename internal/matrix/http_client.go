package matrix

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

	"github.com/google/uuid"
)

// HTTPClientOptions configures the homeserver HTTP client.
type HTTPClientOptions struct {
	// BaseURL is the homeserver base URL, e.g. "https://matrix.example.org".
	BaseURL string
	// ASToken is the appservice token used for ghost registration.
	ASToken string
	// HTTPClient overrides the default client (mainly for tests).
	HTTPClient *http.Client
}

// HTTPClient implements Client against the Matrix client-server API.
type HTTPClient struct {
	baseURL    string
	asToken    string
	httpClient *http.Client
}

// NewHTTPClient constructs an HTTPClient with sane defaults.
func NewHTTPClient(opts HTTPClientOptions) *HTTPClient {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		asToken:    opts.ASToken,
		httpClient: httpClient,
	}
}

// apiError is the standard Matrix error body.
type apiError struct {
	ErrCode string `json:"errcode"`
	Error_  string `json:"error"`
}

// do issues one JSON request and decodes the response into out (when
// non-nil). Non-2xx responses are returned as errors carrying the
// Matrix errcode when the body parses as one.
func (c *HTTPClient) do(ctx context.Context, method, path, accessToken string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var ae apiError
		if json.Unmarshal(raw, &ae) == nil && ae.ErrCode != "" {
			return fmt.Errorf("%s %s: %s (%s): %s", method, path, resp.Status, ae.ErrCode, ae.Error_)
		}
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return nil
}

// RegisterUser provisions a ghost account through the appservice
// registration flow, authenticated with the AS token.
func (c *HTTPClient) RegisterUser(ctx context.Context, localpart string) (Credentials, error) {
	payload := map[string]any{
		"type":     "m.login.application_service",
		"username": localpart,
	}
	var out struct {
		UserID      string `json:"user_id"`
		AccessToken string `json:"access_token"`
	}
	if err := c.do(ctx, http.MethodPost, "/_matrix/client/v3/register", c.asToken, payload, &out); err != nil {
		return Credentials{}, err
	}
	return Credentials{UserID: out.UserID, AccessToken: out.AccessToken, BaseURL: c.baseURL}, nil
}

// SetDisplayName updates the display name of userID.
func (c *HTTPClient) SetDisplayName(ctx context.Context, accessToken, userID, displayName string) error {
	path := "/_matrix/client/v3/profile/" + url.PathEscape(userID) + "/displayname"
	return c.do(ctx, http.MethodPut, path, accessToken, map[string]any{"displayname": displayName}, nil)
}

// CreateRoom creates an invite-only room and returns its ID.
func (c *HTTPClient) CreateRoom(ctx context.Context, accessToken string, req CreateRoomRequest) (string, error) {
	payload := map[string]any{
		"visibility": "private",
		"preset":     "private_chat",
	}
	if req.Name != "" {
		payload["name"] = req.Name
	}
	if len(req.InitialState) > 0 {
		payload["initial_state"] = req.InitialState
	}
	var out struct {
		RoomID string `json:"room_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/_matrix/client/v3/createRoom", accessToken, payload, &out); err != nil {
		return "", err
	}
	return out.RoomID, nil
}

// InviteUser invites userID into roomID, merging extraContent into the
// invite payload.
func (c *HTTPClient) InviteUser(ctx context.Context, accessToken, roomID, userID string, extraContent map[string]any) error {
	payload := map[string]any{"user_id": userID}
	for k, v := range extraContent {
		payload[k] = v
	}
	path := "/_matrix/client/v3/rooms/" + url.PathEscape(roomID) + "/invite"
	return c.do(ctx, http.MethodPost, path, accessToken, payload, nil)
}

// JoinRoom joins the session owner into roomID.
func (c *HTTPClient) JoinRoom(ctx context.Context, accessToken, roomID string) error {
	path := "/_matrix/client/v3/rooms/" + url.PathEscape(roomID) + "/join"
	return c.do(ctx, http.MethodPost, path, accessToken, map[string]any{}, nil)
}

// SendMessage sends an m.room.message event with a random transaction
// ID and returns the resulting event ID.
func (c *HTTPClient) SendMessage(ctx context.Context, accessToken, roomID string, content MessageContent) (string, error) {
	txnID := uuid.NewString()
	path := "/_matrix/client/v3/rooms/" + url.PathEscape(roomID) + "/send/m.room.message/" + txnID
	var out struct {
		EventID string `json:"event_id"`
	}
	if err := c.do(ctx, http.MethodPut, path, accessToken, content, &out); err != nil {
		return "", err
	}
	return out.EventID, nil
}
