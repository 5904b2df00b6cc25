package matrix

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClient(HTTPClientOptions{
		BaseURL:    srv.URL,
		ASToken:    "as-token",
		HTTPClient: srv.Client(),
	})
}

func TestRegisterUser(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/_matrix/client/v3/register" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer as-token" {
			t.Errorf("Authorization = %q; want AS token", got)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["type"] != "m.login.application_service" {
			t.Errorf("register type = %v", body["type"])
		}
		if body["username"] != "wazo_u1" {
			t.Errorf("register username = %v", body["username"])
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"user_id":      "@wazo_u1:example.org",
			"access_token": "ghost-token",
		})
	})

	creds, err := c.RegisterUser(context.Background(), "wazo_u1")
	if err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}
	if creds.UserID != "@wazo_u1:example.org" || creds.AccessToken != "ghost-token" {
		t.Fatalf("unexpected credentials %+v", creds)
	}
	if creds.BaseURL == "" {
		t.Fatal("credentials must carry the homeserver base URL")
	}
}

func TestCreateRoom_SendsInitialState(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/_matrix/client/v3/createRoom" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body struct {
			Visibility   string       `json:"visibility"`
			InitialState []StateEvent `json:"initial_state"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Visibility != "private" {
			t.Errorf("visibility = %q", body.Visibility)
		}
		if len(body.InitialState) != 2 {
			t.Errorf("initial_state len = %d; want 2", len(body.InitialState))
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"room_id": "!new:example.org"})
	})

	roomID, err := c.CreateRoom(context.Background(), "tok", CreateRoomRequest{
		InitialState: []StateEvent{
			{Type: EventTypeBridge, StateKey: "wazo_r1", Content: map[string]any{}},
			{Type: EventTypeHalfShotBridge, StateKey: "wazo_r1", Content: map[string]any{}},
		},
	})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if roomID != "!new:example.org" {
		t.Fatalf("roomID = %q", roomID)
	}
}

func TestInviteUser_MergesExtraContent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["user_id"] != "@alice:example.org" {
			t.Errorf("user_id = %v", body["user_id"])
		}
		if body["fi.mau.will_auto_accept"] != true {
			t.Errorf("auto-accept hint missing: %v", body)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("{}"))
	})

	err := c.InviteUser(context.Background(), "tok", "!r:example.org", "@alice:example.org",
		map[string]any{"fi.mau.will_auto_accept": true})
	if err != nil {
		t.Fatalf("InviteUser: %v", err)
	}
}

func TestSendMessage_ReturnsEventID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s; want PUT", r.Method)
		}
		if !strings.Contains(r.URL.Path, "/send/m.room.message/") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var content MessageContent
		_ = json.NewDecoder(r.Body).Decode(&content)
		if content.MsgType != MsgText || content.Body != "hi" {
			t.Errorf("unexpected content %+v", content)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"event_id": "$evt:example.org"})
	})

	eventID, err := c.SendMessage(context.Background(), "tok", "!r:example.org",
		MessageContent{MsgType: MsgText, Body: "hi"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if eventID != "$evt:example.org" {
		t.Fatalf("eventID = %q", eventID)
	}
}

func TestDo_SurfacesMatrixErrcode(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"errcode": "M_FORBIDDEN",
			"error":   "not allowed",
		})
	})

	err := c.JoinRoom(context.Background(), "tok", "!r:example.org")
	if err == nil || !strings.Contains(err.Error(), "M_FORBIDDEN") {
		t.Fatalf("want error carrying errcode, got %v", err)
	}
}
