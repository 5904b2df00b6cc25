package wazo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPostMessage(t *testing.T) {
	var gotPath, gotToken string
	var gotBody map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.Header.Get("X-Auth-Token")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(srv.Close)

	c := NewHTTPClient(HTTPClientOptions{BaseURL: srv.URL, Token: "secret", HTTPClient: srv.Client()})
	if err := c.PostMessage(context.Background(), "u1", "r1", "hello"); err != nil {
		t.Fatalf("PostMessage: %v", err)
	}

	if gotPath != "/chatd/1.0/users/u1/rooms/r1/messages" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotToken != "secret" {
		t.Fatalf("X-Auth-Token = %q", gotToken)
	}
	if gotBody["content"] != "hello" {
		t.Fatalf("body = %v", gotBody)
	}
	if _, ok := gotBody["alias"]; !ok {
		t.Fatal("alias field must be present (empty)")
	}
}

func TestPostMessage_NonSuccessStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	c := NewHTTPClient(HTTPClientOptions{BaseURL: srv.URL, Token: "bad", HTTPClient: srv.Client()})
	err := c.PostMessage(context.Background(), "u1", "r1", "hello")
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("want 401 error, got %v", err)
	}
}
