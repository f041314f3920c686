package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"collabedit/api/internal/store"
)

func newTestServer(dataStore dataStore, registry presenceView) *httptest.Server {
	service := newTestService(dataStore, registry)
	return httptest.NewServer(NewHTTPServer(service, nil, "*").Handler())
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(&fakeStore{}, &fakePresence{})
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/health")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestLoginEndpoint(t *testing.T) {
	server := newTestServer(&fakeStore{}, &fakePresence{})
	defer server.Close()

	resp, err := http.Post(server.URL+"/api/users/login", "application/json", strings.NewReader(`{"username":"alice"}`))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body["username"] != "alice" {
		t.Errorf("expected echoed username, got %v", body)
	}

	resp, err = http.Post(server.URL+"/api/users/login", "application/json", strings.NewReader(`{"username":""}`))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for empty username, got %d", resp.StatusCode)
	}
}

func TestCreateAndGetDocumentEndpoints(t *testing.T) {
	created := store.Document{ID: "doc_1", Title: "notes", UpdatedAt: time.Now()}
	dataStore := &fakeStore{
		insertDocumentFn: func(_ context.Context, doc store.Document) (store.Document, error) {
			created.Title = doc.Title
			return created, nil
		},
		getDocumentFn: func(_ context.Context, id string) (store.Document, error) {
			if id == "doc_1" {
				return created, nil
			}
			return store.Document{}, store.ErrNotFound
		},
		recentChatMessagesFn: func(context.Context, string, int) ([]store.ChatMessage, error) {
			return []store.ChatMessage{
				{Username: "alice", Message: "older", CreatedAt: time.Now().Add(-time.Minute)},
				{Username: "bob", Message: "newer", CreatedAt: time.Now()},
			}, nil
		},
	}
	server := newTestServer(dataStore, &fakePresence{})
	defer server.Close()

	resp, err := http.Post(server.URL+"/api/documents", "application/json", strings.NewReader(`{"title":"notes"}`))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	resp, err = http.Get(server.URL + "/api/documents/doc_1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Document map[string]any   `json:"document"`
		Chat     []map[string]any `json:"chat"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body.Document["id"] != "doc_1" {
		t.Errorf("unexpected document: %v", body.Document)
	}
	if len(body.Chat) != 2 || body.Chat[0]["message"] != "older" {
		t.Errorf("chat should be chronological, got %v", body.Chat)
	}

	resp, err = http.Get(server.URL + "/api/documents/doc_missing")
	if err != nil {
		t.Fatalf("get missing failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown document, got %d", resp.StatusCode)
	}
}

func TestListDocumentsIncludesActiveUsers(t *testing.T) {
	dataStore := &fakeStore{
		listDocumentsFn: func(context.Context) ([]store.Document, error) {
			return []store.Document{{ID: "doc_1", Title: "notes", UpdatedAt: time.Now()}}, nil
		},
	}
	registry := &fakePresence{
		countFn: func(context.Context, string) (int64, error) { return 2, nil },
	}
	server := newTestServer(dataStore, registry)
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/documents")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	var body []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(body) != 1 {
		t.Fatalf("expected 1 document, got %d", len(body))
	}
	if body[0]["activeUsers"].(float64) != 2 {
		t.Errorf("expected activeUsers 2, got %v", body[0]["activeUsers"])
	}
	if _, ok := body[0]["content"]; ok {
		t.Errorf("listing should not include content")
	}
}

func TestReadyEndpointReportsBackends(t *testing.T) {
	server := newTestServer(&fakeStore{}, &fakePresence{})
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/ready")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 when both backends are up, got %d", resp.StatusCode)
	}
}

func TestReadyEndpointFailsWhenRedisIsDown(t *testing.T) {
	registry := &fakePresence{
		pingFn: func(context.Context) error { return errors.New("redis down") },
	}
	server := newTestServer(&fakeStore{}, registry)
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/ready")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503 when redis is down, got %d", resp.StatusCode)
	}
}
