package assist

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newCompletionServer(t *testing.T, content string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if seen != nil {
			_ = json.NewDecoder(r.Body).Decode(seen)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestComplete(t *testing.T) {
	var body map[string]any
	srv := newCompletionServer(t, "  1. Hello\n2. Hi  ", &body)

	c := New(Config{APIKey: "test", BaseURL: srv.URL + "/v1/", Model: "test-model"})
	got, err := c.Complete(context.Background(), "be kind", "say hi")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "1. Hello\n2. Hi" {
		t.Fatalf("unexpected content %q", got)
	}
	if body["model"] != "test-model" {
		t.Fatalf("unexpected model %v", body["model"])
	}
	if body["max_tokens"] != float64(60) {
		t.Fatalf("unexpected max_tokens %v", body["max_tokens"])
	}
	if msgs, _ := body["messages"].([]any); len(msgs) != 2 {
		t.Fatalf("expected system and user messages, got %v", body["messages"])
	}
}

func TestCompleteEmpty(t *testing.T) {
	srv := newCompletionServer(t, "   ", nil)
	c := New(Config{APIKey: "test", BaseURL: srv.URL + "/v1/"})
	if _, err := c.Complete(context.Background(), "s", "p"); !errors.Is(err, ErrEmptyCompletion) {
		t.Fatalf("expected ErrEmptyCompletion, got %v", err)
	}
}

func TestCompleteServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"nope"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(Config{APIKey: "test", BaseURL: srv.URL + "/v1/"})
	if _, err := c.Complete(context.Background(), "s", "p"); err == nil {
		t.Fatal("expected error")
	}
}
