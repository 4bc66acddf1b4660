package openrouter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"Aegis-MCP/internal/llm"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatalf("expected error when api key is missing")
	}
}

func TestInvokeSendsAttributionHeaders(t *testing.T) {
	var captured struct {
		Referer string
		Title   string
		Body    map[string]any
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.Referer = r.Header.Get("HTTP-Referer")
		captured.Title = r.Header.Get("X-Title")
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&captured.Body); err != nil {
			t.Fatalf("failed to decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "ok"}},
			},
		})
	}))
	defer srv.Close()

	client, err := NewClient(Config{
		APIKey:  "test",
		BaseURL: srv.URL,
		SiteURL: "https://example.test",
		AppName: "example",
		Timeout: time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	reply, err := client.Invoke(context.Background(), []llm.Message{
		llm.SystemMessage("be brief"),
		llm.UserMessage("ping"),
	}, llm.Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.Content != "ok" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	if captured.Referer != "https://example.test" || captured.Title != "example" {
		t.Fatalf("attribution headers missing: %q %q", captured.Referer, captured.Title)
	}
	messages, ok := captured.Body["messages"].([]any)
	if !ok || len(messages) != 2 {
		t.Fatalf("expected two wire messages, got %v", captured.Body["messages"])
	}
	first, _ := messages[0].(map[string]any)
	if first["role"] != "system" {
		t.Fatalf("system role must survive the wire mapping, got %v", first)
	}
}

func TestInvokeHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	if _, err := client.Invoke(context.Background(), []llm.Message{llm.UserMessage("hi")}, llm.Options{}); err == nil {
		t.Fatalf("expected error when http status is not success")
	}
}
