package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/campuskit/tutorcore/internal/resilience"
)

func TestChatCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Fatalf("missing auth header, got %q", got)
		}
		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.Model != "default" || len(req.Messages) != 2 {
			t.Fatalf("unexpected request: %+v", req)
		}
		_, _ = w.Write([]byte(`{
			"model": "default",
			"choices": [{"message": {"content": "The grading policy is on the syllabus."}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 9}
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk-test", "default", 5*time.Second)
	resp, err := c.ChatCompletion(context.Background(), []ChatMessage{
		{Role: "system", Content: "directive"},
		{Role: "user", Content: "What is the grading policy?"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "The grading policy is on the syllabus." {
		t.Fatalf("unexpected content %q", resp.Content)
	}
	if resp.TokensIn != 12 || resp.TokensOut != 9 {
		t.Fatalf("unexpected usage: %+v", resp)
	}
}

func TestChatCompletion_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error": "overloaded"}`, http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "default", 5*time.Second)
	_, err := c.ChatCompletion(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}})
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestChatCompletionStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
			``,
			`data: {"choices":[{"delta":{"content":"lo"}}]}`,
			`data: {"choices":[{"delta":{"content":" there"},"finish_reason":""}]}`,
			`data: [DONE]`,
		}
		for _, line := range chunks {
			_, _ = w.Write([]byte(line + "\n"))
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "default", 5*time.Second)
	var deltas []string
	full, err := c.ChatCompletionStream(context.Background(),
		[]ChatMessage{{Role: "user", Content: "hi"}},
		func(d string) { deltas = append(deltas, d) })
	if err != nil {
		t.Fatal(err)
	}
	if full != "Hello there" {
		t.Fatalf("full = %q, want %q", full, "Hello there")
	}
	if strings.Join(deltas, "") != full {
		t.Fatalf("deltas %v do not accumulate to full text", deltas)
	}
}

func TestChatCompletionStream_SkipsMalformedLines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(": keep-alive\n"))
		_, _ = w.Write([]byte("data: not-json\n"))
		_, _ = w.Write([]byte(`data: {"choices":[{"delta":{"content":"ok"}}]}` + "\n"))
		_, _ = w.Write([]byte("data: [DONE]\n"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "default", 5*time.Second)
	full, err := c.ChatCompletionStream(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if full != "ok" {
		t.Fatalf("full = %q, want ok", full)
	}
}

func TestClient_BreakerRejectsWhenOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "default", 5*time.Second)
	c.SetBreaker(resilience.NewBreaker(2, time.Minute))

	msgs := []ChatMessage{{Role: "user", Content: "hi"}}
	for range 2 {
		if _, err := c.ChatCompletion(context.Background(), msgs); err == nil {
			t.Fatal("expected upstream failure")
		}
	}
	_, err := c.ChatCompletion(context.Background(), msgs)
	if err == nil || !strings.Contains(err.Error(), "circuit breaker") {
		t.Fatalf("expected circuit open, got %v", err)
	}
}
