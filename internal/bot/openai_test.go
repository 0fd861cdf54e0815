package bot

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestBot(t *testing.T, handler http.HandlerFunc) *OpenAIBot {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	b, err := NewOpenAIBot(OpenAIConfig{
		Token:     "test-token",
		Model:     "gpt-3.5-turbo",
		BaseURL:   srv.URL,
		MaxTokens: 256,
	})
	if err != nil {
		t.Fatalf("NewOpenAIBot failed: %v", err)
	}
	return b
}

func TestOpenAIBot_Answer(t *testing.T) {
	var gotReq chatCompletionRequest
	b := newTestBot(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("Unexpected path %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-token" {
			t.Errorf("Unexpected auth header %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("Decode request failed: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "  hello there \n"}},
			},
			"usage": map[string]any{"total_tokens": 57},
		})
	})

	reply, err := b.Answer(context.Background(), "user-1", []Message{
		{Role: "user", Content: "hi"},
	})
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}

	if reply.Text != "hello there" {
		t.Errorf("Expected trimmed reply, got %q", reply.Text)
	}
	if reply.TotalTokens != 57 {
		t.Errorf("Expected 57 tokens, got %d", reply.TotalTokens)
	}
	if gotReq.Model != "gpt-3.5-turbo" || gotReq.MaxTokens != 256 {
		t.Errorf("Unexpected request payload: %+v", gotReq)
	}
	if gotReq.User == "user-1" || gotReq.User == "" {
		t.Errorf("Expected hashed user id, got %q", gotReq.User)
	}
	if len(gotReq.Messages) != 1 || gotReq.Messages[0].Content != "hi" {
		t.Errorf("Unexpected messages: %+v", gotReq.Messages)
	}
}

func TestOpenAIBot_ContextLengthExceeded(t *testing.T) {
	b := newTestBot(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": {"code": "context_length_exceeded", "message": "too long"}}`))
	})

	_, err := b.Answer(context.Background(), "u", nil)
	if !errors.Is(err, ErrContextLength) {
		t.Errorf("Expected ErrContextLength, got %v", err)
	}
}

func TestOpenAIBot_GenericUpstreamFailure(t *testing.T) {
	b := newTestBot(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	})

	_, err := b.Answer(context.Background(), "u", nil)
	if err == nil {
		t.Fatal("Expected error for 500 response")
	}
	if errors.Is(err, ErrContextLength) {
		t.Error("Generic failure must not classify as context length")
	}
}

func TestOpenAIBot_BadRequestWithoutCode(t *testing.T) {
	b := newTestBot(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": {"code": "other", "message": "nope"}}`))
	})

	_, err := b.Answer(context.Background(), "u", nil)
	if err == nil || errors.Is(err, ErrContextLength) {
		t.Errorf("Expected generic failure for non-context 400, got %v", err)
	}
}

func TestOpenAIBot_MalformedResponse(t *testing.T) {
	b := newTestBot(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{"))
	})

	if _, err := b.Answer(context.Background(), "u", nil); err == nil {
		t.Error("Expected error for malformed response body")
	}
}

func TestOpenAIBot_EmptyChoices(t *testing.T) {
	b := newTestBot(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices": [], "usage": {"total_tokens": 1}}`))
	})

	if _, err := b.Answer(context.Background(), "u", nil); err == nil {
		t.Error("Expected error for empty choices")
	}
}

func TestNewOpenAIBot_Validation(t *testing.T) {
	if _, err := NewOpenAIBot(OpenAIConfig{}); err == nil {
		t.Error("Expected error for missing token")
	}
	if _, err := NewOpenAIBot(OpenAIConfig{Token: "t", ProxyURL: "://bad"}); err == nil {
		t.Error("Expected error for invalid proxy url")
	}
}
