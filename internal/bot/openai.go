package bot

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.openai.com/v1"

// OpenAIConfig configures the chat-completions client.
type OpenAIConfig struct {
	Token     string
	Model     string
	BaseURL   string        // defaults to the public API
	ProxyURL  string        // optional forward proxy
	MaxTokens int           // optional per-reply cap, 0 = provider default
	Timeout   time.Duration // defaults to 60s
}

// OpenAIBot implements Bot against the OpenAI chat completions API.
type OpenAIBot struct {
	cfg        OpenAIConfig
	httpClient *http.Client
}

// NewOpenAIBot builds the client, wiring the optional proxy into the
// transport.
func NewOpenAIBot(cfg OpenAIConfig) (*OpenAIBot, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("openai: token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	client := &http.Client{Timeout: cfg.Timeout}
	if cfg.ProxyURL != "" {
		proxy, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("openai: parse proxy url: %w", err)
		}
		client.Transport = &http.Transport{Proxy: http.ProxyURL(proxy)}
	}

	return &OpenAIBot{cfg: cfg, httpClient: client}, nil
}

type chatCompletionRequest struct {
	Model     string    `json:"model"`
	User      string    `json:"user"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

type apiErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Answer sends the conversation to the chat completions endpoint and returns
// the assistant reply with the provider's total token count.
func (b *OpenAIBot) Answer(ctx context.Context, user string, history []Message) (*Reply, error) {
	payload := chatCompletionRequest{
		Model:     b.cfg.Model,
		User:      hashUser(user),
		Messages:  history,
		MaxTokens: b.cfg.MaxTokens,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("openai: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.cfg.Token)

	slog.Info("sending question to provider", "user_hash", payload.User, "model", payload.Model, "history_len", len(history))

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, b.classifyError(resp)
	}

	var out chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("openai: decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty choices in response")
	}

	return &Reply{
		Text:        strings.TrimSpace(out.Choices[0].Message.Content),
		TotalTokens: out.Usage.TotalTokens,
	}, nil
}

// classifyError separates the recoverable context-length rejection from
// generic upstream failures.
func (b *OpenAIBot) classifyError(resp *http.Response) error {
	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if readErr != nil {
		return fmt.Errorf("openai: status %d, read error body: %w", resp.StatusCode, readErr)
	}
	slog.Error("provider returned error", "status", resp.StatusCode, "body", string(raw))

	if resp.StatusCode == http.StatusBadRequest {
		var apiErr apiErrorResponse
		if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.Error.Code == "context_length_exceeded" {
			return fmt.Errorf("openai: %s: %w", apiErr.Error.Message, ErrContextLength)
		}
	}
	return fmt.Errorf("openai: status %d: %s", resp.StatusCode, string(raw))
}

func hashUser(user string) string {
	sum := md5.Sum([]byte(user))
	return hex.EncodeToString(sum[:])
}
