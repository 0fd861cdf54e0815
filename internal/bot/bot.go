// Package bot defines the LLM answer boundary and its OpenAI implementation.
package bot

import (
	"context"
	"errors"
)

// Message is one turn of conversation context sent to the provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Reply is a successful provider answer.
type Reply struct {
	Text        string
	TotalTokens int
}

// ErrContextLength marks a provider rejection caused by the conversation
// exceeding the model's context window. Callers recover by clearing the
// user's session.
var ErrContextLength = errors.New("context length exceeded")

// Bot answers a question given the accumulated conversation context.
type Bot interface {
	Answer(ctx context.Context, user string, history []Message) (*Reply, error)
}
