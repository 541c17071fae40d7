package ragkit

import (
	"context"
	"errors"
)

// Document is a retrieved or stored piece of content.
// Score is only set on search results; higher means more similar.
type Document struct {
	ID          string         `json:"id,omitempty"`
	PageContent string         `json:"page_content"`
	Metadata    map[string]any `json:"metadata"`
	Score       float32        `json:"score,omitempty"`
}

// StreamChunk is one unit of text delivered by a streaming backend call.
// Content may be empty.
type StreamChunk struct {
	Content string
}

// --- LLM protocol types ---

type ChatMessage struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// ChatRequest is a prompt: either a single user message or a conversation.
type ChatRequest struct {
	Messages []ChatMessage `json:"messages"`
}

// --- ChatMessage constructors ---

func UserMessage(text string) ChatMessage {
	return ChatMessage{Role: "user", Content: text}
}

func SystemMessage(text string) ChatMessage {
	return ChatMessage{Role: "system", Content: text}
}

func AssistantMessage(text string) ChatMessage {
	return ChatMessage{Role: "assistant", Content: text}
}

// NewPrompt builds a request from a plain prompt string. An optional system
// prompt is sent first when non-empty.
func NewPrompt(prompt string, system ...string) ChatRequest {
	var msgs []ChatMessage
	for _, s := range system {
		if s != "" {
			msgs = append(msgs, SystemMessage(s))
		}
	}
	msgs = append(msgs, UserMessage(prompt))
	return ChatRequest{Messages: msgs}
}

// EmbedQuery embeds a single text with p.
func EmbedQuery(ctx context.Context, p EmbeddingProvider, text string) ([]float32, error) {
	vecs, err := p.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, &InvocationError{Provider: p.Name(), Err: errors.New("no embedding returned")}
	}
	return vecs[0], nil
}
