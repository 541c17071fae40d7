package openaicompat

import "github.com/nevindra/ragkit"

// BuildBody converts ragkit ChatMessages and a model name into an OpenAI-format ChatRequest.
// System messages are kept in the messages array as role:"system".
// Options configure generation parameters (temperature, top_p, etc.).
func BuildBody(messages []ragkit.ChatMessage, model string, opts ...Option) ChatRequest {
	msgs := make([]Message, 0, len(messages))
	for _, m := range messages {
		role := m.Role
		if role == "" {
			role = "user"
		}
		msgs = append(msgs, Message{Role: role, Content: m.Content})
	}

	req := ChatRequest{
		Model:    model,
		Messages: msgs,
	}
	for _, opt := range opts {
		opt(&req)
	}
	return req
}
