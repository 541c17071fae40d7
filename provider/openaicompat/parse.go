package openaicompat

import (
	"fmt"

	"github.com/nevindra/ragkit"
)

// ParseResponse extracts the text of choices[0] from a chat completions
// response. A response without text content (tool calls only, a refusal,
// or no choices) is ragkit.ErrNonTextContent.
func ParseResponse(resp ChatResponse) (string, error) {
	if resp.Error != nil {
		return "", fmt.Errorf("api error: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil {
		return "", ragkit.ErrNonTextContent
	}
	msg := resp.Choices[0].Message
	if len(msg.ToolCalls) > 0 || msg.Refusal != "" || msg.Content == nil {
		return "", ragkit.ErrNonTextContent
	}
	return *msg.Content, nil
}
