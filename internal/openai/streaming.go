package openai

// ChatCompletionChunk represents a chunk in an upstream SSE streaming response.
type ChatCompletionChunk struct {
	ID      string                      `json:"id,omitempty"`
	Object  string                      `json:"object,omitempty"`
	Created int64                       `json:"created,omitempty"`
	Model   string                      `json:"model,omitempty"`
	Choices []ChatCompletionChunkChoice `json:"choices"`
}

// ChatCompletionChunkChoice represents a choice in a streaming chunk.
type ChatCompletionChunkChoice struct {
	Index        int              `json:"index,omitempty"`
	Delta        ChatMessageDelta `json:"delta"`
	FinishReason *string          `json:"finish_reason,omitempty"`
}

// ChatMessageDelta represents the incremental content in a stream chunk.
// Content is a pointer so an explicit empty string can be told apart from a
// role-only delta.
type ChatMessageDelta struct {
	Role    string  `json:"role,omitempty"`
	Content *string `json:"content,omitempty"`
}

// DeltaText returns the first choice's content and whether one was present.
func (c ChatCompletionChunk) DeltaText() (string, bool) {
	if len(c.Choices) == 0 || c.Choices[0].Delta.Content == nil {
		return "", false
	}
	return *c.Choices[0].Delta.Content, true
}

// NewDeltaChunk builds the minimal chunk sent to clients for one text delta:
// {"choices":[{"delta":{"content":"..."}}]}.
func NewDeltaChunk(text string) ChatCompletionChunk {
	return ChatCompletionChunk{
		Choices: []ChatCompletionChunkChoice{{Delta: ChatMessageDelta{Content: &text}}},
	}
}
