package upstream

// Message is one chat turn sent to the provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body posted to {base}/chat/completions.
type ChatRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	Stream    bool      `json:"stream"`
	MaxTokens *int      `json:"max_tokens,omitempty"`
}

// Usage is the token accounting reported by the provider.
type Usage struct {
	ID               string
	Model            string
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}
