// Package llm holds the provider-neutral chat contracts and the JSON
// helpers shared by the model clients.
package llm

import "context"

type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

// Message is one chat turn. Images are data URLs or remote URLs and are only
// sent to vision-capable models.
type Message struct {
	Role   Role
	Text   string
	Images []string
}

type ChatRequest struct {
	Model       string
	Messages    []Message
	Temperature float32
	JSONMode    bool
	// Vision selects list-style content with inline images.
	Vision bool
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	ImageTokens  int `json:"image_tokens,omitempty"`
}

type ChatResponse struct {
	StatusCode int
	Content    string
	RequestID  string
	Usage      Usage
}

// Completer is the interface the extraction engine depends on. A non-nil
// error means the attempt failed and may be retried.
type Completer interface {
	Complete(ctx context.Context, req ChatRequest) (ChatResponse, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, req ChatRequest) (ChatResponse, error)

func (f CompleterFunc) Complete(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	return f(ctx, req)
}
