// Package agent defines the conversation-model contract the session loop
// drives, plus an OpenAI-backed implementation.
package agent

import "context"

// ToolCall is one function invocation requested by the model.
type ToolCall struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// ToolResult is the outcome of one ToolCall. Result and Error are both
// strings on the wire; a failed call carries Error alongside an apologetic
// Result rather than aborting its batch.
type ToolResult struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}

// Completion is one model turn.
type Completion struct {
	Text   string
	Hangup bool
	Data   map[string]any
	Calls  []ToolCall
}

// Turn is one line of conversation history, used to brief a transfer
// assistant.
type Turn struct {
	Role    string // "user" or "assistant"
	Content string
}

// Agent is a conversation model bound to one call. Implementations are not
// required to be safe for concurrent use: the session invokes at most one
// completion at a time.
type Agent interface {
	// Initial produces the model's opening turn (greeting, or empty for
	// silent-wait mode).
	Initial(ctx context.Context) (Completion, error)
	// Completion advances the conversation with a user transcript.
	Completion(ctx context.Context, transcript string) (Completion, error)
	// CallResult feeds tool results back and returns the follow-up turn.
	CallResult(ctx context.Context, results []ToolResult) (Completion, error)
	// History returns the conversation so far, oldest first.
	History() []Turn
	Close() error
}
