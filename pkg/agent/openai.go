package agent

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"sync"

	"github.com/sashabaranov/go-openai"
	"github.com/voxbridge/voxbridge/pkg/logger"
	"go.uber.org/zap"
)

// hangupToken is the in-band marker a prompted model appends when it wants
// the call ended after the utterance is spoken.
const hangupToken = "@HANGUP"

// dataBlock matches a fenced JSON block the model may embed to return
// structured data alongside spoken text.
var dataBlock = regexp.MustCompile("(?s)```json\\s*(\\{.*?\\})\\s*```")

// ToolSpec declares one callable function to the model.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// OpenAIConfig configures an OpenAI-backed conversation agent.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	SystemPrompt string
	// Greeting, when set, is spoken as the opening turn without a model
	// round trip. Empty means silent-wait mode.
	Greeting string
	Tools    []ToolSpec
}

// OpenAIAgent drives one conversation against the chat completions API.
type OpenAIAgent struct {
	client   *openai.Client
	model    string
	greeting string
	tools    []openai.Tool

	mu       sync.Mutex
	messages []openai.ChatCompletionMessage
	closed   bool
}

// NewOpenAIAgent creates an agent with a fresh conversation context.
func NewOpenAIAgent(cfg OpenAIConfig) *OpenAIAgent {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	tools := make([]openai.Tool, 0, len(cfg.Tools))
	for _, spec := range cfg.Tools {
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  spec.Parameters,
			},
		})
	}

	return &OpenAIAgent{
		client:   openai.NewClientWithConfig(clientCfg),
		model:    cfg.Model,
		greeting: cfg.Greeting,
		tools:    tools,
		messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: cfg.SystemPrompt},
		},
	}
}

// Initial implements Agent.
func (a *OpenAIAgent) Initial(ctx context.Context) (Completion, error) {
	if a.greeting != "" {
		a.mu.Lock()
		a.messages = append(a.messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleAssistant,
			Content: a.greeting,
		})
		a.mu.Unlock()
		return Completion{Text: a.greeting}, nil
	}
	// Silent-wait mode: no utterance until the user speaks.
	return Completion{}, nil
}

// Completion implements Agent.
func (a *OpenAIAgent) Completion(ctx context.Context, transcript string) (Completion, error) {
	a.mu.Lock()
	a.messages = append(a.messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: transcript,
	})
	a.mu.Unlock()
	return a.request(ctx)
}

// CallResult implements Agent.
func (a *OpenAIAgent) CallResult(ctx context.Context, results []ToolResult) (Completion, error) {
	a.mu.Lock()
	for _, res := range results {
		content := res.Result
		if res.Error != "" {
			content = res.Error
		}
		a.messages = append(a.messages, openai.ChatCompletionMessage{
			Role:       openai.ChatMessageRoleTool,
			ToolCallID: res.ID,
			Name:       res.Name,
			Content:    content,
		})
	}
	a.mu.Unlock()
	return a.request(ctx)
}

func (a *OpenAIAgent) request(ctx context.Context) (Completion, error) {
	a.mu.Lock()
	req := openai.ChatCompletionRequest{
		Model:    a.model,
		Messages: a.messages,
		Tools:    a.tools,
	}
	a.mu.Unlock()

	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		logger.Error("chat completion failed", zap.Error(err))
		return Completion{}, err
	}
	if len(resp.Choices) == 0 {
		return Completion{}, nil
	}
	msg := resp.Choices[0].Message

	a.mu.Lock()
	a.messages = append(a.messages, msg)
	a.mu.Unlock()

	completion := Completion{}
	for _, tc := range msg.ToolCalls {
		call := ToolCall{ID: tc.ID, Name: tc.Function.Name}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &call.Input); err != nil {
				logger.Warn("unparseable tool arguments",
					zap.String("tool", tc.Function.Name),
					zap.Error(err))
			}
		}
		completion.Calls = append(completion.Calls, call)
	}

	completion.Text, completion.Data, completion.Hangup = parseContent(msg.Content)
	return completion, nil
}

// parseContent strips the in-band markers from a model utterance: an
// embedded fenced JSON data block and the hangup token.
func parseContent(content string) (text string, data map[string]any, hangup bool) {
	text = content
	if m := dataBlock.FindStringSubmatch(text); m != nil {
		var parsed map[string]any
		if err := json.Unmarshal([]byte(m[1]), &parsed); err == nil {
			data = parsed
			text = strings.Replace(text, m[0], "", 1)
		}
	}
	if strings.Contains(text, hangupToken) {
		hangup = true
		text = strings.ReplaceAll(text, hangupToken, "")
	}
	return strings.TrimSpace(text), data, hangup
}

// History implements Agent.
func (a *OpenAIAgent) History() []Turn {
	a.mu.Lock()
	defer a.mu.Unlock()
	turns := make([]Turn, 0, len(a.messages))
	for _, msg := range a.messages {
		if msg.Content == "" {
			continue
		}
		switch msg.Role {
		case openai.ChatMessageRoleUser:
			turns = append(turns, Turn{Role: "user", Content: msg.Content})
		case openai.ChatMessageRoleAssistant:
			turns = append(turns, Turn{Role: "assistant", Content: msg.Content})
		}
	}
	return turns
}

// Close implements Agent.
func (a *OpenAIAgent) Close() error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	return nil
}

var _ Agent = (*OpenAIAgent)(nil)
