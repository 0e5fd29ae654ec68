package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseContent_PlainText(t *testing.T) {
	text, data, hangup := parseContent("Your order ships tomorrow.")
	assert.Equal(t, "Your order ships tomorrow.", text)
	assert.Nil(t, data)
	assert.False(t, hangup)
}

func TestParseContent_HangupToken(t *testing.T) {
	text, data, hangup := parseContent("Thanks for calling, goodbye. @HANGUP")
	assert.Equal(t, "Thanks for calling, goodbye.", text)
	assert.Nil(t, data)
	assert.True(t, hangup)
}

func TestParseContent_BareHangup(t *testing.T) {
	text, _, hangup := parseContent("@HANGUP")
	assert.Empty(t, text)
	assert.True(t, hangup)
}

func TestParseContent_DataBlock(t *testing.T) {
	content := "All booked.\n```json\n{\"booking\": \"B-17\", \"slots\": 2}\n```"
	text, data, hangup := parseContent(content)
	assert.Equal(t, "All booked.", text)
	assert.False(t, hangup)
	require.NotNil(t, data)
	assert.Equal(t, "B-17", data["booking"])
	assert.Equal(t, float64(2), data["slots"])
}

func TestParseContent_DataBlockWithHangup(t *testing.T) {
	content := "Done, goodbye. @HANGUP\n```json\n{\"outcome\": \"resolved\"}\n```"
	text, data, hangup := parseContent(content)
	assert.Equal(t, "Done, goodbye.", text)
	assert.True(t, hangup)
	require.NotNil(t, data)
	assert.Equal(t, "resolved", data["outcome"])
}

func TestParseContent_MalformedDataBlockKeptAsText(t *testing.T) {
	content := "Here you go ```json\n{broken\n```"
	text, data, _ := parseContent(content)
	assert.Nil(t, data)
	// An unparseable block is not silently swallowed.
	assert.Contains(t, text, "broken")
}

func TestOpenAIAgent_InitialGreeting(t *testing.T) {
	a := NewOpenAIAgent(OpenAIConfig{
		Model:        "gpt-4o",
		SystemPrompt: "You are a phone agent.",
		Greeting:     "Hello, thanks for calling.",
	})

	completion, err := a.Initial(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Hello, thanks for calling.", completion.Text)
	assert.False(t, completion.Hangup)

	// The greeting seeds the conversation history.
	history := a.History()
	require.Len(t, history, 1)
	assert.Equal(t, Turn{Role: "assistant", Content: "Hello, thanks for calling."}, history[0])
}

func TestOpenAIAgent_InitialSilentWait(t *testing.T) {
	a := NewOpenAIAgent(OpenAIConfig{Model: "gpt-4o"})

	completion, err := a.Initial(context.Background())
	require.NoError(t, err)
	assert.Empty(t, completion.Text)
	assert.Empty(t, a.History())
}

func TestOpenAIAgent_HistorySkipsSystemPrompt(t *testing.T) {
	a := NewOpenAIAgent(OpenAIConfig{
		Model:        "gpt-4o",
		SystemPrompt: "You are a phone agent.",
		Greeting:     "Hi.",
	})
	_, err := a.Initial(context.Background())
	require.NoError(t, err)

	for _, turn := range a.History() {
		assert.NotEqual(t, "You are a phone agent.", turn.Content)
	}
}
