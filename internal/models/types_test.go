package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageContent_UnmarshalString(t *testing.T) {
	var msg ChatMessage
	err := json.Unmarshal([]byte(`{"role":"user","content":"hello"}`), &msg)
	require.NoError(t, err)
	assert.Equal(t, "user", msg.Role)
	assert.Equal(t, "hello", msg.Content.Flatten())
}

func TestMessageContent_UnmarshalParts(t *testing.T) {
	raw := `{"role":"user","content":[
		{"type":"text","text":"describe this"},
		{"type":"image_url","image_url":{"url":"https://example.com/cat.png"}}
	]}`
	var msg ChatMessage
	err := json.Unmarshal([]byte(raw), &msg)
	require.NoError(t, err)
	require.Len(t, msg.Content.Parts, 2)
	assert.Equal(t, "describe this\nhttps://example.com/cat.png", msg.Content.Flatten())
}

func TestMessageContent_MarshalRoundTrip(t *testing.T) {
	var msg ChatMessage
	require.NoError(t, json.Unmarshal([]byte(`{"role":"user","content":"hi"}`), &msg))
	out, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"user","content":"hi"}`, string(out))
}

func TestMessageContent_UnmarshalInvalid(t *testing.T) {
	var msg ChatMessage
	err := json.Unmarshal([]byte(`{"role":"user","content":42}`), &msg)
	assert.Error(t, err)
}

func TestResponseMessage_NullContent(t *testing.T) {
	out, err := json.Marshal(ResponseMessage{Role: "assistant", Content: nil})
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"assistant","content":null}`, string(out))
}

func TestDelta_EmptyMarshalsAsEmptyObject(t *testing.T) {
	out, err := json.Marshal(Delta{})
	require.NoError(t, err)
	assert.Equal(t, "{}", string(out))
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"single latin run", "hello", 1},
		{"two latin runs", "hello world", 3}, // run + space(0.5) + run, ceil(2.5)
		{"cjk", "你好", 3},                    // 1.5 * 2
		{"digits", "12", 1},                 // 0.5 * 2
		{"mixed", "ab 你", 3},                // 1 + 0.5 + 1.5
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EstimateTokens(tt.text))
		})
	}
}

func TestEstimateUsage(t *testing.T) {
	u := EstimateUsage("hello", "world")
	assert.Equal(t, 1, u.PromptTokens)
	assert.Equal(t, 1, u.CompletionTokens)
	assert.Equal(t, 2, u.TotalTokens)
}
