package pipeline

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ghosthk/zai2api/internal/models"
	"github.com/ghosthk/zai2api/internal/upstream"
)

const toolInstructions = `When you decide to call a function, reply with exactly one JSON object inside a json code fence, in this shape and nothing else:

` + "```json" + `
{"tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "<function name>", "arguments": "{\"<param>\": <value>}"}}]}
` + "```" + `

The arguments value must be a JSON-encoded string. If no function is needed, answer normally.`

// toolChoiceMode interprets the request's tool_choice directive. It
// returns "none", "auto", "required" or "function" plus the named
// function for the last case.
func toolChoiceMode(raw json.RawMessage) (string, string) {
	if len(raw) == 0 {
		return "auto", ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch s {
		case "none", "auto", "required":
			return s, ""
		}
		return "auto", ""
	}
	var obj struct {
		Type     string `json:"type"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Function.Name != "" {
		return "function", obj.Function.Name
	}
	return "auto", ""
}

// BuildMessages produces the outgoing upstream conversation: multi-part
// content flattened, tool-result roles rewritten, and, when withTools is
// set, the tool catalog injected into the system message plus a choice
// nudge on the trailing user message.
func BuildMessages(req *models.ChatCompletionRequest, withTools bool) []upstream.ChatMessage {
	out := make([]upstream.ChatMessage, 0, len(req.Messages)+1)
	for _, msg := range req.Messages {
		out = append(out, convertMessage(msg))
	}

	if !withTools || len(req.Tools) == 0 {
		return out
	}

	catalog := renderToolPrompt(req.Tools)
	injected := false
	for i := range out {
		if out[i].Role == "system" {
			out[i].Content += catalog
			injected = true
			break
		}
	}
	if !injected {
		out = append([]upstream.ChatMessage{{Role: "system", Content: strings.TrimSpace(catalog)}}, out...)
	}

	mode, fnName := toolChoiceMode(req.ToolChoice)
	nudge := ""
	switch mode {
	case "required":
		nudge = "\n\nYou must call one of the provided functions to answer this."
	case "function":
		nudge = fmt.Sprintf("\n\nYou must call the function %q to answer this.", fnName)
	case "auto":
		nudge = "\n\nCall one of the provided functions if it helps, otherwise answer directly."
	}
	if nudge != "" {
		for i := len(out) - 1; i >= 0; i-- {
			if out[i].Role == "user" {
				out[i].Content += nudge
				break
			}
		}
	}
	return out
}

// convertMessage flattens one inbound message for the upstream, which has
// no native tool-result role: tool results become assistant messages
// quoting the payload as a fenced JSON block.
func convertMessage(msg models.ChatMessage) upstream.ChatMessage {
	text := msg.Content.Flatten()

	switch msg.Role {
	case "tool", "function":
		name := msg.Name
		if name == "" {
			name = msg.ToolCallID
		}
		if name == "" {
			name = "tool"
		}
		return upstream.ChatMessage{
			Role:    "assistant",
			Content: fmt.Sprintf("Function %s returned:\n```json\n%s\n```", name, text),
		}
	case "assistant":
		if len(msg.ToolCalls) > 0 && text == "" {
			var b strings.Builder
			for i, call := range msg.ToolCalls {
				if i > 0 {
					b.WriteString("\n")
				}
				fmt.Fprintf(&b, "Called function %s with arguments %s", call.Function.Name, call.Function.Arguments)
			}
			text = b.String()
		}
	}
	return upstream.ChatMessage{Role: msg.Role, Content: text}
}

// renderToolPrompt writes the textual tool catalog plus the fixed reply
// shape instructions.
func renderToolPrompt(tools []openai.Tool) string {
	var b strings.Builder
	b.WriteString("\n\n# Available Functions\n\n")
	for _, tool := range tools {
		if tool.Type != openai.ToolTypeFunction || tool.Function == nil {
			continue
		}
		fmt.Fprintf(&b, "## %s\n", tool.Function.Name)
		if tool.Function.Description != "" {
			b.WriteString(tool.Function.Description)
			b.WriteString("\n")
		}
		writeParamDocs(&b, tool.Function.Parameters)
		b.WriteString("\n")
	}
	b.WriteString(toolInstructions)
	return b.String()
}

func writeParamDocs(b *strings.Builder, parameters any) {
	schema, ok := parameters.(map[string]any)
	if !ok {
		return
	}
	props, ok := schema["properties"].(map[string]any)
	if !ok || len(props) == 0 {
		return
	}
	required := map[string]bool{}
	if reqList, ok := schema["required"].([]any); ok {
		for _, r := range reqList {
			if name, ok := r.(string); ok {
				required[name] = true
			}
		}
	}
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	b.WriteString("Parameters:\n")
	for _, name := range names {
		prop, _ := props[name].(map[string]any)
		typ, _ := prop["type"].(string)
		if typ == "" {
			typ = "any"
		}
		desc, _ := prop["description"].(string)
		need := "optional"
		if required[name] {
			need = "required"
		}
		if desc != "" {
			fmt.Fprintf(b, "- %s (%s, %s): %s\n", name, typ, need, desc)
		} else {
			fmt.Fprintf(b, "- %s (%s, %s)\n", name, typ, need)
		}
	}
}
