// Package toolcall detects tool-call payloads that the upstream model
// emits as free-form text instead of structured fields.
package toolcall

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	gonanoid "github.com/matoous/go-nanoid/v2"
	openai "github.com/sashabaranov/go-openai"
	"github.com/tidwall/gjson"
)

var (
	fenceRe  = regexp.MustCompile("(?s)```(?:json)?[ \t]*\\r?\\n?(\\{.*?\\})[ \t]*\\r?\\n?```")
	callFnRe = regexp.MustCompile(`(?i)call\s+function\s*[:：]\s*([A-Za-z0-9_.\-]+)\s*[,，]\s*arguments\s*[:：]\s*`)
)

// Extractor scans a bounded prefix of model output for tool-call
// payloads. The limit caps work on pathological outputs.
type Extractor struct {
	limit int
}

// NewExtractor creates an extractor scanning at most limit bytes
func NewExtractor(limit int) *Extractor {
	return &Extractor{limit: limit}
}

// Extract returns the tool calls found in text, or nil. Detection tries
// fenced JSON blocks first, then an inline object containing a tool_calls
// field, then the textual "call function: name, arguments: {...}" form.
func (e *Extractor) Extract(text string) []openai.ToolCall {
	calls, _ := e.scan(e.clip(text))
	return calls
}

// Strip removes only the payloads Extract would match, leaves other prose
// untouched and trims the result. Text without payloads comes back as its
// trimmed self.
func (e *Extractor) Strip(text string) string {
	clipped := e.clip(text)
	_, spans := e.scan(clipped)
	if len(spans) == 0 {
		return strings.TrimSpace(text)
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i][0] < spans[j][0] })
	var b strings.Builder
	last := 0
	for _, sp := range spans {
		if sp[0] < last {
			continue
		}
		b.WriteString(text[last:sp[0]])
		last = sp[1]
	}
	b.WriteString(text[last:])
	return strings.TrimSpace(b.String())
}

// scan returns the extracted calls and the byte spans their source JSON
// occupies in text. First matching strategy wins.
func (e *Extractor) scan(text string) ([]openai.ToolCall, [][2]int) {
	// 1. fenced JSON code blocks
	var calls []openai.ToolCall
	var spans [][2]int
	for _, m := range fenceRe.FindAllStringSubmatchIndex(text, -1) {
		payload := text[m[2]:m[3]]
		if parsed := parsePayload(payload); len(parsed) > 0 {
			calls = append(calls, parsed...)
			spans = append(spans, [2]int{m[0], m[1]})
		}
	}
	if len(calls) > 0 {
		return calls, spans
	}

	// 2. inline object carrying a tool_calls field
	if calls, span, ok := e.inline(text); ok {
		return calls, [][2]int{span}
	}

	// 3. textual function-call pattern
	if m := callFnRe.FindStringSubmatchIndex(text); m != nil {
		args, n, ok := balancedJSON(text[m[1]:])
		if ok && gjson.Valid(args) {
			call := openai.ToolCall{
				ID:   newCallID(),
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      text[m[2]:m[3]],
					Arguments: args,
				},
			}
			return []openai.ToolCall{call}, [][2]int{{m[0], m[1] + n}}
		}
	}

	return nil, nil
}

func (e *Extractor) inline(text string) ([]openai.ToolCall, [2]int, bool) {
	idx := strings.Index(text, `"tool_calls"`)
	if idx < 0 {
		return nil, [2]int{}, false
	}
	// Walk candidate object openers outward from the field name
	for start := strings.LastIndex(text[:idx], "{"); start >= 0; start = strings.LastIndex(text[:start], "{") {
		obj, n, ok := balancedJSON(text[start:])
		if !ok || start+n <= idx {
			continue
		}
		if calls := parsePayload(obj); len(calls) > 0 {
			return calls, [2]int{start, start + n}, true
		}
	}
	return nil, [2]int{}, false
}

// parsePayload accepts a JSON object with a tool_calls array and converts
// it. Anything that does not parse cleanly is treated as no match.
func parsePayload(payload string) []openai.ToolCall {
	if !gjson.Valid(payload) {
		return nil
	}
	arr := gjson.Get(payload, "tool_calls")
	if !arr.IsArray() {
		return nil
	}
	var calls []openai.ToolCall
	for _, item := range arr.Array() {
		name := item.Get("function.name").String()
		if name == "" {
			continue
		}
		args := item.Get("function.arguments")
		var argStr string
		switch {
		case args.Type == gjson.String:
			argStr = args.String()
		case args.Exists():
			argStr = args.Raw
		default:
			argStr = "{}"
		}
		if strings.TrimSpace(argStr) == "" {
			argStr = "{}"
		}
		if !gjson.Valid(argStr) {
			continue
		}
		id := item.Get("id").String()
		if id == "" {
			id = newCallID()
		}
		calls = append(calls, openai.ToolCall{
			ID:   id,
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      name,
				Arguments: argStr,
			},
		})
	}
	return calls
}

// balancedJSON returns the first complete JSON object at the start of s
// (leading whitespace allowed) and its end offset.
func balancedJSON(s string) (string, int, bool) {
	i := 0
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r') {
		i++
	}
	if i >= len(s) || s[i] != '{' {
		return "", 0, false
	}
	depth := 0
	inString := false
	escaped := false
	for j := i; j < len(s); j++ {
		c := s[j]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[i : j+1], j + 1, true
			}
		}
	}
	return "", 0, false
}

func (e *Extractor) clip(s string) string {
	if e.limit <= 0 || len(s) <= e.limit {
		return s
	}
	cut := e.limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func newCallID() string {
	id, err := gonanoid.New(12)
	if err != nil {
		return "call_fallback"
	}
	return "call_" + id
}
