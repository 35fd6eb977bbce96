// Package transform converts the upstream's phase-tagged, markup-laden
// text deltas into clean OpenAI-style content and reasoning channels.
package transform

import "fmt"

// Mode selects how thinking-phase text is presented downstream
type Mode string

const (
	// ModeReasoning routes thinking to reasoning_content, markers removed
	ModeReasoning Mode = "reasoning"
	// ModeThink routes thinking to reasoning_content wrapped in <think> tags
	ModeThink Mode = "think"
	// ModeStrip drops thinking-phase text entirely
	ModeStrip Mode = "strip"
	// ModeDetails inlines thinking into content as a collapsible block
	ModeDetails Mode = "details"
	// ModeDefault passes the canonical markers through verbatim
	ModeDefault Mode = "default"
)

// ParseMode validates a configuration string
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeReasoning, ModeThink, ModeStrip, ModeDetails, ModeDefault:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown presentation mode %q", s)
}
