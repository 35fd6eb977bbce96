package transform

import "strings"

// Phase values tracked by the extractor; mirror the upstream wire values.
const (
	phaseThinking = "thinking"
	phaseAnswer   = "answer"
)

// Delta is the output of one extraction: at most one of the two channels
// is populated.
type Delta struct {
	Content   string
	Reasoning string
}

// Extractor is the per-stream phase state machine. One Extractor belongs
// to exactly one request; the last observed phase lives here and is never
// shared across streams.
type Extractor struct {
	mode     Mode
	thinking bool
	phase    string
}

// NewExtractor creates an extractor for a stream. thinkingModel marks
// whether the target model emits a thinking phase at all; for models that
// do not, text passes through untouched.
func NewExtractor(mode Mode, thinkingModel bool) *Extractor {
	return &Extractor{
		mode:     mode,
		thinking: thinkingModel,
		phase:    phaseThinking,
	}
}

// Extract converts one event's text into a delta. deltaContent wins over
// editContent; an event carrying neither produces nil and leaves the
// tracked phase untouched.
func (e *Extractor) Extract(phase, deltaContent, editContent string) *Delta {
	text := deltaContent
	if text == "" {
		text = editContent
	}
	if text == "" {
		return nil
	}

	if !e.thinking {
		e.phase = phase
		return &Delta{Content: text}
	}

	text, emit := normalize(phase, e.phase, text)
	e.phase = phase
	if !emit || text == "" {
		return nil
	}

	handler, ok := modeHandlers[e.mode]
	if !ok {
		handler = handleDefault
	}
	return handler(phase, text)
}

// One handler per presentation mode; adding a mode means adding a row.
var modeHandlers = map[Mode]func(phase, text string) *Delta{
	ModeReasoning: handleReasoning,
	ModeThink:     handleThink,
	ModeStrip:     handleStrip,
	ModeDetails:   handleDetails,
	ModeDefault:   handleDefault,
}

func handleReasoning(phase, text string) *Delta {
	text = stripMarkers(text)
	if text == "" {
		return nil
	}
	if phase == phaseThinking {
		return &Delta{Reasoning: text}
	}
	return &Delta{Content: text}
}

func handleThink(phase, text string) *Delta {
	text = strings.ReplaceAll(text, reasoningOpen, "<think>")
	text = strings.ReplaceAll(text, reasoningClose, "</think>")
	if phase == phaseThinking {
		return &Delta{Reasoning: text}
	}
	return &Delta{Content: text}
}

func handleStrip(phase, text string) *Delta {
	if phase == phaseThinking {
		return nil
	}
	text = stripMarkers(text)
	if text == "" {
		return nil
	}
	return &Delta{Content: text}
}

func handleDetails(phase, text string) *Delta {
	text = strings.ReplaceAll(text, reasoningOpen, "<details open><summary>Thinking</summary>\n")
	text = strings.ReplaceAll(text, reasoningClose, "\n</details>")
	return &Delta{Content: text}
}

func handleDefault(phase, text string) *Delta {
	if phase == phaseThinking {
		return &Delta{Reasoning: text}
	}
	return &Delta{Content: text}
}
