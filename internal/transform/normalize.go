package transform

import (
	"regexp"
	"strings"
)

// Canonical envelope the upstream's block markers normalize to
const (
	reasoningOpen  = "<reasoning>"
	reasoningClose = "</reasoning>"
)

var (
	detailsBlockRe = regexp.MustCompile(`(?s)<details[^>]*>.*?</details>`)
	summaryBlockRe = regexp.MustCompile(`(?s)<summary[^>]*>.*?</summary>`)
	detailsOpenRe  = regexp.MustCompile(`<details[^>]*>`)
)

// normalize runs the markup pipeline for one event's text. phase is the
// event's phase, prev the last phase observed on the stream. The second
// return value is false when the text is a duplicate reasoning tail that
// must be suppressed outright.
func normalize(phase, prev string, text string) (string, bool) {
	// Complete details blocks are residual reasoning: always duplicated in
	// the thinking phase, and in the answer phase whenever a closing
	// summary marker shows the block was replayed there or real answer
	// text already started before this event.
	if phase == phaseThinking || strings.Contains(text, "</summary>") ||
		(phase == phaseAnswer && prev == phaseAnswer) {
		text = detailsBlockRe.ReplaceAllString(text, "")
	}

	// Stray closing tags the upstream leaks into both phases
	text = strings.ReplaceAll(text, "</thinking>", "")
	text = strings.ReplaceAll(text, "<Full>", "")
	text = strings.ReplaceAll(text, "</Full>", "")

	if phase == phaseThinking {
		text = summaryBlockRe.ReplaceAllString(text, "")
	}

	// Normalize unpaired block markers into the canonical envelope
	text = detailsOpenRe.ReplaceAllString(text, reasoningOpen)
	text = strings.ReplaceAll(text, "</details>", reasoningClose)

	if phase == phaseAnswer {
		if i := strings.Index(text, reasoningClose); i >= 0 {
			after := text[i+len(reasoningClose):]
			if strings.TrimSpace(after) != "" {
				if prev != phaseThinking {
					// Replayed reasoning tail from a previous answer event
					return "", false
				}
				// Thinking→answer boundary: drop the duplicated reasoning
				// before the marker, keep the marker and the answer start.
				text = reasoningClose + strings.TrimSpace(after)
			}
		}
	}

	if phase == phaseThinking {
		text = strings.TrimPrefix(text, "> ")
		text = strings.ReplaceAll(text, "\n> ", "\n")
	}

	return text, true
}

func stripMarkers(text string) string {
	text = strings.ReplaceAll(text, reasoningOpen, "")
	return strings.ReplaceAll(text, reasoningClose, "")
}
