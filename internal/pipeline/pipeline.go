// Package pipeline runs one chat completion end to end: it rewrites the
// inbound conversation, opens the upstream stream, feeds decoded events
// through the phase-aware extractor and synthesizes OpenAI-compatible
// output, streamed or buffered.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ghosthk/zai2api/internal/config"
	"github.com/ghosthk/zai2api/internal/logger"
	"github.com/ghosthk/zai2api/internal/models"
	"github.com/ghosthk/zai2api/internal/toolcall"
	"github.com/ghosthk/zai2api/internal/transform"
	"github.com/ghosthk/zai2api/internal/upstream"
)

// Pipeline translates chat completion requests against one upstream
type Pipeline struct {
	cfg      *config.Config
	client   *upstream.Client
	registry *upstream.Registry
	tools    *toolcall.Extractor
	mode     transform.Mode
	log      *logrus.Entry
}

// New builds a pipeline from configuration and upstream collaborators
func New(cfg *config.Config, client *upstream.Client, registry *upstream.Registry) (*Pipeline, error) {
	mode, err := transform.ParseMode(cfg.ThinkMode)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		cfg:      cfg,
		client:   client,
		registry: registry,
		tools:    toolcall.NewExtractor(cfg.ToolScanLimit),
		mode:     mode,
		log:      logger.WithComponent("pipeline"),
	}, nil
}

// requestState is the per-request stream state: identifiers, the phase
// state machine, and the buffering decision fixed at request start.
// Nothing here is shared between requests.
type requestState struct {
	id           string
	created      int64
	model        string
	extractor    *transform.Extractor
	buffered     bool
	includeUsage bool
	promptText   string
}

func (st *requestState) chunk(delta models.Delta, finish *string) models.StreamChunk {
	return models.StreamChunk{
		ID:      st.id,
		Object:  "chat.completion.chunk",
		Created: st.created,
		Model:   st.model,
		Choices: []models.StreamChoice{{Index: 0, Delta: delta, FinishReason: finish}},
	}
}

func (p *Pipeline) prepare(ctx context.Context, req *models.ChatCompletionRequest) (*requestState, *upstream.ChatRequest) {
	modelID := req.Model
	if modelID == "" {
		modelID = p.cfg.DefaultModel
	}
	info := p.registry.Lookup(ctx, modelID)

	choiceMode, _ := toolChoiceMode(req.ToolChoice)
	withTools := len(req.Tools) > 0 && p.cfg.ToolCallingEnabled() && choiceMode != "none"

	messages := BuildMessages(req, withTools)
	var prompt strings.Builder
	for _, m := range messages {
		prompt.WriteString(m.Content)
		prompt.WriteString("\n")
	}

	st := &requestState{
		id:           "chatcmpl-" + uuid.NewString(),
		created:      time.Now().Unix(),
		model:        modelID,
		extractor:    transform.NewExtractor(p.mode, info.Thinking),
		buffered:     withTools,
		includeUsage: req.StreamOptions != nil && req.StreamOptions.IncludeUsage,
		promptText:   prompt.String(),
	}
	upReq := &upstream.ChatRequest{
		Stream:   true,
		Model:    info.UpstreamID,
		Messages: messages,
		ChatID:   uuid.NewString(),
		ID:       uuid.NewString(),
		Features: map[string]any{"enable_thinking": info.Thinking},
	}
	return st, upReq
}

// Complete runs a non-streaming request: the whole upstream reply is
// buffered, tool calls extracted if requested, and one completion object
// returned.
func (p *Pipeline) Complete(ctx context.Context, req *models.ChatCompletionRequest) (*models.ChatCompletionResponse, error) {
	st, upReq := p.prepare(ctx, req)

	body, err := p.client.OpenStream(ctx, upReq)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var content, reasoning strings.Builder
	done := false
	for ev := range upstream.Decode(ctx, body) {
		if ev.Data.Error != nil {
			return nil, fmt.Errorf("upstream error %d: %s", ev.Data.Error.Code, ev.Data.Error.Detail)
		}
		if ev.Data.Done {
			done = true
			break
		}
		d := st.extractor.Extract(ev.Data.Phase, ev.Data.DeltaContent, ev.Data.EditContent)
		if d == nil {
			continue
		}
		content.WriteString(d.Content)
		reasoning.WriteString(d.Reasoning)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !done {
		return nil, fmt.Errorf("upstream stream ended before completion")
	}

	text := content.String()
	finish := "stop"
	message := models.ResponseMessage{
		Role:             "assistant",
		Content:          &text,
		ReasoningContent: reasoning.String(),
	}
	if st.buffered {
		if calls := p.tools.Extract(text); len(calls) > 0 {
			finish = "tool_calls"
			message.ToolCalls = calls
			stripped := p.tools.Strip(text)
			if stripped == "" {
				message.Content = nil
			} else {
				message.Content = &stripped
			}
		}
	}

	// Usage counts only the text actually delivered to the client
	completion := ""
	if message.Content != nil {
		completion = *message.Content
	}
	return &models.ChatCompletionResponse{
		ID:      st.id,
		Object:  "chat.completion",
		Created: st.created,
		Model:   st.model,
		Choices: []models.ChatCompletionChoice{{
			Index:        0,
			Message:      message,
			FinishReason: finish,
		}},
		Usage: models.EstimateUsage(st.promptText, message.ReasoningContent+completion),
	}, nil
}

// Stream runs a streaming request. An error is only returned before any
// output exists; after that, failures end the stream. A completed reply
// ends with a finish chunk before the channel closes, a truncated one
// does not, which is how the caller tells the two apart.
func (p *Pipeline) Stream(ctx context.Context, req *models.ChatCompletionRequest) (<-chan models.StreamChunk, error) {
	st, upReq := p.prepare(ctx, req)

	body, err := p.client.OpenStream(ctx, upReq)
	if err != nil {
		return nil, err
	}

	out := make(chan models.StreamChunk, 8)
	go p.run(ctx, st, body, out)
	return out, nil
}

func (p *Pipeline) run(ctx context.Context, st *requestState, body io.ReadCloser, out chan<- models.StreamChunk) {
	defer close(out)
	defer body.Close()

	log := p.log.WithFields(logrus.Fields{"request_id": st.id, "model": st.model})

	send := func(chunk models.StreamChunk) bool {
		select {
		case out <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !send(st.chunk(models.Delta{Role: "assistant"}, nil)) {
		return
	}

	var content, reasoning strings.Builder
	done := false
	for ev := range upstream.Decode(ctx, body) {
		if ev.Data.Error != nil {
			// No finish chunk after a failure: the truncation must stay
			// observable downstream.
			log.Errorf("upstream error %d mid-stream: %s", ev.Data.Error.Code, ev.Data.Error.Detail)
			return
		}
		if ev.Data.Done {
			done = true
			break
		}
		d := st.extractor.Extract(ev.Data.Phase, ev.Data.DeltaContent, ev.Data.EditContent)
		if d == nil {
			continue
		}
		content.WriteString(d.Content)
		reasoning.WriteString(d.Reasoning)
		if st.buffered {
			continue
		}
		if !send(st.chunk(models.Delta{Content: d.Content, ReasoningContent: d.Reasoning}, nil)) {
			return
		}
	}
	if ctx.Err() != nil {
		return
	}
	if !done {
		log.Error("upstream stream ended before completion")
		return
	}

	finish := "stop"
	if st.buffered {
		text := content.String()
		if calls := p.tools.Extract(text); len(calls) > 0 {
			finish = "tool_calls"
			for i := range calls {
				idx := i
				calls[i].Index = &idx
			}
			if !send(st.chunk(models.Delta{ToolCalls: calls}, nil)) {
				return
			}
		} else if stripped := p.tools.Strip(text); stripped != "" {
			if !send(st.chunk(models.Delta{Content: stripped}, nil)) {
				return
			}
		}
	}

	if !send(st.chunk(models.Delta{}, &finish)) {
		return
	}
	if st.includeUsage {
		send(models.StreamChunk{
			ID:      st.id,
			Object:  "chat.completion.chunk",
			Created: st.created,
			Model:   st.model,
			Choices: []models.StreamChoice{},
			Usage:   models.EstimateUsage(st.promptText, reasoning.String()+content.String()),
		})
	}
	log.Debug("stream finished")
}
