package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ghosthk/zai2api/internal/models"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleModels(c *gin.Context) {
	listed := s.registry.Models(c.Request.Context())
	data := make([]models.Model, 0, len(listed))
	for _, m := range listed {
		data = append(data, models.Model{
			ID:      m.ID,
			Object:  "model",
			Name:    m.Name,
			Created: m.Created,
			OwnedBy: m.OwnedBy,
		})
	}
	c.JSON(http.StatusOK, models.ModelList{Object: "list", Data: data})
}

func (s *Server) handleChatCompletions(c *gin.Context) {
	var req models.ChatCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: models.ErrorDetail{
				Message: err.Error(),
				Type:    "invalid_request_error",
			},
		})
		return
	}
	if len(req.Messages) == 0 {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: models.ErrorDetail{
				Message: "messages must not be empty",
				Type:    "invalid_request_error",
			},
		})
		return
	}

	if !req.Stream {
		resp, err := s.pipeline.Complete(c.Request.Context(), &req)
		if err != nil {
			s.log.WithError(err).Error("completion failed")
			c.JSON(http.StatusBadGateway, models.ErrorResponse{
				Error: models.ErrorDetail{
					Message: err.Error(),
					Type:    "upstream_error",
				},
			})
			return
		}
		c.JSON(http.StatusOK, resp)
		return
	}

	chunks, err := s.pipeline.Stream(c.Request.Context(), &req)
	if err != nil {
		s.log.WithError(err).Error("stream open failed")
		c.JSON(http.StatusBadGateway, models.ErrorResponse{
			Error: models.ErrorDetail{
				Message: err.Error(),
				Type:    "upstream_error",
			},
		})
		return
	}

	s.streamResponse(c, chunks)
}

// streamResponse forwards chunks as SSE frames, inserting a keep-alive
// comment whenever the upstream goes quiet for the heartbeat interval.
// The terminal sentinel is only written after a finish chunk: a stream
// that ends without one was truncated, and the connection just closes.
func (s *Server) streamResponse(c *gin.Context, chunks <-chan models.StreamChunk) {
	w := newSSEWriter(c.Writer)
	heartbeat := s.cfg.HeartbeatInterval.Std()
	timer := time.NewTimer(heartbeat)
	defer timer.Stop()

	finished := false
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				if finished {
					w.WriteDone()
				}
				return
			}
			for _, choice := range chunk.Choices {
				if choice.FinishReason != nil {
					finished = true
				}
			}
			if err := w.WriteEvent(chunk); err != nil {
				return
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(heartbeat)
		case <-timer.C:
			w.WriteComment("heartbeat")
			timer.Reset(heartbeat)
		case <-c.Request.Context().Done():
			return
		}
	}
}
