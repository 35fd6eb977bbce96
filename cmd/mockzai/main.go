// mockzai is a local stand-in for the chat upstream: it speaks the
// line-delimited event schema (phase/delta_content/done) so the proxy can
// be exercised without network access.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ghosthk/zai2api/internal/upstream"
)

func main() {
	port := flag.String("port", "8001", "Port to run the mock upstream on")
	flag.Parse()

	r := gin.Default()

	r.GET("/api/v1/auths/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"token": "mock-anonymous-token"})
	})

	r.GET("/api/models", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"data": []gin.H{
				{"id": "0727-360B-API", "name": "GLM-4.5", "info": gin.H{"created_at": 1753228800}},
				{"id": "main_chat", "name": "GLM-4-32B", "info": gin.H{"created_at": 1744588800}},
			},
		})
	})

	r.POST("/api/chat/completions", func(c *gin.Context) {
		var req upstream.ChatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		c.Header("Content-Type", "text/event-stream; charset=utf-8")
		flusher := c.Writer.(http.Flusher)

		events := []upstream.Event{
			{Type: "chat:completion", Data: upstream.EventData{Phase: upstream.PhaseThinking, DeltaContent: "<details type=\"reasoning\" open>Let me think about this."}},
			{Type: "chat:completion", Data: upstream.EventData{Phase: upstream.PhaseThinking, DeltaContent: "\n> Working through the question."}},
			{Type: "chat:completion", Data: upstream.EventData{Phase: upstream.PhaseAnswer, DeltaContent: "</details>Here is a mock answer from " + req.Model + "."}},
			{Type: "chat:completion", Data: upstream.EventData{Done: true}},
		}
		for _, ev := range events {
			payload, _ := json.Marshal(ev)
			fmt.Fprintf(c.Writer, "data: %s\n\n", payload)
			flusher.Flush()
			time.Sleep(100 * time.Millisecond)
		}
	})

	if err := r.Run(":" + *port); err != nil {
		log.Fatal(err)
	}
}
