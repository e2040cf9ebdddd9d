package handlers

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/customeros/mailstack/internal/orchestrator"
)

// Events streams every response the orchestrator produces as
// server-sent events (spec.md §6's "signal fan-out to clients"), until the
// client disconnects.
func Events(o *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		ch, err := o.Events(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")

		c.Stream(func(w io.Writer) bool {
			resp, ok := <-ch
			if !ok {
				return false
			}
			fmt.Fprintf(w, "event: %s\ndata: {\"action\":%d}\n\n", resp.Kind, resp.Action)
			return true
		})
	}
}
