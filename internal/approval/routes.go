package approval

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes wires the console WebSocket feed and the approve/
// reject HTTP endpoints onto r.
func (h *Hub) RegisterRoutes(r gin.IRouter) {
	r.GET("/approvals/ws", func(c *gin.Context) {
		h.HandleWebSocket(c.Writer, c.Request)
	})

	r.GET("/approvals", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"pending": h.Pending()})
	})

	r.POST("/approvals/:id/approve", func(c *gin.Context) {
		h.decide(c, true)
	})

	r.POST("/approvals/:id/reject", func(c *gin.Context) {
		h.decide(c, false)
	})
}

func (h *Hub) decide(c *gin.Context, approved bool) {
	id := c.Param("id")
	if err := h.Decide(id, approved); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "approved": approved})
}
