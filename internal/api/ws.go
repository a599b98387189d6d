package api

import (
	"net/http"
	"time"

	"launchpad/internal/logging"
	"launchpad/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Cross-origin is fine here: the stream carries the same public
	// data as the status endpoint.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	streamPollInterval = 2 * time.Second
	streamMaxDuration  = 15 * time.Minute
	writeWait          = 5 * time.Second
)

// statusStream pushes status snapshots over a websocket until the
// deployment settles or the client goes away. Each tick reuses the
// convergent poll, so watching a deployment also advances it.
func (h *Handler) statusStream(c *gin.Context) {
	deploymentID := c.Param("deployment_id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// Drain client frames so pings and close frames get processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamPollInterval)
	defer ticker.Stop()
	deadline := time.Now().Add(streamMaxDuration)

	var lastStatus models.DeploymentStatus
	for {
		rec, err := h.service.Refresh(c.Request.Context(), deploymentID)
		if err != nil {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteJSON(gin.H{"error": "deployment not found"})
			return
		}

		if rec.Status != lastStatus {
			lastStatus = rec.Status
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(statusBody(rec)); err != nil {
				return
			}
		}

		if rec.Status == models.StatusActive || rec.Status.Terminal() {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "settled"))
			return
		}
		if time.Now().After(deadline) {
			logging.S().Debugw("status stream deadline reached", "deployment_id", deploymentID)
			return
		}

		select {
		case <-ticker.C:
		case <-c.Request.Context().Done():
			return
		}
	}
}
