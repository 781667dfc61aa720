package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"pop-reconciliation-backend/internal/services/intake"
	"pop-reconciliation-backend/internal/telemetry"
)

type WebhookHandler struct {
	intake      *intake.Service
	verifyToken string
}

func NewWebhookHandler(intakeService *intake.Service, verifyToken string) *WebhookHandler {
	return &WebhookHandler{intake: intakeService, verifyToken: verifyToken}
}

// Verify answers the subscription handshake.
func (h *WebhookHandler) Verify(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	if mode == "subscribe" && h.verifyToken != "" && token == h.verifyToken {
		c.String(http.StatusOK, c.Query("hub.challenge"))
		return
	}
	telemetry.Logger.Warn("Webhook verification failed", zap.String("mode", mode))
	c.String(http.StatusForbidden, "Forbidden")
}

// Receive acknowledges every well-formed delivery at once so the sender does
// not retry; messages are processed in the background.
func (h *WebhookHandler) Receive(c *gin.Context) {
	var payload intake.WebhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.String(http.StatusBadRequest, "Invalid JSON")
		return
	}

	n := h.intake.Dispatch(c.Request.Context(), payload)
	telemetry.Logger.Debug("Webhook delivery accepted", zap.Int("messages", n))
	c.String(http.StatusOK, "EVENT_RECEIVED")
}
