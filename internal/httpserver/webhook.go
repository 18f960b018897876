package httpserver

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront/internal/domain"
	webhooksvc "storefront/internal/service/webhook"
)

const maxWebhookBody = 1 << 20

// webhook receives commerce platform notifications. The body is read raw
// because the signature covers the exact bytes sent.
func (h *handler) webhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
		return
	}

	outcome, err := h.webhooks.Handle(c.Request.Context(), webhooksvc.Notification{
		Topic:      c.GetHeader(webhooksvc.HeaderTopic),
		DeliveryID: c.GetHeader(webhooksvc.HeaderDeliveryID),
		Signature:  c.GetHeader(webhooksvc.HeaderSignature),
		Body:       body,
	})
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"result": outcome})
	case errors.Is(err, domain.ErrUnauthorized):
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
	case errors.Is(err, domain.ErrValidation):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": domain.MessageOf(err)})
	default:
		h.logger.Printf("webhook: apply topic=%s err=%v", c.GetHeader(webhooksvc.HeaderTopic), err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "temporary failure"})
	}
}
