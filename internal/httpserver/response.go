package httpserver

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront/internal/domain"
)

const retryMessage = "the service is temporarily unavailable, please try again"

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (h *handler) respond(c *gin.Context, status int, body any) {
	h.writeCookies(c)
	if body == nil {
		c.Status(status)
		return
	}
	c.JSON(status, body)
}

func (h *handler) fail(c *gin.Context, err error) {
	status, body := errorResponse(err)
	if status >= http.StatusInternalServerError {
		h.logger.Printf("http: %s %s status=%d err=%v", c.Request.Method, c.FullPath(), status, err)
	}
	h.writeCookies(c)
	c.AbortWithStatusJSON(status, gin.H{"error": body})
}

func errorResponse(err error) (int, errorBody) {
	kind := domain.KindOf(err)
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest, errorBody{Kind: kind.String(), Message: domain.MessageOf(err)}
	case domain.KindInvalidChallenge:
		return http.StatusBadRequest, errorBody{Kind: kind.String(), Message: domain.MessageOf(err)}
	case domain.KindRejected:
		return http.StatusUnprocessableEntity, errorBody{Kind: kind.String(), Message: domain.MessageOf(err)}
	case domain.KindUnauthorized:
		return http.StatusUnauthorized, errorBody{Kind: kind.String(), Message: domain.MessageOf(err)}
	case domain.KindUpstream:
		return http.StatusBadGateway, errorBody{Kind: kind.String(), Message: retryMessage}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable, errorBody{Kind: "cancelled", Message: retryMessage}
	}
	return http.StatusInternalServerError, errorBody{Kind: "internal", Message: "internal error"}
}

// bindJSON decodes the request body, reporting binding failures as validation
// errors.
func bindJSON(c *gin.Context, op string, v any) error {
	if err := c.ShouldBindJSON(v); err != nil {
		return domain.Validation(op, "invalid request body: %v", err)
	}
	return nil
}
