package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

var errPayloadTooLarge = errors.New("payload_too_large")

func (s *Server) HandleWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes)
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			AbortWithError(c, newValidationError("payload", errPayloadTooLarge.Error(), "webhook payload too large"))
			return
		}
		AbortWithError(c, invalidRequestError())
		return
	}

	ack, err := s.webhooks.IngestWebhook(c.Request.Context(), provider, payload, c.Request.Header)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, ack)
}
