package handlers

import (
	"io"
	"log/slog"
	"net/http"

	"checkout-service/pkg/ctxmanage"
	"checkout-service/pkg/logkey"

	"github.com/gin-gonic/gin"
)

const MaxBodyBytes = int64(65536)

func (h *Handler) StripeWebhook(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)

	// Limit the request body size
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodyBytes)
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		slog.Error("error reading webhook body", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Webhook Error: unable to read body"})
		return
	}

	// Verification failures are 400, anything else lets Stripe retry
	if _, err := h.webhooks.HandleEvent(c.Request.Context(), payload, c.GetHeader("Stripe-Signature")); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
