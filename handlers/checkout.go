package handlers

import (
	"log/slog"
	"net/http"

	"checkout-service/internal/checkout"
	"checkout-service/pkg/ctxmanage"
	"checkout-service/pkg/logkey"

	"github.com/gin-gonic/gin"
)

const maxCheckoutBody = 16 * 1024

type checkoutItem struct {
	ID       int64 `json:"id" validate:"required"`
	Quantity int   `json:"quantity"`
}

type checkoutRequest struct {
	Items []checkoutItem `json:"items" validate:"required,min=1,dive"`
	Email string         `json:"email" validate:"omitempty,email"`
}

type checkoutResponse struct {
	CheckoutSessionID string `json:"checkout_session_id"`
	CheckoutURL       string `json:"checkout_url"`
}

func (h *Handler) CreateCheckoutSession(c *gin.Context) {
	// Get the traceId from the request for tracking logs
	traceId := ctxmanage.GetTraceIdOfRequest(c)

	// Limit the request body size
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxCheckoutBody)

	// Bind JSON payload to the request struct
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.Error("json validation error", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": http.StatusText(http.StatusBadRequest)})
		return
	}
	if len(req.Items) == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "No items provided"})
		return
	}
	// Validate ids and email, quantities are checked against stock by the service
	if err := h.validate.Struct(req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": validationMessage(err)})
		return
	}

	// Map the wire items onto the checkout request
	creq := checkout.Request{CustomerEmail: req.Email}
	for _, it := range req.Items {
		creq.Items = append(creq.Items, checkout.ItemRequest{ProductID: it.ID, Quantity: it.Quantity})
	}

	// Open the hosted session and record the pending order
	sess, err := h.checkout.CreateSession(c.Request.Context(), creq)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, checkoutResponse{CheckoutSessionID: sess.ID, CheckoutURL: sess.URL})
}
