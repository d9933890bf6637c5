package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"checkout-service/internal/catalog"
	"checkout-service/pkg/ctxmanage"
	"checkout-service/pkg/logkey"

	"github.com/gin-gonic/gin"
)

func (h *Handler) ListProducts(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)

	products, err := h.catalog.ListActiveProducts(c.Request.Context())
	if err != nil {
		slog.Error("error listing products", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch products"})
		return
	}
	c.JSON(http.StatusOK, products)
}

func (h *Handler) GetProduct(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Product not found"})
		return
	}

	product, err := h.catalog.GetProduct(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Product not found"})
			return
		}
		slog.Error("error in retrieving product", slog.String(logkey.TraceID, traceId),
			slog.Int64(logkey.ProductID, id), slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch product"})
		return
	}
	if !product.Active {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Product not found"})
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *Handler) GetInventory(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Inventory not found for product"})
		return
	}

	inv, err := h.catalog.GetInventory(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Inventory not found for product"})
			return
		}
		slog.Error("error in retrieving inventory", slog.String(logkey.TraceID, traceId),
			slog.Int64(logkey.ProductID, id), slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch inventory"})
		return
	}
	c.JSON(http.StatusOK, inv)
}

type inventoryUpdateRequest struct {
	Quantity          *int `json:"quantity" validate:"omitempty,min=0"`
	LowStockThreshold *int `json:"low_stock_threshold" validate:"omitempty,min=0"`
}

func (h *Handler) UpdateInventory(c *gin.Context) {
	// Get the traceId from the request for tracking logs
	traceId := ctxmanage.GetTraceIdOfRequest(c)

	// Extract the product ID from the URL parameter
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Inventory not found for product"})
		return
	}

	// Bind the partial update, absent fields stay nil
	var req inventoryUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.Error("json validation error", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": http.StatusText(http.StatusBadRequest)})
		return
	}
	// Quantities must not be negative
	if err := h.validate.Struct(req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": validationMessage(err)})
		return
	}

	// Apply the update under the inventory row lock
	inv, err := h.catalog.UpdateInventory(c.Request.Context(), id, catalog.InventoryUpdate{
		Quantity:          req.Quantity,
		LowStockThreshold: req.LowStockThreshold,
	})
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Inventory not found for product"})
		return
	case errors.Is(err, catalog.ErrInvalidQuantity):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		slog.Error("error updating inventory", slog.String(logkey.TraceID, traceId),
			slog.Int64(logkey.ProductID, id), slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to update inventory"})
		return
	}

	slog.Info("inventory updated", slog.String(logkey.TraceID, traceId), slog.Int64(logkey.ProductID, id), slog.Int("Quantity", inv.Quantity))
	c.JSON(http.StatusOK, inv)
}
