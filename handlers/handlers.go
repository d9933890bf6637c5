package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"

	"checkout-service/internal/apperr"
	"checkout-service/internal/catalog"
	"checkout-service/internal/checkout"
	"checkout-service/internal/reconcile"
	"checkout-service/middleware"
	"checkout-service/pkg/ctxmanage"
	"checkout-service/pkg/logkey"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

type Catalog interface {
	ListActiveProducts(ctx context.Context) ([]catalog.Product, error)
	GetProduct(ctx context.Context, id int64) (catalog.Product, error)
	GetInventory(ctx context.Context, productID int64) (catalog.Inventory, error)
	UpdateInventory(ctx context.Context, productID int64, upd catalog.InventoryUpdate) (catalog.Inventory, error)
}

type Checkout interface {
	CreateSession(ctx context.Context, req checkout.Request) (checkout.Session, error)
}

type Webhooks interface {
	HandleEvent(ctx context.Context, payload []byte, signature string) (reconcile.Result, error)
}

type Handler struct {
	catalog  Catalog
	checkout Checkout
	webhooks Webhooks
	validate *validator.Validate
}

func NewHandler(c Catalog, co Checkout, w Webhooks) *Handler {
	return &Handler{
		catalog:  c,
		checkout: co,
		webhooks: w,
		validate: validator.New(),
	}
}

// API builds the router. limiter may be nil to disable checkout rate limiting.
func API(endpointPrefix string, h *Handler, limiter *middleware.RateLimiter) *gin.Engine {
	mode := os.Getenv("GIN_MODE")
	if mode == gin.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	} else if mode != gin.TestMode {
		gin.SetMode(gin.DebugMode)
	}
	r := gin.New()
	r.Use(middleware.Logger(), gin.Recovery())

	r.GET("/", HealthCheck)
	r.GET("/ping", HealthCheck)
	v1 := r.Group(endpointPrefix)
	{
		v1.GET("/products", h.ListProducts)
		v1.GET("/products/:id", h.GetProduct)
		v1.GET("/inventory/:id", h.GetInventory)
		v1.PATCH("/inventory/:id", h.UpdateInventory)
		v1.POST("/checkout/session", limiter.Middleware(), h.CreateCheckoutSession)
		v1.POST("/webhooks/stripe", h.StripeWebhook)
	}
	return r
}

func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Healthy"})
}

// abortWithError writes err using its apperr classification.
func abortWithError(c *gin.Context, err error) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
	}
	c.AbortWithStatusJSON(status, gin.H{"error": apperr.Message(err)})
}

// validationMessage turns the first validator failure into a client message.
func validationMessage(err error) string {
	var vErrs validator.ValidationErrors
	if errors.As(err, &vErrs) && len(vErrs) > 0 {
		vErr := vErrs[0]
		switch vErr.Tag() {
		case "required":
			return vErr.Field() + " value missing"
		case "min":
			return vErr.Field() + " value is less than " + vErr.Param()
		case "email":
			return vErr.Field() + " is not a valid email"
		}
	}
	return http.StatusText(http.StatusBadRequest)
}
