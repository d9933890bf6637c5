package checkout

import (
	"context"
	"errors"
	"log/slog"

	"checkout-service/internal/apperr"
	"checkout-service/internal/orders"
	"checkout-service/internal/payments"
	"checkout-service/pkg/ctxmanage"
	"checkout-service/pkg/logkey"
)

// OrderWriter persists the provisional order for a hosted session.
type OrderWriter interface {
	CreateOrder(ctx context.Context, n orders.NewOrder) (orders.Order, error)
}

type Request struct {
	Items         []ItemRequest
	CustomerEmail string
}

type Session struct {
	ID      string
	URL     string
	OrderID int64
}

type Service struct {
	validator *Validator
	orders    OrderWriter
	gateway   payments.Gateway
	siteURL   string
}

func NewService(c CatalogReader, o OrderWriter, g payments.Gateway, siteURL string) *Service {
	return &Service{
		validator: NewValidator(c),
		orders:    o,
		gateway:   g,
		siteURL:   siteURL,
	}
}

func (s *Service) SuccessURL() string {
	return s.siteURL + "/checkout/success?session_id={CHECKOUT_SESSION_ID}"
}

func (s *Service) CancelURL() string {
	return s.siteURL + "/checkout/cancel"
}

// CreateSession validates the request, opens a hosted session with the
// payment provider and records a pending order for it. The provider call
// happens before any transaction is opened; when it fails no order exists.
func (s *Service) CreateSession(ctx context.Context, req Request) (Session, error) {
	traceId := ctxmanage.TraceIdFromContext(ctx)

	// Reject the request before anything leaves the process
	lineItems, err := s.validator.Validate(ctx, req.Items)
	if err != nil {
		return Session{}, err
	}

	sreq := payments.SessionRequest{
		SuccessURL:    s.SuccessURL(),
		CancelURL:     s.CancelURL(),
		CustomerEmail: req.CustomerEmail,
	}
	for _, li := range lineItems {
		sreq.LineItems = append(sreq.LineItems, payments.LineItem{
			ProductID:  li.ProductID,
			SKU:        li.SKU,
			Name:       li.Name,
			Currency:   li.Currency,
			UnitAmount: li.UnitAmount,
			Quantity:   li.Quantity,
			ImageURL:   li.ImageURL,
		})
	}

	// No transaction is open during the provider call
	hosted, err := s.gateway.CreateHostedSession(ctx, sreq)
	if err != nil {
		if errors.Is(err, payments.ErrNotConfigured) {
			return Session{}, apperr.Unavailable("STRIPE_SECRET_KEY is not configured.")
		}
		slog.Error("error creating Stripe checkout session", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		return Session{}, apperr.Gateway("Stripe error: failed to create checkout session", err)
	}

	// Snapshot what was charged onto the pending order
	n := orders.NewOrder{
		SessionID: hosted.ID,
		Currency:  lineItems[0].Currency,
	}
	if req.CustomerEmail != "" {
		email := req.CustomerEmail
		n.CustomerEmail = &email
	}
	for _, li := range lineItems {
		n.Items = append(n.Items, orders.NewOrderItem{
			ProductID:      li.ProductID,
			SKU:            li.SKU,
			Name:           li.Name,
			UnitPriceCents: li.UnitAmount,
			Quantity:       li.Quantity,
			Currency:       li.Currency,
		})
	}

	o, err := s.orders.CreateOrder(ctx, n)
	if err != nil {
		slog.Error("error creating order", slog.String(logkey.TraceID, traceId),
			slog.String(logkey.SessionID, hosted.ID), slog.String(logkey.ERROR, err.Error()))
		return Session{}, apperr.Internal("Failed to create order", err)
	}

	slog.Info("checkout session created", slog.String(logkey.TraceID, traceId),
		slog.String(logkey.SessionID, hosted.ID), slog.Int64(logkey.OrderID, o.ID),
		slog.Int64("TotalCents", o.TotalCents))
	return Session{ID: hosted.ID, URL: hosted.URL, OrderID: o.ID}, nil
}
