package payments

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/checkout/session"
	"github.com/stripe/stripe-go/v81/webhook"
)

type StripeConfig struct {
	SecretKey string
	// Timeout bounds every call to the Stripe API.
	Timeout time.Duration
	// BackendURL overrides the Stripe API base URL.
	BackendURL string
}

// StripeGateway implements Gateway on top of Stripe Checkout. It holds its
// own backend and key instead of using the package-level stripe.Key.
type StripeGateway struct {
	key     string
	timeout time.Duration
	backend stripe.Backend
}

func NewStripeGateway(cfg StripeConfig) *StripeGateway {
	bc := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.Timeout},
		LeveledLogger:     slogLeveled{},
		MaxNetworkRetries: stripe.Int64(0),
	}
	if cfg.BackendURL != "" {
		bc.URL = stripe.String(cfg.BackendURL)
	}
	return &StripeGateway{
		key:     cfg.SecretKey,
		timeout: cfg.Timeout,
		backend: stripe.GetBackendWithConfig(stripe.APIBackend, bc),
	}
}

func (g *StripeGateway) CreateHostedSession(ctx context.Context, req SessionRequest) (HostedSession, error) {
	if g.key == "" {
		return HostedSession{}, ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.LineItems))
	for _, it := range req.LineItems {
		productData := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(it.Name),
			Metadata: map[string]string{
				"product_id": strconv.FormatInt(it.ProductID, 10),
				"sku":        it.SKU,
			},
		}
		if it.ImageURL != "" {
			productData.Images = []*string{stripe.String(it.ImageURL)}
		}
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(int64(it.Quantity)),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(it.Currency),
				UnitAmount:  stripe.Int64(it.UnitAmount),
				ProductData: productData,
			},
		})
	}

	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems:          lineItems,
		SuccessURL:         stripe.String(req.SuccessURL),
		CancelURL:          stripe.String(req.CancelURL),
		AutomaticTax: &stripe.CheckoutSessionAutomaticTaxParams{
			Enabled: stripe.Bool(false),
		},
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	params.Context = ctx

	sc := session.Client{B: g.backend, Key: g.key}
	s, err := sc.New(params)
	if err != nil {
		return HostedSession{}, fmt.Errorf("creating checkout session: %w", err)
	}
	return HostedSession{ID: s.ID, URL: s.URL}, nil
}

// VerifyEvent checks the Stripe-Signature header against secret and decodes
// the event. Events sent with a different API version are accepted since only
// a handful of data.object fields are read.
func (g *StripeGateway) VerifyEvent(payload []byte, signature, secret string) (Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, err
	}
	out := Event{ID: ev.ID, Type: string(ev.Type), Raw: payload}
	if ev.Data != nil {
		out.Object = ev.Data.Object
	}
	return out, nil
}

// slogLeveled routes stripe-go's internal logging to slog.
type slogLeveled struct{}

func (slogLeveled) Debugf(format string, v ...interface{}) {
	slog.Debug(fmt.Sprintf(format, v...), slog.String("component", "stripe"))
}

func (slogLeveled) Infof(format string, v ...interface{}) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "stripe"))
}

func (slogLeveled) Warnf(format string, v ...interface{}) {
	slog.Warn(fmt.Sprintf(format, v...), slog.String("component", "stripe"))
}

func (slogLeveled) Errorf(format string, v ...interface{}) {
	slog.Error(fmt.Sprintf(format, v...), slog.String("component", "stripe"))
}
