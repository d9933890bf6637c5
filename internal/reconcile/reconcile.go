package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/orders"
	"checkout-service/internal/payments"
	"checkout-service/internal/stores/kafka"
	"checkout-service/pkg/ctxmanage"
	"checkout-service/pkg/logkey"
)

const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventCheckoutExpired     = "checkout.session.expired"
	EventPaymentIntentFailed = "payment_intent.payment_failed"
)

// Ledger is the order store as seen by the reconciler.
type Ledger interface {
	RecordEvent(ctx context.Context, ev orders.StripeEvent) (bool, error)
	MarkPaid(ctx context.Context, sessionID, paymentIntentID string) (orders.Transition, error)
	MarkCanceled(ctx context.Context, sessionID string) (orders.Transition, error)
}

// Producer publishes a message without waiting for delivery.
type Producer interface {
	ProduceMessage(topic string, key, value []byte) error
}

type Reconciler struct {
	ledger        Ledger
	gateway       payments.Gateway
	webhookSecret string
	producer      Producer
	now           func() time.Time
}

// New builds a Reconciler. With an empty webhookSecret events are accepted
// without signature verification. producer may be nil.
func New(ledger Ledger, gateway payments.Gateway, webhookSecret string, producer Producer) *Reconciler {
	return &Reconciler{
		ledger:        ledger,
		gateway:       gateway,
		webhookSecret: webhookSecret,
		producer:      producer,
		now:           time.Now,
	}
}

// Result describes what a delivery did. Transition is nil when the event
// type is ignored or no order matched.
type Result struct {
	EventID    string
	EventType  string
	FirstSeen  bool
	Transition *orders.Transition
}

// HandleEvent verifies and applies one provider notification. Only a bad
// signature or an unparseable payload is reported as a client error; store
// failures are returned so the provider retries the delivery.
func (r *Reconciler) HandleEvent(ctx context.Context, payload []byte, signature string) (Result, error) {
	traceId := ctxmanage.TraceIdFromContext(ctx)

	ev, err := r.decode(payload, signature)
	if err != nil {
		slog.Warn("rejected webhook", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		return Result{}, apperr.Signature("Webhook Error: "+err.Error(), err)
	}

	res := Result{EventID: ev.ID, EventType: ev.Type}
	log := slog.With(slog.String(logkey.TraceID, traceId), slog.String(logkey.EventID, ev.ID), slog.String(logkey.EventType, ev.Type))

	// Effects are idempotent, so a repeat delivery is applied again instead
	// of being dropped; that lets a retry finish work a failed attempt left.
	if ev.ID != "" {
		first, err := r.ledger.RecordEvent(ctx, orders.StripeEvent{
			EventID: ev.ID,
			Type:    ev.Type,
			Payload: orders.TruncatePayload(string(ev.Raw), orders.MaxEventPayload),
		})
		if err != nil {
			log.Warn("failed to record webhook event", slog.String(logkey.ERROR, err.Error()))
		}
		res.FirstSeen = first
		if err == nil && !first {
			log.Info("duplicate webhook delivery")
		}
	}

	var t orders.Transition
	var found bool
	switch ev.Type {
	case EventCheckoutCompleted:
		sessionID := ev.ObjectID("id")
		if sessionID == "" {
			log.Warn("completed session event without id")
			return res, nil
		}
		t, err = r.ledger.MarkPaid(ctx, sessionID, ev.ObjectID("payment_intent"))
		found, err = notFoundIsNoop(err)
		if err != nil {
			log.Error("failed to mark order paid", slog.String(logkey.SessionID, sessionID), slog.String(logkey.ERROR, err.Error()))
			return res, apperr.Internal("Failed to process webhook", err)
		}
		if !found {
			log.Warn("no order for session", slog.String(logkey.SessionID, sessionID))
			return res, nil
		}
		r.afterPaid(log, ev, sessionID, t)

	case EventCheckoutExpired, EventPaymentIntentFailed:
		for _, sessionID := range cancelCandidates(ev) {
			t, err = r.ledger.MarkCanceled(ctx, sessionID)
			found, err = notFoundIsNoop(err)
			if err != nil {
				log.Error("failed to mark order canceled", slog.String(logkey.SessionID, sessionID), slog.String(logkey.ERROR, err.Error()))
				return res, apperr.Internal("Failed to process webhook", err)
			}
			if found {
				r.afterCanceled(log, ev, sessionID, t)
				break
			}
		}
		if !found {
			log.Info("no order matched cancellation event")
			return res, nil
		}

	default:
		log.Debug("ignoring webhook event type")
		return res, nil
	}

	res.Transition = &t
	return res, nil
}

func (r *Reconciler) decode(payload []byte, signature string) (payments.Event, error) {
	if r.webhookSecret == "" {
		return payments.DecodeUnsigned(payload)
	}
	return r.gateway.VerifyEvent(payload, signature, r.webhookSecret)
}

func notFoundIsNoop(err error) (bool, error) {
	if errors.Is(err, orders.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// cancelCandidates lists the ids a cancellation event may refer to: the
// session itself, or the session a payment intent belongs to.
func cancelCandidates(ev payments.Event) []string {
	var ids []string
	for _, key := range []string{"id", "checkout_session"} {
		id := ev.ObjectID(key)
		if id == "" {
			continue
		}
		dup := false
		for _, seen := range ids {
			if seen == id {
				dup = true
			}
		}
		if !dup {
			ids = append(ids, id)
		}
	}
	return ids
}

func (r *Reconciler) afterPaid(log *slog.Logger, ev payments.Event, sessionID string, t orders.Transition) {
	if !t.Applied {
		log.Info("order already terminal", slog.Int64(logkey.OrderID, t.OrderID), slog.String("Status", string(t.From)))
		return
	}
	log.Info("order paid", slog.Int64(logkey.OrderID, t.OrderID), slog.String(logkey.SessionID, sessionID))

	for _, a := range t.Anomalies {
		attrs := []any{slog.Int64(logkey.OrderID, a.OrderID), slog.Int64(logkey.ProductID, a.ProductID), slog.Int("Requested", a.Requested)}
		if a.OnHand != nil {
			attrs = append(attrs, slog.Int("OnHand", *a.OnHand))
		} else {
			attrs = append(attrs, slog.Bool("MissingInventory", true))
		}
		log.Warn("inventory anomaly", attrs...)
	}

	r.publish(log, kafka.TopicOrderPaid, sessionID, kafka.OrderEvent{
		OrderID:         t.OrderID,
		SessionID:       sessionID,
		Status:          string(t.To),
		PaymentIntentID: ev.ObjectID("payment_intent"),
		StripeEventID:   ev.ID,
		CreatedAt:       r.now().UTC(),
	})

	for _, d := range t.Decrements {
		if !d.LowStock() {
			continue
		}
		log.Warn("low stock", slog.Int64(logkey.ProductID, d.ProductID), slog.Int("Quantity", d.After), slog.Int("Threshold", d.LowStockThreshold))
		r.publish(log, kafka.TopicLowStock, strconv.FormatInt(d.ProductID, 10), kafka.LowStockEvent{
			ProductID:         d.ProductID,
			Quantity:          d.After,
			LowStockThreshold: d.LowStockThreshold,
			OrderID:           t.OrderID,
			CreatedAt:         r.now().UTC(),
		})
	}
}

func (r *Reconciler) afterCanceled(log *slog.Logger, ev payments.Event, sessionID string, t orders.Transition) {
	if !t.Applied {
		log.Info("order already terminal", slog.Int64(logkey.OrderID, t.OrderID), slog.String("Status", string(t.From)))
		return
	}
	log.Info("order canceled", slog.Int64(logkey.OrderID, t.OrderID), slog.String(logkey.SessionID, sessionID))
	r.publish(log, kafka.TopicOrderCanceled, sessionID, kafka.OrderEvent{
		OrderID:       t.OrderID,
		SessionID:     sessionID,
		Status:        string(t.To),
		StripeEventID: ev.ID,
		CreatedAt:     r.now().UTC(),
	})
}

// publish runs after the order transaction committed. A failure here never
// fails the webhook.
func (r *Reconciler) publish(log *slog.Logger, topic, key string, v any) {
	if r.producer == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		log.Error("failed to marshal event", slog.String("topic", topic), slog.String(logkey.ERROR, err.Error()))
		return
	}
	if err := r.producer.ProduceMessage(topic, []byte(key), data); err != nil {
		log.Error("failed to publish event", slog.String("topic", topic), slog.String(logkey.ERROR, err.Error()))
	}
}
