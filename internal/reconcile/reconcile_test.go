package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/orders"
	"checkout-service/internal/payments"
	"checkout-service/internal/stores/kafka"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81/webhook"
)

const secret = "whsec_test"

func eventJSON(id, typ string, object map[string]any) []byte {
	b, _ := json.Marshal(map[string]any{
		"id":          id,
		"object":      "event",
		"type":        typ,
		"api_version": "2024-06-20",
		"data":        map[string]any{"object": object},
	})
	return b
}

func sign(payload []byte) (string, []byte) {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	})
	return signed.Header, signed.Payload
}

func newSigned(l *memLedger, p Producer) *Reconciler {
	return New(l, payments.NewStripeGateway(payments.StripeConfig{Timeout: time.Second}), secret, p)
}

// ledgerWithOrder holds one pending order for cs_1 buying two units of
// product 1, which has 50 on hand.
func ledgerWithOrder() *memLedger {
	l := newMemLedger()
	l.addStock(1, 50, 5)
	l.addOrder("cs_1", 42, orders.OrderItem{ProductID: 1, Quantity: 2})
	return l
}

func TestCompletedMarksPaidAndDecrements(t *testing.T) {
	l := ledgerWithOrder()
	p := &memProducer{}
	r := newSigned(l, p)

	header, payload := sign(eventJSON("evt_1", EventCheckoutCompleted, map[string]any{"id": "cs_1", "payment_intent": "pi_1"}))
	res, err := r.HandleEvent(context.Background(), payload, header)
	require.NoError(t, err)

	assert.True(t, res.FirstSeen)
	require.NotNil(t, res.Transition)
	assert.True(t, res.Transition.Applied)
	assert.Equal(t, orders.StatusPaid, l.status("cs_1"))
	assert.Equal(t, "pi_1", l.orders["cs_1"].paymentIntent)
	assert.Equal(t, 48, l.quantity(1))
	assert.Equal(t, []string{kafka.TopicOrderPaid}, p.topics())

	var published kafka.OrderEvent
	require.NoError(t, json.Unmarshal(p.msgs[0].value, &published))
	assert.Equal(t, int64(42), published.OrderID)
	assert.Equal(t, "paid", published.Status)
	assert.Equal(t, "evt_1", published.StripeEventID)
}

func TestDuplicateDeliveryIsIdempotent(t *testing.T) {
	l := ledgerWithOrder()
	r := newSigned(l, nil)
	payload := eventJSON("evt_1", EventCheckoutCompleted, map[string]any{"id": "cs_1"})

	for i := 0; i < 3; i++ {
		header, signed := sign(payload)
		res, err := r.HandleEvent(context.Background(), signed, header)
		require.NoError(t, err)
		assert.Equal(t, i == 0, res.FirstSeen)
		assert.Equal(t, i == 0, res.Transition.Applied)
	}
	assert.Equal(t, 48, l.quantity(1))
	assert.Len(t, l.events, 1)
}

func TestConcurrentDeliveriesDecrementOnce(t *testing.T) {
	l := ledgerWithOrder()
	r := New(l, nil, "", nil)
	payload := eventJSON("evt_1", EventCheckoutCompleted, map[string]any{"id": "cs_1"})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.HandleEvent(context.Background(), payload, "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 48, l.quantity(1))
	assert.Equal(t, orders.StatusPaid, l.status("cs_1"))
}

func TestExpiredCancelsPendingOrder(t *testing.T) {
	l := ledgerWithOrder()
	p := &memProducer{}
	r := newSigned(l, p)

	header, payload := sign(eventJSON("evt_2", EventCheckoutExpired, map[string]any{"id": "cs_1"}))
	res, err := r.HandleEvent(context.Background(), payload, header)
	require.NoError(t, err)
	require.NotNil(t, res.Transition)
	assert.True(t, res.Transition.Applied)
	assert.Equal(t, orders.StatusCanceled, l.status("cs_1"))
	assert.Equal(t, 50, l.quantity(1))
	assert.Equal(t, []string{kafka.TopicOrderCanceled}, p.topics())
}

func TestPaymentFailedFallsBackToCheckoutSession(t *testing.T) {
	l := ledgerWithOrder()
	r := New(l, nil, "", nil)

	payload := eventJSON("evt_3", EventPaymentIntentFailed, map[string]any{"id": "pi_9", "checkout_session": "cs_1"})
	res, err := r.HandleEvent(context.Background(), payload, "")
	require.NoError(t, err)
	require.NotNil(t, res.Transition)
	assert.Equal(t, orders.StatusCanceled, l.status("cs_1"))
}

func TestTerminalOrdersDoNotMove(t *testing.T) {
	tests := []struct {
		name  string
		first string
		then  string
		want  orders.Status
	}{
		{"paid then expired", EventCheckoutCompleted, EventCheckoutExpired, orders.StatusPaid},
		{"expired then completed", EventCheckoutExpired, EventCheckoutCompleted, orders.StatusCanceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := ledgerWithOrder()
			r := New(l, nil, "", nil)
			_, err := r.HandleEvent(context.Background(), eventJSON("evt_a", tt.first, map[string]any{"id": "cs_1"}), "")
			require.NoError(t, err)
			res, err := r.HandleEvent(context.Background(), eventJSON("evt_b", tt.then, map[string]any{"id": "cs_1"}), "")
			require.NoError(t, err)
			assert.False(t, res.Transition.Applied)
			assert.Equal(t, tt.want, l.status("cs_1"))
		})
	}
}

func TestUnknownSessionIsAcknowledged(t *testing.T) {
	l := ledgerWithOrder()
	r := New(l, nil, "", nil)

	res, err := r.HandleEvent(context.Background(), eventJSON("evt_4", EventCheckoutCompleted, map[string]any{"id": "cs_unknown"}), "")
	require.NoError(t, err)
	assert.Nil(t, res.Transition)
	assert.Equal(t, orders.StatusPending, l.status("cs_1"))
	assert.Contains(t, l.events, "evt_4")
}

func TestUnhandledTypeIsRecordedOnly(t *testing.T) {
	l := ledgerWithOrder()
	r := New(l, nil, "", nil)

	res, err := r.HandleEvent(context.Background(), eventJSON("evt_5", "customer.created", map[string]any{"id": "cus_1"}), "")
	require.NoError(t, err)
	assert.Nil(t, res.Transition)
	assert.Equal(t, "customer.created", l.events["evt_5"].Type)
}

func TestBadSignatureIsRejected(t *testing.T) {
	l := ledgerWithOrder()
	r := newSigned(l, nil)
	payload := eventJSON("evt_1", EventCheckoutCompleted, map[string]any{"id": "cs_1"})

	for name, header := range map[string]string{
		"missing":  "",
		"tampered": fmt.Sprintf("t=%d,v1=deadbeef", time.Now().Unix()),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := r.HandleEvent(context.Background(), payload, header)
			require.Error(t, err)
			assert.Equal(t, apperr.KindSignatureInvalid, apperr.KindOf(err))
		})
	}
	assert.Empty(t, l.events)
	assert.Equal(t, orders.StatusPending, l.status("cs_1"))
}

func TestUnsignedModeRejectsGarbage(t *testing.T) {
	r := New(newMemLedger(), nil, "", nil)
	_, err := r.HandleEvent(context.Background(), []byte("not json"), "")
	assert.Equal(t, apperr.KindSignatureInvalid, apperr.KindOf(err))
}

func TestRecordFailureIsSwallowed(t *testing.T) {
	l := ledgerWithOrder()
	l.recordErr = errStore
	r := New(l, nil, "", nil)

	res, err := r.HandleEvent(context.Background(), eventJSON("evt_1", EventCheckoutCompleted, map[string]any{"id": "cs_1"}), "")
	require.NoError(t, err)
	assert.True(t, res.Transition.Applied)
	assert.Equal(t, 48, l.quantity(1))
}

func TestStoreFailurePropagates(t *testing.T) {
	l := ledgerWithOrder()
	l.paidErr = errStore
	r := New(l, nil, "", nil)

	_, err := r.HandleEvent(context.Background(), eventJSON("evt_1", EventCheckoutCompleted, map[string]any{"id": "cs_1"}), "")
	require.Error(t, err)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))

	// the retry still applies the effect even though the event id is known
	l.paidErr = nil
	res, err := r.HandleEvent(context.Background(), eventJSON("evt_1", EventCheckoutCompleted, map[string]any{"id": "cs_1"}), "")
	require.NoError(t, err)
	assert.False(t, res.FirstSeen)
	assert.True(t, res.Transition.Applied)
	assert.Equal(t, 48, l.quantity(1))
}

func TestOversellIsRecordedAsAnomaly(t *testing.T) {
	l := newMemLedger()
	l.addStock(1, 1, 0)
	l.addOrder("cs_1", 7, orders.OrderItem{ProductID: 1, Quantity: 3}, orders.OrderItem{ProductID: 2, Quantity: 1})
	p := &memProducer{}
	r := New(l, nil, "", p)

	res, err := r.HandleEvent(context.Background(), eventJSON("evt_1", EventCheckoutCompleted, map[string]any{"id": "cs_1"}), "")
	require.NoError(t, err)
	assert.Equal(t, 0, l.quantity(1))
	require.Len(t, res.Transition.Anomalies, 2)
	assert.Equal(t, 1, *res.Transition.Anomalies[0].OnHand)
	assert.Nil(t, res.Transition.Anomalies[1].OnHand)
	assert.Equal(t, []string{kafka.TopicOrderPaid, kafka.TopicLowStock}, p.topics())
}

func TestPublishFailureDoesNotFailWebhook(t *testing.T) {
	l := ledgerWithOrder()
	r := New(l, nil, "", &memProducer{err: errStore})

	_, err := r.HandleEvent(context.Background(), eventJSON("evt_1", EventCheckoutCompleted, map[string]any{"id": "cs_1"}), "")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPaid, l.status("cs_1"))
}
