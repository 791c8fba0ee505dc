package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gardenx/internal/errs"
	"gardenx/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStager struct {
	staged map[string]string
	ttls   map[string]time.Duration
}

func newMemStager() *memStager {
	return &memStager{staged: make(map[string]string), ttls: make(map[string]time.Duration)}
}

func (m *memStager) StagePendingCheckout(_ context.Context, intentID, payload string, ttl time.Duration) error {
	m.staged[intentID] = payload
	m.ttls[intentID] = ttl
	return nil
}

func (m *memStager) TakePendingCheckout(_ context.Context, intentID string) (string, error) {
	payload := m.staged[intentID]
	delete(m.staged, intentID)
	return payload, nil
}

func gatewayServer(t *testing.T, status int, capture *intentRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		if capture != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(capture))
		}
		w.WriteHeader(status)
		if status < 300 {
			json.NewEncoder(w).Encode(intentResponse{
				ID:          "pi_123",
				RedirectURL: "https://pay.example.com/pi_123",
			})
		}
	}))
}

func cartLines() []models.CartLine {
	return []models.CartLine{
		{ProductID: "p1", Name: "Tomato (500g)", Price: 700, Quantity: 2},
		{ProductID: "p2", Name: "Basil Plant", Price: 1200, Quantity: 1},
	}
}

func TestStartCardCheckout(t *testing.T) {
	var captured intentRequest
	gateway := gatewayServer(t, http.StatusCreated, &captured)
	defer gateway.Close()

	stager := newMemStager()
	svc := NewPaymentService(gateway.URL, "test-key", "AED", "http://localhost/return", stager, 15*time.Minute)

	checkout, err := svc.StartCardCheckout(context.Background(), "school1", "u1", cartLines(), models.ModePickup)
	require.NoError(t, err)
	assert.NotEmpty(t, checkout.CheckoutID)
	assert.Equal(t, "https://pay.example.com/pi_123", checkout.RedirectURL)

	// The intent charges the cart total in fils
	assert.Equal(t, int64(2*700+1200), captured.Amount)
	assert.Equal(t, "AED", captured.CurrencyCode)
	assert.Contains(t, captured.SuccessURL, "checkout_id="+checkout.CheckoutID)
	assert.Contains(t, captured.SuccessURL, "status=success")
	assert.Contains(t, captured.CancelURL, "status=cancel")

	// The checkout is staged with the payment timeout as TTL
	require.Contains(t, stager.staged, checkout.CheckoutID)
	assert.Equal(t, 15*time.Minute, stager.ttls[checkout.CheckoutID])

	var stage StagedCheckout
	require.NoError(t, json.Unmarshal([]byte(stager.staged[checkout.CheckoutID]), &stage))
	assert.Equal(t, "school1", stage.SchoolID)
	assert.Equal(t, "u1", stage.UserID)
	assert.Len(t, stage.Lines, 2)
}

func TestStartCardCheckoutValidatesBeforeGateway(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("gateway must not be called for an invalid checkout")
	}))
	defer gateway.Close()

	stager := newMemStager()
	svc := NewPaymentService(gateway.URL, "test-key", "AED", "http://localhost/return", stager, time.Minute)
	ctx := context.Background()

	var valErr *errs.ValidationError

	// Empty cart: no zero-fils intent is ever created
	_, err := svc.StartCardCheckout(ctx, "school1", "u1", nil, models.ModePickup)
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "items", valErr.Field)

	// Lines with no positive quantity collapse to an empty cart
	_, err = svc.StartCardCheckout(ctx, "school1", "u1",
		[]models.CartLine{{ProductID: "p1", Quantity: 0}}, models.ModePickup)
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "items", valErr.Field)

	// Invalid mode is rejected before payment, not after
	_, err = svc.StartCardCheckout(ctx, "school1", "u1", cartLines(), "teleport")
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "mode", valErr.Field)

	assert.Empty(t, stager.staged)
}

func TestStartCardCheckoutMergesDuplicateLines(t *testing.T) {
	var captured intentRequest
	gateway := gatewayServer(t, http.StatusCreated, &captured)
	defer gateway.Close()

	stager := newMemStager()
	svc := NewPaymentService(gateway.URL, "test-key", "AED", "http://localhost/return", stager, time.Minute)

	checkout, err := svc.StartCardCheckout(context.Background(), "school1", "u1",
		[]models.CartLine{
			{ProductID: "p1", Price: 700, Quantity: 1},
			{ProductID: "p1", Price: 700, Quantity: 2},
		}, models.ModePickup)
	require.NoError(t, err)
	assert.Equal(t, int64(3*700), captured.Amount)

	var stage StagedCheckout
	require.NoError(t, json.Unmarshal([]byte(stager.staged[checkout.CheckoutID]), &stage))
	require.Len(t, stage.Lines, 1)
	assert.Equal(t, 3, stage.Lines[0].Quantity)
}

func TestStartCardCheckoutGatewayError(t *testing.T) {
	gateway := gatewayServer(t, http.StatusBadGateway, nil)
	defer gateway.Close()

	stager := newMemStager()
	svc := NewPaymentService(gateway.URL, "test-key", "AED", "http://localhost/return", stager, time.Minute)

	_, err := svc.StartCardCheckout(context.Background(), "school1", "u1", cartLines(), models.ModePickup)
	require.Error(t, err)

	var backendErr *errs.BackendError
	require.ErrorAs(t, err, &backendErr)

	// Nothing staged when the gateway refused
	assert.Empty(t, stager.staged)
}

func TestCompleteCardCheckout(t *testing.T) {
	gateway := gatewayServer(t, http.StatusCreated, nil)
	defer gateway.Close()

	stager := newMemStager()
	svc := NewPaymentService(gateway.URL, "test-key", "AED", "http://localhost/return", stager, time.Minute)
	ctx := context.Background()

	checkout, err := svc.StartCardCheckout(ctx, "school1", "u1", cartLines(), models.ModeDelivery)
	require.NoError(t, err)

	stage, err := svc.CompleteCardCheckout(ctx, checkout.CheckoutID, "success")
	require.NoError(t, err)
	require.NotNil(t, stage)
	assert.Equal(t, "u1", stage.UserID)
	assert.Equal(t, models.ModeDelivery, stage.Mode)

	// The stage is consumed: a replayed redirect finds nothing
	_, err = svc.CompleteCardCheckout(ctx, checkout.CheckoutID, "success")
	require.Error(t, err)

	var valErr *errs.ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "checkout_id", valErr.Field)
}

func TestCompleteCardCheckoutNonSuccessDiscards(t *testing.T) {
	gateway := gatewayServer(t, http.StatusCreated, nil)
	defer gateway.Close()

	stager := newMemStager()
	svc := NewPaymentService(gateway.URL, "test-key", "AED", "http://localhost/return", stager, time.Minute)
	ctx := context.Background()

	checkout, err := svc.StartCardCheckout(ctx, "school1", "u1", cartLines(), models.ModePickup)
	require.NoError(t, err)

	stage, err := svc.CompleteCardCheckout(ctx, checkout.CheckoutID, "cancel")
	require.NoError(t, err)
	assert.Nil(t, stage, "no order to place on cancel")
	assert.Empty(t, stager.staged, "the stage is discarded")
}

func TestCompleteCardCheckoutUnknownID(t *testing.T) {
	svc := NewPaymentService("http://unused", "test-key", "AED", "http://localhost/return", newMemStager(), time.Minute)

	_, err := svc.CompleteCardCheckout(context.Background(), "never-staged", "success")
	require.Error(t, err)

	var valErr *errs.ValidationError
	assert.ErrorAs(t, err, &valErr)
}
