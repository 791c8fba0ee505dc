package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"gardenx/internal/errs"
	"gardenx/internal/models"
	"gardenx/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CheckoutStager persists card checkouts between the redirect to the
// payment gateway and the browser's return.
type CheckoutStager interface {
	StagePendingCheckout(ctx context.Context, intentID, payload string, ttl time.Duration) error
	TakePendingCheckout(ctx context.Context, intentID string) (string, error)
}

// PaymentService talks to the hosted payment gateway. Card checkouts are
// deferred: the order is only placed once the gateway redirects back with
// a success status. Staged checkouts expire with the payment timeout, so
// an abandoned redirect leaves no state.
type PaymentService struct {
	apiURL    string
	apiKey    string
	currency  string
	returnURL string
	stager    CheckoutStager
	stageTTL  time.Duration
	client    *http.Client
	logger    *zap.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(apiURL, apiKey, currency, returnURL string, stager CheckoutStager, stageTTL time.Duration) *PaymentService {
	return &PaymentService{
		apiURL:    apiURL,
		apiKey:    apiKey,
		currency:  currency,
		returnURL: returnURL,
		stager:    stager,
		stageTTL:  stageTTL,
		client:    &http.Client{Timeout: 15 * time.Second},
		logger:    util.GetLogger(),
	}
}

// StagedCheckout is the checkout payload parked while the browser is at
// the gateway.
type StagedCheckout struct {
	SchoolID string            `json:"school_id"`
	UserID   string            `json:"user_id"`
	Lines    []models.CartLine `json:"lines"`
	Mode     string            `json:"mode"`
}

// CardCheckout is the response to a card checkout request
type CardCheckout struct {
	CheckoutID  string `json:"checkout_id"`
	RedirectURL string `json:"redirect_url"`
}

type intentRequest struct {
	Amount            int64  `json:"amount"`
	CurrencyCode      string `json:"currency_code"`
	Message           string `json:"message"`
	TransactionSource string `json:"transaction_source"`
	SuccessURL        string `json:"success_url"`
	FailureURL        string `json:"failure_url"`
	CancelURL         string `json:"cancel_url"`
}

type intentResponse struct {
	ID          string `json:"id"`
	RedirectURL string `json:"redirect_url"`
}

// StartCardCheckout creates a hosted payment intent for the cart total
// and stages the checkout until the gateway redirects back. The checkout
// is validated up front: the customer must never pay for a cart that
// PlaceOrder would reject after the gateway returns.
func (ps *PaymentService) StartCardCheckout(ctx context.Context, schoolID, userID string, lines []models.CartLine, mode string) (*CardCheckout, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.StartCardCheckout")
	defer span.End()

	if mode != models.ModePickup && mode != models.ModeDelivery {
		util.CheckoutFailedTotal.WithLabelValues("invalid_mode").Inc()
		return nil, &errs.ValidationError{Field: "mode", Message: "must be pickup or delivery"}
	}
	lines = mergeLines(lines)
	if len(lines) == 0 {
		util.CheckoutFailedTotal.WithLabelValues("empty_cart").Inc()
		return nil, &errs.ValidationError{Field: "items", Message: "cart is empty"}
	}

	checkoutID := uuid.New().String()
	total := CartTotal(lines)

	reqBody := intentRequest{
		Amount:            total,
		CurrencyCode:      ps.currency,
		Message:           "Payment on GardenX",
		TransactionSource: "directApi",
		SuccessURL:        fmt.Sprintf("%s?checkout_id=%s&status=success", ps.returnURL, checkoutID),
		FailureURL:        fmt.Sprintf("%s?checkout_id=%s&status=failure", ps.returnURL, checkoutID),
		CancelURL:         fmt.Sprintf("%s?checkout_id=%s&status=cancel", ps.returnURL, checkoutID),
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, ps.apiURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+ps.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := ps.client.Do(httpReq)
	if err != nil {
		return nil, &errs.BackendError{Op: "create payment intent", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &errs.BackendError{
			Op:  "create payment intent",
			Err: fmt.Errorf("gateway returned status %d", resp.StatusCode),
		}
	}

	var intent intentResponse
	if err := json.NewDecoder(resp.Body).Decode(&intent); err != nil {
		return nil, &errs.BackendError{Op: "decode payment intent", Err: err}
	}

	stage := StagedCheckout{SchoolID: schoolID, UserID: userID, Lines: lines, Mode: mode}
	stageBytes, err := json.Marshal(stage)
	if err != nil {
		return nil, err
	}
	if err := ps.stager.StagePendingCheckout(ctx, checkoutID, string(stageBytes), ps.stageTTL); err != nil {
		return nil, &errs.BackendError{Op: "stage checkout", Err: err}
	}

	util.PaymentIntentsTotal.Inc()
	ps.logger.Info("Payment intent created",
		zap.String("checkout_id", checkoutID),
		zap.String("intent_id", intent.ID),
		zap.Int64("amount", total))

	return &CardCheckout{CheckoutID: checkoutID, RedirectURL: intent.RedirectURL}, nil
}

// CompleteCardCheckout consumes a staged checkout on gateway return.
// Returns the staged payload on success; nil for failure/cancel, which
// simply discard the stage. An unknown or expired checkout id is an
// error: there is nothing to place.
func (ps *PaymentService) CompleteCardCheckout(ctx context.Context, checkoutID, status string) (*StagedCheckout, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.CompleteCardCheckout")
	defer span.End()

	util.PaymentReturnsTotal.WithLabelValues(status).Inc()

	payload, err := ps.stager.TakePendingCheckout(ctx, checkoutID)
	if err != nil {
		return nil, &errs.BackendError{Op: "load staged checkout", Err: err}
	}

	if status != "success" {
		ps.logger.Info("Card checkout not completed",
			zap.String("checkout_id", checkoutID),
			zap.String("status", status))
		return nil, nil
	}

	if payload == "" {
		return nil, &errs.ValidationError{Field: "checkout_id", Message: "checkout expired or unknown"}
	}

	var stage StagedCheckout
	if err := json.Unmarshal([]byte(payload), &stage); err != nil {
		return nil, &errs.BackendError{Op: "decode staged checkout", Err: err}
	}
	return &stage, nil
}
