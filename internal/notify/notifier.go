// Package notify dispatches fire-and-forget side-channel notifications:
// a push topic and a transactional email API. Delivery failures are
// logged and counted; they never reach the checkout path.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gardenx/internal/models"
	"gardenx/internal/util"

	"go.uber.org/zap"
)

// Notifier sends order notifications over HTTP.
type Notifier struct {
	ntfyURL     string
	emailAPIURL string
	client      *http.Client
	logger      *zap.Logger
}

// NewNotifier creates a new notifier. Empty URLs disable the respective
// channel.
func NewNotifier(ntfyURL, emailAPIURL string) *Notifier {
	return &Notifier{
		ntfyURL:     ntfyURL,
		emailAPIURL: emailAPIURL,
		client:      &http.Client{Timeout: 10 * time.Second},
		logger:      util.GetLogger(),
	}
}

// OrderPlaced announces a new order on the push topic and emails the
// customer a receipt.
func (n *Notifier) OrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error {
	title := fmt.Sprintf("New order at %s", event.SchoolID)
	message := orderSummary(event)

	n.push(ctx, title, message)

	if event.CustomerEmail != "" {
		subject := "Your GardenX order has been placed"
		n.email(ctx, event.CustomerEmail, subject, message)
	}
	return nil
}

// OrderStatusChanged emails the customer about the transition.
func (n *Notifier) OrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	if event.CustomerEmail == "" {
		return nil
	}
	subject := fmt.Sprintf("Your order has been %s", event.NewStatus)
	n.email(ctx, event.CustomerEmail, subject, statusMessage(event))
	return nil
}

// PasswordReset emails a one-time reset link to an account holder.
func (n *Notifier) PasswordReset(ctx context.Context, to, resetLink string) error {
	text := fmt.Sprintf("Follow this link to choose a new password:\n%s\n\nIf you did not request a reset, you can ignore this email.", resetLink)
	n.email(ctx, to, "Reset your GardenX password", text)
	return nil
}

func (n *Notifier) push(ctx context.Context, title, message string) {
	if n.ntfyURL == "" {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.ntfyURL, strings.NewReader(message))
	if err != nil {
		n.fail("push", err)
		return
	}
	req.Header.Set("Title", title)

	resp, err := n.client.Do(req)
	if err != nil {
		n.fail("push", err)
		return
	}
	resp.Body.Close()

	util.NotificationsSentTotal.WithLabelValues("push").Inc()
}

type emailRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

func (n *Notifier) email(ctx context.Context, to, subject, text string) {
	if n.emailAPIURL == "" {
		return
	}

	payload, err := json.Marshal(emailRequest{To: to, Subject: subject, Text: text})
	if err != nil {
		n.fail("email", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.emailAPIURL, bytes.NewReader(payload))
	if err != nil {
		n.fail("email", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.fail("email", err)
		return
	}
	resp.Body.Close()

	util.NotificationsSentTotal.WithLabelValues("email").Inc()
}

func (n *Notifier) fail(channel string, err error) {
	util.NotificationsFailedTotal.WithLabelValues(channel).Inc()
	n.logger.Warn("Notification dispatch failed",
		zap.String("channel", channel),
		zap.Error(err))
}

func orderSummary(event *models.OrderPlacedEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Order %s (%s)\n", event.OrderID, event.Mode)
	for _, item := range event.Items {
		fmt.Fprintf(&b, "%s x%d\n", item.Name, item.Quantity)
	}
	fmt.Fprintf(&b, "Total: %.2f AED", float64(event.TotalAmount)/100)
	return b.String()
}

func statusMessage(event *models.OrderStatusChangedEvent) string {
	switch event.NewStatus {
	case models.OrderStatusCancelled:
		if event.Mode == models.ModePickup {
			return "Your order has been cancelled as it was not collected on the same day."
		}
		return "Your order has been cancelled as the payment could not be made or the recipient was not present to receive the order."
	case models.OrderStatusDelivered:
		if event.Mode == models.ModePickup {
			return "Your order has been picked up."
		}
		return "Your order has been delivered."
	default:
		return fmt.Sprintf("Your order status is now %s.", event.NewStatus)
	}
}
