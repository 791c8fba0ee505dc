package service

import (
	"context"
	"time"

	"gardenx/internal/errs"
	"gardenx/internal/models"
	"gardenx/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OrderStore is the storage surface the order workflow needs. The real
// implementation is the per-school sqlx store; tests use an in-memory
// fake with the same atomicity semantics.
type OrderStore interface {
	GetProfile(ctx context.Context, userID string) (*models.UserProfile, error)
	PlaceOrder(ctx context.Context, userID string, lines []models.CartLine, mode string) (*models.Order, []models.OrderItem, error)
	PlaceManualOrder(ctx context.Context, userID string, lines []models.CartLine, free bool) (*models.Order, []models.OrderItem, error)
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	GetOrderItemsByOrderID(ctx context.Context, orderID string) ([]models.OrderItem, error)
	GetOrdersByUserID(ctx context.Context, userID string) ([]models.Order, error)
	GetAllOrders(ctx context.Context) ([]models.Order, error)
	TransitionOrder(ctx context.Context, orderID, newStatus string, restock bool) (*models.Order, string, error)
}

// OrderPublisher publishes order lifecycle events best-effort.
type OrderPublisher interface {
	PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
}

// OrderService handles the checkout workflow and the order status machine
// for one school.
type OrderService struct {
	store           OrderStore
	publisher       OrderPublisher
	schoolID        string
	restockOnCancel bool
	logger          *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(store OrderStore, publisher OrderPublisher, schoolID string, restockOnCancel bool) *OrderService {
	return &OrderService{
		store:           store,
		publisher:       publisher,
		schoolID:        schoolID,
		restockOnCancel: restockOnCancel,
		logger:          util.GetLogger(),
	}
}

// PlaceOrder runs the checkout algorithm: resolve the profile, then let
// the store check stock and create the order atomically, then notify.
// All-or-nothing: if any line exceeds available stock, no order exists
// and no stock changed.
func (os *OrderService) PlaceOrder(ctx context.Context, userID string, lines []models.CartLine, mode string) (*models.Order, []models.OrderItem, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.PlaceOrder")
	defer span.End()

	start := time.Now()
	defer func() {
		util.CheckoutLatency.Observe(time.Since(start).Seconds())
	}()

	if mode != models.ModePickup && mode != models.ModeDelivery {
		util.CheckoutFailedTotal.WithLabelValues("invalid_mode").Inc()
		return nil, nil, &errs.ValidationError{Field: "mode", Message: "must be pickup or delivery"}
	}

	lines = mergeLines(lines)
	if len(lines) == 0 {
		util.CheckoutFailedTotal.WithLabelValues("empty_cart").Inc()
		return nil, nil, &errs.ValidationError{Field: "items", Message: "cart is empty"}
	}

	profile, err := os.store.GetProfile(ctx, userID)
	if err != nil {
		util.CheckoutFailedTotal.WithLabelValues("backend_error").Inc()
		return nil, nil, &errs.BackendError{Op: "resolve profile", Err: err}
	}
	if profile == nil {
		util.CheckoutFailedTotal.WithLabelValues("profile_incomplete").Inc()
		return nil, nil, &errs.ProfileIncompleteError{UserID: userID}
	}

	order, items, err := os.store.PlaceOrder(ctx, userID, lines, mode)
	if err != nil {
		if _, ok := err.(*errs.InsufficientStockError); ok {
			util.StockRejectionsTotal.Inc()
			util.CheckoutFailedTotal.WithLabelValues("insufficient_stock").Inc()
		} else {
			util.CheckoutFailedTotal.WithLabelValues("backend_error").Inc()
		}
		return nil, nil, err
	}

	util.OrdersPlacedTotal.Inc()
	os.logger.Info("Order placed",
		zap.String("order_id", order.ID),
		zap.String("user_id", userID),
		zap.Int64("total", order.TotalAmount))

	os.publishPlaced(ctx, order, items, profile.Email)
	return order, items, nil
}

// Reorder re-derives a prior order's frozen line items and resubmits them
// through the full checkout algorithm: fresh stock check, current prices.
func (os *OrderService) Reorder(ctx context.Context, userID, orderID, mode string) (*models.Order, []models.OrderItem, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Reorder")
	defer span.End()

	prior, err := os.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if prior.UserID != userID {
		return nil, nil, &errs.ValidationError{Field: "order_id", Message: "order belongs to another user"}
	}

	items, err := os.store.GetOrderItemsByOrderID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}

	lines := make([]models.CartLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, models.CartLine{
			ProductID: item.ProductID,
			Name:      item.Name,
			Price:     item.UnitPrice,
			Quantity:  item.Quantity,
		})
	}

	if mode == "" {
		mode = prior.Mode
	}
	return os.PlaceOrder(ctx, userID, lines, mode)
}

// ManualEntry records a walk-up sale an admin rang up at the stand. The
// order is placed under the admin's own account, delivered immediately,
// and a free order is totalled at zero while its line items keep their
// prices. Stock is decremented with the same all-or-nothing rules as a
// regular checkout. No notification goes out: the customer is standing
// at the stand.
func (os *OrderService) ManualEntry(ctx context.Context, adminUserID string, lines []models.CartLine, free bool) (*models.Order, []models.OrderItem, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ManualEntry")
	defer span.End()

	lines = mergeLines(lines)
	if len(lines) == 0 {
		return nil, nil, &errs.ValidationError{Field: "items", Message: "cart is empty"}
	}

	order, items, err := os.store.PlaceManualOrder(ctx, adminUserID, lines, free)
	if err != nil {
		if _, ok := err.(*errs.InsufficientStockError); ok {
			util.StockRejectionsTotal.Inc()
		}
		return nil, nil, err
	}

	util.OrdersPlacedTotal.Inc()
	os.logger.Info("Manual order recorded",
		zap.String("order_id", order.ID),
		zap.String("admin_id", adminUserID),
		zap.Bool("free", free),
		zap.Int64("total", order.TotalAmount))
	return order, items, nil
}

// UpdateStatus moves an order through the status machine. Admin-only at
// the API layer. Entering delivered stamps delivered_at; cancelling
// restocks when the policy is enabled.
func (os *OrderService) UpdateStatus(ctx context.Context, orderID, newStatus string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateStatus")
	defer span.End()

	switch newStatus {
	case models.OrderStatusConfirmed, models.OrderStatusDelivered, models.OrderStatusCancelled:
	default:
		return nil, &errs.ValidationError{Field: "status", Message: "unknown status"}
	}

	order, priorStatus, err := os.store.TransitionOrder(ctx, orderID, newStatus, os.restockOnCancel)
	if err != nil {
		return nil, err
	}

	util.OrderStatusTransitionsTotal.WithLabelValues(newStatus).Inc()
	os.logger.Info("Order status updated",
		zap.String("order_id", orderID),
		zap.String("from", priorStatus),
		zap.String("to", newStatus))

	email := ""
	if profile, err := os.store.GetProfile(ctx, order.UserID); err == nil && profile != nil {
		email = profile.Email
	}

	event := &models.OrderStatusChangedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderStatusChanged,
			SchoolID:  os.schoolID,
			Timestamp: time.Now(),
		},
		OrderID:       order.ID,
		UserID:        order.UserID,
		CustomerEmail: email,
		OldStatus:     priorStatus,
		NewStatus:     newStatus,
		Mode:          order.Mode,
	}
	if err := os.publisher.PublishOrderStatusChanged(ctx, event); err != nil {
		os.logger.Error("Failed to publish OrderStatusChanged event", zap.Error(err))
	}

	return order, nil
}

// GetOrder retrieves an order with its items
func (os *OrderService) GetOrder(ctx context.Context, orderID string) (*models.Order, []models.OrderItem, error) {
	order, err := os.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}

	items, err := os.store.GetOrderItemsByOrderID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	return order, items, nil
}

// ListUserOrders retrieves a user's orders, newest first
func (os *OrderService) ListUserOrders(ctx context.Context, userID string) ([]models.Order, error) {
	return os.store.GetOrdersByUserID(ctx, userID)
}

// ListAllOrders retrieves every order for the admin view
func (os *OrderService) ListAllOrders(ctx context.Context) ([]models.Order, error) {
	return os.store.GetAllOrders(ctx)
}

func (os *OrderService) publishPlaced(ctx context.Context, order *models.Order, items []models.OrderItem, email string) {
	eventItems := make([]models.OrderItemData, 0, len(items))
	for _, item := range items {
		eventItems = append(eventItems, models.OrderItemData{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	event := &models.OrderPlacedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderPlaced,
			SchoolID:  os.schoolID,
			Timestamp: time.Now(),
		},
		OrderID:       order.ID,
		UserID:        order.UserID,
		CustomerEmail: email,
		TotalAmount:   order.TotalAmount,
		Mode:          order.Mode,
		Items:         eventItems,
	}

	if err := os.publisher.PublishOrderPlaced(ctx, event); err != nil {
		os.logger.Error("Failed to publish OrderPlaced event", zap.Error(err))
	}
}

// mergeLines collapses duplicate product references so the conditional
// decrement sees one row per product.
func mergeLines(lines []models.CartLine) []models.CartLine {
	out := make([]models.CartLine, 0, len(lines))
	index := make(map[string]int, len(lines))

	for _, line := range lines {
		if line.Quantity < 1 {
			continue
		}
		key := line.ProductID
		if key == "" {
			key = "name:" + line.Name
		}
		if i, ok := index[key]; ok {
			out[i].Quantity += line.Quantity
			continue
		}
		index[key] = len(out)
		out = append(out, line)
	}
	return out
}
