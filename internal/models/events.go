package models

import "time"

// Event types
const (
	EventTypeOrderPlaced        = "ORDER_PLACED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	SchoolID  string    `json:"school_id"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

// OrderPlacedEvent published when a checkout succeeds
type OrderPlacedEvent struct {
	BaseEvent
	OrderID       string          `json:"order_id"`
	UserID        string          `json:"user_id"`
	CustomerEmail string          `json:"customer_email"`
	TotalAmount   int64           `json:"total_amount"`
	Mode          string          `json:"mode"`
	Items         []OrderItemData `json:"items"`
}

// OrderStatusChangedEvent published when an admin moves an order
// through the status machine
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID       string `json:"order_id"`
	UserID        string `json:"user_id"`
	CustomerEmail string `json:"customer_email"`
	OldStatus     string `json:"old_status"`
	NewStatus     string `json:"new_status"`
	Mode          string `json:"mode"`
}
