package models

import "time"

// Product categories
const (
	CategoryVegetable = "vegetable"
	CategoryPlant     = "plant"
	CategorySeed      = "seed"
	CategoryMisc      = "misc"
)

// Product represents a product in the school catalog.
// Price is stored in fils (AED minor units).
type Product struct {
	ID            string    `db:"id" json:"id"`
	Name          string    `db:"name" json:"name"`
	Price         int64     `db:"price" json:"price"`
	StockQuantity int       `db:"stock_quantity" json:"stock_quantity"`
	Category      string    `db:"category" json:"category"`
	ImageURL      string    `db:"image_url" json:"image_url,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// InStock reports whether the product can currently be ordered.
func (p *Product) InStock() bool {
	return p.StockQuantity > 0
}

// Profile roles
const (
	RoleParent  = "parent"
	RoleStaff   = "staff"
	RoleVisitor = "visitor"
)

// ParentDetails holds the student fields required for parent profiles.
type ParentDetails struct {
	StudentName    string `json:"student_name"`
	StudentClass   string `json:"student_class"`
	StudentSection string `json:"student_section"`
	GemsID         string `json:"student_gems_id"`
}

// StaffDetails holds the fields required for staff profiles.
type StaffDetails struct {
	GemsID string `json:"staff_gems_id"`
}

// ProfileDetails is a tagged union over the role-specific profile fields.
// Exactly one branch is set for parent/staff profiles; visitors carry none.
type ProfileDetails struct {
	Parent *ParentDetails `json:"parent,omitempty"`
	Staff  *StaffDetails  `json:"staff,omitempty"`
}

// GemsID returns the role-specific GEMS identifier, or "" for visitors.
func (d ProfileDetails) GemsID() string {
	switch {
	case d.Parent != nil:
		return d.Parent.GemsID
	case d.Staff != nil:
		return d.Staff.GemsID
	}
	return ""
}

// UserProfile is the per-user profile record. The ID is the auth account
// id (1:1 with an account).
type UserProfile struct {
	ID        string         `db:"id" json:"id"`
	FirstName string         `db:"first_name" json:"first_name"`
	LastName  string         `db:"last_name" json:"last_name"`
	Email     string         `db:"email" json:"email"`
	Phone     string         `db:"phone" json:"phone"`
	Role      string         `db:"role" json:"role"`
	Details   ProfileDetails `db:"details" json:"details"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt time.Time      `db:"updated_at" json:"updated_at"`
}

// Account is an authentication account.
type Account struct {
	ID           string    `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// CartLine is one entry in a cart: a frozen snapshot of the product's
// id/name/price plus the requested quantity. Stock is not snapshotted;
// it is re-validated at checkout.
type CartLine struct {
	ProductID string `json:"id"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Quantity  int    `json:"quantity"`
}

// Fulfillment modes
const (
	ModePickup   = "pickup"
	ModeDelivery = "delivery"
)

// Order statuses
const (
	OrderStatusPending   = "pending"
	OrderStatusConfirmed = "confirmed"
	OrderStatusDelivered = "delivered"
	OrderStatusCancelled = "cancelled"
)

// IsTerminalStatus reports whether a status admits no further transitions.
func IsTerminalStatus(status string) bool {
	return status == OrderStatusDelivered || status == OrderStatusCancelled
}

// CanTransition reports whether an order may move from one status to
// another: pending -> confirmed -> delivered, with cancelled reachable
// from any non-terminal state.
func CanTransition(from, to string) bool {
	if IsTerminalStatus(from) {
		return false
	}
	switch to {
	case OrderStatusCancelled:
		return true
	case OrderStatusConfirmed:
		return from == OrderStatusPending
	case OrderStatusDelivered:
		return from == OrderStatusConfirmed
	}
	return false
}

// Order represents a placed order. TotalAmount is recomputed server-side
// at creation time; it is never trusted from the client.
type Order struct {
	ID          string     `db:"id" json:"id"`
	UserID      string     `db:"user_id" json:"user_id"`
	TotalAmount int64      `db:"total_amount" json:"total_amount"`
	Status      string     `db:"status" json:"status"`
	Mode        string     `db:"mode" json:"mode"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	DeliveredAt *time.Time `db:"delivered_at" json:"delivered_at,omitempty"`
}

// OrderItem is a frozen line item attached to an order. Name and UnitPrice
// are copied from the product at order time, not live references.
type OrderItem struct {
	ID        int64  `db:"id" json:"id"`
	OrderID   string `db:"order_id" json:"order_id"`
	ProductID string `db:"product_id" json:"product_id"`
	Name      string `db:"name" json:"name"`
	UnitPrice int64  `db:"unit_price" json:"unit_price"`
	Quantity  int    `db:"quantity" json:"quantity"`
}

// School identifies one tenant: an isolated database selected per request.
type School struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DatabaseURL string `json:"database_url,omitempty"`
}
