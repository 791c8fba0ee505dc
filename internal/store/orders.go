package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"gardenx/internal/errs"
	"gardenx/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// PlaceOrder runs the whole checkout in a single transaction: resolve the
// referenced products, conditionally decrement their stock, and insert the
// order with frozen line items and a server-recomputed total. If any
// line's conditional decrement affects zero rows the transaction is rolled
// back and an InsufficientStockError is returned; no partial order exists.
func (s *Store) PlaceOrder(ctx context.Context, userID string, lines []models.CartLine, mode string) (*models.Order, []models.OrderItem, error) {
	return s.createOrder(ctx, userID, lines, mode, false, false)
}

// PlaceManualOrder records a walk-up sale entered by an admin: same
// atomic stock decrement, but the order is delivered on creation and a
// free order keeps its frozen item prices with a zero total.
func (s *Store) PlaceManualOrder(ctx context.Context, userID string, lines []models.CartLine, free bool) (*models.Order, []models.OrderItem, error) {
	return s.createOrder(ctx, userID, lines, models.ModePickup, true, free)
}

func (s *Store) createOrder(ctx context.Context, userID string, lines []models.CartLine, mode string, delivered, free bool) (*models.Order, []models.OrderItem, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	order := &models.Order{
		ID:     uuid.New().String(),
		UserID: userID,
		Status: models.OrderStatusPending,
		Mode:   mode,
	}
	if delivered {
		order.Status = models.OrderStatusDelivered
		now := time.Now().UTC()
		order.DeliveredAt = &now
	}

	items := make([]models.OrderItem, 0, len(lines))
	for _, line := range lockOrdering(lines) {
		product, err := resolveProductTx(ctx, tx, line)
		if err != nil {
			return nil, nil, err
		}

		// The decrement and the stock check are one statement, so two
		// concurrent checkouts can never both pass on the same unit.
		res, err := tx.ExecContext(ctx,
			"UPDATE products SET stock_quantity = stock_quantity - $1 WHERE id = $2 AND stock_quantity >= $1",
			line.Quantity, product.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to decrement stock: %w", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return nil, nil, err
		}
		if affected == 0 {
			return nil, nil, &errs.InsufficientStockError{
				ProductID: product.ID,
				Name:      product.Name,
				Requested: line.Quantity,
				Available: product.StockQuantity,
			}
		}

		order.TotalAmount += product.Price * int64(line.Quantity)
		items = append(items, models.OrderItem{
			OrderID:   order.ID,
			ProductID: product.ID,
			Name:      product.Name,
			UnitPrice: product.Price,
			Quantity:  line.Quantity,
		})
	}

	if free {
		order.TotalAmount = 0
	}

	err = tx.GetContext(ctx, &order.CreatedAt, `
		INSERT INTO orders (id, user_id, total_amount, status, mode, delivered_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		order.ID, order.UserID, order.TotalAmount, order.Status, order.Mode, order.DeliveredAt)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create order: %w", err)
	}

	for i := range items {
		err := tx.GetContext(ctx, &items[i].ID, `
			INSERT INTO order_items (order_id, product_id, name, unit_price, quantity)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id`,
			items[i].OrderID, items[i].ProductID, items[i].Name,
			items[i].UnitPrice, items[i].Quantity)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create order item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return order, items, nil
}

// lockOrdering returns a copy of the lines sorted by product id, then
// name for legacy id-less lines. Concurrent checkouts then acquire their
// row locks in the same sequence, which rules out lock-order deadlocks
// between multi-line orders.
func lockOrdering(lines []models.CartLine) []models.CartLine {
	out := make([]models.CartLine, len(lines))
	copy(out, lines)
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProductID != out[j].ProductID {
			return out[i].ProductID < out[j].ProductID
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// resolveProductTx locks the product row referenced by a cart line,
// falling back to lookup by name for legacy lines without an id.
func resolveProductTx(ctx context.Context, tx *sqlx.Tx, line models.CartLine) (*models.Product, error) {
	var product models.Product
	var err error

	if line.ProductID != "" {
		err = tx.GetContext(ctx, &product,
			"SELECT * FROM products WHERE id = $1 FOR UPDATE", line.ProductID)
	} else {
		err = tx.GetContext(ctx, &product,
			"SELECT * FROM products WHERE name = $1 FOR UPDATE", line.Name)
	}
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("product not found: id=%q name=%q", line.ProductID, line.Name)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderItemsByOrderID retrieves all items for an order
func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// GetOrdersByUserID retrieves orders for a user, newest first
func (s *Store) GetOrdersByUserID(ctx context.Context, userID string) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	return orders, err
}

// GetAllOrders retrieves every order, newest first
func (s *Store) GetAllOrders(ctx context.Context) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders ORDER BY created_at DESC")
	return orders, err
}

// TransitionOrder moves an order to a new status inside one transaction.
// The current status is locked and re-checked against the state machine,
// delivered_at is stamped on entry into delivered, and when restock is set
// a cancellation returns the ordered quantities to stock. The returned
// prior status comes from the locked read, so it is exact even under
// concurrent transitions.
func (s *Store) TransitionOrder(ctx context.Context, orderID, newStatus string, restock bool) (*models.Order, string, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, "", err
	}
	defer tx.Rollback()

	var order models.Order
	err = tx.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", orderID)
	if err == sql.ErrNoRows {
		return nil, "", fmt.Errorf("order not found: %s", orderID)
	}
	if err != nil {
		return nil, "", err
	}
	priorStatus := order.Status

	if !models.CanTransition(order.Status, newStatus) {
		return nil, "", &errs.ValidationError{
			Field:   "status",
			Message: fmt.Sprintf("cannot transition order from %s to %s", order.Status, newStatus),
		}
	}

	var deliveredAt *time.Time
	if newStatus == models.OrderStatusDelivered {
		now := time.Now().UTC()
		deliveredAt = &now
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE orders SET status = $1, delivered_at = COALESCE($2, delivered_at) WHERE id = $3",
		newStatus, deliveredAt, orderID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to update order status: %w", err)
	}

	if restock && newStatus == models.OrderStatusCancelled {
		var items []models.OrderItem
		if err := tx.SelectContext(ctx, &items,
			"SELECT * FROM order_items WHERE order_id = $1", orderID); err != nil {
			return nil, "", err
		}
		for _, item := range items {
			_, err := tx.ExecContext(ctx,
				"UPDATE products SET stock_quantity = stock_quantity + $1 WHERE id = $2",
				item.Quantity, item.ProductID)
			if err != nil {
				return nil, "", fmt.Errorf("failed to restock product %s: %w", item.ProductID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, "", err
	}

	order.Status = newStatus
	if deliveredAt != nil {
		order.DeliveredAt = deliveredAt
	}
	return &order, priorStatus, nil
}

// GetDeliveredOrdersBetween retrieves delivered orders whose delivered_at
// falls within [start, end] inclusive.
func (s *Store) GetDeliveredOrdersBetween(ctx context.Context, start, end time.Time) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders, `
		SELECT * FROM orders
		WHERE status = $1 AND delivered_at BETWEEN $2 AND $3
		ORDER BY delivered_at DESC`,
		models.OrderStatusDelivered, start, end)
	return orders, err
}

// GetItemsForOrders retrieves the items of multiple orders in one query
func (s *Store) GetItemsForOrders(ctx context.Context, orderIDs []string) ([]models.OrderItem, error) {
	if len(orderIDs) == 0 {
		return []models.OrderItem{}, nil
	}

	query, args, err := sqlx.In("SELECT * FROM order_items WHERE order_id IN (?)", orderIDs)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var items []models.OrderItem
	err = s.db.SelectContext(ctx, &items, query, args...)
	return items, err
}
