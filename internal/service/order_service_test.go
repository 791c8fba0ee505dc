package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"gardenx/internal/errs"
	"gardenx/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memOrderStore mirrors the sqlx store's atomicity: checkout either
// decrements every line and creates the order, or changes nothing.
type memOrderStore struct {
	mu       sync.Mutex
	products map[string]*models.Product
	profiles map[string]*models.UserProfile
	orders   map[string]*models.Order
	items    map[string][]models.OrderItem
}

func newMemOrderStore() *memOrderStore {
	return &memOrderStore{
		products: make(map[string]*models.Product),
		profiles: make(map[string]*models.UserProfile),
		orders:   make(map[string]*models.Order),
		items:    make(map[string][]models.OrderItem),
	}
}

func (m *memOrderStore) addProduct(p *models.Product) {
	m.products[p.ID] = p
}

func (m *memOrderStore) addProfile(p *models.UserProfile) {
	m.profiles[p.ID] = p
}

func (m *memOrderStore) GetProfile(_ context.Context, userID string) (*models.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profiles[userID], nil
}

func (m *memOrderStore) resolveProduct(line models.CartLine) *models.Product {
	if p, ok := m.products[line.ProductID]; ok {
		return p
	}
	for _, p := range m.products {
		if p.Name == line.Name {
			return p
		}
	}
	return nil
}

func (m *memOrderStore) PlaceOrder(_ context.Context, userID string, lines []models.CartLine, mode string) (*models.Order, []models.OrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	resolved := make([]*models.Product, len(lines))
	for i, line := range lines {
		p := m.resolveProduct(line)
		if p == nil {
			return nil, nil, fmt.Errorf("product %s not found", line.ProductID)
		}
		if p.StockQuantity < line.Quantity {
			return nil, nil, &errs.InsufficientStockError{
				ProductID: p.ID,
				Name:      p.Name,
				Requested: line.Quantity,
				Available: p.StockQuantity,
			}
		}
		resolved[i] = p
	}

	order := &models.Order{
		ID:        uuid.New().String(),
		UserID:    userID,
		Status:    models.OrderStatusPending,
		Mode:      mode,
		CreatedAt: time.Now(),
	}
	var items []models.OrderItem
	for i, line := range lines {
		p := resolved[i]
		p.StockQuantity -= line.Quantity
		order.TotalAmount += p.Price * int64(line.Quantity)
		items = append(items, models.OrderItem{
			ID:        int64(i + 1),
			OrderID:   order.ID,
			ProductID: p.ID,
			Name:      p.Name,
			UnitPrice: p.Price,
			Quantity:  line.Quantity,
		})
	}

	m.orders[order.ID] = order
	m.items[order.ID] = items
	return order, items, nil
}

func (m *memOrderStore) PlaceManualOrder(ctx context.Context, userID string, lines []models.CartLine, free bool) (*models.Order, []models.OrderItem, error) {
	order, items, err := m.PlaceOrder(ctx, userID, lines, models.ModePickup)
	if err != nil {
		return nil, nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	order.Status = models.OrderStatusDelivered
	now := time.Now()
	order.DeliveredAt = &now
	if free {
		order.TotalAmount = 0
	}
	return order, items, nil
}

func (m *memOrderStore) GetOrderByID(_ context.Context, id string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s not found", id)
	}
	return order, nil
}

func (m *memOrderStore) GetOrderItemsByOrderID(_ context.Context, orderID string) ([]models.OrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[orderID], nil
}

func (m *memOrderStore) GetOrdersByUserID(_ context.Context, userID string) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Order
	for _, o := range m.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *memOrderStore) GetAllOrders(_ context.Context) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Order
	for _, o := range m.orders {
		out = append(out, *o)
	}
	return out, nil
}

func (m *memOrderStore) TransitionOrder(_ context.Context, orderID, newStatus string, restock bool) (*models.Order, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID]
	if !ok {
		return nil, "", fmt.Errorf("order %s not found", orderID)
	}
	if !models.CanTransition(order.Status, newStatus) {
		return nil, "", &errs.ValidationError{Field: "status", Message: "illegal transition"}
	}

	priorStatus := order.Status
	order.Status = newStatus
	if newStatus == models.OrderStatusDelivered && order.DeliveredAt == nil {
		now := time.Now()
		order.DeliveredAt = &now
	}
	if newStatus == models.OrderStatusCancelled && restock {
		for _, item := range m.items[orderID] {
			if p, ok := m.products[item.ProductID]; ok {
				p.StockQuantity += item.Quantity
			}
		}
	}
	return order, priorStatus, nil
}

type memPublisher struct {
	mu            sync.Mutex
	placed        []*models.OrderPlacedEvent
	statusChanged []*models.OrderStatusChangedEvent
}

func (m *memPublisher) PublishOrderPlaced(_ context.Context, e *models.OrderPlacedEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.placed = append(m.placed, e)
	return nil
}

func (m *memPublisher) PublishOrderStatusChanged(_ context.Context, e *models.OrderStatusChangedEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusChanged = append(m.statusChanged, e)
	return nil
}

func orderFixture(restockOnCancel bool) (*OrderService, *memOrderStore, *memPublisher) {
	store := newMemOrderStore()
	store.addProduct(&models.Product{ID: "p1", Name: "Tomato (500g)", Price: 700, StockQuantity: 5})
	store.addProduct(&models.Product{ID: "p2", Name: "Basil Plant", Price: 1200, StockQuantity: 2})
	store.addProfile(&models.UserProfile{ID: "u1", Email: "parent@example.com", Role: models.RoleParent})

	publisher := &memPublisher{}
	return NewOrderService(store, publisher, "school1", restockOnCancel), store, publisher
}

func TestPlaceOrder(t *testing.T) {
	svc, store, publisher := orderFixture(false)
	ctx := context.Background()

	lines := []models.CartLine{
		{ProductID: "p1", Name: "Tomato (500g)", Price: 700, Quantity: 2},
		{ProductID: "p2", Name: "Basil Plant", Price: 1200, Quantity: 1},
	}

	order, items, err := svc.PlaceOrder(ctx, "u1", lines, models.ModePickup)
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, int64(2*700+1200), order.TotalAmount)
	assert.Equal(t, 3, store.products["p1"].StockQuantity)
	assert.Equal(t, 1, store.products["p2"].StockQuantity)

	require.Len(t, publisher.placed, 1)
	assert.Equal(t, "school1", publisher.placed[0].SchoolID)
	assert.Equal(t, "parent@example.com", publisher.placed[0].CustomerEmail)
	assert.Equal(t, order.TotalAmount, publisher.placed[0].TotalAmount)
}

func TestPlaceOrderUsesCurrentPrices(t *testing.T) {
	svc, store, _ := orderFixture(false)

	// Stale snapshot price in the cart; the store's price wins
	lines := []models.CartLine{{ProductID: "p1", Name: "Tomato (500g)", Price: 100, Quantity: 1}}

	order, items, err := svc.PlaceOrder(context.Background(), "u1", lines, models.ModeDelivery)
	require.NoError(t, err)
	assert.Equal(t, store.products["p1"].Price, order.TotalAmount)
	assert.Equal(t, store.products["p1"].Price, items[0].UnitPrice)
}

func TestPlaceOrderInsufficientStockIsAllOrNothing(t *testing.T) {
	svc, store, publisher := orderFixture(false)

	lines := []models.CartLine{
		{ProductID: "p1", Quantity: 1},
		{ProductID: "p2", Quantity: 3}, // only 2 available
	}

	_, _, err := svc.PlaceOrder(context.Background(), "u1", lines, models.ModePickup)
	require.Error(t, err)

	var stockErr *errs.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "p2", stockErr.ProductID)
	assert.Equal(t, 3, stockErr.Requested)
	assert.Equal(t, 2, stockErr.Available)

	// Nothing changed: no decrement on the satisfiable line, no order
	assert.Equal(t, 5, store.products["p1"].StockQuantity)
	assert.Equal(t, 2, store.products["p2"].StockQuantity)
	assert.Empty(t, store.orders)
	assert.Empty(t, publisher.placed)
}

func TestPlaceOrderConcurrentLastUnit(t *testing.T) {
	store := newMemOrderStore()
	store.addProduct(&models.Product{ID: "p1", Name: "Last Seedling", Price: 900, StockQuantity: 1})
	store.addProfile(&models.UserProfile{ID: "u1", Email: "a@example.com"})
	store.addProfile(&models.UserProfile{ID: "u2", Email: "b@example.com"})
	svc := NewOrderService(store, &memPublisher{}, "school1", false)

	lines := []models.CartLine{{ProductID: "p1", Quantity: 1}}
	results := make(chan error, 2)

	var wg sync.WaitGroup
	for _, user := range []string{"u1", "u2"} {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			_, _, err := svc.PlaceOrder(context.Background(), userID, lines, models.ModePickup)
			results <- err
		}(user)
	}
	wg.Wait()
	close(results)

	var successes, stockRejections int
	for err := range results {
		if err == nil {
			successes++
			continue
		}
		var stockErr *errs.InsufficientStockError
		require.ErrorAs(t, err, &stockErr)
		stockRejections++
	}

	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, stockRejections)
	assert.Equal(t, 0, store.products["p1"].StockQuantity)
	assert.Len(t, store.orders, 1)
}

func TestPlaceOrderValidation(t *testing.T) {
	svc, _, _ := orderFixture(false)
	ctx := context.Background()
	lines := []models.CartLine{{ProductID: "p1", Quantity: 1}}

	var valErr *errs.ValidationError

	_, _, err := svc.PlaceOrder(ctx, "u1", lines, "teleport")
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "mode", valErr.Field)

	_, _, err = svc.PlaceOrder(ctx, "u1", nil, models.ModePickup)
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "items", valErr.Field)

	// Lines with no positive quantity collapse to an empty cart
	_, _, err = svc.PlaceOrder(ctx, "u1", []models.CartLine{{ProductID: "p1", Quantity: 0}}, models.ModePickup)
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "items", valErr.Field)
}

func TestPlaceOrderRequiresProfile(t *testing.T) {
	svc, _, _ := orderFixture(false)

	_, _, err := svc.PlaceOrder(context.Background(), "ghost",
		[]models.CartLine{{ProductID: "p1", Quantity: 1}}, models.ModePickup)
	require.Error(t, err)

	var profileErr *errs.ProfileIncompleteError
	require.ErrorAs(t, err, &profileErr)
	assert.Equal(t, "ghost", profileErr.UserID)
}

func TestPlaceOrderMergesDuplicateLines(t *testing.T) {
	svc, store, _ := orderFixture(false)

	lines := []models.CartLine{
		{ProductID: "p1", Quantity: 1},
		{ProductID: "p1", Quantity: 2},
	}

	_, items, err := svc.PlaceOrder(context.Background(), "u1", lines, models.ModePickup)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 3, items[0].Quantity)
	assert.Equal(t, 2, store.products["p1"].StockQuantity)
}

func TestMergeLinesByName(t *testing.T) {
	// Legacy lines carry no product id, only a display name
	merged := mergeLines([]models.CartLine{
		{Name: "Tomato (500g)", Quantity: 1},
		{Name: "Tomato (500g)", Quantity: 1},
		{ProductID: "p2", Quantity: 1},
	})
	require.Len(t, merged, 2)
	assert.Equal(t, 2, merged[0].Quantity)
}

func TestReorder(t *testing.T) {
	svc, store, _ := orderFixture(false)
	ctx := context.Background()

	prior, _, err := svc.PlaceOrder(ctx, "u1",
		[]models.CartLine{{ProductID: "p1", Quantity: 2}}, models.ModeDelivery)
	require.NoError(t, err)

	// Price change between orders: the reorder pays the current price
	store.products["p1"].Price = 900

	order, items, err := svc.Reorder(ctx, "u1", prior.ID, "")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, models.ModeDelivery, order.Mode, "mode defaults to the prior order's")
	assert.Equal(t, int64(2*900), order.TotalAmount)
	assert.Equal(t, 1, store.products["p1"].StockQuantity)
}

func TestReorderOwnership(t *testing.T) {
	svc, store, _ := orderFixture(false)
	store.addProfile(&models.UserProfile{ID: "u2", Email: "other@example.com"})
	ctx := context.Background()

	prior, _, err := svc.PlaceOrder(ctx, "u1",
		[]models.CartLine{{ProductID: "p1", Quantity: 1}}, models.ModePickup)
	require.NoError(t, err)

	_, _, err = svc.Reorder(ctx, "u2", prior.ID, "")
	require.Error(t, err)

	var valErr *errs.ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "order_id", valErr.Field)
}

func TestUpdateStatusLifecycle(t *testing.T) {
	svc, _, publisher := orderFixture(false)
	ctx := context.Background()

	placed, _, err := svc.PlaceOrder(ctx, "u1",
		[]models.CartLine{{ProductID: "p1", Quantity: 1}}, models.ModePickup)
	require.NoError(t, err)

	order, err := svc.UpdateStatus(ctx, placed.ID, models.OrderStatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, order.Status)
	assert.Nil(t, order.DeliveredAt)

	order, err = svc.UpdateStatus(ctx, placed.ID, models.OrderStatusDelivered)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusDelivered, order.Status)
	require.NotNil(t, order.DeliveredAt)

	// Terminal: no further transitions
	_, err = svc.UpdateStatus(ctx, placed.ID, models.OrderStatusCancelled)
	assert.Error(t, err)

	require.Len(t, publisher.statusChanged, 2)
	assert.Equal(t, models.OrderStatusPending, publisher.statusChanged[0].OldStatus)
	assert.Equal(t, models.OrderStatusConfirmed, publisher.statusChanged[0].NewStatus)
	assert.Equal(t, "parent@example.com", publisher.statusChanged[1].CustomerEmail)
}

// staleOrderReads scrambles the status on point reads, the way a
// concurrent transition between a read and an update would. Status
// events must carry the prior status captured inside the transition.
type staleOrderReads struct {
	*memOrderStore
}

func (s staleOrderReads) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	order, err := s.memOrderStore.GetOrderByID(ctx, id)
	if err != nil {
		return nil, err
	}
	scrambled := *order
	scrambled.Status = models.OrderStatusCancelled
	return &scrambled, nil
}

func TestUpdateStatusEventUsesTransitionPrior(t *testing.T) {
	store := newMemOrderStore()
	store.addProduct(&models.Product{ID: "p1", Name: "Tomato (500g)", Price: 700, StockQuantity: 5})
	store.addProfile(&models.UserProfile{ID: "u1", Email: "parent@example.com"})
	publisher := &memPublisher{}
	svc := NewOrderService(staleOrderReads{store}, publisher, "school1", false)
	ctx := context.Background()

	placed, _, err := svc.PlaceOrder(ctx, "u1",
		[]models.CartLine{{ProductID: "p1", Quantity: 1}}, models.ModePickup)
	require.NoError(t, err)

	_, err = svc.UpdateStatus(ctx, placed.ID, models.OrderStatusConfirmed)
	require.NoError(t, err)

	require.Len(t, publisher.statusChanged, 1)
	assert.Equal(t, models.OrderStatusPending, publisher.statusChanged[0].OldStatus,
		"old status comes from the transition itself, not a separate read")
}

func TestManualEntry(t *testing.T) {
	svc, store, publisher := orderFixture(false)
	ctx := context.Background()

	lines := []models.CartLine{
		{ProductID: "p1", Quantity: 2},
		{ProductID: "p2", Quantity: 1},
	}

	order, items, err := svc.ManualEntry(ctx, "admin1", lines, false)
	require.NoError(t, err)
	require.Len(t, items, 2)

	// Delivered on creation, under the admin's own account
	assert.Equal(t, models.OrderStatusDelivered, order.Status)
	require.NotNil(t, order.DeliveredAt)
	assert.Equal(t, "admin1", order.UserID)
	assert.Equal(t, models.ModePickup, order.Mode)
	assert.Equal(t, int64(2*700+1200), order.TotalAmount)

	// Stock moved like any other checkout
	assert.Equal(t, 3, store.products["p1"].StockQuantity)
	assert.Equal(t, 1, store.products["p2"].StockQuantity)

	// The customer is at the stand: nothing to notify
	assert.Empty(t, publisher.placed)
	assert.Empty(t, publisher.statusChanged)
}

func TestManualEntryFreeOrder(t *testing.T) {
	svc, store, _ := orderFixture(false)

	order, items, err := svc.ManualEntry(context.Background(), "admin1",
		[]models.CartLine{{ProductID: "p1", Quantity: 2}}, true)
	require.NoError(t, err)

	// Zero total, but the line items keep their frozen prices
	assert.Equal(t, int64(0), order.TotalAmount)
	require.Len(t, items, 1)
	assert.Equal(t, int64(700), items[0].UnitPrice)
	assert.Equal(t, 3, store.products["p1"].StockQuantity)
}

func TestManualEntryValidation(t *testing.T) {
	svc, _, _ := orderFixture(false)
	ctx := context.Background()

	var valErr *errs.ValidationError
	_, _, err := svc.ManualEntry(ctx, "admin1", nil, false)
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "items", valErr.Field)

	var stockErr *errs.InsufficientStockError
	_, _, err = svc.ManualEntry(ctx, "admin1",
		[]models.CartLine{{ProductID: "p2", Quantity: 3}}, false)
	require.ErrorAs(t, err, &stockErr)
}

func TestUpdateStatusRejectsUnknownStatus(t *testing.T) {
	svc, _, _ := orderFixture(false)

	_, err := svc.UpdateStatus(context.Background(), "whatever", "shipped")
	require.Error(t, err)

	var valErr *errs.ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "status", valErr.Field)
}

func TestCancelRestockPolicy(t *testing.T) {
	for _, tc := range []struct {
		name          string
		restock       bool
		expectedStock int
	}{
		{"restock enabled", true, 5},
		{"restock disabled", false, 3},
	} {
		t.Run(tc.name, func(t *testing.T) {
			svc, store, _ := orderFixture(tc.restock)
			ctx := context.Background()

			placed, _, err := svc.PlaceOrder(ctx, "u1",
				[]models.CartLine{{ProductID: "p1", Quantity: 2}}, models.ModePickup)
			require.NoError(t, err)
			require.Equal(t, 3, store.products["p1"].StockQuantity)

			_, err = svc.UpdateStatus(ctx, placed.ID, models.OrderStatusCancelled)
			require.NoError(t, err)
			assert.Equal(t, tc.expectedStock, store.products["p1"].StockQuantity)
		})
	}
}
