package service

import (
	"context"
	"encoding/json"

	"gardenx/internal/models"
	"gardenx/internal/util"

	"go.uber.org/zap"
)

// CartStorage is the persistence behind carts, keyed by (school, user).
type CartStorage interface {
	GetCart(ctx context.Context, schoolID, userID string) (string, error)
	SetCart(ctx context.Context, schoolID, userID, payload string) error
	DeleteCart(ctx context.Context, schoolID, userID string) error
}

// CartService maintains the pending-purchase set per user. Lines hold a
// frozen snapshot of product id/name/price; stock is re-validated at
// checkout, not here.
type CartService struct {
	storage CartStorage
	logger  *zap.Logger
}

// NewCartService creates a new cart service
func NewCartService(storage CartStorage) *CartService {
	return &CartService{
		storage: storage,
		logger:  util.GetLogger(),
	}
}

// Get loads a user's cart. Absent or malformed payloads degrade to an
// empty cart, never an error. Admins get no cart; any stored content is
// cleared on sight.
func (cs *CartService) Get(ctx context.Context, schoolID, userID string, isAdmin bool) ([]models.CartLine, error) {
	if isAdmin {
		if err := cs.storage.DeleteCart(ctx, schoolID, userID); err != nil {
			return nil, err
		}
		return []models.CartLine{}, nil
	}

	payload, err := cs.storage.GetCart(ctx, schoolID, userID)
	if err != nil {
		return nil, err
	}
	if payload == "" {
		return []models.CartLine{}, nil
	}

	var lines []models.CartLine
	if err := json.Unmarshal([]byte(payload), &lines); err != nil {
		cs.logger.Warn("Malformed cart payload, resetting to empty",
			zap.String("user_id", userID),
			zap.Error(err))
		return []models.CartLine{}, nil
	}
	return lines, nil
}

// Add puts a product into the cart. Adding a product already present
// increments its quantity instead of inserting a duplicate line.
func (cs *CartService) Add(ctx context.Context, schoolID, userID string, isAdmin bool, product *models.Product, quantity int) ([]models.CartLine, error) {
	if quantity < 1 {
		quantity = 1
	}
	return cs.mutate(ctx, schoolID, userID, isAdmin, func(lines []models.CartLine) []models.CartLine {
		for i := range lines {
			if lines[i].ProductID == product.ID {
				lines[i].Quantity += quantity
				return lines
			}
		}
		return append(lines, models.CartLine{
			ProductID: product.ID,
			Name:      product.Name,
			Price:     product.Price,
			Quantity:  quantity,
		})
	})
}

// Remove deletes a line from the cart
func (cs *CartService) Remove(ctx context.Context, schoolID, userID string, isAdmin bool, productID string) ([]models.CartLine, error) {
	return cs.SetQuantity(ctx, schoolID, userID, isAdmin, productID, 0)
}

// SetQuantity sets a line's quantity; zero or less removes the line.
func (cs *CartService) SetQuantity(ctx context.Context, schoolID, userID string, isAdmin bool, productID string, quantity int) ([]models.CartLine, error) {
	return cs.mutate(ctx, schoolID, userID, isAdmin, func(lines []models.CartLine) []models.CartLine {
		out := lines[:0]
		for _, line := range lines {
			if line.ProductID == productID {
				if quantity <= 0 {
					continue
				}
				line.Quantity = quantity
			}
			out = append(out, line)
		}
		return out
	})
}

// Clear empties the cart
func (cs *CartService) Clear(ctx context.Context, schoolID, userID string) error {
	return cs.storage.DeleteCart(ctx, schoolID, userID)
}

func (cs *CartService) mutate(ctx context.Context, schoolID, userID string, isAdmin bool, fn func([]models.CartLine) []models.CartLine) ([]models.CartLine, error) {
	if isAdmin {
		cs.logger.Warn("Cart mutation attempted by admin, ignoring",
			zap.String("user_id", userID))
		if err := cs.storage.DeleteCart(ctx, schoolID, userID); err != nil {
			return nil, err
		}
		return []models.CartLine{}, nil
	}

	lines, err := cs.Get(ctx, schoolID, userID, false)
	if err != nil {
		return nil, err
	}

	lines = fn(lines)

	payload, err := json.Marshal(lines)
	if err != nil {
		return nil, err
	}
	if err := cs.storage.SetCart(ctx, schoolID, userID, string(payload)); err != nil {
		return nil, err
	}
	return lines, nil
}

// CartTotal sums price x quantity over all lines, recomputed per call.
func CartTotal(lines []models.CartLine) int64 {
	var total int64
	for _, line := range lines {
		total += line.Price * int64(line.Quantity)
	}
	return total
}

// CartItemCount sums quantities, used for the badge display.
func CartItemCount(lines []models.CartLine) int {
	var count int
	for _, line := range lines {
		count += line.Quantity
	}
	return count
}
