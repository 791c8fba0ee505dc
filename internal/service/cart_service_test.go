package service

import (
	"context"
	"testing"

	"gardenx/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memCartStorage struct {
	data map[string]string
}

func newMemCartStorage() *memCartStorage {
	return &memCartStorage{data: make(map[string]string)}
}

func (m *memCartStorage) key(schoolID, userID string) string {
	return schoolID + ":" + userID
}

func (m *memCartStorage) GetCart(_ context.Context, schoolID, userID string) (string, error) {
	return m.data[m.key(schoolID, userID)], nil
}

func (m *memCartStorage) SetCart(_ context.Context, schoolID, userID, payload string) error {
	m.data[m.key(schoolID, userID)] = payload
	return nil
}

func (m *memCartStorage) DeleteCart(_ context.Context, schoolID, userID string) error {
	delete(m.data, m.key(schoolID, userID))
	return nil
}

func testProduct(id, name string, price int64) *models.Product {
	return &models.Product{ID: id, Name: name, Price: price, StockQuantity: 10}
}

func TestCartAddIncrementsExistingLine(t *testing.T) {
	cs := NewCartService(newMemCartStorage())
	ctx := context.Background()
	tomato := testProduct("p1", "Tomato (500g)", 700)

	lines, err := cs.Add(ctx, "school1", "u1", false, tomato, 1)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, 1, lines[0].Quantity)

	lines, err = cs.Add(ctx, "school1", "u1", false, tomato, 2)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, 3, lines[0].Quantity)
}

func TestCartAddClampsQuantity(t *testing.T) {
	cs := NewCartService(newMemCartStorage())

	lines, err := cs.Add(context.Background(), "school1", "u1", false, testProduct("p1", "Basil", 500), -3)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, 1, lines[0].Quantity)
}

func TestCartSetQuantityZeroRemovesLine(t *testing.T) {
	cs := NewCartService(newMemCartStorage())
	ctx := context.Background()

	_, err := cs.Add(ctx, "school1", "u1", false, testProduct("p1", "Basil", 500), 2)
	require.NoError(t, err)
	_, err = cs.Add(ctx, "school1", "u1", false, testProduct("p2", "Mint", 400), 1)
	require.NoError(t, err)

	lines, err := cs.SetQuantity(ctx, "school1", "u1", false, "p1", 0)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "p2", lines[0].ProductID)

	lines, err = cs.Remove(ctx, "school1", "u1", false, "p2")
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestCartMalformedPayloadDegradesToEmpty(t *testing.T) {
	storage := newMemCartStorage()
	require.NoError(t, storage.SetCart(context.Background(), "school1", "u1", "{not json"))

	cs := NewCartService(storage)
	lines, err := cs.Get(context.Background(), "school1", "u1", false)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestCartIsolatedPerSchool(t *testing.T) {
	cs := NewCartService(newMemCartStorage())
	ctx := context.Background()

	_, err := cs.Add(ctx, "school1", "u1", false, testProduct("p1", "Basil", 500), 1)
	require.NoError(t, err)

	lines, err := cs.Get(ctx, "school2", "u1", false)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestCartAdminHasNoCart(t *testing.T) {
	storage := newMemCartStorage()
	cs := NewCartService(storage)
	ctx := context.Background()

	// Content stored before the account became admin is cleared on sight
	_, err := cs.Add(ctx, "school1", "u1", false, testProduct("p1", "Basil", 500), 2)
	require.NoError(t, err)

	lines, err := cs.Get(ctx, "school1", "u1", true)
	require.NoError(t, err)
	assert.Empty(t, lines)
	assert.Empty(t, storage.data)

	lines, err = cs.Add(ctx, "school1", "u1", true, testProduct("p2", "Mint", 400), 1)
	require.NoError(t, err)
	assert.Empty(t, lines)
	assert.Empty(t, storage.data)
}

func TestCartTotalAndCount(t *testing.T) {
	lines := []models.CartLine{
		{ProductID: "p1", Price: 700, Quantity: 2},
		{ProductID: "p2", Price: 400, Quantity: 3},
	}
	assert.Equal(t, int64(2*700+3*400), CartTotal(lines))
	assert.Equal(t, 5, CartItemCount(lines))
	assert.Equal(t, int64(0), CartTotal(nil))
	assert.Equal(t, 0, CartItemCount(nil))
}
