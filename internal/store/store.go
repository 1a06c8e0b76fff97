package store

import (
	"context"
	"errors"

	"tablebill/backend/internal/domain"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrInvalidOrder           = errors.New("invalid order")
	ErrAlreadyClosed          = errors.New("order already closed")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrConcurrentModification = errors.New("concurrent modification")
)

// Batch is a set of record writes committed all-or-nothing. Every record is
// guarded by the version it was read at; version 0 means the record must
// not exist yet. Orders with OrderNumber 0 receive the restaurant's next
// number as part of the same commit.
type Batch struct {
	Orders    []domain.Order
	Tables    []domain.Table
	Inventory []domain.InventoryItem
	MenuItems []domain.MenuItem
	Customers []domain.Customer
}

func (b *Batch) Empty() bool {
	return len(b.Orders) == 0 && len(b.Tables) == 0 && len(b.Inventory) == 0 &&
		len(b.MenuItems) == 0 && len(b.Customers) == 0
}

type OrderFilter struct {
	RestaurantID string
	Status       string
	Limit        int
}

type Repository interface {
	GetOrder(ctx context.Context, restaurantID string, id string) (*domain.Order, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]domain.Order, error)
	// FindPendingOrderByMobile returns the newest pending_payment order for
	// mobile, or ErrNotFound.
	FindPendingOrderByMobile(ctx context.Context, restaurantID string, mobile string) (*domain.Order, error)
	GetTable(ctx context.Context, restaurantID string, id string) (*domain.Table, error)
	GetMenuItems(ctx context.Context, restaurantID string, ids []string) (map[string]domain.MenuItem, error)
	GetInventoryItems(ctx context.Context, restaurantID string, ids []string) (map[string]domain.InventoryItem, error)
	GetCustomer(ctx context.Context, restaurantID string, key string) (*domain.Customer, error)
	// Apply commits batch atomically. On success every record in batch
	// carries its committed version and assigned order number; on
	// ErrConcurrentModification nothing was written.
	Apply(ctx context.Context, batch *Batch) error
	GetUser(ctx context.Context, username string) (*domain.UserAccount, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
}
