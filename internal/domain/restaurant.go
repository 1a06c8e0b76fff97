package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TableStatusAvailable = "available"
	TableStatusOccupied  = "occupied"
	TableStatusReserved  = "reserved"
)

const (
	TierBronze   = "bronze"
	TierSilver   = "silver"
	TierGold     = "gold"
	TierPlatinum = "platinum"
)

type Table struct {
	ID             string `json:"id"`
	RestaurantID   string `json:"restaurant_id"`
	Name           string `json:"name"`
	Status         string `json:"status"`
	CurrentOrderID string `json:"current_order_id,omitempty"`
	Version        int64  `json:"version"`
}

type RecipeIngredient struct {
	IngredientID string          `json:"ingredient_id"`
	Quantity     decimal.Decimal `json:"quantity"`
}

type MenuItem struct {
	ID                string             `json:"id"`
	RestaurantID      string             `json:"restaurant_id"`
	Name              string             `json:"name"`
	Price             int64              `json:"price"`
	Available         bool               `json:"available"`
	Recipe            []RecipeIngredient `json:"recipe,omitempty"`
	StockQuantity     *decimal.Decimal   `json:"stock_quantity,omitempty"`
	LowStockThreshold decimal.Decimal    `json:"low_stock_threshold"`
	Version           int64              `json:"version"`
}

// TracksStock reports whether the menu item keeps its own direct stock count.
func (m MenuItem) TracksStock() bool {
	return m.StockQuantity != nil
}

type InventoryItem struct {
	ID                string          `json:"id"`
	RestaurantID      string          `json:"restaurant_id"`
	Name              string          `json:"name"`
	Quantity          decimal.Decimal `json:"quantity"`
	Unit              string          `json:"unit"`
	LowStockThreshold decimal.Decimal `json:"low_stock_threshold"`
	Version           int64           `json:"version"`
}

type Customer struct {
	RestaurantID string     `json:"restaurant_id"`
	Key          string     `json:"key"`
	Name         string     `json:"name,omitempty"`
	Mobile       string     `json:"mobile,omitempty"`
	Visits       int        `json:"visits"`
	TotalSpent   int64      `json:"total_spent"`
	Points       int64      `json:"points"`
	Tier         string     `json:"tier"`
	LastVisitAt  *time.Time `json:"last_visit_at,omitempty"`
	Version      int64      `json:"version"`
}

type Actor struct {
	Username     string
	Role         string
	RestaurantID string
}

type UserAccount struct {
	Username     string    `json:"username"`
	Password     string    `json:"-"`
	Role         string    `json:"role"`
	RestaurantID string    `json:"restaurant_id"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken  string `json:"access_token"`
	Role         string `json:"role"`
	RestaurantID string `json:"restaurant_id"`
	ExpiresAt    string `json:"expires_at"`
}
