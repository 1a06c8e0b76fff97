package memory

import (
	"fmt"

	"github.com/shopspring/decimal"

	"tablebill/backend/internal/domain"
	"tablebill/backend/internal/store"
)

// DemoCatalog is the demo restaurant as an insert-only batch: eight tables,
// a menu with recipes and the inventory those recipes draw on. Every record
// is at version 0 so applying it to a repository that already holds the
// catalog fails with store.ErrConcurrentModification.
func DemoCatalog(restaurantID string) *store.Batch {
	qty := decimal.RequireFromString
	batch := &store.Batch{
		Inventory: []domain.InventoryItem{
			{ID: "inv-paneer", Name: "Paneer", Quantity: qty("10"), Unit: "kg", LowStockThreshold: qty("2")},
			{ID: "inv-chicken", Name: "Chicken", Quantity: qty("15"), Unit: "kg", LowStockThreshold: qty("3")},
			{ID: "inv-rice", Name: "Basmati Rice", Quantity: qty("25"), Unit: "kg", LowStockThreshold: qty("5")},
			{ID: "inv-onion", Name: "Onion", Quantity: qty("20"), Unit: "kg", LowStockThreshold: qty("4")},
			{ID: "inv-flour", Name: "Wheat Flour", Quantity: qty("30"), Unit: "kg", LowStockThreshold: qty("5")},
			{ID: "inv-milk", Name: "Milk", Quantity: qty("12"), Unit: "l", LowStockThreshold: qty("3")},
		},
	}

	softDrinks := qty("48")
	batch.MenuItems = []domain.MenuItem{
		{ID: "menu-paneer-tikka", Name: "Paneer Tikka", Price: 280, Available: true, Recipe: []domain.RecipeIngredient{
			{IngredientID: "inv-paneer", Quantity: qty("0.2")},
			{IngredientID: "inv-onion", Quantity: qty("0.05")},
		}},
		{ID: "menu-chicken-biryani", Name: "Chicken Biryani", Price: 340, Available: true, Recipe: []domain.RecipeIngredient{
			{IngredientID: "inv-chicken", Quantity: qty("0.25")},
			{IngredientID: "inv-rice", Quantity: qty("0.15")},
			{IngredientID: "inv-onion", Quantity: qty("0.08")},
		}},
		{ID: "menu-butter-naan", Name: "Butter Naan", Price: 60, Available: true, Recipe: []domain.RecipeIngredient{
			{IngredientID: "inv-flour", Quantity: qty("0.1")},
		}},
		{ID: "menu-masala-chai", Name: "Masala Chai", Price: 40, Available: true, Recipe: []domain.RecipeIngredient{
			{IngredientID: "inv-milk", Quantity: qty("0.15")},
		}},
		{ID: "menu-soft-drink", Name: "Soft Drink", Price: 50, Available: true, StockQuantity: &softDrinks, LowStockThreshold: qty("12")},
	}

	for i := 1; i <= 8; i++ {
		batch.Tables = append(batch.Tables, domain.Table{
			ID:     fmt.Sprintf("T%d", i),
			Name:   fmt.Sprintf("Table %d", i),
			Status: domain.TableStatusAvailable,
		})
	}

	for i := range batch.Inventory {
		batch.Inventory[i].RestaurantID = restaurantID
	}
	for i := range batch.MenuItems {
		batch.MenuItems[i].RestaurantID = restaurantID
	}
	for i := range batch.Tables {
		batch.Tables[i].RestaurantID = restaurantID
	}
	return batch
}
