package inventory

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablebill/backend/internal/domain"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func fixtures() (map[string]domain.MenuItem, map[string]domain.InventoryItem) {
	cola := dec("10")
	menu := map[string]domain.MenuItem{
		"paneer-tikka": {
			ID:   "paneer-tikka",
			Name: "Paneer Tikka",
			Recipe: []domain.RecipeIngredient{
				{IngredientID: "paneer", Quantity: dec("0.2")},
				{IngredientID: "onion", Quantity: dec("0.05")},
			},
		},
		"dal": {
			ID:     "dal",
			Name:   "Dal Tadka",
			Recipe: []domain.RecipeIngredient{{IngredientID: "onion", Quantity: dec("0.1")}},
		},
		"cola": {
			ID:                "cola",
			Name:              "Cola",
			StockQuantity:     &cola,
			LowStockThreshold: dec("3"),
		},
	}
	stock := map[string]domain.InventoryItem{
		"paneer": {ID: "paneer", Name: "Paneer", Quantity: dec("5"), Unit: "kg", LowStockThreshold: dec("1")},
		"onion":  {ID: "onion", Name: "Onion", Quantity: dec("2"), Unit: "kg", LowStockThreshold: dec("0.5")},
	}
	return menu, stock
}

func byID(items []domain.InventoryItem) map[string]domain.InventoryItem {
	out := map[string]domain.InventoryItem{}
	for _, item := range items {
		out[item.ID] = item
	}
	return out
}

func TestDeductUsesRecipeQuantityTimesOrdered(t *testing.T) {
	menu, stock := fixtures()
	order := &domain.Order{
		RestaurantID: "r1",
		Items: []domain.OrderLineItem{
			{ID: "l1", MenuItemID: "paneer-tikka", Quantity: 3},
			{ID: "l2", MenuItemID: "dal", Quantity: 2},
			{ID: "l3", MenuItemID: "custom-1", Quantity: 1},
		},
	}

	plan := Deduct(order, menu, stock, time.Now())
	got := byID(plan.Inventory)

	require.Len(t, plan.Inventory, 2)
	assert.True(t, got["paneer"].Quantity.Equal(dec("4.4")), "paneer %s", got["paneer"].Quantity)
	// 3*0.05 + 2*0.1
	assert.True(t, got["onion"].Quantity.Equal(dec("1.65")), "onion %s", got["onion"].Quantity)
	assert.Empty(t, plan.Events)
	assert.Empty(t, plan.Missing)
}

func TestDeductFloorsAtZeroAndAlerts(t *testing.T) {
	menu, stock := fixtures()
	order := &domain.Order{
		RestaurantID: "r1",
		Items: []domain.OrderLineItem{
			{ID: "l1", MenuItemID: "paneer-tikka", Quantity: 30},
			{ID: "l2", MenuItemID: "cola", Quantity: 8},
		},
	}

	plan := Deduct(order, menu, stock, time.Now())
	got := byID(plan.Inventory)

	assert.True(t, got["paneer"].Quantity.IsZero())
	assert.True(t, got["onion"].Quantity.Equal(dec("0.5")))
	require.Len(t, plan.MenuItems, 1)
	assert.True(t, plan.MenuItems[0].StockQuantity.Equal(dec("2")))

	types := map[string]string{}
	for _, event := range plan.Events {
		types[event.SubjectID] = event.Type
		assert.Equal(t, "r1", event.RestaurantID)
	}
	assert.Equal(t, domain.EventOutOfStock, types["paneer"])
	assert.Equal(t, domain.EventLowStock, types["onion"])
	assert.Equal(t, domain.EventLowStock, types["cola"])
}

func TestDeductDoesNotRepeatLowStockAlert(t *testing.T) {
	menu, stock := fixtures()
	onion := stock["onion"]
	onion.Quantity = dec("0.4")
	stock["onion"] = onion

	order := &domain.Order{Items: []domain.OrderLineItem{{ID: "l1", MenuItemID: "dal", Quantity: 1}}}
	plan := Deduct(order, menu, stock, time.Now())

	assert.Empty(t, plan.Events)
}

func TestRestoreReversesDeduction(t *testing.T) {
	menu, stock := fixtures()
	order := &domain.Order{
		Items: []domain.OrderLineItem{
			{ID: "l1", MenuItemID: "paneer-tikka", Quantity: 2},
			{ID: "l2", MenuItemID: "cola", Quantity: 1},
		},
	}

	deducted := Deduct(order, menu, stock, time.Now())
	for _, item := range deducted.Inventory {
		stock[item.ID] = item
	}
	for _, item := range deducted.MenuItems {
		menu[item.ID] = item
	}

	restored := Restore(order, menu, stock, time.Now())
	got := byID(restored.Inventory)
	assert.True(t, got["paneer"].Quantity.Equal(dec("5")))
	assert.True(t, got["onion"].Quantity.Equal(dec("2")))
	require.Len(t, restored.MenuItems, 1)
	assert.True(t, restored.MenuItems[0].StockQuantity.Equal(dec("10")))
	assert.Empty(t, restored.Events)
}

func TestDeductReportsMissingIngredients(t *testing.T) {
	menu, stock := fixtures()
	delete(stock, "onion")

	order := &domain.Order{Items: []domain.OrderLineItem{{ID: "l1", MenuItemID: "dal", Quantity: 1}}}
	plan := Deduct(order, menu, stock, time.Now())

	assert.True(t, plan.Empty())
	assert.Equal(t, []string{"onion"}, plan.Missing)
}

func TestConsumption(t *testing.T) {
	menu, _ := fixtures()
	order := &domain.Order{Items: []domain.OrderLineItem{
		{MenuItemID: "dal", Quantity: 1},
		{MenuItemID: "paneer-tikka", Quantity: 1},
	}}

	assert.Equal(t, []string{"onion", "paneer"}, Consumption(order, menu))
}
