// Package inventory turns a closed or cancelled order into stock movements.
// It works on snapshots handed in by the caller and returns the records to
// write, so the caller decides how they are committed.
package inventory

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"tablebill/backend/internal/domain"
)

// Plan is the set of records changed by one deduction or restore, plus the
// stock alerts it raised.
type Plan struct {
	Inventory []domain.InventoryItem
	MenuItems []domain.MenuItem
	Events    []domain.Event
	// Missing lists recipe ingredient ids that had no inventory record.
	Missing []string
}

func (p Plan) Empty() bool {
	return len(p.Inventory) == 0 && len(p.MenuItems) == 0
}

// Deduct subtracts recipeQty*orderedQty from every mapped inventory item and
// decrements tracked menu stock. Quantities never drop below zero.
func Deduct(order *domain.Order, menu map[string]domain.MenuItem, stock map[string]domain.InventoryItem, at time.Time) Plan {
	return apply(order, menu, stock, at, true)
}

// Restore adds back the quantities Deduct took for the same order.
func Restore(order *domain.Order, menu map[string]domain.MenuItem, stock map[string]domain.InventoryItem, at time.Time) Plan {
	return apply(order, menu, stock, at, false)
}

// Consumption reports the inventory ids an order touches, for callers that
// need to load them before calling Deduct or Restore.
func Consumption(order *domain.Order, menu map[string]domain.MenuItem) []string {
	seen := map[string]struct{}{}
	ids := []string{}
	for _, line := range order.Items {
		item, ok := menu[line.MenuItemID]
		if !ok {
			continue
		}
		for _, ingredient := range item.Recipe {
			if _, dup := seen[ingredient.IngredientID]; dup {
				continue
			}
			seen[ingredient.IngredientID] = struct{}{}
			ids = append(ids, ingredient.IngredientID)
		}
	}
	sort.Strings(ids)
	return ids
}

func apply(order *domain.Order, menu map[string]domain.MenuItem, stock map[string]domain.InventoryItem, at time.Time, deduct bool) Plan {
	ingredientDelta := map[string]decimal.Decimal{}
	menuDelta := map[string]decimal.Decimal{}
	missing := map[string]struct{}{}

	for _, line := range order.Items {
		item, ok := menu[line.MenuItemID]
		if !ok {
			continue
		}
		qty := decimal.NewFromInt(int64(line.Quantity))
		for _, ingredient := range item.Recipe {
			if _, ok := stock[ingredient.IngredientID]; !ok {
				missing[ingredient.IngredientID] = struct{}{}
				continue
			}
			ingredientDelta[ingredient.IngredientID] = ingredientDelta[ingredient.IngredientID].Add(ingredient.Quantity.Mul(qty))
		}
		if item.TracksStock() {
			menuDelta[item.ID] = menuDelta[item.ID].Add(qty)
		}
	}

	plan := Plan{}
	for _, id := range sortedKeys(ingredientDelta) {
		current := stock[id]
		before := current.Quantity
		current.Quantity = move(before, ingredientDelta[id], deduct)
		plan.Inventory = append(plan.Inventory, current)
		if deduct {
			plan.Events = appendAlert(plan.Events, order.RestaurantID, id, current.Name, before, current.Quantity, current.LowStockThreshold, at)
		}
	}
	for _, id := range sortedKeys(menuDelta) {
		current := menu[id]
		before := *current.StockQuantity
		after := move(before, menuDelta[id], deduct)
		current.StockQuantity = &after
		plan.MenuItems = append(plan.MenuItems, current)
		if deduct {
			plan.Events = appendAlert(plan.Events, order.RestaurantID, id, current.Name, before, after, current.LowStockThreshold, at)
		}
	}
	for id := range missing {
		plan.Missing = append(plan.Missing, id)
	}
	sort.Strings(plan.Missing)
	return plan
}

func move(quantity, delta decimal.Decimal, deduct bool) decimal.Decimal {
	if !deduct {
		return quantity.Add(delta)
	}
	next := quantity.Sub(delta)
	if next.IsNegative() {
		return decimal.Zero
	}
	return next
}

// appendAlert emits an event only when this movement crosses a threshold,
// so stock that was already low does not alert on every sale.
func appendAlert(events []domain.Event, restaurantID, id, name string, before, after, threshold decimal.Decimal, at time.Time) []domain.Event {
	eventType := ""
	switch {
	case after.IsZero() && before.IsPositive():
		eventType = domain.EventOutOfStock
	case after.IsPositive() && threshold.IsPositive() && after.LessThanOrEqual(threshold) && before.GreaterThan(threshold):
		eventType = domain.EventLowStock
	default:
		return events
	}
	remaining := after
	return append(events, domain.Event{
		Type:         eventType,
		RestaurantID: restaurantID,
		SubjectID:    id,
		SubjectName:  name,
		Remaining:    &remaining,
		At:           at,
	})
}

func sortedKeys(m map[string]decimal.Decimal) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
