// Package billing holds the pure bill arithmetic: tax, service charge,
// discounts and bill splitting. Nothing here touches storage or the clock.
package billing

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"tablebill/backend/internal/domain"
)

var ErrInvalidSplit = errors.New("invalid split")

var hundred = decimal.NewFromInt(100)

// Subtotal sums every line total.
func Subtotal(items []domain.OrderLineItem) int64 {
	subtotal := int64(0)
	for _, item := range items {
		subtotal += item.LineTotal()
	}
	return subtotal
}

// Compute applies charges and discount to subtotal. CGST and SGST are
// rounded independently; the flat rate only applies when both are zero.
func Compute(subtotal int64, charges domain.Charges, discount domain.Discount) domain.Bill {
	bill := domain.Bill{Subtotal: subtotal}

	if charges.CGSTRate.IsPositive() || charges.SGSTRate.IsPositive() {
		bill.CGST = percentOf(subtotal, charges.CGSTRate)
		bill.SGST = percentOf(subtotal, charges.SGSTRate)
		bill.Tax = bill.CGST + bill.SGST
	} else {
		bill.Tax = percentOf(subtotal, charges.TaxRate)
	}
	bill.ServiceCharge = percentOf(subtotal, charges.ServiceChargeRate)

	gross := subtotal + bill.Tax + bill.ServiceCharge
	if discount.Amount != nil {
		bill.DiscountAmount = *discount.Amount
	} else {
		bill.DiscountAmount = percentOf(subtotal, discount.Percent)
	}
	if bill.DiscountAmount < 0 {
		bill.DiscountAmount = 0
	}
	if bill.DiscountAmount > gross {
		bill.DiscountAmount = gross
	}

	bill.Total = gross - bill.DiscountAmount
	return bill
}

// Apply recomputes every money field of order from its items, charges and
// discount.
func Apply(order *domain.Order) {
	bill := Compute(Subtotal(order.Items), order.Charges, order.Discount)
	order.Subtotal = bill.Subtotal
	order.CGST = bill.CGST
	order.SGST = bill.SGST
	order.Tax = bill.Tax
	order.ServiceCharge = bill.ServiceCharge
	order.DiscountAmount = bill.DiscountAmount
	order.Total = bill.Total
}

// Merge folds incoming's bill into order's after incoming's items were
// appended. Each submission keeps the tax rounding, charges and discount it
// was billed with, so order.Total becomes exactly the sum of both totals.
// The discount is pinned to the merged amount so a later Apply keeps it.
func Merge(order *domain.Order, incoming *domain.Order) {
	order.Subtotal += incoming.Subtotal
	order.CGST += incoming.CGST
	order.SGST += incoming.SGST
	order.Tax += incoming.Tax
	order.ServiceCharge += incoming.ServiceCharge
	order.DiscountAmount += incoming.DiscountAmount
	order.Total += incoming.Total

	discount := order.DiscountAmount
	order.Discount = domain.Discount{Amount: &discount}
}

func percentOf(amount int64, rate decimal.Decimal) int64 {
	if !rate.IsPositive() || amount == 0 {
		return 0
	}
	return decimal.NewFromInt(amount).Mul(rate).Div(hundred).Round(0).IntPart()
}

// SplitEqual charges ceil(total/n) to the first n-1 payers and the rest to
// the last one, so the shares always add up to total.
func SplitEqual(total int64, n int) ([]domain.PayerShare, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: people must be at least 1", ErrInvalidSplit)
	}
	if total < 0 {
		return nil, fmt.Errorf("%w: negative total", ErrInvalidSplit)
	}

	per := (total + int64(n) - 1) / int64(n)
	remaining := total
	shares := make([]domain.PayerShare, 0, n)
	for i := 0; i < n-1; i++ {
		amount := per
		if amount > remaining {
			amount = remaining
		}
		remaining -= amount
		shares = append(shares, domain.PayerShare{Payer: fmt.Sprintf("person-%d", i+1), Amount: amount})
	}
	shares = append(shares, domain.PayerShare{Payer: fmt.Sprintf("person-%d", n), Amount: remaining})
	return shares, nil
}

// ItemSplit is the outcome of an itemised split.
type ItemSplit struct {
	Shares            []domain.PayerShare
	AssignedTotal     int64
	UnassignedItemIDs []string
}

func (s ItemSplit) PartiallyAssigned() bool {
	return len(s.UnassignedItemIDs) > 0
}

// SplitByItem gives each payer the line totals of the items assigned to
// them. Tax, service charge and discount are not apportioned.
func SplitByItem(items []domain.OrderLineItem, assignments map[string]string) (ItemSplit, error) {
	known := make(map[string]domain.OrderLineItem, len(items))
	for _, item := range items {
		known[item.ID] = item
	}
	for itemID, payer := range assignments {
		if _, ok := known[itemID]; !ok {
			return ItemSplit{}, fmt.Errorf("%w: unknown item %s", ErrInvalidSplit, itemID)
		}
		if payer == "" {
			return ItemSplit{}, fmt.Errorf("%w: item %s has no payer", ErrInvalidSplit, itemID)
		}
	}

	byPayer := make(map[string]*domain.PayerShare)
	result := ItemSplit{}
	for _, item := range items {
		payer, ok := assignments[item.ID]
		if !ok {
			result.UnassignedItemIDs = append(result.UnassignedItemIDs, item.ID)
			continue
		}
		share, exists := byPayer[payer]
		if !exists {
			share = &domain.PayerShare{Payer: payer}
			byPayer[payer] = share
		}
		share.Amount += item.LineTotal()
		share.ItemIDs = append(share.ItemIDs, item.ID)
		result.AssignedTotal += item.LineTotal()
	}

	result.Shares = make([]domain.PayerShare, 0, len(byPayer))
	for _, share := range byPayer {
		result.Shares = append(result.Shares, *share)
	}
	sort.Slice(result.Shares, func(i, j int) bool {
		return result.Shares[i].Payer < result.Shares[j].Payer
	})
	return result, nil
}
