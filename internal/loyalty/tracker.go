package loyalty

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tablebill/backend/internal/domain"
)

// Thresholds are the minimum cumulative spend for each tier above bronze.
type Thresholds struct {
	Silver   int64
	Gold     int64
	Platinum int64
}

func DefaultThresholds() Thresholds {
	return Thresholds{Silver: 5000, Gold: 20000, Platinum: 50000}
}

type Tracker struct {
	thresholds    Thresholds
	pointsPerUnit decimal.Decimal
}

func NewTracker(thresholds Thresholds, pointsPerUnit decimal.Decimal) *Tracker {
	if thresholds == (Thresholds{}) {
		thresholds = DefaultThresholds()
	}
	if pointsPerUnit.IsNegative() {
		pointsPerUnit = decimal.Zero
	}
	return &Tracker{thresholds: thresholds, pointsPerUnit: pointsPerUnit}
}

// Key identifies a customer by mobile, falling back to the lower-cased name.
// An empty key means the order is anonymous and earns nothing.
func Key(mobile, name string) string {
	if mobile = strings.TrimSpace(mobile); mobile != "" {
		return mobile
	}
	name = strings.ToLower(strings.Join(strings.Fields(name), " "))
	if name == "" {
		return ""
	}
	return "name:" + name
}

func (t *Tracker) Tier(totalSpent int64) string {
	switch {
	case totalSpent >= t.thresholds.Platinum:
		return domain.TierPlatinum
	case totalSpent >= t.thresholds.Gold:
		return domain.TierGold
	case totalSpent >= t.thresholds.Silver:
		return domain.TierSilver
	default:
		return domain.TierBronze
	}
}

func (t *Tracker) Points(amount int64) int64 {
	if amount <= 0 {
		return 0
	}
	return decimal.NewFromInt(amount).Mul(t.pointsPerUnit).Floor().IntPart()
}

// Update records one visit worth amount. existing is nil for a first visit.
// The returned customer keeps the existing version so the caller can write
// it with a version check.
func (t *Tracker) Update(existing *domain.Customer, restaurantID, key, name, mobile string, amount int64, at time.Time) domain.Customer {
	customer := domain.Customer{RestaurantID: restaurantID, Key: key}
	if existing != nil {
		customer = *existing
	}
	if name != "" {
		customer.Name = name
	}
	if mobile != "" {
		customer.Mobile = mobile
	}
	customer.Visits++
	customer.TotalSpent += amount
	customer.Points += t.Points(amount)
	customer.Tier = t.Tier(customer.TotalSpent)
	visitedAt := at
	customer.LastVisitAt = &visitedAt
	return customer
}
