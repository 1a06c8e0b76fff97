package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderCreated       = "order.created"
	EventOrderUpdated       = "order.updated"
	EventOrderStatusChanged = "order.status_changed"
	EventOrderClosed        = "order.closed"
	EventOrderCancelled     = "order.cancelled"
	EventOrderPendingPay    = "order.pending_payment"
	EventOrderConsolidated  = "order.consolidated"
	EventPaymentRecorded    = "payment.recorded"
	EventLowStock           = "inventory.low_stock"
	EventOutOfStock         = "inventory.out_of_stock"
	EventLoyaltyUpdated     = "loyalty.updated"
)

// Event is a domain fact produced by a committed operation. Dispatchers
// turn events into notifications; the core never renders them itself.
type Event struct {
	Type         string           `json:"type"`
	RestaurantID string           `json:"restaurant_id"`
	OrderID      string           `json:"order_id,omitempty"`
	OrderNumber  int64            `json:"order_number,omitempty"`
	Status       string           `json:"status,omitempty"`
	Amount       int64            `json:"amount,omitempty"`
	SubjectID    string           `json:"subject_id,omitempty"`
	SubjectName  string           `json:"subject_name,omitempty"`
	Remaining    *decimal.Decimal `json:"remaining,omitempty"`
	Detail       string           `json:"detail,omitempty"`
	At           time.Time        `json:"at"`
}

func OrderEvent(eventType string, order *Order, at time.Time) Event {
	return Event{
		Type:         eventType,
		RestaurantID: order.RestaurantID,
		OrderID:      order.ID,
		OrderNumber:  order.OrderNumber,
		Status:       order.Status,
		Amount:       order.Total,
		At:           at,
	}
}
