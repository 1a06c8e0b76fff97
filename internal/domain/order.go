package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderStatusActive         = "active"
	OrderStatusPreparing      = "preparing"
	OrderStatusReady          = "ready"
	OrderStatusServed         = "served"
	OrderStatusClosed         = "closed"
	OrderStatusCancelled      = "cancelled"
	OrderStatusPendingPayment = "pending_payment"
)

const (
	ItemStatusPending   = "pending"
	ItemStatusPreparing = "preparing"
	ItemStatusReady     = "ready"
	ItemStatusServed    = "served"
)

const (
	ChannelDineIn     = "dine_in"
	ChannelTakeAway   = "take_away"
	ChannelDelivery   = "delivery"
	ChannelAggregator = "aggregator"
	ChannelOther      = "other"
)

const (
	AuditOrderCreated      = "ORDER_CREATED"
	AuditOrderUpdated      = "ORDER_UPDATED"
	AuditItemStatusUpdated = "ITEM_STATUS_UPDATED"
	AuditOrderClosed       = "ORDER_CLOSED"
	AuditOrderCancelled    = "ORDER_CANCELLED"
	AuditPendingPayment    = "ORDER_PENDING_PAYMENT"
	AuditOrderConsolidated = "ORDER_CONSOLIDATED"
	AuditPaymentRecorded   = "PAYMENT_RECORDED"
)

// Cancellation reasons. Anything outside this catalogue is rejected so
// cancellation analytics stay structured.
const (
	CancelKitchenDelay      = "kitchen_delay"
	CancelKitchenQuality    = "kitchen_quality"
	CancelKitchenWrongItem  = "kitchen_wrong_item"
	CancelOwnerCancelled    = "owner_cancelled"
	CancelCustomerCancelled = "customer_cancelled"
	CancelSoldOut           = "sold_out"
	CancelWalkedOut         = "walked_out"
	CancelOther             = "other"
)

func IsCancelReason(reason string) bool {
	switch reason {
	case CancelKitchenDelay, CancelKitchenQuality, CancelKitchenWrongItem,
		CancelOwnerCancelled, CancelCustomerCancelled, CancelSoldOut,
		CancelWalkedOut, CancelOther:
		return true
	default:
		return false
	}
}

func IsChannel(channel string) bool {
	switch channel {
	case ChannelDineIn, ChannelTakeAway, ChannelDelivery, ChannelAggregator, ChannelOther:
		return true
	default:
		return false
	}
}

func IsItemStatus(status string) bool {
	switch status {
	case ItemStatusPending, ItemStatusPreparing, ItemStatusReady, ItemStatusServed:
		return true
	default:
		return false
	}
}

type PartySize struct {
	Adults int `json:"adults"`
	Kids   int `json:"kids"`
}

type Modifier struct {
	Name       string `json:"name"`
	PriceDelta int64  `json:"price_delta"`
}

type OrderLineItem struct {
	ID             string     `json:"id"`
	MenuItemID     string     `json:"menu_item_id"`
	Name           string     `json:"name"`
	Price          int64      `json:"price"`
	Quantity       int        `json:"quantity"`
	SpecialRequest string     `json:"special_request,omitempty"`
	Status         string     `json:"status"`
	Modifiers      []Modifier `json:"modifiers,omitempty"`
	AddedAt        time.Time  `json:"added_at"`
}

// UnitPrice is the snapshot price plus every chosen modifier delta.
func (i OrderLineItem) UnitPrice() int64 {
	price := i.Price
	for _, m := range i.Modifiers {
		price += m.PriceDelta
	}
	return price
}

func (i OrderLineItem) LineTotal() int64 {
	return i.UnitPrice() * int64(i.Quantity)
}

// Charges is the rate snapshot an order was billed with. Rates are
// percentages.
type Charges struct {
	CGSTRate          decimal.Decimal `json:"cgst_rate"`
	SGSTRate          decimal.Decimal `json:"sgst_rate"`
	TaxRate           decimal.Decimal `json:"tax_rate"`
	ServiceChargeRate decimal.Decimal `json:"service_charge_rate"`
}

// Discount carries either a flat amount or a percentage. Amount wins when
// both are set.
type Discount struct {
	Amount  *int64          `json:"amount,omitempty"`
	Percent decimal.Decimal `json:"percent"`
}

type AuditEntry struct {
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type ConsolidatedOrder struct {
	OrderNumber int64     `json:"order_number"`
	CreatedAt   time.Time `json:"created_at"`
}

type Order struct {
	ID                 string              `json:"id"`
	RestaurantID       string              `json:"restaurant_id"`
	OrderNumber        int64               `json:"order_number"`
	TableID            string              `json:"table_id,omitempty"`
	CustomerName       string              `json:"customer_name,omitempty"`
	CustomerMobile     string              `json:"customer_mobile,omitempty"`
	Party              PartySize           `json:"party"`
	Channel            string              `json:"channel"`
	WaiterName         string              `json:"waiter_name,omitempty"`
	Items              []OrderLineItem     `json:"items"`
	Charges            Charges             `json:"charges"`
	Discount           Discount            `json:"discount"`
	Subtotal           int64               `json:"subtotal"`
	CGST               int64               `json:"cgst"`
	SGST               int64               `json:"sgst"`
	Tax                int64               `json:"tax"`
	ServiceCharge      int64               `json:"service_charge"`
	DiscountAmount     int64               `json:"discount_amount"`
	Total              int64               `json:"total"`
	Status             string              `json:"status"`
	PaymentMethod      string              `json:"payment_method,omitempty"`
	Payment            PaymentState        `json:"payment"`
	ConsolidatedOrders []ConsolidatedOrder `json:"consolidated_orders,omitempty"`
	ConsolidatedInto   string              `json:"consolidated_into,omitempty"`
	CancelReason       string              `json:"cancel_reason,omitempty"`
	InventoryDeducted  bool                `json:"inventory_deducted"`
	Audit              []AuditEntry        `json:"audit"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
	ClosedAt           *time.Time          `json:"closed_at,omitempty"`
	Version            int64               `json:"version"`
}

// IsTerminal reports whether no further transition can leave the order's
// current status.
func (o *Order) IsTerminal() bool {
	return o.Status == OrderStatusClosed || o.Status == OrderStatusCancelled
}

// HoldsTable reports whether the order keeps its table occupied. Pay-later
// orders stay financially open but release the table.
func (o *Order) HoldsTable() bool {
	return !o.IsTerminal() && o.Status != OrderStatusPendingPayment
}

// IsEditable reports whether line items may still be replaced.
func (o *Order) IsEditable() bool {
	switch o.Status {
	case OrderStatusActive, OrderStatusPreparing, OrderStatusReady:
		return true
	default:
		return false
	}
}

// Clone returns a deep copy so callers can compute a new state without
// touching the version they read.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	cp := *o
	cp.Items = make([]OrderLineItem, len(o.Items))
	for i, item := range o.Items {
		item.Modifiers = append([]Modifier(nil), item.Modifiers...)
		cp.Items[i] = item
	}
	cp.Audit = append([]AuditEntry(nil), o.Audit...)
	cp.ConsolidatedOrders = append([]ConsolidatedOrder(nil), o.ConsolidatedOrders...)
	cp.Payment = o.Payment.clone()
	if o.Discount.Amount != nil {
		amount := *o.Discount.Amount
		cp.Discount.Amount = &amount
	}
	if o.ClosedAt != nil {
		closedAt := *o.ClosedAt
		cp.ClosedAt = &closedAt
	}
	return &cp
}

type OrderItemRequest struct {
	ID             string     `json:"id,omitempty"`
	MenuItemID     string     `json:"menu_item_id,omitempty"`
	Name           string     `json:"name,omitempty"`
	Price          int64      `json:"price,omitempty"`
	Quantity       int        `json:"quantity"`
	SpecialRequest string     `json:"special_request,omitempty"`
	Modifiers      []Modifier `json:"modifiers,omitempty"`
}

type CreateOrderRequest struct {
	RestaurantID   string             `json:"restaurant_id"`
	TableID        string             `json:"table_id,omitempty"`
	CustomerName   string             `json:"customer_name,omitempty"`
	CustomerMobile string             `json:"customer_mobile,omitempty"`
	Party          PartySize          `json:"party"`
	Channel        string             `json:"channel"`
	WaiterName     string             `json:"waiter_name,omitempty"`
	Items          []OrderItemRequest `json:"items"`
	Discount       Discount           `json:"discount"`
}

type UpdateItemsRequest struct {
	Items    []OrderItemRequest `json:"items"`
	Discount *Discount          `json:"discount,omitempty"`
}

type ItemStatusRequest struct {
	Status string `json:"status"`
}

type CloseOrderRequest struct {
	PaymentMethod string `json:"payment_method"`
}

type CancelOrderRequest struct {
	Reason     string `json:"reason"`
	Note       string `json:"note,omitempty"`
	ManagerPIN string `json:"manager_pin,omitempty"`
}

type SettlePaymentRequest struct {
	Method string `json:"method"`
	Amount *int64 `json:"amount,omitempty"`
}

// OrderResult is what every state-changing operation hands back: the
// committed order plus the domain events the change produced.
type OrderResult struct {
	Order  Order   `json:"order"`
	Events []Event `json:"events,omitempty"`
}

type OrderListResponse struct {
	Orders []Order `json:"orders"`
}
