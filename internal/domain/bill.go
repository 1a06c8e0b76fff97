package domain

type BillRequest struct {
	RestaurantID string             `json:"restaurant_id,omitempty"`
	Subtotal     *int64             `json:"subtotal,omitempty"`
	Items        []OrderItemRequest `json:"items,omitempty"`
	Charges      *Charges           `json:"charges,omitempty"`
	Discount     Discount           `json:"discount"`
}

type Bill struct {
	Subtotal       int64 `json:"subtotal"`
	CGST           int64 `json:"cgst"`
	SGST           int64 `json:"sgst"`
	Tax            int64 `json:"tax"`
	ServiceCharge  int64 `json:"service_charge"`
	DiscountAmount int64 `json:"discount_amount"`
	Total          int64 `json:"total"`
}

const (
	SplitModeEqual  = "equal"
	SplitModeByItem = "by_item"
)

type SplitRequest struct {
	Mode   string `json:"mode"`
	People int    `json:"people,omitempty"`
	// Assignments maps line item id to payer name.
	Assignments map[string]string `json:"assignments,omitempty"`
}

type PayerShare struct {
	Payer   string   `json:"payer"`
	Amount  int64    `json:"amount"`
	ItemIDs []string `json:"item_ids,omitempty"`
}

type SplitResponse struct {
	Mode              string       `json:"mode"`
	Total             int64        `json:"total"`
	Shares            []PayerShare `json:"shares"`
	AssignedTotal     int64        `json:"assigned_total"`
	UnassignedItemIDs []string     `json:"unassigned_item_ids,omitempty"`
	PartiallyAssigned bool         `json:"partially_assigned"`
	Tax               int64        `json:"tax"`
	ServiceCharge     int64        `json:"service_charge"`
	DiscountAmount    int64        `json:"discount_amount"`
}
