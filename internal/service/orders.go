package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tablebill/backend/internal/billing"
	"tablebill/backend/internal/domain"
	"tablebill/backend/internal/inventory"
	"tablebill/backend/internal/loyalty"
	"tablebill/backend/internal/store"
	"tablebill/backend/internal/xid"
)

func (s *Service) CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (domain.OrderResult, error) {
	restaurantID := s.restaurantFor(ctx, req.RestaurantID)

	channel := strings.TrimSpace(req.Channel)
	if channel == "" {
		channel = domain.ChannelDineIn
	}
	if !domain.IsChannel(channel) {
		return domain.OrderResult{}, fmt.Errorf("%w: unknown channel %q", store.ErrInvalidOrder, channel)
	}
	if req.Party.Adults < 0 || req.Party.Kids < 0 {
		return domain.OrderResult{}, fmt.Errorf("%w: party size must not be negative", store.ErrInvalidOrder)
	}
	if req.Discount.Amount != nil && *req.Discount.Amount < 0 || req.Discount.Percent.IsNegative() {
		return domain.OrderResult{}, fmt.Errorf("%w: discount must not be negative", store.ErrInvalidAmount)
	}

	items, err := s.buildLineItems(ctx, restaurantID, req.Items, nil, s.now())
	if err != nil {
		return domain.OrderResult{}, err
	}
	orderID := xid.New("ord")
	tableID := strings.TrimSpace(req.TableID)

	c, err := s.commit(ctx, "create order", func(now time.Time) (*change, error) {
		c := &change{}

		order := &domain.Order{
			ID:             orderID,
			RestaurantID:   restaurantID,
			TableID:        tableID,
			CustomerName:   strings.TrimSpace(req.CustomerName),
			CustomerMobile: strings.TrimSpace(req.CustomerMobile),
			Party:          req.Party,
			Channel:        channel,
			WaiterName:     strings.TrimSpace(req.WaiterName),
			Items:          items,
			Charges:        s.charges,
			Discount:       req.Discount,
			Status:         domain.OrderStatusActive,
			Payment:        domain.NotStartedPayment(),
			CreatedAt:      now,
		}
		billing.Apply(order)
		s.appendAudit(ctx, order, domain.AuditOrderCreated, fmt.Sprintf("items=%d total=%d", len(items), order.Total), now)
		c.addOrder(order)

		if tableID != "" {
			table, err := s.repo.GetTable(ctx, restaurantID, tableID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return nil, fmt.Errorf("%w: table %s", store.ErrNotFound, tableID)
				}
				return nil, err
			}
			if err := s.ensureTableFree(ctx, table); err != nil {
				return nil, err
			}
			table.Status = domain.TableStatusOccupied
			table.CurrentOrderID = order.ID
			c.batch.Tables = append(c.batch.Tables, *table)
		}

		c.emit(domain.OrderEvent(domain.EventOrderCreated, order, now))
		return c, nil
	})
	if err != nil {
		return domain.OrderResult{}, err
	}

	created := c.result()
	s.log.LogOrder("create", created.Order.ID, fmt.Sprintf("#%d table=%s total=%d", created.Order.OrderNumber, tableID, created.Order.Total))
	return created, nil
}

// ensureTableFree fails when the table points at an order that still holds
// it. A pointer to a finished or pay-later order is stale and ignored.
func (s *Service) ensureTableFree(ctx context.Context, table *domain.Table) error {
	if table.CurrentOrderID == "" {
		return nil
	}
	current, err := s.repo.GetOrder(ctx, table.RestaurantID, table.CurrentOrderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if current.HoldsTable() {
		return fmt.Errorf("%w: table already has an active order", store.ErrInvalidOrder)
	}
	return nil
}

func (s *Service) UpdateOrderItems(ctx context.Context, orderID string, req domain.UpdateItemsRequest) (domain.OrderResult, error) {
	restaurantID := s.restaurantFor(ctx, "")
	if req.Discount != nil && (req.Discount.Amount != nil && *req.Discount.Amount < 0 || req.Discount.Percent.IsNegative()) {
		return domain.OrderResult{}, fmt.Errorf("%w: discount must not be negative", store.ErrInvalidAmount)
	}

	c, err := s.commit(ctx, "update order items", func(now time.Time) (*change, error) {
		order, err := s.repo.GetOrder(ctx, restaurantID, orderID)
		if err != nil {
			return nil, err
		}
		if order.IsTerminal() {
			return nil, fmt.Errorf("%w: order is %s", store.ErrAlreadyClosed, order.Status)
		}
		if !order.IsEditable() {
			return nil, fmt.Errorf("%w: order can no longer be edited", store.ErrInvalidOrder)
		}

		items, err := s.buildLineItems(ctx, restaurantID, req.Items, order.Items, now)
		if err != nil {
			return nil, err
		}
		order.Items = items
		if req.Discount != nil {
			order.Discount = *req.Discount
		}
		billing.Apply(order)
		order.Status = deriveOrderStatus(order.Items)
		s.appendAudit(ctx, order, domain.AuditOrderUpdated, fmt.Sprintf("items=%d total=%d", len(items), order.Total), now)

		c := &change{}
		c.addOrder(order)
		c.emit(domain.OrderEvent(domain.EventOrderUpdated, order, now))
		return c, nil
	})
	if err != nil {
		return domain.OrderResult{}, err
	}
	return c.result(), nil
}

func (s *Service) AdvanceItemStatus(ctx context.Context, orderID string, itemID string, req domain.ItemStatusRequest) (domain.OrderResult, error) {
	restaurantID := s.restaurantFor(ctx, "")
	status := strings.TrimSpace(req.Status)
	if !domain.IsItemStatus(status) {
		return domain.OrderResult{}, fmt.Errorf("%w: unknown item status %q", store.ErrInvalidOrder, status)
	}

	c, err := s.commit(ctx, "advance item status", func(now time.Time) (*change, error) {
		order, err := s.repo.GetOrder(ctx, restaurantID, orderID)
		if err != nil {
			return nil, err
		}
		if order.IsTerminal() {
			return nil, fmt.Errorf("%w: order is %s", store.ErrAlreadyClosed, order.Status)
		}

		idx := -1
		for i := range order.Items {
			if order.Items[i].ID == itemID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, fmt.Errorf("%w: item %s", store.ErrNotFound, itemID)
		}
		order.Items[idx].Status = status

		previous := order.Status
		if order.Status != domain.OrderStatusPendingPayment {
			order.Status = deriveOrderStatus(order.Items)
		}
		s.appendAudit(ctx, order, domain.AuditItemStatusUpdated, fmt.Sprintf("item=%s status=%s", order.Items[idx].Name, status), now)

		c := &change{}
		c.addOrder(order)
		eventType := domain.EventOrderUpdated
		if order.Status != previous {
			eventType = domain.EventOrderStatusChanged
		}
		c.emit(domain.OrderEvent(eventType, order, now))
		return c, nil
	})
	if err != nil {
		return domain.OrderResult{}, err
	}
	return c.result(), nil
}

// CloseOrder settles an order in full and runs the close side effects.
// A pay-later order is closed by paying off what is still due.
func (s *Service) CloseOrder(ctx context.Context, orderID string, req domain.CloseOrderRequest) (domain.OrderResult, error) {
	restaurantID := s.restaurantFor(ctx, "")
	method := normalizeMethod(req.PaymentMethod)
	if method == "" {
		method = "cash"
	}

	c, err := s.commit(ctx, "close order", func(now time.Time) (*change, error) {
		order, err := s.repo.GetOrder(ctx, restaurantID, orderID)
		if err != nil {
			return nil, err
		}
		if order.IsTerminal() {
			return nil, fmt.Errorf("%w: order is %s", store.ErrAlreadyClosed, order.Status)
		}

		c := &change{}
		if order.Status == domain.OrderStatusPendingPayment {
			if err := s.settle(ctx, c, order, method, nil, now); err != nil {
				return nil, err
			}
			return c, nil
		}

		order.Payment = domain.SettledPayment(method, order.Total, now)
		if err := s.finishClose(ctx, c, order, method, now); err != nil {
			return nil, err
		}
		return c, nil
	})
	if err != nil {
		return domain.OrderResult{}, err
	}

	closed := c.result()
	s.log.LogOrder("close", closed.Order.ID, fmt.Sprintf("#%d %s total=%d", closed.Order.OrderNumber, closed.Order.PaymentMethod, closed.Order.Total))
	return closed, nil
}

// finishClose moves order to closed and stages everything that goes with
// it: table release, inventory deduction and loyalty. The order is added to
// c first so it stays the primary result.
func (s *Service) finishClose(ctx context.Context, c *change, order *domain.Order, paymentMethod string, now time.Time) error {
	order.Status = domain.OrderStatusClosed
	order.PaymentMethod = paymentMethod
	closedAt := now
	order.ClosedAt = &closedAt
	c.emit(domain.OrderEvent(domain.EventOrderClosed, order, now))

	if err := s.releaseTable(ctx, c, order); err != nil {
		return err
	}

	if !order.InventoryDeducted {
		plan, err := s.inventoryPlan(ctx, order, now, true)
		if err != nil {
			return err
		}
		c.batch.Inventory = append(c.batch.Inventory, plan.Inventory...)
		c.batch.MenuItems = append(c.batch.MenuItems, plan.MenuItems...)
		c.emit(plan.Events...)
		order.InventoryDeducted = true
	}

	if err := s.updateLoyalty(ctx, c, order, now); err != nil {
		return err
	}

	s.appendAudit(ctx, order, domain.AuditOrderClosed, fmt.Sprintf("payment=%s total=%d", paymentMethod, order.Total), now)
	c.batch.Orders = append([]domain.Order{*order}, c.batch.Orders...)
	return nil
}

func (s *Service) CancelOrder(ctx context.Context, orderID string, req domain.CancelOrderRequest) (domain.OrderResult, error) {
	restaurantID := s.restaurantFor(ctx, "")
	reason := strings.TrimSpace(req.Reason)
	if !domain.IsCancelReason(reason) {
		return domain.OrderResult{}, fmt.Errorf("%w: unknown cancellation reason %q", store.ErrInvalidOrder, reason)
	}
	note := strings.TrimSpace(req.Note)

	c, err := s.commit(ctx, "cancel order", func(now time.Time) (*change, error) {
		order, err := s.repo.GetOrder(ctx, restaurantID, orderID)
		if err != nil {
			return nil, err
		}
		if order.IsTerminal() {
			return nil, fmt.Errorf("%w: order is %s", store.ErrAlreadyClosed, order.Status)
		}

		c := &change{}
		if order.InventoryDeducted {
			plan, err := s.inventoryPlan(ctx, order, now, false)
			if err != nil {
				return nil, err
			}
			c.batch.Inventory = append(c.batch.Inventory, plan.Inventory...)
			c.batch.MenuItems = append(c.batch.MenuItems, plan.MenuItems...)
			order.InventoryDeducted = false
		}
		if err := s.releaseTable(ctx, c, order); err != nil {
			return nil, err
		}

		order.Status = domain.OrderStatusCancelled
		order.CancelReason = reason
		detail := "reason=" + reason
		if note != "" {
			detail += " note=" + note
		}
		// Recorded payments stay on the ledger; the audit flags them for refund.
		if order.Payment.AmountPaid > 0 {
			detail += fmt.Sprintf(" refund_due=%d", order.Payment.AmountPaid)
		}
		s.appendAudit(ctx, order, domain.AuditOrderCancelled, detail, now)

		c.batch.Orders = append([]domain.Order{*order}, c.batch.Orders...)
		event := domain.OrderEvent(domain.EventOrderCancelled, order, now)
		event.Detail = reason
		c.emit(event)
		return c, nil
	})
	if err != nil {
		return domain.OrderResult{}, err
	}

	cancelled := c.result()
	s.log.LogOrder("cancel", cancelled.Order.ID, fmt.Sprintf("#%d reason=%s", cancelled.Order.OrderNumber, reason))
	return cancelled, nil
}

// releaseTable frees the order's table when it still points at the order.
func (s *Service) releaseTable(ctx context.Context, c *change, order *domain.Order) error {
	if order.TableID == "" {
		return nil
	}
	table, err := s.repo.GetTable(ctx, order.RestaurantID, order.TableID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if table.CurrentOrderID != order.ID {
		return nil
	}
	table.Status = domain.TableStatusAvailable
	table.CurrentOrderID = ""
	c.batch.Tables = append(c.batch.Tables, *table)
	return nil
}

func (s *Service) inventoryPlan(ctx context.Context, order *domain.Order, now time.Time, deduct bool) (inventory.Plan, error) {
	menuIDs := make([]string, 0, len(order.Items))
	for _, item := range order.Items {
		if !isCustomItem(item.MenuItemID) {
			menuIDs = append(menuIDs, item.MenuItemID)
		}
	}
	if len(menuIDs) == 0 {
		return inventory.Plan{}, nil
	}
	menu, err := s.repo.GetMenuItems(ctx, order.RestaurantID, menuIDs)
	if err != nil {
		return inventory.Plan{}, err
	}
	stock, err := s.repo.GetInventoryItems(ctx, order.RestaurantID, inventory.Consumption(order, menu))
	if err != nil {
		return inventory.Plan{}, err
	}

	var plan inventory.Plan
	if deduct {
		plan = inventory.Deduct(order, menu, stock, now)
	} else {
		plan = inventory.Restore(order, menu, stock, now)
	}
	if len(plan.Missing) > 0 {
		s.log.Warn("INVENTORY", fmt.Sprintf("order %s references unknown ingredients %v", order.ID, plan.Missing))
	}
	return plan, nil
}

func (s *Service) updateLoyalty(ctx context.Context, c *change, order *domain.Order, now time.Time) error {
	if s.loyalty == nil {
		return nil
	}
	key := loyalty.Key(order.CustomerMobile, order.CustomerName)
	if key == "" {
		return nil
	}
	existing, err := s.repo.GetCustomer(ctx, order.RestaurantID, key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	customer := s.loyalty.Update(existing, order.RestaurantID, key, order.CustomerName, order.CustomerMobile, order.Total, now)
	c.batch.Customers = append(c.batch.Customers, customer)
	c.emit(domain.Event{
		Type:         domain.EventLoyaltyUpdated,
		RestaurantID: order.RestaurantID,
		OrderID:      order.ID,
		SubjectID:    customer.Key,
		SubjectName:  customer.Name,
		Amount:       order.Total,
		Detail:       fmt.Sprintf("tier=%s points=%d visits=%d", customer.Tier, customer.Points, customer.Visits),
		At:           now,
	})
	return nil
}
