package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"tablebill/backend/internal/billing"
	"tablebill/backend/internal/domain"
	"tablebill/backend/internal/store"
	"tablebill/backend/internal/xid"
)

func pendingLockKey(restaurantID string) string {
	return "restaurant:" + restaurantID + ":pending"
}

// MarkPendingPayment defers payment for an order. When the customer already
// has an open receivable the order's items are folded into it and the
// submitted order is cancelled; otherwise the order itself becomes the
// receivable. Either way its table is freed.
func (s *Service) MarkPendingPayment(ctx context.Context, orderID string) (domain.OrderResult, error) {
	restaurantID := s.restaurantFor(ctx, "")

	release, err := s.locker.Acquire(ctx, pendingLockKey(restaurantID))
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("acquire pending lock: %w", err)
	}
	defer release()

	c, err := s.commit(ctx, "mark pending payment", func(now time.Time) (*change, error) {
		order, err := s.repo.GetOrder(ctx, restaurantID, orderID)
		if err != nil {
			return nil, err
		}
		if order.IsTerminal() {
			return nil, fmt.Errorf("%w: order is %s", store.ErrAlreadyClosed, order.Status)
		}
		if order.Status == domain.OrderStatusPendingPayment {
			return nil, fmt.Errorf("%w: order is already awaiting payment", store.ErrInvalidOrder)
		}

		target, err := s.findReceivable(ctx, order)
		if err != nil {
			return nil, err
		}

		c := &change{}
		if target != nil {
			if err := s.consolidate(ctx, c, target, order, now); err != nil {
				return nil, err
			}
			return c, nil
		}

		order.Status = domain.OrderStatusPendingPayment
		order.Payment = domain.OpenPayment(order.Total)
		s.appendAudit(ctx, order, domain.AuditPendingPayment, fmt.Sprintf("amount_due=%d", order.Total), now)
		c.addOrder(order)
		if err := s.releaseTable(ctx, c, order); err != nil {
			return nil, err
		}
		c.emit(domain.OrderEvent(domain.EventOrderPendingPay, order, now))
		return c, nil
	})
	if err != nil {
		return domain.OrderResult{}, err
	}

	result := c.result()
	s.log.LogOrder("pending", result.Order.ID, fmt.Sprintf("#%d due=%d", result.Order.OrderNumber, result.Order.Payment.AmountDue))
	return result, nil
}

// findReceivable returns the customer's open pending order, or nil. Orders
// without a mobile number never match.
func (s *Service) findReceivable(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	if order.CustomerMobile == "" {
		return nil, nil
	}
	target, err := s.repo.FindPendingOrderByMobile(ctx, order.RestaurantID, order.CustomerMobile)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if target.ID == order.ID {
		return nil, nil
	}
	return target, nil
}

// consolidate appends incoming's items and bill to target and cancels
// incoming. The target is staged first so it is the operation's result.
func (s *Service) consolidate(ctx context.Context, c *change, target *domain.Order, incoming *domain.Order, now time.Time) error {
	for _, item := range incoming.Items {
		item.ID = xid.New("item")
		item.AddedAt = now
		item.Modifiers = append([]domain.Modifier(nil), item.Modifiers...)
		target.Items = append(target.Items, item)
	}
	target.ConsolidatedOrders = append(target.ConsolidatedOrders, domain.ConsolidatedOrder{
		OrderNumber: incoming.OrderNumber,
		CreatedAt:   incoming.CreatedAt,
	})
	sort.SliceStable(target.ConsolidatedOrders, func(i, j int) bool {
		return target.ConsolidatedOrders[i].CreatedAt.After(target.ConsolidatedOrders[j].CreatedAt)
	})
	billing.Merge(target, incoming)
	target.Payment = target.Payment.Rebase(target.Total)
	s.appendAudit(ctx, target, domain.AuditOrderConsolidated,
		fmt.Sprintf("merged order #%d items=%d amount_due=%d", incoming.OrderNumber, len(incoming.Items), target.Payment.AmountDue), now)
	c.addOrder(target)

	incoming.Status = domain.OrderStatusCancelled
	incoming.CancelReason = domain.CancelOther
	incoming.ConsolidatedInto = target.ID
	s.appendAudit(ctx, incoming, domain.AuditOrderCancelled, fmt.Sprintf("consolidated into order #%d", target.OrderNumber), now)
	if err := s.releaseTable(ctx, c, incoming); err != nil {
		return err
	}
	c.addOrder(incoming)

	merged := domain.OrderEvent(domain.EventOrderConsolidated, target, now)
	merged.SubjectID = incoming.ID
	cancelled := domain.OrderEvent(domain.EventOrderCancelled, incoming, now)
	cancelled.Detail = "consolidated into " + target.ID
	c.emit(merged, cancelled)
	return nil
}
