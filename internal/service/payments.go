package service

import (
	"context"
	"fmt"
	"time"

	"tablebill/backend/internal/domain"
	"tablebill/backend/internal/store"
)

// SettlePayment records a payment against a pay-later order. Amount
// defaults to everything still due; the order closes once nothing is due.
func (s *Service) SettlePayment(ctx context.Context, orderID string, req domain.SettlePaymentRequest) (domain.OrderResult, error) {
	restaurantID := s.restaurantFor(ctx, "")
	method := normalizeMethod(req.Method)
	if method == "" {
		return domain.OrderResult{}, fmt.Errorf("%w: payment method is required", store.ErrInvalidOrder)
	}
	if req.Amount != nil && *req.Amount <= 0 {
		return domain.OrderResult{}, fmt.Errorf("%w: amount must be positive", store.ErrInvalidAmount)
	}

	c, err := s.commit(ctx, "settle payment", func(now time.Time) (*change, error) {
		order, err := s.repo.GetOrder(ctx, restaurantID, orderID)
		if err != nil {
			return nil, err
		}
		if order.IsTerminal() {
			return nil, fmt.Errorf("%w: order is %s", store.ErrAlreadyClosed, order.Status)
		}
		if order.Status != domain.OrderStatusPendingPayment {
			return nil, fmt.Errorf("%w: order is not awaiting payment", store.ErrInvalidOrder)
		}

		c := &change{}
		if err := s.settle(ctx, c, order, method, req.Amount, now); err != nil {
			return nil, err
		}
		return c, nil
	})
	if err != nil {
		return domain.OrderResult{}, err
	}

	result := c.result()
	s.log.LogOrder("settle", result.Order.ID, fmt.Sprintf("#%d paid=%d due=%d status=%s",
		result.Order.OrderNumber, result.Order.Payment.AmountPaid, result.Order.Payment.AmountDue, result.Order.Status))
	return result, nil
}

// settle records one payment on a pending order and closes it when the
// ledger reaches zero. A nil amount pays off whatever is due.
func (s *Service) settle(ctx context.Context, c *change, order *domain.Order, method string, amount *int64, now time.Time) error {
	if !order.Payment.IsPopulated() {
		order.Payment = domain.OpenPayment(order.Total)
	}
	due := order.Payment.AmountDue

	if due > 0 {
		pay := due
		if amount != nil {
			pay = *amount
		}
		if pay <= 0 {
			return fmt.Errorf("%w: amount must be positive", store.ErrInvalidAmount)
		}
		if pay > due {
			return fmt.Errorf("%w: amount %d exceeds amount due %d", store.ErrInvalidAmount, pay, due)
		}
		order.Payment = order.Payment.Record(domain.PartialPayment{Method: method, Amount: pay, PaidAt: now}, order.Total)
		s.appendAudit(ctx, order, domain.AuditPaymentRecorded,
			fmt.Sprintf("method=%s amount=%d amount_due=%d", method, pay, order.Payment.AmountDue), now)

		recorded := domain.OrderEvent(domain.EventPaymentRecorded, order, now)
		recorded.Amount = pay
		recorded.Detail = method
		c.emit(recorded)
	} else if amount != nil {
		return fmt.Errorf("%w: nothing is due on this order", store.ErrInvalidAmount)
	}

	if order.Payment.AmountDue > 0 {
		c.addOrder(order)
		return nil
	}

	order.Payment.Kind = domain.PaymentSettled
	summary := order.Payment.Summary()
	if summary == "" {
		summary = method
	}
	return s.finishClose(ctx, c, order, summary, now)
}
