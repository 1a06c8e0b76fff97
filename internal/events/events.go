// Package events delivers committed domain events to the outside world.
// Delivery happens after the write it describes, so a failed dispatch never
// undoes an order change; callers log the error and move on.
package events

import (
	"context"
	"errors"
	"fmt"

	"tablebill/backend/internal/domain"
	"tablebill/backend/internal/logger"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, events []domain.Event) error
}

// Multi fans out to every dispatcher and joins their errors.
type Multi []Dispatcher

func (m Multi) Dispatch(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	var errs []error
	for _, d := range m {
		if d == nil {
			continue
		}
		if err := d.Dispatch(ctx, events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes one line per event.
type Log struct {
	log *logger.Logger
}

func NewLog(log *logger.Logger) *Log {
	return &Log{log: log}
}

func (l *Log) Dispatch(_ context.Context, events []domain.Event) error {
	for _, event := range events {
		switch event.Type {
		case domain.EventLowStock, domain.EventOutOfStock:
			remaining := ""
			if event.Remaining != nil {
				remaining = event.Remaining.String()
			}
			l.log.Warn("INVENTORY", fmt.Sprintf("%s %s (%s) remaining=%s", event.Type, event.SubjectName, event.SubjectID, remaining))
		case domain.EventLoyaltyUpdated:
			l.log.Info("LOYALTY", fmt.Sprintf("%s %s", event.SubjectID, event.Detail))
		default:
			l.log.LogOrder(event.Type, event.OrderID, fmt.Sprintf("#%d status=%s amount=%d", event.OrderNumber, event.Status, event.Amount))
		}
	}
	return nil
}

func messageKey(event domain.Event) string {
	if event.OrderID != "" {
		return event.OrderID
	}
	if event.SubjectID != "" {
		return event.RestaurantID + "/" + event.SubjectID
	}
	return event.RestaurantID
}
