package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tablebill/backend/internal/billing"
	"tablebill/backend/internal/domain"
	"tablebill/backend/internal/events"
	"tablebill/backend/internal/lock"
	"tablebill/backend/internal/logger"
	"tablebill/backend/internal/loyalty"
	"tablebill/backend/internal/store"
	"tablebill/backend/internal/xid"
)

const maxConflictRetries = 5

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	DefaultRestaurantID string
	// Charges is the rate snapshot stamped on new orders.
	Charges domain.Charges
	// Loyalty is optional; nil disables loyalty updates.
	Loyalty *loyalty.Tracker
	Locker  lock.Locker
	Events  events.Dispatcher
	Logger  *logger.Logger
	Clock   func() time.Time
}

type Service struct {
	repo                store.Repository
	defaultRestaurantID string
	charges             domain.Charges
	loyalty             *loyalty.Tracker
	locker              lock.Locker
	events              events.Dispatcher
	log                 *logger.Logger
	now                 func() time.Time
}

func New(repo store.Repository, opts Options) *Service {
	if opts.DefaultRestaurantID == "" {
		opts.DefaultRestaurantID = "main-restaurant"
	}
	if opts.Locker == nil {
		opts.Locker = lock.NewLocal()
	}
	if opts.Logger == nil {
		opts.Logger = logger.New(nil, logger.Options{})
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}

	return &Service{
		repo:                repo,
		defaultRestaurantID: opts.DefaultRestaurantID,
		charges:             opts.Charges,
		loyalty:             opts.Loyalty,
		locker:              opts.Locker,
		events:              opts.Events,
		log:                 opts.Logger,
		now:                 opts.Clock,
	}
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	order, err := s.repo.GetOrder(ctx, s.restaurantFor(ctx, ""), orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return *order, nil
}

func (s *Service) ListOrders(ctx context.Context, status string, limit int) (domain.OrderListResponse, error) {
	status = strings.TrimSpace(status)
	if status != "" && !isOrderStatus(status) {
		return domain.OrderListResponse{}, fmt.Errorf("%w: unknown status %q", store.ErrInvalidOrder, status)
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}
	orders, err := s.repo.ListOrders(ctx, store.OrderFilter{
		RestaurantID: s.restaurantFor(ctx, ""),
		Status:       status,
		Limit:        limit,
	})
	if err != nil {
		return domain.OrderListResponse{}, err
	}
	return domain.OrderListResponse{Orders: orders}, nil
}

// ComputeBill prices an ad hoc basket or subtotal without touching any order.
func (s *Service) ComputeBill(ctx context.Context, req domain.BillRequest) (domain.Bill, error) {
	charges := s.charges
	if req.Charges != nil {
		charges = *req.Charges
	}
	if charges.CGSTRate.IsNegative() || charges.SGSTRate.IsNegative() || charges.TaxRate.IsNegative() || charges.ServiceChargeRate.IsNegative() {
		return domain.Bill{}, fmt.Errorf("%w: rates must not be negative", store.ErrInvalidAmount)
	}

	if req.Subtotal != nil {
		if *req.Subtotal < 0 {
			return domain.Bill{}, fmt.Errorf("%w: subtotal must not be negative", store.ErrInvalidAmount)
		}
		return billing.Compute(*req.Subtotal, charges, req.Discount), nil
	}

	items, err := s.buildLineItems(ctx, s.restaurantFor(ctx, req.RestaurantID), req.Items, nil, s.now())
	if err != nil {
		return domain.Bill{}, err
	}
	return billing.Compute(billing.Subtotal(items), charges, req.Discount), nil
}

// SplitBill divides an order's bill between payers without recording any
// payment.
func (s *Service) SplitBill(ctx context.Context, orderID string, req domain.SplitRequest) (domain.SplitResponse, error) {
	order, err := s.repo.GetOrder(ctx, s.restaurantFor(ctx, ""), orderID)
	if err != nil {
		return domain.SplitResponse{}, err
	}

	resp := domain.SplitResponse{
		Mode:           req.Mode,
		Total:          order.Total,
		Tax:            order.Tax,
		ServiceCharge:  order.ServiceCharge,
		DiscountAmount: order.DiscountAmount,
	}
	switch req.Mode {
	case domain.SplitModeEqual:
		shares, err := billing.SplitEqual(order.Total, req.People)
		if err != nil {
			return domain.SplitResponse{}, err
		}
		resp.Shares = shares
		resp.AssignedTotal = order.Total
	case domain.SplitModeByItem:
		split, err := billing.SplitByItem(order.Items, req.Assignments)
		if err != nil {
			return domain.SplitResponse{}, err
		}
		resp.Shares = split.Shares
		resp.AssignedTotal = split.AssignedTotal
		resp.UnassignedItemIDs = split.UnassignedItemIDs
		resp.PartiallyAssigned = split.PartiallyAssigned()
	default:
		return domain.SplitResponse{}, fmt.Errorf("%w: unknown split mode %q", billing.ErrInvalidSplit, req.Mode)
	}
	return resp, nil
}

// change is one attempt's worth of writes plus the events they produce.
// The first order in the batch is the one handed back to the caller.
type change struct {
	batch  store.Batch
	events []domain.Event
}

func (c *change) addOrder(order *domain.Order) {
	c.batch.Orders = append(c.batch.Orders, *order)
}

func (c *change) emit(evts ...domain.Event) {
	c.events = append(c.events, evts...)
}

func (c *change) result() domain.OrderResult {
	return domain.OrderResult{Order: c.batch.Orders[0], Events: c.events}
}

// commit runs build and applies its batch, rebuilding from fresh reads when
// another writer got there first. Events are dispatched only after a
// successful apply.
func (s *Service) commit(ctx context.Context, op string, build func(now time.Time) (*change, error)) (*change, error) {
	var lastErr error
	for attempt := 1; attempt <= maxConflictRetries; attempt++ {
		c, err := build(s.now())
		if err != nil {
			return nil, err
		}
		err = s.repo.Apply(ctx, &c.batch)
		if err == nil {
			c.stampOrderNumbers()
			s.dispatch(ctx, c.events)
			return c, nil
		}
		if !errors.Is(err, store.ErrConcurrentModification) {
			return nil, err
		}
		lastErr = err
		s.log.Debug("SERVICE", fmt.Sprintf("%s: retrying after conflict (attempt %d): %v", op, attempt, err))
	}
	s.log.Warn("SERVICE", fmt.Sprintf("%s: giving up after %d conflicts", op, maxConflictRetries))
	return nil, fmt.Errorf("%s: %w", op, lastErr)
}

// stampOrderNumbers copies numbers assigned during Apply onto the events
// that were built before the order had one.
func (c *change) stampOrderNumbers() {
	numbers := make(map[string]int64, len(c.batch.Orders))
	for _, order := range c.batch.Orders {
		numbers[order.ID] = order.OrderNumber
	}
	for i := range c.events {
		if n, ok := numbers[c.events[i].OrderID]; ok {
			c.events[i].OrderNumber = n
		}
	}
}

func (s *Service) dispatch(ctx context.Context, evts []domain.Event) {
	if s.events == nil || len(evts) == 0 {
		return
	}
	dispatchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.events.Dispatch(dispatchCtx, evts); err != nil {
		s.log.Warn("EVENTS", fmt.Sprintf("failed to dispatch %d event(s): %v", len(evts), err))
	}
}

func (s *Service) restaurantFor(ctx context.Context, requested string) string {
	if actor, ok := ActorFromContext(ctx); ok && actor.RestaurantID != "" {
		return actor.RestaurantID
	}
	if requested = strings.TrimSpace(requested); requested != "" {
		return requested
	}
	return s.defaultRestaurantID
}

func (s *Service) appendAudit(ctx context.Context, order *domain.Order, action string, detail string, at time.Time) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Username == "" {
		actor = domain.Actor{Username: "system"}
	}
	order.Audit = append(order.Audit, domain.AuditEntry{
		Action:    action,
		Actor:     actor.Username,
		Detail:    detail,
		CreatedAt: at,
	})
	order.UpdatedAt = at
}

// buildLineItems turns requested lines into snapshot line items. Lines whose
// id matches one in existing keep their snapshot price, kitchen status and
// AddedAt; everything else is priced from the menu now.
func (s *Service) buildLineItems(ctx context.Context, restaurantID string, reqs []domain.OrderItemRequest, existing []domain.OrderLineItem, now time.Time) ([]domain.OrderLineItem, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("%w: order must contain at least one item", store.ErrInvalidOrder)
	}

	previous := make(map[string]domain.OrderLineItem, len(existing))
	for _, line := range existing {
		previous[line.ID] = line
	}
	retained := func(req domain.OrderItemRequest) (domain.OrderLineItem, bool) {
		line, ok := previous[req.ID]
		if !ok || (req.MenuItemID != "" && req.MenuItemID != line.MenuItemID) {
			return domain.OrderLineItem{}, false
		}
		return line, true
	}

	menuIDs := make([]string, 0, len(reqs))
	for _, req := range reqs {
		if _, kept := retained(req); kept || isCustomItem(req.MenuItemID) {
			continue
		}
		menuIDs = append(menuIDs, req.MenuItemID)
	}
	menu := map[string]domain.MenuItem{}
	if len(menuIDs) > 0 {
		var err error
		menu, err = s.repo.GetMenuItems(ctx, restaurantID, menuIDs)
		if err != nil {
			return nil, err
		}
	}

	seen := make(map[string]struct{}, len(reqs))
	lines := make([]domain.OrderLineItem, 0, len(reqs))
	for _, req := range reqs {
		if req.Quantity < 1 {
			return nil, fmt.Errorf("%w: quantity must be at least 1", store.ErrInvalidOrder)
		}
		modifiers, err := normalizeModifiers(req.Modifiers)
		if err != nil {
			return nil, err
		}

		line, kept := retained(req)
		if kept {
			if _, dup := seen[line.ID]; dup {
				return nil, fmt.Errorf("%w: line %s listed twice", store.ErrInvalidOrder, line.ID)
			}
		} else {
			line = domain.OrderLineItem{
				ID:      xid.New("item"),
				Status:  domain.ItemStatusPending,
				AddedAt: now,
			}
			if isCustomItem(req.MenuItemID) {
				name := strings.TrimSpace(req.Name)
				if name == "" || req.Price < 0 {
					return nil, fmt.Errorf("%w: custom items need a name and a non-negative price", store.ErrInvalidOrder)
				}
				line.MenuItemID = req.MenuItemID
				if line.MenuItemID == "" {
					line.MenuItemID = xid.New("custom")
				}
				line.Name = name
				line.Price = req.Price
			} else {
				item, ok := menu[req.MenuItemID]
				if !ok {
					return nil, fmt.Errorf("%w: menu item %s", store.ErrNotFound, req.MenuItemID)
				}
				if !item.Available {
					return nil, fmt.Errorf("%w: %s is not available", store.ErrInvalidOrder, item.Name)
				}
				line.MenuItemID = item.ID
				line.Name = item.Name
				line.Price = item.Price
			}
		}
		seen[line.ID] = struct{}{}

		line.Quantity = req.Quantity
		line.SpecialRequest = strings.TrimSpace(req.SpecialRequest)
		line.Modifiers = modifiers
		if line.UnitPrice() < 0 {
			return nil, fmt.Errorf("%w: %s has a negative price", store.ErrInvalidOrder, line.Name)
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func normalizeModifiers(modifiers []domain.Modifier) ([]domain.Modifier, error) {
	if len(modifiers) == 0 {
		return nil, nil
	}
	out := make([]domain.Modifier, 0, len(modifiers))
	for _, m := range modifiers {
		name := strings.TrimSpace(m.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: modifier name is required", store.ErrInvalidOrder)
		}
		out = append(out, domain.Modifier{Name: name, PriceDelta: m.PriceDelta})
	}
	return out, nil
}

func isCustomItem(menuItemID string) bool {
	return menuItemID == "" || strings.HasPrefix(menuItemID, "custom")
}

// deriveOrderStatus aggregates kitchen progress: all served wins, then any
// ready, then any preparing.
func deriveOrderStatus(items []domain.OrderLineItem) string {
	allServed := len(items) > 0
	anyReady, anyPreparing := false, false
	for _, item := range items {
		switch item.Status {
		case domain.ItemStatusReady:
			anyReady = true
		case domain.ItemStatusPreparing:
			anyPreparing = true
		}
		if item.Status != domain.ItemStatusServed {
			allServed = false
		}
	}
	switch {
	case allServed:
		return domain.OrderStatusServed
	case anyReady:
		return domain.OrderStatusReady
	case anyPreparing:
		return domain.OrderStatusPreparing
	default:
		return domain.OrderStatusActive
	}
}

func isOrderStatus(status string) bool {
	switch status {
	case domain.OrderStatusActive, domain.OrderStatusPreparing, domain.OrderStatusReady,
		domain.OrderStatusServed, domain.OrderStatusClosed, domain.OrderStatusCancelled,
		domain.OrderStatusPendingPayment:
		return true
	default:
		return false
	}
}

func normalizeMethod(method string) string {
	return strings.ToLower(strings.TrimSpace(method))
}
