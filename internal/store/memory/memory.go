package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"tablebill/backend/internal/domain"
	"tablebill/backend/internal/logger"
	"tablebill/backend/internal/store"
)

type Store struct {
	mu              sync.RWMutex
	orders          map[string]domain.Order
	tables          map[string]domain.Table
	menuItems       map[string]domain.MenuItem
	inventory       map[string]domain.InventoryItem
	customers       map[string]domain.Customer
	orderCounters   map[string]int64
	usersByUsername map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		orders:          make(map[string]domain.Order),
		tables:          make(map[string]domain.Table),
		menuItems:       make(map[string]domain.MenuItem),
		inventory:       make(map[string]domain.InventoryItem),
		customers:       make(map[string]domain.Customer),
		orderCounters:   make(map[string]int64),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the initial in-memory staff accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD.
// If unset, dev defaults are used with a warning. The Postgres store never
// sees these accounts.
func seedUsers(restaurantID string, log *logger.Logger) map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Warn("MEMORY_STORE", "using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Error("MEMORY_STORE", fmt.Sprintf("failed to hash seed password for %s, account skipped: %v", u.username, err))
			continue
		}
		users[u.username] = domain.UserAccount{
			Username:     u.username,
			Password:     string(hash),
			Role:         u.role,
			RestaurantID: restaurantID,
			Active:       true,
			CreatedAt:    now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with a small demo restaurant: tables, a menu
// with recipes, the matching inventory and staff accounts. A nil log
// discards seeding warnings.
func NewSeeded(restaurantID string, log *logger.Logger) *Store {
	if log == nil {
		log = logger.Discard()
	}
	s := New()
	s.usersByUsername = seedUsers(restaurantID, log)

	catalog := DemoCatalog(restaurantID)
	for _, item := range catalog.Inventory {
		item.Version = 1
		s.inventory[recordKey(restaurantID, item.ID)] = item
	}
	for _, item := range catalog.MenuItems {
		item.Version = 1
		s.menuItems[recordKey(restaurantID, item.ID)] = item
	}
	for _, table := range catalog.Tables {
		table.Version = 1
		s.tables[recordKey(restaurantID, table.ID)] = table
	}
	return s
}

func (s *Store) GetOrder(_ context.Context, restaurantID string, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, exists := s.orders[id]
	if !exists || order.RestaurantID != restaurantID {
		return nil, store.ErrNotFound
	}
	return order.Clone(), nil
}

func (s *Store) ListOrders(_ context.Context, filter store.OrderFilter) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := make([]domain.Order, 0, 32)
	for _, order := range s.orders {
		if order.RestaurantID != filter.RestaurantID {
			continue
		}
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		orders = append(orders, *order.Clone())
	}
	slices.SortFunc(orders, func(a, b domain.Order) int {
		switch {
		case a.OrderNumber > b.OrderNumber:
			return -1
		case a.OrderNumber < b.OrderNumber:
			return 1
		default:
			return 0
		}
	})
	if filter.Limit > 0 && len(orders) > filter.Limit {
		orders = orders[:filter.Limit]
	}
	return orders, nil
}

func (s *Store) FindPendingOrderByMobile(_ context.Context, restaurantID string, mobile string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if mobile == "" {
		return nil, store.ErrNotFound
	}
	var found *domain.Order
	for _, order := range s.orders {
		if order.RestaurantID != restaurantID || order.Status != domain.OrderStatusPendingPayment || order.CustomerMobile != mobile {
			continue
		}
		if found == nil || order.OrderNumber > found.OrderNumber {
			found = order.Clone()
		}
	}
	if found == nil {
		return nil, store.ErrNotFound
	}
	return found, nil
}

func (s *Store) GetTable(_ context.Context, restaurantID string, id string) (*domain.Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	table, exists := s.tables[recordKey(restaurantID, id)]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &table, nil
}

func (s *Store) GetMenuItems(_ context.Context, restaurantID string, ids []string) (map[string]domain.MenuItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make(map[string]domain.MenuItem, len(ids))
	for _, id := range ids {
		if item, exists := s.menuItems[recordKey(restaurantID, id)]; exists {
			items[id] = cloneMenuItem(item)
		}
	}
	return items, nil
}

func (s *Store) GetInventoryItems(_ context.Context, restaurantID string, ids []string) (map[string]domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make(map[string]domain.InventoryItem, len(ids))
	for _, id := range ids {
		if item, exists := s.inventory[recordKey(restaurantID, id)]; exists {
			items[id] = item
		}
	}
	return items, nil
}

func (s *Store) GetCustomer(_ context.Context, restaurantID string, key string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, exists := s.customers[recordKey(restaurantID, key)]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &customer, nil
}

func (s *Store) Apply(_ context.Context, batch *store.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, order := range batch.Orders {
		current, exists := s.orders[order.ID]
		if err := checkVersion("order", order.ID, exists, current.Version, order.Version); err != nil {
			return err
		}
	}
	for _, table := range batch.Tables {
		current, exists := s.tables[recordKey(table.RestaurantID, table.ID)]
		if err := checkVersion("table", table.ID, exists, current.Version, table.Version); err != nil {
			return err
		}
	}
	for _, item := range batch.Inventory {
		current, exists := s.inventory[recordKey(item.RestaurantID, item.ID)]
		if err := checkVersion("inventory item", item.ID, exists, current.Version, item.Version); err != nil {
			return err
		}
	}
	for _, item := range batch.MenuItems {
		current, exists := s.menuItems[recordKey(item.RestaurantID, item.ID)]
		if err := checkVersion("menu item", item.ID, exists, current.Version, item.Version); err != nil {
			return err
		}
	}
	for _, customer := range batch.Customers {
		current, exists := s.customers[recordKey(customer.RestaurantID, customer.Key)]
		if err := checkVersion("customer", customer.Key, exists, current.Version, customer.Version); err != nil {
			return err
		}
	}

	for i := range batch.Orders {
		order := &batch.Orders[i]
		if order.OrderNumber == 0 {
			s.orderCounters[order.RestaurantID]++
			order.OrderNumber = s.orderCounters[order.RestaurantID]
		} else if order.OrderNumber > s.orderCounters[order.RestaurantID] {
			s.orderCounters[order.RestaurantID] = order.OrderNumber
		}
		order.Version++
		s.orders[order.ID] = *order.Clone()
	}
	for i := range batch.Tables {
		batch.Tables[i].Version++
		s.tables[recordKey(batch.Tables[i].RestaurantID, batch.Tables[i].ID)] = batch.Tables[i]
	}
	for i := range batch.Inventory {
		batch.Inventory[i].Version++
		s.inventory[recordKey(batch.Inventory[i].RestaurantID, batch.Inventory[i].ID)] = batch.Inventory[i]
	}
	for i := range batch.MenuItems {
		batch.MenuItems[i].Version++
		s.menuItems[recordKey(batch.MenuItems[i].RestaurantID, batch.MenuItems[i].ID)] = cloneMenuItem(batch.MenuItems[i])
	}
	for i := range batch.Customers {
		batch.Customers[i].Version++
		s.customers[recordKey(batch.Customers[i].RestaurantID, batch.Customers[i].Key)] = batch.Customers[i]
	}
	return nil
}

func (s *Store) GetUser(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.usersByUsername[strings.ToLower(strings.TrimSpace(username))]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" || user.RestaurantID == "" {
		return fmt.Errorf("%w: username, password and restaurant are required", store.ErrInvalidOrder)
	}
	if _, exists := s.usersByUsername[username]; exists {
		return fmt.Errorf("%w: user %s", store.ErrConcurrentModification, username)
	}
	user.Username = username
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func checkVersion(kind string, id string, exists bool, current int64, expected int64) error {
	if expected == 0 && !exists {
		return nil
	}
	if exists && current == expected {
		return nil
	}
	return fmt.Errorf("%w: %s %s", store.ErrConcurrentModification, kind, id)
}

func recordKey(restaurantID string, id string) string {
	return restaurantID + "/" + id
}

func cloneMenuItem(src domain.MenuItem) domain.MenuItem {
	dst := src
	dst.Recipe = append([]domain.RecipeIngredient(nil), src.Recipe...)
	if src.StockQuantity != nil {
		stock := *src.StockQuantity
		dst.StockQuantity = &stock
	}
	return dst
}
