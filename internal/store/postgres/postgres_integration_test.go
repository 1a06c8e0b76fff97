package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"tablebill/backend/internal/domain"
	"tablebill/backend/internal/store"
	"tablebill/backend/internal/store/memory"
)

// newIntegrationStore connects to TABLEBILL_TEST_DATABASE_URL when set and
// otherwise starts a throwaway postgres container.
func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx := context.Background()
	databaseURL := os.Getenv("TABLEBILL_TEST_DATABASE_URL")
	if databaseURL == "" {
		testcontainers.SkipIfProviderIsNotHealthy(t)

		container, err := tcpostgres.Run(ctx,
			"postgres:16-alpine",
			tcpostgres.WithDatabase("tablebill_test"),
			tcpostgres.WithUsername("tablebill"),
			tcpostgres.WithPassword("tablebill"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second),
			),
		)
		if err != nil {
			t.Fatalf("start postgres container: %v", err)
		}
		t.Cleanup(func() {
			_ = container.Terminate(context.Background())
		})

		databaseURL, err = container.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			t.Fatalf("connection string: %v", err)
		}
	}

	if err := Migrate(databaseURL); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func uniqueRestaurant(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

func newOrder(restaurantID string, id string, status string, mobile string, createdAt time.Time) domain.Order {
	return domain.Order{
		ID:             id,
		RestaurantID:   restaurantID,
		Channel:        domain.ChannelDineIn,
		Status:         status,
		CustomerMobile: mobile,
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
	}
}

func TestApplyAssignsSequentialOrderNumbersPerRestaurant(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	first := uniqueRestaurant("numbers-a")
	second := uniqueRestaurant("numbers-b")
	now := time.Now().UTC()

	batch := &store.Batch{Orders: []domain.Order{
		newOrder(first, first+"-o1", domain.OrderStatusActive, "", now),
		newOrder(first, first+"-o2", domain.OrderStatusActive, "", now),
		newOrder(second, second+"-o1", domain.OrderStatusActive, "", now),
	}}
	if err := s.Apply(ctx, batch); err != nil {
		t.Fatalf("apply: %v", err)
	}

	wantNumbers := []int64{1, 2, 1}
	for i, order := range batch.Orders {
		if order.OrderNumber != wantNumbers[i] || order.Version != 1 {
			t.Fatalf("order %s: expected number %d version 1, got %d/%d", order.ID, wantNumbers[i], order.OrderNumber, order.Version)
		}
	}

	stored, err := s.GetOrder(ctx, first, first+"-o2")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if stored.OrderNumber != 2 || stored.Version != 1 {
		t.Fatalf("unexpected stored order: %+v", stored)
	}
	if _, err := s.GetOrder(ctx, second, first+"-o1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected cross-restaurant read to be not found, got %v", err)
	}
}

func TestApplyRejectsStaleVersionsAndWritesNothing(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	restaurantID := uniqueRestaurant("cas")

	if err := s.Apply(ctx, memory.DemoCatalog(restaurantID)); err != nil {
		t.Fatalf("seed catalog: %v", err)
	}
	if err := s.Apply(ctx, memory.DemoCatalog(restaurantID)); !errors.Is(err, store.ErrConcurrentModification) {
		t.Fatalf("expected reseeding to conflict, got %v", err)
	}

	table, err := s.GetTable(ctx, restaurantID, "T1")
	if err != nil {
		t.Fatalf("get table: %v", err)
	}
	if table.Version != 1 || table.Status != domain.TableStatusAvailable {
		t.Fatalf("unexpected seeded table: %+v", table)
	}

	order := newOrder(restaurantID, restaurantID+"-o1", domain.OrderStatusActive, "", time.Now().UTC())
	created := &store.Batch{Orders: []domain.Order{order}}
	if err := s.Apply(ctx, created); err != nil {
		t.Fatalf("create order: %v", err)
	}

	occupied := *table
	occupied.Status = domain.TableStatusOccupied
	occupied.CurrentOrderID = order.ID
	stale := created.Orders[0]
	stale.Version = 0
	err = s.Apply(ctx, &store.Batch{
		Orders: []domain.Order{stale},
		Tables: []domain.Table{occupied},
	})
	if !errors.Is(err, store.ErrConcurrentModification) {
		t.Fatalf("expected stale order to conflict, got %v", err)
	}

	table, err = s.GetTable(ctx, restaurantID, "T1")
	if err != nil {
		t.Fatalf("get table: %v", err)
	}
	if table.Version != 1 || table.Status != domain.TableStatusAvailable {
		t.Fatalf("expected table untouched after rolled back batch, got %+v", table)
	}

	update := created.Orders[0]
	update.Status = domain.OrderStatusPreparing
	batch := &store.Batch{Orders: []domain.Order{update}, Tables: []domain.Table{occupied}}
	if err := s.Apply(ctx, batch); err != nil {
		t.Fatalf("update order: %v", err)
	}
	if batch.Orders[0].Version != 2 || batch.Orders[0].OrderNumber != 1 || batch.Tables[0].Version != 2 {
		t.Fatalf("unexpected committed versions: order=%d number=%d table=%d",
			batch.Orders[0].Version, batch.Orders[0].OrderNumber, batch.Tables[0].Version)
	}
}

func TestCatalogReadsAndCustomerUpsert(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	restaurantID := uniqueRestaurant("catalog")

	if err := s.Apply(ctx, memory.DemoCatalog(restaurantID)); err != nil {
		t.Fatalf("seed catalog: %v", err)
	}

	menu, err := s.GetMenuItems(ctx, restaurantID, []string{"menu-paneer-tikka", "menu-soft-drink", "missing"})
	if err != nil {
		t.Fatalf("get menu items: %v", err)
	}
	if len(menu) != 2 || menu["menu-paneer-tikka"].Price != 280 || len(menu["menu-paneer-tikka"].Recipe) != 2 {
		t.Fatalf("unexpected menu items: %+v", menu)
	}
	if menu["menu-soft-drink"].StockQuantity == nil || menu["menu-soft-drink"].StockQuantity.String() != "48" {
		t.Fatalf("expected soft drink stock 48, got %+v", menu["menu-soft-drink"].StockQuantity)
	}

	inventory, err := s.GetInventoryItems(ctx, restaurantID, []string{"inv-paneer"})
	if err != nil {
		t.Fatalf("get inventory: %v", err)
	}
	if inventory["inv-paneer"].Quantity.String() != "10" || inventory["inv-paneer"].Version != 1 {
		t.Fatalf("unexpected inventory: %+v", inventory["inv-paneer"])
	}

	if _, err := s.GetCustomer(ctx, restaurantID, "9876543210"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected unknown customer to be not found, got %v", err)
	}
	customer := domain.Customer{RestaurantID: restaurantID, Key: "9876543210", TotalSpent: 1200, Visits: 1}
	batch := &store.Batch{Customers: []domain.Customer{customer}}
	if err := s.Apply(ctx, batch); err != nil {
		t.Fatalf("insert customer: %v", err)
	}
	updated := batch.Customers[0]
	updated.TotalSpent = 2400
	updated.Visits = 2
	if err := s.Apply(ctx, &store.Batch{Customers: []domain.Customer{updated}}); err != nil {
		t.Fatalf("update customer: %v", err)
	}

	stored, err := s.GetCustomer(ctx, restaurantID, "9876543210")
	if err != nil {
		t.Fatalf("get customer: %v", err)
	}
	if stored.TotalSpent != 2400 || stored.Visits != 2 || stored.Version != 2 {
		t.Fatalf("unexpected customer: %+v", stored)
	}
}

func TestPendingLookupAndListing(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	restaurantID := uniqueRestaurant("pending")
	now := time.Now().UTC()

	batch := &store.Batch{Orders: []domain.Order{
		newOrder(restaurantID, restaurantID+"-o1", domain.OrderStatusPendingPayment, "9000000001", now),
		newOrder(restaurantID, restaurantID+"-o2", domain.OrderStatusActive, "9000000001", now),
		newOrder(restaurantID, restaurantID+"-o3", domain.OrderStatusPendingPayment, "9000000002", now),
	}}
	if err := s.Apply(ctx, batch); err != nil {
		t.Fatalf("apply: %v", err)
	}

	found, err := s.FindPendingOrderByMobile(ctx, restaurantID, "9000000001")
	if err != nil {
		t.Fatalf("find pending: %v", err)
	}
	if found.ID != restaurantID+"-o1" {
		t.Fatalf("expected pending order o1, got %s", found.ID)
	}
	if _, err := s.FindPendingOrderByMobile(ctx, restaurantID, ""); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected empty mobile to never match, got %v", err)
	}
	if _, err := s.FindPendingOrderByMobile(ctx, restaurantID, "9000000003"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected unknown mobile to be not found, got %v", err)
	}

	pending, err := s.ListOrders(ctx, store.OrderFilter{RestaurantID: restaurantID, Status: domain.OrderStatusPendingPayment})
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 2 || pending[0].OrderNumber != 3 || pending[1].OrderNumber != 1 {
		t.Fatalf("expected pending orders #3 and #1 newest first, got %+v", pending)
	}

	all, err := s.ListOrders(ctx, store.OrderFilter{RestaurantID: restaurantID, Limit: 2})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected limit to cap results at 2, got %d", len(all))
	}
}

func TestUsersRoundTrip(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	username := fmt.Sprintf("cashier%d", time.Now().UnixNano())

	user := domain.UserAccount{Username: " " + username + " ", Password: "$2a$10$abcdefghijklmnopqrstuv", Role: "cashier", RestaurantID: "r1"}
	if err := s.CreateUser(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := s.CreateUser(ctx, user); !errors.Is(err, store.ErrConcurrentModification) {
		t.Fatalf("expected duplicate user to conflict, got %v", err)
	}

	stored, err := s.GetUser(ctx, username)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if stored.Username != username || stored.RestaurantID != "r1" || !stored.Active {
		t.Fatalf("unexpected user: %+v", stored)
	}
	if _, err := s.GetUser(ctx, "nobody-"+username); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected unknown user to be not found, got %v", err)
	}
}
