package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"tablebill/backend/internal/domain"
	"tablebill/backend/internal/store"
)

// Store keeps every record as a JSONB document next to the columns that
// are queried or guarded: restaurant, id and version. Orders additionally
// expose order_number, status and customer_mobile.
type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) GetOrder(ctx context.Context, restaurantID string, id string) (*domain.Order, error) {
	var (
		doc     []byte
		version int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT doc, version FROM orders
		WHERE restaurant_id = $1 AND id = $2
	`, restaurantID, id).Scan(&doc, &version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return decodeOrder(doc, version)
}

func (s *Store) ListOrders(ctx context.Context, filter store.OrderFilter) ([]domain.Order, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc, version FROM orders
		WHERE restaurant_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY order_number DESC
		LIMIT $3
	`, filter.RestaurantID, filter.Status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, limit)
	for rows.Next() {
		var (
			doc     []byte
			version int64
		)
		if err := rows.Scan(&doc, &version); err != nil {
			return nil, err
		}
		order, err := decodeOrder(doc, version)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *Store) FindPendingOrderByMobile(ctx context.Context, restaurantID string, mobile string) (*domain.Order, error) {
	if mobile == "" {
		return nil, store.ErrNotFound
	}
	var (
		doc     []byte
		version int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT doc, version FROM orders
		WHERE restaurant_id = $1 AND status = $2 AND customer_mobile = $3
		ORDER BY order_number DESC
		LIMIT 1
	`, restaurantID, domain.OrderStatusPendingPayment, mobile).Scan(&doc, &version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return decodeOrder(doc, version)
}

func (s *Store) GetTable(ctx context.Context, restaurantID string, id string) (*domain.Table, error) {
	var table domain.Table
	found, err := s.getDoc(ctx, "restaurant_tables", restaurantID, id, &table, &table.Version)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, store.ErrNotFound
	}
	return &table, nil
}

func (s *Store) GetMenuItems(ctx context.Context, restaurantID string, ids []string) (map[string]domain.MenuItem, error) {
	items := make(map[string]domain.MenuItem, len(ids))
	err := s.scanDocs(ctx, "menu_items", restaurantID, ids, func(doc []byte, version int64) error {
		var item domain.MenuItem
		if err := json.Unmarshal(doc, &item); err != nil {
			return err
		}
		item.Version = version
		items[item.ID] = item
		return nil
	})
	return items, err
}

func (s *Store) GetInventoryItems(ctx context.Context, restaurantID string, ids []string) (map[string]domain.InventoryItem, error) {
	items := make(map[string]domain.InventoryItem, len(ids))
	err := s.scanDocs(ctx, "inventory_items", restaurantID, ids, func(doc []byte, version int64) error {
		var item domain.InventoryItem
		if err := json.Unmarshal(doc, &item); err != nil {
			return err
		}
		item.Version = version
		items[item.ID] = item
		return nil
	})
	return items, err
}

func (s *Store) GetCustomer(ctx context.Context, restaurantID string, key string) (*domain.Customer, error) {
	var customer domain.Customer
	found, err := s.getDoc(ctx, "customers", restaurantID, key, &customer, &customer.Version)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, store.ErrNotFound
	}
	return &customer, nil
}

// Apply writes the batch in one transaction. Writes are compare-and-swap on
// the version column, so a stale record aborts the whole batch.
func (s *Store) Apply(ctx context.Context, batch *store.Batch) error {
	if batch.Empty() {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	orders := make([]domain.Order, len(batch.Orders))
	for i, order := range batch.Orders {
		if order.OrderNumber == 0 {
			if err := tx.QueryRowContext(ctx, `
				INSERT INTO order_counters (restaurant_id, last_number)
				VALUES ($1, 1)
				ON CONFLICT (restaurant_id)
				DO UPDATE SET last_number = order_counters.last_number + 1
				RETURNING last_number
			`, order.RestaurantID).Scan(&order.OrderNumber); err != nil {
				return fmt.Errorf("allocate order number: %w", err)
			}
		}
		if err := writeOrder(ctx, tx, &order); err != nil {
			return err
		}
		orders[i] = order
	}

	tables := make([]domain.Table, len(batch.Tables))
	for i, table := range batch.Tables {
		table.Version++
		if err := writeDoc(ctx, tx, "restaurant_tables", table.RestaurantID, table.ID, table.Version, table); err != nil {
			return err
		}
		tables[i] = table
	}

	inventory := make([]domain.InventoryItem, len(batch.Inventory))
	for i, item := range batch.Inventory {
		item.Version++
		if err := writeDoc(ctx, tx, "inventory_items", item.RestaurantID, item.ID, item.Version, item); err != nil {
			return err
		}
		inventory[i] = item
	}

	menu := make([]domain.MenuItem, len(batch.MenuItems))
	for i, item := range batch.MenuItems {
		item.Version++
		if err := writeDoc(ctx, tx, "menu_items", item.RestaurantID, item.ID, item.Version, item); err != nil {
			return err
		}
		menu[i] = item
	}

	customers := make([]domain.Customer, len(batch.Customers))
	for i, customer := range batch.Customers {
		customer.Version++
		if err := writeDoc(ctx, tx, "customers", customer.RestaurantID, customer.Key, customer.Version, customer); err != nil {
			return err
		}
		customers[i] = customer
	}

	if err := tx.Commit(); err != nil {
		if isSerializationFailure(err) {
			return fmt.Errorf("%w: %v", store.ErrConcurrentModification, err)
		}
		return err
	}

	batch.Orders = orders
	batch.Tables = tables
	batch.Inventory = inventory
	batch.MenuItems = menu
	batch.Customers = customers
	return nil
}

func (s *Store) GetUser(ctx context.Context, username string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT username, password_hash, role, restaurant_id, active, created_at
		FROM users
		WHERE username = $1
	`, strings.ToLower(strings.TrimSpace(username))).Scan(
		&user.Username, &user.Password, &user.Role, &user.RestaurantID, &user.Active, &user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" || user.RestaurantID == "" {
		return fmt.Errorf("%w: username, password and restaurant are required", store.ErrInvalidOrder)
	}
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, role, restaurant_id, active, created_at)
		VALUES ($1, $2, $3, $4, true, $5)
	`, username, user.Password, user.Role, user.RestaurantID, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: user %s", store.ErrConcurrentModification, username)
		}
		return err
	}
	return nil
}

// writeOrder inserts the order when it is new (version 0) or updates it
// when the stored version still matches. order.Version is bumped on success.
func writeOrder(ctx context.Context, tx *sql.Tx, order *domain.Order) error {
	expected := order.Version
	order.Version++
	doc, err := json.Marshal(order)
	if err != nil {
		return err
	}

	var res sql.Result
	if expected == 0 {
		res, err = tx.ExecContext(ctx, `
			INSERT INTO orders (id, restaurant_id, order_number, status, customer_mobile, version, doc, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO NOTHING
		`, order.ID, order.RestaurantID, order.OrderNumber, order.Status, nullIfEmpty(order.CustomerMobile),
			order.Version, doc, order.CreatedAt, order.UpdatedAt)
	} else {
		res, err = tx.ExecContext(ctx, `
			UPDATE orders
			SET status = $3, customer_mobile = $4, version = $5, doc = $6, updated_at = $7
			WHERE id = $1 AND restaurant_id = $2 AND version = $8
		`, order.ID, order.RestaurantID, order.Status, nullIfEmpty(order.CustomerMobile),
			order.Version, doc, order.UpdatedAt, expected)
	}
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: order %s", store.ErrConcurrentModification, order.ID)
		}
		return err
	}
	return expectOneRow(res, "order", order.ID)
}

// writeDoc is writeOrder for the plain document tables. version is the new
// version; the stored row must be at version-1.
func writeDoc(ctx context.Context, tx *sql.Tx, table string, restaurantID string, id string, version int64, record any) error {
	doc, err := json.Marshal(record)
	if err != nil {
		return err
	}

	var res sql.Result
	if version == 1 {
		res, err = tx.ExecContext(ctx, `
			INSERT INTO `+table+` (restaurant_id, id, version, doc, updated_at)
			VALUES ($1, $2, $3, $4, now())
			ON CONFLICT (restaurant_id, id) DO NOTHING
		`, restaurantID, id, version, doc)
	} else {
		res, err = tx.ExecContext(ctx, `
			UPDATE `+table+`
			SET version = $3, doc = $4, updated_at = now()
			WHERE restaurant_id = $1 AND id = $2 AND version = $5
		`, restaurantID, id, version, doc, version-1)
	}
	if err != nil {
		return err
	}
	return expectOneRow(res, strings.TrimSuffix(table, "s"), id)
}

func expectOneRow(res sql.Result, kind string, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected != 1 {
		return fmt.Errorf("%w: %s %s", store.ErrConcurrentModification, kind, id)
	}
	return nil
}

// getDoc loads one document into dest and its version column into version.
func (s *Store) getDoc(ctx context.Context, table string, restaurantID string, id string, dest any, version *int64) (bool, error) {
	var (
		doc []byte
		ver int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT doc, version FROM `+table+`
		WHERE restaurant_id = $1 AND id = $2
	`, restaurantID, id).Scan(&doc, &ver)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(doc, dest); err != nil {
		return false, err
	}
	*version = ver
	return true, nil
}

func (s *Store) scanDocs(ctx context.Context, table string, restaurantID string, ids []string, fn func(doc []byte, version int64) error) error {
	if len(ids) == 0 {
		return nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc, version FROM `+table+`
		WHERE restaurant_id = $1 AND id = ANY($2)
	`, restaurantID, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			doc     []byte
			version int64
		)
		if err := rows.Scan(&doc, &version); err != nil {
			return err
		}
		if err := fn(doc, version); err != nil {
			return err
		}
	}
	return rows.Err()
}

func decodeOrder(doc []byte, version int64) (*domain.Order, error) {
	var order domain.Order
	if err := json.Unmarshal(doc, &order); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	order.Version = version
	return &order, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
