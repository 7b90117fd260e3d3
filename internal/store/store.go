package store

import (
	"context"
	"errors"
	"fmt"

	"swiftshop/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound replaces pgx.ErrNoRows so callers never see driver errors.
	ErrNotFound = errors.New("order not found")
	// ErrUniqueViolation is returned when the paystack_reference uniqueness
	// constraint is hit. The reconciliation engine relies on recognizing this
	// to take its duplicate re-read path instead of failing.
	ErrUniqueViolation = errors.New("duplicate paystack reference")
)

// DB is the subset of pgxpool.Pool the store uses.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	DB DB
}

func New(db DB) *Store {
	return &Store{DB: db}
}

const orderColumns = `id, order_number, paystack_reference,
	customer_name, customer_email, customer_phone,
	street, city, state, postal_code, country,
	subtotal, delivery_fee, total_amount,
	payment_status, order_status, created_at, updated_at`

// Tx scopes the commit-or-return-existing protocol. The row lock taken by
// FindByReference(forUpdate=true) is held until Commit or Rollback.
type Tx struct {
	tx pgx.Tx
}

func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

func (t *Tx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return mapError(err)
	}
	return nil
}

// Rollback is a no-op after Commit, so it is safe to defer unconditionally.
func (t *Tx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

// FindByReference returns nil without error when no order matches; absence is
// the normal first-delivery case, not a failure. With forUpdate the matched
// row is locked until the transaction ends, serializing concurrent verifies
// for the same reference across process instances.
func (t *Tx) FindByReference(ctx context.Context, reference string, forUpdate bool) (*models.Order, error) {
	return findByReference(ctx, t.tx, reference, forUpdate)
}

func (s *Store) FindByReference(ctx context.Context, reference string) (*models.Order, error) {
	return findByReference(ctx, s.DB, reference, false)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func findByReference(ctx context.Context, q querier, reference string, forUpdate bool) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE paystack_reference=$1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	order, err := scanOrder(q.QueryRow(ctx, query, reference))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return order, nil
}

// InsertOrderWithItems writes the order row and all of its items inside the
// wrapping transaction. A uniqueness hit on paystack_reference surfaces as
// ErrUniqueViolation; any other failure leaves the transaction poisoned so
// the caller's rollback discards everything.
func (t *Tx) InsertOrderWithItems(ctx context.Context, order *models.Order, items []models.OrderItem) (*models.Order, []models.OrderItem, error) {
	row := t.tx.QueryRow(ctx, `
		INSERT INTO orders (
			order_number, paystack_reference,
			customer_name, customer_email, customer_phone,
			street, city, state, postal_code, country,
			subtotal, delivery_fee, total_amount,
			payment_status, order_status
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		RETURNING id, created_at, updated_at
	`,
		order.OrderNumber,
		order.PaystackReference,
		order.CustomerName,
		order.CustomerEmail,
		order.CustomerPhone,
		order.Street,
		order.City,
		order.State,
		order.PostalCode,
		order.Country,
		order.Subtotal,
		order.DeliveryFee,
		order.TotalAmount,
		order.PaymentStatus,
		order.OrderStatus,
	)
	if err := row.Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt); err != nil {
		return nil, nil, mapError(err)
	}

	inserted := make([]models.OrderItem, 0, len(items))
	for _, item := range items {
		item.OrderID = order.ID
		err := t.tx.QueryRow(ctx, `
			INSERT INTO order_items (order_id, product_id, product_name, quantity, unit_price, subtotal)
			VALUES ($1,$2,$3,$4,$5,$6)
			RETURNING id
		`,
			item.OrderID,
			item.ProductID,
			item.ProductName,
			item.Quantity,
			item.UnitPrice,
			item.Subtotal,
		).Scan(&item.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("insert order item: %w", err)
		}
		inserted = append(inserted, item)
	}
	return order, inserted, nil
}

func (s *Store) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	order, err := scanOrder(s.DB.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if err != nil {
		return nil, mapError(err)
	}
	return order, nil
}

// UpdateStatus flips order_status and bumps updated_at in one statement.
func (s *Store) UpdateStatus(ctx context.Context, id int64, status models.OrderStatus) (*models.Order, error) {
	order, err := scanOrder(s.DB.QueryRow(ctx, `
		UPDATE orders SET order_status=$2, updated_at=now()
		WHERE id=$1
		RETURNING `+orderColumns, id, status))
	if err != nil {
		return nil, mapError(err)
	}
	return order, nil
}

func (s *Store) GetItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, order_id, product_id, product_name, quantity, unit_price, subtotal
		FROM order_items WHERE order_id=$1 ORDER BY id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		if err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.ProductName,
			&item.Quantity,
			&item.UnitPrice,
			&item.Subtotal,
		); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) ListOrders(ctx context.Context) ([]*models.Order, error) {
	return s.listOrders(ctx,
		`SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC`)
}

func (s *Store) ListOrdersByEmail(ctx context.Context, email string) ([]*models.Order, error) {
	return s.listOrders(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE customer_email=$1 ORDER BY created_at DESC`, email)
}

func (s *Store) listOrders(ctx context.Context, query string, args ...any) ([]*models.Order, error) {
	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

func scanOrder(row pgx.Row) (*models.Order, error) {
	var order models.Order
	err := row.Scan(
		&order.ID,
		&order.OrderNumber,
		&order.PaystackReference,
		&order.CustomerName,
		&order.CustomerEmail,
		&order.CustomerPhone,
		&order.Street,
		&order.City,
		&order.State,
		&order.PostalCode,
		&order.Country,
		&order.Subtotal,
		&order.DeliveryFee,
		&order.TotalAmount,
		&order.PaymentStatus,
		&order.OrderStatus,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrUniqueViolation, pgErr.ConstraintName)
	}
	return err
}
