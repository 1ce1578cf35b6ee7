package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBPool matches the methods from *pgxpool.Pool that we use.
// This allows us to mock the database in tests.
type DBPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Repository owns the authoritative stock counter of every product. Every
// method that changes held stock does so in a single indivisible step together
// with the hold or order transition that justifies it.
type Repository interface {
	CreateProduct(ctx context.Context, p NewProduct, now time.Time) (Product, error)
	GetProduct(ctx context.Context, productID int64) (Product, error)

	Reserve(ctx context.Context, req HoldRequest) (ReserveResult, error)
	GetHold(ctx context.Context, holdID string) (Hold, error)
	ReleaseHold(ctx context.Context, holdID string, now time.Time) (Hold, error)
	// ReleaseExpired expires at most limit holds; limit <= 0 means no limit.
	ReleaseExpired(ctx context.Context, now time.Time, limit int) ([]Hold, error)

	CreateOrder(ctx context.Context, orderID, holdID string, now time.Time) (Order, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	ApplyPayment(ctx context.Context, wh PaymentWebhook, now time.Time) (PaymentResult, error)
}

const (
	productColumns = `id, name, price, total_stock, held_stock, created_at`
	holdColumns    = `id, product_id, quantity, status, expires_at, created_at, updated_at`
	orderColumns   = `id, hold_id, product_id, quantity, status, created_at, updated_at`
	paymentColumns = `webhook_id, order_id, status, payload, created_at`
)

type PostgresRepository struct {
	pool DBPool
}

func NewPostgresRepository(pool DBPool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) CreateProduct(ctx context.Context, p NewProduct, now time.Time) (Product, error) {
	out := Product{
		Name:       p.Name,
		Price:      p.Price,
		TotalStock: p.TotalStock,
		CreatedAt:  now,
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO products (name, price, total_stock, held_stock, created_at, updated_at)
		VALUES ($1, $2, $3, 0, $4, $4)
		RETURNING id
	`, p.Name, p.Price, p.TotalStock, now).Scan(&out.ID)
	if err != nil {
		return Product{}, fmt.Errorf("insert product: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) GetProduct(ctx context.Context, productID int64) (Product, error) {
	// total_stock and held_stock come from one row version, so the derived
	// availability is never torn.
	p, err := scanProduct(r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, productID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrNotFound
		}
		return Product{}, fmt.Errorf("select product: %w", err)
	}
	return p, nil
}

func (r *PostgresRepository) Reserve(ctx context.Context, req HoldRequest) (ReserveResult, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return ReserveResult{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var total, held int
	err = tx.QueryRow(ctx, `
		SELECT total_stock, held_stock
		FROM products WHERE id = $1
		FOR UPDATE
	`, req.ProductID).Scan(&total, &held)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ReserveResult{}, ErrNotFound
		}
		return ReserveResult{}, fmt.Errorf("lock product: %w", err)
	}

	if req.Quantity > total-held {
		return ReserveResult{Available: total - held}, ErrInsufficientStock
	}

	if _, err := tx.Exec(ctx, `
		UPDATE products
		SET held_stock = held_stock + $2, updated_at = $3
		WHERE id = $1
	`, req.ProductID, req.Quantity, req.Now); err != nil {
		return ReserveResult{}, fmt.Errorf("increment held stock: %w", err)
	}

	hold := Hold{
		ID:        req.ID,
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		Status:    HoldActive,
		ExpiresAt: req.ExpiresAt,
		CreatedAt: req.Now,
		UpdatedAt: req.Now,
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO holds (`+holdColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`, hold.ID, hold.ProductID, hold.Quantity, string(hold.Status), hold.ExpiresAt, hold.CreatedAt); err != nil {
		return ReserveResult{}, fmt.Errorf("insert hold: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return ReserveResult{}, fmt.Errorf("commit reserve: %w", err)
	}
	return ReserveResult{Hold: hold, Available: total - held - req.Quantity}, nil
}

func (r *PostgresRepository) GetHold(ctx context.Context, holdID string) (Hold, error) {
	h, err := scanHold(r.pool.QueryRow(ctx, `SELECT `+holdColumns+` FROM holds WHERE id = $1`, holdID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Hold{}, ErrNotFound
		}
		return Hold{}, fmt.Errorf("select hold: %w", err)
	}
	return h, nil
}

func (r *PostgresRepository) ReleaseHold(ctx context.Context, holdID string, now time.Time) (Hold, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Hold{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	h, err := lockHold(ctx, tx, holdID)
	if err != nil {
		return Hold{}, err
	}
	if h.Status != HoldActive {
		return h, ErrHoldNotActive
	}

	if _, err := tx.Exec(ctx, `UPDATE holds SET status = $2, updated_at = $3 WHERE id = $1`,
		h.ID, string(HoldReleased), now); err != nil {
		return Hold{}, fmt.Errorf("update hold: %w", err)
	}
	if err := returnStock(ctx, tx, h.ProductID, h.Quantity, now); err != nil {
		return Hold{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Hold{}, fmt.Errorf("commit release: %w", err)
	}
	h.Status = HoldReleased
	h.UpdatedAt = now
	return h, nil
}

// ReleaseExpired expires up to limit active holds whose deadline has passed
// and returns their stock. Rows locked by a concurrent sweeper or release are
// skipped, so every hold is released exactly once.
func (r *PostgresRepository) ReleaseExpired(ctx context.Context, now time.Time, limit int) ([]Hold, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// A NULL limit is no limit.
	var batch any
	if limit > 0 {
		batch = limit
	}
	rows, err := tx.Query(ctx, `
		UPDATE holds SET status = $3, updated_at = $1
		WHERE id IN (
			SELECT id FROM holds
			WHERE status = $4 AND expires_at < $1
			ORDER BY expires_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+holdColumns, now, batch, string(HoldExpired), string(HoldActive))
	if err != nil {
		return nil, fmt.Errorf("expire holds: %w", err)
	}
	var expired []Hold
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan expired hold: %w", err)
		}
		expired = append(expired, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("expire holds: %w", err)
	}
	if len(expired) == 0 {
		return nil, nil
	}

	returned := make(map[int64]int)
	for _, h := range expired {
		returned[h.ProductID] += h.Quantity
	}
	productIDs := make([]int64, 0, len(returned))
	for id := range returned {
		productIDs = append(productIDs, id)
	}
	// Ascending order keeps concurrent sweepers from deadlocking on products.
	sort.Slice(productIDs, func(i, j int) bool { return productIDs[i] < productIDs[j] })
	for _, id := range productIDs {
		if err := returnStock(ctx, tx, id, returned[id], now); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit expire: %w", err)
	}
	return expired, nil
}

func (r *PostgresRepository) CreateOrder(ctx context.Context, orderID, holdID string, now time.Time) (Order, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	h, err := lockHold(ctx, tx, holdID)
	if err != nil {
		return Order{}, err
	}
	if h.Status != HoldActive {
		return Order{}, ErrHoldNotActive
	}
	if !now.Before(h.ExpiresAt) {
		return Order{}, ErrHoldExpired
	}

	if _, err := tx.Exec(ctx, `UPDATE holds SET status = $2, updated_at = $3 WHERE id = $1`,
		h.ID, string(HoldConverted), now); err != nil {
		return Order{}, fmt.Errorf("update hold: %w", err)
	}

	o := Order{
		ID:        orderID,
		HoldID:    h.ID,
		ProductID: h.ProductID,
		Quantity:  h.Quantity,
		Status:    OrderPendingPayment,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`, o.ID, o.HoldID, o.ProductID, o.Quantity, string(o.Status), now); err != nil {
		return Order{}, fmt.Errorf("insert order: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, fmt.Errorf("commit order: %w", err)
	}
	return o, nil
}

func (r *PostgresRepository) GetOrder(ctx context.Context, orderID string) (Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("select order: %w", err)
	}
	return o, nil
}

// ApplyPayment records a payment webhook exactly once per webhook id. A known
// webhook id answers with its stored log before the order is consulted. The
// order row lock serializes first deliveries for the same order; a concurrent
// first delivery of the same id loses on the payment_logs key and its order
// update is rolled back.
func (r *PostgresRepository) ApplyPayment(ctx context.Context, wh PaymentWebhook, now time.Time) (PaymentResult, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return PaymentResult{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	existing, err := selectPaymentLog(ctx, tx, wh.WebhookID)
	switch {
	case err == nil:
		o, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, existing.OrderID))
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return PaymentResult{}, fmt.Errorf("select order: %w", err)
		}
		return PaymentResult{Log: existing, Order: o, Duplicate: true}, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return PaymentResult{}, fmt.Errorf("select payment log: %w", err)
	}

	o, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, wh.OrderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PaymentResult{}, ErrNotFound
		}
		return PaymentResult{}, fmt.Errorf("lock order: %w", err)
	}
	current := o

	changed := false
	if o.Status == OrderPendingPayment {
		next := OrderPaid
		if wh.Status == PaymentFailure {
			next = OrderCancelled
		}
		if _, err := tx.Exec(ctx, `UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1`,
			o.ID, string(next), now); err != nil {
			return PaymentResult{}, fmt.Errorf("update order: %w", err)
		}
		if next == OrderCancelled {
			if err := returnStock(ctx, tx, o.ProductID, o.Quantity, now); err != nil {
				return PaymentResult{}, err
			}
		}
		o.Status = next
		o.UpdatedAt = now
		changed = true
	}

	var payload []byte
	if len(wh.Payload) > 0 {
		payload = wh.Payload
	}
	tag, err := tx.Exec(ctx, `
		INSERT INTO payment_logs (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (webhook_id) DO NOTHING
	`, wh.WebhookID, wh.OrderID, string(wh.Status), payload, now)
	if err != nil {
		return PaymentResult{}, fmt.Errorf("insert payment log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Same webhook id committed concurrently; the deferred rollback
		// undoes the order update above.
		existing, err := selectPaymentLog(ctx, tx, wh.WebhookID)
		if err != nil {
			return PaymentResult{}, fmt.Errorf("select payment log: %w", err)
		}
		return PaymentResult{Log: existing, Order: current, Duplicate: true}, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return PaymentResult{}, fmt.Errorf("commit payment: %w", err)
	}
	return PaymentResult{
		Log: PaymentLog{
			WebhookID: wh.WebhookID,
			OrderID:   wh.OrderID,
			Status:    wh.Status,
			Payload:   wh.Payload,
			CreatedAt: now,
		},
		Order:   o,
		Changed: changed,
	}, nil
}

func lockHold(ctx context.Context, tx pgx.Tx, holdID string) (Hold, error) {
	h, err := scanHold(tx.QueryRow(ctx, `SELECT `+holdColumns+` FROM holds WHERE id = $1 FOR UPDATE`, holdID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Hold{}, ErrNotFound
		}
		return Hold{}, fmt.Errorf("lock hold: %w", err)
	}
	return h, nil
}

func returnStock(ctx context.Context, tx pgx.Tx, productID int64, quantity int, now time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE products
		SET held_stock = held_stock - $2, updated_at = $3
		WHERE id = $1
	`, productID, quantity, now)
	if err != nil {
		return fmt.Errorf("return stock for product %d: %w", productID, err)
	}
	return nil
}

func selectPaymentLog(ctx context.Context, tx pgx.Tx, webhookID string) (PaymentLog, error) {
	var (
		l       PaymentLog
		status  string
		payload []byte
	)
	err := tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payment_logs WHERE webhook_id = $1`, webhookID).
		Scan(&l.WebhookID, &l.OrderID, &status, &payload, &l.CreatedAt)
	if err != nil {
		return PaymentLog{}, err
	}
	l.Status = PaymentStatus(status)
	if len(payload) > 0 {
		l.Payload = payload
	}
	return l, nil
}

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	if err := row.Scan(&p.ID, &p.Name, &p.Price, &p.TotalStock, &p.HeldStock, &p.CreatedAt); err != nil {
		return Product{}, err
	}
	return p, nil
}

func scanHold(row pgx.Row) (Hold, error) {
	var (
		h      Hold
		status string
	)
	if err := row.Scan(&h.ID, &h.ProductID, &h.Quantity, &status, &h.ExpiresAt, &h.CreatedAt, &h.UpdatedAt); err != nil {
		return Hold{}, err
	}
	h.Status = HoldStatus(status)
	return h, nil
}

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o      Order
		status string
	)
	if err := row.Scan(&o.ID, &o.HoldID, &o.ProductID, &o.Quantity, &status, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return Order{}, err
	}
	o.Status = OrderStatus(status)
	return o, nil
}
