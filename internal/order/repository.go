package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/quickbite/foodorder/internal/ticket"
)

var (
	ErrNotFound        = errors.New("order not found")
	ErrPaymentNotFound = errors.New("payment not found")
)

type Repository interface {
	// CreateOrder inserts the order, its line items and the ticket in one
	// transaction. Either all rows exist afterwards or none do.
	CreateOrder(ctx context.Context, o *Order, ticketCode string) (*ticket.Ticket, error)
	GetOrder(ctx context.Context, id int64) (*Order, error)
	ListOrdersByUser(ctx context.Context, userID int64) ([]Order, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, newStatus Status) error
	// DeleteOrder hard-deletes the order; line items, payment and ticket go
	// with it via FK cascade.
	DeleteOrder(ctx context.Context, orderID int64) error

	PaymentByID(ctx context.Context, id int64) (*Payment, error)
	PaymentByOrder(ctx context.Context, orderID int64) (*Payment, error)
	// ReplacePayment purges any non-completed payment row for the order and
	// inserts p, optionally advancing the order status, in one transaction.
	ReplacePayment(ctx context.Context, p *Payment, advanceTo Status) error
	// CompleteCashPayment flips a cash payment to completed under a row lock.
	CompleteCashPayment(ctx context.Context, paymentID int64) (*Payment, error)
	// ApplyGatewayOutcome applies a verified gateway callback. It only ever
	// transitions a payment out of pending; replayed or stale callbacks
	// return applied=false and change nothing.
	ApplyGatewayOutcome(ctx context.Context, orderID int64, txnRef string, success bool) (applied bool, err error)

	// RedeemTicket marks the ticket used and the order scanned, atomically,
	// holding row locks so concurrent scans of one code cannot both succeed.
	RedeemTicket(ctx context.Context, code string) (*ticket.Ticket, Status, error)

	ticket.Store
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

// inTx runs fn inside a transaction, committing on nil and rolling back on
// error or panic.
func (r *postgresRepository) inTx(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository: failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Msg("repository: failed to rollback after panic")
			}
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				log.Error().Err(rbErr).Msg("repository: failed to rollback transaction")
			}
			return
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			err = fmt.Errorf("repository: failed to commit transaction: %w", commitErr)
		}
	}()

	err = fn(tx)
	return err
}

func (r *postgresRepository) CreateOrder(ctx context.Context, o *Order, ticketCode string) (*ticket.Ticket, error) {
	var t ticket.Ticket

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		now := time.Now().UTC()

		queryOrder := `
			INSERT INTO orders (user_id, total_price, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $4)
			RETURNING id, created_at, updated_at
		`
		err := tx.QueryRow(ctx, queryOrder, o.UserID, o.TotalPrice, string(o.Status), now).
			Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
		if err != nil {
			return fmt.Errorf("repository: failed to insert order: %w", err)
		}

		queryItem := `
			INSERT INTO order_items (order_id, food_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4)
			RETURNING id
		`
		for i := range o.Items {
			item := &o.Items[i]
			item.OrderID = o.ID
			if err := tx.QueryRow(ctx, queryItem, o.ID, item.FoodID, item.Quantity, item.UnitPrice).Scan(&item.ID); err != nil {
				return fmt.Errorf("repository: failed to insert order item for order %d: %w", o.ID, err)
			}
		}

		queryTicket := `
			INSERT INTO tickets (order_id, code, is_used, issued_at)
			VALUES ($1, $2, false, $3)
			RETURNING id, issued_at
		`
		if err := tx.QueryRow(ctx, queryTicket, o.ID, ticketCode, now).Scan(&t.ID, &t.IssuedAt); err != nil {
			return fmt.Errorf("repository: failed to insert ticket for order %d: %w", o.ID, err)
		}
		t.OrderID = o.ID
		t.Code = ticketCode

		return nil
	})
	if err != nil {
		return nil, err
	}

	return &t, nil
}

func (r *postgresRepository) GetOrder(ctx context.Context, id int64) (*Order, error) {
	queryOrder := `
		SELECT id, user_id, total_price, status, created_at, updated_at
		FROM orders
		WHERE id = $1
	`

	var o Order
	err := r.db.QueryRow(ctx, queryOrder, id).Scan(
		&o.ID, &o.UserID, &o.TotalPrice, &o.Status, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order %d: %w", id, err)
	}

	queryItems := `
		SELECT id, order_id, food_id, quantity, unit_price
		FROM order_items
		WHERE order_id = $1
		ORDER BY id
	`

	rows, err := r.db.Query(ctx, queryItems, id)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query items for order %d: %w", id, err)
	}
	defer rows.Close()

	o.Items = make([]Item, 0)
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.OrderID, &item.FoodID, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, fmt.Errorf("repository: failed to scan item for order %d: %w", id, err)
		}
		o.Items = append(o.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating items for order %d: %w", id, err)
	}

	return &o, nil
}

func (r *postgresRepository) ListOrdersByUser(ctx context.Context, userID int64) ([]Order, error) {
	queryOrders := `
		SELECT id, user_id, total_price, status, created_at, updated_at
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.Query(ctx, queryOrders, userID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query orders for user %d: %w", userID, err)
	}
	defer rows.Close()

	ordersMap := make(map[int64]*Order)
	var orderIDs []int64

	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.TotalPrice, &o.Status, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("repository: failed to scan order for user %d: %w", userID, err)
		}
		o.Items = make([]Item, 0)
		ordersMap[o.ID] = &o
		orderIDs = append(orderIDs, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating orders for user %d: %w", userID, err)
	}

	if len(orderIDs) == 0 {
		return []Order{}, nil
	}

	queryItems := `
		SELECT id, order_id, food_id, quantity, unit_price
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY id
	`

	itemRows, err := r.db.Query(ctx, queryItems, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query items for user %d: %w", userID, err)
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var item Item
		if err := itemRows.Scan(&item.ID, &item.OrderID, &item.FoodID, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, fmt.Errorf("repository: failed to scan item for user %d: %w", userID, err)
		}
		if o, ok := ordersMap[item.OrderID]; ok {
			o.Items = append(o.Items, item)
		}
	}
	if err := itemRows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating items for user %d: %w", userID, err)
	}

	orders := make([]Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		orders = append(orders, *ordersMap[id])
	}

	return orders, nil
}

func (r *postgresRepository) UpdateOrderStatus(ctx context.Context, orderID int64, newStatus Status) error {
	query := `UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3`

	cmdTag, err := r.db.Exec(ctx, query, string(newStatus), time.Now().UTC(), orderID)
	if err != nil {
		return fmt.Errorf("repository: failed to update status for order %d: %w", orderID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

func (r *postgresRepository) DeleteOrder(ctx context.Context, orderID int64) error {
	cmdTag, err := r.db.Exec(ctx, `DELETE FROM orders WHERE id = $1`, orderID)
	if err != nil {
		return fmt.Errorf("repository: failed to delete order %d: %w", orderID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

const paymentColumns = `id, order_id, method, amount, status, txn_ref, created_at, updated_at`

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	var txnRef *string
	err := row.Scan(&p.ID, &p.OrderID, &p.Method, &p.Amount, &p.Status, &txnRef, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if txnRef != nil {
		p.TxnRef = *txnRef
	}
	return &p, nil
}

func (r *postgresRepository) PaymentByID(ctx context.Context, id int64) (*Payment, error) {
	p, err := scanPayment(r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("repository: failed to select payment %d: %w", id, err)
	}
	return p, nil
}

func (r *postgresRepository) PaymentByOrder(ctx context.Context, orderID int64) (*Payment, error) {
	p, err := scanPayment(r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE order_id = $1`, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("repository: failed to select payment for order %d: %w", orderID, err)
	}
	return p, nil
}

func (r *postgresRepository) ReplacePayment(ctx context.Context, p *Payment, advanceTo Status) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM payments WHERE order_id = $1 AND status <> 'completed'`, p.OrderID); err != nil {
			return fmt.Errorf("repository: failed to purge stale payments for order %d: %w", p.OrderID, err)
		}

		var txnRef *string
		if p.TxnRef != "" {
			txnRef = &p.TxnRef
		}

		query := `
			INSERT INTO payments (order_id, method, amount, status, txn_ref, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $6)
			RETURNING id, created_at, updated_at
		`
		err := tx.QueryRow(ctx, query,
			p.OrderID, string(p.Method), p.Amount, string(p.Status), txnRef, time.Now().UTC(),
		).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
				// A completed payment survived the purge: a concurrent
				// attempt finished first.
				return ErrPaymentCompleted
			}
			return fmt.Errorf("repository: failed to insert payment for order %d: %w", p.OrderID, err)
		}

		if advanceTo != "" {
			if _, err := tx.Exec(ctx, `UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3`,
				string(advanceTo), time.Now().UTC(), p.OrderID); err != nil {
				return fmt.Errorf("repository: failed to advance order %d: %w", p.OrderID, err)
			}
		}

		return nil
	})
}

func (r *postgresRepository) CompleteCashPayment(ctx context.Context, paymentID int64) (*Payment, error) {
	var p *Payment

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, paymentID)
		got, err := scanPayment(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrPaymentNotFound
			}
			return fmt.Errorf("repository: failed to lock payment %d: %w", paymentID, err)
		}
		if got.Method != MethodCash {
			return ErrPaymentNotFound
		}
		if got.Status == PaymentCompleted {
			return ErrPaymentCompleted
		}

		now := time.Now().UTC()
		if _, err := tx.Exec(ctx, `UPDATE payments SET status = 'completed', updated_at = $1 WHERE id = $2`, now, paymentID); err != nil {
			return fmt.Errorf("repository: failed to complete payment %d: %w", paymentID, err)
		}

		got.Status = PaymentCompleted
		got.UpdatedAt = now
		p = got
		return nil
	})
	if err != nil {
		return nil, err
	}

	return p, nil
}

func (r *postgresRepository) ApplyGatewayOutcome(ctx context.Context, orderID int64, txnRef string, success bool) (bool, error) {
	applied := false

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`SELECT `+paymentColumns+` FROM payments WHERE order_id = $1 AND txn_ref = $2 FOR UPDATE`,
			orderID, txnRef)
		p, err := scanPayment(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrPaymentNotFound
			}
			return fmt.Errorf("repository: failed to lock payment for order %d: %w", orderID, err)
		}

		// Monotonicity guard: a payment leaves pending exactly once. A
		// replayed or out-of-order callback finds a terminal status and
		// applies nothing.
		if p.Status != PaymentPending {
			return nil
		}

		now := time.Now().UTC()
		if success {
			if _, err := tx.Exec(ctx, `UPDATE payments SET status = 'completed', updated_at = $1 WHERE id = $2`, now, p.ID); err != nil {
				return fmt.Errorf("repository: failed to complete payment %d: %w", p.ID, err)
			}
			if _, err := tx.Exec(ctx, `UPDATE orders SET status = 'completed', updated_at = $1 WHERE id = $2`, now, orderID); err != nil {
				return fmt.Errorf("repository: failed to complete order %d: %w", orderID, err)
			}
		} else {
			if _, err := tx.Exec(ctx, `UPDATE payments SET status = 'cancelled', updated_at = $1 WHERE id = $2`, now, p.ID); err != nil {
				return fmt.Errorf("repository: failed to cancel payment %d: %w", p.ID, err)
			}
		}

		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}

	return applied, nil
}

func (r *postgresRepository) RedeemTicket(ctx context.Context, code string) (*ticket.Ticket, Status, error) {
	var t ticket.Ticket
	var orderStatus Status

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		query := `
			SELECT t.id, t.order_id, t.code, t.is_used, t.issued_at, o.status
			FROM tickets t
			JOIN orders o ON o.id = t.order_id
			WHERE t.code = $1
			FOR UPDATE OF t, o
		`
		err := tx.QueryRow(ctx, query, code).Scan(&t.ID, &t.OrderID, &t.Code, &t.IsUsed, &t.IssuedAt, &orderStatus)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ticket.ErrNotFound
			}
			return fmt.Errorf("repository: failed to lock ticket: %w", err)
		}

		if t.IsUsed || orderStatus == StatusScanned {
			return ErrTicketUsed
		}
		if orderStatus != StatusCompleted {
			return redemptionError(orderStatus)
		}

		cmdTag, err := tx.Exec(ctx, `UPDATE tickets SET is_used = true WHERE id = $1 AND is_used = false`, t.ID)
		if err != nil {
			return fmt.Errorf("repository: failed to mark ticket %d used: %w", t.ID, err)
		}
		if cmdTag.RowsAffected() == 0 {
			return ErrTicketUsed
		}

		if _, err := tx.Exec(ctx, `UPDATE orders SET status = 'scanned', updated_at = $1 WHERE id = $2`,
			time.Now().UTC(), t.OrderID); err != nil {
			return fmt.Errorf("repository: failed to mark order %d scanned: %w", t.OrderID, err)
		}

		t.IsUsed = true
		return nil
	})
	if err != nil {
		return nil, orderStatus, err
	}

	return &t, StatusScanned, nil
}

func (r *postgresRepository) TicketByOrder(ctx context.Context, orderID int64) (*ticket.Ticket, error) {
	query := `SELECT id, order_id, code, is_used, issued_at FROM tickets WHERE order_id = $1`

	var t ticket.Ticket
	err := r.db.QueryRow(ctx, query, orderID).Scan(&t.ID, &t.OrderID, &t.Code, &t.IsUsed, &t.IssuedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ticket.ErrNotFound
		}
		return nil, fmt.Errorf("repository: failed to select ticket for order %d: %w", orderID, err)
	}

	return &t, nil
}

func (r *postgresRepository) InsertTicket(ctx context.Context, orderID int64, code string) (*ticket.Ticket, error) {
	query := `
		INSERT INTO tickets (order_id, code, is_used, issued_at)
		VALUES ($1, $2, false, $3)
		ON CONFLICT (order_id) DO NOTHING
		RETURNING id, order_id, code, is_used, issued_at
	`

	var t ticket.Ticket
	err := r.db.QueryRow(ctx, query, orderID, code, time.Now().UTC()).
		Scan(&t.ID, &t.OrderID, &t.Code, &t.IsUsed, &t.IssuedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Lost the race to a concurrent issue; the existing row wins.
			return r.TicketByOrder(ctx, orderID)
		}
		return nil, fmt.Errorf("repository: failed to insert ticket for order %d: %w", orderID, err)
	}

	return &t, nil
}
