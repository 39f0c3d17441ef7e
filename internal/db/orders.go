package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agrobid/marketplace/internal/apperr"
	"github.com/agrobid/marketplace/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const orderColumns = `id, order_number, listing_id, seller_id, buyer_id, direction, quantity,
	agreed_price_per_unit, total_amount, commission_amount, seller_net_amount,
	buyer_payment_amount, commission_rate, order_status, delivery_status, payment_status,
	street, city, state, postal_code, rating, review,
	created_at, delivered_at, cancelled_at, reviewed_at`

func scanOrder(row pgx.Row) (*models.Order, error) {
	o := &models.Order{}
	err := row.Scan(&o.ID, &o.OrderNumber, &o.ListingID, &o.SellerID, &o.BuyerID, &o.Direction,
		&o.Quantity, &o.AgreedPricePerUnit, &o.TotalAmount, &o.CommissionAmount,
		&o.SellerNetAmount, &o.BuyerPaymentAmount, &o.CommissionRate,
		&o.OrderStatus, &o.DeliveryStatus, &o.PaymentStatus,
		&o.DeliveryAddress.Street, &o.DeliveryAddress.City, &o.DeliveryAddress.State,
		&o.DeliveryAddress.PostalCode, &o.Rating, &o.Review,
		&o.CreatedAt, &o.DeliveredAt, &o.CancelledAt, &o.ReviewedAt)
	if err != nil {
		return nil, err
	}
	return o, nil
}

// SettleListing runs fn against the locked listing aggregate, then
// persists the mutated listing and inserts the order fn returned as a
// single transaction. The order number is assigned here, from a per-day
// counter incremented inside the same transaction, so concurrent
// settlements can never share a number. A unique-index collision on the
// order number (possible after manual sequence repair) retries the
// whole transaction with a fresh count.
func (db *DB) SettleListing(ctx context.Context, listingID int, fn func(l *models.Listing) (*models.Order, error)) (*models.Listing, *models.Order, error) {
	const maxAttempts = 3
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		l, o, err := db.settleOnce(ctx, listingID, fn)
		if err == nil {
			return l, o, nil
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "orders_order_number_key" {
			lastErr = err
			continue
		}
		return nil, nil, err
	}
	return nil, nil, apperr.Wrap(apperr.ConcurrencyConflict, apperr.ReasonWriteConflict,
		"order number allocation kept colliding", lastErr)
}

func (db *DB) settleOnce(ctx context.Context, listingID int, fn func(l *models.Listing) (*models.Order, error)) (*models.Listing, *models.Order, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var order *models.Order
	l, err := db.mutateListingTx(ctx, tx, listingID, func(l *models.Listing) error {
		var err error
		order, err = fn(l)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	day := time.Now().In(db.loc)
	seq, err := nextOrderSequence(ctx, tx, day)
	if err != nil {
		return nil, nil, err
	}
	order.OrderNumber = FormatOrderNumber(day, seq)

	created, err := insertOrder(ctx, tx, order)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		// The listing mutation and the order travel in one transaction,
		// so a failed commit persists neither. An ambiguous commit still
		// needs an operator to confirm, which is what the audit query in
		// FindUnreconciledSettlements is for.
		return nil, nil, apperr.Wrap(apperr.Reconciliation, apperr.ReasonSettlementIncomplete,
			fmt.Sprintf("settlement commit for listing %d did not complete; verify against the reconciliation audit before retrying", listingID), err)
	}
	return l, created, nil
}

// nextOrderSequence serializably increments the per-day order counter.
// The upsert takes a row lock on the day's counter, so concurrent
// settlements queue up and each sees a distinct value.
func nextOrderSequence(ctx context.Context, tx pgx.Tx, day time.Time) (int, error) {
	var seq int
	err := tx.QueryRow(ctx,
		`INSERT INTO order_sequences (day, seq) VALUES ($1, 1)
		 ON CONFLICT (day) DO UPDATE SET seq = order_sequences.seq + 1
		 RETURNING seq`, day.Format("2006-01-02")).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to advance order sequence: %w", err)
	}
	return seq, nil
}

// FormatOrderNumber renders the public order number for a calendar day
// and its 1-indexed sequence value.
func FormatOrderNumber(day time.Time, seq int) string {
	return fmt.Sprintf("ORD-%s-%04d", day.Format("20060102"), seq)
}

func insertOrder(ctx context.Context, tx pgx.Tx, o *models.Order) (*models.Order, error) {
	row := tx.QueryRow(ctx,
		`INSERT INTO orders (order_number, listing_id, seller_id, buyer_id, direction, quantity,
		                     agreed_price_per_unit, total_amount, commission_amount, seller_net_amount,
		                     buyer_payment_amount, commission_rate, order_status, delivery_status,
		                     payment_status, street, city, state, postal_code)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		 RETURNING `+orderColumns,
		o.OrderNumber, o.ListingID, o.SellerID, o.BuyerID, o.Direction, o.Quantity,
		o.AgreedPricePerUnit, o.TotalAmount, o.CommissionAmount, o.SellerNetAmount,
		o.BuyerPaymentAmount, o.CommissionRate, o.OrderStatus, o.DeliveryStatus,
		o.PaymentStatus, o.DeliveryAddress.Street, o.DeliveryAddress.City,
		o.DeliveryAddress.State, o.DeliveryAddress.PostalCode)
	created, err := scanOrder(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	return created, nil
}

// GetOrder retrieves a single order.
func (db *DB) GetOrder(ctx context.Context, id int) (*models.Order, error) {
	o, err := scanOrder(db.Pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, apperr.ReasonOrderNotFound, "order not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return o, nil
}

// GetUserOrders retrieves every order where the user is a counterparty,
// newest first.
func (db *DB) GetUserOrders(ctx context.Context, userID int) ([]models.Order, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE seller_id = $1 OR buyer_id = $1
		 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

// MutateOrder runs fn against the order while holding its row lock and
// persists the mutable fields: the three statuses, the lifecycle
// timestamps and the review. Financial fields are never written back.
func (db *DB) MutateOrder(ctx context.Context, orderID int, fn func(o *models.Order) error) (*models.Order, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	o, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, apperr.ReasonOrderNotFound, "order not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	if err := fn(o); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE orders
		 SET order_status = $1, delivery_status = $2, payment_status = $3,
		     rating = $4, review = $5,
		     delivered_at = $6, cancelled_at = $7, reviewed_at = $8
		 WHERE id = $9`,
		o.OrderStatus, o.DeliveryStatus, o.PaymentStatus,
		o.Rating, o.Review, o.DeliveredAt, o.CancelledAt, o.ReviewedAt, o.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to update order: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return o, nil
}

// FindUnreconciledSettlements is the audit query behind the
// reconciliation path: settled listings that have no order row. A
// non-empty result means a settlement half-landed and needs operator
// attention; it must never be repaired by re-running acceptance.
func (db *DB) FindUnreconciledSettlements(ctx context.Context) ([]models.Listing, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT l.id, l.owner_id, l.direction, l.product, l.unit, l.posted_price_per_unit,
		        l.total_quantity, l.status, l.settled_at, l.commission_earned, l.created_at, l.expires_at
		 FROM listings l
		 LEFT JOIN orders o ON o.listing_id = l.id
		 WHERE l.status IN ('settled_as_sale', 'settled_as_purchase') AND o.id IS NULL
		 ORDER BY l.settled_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to run reconciliation audit: %w", err)
	}
	defer rows.Close()

	var listings []models.Listing
	for rows.Next() {
		var l models.Listing
		if err := rows.Scan(&l.ID, &l.OwnerID, &l.Direction, &l.Product, &l.Unit,
			&l.PostedPricePerUnit, &l.TotalQuantity, &l.Status,
			&l.SettledAt, &l.CommissionEarned, &l.CreatedAt, &l.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan listing: %w", err)
		}
		listings = append(listings, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return listings, nil
}
