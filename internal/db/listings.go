package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agrobid/marketplace/internal/apperr"
	"github.com/agrobid/marketplace/internal/models"

	"github.com/jackc/pgx/v5"
)

// CreateListing inserts a new active listing.
func (db *DB) CreateListing(ctx context.Context, l *models.Listing) (*models.Listing, error) {
	if l.Direction != models.DirectionOfferToSell && l.Direction != models.DirectionOfferToBuy {
		return nil, apperr.New(apperr.Validation, apperr.ReasonInvalidInput,
			"direction must be 'offer_to_sell' or 'offer_to_buy'")
	}
	if l.PostedPricePerUnit <= 0 {
		return nil, apperr.New(apperr.Validation, apperr.ReasonInvalidInput, "price must be positive")
	}
	if l.TotalQuantity <= 0 {
		return nil, apperr.New(apperr.Validation, apperr.ReasonInvalidInput, "quantity must be positive")
	}
	if l.Product == "" {
		return nil, apperr.New(apperr.Validation, apperr.ReasonInvalidInput, "product is required")
	}
	if l.Unit == "" {
		l.Unit = "kg"
	}

	created := &models.Listing{}
	err := db.Pool.QueryRow(ctx,
		`INSERT INTO listings (owner_id, direction, product, unit, posted_price_per_unit, total_quantity, status, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, owner_id, direction, product, unit, posted_price_per_unit, total_quantity,
		           status, settled_at, commission_earned, created_at, expires_at`,
		l.OwnerID, l.Direction, l.Product, l.Unit, l.PostedPricePerUnit, l.TotalQuantity,
		models.ListingActive, l.ExpiresAt).
		Scan(&created.ID, &created.OwnerID, &created.Direction, &created.Product, &created.Unit,
			&created.PostedPricePerUnit, &created.TotalQuantity, &created.Status,
			&created.SettledAt, &created.CommissionEarned, &created.CreatedAt, &created.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create listing: %w", err)
	}
	return created, nil
}

// GetListing retrieves a listing aggregate, bids included, outside any
// transaction. Use MutateListing for read-validate-write sequences.
func (db *DB) GetListing(ctx context.Context, id int) (*models.Listing, error) {
	l, err := loadListing(ctx, db.Pool, id, false)
	if err != nil {
		return nil, err
	}
	l.Bids, err = loadBids(ctx, db.Pool, id)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// querier is satisfied by both pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadListing(ctx context.Context, q querier, id int, forUpdate bool) (*models.Listing, error) {
	query := `SELECT id, owner_id, direction, product, unit, posted_price_per_unit, total_quantity,
	                 status, winning_bidder_id, winning_amount, winning_accepted_at,
	                 settled_at, commission_earned, created_at, expires_at
	          FROM listings WHERE id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}

	l := &models.Listing{}
	var winBidder *int
	var winAmount *float64
	var winAccepted *time.Time
	err := q.QueryRow(ctx, query, id).Scan(
		&l.ID, &l.OwnerID, &l.Direction, &l.Product, &l.Unit,
		&l.PostedPricePerUnit, &l.TotalQuantity, &l.Status,
		&winBidder, &winAmount, &winAccepted,
		&l.SettledAt, &l.CommissionEarned, &l.CreatedAt, &l.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, apperr.ReasonListingNotFound, "listing not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get listing: %w", err)
	}
	if winBidder != nil && winAmount != nil && winAccepted != nil {
		l.WinningBid = &models.WinningBid{BidderID: *winBidder, Amount: *winAmount, AcceptedAt: *winAccepted}
	}
	return l, nil
}

func loadBids(ctx context.Context, q querier, listingID int) ([]models.Bid, error) {
	rows, err := q.Query(ctx,
		`SELECT id, listing_id, bidder_id, amount, status, street, city, state, postal_code, payment_method, submitted_at
		 FROM bids WHERE listing_id = $1 ORDER BY submitted_at ASC, id ASC`, listingID)
	if err != nil {
		return nil, fmt.Errorf("failed to get bids: %w", err)
	}
	defer rows.Close()

	var bids []models.Bid
	for rows.Next() {
		var b models.Bid
		if err := rows.Scan(&b.ID, &b.ListingID, &b.BidderID, &b.Amount, &b.Status,
			&b.DeliveryAddress.Street, &b.DeliveryAddress.City, &b.DeliveryAddress.State,
			&b.DeliveryAddress.PostalCode, &b.PaymentMethod, &b.SubmittedAt); err != nil {
			return nil, fmt.Errorf("failed to scan bid: %w", err)
		}
		bids = append(bids, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return bids, nil
}

// MutateListing runs fn against the listing aggregate while holding its
// row lock, then persists whatever fn changed (new bids, bid status
// changes, listing fields) in the same transaction. Either everything
// fn did is persisted or nothing is.
func (db *DB) MutateListing(ctx context.Context, listingID int, fn func(l *models.Listing) error) (*models.Listing, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	l, err := db.mutateListingTx(ctx, tx, listingID, fn)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return l, nil
}

func (db *DB) mutateListingTx(ctx context.Context, tx pgx.Tx, listingID int, fn func(l *models.Listing) error) (*models.Listing, error) {
	l, err := loadListing(ctx, tx, listingID, true)
	if err != nil {
		return nil, err
	}
	l.Bids, err = loadBids(ctx, tx, listingID)
	if err != nil {
		return nil, err
	}

	before := make(map[int]string, len(l.Bids))
	for _, b := range l.Bids {
		before[b.ID] = b.Status
	}

	if err := fn(l); err != nil {
		return nil, err
	}

	for i := range l.Bids {
		b := &l.Bids[i]
		if b.ID == 0 {
			err := tx.QueryRow(ctx,
				`INSERT INTO bids (listing_id, bidder_id, amount, status, street, city, state, postal_code, payment_method)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
				 RETURNING id, submitted_at`,
				b.ListingID, b.BidderID, b.Amount, b.Status,
				b.DeliveryAddress.Street, b.DeliveryAddress.City, b.DeliveryAddress.State,
				b.DeliveryAddress.PostalCode, b.PaymentMethod).
				Scan(&b.ID, &b.SubmittedAt)
			if err != nil {
				return nil, fmt.Errorf("failed to insert bid: %w", err)
			}
			continue
		}
		if before[b.ID] != b.Status {
			if _, err := tx.Exec(ctx, `UPDATE bids SET status = $1 WHERE id = $2`, b.Status, b.ID); err != nil {
				return nil, fmt.Errorf("failed to update bid %d: %w", b.ID, err)
			}
		}
	}

	var winBidder *int
	var winAmount *float64
	var winAccepted *time.Time
	if l.WinningBid != nil {
		winBidder = &l.WinningBid.BidderID
		winAmount = &l.WinningBid.Amount
		winAccepted = &l.WinningBid.AcceptedAt
	}
	_, err = tx.Exec(ctx,
		`UPDATE listings
		 SET status = $1, winning_bidder_id = $2, winning_amount = $3, winning_accepted_at = $4,
		     settled_at = $5, commission_earned = $6, expires_at = $7
		 WHERE id = $8`,
		l.Status, winBidder, winAmount, winAccepted, l.SettledAt, l.CommissionEarned, l.ExpiresAt, l.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to update listing: %w", err)
	}

	return l, nil
}

// ListBidsForUser returns every bid the user has submitted, newest
// first, paired with a summary of the listing it targets. Read-only.
func (db *DB) ListBidsForUser(ctx context.Context, userID int) ([]models.UserBid, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT b.id, b.listing_id, b.bidder_id, b.amount, b.status,
		        b.street, b.city, b.state, b.postal_code, b.payment_method, b.submitted_at,
		        l.id, l.owner_id, l.direction, l.product, l.posted_price_per_unit, l.total_quantity, l.status
		 FROM bids b
		 JOIN listings l ON l.id = b.listing_id
		 WHERE b.bidder_id = $1
		 ORDER BY b.submitted_at DESC, b.id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user bids: %w", err)
	}
	defer rows.Close()

	var out []models.UserBid
	for rows.Next() {
		var ub models.UserBid
		b := &ub.Bid
		s := &ub.Listing
		if err := rows.Scan(&b.ID, &b.ListingID, &b.BidderID, &b.Amount, &b.Status,
			&b.DeliveryAddress.Street, &b.DeliveryAddress.City, &b.DeliveryAddress.State,
			&b.DeliveryAddress.PostalCode, &b.PaymentMethod, &b.SubmittedAt,
			&s.ID, &s.OwnerID, &s.Direction, &s.Product, &s.PostedPricePerUnit,
			&s.TotalQuantity, &s.Status); err != nil {
			return nil, fmt.Errorf("failed to scan user bid: %w", err)
		}
		ub.IsWinner = b.Status == models.BidAccepted
		out = append(out, ub)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetOpenListings retrieves active listings, newest first.
func (db *DB) GetOpenListings(ctx context.Context) ([]models.Listing, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT id, owner_id, direction, product, unit, posted_price_per_unit, total_quantity,
		        status, settled_at, commission_earned, created_at, expires_at
		 FROM listings WHERE status = 'active' ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to get listings: %w", err)
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

// ExpireDueListings transitions active listings whose expiry has
// passed. Pending bids on them are rejected in the same statement
// batch. Returns the number of listings expired.
func (db *DB) ExpireDueListings(ctx context.Context, now time.Time) (int, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE listings SET status = 'expired'
		 WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire listings: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE bids SET status = 'rejected'
		 WHERE status = 'pending'
		   AND listing_id IN (SELECT id FROM listings WHERE status = 'expired')`); err != nil {
		return 0, fmt.Errorf("failed to reject bids on expired listings: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
