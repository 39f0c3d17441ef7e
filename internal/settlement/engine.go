// Package settlement orchestrates bid acceptance: exclusive marking of
// the winning bid, the listing's terminal transition, the commission
// split and the materialized order, all inside one store transaction.
package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/agrobid/marketplace/internal/apperr"
	"github.com/agrobid/marketplace/internal/bidding"
	"github.com/agrobid/marketplace/internal/models"
)

// DefaultCommissionRate is the platform's cut when configuration does
// not override it.
const DefaultCommissionRate = 0.02

// Store is the persistence surface settlement needs. Implementations
// must run the callback while holding exclusive access to the listing
// and persist everything the callback changed atomically; SettleListing
// additionally creates the returned order in the same unit of work and
// assigns its order number from a serializable per-day counter.
type Store interface {
	MutateListing(ctx context.Context, listingID int, fn func(l *models.Listing) error) (*models.Listing, error)
	SettleListing(ctx context.Context, listingID int, fn func(l *models.Listing) (*models.Order, error)) (*models.Listing, *models.Order, error)
}

// Profiles resolves a user's profile address, used as the delivery
// address for bids on buy-direction listings.
type Profiles interface {
	Address(ctx context.Context, userID int) (models.Address, error)
}

// Notifier is the sink for settlement events. Delivery failures are
// logged, never allowed to fail the settlement itself.
type Notifier interface {
	BidSubmitted(ctx context.Context, listing *models.Listing, bid *models.Bid) error
	BidAccepted(ctx context.Context, order *models.Order) error
	BidRejected(ctx context.Context, listingID, bidderID int) error
}

// Engine wires the validator, the stores and the notification sink.
type Engine struct {
	store    Store
	profiles Profiles
	notifier Notifier
	rate     float64
	log      *slog.Logger

	now func() time.Time
}

// NewEngine creates a settlement engine. A negative rate means "not
// configured" and falls back to the default; zero is a valid
// commission-free configuration.
func NewEngine(store Store, profiles Profiles, notifier Notifier, rate float64, log *slog.Logger) *Engine {
	if rate < 0 {
		rate = DefaultCommissionRate
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		store:    store,
		profiles: profiles,
		notifier: notifier,
		rate:     rate,
		log:      log,
		now:      time.Now,
	}
}

// SubmitBid validates and appends a bid under the listing's lock.
// Returns the updated listing and the stored bid.
func (e *Engine) SubmitBid(ctx context.Context, listingID int, p bidding.Proposal) (*models.Listing, *models.Bid, error) {
	l, err := e.store.MutateListing(ctx, listingID, func(l *models.Listing) error {
		if err := e.checkNotExpired(l); err != nil {
			return err
		}
		var ownerAddr models.Address
		if l.Direction == models.DirectionOfferToBuy {
			addr, err := e.profiles.Address(ctx, l.OwnerID)
			if err != nil {
				return fmt.Errorf("failed to resolve owner address: %w", err)
			}
			ownerAddr = addr
		}

		bid, err := bidding.Validate(l, p, ownerAddr)
		if err != nil {
			return err
		}
		l.Bids = append(l.Bids, bid)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	bid := l.PendingBidBy(p.BidderID)
	if bid == nil {
		return nil, nil, fmt.Errorf("submitted bid missing from listing %d", listingID)
	}

	if err := e.notifier.BidSubmitted(ctx, l, bid); err != nil {
		e.log.Warn("bid-submitted notification failed",
			slog.Int("listing_id", l.ID), slog.Int("bid_id", bid.ID), slog.String("error", err.Error()))
	}
	return l, bid, nil
}

// AcceptBid settles the listing on the given bid, acting on behalf of
// actingUserID, who must be the listing owner. The accepted bid's
// amount replaces the posted price as the per-unit transaction price.
func (e *Engine) AcceptBid(ctx context.Context, listingID, bidID, actingUserID int) (*models.Listing, *models.Order, models.Financials, error) {
	var rejected []int

	l, order, err := e.store.SettleListing(ctx, listingID, func(l *models.Listing) (*models.Order, error) {
		if l.OwnerID != actingUserID {
			return nil, apperr.New(apperr.Authorization, apperr.ReasonNotOwner,
				"only the listing owner may accept a bid")
		}
		if l.Terminal() {
			return nil, apperr.New(apperr.StateConflict, apperr.ReasonListingNotActive,
				fmt.Sprintf("listing %d is %s", l.ID, l.Status))
		}
		if err := e.checkNotExpired(l); err != nil {
			return nil, err
		}
		accepted := l.BidByID(bidID)
		if accepted == nil || accepted.Status != models.BidPending {
			return nil, apperr.New(apperr.NotFound, apperr.ReasonBidNotFound,
				"bid not found or no longer pending")
		}

		now := e.now()
		rejected = rejected[:0]
		for i := range l.Bids {
			switch {
			case l.Bids[i].ID == bidID:
				l.Bids[i].Status = models.BidAccepted
			case l.Bids[i].Status == models.BidPending:
				l.Bids[i].Status = models.BidRejected
				rejected = append(rejected, l.Bids[i].BidderID)
			}
		}

		l.WinningBid = &models.WinningBid{
			BidderID:   accepted.BidderID,
			Amount:     accepted.Amount,
			AcceptedAt: now,
		}
		if l.Direction == models.DirectionOfferToSell {
			l.Status = models.ListingSettledAsSale
		} else {
			l.Status = models.ListingSettledAsPurchase
		}
		l.SettledAt = &now

		total := round2(l.TotalQuantity * accepted.Amount)
		commission := round2(total * e.rate)
		sellerNet := round2(total - commission)
		l.CommissionEarned = commission

		sellerID, buyerID := l.OwnerID, accepted.BidderID
		if l.Direction == models.DirectionOfferToBuy {
			sellerID, buyerID = accepted.BidderID, l.OwnerID
		}

		return &models.Order{
			ListingID:          l.ID,
			SellerID:           sellerID,
			BuyerID:            buyerID,
			Direction:          l.Direction,
			Quantity:           l.TotalQuantity,
			AgreedPricePerUnit: accepted.Amount,
			TotalAmount:        total,
			CommissionAmount:   commission,
			SellerNetAmount:    sellerNet,
			BuyerPaymentAmount: total,
			CommissionRate:     e.rate,
			OrderStatus:        models.OrderProcessing,
			DeliveryStatus:     models.DeliveryPending,
			PaymentStatus:      models.PaymentPending,
			DeliveryAddress:    accepted.DeliveryAddress,
		}, nil
	})
	if err != nil {
		return nil, nil, models.Financials{}, err
	}

	e.log.Info("listing settled",
		slog.Int("listing_id", l.ID),
		slog.String("order_number", order.OrderNumber),
		slog.Float64("total_amount", order.TotalAmount),
		slog.Float64("commission_amount", order.CommissionAmount))

	if err := e.notifier.BidAccepted(ctx, order); err != nil {
		e.log.Warn("bid-accepted notification failed",
			slog.String("order_number", order.OrderNumber), slog.String("error", err.Error()))
	}
	for _, bidderID := range rejected {
		if err := e.notifier.BidRejected(ctx, l.ID, bidderID); err != nil {
			e.log.Warn("bid-rejected notification failed",
				slog.Int("listing_id", l.ID), slog.Int("bidder_id", bidderID), slog.String("error", err.Error()))
		}
	}

	fin := models.Financials{
		TotalAmount:      order.TotalAmount,
		CommissionAmount: order.CommissionAmount,
		SellerNetAmount:  order.SellerNetAmount,
	}
	return l, order, fin, nil
}

// CancelListing withdraws an active listing. Owner only. Every pending
// bid is rejected in the same write.
func (e *Engine) CancelListing(ctx context.Context, listingID, actingUserID int) (*models.Listing, error) {
	var rejected []int
	l, err := e.store.MutateListing(ctx, listingID, func(l *models.Listing) error {
		if l.OwnerID != actingUserID {
			return apperr.New(apperr.Authorization, apperr.ReasonNotOwner,
				"only the listing owner may cancel it")
		}
		if l.Terminal() {
			return apperr.New(apperr.StateConflict, apperr.ReasonListingNotActive,
				fmt.Sprintf("listing %d is %s", l.ID, l.Status))
		}
		l.Status = models.ListingCancelled
		for i := range l.Bids {
			if l.Bids[i].Status == models.BidPending {
				l.Bids[i].Status = models.BidRejected
				rejected = append(rejected, l.Bids[i].BidderID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, bidderID := range rejected {
		if err := e.notifier.BidRejected(ctx, l.ID, bidderID); err != nil {
			e.log.Warn("bid-rejected notification failed",
				slog.Int("listing_id", l.ID), slog.Int("bidder_id", bidderID), slog.String("error", err.Error()))
		}
	}
	return l, nil
}

// checkNotExpired rejects mutations on a listing whose deadline has
// passed but whose row the periodic sweep has not yet transitioned.
// Runs under the listing's lock, so a bid can never slip in between
// the deadline and the sweep.
func (e *Engine) checkNotExpired(l *models.Listing) error {
	if l.Status == models.ListingActive && l.ExpiresAt != nil && !l.ExpiresAt.After(e.now()) {
		return apperr.New(apperr.StateConflict, apperr.ReasonListingNotActive,
			fmt.Sprintf("listing %d expired at %s", l.ID, l.ExpiresAt.Format(time.RFC3339)))
	}
	return nil
}

// round2 rounds to cents with standard half-away-from-zero rounding,
// not truncation.
func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
