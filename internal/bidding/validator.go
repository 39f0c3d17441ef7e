// Package bidding holds the pure decision logic for bid submission.
// It never touches storage; callers run it while holding the listing's
// row lock so the duplicate-pending check cannot race.
package bidding

import (
	"fmt"

	"github.com/agrobid/marketplace/internal/apperr"
	"github.com/agrobid/marketplace/internal/models"
)

// Proposal is a bid as submitted, before validation resolves its
// delivery address and payment method.
type Proposal struct {
	BidderID        int
	Amount          float64
	DeliveryAddress models.Address
	PaymentMethod   string
}

// Validate checks a proposed bid against the listing, in order, first
// failure wins:
//
//  1. listing must be active
//  2. bidder must not be the listing owner
//  3. direction-dependent price rule (strict inequality)
//  4. bidder must not already hold a pending bid
//  5. delivery address rule by direction
//
// ownerAddress is the listing owner's profile address; it is only
// consulted for buy-direction listings, where delivery goes to the
// owner. On success the returned bid is pending, with the resolved
// address and a defaulted payment method, ready to append.
func Validate(listing *models.Listing, p Proposal, ownerAddress models.Address) (models.Bid, error) {
	if listing.Terminal() {
		return models.Bid{}, apperr.New(apperr.StateConflict, apperr.ReasonListingNotActive,
			fmt.Sprintf("listing %d is %s, bids are only accepted on active listings", listing.ID, listing.Status))
	}

	if p.BidderID == listing.OwnerID {
		return models.Bid{}, apperr.New(apperr.Validation, apperr.ReasonSelfBidForbidden,
			"you cannot bid on your own listing")
	}

	switch listing.Direction {
	case models.DirectionOfferToSell:
		if p.Amount <= listing.PostedPricePerUnit {
			return models.Bid{}, apperr.New(apperr.Validation, apperr.ReasonBidTooLow,
				fmt.Sprintf("bid must exceed the posted price of %.2f per unit", listing.PostedPricePerUnit))
		}
	case models.DirectionOfferToBuy:
		if p.Amount >= listing.PostedPricePerUnit {
			return models.Bid{}, apperr.New(apperr.Validation, apperr.ReasonBidTooHigh,
				fmt.Sprintf("bid must be below the posted price of %.2f per unit", listing.PostedPricePerUnit))
		}
	default:
		return models.Bid{}, apperr.New(apperr.Internal, apperr.ReasonInvalidInput,
			fmt.Sprintf("listing %d has unknown direction %q", listing.ID, listing.Direction))
	}

	if listing.PendingBidBy(p.BidderID) != nil {
		return models.Bid{}, apperr.New(apperr.StateConflict, apperr.ReasonDuplicatePendingBid,
			"you already have a pending bid on this listing")
	}

	addr, err := resolveDeliveryAddress(listing, p.DeliveryAddress, ownerAddress)
	if err != nil {
		return models.Bid{}, err
	}

	method := p.PaymentMethod
	if method == "" {
		method = models.DefaultPaymentMethod
	}

	return models.Bid{
		ListingID:       listing.ID,
		BidderID:        p.BidderID,
		Amount:          p.Amount,
		Status:          models.BidPending,
		DeliveryAddress: addr,
		PaymentMethod:   method,
	}, nil
}

// resolveDeliveryAddress picks the address goods ship to. On a sell
// listing the bidder is the buyer and must supply a complete address.
// On a buy listing the owner is the buyer, so the address comes from
// their profile.
func resolveDeliveryAddress(listing *models.Listing, provided, ownerAddress models.Address) (models.Address, error) {
	switch listing.Direction {
	case models.DirectionOfferToSell:
		if !provided.Complete() {
			return models.Address{}, apperr.New(apperr.Validation, apperr.ReasonAddressIncomplete,
				"delivery address requires street, city, state and postal code")
		}
		return provided, nil
	default:
		if !ownerAddress.Complete() {
			return models.Address{}, apperr.New(apperr.StateConflict, apperr.ReasonOwnerAddressIncomplete,
				"the listing owner has not completed their profile address")
		}
		return ownerAddress, nil
	}
}
