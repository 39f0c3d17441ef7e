package bidding

import (
	"testing"

	"github.com/agrobid/marketplace/internal/apperr"
	"github.com/agrobid/marketplace/internal/models"
)

var completeAddr = models.Address{
	Street: "1 Farm Rd", City: "Davis", State: "CA", PostalCode: "95616",
}

func sellListing() *models.Listing {
	return &models.Listing{
		ID:                 1,
		OwnerID:            10,
		Direction:          models.DirectionOfferToSell,
		PostedPricePerUnit: 50,
		TotalQuantity:      100,
		Status:             models.ListingActive,
	}
}

func buyListing() *models.Listing {
	l := sellListing()
	l.Direction = models.DirectionOfferToBuy
	return l
}

func TestValidate_PriceRules(t *testing.T) {
	tests := []struct {
		name       string
		listing    *models.Listing
		amount     float64
		wantReason string
	}{
		{"sell: above posted price ok", sellListing(), 55, ""},
		{"sell: equal to posted price rejected", sellListing(), 50, apperr.ReasonBidTooLow},
		{"sell: below posted price rejected", sellListing(), 45, apperr.ReasonBidTooLow},
		{"buy: below posted price ok", buyListing(), 45, ""},
		{"buy: equal to posted price rejected", buyListing(), 50, apperr.ReasonBidTooHigh},
		{"buy: above posted price rejected", buyListing(), 55, apperr.ReasonBidTooHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Proposal{BidderID: 20, Amount: tt.amount, DeliveryAddress: completeAddr}
			_, err := Validate(tt.listing, p, completeAddr)
			checkReason(t, err, tt.wantReason)
		})
	}
}

func TestValidate_ListingNotActive(t *testing.T) {
	for _, status := range []string{
		models.ListingSettledAsSale, models.ListingSettledAsPurchase,
		models.ListingExpired, models.ListingCancelled,
	} {
		l := sellListing()
		l.Status = status
		_, err := Validate(l, Proposal{BidderID: 20, Amount: 55, DeliveryAddress: completeAddr}, models.Address{})
		checkReason(t, err, apperr.ReasonListingNotActive)
		if !apperr.IsKind(err, apperr.StateConflict) {
			t.Errorf("status %s: expected StateConflict kind", status)
		}
	}
}

func TestValidate_SelfBidForbidden(t *testing.T) {
	l := sellListing()
	// Amount would pass the price rule; self-bid must still lose.
	_, err := Validate(l, Proposal{BidderID: l.OwnerID, Amount: 999, DeliveryAddress: completeAddr}, models.Address{})
	checkReason(t, err, apperr.ReasonSelfBidForbidden)
}

func TestValidate_DuplicatePendingBid(t *testing.T) {
	l := sellListing()
	l.Bids = []models.Bid{{ID: 1, BidderID: 20, Amount: 52, Status: models.BidPending}}

	_, err := Validate(l, Proposal{BidderID: 20, Amount: 60, DeliveryAddress: completeAddr}, models.Address{})
	checkReason(t, err, apperr.ReasonDuplicatePendingBid)

	// Once the earlier bid resolved, the same bidder may bid again.
	l.Bids[0].Status = models.BidRejected
	bid, err := Validate(l, Proposal{BidderID: 20, Amount: 60, DeliveryAddress: completeAddr}, models.Address{})
	if err != nil {
		t.Fatalf("expected re-bid after rejection to pass, got %v", err)
	}
	if bid.Status != models.BidPending {
		t.Errorf("expected pending bid, got %s", bid.Status)
	}
}

func TestValidate_DeliveryAddressRules(t *testing.T) {
	incomplete := models.Address{Street: "1 Farm Rd", City: "Davis"}

	// Sell direction: bidder is the buyer and must supply the address.
	_, err := Validate(sellListing(), Proposal{BidderID: 20, Amount: 55, DeliveryAddress: incomplete}, models.Address{})
	checkReason(t, err, apperr.ReasonAddressIncomplete)

	// Buy direction: address derives from the owner's profile, the
	// bidder's own address is ignored entirely.
	bid, err := Validate(buyListing(), Proposal{BidderID: 20, Amount: 45}, completeAddr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bid.DeliveryAddress != completeAddr {
		t.Errorf("expected owner profile address, got %+v", bid.DeliveryAddress)
	}

	// Buy direction with an incomplete owner profile.
	_, err = Validate(buyListing(), Proposal{BidderID: 20, Amount: 45}, incomplete)
	checkReason(t, err, apperr.ReasonOwnerAddressIncomplete)
}

func TestValidate_Defaults(t *testing.T) {
	bid, err := Validate(sellListing(), Proposal{BidderID: 20, Amount: 55, DeliveryAddress: completeAddr}, models.Address{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bid.PaymentMethod != models.DefaultPaymentMethod {
		t.Errorf("expected default payment method, got %q", bid.PaymentMethod)
	}

	bid, err = Validate(sellListing(), Proposal{BidderID: 20, Amount: 55, DeliveryAddress: completeAddr, PaymentMethod: "bank_transfer"}, models.Address{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bid.PaymentMethod != "bank_transfer" {
		t.Errorf("expected explicit payment method to stick, got %q", bid.PaymentMethod)
	}
}

func TestValidate_RuleOrder(t *testing.T) {
	// A closed listing with a self-bid at a bad price must report the
	// status problem, not the later rules.
	l := sellListing()
	l.Status = models.ListingCancelled
	_, err := Validate(l, Proposal{BidderID: l.OwnerID, Amount: 1}, models.Address{})
	checkReason(t, err, apperr.ReasonListingNotActive)
}

func checkReason(t *testing.T, err error, want string) {
	t.Helper()
	if want == "" {
		if err != nil {
			t.Fatalf("expected success, got %v", err)
		}
		return
	}
	e := apperr.As(err)
	if e == nil {
		t.Fatalf("expected reason %q, got %v", want, err)
	}
	if e.Reason != want {
		t.Fatalf("expected reason %q, got %q", want, e.Reason)
	}
}
