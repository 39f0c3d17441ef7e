package models

import "time"

// Listing direction: whether the owner is offering to sell goods or
// offering to buy them. Direction decides bid comparison polarity and
// which side supplies the delivery address.
const (
	DirectionOfferToSell = "offer_to_sell"
	DirectionOfferToBuy  = "offer_to_buy"
)

// Listing lifecycle statuses. Transitions are forward-only: a listing
// leaves "active" exactly once and never returns.
const (
	ListingActive            = "active"
	ListingSettledAsSale     = "settled_as_sale"
	ListingSettledAsPurchase = "settled_as_purchase"
	ListingExpired           = "expired"
	ListingCancelled         = "cancelled"
)

// Bid statuses.
const (
	BidPending  = "pending"
	BidAccepted = "accepted"
	BidRejected = "rejected"
)

// Order statuses.
const (
	OrderProcessing = "processing"
	OrderCompleted  = "completed"
	OrderCancelled  = "cancelled"
	OrderRefunded   = "refunded"
)

// Delivery statuses.
const (
	DeliveryPending        = "pending"
	DeliveryConfirmed      = "confirmed"
	DeliveryShipped        = "shipped"
	DeliveryOutForDelivery = "out_for_delivery"
	DeliveryDelivered      = "delivered"
	DeliveryCancelled      = "cancelled"
)

// Payment statuses.
const (
	PaymentPending  = "pending"
	PaymentPaid     = "paid"
	PaymentFailed   = "failed"
	PaymentRefunded = "refunded"
)

// User roles.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// DefaultPaymentMethod is applied when a bid does not name one.
const DefaultPaymentMethod = "cash_on_delivery"

// Address is a delivery or profile address. All four fields must be
// non-empty for the address to count as complete.
type Address struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
}

// Complete reports whether every field is filled in.
func (a Address) Complete() bool {
	return a.Street != "" && a.City != "" && a.State != "" && a.PostalCode != ""
}

// User represents a registered user. ProfileAddress is used as the
// delivery address for bids on buy-direction listings.
type User struct {
	ID             int       `json:"id"`
	Username       string    `json:"username"`
	PasswordHash   string    `json:"-"`
	Role           string    `json:"role"`
	ProfileAddress Address   `json:"profile_address"`
	CreatedAt      time.Time `json:"created_at"`
}

// WinningBid records the accepted bid on a settled listing.
type WinningBid struct {
	BidderID   int       `json:"bidder_id"`
	Amount     float64   `json:"amount"`
	AcceptedAt time.Time `json:"accepted_at"`
}

// Listing is a posted offer to sell or buy a quantity of goods at a
// per-unit price. Bids live in their own table keyed by listing ID and
// are loaded alongside the listing when the aggregate is needed.
type Listing struct {
	ID                 int         `json:"id"`
	OwnerID            int         `json:"owner_id"`
	Direction          string      `json:"direction"`
	Product            string      `json:"product"`
	PostedPricePerUnit float64     `json:"posted_price_per_unit"`
	TotalQuantity      float64     `json:"total_quantity"`
	Unit               string      `json:"unit"`
	Status             string      `json:"status"`
	WinningBid         *WinningBid `json:"winning_bid,omitempty"`
	SettledAt          *time.Time  `json:"settled_at,omitempty"`
	CommissionEarned   float64     `json:"commission_earned"`
	Bids               []Bid       `json:"bids,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
	ExpiresAt          *time.Time  `json:"expires_at,omitempty"`
}

// Settled reports whether the listing reached a settled terminal state.
func (l *Listing) Settled() bool {
	return l.Status == ListingSettledAsSale || l.Status == ListingSettledAsPurchase
}

// Terminal reports whether the listing left its active state.
func (l *Listing) Terminal() bool {
	return l.Status != ListingActive
}

// BidByID returns the bid with the given ID, or nil.
func (l *Listing) BidByID(bidID int) *Bid {
	for i := range l.Bids {
		if l.Bids[i].ID == bidID {
			return &l.Bids[i]
		}
	}
	return nil
}

// PendingBidBy returns the bidder's pending bid on this listing, or nil.
func (l *Listing) PendingBidBy(bidderID int) *Bid {
	for i := range l.Bids {
		if l.Bids[i].BidderID == bidderID && l.Bids[i].Status == BidPending {
			return &l.Bids[i]
		}
	}
	return nil
}

// Bid is a counter-offer submitted against a listing by a non-owner.
// Amount is always the proposed per-unit price.
type Bid struct {
	ID              int       `json:"id"`
	ListingID       int       `json:"listing_id"`
	BidderID        int       `json:"bidder_id"`
	Amount          float64   `json:"amount"`
	Status          string    `json:"status"`
	DeliveryAddress Address   `json:"delivery_address"`
	PaymentMethod   string    `json:"payment_method"`
	SubmittedAt     time.Time `json:"submitted_at"`
}

// Order is the immutable financial and delivery record produced by
// settlement. Financial fields never change after creation; only the
// three status fields, the delivery/cancel timestamps and the
// write-once review fields mutate.
type Order struct {
	ID                 int        `json:"id"`
	OrderNumber        string     `json:"order_number"`
	ListingID          int        `json:"listing_id"`
	SellerID           int        `json:"seller_id"`
	BuyerID            int        `json:"buyer_id"`
	Direction          string     `json:"direction"`
	Quantity           float64    `json:"quantity"`
	AgreedPricePerUnit float64    `json:"agreed_price_per_unit"`
	TotalAmount        float64    `json:"total_amount"`
	CommissionAmount   float64    `json:"commission_amount"`
	SellerNetAmount    float64    `json:"seller_net_amount"`
	BuyerPaymentAmount float64    `json:"buyer_payment_amount"`
	CommissionRate     float64    `json:"commission_rate"`
	OrderStatus        string     `json:"order_status"`
	DeliveryStatus     string     `json:"delivery_status"`
	PaymentStatus      string     `json:"payment_status"`
	DeliveryAddress    Address    `json:"delivery_address"`
	Rating             *int       `json:"rating,omitempty"`
	Review             *string    `json:"review,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	DeliveredAt        *time.Time `json:"delivered_at,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	ReviewedAt         *time.Time `json:"reviewed_at,omitempty"`
}

// Counterparty reports whether userID is the seller or buyer of record.
func (o *Order) Counterparty(userID int) bool {
	return userID == o.SellerID || userID == o.BuyerID
}

// Financials is the summary returned alongside a freshly settled order.
type Financials struct {
	TotalAmount      float64 `json:"total_amount"`
	CommissionAmount float64 `json:"commission_amount"`
	SellerNetAmount  float64 `json:"seller_net_amount"`
}

// ListingSummary is the trimmed listing view embedded in projections.
type ListingSummary struct {
	ID                 int     `json:"id"`
	OwnerID            int     `json:"owner_id"`
	Direction          string  `json:"direction"`
	Product            string  `json:"product"`
	PostedPricePerUnit float64 `json:"posted_price_per_unit"`
	TotalQuantity      float64 `json:"total_quantity"`
	Status             string  `json:"status"`
}

// Summary returns the trimmed projection view of the listing.
func (l *Listing) Summary() ListingSummary {
	return ListingSummary{
		ID:                 l.ID,
		OwnerID:            l.OwnerID,
		Direction:          l.Direction,
		Product:            l.Product,
		PostedPricePerUnit: l.PostedPricePerUnit,
		TotalQuantity:      l.TotalQuantity,
		Status:             l.Status,
	}
}

// UserBid is the read projection for a user's bidding activity: the
// listing it targets, the user's bid on it, and whether that bid won.
type UserBid struct {
	Listing  ListingSummary `json:"listing"`
	Bid      Bid            `json:"my_bid"`
	IsWinner bool           `json:"is_winner"`
}
