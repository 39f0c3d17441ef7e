// Package notify is the outbound notification sink. Email delivery is
// an external collaborator; this package keeps the interface the core
// calls and a structured-log implementation for development.
package notify

import (
	"context"
	"log/slog"

	"github.com/agrobid/marketplace/internal/models"
)

// LogSink writes notification events to the structured log. It stands
// in for a real email or push delivery service.
type LogSink struct {
	log *slog.Logger
}

// NewLogSink creates a sink writing to the given logger.
func NewLogSink(log *slog.Logger) *LogSink {
	if log == nil {
		log = slog.Default()
	}
	return &LogSink{log: log}
}

func (s *LogSink) BidSubmitted(ctx context.Context, listing *models.Listing, bid *models.Bid) error {
	s.log.InfoContext(ctx, "notify: bid submitted",
		slog.Int("listing_id", listing.ID),
		slog.Int("owner_id", listing.OwnerID),
		slog.Int("bidder_id", bid.BidderID),
		slog.Float64("amount", bid.Amount))
	return nil
}

func (s *LogSink) BidAccepted(ctx context.Context, order *models.Order) error {
	s.log.InfoContext(ctx, "notify: bid accepted",
		slog.String("order_number", order.OrderNumber),
		slog.Int("seller_id", order.SellerID),
		slog.Int("buyer_id", order.BuyerID),
		slog.Float64("total_amount", order.TotalAmount))
	return nil
}

func (s *LogSink) BidRejected(ctx context.Context, listingID, bidderID int) error {
	s.log.InfoContext(ctx, "notify: bid rejected",
		slog.Int("listing_id", listingID),
		slog.Int("bidder_id", bidderID))
	return nil
}
