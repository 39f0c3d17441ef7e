package db

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/agrobid/marketplace/internal/apperr"
	"github.com/agrobid/marketplace/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDB *DB

// TestMain wires a live Postgres when MARKETPLACE_TEST_DB is set.
// Without it the integration tests skip and only the pure validation
// tests run.
func TestMain(m *testing.M) {
	conn := os.Getenv("MARKETPLACE_TEST_DB")
	if conn != "" {
		ctx := context.Background()
		var err error
		testDB, err = NewDB(ctx, conn, time.UTC)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Unable to connect to database: %v\n", err)
			os.Exit(1)
		}
		defer testDB.Close()

		migration, err := os.ReadFile("../../migrations/001_init.sql")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Unable to read migration: %v\n", err)
			os.Exit(1)
		}
		if _, err := testDB.Pool.Exec(ctx, string(migration)); err != nil && !strings.Contains(err.Error(), "already exists") {
			fmt.Fprintf(os.Stderr, "Unable to apply migration: %v\n", err)
			os.Exit(1)
		}
		if _, err := testDB.Pool.Exec(ctx,
			"TRUNCATE users, listings, bids, orders, order_sequences RESTART IDENTITY CASCADE"); err != nil {
			fmt.Fprintf(os.Stderr, "Unable to truncate tables: %v\n", err)
			os.Exit(1)
		}
	}
	os.Exit(m.Run())
}

func requireLiveDB(t *testing.T) {
	t.Helper()
	if testDB == nil {
		t.Skip("MARKETPLACE_TEST_DB not set")
	}
}

func TestCreateListing_Validation(t *testing.T) {
	// Input validation fires before any query; no connection needed.
	bare := &DB{}
	ctx := context.Background()

	tests := []struct {
		name    string
		listing models.Listing
	}{
		{"bad direction", models.Listing{Direction: "sideways", Product: "wheat", PostedPricePerUnit: 10, TotalQuantity: 5}},
		{"zero price", models.Listing{Direction: models.DirectionOfferToSell, Product: "wheat", PostedPricePerUnit: 0, TotalQuantity: 5}},
		{"zero quantity", models.Listing{Direction: models.DirectionOfferToSell, Product: "wheat", PostedPricePerUnit: 10, TotalQuantity: 0}},
		{"missing product", models.Listing{Direction: models.DirectionOfferToSell, PostedPricePerUnit: 10, TotalQuantity: 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := bare.CreateListing(ctx, &tt.listing)
			require.Error(t, err)
			assert.True(t, apperr.IsKind(err, apperr.Validation))
		})
	}
}

func seedUser(t *testing.T, username string) *models.User {
	t.Helper()
	user, err := testDB.CreateUser(context.Background(), username, "hash", models.RoleUser, models.Address{
		Street: "1 Farm Rd", City: "Davis", State: "CA", PostalCode: "95616",
	})
	require.NoError(t, err)
	return user
}

func seedListing(t *testing.T, ownerID int) *models.Listing {
	t.Helper()
	l, err := testDB.CreateListing(context.Background(), &models.Listing{
		OwnerID:            ownerID,
		Direction:          models.DirectionOfferToSell,
		Product:            "wheat",
		PostedPricePerUnit: 50,
		TotalQuantity:      100,
	})
	require.NoError(t, err)
	return l
}

func TestMutateListing_AppendBid(t *testing.T) {
	requireLiveDB(t)
	ctx := context.Background()
	owner := seedUser(t, "mutate_owner")
	bidder := seedUser(t, "mutate_bidder")
	listing := seedListing(t, owner.ID)

	updated, err := testDB.MutateListing(ctx, listing.ID, func(l *models.Listing) error {
		l.Bids = append(l.Bids, models.Bid{
			ListingID:       l.ID,
			BidderID:        bidder.ID,
			Amount:          55,
			Status:          models.BidPending,
			DeliveryAddress: bidder.ProfileAddress,
			PaymentMethod:   models.DefaultPaymentMethod,
		})
		return nil
	})
	require.NoError(t, err)
	require.Len(t, updated.Bids, 1)
	assert.NotZero(t, updated.Bids[0].ID)
	assert.False(t, updated.Bids[0].SubmittedAt.IsZero())

	// Callback error rolls everything back.
	_, err = testDB.MutateListing(ctx, listing.ID, func(l *models.Listing) error {
		l.Bids = append(l.Bids, models.Bid{
			ListingID: l.ID, BidderID: owner.ID, Amount: 60,
			Status: models.BidPending, PaymentMethod: models.DefaultPaymentMethod,
			DeliveryAddress: bidder.ProfileAddress,
		})
		return fmt.Errorf("changed my mind")
	})
	require.Error(t, err)

	fresh, err := testDB.GetListing(ctx, listing.ID)
	require.NoError(t, err)
	assert.Len(t, fresh.Bids, 1)
}

func TestMutateListing_NotFound(t *testing.T) {
	requireLiveDB(t)
	_, err := testDB.MutateListing(context.Background(), 999999, func(l *models.Listing) error { return nil })
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.NotFound))
}

func TestSettleListing_AtomicOrderAndNumber(t *testing.T) {
	requireLiveDB(t)
	ctx := context.Background()
	owner := seedUser(t, "settle_owner")
	bidder := seedUser(t, "settle_bidder")

	settle := func(t *testing.T) *models.Order {
		listing := seedListing(t, owner.ID)
		updated, err := testDB.MutateListing(ctx, listing.ID, func(l *models.Listing) error {
			l.Bids = append(l.Bids, models.Bid{
				ListingID: l.ID, BidderID: bidder.ID, Amount: 55,
				Status: models.BidPending, PaymentMethod: models.DefaultPaymentMethod,
				DeliveryAddress: bidder.ProfileAddress,
			})
			return nil
		})
		require.NoError(t, err)
		bid := updated.Bids[0]

		_, order, err := testDB.SettleListing(ctx, listing.ID, func(l *models.Listing) (*models.Order, error) {
			now := time.Now()
			l.Bids[0].Status = models.BidAccepted
			l.Status = models.ListingSettledAsSale
			l.SettledAt = &now
			l.WinningBid = &models.WinningBid{BidderID: bid.BidderID, Amount: bid.Amount, AcceptedAt: now}
			l.CommissionEarned = 110
			return &models.Order{
				ListingID: l.ID, SellerID: owner.ID, BuyerID: bidder.ID,
				Direction: l.Direction, Quantity: l.TotalQuantity,
				AgreedPricePerUnit: bid.Amount, TotalAmount: 5500,
				CommissionAmount: 110, SellerNetAmount: 5390, BuyerPaymentAmount: 5500,
				CommissionRate: 0.02, OrderStatus: models.OrderProcessing,
				DeliveryStatus: models.DeliveryPending, PaymentStatus: models.PaymentPending,
				DeliveryAddress: bid.DeliveryAddress,
			}, nil
		})
		require.NoError(t, err)
		return order
	}

	first := settle(t)
	second := settle(t)

	assert.NotEmpty(t, first.OrderNumber)
	assert.NotEqual(t, first.OrderNumber, second.OrderNumber)

	// The counter advances within the same day.
	var seq1, seq2 int
	_, err := fmt.Sscanf(first.OrderNumber[len(first.OrderNumber)-4:], "%d", &seq1)
	require.NoError(t, err)
	_, err = fmt.Sscanf(second.OrderNumber[len(second.OrderNumber)-4:], "%d", &seq2)
	require.NoError(t, err)
	assert.Equal(t, seq1+1, seq2)

	// Every settled listing has its order: the audit query is clean.
	unreconciled, err := testDB.FindUnreconciledSettlements(ctx)
	require.NoError(t, err)
	assert.Empty(t, unreconciled)
}

func TestMutateOrder_PersistsStatusSnapshot(t *testing.T) {
	requireLiveDB(t)
	ctx := context.Background()
	owner := seedUser(t, "order_owner")
	bidder := seedUser(t, "order_bidder")
	listing := seedListing(t, owner.ID)

	updated, err := testDB.MutateListing(ctx, listing.ID, func(l *models.Listing) error {
		l.Bids = append(l.Bids, models.Bid{
			ListingID: l.ID, BidderID: bidder.ID, Amount: 55,
			Status: models.BidPending, PaymentMethod: models.DefaultPaymentMethod,
			DeliveryAddress: bidder.ProfileAddress,
		})
		return nil
	})
	require.NoError(t, err)

	_, order, err := testDB.SettleListing(ctx, listing.ID, func(l *models.Listing) (*models.Order, error) {
		now := time.Now()
		l.Bids[0].Status = models.BidAccepted
		l.Status = models.ListingSettledAsSale
		l.SettledAt = &now
		return &models.Order{
			ListingID: l.ID, SellerID: owner.ID, BuyerID: bidder.ID,
			Direction: l.Direction, Quantity: 100, AgreedPricePerUnit: 55,
			TotalAmount: 5500, CommissionAmount: 110, SellerNetAmount: 5390,
			BuyerPaymentAmount: 5500, CommissionRate: 0.02,
			OrderStatus:    models.OrderProcessing,
			DeliveryStatus: models.DeliveryPending, PaymentStatus: models.PaymentPending,
			DeliveryAddress: updated.Bids[0].DeliveryAddress,
		}, nil
	})
	require.NoError(t, err)

	now := time.Now()
	mutated, err := testDB.MutateOrder(ctx, order.ID, func(o *models.Order) error {
		o.DeliveryStatus = models.DeliveryDelivered
		o.OrderStatus = models.OrderCompleted
		o.DeliveredAt = &now
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.OrderCompleted, mutated.OrderStatus)

	fresh, err := testDB.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCompleted, fresh.OrderStatus)
	assert.Equal(t, models.DeliveryDelivered, fresh.DeliveryStatus)
	require.NotNil(t, fresh.DeliveredAt)
	// Financial fields stayed put.
	assert.Equal(t, 5500.0, fresh.TotalAmount)
}

func TestExpireDueListings(t *testing.T) {
	requireLiveDB(t)
	ctx := context.Background()
	owner := seedUser(t, "expire_owner")

	past := time.Now().Add(-time.Hour)
	l, err := testDB.CreateListing(ctx, &models.Listing{
		OwnerID: owner.ID, Direction: models.DirectionOfferToSell,
		Product: "barley", PostedPricePerUnit: 20, TotalQuantity: 10,
		ExpiresAt: &past,
	})
	require.NoError(t, err)

	n, err := testDB.ExpireDueListings(ctx, time.Now())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)

	fresh, err := testDB.GetListing(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ListingExpired, fresh.Status)
}
