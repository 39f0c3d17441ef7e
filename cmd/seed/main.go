package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/agrobid/marketplace/internal/bidding"
	"github.com/agrobid/marketplace/internal/config"
	"github.com/agrobid/marketplace/internal/db"
	"github.com/agrobid/marketplace/internal/models"
	"github.com/agrobid/marketplace/internal/notify"
	"github.com/agrobid/marketplace/internal/profile"
	"github.com/agrobid/marketplace/internal/settlement"

	"golang.org/x/crypto/bcrypt"
)

// Seed the database with test data: two farmers, one trader, a sell
// listing with competing bids, and one settled listing with its order.
func main() {
	ctx := context.Background()

	cfg, err := config.Load(os.Getenv("MARKETPLACE_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	database, err := db.NewDB(ctx, cfg.Database.URL, cfg.Location())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	var count int
	if err := database.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM listings").Scan(&count); err != nil {
		log.Fatalf("Failed to check listings: %v", err)
	}
	if count > 0 {
		fmt.Printf("Database already has %d listings. No need to seed.\n", count)
		return
	}

	farmer := ensureUser(ctx, database, "farmer_joe", models.Address{
		Street: "12 Orchard Lane", City: "Davis", State: "CA", PostalCode: "95616",
	})
	grower := ensureUser(ctx, database, "grower_ann", models.Address{
		Street: "88 Valley Road", City: "Fresno", State: "CA", PostalCode: "93701",
	})
	trader := ensureUser(ctx, database, "trader_sam", models.Address{
		Street: "401 Market St", City: "Sacramento", State: "CA", PostalCode: "94203",
	})

	profiles, err := profile.NewDirectory(database, 64)
	if err != nil {
		log.Fatalf("Failed to create profile directory: %v", err)
	}
	engine := settlement.NewEngine(database, profiles, notify.NewLogSink(nil), cfg.Settlement.CommissionRate, nil)

	expiry := time.Now().Add(14 * 24 * time.Hour)
	open, err := database.CreateListing(ctx, &models.Listing{
		OwnerID:            farmer.ID,
		Direction:          models.DirectionOfferToSell,
		Product:            "wheat",
		Unit:               "kg",
		PostedPricePerUnit: 50,
		TotalQuantity:      100,
		ExpiresAt:          &expiry,
	})
	if err != nil {
		log.Fatalf("Failed to create listing: %v", err)
	}

	for _, bid := range []struct {
		user   *models.User
		amount float64
	}{
		{trader, 52}, {grower, 55},
	} {
		if _, _, err := engine.SubmitBid(ctx, open.ID, bidding.Proposal{
			BidderID:        bid.user.ID,
			Amount:          bid.amount,
			DeliveryAddress: bid.user.ProfileAddress,
		}); err != nil {
			log.Fatalf("Failed to submit bid: %v", err)
		}
	}

	settledListing, err := database.CreateListing(ctx, &models.Listing{
		OwnerID:            grower.ID,
		Direction:          models.DirectionOfferToBuy,
		Product:            "maize",
		Unit:               "kg",
		PostedPricePerUnit: 30,
		TotalQuantity:      500,
	})
	if err != nil {
		log.Fatalf("Failed to create listing: %v", err)
	}
	_, bid, err := engine.SubmitBid(ctx, settledListing.ID, bidding.Proposal{
		BidderID: farmer.ID,
		Amount:   28,
	})
	if err != nil {
		log.Fatalf("Failed to submit bid: %v", err)
	}
	_, order, _, err := engine.AcceptBid(ctx, settledListing.ID, bid.ID, grower.ID)
	if err != nil {
		log.Fatalf("Failed to accept bid: %v", err)
	}

	fmt.Printf("Seeded: open listing %d with 2 bids, settled listing %d as order %s\n",
		open.ID, settledListing.ID, order.OrderNumber)
}

func ensureUser(ctx context.Context, database *db.DB, username string, addr models.Address) *models.User {
	if user, err := database.GetUserByUsername(ctx, username); err == nil {
		return user
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("Failed to hash password: %v", err)
	}
	user, err := database.CreateUser(ctx, username, string(hash), models.RoleUser, addr)
	if err != nil {
		log.Fatalf("Failed to create user %s: %v", username, err)
	}
	return user
}
