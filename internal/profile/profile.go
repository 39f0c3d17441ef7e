// Package profile resolves user profile addresses for the settlement
// path, with a small LRU in front of the database. Addresses change
// rarely and are read on every bid against a buy-direction listing.
package profile

import (
	"context"
	"fmt"

	"github.com/agrobid/marketplace/internal/models"

	lru "github.com/hashicorp/golang-lru"
)

// UserSource is where addresses actually live.
type UserSource interface {
	GetUserByID(ctx context.Context, id int) (*models.User, error)
	UpdateProfileAddress(ctx context.Context, userID int, addr models.Address) error
}

// Directory caches profile addresses by user ID.
type Directory struct {
	source UserSource
	cache  *lru.Cache
}

// NewDirectory creates a directory with a cache of the given size.
func NewDirectory(source UserSource, size int) (*Directory, error) {
	if size <= 0 {
		size = 512
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create address cache: %w", err)
	}
	return &Directory{source: source, cache: cache}, nil
}

// Address returns the user's profile address. The result may be
// incomplete; callers decide whether that matters.
func (d *Directory) Address(ctx context.Context, userID int) (models.Address, error) {
	if v, ok := d.cache.Get(userID); ok {
		return v.(models.Address), nil
	}

	user, err := d.source.GetUserByID(ctx, userID)
	if err != nil {
		return models.Address{}, err
	}
	d.cache.Add(userID, user.ProfileAddress)
	return user.ProfileAddress, nil
}

// SetAddress writes the address through to storage and refreshes the
// cache entry.
func (d *Directory) SetAddress(ctx context.Context, userID int, addr models.Address) error {
	if err := d.source.UpdateProfileAddress(ctx, userID, addr); err != nil {
		return err
	}
	d.cache.Add(userID, addr)
	return nil
}

// Invalidate drops a cached entry, for callers that mutate addresses
// out of band.
func (d *Directory) Invalidate(userID int) {
	d.cache.Remove(userID)
}
