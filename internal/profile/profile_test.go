package profile

import (
	"context"
	"testing"

	"github.com/agrobid/marketplace/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	users map[int]*models.User
	reads int
}

func (s *fakeSource) GetUserByID(ctx context.Context, id int) (*models.User, error) {
	s.reads++
	return s.users[id], nil
}

func (s *fakeSource) UpdateProfileAddress(ctx context.Context, userID int, addr models.Address) error {
	s.users[userID].ProfileAddress = addr
	return nil
}

func TestAddress_CachesLookups(t *testing.T) {
	addr := models.Address{Street: "1 Farm Rd", City: "Davis", State: "CA", PostalCode: "95616"}
	source := &fakeSource{users: map[int]*models.User{
		7: {ID: 7, ProfileAddress: addr},
	}}
	dir, err := NewDirectory(source, 8)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := dir.Address(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, addr, got)
	}
	assert.Equal(t, 1, source.reads)
}

func TestSetAddress_WritesThrough(t *testing.T) {
	source := &fakeSource{users: map[int]*models.User{7: {ID: 7}}}
	dir, err := NewDirectory(source, 8)
	require.NoError(t, err)
	ctx := context.Background()

	next := models.Address{Street: "9 Mill St", City: "Fresno", State: "CA", PostalCode: "93701"}
	require.NoError(t, dir.SetAddress(ctx, 7, next))

	got, err := dir.Address(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, next, got)
	assert.Equal(t, 0, source.reads)
	assert.Equal(t, next, source.users[7].ProfileAddress)
}

func TestInvalidate(t *testing.T) {
	addr := models.Address{Street: "1 Farm Rd", City: "Davis", State: "CA", PostalCode: "95616"}
	source := &fakeSource{users: map[int]*models.User{7: {ID: 7, ProfileAddress: addr}}}
	dir, err := NewDirectory(source, 8)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = dir.Address(ctx, 7)
	require.NoError(t, err)
	dir.Invalidate(7)
	_, err = dir.Address(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, source.reads)
}
