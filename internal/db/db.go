package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agrobid/marketplace/internal/apperr"
	"github.com/agrobid/marketplace/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a PostgreSQL connection pool. The settlement timezone fixes
// the calendar day used for order-number sequences.
type DB struct {
	Pool *pgxpool.Pool
	loc  *time.Location
}

// NewDB initializes a new database connection pool.
func NewDB(ctx context.Context, connString string, loc *time.Location) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &DB{Pool: pool, loc: loc}, nil
}

// Close closes the database connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}

// CreateUser inserts a new user.
func (db *DB) CreateUser(ctx context.Context, username, passwordHash, role string, addr models.Address) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		`INSERT INTO users (username, password_hash, role, street, city, state, postal_code)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, username, password_hash, role, street, city, state, postal_code, created_at`,
		username, passwordHash, role, addr.Street, addr.City, addr.State, addr.PostalCode).
		Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Role,
			&user.ProfileAddress.Street, &user.ProfileAddress.City,
			&user.ProfileAddress.State, &user.ProfileAddress.PostalCode, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username.
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return db.scanUser(ctx, "username = $1", username)
}

// GetUserByID retrieves a user by ID.
func (db *DB) GetUserByID(ctx context.Context, id int) (*models.User, error) {
	return db.scanUser(ctx, "id = $1", id)
}

func (db *DB) scanUser(ctx context.Context, where string, arg any) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		`SELECT id, username, password_hash, role, street, city, state, postal_code, created_at
		 FROM users WHERE `+where, arg).
		Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Role,
			&user.ProfileAddress.Street, &user.ProfileAddress.City,
			&user.ProfileAddress.State, &user.ProfileAddress.PostalCode, &user.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, apperr.ReasonUserNotFound, "user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// UpdateProfileAddress replaces the user's profile address.
func (db *DB) UpdateProfileAddress(ctx context.Context, userID int, addr models.Address) error {
	tag, err := db.Pool.Exec(ctx,
		`UPDATE users SET street = $1, city = $2, state = $3, postal_code = $4 WHERE id = $5`,
		addr.Street, addr.City, addr.State, addr.PostalCode, userID)
	if err != nil {
		return fmt.Errorf("failed to update profile address: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, apperr.ReasonUserNotFound, "user not found")
	}
	return nil
}
