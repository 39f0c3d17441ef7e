package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/agrobid/marketplace/internal/db"
	"github.com/agrobid/marketplace/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Identity is the authenticated caller extracted from a token.
type Identity struct {
	UserID   int
	Username string
	Role     string
}

// Admin reports whether the identity carries the admin role.
func (i Identity) Admin() bool { return i.Role == models.RoleAdmin }

// AuthService handles user registration and token issuance.
type AuthService struct {
	DB       *db.DB
	secret   []byte
	tokenTTL time.Duration
}

// NewAuthService creates a new auth service.
func NewAuthService(database *db.DB, secret string, tokenTTL time.Duration) *AuthService {
	if tokenTTL == 0 {
		tokenTTL = 24 * time.Hour
	}
	return &AuthService{DB: database, secret: []byte(secret), tokenTTL: tokenTTL}
}

// Register creates a new user with a hashed password. The profile
// address is optional at registration; buy-direction listings need it
// filled in before bids can resolve a delivery address.
func (s *AuthService) Register(ctx context.Context, username, password string, addr models.Address) (*models.User, error) {
	if username == "" {
		return nil, fmt.Errorf("username cannot be empty")
	}
	if password == "" {
		return nil, fmt.Errorf("password cannot be empty")
	}
	if len(username) > 50 {
		return nil, fmt.Errorf("username too long (max 50 characters)")
	}
	if len(password) > 100 {
		return nil, fmt.Errorf("password too long (max 100 characters)")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user, err := s.DB.CreateUser(ctx, username, string(hashedPassword), models.RoleUser, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// Login verifies credentials and generates a JWT carrying the user's
// ID, username and role.
func (s *AuthService) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.DB.GetUserByUsername(ctx, username)
	if err != nil {
		return "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", err
	}

	return s.IssueToken(user)
}

// IssueToken signs a token for the given user.
func (s *AuthService) IssueToken(user *models.User) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":  user.ID,
		"username": user.Username,
		"role":     user.Role,
		"exp":      time.Now().Add(s.tokenTTL).Unix(),
	})

	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", err
	}
	return tokenString, nil
}

// IdentityFromToken parses and validates a token string.
func (s *AuthService) IdentityFromToken(tokenString string) (Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return Identity{}, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Identity{}, fmt.Errorf("invalid token")
	}

	userID, ok := claims["user_id"].(float64)
	if !ok {
		return Identity{}, fmt.Errorf("token missing user_id claim")
	}
	username, _ := claims["username"].(string)
	role, _ := claims["role"].(string)
	if role == "" {
		role = models.RoleUser
	}

	return Identity{UserID: int(userID), Username: username, Role: role}, nil
}
