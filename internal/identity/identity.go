// Package identity authenticates requests signed by the host platform and
// maps host users onto local user profiles.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"timetracker-backend/internal/models"
	"timetracker-backend/internal/repository"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrTokenExpired    = fmt.Errorf("%w: token has expired", ErrUnauthenticated)
)

// HostID accepts both string and numeric ids; the host sends numbers.
type HostID string

func (h *HostID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*h = HostID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("host id must be a string or number: %w", err)
	}
	*h = HostID(n.String())
	return nil
}

type HostClaims struct {
	UserID    HostID  `json:"userId"`
	AccountID HostID  `json:"accountId"`
	Email     *string `json:"email,omitempty"`
	Name      *string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// JWTProvider verifies HS256 tokens the host signs with a shared secret.
type JWTProvider struct {
	secret []byte
}

func NewJWTProvider(secret string) *JWTProvider {
	return &JWTProvider{secret: []byte(secret)}
}

// Identify reads the token from the Authorization header, or from the
// token query parameter for EventSource and WebSocket clients that cannot
// set headers.
func (p *JWTProvider) Identify(r *http.Request) (models.HostIdentity, error) {
	tokenStr, err := tokenFromRequest(r)
	if err != nil {
		return models.HostIdentity{}, err
	}
	return p.Verify(tokenStr)
}

func (p *JWTProvider) Verify(tokenStr string) (models.HostIdentity, error) {
	claims := &HostClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return p.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return models.HostIdentity{}, ErrTokenExpired
		}
		return models.HostIdentity{}, fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	}
	if !token.Valid || claims.UserID == "" {
		return models.HostIdentity{}, fmt.Errorf("%w: token carries no user", ErrUnauthenticated)
	}

	return models.HostIdentity{
		UserID:    string(claims.UserID),
		AccountID: string(claims.AccountID),
		Email:     claims.Email,
		Name:      claims.Name,
	}, nil
}

// Sign issues a token in the host's format. Used by tests and local tooling.
func (p *JWTProvider) Sign(ident models.HostIdentity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := HostClaims{
		UserID:    HostID(ident.UserID),
		AccountID: HostID(ident.AccountID),
		Email:     ident.Email,
		Name:      ident.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(p.secret)
}

func tokenFromRequest(r *http.Request) (string, error) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			return "", fmt.Errorf("%w: invalid authorization format", ErrUnauthenticated)
		}
		return parts[1], nil
	}
	if tokenStr := r.URL.Query().Get("token"); tokenStr != "" {
		return tokenStr, nil
	}
	return "", fmt.Errorf("%w: missing authorization header", ErrUnauthenticated)
}

// ProfileStore is the part of the store profile resolution needs.
type ProfileStore interface {
	ProfileByHostUserID(ctx context.Context, hostUserID string) (*models.UserProfile, error)
	FindOrCreateProfile(ctx context.Context, ident models.HostIdentity) (*models.UserProfile, error)
}

// Resolver maps a host identity to the local profile, creating it on first
// use.
type Resolver struct {
	store ProfileStore
}

func NewResolver(store ProfileStore) *Resolver {
	return &Resolver{store: store}
}

func (r *Resolver) Resolve(ctx context.Context, ident models.HostIdentity) (*models.UserProfile, error) {
	if ident.UserID == "" {
		return nil, ErrUnauthenticated
	}
	profile, err := r.store.ProfileByHostUserID(ctx, ident.UserID)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("lookup profile: %w", err)
	}
	return r.Sync(ctx, ident)
}

// Sync creates the profile or refreshes its contact details.
func (r *Resolver) Sync(ctx context.Context, ident models.HostIdentity) (*models.UserProfile, error) {
	profile, err := r.store.FindOrCreateProfile(ctx, ident)
	if err != nil {
		return nil, fmt.Errorf("sync profile: %w", err)
	}
	return profile, nil
}
