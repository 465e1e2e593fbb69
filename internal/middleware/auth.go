package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"timetracker-backend/internal/identity"
	"timetracker-backend/internal/models"
)

type contextKey string

const (
	UserIDKey   contextKey = "user_id"
	IdentityKey contextKey = "host_identity"
)

type Identifier interface {
	Identify(r *http.Request) (models.HostIdentity, error)
}

type ProfileResolver interface {
	Resolve(ctx context.Context, ident models.HostIdentity) (*models.UserProfile, error)
}

// IdentityAuth authenticates the host-signed token and attaches the caller's
// local profile id to the request context.
type IdentityAuth struct {
	identifier Identifier
	resolver   ProfileResolver
	log        zerolog.Logger
}

func NewIdentityAuth(identifier Identifier, resolver ProfileResolver, log zerolog.Logger) *IdentityAuth {
	return &IdentityAuth{identifier: identifier, resolver: resolver, log: log}
}

func (a *IdentityAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ident, err := a.identifier.Identify(r)
		if err != nil {
			if errors.Is(err, identity.ErrTokenExpired) {
				writeError(w, http.StatusUnauthorized, "TOKEN_EXPIRED", "Token has expired", r)
			} else {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or missing host token", r)
			}
			return
		}

		profile, err := a.resolver.Resolve(r.Context(), ident)
		if err != nil {
			if errors.Is(err, identity.ErrUnauthenticated) {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "User could not be resolved", r)
				return
			}
			a.log.Error().Err(err).Str("host_user_id", ident.UserID).Str("request_id", GetRequestID(r.Context())).
				Msg("failed to resolve user profile")
			writeError(w, http.StatusServiceUnavailable, "TRANSIENT_ERROR", "Could not resolve user profile, please retry", r)
			return
		}

		ctx := context.WithValue(r.Context(), UserIDKey, profile.ID)
		ctx = context.WithValue(ctx, IdentityKey, ident)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetUserID extracts the caller's profile id from request context
func GetUserID(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(UserIDKey).(uuid.UUID)
	return id
}

func GetIdentity(ctx context.Context) (models.HostIdentity, bool) {
	ident, ok := ctx.Value(IdentityKey).(models.HostIdentity)
	return ident, ok
}

func writeError(w http.ResponseWriter, status int, code, message string, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			RequestID: GetRequestID(r.Context()),
		},
	})
}
