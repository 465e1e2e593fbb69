package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"timetracker-backend/internal/middleware"
	"timetracker-backend/internal/models"
)

type profileSyncer interface {
	Sync(ctx context.Context, ident models.HostIdentity) (*models.UserProfile, error)
}

type UserHandler struct {
	profiles profileSyncer
}

func NewUserHandler(profiles profileSyncer) *UserHandler {
	return &UserHandler{profiles: profiles}
}

// Sync refreshes the caller's profile from the host identity. Contact
// details in the body take precedence over those in the token.
func (h *UserHandler) Sync(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.GetIdentity(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResp("UNAUTHORIZED", "Unauthorized", r))
		return
	}

	var req models.SyncProfileRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			invalidBody(w, r)
			return
		}
	}
	if req.Email != nil {
		ident.Email = req.Email
	}
	if req.Name != nil {
		ident.Name = req.Name
	}

	profile, err := h.profiles.Sync(r.Context(), ident)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResp("TRANSIENT_ERROR", "Failed to sync user profile", r))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"profile": profile})
}
