package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chatrelay/internal/middleware"
	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/presence"
	"github.com/chatrelay/internal/repository"
)

type UserHandler struct {
	userRepo *repository.UserRepository
	registry *presence.Registry
}

func NewUserHandler(userRepo *repository.UserRepository, registry *presence.Registry) *UserHandler {
	return &UserHandler{userRepo: userRepo, registry: registry}
}

// livePublic overlays the live registry onto a profile; the row's presence
// columns are best-effort and lose to the registry.
func (h *UserHandler) livePublic(u *model.User) model.UserPublic {
	pub := u.ToPublic()
	rec := h.registry.Record(u.ID)
	pub.IsOnline = rec.IsOnline
	if rec.IsOnline {
		pub.LastSeenAt = nil
	} else if rec.LastSeenAt != nil {
		pub.LastSeenAt = rec.LastSeenAt
	}
	return pub
}

// GetUser returns a user's public profile.
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	user, err := h.userRepo.GetByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get user")
		return
	}

	writeJSON(w, http.StatusOK, h.livePublic(user))
}

// ListUsers returns other users' public profiles, optionally filtered by a
// case-insensitive username substring (?q=).
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	callerID := middleware.GetUserID(r.Context())
	q := r.URL.Query().Get("q")
	limit := queryInt(r, "limit", 50)

	users, err := h.userRepo.Search(r.Context(), q, callerID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}

	out := make([]model.UserPublic, 0, len(users))
	for i := range users {
		out = append(out, h.livePublic(&users[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetOnlineUsers returns the ids of all users with at least one live
// connection right now.
func (h *UserHandler) GetOnlineUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"users": h.registry.Online()})
}
