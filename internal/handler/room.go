package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/chatrelay/internal/middleware"
	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/repository"
)

type RoomHandler struct {
	roomRepo *repository.RoomRepository
	userRepo *repository.UserRepository
}

func NewRoomHandler(roomRepo *repository.RoomRepository, userRepo *repository.UserRepository) *RoomHandler {
	return &RoomHandler{roomRepo: roomRepo, userRepo: userRepo}
}

type createRoomRequest struct {
	Name      string         `json:"name"`
	RoomType  model.RoomType `json:"roomType"`
	MemberIDs []string       `json:"memberIds"`
}

// CreateRoom creates a room and enrolls the creator plus the listed members.
func (h *RoomHandler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req createRoomRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RoomType == "" {
		req.RoomType = model.RoomTypeGroup
	}
	if req.RoomType != model.RoomTypeDirect && req.RoomType != model.RoomTypeGroup {
		writeError(w, http.StatusBadRequest, "roomType must be direct or group")
		return
	}
	if req.RoomType == model.RoomTypeGroup && req.Name == "" {
		writeError(w, http.StatusBadRequest, "name required for group rooms")
		return
	}
	if req.RoomType == model.RoomTypeDirect && len(req.MemberIDs) != 1 {
		writeError(w, http.StatusBadRequest, "direct rooms take exactly one other member")
		return
	}

	for _, id := range req.MemberIDs {
		if _, err := h.userRepo.GetByID(r.Context(), id); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				writeError(w, http.StatusBadRequest, "unknown member: "+id)
				return
			}
			writeError(w, http.StatusInternalServerError, "failed to check member")
			return
		}
	}

	now := time.Now().UTC()
	room := &model.Room{
		ID:        uuid.New().String(),
		RoomType:  req.RoomType,
		Name:      req.Name,
		CreatedBy: userID,
		CreatedAt: now,
	}
	if err := h.roomRepo.Create(r.Context(), room); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create room")
		return
	}

	members := append([]string{userID}, req.MemberIDs...)
	for _, id := range members {
		m := &model.RoomMember{RoomID: room.ID, UserID: id, JoinedAt: now}
		if err := h.roomRepo.AddMember(r.Context(), m); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to add member")
			return
		}
	}

	writeJSON(w, http.StatusCreated, room)
}

// ListRooms returns the rooms the caller belongs to, newest first.
func (h *RoomHandler) ListRooms(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	rooms, err := h.roomRepo.ListForUser(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list rooms")
		return
	}
	writeJSON(w, http.StatusOK, rooms)
}

// GetRoom returns a room with its member profiles. Members only.
func (h *RoomHandler) GetRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	userID := middleware.GetUserID(r.Context())

	isMember, err := h.roomRepo.IsMember(r.Context(), roomID, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check membership")
		return
	}
	if !isMember {
		writeError(w, http.StatusForbidden, "not a member")
		return
	}

	room, err := h.roomRepo.GetByID(r.Context(), roomID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "room not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get room")
		return
	}

	members, err := h.roomRepo.GetMembers(r.Context(), roomID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get members")
		return
	}

	writeJSON(w, http.StatusOK, model.RoomWithMembers{Room: *room, Members: members})
}

// JoinRoom enrolls the caller in a group room. Direct rooms are closed.
func (h *RoomHandler) JoinRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	userID := middleware.GetUserID(r.Context())

	room, err := h.roomRepo.GetByID(r.Context(), roomID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "room not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get room")
		return
	}
	if room.RoomType == model.RoomTypeDirect {
		writeError(w, http.StatusForbidden, "cannot join a direct room")
		return
	}

	m := &model.RoomMember{RoomID: roomID, UserID: userID, JoinedAt: time.Now().UTC()}
	if err := h.roomRepo.AddMember(r.Context(), m); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to join room")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// LeaveRoom removes the caller from a room's membership.
func (h *RoomHandler) LeaveRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	userID := middleware.GetUserID(r.Context())

	if err := h.roomRepo.RemoveMember(r.Context(), roomID, userID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to leave room")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
