package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chatrelay/internal/middleware"
	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/repository"
	"github.com/chatrelay/internal/ws"
)

// Broadcaster pushes an event to every live subscriber of a room.
// Implemented by ws.Hub.
type Broadcaster interface {
	BroadcastToRoom(roomID string, msg ws.OutgoingMessage)
}

type MessageHandler struct {
	msgRepo     *repository.MessageRepository
	roomRepo    *repository.RoomRepository
	hub         Broadcaster
	defaultSize int
	maxSize     int
}

func NewMessageHandler(msgRepo *repository.MessageRepository, roomRepo *repository.RoomRepository, hub Broadcaster, defaultSize, maxSize int) *MessageHandler {
	if defaultSize <= 0 {
		defaultSize = 20
	}
	if maxSize <= 0 {
		maxSize = 100
	}
	return &MessageHandler{msgRepo: msgRepo, roomRepo: roomRepo, hub: hub, defaultSize: defaultSize, maxSize: maxSize}
}

// MessageGroup is one day's worth of messages, oldest first.
type MessageGroup struct {
	DateKey  string          `json:"_id"`
	Messages []model.Message `json:"messages"`
}

type Pagination struct {
	Page       int `json:"page"`
	Size       int `json:"size"`
	TotalPages int `json:"totalPages"`
	TotalItems int `json:"totalItems"`
}

type pagedMessagesResponse struct {
	Messages   []MessageGroup `json:"messages"`
	Pagination Pagination     `json:"pagination"`
}

// groupByDate turns a newest-first page into chronological per-day groups.
// Group order and in-group order are both oldest first, ready for rendering.
func groupByDate(page []model.Message) []MessageGroup {
	groups := make([]MessageGroup, 0, 4)
	for i := len(page) - 1; i >= 0; i-- {
		m := page[i]
		key := m.CreatedAt.UTC().Format("2006-01-02")
		if n := len(groups); n > 0 && groups[n-1].DateKey == key {
			groups[n-1].Messages = append(groups[n-1].Messages, m)
			continue
		}
		groups = append(groups, MessageGroup{DateKey: key, Messages: []model.Message{m}})
	}
	return groups
}

// GetMessages returns one page of a room's history, grouped by calendar day.
// Page 1 is the most recent slice; clients walk backwards for older history.
func (h *MessageHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomId")
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

	page := queryInt(r, "page", 1)
	size := queryInt(r, "size", h.defaultSize)
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = h.defaultSize
	}
	if size > h.maxSize {
		size = h.maxSize
	}

	messages, total, err := h.msgRepo.Page(r.Context(), roomID, page, size)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get messages")
		return
	}

	totalPages := (total + size - 1) / size
	writeJSON(w, http.StatusOK, pagedMessagesResponse{
		Messages: groupByDate(messages),
		Pagination: Pagination{
			Page:       page,
			Size:       size,
			TotalPages: totalPages,
			TotalItems: total,
		},
	})
}

type updateStatusRequest struct {
	Status model.MessageStatus `json:"status"`
	UserID string              `json:"userId,omitempty"`
}

// UpdateStatus is the HTTP fallback for delivery acknowledgments, used when
// the acknowledging client has no live socket. The resulting event is still
// fanned out to room subscribers.
func (h *MessageHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "id")

	var req updateStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Status != model.MessageStatusDelivered && req.Status != model.MessageStatusRead {
		writeError(w, http.StatusBadRequest, "status must be delivered or read")
		return
	}

	viewerID := ""
	if req.Status == model.MessageStatusRead {
		viewerID = req.UserID
		if viewerID == "" {
			viewerID = middleware.GetUserID(r.Context())
		}
	}

	rec, err := h.msgRepo.AdvanceStatus(r.Context(), messageID, req.Status, viewerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "message not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to update status")
		return
	}

	event := ws.EventMessageDelivered
	if req.Status == model.MessageStatusRead {
		event = ws.EventMessageSeen
	}
	h.hub.BroadcastToRoom(rec.RoomID, ws.OutgoingMessage{Type: event, Payload: rec})

	writeJSON(w, http.StatusOK, rec)
}

type editMessageRequest struct {
	Content string `json:"content"`
}

// EditMessage rewrites a message's content. Only the sender may edit.
func (h *MessageHandler) EditMessage(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "id")
	userID := middleware.GetUserID(r.Context())

	var req editMessageRequest
	if err := decodeJSON(r, &req); err != nil || req.Content == "" {
		writeError(w, http.StatusBadRequest, "content required")
		return
	}

	m, err := h.msgRepo.GetByID(r.Context(), messageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "message not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load message")
		return
	}
	if m.SenderID != userID {
		writeError(w, http.StatusForbidden, "only the sender can edit a message")
		return
	}

	rec, err := h.msgRepo.UpdateContent(r.Context(), messageID, req.Content)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "message not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to edit message")
		return
	}

	// Re-broadcast the stored record; clients replace their copy by id.
	h.hub.BroadcastToRoom(rec.RoomID, ws.OutgoingMessage{Type: ws.EventChatMessage, Payload: rec})

	writeJSON(w, http.StatusOK, rec)
}

// DeleteMessage soft-deletes a message. Only the sender may delete; the
// record stays in history with its content cleared.
func (h *MessageHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "id")
	userID := middleware.GetUserID(r.Context())

	m, err := h.msgRepo.GetByID(r.Context(), messageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "message not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load message")
		return
	}
	if m.SenderID != userID {
		writeError(w, http.StatusForbidden, "only the sender can delete a message")
		return
	}

	rec, err := h.msgRepo.SoftDelete(r.Context(), messageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "message not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete message")
		return
	}

	h.hub.BroadcastToRoom(rec.RoomID, ws.OutgoingMessage{Type: ws.EventChatMessage, Payload: rec})

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
