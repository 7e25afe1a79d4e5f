package ws

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/presence"
	"github.com/chatrelay/internal/repository"
	"github.com/chatrelay/internal/rooms"
)

// MessageStore persists messages and their delivery-status transitions.
// Implemented by repository.MessageRepository.
type MessageStore interface {
	Create(ctx context.Context, m *model.Message) error
	AdvanceStatus(ctx context.Context, id string, target model.MessageStatus, viewerID string) (*model.Message, error)
}

// RoomDirectory answers room-membership questions. The hub consults it
// before subscribing a connection or accepting a send; membership CRUD
// itself is out of scope here.
type RoomDirectory interface {
	IsMember(ctx context.Context, roomID, userID string) (bool, error)
}

// UserDirectory resolves user profiles and persists presence flags.
// Implemented by repository.UserRepository.
type UserDirectory interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
	SetOnline(ctx context.Context, id string, online bool, lastSeen time.Time) error
}

// Hub is the delivery coordinator: it owns the connection set, drives the
// presence registry and room multiplexer, persists inbound messages before
// any broadcast, and fans events out to room subscribers. Broadcast is
// best-effort; missed events are recovered through the paginated fetch.
type Hub struct {
	mu       sync.RWMutex
	conns    map[string]*Client // connID -> client
	total    int
	maxConns int

	registry *presence.Registry
	mux      *rooms.Multiplexer
	msgStore MessageStore
	roomDir  RoomDirectory
	users    UserDirectory

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(
	registry *presence.Registry,
	mux *rooms.Multiplexer,
	msgStore MessageStore,
	roomDir RoomDirectory,
	users UserDirectory,
	maxConns int,
) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		conns:      make(map[string]*Client),
		maxConns:   maxConns,
		registry:   registry,
		mux:        mux,
		msgStore:   msgStore,
		roomDir:    roomDir,
		users:      users,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, c := range h.conns {
		allClients = append(allClients, c)
	}
	h.conns = make(map[string]*Client)
	h.total = 0
	h.mu.Unlock()

	// Close connections outside the lock (network I/O).
	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		c.Close()
		return
	}
	h.conns[c.connID] = c
	h.total++
	h.mu.Unlock()

	becameOnline, online := h.registry.Connect(c.userID, c.connID)

	if becameOnline {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := h.users.SetOnline(ctx, c.userID, true, time.Time{}); err != nil {
			logger.Errorf("ws set online user=%s: %v", c.userID, err)
		}
		cancel()
		h.broadcastAll(OutgoingMessage{
			Type:    EventUserOnline,
			Payload: UserStatusPayload{UserID: c.userID},
		}, c.userID)
	}

	// The new client missed prior user:online events; hand it a snapshot.
	h.sendToClient(c, OutgoingMessage{
		Type:    EventOnlineList,
		Payload: OnlineListPayload{Users: online},
	})
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.conns[c.connID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, c.connID)
	h.total--
	h.mu.Unlock()

	// Always drop every room subscription for the connection; nothing
	// cleans up implicitly.
	h.mux.LeaveAll(c.connID)

	becameOffline, lastSeen := h.registry.Disconnect(c.userID, c.connID)

	// Network I/O outside the lock.
	c.Close()

	if becameOffline {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.users.SetOnline(ctx, c.userID, false, lastSeen); err != nil {
			logger.Errorf("ws set offline user=%s: %v", c.userID, err)
		}
		ls := lastSeen
		h.broadcastAll(OutgoingMessage{
			Type:    EventUserOffline,
			Payload: UserStatusPayload{UserID: c.userID, LastSeen: &ls},
		}, c.userID)
	}
}

// HandleMessage dispatches one inbound event. Errors stay contained to the
// event: the client gets an error event at worst, the connection lives on.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	switch msg.Type {
	case EventJoinRoom:
		h.handleJoinRoom(ctx, c, msg)
	case EventLeaveRoom:
		h.handleLeaveRoom(c, msg)
	case EventChatMessage:
		h.handleChatMessage(ctx, c, msg)
	case EventMessageReceived:
		h.handleMessageReceived(ctx, c, msg)
	case EventMessageRead:
		h.handleMessageRead(ctx, c, msg)
	case EventTyping:
		h.handleTyping(c, msg, EventUserTyping)
	case EventStopTyping:
		h.handleTyping(c, msg, EventUserStopTyping)
	default:
		h.sendError(c, "unknown event type")
	}
}

func (h *Hub) sendError(c *Client, msg string) {
	h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: ErrorPayload{Message: msg}})
}

// sendSendFailure reports a rejected chat-message to its sender, echoing the
// room and provisional id so the optimistic entry can be marked failed.
func (h *Hub) sendSendFailure(c *Client, msg IncomingMessage, reason string) {
	h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: ErrorPayload{
		Message:      reason,
		RoomID:       msg.RoomID,
		ClientTempID: msg.ClientTempID,
	}})
}

func (h *Hub) handleJoinRoom(ctx context.Context, c *Client, msg IncomingMessage) {
	if msg.RoomID == "" {
		h.sendError(c, "roomId required")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	isMember, err := h.roomDir.IsMember(ctx, msg.RoomID, c.userID)
	if err != nil {
		logger.Errorf("ws check membership room=%s user=%s: %v", msg.RoomID, c.userID, err)
		h.sendError(c, "internal error")
		return
	}
	if !isMember {
		h.sendError(c, "not a member")
		return
	}

	h.mux.Join(c.connID, msg.RoomID)
}

func (h *Hub) handleLeaveRoom(c *Client, msg IncomingMessage) {
	if msg.RoomID == "" {
		return
	}
	h.mux.Leave(c.connID, msg.RoomID)
}

func (h *Hub) handleChatMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handleChatMessage", time.Now())()
	if msg.RoomID == "" || strings.TrimSpace(msg.Content) == "" {
		h.sendSendFailure(c, msg, "roomId and content required")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	isMember, err := h.roomDir.IsMember(ctx, msg.RoomID, c.userID)
	if err != nil {
		logger.Errorf("ws check membership room=%s user=%s: %v", msg.RoomID, c.userID, err)
		h.sendSendFailure(c, msg, "internal error")
		return
	}
	if !isMember {
		h.sendSendFailure(c, msg, "not a member")
		return
	}

	msgType := model.MessageTypeText
	if msg.ContentType != "" {
		msgType = msg.ContentType
	}

	senderName := c.userID
	senderAvatar := ""
	if sender, err := h.users.GetByID(ctx, c.userID); err == nil {
		senderName = sender.Username
		senderAvatar = sender.AvatarURL
	} else {
		logger.Errorf("ws get sender user=%s: %v", c.userID, err)
	}

	now := time.Now().UTC()
	m := &model.Message{
		ID:           uuid.New().String(),
		RoomID:       msg.RoomID,
		SenderID:     c.userID,
		SenderName:   senderName,
		SenderAvatar: senderAvatar,
		Content:      msg.Content,
		Type:         msgType,
		Status:       model.MessageStatusSent,
		SeenBy:       []string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	// Persist before broadcast: peers must never observe a message that a
	// failed write later causes to not exist.
	if err := h.msgStore.Create(ctx, m); err != nil {
		logger.Errorf("ws save message room=%s user=%s: %v", msg.RoomID, c.userID, err)
		h.sendSendFailure(c, msg, "failed to save message")
		return
	}

	// Echo the sender's provisional id so its optimistic entry can be
	// swapped for the stored record by exact match.
	m.ClientTempID = msg.ClientTempID

	h.broadcastToRoom(msg.RoomID, OutgoingMessage{Type: EventChatMessage, Payload: m}, "")
}

func (h *Hub) handleMessageReceived(ctx context.Context, c *Client, msg IncomingMessage) {
	if msg.MessageID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rec, err := h.msgStore.AdvanceStatus(ctx, msg.MessageID, model.MessageStatusDelivered, "")
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			logger.Errorf("ws mark delivered msg=%s: %v", msg.MessageID, err)
		}
		return
	}

	h.broadcastToRoom(rec.RoomID, OutgoingMessage{Type: EventMessageDelivered, Payload: rec}, "")
}

func (h *Hub) handleMessageRead(ctx context.Context, c *Client, msg IncomingMessage) {
	if msg.MessageID == "" {
		return
	}
	viewerID := msg.UserID
	if viewerID == "" {
		viewerID = c.userID
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rec, err := h.msgStore.AdvanceStatus(ctx, msg.MessageID, model.MessageStatusRead, viewerID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			logger.Errorf("ws mark read msg=%s user=%s: %v", msg.MessageID, viewerID, err)
		}
		return
	}

	h.broadcastToRoom(rec.RoomID, OutgoingMessage{Type: EventMessageSeen, Payload: rec}, "")
}

// handleTyping relays the ephemeral indicator to the room's other
// subscribers. Nothing is persisted.
func (h *Hub) handleTyping(c *Client, msg IncomingMessage, out EventType) {
	if msg.RoomID == "" {
		return
	}
	h.broadcastToRoom(msg.RoomID, OutgoingMessage{
		Type:    out,
		Payload: TypingPayload{RoomID: msg.RoomID, UserID: c.userID},
	}, c.connID)
}

// BroadcastToRoom sends an event to every current subscriber connection of
// a room. Used by the hub itself and by the HTTP status-update handler.
func (h *Hub) BroadcastToRoom(roomID string, msg OutgoingMessage) {
	h.broadcastToRoom(roomID, msg, "")
}

func (h *Hub) broadcastToRoom(roomID string, msg OutgoingMessage, exceptConnID string) {
	for _, connID := range h.mux.Subscribers(roomID) {
		if connID == exceptConnID {
			continue
		}
		h.sendToConn(connID, msg)
	}
}

// broadcastAll sends an event to every connection except those owned by
// exceptUserID (a user should not be told about their own presence change).
func (h *Hub) broadcastAll(msg OutgoingMessage, exceptUserID string) {
	h.mu.RLock()
	targets := make([]*Client, 0, h.total)
	for _, c := range h.conns {
		if c.userID == exceptUserID {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, msg)
	}
}

func (h *Hub) sendToConn(connID string, msg OutgoingMessage) {
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	h.sendToClient(c, msg)
}

func (h *Hub) sendToClient(c *Client, msg OutgoingMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.userID)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
