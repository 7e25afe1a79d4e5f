package chatclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/ws"
)

const (
	// typingIdle is how long after the last keystroke the stop-typing
	// indicator fires.
	typingIdle = 1500 * time.Millisecond

	sessionHeader = "X-Session-Id"
)

// Event is one server-sent frame. Payload stays raw so callers decode only
// the event types they care about.
type Event struct {
	Type    ws.EventType    `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Client connects to the relay over WebSocket for live events and over HTTP
// for history. One Client is one connection (one "tab").
type Client struct {
	baseURL   string
	sessionID string
	userID    string

	httpc *http.Client

	conn    *websocket.Conn
	writeMu sync.Mutex

	events chan Event

	// typing timers per room; a reset, not a new timer, per keystroke.
	typingMu sync.Mutex
	typing   map[string]*time.Timer

	closeOnce sync.Once
}

// Dial opens the WebSocket connection and starts the read loop. baseURL is
// the relay's HTTP address, e.g. "http://localhost:8080".
func Dial(ctx context.Context, baseURL, userID, sessionID string) (*Client, error) {
	wsURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("chatclient.Dial parse url: %w", err)
	}
	switch wsURL.Scheme {
	case "http":
		wsURL.Scheme = "ws"
	case "https":
		wsURL.Scheme = "wss"
	}
	wsURL.Path = strings.TrimSuffix(wsURL.Path, "/") + "/ws"
	q := wsURL.Query()
	q.Set("session_id", sessionID)
	wsURL.RawQuery = q.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("chatclient.Dial (%s): %w", resp.Status, err)
		}
		return nil, fmt.Errorf("chatclient.Dial: %w", err)
	}

	c := &Client{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		sessionID: sessionID,
		userID:    userID,
		httpc:     &http.Client{Timeout: 15 * time.Second},
		conn:      conn,
		events:    make(chan Event, 64),
		typing:    make(map[string]*time.Timer),
	}
	go c.readLoop()
	return c, nil
}

// Events delivers server frames in arrival order. The channel closes when
// the connection drops.
func (c *Client) Events() <-chan Event {
	return c.events
}

func (c *Client) readLoop() {
	defer close(c.events)
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("chatclient read: %v", err)
			}
			return
		}
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			logger.Errorf("chatclient unmarshal: %v", err)
			continue
		}
		c.events <- ev
	}
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.typingMu.Lock()
		for _, t := range c.typing {
			t.Stop()
		}
		c.typingMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *Client) write(msg ws.IncomingMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("chatclient write %s: %w", msg.Type, err)
	}
	return nil
}

// JoinRoom subscribes this connection to a room's live events.
func (c *Client) JoinRoom(roomID string) error {
	return c.write(ws.IncomingMessage{Type: ws.EventJoinRoom, RoomID: roomID})
}

// LeaveRoom drops this connection's subscription to a room.
func (c *Client) LeaveRoom(roomID string) error {
	return c.write(ws.IncomingMessage{Type: ws.EventLeaveRoom, RoomID: roomID})
}

// Send submits a message. tempID is the provisional id from
// Timeline.AppendLocal; the persisted broadcast echoes it back.
func (c *Client) Send(roomID, content, tempID string) error {
	return c.write(ws.IncomingMessage{
		Type:         ws.EventChatMessage,
		RoomID:       roomID,
		Content:      content,
		ClientTempID: tempID,
	})
}

// MarkDelivered acknowledges receipt of a message.
func (c *Client) MarkDelivered(messageID string) error {
	return c.write(ws.IncomingMessage{Type: ws.EventMessageReceived, MessageID: messageID})
}

// MarkRead reports that this client's user has viewed a message.
func (c *Client) MarkRead(messageID string) error {
	return c.write(ws.IncomingMessage{Type: ws.EventMessageRead, MessageID: messageID, UserID: c.userID})
}

// Typing signals a keystroke. The first call in an idle period emits the
// typing event; every call pushes the stop-typing deadline out, and after
// typingIdle without keystrokes stop-typing fires once.
func (c *Client) Typing(roomID string) error {
	c.typingMu.Lock()
	timer, active := c.typing[roomID]
	if active {
		timer.Reset(typingIdle)
		c.typingMu.Unlock()
		return nil
	}
	c.typing[roomID] = time.AfterFunc(typingIdle, func() {
		c.typingMu.Lock()
		delete(c.typing, roomID)
		c.typingMu.Unlock()
		if err := c.write(ws.IncomingMessage{Type: ws.EventStopTyping, RoomID: roomID}); err != nil {
			logger.Errorf("chatclient stop-typing room=%s: %v", roomID, err)
		}
	})
	c.typingMu.Unlock()

	return c.write(ws.IncomingMessage{Type: ws.EventTyping, RoomID: roomID})
}

// FetchPage retrieves one page of room history over HTTP.
func (c *Client) FetchPage(ctx context.Context, roomID string, page, size int) (Page, error) {
	u := fmt.Sprintf("%s/api/message/%s?page=%s&size=%s",
		c.baseURL, url.PathEscape(roomID), strconv.Itoa(page), strconv.Itoa(size))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Page{}, fmt.Errorf("chatclient.FetchPage request: %w", err)
	}
	req.Header.Set(sessionHeader, c.sessionID)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("chatclient.FetchPage: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Page{}, fmt.Errorf("chatclient.FetchPage: unexpected status %s", resp.Status)
	}

	var p Page
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return Page{}, fmt.Errorf("chatclient.FetchPage decode: %w", err)
	}
	return p, nil
}
