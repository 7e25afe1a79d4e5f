package ws

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/presence"
	"github.com/chatrelay/internal/repository"
	"github.com/chatrelay/internal/rooms"
)

// fakeMessageStore implements MessageStore in memory with the same
// monotonic-advance semantics as the repository.
type fakeMessageStore struct {
	messages  map[string]*model.Message
	createErr error
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{messages: make(map[string]*model.Message)}
}

func (s *fakeMessageStore) Create(ctx context.Context, m *model.Message) error {
	if s.createErr != nil {
		return s.createErr
	}
	cp := *m
	s.messages[m.ID] = &cp
	return nil
}

func (s *fakeMessageStore) AdvanceStatus(ctx context.Context, id string, target model.MessageStatus, viewerID string) (*model.Message, error) {
	m, ok := s.messages[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if m.Status.Ordinal() < target.Ordinal() {
		m.Status = target
	}
	if target == model.MessageStatusRead && viewerID != "" && !m.SeenByContains(viewerID) {
		m.SeenBy = append(m.SeenBy, viewerID)
	}
	cp := *m
	return &cp, nil
}

type fakeRoomDirectory struct {
	members map[string]bool // roomID/userID -> member
}

func (d *fakeRoomDirectory) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	return d.members[roomID+"/"+userID], nil
}

type fakeUserDirectory struct {
	setOnlineCalls []string // "userID=online"
}

func (d *fakeUserDirectory) GetByID(ctx context.Context, id string) (*model.User, error) {
	return &model.User{ID: id, Username: "name-" + id}, nil
}

func (d *fakeUserDirectory) SetOnline(ctx context.Context, id string, online bool, lastSeen time.Time) error {
	d.setOnlineCalls = append(d.setOnlineCalls, fmt.Sprintf("%s=%t", id, online))
	return nil
}

type hubFixture struct {
	hub   *Hub
	store *fakeMessageStore
	rooms *fakeRoomDirectory
	users *fakeUserDirectory
}

func newHubFixture() *hubFixture {
	store := newFakeMessageStore()
	dir := &fakeRoomDirectory{members: make(map[string]bool)}
	users := &fakeUserDirectory{}
	hub := NewHub(presence.NewRegistry(), rooms.NewMultiplexer(), store, dir, users, 100)
	return &hubFixture{hub: hub, store: store, rooms: dir, users: users}
}

// newTestClient builds a client without a live websocket connection; the
// hub only touches send/done for delivery.
func newTestClient(userID, connID string) *Client {
	return &Client{
		send:   make(chan OutgoingMessage, sendBufSize),
		done:   make(chan struct{}),
		userID: userID,
		connID: connID,
	}
}

// drain empties the client's send buffer.
func drain(c *Client) []OutgoingMessage {
	var out []OutgoingMessage
	for {
		select {
		case msg := <-c.send:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func eventsOf(msgs []OutgoingMessage, t EventType) []OutgoingMessage {
	var out []OutgoingMessage
	for _, m := range msgs {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func join(f *hubFixture, c *Client, roomID string) {
	f.hub.HandleMessage(context.Background(), c, IncomingMessage{Type: EventJoinRoom, RoomID: roomID})
}

func TestHub_SendDeliverRead_EndToEnd(t *testing.T) {
	req := require.New(t)
	f := newHubFixture()
	f.rooms.members["room-1/alice"] = true
	f.rooms.members["room-1/bob"] = true

	alice := newTestClient("alice", "conn-a")
	bob := newTestClient("bob", "conn-b")
	f.hub.addClient(alice)
	f.hub.addClient(bob)
	join(f, alice, "room-1")
	join(f, bob, "room-1")
	drain(alice)
	drain(bob)

	// Alice sends a message with a provisional id
	f.hub.HandleMessage(context.Background(), alice, IncomingMessage{
		Type: EventChatMessage, RoomID: "room-1", Content: "hi", ClientTempID: "tmp-1",
	})

	// Both subscribers receive the persisted record
	bobGot := eventsOf(drain(bob), EventChatMessage)
	req.Len(bobGot, 1)
	rec := bobGot[0].Payload.(*model.Message)
	req.NotEmpty(rec.ID)
	req.Equal(model.MessageStatusSent, rec.Status)
	req.Equal("name-alice", rec.SenderName)

	aliceGot := eventsOf(drain(alice), EventChatMessage)
	req.Len(aliceGot, 1)
	echo := aliceGot[0].Payload.(*model.Message)
	req.Equal("tmp-1", echo.ClientTempID)
	req.Equal(rec.ID, echo.ID)

	// Bob acknowledges receipt: both get message-delivered
	f.hub.HandleMessage(context.Background(), bob, IncomingMessage{Type: EventMessageReceived, MessageID: rec.ID})
	delivered := eventsOf(drain(alice), EventMessageDelivered)
	req.Len(delivered, 1)
	req.Equal(model.MessageStatusDelivered, delivered[0].Payload.(*model.Message).Status)

	// Bob reads it: message-seen with bob in seenBy
	f.hub.HandleMessage(context.Background(), bob, IncomingMessage{Type: EventMessageRead, MessageID: rec.ID, UserID: "bob"})
	seen := eventsOf(drain(alice), EventMessageSeen)
	req.Len(seen, 1)
	got := seen[0].Payload.(*model.Message)
	req.Equal(model.MessageStatusRead, got.Status)
	req.Contains(got.SeenBy, "bob")
}

func TestHub_StatusNeverRegresses(t *testing.T) {
	req := require.New(t)
	f := newHubFixture()
	f.rooms.members["room-1/alice"] = true

	alice := newTestClient("alice", "conn-a")
	f.hub.addClient(alice)
	join(f, alice, "room-1")
	drain(alice)

	f.hub.HandleMessage(context.Background(), alice, IncomingMessage{Type: EventChatMessage, RoomID: "room-1", Content: "x"})
	rec := eventsOf(drain(alice), EventChatMessage)[0].Payload.(*model.Message)

	// read first, then a late delivered ack
	f.hub.HandleMessage(context.Background(), alice, IncomingMessage{Type: EventMessageRead, MessageID: rec.ID, UserID: "bob"})
	f.hub.HandleMessage(context.Background(), alice, IncomingMessage{Type: EventMessageReceived, MessageID: rec.ID})

	req.Equal(model.MessageStatusRead, f.store.messages[rec.ID].Status)
}

func TestHub_PersistenceFailureSuppressesBroadcast(t *testing.T) {
	req := require.New(t)
	f := newHubFixture()
	f.rooms.members["room-1/alice"] = true
	f.rooms.members["room-1/bob"] = true
	f.store.createErr = errors.New("store unreachable")

	alice := newTestClient("alice", "conn-a")
	bob := newTestClient("bob", "conn-b")
	f.hub.addClient(alice)
	f.hub.addClient(bob)
	join(f, alice, "room-1")
	join(f, bob, "room-1")
	drain(alice)
	drain(bob)

	f.hub.HandleMessage(context.Background(), alice, IncomingMessage{
		Type: EventChatMessage, RoomID: "room-1", Content: "hi", ClientTempID: "tmp-9",
	})

	// Sender is told about the failure, with the provisional id echoed so
	// the optimistic entry can be marked failed; nobody sees a chat-message
	errs := eventsOf(drain(alice), EventError)
	req.Len(errs, 1)
	payload := errs[0].Payload.(ErrorPayload)
	req.Equal("room-1", payload.RoomID)
	req.Equal("tmp-9", payload.ClientTempID)
	req.Empty(eventsOf(drain(bob), EventChatMessage))
}

func TestHub_RejectedSendEchoesProvisionalID(t *testing.T) {
	req := require.New(t)
	f := newHubFixture()
	// alice is not a member of room-1

	alice := newTestClient("alice", "conn-a")
	f.hub.addClient(alice)
	drain(alice)

	f.hub.HandleMessage(context.Background(), alice, IncomingMessage{
		Type: EventChatMessage, RoomID: "room-1", Content: "hi", ClientTempID: "tmp-4",
	})

	errs := eventsOf(drain(alice), EventError)
	req.Len(errs, 1)
	payload := errs[0].Payload.(ErrorPayload)
	req.Equal("room-1", payload.RoomID)
	req.Equal("tmp-4", payload.ClientTempID)
	req.NotEmpty(payload.Message)
}

func TestHub_UnknownMessageAckIsSkipped(t *testing.T) {
	req := require.New(t)
	f := newHubFixture()

	alice := newTestClient("alice", "conn-a")
	f.hub.addClient(alice)
	drain(alice)

	f.hub.HandleMessage(context.Background(), alice, IncomingMessage{Type: EventMessageReceived, MessageID: "no-such-id"})
	req.Empty(drain(alice))
}

func TestHub_JoinRoomRequiresMembership(t *testing.T) {
	req := require.New(t)
	f := newHubFixture()

	alice := newTestClient("alice", "conn-a")
	f.hub.addClient(alice)
	drain(alice)

	join(f, alice, "room-1")
	req.Len(eventsOf(drain(alice), EventError), 1)
	req.Empty(f.hub.mux.Rooms("conn-a"))
}

func TestHub_PresenceBroadcastAndSnapshot(t *testing.T) {
	req := require.New(t)
	f := newHubFixture()

	alice := newTestClient("alice", "conn-a1")
	f.hub.addClient(alice)
	bob := newTestClient("bob", "conn-b")
	f.hub.addClient(bob)

	// Alice is told bob came online, and bob's snapshot holds alice only
	online := eventsOf(drain(alice), EventUserOnline)
	req.Len(online, 1)
	req.Equal("bob", online[0].Payload.(UserStatusPayload).UserID)

	bobMsgs := drain(bob)
	snapshot := eventsOf(bobMsgs, EventOnlineList)
	req.Len(snapshot, 1)
	req.ElementsMatch([]string{"alice"}, snapshot[0].Payload.(OnlineListPayload).Users)
	req.Empty(eventsOf(bobMsgs, EventUserOnline))

	// A second tab for alice does not re-announce her
	alice2 := newTestClient("alice", "conn-a2")
	f.hub.addClient(alice2)
	req.Empty(eventsOf(drain(bob), EventUserOnline))

	// Closing one alice tab emits nothing; closing the last one goes offline
	f.hub.removeClient(alice2)
	req.Empty(eventsOf(drain(bob), EventUserOffline))

	f.hub.removeClient(alice)
	offline := eventsOf(drain(bob), EventUserOffline)
	req.Len(offline, 1)
	payload := offline[0].Payload.(UserStatusPayload)
	req.Equal("alice", payload.UserID)
	req.NotNil(payload.LastSeen)

	req.Equal([]string{"alice=true", "bob=true", "alice=false"}, f.users.setOnlineCalls)
}

func TestHub_SnapshotExcludesSelfWithTwoOthersOnline(t *testing.T) {
	req := require.New(t)
	f := newHubFixture()

	f.hub.addClient(newTestClient("alice", "conn-a"))
	f.hub.addClient(newTestClient("bob", "conn-b"))
	carol := newTestClient("carol", "conn-c")
	f.hub.addClient(carol)

	snapshot := eventsOf(drain(carol), EventOnlineList)
	req.Len(snapshot, 1)
	req.ElementsMatch([]string{"alice", "bob"}, snapshot[0].Payload.(OnlineListPayload).Users)
}

func TestHub_DisconnectCleansRoomSubscriptions(t *testing.T) {
	req := require.New(t)
	f := newHubFixture()
	f.rooms.members["room-1/alice"] = true
	f.rooms.members["room-2/alice"] = true

	alice := newTestClient("alice", "conn-a")
	f.hub.addClient(alice)
	join(f, alice, "room-1")
	join(f, alice, "room-2")
	req.Len(f.hub.mux.Rooms("conn-a"), 2)

	f.hub.removeClient(alice)
	req.Empty(f.hub.mux.Rooms("conn-a"))
	req.Empty(f.hub.mux.Subscribers("room-1"))
}

func TestHub_TypingRelayExcludesSender(t *testing.T) {
	req := require.New(t)
	f := newHubFixture()
	f.rooms.members["room-1/alice"] = true
	f.rooms.members["room-1/bob"] = true

	alice := newTestClient("alice", "conn-a")
	bob := newTestClient("bob", "conn-b")
	f.hub.addClient(alice)
	f.hub.addClient(bob)
	join(f, alice, "room-1")
	join(f, bob, "room-1")
	drain(alice)
	drain(bob)

	f.hub.HandleMessage(context.Background(), alice, IncomingMessage{Type: EventTyping, RoomID: "room-1"})

	typing := eventsOf(drain(bob), EventUserTyping)
	req.Len(typing, 1)
	req.Equal("alice", typing[0].Payload.(TypingPayload).UserID)
	req.Empty(eventsOf(drain(alice), EventUserTyping))

	f.hub.HandleMessage(context.Background(), alice, IncomingMessage{Type: EventStopTyping, RoomID: "room-1"})
	req.Len(eventsOf(drain(bob), EventUserStopTyping), 1)
}

func TestHub_SendBroadcastTargetsSubscribersOnly(t *testing.T) {
	req := require.New(t)
	f := newHubFixture()
	f.rooms.members["room-1/alice"] = true
	f.rooms.members["room-1/bob"] = true

	alice := newTestClient("alice", "conn-a")
	bob := newTestClient("bob", "conn-b")
	f.hub.addClient(alice)
	f.hub.addClient(bob)
	join(f, alice, "room-1")
	// bob is a member but never joined the channel
	drain(alice)
	drain(bob)

	f.hub.HandleMessage(context.Background(), alice, IncomingMessage{Type: EventChatMessage, RoomID: "room-1", Content: "hi"})

	req.Len(eventsOf(drain(alice), EventChatMessage), 1)
	req.Empty(eventsOf(drain(bob), EventChatMessage))
}
