package rooms

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMultiplexer_JoinAndSubscribers(t *testing.T) {
	req := require.New(t)
	mux := NewMultiplexer()

	mux.Join("conn-a", "room-1")
	mux.Join("conn-b", "room-1")
	mux.Join("conn-a", "room-2")

	req.ElementsMatch([]string{"conn-a", "conn-b"}, mux.Subscribers("room-1"))
	req.ElementsMatch([]string{"conn-a"}, mux.Subscribers("room-2"))
	req.ElementsMatch([]string{"room-1", "room-2"}, mux.Rooms("conn-a"))
}

func TestMultiplexer_Join_Idempotent(t *testing.T) {
	req := require.New(t)
	mux := NewMultiplexer()

	mux.Join("conn-a", "room-1")
	mux.Join("conn-a", "room-1")

	req.Len(mux.Subscribers("room-1"), 1)
}

func TestMultiplexer_Leave(t *testing.T) {
	req := require.New(t)
	mux := NewMultiplexer()
	mux.Join("conn-a", "room-1")
	mux.Join("conn-b", "room-1")

	mux.Leave("conn-a", "room-1")

	req.ElementsMatch([]string{"conn-b"}, mux.Subscribers("room-1"))
	req.False(mux.IsSubscribed("conn-a", "room-1"))

	// Leaving a room the connection is not in is a no-op
	mux.Leave("conn-a", "room-1")
	mux.Leave("conn-x", "room-never")
	req.ElementsMatch([]string{"conn-b"}, mux.Subscribers("room-1"))
}

func TestMultiplexer_LeaveAll(t *testing.T) {
	req := require.New(t)
	mux := NewMultiplexer()
	mux.Join("conn-a", "room-1")
	mux.Join("conn-a", "room-2")
	mux.Join("conn-b", "room-1")

	left := mux.LeaveAll("conn-a")

	req.ElementsMatch([]string{"room-1", "room-2"}, left)
	req.ElementsMatch([]string{"conn-b"}, mux.Subscribers("room-1"))
	req.Empty(mux.Subscribers("room-2"))
	req.Empty(mux.Rooms("conn-a"))

	// Second call finds nothing to clean up
	req.Empty(mux.LeaveAll("conn-a"))
}

func TestMultiplexer_JoinAfterLeaveAll(t *testing.T) {
	req := require.New(t)
	mux := NewMultiplexer()
	mux.Join("conn-a", "room-1")
	mux.LeaveAll("conn-a")

	// A join after cleanup starts a fresh subscription set
	mux.Join("conn-a", "room-3")
	req.ElementsMatch([]string{"room-3"}, mux.Rooms("conn-a"))
	req.True(mux.IsSubscribed("conn-a", "room-3"))
}
