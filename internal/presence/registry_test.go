package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegistry_Connect_FirstConnectionBecomesOnline(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry()

	// When the first connection for a user registers
	becameOnline, online := reg.Connect("alice", "conn-1")

	// Then the user transitions to online and sees nobody else
	req.True(becameOnline)
	req.Empty(online)
	req.True(reg.IsOnline("alice"))
}

func TestRegistry_Connect_SecondTabDoesNotRetransition(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry()
	reg.Connect("alice", "conn-1")

	becameOnline, _ := reg.Connect("alice", "conn-2")

	req.False(becameOnline)
	req.Equal(2, reg.ConnectionCount("alice"))
}

func TestRegistry_Connect_SnapshotExcludesSelf(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry()
	reg.Connect("alice", "conn-1")
	reg.Connect("bob", "conn-2")

	// When a third user connects while two others are online
	_, online := reg.Connect("carol", "conn-3")

	// Then the snapshot contains exactly the two others
	req.ElementsMatch([]string{"alice", "bob"}, online)
}

func TestRegistry_Disconnect_MultiTab(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry()
	reg.Connect("alice", "conn-1")
	reg.Connect("alice", "conn-2")

	// Dropping one of two tabs keeps the user online
	becameOffline, _ := reg.Disconnect("alice", "conn-1")
	req.False(becameOffline)
	req.True(reg.IsOnline("alice"))

	// Dropping the last one transitions to offline with last-seen stamped
	becameOffline, lastSeen := reg.Disconnect("alice", "conn-2")
	req.True(becameOffline)
	req.False(lastSeen.IsZero())
	req.False(reg.IsOnline("alice"))

	rec := reg.Record("alice")
	req.False(rec.IsOnline)
	req.NotNil(rec.LastSeenAt)
	req.WithinDuration(lastSeen, *rec.LastSeenAt, time.Second)
}

func TestRegistry_Disconnect_Idempotent(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry()
	reg.Connect("alice", "conn-1")

	becameOffline, _ := reg.Disconnect("alice", "conn-1")
	req.True(becameOffline)

	// Duplicate disconnect for an already-removed connection is a no-op
	becameOffline, _ = reg.Disconnect("alice", "conn-1")
	req.False(becameOffline)

	// Unknown connection id is tolerated
	becameOffline, _ = reg.Disconnect("bob", "never-connected")
	req.False(becameOffline)
}

func TestRegistry_Record_OnlineHasNoLastSeen(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry()
	reg.Connect("alice", "conn-1")
	reg.Disconnect("alice", "conn-1")

	// Reconnecting clears the last-seen stamp
	reg.Connect("alice", "conn-2")
	rec := reg.Record("alice")
	req.True(rec.IsOnline)
	req.Nil(rec.LastSeenAt)
}

func TestRegistry_UserOf(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry()
	reg.Connect("alice", "conn-1")

	req.Equal("alice", reg.UserOf("conn-1"))
	req.Empty(reg.UserOf("conn-unknown"))

	reg.Disconnect("alice", "conn-1")
	req.Empty(reg.UserOf("conn-1"))
}
