package chatclient

import (
	"fmt"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"

	"github.com/chatrelay/internal/model"
)

var day = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func msgAt(id string, at time.Time) model.Message {
	return model.Message{
		ID:        id,
		RoomID:    "room-1",
		SenderID:  "alice",
		Content:   "content-" + id,
		Type:      model.MessageTypeText,
		Status:    model.MessageStatusSent,
		SeenBy:    []string{},
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func pageOf(total int, msgs ...model.Message) Page {
	groups := map[string][]model.Message{}
	for _, m := range msgs {
		k := dateKey(m.CreatedAt)
		groups[k] = append(groups[k], m)
	}
	p := Page{Pagination: Pagination{Page: 1, Size: len(msgs), TotalItems: total}}
	for k, ms := range groups {
		p.Messages = append(p.Messages, MessageGroup{DateKey: k, Messages: ms})
	}
	return p
}

func ids(groups []MessageGroup) []string {
	out := []string{}
	for _, g := range groups {
		for _, m := range g.Messages {
			out = append(out, m.ID)
		}
	}
	return out
}

func TestTimeline_MergeIsIdempotentAndCommutative(t *testing.T) {
	req := require.New(t)

	// Given two overlapping pages of the same room
	m1 := msgAt("m1", day)
	m2 := msgAt("m2", day.Add(time.Minute))
	m3 := msgAt("m3", day.Add(2*time.Minute))
	pageA := pageOf(3, m1, m2)
	pageB := pageOf(3, m2, m3)

	// When they are merged in both orders, with one page repeated
	forward := NewTimeline()
	forward.MergePage(pageA)
	forward.MergePage(pageB)
	forward.MergePage(pageA)

	backward := NewTimeline()
	backward.MergePage(pageB)
	backward.MergePage(pageA)

	// Then both timelines hold the same deduplicated chronological view
	req.Equal([]string{"m1", "m2", "m3"}, ids(forward.Groups()))
	req.Equal(ids(forward.Groups()), ids(backward.Groups()))
	req.Equal(3, forward.Len())
}

func TestTimeline_GroupsSplitOnDayBoundary(t *testing.T) {
	req := require.New(t)

	// Given messages on two different calendar days
	tl := NewTimeline()
	tl.MergePage(pageOf(3,
		msgAt("old", day.AddDate(0, 0, -1)),
		msgAt("a", day),
		msgAt("b", day.Add(time.Hour)),
	))

	// When the view is rendered
	groups := tl.Groups()

	// Then groups are per day, oldest day first
	req.Len(groups, 2)
	req.Equal("2025-03-09", groups[0].DateKey)
	req.Equal("2025-03-10", groups[1].DateKey)
	req.Equal([]string{"a", "b"}, lo.Map(groups[1].Messages, func(m model.Message, _ int) string { return m.ID }))
}

func TestTimeline_LiveEventThenPageFetchDoesNotDuplicate(t *testing.T) {
	req := require.New(t)

	// Given a message that arrived live
	tl := NewTimeline()
	m := msgAt("m1", day)
	tl.ApplyLive(m)

	// When a later history page contains the same record
	tl.MergePage(pageOf(1, m))

	// Then the timeline still holds it exactly once
	req.Equal([]string{"m1"}, ids(tl.Groups()))
}

func TestTimeline_OptimisticSendIsReconciled(t *testing.T) {
	req := require.New(t)

	// Given an optimistic local send
	tl := NewTimeline()
	tempID := tl.AppendLocal("room-1", "alice", "hello")
	req.Equal(1, tl.Len())

	// When the persisted broadcast echoes the provisional id
	stored := msgAt("server-id", day)
	stored.ClientTempID = tempID
	tl.ApplyLive(stored)

	// Then the provisional entry is swapped for the stored record
	req.Equal([]string{"server-id"}, ids(tl.Groups()))
	req.Equal(1, tl.Len())
}

func TestTimeline_ForeignTempIDLeavesLocalEntriesAlone(t *testing.T) {
	req := require.New(t)

	// Given a local optimistic entry
	tl := NewTimeline()
	tl.AppendLocal("room-1", "alice", "mine")

	// When another client's broadcast carries an unfamiliar temp id
	stored := msgAt("other", day)
	stored.ClientTempID = "temp-someone-else"
	tl.ApplyLive(stored)

	// Then both the local entry and the foreign record are present
	req.Equal(2, tl.Len())
}

func TestTimeline_FailedSendIsMarkedAndDroppable(t *testing.T) {
	req := require.New(t)

	// Given an optimistic send whose persistence was rejected
	tl := NewTimeline()
	tempID := tl.AppendLocal("room-1", "alice", "hello")
	req.True(tl.FailLocal(tempID))

	// Then the entry stays visible, flagged as failed
	req.True(tl.IsFailed(tempID))
	req.Equal([]string{tempID}, ids(tl.Groups()))

	// When the user discards it
	req.True(tl.DropLocal(tempID))

	// Then it is gone for good
	req.Zero(tl.Len())
	req.False(tl.IsFailed(tempID))
	req.Empty(tl.Groups())
}

func TestTimeline_LateEchoClearsFailureMark(t *testing.T) {
	req := require.New(t)

	// Given a send marked failed on a timeout
	tl := NewTimeline()
	tempID := tl.AppendLocal("room-1", "alice", "hello")
	req.True(tl.FailLocal(tempID))

	// When the persisted broadcast arrives after all
	stored := msgAt("server-id", day)
	stored.ClientTempID = tempID
	tl.ApplyLive(stored)

	// Then the stored record replaces the entry and the failure mark is gone
	req.Equal([]string{"server-id"}, ids(tl.Groups()))
	req.False(tl.IsFailed(tempID))
}

func TestTimeline_ConfirmedRecordsCannotBeFailedOrDropped(t *testing.T) {
	req := require.New(t)

	tl := NewTimeline()
	tl.ApplyLive(msgAt("m1", day))

	req.False(tl.FailLocal("m1"))
	req.False(tl.DropLocal("m1"))
	req.False(tl.FailLocal("never-seen"))
	req.Equal(1, tl.Len())
}

func TestTimeline_ApplyUpdateReplacesKnownRecordOnly(t *testing.T) {
	req := require.New(t)

	tl := NewTimeline()
	m := msgAt("m1", day)
	tl.ApplyLive(m)

	// When a status advance arrives for it
	updated := m
	updated.Status = model.MessageStatusRead
	updated.SeenBy = []string{"bob"}
	tl.ApplyUpdate(updated)

	// Then the view reflects the new status
	groups := tl.Groups()
	req.Equal(model.MessageStatusRead, groups[0].Messages[0].Status)

	// And an update for an unknown id is ignored
	tl.ApplyUpdate(msgAt("never-seen", day))
	req.Equal(1, tl.Len())
}

func TestTimeline_HasMoreGatesOnServerTotal(t *testing.T) {
	req := require.New(t)

	// Given a first page of 2 out of 3 total
	tl := NewTimeline()
	req.True(tl.HasMore())
	tl.MergePage(pageOf(3, msgAt("m1", day), msgAt("m2", day.Add(time.Minute))))
	req.True(tl.HasMore())

	// When an optimistic entry is added
	tl.AppendLocal("room-1", "alice", "draft")

	// Then it does not count towards the loaded total
	req.True(tl.HasMore())

	// And loading the final server record exhausts the history
	tl.MergePage(pageOf(3, msgAt("m3", day.Add(2*time.Minute))))
	req.False(tl.HasMore())
}

func TestTimeline_LiveArrivalGrowsTheTotal(t *testing.T) {
	req := require.New(t)

	// Given a fully loaded timeline
	tl := NewTimeline()
	tl.MergePage(pageOf(1, msgAt("m1", day)))
	req.False(tl.HasMore())

	// When a new message arrives live
	tl.ApplyLive(msgAt("m2", day.Add(time.Minute)))

	// Then the view is still considered complete
	req.False(tl.HasMore())
	req.Equal(2, tl.Len())
}

func TestNextScrollTop(t *testing.T) {
	req := require.New(t)

	// Prepending 400px of older history to a viewport scrolled to 120px
	req.Equal(520, NextScrollTop(1000, 120, 1400))
	// No height change, no adjustment
	req.Equal(120, NextScrollTop(1000, 120, 1000))
}

func TestTimeline_MergeManyPagesOutOfOrder(t *testing.T) {
	req := require.New(t)

	// Given 30 messages split across pages fetched newest-first
	all := make([]model.Message, 0, 30)
	for i := 0; i < 30; i++ {
		all = append(all, msgAt(fmt.Sprintf("m%02d", i), day.Add(time.Duration(i)*time.Minute)))
	}
	pages := []Page{
		pageOf(30, all[20:]...),
		pageOf(30, all[10:20]...),
		pageOf(30, all[:10]...),
	}

	// When the pages are merged in reverse and one is replayed
	tl := NewTimeline()
	for i := len(pages) - 1; i >= 0; i-- {
		tl.MergePage(pages[i])
	}
	tl.MergePage(pages[1])

	// Then the timeline is complete, ordered and exhausted
	req.Equal(30, tl.Len())
	req.False(tl.HasMore())
	got := ids(tl.Groups())
	req.Equal("m00", got[0])
	req.Equal("m29", got[29])
}
