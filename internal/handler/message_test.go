package handler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chatrelay/internal/model"
)

func TestGroupByDate(t *testing.T) {
	req := require.New(t)

	at := func(day, hour int) time.Time {
		return time.Date(2025, 3, day, hour, 0, 0, 0, time.UTC)
	}
	msg := func(id string, ts time.Time) model.Message {
		return model.Message{ID: id, CreatedAt: ts}
	}

	// Given a newest-first page spanning two days
	page := []model.Message{
		msg("d", at(11, 9)),
		msg("c", at(11, 8)),
		msg("b", at(10, 23)),
		msg("a", at(10, 22)),
	}

	// When grouped for rendering
	groups := groupByDate(page)

	// Then days come oldest first and messages inside each day are
	// chronological
	req.Len(groups, 2)
	req.Equal("2025-03-10", groups[0].DateKey)
	req.Equal("2025-03-11", groups[1].DateKey)
	req.Equal("a", groups[0].Messages[0].ID)
	req.Equal("b", groups[0].Messages[1].ID)
	req.Equal("c", groups[1].Messages[0].ID)
	req.Equal("d", groups[1].Messages[1].ID)
}

func TestGroupByDateEmpty(t *testing.T) {
	require.Empty(t, groupByDate(nil))
}
