// Package chatclient is the Go client for the chat relay: a WebSocket/HTTP
// client plus a Timeline that reconciles live events, paginated history and
// optimistic local sends into one consistent view.
package chatclient

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/chatrelay/internal/model"
)

// MessageGroup is one calendar day of messages, oldest first. The wire shape
// matches the paginated history endpoint.
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

// Page is one slice of room history as served by the relay.
type Page struct {
	Messages   []MessageGroup `json:"messages"`
	Pagination Pagination     `json:"pagination"`
}

func dateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Timeline is a single room's message view. Pages may arrive in any order
// and overlap; live events may race page fetches; local sends appear
// immediately and are later swapped for the stored record. The view is
// always sorted and duplicate-free.
type Timeline struct {
	mu   sync.Mutex
	byID map[string]model.Message
	// tempByID tracks optimistic entries not yet confirmed by the server.
	tempByID map[string]struct{}
	// failed holds temp ids whose send was rejected or timed out.
	failed map[string]struct{}

	totalItems int
	totalKnown bool
}

func NewTimeline() *Timeline {
	return &Timeline{
		byID:     make(map[string]model.Message),
		tempByID: make(map[string]struct{}),
		failed:   make(map[string]struct{}),
	}
}

// MergePage folds one history page into the timeline. Merging is idempotent
// and order-independent: the same page twice, or pages in any order, yield
// the same view.
func (t *Timeline) MergePage(p Page) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, g := range p.Messages {
		for _, m := range g.Messages {
			t.byID[m.ID] = m
		}
	}
	if p.Pagination.TotalItems > t.totalItems || !t.totalKnown {
		t.totalItems = p.Pagination.TotalItems
		t.totalKnown = true
	}
}

// ApplyLive inserts a broadcast message. When the record carries the
// caller's provisional id, the optimistic entry is replaced in place.
// Records already known by id are updated, not duplicated.
func (t *Timeline) ApplyLive(m model.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if m.ClientTempID != "" {
		if _, ok := t.tempByID[m.ClientTempID]; ok {
			delete(t.byID, m.ClientTempID)
			delete(t.tempByID, m.ClientTempID)
			// A late echo means the send did go through after all.
			delete(t.failed, m.ClientTempID)
		}
	}
	_, known := t.byID[m.ID]
	m.ClientTempID = ""
	t.byID[m.ID] = m
	if !known && t.totalKnown {
		t.totalItems++
	}
}

// ApplyUpdate replaces a known record (status advance, edit, delete) by id.
// Unknown ids are ignored; history fetches will pick them up.
func (t *Timeline) ApplyUpdate(m model.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.byID[m.ID]; !ok {
		return
	}
	m.ClientTempID = ""
	t.byID[m.ID] = m
}

// AppendLocal inserts an optimistic entry for a message the user just sent
// and returns its provisional id. The entry renders immediately and is
// reconciled away when the persisted broadcast echoes the id back.
func (t *Timeline) AppendLocal(roomID, senderID, content string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	tempID := "temp-" + uuid.New().String()
	now := time.Now().UTC()
	t.byID[tempID] = model.Message{
		ID:        tempID,
		RoomID:    roomID,
		SenderID:  senderID,
		Content:   content,
		Type:      model.MessageTypeText,
		Status:    model.MessageStatusSent,
		SeenBy:    []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	t.tempByID[tempID] = struct{}{}
	return tempID
}

// FailLocal marks an optimistic entry as failed, after an error event for
// its provisional id or a send timeout. The entry stays in the view so the
// UI can render the failure terminally; the user resolves it with a retry
// (new AppendLocal) or DropLocal. Returns false for ids that are unknown or
// already confirmed.
func (t *Timeline) FailLocal(tempID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.tempByID[tempID]; !ok {
		return false
	}
	t.failed[tempID] = struct{}{}
	return true
}

// IsFailed reports whether an optimistic entry has been marked failed.
func (t *Timeline) IsFailed(tempID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.failed[tempID]
	return ok
}

// DropLocal discards an optimistic entry. Confirmed records cannot be
// dropped; they belong to the server.
func (t *Timeline) DropLocal(tempID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.tempByID[tempID]; !ok {
		return false
	}
	delete(t.byID, tempID)
	delete(t.tempByID, tempID)
	delete(t.failed, tempID)
	return true
}

// Groups renders the timeline as chronological day groups, oldest first.
func (t *Timeline) Groups() []MessageGroup {
	t.mu.Lock()
	defer t.mu.Unlock()

	all := lo.Values(t.byID)
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})

	parts := lo.PartitionBy(all, func(m model.Message) string {
		return dateKey(m.CreatedAt)
	})
	return lo.Map(parts, func(ms []model.Message, _ int) MessageGroup {
		return MessageGroup{DateKey: dateKey(ms[0].CreatedAt), Messages: ms}
	})
}

// Len returns the number of messages in the view, optimistic entries
// included.
func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byID)
}

// HasMore reports whether older history remains on the server. Optimistic
// entries do not count towards the loaded total.
func (t *Timeline) HasMore() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.totalKnown {
		return true
	}
	return len(t.byID)-len(t.tempByID) < t.totalItems
}

// NextScrollTop keeps the viewport anchored after older history is
// prepended: the content above the fold grew by newHeight-oldHeight, so the
// scroll offset grows by the same amount.
func NextScrollTop(oldHeight, oldTop, newHeight int) int {
	return newHeight - oldHeight + oldTop
}
