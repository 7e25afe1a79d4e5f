package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/model"
)

const messageCols = `id, room_id, sender_id, sender_name, COALESCE(sender_avatar,''), content, type, status, seen_by, is_deleted, created_at, updated_at`

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func scanMessage(s interface{ Scan(dest ...any) error }, m *model.Message) error {
	return s.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.SenderName, &m.SenderAvatar,
		&m.Content, &m.Type, &m.Status, &m.SeenBy, &m.IsDeleted, &m.CreatedAt, &m.UpdatedAt)
}

// Create persists a new message with status=sent and created_at=updated_at.
// The caller must not broadcast when Create fails.
func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	if m.SeenBy == nil {
		m.SeenBy = []string{}
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO messages (id, room_id, sender_id, sender_name, sender_avatar, content, type, status, seen_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		m.ID, m.RoomID, m.SenderID, m.SenderName, m.SenderAvatar, m.Content, m.Type, m.Status, m.SeenBy, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.Create: %w", err)
	}
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	m := &model.Message{}
	row := r.pool.QueryRow(ctx, `SELECT `+messageCols+` FROM messages WHERE id = $1`, id)
	if err := scanMessage(row, m); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("msgRepo.GetByID: %w", err)
	}
	return m, nil
}

// AdvanceStatus moves a message forward through sent -> delivered -> read.
// The ordinal guard lives inside the UPDATE, so an out-of-order call can
// never regress status; a call that targets the current-or-lower status is
// an idempotent no-op. For read, viewerID is appended to seen_by exactly
// once, even when the status is already read. Returns the stored record.
func (r *MessageRepository) AdvanceStatus(ctx context.Context, id string, target model.MessageStatus, viewerID string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.AdvanceStatus", time.Now())()
	m := &model.Message{}
	row := r.pool.QueryRow(ctx,
		`UPDATE messages SET
		   status = CASE WHEN (CASE status WHEN 'sent' THEN 0 WHEN 'delivered' THEN 1 ELSE 2 END)
		                  < (CASE $2::text WHEN 'sent' THEN 0 WHEN 'delivered' THEN 1 ELSE 2 END)
		            THEN $2::text ELSE status END,
		   seen_by = CASE WHEN $2::text = 'read' AND $3::text <> '' AND NOT ($3::text = ANY(seen_by))
		             THEN array_append(seen_by, $3::text) ELSE seen_by END,
		   updated_at = $4
		 WHERE id = $1
		 RETURNING `+messageCols,
		id, string(target), viewerID, time.Now().UTC(),
	)
	if err := scanMessage(row, m); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("msgRepo.AdvanceStatus: %w", err)
	}
	return m, nil
}

// Page returns one page of a room's messages in descending creation order
// (ties broken by id for deterministic pagination) plus the total count.
// page is 1-based.
func (r *MessageRepository) Page(ctx context.Context, roomID string, page, size int) ([]model.Message, int, error) {
	defer logger.DeferLogDuration("msg.Page", time.Now())()
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * size

	rows, err := r.pool.Query(ctx,
		`SELECT `+messageCols+` FROM messages
		 WHERE room_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2 OFFSET $3`, roomID, size, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("msgRepo.Page query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, size)
	for rows.Next() {
		var m model.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, 0, fmt.Errorf("msgRepo.Page scan: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("msgRepo.Page rows: %w", err)
	}

	var total int
	err = r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages WHERE room_id = $1`, roomID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("msgRepo.Page count: %w", err)
	}
	return messages, total, nil
}

// UpdateContent edits a message's content, bumps updated_at and returns the
// stored record, so broadcasts carry at-rest truth.
func (r *MessageRepository) UpdateContent(ctx context.Context, id, content string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.UpdateContent", time.Now())()
	m := &model.Message{}
	row := r.pool.QueryRow(ctx,
		`UPDATE messages SET content = $1, updated_at = $2
		 WHERE id = $3 AND is_deleted = false
		 RETURNING `+messageCols,
		content, time.Now().UTC(), id,
	)
	if err := scanMessage(row, m); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("msgRepo.UpdateContent: %w", err)
	}
	return m, nil
}

// SoftDelete marks a message as deleted, clears its content and returns the
// stored record.
func (r *MessageRepository) SoftDelete(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.SoftDelete", time.Now())()
	m := &model.Message{}
	row := r.pool.QueryRow(ctx,
		`UPDATE messages SET is_deleted = true, content = '', updated_at = $1
		 WHERE id = $2
		 RETURNING `+messageCols,
		time.Now().UTC(), id,
	)
	if err := scanMessage(row, m); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("msgRepo.SoftDelete: %w", err)
	}
	return m, nil
}
