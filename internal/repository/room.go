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

type RoomRepository struct {
	pool *pgxpool.Pool
}

func NewRoomRepository(pool *pgxpool.Pool) *RoomRepository {
	return &RoomRepository{pool: pool}
}

func (r *RoomRepository) Create(ctx context.Context, room *model.Room) error {
	defer logger.DeferLogDuration("room.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO rooms (id, room_type, name, avatar_url, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		room.ID, room.RoomType, room.Name, room.AvatarURL, room.CreatedBy, room.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("roomRepo.Create: %w", err)
	}
	return nil
}

func (r *RoomRepository) GetByID(ctx context.Context, id string) (*model.Room, error) {
	defer logger.DeferLogDuration("room.GetByID", time.Now())()
	room := &model.Room{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, room_type, name, COALESCE(avatar_url,''), created_by, created_at
		 FROM rooms WHERE id = $1`, id,
	).Scan(&room.ID, &room.RoomType, &room.Name, &room.AvatarURL, &room.CreatedBy, &room.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("roomRepo.GetByID: %w", err)
	}
	return room, nil
}

func (r *RoomRepository) AddMember(ctx context.Context, m *model.RoomMember) error {
	defer logger.DeferLogDuration("room.AddMember", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO room_members (room_id, user_id, joined_at)
		 VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		m.RoomID, m.UserID, m.JoinedAt,
	)
	if err != nil {
		return fmt.Errorf("roomRepo.AddMember: %w", err)
	}
	return nil
}

func (r *RoomRepository) RemoveMember(ctx context.Context, roomID, userID string) error {
	defer logger.DeferLogDuration("room.RemoveMember", time.Now())()
	_, err := r.pool.Exec(ctx,
		`DELETE FROM room_members WHERE room_id = $1 AND user_id = $2`,
		roomID, userID,
	)
	if err != nil {
		return fmt.Errorf("roomRepo.RemoveMember: %w", err)
	}
	return nil
}

// IsMember reports whether userID belongs to the room. The delivery
// coordinator consults this before subscribing a connection.
func (r *RoomRepository) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	defer logger.DeferLogDuration("room.IsMember", time.Now())()
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM room_members WHERE room_id = $1 AND user_id = $2)`,
		roomID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("roomRepo.IsMember: %w", err)
	}
	return exists, nil
}

func (r *RoomRepository) GetMembers(ctx context.Context, roomID string) ([]model.UserPublic, error) {
	defer logger.DeferLogDuration("room.GetMembers", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT u.id, u.username, COALESCE(u.avatar_url,''), u.is_online, u.last_seen_at
		 FROM users u
		 JOIN room_members rm ON rm.user_id = u.id
		 WHERE rm.room_id = $1
		 ORDER BY rm.joined_at`, roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("roomRepo.GetMembers query: %w", err)
	}
	defer rows.Close()

	members := make([]model.UserPublic, 0, 8)
	for rows.Next() {
		var u model.UserPublic
		if err := rows.Scan(&u.ID, &u.Username, &u.AvatarURL, &u.IsOnline, &u.LastSeenAt); err != nil {
			return nil, fmt.Errorf("roomRepo.GetMembers scan: %w", err)
		}
		members = append(members, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("roomRepo.GetMembers rows: %w", err)
	}
	return members, nil
}

func (r *RoomRepository) ListForUser(ctx context.Context, userID string) ([]model.Room, error) {
	defer logger.DeferLogDuration("room.ListForUser", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT r.id, r.room_type, r.name, COALESCE(r.avatar_url,''), r.created_by, r.created_at
		 FROM rooms r
		 JOIN room_members rm ON rm.room_id = r.id
		 WHERE rm.user_id = $1
		 ORDER BY r.created_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("roomRepo.ListForUser query: %w", err)
	}
	defer rows.Close()

	out := make([]model.Room, 0, 16)
	for rows.Next() {
		var room model.Room
		if err := rows.Scan(&room.ID, &room.RoomType, &room.Name, &room.AvatarURL, &room.CreatedBy, &room.CreatedAt); err != nil {
			return nil, fmt.Errorf("roomRepo.ListForUser scan: %w", err)
		}
		out = append(out, room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("roomRepo.ListForUser rows: %w", err)
	}
	return out, nil
}
