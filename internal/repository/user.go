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

var ErrNotFound = errors.New("not found")

const userCols = `id, username, COALESCE(avatar_url,''), is_online, last_seen_at, created_at`

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func scanUser(s interface{ Scan(dest ...any) error }, u *model.User) error {
	return s.Scan(&u.ID, &u.Username, &u.AvatarURL, &u.IsOnline, &u.LastSeenAt, &u.CreatedAt)
}

func (r *UserRepository) Create(ctx context.Context, u *model.User) error {
	defer logger.DeferLogDuration("user.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (id, username, avatar_url, is_online, last_seen_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.Username, u.AvatarURL, u.IsOnline, u.LastSeenAt, u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("userRepo.Create: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetByID", time.Now())()
	u := &model.User{}
	row := r.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id)
	if err := scanUser(row, u); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("userRepo.GetByID: %w", err)
	}
	return u, nil
}

// Search returns users whose username contains q (case-insensitive),
// excluding excludeID, ordered by username. An empty q lists everyone else.
func (r *UserRepository) Search(ctx context.Context, q, excludeID string, limit int) ([]model.User, error) {
	defer logger.DeferLogDuration("user.Search", time.Now())()
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+userCols+` FROM users
		 WHERE id <> $1 AND username ILIKE '%' || $2 || '%'
		 ORDER BY username
		 LIMIT $3`, excludeID, q, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("userRepo.Search query: %w", err)
	}
	defer rows.Close()

	users := make([]model.User, 0, limit)
	for rows.Next() {
		var u model.User
		if err := scanUser(rows, &u); err != nil {
			return nil, fmt.Errorf("userRepo.Search scan: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("userRepo.Search rows: %w", err)
	}
	return users, nil
}

// SetOnline persists the presence flag. Going offline stamps last_seen_at;
// coming online clears it so the at-rest row mirrors the registry invariant.
func (r *UserRepository) SetOnline(ctx context.Context, id string, online bool, lastSeen time.Time) error {
	defer logger.DeferLogDuration("user.SetOnline", time.Now())()
	var err error
	if online {
		_, err = r.pool.Exec(ctx,
			`UPDATE users SET is_online = true, last_seen_at = NULL WHERE id = $1`, id)
	} else {
		_, err = r.pool.Exec(ctx,
			`UPDATE users SET is_online = false, last_seen_at = $2 WHERE id = $1`, id, lastSeen)
	}
	if err != nil {
		return fmt.Errorf("userRepo.SetOnline: %w", err)
	}
	return nil
}

// ResetAllOnline clears every online flag; run at startup so state left by
// an unclean shutdown does not leak into the new process.
func (r *UserRepository) ResetAllOnline(ctx context.Context) error {
	defer logger.DeferLogDuration("user.ResetAllOnline", time.Now())()
	_, err := r.pool.Exec(ctx, `UPDATE users SET is_online = false`)
	if err != nil {
		return fmt.Errorf("userRepo.ResetAllOnline: %w", err)
	}
	return nil
}
