package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chatrelay/internal/model"
)

func TestUserRepository(t *testing.T) {
	pool := startTestDB(t)
	ctx := context.Background()
	repo := NewUserRepository(pool)

	now := time.Now().UTC()
	for _, u := range []struct{ id, name string }{
		{"u-alice", "Alice"},
		{"u-bob", "Bob"},
		{"u-alina", "Alina"},
	} {
		require.NoError(t, repo.Create(ctx, &model.User{ID: u.id, Username: u.name, CreatedAt: now}))
	}

	t.Run("search excludes the caller", func(t *testing.T) {
		req := require.New(t)
		users, err := repo.Search(ctx, "", "u-alice", 50)
		req.NoError(err)
		req.Len(users, 2)
		for _, u := range users {
			req.NotEqual("u-alice", u.ID)
		}
	})

	t.Run("search matches case-insensitive substrings ordered by name", func(t *testing.T) {
		req := require.New(t)
		users, err := repo.Search(ctx, "ali", "u-bob", 50)
		req.NoError(err)
		req.Len(users, 2)
		req.Equal("Alice", users[0].Username)
		req.Equal("Alina", users[1].Username)
	})

	t.Run("set online round trip", func(t *testing.T) {
		req := require.New(t)
		lastSeen := now.Add(time.Minute)
		req.NoError(repo.SetOnline(ctx, "u-bob", false, lastSeen))
		u, err := repo.GetByID(ctx, "u-bob")
		req.NoError(err)
		req.False(u.IsOnline)
		req.NotNil(u.LastSeenAt)

		// Coming back online clears the stamp
		req.NoError(repo.SetOnline(ctx, "u-bob", true, time.Time{}))
		u, err = repo.GetByID(ctx, "u-bob")
		req.NoError(err)
		req.True(u.IsOnline)
		req.Nil(u.LastSeenAt)
	})
}
