package model

import "time"

type User struct {
	ID         string     `json:"id"`
	Username   string     `json:"username"`
	AvatarURL  string     `json:"avatar_url"`
	IsOnline   bool       `json:"is_online"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

type UserPublic struct {
	ID         string     `json:"id"`
	Username   string     `json:"username"`
	AvatarURL  string     `json:"avatar_url"`
	IsOnline   bool       `json:"is_online"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}

func (u *User) ToPublic() UserPublic {
	return UserPublic{
		ID:         u.ID,
		Username:   u.Username,
		AvatarURL:  u.AvatarURL,
		IsOnline:   u.IsOnline,
		LastSeenAt: u.LastSeenAt,
	}
}
