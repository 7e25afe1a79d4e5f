package model

import "time"

type RoomType string

const (
	RoomTypeDirect RoomType = "direct"
	RoomTypeGroup  RoomType = "group"
)

type Room struct {
	ID        string    `json:"id"`
	RoomType  RoomType  `json:"room_type"`
	Name      string    `json:"name"`
	AvatarURL string    `json:"avatar_url"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

type RoomMember struct {
	RoomID   string    `json:"room_id"`
	UserID   string    `json:"user_id"`
	JoinedAt time.Time `json:"joined_at"`
}

type RoomWithMembers struct {
	Room    Room         `json:"room"`
	Members []UserPublic `json:"members"`
}
