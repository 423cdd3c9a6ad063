package model

import "time"

type Role string

const (
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleMember    Role = "member"
)

type Member struct {
	UserID   string    `json:"user"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Channel keeps Members in join order; the creator is always first.
type Channel struct {
	ID           string    `json:"_id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	IsPrivate    bool      `json:"isPrivate"`
	CreatedBy    string    `json:"createdBy"`
	Members      []Member  `json:"members"`
	MessageCount int64     `json:"messageCount"`
	CreatedAt    time.Time `json:"createdAt"`
}

type MemberView struct {
	User     MemberUser `json:"user"`
	Role     Role       `json:"role"`
	JoinedAt time.Time  `json:"joinedAt"`
}

// ChannelView is a channel with its user references populated.
type ChannelView struct {
	ID           string       `json:"_id"`
	Name         string       `json:"name"`
	Description  string       `json:"description"`
	IsPrivate    bool         `json:"isPrivate"`
	CreatedBy    UserRef      `json:"createdBy"`
	Members      []MemberView `json:"members"`
	MessageCount int64        `json:"messageCount"`
	CreatedAt    time.Time    `json:"createdAt"`
}

type UnreadCount struct {
	ChannelID string `json:"channelId"`
	Count     int64  `json:"count"`
}
