package model

import "time"

type User struct {
	ID           string    `json:"_id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	IsOnline     bool      `json:"isOnline"`
	LastSeen     time.Time `json:"lastSeen"`
	CreatedAt    time.Time `json:"createdAt"`
}

// UserRef is the populated form of a user reference.
type UserRef struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
}

type MemberUser struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
	IsOnline bool   `json:"isOnline"`
}

func (u *User) Ref() UserRef {
	return UserRef{ID: u.ID, Username: u.Username}
}
