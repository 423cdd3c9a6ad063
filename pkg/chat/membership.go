package chat

import (
	"slices"

	"github.com/mahaj/chatrelay/pkg/model"
)

// IsMember reports whether userID is in the channel's member list. It is the
// one authorization check used for sending and reacting.
func IsMember(c *model.Channel, userID string) bool {
	return FindMember(c.Members, userID) >= 0
}

// FindMember returns the index of userID in members, or -1.
func FindMember(members []model.Member, userID string) int {
	for i := range members {
		if members[i].UserID == userID {
			return i
		}
	}
	return -1
}

// RemoveMember returns members without userID. The input is not modified.
func RemoveMember(members []model.Member, userID string) []model.Member {
	return slices.DeleteFunc(slices.Clone(members), func(m model.Member) bool {
		return m.UserID == userID
	})
}
