package chat

import (
	"github.com/mahaj/chatrelay/pkg/apperr"
	"github.com/mahaj/chatrelay/pkg/model"
)

// Policy decides what happens when a non-member sends to a channel.
type Policy struct {
	Name string
	// AutoEnrollPublic adds the sender to a public channel as a member
	// instead of rejecting the send.
	AutoEnrollPublic bool
}

var (
	// AutoEnroll lets non-members post to public channels by joining them.
	AutoEnroll = Policy{Name: "auto-enroll", AutoEnrollPublic: true}
	// Strict rejects every non-member.
	Strict = Policy{Name: "strict"}
)

var errNotMember = apperr.New(apperr.Forbidden, "Not a member of this channel")

// Admit returns enroll=true when the sender must be added before sending.
func (p Policy) Admit(c *model.Channel, userID string) (enroll bool, err error) {
	if IsMember(c, userID) {
		return false, nil
	}
	if p.AutoEnrollPublic && !c.IsPrivate {
		return true, nil
	}
	return false, errNotMember
}
