package chat

import (
	"slices"

	"github.com/mahaj/chatrelay/pkg/model"
)

// ToggleReaction adds userID to the emoji's reaction or removes it when
// already present. A reaction whose user list empties is dropped; a new
// emoji is appended at the end. The input slice is left untouched.
func ToggleReaction(reactions []model.Reaction, userID, emoji string) []model.Reaction {
	out := make([]model.Reaction, 0, len(reactions)+1)
	found := false
	for _, r := range reactions {
		if r.Emoji != emoji {
			out = append(out, model.Reaction{Emoji: r.Emoji, Users: slices.Clone(r.Users)})
			continue
		}
		found = true
		if i := slices.Index(r.Users, userID); i >= 0 {
			users := slices.Delete(slices.Clone(r.Users), i, i+1)
			if len(users) > 0 {
				out = append(out, model.Reaction{Emoji: emoji, Users: users})
			}
			continue
		}
		out = append(out, model.Reaction{Emoji: emoji, Users: append(slices.Clone(r.Users), userID)})
	}
	if !found {
		out = append(out, model.Reaction{Emoji: emoji, Users: []string{userID}})
	}
	return out
}
