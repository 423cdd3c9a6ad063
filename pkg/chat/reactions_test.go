package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mahaj/chatrelay/pkg/model"
)

func TestToggleReaction(t *testing.T) {
	tests := []struct {
		name  string
		in    []model.Reaction
		user  string
		emoji string
		want  []model.Reaction
	}{
		{
			name:  "first reaction creates entry",
			in:    nil,
			user:  "u1",
			emoji: "👍",
			want:  []model.Reaction{{Emoji: "👍", Users: []string{"u1"}}},
		},
		{
			name:  "second user joins existing entry",
			in:    []model.Reaction{{Emoji: "👍", Users: []string{"u1"}}},
			user:  "u2",
			emoji: "👍",
			want:  []model.Reaction{{Emoji: "👍", Users: []string{"u1", "u2"}}},
		},
		{
			name:  "removing last user drops entry",
			in:    []model.Reaction{{Emoji: "🎉", Users: []string{"u9"}}, {Emoji: "👍", Users: []string{"u1"}}},
			user:  "u1",
			emoji: "👍",
			want:  []model.Reaction{{Emoji: "🎉", Users: []string{"u9"}}},
		},
		{
			name:  "new emoji appended after existing ones",
			in:    []model.Reaction{{Emoji: "🎉", Users: []string{"u9"}}},
			user:  "u1",
			emoji: "👀",
			want:  []model.Reaction{{Emoji: "🎉", Users: []string{"u9"}}, {Emoji: "👀", Users: []string{"u1"}}},
		},
		{
			name:  "removing one of several users keeps entry",
			in:    []model.Reaction{{Emoji: "👍", Users: []string{"u1", "u2", "u3"}}},
			user:  "u2",
			emoji: "👍",
			want:  []model.Reaction{{Emoji: "👍", Users: []string{"u1", "u3"}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ToggleReaction(tt.in, tt.user, tt.emoji))
		})
	}
}

func TestToggleReactionTwiceRestores(t *testing.T) {
	start := []model.Reaction{
		{Emoji: "🎉", Users: []string{"u2"}},
		{Emoji: "👍", Users: []string{"u3", "u4"}},
	}
	for _, emoji := range []string{"🎉", "👍", "🔥"} {
		once := ToggleReaction(start, "u1", emoji)
		assert.Equal(t, start, ToggleReaction(once, "u1", emoji), emoji)
	}
}

func TestToggleReactionDoesNotMutateInput(t *testing.T) {
	in := []model.Reaction{{Emoji: "👍", Users: []string{"u1", "u2"}}}
	_ = ToggleReaction(in, "u1", "👍")
	_ = ToggleReaction(in, "u3", "👍")
	assert.Equal(t, []model.Reaction{{Emoji: "👍", Users: []string{"u1", "u2"}}}, in)
}
