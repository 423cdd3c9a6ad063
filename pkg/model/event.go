package model

// Realtime event names. Inbound events come from clients, the rest are emitted.
const (
	EventJoinChannel  = "join-channel"
	EventLeaveChannel = "leave-channel"
	EventSendMessage  = "send-message"
	EventTypingStart  = "typing-start"
	EventTypingStop   = "typing-stop"
	EventAddReaction  = "add-reaction"

	EventNewMessage      = "new-message"
	EventUserJoined      = "user-joined"
	EventUserLeft        = "user-left"
	EventUserOffline     = "user-offline"
	EventMemberCount     = "channel-member-count"
	EventUserTyping      = "user-typing"
	EventUserStopTyping  = "user-stop-typing"
	EventReactionUpdated = "reaction-updated"
	EventError           = "error"
)

// Envelope is the frame format on the websocket.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type PresenceNotice struct {
	User    string `json:"user"`
	Message string `json:"message,omitempty"`
}

type MemberCount struct {
	ChannelName string `json:"channelName"`
	MemberCount int    `json:"memberCount"`
}

type TypingNotice struct {
	User      string `json:"user"`
	ChannelID string `json:"channelId"`
}

type ReactionUpdate struct {
	MessageID int64      `json:"messageId,string"`
	Reactions []Reaction `json:"reactions"`
}

type ErrorNotice struct {
	Message string `json:"message"`
}
