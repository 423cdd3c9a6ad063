package model

import "time"

type MessageType string

const (
	MessageText   MessageType = "text"
	MessageFile   MessageType = "file"
	MessageSystem MessageType = "system"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageFile, MessageSystem:
		return true
	}
	return false
}

type Reaction struct {
	Emoji string   `json:"emoji"`
	Users []string `json:"users"`
}

// Message ids are snowflakes, rendered as strings on the wire.
type Message struct {
	ID        int64       `json:"_id,string"`
	ChannelID string      `json:"channelId"`
	AuthorID  string      `json:"userId"`
	Content   string      `json:"content"`
	Type      MessageType `json:"messageType"`
	FileURL   string      `json:"fileUrl,omitempty"`
	FileName  string      `json:"fileName,omitempty"`
	Reactions []Reaction  `json:"reactions"`
	IsEdited  bool        `json:"isEdited"`
	EditedAt  *time.Time  `json:"editedAt,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
}

type MessageView struct {
	ID        int64       `json:"_id,string"`
	ChannelID string      `json:"channelId"`
	User      UserRef     `json:"userId"`
	Content   string      `json:"content"`
	Type      MessageType `json:"messageType"`
	FileURL   string      `json:"fileUrl,omitempty"`
	FileName  string      `json:"fileName,omitempty"`
	Reactions []Reaction  `json:"reactions"`
	IsEdited  bool        `json:"isEdited"`
	EditedAt  *time.Time  `json:"editedAt,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
}

func NewMessageView(m *Message, author UserRef) MessageView {
	reactions := m.Reactions
	if reactions == nil {
		reactions = []Reaction{}
	}
	return MessageView{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		User:      author,
		Content:   m.Content,
		Type:      m.Type,
		FileURL:   m.FileURL,
		FileName:  m.FileName,
		Reactions: reactions,
		IsEdited:  m.IsEdited,
		EditedAt:  m.EditedAt,
		CreatedAt: m.CreatedAt,
	}
}
