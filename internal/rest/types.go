package rest

import (
	"github.com/matheus3301/chatsync/internal/dialog"
	"github.com/matheus3301/chatsync/internal/frame"
	"github.com/matheus3301/chatsync/internal/profile"
	"github.com/matheus3301/chatsync/internal/timeline"
)

// User is a backend user record.
type User struct {
	ID          int64   `json:"id"`
	Username    *string `json:"username"`
	DisplayName *string `json:"display_name"`
	Phone       *string `json:"phone"`
}

// Profile converts the record for the profile cache.
func (u User) Profile() profile.Profile {
	return profile.Profile{
		ID:          u.ID,
		Username:    deref(u.Username),
		DisplayName: deref(u.DisplayName),
		Phone:       deref(u.Phone),
	}
}

// Message is a history message as returned by the REST API.
type Message struct {
	Type      string       `json:"type"`
	ID        int64        `json:"id"`
	ChatID    int64        `json:"chatID"`
	SenderID  int64        `json:"senderID"`
	Text      string       `json:"message"`
	CreatedAt frame.Millis `json:"createdAt"`
	UpdatedAt frame.Millis `json:"updatedAt"`
	DeletedAt *string      `json:"deletedAt"`
}

// Timeline converts the record for the timeline store. updatedAt only
// counts as an edit when it is strictly after createdAt.
func (m Message) Timeline() timeline.Message {
	out := timeline.Message{
		ID:             m.ID,
		ConversationID: m.ChatID,
		SenderID:       m.SenderID,
		Text:           m.Text,
		Timestamp:      int64(m.CreatedAt),
		Deleted:        m.DeletedAt != nil && *m.DeletedAt != "",
	}
	if m.UpdatedAt > m.CreatedAt {
		out.EditedAt = int64(m.UpdatedAt)
	}
	return out
}

// Chat is one row of the chat list.
type Chat struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	LastMessage *Message `json:"lastMessage"`
}

// Dialog converts the row for the dialog index.
func (c Chat) Dialog() dialog.Dialog {
	return dialog.Dialog{ID: c.ID, Name: c.Name}
}

// Pagination describes the cursors around a history page.
type Pagination struct {
	NextCursor     string `json:"nextCursor"`
	PreviousCursor string `json:"previousCursor"`
	HasNext        bool   `json:"hasNext"`
	HasPrevious    bool   `json:"hasPrevious"`
	Limit          int    `json:"limit"`
	TotalCount     int    `json:"totalCount"`
}

// MessagesPage is one page of chat history.
type MessagesPage struct {
	Data       []Message  `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// Timeline converts every message of the page, skipping ones without an id.
func (p MessagesPage) Timeline(chatID int64) []timeline.Message {
	out := make([]timeline.Message, 0, len(p.Data))
	for _, m := range p.Data {
		if m.ID <= 0 {
			continue
		}
		tm := m.Timeline()
		tm.ConversationID = chatID
		out = append(out, tm)
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
