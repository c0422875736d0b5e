package store

// Message is one mirrored timeline message.
type Message struct {
	ID             int64
	ConversationID int64
	MsgID          int64
	SenderID       int64
	Body           string
	Timestamp      int64
	EditedAt       int64
	Deleted        bool
	Readers        int
}

// Dialog is one mirrored dialog summary.
type Dialog struct {
	ConversationID int64
	Name           string
	LastMessageID  int64
	LastMessage    string
	LastTime       int64
	Unread         int
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message Message
	Snippet string
}

// Counts summarizes the mirror contents.
type Counts struct {
	Messages      int
	Conversations int
	Dialogs       int
}
