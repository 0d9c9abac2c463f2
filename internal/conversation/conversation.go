package conversation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Role identifies who authored a message
type Role string

const (
	RoleUser Role = "user"
	RoleAI   Role = "ai"
)

// ParseRole normalizes the role names used on the wire ("llm", "assistant") to RoleAI
func ParseRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user":
		return RoleUser
	case "ai", "llm", "assistant":
		return RoleAI
	default:
		return Role(s)
	}
}

// Status tracks whether the server has acknowledged a message
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// ID is an opaque identifier. The remote service hands out both numeric and
// string ids, so decoding accepts either and keeps the textual form.
type ID string

// UnmarshalJSON accepts a JSON string or number
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string {
	return string(id)
}

// Message represents a single turn in a chat
type Message struct {
	ID     ID     `json:"id"`
	Role   Role   `json:"role"`
	Text   string `json:"text"`
	Image  string `json:"image,omitempty"` // data URL, never sent to the server
	Status Status `json:"status"`
}

// Chat represents a named conversation session
type Chat struct {
	ID       ID        `json:"id"`
	Title    string    `json:"title"`
	Messages []Message `json:"messages"`

	// revision is stamped by the store on every mutation of this chat.
	revision uint64
}

// Revision returns the store revision of the last mutation of this chat
func (c *Chat) Revision() uint64 {
	return c.revision
}

// SetRevision stamps the chat with a store revision
func (c *Chat) SetRevision(rev uint64) {
	c.revision = rev
}

// Clone returns a deep copy of the chat
func (c Chat) Clone() Chat {
	out := c
	if c.Messages != nil {
		out.Messages = make([]Message, len(c.Messages))
		copy(out.Messages, c.Messages)
	}
	return out
}

// FindMessage returns the index of the message with the given id, or -1
func (c *Chat) FindMessage(id ID) int {
	for i := range c.Messages {
		if c.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

// State is the full synchronizer state mirrored to persistence
type State struct {
	Chats        []Chat  `json:"chats"`
	ActiveChatID *ID     `json:"activeChatId"`
	IsLoading    bool    `json:"isLoading"`
	IsUploading  bool    `json:"isUploading"`
	Error        *string `json:"error"`
}

// NewState returns the cold-start defaults
func NewState() State {
	return State{Chats: []Chat{}}
}

// Clone returns a deep copy of the state
func (s State) Clone() State {
	out := State{
		IsLoading:   s.IsLoading,
		IsUploading: s.IsUploading,
	}
	if s.Chats != nil {
		out.Chats = make([]Chat, len(s.Chats))
		for i := range s.Chats {
			out.Chats[i] = s.Chats[i].Clone()
		}
	}
	if s.ActiveChatID != nil {
		id := *s.ActiveChatID
		out.ActiveChatID = &id
	}
	if s.Error != nil {
		msg := *s.Error
		out.Error = &msg
	}
	return out
}

// ChatIndex returns the index of the chat with the given id, or -1
func (s *State) ChatIndex(id ID) int {
	for i := range s.Chats {
		if s.Chats[i].ID == id {
			return i
		}
	}
	return -1
}

// Chat returns a pointer into Chats for the given id
func (s *State) Chat(id ID) (*Chat, bool) {
	i := s.ChatIndex(id)
	if i < 0 {
		return nil, false
	}
	return &s.Chats[i], true
}

// ActiveChat returns the chat referenced by ActiveChatID, if loaded
func (s *State) ActiveChat() (*Chat, bool) {
	if s.ActiveChatID == nil {
		return nil, false
	}
	return s.Chat(*s.ActiveChatID)
}

// ErrorMessage returns the current error or the empty string
func (s State) ErrorMessage() string {
	if s.Error == nil {
		return ""
	}
	return *s.Error
}
