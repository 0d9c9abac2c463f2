package backend

import (
	"bytes"
	"encoding/json"
	"fmt"

	"NexusChat/internal/conversation"
)

// CreateChatRequest represents the request body for new_chat
type CreateChatRequest struct {
	Title string `json:"title"`
}

// QueryRequest represents the request body for query
type QueryRequest struct {
	Query string `json:"query"`
}

// MessageRecord is a message as the remote service serializes it.
// Older payloads use user_type/text, newer ones role/content.
type MessageRecord struct {
	ID       conversation.ID `json:"id"`
	UserType string          `json:"user_type,omitempty"`
	Role     string          `json:"role,omitempty"`
	Text     *string         `json:"text,omitempty"`
	Content  *string         `json:"content,omitempty"`
}

// Message converts the record into a confirmed conversation message
func (m MessageRecord) Message() conversation.Message {
	role := m.Role
	if role == "" {
		role = m.UserType
	}
	text := ""
	switch {
	case m.Text != nil:
		text = *m.Text
	case m.Content != nil:
		text = *m.Content
	}
	return conversation.Message{
		ID:     m.ID,
		Role:   conversation.ParseRole(role),
		Text:   text,
		Status: conversation.StatusConfirmed,
	}
}

// ChatRecord represents a conversation returned by the remote service
type ChatRecord struct {
	ID        conversation.ID `json:"id"`
	Title     string          `json:"title"`
	CreatedAt string          `json:"created_at,omitempty"`
	Messages  []MessageRecord `json:"messages,omitempty"`
}

// Chat converts the record into a conversation chat
func (c ChatRecord) Chat() conversation.Chat {
	chat := conversation.Chat{
		ID:       c.ID,
		Title:    c.Title,
		Messages: []conversation.Message{},
	}
	for _, m := range c.Messages {
		chat.Messages = append(chat.Messages, m.Message())
	}
	return chat
}

// MessageList decodes fetch_messages responses. The endpoint has been seen
// returning either a bare array of messages or the whole conversation with the
// messages nested under "messages".
type MessageList []MessageRecord

// UnmarshalJSON accepts both response shapes
func (l *MessageList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var records []MessageRecord
		if err := json.Unmarshal(data, &records); err != nil {
			return err
		}
		*l = records
		return nil
	}
	var chat ChatRecord
	if err := json.Unmarshal(data, &chat); err != nil {
		return fmt.Errorf("expected message array or conversation object: %w", err)
	}
	*l = chat.Messages
	return nil
}

// Messages converts the list into confirmed conversation messages
func (l MessageList) Messages() []conversation.Message {
	out := make([]conversation.Message, 0, len(l))
	for _, m := range l {
		out = append(out, m.Message())
	}
	return out
}

// QueryResponse represents the reply to a query. Text is the contract field;
// Content and Answer are accepted for servers that still send them.
type QueryResponse struct {
	ID      conversation.ID `json:"id,omitempty"`
	Text    *string         `json:"text,omitempty"`
	Content *string         `json:"content,omitempty"`
	Answer  *string         `json:"answer,omitempty"`
}

// Reply returns the first of text, content and answer that is present
func (r QueryResponse) Reply() string {
	switch {
	case r.Text != nil:
		return *r.Text
	case r.Content != nil:
		return *r.Content
	case r.Answer != nil:
		return *r.Answer
	}
	return ""
}

// UploadAck is the server acknowledgment for an uploaded file. Its shape is
// defined by the server, so it is kept as a generic object.
type UploadAck map[string]any
