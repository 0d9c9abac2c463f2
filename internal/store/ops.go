package store

import (
	"context"
	"io"

	"NexusChat/internal/backend"
	"NexusChat/internal/conversation"
)

// ListChats replaces chats with the server list. On failure the cached chats
// stay and the error is recorded.
func (s *Store) ListChats(ctx context.Context) error {
	s.update(ctx, func(st *conversation.State) {
		st.IsLoading = true
		st.Error = nil
	})

	records, err := s.gateway.ListChats(ctx)
	if err != nil {
		s.logger.Error("failed to list chats", "error", err)
		s.update(ctx, func(st *conversation.State) {
			setError(st, err)
			st.IsLoading = false
		})
		return err
	}

	s.update(ctx, func(st *conversation.State) {
		chats := make([]conversation.Chat, 0, len(records))
		for _, r := range records {
			chat := r.Chat()
			s.touch(&chat)
			chats = append(chats, chat)
		}
		st.Chats = chats
		st.IsLoading = false
	})
	s.logger.Info("listed chats", "count", len(records))
	return nil
}

// CreateChat creates a chat on the server and makes it the active chat. The
// chat only appears once the server has confirmed it.
func (s *Store) CreateChat(ctx context.Context, title string) (conversation.Chat, error) {
	s.update(ctx, func(st *conversation.State) {
		st.IsLoading = true
	})

	record, err := s.gateway.CreateChat(ctx, title)
	if err != nil {
		s.logger.Error("failed to create chat", "title", title, "error", err)
		s.update(ctx, func(st *conversation.State) {
			setError(st, err)
			st.IsLoading = false
		})
		return conversation.Chat{}, err
	}

	chat := record.Chat()
	s.update(ctx, func(st *conversation.State) {
		s.touch(&chat)
		if i := st.ChatIndex(chat.ID); i >= 0 {
			st.Chats = append(st.Chats[:i], st.Chats[i+1:]...)
		}
		st.Chats = append([]conversation.Chat{chat.Clone()}, st.Chats...)
		id := chat.ID
		st.ActiveChatID = &id
		st.IsLoading = false
	})
	s.logger.Info("created chat", "chat_id", chat.ID, "title", chat.Title)
	return chat, nil
}

// SelectChat makes chatID active right away and then refreshes its history.
// A history response is dropped if the chat changed while it was in flight
// and the revision guard is on.
func (s *Store) SelectChat(ctx context.Context, chatID conversation.ID) error {
	var startRev uint64
	s.update(ctx, func(st *conversation.State) {
		id := chatID
		st.ActiveChatID = &id
		st.IsLoading = true
		if chat, ok := st.Chat(chatID); ok {
			startRev = chat.Revision()
		}
	})

	list, err := s.gateway.FetchMessages(ctx, chatID)
	if err != nil {
		s.logger.Error("failed to fetch messages", "chat_id", chatID, "error", err)
		s.update(ctx, func(st *conversation.State) {
			setError(st, err)
			st.IsLoading = false
		})
		return err
	}

	messages := list.Messages()
	s.update(ctx, func(st *conversation.State) {
		st.IsLoading = false
		chat, ok := st.Chat(chatID)
		if !ok {
			s.logger.Warn("fetched history for a chat that is not loaded", "chat_id", chatID)
			return
		}
		if s.guard && chat.Revision() != startRev {
			s.logger.Info("discarding stale history", "chat_id", chatID,
				"started_at", startRev, "current", chat.Revision())
			return
		}
		chat.Messages = messages
		s.touch(chat)
	})
	s.logger.Debug("selected chat", "chat_id", chatID, "messages", len(messages))
	return nil
}

// UploadFile sends a file to the server. The error is returned rather than
// recorded in state.
func (s *Store) UploadFile(ctx context.Context, chatID conversation.ID, filename string, r io.Reader) (backend.UploadAck, error) {
	s.update(ctx, func(st *conversation.State) {
		st.IsUploading = true
	})
	defer s.update(ctx, func(st *conversation.State) {
		st.IsUploading = false
	})

	ack, err := s.gateway.UploadFile(ctx, chatID, filename, r)
	if err != nil {
		s.logger.Error("failed to upload file", "chat_id", chatID, "file", filename, "error", err)
		return nil, err
	}
	s.logger.Info("uploaded file", "chat_id", chatID, "file", filename)
	return ack, nil
}

// QueryOption adjusts the optimistic user message
type QueryOption func(*conversation.Message)

// WithImage attaches a data URL to the user message. It is kept locally only.
func WithImage(dataURL string) QueryOption {
	return func(m *conversation.Message) { m.Image = dataURL }
}

// SendQuery appends a pending user message, submits the query and appends
// the reply. On failure the user message is kept and marked failed.
func (s *Store) SendQuery(ctx context.Context, chatID conversation.ID, content string, opts ...QueryOption) (conversation.Message, error) {
	var userID conversation.ID
	s.update(ctx, func(st *conversation.State) {
		userID = s.nextLocalID()
		msg := conversation.Message{
			ID:     userID,
			Role:   conversation.RoleUser,
			Text:   content,
			Status: conversation.StatusPending,
		}
		for _, opt := range opts {
			opt(&msg)
		}
		chat, ok := st.Chat(chatID)
		if !ok {
			s.logger.Warn("query for a chat that is not loaded", "chat_id", chatID)
			return
		}
		chat.Messages = append(chat.Messages, msg)
		s.touch(chat)
	})

	reply, err := s.gateway.SubmitQuery(ctx, chatID, content)
	if err != nil {
		s.logger.Error("failed to submit query", "chat_id", chatID, "error", err)
		s.update(ctx, func(st *conversation.State) {
			s.setStatus(st, chatID, userID, conversation.StatusFailed)
			setError(st, err)
		})
		return conversation.Message{}, err
	}

	var aiMsg conversation.Message
	s.update(ctx, func(st *conversation.State) {
		aiMsg = conversation.Message{
			ID:     reply.ID,
			Role:   conversation.RoleAI,
			Text:   reply.Reply(),
			Status: conversation.StatusConfirmed,
		}
		if aiMsg.ID == "" {
			aiMsg.ID = s.nextLocalID()
		}
		s.setStatus(st, chatID, userID, conversation.StatusConfirmed)
		chat, ok := st.Chat(chatID)
		if !ok {
			return
		}
		chat.Messages = append(chat.Messages, aiMsg)
		s.touch(chat)
	})
	return aiMsg, nil
}

// setStatus transitions a message in place. Callers hold s.mu.
func (s *Store) setStatus(st *conversation.State, chatID, msgID conversation.ID, status conversation.Status) {
	chat, ok := st.Chat(chatID)
	if !ok {
		return
	}
	i := chat.FindMessage(msgID)
	if i < 0 {
		// a history refresh replaced the optimistic entry
		return
	}
	chat.Messages[i].Status = status
	s.touch(chat)
}
