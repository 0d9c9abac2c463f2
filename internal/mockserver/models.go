package mockserver

import "time"

type Conversation struct {
	Seq       uint64    `gorm:"primaryKey;autoIncrement"`
	ID        string    `gorm:"type:varchar(36);uniqueIndex;not null"`
	Title     string    `gorm:"type:varchar(300);not null"`
	CreatedAt time.Time
	Messages  []Message `gorm:"foreignKey:ConversationID;references:ID"`
}

func (Conversation) TableName() string { return "conversations" }

type Message struct {
	Seq            uint64    `gorm:"primaryKey;autoIncrement"`
	ID             string    `gorm:"type:varchar(36);uniqueIndex;not null"`
	ConversationID string    `gorm:"type:varchar(36);index;not null"`
	UserType       string    `gorm:"type:varchar(20);not null"`
	Text           string    `gorm:"type:text;not null"`
	CreatedAt      time.Time
}

func (Message) TableName() string { return "messages" }

type Upload struct {
	Seq            uint64 `gorm:"primaryKey;autoIncrement"`
	ID             string `gorm:"type:varchar(36);uniqueIndex;not null"`
	ConversationID string `gorm:"type:varchar(36);index;not null"`
	Filename       string `gorm:"type:varchar(255);not null"`
	Size           int64  `gorm:"not null"`
	CreatedAt      time.Time
}

func (Upload) TableName() string { return "uploads" }

type messageDTO struct {
	ID           string `json:"id"`
	UserType     string `json:"user_type"`
	Text         string `json:"text"`
	Conversation string `json:"conversation"`
}

type conversationDTO struct {
	ID        string       `json:"id"`
	Title     string       `json:"title"`
	CreatedAt time.Time    `json:"created_at"`
	Messages  []messageDTO `json:"messages"`
}

func toMessageDTO(m Message) messageDTO {
	return messageDTO{ID: m.ID, UserType: m.UserType, Text: m.Text, Conversation: m.ConversationID}
}

func toConversationDTO(c Conversation) conversationDTO {
	out := conversationDTO{ID: c.ID, Title: c.Title, CreatedAt: c.CreatedAt, Messages: []messageDTO{}}
	for _, m := range c.Messages {
		out.Messages = append(out.Messages, toMessageDTO(m))
	}
	return out
}
