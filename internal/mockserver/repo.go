package mockserver

import (
	"context"
	"fmt"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// OpenDB opens a sqlite database for the mock service and migrates its tables.
// An empty dsn selects a private in-memory database.
func OpenDB(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		dsn = fmt.Sprintf("file:mock-%s?mode=memory&cache=shared", uuid.NewString())
	}
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open mock database: %w", err)
	}
	if err := db.AutoMigrate(&Conversation{}, &Message{}, &Upload{}); err != nil {
		return nil, fmt.Errorf("failed to migrate mock database: %w", err)
	}
	return db, nil
}

func (r *Repo) CreateConversation(ctx context.Context, title string) (*Conversation, error) {
	c := &Conversation{ID: uuid.NewString(), Title: title}
	if err := r.db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, err
	}
	c.Messages = []Message{}
	return c, nil
}

// ListConversations returns conversations newest first, without messages.
func (r *Repo) ListConversations(ctx context.Context) ([]Conversation, error) {
	var convs []Conversation
	if err := r.db.WithContext(ctx).Order("seq DESC").Find(&convs).Error; err != nil {
		return nil, err
	}
	return convs, nil
}

// GetConversation returns a conversation with its messages in insertion order.
func (r *Repo) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var c Conversation
	err := r.db.WithContext(ctx).
		Preload("Messages", func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") }).
		Where("id = ?", id).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repo) InsertMessage(ctx context.Context, conversationID, userType, text string) (*Message, error) {
	m := &Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		UserType:       userType,
		Text:           text,
	}
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, err
	}
	return m, nil
}

func (r *Repo) InsertUpload(ctx context.Context, conversationID, filename string, size int64) (*Upload, error) {
	u := &Upload{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Filename:       filename,
		Size:           size,
	}
	if err := r.db.WithContext(ctx).Create(u).Error; err != nil {
		return nil, err
	}
	return u, nil
}

func (r *Repo) CountUploads(ctx context.Context, conversationID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Upload{}).
		Where("conversation_id = ?", conversationID).
		Count(&n).Error
	return n, err
}
