// Package mockserver is a stand-in for the remote chat/retrieval service. It
// serves the five chat routes with the same payload shapes as the real
// service and answers queries with a canned reply instead of running
// retrieval.
package mockserver

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// ReplyFunc produces the assistant text for a query
type ReplyFunc func(query string) string

// DefaultReply mimics the placeholder answer of the chat area
func DefaultReply(query string) string {
	return fmt.Sprintf("I have analyzed your request regarding %q based on the uploaded knowledge base. Here is the relevant information...", query)
}

type Server struct {
	repo   *Repo
	reply  ReplyFunc
	logger *slog.Logger
}

type Option func(*Server)

func WithReply(f ReplyFunc) Option {
	return func(s *Server) { s.reply = f }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

func New(db *gorm.DB, opts ...Option) *Server {
	s := &Server{repo: NewRepo(db), reply: DefaultReply, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the gin engine serving the chat routes
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())

	r.NoRoute(func(c *gin.Context) {
		fail(c, http.StatusNotFound, "route not found")
	})

	chat := r.Group("/chat")
	chat.POST("/new_chat/", s.CreateChat)
	chat.GET("/fetch_chat_list/", s.ListChats)
	chat.GET("/fetch_messages/:chat_id/", s.FetchMessages)
	chat.POST("/upload_files/:chat_id/", s.UploadFile)
	chat.POST("/query/:chat_id/", s.Query)
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		s.logger.Debug("mock request", "method", c.Request.Method, "path", c.Request.URL.Path, "status", c.Writer.Status())
	}
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}

type createChatReq struct {
	Title string `json:"title"`
}

func (s *Server) CreateChat(c *gin.Context) {
	var req createChatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid json")
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		fail(c, http.StatusBadRequest, "title is required")
		return
	}

	conv, err := s.repo.CreateConversation(c.Request.Context(), title)
	if err != nil {
		fail(c, http.StatusInternalServerError, "failed to create chat")
		return
	}
	c.JSON(http.StatusCreated, toConversationDTO(*conv))
}

func (s *Server) ListChats(c *gin.Context) {
	convs, err := s.repo.ListConversations(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, "failed to list chats")
		return
	}
	out := make([]conversationDTO, 0, len(convs))
	for _, conv := range convs {
		out = append(out, toConversationDTO(conv))
	}
	c.JSON(http.StatusOK, out)
}

// FetchMessages returns the whole conversation with nested messages
func (s *Server) FetchMessages(c *gin.Context) {
	conv, ok := s.loadConversation(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toConversationDTO(*conv))
}

type queryReq struct {
	Query string `json:"query"`
}

// Query stores the user message and a generated llm message, returning the latter
func (s *Server) Query(c *gin.Context) {
	var req queryReq
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Query) == "" {
		fail(c, http.StatusBadRequest, "chat_id and query are required")
		return
	}
	conv, ok := s.loadConversation(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if _, err := s.repo.InsertMessage(ctx, conv.ID, "user", req.Query); err != nil {
		fail(c, http.StatusInternalServerError, "failed to store query")
		return
	}
	llm, err := s.repo.InsertMessage(ctx, conv.ID, "llm", s.reply(req.Query))
	if err != nil {
		fail(c, http.StatusInternalServerError, "failed to store reply")
		return
	}
	c.JSON(http.StatusCreated, toMessageDTO(*llm))
}

func (s *Server) UploadFile(c *gin.Context) {
	conv, ok := s.loadConversation(c)
	if !ok {
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		fail(c, http.StatusBadRequest, "file is required")
		return
	}
	f, err := fh.Open()
	if err != nil {
		fail(c, http.StatusBadRequest, "failed to open upload")
		return
	}
	defer f.Close()
	size, err := io.Copy(io.Discard, f)
	if err != nil {
		fail(c, http.StatusBadRequest, "failed to read upload")
		return
	}

	upload, err := s.repo.InsertUpload(c.Request.Context(), conv.ID, fh.Filename, size)
	if err != nil {
		fail(c, http.StatusInternalServerError, "failed to store upload")
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":      upload.ID,
		"chat_id": conv.ID,
		"file":    upload.Filename,
		"size":    upload.Size,
		"message": fmt.Sprintf("Inserted %d bytes from %s", upload.Size, upload.Filename),
	})
}

func (s *Server) loadConversation(c *gin.Context) (*Conversation, bool) {
	chatID := c.Param("chat_id")
	conv, err := s.repo.GetConversation(c.Request.Context(), chatID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			fail(c, http.StatusNotFound, "chat not found")
			return nil, false
		}
		fail(c, http.StatusInternalServerError, "failed to load chat")
		return nil, false
	}
	return conv, true
}
