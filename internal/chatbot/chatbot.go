package chatbot

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"

	"NexusChat/internal/conversation"
	"NexusChat/internal/store"
)

var (
	userColor   = color.New(color.Bold)
	aiColor     = color.New(color.FgCyan)
	infoColor   = color.New(color.FgGreen)
	errorColor  = color.New(color.FgRed)
	statusColor = color.New(color.FgYellow)
)

// ChatBot is the interactive console over a conversation store
type ChatBot struct {
	store     *store.Store
	logger    *slog.Logger
	sessionID string
	in        io.Reader
	out       io.Writer
}

// NewChatBot creates a console reading commands from in and writing to out
func NewChatBot(s *store.Store, sessionID string, in io.Reader, out io.Writer, logger *slog.Logger) *ChatBot {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatBot{
		store:     s,
		logger:    logger,
		sessionID: sessionID,
		in:        in,
		out:       out,
	}
}

func (cb *ChatBot) printf(format string, args ...any) {
	fmt.Fprintf(cb.out, format, args...)
}

// activeChatID returns the active chat id or an error telling the user to pick one
func (cb *ChatBot) activeChatID() (conversation.ID, error) {
	st := cb.store.Snapshot()
	if st.ActiveChatID == nil {
		return "", fmt.Errorf("no active chat, use /new <title> or /select <id>")
	}
	return *st.ActiveChatID, nil
}

// sendMessage submits text to the active chat and prints the reply
func (cb *ChatBot) sendMessage(ctx context.Context, text string, opts ...store.QueryOption) error {
	chatID, err := cb.activeChatID()
	if err != nil {
		return err
	}
	reply, err := cb.store.SendQuery(ctx, chatID, text, opts...)
	if err != nil {
		return err
	}
	aiColor.Fprintf(cb.out, "AI: ")
	cb.printf("%s\n\n", reply.Text)
	return nil
}

func (cb *ChatBot) printChats() {
	st := cb.store.Snapshot()
	if len(st.Chats) == 0 {
		cb.printf("No chats yet. Use /new <title> to start one.\n")
		return
	}
	cb.printf("\nChats:\n")
	for i, chat := range st.Chats {
		current := ""
		if st.ActiveChatID != nil && *st.ActiveChatID == chat.ID {
			current = " (active)"
		}
		cb.printf("%d. [%s] %s%s\n", i+1, chat.ID, chat.Title, current)
	}
	cb.printf("\n")
}

func (cb *ChatBot) printHistory() error {
	chat, ok := cb.store.ActiveChat()
	if !ok {
		return fmt.Errorf("no active chat loaded")
	}
	infoColor.Fprintf(cb.out, "\n=== %s ===\n", chat.Title)
	if len(chat.Messages) == 0 {
		cb.printf("(no messages)\n\n")
		return nil
	}
	for _, msg := range chat.Messages {
		switch msg.Role {
		case conversation.RoleUser:
			userColor.Fprintf(cb.out, "You: ")
		default:
			aiColor.Fprintf(cb.out, "AI: ")
		}
		cb.printf("%s", msg.Text)
		if msg.Image != "" {
			cb.printf(" [image]")
		}
		if msg.Status != conversation.StatusConfirmed {
			statusColor.Fprintf(cb.out, " (%s)", msg.Status)
		}
		cb.printf("\n")
	}
	cb.printf("\n")
	return nil
}

func (cb *ChatBot) uploadFile(ctx context.Context, path string) error {
	chatID, err := cb.activeChatID()
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	cb.printf("Uploading %s...\n", filepath.Base(path))
	ack, err := cb.store.UploadFile(ctx, chatID, filepath.Base(path), f)
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	if msg, ok := ack["message"].(string); ok && msg != "" {
		infoColor.Fprintf(cb.out, "%s\n", msg)
	} else {
		infoColor.Fprintf(cb.out, "Uploaded %s\n", filepath.Base(path))
	}
	return nil
}

// imageDataURL reads an image file into a data URL
func imageDataURL(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return "", fmt.Errorf("%s is not an image (%s)", path, mime)
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// handleCommand handles special commands
func (cb *ChatBot) handleCommand(ctx context.Context, cmd string) (bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false, nil
	}
	arg := strings.TrimSpace(strings.TrimPrefix(cmd, parts[0]))

	switch parts[0] {
	case "/quit", "/exit":
		return true, nil

	case "/list":
		if err := cb.store.ListChats(ctx); err != nil {
			return false, fmt.Errorf("failed to list chats: %w", err)
		}
		cb.printChats()
		return false, nil

	case "/new":
		if arg == "" {
			return false, fmt.Errorf("usage: /new <title>")
		}
		chat, err := cb.store.CreateChat(ctx, arg)
		if err != nil {
			return false, fmt.Errorf("failed to create chat: %w", err)
		}
		infoColor.Fprintf(cb.out, "Created chat [%s] %s\n", chat.ID, chat.Title)
		return false, nil

	case "/select":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /select <chat id>")
		}
		if err := cb.store.SelectChat(ctx, conversation.ID(parts[1])); err != nil {
			return false, fmt.Errorf("failed to load chat: %w", err)
		}
		return false, cb.printHistory()

	case "/history":
		return false, cb.printHistory()

	case "/upload":
		if arg == "" {
			return false, fmt.Errorf("usage: /upload <path>")
		}
		return false, cb.uploadFile(ctx, arg)

	case "/image":
		if len(parts) < 3 {
			return false, fmt.Errorf("usage: /image <path> <message>")
		}
		dataURL, err := imageDataURL(parts[1])
		if err != nil {
			return false, err
		}
		text := strings.TrimSpace(strings.TrimPrefix(arg, parts[1]))
		return false, cb.sendMessage(ctx, text, store.WithImage(dataURL))

	case "/state":
		data, err := json.MarshalIndent(cb.store.Snapshot(), "", "  ")
		if err != nil {
			return false, fmt.Errorf("failed to encode state: %w", err)
		}
		cb.printf("%s\n", data)
		return false, nil

	case "/clear-error":
		cb.store.ClearError(ctx)
		cb.printf("Error cleared\n")
		return false, nil

	case "/reset":
		if err := cb.store.Reset(ctx); err != nil {
			return false, fmt.Errorf("failed to reset state: %w", err)
		}
		cb.printf("Local state cleared\n")
		return false, nil

	case "/help":
		cb.printf("Available commands:\n")
		cb.printf("  /list                  - Fetch and list chats\n")
		cb.printf("  /new <title>           - Create a chat and make it active\n")
		cb.printf("  /select <id>           - Make a chat active and load its history\n")
		cb.printf("  /history               - Show the active chat\n")
		cb.printf("  /upload <path>         - Upload a document to the active chat\n")
		cb.printf("  /image <path> <text>   - Send a message with a local image attached\n")
		cb.printf("  /state                 - Dump the local state as JSON\n")
		cb.printf("  /clear-error           - Acknowledge the last error\n")
		cb.printf("  /reset                 - Drop the persisted session state\n")
		cb.printf("  /quit, /exit           - Exit\n")
		cb.printf("  /help                  - Show this help message\n")
		return false, nil

	default:
		return false, fmt.Errorf("unknown command: %s (try /help)", parts[0])
	}
}

// readLines scans cb.in on its own goroutine so Run can stop on ctx while a
// read is blocked. readErr receives the scanner error before lines closes.
// Closing done releases the goroutine once its pending line is dropped.
func (cb *ChatBot) readLines() (lines <-chan string, readErr <-chan error, done chan struct{}) {
	out := make(chan string)
	errCh := make(chan error, 1)
	done = make(chan struct{})
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(cb.in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case out <- scanner.Text():
			case <-done:
				return
			}
		}
		errCh <- scanner.Err()
	}()
	return out, errCh, done
}

// Run starts the console loop. It returns when input ends, /quit is entered
// or ctx is cancelled.
func (cb *ChatBot) Run(ctx context.Context) error {
	infoColor.Fprintf(cb.out, "=== NexusChat ===\n")
	cb.printf("Session: %s\n", cb.sessionID)
	if chat, ok := cb.store.ActiveChat(); ok {
		cb.printf("Active chat: [%s] %s\n", chat.ID, chat.Title)
	}
	cb.printf("Type /help for commands, /quit to exit\n\n")

	lines, readErr, done := cb.readLines()
	defer close(done)

loop:
	for {
		userColor.Fprintf(cb.out, "You: ")
		var input string
		select {
		case <-ctx.Done():
			cb.printf("\n")
			break loop
		case line, ok := <-lines:
			if !ok {
				if err := <-readErr; err != nil {
					return fmt.Errorf("failed to read input: %w", err)
				}
				break loop
			}
			input = strings.TrimSpace(line)
		}
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			shouldQuit, err := cb.handleCommand(ctx, input)
			if err != nil {
				errorColor.Fprintf(cb.out, "Error: %v\n", err)
				cb.logger.Error("command error", "command", input, "error", err)
			}
			if shouldQuit {
				break loop
			}
			continue
		}

		if err := cb.sendMessage(ctx, input); err != nil {
			errorColor.Fprintf(cb.out, "Error: %v\n", err)
			cb.logger.Error("failed to send message", "error", err)
		}
	}

	cb.printf("Goodbye!\n")
	return nil
}
