package persist

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"

	"NexusChat/internal/conversation"
)

// DefaultStorageKey is the record name used when none is configured
const DefaultStorageKey = "chat-storage"

// Key scopes a storage key to one session
func Key(storageKey, sessionID string) string {
	if storageKey == "" {
		storageKey = DefaultStorageKey
	}
	return storageKey + ":" + sessionID
}

// Options selects and configures a Backend
type Options struct {
	Backend    string
	SQLitePath string
	RedisAddr  string
	RedisDB    int
	TTL        time.Duration
}

// Open builds the backend named by opts.Backend
func Open(ctx context.Context, opts Options) (Backend, error) {
	switch opts.Backend {
	case "", BackendMemory:
		return NewMemoryBackend(), nil
	case BackendSQLite:
		return NewSQLiteBackend(opts.SQLitePath, opts.TTL)
	case BackendRedis:
		return NewRedisBackend(ctx, opts.RedisAddr, opts.RedisDB, opts.TTL)
	default:
		return nil, errors.Errorf("unknown persistence backend %q", opts.Backend)
	}
}

// Digest returns the hex sha256 of a serialized record
func Digest(data []byte) string {
	h := sha256.New()
	h.Write(data)
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Bridge serializes the whole conversation state under one key
type Bridge struct {
	backend Backend
	key     string
	logger  *slog.Logger

	mu         sync.Mutex
	lastDigest string
}

func NewBridge(backend Backend, key string, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{backend: backend, key: key, logger: logger}
}

// Key returns the record key this bridge reads and writes
func (b *Bridge) Key() string {
	return b.key
}

// Restore loads the stored state. A missing or unreadable record yields the
// defaults. An undecodable record is logged, deleted and also yields the
// defaults, so a corrupt record never blocks start-up. Read failures leave
// the record in place for the next start.
func (b *Bridge) Restore(ctx context.Context) conversation.State {
	data, err := b.backend.Load(ctx, b.key)
	if errors.Is(err, ErrNotFound) {
		b.logger.Debug("no persisted state", "key", b.key)
		return conversation.NewState()
	}
	if err != nil {
		b.logger.Error("failed to load persisted state, starting fresh", "key", b.key, "error", err)
		return conversation.NewState()
	}

	state, err := Decode(data)
	if err != nil {
		b.logger.Error("persisted state is corrupt, starting fresh", "key", b.key, "error", err)
		b.discard(ctx)
		return conversation.NewState()
	}

	b.mu.Lock()
	b.lastDigest = Digest(data)
	b.mu.Unlock()

	b.logger.Info("restored persisted state", "key", b.key, "chats", len(state.Chats))
	return state
}

// Decode parses a stored record
func Decode(data []byte) (conversation.State, error) {
	var state conversation.State
	if err := json.Unmarshal(data, &state); err != nil {
		return conversation.State{}, errors.Wrap(err, "decode state")
	}
	if state.Chats == nil {
		state.Chats = []conversation.Chat{}
	}
	for i := range state.Chats {
		if state.Chats[i].Messages == nil {
			state.Chats[i].Messages = []conversation.Message{}
		}
	}
	return state, nil
}

// Mirror writes the full state. Writes whose bytes match the previous write
// are skipped.
func (b *Bridge) Mirror(ctx context.Context, state conversation.State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return errors.Wrap(err, "encode state")
	}
	digest := Digest(data)

	b.mu.Lock()
	defer b.mu.Unlock()
	if digest == b.lastDigest {
		return nil
	}
	if err := b.backend.Save(ctx, b.key, data); err != nil {
		return err
	}
	b.lastDigest = digest
	return nil
}

// Clear removes the stored record
func (b *Bridge) Clear(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastDigest = ""
	return b.backend.Delete(ctx, b.key)
}

// Close releases the backend
func (b *Bridge) Close() error {
	return b.backend.Close()
}

func (b *Bridge) discard(ctx context.Context) {
	if err := b.backend.Delete(ctx, b.key); err != nil {
		b.logger.Warn("failed to delete corrupt state", "key", b.key, "error", err)
	}
}
