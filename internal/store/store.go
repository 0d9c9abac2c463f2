// Package store holds the client-side conversation state and keeps it in
// sync with the remote chat service. Every operation applies its local
// change, calls the gateway without holding the state lock, and then
// reconciles the response into whatever the state has become meanwhile.
package store

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"NexusChat/internal/backend"
	"NexusChat/internal/conversation"
)

// Gateway is the remote chat service as seen by the store
type Gateway interface {
	ListChats(ctx context.Context) ([]backend.ChatRecord, error)
	CreateChat(ctx context.Context, title string) (backend.ChatRecord, error)
	FetchMessages(ctx context.Context, chatID conversation.ID) (backend.MessageList, error)
	UploadFile(ctx context.Context, chatID conversation.ID, filename string, r io.Reader) (backend.UploadAck, error)
	SubmitQuery(ctx context.Context, chatID conversation.ID, query string) (backend.QueryResponse, error)
}

// Persister mirrors committed state to durable storage
type Persister interface {
	Restore(ctx context.Context) conversation.State
	Mirror(ctx context.Context, state conversation.State) error
	Clear(ctx context.Context) error
}

// Store owns one conversation.State
type Store struct {
	gateway   Gateway
	persister Persister
	logger    *slog.Logger
	guard     bool
	now       func() time.Time

	mu          sync.Mutex
	state       conversation.State
	revision    uint64
	lastLocalID int64
	seq         uint64

	// publishMu serializes mirroring and delivery; published is the seq of
	// the last snapshot that went out.
	publishMu sync.Mutex
	published uint64
	subsMu    sync.Mutex
	subs      map[int]func(conversation.State)
	nextSub   int
}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithPersistence restores the initial state from p and mirrors every commit to it
func WithPersistence(p Persister) Option {
	return func(s *Store) { s.persister = p }
}

// WithRevisionGuard toggles discarding of stale history fetches. With the
// guard off a late fetch overwrites the chat (last write wins).
func WithRevisionGuard(enabled bool) Option {
	return func(s *Store) { s.guard = enabled }
}

// WithClock replaces time.Now for local message ids
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(gateway Gateway, opts ...Option) *Store {
	s := &Store{
		gateway: gateway,
		logger:  slog.Default(),
		guard:   true,
		now:     time.Now,
		state:   conversation.NewState(),
		subs:    make(map[int]func(conversation.State)),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.persister != nil {
		restored := s.persister.Restore(context.Background())
		// nothing is in flight in a fresh process
		restored.IsLoading = false
		restored.IsUploading = false
		s.state = restored
		for i := range s.state.Chats {
			s.touch(&s.state.Chats[i])
		}
	}
	return s
}

// Snapshot returns a deep copy of the current state
func (s *Store) Snapshot() conversation.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// ActiveChat returns a copy of the active chat if it is loaded
func (s *Store) ActiveChat() (conversation.Chat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.state.ActiveChat()
	if !ok {
		return conversation.Chat{}, false
	}
	return chat.Clone(), true
}

// Subscribe registers fn to receive every committed state. fn runs outside
// the state lock but must not call mutating Store methods synchronously.
func (s *Store) Subscribe(fn func(conversation.State)) (unsubscribe func()) {
	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, id)
			s.subsMu.Unlock()
		})
	}
}

// ClearError acknowledges the current error
func (s *Store) ClearError(ctx context.Context) {
	s.update(ctx, func(st *conversation.State) {
		st.Error = nil
	})
}

// Reset drops the persisted record and returns to the defaults
func (s *Store) Reset(ctx context.Context) error {
	if s.persister != nil {
		if err := s.persister.Clear(ctx); err != nil {
			s.logger.Error("failed to clear persisted state", "error", err)
			return err
		}
	}
	s.update(ctx, func(st *conversation.State) {
		*st = conversation.NewState()
	})
	s.logger.Info("state reset")
	return nil
}

// update applies fn under the state lock and publishes the result. A
// snapshot older than one already published is dropped.
func (s *Store) update(ctx context.Context, fn func(st *conversation.State)) {
	s.mu.Lock()
	fn(&s.state)
	s.seq++
	seq := s.seq
	snapshot := s.state.Clone()
	s.mu.Unlock()

	s.publishMu.Lock()
	defer s.publishMu.Unlock()
	if seq < s.published {
		return
	}
	s.published = seq
	s.publish(ctx, snapshot)
}

func (s *Store) publish(ctx context.Context, snapshot conversation.State) {
	if s.persister != nil {
		if err := s.persister.Mirror(context.WithoutCancel(ctx), snapshot); err != nil {
			s.logger.Error("failed to mirror state", "error", err)
		}
	}

	s.subsMu.Lock()
	subs := make([]func(conversation.State), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subsMu.Unlock()

	for _, fn := range subs {
		fn(snapshot.Clone())
	}
}

// touch stamps chat with a fresh revision. Callers hold s.mu.
func (s *Store) touch(chat *conversation.Chat) {
	s.revision++
	chat.SetRevision(s.revision)
}

// nextLocalID returns a millisecond timestamp id, bumped past the previous
// one when two are generated within the same millisecond. Callers hold s.mu.
func (s *Store) nextLocalID() conversation.ID {
	id := s.now().UnixMilli()
	if id <= s.lastLocalID {
		id = s.lastLocalID + 1
	}
	s.lastLocalID = id
	return conversation.ID(strconv.FormatInt(id, 10))
}

func setError(st *conversation.State, err error) {
	msg := err.Error()
	st.Error = &msg
}
