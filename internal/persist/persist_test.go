package persist

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"NexusChat/internal/conversation"
)

type countingBackend struct {
	Backend
	saves int
}

// flakyBackend fails the first Load with err
type flakyBackend struct {
	Backend
	err    error
	failed bool
}

func (f *flakyBackend) Load(ctx context.Context, key string) ([]byte, error) {
	if !f.failed {
		f.failed = true
		return nil, f.err
	}
	return f.Backend.Load(ctx, key)
}

func (c *countingBackend) Save(ctx context.Context, key string, value []byte) error {
	c.saves++
	return c.Backend.Save(ctx, key, value)
}

func sampleState() conversation.State {
	active := conversation.ID("42")
	msg := "boom"
	return conversation.State{
		Chats: []conversation.Chat{
			{
				ID:    "42",
				Title: "Research",
				Messages: []conversation.Message{
					{ID: "1700000000000", Role: conversation.RoleUser, Text: "hello", Status: conversation.StatusConfirmed},
					{ID: "7", Role: conversation.RoleAI, Text: "hi", Status: conversation.StatusConfirmed},
				},
			},
			{ID: "41", Title: "Old", Messages: []conversation.Message{}},
		},
		ActiveChatID: &active,
		Error:        &msg,
	}
}

func TestKey(t *testing.T) {
	require.Equal(t, "chat-storage:abc", Key("", "abc"))
	require.Equal(t, "custom:abc", Key("custom", "abc"))
}

func TestRestoreMissingReturnsDefaults(t *testing.T) {
	b := NewBridge(NewMemoryBackend(), Key("", "s1"), nil)
	require.Equal(t, conversation.NewState(), b.Restore(context.Background()))
}

func TestMirrorRestoreIsIdempotent(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	b := NewBridge(backend, Key("", "s1"), nil)

	state := sampleState()
	require.NoError(t, b.Mirror(ctx, state))

	first := NewBridge(backend, Key("", "s1"), nil).Restore(ctx)
	require.Equal(t, state, first)

	second := NewBridge(backend, Key("", "s1"), nil).Restore(ctx)
	require.Equal(t, first, second)
}

func TestMirrorSkipsIdenticalWrites(t *testing.T) {
	ctx := context.Background()
	backend := &countingBackend{Backend: NewMemoryBackend()}
	b := NewBridge(backend, Key("", "s1"), nil)

	state := sampleState()
	require.NoError(t, b.Mirror(ctx, state))
	require.NoError(t, b.Mirror(ctx, state.Clone()))
	require.Equal(t, 1, backend.saves)

	state.IsLoading = true
	require.NoError(t, b.Mirror(ctx, state))
	require.Equal(t, 2, backend.saves)
}

func TestCorruptRecordFailsOpen(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	key := Key("", "s1")
	require.NoError(t, backend.Save(ctx, key, []byte(`{"chats": [not json`)))

	b := NewBridge(backend, key, nil)
	require.Equal(t, conversation.NewState(), b.Restore(ctx))

	_, err := backend.Load(ctx, key)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLoadFailureKeepsRecord(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryBackend()
	key := Key("", "s1")
	state := sampleState()
	require.NoError(t, NewBridge(mem, key, nil).Mirror(ctx, state))

	flaky := &flakyBackend{Backend: mem, err: errors.New("i/o timeout")}
	require.Equal(t, conversation.NewState(), NewBridge(flaky, key, nil).Restore(ctx))

	_, err := mem.Load(ctx, key)
	require.NoError(t, err)
	require.Equal(t, state, NewBridge(flaky, key, nil).Restore(ctx))
}

func TestDecodeFillsNilSlices(t *testing.T) {
	state, err := Decode([]byte(`{"chats":[{"id":1,"title":"a","messages":null}],"activeChatId":null}`))
	require.NoError(t, err)
	require.Len(t, state.Chats, 1)
	require.Equal(t, conversation.ID("1"), state.Chats[0].ID)
	require.NotNil(t, state.Chats[0].Messages)

	state, err = Decode([]byte(`{}`))
	require.NoError(t, err)
	require.NotNil(t, state.Chats)
}

func TestClearRemovesRecord(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	b := NewBridge(backend, Key("", "s1"), nil)
	require.NoError(t, b.Mirror(ctx, sampleState()))
	require.NoError(t, b.Clear(ctx))

	_, err := backend.Load(ctx, b.Key())
	require.ErrorIs(t, err, ErrNotFound)

	// the digest is reset so the same state is written again
	require.NoError(t, b.Mirror(ctx, sampleState()))
	_, err = backend.Load(ctx, b.Key())
	require.NoError(t, err)
}

func TestSessionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	require.NoError(t, NewBridge(backend, Key("", "a"), nil).Mirror(ctx, sampleState()))
	require.Equal(t, conversation.NewState(), NewBridge(backend, Key("", "b"), nil).Restore(ctx))
}

func TestSQLiteBackend(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := NewSQLiteBackend(path, time.Hour)
	require.NoError(t, err)

	_, err = s.Load(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Save(ctx, "k", []byte(`{"a":1}`)))
	require.NoError(t, s.Save(ctx, "k", []byte(`{"a":2}`)))
	got, err := s.Load(ctx, "k")
	require.NoError(t, err)
	require.JSONEq(t, `{"a":2}`, string(got))
	require.NoError(t, s.Close())

	// reopening keeps the record
	s, err = NewSQLiteBackend(path, time.Hour)
	require.NoError(t, err)
	defer s.Close()
	got, err = s.Load(ctx, "k")
	require.NoError(t, err)
	require.JSONEq(t, `{"a":2}`, string(got))

	require.NoError(t, s.Delete(ctx, "k"))
	_, err = s.Load(ctx, "k")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteBackendExpiresIdleSessions(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "state.db"), time.Hour)
	require.NoError(t, err)
	defer s.Close()

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	require.NoError(t, s.Save(ctx, "old", []byte("{}")))

	now = now.Add(2 * time.Hour)
	require.NoError(t, s.Save(ctx, "fresh", []byte("{}")))

	_, err = s.Load(ctx, "old")
	require.ErrorIs(t, err, ErrNotFound)

	n, err := s.Prune(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	_, err = s.Load(ctx, "fresh")
	require.NoError(t, err)
}

func TestBridgeOverSQLite(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "state.db"), 0)
	require.NoError(t, err)
	b := NewBridge(s, Key("", "s1"), nil)
	defer b.Close()

	state := sampleState()
	require.NoError(t, b.Mirror(ctx, state))
	require.Equal(t, state, b.Restore(ctx))

	raw, err := s.Load(ctx, b.Key())
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Contains(t, decoded, "activeChatId")
	require.Contains(t, decoded, "isUploading")
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), Options{Backend: "etcd"})
	require.Error(t, err)

	b, err := Open(context.Background(), Options{})
	require.NoError(t, err)
	require.IsType(t, &MemoryBackend{}, b)
}

func TestRedisBackend(t *testing.T) {
	addr := os.Getenv("NEXUS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("NEXUS_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	r, err := NewRedisBackend(ctx, addr, 0, time.Minute)
	require.NoError(t, err)
	defer r.Close()

	key := "nexuschat-test:" + strconv.FormatInt(time.Now().UnixNano(), 10)
	defer r.Delete(ctx, key)

	_, err = r.Load(ctx, key)
	require.ErrorIs(t, err, ErrNotFound)

	b := NewBridge(r, key, nil)
	state := sampleState()
	require.NoError(t, b.Mirror(ctx, state))
	require.Equal(t, state, NewBridge(r, key, nil).Restore(ctx))

	ttl, err := r.client.TTL(ctx, key).Result()
	require.NoError(t, err)
	require.Greater(t, ttl, time.Duration(0))
}
