package msglog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// exerciseLog 对任意实现检查顺序、回放和取消语义。
func exerciseLog(t *testing.T, l Log, roomID uint) {
	ctx := context.Background()

	first, err := l.Append(ctx, roomID, "a", 1)
	require.NoError(t, err)
	_, err = l.Append(ctx, roomID, "b", 2)
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)

	fctx, cancel := context.WithCancel(ctx)
	got := make(chan Entry, 16)
	done := make(chan error, 1)
	go func() {
		done <- l.Follow(fctx, roomID, func(e Entry) error {
			got <- e
			return nil
		})
	}()

	want := []struct {
		body   string
		sender uint
	}{{"a", 1}, {"b", 2}, {"c", 1}}
	for i, w := range want {
		if i == 2 {
			_, err := l.Append(ctx, roomID, "c", 1)
			require.NoError(t, err)
		}
		select {
		case e := <-got:
			require.Equal(t, w.body, e.Body)
			require.Equal(t, w.sender, e.SenderID)
			require.Equal(t, roomID, e.RoomID)
		case <-time.After(10 * time.Second):
			t.Fatalf("timed out waiting for %q", w.body)
		}
	}

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(10 * time.Second):
		t.Fatal("Follow did not return after cancel")
	}

	recent, err := l.Recent(ctx, roomID, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "b", recent[0].Body)
	require.Equal(t, "c", recent[1].Body)

	stop := errors.New("stop")
	err = l.Follow(ctx, roomID, func(Entry) error { return stop })
	require.ErrorIs(t, err, stop)

	require.NoError(t, l.Drop(ctx, roomID))
	recent, err = l.Recent(ctx, roomID, 10)
	require.NoError(t, err)
	require.Empty(t, recent)
}

func TestMemory(t *testing.T) {
	exerciseLog(t, NewMemory(), 1)
}

func TestMemory_RoomsAreIndependent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, _ = m.Append(ctx, 1, "one", 1)
	e, _ := m.Append(ctx, 2, "two", 1)
	require.Equal(t, "1-0", e.ID)

	recent, err := m.Recent(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, "one", recent[0].Body)
}

// exerciseDrop checks that Drop ends a Follow that has already seen messages.
func exerciseDrop(t *testing.T, l Log, roomID uint) {
	ctx := context.Background()
	_, err := l.Append(ctx, roomID, "x", 1)
	require.NoError(t, err)

	seen := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		done <- l.Follow(ctx, roomID, func(Entry) error {
			seen <- struct{}{}
			return nil
		})
	}()
	select {
	case <-seen:
	case <-time.After(5 * time.Second):
		t.Fatal("Follow did not replay the entry")
	}
	require.NoError(t, l.Drop(ctx, roomID))
	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrDropped)
	case <-time.After(5 * time.Second):
		t.Fatal("Follow did not return after Drop")
	}
}

func TestMemory_FollowEndsOnDrop(t *testing.T) {
	exerciseDrop(t, NewMemory(), 5)
}

func TestMemory_FollowLeavesNoEmptyRoom(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- m.Follow(ctx, 9, func(Entry) error { return nil })
	}()
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	m.mu.Lock()
	defer m.mu.Unlock()
	require.Empty(t, m.rooms)
}

func TestMemory_FollowKeepsRoomWithEntries(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	seen := make(chan struct{}, 1)
	go func() {
		done <- m.Follow(ctx, 9, func(Entry) error {
			seen <- struct{}{}
			return nil
		})
	}()
	_, err := m.Append(context.Background(), 9, "x", 1)
	require.NoError(t, err)
	<-seen
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	recent, err := m.Recent(context.Background(), 9, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedis(t *testing.T) {
	exerciseLog(t, NewRedis(newTestRedis(t), 100*time.Millisecond), 1)
}

func TestRedis_FollowEndsOnDrop(t *testing.T) {
	exerciseDrop(t, NewRedis(newTestRedis(t), 100*time.Millisecond), 5)
}

func TestRedis_EntryFields(t *testing.T) {
	ctx := context.Background()
	l := NewRedis(newTestRedis(t), 100*time.Millisecond)
	e, err := l.Append(ctx, 3, "hello", 42)
	require.NoError(t, err)
	require.False(t, e.At.IsZero())

	recent, err := l.Recent(ctx, 3, 5)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, e.ID, recent[0].ID)
	require.Equal(t, uint(42), recent[0].SenderID)
	require.Equal(t, "hello", recent[0].Body)

	none, err := l.Recent(ctx, 4, 5)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestIdTime(t *testing.T) {
	require.Equal(t, time.UnixMilli(1700000000000), idTime("1700000000000-3"))
	require.True(t, idTime("garbage").IsZero())
}

func TestKey(t *testing.T) {
	require.Equal(t, "rooms/42/chat", Key(42))
}
