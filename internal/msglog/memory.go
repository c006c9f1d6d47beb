package msglog

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type memRoom struct {
	entries []Entry
	seq     uint64
	// changed 在每次追加或删除时被关闭并替换，用来唤醒 Follow。
	changed   chan struct{}
	dropped   bool
	followers int
}

// Memory 是进程内实现，用于单实例部署和测试。
type Memory struct {
	mu    sync.Mutex
	rooms map[uint]*memRoom
	now   func() time.Time
}

func NewMemory() *Memory {
	return &Memory{rooms: make(map[uint]*memRoom), now: time.Now}
}

// room 需持有锁。
func (m *Memory) room(roomID uint) *memRoom {
	r := m.rooms[roomID]
	if r == nil {
		r = &memRoom{changed: make(chan struct{})}
		m.rooms[roomID] = r
	}
	return r
}

func (m *Memory) Append(_ context.Context, roomID uint, body string, senderID uint) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.room(roomID)
	r.seq++
	e := Entry{
		ID:       strconv.FormatUint(r.seq, 10) + "-0",
		RoomID:   roomID,
		Body:     body,
		SenderID: senderID,
		At:       m.now(),
	}
	r.entries = append(r.entries, e)
	close(r.changed)
	r.changed = make(chan struct{})
	return e, nil
}

func (m *Memory) Follow(ctx context.Context, roomID uint, fn func(Entry) error) error {
	m.mu.Lock()
	r := m.room(roomID)
	r.followers++
	m.mu.Unlock()
	defer m.unfollow(roomID, r)

	pos := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.mu.Lock()
		batch := append([]Entry(nil), r.entries[pos:]...)
		wait, dropped := r.changed, r.dropped
		m.mu.Unlock()

		for _, e := range batch {
			if err := fn(e); err != nil {
				return err
			}
		}
		pos += len(batch)
		if len(batch) > 0 {
			continue
		}
		if dropped {
			return ErrDropped
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wait:
		}
	}
}

// unfollow 在最后一个 Follow 退出时回收没有任何消息的房间。
func (m *Memory) unfollow(roomID uint, r *memRoom) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.followers--
	if r.followers == 0 && len(r.entries) == 0 && m.rooms[roomID] == r {
		delete(m.rooms, roomID)
	}
}

func (m *Memory) Recent(_ context.Context, roomID uint, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rooms[roomID]
	if r == nil || limit <= 0 {
		return nil, nil
	}
	start := len(r.entries) - limit
	if start < 0 {
		start = 0
	}
	return append([]Entry(nil), r.entries[start:]...), nil
}

func (m *Memory) Drop(_ context.Context, roomID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rooms[roomID]
	if r == nil {
		return nil
	}
	delete(m.rooms, roomID)
	r.dropped = true
	close(r.changed)
	r.changed = make(chan struct{})
	return nil
}
