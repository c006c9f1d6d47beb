package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"circlechat/internal/config"
	"circlechat/internal/db/dbtest"
	"circlechat/internal/msglog"
	"circlechat/internal/state"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type sentMail struct {
	to, subject, body string
}

// mailbox records every mail instead of sending it.
type mailbox struct {
	mu   sync.Mutex
	sent []sentMail
}

func (m *mailbox) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

func (m *mailbox) last(t *testing.T) sentMail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent, "no mail sent")
	return m.sent[len(m.sent)-1]
}

// fakePresence reports a fixed online count and records kicks.
type fakePresence struct {
	online map[uint]int

	mu     sync.Mutex
	kicked [][2]uint
}

func (p *fakePresence) Online(roomID uint) int { return p.online[roomID] }

func (p *fakePresence) Kick(roomID, userID uint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.kicked = append(p.kicked, [2]uint{roomID, userID})
}

func (p *fakePresence) kicks() [][2]uint {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][2]uint(nil), p.kicked...)
}

type testEnv struct {
	db       *gorm.DB
	msgs     *msglog.Memory
	presence *fakePresence
	mail     *mailbox
	profiles *ProfileService
	invites  *InvitationService
	rooms    *RoomService
	messages *MessageService
	accounts *AccountService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gdb := dbtest.New(t)
	msgs := msglog.NewMemory()
	box := &mailbox{}
	cfg := config.Config{
		JWTSecret:             "test-secret",
		Env:                   "dev",
		AccessTokenTTLMinutes: 15,
		RefreshTokenTTLDays:   7,
		PublicBaseURL:         "http://chat.test/",
	}
	profiles := NewProfileService(gdb)
	invites := NewInvitationService(gdb, time.Hour)
	presence := &fakePresence{}
	return &testEnv{
		db:       gdb,
		msgs:     msgs,
		presence: presence,
		mail:     box,
		profiles: profiles,
		invites:  invites,
		rooms:    NewRoomService(gdb, profiles, invites, msgs, presence),
		messages: NewMessageService(msgs, profiles),
		accounts: NewAccountService(gdb, cfg, profiles, state.NewMemory(), box),
	}
}

func memberIDsOf(room *RoomDTO) []uint {
	ids := make([]uint, 0, len(room.Members))
	for _, m := range room.Members {
		ids = append(ids, m.ID)
	}
	return ids
}

// addMembers invites each user into the room through a fresh invitation.
func (e *testEnv) addMembers(t *testing.T, roomID uint, users ...uint) {
	t.Helper()
	ctx := context.Background()
	inv, err := e.invites.CreateInvitation(ctx, roomID)
	require.NoError(t, err)
	for _, u := range users {
		_, err := e.rooms.JoinRoom(ctx, inv.Code, u)
		require.NoError(t, err)
	}
}

func (e *testEnv) countRows(t *testing.T, model interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(model).Where(query, args...).Count(&n).Error)
	return n
}
