package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"circlechat/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRoom_ThenList(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	room, err := e.rooms.CreateRoom(ctx, "Demo", 1)
	require.NoError(t, err)
	assert.Equal(t, "Demo", room.Name)
	assert.Equal(t, []uint{1}, memberIDsOf(room))
	assert.Equal(t, "user-1", room.Members[0].DisplayName)

	// names are not unique
	dup, err := e.rooms.CreateRoom(ctx, "Demo", 1)
	require.NoError(t, err)
	assert.NotEqual(t, room.ID, dup.ID)

	rooms, err := e.rooms.ListRoomsForUser(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.ElementsMatch(t, []uint{room.ID, dup.ID}, []uint{rooms[0].ID, rooms[1].ID})

	others, err := e.rooms.ListRoomsForUser(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, others)
}

func TestListRoomsForUser_ReportsOnline(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	room, err := e.rooms.CreateRoom(ctx, "Demo", 1)
	require.NoError(t, err)

	e.presence.online = map[uint]int{room.ID: 3}
	rooms, err := e.rooms.ListRoomsForUser(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, 3, rooms[0].Online)
}

func TestGetRoom_NotFound(t *testing.T) {
	e := newTestEnv(t)
	_, err := e.rooms.GetRoom(context.Background(), 404)
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestGetRoom_HealsDanglingMember(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	room, err := e.rooms.CreateRoom(ctx, "Demo", 1)
	require.NoError(t, err)

	// a member row whose profile was never created
	require.NoError(t, e.db.Create(&models.RoomMember{RoomID: room.ID, UserID: 99}).Error)

	got, err := e.rooms.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint{1, 99}, memberIDsOf(got))
	assert.EqualValues(t, 1, e.countRows(t, &models.Profile{}, "id = ?", 99))
}

func TestJoinRoom_InvitationExpiry(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	room, err := e.rooms.CreateRoom(ctx, "Demo", 1)
	require.NoError(t, err)

	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := t0
	e.invites.now = func() time.Time { return clock }

	inv, err := e.invites.CreateInvitation(ctx, room.ID)
	require.NoError(t, err)
	assert.True(t, inv.ExpiresAt.Equal(t0.Add(time.Hour)))

	clock = t0.Add(time.Hour - time.Second)
	joined, err := e.rooms.JoinRoom(ctx, inv.Code, 2)
	require.NoError(t, err)
	assert.Equal(t, room.ID, joined)

	clock = t0.Add(time.Hour)
	_, err = e.rooms.JoinRoom(ctx, inv.Code, 3)
	assert.ErrorIs(t, err, ErrInvitationInvalid)

	got, err := e.rooms.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint{1, 2}, memberIDsOf(got))
}

func TestJoinRoom_ReusableAndIdempotent(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	room, err := e.rooms.CreateRoom(ctx, "Demo", 1)
	require.NoError(t, err)
	inv, err := e.invites.CreateInvitation(ctx, room.ID)
	require.NoError(t, err)

	for _, u := range []uint{2, 3, 2, 1} {
		_, err := e.rooms.JoinRoom(ctx, inv.Code, u)
		require.NoError(t, err)
	}
	assert.EqualValues(t, 3, e.countRows(t, &models.RoomMember{}, "room_id = ?", room.ID))
}

func TestJoinRoom_BadCodes(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name string
		code string
	}{
		{"empty", ""},
		{"malformed", "not-a-code"},
		{"unknown", "0f8fad5b-d9cb-469f-a165-70867728950e"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.rooms.JoinRoom(ctx, tt.code, 2)
			assert.ErrorIs(t, err, ErrInvitationInvalid)
		})
	}
}

func TestCreateInvitation_RoomMustExist(t *testing.T) {
	e := newTestEnv(t)
	_, err := e.invites.CreateInvitation(context.Background(), 404)
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestLeaveRoom_RemovesExactlyOne(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	room, err := e.rooms.CreateRoom(ctx, "Demo", 1)
	require.NoError(t, err)
	e.addMembers(t, room.ID, 2, 3)

	require.NoError(t, e.rooms.LeaveRoom(ctx, room.ID, 2))

	got, err := e.rooms.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint{1, 3}, memberIDsOf(got))

	assert.ErrorIs(t, e.rooms.LeaveRoom(ctx, room.ID, 2), ErrNotMember)
	assert.ErrorIs(t, e.rooms.LeaveRoom(ctx, 404, 2), ErrRoomNotFound)

	// only the successful leave disconnects the user's live connections
	assert.Equal(t, [][2]uint{{room.ID, 2}}, e.presence.kicks())
}

func TestLeaveRoom_LastMemberRemovesRoom(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	room, err := e.rooms.CreateRoom(ctx, "Demo", 1)
	require.NoError(t, err)
	inv, err := e.invites.CreateInvitation(ctx, room.ID)
	require.NoError(t, err)
	_, err = e.messages.SendMessage(ctx, room.ID, 1, "hi")
	require.NoError(t, err)

	require.NoError(t, e.rooms.LeaveRoom(ctx, room.ID, 1))

	_, err = e.rooms.GetRoom(ctx, room.ID)
	assert.ErrorIs(t, err, ErrRoomNotFound)
	assert.EqualValues(t, 0, e.countRows(t, &models.Invitation{}, "room_id = ?", room.ID))
	_, err = e.rooms.JoinRoom(ctx, inv.Code, 2)
	assert.ErrorIs(t, err, ErrInvitationInvalid)

	history, err := e.messages.Recent(ctx, room.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

// Membership changes are row-level writes under a room lock, so concurrent
// leaves by different users must all be persisted.
func TestLeaveRoom_ConcurrentLeavesAllPersist(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	room, err := e.rooms.CreateRoom(ctx, "Demo", 1)
	require.NoError(t, err)

	leavers := []uint{2, 3, 4, 5, 6, 7, 8, 9}
	e.addMembers(t, room.ID, leavers...)

	var wg sync.WaitGroup
	errs := make(chan error, len(leavers))
	for _, u := range leavers {
		wg.Add(1)
		go func(u uint) {
			defer wg.Done()
			errs <- e.rooms.LeaveRoom(ctx, room.ID, u)
		}(u)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := e.rooms.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{1}, memberIDsOf(got))
}

func TestLeaveAndJoin_Concurrent(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	room, err := e.rooms.CreateRoom(ctx, "Demo", 1)
	require.NoError(t, err)
	e.addMembers(t, room.ID, 2, 3)
	inv, err := e.invites.CreateInvitation(ctx, room.ID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for _, u := range []uint{2, 3} {
		wg.Add(2)
		go func(u uint) {
			defer wg.Done()
			errs <- e.rooms.LeaveRoom(ctx, room.ID, u)
		}(u)
		go func(u uint) {
			defer wg.Done()
			_, err := e.rooms.JoinRoom(ctx, inv.Code, u+10)
			errs <- err
		}(u)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := e.rooms.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint{1, 12, 13}, memberIDsOf(got))
}

func TestRenameRoom(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	room, err := e.rooms.CreateRoom(ctx, "Demo", 1)
	require.NoError(t, err)
	e.addMembers(t, room.ID, 2)

	require.NoError(t, e.rooms.RenameRoom(ctx, room.ID, "Renamed"))
	got, err := e.rooms.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.ElementsMatch(t, []uint{1, 2}, memberIDsOf(got))

	assert.ErrorIs(t, e.rooms.RenameRoom(ctx, 404, "x"), ErrRoomNotFound)
}

func TestIsMember(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	room, err := e.rooms.CreateRoom(ctx, "Demo", 1)
	require.NoError(t, err)

	ok, err := e.rooms.IsMember(ctx, room.ID, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.rooms.IsMember(ctx, room.ID, 2)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBackendError(t *testing.T) {
	cause := errors.New("connection reset")
	err := backend("get room", cause)

	var be *BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "get room", be.Op)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "get room: connection reset", err.Error())

	assert.Nil(t, backend("x", nil))
	assert.Same(t, ErrRoomNotFound, backend("x", ErrRoomNotFound))
	assert.Same(t, err, backend("outer", err))
}
