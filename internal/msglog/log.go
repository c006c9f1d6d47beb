// Package msglog 是每个房间一条、只追加的有序消息日志。
//
// 日志对外承诺两点：同一房间内按追加顺序编号和投递；Follow 先回放全部
// 历史消息，再持续推送新追加的消息。跨房间没有顺序保证。
package msglog

import (
	"context"
	"errors"
	"strconv"
	"time"
)

// ErrDropped 表示正在 Follow 的房间日志已被删除。
var ErrDropped = errors.New("message log dropped")

type Entry struct {
	ID       string
	RoomID   uint
	Body     string
	SenderID uint
	At       time.Time
}

type Log interface {
	Append(ctx context.Context, roomID uint, body string, senderID uint) (Entry, error)
	// Follow 依次对每条消息调用 fn，直到 ctx 结束（返回 ctx.Err()）、
	// fn 返回错误或后端出错。
	Follow(ctx context.Context, roomID uint, fn func(Entry) error) error
	// Recent 按追加顺序返回最后 limit 条消息。
	Recent(ctx context.Context, roomID uint, limit int) ([]Entry, error)
	Drop(ctx context.Context, roomID uint) error
}

// Key 返回房间日志的存储路径。
func Key(roomID uint) string {
	return "rooms/" + strconv.FormatUint(uint64(roomID), 10) + "/chat"
}
