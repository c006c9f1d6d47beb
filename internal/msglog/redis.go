package msglog

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis 把每个房间映射到一个 Redis Stream，消息 ID 由 XADD 分配，单调递增。
type Redis struct {
	client *redis.Client
	block  time.Duration
	batch  int64
}

// NewRedis 的 block 是单次 XREAD 的阻塞时长，决定 Follow 响应取消的最长延迟。
func NewRedis(client *redis.Client, block time.Duration) *Redis {
	if block <= 0 {
		block = 5 * time.Second
	}
	return &Redis{client: client, block: block, batch: 100}
}

func (l *Redis) Append(ctx context.Context, roomID uint, body string, senderID uint) (Entry, error) {
	id, err := l.client.XAdd(ctx, &redis.XAddArgs{
		Stream: Key(roomID),
		Values: map[string]interface{}{
			"body":   body,
			"sender": strconv.FormatUint(uint64(senderID), 10),
		},
	}).Result()
	if err != nil {
		return Entry{}, err
	}
	return Entry{ID: id, RoomID: roomID, Body: body, SenderID: senderID, At: idTime(id)}, nil
}

func (l *Redis) Follow(ctx context.Context, roomID uint, fn func(Entry) error) error {
	key := Key(roomID)
	last := "0"
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		streams, err := l.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{key, last},
			Count:   l.batch,
			Block:   l.block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			// 读到过消息的 stream 消失，说明房间日志已被 Drop。
			if last != "0" {
				n, err := l.client.Exists(ctx, key).Result()
				if err != nil {
					if ctxErr := ctx.Err(); ctxErr != nil {
						return ctxErr
					}
					return err
				}
				if n == 0 {
					return ErrDropped
				}
			}
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}
		for _, s := range streams {
			for _, m := range s.Messages {
				if err := fn(toEntry(roomID, m)); err != nil {
					return err
				}
				last = m.ID
			}
		}
	}
}

func (l *Redis) Recent(ctx context.Context, roomID uint, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	msgs, err := l.client.XRevRangeN(ctx, Key(roomID), "+", "-", int64(limit)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, len(msgs))
	// XREVRANGE 为倒序，反转为追加顺序。
	for i, m := range msgs {
		out[len(msgs)-1-i] = toEntry(roomID, m)
	}
	return out, nil
}

func (l *Redis) Drop(ctx context.Context, roomID uint) error {
	return l.client.Del(ctx, Key(roomID)).Err()
}

func toEntry(roomID uint, m redis.XMessage) Entry {
	e := Entry{ID: m.ID, RoomID: roomID, At: idTime(m.ID)}
	if v, ok := m.Values["body"].(string); ok {
		e.Body = v
	}
	if v, ok := m.Values["sender"].(string); ok {
		if id, err := strconv.ParseUint(v, 10, 64); err == nil {
			e.SenderID = uint(id)
		}
	}
	return e
}

// idTime 取出 stream ID 中的毫秒时间戳部分。
func idTime(id string) time.Time {
	ms, _, _ := strings.Cut(id, "-")
	v, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(v)
}
