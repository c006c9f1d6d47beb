package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"circlechat/internal/metrics"
	"circlechat/internal/models"
	"circlechat/internal/msglog"

	"github.com/rs/zerolog/log"
)

// resolveAhead 限制单个订阅同时进行的发送者解析数量。
const resolveAhead = 32

// MessageService 封装房间消息的发送、历史查询与实时订阅。
type MessageService struct {
	log      msglog.Log
	profiles *ProfileService
}

func NewMessageService(msgs msglog.Log, profiles *ProfileService) *MessageService {
	return &MessageService{log: msgs, profiles: profiles}
}

// ChatMessage 是对外输出的消息，Sender 在发送者无法解析时为 nil。
type ChatMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	RoomID    uint            `json:"room_id"`
	Body      string          `json:"body"`
	SenderID  uint            `json:"sender_id"`
	Sender    *models.Profile `json:"sender"`
	CreatedAt time.Time       `json:"created_at"`
}

func newChatMessage(e msglog.Entry) ChatMessage {
	return ChatMessage{Type: "message", ID: e.ID, RoomID: e.RoomID, Body: e.Body, SenderID: e.SenderID, CreatedAt: e.At}
}

// SendMessage 把消息追加到房间日志，后端拒绝写入时返回 *BackendError。
func (s *MessageService) SendMessage(ctx context.Context, roomID, senderID uint, body string) (*ChatMessage, error) {
	if strings.TrimSpace(body) == "" {
		return nil, ErrEmptyMessage
	}
	e, err := s.log.Append(ctx, roomID, body, senderID)
	if err != nil {
		log.Error().Err(err).Uint("room_id", roomID).Uint("user_id", senderID).Msg("send message")
		return nil, backend("send message", err)
	}
	metrics.MessagesTotal.Inc()
	msg := s.resolve(ctx, e)
	return &msg, nil
}

// Recent 按追加顺序返回最后 limit 条消息，limit 超出 [1,200] 时取 50。
func (s *MessageService) Recent(ctx context.Context, roomID uint, limit int) ([]ChatMessage, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	entries, err := s.log.Recent(ctx, roomID, limit)
	if err != nil {
		return nil, backend("recent messages", err)
	}
	senders := make(map[uint]*models.Profile)
	out := make([]ChatMessage, 0, len(entries))
	for _, e := range entries {
		p, ok := senders[e.SenderID]
		if !ok {
			p = s.sender(ctx, e)
			senders[e.SenderID] = p
		}
		msg := newChatMessage(e)
		msg.Sender = p
		out = append(out, msg)
	}
	return out, nil
}

// resolve 解析发送者资料；失败时只记录日志，消息照常投递。
func (s *MessageService) resolve(ctx context.Context, e msglog.Entry) ChatMessage {
	msg := newChatMessage(e)
	msg.Sender = s.sender(ctx, e)
	return msg
}

// sender 在发送者无法解析时返回 nil，历史查询和订阅共用这一策略。
func (s *MessageService) sender(ctx context.Context, e msglog.Entry) *models.Profile {
	if e.SenderID == 0 {
		return nil
	}
	res, err := s.profiles.ResolveProfile(ctx, e.SenderID)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn().Err(err).Uint("room_id", e.RoomID).Uint("sender_id", e.SenderID).Msg("resolve sender")
		}
		return nil
	}
	return &res.Profile
}

// Subscription 是一个房间消息的实时订阅：先回放历史消息，再推送新消息，顺序与追加顺序一致。
type Subscription struct {
	out    chan ChatMessage
	cancel context.CancelFunc
	once   sync.Once

	mu  sync.Mutex
	err error
}

// Subscribe 打开订阅。每条消息的发送者解析并发进行，投递仍按追加顺序。
// 调用方必须调用 Close 释放订阅；ctx 结束时订阅同样会结束。
func (s *MessageService) Subscribe(ctx context.Context, roomID uint) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{out: make(chan ChatMessage), cancel: cancel}
	pending := make(chan chan ChatMessage, resolveAhead)
	metrics.SubscriptionsActive.Inc()

	go func() {
		defer close(pending)
		err := s.log.Follow(ctx, roomID, func(e msglog.Entry) error {
			slot := make(chan ChatMessage, 1)
			select {
			case pending <- slot:
			case <-ctx.Done():
				return ctx.Err()
			}
			go func() { slot <- s.resolve(ctx, e) }()
			return nil
		})
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			log.Error().Err(err).Uint("room_id", roomID).Msg("follow messages")
			sub.setErr(backend("subscribe", err))
		}
	}()

	go func() {
		defer func() {
			metrics.SubscriptionsActive.Dec()
			close(sub.out)
			cancel()
		}()
		for slot := range pending {
			var msg ChatMessage
			select {
			case msg = <-slot:
			case <-ctx.Done():
				return
			}
			select {
			case sub.out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return sub
}

// C 返回消息通道，订阅结束后关闭。
func (sub *Subscription) C() <-chan ChatMessage { return sub.out }

// Close 停止订阅并取消进行中的解析，可重复调用。
func (sub *Subscription) Close() {
	sub.once.Do(sub.cancel)
}

// Err 返回导致订阅结束的后端错误；主动关闭时为 nil。
func (sub *Subscription) Err() error {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.err
}

func (sub *Subscription) setErr(err error) {
	sub.mu.Lock()
	sub.err = err
	sub.mu.Unlock()
}
