package ws

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"circlechat/internal/metrics"

	"github.com/rs/zerolog/log"
)

// Hub 管理房间级别的在线状态子 Hub，实现延迟创建与并发安全。
// 聊天消息不经过 Hub，每个连接各自订阅房间消息日志；Hub 只广播进出与输入状态。
type Hub struct {
	mu    sync.RWMutex
	rooms map[uint]*RoomHub
}

func NewHub() *Hub { return &Hub{rooms: make(map[uint]*RoomHub)} }

// GetRoom 若房间未初始化则懒加载一个 RoomHub。
func (h *Hub) GetRoom(roomID uint) *RoomHub {
	h.mu.RLock()
	room := h.rooms[roomID]
	h.mu.RUnlock()
	if room != nil {
		return room
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	room = h.rooms[roomID]
	if room != nil {
		return room
	}
	room = NewRoomHub(roomID)
	h.rooms[roomID] = room
	go room.run()
	return room
}

// Online 返回房间当前的在线连接数，实现 service.Presence。
func (h *Hub) Online(roomID uint) int {
	h.mu.RLock()
	room := h.rooms[roomID]
	h.mu.RUnlock()
	if room == nil {
		return 0
	}
	return room.Online()
}

// Kick 断开用户在房间内的全部连接，返回时这些连接已不再收到任何消息。
// 实现 service.Presence，用户退出房间后调用。
func (h *Hub) Kick(roomID, userID uint) {
	h.mu.RLock()
	room := h.rooms[roomID]
	h.mu.RUnlock()
	if room == nil {
		return
	}
	done := make(chan struct{})
	room.kick <- kickReq{userID: userID, done: done}
	<-done
}

// Event 是 Hub 广播给房间内连接的在线状态事件。
type Event struct {
	Type        string `json:"type"`
	RoomID      uint   `json:"room_id"`
	UserID      uint   `json:"user_id"`
	DisplayName string `json:"display_name"`
	Online      int    `json:"online"`
	IsTyping    bool   `json:"is_typing,omitempty"`
}

type RoomHub struct {
	roomID     uint
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	kick       chan kickReq
	online     int32
}

type kickReq struct {
	userID uint
	done   chan struct{}
}

func NewRoomHub(roomID uint) *RoomHub {
	return &RoomHub{
		roomID:     roomID,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		kick:       make(chan kickReq),
	}
}

func (rh *RoomHub) run() {
	for {
		select {
		case c := <-rh.register:
			rh.clients[c] = true
			rh.setOnline()
			metrics.WsConnections.Inc()
			rh.fanout(rh.event("join", c))
		case c := <-rh.unregister:
			if _, ok := rh.clients[c]; ok {
				rh.drop(c)
				rh.fanout(rh.event("leave", c))
			}
		case msg := <-rh.broadcast:
			rh.fanout(msg)
		case req := <-rh.kick:
			for c := range rh.clients {
				if c.userID != req.userID {
					continue
				}
				c.left.Store(true)
				rh.drop(c)
				rh.fanout(rh.event("leave", c))
			}
			close(req.done)
		}
	}
}

// Publish 补全房间号和在线人数后广播事件。
func (rh *RoomHub) Publish(evt Event) {
	evt.RoomID = rh.roomID
	evt.Online = rh.Online()
	b, err := json.Marshal(evt)
	if err != nil {
		return
	}
	rh.broadcast <- b
}

func (rh *RoomHub) event(typ string, c *Client) []byte {
	b, err := json.Marshal(Event{Type: typ, RoomID: rh.roomID, UserID: c.userID, DisplayName: c.name, Online: rh.Online()})
	if err != nil {
		log.Error().Err(err).Uint("room_id", rh.roomID).Msg("encode presence event")
		return nil
	}
	return b
}

// fanout 投递给每个连接；发送缓冲已满的慢连接被断开。
func (rh *RoomHub) fanout(msg []byte) {
	if msg == nil {
		return
	}
	for c := range rh.clients {
		select {
		case c.send <- msg:
		default:
			rh.drop(c)
		}
	}
}

func (rh *RoomHub) drop(c *Client) {
	delete(rh.clients, c)
	close(c.send)
	rh.setOnline()
	metrics.WsConnections.Dec()
}

func (rh *RoomHub) setOnline() {
	atomic.StoreInt32(&rh.online, int32(len(rh.clients)))
}

// Online 返回房间在线客户端数量，供 REST 接口复用。
func (rh *RoomHub) Online() int { return int(atomic.LoadInt32(&rh.online)) }
