package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"circlechat/internal/auth"
	"circlechat/internal/config"
	"circlechat/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fastjson"
	"gorm.io/gorm"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	maxFrame   = 64 << 10
)

type Client struct {
	room   *RoomHub
	conn   *websocket.Conn
	send   chan []byte
	notice chan []byte
	userID uint
	name   string
	// left 在用户退出房间后置位，此后不再转发房间消息。
	left atomic.Bool
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

var parsers fastjson.ParserPool

// Deps 是 WebSocket 入口需要的服务。
type Deps struct {
	DB       *gorm.DB
	Config   config.Config
	Rooms    *service.RoomService
	Profiles *service.ProfileService
	Messages *service.MessageService
}

// Serve 校验 token 和房间成员身份后升级连接。连接先收到房间的全部历史消息，
// 之后实时收到新消息和其他成员的进出、输入状态。
func Serve(h *Hub, d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		rid64, err := strconv.ParseUint(c.Query("room_id"), 10, 64)
		if err != nil || rid64 == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room_id"})
			return
		}
		roomID := uint(rid64)

		token := auth.BearerToken(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		acct, err := auth.Authenticate(d.DB.WithContext(ctx), d.Config.JWTSecret, token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		ok, err := d.Rooms.IsMember(ctx, roomID, acct.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if !ok {
			c.JSON(http.StatusForbidden, gin.H{"error": service.ErrNotMember.Error()})
			return
		}
		res, err := d.Profiles.ResolveProfile(ctx, acct.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		sub := d.Messages.Subscribe(ctx, roomID)
		defer sub.Close()

		rh := h.GetRoom(roomID)
		client := &Client{
			room:   rh,
			conn:   conn,
			send:   make(chan []byte, 256),
			notice: make(chan []byte, 8),
			userID: acct.ID,
			name:   res.Profile.DisplayName,
		}
		rh.register <- client
		// 校验与注册之间用户可能已经退出。
		if ok, err := d.Rooms.IsMember(ctx, roomID, acct.ID); err == nil && !ok {
			h.Kick(roomID, acct.ID)
		}

		go client.writePump(sub)
		client.readPump(ctx, d)
	}
}

func (c *Client) readPump(ctx context.Context, d Deps) {
	defer func() {
		c.room.unregister <- c
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxFrame)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.handleFrame(ctx, d, data)
	}
}

// handleFrame 处理一帧客户端消息：{"type":"message","body":"..."} 或 {"type":"typing","is_typing":true}。
// 无法解析或类型未知的帧直接忽略。
func (c *Client) handleFrame(ctx context.Context, d Deps, data []byte) {
	p := parsers.Get()
	defer parsers.Put(p)
	v, err := p.ParseBytes(data)
	if err != nil {
		return
	}
	switch string(v.GetStringBytes("type")) {
	case "typing":
		c.room.Publish(Event{Type: "typing", UserID: c.userID, DisplayName: c.name, IsTyping: v.GetBool("is_typing")})
	case "message":
		body := string(v.GetStringBytes("body"))
		ok, err := d.Rooms.IsMember(ctx, c.room.roomID, c.userID)
		if err == nil && !ok {
			err = service.ErrNotMember
		}
		if err == nil {
			_, err = d.Messages.SendMessage(ctx, c.room.roomID, c.userID, body)
		}
		if err != nil {
			c.notify(err)
		}
	}
}

// notify 把错误告知本连接；通知缓冲已满时丢弃。
func (c *Client) notify(err error) {
	msg := err.Error()
	var be *service.BackendError
	if errors.As(err, &be) {
		msg = "message could not be sent"
	}
	b, _ := json.Marshal(gin.H{"type": "error", "error": msg})
	select {
	case c.notice <- b:
	default:
	}
}

func (c *Client) writePump(sub *service.Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sub.Close()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				c.close(websocket.CloseNormalClosure, c.closeText())
				return
			}
			if err := c.write(message); err != nil {
				return
			}
		case msg, ok := <-sub.C():
			if !ok {
				if err := sub.Err(); err != nil {
					log.Warn().Err(err).Uint("room_id", c.room.roomID).Uint("user_id", c.userID).Msg("message stream ended")
					c.close(websocket.CloseInternalServerErr, "message stream unavailable")
				}
				return
			}
			if c.left.Load() {
				c.close(websocket.CloseNormalClosure, c.closeText())
				return
			}
			b, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if err := c.write(b); err != nil {
				return
			}
		case b := <-c.notice:
			if err := c.write(b); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) closeText() string {
	if c.left.Load() {
		return "left room"
	}
	return ""
}

func (c *Client) write(b []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

func (c *Client) close(code int, text string) {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, text))
}
