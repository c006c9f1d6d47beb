package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"circlechat/internal/auth"
	"circlechat/internal/layout"
	"circlechat/internal/models"
	"circlechat/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	maxNameLen    = 128
	maxBodyLen    = 4000
	layoutPreview = 3
)

// Services 聚合 handler 依赖的业务服务。
type Services struct {
	Accounts *service.AccountService
	Profiles *service.ProfileService
	Rooms    *service.RoomService
	Invites  *service.InvitationService
	Messages *service.MessageService
}

// Handler 聚合所有 HTTP handler，依赖注入 service 层。
type Handler struct {
	svc Services
}

func NewHandler(svc Services) *Handler {
	return &Handler{svc: svc}
}

// writeError 是业务错误到 HTTP 状态码的唯一映射点，后端错误只返回通用信息。
func writeError(c *gin.Context, err error) {
	var status int
	switch {
	case errors.Is(err, service.ErrRoomNotFound),
		errors.Is(err, service.ErrProfileNotFound),
		errors.Is(err, service.ErrAccountNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrInvitationInvalid):
		status = http.StatusGone
	case errors.Is(err, service.ErrNotMember):
		status = http.StatusForbidden
	case errors.Is(err, service.ErrEmailTaken),
		errors.Is(err, service.ErrAlreadyVerified):
		status = http.StatusConflict
	case errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrRefreshTokenInvalid):
		status = http.StatusUnauthorized
	case errors.Is(err, service.ErrPasswordMismatch),
		errors.Is(err, service.ErrEmptyMessage),
		errors.Is(err, service.ErrVerificationInvalid):
		status = http.StatusBadRequest
	default:
		log.Error().Err(err).Str("path", c.FullPath()).Uint("user_id", auth.GetUserID(c)).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func roomID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// requireMember 拒绝非成员访问 /rooms/:id 下的资源。
func (h *Handler) requireMember(c *gin.Context) {
	id, ok := roomID(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}
	member, err := h.svc.Rooms.IsMember(c.Request.Context(), id, auth.GetUserID(c))
	if err != nil {
		writeError(c, err)
		c.Abort()
		return
	}
	if !member {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": service.ErrNotMember.Error()})
		return
	}
	c.Set("roomID", id)
	c.Next()
}

func currentRoom(c *gin.Context) uint {
	return c.GetUint("roomID")
}

// SignUp 处理注册请求。
func (h *Handler) SignUp(c *gin.Context) {
	var req struct {
		Email           string `json:"email"`
		Password        string `json:"password"`
		PasswordConfirm string `json:"password_confirm"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if len(req.Email) < 3 || len(req.Email) > 254 || !strings.Contains(req.Email, "@") {
		badRequest(c, "invalid email")
		return
	}
	if len(req.Password) < 6 || len(req.Password) > 128 {
		badRequest(c, "invalid password")
		return
	}
	result, err := h.svc.Accounts.SignUp(c.Request.Context(), req.Email, req.Password, req.PasswordConfirm)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// Login 处理登录请求。
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Email) == "" || req.Password == "" {
		badRequest(c, "invalid payload")
		return
	}
	result, err := h.svc.Accounts.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Refresh 处理 token 刷新请求。
func (h *Handler) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		badRequest(c, "invalid payload")
		return
	}
	result, err := h.svc.Accounts.RefreshTokens(c.Request.Context(), req.RefreshToken)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Verify 处理邮件中的验证链接。
func (h *Handler) Verify(c *gin.Context) {
	if err := h.svc.Accounts.Verify(c.Request.Context(), c.Query("token")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "verified"})
}

func (h *Handler) ResendVerification(c *gin.Context) {
	if err := h.svc.Accounts.SendVerification(c.Request.Context(), auth.GetUserID(c)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "sent"})
}

// Me 返回当前用户资料，首次访问时自动创建。
func (h *Handler) Me(c *gin.Context) {
	res, err := h.svc.Profiles.ResolveProfile(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": res.Profile, "created": res.Created})
}

// UpdateMe 修改昵称，允许空值和重复。
func (h *Handler) UpdateMe(c *gin.Context) {
	var req struct {
		DisplayName string `json:"display_name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	if len(req.DisplayName) > maxNameLen {
		badRequest(c, "invalid display name")
		return
	}
	ctx := c.Request.Context()
	userID := auth.GetUserID(c)
	if _, err := h.svc.Profiles.ResolveProfile(ctx, userID); err != nil {
		writeError(c, err)
		return
	}
	p, err := h.svc.Profiles.RenameProfile(ctx, userID, req.DisplayName)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": p})
}

// ListRooms 返回当前用户所在的房间。
func (h *Handler) ListRooms(c *gin.Context) {
	rooms, err := h.svc.Rooms.ListRoomsForUser(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

// CreateRoom 处理创建房间请求，创建者成为唯一成员。
func (h *Handler) CreateRoom(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || len(req.Name) > maxNameLen {
		badRequest(c, "invalid room name")
		return
	}
	room, err := h.svc.Rooms.CreateRoom(c.Request.Context(), req.Name, auth.GetUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"room": room})
}

func (h *Handler) GetRoom(c *gin.Context) {
	room, err := h.svc.Rooms.GetRoom(c.Request.Context(), currentRoom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room})
}

func (h *Handler) RenameRoom(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || len(req.Name) > maxNameLen {
		badRequest(c, "invalid room name")
		return
	}
	ctx := c.Request.Context()
	id := currentRoom(c)
	if err := h.svc.Rooms.RenameRoom(ctx, id, req.Name); err != nil {
		writeError(c, err)
		return
	}
	room, err := h.svc.Rooms.GetRoom(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room})
}

// LeaveRoom 让当前用户退出房间，最后一人退出时房间被删除。
func (h *Handler) LeaveRoom(c *gin.Context) {
	id, ok := roomID(c)
	if !ok {
		badRequest(c, "invalid room id")
		return
	}
	if err := h.svc.Rooms.LeaveRoom(c.Request.Context(), id, auth.GetUserID(c)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// CreateInvitation 为房间生成一个可重复使用的邀请码。
func (h *Handler) CreateInvitation(c *gin.Context) {
	inv, err := h.svc.Invites.CreateInvitation(c.Request.Context(), currentRoom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"code": inv.Code, "room_id": inv.RoomID, "expires_at": inv.ExpiresAt})
}

// RedeemInvitation 用邀请码加入房间并返回房间详情。
func (h *Handler) RedeemInvitation(c *gin.Context) {
	ctx := c.Request.Context()
	id, err := h.svc.Rooms.JoinRoom(ctx, c.Param("code"), auth.GetUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	room, err := h.svc.Rooms.GetRoom(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room})
}

// ListMessages 返回房间最近的消息，按追加顺序排列。
func (h *Handler) ListMessages(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	msgs, err := h.svc.Messages.Recent(c.Request.Context(), currentRoom(c), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (h *Handler) PostMessage(c *gin.Context) {
	var req struct {
		Body string `json:"body"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	if len(req.Body) > maxBodyLen {
		badRequest(c, "message too long")
		return
	}
	msg, err := h.svc.Messages.SendMessage(c.Request.Context(), currentRoom(c), auth.GetUserID(c), req.Body)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

// Seat 是环形视图中的一个成员座位。
type Seat struct {
	Profile models.Profile        `json:"profile"`
	Point   layout.Point          `json:"point"`
	Recent  []service.ChatMessage `json:"recent"`
}

// Layout 把成员排在圆周上，并附上各自最近的几条消息。
func (h *Handler) Layout(c *gin.Context) {
	ctx := c.Request.Context()
	room, err := h.svc.Rooms.GetRoom(ctx, currentRoom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	msgs, err := h.svc.Messages.Recent(ctx, room.ID, 200)
	if err != nil {
		writeError(c, err)
		return
	}
	bySender := make(map[uint][]service.ChatMessage)
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if len(bySender[m.SenderID]) < layoutPreview {
			bySender[m.SenderID] = append(bySender[m.SenderID], m)
		}
	}
	points := layout.Place(len(room.Members), layout.DefaultScale)
	seats := make([]Seat, len(room.Members))
	for i, p := range room.Members {
		recent := bySender[p.ID]
		// 倒序收集，输出恢复为追加顺序
		for l, r := 0, len(recent)-1; l < r; l, r = l+1, r-1 {
			recent[l], recent[r] = recent[r], recent[l]
		}
		if recent == nil {
			recent = []service.ChatMessage{}
		}
		seats[i] = Seat{Profile: p, Point: points[i], Recent: recent}
	}
	c.JSON(http.StatusOK, gin.H{"room_id": room.ID, "name": room.Name, "seats": seats})
}
