package server

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"circlechat/internal/auth"
	"circlechat/internal/config"
	"circlechat/internal/metrics"
	"circlechat/internal/mw"
	"circlechat/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
func SetupRouter(cfg config.Config, db *gorm.DB, hub *ws.Hub, svc Services, rl *mw.RL) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env, cfg.CORSOrigins))
	if rl != nil {
		r.Use(mw.RateLimit(rl))
	}

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := NewHandler(svc)
	api := r.Group("/api/v1")

	api.POST("/auth/signup", h.SignUp)
	api.POST("/auth/login", h.Login)
	api.POST("/auth/refresh", h.Refresh)
	api.GET("/auth/verify", h.Verify)

	// 需要 Bearer Token 的业务接口。
	authed := api.Group("")
	authed.Use(auth.AuthMiddleware(cfg, db))

	authed.POST("/auth/verify/resend", h.ResendVerification)
	authed.GET("/me", h.Me)
	authed.PUT("/me", h.UpdateMe)
	authed.GET("/rooms", h.ListRooms)
	authed.POST("/rooms", h.CreateRoom)
	authed.POST("/rooms/:id/leave", h.LeaveRoom)
	authed.POST("/invitations/:code/redeem", h.RedeemInvitation)

	// 以下接口只对房间成员开放。
	room := authed.Group("/rooms/:id", h.requireMember)
	room.GET("", h.GetRoom)
	room.PATCH("", h.RenameRoom)
	room.POST("/invitations", h.CreateInvitation)
	room.GET("/messages", h.ListMessages)
	room.POST("/messages", h.PostMessage)
	room.GET("/layout", h.Layout)

	r.GET("/ws", ws.Serve(hub, ws.Deps{
		DB:       db,
		Config:   cfg,
		Rooms:    svc.Rooms,
		Profiles: svc.Profiles,
		Messages: svc.Messages,
	}))

	serveFrontend(r, filepath.Join(".", "frontend", "dist"))
	return r
}

// serveFrontend 在构建产物存在时托管单页前端，未知路径回退到 index.html。
func serveFrontend(r *gin.Engine, distDir string) {
	index := filepath.Join(distDir, "index.html")
	if _, err := os.Stat(index); err != nil {
		return
	}
	r.NoRoute(func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Status(http.StatusNotFound)
			return
		}
		rel := strings.TrimPrefix(filepath.Clean(c.Request.URL.Path), "/")
		if rel == "" || rel == "." {
			c.File(index)
			return
		}
		if strings.HasPrefix(rel, "api/") || rel == "metrics" || rel == "healthz" || rel == "ws" {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		target := filepath.Join(distDir, rel)
		if fi, err := os.Stat(target); err == nil && !fi.IsDir() {
			c.File(target)
			return
		}
		if strings.Contains(rel, ".") {
			c.Status(http.StatusNotFound)
			return
		}
		c.File(index)
	})
}
