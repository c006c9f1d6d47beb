package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"circlechat/internal/config"
	"circlechat/internal/db"
	clog "circlechat/internal/log"
	"circlechat/internal/mail"
	"circlechat/internal/msglog"
	"circlechat/internal/mw"
	"circlechat/internal/server"
	"circlechat/internal/service"
	"circlechat/internal/state"
	"circlechat/internal/ws"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

func main() {
	// .env 只在本地开发时存在，缺失不是错误。
	_ = godotenv.Load()

	cfg := config.Load()
	clog.Init(cfg.Env, cfg.LogLevel)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	gdb, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	var rdb *redis.Client
	if cfg.MessageBackend == "redis" || cfg.StateBackend == "redis" {
		rdb, err = db.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis connect")
		}
		defer rdb.Close()
	}

	var msgs msglog.Log = msglog.NewMemory()
	if cfg.MessageBackend == "redis" {
		msgs = msglog.NewRedis(rdb, time.Duration(cfg.StreamBlockSeconds)*time.Second)
	}
	st := state.NewMemory()
	if cfg.StateBackend == "redis" {
		st = state.NewRedis(rdb)
	}
	var mailer mail.Sender = mail.LogSender{}
	if cfg.SMTP.Enabled() {
		mailer, err = mail.NewSMTP(cfg.SMTP)
		if err != nil {
			log.Fatal().Err(err).Msg("smtp config")
		}
	}

	hub := ws.NewHub()
	profiles := service.NewProfileService(gdb)
	invites := service.NewInvitationService(gdb, cfg.InviteTTL())
	svc := server.Services{
		Accounts: service.NewAccountService(gdb, cfg, profiles, st, mailer),
		Profiles: profiles,
		Rooms:    service.NewRoomService(gdb, profiles, invites, msgs, hub),
		Invites:  invites,
		Messages: service.NewMessageService(msgs, profiles),
	}

	// 控制单个 IP+路由的速率。
	rl := mw.NewRateLimiter(rate.Every(time.Second/20), 40, 2*time.Minute)
	defer rl.Stop()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.SetupRouter(cfg, gdb, hub, svc, rl),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.Env).
			Str("messages", cfg.MessageBackend).Str("state", cfg.StateBackend).
			Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server run")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
	if sqlDB, err := gdb.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
