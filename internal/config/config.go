package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DevJWTSecret 仅用于本地开发，非 dev 环境必须替换。
const DevJWTSecret = "dev-secret-change-me"

type Config struct {
	Port                  string
	DatabaseDSN           string
	JWTSecret             string
	Env                   string
	LogLevel              string
	AccessTokenTTLMinutes int
	RefreshTokenTTLDays   int
	InviteTTLHours        int

	// MessageBackend 与 StateBackend 取值 "memory" 或 "redis"。
	MessageBackend     string
	StateBackend       string
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	StreamBlockSeconds int

	SMTP          SMTPConfig
	PublicBaseURL string
	CORSOrigins   []string
}

type SMTPConfig struct {
	Host     string
	Port     int
	From     string
	Username string
	Password string
}

// Enabled 表示是否配置了 SMTP，未配置时验证邮件只写日志。
func (s SMTPConfig) Enabled() bool { return s.Host != "" }

// InviteTTL 返回邀请码有效期。
func (c Config) InviteTTL() time.Duration {
	return time.Duration(c.InviteTTLHours) * time.Hour
}

// RefreshTokenTTL 返回 refresh token 有效期。
func (c Config) RefreshTokenTTL() time.Duration {
	return time.Duration(c.RefreshTokenTTLDays) * 24 * time.Hour
}

var defaults = map[string]interface{}{
	"APP_PORT":                 "8080",
	"DATABASE_DSN":             "host=localhost user=postgres password=postgres dbname=circlechat port=5432 sslmode=disable TimeZone=UTC",
	"JWT_SECRET":               DevJWTSecret,
	"APP_ENV":                  "dev",
	"LOG_LEVEL":                "info",
	"ACCESS_TOKEN_TTL_MINUTES": 15,
	"REFRESH_TOKEN_TTL_DAYS":   7,
	"INVITE_TTL_HOURS":         7 * 24,
	"MESSAGE_BACKEND":          "memory",
	"STATE_BACKEND":            "memory",
	"REDIS_ADDR":               "localhost:6379",
	"REDIS_PASSWORD":           "",
	"REDIS_DB":                 0,
	"STREAM_BLOCK_SECONDS":     5,
	"SMTP_HOST":                "",
	"SMTP_PORT":                587,
	"SMTP_FROM":                "",
	"SMTP_USERNAME":            "",
	"SMTP_PASSWORD":            "",
	"PUBLIC_BASE_URL":          "http://localhost:8080",
	"CORS_ORIGINS":             "",
}

// Load 按 默认值 < CONFIG_FILE 指向的 YAML < 环境变量 的优先级读取配置。
func Load() Config {
	v := viper.New()
	for k, def := range defaults {
		v.SetDefault(k, def)
	}
	v.AutomaticEnv()
	if file := v.GetString("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		// 配置文件缺失时退回环境变量，不阻止启动。
		_ = v.ReadInConfig()
	}

	return Config{
		Port:                  v.GetString("APP_PORT"),
		DatabaseDSN:           v.GetString("DATABASE_DSN"),
		JWTSecret:             v.GetString("JWT_SECRET"),
		Env:                   v.GetString("APP_ENV"),
		LogLevel:              v.GetString("LOG_LEVEL"),
		AccessTokenTTLMinutes: positive(v.GetInt("ACCESS_TOKEN_TTL_MINUTES"), 15),
		RefreshTokenTTLDays:   positive(v.GetInt("REFRESH_TOKEN_TTL_DAYS"), 7),
		InviteTTLHours:        positive(v.GetInt("INVITE_TTL_HOURS"), 7*24),
		MessageBackend:        strings.ToLower(v.GetString("MESSAGE_BACKEND")),
		StateBackend:          strings.ToLower(v.GetString("STATE_BACKEND")),
		RedisAddr:             v.GetString("REDIS_ADDR"),
		RedisPassword:         v.GetString("REDIS_PASSWORD"),
		RedisDB:               v.GetInt("REDIS_DB"),
		StreamBlockSeconds:    positive(v.GetInt("STREAM_BLOCK_SECONDS"), 5),
		SMTP: SMTPConfig{
			Host:     v.GetString("SMTP_HOST"),
			Port:     positive(v.GetInt("SMTP_PORT"), 587),
			From:     v.GetString("SMTP_FROM"),
			Username: v.GetString("SMTP_USERNAME"),
			Password: v.GetString("SMTP_PASSWORD"),
		},
		PublicBaseURL: strings.TrimRight(v.GetString("PUBLIC_BASE_URL"), "/"),
		CORSOrigins:   splitList(v.GetString("CORS_ORIGINS")),
	}
}

// Validate 检查启动所需的关键配置。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("APP_PORT is required")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("DATABASE_DSN is required")
	}
	if cfg.Env != "dev" && cfg.JWTSecret == DevJWTSecret {
		return errors.New("JWT_SECRET must be changed outside dev")
	}
	for name, backend := range map[string]string{"MESSAGE_BACKEND": cfg.MessageBackend, "STATE_BACKEND": cfg.StateBackend} {
		switch backend {
		case "", "memory":
		case "redis":
			if cfg.RedisAddr == "" {
				return errors.New(name + "=redis requires REDIS_ADDR")
			}
		default:
			return errors.New("unknown " + name + ": " + backend)
		}
	}
	return nil
}

func positive(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
