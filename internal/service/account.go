package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"circlechat/internal/auth"
	"circlechat/internal/config"
	"circlechat/internal/mail"
	"circlechat/internal/models"
	"circlechat/internal/state"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const (
	verifyKeyPrefix = "verify:"
	verifyTokenTTL  = 24 * time.Hour
)

// AccountService 封装账号注册、登录、token 刷新与邮箱验证。
type AccountService struct {
	db       *gorm.DB
	cfg      config.Config
	profiles *ProfileService
	state    state.Store
	mailer   mail.Sender
}

func NewAccountService(db *gorm.DB, cfg config.Config, profiles *ProfileService, st state.Store, mailer mail.Sender) *AccountService {
	return &AccountService{db: db, cfg: cfg, profiles: profiles, state: st, mailer: mailer}
}

// SignUpResult 注册成功后返回的数据。
type SignUpResult struct {
	ID      uint           `json:"id"`
	Email   string         `json:"email"`
	Profile models.Profile `json:"profile"`
}

// SignUp 创建账号和默认资料，并发送验证邮件。邮件发送失败只记录日志。
func (s *AccountService) SignUp(ctx context.Context, email, password, confirm string) (*SignUpResult, error) {
	if password != confirm {
		return nil, ErrPasswordMismatch
	}
	email = normalizeEmail(email)
	db := s.db.WithContext(ctx)
	var count int64
	if err := db.Model(&models.Account{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return nil, backend("sign up", err)
	}
	if count > 0 {
		return nil, ErrEmailTaken
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	acct := models.Account{Email: email, PasswordHash: hash}
	if err := db.Create(&acct).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrEmailTaken
		}
		log.Error().Err(err).Str("email", email).Msg("create account")
		return nil, backend("sign up", err)
	}
	res, err := s.profiles.ResolveProfile(ctx, acct.ID)
	if err != nil {
		return nil, err
	}
	if err := s.issueVerification(ctx, acct); err != nil {
		log.Warn().Err(err).Uint("user_id", acct.ID).Msg("send verification mail")
	}
	return &SignUpResult{ID: acct.ID, Email: acct.Email, Profile: res.Profile}, nil
}

// LoginResult 登录成功后返回的数据。
type LoginResult struct {
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token"`
	Profile      models.Profile `json:"profile"`
	Verified     bool           `json:"verified"`
	Account      models.Account `json:"-"`
}

// SignIn 校验邮箱密码并签发 token 对，同时解析（必要时补建）资料。
func (s *AccountService) SignIn(ctx context.Context, email, password string) (*LoginResult, error) {
	db := s.db.WithContext(ctx)
	var acct models.Account
	if err := db.Where("email = ?", normalizeEmail(email)).First(&acct).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, backend("sign in", err)
	}
	if !auth.VerifyPassword(acct.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	at, err := auth.GenerateAccessToken(acct.ID, s.cfg.JWTSecret, s.cfg.AccessTokenTTLMinutes)
	if err != nil {
		return nil, err
	}
	rt, err := auth.GenerateRefreshToken()
	if err != nil {
		return nil, err
	}
	if err := auth.SaveRefreshToken(db, acct.ID, rt, time.Now().Add(s.cfg.RefreshTokenTTL())); err != nil {
		return nil, backend("sign in", err)
	}
	res, err := s.profiles.ResolveProfile(ctx, acct.ID)
	if err != nil {
		return nil, err
	}
	return &LoginResult{
		AccessToken:  at,
		RefreshToken: rt,
		Profile:      res.Profile,
		Verified:     acct.VerifiedAt != nil,
		Account:      acct,
	}, nil
}

// RefreshResult 刷新 token 后返回的新 token 对。
type RefreshResult struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// RefreshTokens 验证旧 refresh token 并签发新 token 对（旋转刷新）。
func (s *AccountService) RefreshTokens(ctx context.Context, oldRT string) (*RefreshResult, error) {
	var result RefreshResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := auth.ValidateRefreshToken(tx, oldRT)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRefreshTokenInvalid
			}
			return err
		}
		if err := auth.RevokeRefreshToken(tx, oldRT); err != nil {
			return err
		}
		at, err := auth.GenerateAccessToken(rec.UserID, s.cfg.JWTSecret, s.cfg.AccessTokenTTLMinutes)
		if err != nil {
			return err
		}
		newRT, err := auth.GenerateRefreshToken()
		if err != nil {
			return err
		}
		if err := auth.SaveRefreshToken(tx, rec.UserID, newRT, time.Now().Add(s.cfg.RefreshTokenTTL())); err != nil {
			return err
		}
		result.AccessToken = at
		result.RefreshToken = newRT
		return nil
	})
	if err != nil {
		return nil, backend("refresh tokens", err)
	}
	return &result, nil
}

// Verify 消费验证 token 并标记账号已验证，token 只能使用一次。
func (s *AccountService) Verify(ctx context.Context, token string) error {
	if token == "" {
		return ErrVerificationInvalid
	}
	v, err := s.state.Take(ctx, verifyKeyPrefix+token)
	if err != nil {
		return backend("verify account", err)
	}
	if v == nil {
		return ErrVerificationInvalid
	}
	now := time.Now()
	res := s.db.WithContext(ctx).Model(&models.Account{}).
		Where("email = ? AND verified_at IS NULL", string(v)).
		Update("verified_at", &now)
	if res.Error != nil {
		return backend("verify account", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrVerificationInvalid
	}
	log.Info().Str("email", string(v)).Msg("account verified")
	return nil
}

// SendVerification 为未验证的账号重新发送验证邮件。
func (s *AccountService) SendVerification(ctx context.Context, accountID uint) error {
	var acct models.Account
	if err := s.db.WithContext(ctx).First(&acct, accountID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrAccountNotFound
		}
		return backend("send verification", err)
	}
	if acct.VerifiedAt != nil {
		return ErrAlreadyVerified
	}
	return backend("send verification", s.issueVerification(ctx, acct))
}

func (s *AccountService) issueVerification(ctx context.Context, acct models.Account) error {
	token, err := auth.GenerateRefreshToken()
	if err != nil {
		return err
	}
	if err := s.state.Set(ctx, verifyKeyPrefix+token, []byte(acct.Email), verifyTokenTTL); err != nil {
		return err
	}
	link := strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/api/v1/auth/verify?token=" + token
	body := "Open the link below to verify your circlechat account:\n\n" + link + "\n\nThe link expires in 24 hours.\n"
	return s.mailer.Send(ctx, acct.Email, "Verify your circlechat account", body)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
