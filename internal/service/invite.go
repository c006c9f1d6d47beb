package service

import (
	"context"
	"errors"
	"time"

	"circlechat/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// DefaultInviteTTL 是邀请码默认有效期。
const DefaultInviteTTL = 7 * 24 * time.Hour

// InvitationService 签发和校验房间邀请码。
// 邀请码在过期前可以被任意多人多次使用。
type InvitationService struct {
	db  *gorm.DB
	ttl time.Duration
	now func() time.Time
}

func NewInvitationService(db *gorm.DB, ttl time.Duration) *InvitationService {
	if ttl <= 0 {
		ttl = DefaultInviteTTL
	}
	return &InvitationService{db: db, ttl: ttl, now: time.Now}
}

// CreateInvitation 为已存在的房间生成邀请码，Code 即记录主键。
func (s *InvitationService) CreateInvitation(ctx context.Context, roomID uint) (*models.Invitation, error) {
	db := s.db.WithContext(ctx)
	var room models.Room
	if err := db.Select("id").First(&room, roomID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, backend("create invitation", err)
	}
	inv := models.Invitation{
		Code:      uuid.NewString(),
		RoomID:    roomID,
		ExpiresAt: s.now().UTC().Add(s.ttl),
	}
	if err := db.Create(&inv).Error; err != nil {
		log.Error().Err(err).Uint("room_id", roomID).Msg("create invitation")
		return nil, backend("create invitation", err)
	}
	return &inv, nil
}

// RedeemInvitation 返回邀请码对应的房间，邀请码不存在或 now >= ExpiresAt 时返回 ErrInvitationInvalid。
func (s *InvitationService) RedeemInvitation(ctx context.Context, code string) (uint, error) {
	if _, err := uuid.Parse(code); err != nil {
		return 0, ErrInvitationInvalid
	}
	var inv models.Invitation
	if err := s.db.WithContext(ctx).First(&inv, "code = ?", code).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrInvitationInvalid
		}
		return 0, backend("redeem invitation", err)
	}
	if !s.now().Before(inv.ExpiresAt) {
		return 0, ErrInvitationInvalid
	}
	return inv.RoomID, nil
}
