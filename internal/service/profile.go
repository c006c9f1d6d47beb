package service

import (
	"context"
	"errors"

	"circlechat/internal/metrics"
	"circlechat/internal/models"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProfileService 把账号 ID 解析为应用层资料，资料缺失时自动补建。
type ProfileService struct {
	db *gorm.DB
}

func NewProfileService(db *gorm.DB) *ProfileService {
	return &ProfileService{db: db}
}

// Resolution 是 ResolveProfile 的结果，Created 表示本次调用新建了资料。
type Resolution struct {
	Profile models.Profile
	Created bool
}

// ResolveProfile 查找资料，不存在时以默认昵称创建。
// 并发的首次创建通过 ON CONFLICT DO NOTHING 收敛到同一行。
func (s *ProfileService) ResolveProfile(ctx context.Context, userID uint) (Resolution, error) {
	if userID == 0 {
		return Resolution{}, ErrProfileNotFound
	}
	db := s.db.WithContext(ctx)
	var p models.Profile
	err := db.First(&p, userID).Error
	if err == nil {
		return Resolution{Profile: p}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Resolution{}, backend("resolve profile", err)
	}

	p = models.Profile{ID: userID, DisplayName: models.DefaultDisplayName(userID)}
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&p)
	if res.Error != nil {
		return Resolution{}, backend("create profile", res.Error)
	}
	if res.RowsAffected == 0 {
		// 另一个请求抢先创建，读回那一行。
		if err := db.First(&p, userID).Error; err != nil {
			return Resolution{}, backend("resolve profile", err)
		}
		return Resolution{Profile: p}, nil
	}
	metrics.ProfilesCreated.Inc()
	log.Info().Uint("user_id", userID).Msg("profile created")
	return Resolution{Profile: p, Created: true}, nil
}

// RenameProfile 修改昵称，不校验内容，允许为空或与他人重复。
func (s *ProfileService) RenameProfile(ctx context.Context, userID uint, displayName string) (*models.Profile, error) {
	db := s.db.WithContext(ctx)
	var p models.Profile
	if err := db.First(&p, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, backend("rename profile", err)
	}
	if err := db.Model(&p).Update("display_name", displayName).Error; err != nil {
		return nil, backend("rename profile", err)
	}
	p.DisplayName = displayName
	return &p, nil
}

// resolveMany 先批量读取，再对缺失的 ID 逐个补建，结果顺序与 ids 一致。
func (s *ProfileService) resolveMany(ctx context.Context, ids []uint) ([]models.Profile, error) {
	if len(ids) == 0 {
		return []models.Profile{}, nil
	}
	var found []models.Profile
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&found).Error; err != nil {
		return nil, backend("resolve profiles", err)
	}
	byID := make(map[uint]models.Profile, len(found))
	for _, p := range found {
		byID[p.ID] = p
	}
	out := make([]models.Profile, 0, len(ids))
	for _, id := range ids {
		p, ok := byID[id]
		if !ok {
			res, err := s.ResolveProfile(ctx, id)
			if err != nil {
				return nil, err
			}
			p = res.Profile
			byID[id] = p
		}
		out = append(out, p)
	}
	return out, nil
}
