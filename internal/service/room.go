package service

import (
	"context"
	"errors"

	"circlechat/internal/metrics"
	"circlechat/internal/models"
	"circlechat/internal/msglog"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Presence 提供房间在线人数，并能断开已退出用户的实时连接，由 ws.Hub 实现。
type Presence interface {
	Online(roomID uint) int
	Kick(roomID, userID uint)
}

// RoomService 封装房间与成员相关的业务逻辑。
// 成员关系每人一行，加入和退出都是单行的原子写，不存在读-改-写丢失更新。
type RoomService struct {
	db       *gorm.DB
	profiles *ProfileService
	invites  *InvitationService
	msgs     msglog.Log
	presence Presence
}

func NewRoomService(db *gorm.DB, profiles *ProfileService, invites *InvitationService, msgs msglog.Log, presence Presence) *RoomService {
	return &RoomService{db: db, profiles: profiles, invites: invites, msgs: msgs, presence: presence}
}

// RoomDTO 是对外输出的房间数据，Members 已解析为资料。
type RoomDTO struct {
	ID      uint             `json:"id"`
	Name    string           `json:"name"`
	Members []models.Profile `json:"members"`
}

// RoomSummary 用于房间列表。
type RoomSummary struct {
	ID     uint   `json:"id"`
	Name   string `json:"name"`
	Online int    `json:"online"`
}

// ListRoomsForUser 返回包含该用户的全部房间，顺序为存储自然顺序。
func (s *RoomService) ListRoomsForUser(ctx context.Context, userID uint) ([]RoomSummary, error) {
	var rooms []models.Room
	err := s.db.WithContext(ctx).
		Joins("JOIN room_members ON room_members.room_id = rooms.id").
		Where("room_members.user_id = ?", userID).
		Find(&rooms).Error
	if err != nil {
		return nil, backend("list rooms", err)
	}
	out := make([]RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, RoomSummary{ID: r.ID, Name: r.Name, Online: s.online(r.ID)})
	}
	return out, nil
}

// CreateRoom 创建房间，创建者是唯一成员。房间名不要求唯一。
func (s *RoomService) CreateRoom(ctx context.Context, name string, creatorID uint) (*RoomDTO, error) {
	room := models.Room{Name: name}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&room).Error; err != nil {
			return err
		}
		return tx.Create(&models.RoomMember{RoomID: room.ID, UserID: creatorID}).Error
	})
	if err != nil {
		log.Error().Err(err).Uint("creator_id", creatorID).Str("name", name).Msg("create room")
		return nil, backend("create room", err)
	}
	members, err := s.profiles.resolveMany(ctx, []uint{creatorID})
	if err != nil {
		return nil, err
	}
	return &RoomDTO{ID: room.ID, Name: room.Name, Members: members}, nil
}

// GetRoom 读取房间并解析全部成员。资料缺失的成员由 ProfileService 补建默认资料，
// 不会被静默丢弃；解析时的后端错误使整个调用失败。
func (s *RoomService) GetRoom(ctx context.Context, roomID uint) (*RoomDTO, error) {
	db := s.db.WithContext(ctx)
	var room models.Room
	if err := db.First(&room, roomID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, backend("get room", err)
	}
	ids, err := s.memberIDs(db, roomID)
	if err != nil {
		return nil, backend("get room", err)
	}
	members, err := s.profiles.resolveMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	return &RoomDTO{ID: room.ID, Name: room.Name, Members: members}, nil
}

// LeaveRoom 移除一个成员。最后一个成员退出时房间、邀请码和消息日志一并删除，
// 保证存在的房间至少有一个成员。
func (s *RoomService) LeaveRoom(ctx context.Context, roomID, userID uint) error {
	emptied := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockRoom(tx, roomID); err != nil {
			return err
		}
		res := tx.Where("room_id = ? AND user_id = ?", roomID, userID).Delete(&models.RoomMember{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotMember
		}
		var left int64
		if err := tx.Model(&models.RoomMember{}).Where("room_id = ?", roomID).Count(&left).Error; err != nil {
			return err
		}
		if left > 0 {
			return nil
		}
		if err := tx.Where("room_id = ?", roomID).Delete(&models.Invitation{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&models.Room{}, roomID).Error; err != nil {
			return err
		}
		emptied = true
		return nil
	})
	if err != nil {
		err = backend("leave room", err)
		var be *BackendError
		if errors.As(err, &be) {
			log.Error().Err(err).Uint("room_id", roomID).Uint("user_id", userID).Msg("leave room")
		}
		return err
	}
	if s.presence != nil {
		s.presence.Kick(roomID, userID)
	}
	if emptied {
		log.Info().Uint("room_id", roomID).Msg("room emptied and removed")
		if err := s.msgs.Drop(ctx, roomID); err != nil {
			log.Warn().Err(err).Uint("room_id", roomID).Msg("drop message log")
		}
	}
	return nil
}

// JoinRoom 校验邀请码并把用户加入对应房间，重复加入是幂等的。
func (s *RoomService) JoinRoom(ctx context.Context, code string, userID uint) (uint, error) {
	roomID, err := s.invites.RedeemInvitation(ctx, code)
	if err != nil {
		return 0, err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockRoom(tx, roomID); err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.RoomMember{RoomID: roomID, UserID: userID}).Error
	})
	if err != nil {
		return 0, backend("join room", err)
	}
	metrics.InvitationsRedeemed.Inc()
	return roomID, nil
}

// RenameRoom 确认房间存在后只更新名称。
func (s *RoomService) RenameRoom(ctx context.Context, roomID uint, name string) error {
	db := s.db.WithContext(ctx)
	var room models.Room
	if err := db.First(&room, roomID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRoomNotFound
		}
		return backend("rename room", err)
	}
	if err := db.Model(&room).Update("name", name).Error; err != nil {
		return backend("rename room", err)
	}
	return nil
}

// IsMember 判断用户是否属于房间。
func (s *RoomService) IsMember(ctx context.Context, roomID, userID uint) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.RoomMember{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Count(&n).Error
	if err != nil {
		return false, backend("check membership", err)
	}
	return n > 0, nil
}

func (s *RoomService) memberIDs(db *gorm.DB, roomID uint) ([]uint, error) {
	var ids []uint
	err := db.Model(&models.RoomMember{}).
		Where("room_id = ?", roomID).
		Order("created_at, user_id").
		Pluck("user_id", &ids).Error
	return ids, err
}

func (s *RoomService) online(roomID uint) int {
	if s.presence == nil {
		return 0
	}
	return s.presence.Online(roomID)
}

// lockRoom 对房间行加 FOR UPDATE 锁，串行化同一房间的成员变更。
func lockRoom(tx *gorm.DB, roomID uint) error {
	var room models.Room
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id").First(&room, roomID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrRoomNotFound
	}
	return err
}
