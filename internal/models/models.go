package models

import (
	"strconv"
	"time"
)

// Account 是登录凭据记录，ID 即各处使用的用户 ID。
type Account struct {
	ID           uint       `gorm:"primaryKey"`
	Email        string     `gorm:"uniqueIndex;size:254;not null"`
	PasswordHash string     `gorm:"not null"`
	VerifiedAt   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Profile 是应用层的用户资料，ID 与 Account.ID 相同，不做自增。
type Profile struct {
	ID          uint      `gorm:"primaryKey;autoIncrement:false" json:"id"`
	DisplayName string    `gorm:"size:128;not null" json:"display_name"`
	CreatedAt   time.Time `json:"-"`
	UpdatedAt   time.Time `json:"-"`
}

func (Profile) TableName() string { return "users" }

// DefaultDisplayName 返回首次创建资料时使用的昵称。
func DefaultDisplayName(id uint) string {
	return "user-" + strconv.FormatUint(uint64(id), 10)
}

type Room struct {
	ID        uint      `gorm:"primaryKey"`
	Name      string    `gorm:"size:128;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RoomMember 以 (room_id, user_id) 为主键，同一用户在房间内至多一行。
type RoomMember struct {
	RoomID    uint      `gorm:"primaryKey;autoIncrement:false"`
	UserID    uint      `gorm:"primaryKey;autoIncrement:false;index"`
	CreatedAt time.Time
}

// Invitation 的 Code 由服务端生成，同时作为记录主键和分享给他人的邀请码。
type Invitation struct {
	Code      string    `gorm:"primaryKey;size:36"`
	RoomID    uint      `gorm:"index;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	CreatedAt time.Time
}

func (Invitation) TableName() string { return "invites" }

type RefreshToken struct {
	ID        uint       `gorm:"primaryKey"`
	UserID    uint       `gorm:"index;not null"`
	Token     string     `gorm:"uniqueIndex;size:128;not null"`
	ExpiresAt time.Time  `gorm:"index;not null"`
	RevokedAt *time.Time
	CreatedAt time.Time
}
