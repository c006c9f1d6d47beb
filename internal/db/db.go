package db

import (
	"time"

	"circlechat/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Connect 负责建立到 Postgres 的连接，并带有简单的重试来等待容器就绪。
func Connect(dsn string) (*gorm.DB, error) {
	var gdb *gorm.DB
	var err error
	for i := 0; i < 10; i++ {
		gdb, err = Open(postgres.Open(dsn))
		if err == nil {
			sqlDB, err2 := gdb.DB()
			if err2 == nil {
				if err2 = sqlDB.Ping(); err2 == nil {
					sqlDB.SetMaxIdleConns(5)
					sqlDB.SetMaxOpenConns(20)
					sqlDB.SetConnMaxLifetime(time.Hour)
					return gdb, nil
				}
			}
			err = err2
		}
		time.Sleep(time.Duration(500+i*200) * time.Millisecond)
	}
	return nil, err
}

// Open 使用统一的 gorm 配置打开任意方言，测试中用于 sqlite。
// TranslateError 让唯一键冲突以 gorm.ErrDuplicatedKey 返回。
func Open(dialector gorm.Dialector) (*gorm.DB, error) {
	return gorm.Open(dialector, &gorm.Config{
		Logger:         NewGormLogger(200 * time.Millisecond),
		TranslateError: true,
	})
}

// Migrate 自动迁移全部表结构。
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&models.Account{},
		&models.Profile{},
		&models.Room{},
		&models.RoomMember{},
		&models.Invitation{},
		&models.RefreshToken{},
	)
}
