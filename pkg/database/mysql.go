package database

import (
	"fmt"
	"time"

	"course-rag-go/internal/model"
	"course-rag-go/pkg/log"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// InitMySQL 初始化 MySQL 数据库连接并迁移文档版本表。
func InitMySQL(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&model.Document{}); err != nil {
		return nil, fmt.Errorf("failed to migrate course_documents: %w", err)
	}

	log.Info("[Database] MySQL 连接成功")
	return db, nil
}
