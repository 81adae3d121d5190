package database

import (
	"fmt"
	"log"

	"github.com/expertclone/backend-go/internal/config"
	"github.com/expertclone/backend-go/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func InitDB() (*gorm.DB, error) {
	cfg := config.AppConfig
	if cfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}

	db, err := gorm.Open(postgres.Open(cfg.Database.URL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// 获取底层的sql.DB设置连接池
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)

	if err := autoMigrate(db); err != nil {
		log.Printf("⚠️  Database migration warning: %v", err)
	}

	DB = db
	log.Println("✅ Database connected successfully")
	return db, nil
}

// autoMigrate 自动迁移RAG相关表（按依赖顺序）
func autoMigrate(db *gorm.DB) error {
	ordered := []interface{}{
		&models.Clone{},
		&models.KnowledgeDocument{},
		&models.KnowledgeChunk{},
		&models.VectorStoreRecord{},
		&models.AssistantRecord{},
		&models.RAGInitialization{},
		&models.RAGQuerySession{},
	}
	for _, model := range ordered {
		if err := db.AutoMigrate(model); err != nil {
			return fmt.Errorf("auto migrate failed: %w", err)
		}
	}
	return nil
}

func CloseDB() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
