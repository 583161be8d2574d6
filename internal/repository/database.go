package repository

import (
	"fmt"
	"os"
	"time"

	"github.com/dakael7/gravitylabs/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func DSNFromEnv() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		os.Getenv("DB_HOST"),
		os.Getenv("DB_USER"),
		os.Getenv("DB_PASSWORD"),
		os.Getenv("DB_NAME"),
		os.Getenv("DB_PORT"),
		os.Getenv("DB_SSLMODE"),
	)
}

func InitDB(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(
		&models.Message{},
		&models.ReadCursor{},
		&models.ProjectRequest{},
		&models.SystemLog{},
	); err != nil {
		return nil, err
	}

	return db, nil
}
