package database

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"pongserver/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// LoadConfig loads the configuration from config.json
func LoadConfig(filename string) (models.Config, error) {
	var config models.Config
	configFile, err := os.Open(filename)
	if err != nil {
		return config, err
	}
	defer configFile.Close()

	jsonParser := json.NewDecoder(configFile)
	if err := jsonParser.Decode(&config); err != nil {
		return config, err
	}
	applyDefaults(&config)
	return config, nil
}

// 設定ファイルで省略された運用値にデフォルトを補完する
func applyDefaults(config *models.Config) {
	if config.ReconnectGraceSeconds == 0 {
		config.ReconnectGraceSeconds = 60
	}
	if config.ForfeitGraceSeconds == 0 {
		config.ForfeitGraceSeconds = 30
	}
	if config.CountdownSeconds == 0 {
		config.CountdownSeconds = 3
	}
	if config.DrainIntervalMillis == 0 {
		config.DrainIntervalMillis = 15
	}
	if config.CleanupDelaySeconds == 0 {
		config.CleanupDelaySeconds = 10
	}
	if config.PresenceTTLSeconds == 0 {
		config.PresenceTTLSeconds = 90
	}
	if config.MaxScore == 0 {
		config.MaxScore = 5
	}
	if config.TimeLimitSeconds == 0 {
		config.TimeLimitSeconds = 300
	}
}

// DefaultConfig はテストや設定ファイル無し起動で使う補完済みのConfigを返します。
func DefaultConfig() models.Config {
	var config models.Config
	applyDefaults(&config)
	return config
}

func InitPostgreSQL(config models.Config, logger *zap.Logger) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s dbname=%s password=%s sslmode=%s",
		config.DBHost, config.DBUser, config.DBName, config.DBPassword, config.DBSSLMode)

	const maxRetries = 3
	const retryInterval = 5 * time.Second
	var err error
	for i := 0; i <= maxRetries; i++ {
		gormDB, openErr := gorm.Open(postgres.Open(dsn), &gorm.Config{})
		if openErr == nil {
			return gormDB, nil
		}
		err = openErr
		logger.Error("データベース接続のリトライ", zap.Int("retry", i), zap.Error(err))
		time.Sleep(retryInterval)
	}
	return nil, fmt.Errorf("データベース接続に失敗しました: %v", err)
}

func InitRedis(logger *zap.Logger) (*redis.Client, error) {
	// 環境変数からRedis接続情報を取得
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379" // デフォルト値
	}

	redisPassword := os.Getenv("REDIS_PASSWORD")
	redisDB := os.Getenv("REDIS_DB")
	db, err := strconv.Atoi(redisDB)
	if err != nil {
		logger.Info("Invalid REDIS_DB value, using default DB 0")
		db = 0 // デフォルトDB
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: redisPassword,
		DB:       db,
	})

	if _, err = rdb.Ping(context.Background()).Result(); err != nil {
		logger.Error("Failed to connect to Redis", zap.Error(err))
		return nil, err
	}

	logger.Info("Connected to Redis")
	return rdb, nil
}

// テーブルの作成
func AutoMigrateDB(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Room{},
		&models.RoomPlayer{},
		&models.GameRecord{},
		&models.Tournament{},
		&models.TournamentPlayer{},
		&models.ChainReceipt{},
	)
}
