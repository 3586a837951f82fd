package utils

import (
	"time"

	"pongserver/models"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func CronCleaner(db *gorm.DB, logger *zap.Logger) {
	c := cron.New()

	// 24時間動きのないルームをexpiredに更新するジョブ（毎日実行）
	c.AddFunc("@daily", func() {
		logger.Info("Starting stale room sweep")
		staleRoomIDs := []uint{}
		db.Model(&models.Room{}).
			Where("status IN ? AND updated_at <= ?", []string{"WAITING", "READY"}, time.Now().Add(-24*time.Hour)).
			Pluck("id", &staleRoomIDs).
			Update("status", "expired")

		// ルーム作成者のHasRoomをfalseに戻す
		for _, roomID := range staleRoomIDs {
			var room models.Room
			if err := db.First(&room, roomID).Error; err != nil {
				continue
			}
			db.Model(&models.User{}).Where("id = ?", room.CreatorID).Update("has_room", false)
		}

		// 開始されないまま放置されたロビー段階のトーナメントも畳む
		db.Model(&models.Tournament{}).
			Where("status IN ? AND updated_at <= ?", []string{"waiting", "ready"}, time.Now().Add(-24*time.Hour)).
			Update("status", "finished")
	})

	// expired状態のルームを削除するジョブ（"分 時 日 月 曜日"）
	c.AddFunc("0 3 * * *", func() {
		logger.Info("Starting expired room deletion")
		expiredRoomIDs := []uint{}
		db.Model(&models.Room{}).
			Where("status IN ? AND updated_at <= ?", []string{"expired", "ENDED"}, time.Now().Add(-48*time.Hour)).
			Pluck("id", &expiredRoomIDs)

		if len(expiredRoomIDs) > 0 {
			db.Where("room_db_id IN ?", expiredRoomIDs).Delete(&models.RoomPlayer{})
		}

		result := db.Where("id IN ?", expiredRoomIDs).Delete(&models.Room{})
		if result.Error != nil {
			logger.Error("Failed to delete expired rooms", zap.Error(result.Error))
		} else {
			logger.Info("Expired room deletion completed", zap.Int("rooms_deleted", int(result.RowsAffected)))
		}
	})

	c.Start()
}
