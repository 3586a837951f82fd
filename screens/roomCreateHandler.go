package screens

import (
	"net/http"

	"pongserver/middlewares"
	"pongserver/models"
	"pongserver/pong"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RoomCreateHandler はカジュアル対戦ルームを作成するハンドラです。
// 作成したルームへはWebSocketでroomIdを指定して入室する
func RoomCreateHandler(c *gin.Context, db *gorm.DB, logger *zap.Logger, deps *pong.Deps) {
	userID, err := middlewares.GetUserIDFromToken(c, logger)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		return
	}

	roomID := deps.Rooms.AllocateCasualID()
	room := pong.NewRoom(roomID, db, deps.Config, deps.SimulationConfigFor(nil), logger)
	room.OnTeardown = deps.Rooms.Remove
	deps.Rooms.Add(room)

	record := models.Room{
		RoomID:    roomID,
		CreatorID: userID,
		Status:    string(pong.RoomWaiting),
	}
	if err := db.Create(&record).Error; err != nil {
		logger.Error("Failed to persist room", zap.String("roomID", roomID), zap.Error(err))
		deps.Rooms.Remove(roomID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create room"})
		return
	}
	db.Model(&models.User{}).Where("id = ?", userID).Update("has_room", true)

	c.JSON(http.StatusCreated, gin.H{"roomId": roomID})
}
