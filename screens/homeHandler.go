package screens

import (
	"net/http"

	"pongserver/middlewares"
	"pongserver/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// HomeHandler はホーム画面に必要な情報をまとめて返すハンドラです。
func HomeHandler(c *gin.Context, db *gorm.DB, logger *zap.Logger) {
	userID, err := middlewares.GetUserIDFromToken(c, logger)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		return
	}

	var user models.User
	if err := db.First(&user, userID).Error; err != nil {
		logger.Error("User not found", zap.Uint("userID", userID), zap.Error(err))
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	// 参加可能な待機中トーナメント
	var waiting []models.Tournament
	if err := db.Preload("Players").Where("status = ?", "waiting").Find(&waiting).Error; err != nil {
		logger.Error("Failed to list tournaments", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list tournaments"})
		return
	}

	tournaments := make([]gin.H, 0, len(waiting))
	for _, t := range waiting {
		tournaments = append(tournaments, gin.H{
			"id":          t.ID,
			"name":        t.Name,
			"playerCount": len(t.Players),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"userID":      user.ID,
		"nickname":    user.NickName,
		"hasRoom":     user.HasRoom,
		"tournaments": tournaments,
	})
}
