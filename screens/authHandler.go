package screens

import (
	"net/http"

	"pongserver/middlewares"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AuthRequest はトークン発行リクエストのボディを表す構造体です。
type AuthRequest struct {
	NickName           string `json:"nickname"`           // プレイヤーの表示名
	SubscriptionStatus string `json:"subscriptionStatus"` // 課金ステータス
}

// AuthHandler はプレイヤーの登録とJWT発行を処理するハンドラです。
// 有効なトークン付きで呼ばれた場合は同じユーザーIDでトークンを更新する
func AuthHandler(c *gin.Context, db *gorm.DB, logger *zap.Logger) {
	var request AuthRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		logger.Error("Request binding error", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Request binding error"})
		return
	}
	if request.NickName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nickname is required"})
		return
	}

	// 既存トークンがあれば同一ユーザーとして更新する
	var existingUserID uint
	if c.GetHeader("Authorization") != "" {
		if userID, err := middlewares.GetUserIDFromToken(c, logger); err == nil {
			existingUserID = userID
		}
	}

	token, userID, err := middlewares.GenerateToken(db, logger, request.NickName, request.SubscriptionStatus, existingUserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Token generation failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":  token,
		"userID": userID,
	})
}
