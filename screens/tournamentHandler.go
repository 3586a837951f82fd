package screens

import (
	"errors"
	"net/http"
	"strconv"

	"pongserver/middlewares"
	"pongserver/models"
	"pongserver/tournament"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TournamentCreateRequest はトーナメント作成リクエストのボディを表す構造体です。
type TournamentCreateRequest struct {
	Name   string                  `json:"name"`
	Config models.TournamentConfig `json:"config"` // マップ・パワーアップ・風などの対戦設定
}

// TournamentCreateHandler は新規トーナメントを作成するハンドラです。
// 作成者が最初の参加者（ホスト）になる
func TournamentCreateHandler(c *gin.Context, db *gorm.DB, logger *zap.Logger, manager *tournament.Manager) {
	userID, err := middlewares.GetUserIDFromToken(c, logger)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		return
	}

	var request TournamentCreateRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		logger.Error("Request binding error", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Request binding error"})
		return
	}
	if request.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	var user models.User
	if err := db.First(&user, userID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	t, err := manager.Create(userID, user.NickName, request.Name, request.Config)
	if err != nil {
		logger.Error("Failed to create tournament", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create tournament"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"tournamentId": t.ID,
		"name":         t.Name,
	})
}

// TournamentJoinHandler は既存トーナメントへの参加を処理するハンドラです。
func TournamentJoinHandler(c *gin.Context, db *gorm.DB, logger *zap.Logger, manager *tournament.Manager) {
	userID, err := middlewares.GetUserIDFromToken(c, logger)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		return
	}
	tournamentID, err := parseTournamentID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid tournament ID"})
		return
	}

	var user models.User
	if err := db.First(&user, userID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	if err := manager.Join(tournamentID, userID, user.NickName); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, tournament.ErrTournamentNotFound):
			status = http.StatusNotFound
		case errors.Is(err, tournament.ErrTournamentFull), errors.Is(err, tournament.ErrTournamentStarted):
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"tournamentId": tournamentID})
}

// TournamentLeaveHandler は待機中トーナメントからの離脱を処理するハンドラです。
func TournamentLeaveHandler(c *gin.Context, db *gorm.DB, logger *zap.Logger, manager *tournament.Manager) {
	userID, err := middlewares.GetUserIDFromToken(c, logger)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		return
	}
	tournamentID, err := parseTournamentID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid tournament ID"})
		return
	}

	if err := manager.Leave(tournamentID, int64(userID)); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, tournament.ErrTournamentNotFound), errors.Is(err, tournament.ErrNotParticipant):
			status = http.StatusNotFound
		case errors.Is(err, tournament.ErrTournamentStarted):
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"tournamentId": tournamentID})
}

func parseTournamentID(c *gin.Context) (uint, error) {
	raw := c.Param("id")
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}
