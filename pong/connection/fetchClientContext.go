package connection

import (
	"errors"
	"net/http"
	"strconv"

	"pongserver/auth"
	"pongserver/models"

	"github.com/dgrijalva/jwt-go"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// FetchClientContext はWebSocketアップグレード前のHTTPリクエストから
// 接続者のコンテキストを組み立てます。トークンとパラメータはクエリ文字列で受け取る
func FetchClientContext(r *http.Request, db *gorm.DB, logger *zap.Logger) (*models.Client, error) {
	tokenString := r.URL.Query().Get("token")
	if tokenString == "" {
		return nil, errors.New("token is required")
	}

	claims := &models.MyClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return auth.JwtKey, nil
	})
	if err != nil || !token.Valid {
		logger.Warn("Invalid token on websocket connect", zap.Error(err))
		return nil, errors.New("invalid token")
	}

	var user models.User
	if err := db.First(&user, claims.UserID).Error; err != nil {
		logger.Error("Failed to load user for websocket connect",
			zap.Uint("userID", claims.UserID), zap.Error(err))
		return nil, errors.New("unknown user")
	}

	client := &models.Client{
		UserID:   claims.UserID,
		NickName: user.NickName,
		RoomID:   r.URL.Query().Get("roomId"),
	}
	if raw := r.URL.Query().Get("tournamentId"); raw != "" {
		tid, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return nil, errors.New("invalid tournamentId")
		}
		client.TournamentID = uint(tid)
	}
	return client, nil
}
