package middlewares

import (
	"time"

	"pongserver/auth"
	"pongserver/models"

	"gorm.io/gorm"

	jwt "github.com/dgrijalva/jwt-go"
	"go.uber.org/zap"
)

func GenerateToken(db *gorm.DB, logger *zap.Logger, nickName string, subscriptionStatus string, existingUserID uint) (string, uint, error) {
	var userID uint
	var err error

	if existingUserID > 0 {
		// 既存のユーザーIDを再利用
		userID = existingUserID
	} else {
		// 新しいユーザーIDを生成
		userID, err = GenerateUserID(db, logger, nickName, subscriptionStatus)
		if err != nil {
			logger.Error("トークン生成中にエラー発生", zap.Error(err))
			return "", 0, err
		}
	}

	// トークンの有効期限を設定
	expirationTime := time.Now().Add(72 * time.Hour)

	// JWTトークン生成時に内包するデータ
	claims := &models.MyClaims{
		UserID:             userID,
		SubscriptionStatus: subscriptionStatus,
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: expirationTime.Unix(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(auth.JwtKey)

	return tokenString, userID, err
}

// GORMによるオートインクリメントユーザーIDを生成する関数
func GenerateUserID(db *gorm.DB, logger *zap.Logger, nickName string, subscriptionStatus string) (uint, error) {
	// データベースに新しいUserインスタンスを作成
	user := models.User{
		NickName:           nickName,
		SubscriptionStatus: subscriptionStatus,
	}
	if err := db.Create(&user).Error; err != nil {
		logger.Error("ユーザーID生成中にエラー発生", zap.Error(err))
		return 0, err
	}
	return user.ID, nil
}
