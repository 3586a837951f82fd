package auth

import (
	"os"

	"pongserver/models"

	jwt "github.com/dgrijalva/jwt-go"
)

// ！！！本番環境では必ず環境変数 JWT_KEY を設定すること
var JwtKey = loadJwtKey()

func loadJwtKey() []byte {
	if key := os.Getenv("JWT_KEY"); key != "" {
		return []byte(key)
	}
	return []byte("development_only_secret_key")
}

func IsValidToken(tokenString string) (bool, error) {
	claims := &models.MyClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return JwtKey, nil
	})

	if err != nil {
		return false, err
	}

	return token.Valid, nil
}
