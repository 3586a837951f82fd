package utils

import (
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// InitLogger はzapロガーを初期化します。APP_ENV=development のときは
// 人間可読の開発向け出力、それ以外は本番向けJSON出力
func InitLogger() (*zap.Logger, error) {
	if os.Getenv("APP_ENV") == "development" {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = true // スタックトレースはErrorレベルでも冗長なため切る
	return cfg.Build()
}

// RequestLogger はHTTPリクエスト1件ごとのアクセスログを残すGinミドルウェアです。
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.String("clientIP", c.ClientIP()),
			zap.Duration("latency", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
			logger.Error("request failed", fields...)
			return
		}
		logger.Info("request", fields...)
	}
}
