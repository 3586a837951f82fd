package broadcast

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/gorilla/websocket"
)

// 1接続へJSONテキストフレームを送信するヘルパー関数
func Send(conn *websocket.Conn, message map[string]interface{}, logger *zap.Logger) {
	if conn == nil {
		return
	}
	messageJSON, err := json.Marshal(message)
	if err != nil {
		logger.Error("Failed to marshal message", zap.Error(err))
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, messageJSON); err != nil {
		logger.Error("Failed to send message", zap.Error(err))
	}
}

// プロトコルエラーは送信者にのみ返す。ルームやトーナメントは落とさない
func SendError(conn *websocket.Conn, errorMessage string, logger *zap.Logger) {
	Send(conn, map[string]interface{}{
		"type":  "Error",
		"error": errorMessage,
	}, logger)
}
