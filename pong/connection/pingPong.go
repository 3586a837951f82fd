package connection

import (
	"time"

	"pongserver/models"
	"pongserver/presence"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
)

// MaintainWebSocketConnection は定期的なpingで接続の生存を確認します。
// pong応答は読み取り期限の延長と在席トラッカーのハートビートを兼ねる。
// 接続が落ちたらdoneを閉じて読み取りループ側へ伝える
func MaintainWebSocketConnection(conn *websocket.Conn, client *models.Client, tracker *presence.Tracker, logger *zap.Logger, done <-chan struct{}) {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		if tracker != nil {
			tracker.Heartbeat(client.UserID)
		}
		return nil
	})

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				logger.Info("Ping failed, connection presumed dead",
					zap.Uint("userID", client.UserID), zap.Error(err))
				conn.Close()
				return
			}
		}
	}
}
