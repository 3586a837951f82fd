package pong

import (
	"encoding/json"

	"pongserver/models"
	"pongserver/pong/broadcast"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// HandleClient は1接続分の読み取りループです。メッセージごとにtypeで分岐する。
// 不正なペイロードで落ちてもルームやトーナメント全体には波及させない
func (d *Deps) HandleClient(client *models.Client, conn *websocket.Conn, done chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			d.Logger.Error("Recovered from panic in client loop",
				zap.Uint("userID", client.UserID), zap.Any("panic", r))
			broadcast.SendError(conn, "Internal error", d.Logger)
		}
		close(done)
		d.handleClientGone(client)
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				d.Logger.Info("Unexpected websocket close",
					zap.Uint("userID", client.UserID), zap.Error(err))
			}
			return
		}

		var message map[string]interface{}
		if err := json.Unmarshal(raw, &message); err != nil {
			broadcast.SendError(conn, "Invalid JSON", d.Logger)
			continue
		}
		msgType, ok := message["type"].(string)
		if !ok {
			broadcast.SendError(conn, "Message type is required", d.Logger)
			continue
		}
		d.dispatch(client, conn, msgType, message)
	}
}

func (d *Deps) dispatch(client *models.Client, conn *websocket.Conn, msgType string, message map[string]interface{}) {
	switch msgType {
	case "ToggleReady":
		d.handleToggleReady(client, conn)
	case "InviteAI":
		d.handleInviteAI(client, conn, message)
	case "TournamentMatchStart":
		d.handleTournamentMatchStart(client, conn, message)
	case "PlayerPreMove":
		d.handlePreMove(client, message)
	case "PlayerUsePowerUp":
		d.handleUsePowerUp(client, conn, message)
	case "GameInit":
		d.handleGameInit(client, conn)
	case "resumeGame":
		d.handleResume(client, conn)
	default:
		d.Logger.Warn("Unknown message type",
			zap.Uint("userID", client.UserID), zap.String("type", msgType))
		broadcast.SendError(conn, "Unknown message type", d.Logger)
	}
}

// currentRoom はクライアントの現在のルームを引きます。RoomIDの指定が古い場合に
// 備えて着席情報からの逆引きも行う
func (d *Deps) currentRoom(client *models.Client) *Room {
	if client.RoomID != "" {
		if room := d.Rooms.Get(client.RoomID); room != nil {
			return room
		}
	}
	if room := d.Rooms.FindByUser(int64(client.UserID)); room != nil {
		client.RoomID = room.ID
		return room
	}
	return nil
}

// 読み取りループ終了後の後始末。在席トラッカーとルーム・トーナメントへ伝える。
// 試合中の切断でもロビーの名簿には接続断を反映させるため、両方へ通知する
func (d *Deps) handleClientGone(client *models.Client) {
	if client.Conn != nil {
		d.unregisterClient(client.Conn)
	}
	if d.Presence != nil {
		d.Presence.Disconnect(client.UserID)
	}
	if room := d.currentRoom(client); room != nil {
		room.HandleDisconnect(int64(client.UserID))
	}
	if client.TournamentID != 0 && d.Tournaments != nil {
		d.Tournaments.HandleDisconnect(client.TournamentID, int64(client.UserID))
	}
}
