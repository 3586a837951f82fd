package pong

import (
	"context"
	"fmt"
	"net/http"

	"pongserver/database"
	"pongserver/models"
	"pongserver/pong/broadcast"
	"pongserver/pong/connection"

	"go.uber.org/zap"
)

func errRoomNotFound(roomID string) error {
	return fmt.Errorf("room %s not found", roomID)
}

// HandleConnections はWebSocketエンドポイントの入口です。
// トークン検証、アップグレード、セッション復元による再接続、ルームまたは
// トーナメントロビーへの接続、読み取りループの起動までを担当する
func (d *Deps) HandleConnections(w http.ResponseWriter, r *http.Request) {
	client, err := connection.FetchClientContext(r, d.DB, d.Logger)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := d.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.Logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}
	client.Conn = conn
	ctx := context.Background()

	// sessionIdが有効なら切断前のコンテキストを優先して復元する
	reconnected := false
	if sessionID := r.URL.Query().Get("sessionId"); sessionID != "" {
		if restored := database.ValidateSessionID(ctx, d.RDB, sessionID, d.Logger); restored != nil && restored.UserID == client.UserID {
			client.RoomID = restored.RoomID
			client.TournamentID = restored.TournamentID
			client.Role = restored.Role
			reconnected = true
			database.DeleteSessionID(ctx, d.RDB, sessionID)
		}
	}

	d.registerClient(conn)
	if d.Presence != nil {
		d.Presence.Connect(client.UserID)
		d.Presence.SendSnapshot(func(message map[string]interface{}) {
			broadcast.Send(conn, message, d.Logger)
		})
	}

	if err := d.attachClient(client, reconnected); err != nil {
		broadcast.SendError(conn, err.Error(), d.Logger)
		conn.Close()
		d.unregisterClient(conn)
		if d.Presence != nil {
			d.Presence.Disconnect(client.UserID)
		}
		return
	}

	if err := database.GenerateAndStoreSessionID(ctx, client, d.RDB, d.Logger); err != nil {
		d.Logger.Error("Failed to issue session ID", zap.Uint("userID", client.UserID), zap.Error(err))
	}

	done := make(chan struct{})
	go connection.MaintainWebSocketConnection(conn, client, d.Presence, d.Logger, done)
	d.HandleClient(client, conn, done)
}

// attachClient は接続をルームかトーナメントロビーへ結び付けます。
func (d *Deps) attachClient(client *models.Client, reconnected bool) error {
	userID := int64(client.UserID)

	if reconnected {
		if room := d.Rooms.FindByUser(userID); room != nil {
			client.RoomID = room.ID
			if err := room.HandleReconnect(userID, client.Conn); err != nil {
				return err
			}
			if client.TournamentID != 0 && d.Tournaments != nil {
				d.Tournaments.HandleReconnect(client.TournamentID, userID, client.Conn)
			}
			return nil
		}
		if client.TournamentID != 0 && d.Tournaments != nil {
			d.Tournaments.HandleReconnect(client.TournamentID, userID, client.Conn)
			return nil
		}
		// 復元先が既に消えていた場合は新規接続として扱う
	}

	if client.TournamentID != 0 && d.Tournaments != nil {
		return d.Tournaments.Attach(client.TournamentID, userID, client.Conn)
	}

	if client.RoomID != "" {
		room := d.Rooms.Get(client.RoomID)
		if room == nil {
			return errRoomNotFound(client.RoomID)
		}
		participant := &models.BracketParticipant{ID: userID, NickName: client.NickName}
		if _, err := room.Seat(participant); err != nil {
			return err
		}
		if err := room.AttachConn(userID, client.Conn); err != nil {
			return err
		}
		room.Enqueue(map[string]interface{}{
			"type":     "AddPlayer",
			"userID":   userID,
			"nickName": client.NickName,
		})
	}
	return nil
}
