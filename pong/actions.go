package pong

import (
	"pongserver/models"
	"pongserver/pong/broadcast"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ロビーと試合中のクライアント操作。いずれも送信者単位のエラー応答に留める

func (d *Deps) handleToggleReady(client *models.Client, conn *websocket.Conn) {
	if client.TournamentID != 0 {
		if err := d.Tournaments.ToggleReady(client.TournamentID, int64(client.UserID)); err != nil {
			broadcast.SendError(conn, err.Error(), d.Logger)
		}
		return
	}
	room := d.currentRoom(client)
	if room == nil {
		broadcast.SendError(conn, "No room to ready up in", d.Logger)
		return
	}
	room.ToggleReady(int64(client.UserID))
}

func (d *Deps) handleInviteAI(client *models.Client, conn *websocket.Conn, message map[string]interface{}) {
	nickName, _ := message["nickName"].(string)
	if nickName == "" {
		nickName = "AI Player"
	}

	if client.TournamentID != 0 {
		if err := d.Tournaments.InviteVirtual(client.TournamentID, int64(client.UserID), nickName); err != nil {
			broadcast.SendError(conn, err.Error(), d.Logger)
		}
		return
	}

	room := d.currentRoom(client)
	if room == nil {
		broadcast.SendError(conn, "No room to invite into", d.Logger)
		return
	}
	participant := d.Virtual.Create(nickName)
	if _, err := room.Seat(participant); err != nil {
		d.Virtual.Remove(participant.ID)
		broadcast.SendError(conn, err.Error(), d.Logger)
		return
	}
	room.Enqueue(map[string]interface{}{
		"type":     "AddPlayer",
		"userID":   participant.ID,
		"nickName": participant.NickName,
		"virtual":  true,
	})
	d.Logger.Info("Virtual player seated",
		zap.String("roomID", room.ID), zap.Int64("virtualID", participant.ID))
}

func (d *Deps) handleTournamentMatchStart(client *models.Client, conn *websocket.Conn, message map[string]interface{}) {
	roomID, _ := message["roomId"].(string)
	if roomID == "" || client.TournamentID == 0 {
		broadcast.SendError(conn, "roomId and tournament context are required", d.Logger)
		return
	}
	if err := d.Tournaments.StartMatch(client.TournamentID, roomID, int64(client.UserID)); err != nil {
		broadcast.SendError(conn, err.Error(), d.Logger)
		return
	}
	room := d.Rooms.Get(roomID)
	if room == nil {
		broadcast.SendError(conn, "Match room not found", d.Logger)
		return
	}
	if err := room.AttachConn(int64(client.UserID), conn); err != nil {
		broadcast.SendError(conn, err.Error(), d.Logger)
		return
	}
	client.RoomID = roomID
	room.Start()
}

func (d *Deps) handlePreMove(client *models.Client, message map[string]interface{}) {
	room := d.currentRoom(client)
	if room == nil {
		return
	}
	dir, _ := message["dir"].(string)
	room.PreMove(int64(client.UserID), dir)
}

func (d *Deps) handleUsePowerUp(client *models.Client, conn *websocket.Conn, message map[string]interface{}) {
	room := d.currentRoom(client)
	if room == nil {
		return
	}
	slotFloat, ok := message["slot"].(float64)
	if !ok {
		broadcast.SendError(conn, "slot is required", d.Logger)
		return
	}
	if !room.UsePowerUp(int64(client.UserID), int(slotFloat)) {
		broadcast.SendError(conn, "No power-up in that slot", d.Logger)
	}
}

func (d *Deps) handleGameInit(client *models.Client, conn *websocket.Conn) {
	room := d.currentRoom(client)
	if room == nil {
		broadcast.SendError(conn, "No active room", d.Logger)
		return
	}
	broadcast.Send(conn, room.Snapshot(), d.Logger)
}

func (d *Deps) handleResume(client *models.Client, conn *websocket.Conn) {
	room := d.currentRoom(client)
	if room == nil {
		broadcast.SendError(conn, "No active room", d.Logger)
		return
	}
	if !room.Resume() {
		broadcast.SendError(conn, "Cannot resume yet", d.Logger)
	}
}
