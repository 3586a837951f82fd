package pong

import (
	"testing"

	"pongserver/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ロビー側への通知を記録するTournamentHub実装
type recordingHub struct {
	disconnects [][2]int64
}

func (h *recordingHub) Attach(uint, int64, *websocket.Conn) error    { return nil }
func (h *recordingHub) Detach(uint, int64)                           {}
func (h *recordingHub) ToggleReady(uint, int64) error                { return nil }
func (h *recordingHub) InviteVirtual(uint, int64, string) error      { return nil }
func (h *recordingHub) StartMatch(uint, string, int64) error         { return nil }
func (h *recordingHub) HandleReconnect(uint, int64, *websocket.Conn) {}

func (h *recordingHub) HandleDisconnect(tournamentID uint, userID int64) {
	h.disconnects = append(h.disconnects, [2]int64{int64(tournamentID), userID})
}

func TestClientGoneNotifiesRoomAndLobby(t *testing.T) {
	room, _ := newTestRoom(t)
	room.TournamentID = 5
	seatHuman(t, room, 1, "alice")
	seatHuman(t, room, 2, "bob")

	hub := &recordingHub{}
	deps := &Deps{
		Logger:      zap.NewNop(),
		Rooms:       NewRegistry(),
		Tournaments: hub,
		clients:     make(map[*websocket.Conn]bool),
	}
	deps.Rooms.Add(room)

	client := &models.Client{UserID: 2, RoomID: room.ID, TournamentID: 5}
	deps.handleClientGone(client)

	// 試合中の切断でもロビーの名簿へ届く。届かないと名簿が接続中のまま残る
	slots := room.Slots()
	assert.False(t, slots[1].Connected)
	require.Len(t, hub.disconnects, 1)
	assert.Equal(t, [2]int64{5, 2}, hub.disconnects[0])
}
