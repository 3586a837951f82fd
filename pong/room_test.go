package pong

import (
	"fmt"
	"testing"
	"time"

	"pongserver/broker"
	"pongserver/database"
	"pongserver/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestRoom(t *testing.T) (*Room, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=private"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrateDB(db))

	cfg := database.DefaultConfig()
	cfg.CountdownSeconds = 0
	room := NewRoom("room-1", db, &cfg, SimulationConfig{MaxScore: 5}, zap.NewNop())
	return room, db
}

func seatHuman(t *testing.T, room *Room, id int64, nickName string) {
	t.Helper()
	_, err := room.Seat(&models.BracketParticipant{ID: id, NickName: nickName})
	require.NoError(t, err)
	require.NoError(t, room.AttachConn(id, nil))
}

func TestSeatTransitionsAndCapacity(t *testing.T) {
	room, _ := newTestRoom(t)
	assert.Equal(t, RoomWaiting, room.Status())

	seatHuman(t, room, 1, "alice")
	assert.Equal(t, RoomWaiting, room.Status())

	seatHuman(t, room, 2, "bob")
	assert.Equal(t, RoomReady, room.Status())

	// 同じユーザーの再着席は同じ座席に戻る
	idx, err := room.Seat(&models.BracketParticipant{ID: 1, NickName: "alice"})
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	_, err = room.Seat(&models.BracketParticipant{ID: 3, NickName: "carol"})
	assert.Error(t, err)
}

func TestForfeitResultIsIdempotent(t *testing.T) {
	room, db := newTestRoom(t)
	seatHuman(t, room, 1, "alice")
	seatHuman(t, room, 2, "bob")

	room.ForfeitAgainst(2, "reconnectTimeout")
	room.ForfeitAgainst(2, "reconnectTimeout")
	assert.Equal(t, RoomEnded, room.Status())

	// 二重確定してもレコードは1件のまま
	var count int64
	require.NoError(t, db.Model(&models.GameRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	var record models.GameRecord
	require.NoError(t, db.First(&record).Error)
	assert.Equal(t, int64(1), record.WinnerID)
	assert.Equal(t, "reconnectTimeout", record.Reason)
}

func TestReconnectCancelsGraceTimer(t *testing.T) {
	room, _ := newTestRoom(t)
	seatHuman(t, room, 1, "alice")
	seatHuman(t, room, 2, "bob")

	room.HandleDisconnect(2)
	timerKey := fmt.Sprintf("reconnect:%d", int64(2))
	room.mu.Lock()
	_, armed := room.timers[timerKey]
	room.mu.Unlock()
	assert.True(t, armed)

	require.NoError(t, room.HandleReconnect(2, nil))
	room.mu.Lock()
	_, armed = room.timers[timerKey]
	room.mu.Unlock()
	assert.False(t, armed)
	assert.NotEqual(t, RoomEnded, room.Status())
}

func TestRoomEventsDrainThroughOutboundQueueInOrder(t *testing.T) {
	room, _ := newTestRoom(t)
	// ドレインに先を越されないよう排出周期を十分長くし、キューを直接検査する
	room.cfg.DrainIntervalMillis = 3600000
	seatHuman(t, room, 1, "alice")
	seatHuman(t, room, 2, "bob")

	room.bus.Publish(broker.EventBallUpdate, map[string]interface{}{"type": "BallUpdate"})
	room.Enqueue(map[string]interface{}{"type": "AddPlayer"})
	room.bus.Publish(broker.EventPointMade, map[string]interface{}{"type": "PointMade"})
	room.bus.Publish(broker.EventGamePause, map[string]interface{}{"type": "GamePause"})
	room.bus.Publish(broker.EventGameEnded, map[string]interface{}{
		"type":    "GameEnded",
		"winner":  0,
		"results": []int{5, 3},
		"reason":  "score",
	})

	// シミュレーション発のイベントもロビー系メッセージも、発行順のまま
	// 1本のFIFOキューを通る
	want := []string{"BallUpdate", "AddPlayer", "PointMade", "GamePause", "GameEnded"}
	for _, typ := range want {
		message, ok := room.bus.DequeueOne()
		require.True(t, ok, typ)
		assert.Equal(t, typ, message["type"])
	}
	_, ok := room.bus.DequeueOne()
	assert.False(t, ok)
	assert.Equal(t, RoomEnded, room.Status())
}

func TestResumeStartsSimulationAfterCountdownDisconnect(t *testing.T) {
	room, _ := newTestRoom(t)
	room.cfg.CountdownSeconds = 1
	seatHuman(t, room, 1, "alice")
	seatHuman(t, room, 2, "bob")

	room.Start()
	require.Equal(t, RoomPlaying, room.Status())

	// カウントダウン中に切断。tickループはまだ起動していない
	room.HandleDisconnect(2)
	assert.Equal(t, RoomPaused, room.Status())

	// カウントダウンが終わってもPAUSEDの間はtickループを起動しない
	time.Sleep(1200 * time.Millisecond)
	room.mu.Lock()
	sim := room.sim
	started := room.simStarted
	room.mu.Unlock()
	require.NotNil(t, sim)
	assert.False(t, started)

	require.NoError(t, room.HandleReconnect(2, nil))
	require.True(t, room.Resume())
	assert.Equal(t, RoomPlaying, room.Status())

	// 再開経路でtickループが起動し、一時停止も解けている
	sim.mu.Lock()
	running := sim.cancel != nil
	paused := sim.paused
	sim.mu.Unlock()
	assert.True(t, running)
	assert.False(t, paused)
}

func TestBothDisconnectedTearsDownCasualRoom(t *testing.T) {
	room, _ := newTestRoom(t)
	seatHuman(t, room, 1, "alice")
	seatHuman(t, room, 2, "bob")

	var torndown string
	room.OnTeardown = func(roomID string) { torndown = roomID }

	room.HandleDisconnect(1)
	assert.Empty(t, torndown)
	room.HandleDisconnect(2)
	assert.Equal(t, "room-1", torndown)
	assert.Equal(t, RoomEnded, room.Status())
}
