package presence

import (
	"testing"
	"time"

	"pongserver/database"
	"pongserver/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=private"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrateDB(db))
	return db
}

func TestConnectDisconnectTransitions(t *testing.T) {
	db := newTestDB(t)
	user := models.User{NickName: "alice", SubscriptionStatus: "free"}
	require.NoError(t, db.Create(&user).Error)

	var events []string
	tracker := NewTracker(db, zap.NewNop(), func(message map[string]interface{}) {
		events = append(events, message["type"].(string))
	}, time.Minute)

	// 2本目の接続ではオンライン遷移を重複配信しない
	tracker.Connect(user.ID)
	tracker.Connect(user.ID)
	assert.Equal(t, []string{"Online"}, events)
	assert.True(t, tracker.IsOnline(user.ID))

	var persisted models.User
	require.NoError(t, db.First(&persisted, user.ID).Error)
	assert.True(t, persisted.IsOnline)

	// 接続数が0に戻るまでオフラインにしない
	tracker.Disconnect(user.ID)
	assert.Equal(t, []string{"Online"}, events)
	tracker.Disconnect(user.ID)
	assert.Equal(t, []string{"Online", "Offline"}, events)
	assert.False(t, tracker.IsOnline(user.ID))

	require.NoError(t, db.First(&persisted, user.ID).Error)
	assert.False(t, persisted.IsOnline)
}

func TestSweepExpiresStaleRecords(t *testing.T) {
	db := newTestDB(t)
	user := models.User{NickName: "bob", SubscriptionStatus: "free"}
	require.NoError(t, db.Create(&user).Error)

	var events []string
	tracker := NewTracker(db, zap.NewNop(), func(message map[string]interface{}) {
		events = append(events, message["type"].(string))
	}, 10*time.Millisecond)

	tracker.Connect(user.ID)
	time.Sleep(20 * time.Millisecond)
	tracker.Sweep()

	assert.Equal(t, []string{"Online", "Offline"}, events)
	assert.False(t, tracker.IsOnline(user.ID))
}

func TestSnapshotListsOnlineUsers(t *testing.T) {
	tracker := NewTracker(nil, zap.NewNop(), nil, time.Minute)
	tracker.Connect(1)
	tracker.Connect(2)
	tracker.Disconnect(2)

	snapshot := tracker.Snapshot()
	assert.Equal(t, []uint{1}, snapshot)
}
