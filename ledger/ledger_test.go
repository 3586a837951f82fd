package ledger

import (
	"testing"

	"pongserver/database"
	"pongserver/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestRecorder(t *testing.T) (*Recorder, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=private"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrateDB(db))
	return NewRecorder(db, zap.NewNop()), db
}

func TestStoreMatchIsIdempotent(t *testing.T) {
	recorder, db := newTestRecorder(t)

	payload := map[string]interface{}{"winnerId": 42}
	require.NoError(t, recorder.StoreMatch(7, 3, payload))

	// 2回目はキー衝突で既記録扱いになる
	assert.ErrorIs(t, recorder.StoreMatch(7, 3, payload), ErrDuplicateEntry)

	var count int64
	require.NoError(t, db.Model(&models.ChainReceipt{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestDistinctKeysDoNotCollide(t *testing.T) {
	recorder, db := newTestRecorder(t)

	require.NoError(t, recorder.StoreMatch(7, 3, "a"))
	require.NoError(t, recorder.StoreMatch(7, 4, "b"))
	require.NoError(t, recorder.StoreMatch(8, 3, "c"))
	require.NoError(t, recorder.StoreFinalBracket(7, "bracket"))

	var count int64
	require.NoError(t, db.Model(&models.ChainReceipt{}).Count(&count).Error)
	assert.Equal(t, int64(4), count)
}
