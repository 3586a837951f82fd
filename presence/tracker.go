package presence

import (
	"context"
	"sync"
	"time"

	"pongserver/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 接続中ユーザー1人分の状態
type record struct {
	connCount       int
	lastSeen        time.Time
	persistedOnline bool // 直近にDBへ書いたオンライン値。冗長な書き込みを避ける
}

// プレゼンス差分を接続中の全クライアントへ流すための関数。main側で注入する
type Broadcaster func(message map[string]interface{})

// Tracker はユーザー毎の接続数とハートビートを管理し、
// オンライン/オフラインの遷移だけをDBへ永続化して差分を配信します。
type Tracker struct {
	mu        sync.Mutex
	records   map[uint]*record
	db        *gorm.DB
	logger    *zap.Logger
	broadcast Broadcaster
	ttl       time.Duration
}

func NewTracker(db *gorm.DB, logger *zap.Logger, broadcast Broadcaster, ttl time.Duration) *Tracker {
	if broadcast == nil {
		broadcast = func(map[string]interface{}) {}
	}
	return &Tracker{
		records:   make(map[uint]*record),
		db:        db,
		logger:    logger,
		broadcast: broadcast,
		ttl:       ttl,
	}
}

// Connect は接続確立時に呼ばれ、初回接続ならオンライン遷移を永続化・配信します。
func (t *Tracker) Connect(userID uint) {
	t.mu.Lock()
	rec, ok := t.records[userID]
	if !ok {
		rec = &record{}
		t.records[userID] = rec
	}
	rec.connCount++
	rec.lastSeen = time.Now()
	wentOnline := !rec.persistedOnline
	if wentOnline {
		rec.persistedOnline = true
	}
	t.mu.Unlock()

	if wentOnline {
		t.persistOnline(userID, true)
		t.broadcast(map[string]interface{}{"type": "Online", "userID": userID})
	}
}

// Disconnect は接続断で呼ばれ、接続数が0に戻ったらオフライン遷移を永続化・配信します。
func (t *Tracker) Disconnect(userID uint) {
	t.mu.Lock()
	rec, ok := t.records[userID]
	if !ok {
		t.mu.Unlock()
		return
	}
	rec.connCount--
	wentOffline := rec.connCount <= 0
	if wentOffline {
		delete(t.records, userID)
	}
	t.mu.Unlock()

	if wentOffline {
		t.persistOnline(userID, false)
		t.broadcast(map[string]interface{}{"type": "Offline", "userID": userID})
	}
}

// Heartbeat はPong受信毎に最終確認時刻を更新します。
func (t *Tracker) Heartbeat(userID uint) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rec, ok := t.records[userID]; ok {
		rec.lastSeen = time.Now()
	}
}

// IsOnline は接続数が1以上かを返します。
func (t *Tracker) IsOnline(userID uint) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[userID]
	return ok && rec.connCount > 0
}

// Snapshot は現在オンラインのユーザーID一覧を返します。接続直後の初期表示用
func (t *Tracker) Snapshot() []uint {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]uint, 0, len(t.records))
	for id, rec := range t.records {
		if rec.connCount > 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

// SendSnapshot は接続してきたクライアント1人にオンライン一覧を送ります。
func (t *Tracker) SendSnapshot(send func(message map[string]interface{})) {
	send(map[string]interface{}{"type": "Snapshot", "online": t.Snapshot()})
}

// Sweep はハートビートがTTLを超えて途絶えたレコードを掃除します。
// CloseHandlerが呼ばれずに消えた接続の取りこぼし対策
func (t *Tracker) Sweep() {
	now := time.Now()
	var expired []uint

	t.mu.Lock()
	for id, rec := range t.records {
		if now.Sub(rec.lastSeen) > t.ttl {
			delete(t.records, id)
			expired = append(expired, id)
		}
	}
	t.mu.Unlock()

	for _, id := range expired {
		t.logger.Info("Presence record expired", zap.Uint("UserID", id))
		t.persistOnline(id, false)
		t.broadcast(map[string]interface{}{"type": "Offline", "userID": id})
	}
}

// Run はTTLの半分の周期でSweepを回します。
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sweep()
		}
	}
}

func (t *Tracker) persistOnline(userID uint, online bool) {
	if t.db == nil {
		return
	}
	if err := t.db.Model(&models.User{}).Where("id = ?", userID).Update("is_online", online).Error; err != nil {
		t.logger.Error("Failed to persist online status", zap.Uint("UserID", userID), zap.Error(err))
	}
}
