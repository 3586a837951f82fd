package pong

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pongserver/broker"
	"pongserver/models"
	"pongserver/pong/broadcast"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type RoomStatus string

const (
	RoomWaiting RoomStatus = "WAITING"
	RoomReady   RoomStatus = "READY"
	RoomPlaying RoomStatus = "PLAYING"
	RoomPaused  RoomStatus = "PAUSED"
	RoomEnded   RoomStatus = "ENDED"
)

// PlayerSlot はルーム内の1座席です。仮想参加者は接続を持たない
type PlayerSlot struct {
	ID        int64
	NickName  string
	Conn      *websocket.Conn
	Connected bool
	IsVirtual bool
	Ready     bool
}

// MatchResult は1試合の確定結果です。トーナメントの進行処理へ渡される
type MatchResult struct {
	RoomID       string
	TournamentID uint
	Round        int
	MatchID      int
	WinnerID     int64
	Score1       int
	Score2       int
	Reason       string
}

// Room は1v1対戦1つ分のライフサイクルを管理します。
// WAITING → READY → PLAYING → (PAUSED ⇄ PLAYING) → ENDED の一方向遷移で、
// ENDEDに入った後の結果確定は冪等
type Room struct {
	ID           string
	TournamentID uint
	Round        int
	MatchID      int

	mu         sync.Mutex
	slots      [2]*PlayerSlot
	status     RoomStatus
	sim        *Simulation
	simStarted bool // tickループ起動済みか。カウントダウン中断後の再開判定に使う
	timers     map[string]*time.Timer
	ended      bool

	bus     *broker.Broker
	db      *gorm.DB
	logger  *zap.Logger
	cfg     *models.Config
	simCfg  SimulationConfig
	drainFn context.CancelFunc

	// トーナメントルームのみ設定されるフック
	OnResult     func(MatchResult)
	OnDisconnect func(room *Room, userID int64)
	OnReconnect  func(room *Room, userID int64)
	OnTeardown   func(roomID string)
}

func NewRoom(id string, db *gorm.DB, cfg *models.Config, simCfg SimulationConfig, logger *zap.Logger) *Room {
	r := &Room{
		ID:     id,
		status: RoomWaiting,
		timers: make(map[string]*time.Timer),
		bus:    broker.New(),
		db:     db,
		logger: logger,
		cfg:    cfg,
		simCfg: simCfg,
	}

	// 全イベントは送信キュー経由でのみ外へ出る。購読者はキューに積むだけで、
	// ソケットへ書くのはドレインループただ1箇所
	for _, event := range []broker.EventType{
		broker.EventBallUpdate,
		broker.EventPointMade,
		broker.EventCountdown,
		broker.EventPowerUp,
		broker.EventGamePause,
	} {
		r.bus.Subscribe(event, r.enqueueFrame)
	}
	r.bus.Subscribe(broker.EventGameEnded, r.onSimulationEnded)
	return r
}

// enqueueFrame は発行されたイベントを送信キューへ積みます。
func (r *Room) enqueueFrame(message map[string]interface{}) {
	r.bus.Enqueue(message)
	r.startDrainLoop()
}

// Status は現在の状態を返します。
func (r *Room) Status() RoomStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// slotsSnapshot はロック下でスロット配列のコピーを返します。
func (r *Room) slotsSnapshot() [2]*PlayerSlot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slots
}

// Slots は外部パッケージ向けのスナップショットです。
func (r *Room) Slots() [2]*PlayerSlot {
	return r.slotsSnapshot()
}

// Seat は参加者を空きスロットへ着席させます。既に着席済みなら同じ座席を返す
func (r *Room) Seat(p *models.BracketParticipant) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, slot := range r.slots {
		if slot != nil && slot.ID == p.ID {
			return i, nil
		}
	}
	for i, slot := range r.slots {
		if slot == nil {
			r.slots[i] = &PlayerSlot{
				ID:        p.ID,
				NickName:  p.NickName,
				IsVirtual: p.IsVirtual,
				Connected: p.IsVirtual, // 仮想参加者は常時在席扱い
				Ready:     p.IsVirtual,
			}
			if r.slots[0] != nil && r.slots[1] != nil {
				r.status = RoomReady
			}
			return i, nil
		}
	}
	return -1, fmt.Errorf("room %s is full", r.ID)
}

// AttachConn は着席済みプレイヤーのWebSocket接続を結び付けます。
func (r *Room) AttachConn(userID int64, conn *websocket.Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, slot := range r.slots {
		if slot != nil && slot.ID == userID {
			slot.Conn = conn
			slot.Connected = true
			return nil
		}
	}
	return fmt.Errorf("user %d has no seat in room %s", userID, r.ID)
}

// SlotIndex はユーザーのスロット番号を返します。不在なら-1
func (r *Room) SlotIndex(userID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, slot := range r.slots {
		if slot != nil && slot.ID == userID {
			return i
		}
	}
	return -1
}

// ToggleReady はカジュアルルームの準備状態を反転し、両者準備完了で開始します。
func (r *Room) ToggleReady(userID int64) {
	r.mu.Lock()
	var ready, total int
	for _, slot := range r.slots {
		if slot == nil {
			continue
		}
		total++
		if slot.ID == userID {
			slot.Ready = !slot.Ready
		}
		if slot.Ready {
			ready++
		}
	}
	allReady := total == 2 && ready == 2 && r.status == RoomReady
	r.mu.Unlock()

	if allReady {
		r.Start()
	}
}

// Start はカウントダウンの後にシミュレーションを起動します。重複呼び出しは無視
func (r *Room) Start() {
	r.mu.Lock()
	if r.status != RoomReady && r.status != RoomWaiting {
		r.mu.Unlock()
		return
	}
	if r.slots[0] == nil || r.slots[1] == nil {
		r.mu.Unlock()
		return
	}
	for _, slot := range r.slots {
		if !slot.IsVirtual && !slot.Connected {
			r.mu.Unlock()
			return
		}
	}
	r.status = RoomPlaying
	autopilot := [2]bool{r.slots[0].IsVirtual, r.slots[1].IsVirtual}
	r.sim = NewSimulation(r.bus, r.simCfg, autopilot, r.logger)
	sim := r.sim
	countdown := r.cfg.CountdownSeconds
	r.mu.Unlock()

	r.startDrainLoop()

	go func() {
		for i := countdown; i > 0; i-- {
			r.bus.Publish(broker.EventCountdown, map[string]interface{}{
				"type":  "Countdown",
				"count": i,
			})
			time.Sleep(time.Second)
		}
		// カウントダウン中に切断で一時停止した場合はここで起動せず、
		// 再開時のensureSimRunningに任せる
		r.mu.Lock()
		if r.status != RoomPlaying || r.simStarted {
			r.mu.Unlock()
			return
		}
		r.simStarted = true
		r.mu.Unlock()
		sim.Start(context.Background())
		r.logger.Info("Match started", zap.String("roomID", r.ID))
	}()
}

// PreMove はプレイヤーの移動入力をシミュレーションへ渡します。
func (r *Room) PreMove(userID int64, dir string) {
	idx := r.SlotIndex(userID)
	r.mu.Lock()
	sim := r.sim
	playing := r.status == RoomPlaying
	r.mu.Unlock()
	if idx >= 0 && sim != nil && playing {
		sim.PreMove(idx, dir)
	}
}

// UsePowerUp は獲得済みパワーアップを消費します。
func (r *Room) UsePowerUp(userID int64, slot int) bool {
	idx := r.SlotIndex(userID)
	r.mu.Lock()
	sim := r.sim
	playing := r.status == RoomPlaying
	r.mu.Unlock()
	if idx < 0 || sim == nil || !playing {
		return false
	}
	return sim.UsePowerUp(idx, slot)
}

// Snapshot はGameInit要求に対する現在状態を返します。試合開始前はロビー情報のみ
func (r *Room) Snapshot() map[string]interface{} {
	r.mu.Lock()
	sim := r.sim
	status := r.status
	names := make([]string, 0, 2)
	for _, slot := range r.slots {
		if slot != nil {
			names = append(names, slot.NickName)
		}
	}
	r.mu.Unlock()

	if sim != nil {
		snapshot := sim.Snapshot()
		snapshot["roomStatus"] = string(status)
		snapshot["players"] = names
		return snapshot
	}
	return map[string]interface{}{
		"type":       "GameInit",
		"roomStatus": string(status),
		"players":    names,
	}
}

// HandleDisconnect は切断されたスロットを非接続に落とし、試合中なら一時停止します。
// トーナメントルームはフック経由で没収タイマーが管理され、カジュアルルームは
// 自前の再接続猶予タイマーを張る
func (r *Room) HandleDisconnect(userID int64) {
	r.mu.Lock()
	var disconnected *PlayerSlot
	connectedHumans := 0
	for _, slot := range r.slots {
		if slot == nil || slot.IsVirtual {
			continue
		}
		if slot.ID == userID {
			slot.Connected = false
			slot.Conn = nil
			disconnected = slot
		} else if slot.Connected {
			connectedHumans++
		}
	}
	if disconnected == nil || r.ended {
		r.mu.Unlock()
		return
	}
	wasPlaying := r.status == RoomPlaying
	if wasPlaying {
		r.status = RoomPaused
	}
	sim := r.sim
	tournament := r.TournamentID != 0
	hook := r.OnDisconnect
	r.mu.Unlock()

	if wasPlaying && sim != nil {
		sim.Pause()
	}
	r.bus.Publish(broker.EventGamePause, map[string]interface{}{
		"type":     "GamePause",
		"userID":   userID,
		"nickName": disconnected.NickName,
		"reason":   "disconnect",
	})
	r.logger.Info("Player disconnected from room",
		zap.String("roomID", r.ID), zap.Int64("userID", userID))

	if tournament {
		if hook != nil {
			hook(r, userID)
		}
		return
	}

	// カジュアル戦。両者不在ならルームごと破棄、片側不在なら猶予後に没収
	if connectedHumans == 0 {
		r.Teardown()
		return
	}
	grace := time.Duration(r.cfg.ReconnectGraceSeconds) * time.Second
	r.armTimer(fmt.Sprintf("reconnect:%d", userID), grace, func() {
		r.ForfeitAgainst(userID, "reconnectTimeout")
	})
}

// HandleReconnect は再接続を座席に結び直し、猶予タイマーを解除します。
// 試合は自動再開せず、明示的なresumeGame要求を待つ
func (r *Room) HandleReconnect(userID int64, conn *websocket.Conn) error {
	if err := r.AttachConn(userID, conn); err != nil {
		return err
	}
	r.cancelTimer(fmt.Sprintf("reconnect:%d", userID))

	r.mu.Lock()
	hook := r.OnReconnect
	tournament := r.TournamentID != 0
	r.mu.Unlock()

	if tournament && hook != nil {
		hook(r, userID)
	}
	broadcast.Send(conn, r.Snapshot(), r.logger)
	r.logger.Info("Player reconnected to room",
		zap.String("roomID", r.ID), zap.Int64("userID", userID))
	return nil
}

// Resume は両者接続済みのPAUSEDルームを再開します。
func (r *Room) Resume() bool {
	r.mu.Lock()
	if r.status != RoomPaused {
		r.mu.Unlock()
		return false
	}
	for _, slot := range r.slots {
		if slot == nil || (!slot.IsVirtual && !slot.Connected) {
			r.mu.Unlock()
			return false
		}
	}
	r.status = RoomPlaying
	sim := r.sim
	started := r.simStarted
	if sim != nil {
		r.simStarted = true
	}
	r.mu.Unlock()

	if sim != nil {
		// カウントダウン中の切断でtickループが起動しないまま一時停止した場合は
		// ここで起動する
		if !started {
			sim.Start(context.Background())
		}
		sim.Resume()
	}
	r.Enqueue(map[string]interface{}{"type": "GameResume"})
	return true
}

// ForfeitAgainst は指定ユーザーの敗北として試合を打ち切ります。
func (r *Room) ForfeitAgainst(loserID int64, reason string) {
	r.mu.Lock()
	winnerIdx := -1
	for i, slot := range r.slots {
		if slot != nil && slot.ID != loserID {
			winnerIdx = i
		}
	}
	sim := r.sim
	r.mu.Unlock()
	if winnerIdx < 0 {
		r.Teardown()
		return
	}
	var scores [2]int
	if sim != nil {
		scores[0], scores[1] = sim.Scores()
	}
	r.finish(winnerIdx, scores, reason, false)
}

// シミュレーション側の自然終局。GameEndedフレームもキュー経由で配信される
func (r *Room) onSimulationEnded(message map[string]interface{}) {
	r.enqueueFrame(message)

	winnerIdx, _ := message["winner"].(int)
	reason, _ := message["reason"].(string)
	var scores [2]int
	if results, ok := message["results"].([]int); ok && len(results) == 2 {
		scores[0], scores[1] = results[0], results[1]
	}
	r.finish(winnerIdx, scores, reason, true)
}

// finish は結果を一度だけ確定します。2回目以降の呼び出しは何もしない
func (r *Room) finish(winnerIdx int, scores [2]int, reason string, queued bool) {
	r.mu.Lock()
	if r.ended {
		r.mu.Unlock()
		return
	}
	r.ended = true
	r.status = RoomEnded
	winner := r.slots[winnerIdx]
	sim := r.sim
	onResult := r.OnResult
	r.mu.Unlock()

	if sim != nil {
		sim.Stop()
	}
	if !queued {
		r.enqueueFrame(map[string]interface{}{
			"type":    "GameEnded",
			"results": []int{scores[0], scores[1]},
			"winner":  winnerIdx,
			"reason":  reason,
		})
	}

	result := MatchResult{
		RoomID:       r.ID,
		TournamentID: r.TournamentID,
		Round:        r.Round,
		MatchID:      r.MatchID,
		WinnerID:     winner.ID,
		Score1:       scores[0],
		Score2:       scores[1],
		Reason:       reason,
	}

	if r.TournamentID == 0 {
		r.persistCasualRecord(result)
	} else if onResult != nil {
		onResult(result)
	}

	delay := time.Duration(r.cfg.CleanupDelaySeconds) * time.Second
	r.armTimer("cleanup", delay, r.Teardown)
	r.logger.Info("Match finished",
		zap.String("roomID", r.ID),
		zap.Int64("winnerID", winner.ID),
		zap.String("reason", reason))
}

func (r *Room) persistCasualRecord(result MatchResult) {
	slots := r.slotsSnapshot()
	record := models.GameRecord{
		RoomID:    result.RoomID,
		Player1ID: slots[0].ID,
		Player2ID: slots[1].ID,
		WinnerID:  result.WinnerID,
		Score1:    result.Score1,
		Score2:    result.Score2,
		Reason:    result.Reason,
	}
	if err := r.db.Create(&record).Error; err != nil {
		r.logger.Error("Failed to persist game record",
			zap.String("roomID", r.ID), zap.Error(err))
	}
	r.db.Model(&models.Room{}).Where("room_id = ?", r.ID).
		Update("status", string(RoomEnded))
}

// Teardown はタイマーを全て解除してからブローカーを空にし、接続を閉じます。
// 解除順が逆だとタイマー発火が破棄済みルームへ書き込もうとする
func (r *Room) Teardown() {
	r.cancelAllTimers()
	r.stopDrainLoop()
	r.bus.ClearAll()

	r.mu.Lock()
	r.ended = true
	r.status = RoomEnded
	conns := make([]*websocket.Conn, 0, 2)
	for _, slot := range r.slots {
		if slot != nil && slot.Conn != nil {
			conns = append(conns, slot.Conn)
			slot.Conn = nil
			slot.Connected = false
		}
	}
	hook := r.OnTeardown
	r.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
	if hook != nil {
		hook(r.ID)
	}
	r.logger.Info("Room torn down", zap.String("roomID", r.ID))
}

// Enqueue はロビー系メッセージをFIFOキューへ積みます。ドレインループが順に配る
func (r *Room) Enqueue(message map[string]interface{}) {
	r.bus.Enqueue(message)
	r.startDrainLoop()
}

func (r *Room) startDrainLoop() {
	r.mu.Lock()
	if r.drainFn != nil {
		r.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.drainFn = cancel
	interval := time.Duration(r.cfg.DrainIntervalMillis) * time.Millisecond
	r.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if message, ok := r.bus.DequeueOne(); ok {
					r.broadcastFrame(message)
				}
			}
		}
	}()
}

func (r *Room) stopDrainLoop() {
	r.mu.Lock()
	cancel := r.drainFn
	r.drainFn = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// broadcastFrame は接続中の両スロットへメッセージを送ります。
func (r *Room) broadcastFrame(message map[string]interface{}) {
	r.mu.Lock()
	conns := make([]*websocket.Conn, 0, 2)
	for _, slot := range r.slots {
		if slot != nil && slot.Connected && slot.Conn != nil {
			conns = append(conns, slot.Conn)
		}
	}
	r.mu.Unlock()
	for _, conn := range conns {
		broadcast.Send(conn, message, r.logger)
	}
}

func (r *Room) armTimer(name string, d time.Duration, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.timers[name]; ok {
		old.Stop()
	}
	timer := time.AfterFunc(d, func() {
		// 発火前にエントリを消す。解除との競合はここで一方向に倒す
		r.mu.Lock()
		_, live := r.timers[name]
		delete(r.timers, name)
		r.mu.Unlock()
		if live {
			fn()
		}
	})
	r.timers[name] = timer
}

func (r *Room) cancelTimer(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if timer, ok := r.timers[name]; ok {
		timer.Stop()
		delete(r.timers, name)
	}
}

func (r *Room) cancelAllTimers() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, timer := range r.timers {
		timer.Stop()
		delete(r.timers, name)
	}
}
