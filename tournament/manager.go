package tournament

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"pongserver/ledger"
	"pongserver/models"
	"pongserver/pong"
	"pongserver/pong/broadcast"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrTournamentNotFound = errors.New("tournament not found")
	ErrTournamentFull     = errors.New("tournament is full")
	ErrTournamentStarted  = errors.New("tournament already started")
	ErrNotHost            = errors.New("only the host can do that")
	ErrNotParticipant     = errors.New("not a participant of this tournament")
)

// Manager は全トーナメントの進行管理です。pong.TournamentHubを実装し、
// WebSocket側の操作とルームのフック両方の入口になる
type Manager struct {
	mu          sync.Mutex
	tournaments map[uint]*Tournament
	forfeits    map[string]*time.Timer // "tournamentID:userID"

	db     *gorm.DB
	deps   *pong.Deps
	ledger ledger.Submitter
	logger *zap.Logger
}

func NewManager(db *gorm.DB, deps *pong.Deps, submitter ledger.Submitter, logger *zap.Logger) *Manager {
	return &Manager{
		tournaments: make(map[uint]*Tournament),
		forfeits:    make(map[string]*time.Timer),
		db:          db,
		deps:        deps,
		ledger:      submitter,
		logger:      logger,
	}
}

func (m *Manager) get(tournamentID uint) (*Tournament, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tournaments[tournamentID]
	if !ok {
		return nil, ErrTournamentNotFound
	}
	return t, nil
}

// Create はトーナメントを永続化し、ホストを最初の参加者として登録します。
func (m *Manager) Create(hostUserID uint, hostNickName, name string, config models.TournamentConfig) (*Tournament, error) {
	configJSON, err := config.Marshal()
	if err != nil {
		return nil, err
	}
	record := models.Tournament{
		Name:       name,
		Status:     "waiting",
		HostUserID: hostUserID,
		ConfigJSON: configJSON,
	}
	err = m.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("failed to create tournament: %w", err)
		}
		player := models.TournamentPlayer{
			TournamentID: record.ID,
			UserID:       hostUserID,
			NickName:     hostNickName,
			IsHost:       true,
		}
		return tx.Create(&player).Error
	})
	if err != nil {
		return nil, err
	}

	t := &Tournament{
		ID:     record.ID,
		Name:   name,
		Config: config,
		status: "waiting",
		hostID: int64(hostUserID),
		participants: []*Participant{{
			ID:       int64(hostUserID),
			NickName: hostNickName,
			IsHost:   true,
			JoinedAt: time.Now(),
		}},
	}
	m.mu.Lock()
	m.tournaments[record.ID] = t
	m.mu.Unlock()

	m.logger.Info("Tournament created",
		zap.Uint("tournamentID", record.ID), zap.Uint("hostUserID", hostUserID))
	return t, nil
}

// Join は実プレイヤーをロビーへ追加します。満員・開始済み・重複は拒否
func (m *Manager) Join(tournamentID uint, userID uint, nickName string) error {
	t, err := m.get(tournamentID)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.status != "waiting" && t.status != "ready" {
		t.mu.Unlock()
		return ErrTournamentStarted
	}
	if t.findParticipant(int64(userID)) != nil {
		t.mu.Unlock()
		return nil // 再参加は冪等に成功扱い
	}
	if len(t.participants) >= MaxParticipants {
		t.mu.Unlock()
		return ErrTournamentFull
	}
	t.participants = append(t.participants, &Participant{
		ID:       int64(userID),
		NickName: nickName,
		JoinedAt: time.Now(),
	})
	// 8人目が入った時点でロビーはready。開始は全員の準備完了を待つ
	full := len(t.participants) == MaxParticipants
	if full {
		t.status = "ready"
	}
	t.mu.Unlock()

	if full {
		m.db.Model(&models.Tournament{}).Where("id = ?", tournamentID).
			Update("status", "ready")
	}

	player := models.TournamentPlayer{
		TournamentID: tournamentID,
		UserID:       userID,
		NickName:     nickName,
	}
	if err := m.db.Create(&player).Error; err != nil {
		return fmt.Errorf("failed to persist tournament player: %w", err)
	}

	t.broadcastLobby(map[string]interface{}{
		"type":     "AddPlayer",
		"userID":   userID,
		"nickName": nickName,
	}, m.logger)
	t.broadcastLobby(t.stateMessage(), m.logger)
	return nil
}

// Attach は参加済みプレイヤーのWebSocket接続をロビーへ結び付けます。
func (m *Manager) Attach(tournamentID uint, userID int64, conn *websocket.Conn) error {
	t, err := m.get(tournamentID)
	if err != nil {
		return err
	}

	t.mu.Lock()
	p := t.findParticipant(userID)
	if p == nil {
		t.mu.Unlock()
		return ErrNotParticipant
	}
	p.Conn = conn
	p.Connected = true
	t.mu.Unlock()

	broadcast.Send(conn, t.stateMessage(), m.logger)
	return nil
}

// Detach はロビーから接続だけを外します。参加自体は維持される
func (m *Manager) Detach(tournamentID uint, userID int64) {
	t, err := m.get(tournamentID)
	if err != nil {
		return
	}
	t.mu.Lock()
	if p := t.findParticipant(userID); p != nil {
		p.Conn = nil
		p.Connected = false
	}
	t.mu.Unlock()
	t.broadcastLobby(t.stateMessage(), m.logger)
}

// ToggleReady は準備状態を反転し、8人全員の準備が揃ったらブラケットを生成します。
func (m *Manager) ToggleReady(tournamentID uint, userID int64) error {
	t, err := m.get(tournamentID)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.status != "waiting" && t.status != "ready" {
		t.mu.Unlock()
		return ErrTournamentStarted
	}
	p := t.findParticipant(userID)
	if p == nil {
		t.mu.Unlock()
		return ErrNotParticipant
	}
	p.IsReady = !p.IsReady
	ready := p.IsReady
	start := t.allReady()
	t.mu.Unlock()

	if userID > 0 {
		m.db.Model(&models.TournamentPlayer{}).
			Where("tournament_id = ? AND user_id = ?", tournamentID, uint(userID)).
			Update("is_ready", ready)
	}

	event := "PlayerUnready"
	if ready {
		event = "PlayerReady"
	}
	t.broadcastLobby(map[string]interface{}{
		"type":   event,
		"userID": userID,
	}, m.logger)

	if start {
		return m.startTournament(t)
	}
	return nil
}

// InviteVirtual はホスト操作でAI・ローカルゲストをロビーへ追加します。
func (m *Manager) InviteVirtual(tournamentID uint, hostID int64, nickName string) error {
	t, err := m.get(tournamentID)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.hostID != hostID {
		t.mu.Unlock()
		return ErrNotHost
	}
	if t.status != "waiting" && t.status != "ready" {
		t.mu.Unlock()
		return ErrTournamentStarted
	}
	if len(t.participants) >= MaxParticipants {
		t.mu.Unlock()
		return ErrTournamentFull
	}
	virtual := m.deps.Virtual.Create(nickName)
	t.participants = append(t.participants, &Participant{
		ID:        virtual.ID,
		NickName:  virtual.NickName,
		IsVirtual: true,
		IsReady:   true, // 仮想参加者は常に準備完了
		JoinedAt:  time.Now(),
	})
	full := len(t.participants) == MaxParticipants
	if full {
		t.status = "ready"
	}
	start := t.allReady()
	t.mu.Unlock()

	if full {
		m.db.Model(&models.Tournament{}).Where("id = ?", tournamentID).
			Update("status", "ready")
	}

	t.broadcastLobby(map[string]interface{}{
		"type":     "AddPlayer",
		"userID":   virtual.ID,
		"nickName": virtual.NickName,
		"virtual":  true,
	}, m.logger)
	t.broadcastLobby(t.stateMessage(), m.logger)

	if start {
		return m.startTournament(t)
	}
	return nil
}

// Leave は待機中のロビーから参加者を外します。ホストが抜けた場合は
// 最も早く参加した実プレイヤーへホストを引き継ぐ
func (m *Manager) Leave(tournamentID uint, userID int64) error {
	t, err := m.get(tournamentID)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.status != "waiting" && t.status != "ready" {
		t.mu.Unlock()
		return ErrTournamentStarted
	}
	removed := false
	wasHost := false
	for i, p := range t.participants {
		if p.ID == userID {
			wasHost = p.IsHost
			t.participants = append(t.participants[:i], t.participants[i+1:]...)
			removed = true
			break
		}
	}
	if !removed {
		t.mu.Unlock()
		return ErrNotParticipant
	}
	if userID < 0 {
		m.deps.Virtual.Remove(userID)
	}

	if wasHost {
		var next *Participant
		for _, p := range t.participants {
			if p.IsVirtual {
				continue
			}
			if next == nil || p.JoinedAt.Before(next.JoinedAt) {
				next = p
			}
		}
		if next != nil {
			next.IsHost = true
			t.hostID = next.ID
		}
	}
	// 8人を割ったらreadyはwaitingへ戻る
	reverted := false
	if t.status == "ready" && len(t.participants) < MaxParticipants {
		t.status = "waiting"
		reverted = true
	}
	humans := t.humanCount()
	t.mu.Unlock()

	if reverted {
		m.db.Model(&models.Tournament{}).Where("id = ?", tournamentID).
			Update("status", "waiting")
	}
	if userID > 0 {
		m.db.Where("tournament_id = ? AND user_id = ?", tournamentID, uint(userID)).
			Delete(&models.TournamentPlayer{})
	}
	if wasHost && t.HostID() > 0 {
		m.db.Model(&models.Tournament{}).Where("id = ?", tournamentID).
			Update("host_user_id", uint(t.HostID()))
		m.db.Model(&models.TournamentPlayer{}).
			Where("tournament_id = ? AND user_id = ?", tournamentID, uint(t.HostID())).
			Update("is_host", true)
	}

	// 実プレイヤーが全員抜けたら大会ごと畳む
	if humans == 0 {
		m.teardown(t, "abandoned")
		return nil
	}

	t.broadcastLobby(map[string]interface{}{
		"type":   "RemovePlayer",
		"userID": userID,
	}, m.logger)
	t.broadcastLobby(t.stateMessage(), m.logger)
	return nil
}

// StartMatch はTournamentMatchStart要求の検証を行います。
// ルーム生成はブラケット生成時に済んでいるため、ここでは所属確認のみ
func (m *Manager) StartMatch(tournamentID uint, roomID string, userID int64) error {
	t, err := m.get(tournamentID)
	if err != nil {
		return err
	}
	if t.Status() != "in_progress" {
		return fmt.Errorf("tournament %d is not in progress", tournamentID)
	}
	tid, _, _, ok := pong.ParseTournamentRoomID(roomID)
	if !ok || tid != tournamentID {
		return fmt.Errorf("room %s does not belong to tournament %d", roomID, tournamentID)
	}
	room := m.deps.Rooms.Get(roomID)
	if room == nil {
		return fmt.Errorf("room %s not found", roomID)
	}
	if room.SlotIndex(userID) < 0 {
		return ErrNotParticipant
	}
	return nil
}

// HandleDisconnect はロビー中の切断を処理します。試合中の切断はルーム側の
// フック経由で没収タイマーが張られるため、ここには来ない
func (m *Manager) HandleDisconnect(tournamentID uint, userID int64) {
	m.Detach(tournamentID, userID)
}

// HandleReconnect は再接続をロビーへ戻し、没収タイマーを解除します。
func (m *Manager) HandleReconnect(tournamentID uint, userID int64, conn *websocket.Conn) {
	m.cancelForfeit(tournamentID, userID)
	t, err := m.get(tournamentID)
	if err != nil {
		return
	}
	t.mu.Lock()
	if p := t.findParticipant(userID); p != nil {
		p.Conn = conn
		p.Connected = true
	}
	t.mu.Unlock()
	broadcast.Send(conn, t.stateMessage(), m.logger)
}

// teardown は大会を終了状態にしてルームとタイマーを片付けます。
func (m *Manager) teardown(t *Tournament, reason string) {
	t.mu.Lock()
	t.status = "finished"
	bracket := t.bracket
	t.mu.Unlock()

	m.db.Model(&models.Tournament{}).Where("id = ?", t.ID).
		Update("status", "finished")

	if bracket != nil {
		for _, round := range bracket.Rounds {
			for _, match := range round {
				roomID := pong.TournamentRoomID(t.ID, match.Round, match.MatchID)
				if room := m.deps.Rooms.Get(roomID); room != nil {
					room.Teardown()
				}
			}
		}
	}

	m.mu.Lock()
	for key, timer := range m.forfeits {
		var tid uint
		var uid int64
		if _, err := fmt.Sscanf(key, "%d:%d", &tid, &uid); err == nil && tid == t.ID {
			timer.Stop()
			delete(m.forfeits, key)
		}
	}
	delete(m.tournaments, t.ID)
	m.mu.Unlock()

	m.logger.Info("Tournament torn down",
		zap.Uint("tournamentID", t.ID), zap.String("reason", reason))
}
