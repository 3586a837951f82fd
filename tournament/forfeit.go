package tournament

import (
	"fmt"
	"time"

	"pongserver/pong"

	"go.uber.org/zap"
)

// 試合中の切断は残り試合時間と無関係の固定猶予で没収にする。
// 再接続が間に合えばタイマーは解除され、試合はPAUSEDのまま再開要求を待つ

func forfeitKey(tournamentID uint, userID int64) string {
	return fmt.Sprintf("%d:%d", tournamentID, userID)
}

// handleRoomDisconnect は試合中ルームからの切断フックです。
func (m *Manager) handleRoomDisconnect(room *pong.Room, userID int64) {
	grace := time.Duration(m.deps.Config.ForfeitGraceSeconds) * time.Second
	key := forfeitKey(room.TournamentID, userID)

	m.mu.Lock()
	if old, ok := m.forfeits[key]; ok {
		old.Stop()
	}
	m.forfeits[key] = time.AfterFunc(grace, func() {
		// 発火時点でエントリが残っている場合のみ没収を実行する。
		// 解除との競合はエントリ削除の先勝ちで決める
		m.mu.Lock()
		_, live := m.forfeits[key]
		delete(m.forfeits, key)
		m.mu.Unlock()
		if live {
			m.forfeit(room, userID)
		}
	})
	m.mu.Unlock()

	m.logger.Info("Forfeit timer armed",
		zap.Uint("tournamentID", room.TournamentID),
		zap.Int64("userID", userID),
		zap.Duration("grace", grace))
}

// handleRoomReconnect は試合中ルームへの再接続フックです。
func (m *Manager) handleRoomReconnect(room *pong.Room, userID int64) {
	m.cancelForfeit(room.TournamentID, userID)
}

func (m *Manager) cancelForfeit(tournamentID uint, userID int64) {
	key := forfeitKey(tournamentID, userID)
	m.mu.Lock()
	if timer, ok := m.forfeits[key]; ok {
		timer.Stop()
		delete(m.forfeits, key)
		m.logger.Info("Forfeit timer cancelled",
			zap.Uint("tournamentID", tournamentID), zap.Int64("userID", userID))
	}
	m.mu.Unlock()
}

// forfeit は猶予切れの没収負けを確定させます。結果の適用はルームの終局経路に
// 委ねるため、二重確定はそちらの冪等性で防がれる
func (m *Manager) forfeit(room *pong.Room, loserID int64) {
	t, err := m.get(room.TournamentID)
	if err != nil {
		return
	}

	var winnerID int64
	for _, slot := range room.Slots() {
		if slot != nil && slot.ID != loserID {
			winnerID = slot.ID
		}
	}

	t.broadcastLobby(map[string]interface{}{
		"type":         "TournamentForfeitWin",
		"tournamentId": room.TournamentID,
		"matchId":      room.MatchID,
		"winnerId":     winnerID,
		"loserId":      loserID,
	}, m.logger)

	room.ForfeitAgainst(loserID, "forfeit")
	m.logger.Info("Match forfeited",
		zap.Uint("tournamentID", room.TournamentID),
		zap.Int64("loserID", loserID),
		zap.Int64("winnerID", winnerID))
}
