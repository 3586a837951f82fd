package tournament

import (
	"errors"
	"fmt"

	"pongserver/ledger"
	"pongserver/models"
	"pongserver/pong"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrAlreadyProcessed は同じ試合の結果が適用済みであることを示します。
// 没収タイマーと通常終局の競合など、二重報告は正常系として握りつぶされる
var ErrAlreadyProcessed = errors.New("match result already processed")

// handleRoomResult はルームからの結果確定フックです。二重報告はログだけ残して無視
func (m *Manager) handleRoomResult(result pong.MatchResult) {
	if err := m.ApplyMatchResult(result); err != nil {
		if errors.Is(err, ErrAlreadyProcessed) {
			m.logger.Info("Duplicate match result ignored",
				zap.Uint("tournamentID", result.TournamentID),
				zap.Int("matchID", result.MatchID))
			return
		}
		m.logger.Error("Failed to apply match result",
			zap.Uint("tournamentID", result.TournamentID),
			zap.Int("matchID", result.MatchID), zap.Error(err))
	}
}

// ApplyMatchResult は試合結果をブラケットへ反映する唯一の経路です。
// トーナメント行をロックしたトランザクション内でDB上のブラケットを正本として
// 読み直し、未完了の場合のみ書き込む。勝者の次ラウンドへの昇格、ラウンド進行、
// 優勝確定、対局レコードの保存までを同一トランザクションで行う
func (m *Manager) ApplyMatchResult(result pong.MatchResult) error {
	t, err := m.get(result.TournamentID)
	if err != nil {
		return err
	}

	var (
		bracket       *models.Bracket
		roundAdvanced bool
		newRound      int
		finished      bool
		winnerID      int64
	)

	err = m.db.Transaction(func(tx *gorm.DB) error {
		// SQLiteは行ロック構文を持たないため、行ロックはPostgreSQLのみ
		query := tx
		if tx.Dialector.Name() == "postgres" {
			query = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var record models.Tournament
		if err := query.First(&record, result.TournamentID).Error; err != nil {
			return fmt.Errorf("failed to lock tournament %d: %w", result.TournamentID, err)
		}

		bracket, err = models.UnmarshalBracket(record.Bracket)
		if err != nil {
			return err
		}
		match := bracket.FindMatch(result.MatchID)
		if match == nil {
			return fmt.Errorf("match %d not found in tournament %d", result.MatchID, result.TournamentID)
		}
		if match.Completed {
			return ErrAlreadyProcessed
		}

		match.WinnerID = &result.WinnerID
		match.Score1 = result.Score1
		match.Score2 = result.Score2
		match.Completed = true

		winner := match.WinnerOf()
		if winner == nil {
			return fmt.Errorf("winner %d is not a participant of match %d", result.WinnerID, result.MatchID)
		}

		// 勝者を次ラウンドへ昇格させる。index i,i+1 の勝者が次の i/2 に入り、
		// 偶数indexの勝者がPlayer1、奇数がPlayer2になる
		if match.Round < len(bracket.Rounds) {
			next := bracket.Rounds[match.Round][match.Index/2]
			if match.Index%2 == 0 {
				next.Player1 = winner
			} else {
				next.Player2 = winner
			}
		}

		updates := map[string]interface{}{}
		if bracket.RoundComplete(match.Round) && match.Round < len(bracket.Rounds) {
			roundAdvanced = true
			newRound = match.Round + 1
			updates["current_round"] = newRound
		}
		if match.Round == len(bracket.Rounds) {
			finished = true
			winnerID = result.WinnerID
			updates["status"] = "finished"
			updates["winner_id"] = winnerID
		}

		bracketJSON, err := bracket.Marshal()
		if err != nil {
			return err
		}
		updates["bracket"] = bracketJSON
		if err := tx.Model(&record).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to persist bracket update: %w", err)
		}

		slots := splitPlayers(match)
		game := models.GameRecord{
			RoomID:       result.RoomID,
			TournamentID: result.TournamentID,
			MatchID:      result.MatchID,
			Player1ID:    slots[0],
			Player2ID:    slots[1],
			WinnerID:     result.WinnerID,
			Score1:       result.Score1,
			Score2:       result.Score2,
			Reason:       result.Reason,
		}
		return tx.Create(&game).Error
	})
	if err != nil {
		return err
	}

	// コミット後にランタイム状態と配信を更新する
	t.mu.Lock()
	t.bracket = bracket
	if roundAdvanced {
		t.currentRound = newRound
	}
	if finished {
		t.status = "finished"
		t.winnerID = winnerID
	}
	t.mu.Unlock()

	for _, message := range resultMessages(result, bracket, roundAdvanced, finished) {
		t.broadcastLobby(message, m.logger)
	}

	if err := m.ledger.StoreMatch(result.TournamentID, result.MatchID, result); err != nil &&
		!errors.Is(err, ledger.ErrDuplicateEntry) {
		m.logger.Error("Failed to record match receipt",
			zap.Uint("tournamentID", result.TournamentID), zap.Error(err))
	}

	if roundAdvanced {
		if err := m.advanceRound(t, bracket, newRound); err != nil {
			return err
		}
	}
	if finished {
		m.finishTournament(t, bracket, winnerID)
	}
	return nil
}

// resultMessages は結果反映後のロビー配信を順序どおりに組み立てます。
// ブラケット更新が常に先。MatchCompletedは進行も終局も伴わない通常の
// 消化のときだけ送り、ラウンド進行と優勝はそれぞれの専用通知に譲る
func resultMessages(result pong.MatchResult, bracket *models.Bracket, roundAdvanced, finished bool) []map[string]interface{} {
	messages := []map[string]interface{}{{
		"type":         "BracketUpdated",
		"tournamentId": result.TournamentID,
		"bracket":      bracket,
	}}
	if !roundAdvanced && !finished {
		messages = append(messages, map[string]interface{}{
			"type":         "MatchCompleted",
			"tournamentId": result.TournamentID,
			"matchId":      result.MatchID,
			"winnerId":     result.WinnerID,
			"scores":       []int{result.Score1, result.Score2},
			"reason":       result.Reason,
		})
	}
	return messages
}

// advanceRound は揃った次ラウンドの試合ルームを実体化して進行を告知します。
func (m *Manager) advanceRound(t *Tournament, bracket *models.Bracket, round int) error {
	pairings := make([]map[string]interface{}, 0, len(bracket.Rounds[round-1]))
	for _, match := range bracket.Rounds[round-1] {
		if err := m.materializeRoom(t, match); err != nil {
			return err
		}
		pairings = append(pairings, map[string]interface{}{
			"matchId": match.MatchID,
			"roomId":  pong.TournamentRoomID(t.ID, match.Round, match.MatchID),
			"player1": match.Player1,
			"player2": match.Player2,
		})
	}

	t.broadcastLobby(map[string]interface{}{
		"type":         "RoundAdvanced",
		"tournamentId": t.ID,
		"round":        round,
		"pairings":     pairings,
	}, m.logger)
	m.logger.Info("Round advanced",
		zap.Uint("tournamentID", t.ID), zap.Int("round", round))

	m.autoStartVirtualMatches(t, round)
	return nil
}

// finishTournament は優勝確定の告知と最終ブラケットの台帳記録を行います。
func (m *Manager) finishTournament(t *Tournament, bracket *models.Bracket, winnerID int64) {
	t.broadcastLobby(map[string]interface{}{
		"type":         "TournamentFinished",
		"tournamentId": t.ID,
		"winnerId":     winnerID,
	}, m.logger)

	if err := m.ledger.StoreFinalBracket(t.ID, bracket); err != nil &&
		!errors.Is(err, ledger.ErrDuplicateEntry) {
		m.logger.Error("Failed to record final bracket receipt",
			zap.Uint("tournamentID", t.ID), zap.Error(err))
	}
	m.logger.Info("Tournament finished",
		zap.Uint("tournamentID", t.ID), zap.Int64("winnerID", winnerID))
}

func splitPlayers(match *models.BracketMatch) [2]int64 {
	var ids [2]int64
	if match.Player1 != nil {
		ids[0] = match.Player1.ID
	}
	if match.Player2 != nil {
		ids[1] = match.Player2.ID
	}
	return ids
}
