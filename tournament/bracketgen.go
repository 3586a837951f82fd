package tournament

import (
	"fmt"

	"pongserver/models"
	"pongserver/pong"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// startTournament は8人が揃ったロビーからブラケットを生成して大会を開始します。
// matchIDは準々決勝1〜4、準決勝5〜6、決勝7で固定し、以後の全処理がこの番号を使う
func (m *Manager) startTournament(t *Tournament) error {
	t.mu.Lock()
	if t.status != "ready" {
		t.mu.Unlock()
		return ErrTournamentStarted
	}
	if len(t.participants) != MaxParticipants {
		t.mu.Unlock()
		return fmt.Errorf("tournament %d needs %d participants to start", t.ID, MaxParticipants)
	}

	seeds := make([]*models.BracketParticipant, 0, MaxParticipants)
	for _, p := range t.participants {
		seeds = append(seeds, &models.BracketParticipant{
			ID:        p.ID,
			NickName:  p.NickName,
			IsVirtual: p.IsVirtual,
		})
	}
	randGen := pong.CreateLocalRandGenerator()
	randGen.Shuffle(len(seeds), func(i, j int) {
		seeds[i], seeds[j] = seeds[j], seeds[i]
	})

	bracket := buildBracket(seeds)
	t.bracket = bracket
	t.status = "in_progress"
	t.currentRound = 1
	t.mu.Unlock()

	bracketJSON, err := bracket.Marshal()
	if err != nil {
		return err
	}
	err = m.db.Model(&models.Tournament{}).Where("id = ?", t.ID).
		Updates(map[string]interface{}{
			"status":        "in_progress",
			"bracket":       bracketJSON,
			"current_round": 1,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to persist bracket: %w", err)
	}

	for _, match := range bracket.Rounds[0] {
		if err := m.materializeRoom(t, match); err != nil {
			return err
		}
	}

	t.broadcastLobby(map[string]interface{}{
		"type":         "BracketGenerated",
		"tournamentId": t.ID,
		"bracket":      bracket,
	}, m.logger)
	m.logger.Info("Bracket generated", zap.Uint("tournamentID", t.ID))

	m.autoStartVirtualMatches(t, 1)
	return nil
}

// buildBracket は8人分の3ラウンド構造を組み立てます。
// 後段ラウンドの試合は参加者未定（TBD）の殻として先に作る
func buildBracket(seeds []*models.BracketParticipant) *models.Bracket {
	quarter := make([]*models.BracketMatch, 4)
	for i := 0; i < 4; i++ {
		quarter[i] = &models.BracketMatch{
			MatchID: i + 1,
			Round:   1,
			Index:   i,
			Player1: seeds[i*2],
			Player2: seeds[i*2+1],
		}
	}
	semi := []*models.BracketMatch{
		{MatchID: 5, Round: 2, Index: 0},
		{MatchID: 6, Round: 2, Index: 1},
	}
	final := []*models.BracketMatch{
		{MatchID: 7, Round: 3, Index: 0},
	}
	return &models.Bracket{Rounds: [][]*models.BracketMatch{quarter, semi, final}}
}

// materializeRoom はブラケット上の1試合をルームとして実体化し、
// 結果・切断・再接続のフックを進行管理へ結び付けます。
func (m *Manager) materializeRoom(t *Tournament, match *models.BracketMatch) error {
	if match.Player1 == nil || match.Player2 == nil {
		return fmt.Errorf("match %d has undetermined participants", match.MatchID)
	}
	roomID := pong.TournamentRoomID(t.ID, match.Round, match.MatchID)
	if m.deps.Rooms.Get(roomID) != nil {
		return nil // 既に実体化済み
	}

	room := pong.NewRoom(roomID, m.db, m.deps.Config, m.deps.SimulationConfigFor(&t.Config), m.logger)
	room.TournamentID = t.ID
	room.Round = match.Round
	room.MatchID = match.MatchID
	room.OnResult = m.handleRoomResult
	room.OnDisconnect = m.handleRoomDisconnect
	room.OnReconnect = m.handleRoomReconnect
	room.OnTeardown = m.deps.Rooms.Remove

	if _, err := room.Seat(match.Player1); err != nil {
		return err
	}
	if _, err := room.Seat(match.Player2); err != nil {
		return err
	}
	m.deps.Rooms.Add(room)

	err := m.db.Transaction(func(tx *gorm.DB) error {
		record := models.Room{
			RoomID:    roomID,
			CreatorID: uint(t.HostID()),
			Status:    string(pong.RoomReady),
		}
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		for _, p := range []*models.BracketParticipant{match.Player1, match.Player2} {
			if p.IsVirtual {
				continue // 仮想参加者はroom_playersに残さない
			}
			player := models.RoomPlayer{
				RoomDBID: record.ID,
				UserID:   uint(p.ID),
				NickName: p.NickName,
			}
			if err := tx.Create(&player).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to persist room %s: %w", roomID, err)
	}

	m.logger.Info("Match room materialized",
		zap.Uint("tournamentID", t.ID), zap.String("roomID", roomID))
	return nil
}

// autoStartVirtualMatches は両者とも仮想参加者の試合を人手なしで開始します。
func (m *Manager) autoStartVirtualMatches(t *Tournament, round int) {
	t.mu.Lock()
	bracket := t.bracket
	t.mu.Unlock()
	if bracket == nil || round < 1 || round > len(bracket.Rounds) {
		return
	}
	for _, match := range bracket.Rounds[round-1] {
		if match.Completed || match.Player1 == nil || match.Player2 == nil {
			continue
		}
		if !match.Player1.IsVirtual || !match.Player2.IsVirtual {
			continue
		}
		roomID := pong.TournamentRoomID(t.ID, match.Round, match.MatchID)
		if room := m.deps.Rooms.Get(roomID); room != nil {
			room.Start()
		}
	}
}
