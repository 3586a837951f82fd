package tournament

import (
	"fmt"
	"testing"

	"pongserver/database"
	"pongserver/ledger"
	"pongserver/models"
	"pongserver/pong"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestManager(t *testing.T) (*Manager, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=private"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrateDB(db))

	cfg := database.DefaultConfig()
	cfg.CountdownSeconds = 0
	deps := pong.NewDeps(db, nil, &cfg, zap.NewNop())
	manager := NewManager(db, deps, ledger.NewRecorder(db, zap.NewNop()), zap.NewNop())
	deps.Tournaments = manager
	return manager, db
}

// 8人の実プレイヤーが参加して全員準備完了になった状態まで進める
func startedTournament(t *testing.T, manager *Manager) *Tournament {
	t.Helper()
	tournament, err := manager.Create(1, "player-1", "Friday Cup", models.TournamentConfig{})
	require.NoError(t, err)
	for i := uint(2); i <= 8; i++ {
		require.NoError(t, manager.Join(tournament.ID, i, fmt.Sprintf("player-%d", i)))
	}
	for i := int64(1); i <= 8; i++ {
		require.NoError(t, manager.ToggleReady(tournament.ID, i))
	}
	return tournament
}

func loadBracket(t *testing.T, db *gorm.DB, tournamentID uint) (*models.Tournament, *models.Bracket) {
	t.Helper()
	var record models.Tournament
	require.NoError(t, db.First(&record, tournamentID).Error)
	bracket, err := models.UnmarshalBracket(record.Bracket)
	require.NoError(t, err)
	return &record, bracket
}

func TestBracketGeneration(t *testing.T) {
	manager, db := newTestManager(t)
	tournament := startedTournament(t, manager)

	record, bracket := loadBracket(t, db, tournament.ID)
	assert.Equal(t, "in_progress", record.Status)
	assert.Equal(t, 1, record.CurrentRound)

	// 準々決勝4、準決勝2、決勝1の殻が揃っている
	require.Len(t, bracket.Rounds, 3)
	require.Len(t, bracket.Rounds[0], 4)
	require.Len(t, bracket.Rounds[1], 2)
	require.Len(t, bracket.Rounds[2], 1)

	// matchIDは1〜7で安定
	seen := map[int]bool{}
	for _, round := range bracket.Rounds {
		for _, match := range round {
			assert.False(t, seen[match.MatchID])
			seen[match.MatchID] = true
		}
	}
	for id := 1; id <= 7; id++ {
		assert.True(t, seen[id])
	}

	// 1回戦には全参加者がちょうど1回ずつ現れる
	participants := map[int64]int{}
	for _, match := range bracket.Rounds[0] {
		require.NotNil(t, match.Player1)
		require.NotNil(t, match.Player2)
		participants[match.Player1.ID]++
		participants[match.Player2.ID]++
	}
	require.Len(t, participants, 8)
	for id, count := range participants {
		assert.Equal(t, 1, count, "participant %d seeded %d times", id, count)
	}

	// 1回戦の4ルームが実体化済み
	for _, match := range bracket.Rounds[0] {
		roomID := pong.TournamentRoomID(tournament.ID, 1, match.MatchID)
		assert.NotNil(t, manager.deps.Rooms.Get(roomID))
	}
	assert.Nil(t, manager.deps.Rooms.Get(pong.TournamentRoomID(tournament.ID, 2, 5)))
}

func TestDuplicateResultIsNoOp(t *testing.T) {
	manager, db := newTestManager(t)
	tournament := startedTournament(t, manager)
	_, bracket := loadBracket(t, db, tournament.ID)
	match := bracket.Rounds[0][0]

	result := pong.MatchResult{
		RoomID:       pong.TournamentRoomID(tournament.ID, 1, match.MatchID),
		TournamentID: tournament.ID,
		Round:        1,
		MatchID:      match.MatchID,
		WinnerID:     match.Player1.ID,
		Score1:       5,
		Score2:       3,
		Reason:       "score",
	}
	require.NoError(t, manager.ApplyMatchResult(result))

	// 同じ結果の再報告は適用済みエラーで弾かれ、状態は変化しない
	result.Score2 = 0
	assert.ErrorIs(t, manager.ApplyMatchResult(result), ErrAlreadyProcessed)

	_, reloaded := loadBracket(t, db, tournament.ID)
	applied := reloaded.FindMatch(match.MatchID)
	require.NotNil(t, applied.WinnerID)
	assert.Equal(t, match.Player1.ID, *applied.WinnerID)
	assert.Equal(t, 3, applied.Score2)

	var games int64
	require.NoError(t, db.Model(&models.GameRecord{}).Count(&games).Error)
	assert.Equal(t, int64(1), games)

	var receipts int64
	require.NoError(t, db.Model(&models.ChainReceipt{}).Count(&receipts).Error)
	assert.Equal(t, int64(1), receipts)
}

func TestRoundAdvancement(t *testing.T) {
	manager, db := newTestManager(t)
	tournament := startedTournament(t, manager)
	_, bracket := loadBracket(t, db, tournament.ID)

	// 準々決勝を全試合Player1の勝ちで消化する
	winners := make([]int64, 0, 4)
	for _, match := range bracket.Rounds[0] {
		winners = append(winners, match.Player1.ID)
		require.NoError(t, manager.ApplyMatchResult(pong.MatchResult{
			RoomID:       pong.TournamentRoomID(tournament.ID, 1, match.MatchID),
			TournamentID: tournament.ID,
			Round:        1,
			MatchID:      match.MatchID,
			WinnerID:     match.Player1.ID,
			Score1:       5,
			Score2:       2,
			Reason:       "score",
		}))
	}

	record, advanced := loadBracket(t, db, tournament.ID)
	assert.Equal(t, 2, record.CurrentRound)

	// 隣接する2試合の勝者が同じ準決勝に送られる
	semi1, semi2 := advanced.Rounds[1][0], advanced.Rounds[1][1]
	require.NotNil(t, semi1.Player1)
	require.NotNil(t, semi1.Player2)
	assert.Equal(t, winners[0], semi1.Player1.ID)
	assert.Equal(t, winners[1], semi1.Player2.ID)
	assert.Equal(t, winners[2], semi2.Player1.ID)
	assert.Equal(t, winners[3], semi2.Player2.ID)

	// 準決勝のルームが実体化され、IDにはラウンドが含まれる
	assert.NotNil(t, manager.deps.Rooms.Get(pong.TournamentRoomID(tournament.ID, 2, 5)))
	assert.NotNil(t, manager.deps.Rooms.Get(pong.TournamentRoomID(tournament.ID, 2, 6)))
}

func TestTournamentRunsToCompletion(t *testing.T) {
	manager, db := newTestManager(t)
	tournament := startedTournament(t, manager)

	var champion int64
	for round := 1; round <= 3; round++ {
		_, bracket := loadBracket(t, db, tournament.ID)
		for _, match := range bracket.Rounds[round-1] {
			require.NotNil(t, match.Player1)
			champion = match.Player1.ID
			require.NoError(t, manager.ApplyMatchResult(pong.MatchResult{
				RoomID:       pong.TournamentRoomID(tournament.ID, round, match.MatchID),
				TournamentID: tournament.ID,
				Round:        round,
				MatchID:      match.MatchID,
				WinnerID:     match.Player1.ID,
				Score1:       5,
				Score2:       1,
				Reason:       "score",
			}))
		}
	}

	record, _ := loadBracket(t, db, tournament.ID)
	assert.Equal(t, "finished", record.Status)
	assert.Equal(t, champion, record.WinnerID)

	// 試合7件と最終ブラケット1件のレシートが残る
	var receipts int64
	require.NoError(t, db.Model(&models.ChainReceipt{}).Count(&receipts).Error)
	assert.Equal(t, int64(8), receipts)

	var finalReceipt models.ChainReceipt
	require.NoError(t, db.Where("key = ?", fmt.Sprintf("bracket:%d", tournament.ID)).First(&finalReceipt).Error)
}

func TestForfeitTimerCancelledByReconnect(t *testing.T) {
	manager, db := newTestManager(t)
	tournament := startedTournament(t, manager)
	_, bracket := loadBracket(t, db, tournament.ID)
	match := bracket.Rounds[0][0]

	roomID := pong.TournamentRoomID(tournament.ID, 1, match.MatchID)
	room := manager.deps.Rooms.Get(roomID)
	require.NotNil(t, room)

	manager.handleRoomDisconnect(room, match.Player1.ID)
	key := forfeitKey(tournament.ID, match.Player1.ID)
	manager.mu.Lock()
	_, armed := manager.forfeits[key]
	manager.mu.Unlock()
	assert.True(t, armed)

	manager.HandleReconnect(tournament.ID, match.Player1.ID, nil)
	manager.mu.Lock()
	_, armed = manager.forfeits[key]
	manager.mu.Unlock()
	assert.False(t, armed)

	// 没収は発生していない
	_, reloaded := loadBracket(t, db, tournament.ID)
	assert.False(t, reloaded.FindMatch(match.MatchID).Completed)
}

func TestVirtualOnlyMatchesAutoStart(t *testing.T) {
	manager, db := newTestManager(t)
	tournament, err := manager.Create(1, "host", "Cup", models.TournamentConfig{})
	require.NoError(t, err)
	for i := 1; i <= 7; i++ {
		require.NoError(t, manager.InviteVirtual(tournament.ID, 1, fmt.Sprintf("AI-%d", i)))
	}
	// 仮想参加者は常に準備完了なのでホストの準備完了で開始する
	require.NoError(t, manager.ToggleReady(tournament.ID, 1))

	// 両者とも仮想の試合は接続イベントなしで自動開始され、
	// ホストが入る試合は開始要求を待つ
	_, bracket := loadBracket(t, db, tournament.ID)
	autoStarted := 0
	for _, match := range bracket.Rounds[0] {
		room := manager.deps.Rooms.Get(pong.TournamentRoomID(tournament.ID, 1, match.MatchID))
		require.NotNil(t, room)
		if match.Player1.IsVirtual && match.Player2.IsVirtual {
			autoStarted++
			assert.Equal(t, pong.RoomPlaying, room.Status())
		} else {
			assert.Equal(t, pong.RoomReady, room.Status())
		}
	}
	assert.Equal(t, 3, autoStarted)
}

func TestLobbyReadyStatusTransitions(t *testing.T) {
	manager, db := newTestManager(t)
	tournament, err := manager.Create(1, "host", "Cup", models.TournamentConfig{})
	require.NoError(t, err)
	for i := uint(2); i <= 7; i++ {
		require.NoError(t, manager.Join(tournament.ID, i, fmt.Sprintf("player-%d", i)))
	}
	assert.Equal(t, "waiting", tournament.Status())

	// 8人目で満員になるとready。開始は全員の準備完了を待つ
	require.NoError(t, manager.Join(tournament.ID, 8, "player-8"))
	assert.Equal(t, "ready", tournament.Status())
	var record models.Tournament
	require.NoError(t, db.First(&record, tournament.ID).Error)
	assert.Equal(t, "ready", record.Status)

	// 1人抜けるとwaitingへ戻る
	require.NoError(t, manager.Leave(tournament.ID, 8))
	assert.Equal(t, "waiting", tournament.Status())
	require.NoError(t, db.First(&record, tournament.ID).Error)
	assert.Equal(t, "waiting", record.Status)

	require.NoError(t, manager.Join(tournament.ID, 8, "player-8"))
	assert.Equal(t, "ready", tournament.Status())
	for i := int64(1); i <= 8; i++ {
		require.NoError(t, manager.ToggleReady(tournament.ID, i))
	}
	assert.Equal(t, "in_progress", tournament.Status())
}

func TestInviteVirtualRequiresHost(t *testing.T) {
	manager, _ := newTestManager(t)
	tournament, err := manager.Create(1, "host", "Cup", models.TournamentConfig{})
	require.NoError(t, err)
	require.NoError(t, manager.Join(tournament.ID, 2, "guest"))

	assert.ErrorIs(t, manager.InviteVirtual(tournament.ID, 2, "AI"), ErrNotHost)
	require.NoError(t, manager.InviteVirtual(tournament.ID, 1, "AI"))
}

func TestHostReassignmentAndAbandonment(t *testing.T) {
	manager, db := newTestManager(t)
	tournament, err := manager.Create(1, "host", "Cup", models.TournamentConfig{})
	require.NoError(t, err)
	require.NoError(t, manager.Join(tournament.ID, 2, "second"))
	require.NoError(t, manager.InviteVirtual(tournament.ID, 1, "AI"))

	// ホストが抜けると最も早く参加した実プレイヤーが引き継ぐ
	require.NoError(t, manager.Leave(tournament.ID, 1))
	assert.Equal(t, int64(2), tournament.HostID())

	var record models.Tournament
	require.NoError(t, db.First(&record, tournament.ID).Error)
	assert.Equal(t, uint(2), record.HostUserID)

	// 実プレイヤーが全員抜けたら大会ごと畳まれる
	require.NoError(t, manager.Leave(tournament.ID, 2))
	_, err = manager.get(tournament.ID)
	assert.ErrorIs(t, err, ErrTournamentNotFound)
	require.NoError(t, db.First(&record, tournament.ID).Error)
	assert.Equal(t, "finished", record.Status)
}
