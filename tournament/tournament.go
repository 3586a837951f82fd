package tournament

import (
	"sync"
	"time"

	"pongserver/models"
	"pongserver/pong/broadcast"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const MaxParticipants = 8

// Participant はロビーに在席する1参加者のランタイム状態です。
// 仮想参加者は接続を持たず、常に準備完了として扱う
type Participant struct {
	ID        int64
	NickName  string
	IsHost    bool
	IsReady   bool
	IsVirtual bool
	Conn      *websocket.Conn
	Connected bool
	JoinedAt  time.Time
}

// Tournament は1大会分のランタイム状態です。永続状態の正本はDB側にあり、
// こちらはロビー進行と配信のために持つ
type Tournament struct {
	ID     uint
	Name   string
	Config models.TournamentConfig

	mu           sync.Mutex
	status       string
	hostID       int64
	participants []*Participant // 参加順を保持する
	bracket      *models.Bracket
	currentRound int
	winnerID     int64
}

func (t *Tournament) Status() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Tournament) HostID() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hostID
}

func (t *Tournament) findParticipant(userID int64) *Participant {
	for _, p := range t.participants {
		if p.ID == userID {
			return p
		}
	}
	return nil
}

// humanCount はロック下で実プレイヤー数を数えます。
func (t *Tournament) humanCount() int {
	n := 0
	for _, p := range t.participants {
		if !p.IsVirtual {
			n++
		}
	}
	return n
}

func (t *Tournament) allReady() bool {
	if len(t.participants) != MaxParticipants {
		return false
	}
	for _, p := range t.participants {
		if !p.IsReady {
			return false
		}
	}
	return true
}

// broadcastLobby は接続中の全参加者へメッセージを送ります。
func (t *Tournament) broadcastLobby(message map[string]interface{}, logger *zap.Logger) {
	t.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(t.participants))
	for _, p := range t.participants {
		if p.Connected && p.Conn != nil {
			conns = append(conns, p.Conn)
		}
	}
	t.mu.Unlock()
	for _, conn := range conns {
		broadcast.Send(conn, message, logger)
	}
}

// stateMessage はTournamentState配信用のスナップショットを組み立てます。
func (t *Tournament) stateMessage() map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	players := make([]map[string]interface{}, 0, len(t.participants))
	for _, p := range t.participants {
		players = append(players, map[string]interface{}{
			"userID":    p.ID,
			"nickName":  p.NickName,
			"isHost":    p.IsHost,
			"isReady":   p.IsReady,
			"isVirtual": p.IsVirtual,
			"connected": p.Connected || p.IsVirtual,
		})
	}
	message := map[string]interface{}{
		"type":         "TournamentState",
		"tournamentId": t.ID,
		"name":         t.Name,
		"status":       t.status,
		"currentRound": t.currentRound,
		"players":      players,
	}
	if t.bracket != nil {
		message["bracket"] = t.bracket
	}
	if t.winnerID != 0 {
		message["winnerId"] = t.winnerID
	}
	return message
}
