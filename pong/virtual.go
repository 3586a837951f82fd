package pong

import (
	"sync"

	"pongserver/models"
)

// VirtualPlayers はルームやトーナメントロビーに参加するAI・ローカルゲストの
// 疑似プレイヤー台帳です。IDは負の連番で払い出し、usersテーブルには一切永続化しない
type VirtualPlayers struct {
	mu      sync.Mutex
	next    int64
	players map[int64]*models.BracketParticipant
}

func NewVirtualPlayers() *VirtualPlayers {
	return &VirtualPlayers{
		players: make(map[int64]*models.BracketParticipant),
	}
}

// Create は新しい仮想参加者を登録して返します。
func (v *VirtualPlayers) Create(nickName string) *models.BracketParticipant {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.next--
	participant := &models.BracketParticipant{
		ID:        v.next,
		NickName:  nickName,
		IsVirtual: true,
	}
	v.players[participant.ID] = participant
	return participant
}

func (v *VirtualPlayers) Get(id int64) *models.BracketParticipant {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.players[id]
}

func (v *VirtualPlayers) Remove(id int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.players, id)
}

func (v *VirtualPlayers) Count() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.players)
}
