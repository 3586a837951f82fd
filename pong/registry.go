package pong

import (
	"fmt"
	"sort"
	"sync"
)

// Registry は稼働中ルームの一覧とカジュアルルームIDの払い出しを管理します。
// トーナメントの試合ルームIDは命名規則からトーナメントとの紐付けを復元できる
type Registry struct {
	mu         sync.Mutex
	rooms      map[string]*Room
	freeIDs    []int // 解放済みカジュアルID。小さい順に再利用する
	nextCasual int
}

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]*Room),
	}
}

// AllocateCasualID はカジュアルルームのIDを払い出します。解放済みIDを優先的に再利用
func (r *Registry) AllocateCasualID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int
	if len(r.freeIDs) > 0 {
		n = r.freeIDs[0]
		r.freeIDs = r.freeIDs[1:]
	} else {
		r.nextCasual++
		n = r.nextCasual
	}
	return fmt.Sprintf("room-%d", n)
}

func (r *Registry) Add(room *Room) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms[room.ID] = room
}

func (r *Registry) Get(roomID string) *Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rooms[roomID]
}

// Remove はルームを台帳から外し、カジュアルIDなら再利用キューへ戻します。
func (r *Registry) Remove(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms, roomID)

	var n int
	if _, err := fmt.Sscanf(roomID, "room-%d", &n); err == nil {
		r.freeIDs = append(r.freeIDs, n)
		sort.Ints(r.freeIDs)
	}
}

// FindByUser はユーザーが占有しているルームを返します。再接続時の復元に使用
func (r *Registry) FindByUser(userID int64) *Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, room := range r.rooms {
		for _, slot := range room.slotsSnapshot() {
			if slot != nil && slot.ID == userID {
				return room
			}
		}
	}
	return nil
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// TournamentRoomID はトーナメント試合ルームのIDを生成します。
// この命名はIDだけからトーナメント・ラウンド・試合を復元するための契約の一部
func TournamentRoomID(tournamentID uint, round int, matchID int) string {
	if round <= 1 {
		return fmt.Sprintf("tournament-%d-match-%d", tournamentID, matchID)
	}
	return fmt.Sprintf("tournament-%d-round-%d-match-%d", tournamentID, round, matchID)
}

// ParseTournamentRoomID はルームIDからトーナメント紐付けを復元します。
func ParseTournamentRoomID(roomID string) (tournamentID uint, round int, matchID int, ok bool) {
	var tid uint
	var r, m int
	if n, err := fmt.Sscanf(roomID, "tournament-%d-round-%d-match-%d", &tid, &r, &m); err == nil && n == 3 {
		return tid, r, m, true
	}
	if n, err := fmt.Sscanf(roomID, "tournament-%d-match-%d", &tid, &m); err == nil && n == 2 {
		return tid, 1, m, true
	}
	return 0, 0, 0, false
}
