package pong

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCasualIDAllocationReusesFreedIDs(t *testing.T) {
	registry := NewRegistry()

	first := registry.AllocateCasualID()
	second := registry.AllocateCasualID()
	third := registry.AllocateCasualID()
	assert.Equal(t, "room-1", first)
	assert.Equal(t, "room-2", second)
	assert.Equal(t, "room-3", third)

	// 解放した最小のIDから再利用される
	registry.Remove(second)
	registry.Remove(first)
	assert.Equal(t, "room-1", registry.AllocateCasualID())
	assert.Equal(t, "room-2", registry.AllocateCasualID())
	assert.Equal(t, "room-4", registry.AllocateCasualID())
}

func TestTournamentRoomIDContract(t *testing.T) {
	// 1回戦はラウンド表記を省略する
	assert.Equal(t, "tournament-3-match-2", TournamentRoomID(3, 1, 2))
	assert.Equal(t, "tournament-3-round-2-match-5", TournamentRoomID(3, 2, 5))

	tid, round, matchID, ok := ParseTournamentRoomID("tournament-3-match-2")
	assert.True(t, ok)
	assert.Equal(t, uint(3), tid)
	assert.Equal(t, 1, round)
	assert.Equal(t, 2, matchID)

	tid, round, matchID, ok = ParseTournamentRoomID("tournament-3-round-2-match-5")
	assert.True(t, ok)
	assert.Equal(t, uint(3), tid)
	assert.Equal(t, 2, round)
	assert.Equal(t, 5, matchID)

	_, _, _, ok = ParseTournamentRoomID("room-7")
	assert.False(t, ok)
}
