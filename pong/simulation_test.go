package pong

import (
	"testing"

	"pongserver/broker"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestSimulationSnapshotGeometry(t *testing.T) {
	sim := NewSimulation(broker.New(), SimulationConfig{MaxScore: 5}, [2]bool{}, zap.NewNop())

	snapshot := sim.Snapshot()
	assert.Equal(t, "GameInit", snapshot["type"])
	assert.Equal(t, float64(800), snapshot["gameWidth"])
	assert.Equal(t, float64(600), snapshot["gameHeight"])
	// サーブ位置は盤面中央
	assert.Equal(t, float64(400), snapshot["ballX"])
	assert.Equal(t, float64(300), snapshot["ballY"])
	assert.Equal(t, []int{0, 0}, snapshot["results"])
}

func TestUsePowerUpWithoutStockFails(t *testing.T) {
	sim := NewSimulation(broker.New(), SimulationConfig{MaxScore: 5, PowerUps: true}, [2]bool{}, zap.NewNop())
	assert.False(t, sim.UsePowerUp(0, 0))
	assert.False(t, sim.UsePowerUp(1, -1))
}

func TestPauseAndResumeAreIdempotent(t *testing.T) {
	sim := NewSimulation(broker.New(), SimulationConfig{MaxScore: 5}, [2]bool{}, zap.NewNop())
	sim.Pause()
	sim.Pause()
	sim.Resume()
	sim.Resume()

	s1, s2 := sim.Scores()
	assert.Zero(t, s1)
	assert.Zero(t, s2)
}
