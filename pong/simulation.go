package pong

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"pongserver/broker"

	"github.com/ndabAP/ping-pong/engine"
	"go.uber.org/zap"
)

const (
	simTPS         = 60.0 // 物理tickの周期
	yVelRatio      = 0.01 // パドル速度の盤面高さ比
	ballVelRatio   = 0.005
	velIncrease    = 1.03 // パドルヒット毎の加速係数
	powerUpSeconds = 8    // パワーアップ効果の持続時間
)

type Vec2 struct {
	X, Y float64
}

// SimulationConfig は1試合分のルール設定です。
type SimulationConfig struct {
	MaxScore  int
	TimeLimit time.Duration
	PowerUps  bool
	Wind      bool
}

// Simulation は1試合分の物理シミュレーションを保持します。
// 盤面・パドル・ボールのジオメトリはping-pongエンジンのものを使い、
// tickループは自前で持つ。イベントはすべてブローカーへ発行し、
// ソケットへの直接書き込みは行わない
type Simulation struct {
	game engine.Game
	bus  *broker.Broker

	mu               sync.Mutex
	ballPos, ballVel Vec2
	p1Pos, p2Pos     Vec2
	p1Vel, p2Vel     Vec2
	scores           [2]int
	paddleBonus      [2]float64 // パワーアップによるパドル拡大量
	powerSlots       [2][]string
	autopilot        [2]bool // 仮想参加者のスロットはパドルが自動でボールを追う
	wind             Vec2
	paused           bool
	ended            bool
	startedAt        time.Time
	pausedFor        time.Duration
	pausedAt         time.Time

	cfg     SimulationConfig
	randGen *rand.Rand
	logger  *zap.Logger
	cancel  context.CancelFunc
}

func NewSimulation(bus *broker.Broker, cfg SimulationConfig, autopilot [2]bool, logger *zap.Logger) *Simulation {
	game := engine.NewGame(
		800, 600,
		engine.NewPlayer(10, 75),
		engine.NewPlayer(10, 75),
		engine.NewBall(15, 15),
	)

	s := &Simulation{
		game:      game,
		bus:       bus,
		cfg:       cfg,
		autopilot: autopilot,
		randGen:   CreateLocalRandGenerator(),
		logger:    logger,
	}
	s.resetPositions()
	if cfg.Wind {
		s.wind = Vec2{X: 0, Y: (s.randGen.Float64() - 0.5) * 0.4}
	}
	return s
}

// サーブ位置にボールとパドルを戻す。サーブ方向はランダム
func (s *Simulation) resetPositions() {
	w, h := s.game.Width, s.game.Height
	s.ballPos = Vec2{X: w / 2, Y: h / 2}
	dir := 1.0
	if s.randGen.Intn(2) == 0 {
		dir = -1.0
	}
	s.ballVel = Vec2{
		X: dir * ballVelRatio * w,
		Y: (s.randGen.Float64() - 0.5) * ballVelRatio * h,
	}
	s.p1Pos = Vec2{X: 0, Y: h/2 - s.game.P1.Height/2}
	s.p2Pos = Vec2{X: w - s.game.P2.Width, Y: h/2 - s.game.P2.Height/2}
	s.p1Vel, s.p2Vel = Vec2{}, Vec2{}
}

// Start はtickループのゴルーチンを起動します。
func (s *Simulation) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.cancel = cancel
	s.startedAt = time.Now()
	s.mu.Unlock()

	go func() {
		tickMillis := 1000.0 / simTPS
		ticker := time.NewTicker(time.Duration(tickMillis * float64(time.Millisecond)))
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick()
				if s.isEnded() {
					return
				}
			}
		}
	}()
}

// Stop はtickループを止めます。冪等
func (s *Simulation) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.ended = true
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Simulation) isEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// Pause は片側切断や明示的な一時停止で物理を止めます。
func (s *Simulation) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		s.paused = true
		s.pausedAt = time.Now()
	}
}

func (s *Simulation) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		s.paused = false
		s.pausedFor += time.Since(s.pausedAt)
	}
}

// PreMove はプレイヤーの移動意図をパドル速度に反映します。
// playerIndexは0か1、dirは "up", "down", "stop"
func (s *Simulation) PreMove(playerIndex int, dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var vel *Vec2
	if playerIndex == 0 {
		vel = &s.p1Vel
	} else {
		vel = &s.p2Vel
	}
	switch dir {
	case "up":
		vel.Y = -yVelRatio * s.game.Height
	case "down":
		vel.Y = yVelRatio * s.game.Height
	case "stop":
		vel.Y = 0
	}
}

// UsePowerUp は獲得済みスロットのパワーアップを消費します。
func (s *Simulation) UsePowerUp(playerIndex int, slot int) bool {
	s.mu.Lock()
	slots := s.powerSlots[playerIndex]
	if !s.cfg.PowerUps || slot < 0 || slot >= len(slots) {
		s.mu.Unlock()
		return false
	}
	kind := slots[slot]
	s.powerSlots[playerIndex] = append(slots[:slot], slots[slot+1:]...)

	switch kind {
	case "grow":
		s.paddleBonus[playerIndex] += 40
		idx := playerIndex
		time.AfterFunc(powerUpSeconds*time.Second, func() {
			s.mu.Lock()
			s.paddleBonus[idx] -= 40
			s.mu.Unlock()
		})
	case "speed":
		s.ballVel.X *= 1.5
		s.ballVel.Y *= 1.5
	}
	s.mu.Unlock()

	s.bus.Publish(broker.EventPowerUp, map[string]interface{}{
		"type":   "PowerUp",
		"player": playerIndex,
		"kind":   kind,
	})
	return true
}

// Scores は現在のスコアを返します。
func (s *Simulation) Scores() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scores[0], s.scores[1]
}

// Snapshot はGameInit応答用の現在状態を返します。
func (s *Simulation) Snapshot() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]interface{}{
		"type":         "GameInit",
		"gameWidth":    s.game.Width,
		"gameHeight":   s.game.Height,
		"paddleWidth":  s.game.P1.Width,
		"paddleHeight": s.game.P1.Height,
		"ballWidth":    s.game.Ball.Width,
		"ballHeight":   s.game.Ball.Height,
		"ballX":        s.ballPos.X,
		"ballY":        s.ballPos.Y,
		"p1Y":          s.p1Pos.Y,
		"p2Y":          s.p2Pos.Y,
		"results":      []int{s.scores[0], s.scores[1]},
	}
}

// 1tick分の物理更新。ゴールと終局の判定もここで行う
func (s *Simulation) tick() {
	s.mu.Lock()
	if s.paused || s.ended {
		s.mu.Unlock()
		return
	}

	w, h := s.game.Width, s.game.Height

	// 仮想参加者のパドルはボールのY座標を追従する
	for i := 0; i < 2; i++ {
		if !s.autopilot[i] {
			continue
		}
		pos, vel := &s.p1Pos, &s.p1Vel
		height := s.game.P1.Height
		if i == 1 {
			pos, vel = &s.p2Pos, &s.p2Vel
			height = s.game.P2.Height
		}
		center := pos.Y + height/2
		switch {
		case center < s.ballPos.Y-10:
			vel.Y = yVelRatio * h * 0.8
		case center > s.ballPos.Y+10:
			vel.Y = -yVelRatio * h * 0.8
		default:
			vel.Y = 0
		}
	}

	// パドルの移動と盤面内へのクランプ
	s.p1Pos.Y = clamp(s.p1Pos.Y+s.p1Vel.Y, 0, h-s.paddleHeight(0))
	s.p2Pos.Y = clamp(s.p2Pos.Y+s.p2Vel.Y, 0, h-s.paddleHeight(1))

	// ボールの移動
	s.ballPos.X += s.ballVel.X
	s.ballPos.Y += s.ballVel.Y + s.wind.Y

	// 上下の壁で反射
	if s.ballPos.Y <= 0 {
		s.ballPos.Y = 0
		s.ballVel.Y = -s.ballVel.Y
	} else if s.ballPos.Y+s.game.Ball.Height >= h {
		s.ballPos.Y = h - s.game.Ball.Height
		s.ballVel.Y = -s.ballVel.Y
	}

	// パドルとの衝突判定
	if s.ballVel.X < 0 &&
		s.ballPos.X <= s.p1Pos.X+s.game.P1.Width &&
		s.ballPos.Y+s.game.Ball.Height >= s.p1Pos.Y &&
		s.ballPos.Y <= s.p1Pos.Y+s.paddleHeight(0) {
		s.ballPos.X = s.p1Pos.X + s.game.P1.Width
		s.ballVel.X = -s.ballVel.X * velIncrease
		s.ballVel.Y += s.p1Vel.Y * 0.3
	} else if s.ballVel.X > 0 &&
		s.ballPos.X+s.game.Ball.Width >= s.p2Pos.X &&
		s.ballPos.Y+s.game.Ball.Height >= s.p2Pos.Y &&
		s.ballPos.Y <= s.p2Pos.Y+s.paddleHeight(1) {
		s.ballPos.X = s.p2Pos.X - s.game.Ball.Width
		s.ballVel.X = -s.ballVel.X * velIncrease
		s.ballVel.Y += s.p2Vel.Y * 0.3
	}

	// ゴール判定。左端を割ったらP2の得点、右端ならP1の得点
	var roundErr error
	if s.ballPos.X+s.game.Ball.Width < 0 {
		roundErr = engine.ErrP2Win
	} else if s.ballPos.X > w {
		roundErr = engine.ErrP1Win
	}

	if roundErr == nil {
		frame := map[string]interface{}{
			"type":  "BallUpdate",
			"ballX": s.ballPos.X,
			"ballY": s.ballPos.Y,
			"p1Y":   s.p1Pos.Y,
			"p2Y":   s.p2Pos.Y,
		}
		s.mu.Unlock()
		s.bus.Publish(broker.EventBallUpdate, frame)
		return
	}

	scorer := 0
	if roundErr == engine.ErrP2Win {
		scorer = 1
	}
	s.scores[scorer]++
	if s.cfg.PowerUps {
		kinds := []string{"grow", "speed"}
		s.powerSlots[scorer] = append(s.powerSlots[scorer], kinds[s.randGen.Intn(len(kinds))])
	}
	results := []int{s.scores[0], s.scores[1]}
	s.resetPositions()

	elapsed := time.Since(s.startedAt) - s.pausedFor
	reachedScore := s.cfg.MaxScore > 0 && s.scores[scorer] >= s.cfg.MaxScore
	// 制限時間超過時に同点の場合は次の得点まで続行する（サドンデス）
	reachedTime := s.cfg.TimeLimit > 0 && elapsed >= s.cfg.TimeLimit && s.scores[0] != s.scores[1]

	if !reachedScore && !reachedTime {
		s.mu.Unlock()
		s.bus.Publish(broker.EventPointMade, map[string]interface{}{
			"type":    "PointMade",
			"scorer":  scorer,
			"results": results,
		})
		return
	}

	s.ended = true
	winner := 0
	if s.scores[1] > s.scores[0] {
		winner = 1
	}
	reason := "score"
	if !reachedScore {
		reason = "timeLimit"
	}
	s.mu.Unlock()

	s.bus.Publish(broker.EventPointMade, map[string]interface{}{
		"type":    "PointMade",
		"scorer":  scorer,
		"results": results,
	})
	s.bus.Publish(broker.EventGameEnded, map[string]interface{}{
		"type":    "GameEnded",
		"results": results,
		"winner":  winner,
		"reason":  reason,
	})
}

func (s *Simulation) paddleHeight(playerIndex int) float64 {
	if playerIndex == 0 {
		return s.game.P1.Height + s.paddleBonus[0]
	}
	return s.game.P2.Height + s.paddleBonus[1]
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
