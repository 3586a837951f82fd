package pong

import (
	"net/http"
	"sync"

	"pongserver/models"
	"pongserver/pong/broadcast"
	"pongserver/presence"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TournamentHub はトーナメント側の進行管理への窓口です。
// pongパッケージから具象型へ依存すると循環になるためインターフェースで受ける
type TournamentHub interface {
	Attach(tournamentID uint, userID int64, conn *websocket.Conn) error
	Detach(tournamentID uint, userID int64)
	ToggleReady(tournamentID uint, userID int64) error
	InviteVirtual(tournamentID uint, hostID int64, nickName string) error
	StartMatch(tournamentID uint, roomID string, userID int64) error
	HandleDisconnect(tournamentID uint, userID int64)
	HandleReconnect(tournamentID uint, userID int64, conn *websocket.Conn)
}

// Deps はWebSocketハンドラとアクション群が共有する依存の束です。
type Deps struct {
	DB          *gorm.DB
	RDB         *redis.Client
	Logger      *zap.Logger
	Config      *models.Config
	Rooms       *Registry
	Virtual     *VirtualPlayers
	Tournaments TournamentHub
	Presence    *presence.Tracker
	Upgrader    websocket.Upgrader

	clientsMu sync.Mutex
	clients   map[*websocket.Conn]bool // 在席差分の全体配信用
}

func NewDeps(db *gorm.DB, rdb *redis.Client, cfg *models.Config, logger *zap.Logger) *Deps {
	return &Deps{
		DB:      db,
		RDB:     rdb,
		Logger:  logger,
		Config:  cfg,
		Rooms:   NewRegistry(),
		Virtual: NewVirtualPlayers(),
		clients: make(map[*websocket.Conn]bool),
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (d *Deps) registerClient(conn *websocket.Conn) {
	d.clientsMu.Lock()
	d.clients[conn] = true
	d.clientsMu.Unlock()
}

func (d *Deps) unregisterClient(conn *websocket.Conn) {
	d.clientsMu.Lock()
	delete(d.clients, conn)
	d.clientsMu.Unlock()
}

// BroadcastAll は接続中の全クライアントへメッセージを送ります。
// 在席トラッカーのOnline/Offline差分配信に使う
func (d *Deps) BroadcastAll(message map[string]interface{}) {
	d.clientsMu.Lock()
	conns := make([]*websocket.Conn, 0, len(d.clients))
	for conn := range d.clients {
		conns = append(conns, conn)
	}
	d.clientsMu.Unlock()
	for _, conn := range conns {
		broadcast.Send(conn, message, d.Logger)
	}
}

// SimulationConfigFor はサーバー設定とトーナメント設定から試合ルールを組み立てます。
func (d *Deps) SimulationConfigFor(tc *models.TournamentConfig) SimulationConfig {
	cfg := SimulationConfig{
		MaxScore:  d.Config.MaxScore,
		TimeLimit: secondsToDuration(d.Config.TimeLimitSeconds),
		PowerUps:  d.Config.PowerUpsEnabled,
	}
	if tc == nil {
		return cfg
	}
	if tc.PointLimit > 0 {
		cfg.MaxScore = tc.PointLimit
	}
	if tc.TimeLimitSeconds > 0 {
		cfg.TimeLimit = secondsToDuration(tc.TimeLimitSeconds)
	}
	cfg.PowerUps = tc.PowerUps
	cfg.Wind = tc.Wind
	return cfg
}
