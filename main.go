package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"pongserver/database" //PostgreSQLとRedisの初期化
	"pongserver/ledger"   //試合結果の冪等な台帳記録
	"pongserver/models"
	"pongserver/pong"       //対戦ルームとWebSocketのゲームロジック
	"pongserver/presence"   //オンライン在席のトラッキング
	"pongserver/screens"    //フロントの画面構成に関連するHTTPリクエストの処理
	"pongserver/tournament" //トーナメントの進行管理
	"pongserver/utils"      //ロガーの初期化とCronジョブ(PostgreSQLの定期クリーンナップ)

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

func main() {
	var logger *zap.Logger
	var err error
	logger, err = utils.InitLogger() // ロガーの初期化
	if err != nil {
		panic(err) // 失敗した場合はプログラム停止
	}
	defer logger.Sync() // ロガーのクリーンアップ

	// 非同期でPostgreSQLとRedisの初期化
	var db *gorm.DB
	var rdb *redis.Client
	var config models.Config
	done := make(chan bool)

	go func() {
		config, err = database.LoadConfig("config.json")
		if err != nil {
			logger.Fatal("設定ファイルの読み込みに失敗しました", zap.Error(err))
		}
		db, err = database.InitPostgreSQL(config, logger)
		if err != nil {
			logger.Fatal("PostgreSQLの初期化に失敗しました", zap.Error(err))
		}
		done <- true
	}()

	go func() {
		rdb, err = database.InitRedis(logger)
		if err != nil {
			logger.Fatal("Failed to initialize Redis", zap.Error(err))
		}
		done <- true
	}()

	// 2つの初期化が完了するのを待つ
	<-done
	<-done

	if err := database.AutoMigrateDB(db); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}

	// クーロンスケジューラのセットアップと呼び出し
	go utils.CronCleaner(db, logger)

	// ゲーム側の依存を組み立てる
	deps := pong.NewDeps(db, rdb, &config, logger)
	tracker := presence.NewTracker(db, logger, deps.BroadcastAll,
		time.Duration(config.PresenceTTLSeconds)*time.Second)
	deps.Presence = tracker
	go tracker.Run(context.Background())

	recorder := ledger.NewRecorder(db, logger)
	manager := tournament.NewManager(db, deps, recorder, logger)
	deps.Tournaments = manager

	router := gin.Default()
	//リクエストロガーを起動
	router.Use(gin.Recovery(), utils.RequestLogger(logger))

	//CORS（Cross-Origin Resource Sharing）ポリシーを設定
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://192.168.1.1:8080"}, //ここにデプロイサーバーのIPアドレスを設定
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	//各HTTPリクエストのルーティング
	router.POST("/auth", func(c *gin.Context) {
		screens.AuthHandler(c, db, logger)
	})
	router.GET("/home", func(c *gin.Context) {
		screens.HomeHandler(c, db, logger)
	})
	router.POST("/room/create", func(c *gin.Context) {
		screens.RoomCreateHandler(c, db, logger, deps)
	})
	router.POST("/tournament/create", func(c *gin.Context) {
		screens.TournamentCreateHandler(c, db, logger, manager)
	})
	router.POST("/tournament/:id/join", func(c *gin.Context) {
		screens.TournamentJoinHandler(c, db, logger, manager)
	})
	router.DELETE("/tournament/:id/leave", func(c *gin.Context) {
		screens.TournamentLeaveHandler(c, db, logger, manager)
	})
	router.GET("/ws", func(c *gin.Context) {
		deps.HandleConnections(c.Writer, c.Request)
	})

	// テスト時はHTTPサーバーとして運用。デフォルトポートは ":8080"
	router.Run()

	// // 本番環境ではコメントアウトを解除し、HTTPSサーバーとして運用
	// err = router.RunTLS(":443", "path/to/cert.pem", "path/to/key.pem")
	// if err != nil {
	// 	logger.Fatal("Failed to run HTTPS server: ", zap.Error(err))
	// }
}
