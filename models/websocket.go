package models

import (
	"github.com/gorilla/websocket"
)

// Websocketクライアントを定義
type Client struct {
	Conn         *websocket.Conn
	UserID       uint   // JWTから抽出したユーザーID
	NickName     string
	RoomID       string // 参加中ルームのID。未参加なら空
	TournamentID uint   // 参加中トーナメントのID。未参加なら0
	Role         string // "Player", "Lobby" など
}
