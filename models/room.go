package models

import (
	"gorm.io/gorm"
)

// カジュアルロビーの永続状態。トーナメントの試合ルームは
// tournamentsテーブルのブラケットから復元できるため永続化しない
type Room struct {
	gorm.Model
	RoomID    string `gorm:"uniqueIndex;not null"` // ルームレジストリが払い出す文字列ID
	CreatorID uint   `gorm:"not null"`
	Status    string `gorm:"not null;default:'waiting'"` // waiting, playing, ended, expired

	Players []RoomPlayer `gorm:"foreignKey:RoomDBID"`
}

type RoomPlayer struct {
	gorm.Model
	RoomDBID uint   `gorm:"index;not null"` // Roomテーブルの主キーを参照
	UserID   uint   `gorm:"index;not null"`
	NickName string
}

// 完了した試合の統計。テーブル名は games
type GameRecord struct {
	gorm.Model
	RoomID       string `gorm:"index;not null"`
	TournamentID uint   `gorm:"index"` // カジュアル戦は0
	MatchID      int
	Player1ID    int64
	Player2ID    int64
	WinnerID     int64
	Score1       int
	Score2       int
	Reason       string // score, timeLimit, forfeit, abandoned
}

func (GameRecord) TableName() string { return "games" }

// 台帳書き込みの既書き込みチェック用レシート。キーは (tournamentId, matchId) 由来
type ChainReceipt struct {
	gorm.Model
	Key     string `gorm:"uniqueIndex;not null"`
	Payload string `gorm:"not null"`
}
