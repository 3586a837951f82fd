package models

import (
	"gorm.io/gorm"
)

// トーナメントの永続状態。ブラケットはJSON文字列として1カラムに保存し、
// 変更は必ずリザルトパイプラインのトランザクション内で行う
type Tournament struct {
	gorm.Model
	Name         string `gorm:"not null"`
	Status       string `gorm:"not null;default:'waiting'"` // waiting, ready, in_progress, finished
	HostUserID   uint   `gorm:"not null"`
	Bracket      string // ブラケット全体のJSON。生成前は空
	ConfigJSON   string // TournamentConfigのJSON
	CurrentRound int    `gorm:"not null;default:0"`
	WinnerID     int64  `gorm:"not null;default:0"`

	Players []TournamentPlayer `gorm:"foreignKey:TournamentID"` // 実プレイヤーのみ。仮想参加者は永続化しない
}

// トーナメント参加者は別テーブルで管理
type TournamentPlayer struct {
	gorm.Model
	TournamentID uint   `gorm:"index;not null"`
	UserID       uint   `gorm:"index;not null"`
	NickName     string `gorm:"not null"`
	IsHost       bool   `gorm:"not null;default:false"`
	IsReady      bool   `gorm:"not null;default:false"`
}
