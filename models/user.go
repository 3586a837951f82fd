package models

import (
	"gorm.io/gorm"
)

// User モデルの定義
type User struct {
	gorm.Model
	NickName           string `gorm:"not null"`
	SubscriptionStatus string `gorm:"not null;default:'free'"`
	IsOnline           bool   `gorm:"not null;default:false"` // プレゼンストラッカーが遷移時のみ更新する
	HasRoom            bool   `gorm:"not null;default:false"`
}
