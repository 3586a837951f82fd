package models

import (
	"encoding/json"
	"fmt"
)

// Config 構造体はデータベース接続と対戦運用の設定情報を保持します。
type Config struct {
	DBHost     string `json:"db_host"`
	DBUser     string `json:"db_user"`
	DBPassword string `json:"db_password"`
	DBName     string `json:"db_name"`
	DBSSLMode  string `json:"db_sslmode"`

	// 対戦運用のチューニング値。ゼロの場合はLoadConfigがデフォルト値を補完する
	ReconnectGraceSeconds int  `json:"reconnect_grace_seconds"` // カジュアルルームの再接続猶予
	ForfeitGraceSeconds   int  `json:"forfeit_grace_seconds"`   // トーナメント中の切断没収猶予（残り時間とは独立の固定値）
	CountdownSeconds      int  `json:"countdown_seconds"`       // 試合開始前のカウントダウン
	DrainIntervalMillis   int  `json:"drain_interval_millis"`   // 送信キューの排出間隔
	CleanupDelaySeconds   int  `json:"cleanup_delay_seconds"`   // 試合終了後、リザルト表示のための観察遅延
	PresenceTTLSeconds    int  `json:"presence_ttl_seconds"`    // ハートビートが途絶えたユーザーの掃除閾値
	MaxScore              int  `json:"max_score"`               // 得点上限（先取）
	TimeLimitSeconds      int  `json:"time_limit_seconds"`      // 試合の制限時間
	PowerUpsEnabled       bool `json:"power_ups_enabled"`
}

// TournamentConfig はトーナメント作成時にJSONで保存される対戦設定です。
type TournamentConfig struct {
	Map              string `json:"map"`
	PowerUps         bool   `json:"powerUps"`
	Wind             bool   `json:"wind"`
	PointLimit       int    `json:"pointLimit"`
	TimeLimitSeconds int    `json:"timeLimitSeconds"`
}

func (c *TournamentConfig) Marshal() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to marshal tournament config: %w", err)
	}
	return string(data), nil
}

func UnmarshalTournamentConfig(data string) (*TournamentConfig, error) {
	var c TournamentConfig
	if data == "" {
		return &c, nil
	}
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tournament config: %w", err)
	}
	return &c, nil
}
