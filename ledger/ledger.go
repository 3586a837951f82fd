package ledger

import (
	"encoding/json"
	"errors"
	"fmt"

	"pongserver/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrDuplicateEntry は同じキーのレシートが既に記録済みであることを示します。
// 呼び出し側はこれを失敗ではなく冪等な成功として扱う
var ErrDuplicateEntry = errors.New("ledger: entry already recorded")

// Submitter は外部台帳への書き込み口です。試合結果と最終ブラケットを
// 重複なく一度だけ記録できればよい
type Submitter interface {
	StoreMatch(tournamentID uint, matchID int, payload interface{}) error
	StoreFinalBracket(tournamentID uint, payload interface{}) error
}

// Recorder はchain_receiptsテーブルを台帳として使うSubmitter実装です。
// キーのユニーク制約が二重書き込みの最後の砦になる
type Recorder struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewRecorder(db *gorm.DB, logger *zap.Logger) *Recorder {
	return &Recorder{db: db, logger: logger}
}

func (r *Recorder) StoreMatch(tournamentID uint, matchID int, payload interface{}) error {
	key := fmt.Sprintf("match:%d:%d", tournamentID, matchID)
	return r.store(key, payload)
}

func (r *Recorder) StoreFinalBracket(tournamentID uint, payload interface{}) error {
	key := fmt.Sprintf("bracket:%d", tournamentID)
	return r.store(key, payload)
}

func (r *Recorder) store(key string, payload interface{}) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ledger: encode payload for %s: %w", key, err)
	}

	receipt := models.ChainReceipt{Key: key, Payload: string(payloadJSON)}
	result := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoNothing: true,
	}).Create(&receipt)
	if result.Error != nil {
		r.logger.Error("Failed to write ledger receipt",
			zap.String("key", key), zap.Error(result.Error))
		return fmt.Errorf("ledger: write %s: %w", key, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrDuplicateEntry
	}
	r.logger.Info("Ledger receipt recorded", zap.String("key", key))
	return nil
}
