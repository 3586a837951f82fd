package models

import (
	"encoding/json"
	"fmt"
)

// トーナメントの参加者。実プレイヤーは正のID、仮想参加者（AI・ローカルゲスト）は負のID
type BracketParticipant struct {
	ID        int64  `json:"id"`
	NickName  string `json:"nickName"`
	IsVirtual bool   `json:"isVirtual"`
}

// ブラケットの1ノード。勝者が前のラウンドで決まるまでPlayer1/Player2はnil（TBD）
type BracketMatch struct {
	MatchID   int                 `json:"matchId"` // トーナメント内で安定した連番
	Round     int                 `json:"round"`   // 1始まり
	Index     int                 `json:"index"`   // ラウンド内の位置。0始まり
	Player1   *BracketParticipant `json:"player1"`
	Player2   *BracketParticipant `json:"player2"`
	WinnerID  *int64              `json:"winnerId"`
	Score1    int                 `json:"score1"`
	Score2    int                 `json:"score2"`
	Completed bool                `json:"completed"`
}

// ラウンド×試合の入れ子構造。ポインタ木ではなく (round, index) で引ける
// フラットな構造にしてシリアライズを単純化している
type Bracket struct {
	Rounds [][]*BracketMatch `json:"rounds"`
}

// FindMatch はmatchIDからブラケット内の試合を探します。
func (b *Bracket) FindMatch(matchID int) *BracketMatch {
	for _, round := range b.Rounds {
		for _, match := range round {
			if match.MatchID == matchID {
				return match
			}
		}
	}
	return nil
}

// RoundComplete はラウンド内の全試合に勝者が記録されているかを返します。
// roundは1始まり
func (b *Bracket) RoundComplete(round int) bool {
	if round < 1 || round > len(b.Rounds) {
		return false
	}
	for _, match := range b.Rounds[round-1] {
		if !match.Completed || match.WinnerID == nil {
			return false
		}
	}
	return true
}

// WinnerOf は完了済み試合の勝者参加者を返します。
func (m *BracketMatch) WinnerOf() *BracketParticipant {
	if m.WinnerID == nil {
		return nil
	}
	if m.Player1 != nil && m.Player1.ID == *m.WinnerID {
		return m.Player1
	}
	if m.Player2 != nil && m.Player2.ID == *m.WinnerID {
		return m.Player2
	}
	return nil
}

func (b *Bracket) Marshal() (string, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return "", fmt.Errorf("failed to marshal bracket: %w", err)
	}
	return string(data), nil
}

func UnmarshalBracket(data string) (*Bracket, error) {
	var b Bracket
	if err := json.Unmarshal([]byte(data), &b); err != nil {
		return nil, fmt.Errorf("failed to unmarshal bracket: %w", err)
	}
	return &b, nil
}
