package tournament

import (
	"testing"

	"pongserver/models"
	"pongserver/pong"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultBroadcastOrdering(t *testing.T) {
	result := pong.MatchResult{
		TournamentID: 1,
		MatchID:      2,
		WinnerID:     10,
		Score1:       5,
		Score2:       3,
		Reason:       "score",
	}
	bracket := &models.Bracket{}

	// 通常の消化ではブラケット更新が先、続いてMatchCompleted
	messages := resultMessages(result, bracket, false, false)
	require.Len(t, messages, 2)
	assert.Equal(t, "BracketUpdated", messages[0]["type"])
	assert.Equal(t, "MatchCompleted", messages[1]["type"])
	assert.Equal(t, int64(10), messages[1]["winnerId"])

	// ラウンド進行時はRoundAdvancedが別途流れるためMatchCompletedは送らない
	messages = resultMessages(result, bracket, true, false)
	require.Len(t, messages, 1)
	assert.Equal(t, "BracketUpdated", messages[0]["type"])

	// 優勝確定時も同様にTournamentFinishedに譲る
	messages = resultMessages(result, bracket, false, true)
	require.Len(t, messages, 1)
	assert.Equal(t, "BracketUpdated", messages[0]["type"])
}
