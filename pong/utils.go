package pong

import (
	"math/rand"

	"time"
)

// 乱数はサーブ方向の決定やブラケットのシャッフルなどに使用
func CreateLocalRandGenerator() *rand.Rand {
	source := rand.NewSource(time.Now().UnixNano())
	return rand.New(source)
}

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
