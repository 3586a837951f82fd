package broker

import (
	"sync"
)

// イベント種別。シミュレーションやロビーが発行するトピックのキー
type EventType string

const (
	EventBallUpdate EventType = "BallUpdate"
	EventPointMade  EventType = "PointMade"
	EventGameEnded  EventType = "GameEnded"
	EventGamePause  EventType = "GamePause"
	EventCountdown  EventType = "Countdown"
	EventPowerUp    EventType = "PowerUp"
)

// 購読者コールバック。Publishと同じゴルーチンで同期的に呼ばれる
type Handler func(payload map[string]interface{})

type subscription struct {
	id      int
	handler Handler
}

// ルーム・トーナメント1つにつき1インスタンスのpub/subテーブル。
// シミュレーションのtickとネットワーク送出を疎結合にするため、
// 購読者はここで送信キューに積むだけにして、排出は固定周期のドレインタスクが行う
type Broker struct {
	mu     sync.Mutex
	nextID int
	subs   map[EventType][]subscription
	queue  []map[string]interface{} // 送信待ちのFIFOキュー
}

func New() *Broker {
	return &Broker{
		subs: make(map[EventType][]subscription),
	}
}

// Subscribe はトピックに購読者を登録し、解除用のIDを返します。
func (b *Broker) Subscribe(event EventType, handler Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subs[event] = append(b.subs[event], subscription{id: b.nextID, handler: handler})
	return b.nextID
}

// Unsubscribe は指定IDの購読を解除します。
func (b *Broker) Unsubscribe(event EventType, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[event]
	for i, s := range subs {
		if s.id == id {
			b.subs[event] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Publish は現在の購読者を登録順に同期呼び出しします。
func (b *Broker) Publish(event EventType, payload map[string]interface{}) {
	b.mu.Lock()
	subs := make([]subscription, len(b.subs[event]))
	copy(subs, b.subs[event])
	b.mu.Unlock()

	for _, s := range subs {
		s.handler(payload)
	}
}

// ClearAll は全トピックの購読と送信キューを破棄します。ルーム解体時に使用
func (b *Broker) ClearAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[EventType][]subscription)
	b.queue = nil
}

// Enqueue は送信キューの末尾にメッセージを積みます。
func (b *Broker) Enqueue(message map[string]interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue = append(b.queue, message)
}

// DequeueOne はキューの先頭メッセージを1件取り出します。
// tick毎に1件ずつ排出することで、送出レートをtickレートから切り離しつつ
// イベント種別をまたいだ順序を発行順のまま保証する
func (b *Broker) DequeueOne() (map[string]interface{}, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return nil, false
	}
	message := b.queue[0]
	b.queue = b.queue[1:]
	return message, true
}

// QueueLen は送信待ち件数を返します。
func (b *Broker) QueueLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}
