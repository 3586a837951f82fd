package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishInvokesSubscribersInOrder(t *testing.T) {
	b := New()
	var order []string

	b.Subscribe(EventPointMade, func(payload map[string]interface{}) {
		order = append(order, "first")
	})
	b.Subscribe(EventPointMade, func(payload map[string]interface{}) {
		order = append(order, "second")
	})

	b.Publish(EventPointMade, map[string]interface{}{"score": 1})

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	calls := 0
	id := b.Subscribe(EventGameEnded, func(payload map[string]interface{}) {
		calls++
	})

	b.Publish(EventGameEnded, nil)
	b.Unsubscribe(EventGameEnded, id)
	b.Publish(EventGameEnded, nil)

	assert.Equal(t, 1, calls)
}

func TestQueueIsFIFOAcrossEventTypes(t *testing.T) {
	b := New()

	// 異なる種別のイベントが購読順ではなく発行順で並ぶこと
	b.Subscribe(EventBallUpdate, func(payload map[string]interface{}) { b.Enqueue(payload) })
	b.Subscribe(EventPointMade, func(payload map[string]interface{}) { b.Enqueue(payload) })

	b.Publish(EventBallUpdate, map[string]interface{}{"type": "BallUpdate", "seq": 1})
	b.Publish(EventPointMade, map[string]interface{}{"type": "PointMade", "seq": 2})
	b.Publish(EventBallUpdate, map[string]interface{}{"type": "BallUpdate", "seq": 3})

	var seqs []int
	for {
		message, ok := b.DequeueOne()
		if !ok {
			break
		}
		seqs = append(seqs, message["seq"].(int))
	}
	assert.Equal(t, []int{1, 2, 3}, seqs)
}

func TestClearAllDropsSubscribersAndQueue(t *testing.T) {
	b := New()
	calls := 0
	b.Subscribe(EventBallUpdate, func(payload map[string]interface{}) { calls++ })
	b.Enqueue(map[string]interface{}{"type": "BallUpdate"})

	b.ClearAll()

	b.Publish(EventBallUpdate, nil)
	_, ok := b.DequeueOne()
	require.False(t, ok)
	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, b.QueueLen())
}
