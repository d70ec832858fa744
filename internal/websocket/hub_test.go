package websocket

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestHub() *Hub {
	return NewHub([]string{"*"}, nil, nil, zap.NewNop())
}

// newTestClient 构造一个不经过网络握手的客户端，直接挂进 Hub。
func newTestClient(h *Hub, id string, permissions []string) *Client {
	c := &Client{
		ID:          id,
		hub:         h,
		send:        make(chan []byte, 256),
		mailboxIDs:  make(map[string]bool),
		log:         zap.NewNop(),
		UserID:      "user-" + id,
		Permissions: permissions,
	}
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()
	return c
}

func TestHub_BroadcastToMailbox(t *testing.T) {
	t.Run("订阅者收到通知", func(t *testing.T) {
		h := newTestHub()
		c := newTestClient(h, "c1", []string{"mb-1"})
		c.subscribeMailbox("mb-1")
		<-c.send // 消费 subscribed 确认

		h.broadcastToMailbox("mb-1", &Message{
			Type:      MessageTypeNewMessage,
			MailboxID: "mb-1",
			Timestamp: time.Now(),
		})

		select {
		case data := <-c.send:
			var msg Message
			require.NoError(t, json.Unmarshal(data, &msg))
			assert.Equal(t, MessageTypeNewMessage, msg.Type)
			assert.Equal(t, "mb-1", msg.MailboxID)
		default:
			t.Fatal("subscriber did not receive the broadcast")
		}
	})

	t.Run("未订阅的客户端收不到", func(t *testing.T) {
		h := newTestHub()
		c := newTestClient(h, "c1", []string{"mb-1"})

		h.broadcastToMailbox("mb-1", &Message{Type: MessageTypeNewMessage, MailboxID: "mb-1"})

		assert.Empty(t, c.send)
	})

	t.Run("无权限的订阅被拒绝", func(t *testing.T) {
		h := newTestHub()
		c := newTestClient(h, "c1", []string{"mb-1"})
		c.subscribeMailbox("mb-2")

		var msg Message
		require.NoError(t, json.Unmarshal(<-c.send, &msg))
		assert.Equal(t, MessageTypeError, msg.Type)

		h.mu.RLock()
		defer h.mu.RUnlock()
		assert.Empty(t, h.mailboxes["mb-2"])
	})
}

// 广播读取订阅集合的同时，另一个客户端在读协程里反复
// 订阅/退订同一个邮箱。广播必须在持锁期间拷贝订阅者，
// 否则这是对同一个内层 map 的并发迭代与写入（用 -race 跑）。
func TestHub_BroadcastConcurrentWithSubscription(t *testing.T) {
	h := newTestHub()

	// 常驻订阅者让内层 map 一直存在
	resident := newTestClient(h, "resident", []string{"mb-1"})
	resident.subscribeMailbox("mb-1")

	churn := newTestClient(h, "churn", []string{"mb-1"})

	const iterations = 2000
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			churn.subscribeMailbox("mb-1")
			churn.unsubscribeMailbox("mb-1")
		}
	}()

	go func() {
		defer wg.Done()
		msg := &Message{Type: MessageTypeNewMessage, MailboxID: "mb-1", Timestamp: time.Now()}
		for i := 0; i < iterations; i++ {
			h.broadcastToMailbox("mb-1", msg)
		}
	}()

	// 持续排空常驻订阅者的通道，避免广播端全部走 default 分支
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-resident.send:
			case <-done:
				return
			}
		}
	}()

	wg.Wait()
	close(done)

	h.mu.RLock()
	defer h.mu.RUnlock()
	assert.Contains(t, h.mailboxes["mb-1"], "resident")
}
