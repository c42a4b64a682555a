// internal/messaging/broker.go
package messaging

import (
	"sync"
	"sync/atomic"

	"github.com/Corphon/HoverLens/internal/models"
	"github.com/Corphon/HoverLens/internal/utils"
)

// DefaultBuffer 每个订阅的队列长度
const DefaultBuffer = 64

// Publisher 发布消息的最小接口
type Publisher interface {
	Publish(env models.Envelope)
}

// Subscription 一个上下文的订阅
type Subscription struct {
	ContextID string

	ch      chan models.Envelope
	filter  map[models.MessageType]struct{}
	broker  *Broker
	closed  int32
	dropped int64
}

// C 接收消息的通道，订阅关闭后会被关闭
func (s *Subscription) C() <-chan models.Envelope {
	return s.ch
}

// Dropped 因队列已满被丢弃的消息数
func (s *Subscription) Dropped() int64 {
	return atomic.LoadInt64(&s.dropped)
}

// Close 取消订阅，可重复调用
func (s *Subscription) Close() {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return
	}
	s.broker.remove(s)
}

func (s *Subscription) accepts(t models.MessageType) bool {
	if len(s.filter) == 0 {
		return true
	}
	_, ok := s.filter[t]
	return ok
}

// Broker 进程内发布订阅。慢订阅者丢消息，不阻塞发布方。
type Broker struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	buffer int
	logger utils.Logger
	closed bool
}

// NewBroker 创建消息代理
func NewBroker(logger utils.Logger) *Broker {
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &Broker{
		subs:   make(map[*Subscription]struct{}),
		buffer: DefaultBuffer,
		logger: logger,
	}
}

// Subscribe 以 contextID 订阅；filter 为空表示接收全部类型
func (b *Broker) Subscribe(contextID string, filter ...models.MessageType) *Subscription {
	sub := &Subscription{
		ContextID: contextID,
		ch:        make(chan models.Envelope, b.buffer),
		broker:    b,
	}
	if len(filter) > 0 {
		sub.filter = make(map[models.MessageType]struct{}, len(filter))
		for _, t := range filter {
			sub.filter[t] = struct{}{}
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		atomic.StoreInt32(&sub.closed, 1)
		close(sub.ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

func (b *Broker) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.ch)
	}
}

// Publish 投递消息。定向消息带 ContextID 时只发给对应上下文。
func (b *Broker) Publish(env models.Envelope) {
	directed := env.Type.Directed() && env.ContextID != ""

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		if directed && sub.ContextID != env.ContextID {
			continue
		}
		if !sub.accepts(env.Type) {
			continue
		}
		select {
		case sub.ch <- env:
		default:
			atomic.AddInt64(&sub.dropped, 1)
			b.logger.Warn("订阅队列已满，消息被丢弃", map[string]interface{}{
				"context_id": sub.ContextID,
				"type":       string(env.Type),
				"request_id": env.RequestID,
			})
		}
	}
}

// Count 当前订阅数
func (b *Broker) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Contexts 按上下文统计订阅数
func (b *Broker) Contexts() map[string]int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]int)
	for sub := range b.subs {
		out[sub.ContextID]++
	}
	return out
}

// Close 关闭所有订阅
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		atomic.StoreInt32(&sub.closed, 1)
		close(sub.ch)
	}
	b.subs = make(map[*Subscription]struct{})
}
