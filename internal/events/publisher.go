package events

import (
	"context"
	"errors"
	"sync"
)

// Publisher 负责投递生命周期事件。
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// ErrClosed 表示发布器已关闭。
var ErrClosed = errors.New("事件发布器已关闭")

// MemoryPublisher 在内存中保留最近的事件，主要用于测试和单机部署。
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
	limit  int
	closed bool
}

// NewMemoryPublisher 创建内存发布器，limit 限制保留的事件数量。
func NewMemoryPublisher(limit int) *MemoryPublisher {
	if limit <= 0 {
		limit = 256
	}
	return &MemoryPublisher{limit: limit}
}

// Publish 记录事件，超过上限时丢弃最早的事件。
func (p *MemoryPublisher) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.events = append(p.events, ev)
	if over := len(p.events) - p.limit; over > 0 {
		p.events = append(p.events[:0:0], p.events[over:]...)
	}
	return nil
}

// Events 返回已记录事件的副本。
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

// Close 关闭发布器。
func (p *MemoryPublisher) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

// NopPublisher 丢弃所有事件。
type NopPublisher struct{}

// Publish 实现 Publisher。
func (NopPublisher) Publish(context.Context, Event) error { return nil }

// Close 实现 Publisher。
func (NopPublisher) Close() error { return nil }
