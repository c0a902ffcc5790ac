package task

import (
	"sync"
	"time"
)

// Gate 尾沿防抖：窗口内的连续触发只执行最后一次，且在窗口内无新触发后才执行
type Gate[T any] struct {
	mu      sync.Mutex
	window  time.Duration
	fn      func(T)
	timer   *time.Timer
	pending T
	armed   bool
	onDrop  func() // 每次被合并掉的触发回调（用于指标统计）
}

// NewGate 创建防抖门，window <= 0 时每次触发立即同步执行
func NewGate[T any](window time.Duration, fn func(T)) *Gate[T] {
	return &Gate[T]{window: window, fn: fn}
}

// OnCoalesced 设置被合并掉的触发回调
func (g *Gate[T]) OnCoalesced(cb func()) {
	g.mu.Lock()
	g.onDrop = cb
	g.mu.Unlock()
}

// Trigger 记录最新值并重置计时器
func (g *Gate[T]) Trigger(v T) {
	if g.window <= 0 {
		g.fn(v)
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.armed && g.onDrop != nil {
		g.onDrop()
	}
	g.pending = v
	g.armed = true
	if g.timer != nil {
		g.timer.Stop()
	}
	g.timer = time.AfterFunc(g.window, g.fire)
}

func (g *Gate[T]) fire() {
	g.mu.Lock()
	if !g.armed {
		g.mu.Unlock()
		return
	}
	v := g.pending
	g.armed = false
	var zero T
	g.pending = zero
	g.mu.Unlock()

	g.fn(v)
}

// Cancel 丢弃尚未执行的触发
func (g *Gate[T]) Cancel() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.armed = false
	var zero T
	g.pending = zero
}

// Flush 立即执行尚未执行的触发（若有），例如用户直接点击“下一步”
func (g *Gate[T]) Flush() {
	g.mu.Lock()
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.mu.Unlock()
	g.fire()
}
