package task

import (
	"context"
	"sync"
)

// Supervisor 单飞监督器：同一时刻只有最近一次启动的调用是“当前”的。
// 新的调用会取消上一个；上一个的结果即使晚到也会被丢弃（后写者胜），
// 以应对网络抖动导致的乱序返回。
type Supervisor[T any] struct {
	mu         sync.Mutex
	generation uint64
	current    *Handle[T]
}

func NewSupervisor[T any]() *Supervisor[T] {
	return &Supervisor[T]{}
}

// Start 取消上一个任务并启动新任务，返回新任务的代号与句柄
func (s *Supervisor[T]) Start(ctx context.Context, fn func(ctx context.Context) (T, error)) (uint64, *Handle[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		s.current.cancelWith(ErrSuperseded)
	}
	s.generation++
	s.current = Cancellable(ctx, fn)
	return s.generation, s.current
}

// Run 启动并等待。只有在完成时仍是当前任务才返回结果，否则返回 ErrSuperseded / ErrCancelled
func (s *Supervisor[T]) Run(ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	gen, h := s.Start(ctx, fn)
	res, err := h.Wait()
	if err != nil {
		var zero T
		return zero, err
	}

	if !s.isCurrent(gen) {
		var zero T
		return zero, ErrSuperseded
	}
	return res, nil
}

// Commit 在当前代号仍有效时执行 apply（持锁执行，保证与 Start 互斥）。
// 返回 false 表示结果已过期，apply 未执行
func (s *Supervisor[T]) Commit(gen uint64, apply func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation || (s.current != nil && s.current.Cancelled()) {
		return false
	}
	apply()
	return true
}

func (s *Supervisor[T]) isCurrent(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.generation
}

// Cancel 取消当前任务（若有）
func (s *Supervisor[T]) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.current.Cancel()
	}
}

// Generation 最近一次启动的代号
func (s *Supervisor[T]) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}
