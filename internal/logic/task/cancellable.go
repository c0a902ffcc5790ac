package task

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
)

var (
	// ErrCancelled 任务被调用方取消，结果被丢弃
	ErrCancelled = errors.New("task cancelled")

	// ErrSuperseded 任务被更新的调用取代，结果被丢弃
	ErrSuperseded = errors.New("task superseded")
)

// IsCancellation 判断是否为取消类错误。取消不是失败，调用方不应展示或按错误记录
func IsCancellation(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, ErrSuperseded) || errors.Is(err, context.Canceled)
}

// Handle 一个可取消异步任务的句柄。
// 取消是协作式的：fn 收到的 ctx 会被取消，但 fn 是否提前返回由 fn 自己决定；
// 无论 fn 何时返回，取消后的结果都不会再被 Wait 交出。
type Handle[T any] struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}

	mu     sync.Mutex
	result T
	err    error
}

// Cancellable 启动 fn 并返回句柄
func Cancellable[T any](parent context.Context, fn func(ctx context.Context) (T, error)) *Handle[T] {
	ctx, cancel := context.WithCancelCause(parent)
	h := &Handle[T]{
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(h.done)
		res, err := runSafe(ctx, fn)
		h.mu.Lock()
		h.result, h.err = res, err
		h.mu.Unlock()
	}()
	return h
}

func runSafe[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) (res T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx)
}

// Cancel 取消任务，可重复调用
func (h *Handle[T]) Cancel() {
	h.cancel(ErrCancelled)
}

func (h *Handle[T]) cancelWith(cause error) {
	h.cancel(cause)
}

// Done fn 真正执行结束时关闭（即使已取消）
func (h *Handle[T]) Done() <-chan struct{} {
	return h.done
}

// Cancelled 是否已被取消
func (h *Handle[T]) Cancelled() bool {
	return h.ctx.Err() != nil
}

// Wait 等待结果。取消与完成谁先发生谁生效；取消后返回取消原因（ErrCancelled / ErrSuperseded）
func (h *Handle[T]) Wait() (T, error) {
	var zero T
	select {
	case <-h.ctx.Done():
		return zero, h.cause()
	case <-h.done:
	}

	// fn 返回与取消几乎同时发生时，以取消为准
	if h.ctx.Err() != nil {
		return zero, h.cause()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result, h.err
}

func (h *Handle[T]) cause() error {
	if cause := context.Cause(h.ctx); cause != nil {
		return cause
	}
	return ErrCancelled
}
