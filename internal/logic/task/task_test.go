package task

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestCancellable_Result(t *testing.T) {
	h := Cancellable(context.Background(), func(ctx context.Context) (int, error) {
		return 42, nil
	})
	got, err := h.Wait()
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	<-h.Done()
}

func TestCancellable_Error(t *testing.T) {
	boom := errors.New("boom")
	h := Cancellable(context.Background(), func(ctx context.Context) (int, error) {
		return 0, boom
	})
	_, err := h.Wait()
	assert.ErrorIs(t, err, boom)
	assert.False(t, IsCancellation(err))
}

func TestCancellable_PanicBecomesError(t *testing.T) {
	h := Cancellable(context.Background(), func(ctx context.Context) (int, error) {
		panic("bad input")
	})
	_, err := h.Wait()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad input")
}

func TestCancellable_CancelDropsLateResult(t *testing.T) {
	release := make(chan struct{})
	h := Cancellable(context.Background(), func(ctx context.Context) (string, error) {
		// 忽略取消，模拟无法中断的网络调用
		<-release
		return "late", nil
	})

	h.Cancel()
	got, err := h.Wait()
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Empty(t, got)
	assert.True(t, h.Cancelled())

	close(release)
	<-h.Done()
	got, err = h.Wait()
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Empty(t, got)
}

func TestCancellable_ParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := Cancellable(ctx, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	cancel()
	_, err := h.Wait()
	assert.True(t, IsCancellation(err))
	<-h.Done()
}

func TestSupervisor_OutOfOrderLastWriterWins(t *testing.T) {
	s := NewSupervisor[string]()
	ctx := context.Background()

	startedA := make(chan struct{})
	releaseA := make(chan struct{})
	resA := make(chan error, 1)

	// A（金额 1）先发出，但在 B（金额 1.5）之后才返回
	go func() {
		_, err := s.Run(ctx, func(ctx context.Context) (string, error) {
			close(startedA)
			<-releaseA
			return "1", nil
		})
		resA <- err
	}()
	<-startedA

	got, err := s.Run(ctx, func(ctx context.Context) (string, error) {
		return "1.5", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "1.5", got)

	close(releaseA)
	errA := <-resA
	assert.ErrorIs(t, errA, ErrSuperseded)
	assert.True(t, IsCancellation(errA))
	assert.Equal(t, uint64(2), s.Generation())
}

func TestSupervisor_Commit(t *testing.T) {
	s := NewSupervisor[int]()
	ctx := context.Background()

	genA, a := s.Start(ctx, func(ctx context.Context) (int, error) { return 1, nil })
	_, _ = a.Wait()
	genB, b := s.Start(ctx, func(ctx context.Context) (int, error) { return 2, nil })
	_, _ = b.Wait()

	var applied []int
	assert.False(t, s.Commit(genA, func() { applied = append(applied, 1) }))
	assert.True(t, s.Commit(genB, func() { applied = append(applied, 2) }))
	assert.Equal(t, []int{2}, applied)

	s.Cancel()
	assert.False(t, s.Commit(genB, func() { applied = append(applied, 3) }))
}

func TestSupervisor_Cancel(t *testing.T) {
	s := NewSupervisor[int]()
	started := make(chan struct{})
	res := make(chan error, 1)
	go func() {
		_, err := s.Run(context.Background(), func(ctx context.Context) (int, error) {
			close(started)
			<-ctx.Done()
			return 0, ctx.Err()
		})
		res <- err
	}()
	<-started
	s.Cancel()
	assert.ErrorIs(t, <-res, ErrCancelled)

	// 无任务时取消是空操作
	NewSupervisor[int]().Cancel()
}

type recorder[T any] struct {
	mu    sync.Mutex
	calls []T
}

func (r *recorder[T]) record(v T) {
	r.mu.Lock()
	r.calls = append(r.calls, v)
	r.mu.Unlock()
}

func (r *recorder[T]) snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.calls...)
}

func TestGate_Coalesces(t *testing.T) {
	rec := &recorder[int]{}
	var coalesced atomic.Int32
	g := NewGate(50*time.Millisecond, rec.record)
	g.OnCoalesced(func() { coalesced.Add(1) })

	for i := 1; i <= 5; i++ {
		g.Trigger(i)
		time.Sleep(5 * time.Millisecond)
	}

	assert.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []int{5}, rec.snapshot())
	assert.Equal(t, int32(4), coalesced.Load())
}

func TestGate_SeparateWindows(t *testing.T) {
	rec := &recorder[string]{}
	g := NewGate(20*time.Millisecond, rec.record)

	g.Trigger("a")
	assert.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	g.Trigger("b")
	assert.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, rec.snapshot())
}

func TestGate_CancelAndFlush(t *testing.T) {
	rec := &recorder[int]{}
	g := NewGate(time.Hour, rec.record)

	g.Trigger(1)
	g.Cancel()
	g.Flush()
	assert.Empty(t, rec.snapshot())

	g.Trigger(2)
	g.Trigger(3)
	g.Flush()
	assert.Equal(t, []int{3}, rec.snapshot())

	// 没有待执行的触发时 Flush 是空操作
	g.Flush()
	assert.Equal(t, []int{3}, rec.snapshot())
}

func TestGate_ZeroWindowIsSynchronous(t *testing.T) {
	rec := &recorder[int]{}
	g := NewGate(0, rec.record)
	g.Trigger(1)
	g.Trigger(2)
	assert.Equal(t, []int{1, 2}, rec.snapshot())
}
