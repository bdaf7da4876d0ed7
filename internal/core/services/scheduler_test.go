package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-kb/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/sercha-kb/internal/core/domain"
)

// fakeReindexer counts sweeps. A non-nil release channel blocks each sweep
// until it is closed.
type fakeReindexer struct {
	calls   atomic.Int32
	count   int
	err     error
	release chan struct{}
}

func (f *fakeReindexer) ReindexPending(_ context.Context, batchSize int) (int, error) {
	f.calls.Add(1)
	if f.release != nil {
		<-f.release
	}
	if batchSize <= 0 {
		return 0, domain.ErrInvalidInput
	}
	return f.count, f.err
}

func enabledScheduler() domain.SchedulerConfig {
	config := domain.DefaultSchedulerConfig()
	config.Enabled = true
	return config
}

func overdueTask() *domain.ScheduledTask {
	return &domain.ScheduledTask{
		ID:       domain.TaskIDReindexPending,
		Name:     "Re-index pending chunks",
		Interval: time.Hour,
		NextRun:  time.Now().Add(-time.Minute),
		Enabled:  true,
	}
}

func TestNewScheduler(t *testing.T) {
	scheduler := NewScheduler(enabledScheduler(), memory.NewSchedulerStore(), &fakeReindexer{})

	require.NotNil(t, scheduler)
	assert.Equal(t, DefaultReindexBatch, scheduler.batchSize)
	assert.Contains(t, scheduler.jobs, domain.TaskIDReindexPending)
}

func TestScheduler_StartStop(t *testing.T) {
	scheduler := NewScheduler(enabledScheduler(), memory.NewSchedulerStore(), &fakeReindexer{})

	done := make(chan error, 1)
	go func() { done <- scheduler.Start(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, scheduler.Stop())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

func TestScheduler_StartReturnsContextError(t *testing.T) {
	scheduler := NewScheduler(enabledScheduler(), memory.NewSchedulerStore(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, scheduler.Start(ctx), context.Canceled)
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	scheduler := NewScheduler(enabledScheduler(), memory.NewSchedulerStore(), nil)
	require.NoError(t, scheduler.Stop())
}

func TestScheduler_DoubleStart(t *testing.T) {
	scheduler := NewScheduler(enabledScheduler(), memory.NewSchedulerStore(), &fakeReindexer{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = scheduler.Start(context.Background())
	}()

	time.Sleep(50 * time.Millisecond)
	assert.NoError(t, scheduler.Start(context.Background()))

	require.NoError(t, scheduler.Stop())
	wg.Wait()
}

func TestScheduler_Register(t *testing.T) {
	store := memory.NewSchedulerStore()
	scheduler := NewScheduler(enabledScheduler(), store, nil)
	ctx := context.Background()

	require.NoError(t, scheduler.register(ctx))

	task, err := store.GetTask(ctx, domain.TaskIDReindexPending)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "Re-index pending chunks", task.Name)
	assert.True(t, task.Enabled)
	assert.Equal(t, 5*time.Minute, task.Interval)
	assert.True(t, task.NextRun.After(time.Now()))
}

func TestScheduler_Register_SkipsUnconfigured(t *testing.T) {
	store := memory.NewSchedulerStore()
	scheduler := NewScheduler(domain.SchedulerConfig{Enabled: true}, store, nil)
	ctx := context.Background()

	require.NoError(t, scheduler.register(ctx))

	tasks, err := store.ListTasks(ctx)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestScheduler_Register_DisablesStoredTask(t *testing.T) {
	store := memory.NewSchedulerStore()
	ctx := context.Background()
	require.NoError(t, store.SaveTask(ctx, overdueTask()))

	config := domain.SchedulerConfig{Enabled: true}
	config.SetTask(domain.TaskIDReindexPending, domain.TaskConfig{Enabled: false, Interval: 2 * time.Hour})
	require.NoError(t, NewScheduler(config, store, nil).register(ctx))

	task, err := store.GetTask(ctx, domain.TaskIDReindexPending)
	require.NoError(t, err)
	assert.False(t, task.Enabled)
	assert.Equal(t, 2*time.Hour, task.Interval)
}

func TestScheduler_Dispatch_RunsDueTask(t *testing.T) {
	store := memory.NewSchedulerStore()
	reindexer := &fakeReindexer{count: 4}
	scheduler := NewScheduler(enabledScheduler(), store, reindexer)
	ctx := context.Background()
	require.NoError(t, store.SaveTask(ctx, overdueTask()))

	scheduler.dispatch(ctx)
	scheduler.running.Wait()

	assert.Equal(t, int32(1), reindexer.calls.Load())

	task, err := store.GetTask(ctx, domain.TaskIDReindexPending)
	require.NoError(t, err)
	assert.Empty(t, task.LastError)
	assert.False(t, task.LastSuccess.IsZero())
	assert.True(t, task.NextRun.After(time.Now().Add(50*time.Minute)))

	history, err := store.GetTaskHistory(ctx, domain.TaskIDReindexPending, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].Success)
	assert.Equal(t, 4, history[0].ItemsProcessed)
}

func TestScheduler_Dispatch_SkipsNotDueAndDisabled(t *testing.T) {
	store := memory.NewSchedulerStore()
	reindexer := &fakeReindexer{}
	scheduler := NewScheduler(enabledScheduler(), store, reindexer)
	ctx := context.Background()

	future := overdueTask()
	future.NextRun = time.Now().Add(time.Hour)
	require.NoError(t, store.SaveTask(ctx, future))
	require.NoError(t, store.SaveTask(ctx, &domain.ScheduledTask{ID: "disabled"}))

	scheduler.dispatch(ctx)
	scheduler.running.Wait()

	assert.Zero(t, reindexer.calls.Load())
}

func TestScheduler_Dispatch_DoesNotOverlap(t *testing.T) {
	store := memory.NewSchedulerStore()
	reindexer := &fakeReindexer{release: make(chan struct{})}
	scheduler := NewScheduler(enabledScheduler(), store, reindexer)
	ctx := context.Background()
	require.NoError(t, store.SaveTask(ctx, overdueTask()))

	scheduler.dispatch(ctx)
	require.Eventually(t, func() bool { return reindexer.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	scheduler.dispatch(ctx)
	close(reindexer.release)
	scheduler.running.Wait()

	assert.Equal(t, int32(1), reindexer.calls.Load())
}

func TestScheduler_Dispatch_UnknownTask(t *testing.T) {
	store := memory.NewSchedulerStore()
	scheduler := NewScheduler(enabledScheduler(), store, nil)
	ctx := context.Background()
	require.NoError(t, store.SaveTask(ctx, &domain.ScheduledTask{ID: "unknown-task", Enabled: true}))

	scheduler.dispatch(ctx)
	scheduler.running.Wait()

	history, err := store.GetTaskHistory(ctx, "unknown-task", 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestScheduler_Execute_RecordsFailure(t *testing.T) {
	store := memory.NewSchedulerStore()
	reindexer := &fakeReindexer{count: 2, err: errBoom}
	scheduler := NewScheduler(enabledScheduler(), store, reindexer)
	ctx := context.Background()

	scheduler.execute(ctx, scheduler.jobs[domain.TaskIDReindexPending], *overdueTask())

	saved, err := store.GetTask(ctx, domain.TaskIDReindexPending)
	require.NoError(t, err)
	assert.Equal(t, "boom", saved.LastError)
	assert.True(t, saved.LastSuccess.IsZero())

	history, err := store.GetTaskHistory(ctx, domain.TaskIDReindexPending, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.False(t, history[0].Success)
	assert.Equal(t, "boom", history[0].Error)
	assert.Equal(t, 2, history[0].ItemsProcessed)
}

func TestScheduler_SweepPending_NilReindexer(t *testing.T) {
	scheduler := NewScheduler(enabledScheduler(), memory.NewSchedulerStore(), nil)

	n, err := scheduler.sweepPending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
