package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
)

func TestSchedulerStore_Tasks(t *testing.T) {
	s := NewSchedulerStore()
	ctx := context.Background()

	task, err := s.GetTask(ctx, domain.TaskIDReindexPending)
	require.NoError(t, err)
	assert.Nil(t, task)

	require.NoError(t, s.SaveTask(ctx, &domain.ScheduledTask{ID: "b", Interval: time.Minute}))
	require.NoError(t, s.SaveTask(ctx, &domain.ScheduledTask{ID: "a", Interval: time.Hour}))
	assert.ErrorIs(t, s.SaveTask(ctx, nil), domain.ErrInvalidInput)

	tasks, err := s.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "a", tasks[0].ID)

	task, err = s.GetTask(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, task.Interval)
}

func TestSchedulerStore_History(t *testing.T) {
	s := NewSchedulerStore()
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		require.NoError(t, s.RecordResult(ctx, &domain.TaskResult{TaskID: "a", ItemsProcessed: i}))
		require.NoError(t, s.RecordResult(ctx, &domain.TaskResult{TaskID: "b", ItemsProcessed: i * 10}))
	}
	assert.ErrorIs(t, s.RecordResult(ctx, nil), domain.ErrInvalidInput)

	history, err := s.GetTaskHistory(ctx, "a", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 5, history[0].ItemsProcessed)
	assert.Equal(t, 4, history[1].ItemsProcessed)

	require.NoError(t, s.PruneHistory(ctx, 1))

	a, _ := s.GetTaskHistory(ctx, "a", 10)
	b, _ := s.GetTaskHistory(ctx, "b", 10)
	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.Equal(t, 5, a[0].ItemsProcessed)
	assert.Equal(t, 50, b[0].ItemsProcessed)
}
