package driven

import (
	"context"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
)

// SchedulerStore keeps background task state across restarts along with
// a bounded log of past runs.
type SchedulerStore interface {
	// GetTask returns nil, nil for an unknown taskID.
	GetTask(ctx context.Context, taskID string) (*domain.ScheduledTask, error)

	// ListTasks returns every task ordered by ID.
	ListTasks(ctx context.Context) ([]domain.ScheduledTask, error)

	// SaveTask upserts by task.ID.
	SaveTask(ctx context.Context, task *domain.ScheduledTask) error

	RecordResult(ctx context.Context, result *domain.TaskResult) error

	// GetTaskHistory returns up to limit results for taskID, newest first.
	GetTaskHistory(ctx context.Context, taskID string, limit int) ([]domain.TaskResult, error)

	// PruneHistory drops all but the newest keep results of each task.
	PruneHistory(ctx context.Context, keep int) error
}
