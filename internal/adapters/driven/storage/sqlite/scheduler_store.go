package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
)

var _ driven.SchedulerStore = (*schedulerStore)(nil)

// schedulerStore keeps task state in scheduled_tasks and run history in
// task_results. It shares the knowledge database handle.
type schedulerStore struct {
	db *sql.DB
}

const (
	selectTasks = `SELECT id, name, interval_seconds, enabled, last_run, next_run, last_success, last_error
		FROM scheduled_tasks`

	upsertTask = `INSERT INTO scheduled_tasks
		(id, name, interval_seconds, enabled, last_run, next_run, last_success, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			interval_seconds = excluded.interval_seconds,
			enabled = excluded.enabled,
			last_run = excluded.last_run,
			next_run = excluded.next_run,
			last_success = excluded.last_success,
			last_error = excluded.last_error`

	insertResult = `INSERT INTO task_results
		(task_id, started_at, ended_at, success, error, items_processed)
		VALUES (?, ?, ?, ?, ?, ?)`

	selectHistory = `SELECT task_id, started_at, ended_at, success, error, items_processed
		FROM task_results WHERE task_id = ?
		ORDER BY started_at DESC, id DESC LIMIT ?`

	// pruneResults ranks each task's results newest first and drops the
	// tail past the keep limit.
	pruneResults = `DELETE FROM task_results WHERE id IN (
		SELECT id FROM (
			SELECT id, ROW_NUMBER() OVER (PARTITION BY task_id ORDER BY started_at DESC, id DESC) AS rank
			FROM task_results
		) WHERE rank > ?)`
)

func (s *schedulerStore) GetTask(ctx context.Context, taskID string) (*domain.ScheduledTask, error) {
	var task domain.ScheduledTask
	err := scanTask(s.db.QueryRowContext(ctx, selectTasks+` WHERE id = ?`, taskID), &task)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("loading task %s: %w", taskID, err)
	}
	return &task, nil
}

func (s *schedulerStore) ListTasks(ctx context.Context) ([]domain.ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx, selectTasks+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer rows.Close()

	var tasks []domain.ScheduledTask
	for rows.Next() {
		var task domain.ScheduledTask
		if err := scanTask(rows, &task); err != nil {
			return nil, fmt.Errorf("listing tasks: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (s *schedulerStore) SaveTask(ctx context.Context, task *domain.ScheduledTask) error {
	if task == nil {
		return domain.ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx, upsertTask,
		task.ID, task.Name, int64(task.Interval/time.Second), flag(task.Enabled),
		stamp{&task.LastRun}, stamp{&task.NextRun}, stamp{&task.LastSuccess},
		nullString(task.LastError))
	if err != nil {
		return fmt.Errorf("saving task %s: %w", task.ID, err)
	}
	return nil
}

func (s *schedulerStore) RecordResult(ctx context.Context, result *domain.TaskResult) error {
	if result == nil {
		return domain.ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx, insertResult,
		result.TaskID, stamp{&result.StartedAt}, stamp{&result.EndedAt},
		flag(result.Success), nullString(result.Error), result.ItemsProcessed)
	if err != nil {
		return fmt.Errorf("recording run of %s: %w", result.TaskID, err)
	}
	return nil
}

func (s *schedulerStore) GetTaskHistory(ctx context.Context, taskID string, limit int) ([]domain.TaskResult, error) {
	rows, err := s.db.QueryContext(ctx, selectHistory, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("loading history of %s: %w", taskID, err)
	}
	defer rows.Close()

	var results []domain.TaskResult
	for rows.Next() {
		var (
			r       domain.TaskResult
			success int
			errText sql.NullString
		)
		if err := rows.Scan(&r.TaskID, stamp{&r.StartedAt}, stamp{&r.EndedAt},
			&success, &errText, &r.ItemsProcessed); err != nil {
			return nil, fmt.Errorf("loading history of %s: %w", taskID, err)
		}
		r.Success = success != 0
		r.Error = errText.String
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *schedulerStore) PruneHistory(ctx context.Context, keep int) error {
	if _, err := s.db.ExecContext(ctx, pruneResults, keep); err != nil {
		return fmt.Errorf("pruning task history: %w", err)
	}
	return nil
}

// scanTask reads one selectTasks row into task.
func scanTask(sc scanner, task *domain.ScheduledTask) error {
	var (
		seconds int64
		enabled int
		errText sql.NullString
	)
	err := sc.Scan(&task.ID, &task.Name, &seconds, &enabled,
		stamp{&task.LastRun}, stamp{&task.NextRun}, stamp{&task.LastSuccess}, &errText)
	if err != nil {
		return err
	}
	task.Interval = time.Duration(seconds) * time.Second
	task.Enabled = enabled != 0
	task.LastError = errText.String
	return nil
}

// stamp binds a time column stored as RFC 3339 text. The zero time is
// stored as NULL, and NULL or unparsable text reads back as the zero time.
type stamp struct {
	t *time.Time
}

func (s stamp) Value() (driver.Value, error) {
	if s.t.IsZero() {
		return nil, nil
	}
	return formatTime(*s.t), nil
}

func (s stamp) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*s.t = time.Time{}
	case string:
		*s.t = parseTime(v)
	case []byte:
		*s.t = parseTime(string(v))
	case time.Time:
		*s.t = v
	default:
		return fmt.Errorf("cannot read %T as a timestamp", src)
	}
	return nil
}

// flag stores a bool as 0 or 1.
func flag(b bool) int {
	if b {
		return 1
	}
	return 0
}
