package domain

import "time"

// TaskIDReindexPending is the sweep that embeds and upserts chunks left
// pending by a failed vector write.
const TaskIDReindexPending = "reindex-pending"

// ScheduledTask is the persisted state of a recurring background job.
// The zero NextRun means "run at the first opportunity".
type ScheduledTask struct {
	ID       string
	Name     string
	Interval time.Duration
	Enabled  bool

	LastRun     time.Time
	NextRun     time.Time
	LastSuccess time.Time
	LastError   string
}

// Due reports whether the task should run at now.
func (t *ScheduledTask) Due(now time.Time) bool {
	return t.Enabled && !t.NextRun.After(now)
}

// Apply brings the task in line with its configuration. A changed
// interval restarts the countdown from now.
func (t *ScheduledTask) Apply(cfg TaskConfig, now time.Time) {
	if t.Interval != cfg.Interval || t.NextRun.IsZero() {
		t.Interval = cfg.Interval
		t.NextRun = now.Add(cfg.Interval)
	}
	t.Enabled = cfg.Enabled
}

// Finish folds a completed run into the task and schedules the next one
// an interval after the run ended.
func (t *ScheduledTask) Finish(run TaskResult) {
	t.LastRun = run.StartedAt
	t.NextRun = run.EndedAt.Add(t.Interval)
	if run.Success {
		t.LastSuccess = run.EndedAt
		t.LastError = ""
		return
	}
	t.LastError = run.Error
}

// TaskResult is one entry in a task's run history.
type TaskResult struct {
	TaskID    string
	StartedAt time.Time
	EndedAt   time.Time
	Success   bool
	Error     string

	// ItemsProcessed counts the chunks the run re-indexed.
	ItemsProcessed int
}

// Duration is how long the run took.
func (r TaskResult) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// TaskConfig is the configured cadence of one task.
type TaskConfig struct {
	Enabled  bool
	Interval time.Duration
}

// SchedulerConfig switches the background scheduler on and tunes its tasks.
type SchedulerConfig struct {
	Enabled     bool
	TaskConfigs map[string]TaskConfig
}

// Task returns the configuration of taskID, or the zero TaskConfig
// (disabled) when it is not configured.
func (c SchedulerConfig) Task(taskID string) TaskConfig {
	return c.TaskConfigs[taskID]
}

// SetTask stores the configuration of taskID.
func (c *SchedulerConfig) SetTask(taskID string, cfg TaskConfig) {
	if c.TaskConfigs == nil {
		c.TaskConfigs = make(map[string]TaskConfig, 1)
	}
	c.TaskConfigs[taskID] = cfg
}

// DefaultSchedulerConfig leaves the scheduler off. Once enabled, pending
// chunks are swept every five minutes.
func DefaultSchedulerConfig() SchedulerConfig {
	var c SchedulerConfig
	c.SetTask(TaskIDReindexPending, TaskConfig{Enabled: true, Interval: 5 * time.Minute})
	return c
}
