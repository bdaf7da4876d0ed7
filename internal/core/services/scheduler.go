package services

import (
	"context"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-kb/internal/logger"
)

var _ driving.Scheduler = (*Scheduler)(nil)

// schedulerHistory bounds the stored run results per task.
const schedulerHistory = 100

// job is one kind of background work. run reports how many items it handled.
type job struct {
	id   string
	name string
	run  func(ctx context.Context) (int, error)
}

// Scheduler runs the background jobs enabled in configuration on their
// configured cadence, persisting their state through a SchedulerStore so a
// restart does not reset the countdown. A job never overlaps itself.
type Scheduler struct {
	config domain.SchedulerConfig
	store  driven.SchedulerStore
	jobs   map[string]job
	poll   time.Duration

	reindexer driving.ReindexService
	batchSize int

	mu      sync.Mutex
	stop    chan struct{}
	active  map[string]bool
	running sync.WaitGroup
}

// NewScheduler returns a scheduler for the pending-chunk sweep. A nil
// reindexer turns the sweep into a no-op.
func NewScheduler(
	config domain.SchedulerConfig,
	store driven.SchedulerStore,
	reindexer driving.ReindexService,
) *Scheduler {
	s := &Scheduler{
		config:    config,
		store:     store,
		poll:      time.Minute,
		reindexer: reindexer,
		batchSize: DefaultReindexBatch,
		active:    make(map[string]bool),
	}
	s.jobs = map[string]job{
		domain.TaskIDReindexPending: {
			id:   domain.TaskIDReindexPending,
			name: "Re-index pending chunks",
			run:  s.sweepPending,
		},
	}
	return s
}

// Start blocks, running due jobs every poll interval, until Stop is called
// or ctx ends. Calling Start on a running scheduler returns immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stop != nil {
		s.mu.Unlock()
		return nil
	}
	stop := make(chan struct{})
	s.stop = stop
	s.mu.Unlock()

	if err := s.register(ctx); err != nil {
		logger.Warn("scheduler: registering tasks: %v", err)
	}

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	for {
		s.dispatch(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		case <-ticker.C:
		}
	}
}

// Stop ends the loop and waits for in-flight jobs.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	s.mu.Unlock()

	s.running.Wait()
	return nil
}

// register writes every configured job into the store. Jobs the
// configuration disables are stored disabled rather than removed so their
// history survives.
func (s *Scheduler) register(ctx context.Context) error {
	now := time.Now()
	for id, j := range s.jobs {
		cfg := s.config.Task(id)
		task, err := s.store.GetTask(ctx, id)
		if err != nil {
			return err
		}
		if task == nil {
			if !cfg.Enabled {
				continue
			}
			task = &domain.ScheduledTask{ID: id, Name: j.name}
		}
		task.Apply(cfg, now)
		if err := s.store.SaveTask(ctx, task); err != nil {
			return err
		}
	}
	return nil
}

// dispatch launches every stored task that is due and not already running.
func (s *Scheduler) dispatch(ctx context.Context) {
	tasks, err := s.store.ListTasks(ctx)
	if err != nil {
		logger.Warn("scheduler: listing tasks: %v", err)
		return
	}

	now := time.Now()
	for i := range tasks {
		if tasks[i].Due(now) {
			s.launch(ctx, tasks[i])
		}
	}
}

// launch runs task on its own goroutine unless it is unknown or still
// running from an earlier tick.
func (s *Scheduler) launch(ctx context.Context, task domain.ScheduledTask) {
	j, ok := s.jobs[task.ID]
	if !ok {
		logger.Warn("scheduler: no job registered for task %s", task.ID)
		return
	}

	s.mu.Lock()
	if s.active[task.ID] {
		s.mu.Unlock()
		logger.Debug("scheduler: %s still running, skipping", task.ID)
		return
	}
	s.active[task.ID] = true
	s.running.Add(1)
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.active, task.ID)
			s.mu.Unlock()
			s.running.Done()
		}()
		s.execute(ctx, j, task)
	}()
}

// execute runs j once and persists the outcome.
func (s *Scheduler) execute(ctx context.Context, j job, task domain.ScheduledTask) {
	result := domain.TaskResult{TaskID: task.ID, StartedAt: time.Now()}
	n, err := j.run(ctx)
	result.EndedAt = time.Now()
	result.ItemsProcessed = n
	if err != nil {
		result.Error = err.Error()
		logger.Warn("scheduler: %s failed after %d items: %v", task.ID, n, err)
	} else {
		result.Success = true
		logger.Debug("scheduler: %s handled %d items in %s", task.ID, n, result.Duration())
	}

	task.Finish(result)
	if err := s.store.SaveTask(ctx, &task); err != nil {
		logger.Warn("scheduler: saving task %s: %v", task.ID, err)
	}
	if err := s.store.RecordResult(ctx, &result); err != nil {
		logger.Warn("scheduler: recording run of %s: %v", task.ID, err)
	}
	if err := s.store.PruneHistory(ctx, schedulerHistory); err != nil {
		logger.Warn("scheduler: pruning history: %v", err)
	}
}

// sweepPending re-indexes one batch of pending chunks.
func (s *Scheduler) sweepPending(ctx context.Context) (int, error) {
	if s.reindexer == nil {
		return 0, nil
	}
	return s.reindexer.ReindexPending(ctx, s.batchSize)
}
