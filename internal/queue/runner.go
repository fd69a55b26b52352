// Package queue executes durable classification tasks with bounded retry.
// Tasks persist until terminal, so execution is at-least-once across process
// restarts; the store update they perform is idempotent.
package queue

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/shieldsms/shield/internal/bus"
	"github.com/shieldsms/shield/internal/cache"
	"github.com/shieldsms/shield/internal/classify"
	"github.com/shieldsms/shield/internal/config"
	"github.com/shieldsms/shield/internal/status"
	"github.com/shieldsms/shield/internal/store"
)

// Classifier is the remote classification dependency of the runner.
type Classifier interface {
	Classify(ctx context.Context, text string) (*classify.Verdict, error)
}

// Runner drains the durable task table and reconciles outcomes into record
// status. Tasks for different records run concurrently up to the worker
// limit; tasks for the same record are serialized.
type Runner struct {
	db     *store.DB
	cls    Classifier
	cache  cache.VerdictCache
	bus    *bus.Bus
	logger *zap.Logger
	cfg    config.QueueConfig

	sem      *semaphore.Weighted
	mu       sync.Mutex
	inflight map[int64]struct{} // message ids with a running attempt
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewRunner creates a task runner. vc may be nil when the verdict cache is
// disabled.
func NewRunner(db *store.DB, cls Classifier, vc cache.VerdictCache, b *bus.Bus, cfg config.QueueConfig, logger *zap.Logger) *Runner {
	return &Runner{
		db:       db,
		cls:      cls,
		cache:    vc,
		bus:      b,
		logger:   logger,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.Workers)),
		inflight: make(map[int64]struct{}),
	}
}

// Start recovers tasks interrupted by a previous process and begins polling
// for due work.
func (r *Runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)

	recovered, err := r.db.ResetRunningTasks()
	if err != nil {
		r.logger.Error("task recovery failed", zap.Error(err))
	} else if recovered > 0 {
		r.logger.Info("recovered interrupted tasks", zap.Int64("count", recovered))
	}

	r.wg.Add(1)
	go r.loop(ctx)
}

// Stop cancels the poll loop and waits for in-flight attempts to finish.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Runner) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.PollInterval())
	defer ticker.Stop()

	r.tick(ctx)
	for {
		select {
		case <-ticker.C:
			r.tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	due, err := r.db.DueTasks(time.Now().UnixMilli(), 2*r.cfg.Workers)
	if err != nil {
		r.logger.Error("failed to read due tasks", zap.Error(err))
		return
	}

	for _, t := range due {
		if !r.reserve(t.MessageID) {
			// Another attempt for this record is still running.
			continue
		}
		if err := r.sem.Acquire(ctx, 1); err != nil {
			r.free(t.MessageID)
			return
		}
		claimed, err := r.db.ClaimTask(t.ID)
		if err != nil || !claimed {
			if err != nil {
				r.logger.Error("failed to claim task", zap.Error(err), zap.Int64("task_id", t.ID))
			}
			r.sem.Release(1)
			r.free(t.MessageID)
			continue
		}

		task := t
		task.Attempts++ // charged by the claim

		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			defer r.sem.Release(1)
			defer r.free(task.MessageID)
			r.run(ctx, task)
		}()
	}
}

func (r *Runner) reserve(messageID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.inflight[messageID]; busy {
		return false
	}
	r.inflight[messageID] = struct{}{}
	return true
}

func (r *Runner) free(messageID int64) {
	r.mu.Lock()
	delete(r.inflight, messageID)
	r.mu.Unlock()
}

func (r *Runner) run(ctx context.Context, t store.Task) {
	if r.cache != nil {
		if v, ok := r.cache.Get(ctx, t.Body); ok {
			r.logger.Info("verdict cache hit", zap.Int64("message_id", t.MessageID))
			r.succeed(t, v)
			return
		}
	}

	v, err := r.cls.Classify(ctx, t.Body)
	if err != nil {
		r.handleFailure(t, err)
		return
	}

	if r.cache != nil {
		r.cache.Put(ctx, t.Body, v)
	}
	r.succeed(t, v)
}

func (r *Runner) succeed(t store.Task, v *classify.Verdict) {
	if err := r.db.UpdateStatus(t.MessageID, status.Sent, &v.Label, &v.Score); err != nil {
		// Storage failure counts as a failed attempt, the task stays durable.
		r.handleFailure(t, err)
		return
	}
	if err := r.db.DeleteTask(t.ID); err != nil {
		r.logger.Error("failed to delete finished task", zap.Error(err), zap.Int64("task_id", t.ID))
	}
	r.logger.Info("message classified",
		zap.Int64("message_id", t.MessageID),
		zap.String("label", v.Label),
		zap.Float64("score", v.Score),
		zap.Int("attempt", t.Attempts))
	r.bus.Publish(bus.Event{Kind: "task.succeeded", Payload: t.MessageID})
}

func (r *Runner) handleFailure(t store.Task, cause error) {
	if t.Attempts >= t.MaxAttempts {
		if err := r.db.UpdateStatus(t.MessageID, status.Failed, nil, nil); err != nil {
			r.logger.Error("failed to mark record failed", zap.Error(err), zap.Int64("message_id", t.MessageID))
		}
		if err := r.db.DeleteTask(t.ID); err != nil {
			r.logger.Error("failed to delete exhausted task", zap.Error(err), zap.Int64("task_id", t.ID))
		}
		r.logger.Warn("classification failed terminally",
			zap.Int64("message_id", t.MessageID),
			zap.Int("attempts", t.Attempts),
			zap.Error(cause))
		r.bus.Publish(bus.Event{Kind: "task.failed", Payload: t.MessageID})
		return
	}

	delay := Backoff(r.cfg.BaseBackoff(), r.cfg.MaxBackoff(), t.Attempts)
	nextRun := time.Now().Add(delay).UnixMilli()
	if err := r.db.ScheduleRetry(t.ID, nextRun, cause.Error()); err != nil {
		r.logger.Error("failed to schedule retry", zap.Error(err), zap.Int64("task_id", t.ID))
		return
	}
	r.logger.Info("classification attempt failed, retry scheduled",
		zap.Int64("message_id", t.MessageID),
		zap.Int("attempt", t.Attempts),
		zap.Duration("delay", delay),
		zap.Error(cause))
	r.bus.Publish(bus.Event{Kind: "task.retry_scheduled", Payload: t.MessageID})
}

// Stats describes the runner's durable backlog for the status endpoint.
type Stats struct {
	TaskCounts map[status.Task]int `json:"task_counts"`
}

// Stats reports the current task backlog by state.
func (r *Runner) Stats() (Stats, error) {
	counts, err := r.db.CountTasks()
	if err != nil {
		return Stats{}, err
	}
	return Stats{TaskCounts: counts}, nil
}
