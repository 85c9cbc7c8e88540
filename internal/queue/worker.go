package queue

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const (
	popTimeout       = 2 * time.Second
	promoteInterval  = time.Second
	rateLimitBackoff = time.Second
)

// Worker consumes jobs with bounded concurrency and a jobs-per-minute cap
// shared across worker instances through Redis.
type Worker struct {
	queue         *RedisQueue
	logger        *slog.Logger
	handlers      map[string]Handler
	concurrency   int
	jobsPerMinute int
	processingKey string

	wg  sync.WaitGroup
	now func() time.Time
}

// NewWorker constructs a worker pool over the queue.
func NewWorker(q *RedisQueue, logger *slog.Logger, concurrency, jobsPerMinute int) *Worker {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger != nil {
		logger = logger.With("component", "queue")
	}
	return &Worker{
		queue:         q,
		logger:        logger,
		handlers:      make(map[string]Handler),
		concurrency:   concurrency,
		jobsPerMinute: jobsPerMinute,
		processingKey: keyProcessing + instanceID(),
		now:           time.Now,
	}
}

// instanceID keys the per-instance processing list. A stable hostname lets
// a restarted worker reclaim jobs it was holding when it died.
func instanceID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return uuid.NewString()
}

// Register binds a handler to a job name. Must be called before Run.
func (w *Worker) Register(name string, h Handler) {
	w.handlers[name] = h
}

// Run consumes jobs until the context is cancelled, then waits for in-flight
// handlers to finish.
func (w *Worker) Run(ctx context.Context) {
	initWorkerMetrics()
	w.requeueOrphans(ctx)

	w.wg.Add(1)
	go w.promoteLoop(ctx)

	sem := make(chan struct{}, w.concurrency)
	w.logger.Info("queue worker started", "concurrency", w.concurrency, "jobs_per_minute", w.jobsPerMinute)

	for {
		if ctx.Err() != nil {
			break
		}
		if !w.allowJob(ctx) {
			select {
			case <-ctx.Done():
			case <-time.After(rateLimitBackoff):
			}
			continue
		}
		entry, err := w.queue.client.BRPopLPush(ctx, keyJobs, w.processingKey, popTimeout).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			w.logger.Error("queue pop failed", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		var job Job
		if err := json.Unmarshal([]byte(entry), &job); err != nil {
			w.logger.Error("malformed job envelope dropped", "error", err)
			w.queue.client.LRem(context.Background(), w.processingKey, 1, entry)
			continue
		}

		sem <- struct{}{}
		w.wg.Add(1)
		go func(job Job, entry string) {
			defer w.wg.Done()
			defer func() { <-sem }()
			w.process(ctx, job, entry)
		}(job, entry)
	}
	w.wg.Wait()
	w.logger.Info("queue worker stopped")
}

func (w *Worker) process(ctx context.Context, job Job, entry string) {
	handler, ok := w.handlers[job.Name]
	cleanupCtx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	defer w.queue.client.LRem(cleanupCtx, w.processingKey, 1, entry)

	if !ok {
		w.logger.Error("no handler for job", "job", job.Name, "job_id", job.ID)
		jobsProcessed.WithLabelValues(job.Name, "dropped").Inc()
		return
	}

	start := w.now()
	err := handler(ctx, job.Payload)
	jobDuration.WithLabelValues(job.Name).Observe(w.now().Sub(start).Seconds())
	if err == nil {
		jobsProcessed.WithLabelValues(job.Name, "ok").Inc()
		return
	}

	job.Attempt++
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = DefaultMaxAttempts
	}
	if job.Attempt >= job.MaxAttempts {
		w.logger.Error("job exhausted attempts", "job", job.Name, "job_id", job.ID, "attempts", job.Attempt, "error", err)
		jobsProcessed.WithLabelValues(job.Name, "dead").Inc()
		if dlErr := w.queue.deadLetter(cleanupCtx, job); dlErr != nil {
			w.logger.Error("dead-letter failed", "job_id", job.ID, "error", dlErr)
		}
		return
	}

	delay := Backoff(job.Attempt)
	w.logger.Warn("job failed, scheduling retry", "job", job.Name, "job_id", job.ID, "attempt", job.Attempt, "delay", delay, "error", err)
	jobsProcessed.WithLabelValues(job.Name, "retry").Inc()
	if rErr := w.queue.retryLater(cleanupCtx, job, delay); rErr != nil {
		w.logger.Error("retry scheduling failed", "job_id", job.ID, "error", rErr)
	}
}

func (w *Worker) promoteLoop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(promoteInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			opCtx, cancel := context.WithTimeout(ctx, opTimeout)
			if err := w.queue.promoteDue(opCtx, w.now()); err != nil && ctx.Err() == nil {
				w.logger.Error("promote delayed jobs failed", "error", err)
			}
			cancel()
		}
	}
}

// allowJob enforces the shared jobs-per-minute cap with a Redis fixed
// window counter. Redis errors fail open so the pipeline keeps moving.
func (w *Worker) allowJob(ctx context.Context) bool {
	if w.jobsPerMinute <= 0 {
		return true
	}
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	window := w.now().Unix() / 60
	key := keyRateLimit + ":" + time.Unix(window*60, 0).UTC().Format("1504")
	counter, err := w.queue.client.Incr(opCtx, key).Result()
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("rate limit counter failed", "error", err)
		}
		return true
	}
	if counter == 1 {
		if err := w.queue.client.Expire(opCtx, key, 2*time.Minute).Err(); err != nil && ctx.Err() == nil {
			w.logger.Error("rate limit expire failed", "error", err)
		}
	}
	if counter > int64(w.jobsPerMinute) {
		rateLimited.Inc()
		return false
	}
	return true
}

// requeueOrphans returns jobs left in this worker's processing list by an
// unclean shutdown to the main queue.
func (w *Worker) requeueOrphans(ctx context.Context) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	for {
		entry, err := w.queue.client.RPopLPush(opCtx, w.processingKey, keyJobs).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				w.logger.Error("orphan requeue failed", "error", err)
			}
			return
		}
		w.logger.Warn("requeued orphaned job", "entry_bytes", len(entry))
	}
}
