package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/clockframe/clockframe/internal/metrics"
	"github.com/clockframe/clockframe/internal/repository"
)

// Worker processes jobs from the queue
type Worker struct {
	queue       *MemoryQueue
	handlers    map[JobType]JobHandler
	concurrency int
	log         zerolog.Logger
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

// NewWorker creates a new job worker
func NewWorker(queue *MemoryQueue, concurrency int, log zerolog.Logger) *Worker {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Worker{
		queue:       queue,
		handlers:    make(map[JobType]JobHandler),
		concurrency: concurrency,
		log:         log,
		stopCh:      make(chan struct{}),
	}
}

// RegisterHandler registers a handler for a job type
func (w *Worker) RegisterHandler(jobType JobType, handler JobHandler) {
	w.handlers[jobType] = handler
}

// Start begins processing jobs
func (w *Worker) Start(ctx context.Context) {
	w.log.Info().Int("goroutines", w.concurrency).Msg("starting job worker")

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.process(ctx, i)
	}

	w.wg.Add(1)
	go w.scheduler(ctx)
}

// Stop gracefully stops the worker
func (w *Worker) Stop() {
	close(w.stopCh)
	w.wg.Wait()
	w.log.Info().Msg("job worker stopped")
}

func (w *Worker) process(ctx context.Context, id int) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		default:
			jobCtx, cancel := context.WithTimeout(ctx, time.Second)
			job, err := w.queue.Dequeue(jobCtx)
			cancel()

			if err != nil || job == nil {
				continue
			}

			w.processJob(ctx, job)
		}
	}
}

func (w *Worker) processJob(ctx context.Context, job *Job) {
	start := time.Now()
	handler, ok := w.handlers[job.Type]
	if !ok {
		w.log.Error().Str("jobType", string(job.Type)).Msg("no handler registered")
		w.queue.MarkFailed(ctx, job.ID, fmt.Errorf("no handler for job type: %s", job.Type))
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	err := handler.Handle(jobCtx, job)
	status := "success"
	if err != nil {
		status = "failure"
		w.log.Error().Err(err).Str("jobId", job.ID).Str("jobType", string(job.Type)).Msg("job failed")
		w.queue.MarkFailed(ctx, job.ID, err)
	} else {
		w.queue.MarkCompleted(ctx, job.ID)
	}
	metrics.JobsProcessed.WithLabelValues(string(job.Type), status).Inc()
	metrics.JobDuration.WithLabelValues(string(job.Type)).Observe(time.Since(start).Seconds())
}

func (w *Worker) scheduler(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(time.Second * 10)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.queue.ProcessScheduled()
		}
	}
}

// IsJobRunning checks if a job of the given type is currently running or pending
func (w *Worker) IsJobRunning(jobType JobType) bool {
	return w.queue.IsJobRunning(jobType)
}

// Enqueue is a helper to enqueue a job
func (w *Worker) Enqueue(ctx context.Context, jobType JobType, payload interface{}) error {
	job, err := CreateJob(jobType, payload)
	if err != nil {
		return err
	}
	return w.queue.Enqueue(ctx, job)
}

// Schedule is a helper to schedule a job
func (w *Worker) Schedule(ctx context.Context, jobType JobType, payload interface{}, runAt time.Time) error {
	job, err := CreateJob(jobType, payload)
	if err != nil {
		return err
	}
	return w.queue.Schedule(ctx, job, runAt)
}

// ConsistencySweepHandler implements the validate()-at-scale job from 4.D:
// it scans for running entries older than the staleness threshold and force
// stops them, publishing the usual timer:stopped event so any connected
// client corrects its view.
type ConsistencySweepHandler struct {
	entries *repository.EntryRepository
	stop    func(ctx context.Context, userID string) error
	log     zerolog.Logger
}

// NewConsistencySweepHandler wires the sweep to a callback that force-stops
// a user's running entries — the caller supplies this from TimerService so
// the job package never imports services directly.
func NewConsistencySweepHandler(entries *repository.EntryRepository, stop func(ctx context.Context, userID string) error, log zerolog.Logger) *ConsistencySweepHandler {
	return &ConsistencySweepHandler{entries: entries, stop: stop, log: log}
}

const defaultStaleAfter = 16 * time.Hour

func (h *ConsistencySweepHandler) Handle(ctx context.Context, job *Job) error {
	var payload ConsistencySweepPayload
	if len(job.Payload) > 0 {
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("failed to unmarshal payload: %w", err)
		}
	}
	staleAfter := payload.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}

	stale, err := h.entries.RunningOlderThan(ctx, time.Now().Add(-staleAfter))
	if err != nil {
		return fmt.Errorf("failed to query stale running entries: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(stale))
	for _, e := range stale {
		userID := e.UserID.String()
		if seen[userID] {
			continue
		}
		seen[userID] = true

		h.log.Warn().
			Str("userId", userID).
			Str("entryId", e.ID.String()).
			Time("startTime", e.StartTime).
			Msg("force-stopping abandoned timer found by consistency sweep")

		if err := h.stop(ctx, userID); err != nil {
			h.log.Error().Err(err).Str("userId", userID).Msg("consistency sweep force-stop failed")
		}
	}
	return nil
}
