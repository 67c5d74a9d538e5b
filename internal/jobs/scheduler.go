package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Scheduler handles recurring scheduled jobs.
type Scheduler struct {
	worker *Worker
	log    zerolog.Logger
	stopCh chan struct{}
}

// NewScheduler creates a new scheduler.
func NewScheduler(worker *Worker, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		worker: worker,
		log:    log,
		stopCh: make(chan struct{}),
	}
}

// Start begins the scheduler. The only recurring job is the consistency
// sweep from 4.D — there's nothing else in this domain that needs
// periodic background maintenance.
func (s *Scheduler) Start(ctx context.Context) {
	s.log.Info().Msg("starting job scheduler")
	go s.scheduleConsistencySweep(ctx)
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	close(s.stopCh)
}

const consistencySweepInterval = 10 * time.Minute

func (s *Scheduler) scheduleConsistencySweep(ctx context.Context) {
	time.Sleep(time.Second * 15)
	s.enqueueConsistencySweep(ctx)

	ticker := time.NewTicker(consistencySweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.enqueueConsistencySweep(ctx)
		}
	}
}

func (s *Scheduler) enqueueConsistencySweep(ctx context.Context) {
	if s.worker.IsJobRunning(JobTypeConsistencySweep) {
		return
	}

	payload := ConsistencySweepPayload{StaleAfter: defaultStaleAfter}
	if err := s.worker.Enqueue(ctx, JobTypeConsistencySweep, payload); err != nil {
		s.log.Error().Err(err).Msg("failed to enqueue consistency sweep job")
	}
}
