package cron

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"shadowrealms_backend/pkg/logging"
	"shadowrealms_backend/pkg/oops"
)

// Scheduler runs background jobs on cron specs. Jobs share one context that
// is canceled when the scheduler stops.
type Scheduler struct {
	c      *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// cronLogger routes robfig/cron's own messages into zerolog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log := logging.Module("cron")
	log.Debug().Fields(keysAndValues).Msg(msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log := logging.Module("cron")
	log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

func New() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	logger := cronLogger{}
	return &Scheduler{
		c: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add schedules job under spec. An empty spec leaves the job disabled.
func (s *Scheduler) Add(name, spec string, job func(ctx context.Context) error) error {
	log := logging.Module("cron")
	if spec == "" {
		log.Info().Str("job", name).Msg("Job disabled")
		return nil
	}

	_, err := s.c.AddFunc(spec, func() {
		start := time.Now()
		if err := job(s.ctx); err != nil {
			log.Error().Err(err).Str("job", name).Msg("Job failed")
			return
		}
		log.Debug().Str("job", name).Dur("took", time.Since(start)).Msg("Job finished")
	})
	if err != nil {
		return oops.New(err, "could not schedule %s (%q)", name, spec)
	}

	log.Info().Str("job", name).Str("spec", spec).Msg("Job scheduled")
	return nil
}

func (s *Scheduler) Len() int {
	return len(s.c.Entries())
}

func (s *Scheduler) Start() {
	s.c.Start()
}

// Stop waits for running jobs until ctx is done, then cancels them.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.c.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
	}
	s.cancel()
}
