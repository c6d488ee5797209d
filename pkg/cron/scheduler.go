// Package cron provides scheduled background jobs using robfig/cron.
package cron

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// StaleReason is recorded on uploads the sweeper moves to failed.
const StaleReason = "processing interrupted"

// UploadSweeper is the store surface the sweeper needs.
type UploadSweeper interface {
	FailStaleUploads(ctx context.Context, cutoff time.Time, reason string) (int64, error)
}

// Scheduler manages background scheduled jobs using robfig/cron.
type Scheduler struct {
	cron       *cron.Cron
	uploads    UploadSweeper
	schedule   string
	staleAfter time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

// NewScheduler creates a scheduler that fails uploads left in created or
// processing for longer than staleAfter, checking on the given cron schedule.
func NewScheduler(uploads UploadSweeper, schedule string, staleAfter time.Duration, logger *slog.Logger) *Scheduler {
	// Create cron with seconds disabled (standard 5-field format)
	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))

	return &Scheduler{
		cron:       c,
		uploads:    uploads,
		schedule:   schedule,
		staleAfter: staleAfter,
		now:        time.Now,
		logger:     logger,
	}
}

// Start begins scheduled jobs.
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		_, _ = s.SweepStaleUploads(ctx)
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("cron scheduler started",
		slog.Int("jobs", len(s.cron.Entries())),
		slog.String("schedule", s.schedule),
	)
	return nil
}

// Stop gracefully stops all scheduled jobs.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("cron scheduler stopping")
	return s.cron.Stop()
}

// SweepStaleUploads fails every unfinished upload untouched since before
// now - staleAfter and reports how many were moved.
func (s *Scheduler) SweepStaleUploads(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.staleAfter)

	n, err := s.uploads.FailStaleUploads(ctx, cutoff, StaleReason)
	if err != nil {
		s.logger.Error("failed to sweep stale uploads", slog.Any("error", err))
		return 0, err
	}

	if n > 0 {
		s.logger.Warn("stale uploads marked failed",
			slog.Int64("uploads", n),
			slog.Time("cutoff", cutoff),
		)
	} else {
		s.logger.Debug("no stale uploads", slog.Time("cutoff", cutoff))
	}
	return n, nil
}
