// Package scheduler runs the vault's periodic jobs on cron schedules: the
// daily batch fee collection and the monthly audit-log archival. A
// distributed lock guards each run so that only one instance executes a job
// even when several schedulers are deployed.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lhermoso/grid-vault/internal/domain"
)

// Lock keys for the scheduled jobs.
const (
	feeLockKey     = "scheduler:fees"
	archiveLockKey = "scheduler:archive"
)

// FeeCollector is the slice of the vault service the fee job needs.
type FeeCollector interface {
	CollectBatchFees(ctx context.Context, caller string) (domain.BatchFeeResult, error)
}

// Config holds the scheduler's cron expressions and job parameters.
type Config struct {
	// FeeCollectionCron is the schedule for the batch fee run, standard
	// five-field cron syntax.
	FeeCollectionCron string

	// ArchiveCron is the schedule for the audit-log archival run.
	ArchiveCron string

	// ArchiveRetentionDays is how much audit history stays in Postgres;
	// older entries move to object storage.
	ArchiveRetentionDays int

	// LockTTL bounds how long a job holds its distributed lock.
	LockTTL time.Duration

	// Caller is the identity the scheduler acts as; it must be the
	// protocol admin or operator for the batch fee run to be authorized.
	Caller string
}

// Scheduler manages the vault's cron jobs.
type Scheduler struct {
	cron     *cron.Cron
	cfg      Config
	fees     FeeCollector
	archiver domain.Archiver
	locks    domain.LockManager
	logger   *slog.Logger
}

// New creates a Scheduler. The archiver may be nil when object storage is
// not configured; the archival job is then skipped at registration.
func New(cfg Config, fees FeeCollector, archiver domain.Archiver, locks domain.LockManager, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		cfg:      cfg,
		fees:     fees,
		archiver: archiver,
		locks:    locks,
		logger:   logger.With(slog.String("component", "scheduler")),
	}
}

// Register adds all configured jobs to the cron runner.
func (s *Scheduler) Register() error {
	if _, err := s.cron.AddFunc(s.cfg.FeeCollectionCron, s.runFeeCollection); err != nil {
		return fmt.Errorf("scheduler: register fee collection: %w", err)
	}

	if s.archiver != nil {
		if _, err := s.cron.AddFunc(s.cfg.ArchiveCron, s.runArchive); err != nil {
			return fmt.Errorf("scheduler: register archive: %w", err)
		}
	}

	return nil
}

// Start begins executing registered jobs on their schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started",
		slog.String("fee_cron", s.cfg.FeeCollectionCron),
		slog.String("archive_cron", s.cfg.ArchiveCron),
		slog.Bool("archive_enabled", s.archiver != nil),
	)
}

// Stop halts the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler stopped")
}

// RunFeeCollectionNow triggers the batch fee run outside its schedule.
func (s *Scheduler) RunFeeCollectionNow() {
	s.runFeeCollection()
}

func (s *Scheduler) runFeeCollection() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.LockTTL)
	defer cancel()

	unlock, err := s.locks.Acquire(ctx, feeLockKey, s.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			s.logger.Info("fee collection already running elsewhere, skipping")
			return
		}
		s.logger.Error("fee collection lock failed", slog.String("error", err.Error()))
		return
	}
	defer unlock()

	result, err := s.fees.CollectBatchFees(ctx, s.cfg.Caller)
	if err != nil {
		s.logger.Error("batch fee collection failed", slog.String("error", err.Error()))
		return
	}

	s.logger.Info("batch fee collection complete",
		slog.Int("processed", result.Processed),
		slog.Int("skipped", result.Skipped),
		slog.Uint64("total_fees", result.TotalFees),
		slog.Uint64("shares_reduced", result.SharesReduced),
	)
}

func (s *Scheduler) runArchive() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.LockTTL)
	defer cancel()

	unlock, err := s.locks.Acquire(ctx, archiveLockKey, s.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			s.logger.Info("archive already running elsewhere, skipping")
			return
		}
		s.logger.Error("archive lock failed", slog.String("error", err.Error()))
		return
	}
	defer unlock()

	cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.ArchiveRetentionDays)
	count, err := s.archiver.ArchiveEvents(ctx, cutoff)
	if err != nil {
		s.logger.Error("audit archive failed", slog.String("error", err.Error()))
		return
	}

	s.logger.Info("audit archive complete",
		slog.Int("archived", count),
		slog.Time("cutoff", cutoff),
	)
}
