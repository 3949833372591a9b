// Package scheduler runs periodic cache and list maintenance
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/mmcdole/tagline/internal/domain"
)

const (
	TagSweep     = "detail-sweep"
	TagReconcile = "list-reconcile"

	jobTimeout = time.Minute
)

// Sweeper deletes expired detail cache entries
type Sweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// Reconciler removes duplicate saved-list documents
type Reconciler interface {
	Reconcile(ctx context.Context) (int, error)
}

// Options sets job intervals. A zero interval disables the job.
type Options struct {
	SweepInterval     time.Duration
	ReconcileInterval time.Duration
}

// Scheduler owns the maintenance jobs
type Scheduler struct {
	cron       *gocron.Scheduler
	sweeper    Sweeper
	reconciler Reconciler
	session    domain.Session
	logger     *slog.Logger
}

// New registers the enabled jobs. reconciler and session may be nil when no
// list backend is configured.
func New(sweeper Sweeper, reconciler Reconciler, session domain.Session, opts Options, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cron := gocron.NewScheduler(time.UTC)
	cron.SetMaxConcurrentJobs(2, gocron.RescheduleMode)

	s := &Scheduler{
		cron:       cron,
		sweeper:    sweeper,
		reconciler: reconciler,
		session:    session,
		logger:     logger,
	}

	if opts.SweepInterval > 0 && sweeper != nil {
		if _, err := cron.Every(opts.SweepInterval).SingletonMode().Tag(TagSweep).Do(s.sweep); err != nil {
			return nil, fmt.Errorf("register sweep job: %w", err)
		}
		logger.Info("registered job", "job", TagSweep, "every", opts.SweepInterval)
	}

	if opts.ReconcileInterval > 0 && reconciler != nil {
		if _, err := cron.Every(opts.ReconcileInterval).SingletonMode().Tag(TagReconcile).Do(s.reconcile); err != nil {
			return nil, fmt.Errorf("register reconcile job: %w", err)
		}
		logger.Info("registered job", "job", TagReconcile, "every", opts.ReconcileInterval)
	}

	return s, nil
}

// Start runs the jobs in the background. Each job also runs once immediately.
func (s *Scheduler) Start() {
	s.logger.Info("starting scheduler", "jobs", len(s.cron.Jobs()))
	s.cron.StartAsync()
}

// Stop halts the scheduler
func (s *Scheduler) Stop() {
	if s.cron.IsRunning() {
		s.cron.Stop()
		s.logger.Info("scheduler stopped")
	}
}

// Tags lists the registered job tags
func (s *Scheduler) Tags() []string {
	var tags []string
	for _, job := range s.cron.Jobs() {
		tags = append(tags, job.Tags()...)
	}
	return tags
}

func (s *Scheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	n, err := s.sweeper.SweepExpired(ctx)
	if err != nil {
		s.logger.Error("detail sweep failed", "error", err)
		return
	}
	s.logger.Debug("detail sweep done", "removed", n)
}

func (s *Scheduler) reconcile() {
	if s.session != nil {
		if _, ok := s.session.CurrentUser(); !ok {
			s.logger.Debug("skipping reconcile, nobody signed in")
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	n, err := s.reconciler.Reconcile(ctx)
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		s.logger.Debug("skipping reconcile, nobody signed in")
	case err != nil:
		s.logger.Error("list reconcile failed", "error", err)
	default:
		s.logger.Debug("list reconcile done", "removed", n)
	}
}
